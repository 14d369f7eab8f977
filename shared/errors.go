package shared

import "errors"

var (
	ErrUnauthorized          = errors.New("unauthorized")
	ErrForbidden             = errors.New("forbidden")
	ErrNoLogger              = errors.New("no logger provided")
	ErrNoConfig              = errors.New("no config provided")
	ErrClientNotInitialized  = errors.New("client not initialized")
	ErrNoAPIKey              = errors.New("no API key provided")
	ErrSessionAlreadyRunning = errors.New("session already running")
	ErrSessionNotOpen        = errors.New("session not open")
	ErrSHandlerAlreadySet    = errors.New("state handler already set")
	ErrTHandlerAlreadySet    = errors.New("text handler already set")
)

// Live voice failure taxonomy.
var (
	// ErrPermissionDenied means the microphone could not be acquired, either
	// because the user refused access or because no capture device exists.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrConnectionFailed means the transport could not be opened or dropped.
	ErrConnectionFailed = errors.New("connection failed")
	// ErrProtocol marks a malformed or unexpected message from the endpoint.
	ErrProtocol = errors.New("protocol error")
	// ErrEncodeOverflow marks a sample outside [-1.0, 1.0] under the strict
	// overflow policy.
	ErrEncodeOverflow = errors.New("sample magnitude outside representable range")
)
