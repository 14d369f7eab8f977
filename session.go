package livevoice

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/wtconnect/livevoice/tools"
)

// SessionHandle is one live voice call. It exclusively owns its capture
// source, playback sink and streaming session, and is released exactly
// once by Close.
type SessionHandle struct {
	ID        string
	StartedAt time.Time

	muted atomic.Bool

	mu      sync.Mutex
	source  tools.CaptureSource
	sink    tools.PlaybackSink
	session LiveSession

	closeOnce sync.Once
	closeErr  error
}

func newSessionHandle() *SessionHandle {
	return &SessionHandle{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
	}
}

func (h *SessionHandle) Muted() bool {
	return h.muted.Load()
}

func (h *SessionHandle) SetMuted(muted bool) {
	h.muted.Store(muted)
}

func (h *SessionHandle) setSource(s tools.CaptureSource) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.source = s
}

func (h *SessionHandle) setSink(s tools.PlaybackSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sink = s
}

func (h *SessionHandle) setSession(s LiveSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.session = s
}

func (h *SessionHandle) Session() LiveSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session
}

func (h *SessionHandle) Sink() tools.PlaybackSink {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sink
}

// Close releases the session, then the microphone, then the audio output.
// Every step runs even when an earlier one fails; the errors are joined.
// Resources that were never acquired are skipped.
func (h *SessionHandle) Close() error {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		session, source, sink := h.session, h.source, h.sink
		h.mu.Unlock()

		var errs []error
		if session != nil {
			if err := session.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing session: %w", err))
			}
		}
		if source != nil {
			if err := source.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("stopping capture: %w", err))
			}
		}
		if sink != nil {
			if err := sink.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing playback: %w", err))
			}
		}
		h.closeErr = errors.Join(errs...)
	})
	return h.closeErr
}
