package auth

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
	"github.com/wtconnect/livevoice/shared"
	"go.uber.org/zap"
)

const (
	EnvKeyFirebaseAPIKey   = "FIREBASE_API_KEY"
	DefaultIdentityBaseURL = "https://identitytoolkit.googleapis.com/v1"

	requestTimeout = 15 * time.Second
)

type signInRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type signInResponse struct {
	LocalID        string `json:"localId"`
	Email          string `json:"email"`
	DisplayName    string `json:"displayName"`
	ProfilePicture string `json:"profilePicture"`
	IDToken        string `json:"idToken"`
	RefreshToken   string `json:"refreshToken"`
}

type updateRequest struct {
	IDToken           string `json:"idToken"`
	DisplayName       string `json:"displayName,omitempty"`
	PhotoURL          string `json:"photoUrl,omitempty"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type lookupRequest struct {
	IDToken string `json:"idToken"`
}

type lookupResponse struct {
	Users []struct {
		LocalID     string `json:"localId"`
		Email       string `json:"email"`
		DisplayName string `json:"displayName"`
		PhotoURL    string `json:"photoUrl"`
	} `json:"users"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Firebase signs users in against the Identity Toolkit REST API and keeps
// the resulting ID token for later lookups.
type Firebase struct {
	logger  shared.LoggerAdapter
	apiKey  string
	baseUrl *url.URL
	client  *fasthttp.Client

	mu      sync.Mutex
	idToken string
	user    *User
}

func NewFirebase(logger shared.LoggerAdapter, apikey string, baseUrl string) (*Firebase, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if apikey == "" {
		return nil, shared.ErrNoAPIKey
	}
	if baseUrl == "" {
		baseUrl = DefaultIdentityBaseURL
	}
	u, err := url.Parse(baseUrl)
	if err != nil {
		return nil, fmt.Errorf("parsing identity base url: %w", err)
	}
	return &Firebase{
		logger:  logger,
		apiKey:  apikey,
		baseUrl: u,
		client: &fasthttp.Client{
			Name:         "livevoice/" + shared.Version,
			ReadTimeout:  requestTimeout,
			WriteTimeout: requestTimeout,
		},
	}, nil
}

func (f *Firebase) SignInWithPassword(ctx context.Context, email, password string) (*User, error) {
	var resp signInResponse
	err := f.post(ctx, "accounts:signInWithPassword", signInRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("signing in: %w", err)
	}
	user := newUser(resp.LocalID, resp.DisplayName, resp.ProfilePicture, resp.Email)
	f.store(resp.IDToken, user)
	f.logger.Info("signed in", zap.String("user", user.ID))
	return user, nil
}

// SignUp creates an account and sets its display name and generated avatar.
func (f *Firebase) SignUp(ctx context.Context, name, email, password string) (*User, error) {
	var resp signInResponse
	err := f.post(ctx, "accounts:signUp", signInRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("signing up: %w", err)
	}
	user := newUser(resp.LocalID, name, "", resp.Email)
	err = f.post(ctx, "accounts:update", updateRequest{
		IDToken:     resp.IDToken,
		DisplayName: user.DisplayName,
		PhotoURL:    user.AvatarURL,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("updating profile: %w", err)
	}
	f.store(resp.IDToken, user)
	f.logger.Info("signed up", zap.String("user", user.ID))
	return user, nil
}

// CurrentUser refreshes the profile of the signed-in user.
func (f *Firebase) CurrentUser(ctx context.Context) (*User, error) {
	f.mu.Lock()
	token := f.idToken
	f.mu.Unlock()
	if token == "" {
		return nil, nil
	}

	var resp lookupResponse
	if err := f.post(ctx, "accounts:lookup", lookupRequest{IDToken: token}, &resp); err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	if len(resp.Users) == 0 {
		return nil, shared.ErrUnauthorized
	}
	u := resp.Users[0]
	user := newUser(u.LocalID, u.DisplayName, u.PhotoURL, u.Email)
	f.store(token, user)
	return user, nil
}

// User returns the last known profile without a network round trip.
func (f *Firebase) User() *User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.user
}

func (f *Firebase) SignOut() {
	f.store("", nil)
	f.logger.Info("signed out")
}

func (f *Firebase) store(token string, user *User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idToken = token
	f.user = user
}

func (f *Firebase) post(ctx context.Context, method string, body any, out any) error {
	payload, err := sonic.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshalling request: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	u := f.baseUrl.JoinPath(method)
	u.RawQuery = url.Values{"key": {f.apiKey}}.Encode()
	req.SetRequestURI(u.String())
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(payload)

	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(requestTimeout)
	}
	if err := f.client.DoDeadline(req, resp, deadline); err != nil {
		return fmt.Errorf("performing HTTP request: %w", err)
	}

	status := resp.StatusCode()
	switch {
	case status == fasthttp.StatusOK:
	case status == fasthttp.StatusBadRequest || status == fasthttp.StatusUnauthorized:
		var e errorResponse
		if err := sonic.Unmarshal(resp.Body(), &e); err == nil && e.Error.Message != "" {
			return fmt.Errorf("%w: %s", shared.ErrUnauthorized, e.Error.Message)
		}
		return fmt.Errorf("%w: status %d", shared.ErrUnauthorized, status)
	case status == fasthttp.StatusForbidden:
		return shared.ErrForbidden
	default:
		return fmt.Errorf("unexpected status code: %d, body: %s", status, string(resp.Body()))
	}

	if out == nil {
		return nil
	}
	if err := sonic.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
