package livevoice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"
	"github.com/wtconnect/livevoice/shared"
	"github.com/wtconnect/livevoice/tools"
	"go.uber.org/zap"
)

const (
	bidiPath          = "google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
	readLimit         = 16 << 20
	eventBuffer       = 64
	outboxSize        = 32
)

// ErrOutboxFull is returned by Send when the transport cannot keep up.
var ErrOutboxFull = errors.New("outbound queue full")

type ClientState int

const (
	ClientStateNew ClientState = iota
	ClientStateConnecting
	ClientStateOpen
	ClientStateClosed
	ClientStateFailed
)

func (s ClientState) String() string {
	switch s {
	case ClientStateNew:
		return "new"
	case ClientStateConnecting:
		return "connecting"
	case ClientStateOpen:
		return "open"
	case ClientStateClosed:
		return "closed"
	case ClientStateFailed:
		return "error"
	default:
		return "unknown"
	}
}

// LiveSession is the streaming session the Controller drives.
type LiveSession interface {
	// Dial opens the transport only; no session exists on the endpoint
	// until Setup.
	Dial(ctx context.Context) error
	// Setup sends the setup message. The session is open once EventOpen
	// is delivered, not when Setup returns.
	Setup(ctx context.Context) error
	Send(chunk tools.EncodedChunk) error
	Events() <-chan Event
	Close() error
}

// Client is a single-use Gemini Live session over a WebSocket.
type Client struct {
	logger  shared.LoggerAdapter
	baseUrl *url.URL
	apiKey  string
	cfg     *SessionConfig

	mu      sync.Mutex
	conn    *websocket.Conn
	state   ClientState
	running bool
	setup   bool

	events     chan Event
	eventsOnce sync.Once
	outbox     chan []byte
	closeOnce  sync.Once

	ctx    context.Context
	cancel context.CancelCauseFunc
}

var _ LiveSession = (*Client)(nil)

func NewClient(ctx context.Context, logger shared.LoggerAdapter, apikey, baseUrl string) (c *Client, err error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if apikey == "" {
		return nil, shared.ErrNoAPIKey
	}
	if baseUrl == "" {
		baseUrl = DefaultBaseURL
	}
	baseUrl_, err := url.Parse(baseUrl)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	ctx, cancel := context.WithCancelCause(ctx)
	c = &Client{
		logger:  logger,
		baseUrl: baseUrl_,
		apiKey:  apikey,
		events:  make(chan Event, eventBuffer),
		outbox:  make(chan []byte, outboxSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	return c, nil
}

func (c *Client) respectCtx() error {
	select {
	case <-c.ctx.Done():
		return context.Cause(c.ctx)
	default:
	}
	return nil
}

func (c *Client) SetConfig(cfg *SessionConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return shared.ErrSessionAlreadyRunning
	}
	c.cfg = cfg
	return nil
}

func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Events() <-chan Event {
	return c.events
}

func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Client) endpoint() string {
	u := c.baseUrl.JoinPath(bidiPath)
	q := u.Query()
	q.Set("key", c.apiKey)
	u.RawQuery = q.Encode()
	return u.String()
}

// Open connects in the background. A failure is delivered as an EventError
// followed by the end of the event stream.
func (c *Client) Open(ctx context.Context) {
	go func() {
		if err := c.Connect(ctx); err != nil {
			c.emit(Event{Type: EventError, Err: err})
			c.finish()
		}
	}()
}

// Connect dials the endpoint and sends the setup message.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.Dial(ctx); err != nil {
		return err
	}
	return c.Setup(ctx)
}

func (c *Client) Dial(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return shared.ErrSessionAlreadyRunning
	}
	if c.cfg == nil {
		c.mu.Unlock()
		return shared.ErrNoConfig
	}
	if err := c.respectCtx(); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("respecting client context: %w", err)
	}
	c.running = true
	c.state = ClientStateConnecting
	c.mu.Unlock()

	// Closing the client aborts a dial in progress.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	c.logger.Info("dialing live endpoint", zap.String("host", c.baseUrl.Host))
	conn, _, err := websocket.Dial(ctx, c.endpoint(), &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		c.setState(ClientStateFailed)
		return fmt.Errorf("dialing live endpoint: %w: %w", shared.ErrConnectionFailed, err)
	}
	conn.SetReadLimit(readLimit)

	c.mu.Lock()
	if err := c.respectCtx(); err != nil {
		c.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
		return fmt.Errorf("respecting client context: %w", err)
	}
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.writeLoop(conn)
	go c.keepaliveLoop(conn)
	return nil
}

func (c *Client) Setup(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return shared.ErrSessionNotOpen
	}
	if c.setup {
		c.mu.Unlock()
		return shared.ErrSessionAlreadyRunning
	}
	c.setup = true
	setup := newSetupMessage(c.cfg)
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	data, err := sonic.Marshal(setup)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "setup failed")
		c.setState(ClientStateFailed)
		return fmt.Errorf("marshaling setup message: %w", err)
	}
	c.logger.Info("sending session setup", zap.String("model", setup.Setup.Model))
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		conn.Close(websocket.StatusInternalError, "setup failed")
		c.setState(ClientStateFailed)
		return fmt.Errorf("sending setup message: %w: %w", shared.ErrConnectionFailed, err)
	}
	return nil
}

// Send queues a chunk for the write loop. Chunks are rejected with
// shared.ErrSessionNotOpen until the endpoint has confirmed the setup.
func (c *Client) Send(chunk tools.EncodedChunk) error {
	if c.State() != ClientStateOpen {
		return shared.ErrSessionNotOpen
	}
	data, err := sonic.Marshal(newRealtimeInput(chunk))
	if err != nil {
		return fmt.Errorf("marshaling realtime input: %w", err)
	}
	select {
	case c.outbox <- data:
		return nil
	case <-c.ctx.Done():
		return shared.ErrSessionNotOpen
	default:
		return ErrOutboxFull
	}
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		conn, prev := c.conn, c.state
		if prev != ClientStateFailed {
			c.state = ClientStateClosed
		}
		c.running = false
		c.mu.Unlock()
		// A connection the endpoint already ended has nothing left to close.
		if conn != nil && prev != ClientStateClosed && prev != ClientStateFailed {
			if cerr := conn.Close(websocket.StatusNormalClosure, ""); cerr != nil {
				err = fmt.Errorf("closing websocket: %w", cerr)
			}
		}
		c.cancel(errors.New("client closed"))
		c.logger.Debug("live session closed", zap.Stringer("prev", prev))
	})
	return err
}

func (c *Client) setState(s ClientState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == ClientStateClosed || c.state == ClientStateFailed {
		return
	}
	c.logger.Trace("live session state changed", zap.Stringer("prev", c.state), zap.Stringer("new", s))
	c.state = s
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

func (c *Client) finish() {
	c.eventsOnce.Do(func() { close(c.events) })
}

// readLoop is the only producer of events once connected; it closes the
// event stream when it exits.
func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.finish()
	for {
		_, data, err := conn.Read(c.ctx)
		if err != nil {
			if c.respectCtx() != nil {
				return
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				c.setState(ClientStateClosed)
				c.emit(Event{Type: EventClosed})
				return
			}
			c.setState(ClientStateFailed)
			c.emit(Event{Type: EventError, Err: fmt.Errorf("reading live endpoint: %w: %w", shared.ErrConnectionFailed, err)})
			return
		}
		events, err := parseServerMessage(data)
		if err != nil {
			c.logger.Error("parsing server message", err, zap.Int("size", len(data)))
			c.emit(Event{Type: EventError, Err: err})
			continue
		}
		for _, ev := range events {
			switch ev.Type {
			case EventOpen:
				c.setState(ClientStateOpen)
				c.logger.Info("live session open")
			case EventError:
				c.logger.Error("endpoint reported error", ev.Err)
			case EventGoAway:
				c.logger.Warn("endpoint going away", zap.String("timeLeft", ev.TimeLeft))
			}
			c.emit(ev)
		}
	}
}

func (c *Client) writeLoop(conn *websocket.Conn) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.outbox:
			if err := conn.Write(c.ctx, websocket.MessageText, data); err != nil {
				if c.respectCtx() == nil {
					c.logger.Error("writing realtime input", err)
					conn.Close(websocket.StatusInternalError, "write failed")
				}
				return
			}
		}
	}
}

func (c *Client) keepaliveLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, keepaliveTimeout)
			if err := conn.Ping(pingCtx); err != nil && c.respectCtx() == nil {
				c.logger.Warn("keepalive ping failed", zap.Error(err))
			}
			cancel()
		}
	}
}
