package livevoice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wtconnect/livevoice/shared"
	"github.com/wtconnect/livevoice/tools"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type ControllerState int

const (
	StateIdle ControllerState = iota
	StateConnecting
	StateActive
	StateClosing
	StateClosed
	StateError
)

func (s ControllerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether no session is running in s.
func (s ControllerState) Terminal() bool {
	return s == StateIdle || s == StateClosed || s == StateError
}

var transitions = map[ControllerState][]ControllerState{
	StateIdle:       {StateConnecting},
	StateConnecting: {StateActive, StateClosing, StateError},
	StateActive:     {StateClosing, StateError},
	StateClosing:    {StateClosed, StateError},
	StateClosed:     {StateConnecting},
	StateError:      {StateConnecting},
}

type StateHandler func(prev, next ControllerState)

// TextHandler receives model text and transcriptions; kind is EventText,
// EventInputTranscript or EventOutputTranscript.
type TextHandler func(kind EventType, text string)

// Factories build the resources of one session. Each Start calls every
// factory once.
type Factories struct {
	Source  func() (tools.CaptureSource, error)
	Sink    func() (tools.PlaybackSink, error)
	Session func() (LiveSession, error)
}

// DefaultFactories wires the microphone, the speaker and a Gemini Live
// client built from cfg.
func DefaultFactories(ctx context.Context, logger shared.LoggerAdapter, cfg *Config) Factories {
	return Factories{
		Source: func() (tools.CaptureSource, error) {
			return tools.NewMicrophone(logger.With(zap.String("component", "microphone")), cfg.Audio.FrameSize)
		},
		Sink: func() (tools.PlaybackSink, error) {
			return tools.OpenSpeaker(logger.With(zap.String("component", "speaker")))
		},
		Session: func() (LiveSession, error) {
			client, err := NewClient(ctx, logger.With(zap.String("component", "live")), cfg.APIKey, cfg.BaseURL)
			if err != nil {
				return nil, err
			}
			session := cfg.Session
			if err := client.SetConfig(&session); err != nil {
				return nil, err
			}
			return client, nil
		},
	}
}

type run struct {
	handle   *SessionHandle
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// Controller supervises one voice session at a time: it acquires the
// microphone and the streaming session, pumps audio both ways from a
// single loop and tears everything down on hangup or failure.
type Controller struct {
	logger    shared.LoggerAdapter
	metrics   *Metrics
	encoder   tools.Encoder
	factories Factories

	mu    sync.Mutex
	state ControllerState
	run   *run
	err   error
	sh    StateHandler
	th    TextHandler
}

func NewController(logger shared.LoggerAdapter, cfg *Config, metrics *Metrics, factories Factories) (*Controller, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if cfg == nil {
		return nil, shared.ErrNoConfig
	}
	if factories.Source == nil || factories.Sink == nil || factories.Session == nil {
		return nil, shared.ErrClientNotInitialized
	}
	return &Controller{
		logger:    logger,
		metrics:   metrics,
		encoder:   tools.Encoder{Policy: cfg.OverflowPolicy()},
		factories: factories,
	}, nil
}

func (c *Controller) RegisterStateHandler(handler StateHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run != nil {
		return shared.ErrSessionAlreadyRunning
	}
	if c.sh != nil {
		return shared.ErrSHandlerAlreadySet
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	c.sh = handler
	return nil
}

func (c *Controller) RegisterTextHandler(handler TextHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run != nil {
		return shared.ErrSessionAlreadyRunning
	}
	if c.th != nil {
		return shared.ErrTHandlerAlreadySet
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	c.th = handler
	return nil
}

func (c *Controller) State() ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err is the cause of the last session ending in StateError.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Handle returns the running session, or nil.
func (c *Controller) Handle() *SessionHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		return nil
	}
	return c.run.handle
}

// Start begins a new session. It returns once the session loop is running;
// progress is observed through the state handler, Done and Err.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.run != nil {
		c.mu.Unlock()
		return shared.ErrSessionAlreadyRunning
	}
	r := &run{
		handle: newSessionHandle(),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	c.run = r
	c.err = nil
	c.mu.Unlock()

	c.logger.Info("starting voice session", zap.String("session", r.handle.ID))
	c.metrics.recordSessionStart()
	c.transition(StateConnecting)
	go c.loop(ctx, r)
	return nil
}

// Close hangs up. It only signals the session loop and never waits for
// hardware; use Done or Wait to observe the end of teardown.
func (c *Controller) Close() error {
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()
	if r == nil {
		return nil
	}
	r.stopOnce.Do(func() { close(r.stop) })
	return nil
}

func (c *Controller) SetMuted(muted bool) error {
	h := c.Handle()
	if h == nil {
		return shared.ErrSessionNotOpen
	}
	h.SetMuted(muted)
	c.logger.Info("mute changed", zap.Bool("muted", muted))
	return nil
}

func (c *Controller) Muted() bool {
	h := c.Handle()
	return h != nil && h.Muted()
}

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Done is closed when the current session has been torn down. With no
// session running it is already closed.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		return closedCh
	}
	return c.run.done
}

func (c *Controller) Wait(ctx context.Context) error {
	select {
	case <-c.Done():
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) transition(next ControllerState) bool {
	c.mu.Lock()
	prev := c.state
	if prev == next {
		c.mu.Unlock()
		return false
	}
	allowed := false
	for _, s := range transitions[prev] {
		if s == next {
			allowed = true
			break
		}
	}
	if !allowed {
		c.mu.Unlock()
		c.logger.Warn("ignoring unexpected state change", zap.Stringer("prev", prev), zap.Stringer("new", next))
		return false
	}
	c.state = next
	handler := c.sh
	c.mu.Unlock()

	c.logger.Trace("controller state changed", zap.Stringer("prev", prev), zap.Stringer("new", next))
	if handler != nil {
		handler(prev, next)
	}
	return true
}

func (c *Controller) loop(ctx context.Context, r *run) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h := r.handle
	var cause error
	defer func() {
		c.finish(r, cause)
	}()

	frames, err := c.acquire(ctx, r)
	if errors.Is(err, errHungUp) {
		return
	}
	if err != nil {
		cause = err
		return
	}

	events := h.Session().Events()
	sink := h.Sink()
	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				c.logger.Warn("capture stopped", zap.String("session", h.ID))
				frames = nil
				continue
			}
			c.handleFrame(h, frame)
		case ev, ok := <-events:
			if !ok {
				cause = fmt.Errorf("event stream ended: %w", shared.ErrConnectionFailed)
				return
			}
			if done, err := c.handleEvent(h, sink, ev); done {
				cause = err
				return
			}
		}
	}
}

var errHungUp = errors.New("hung up during acquisition")

// acquire builds the sink, then starts the microphone and dials the
// endpoint concurrently. The setup message goes out only once both have
// succeeded, so a refused microphone never opens a streaming session.
func (c *Controller) acquire(ctx context.Context, r *run) (<-chan tools.CaptureFrame, error) {
	h := r.handle
	sink, err := c.factories.Sink()
	if err != nil {
		return nil, fmt.Errorf("opening playback: %w", err)
	}
	h.setSink(sink)

	acqCtx, cancelAcq := context.WithCancel(ctx)
	defer cancelAcq()

	var frames <-chan tools.CaptureFrame
	g, gctx := errgroup.WithContext(acqCtx)
	g.Go(func() error {
		source, err := c.factories.Source()
		if err != nil {
			return fmt.Errorf("creating capture source: %w: %w", shared.ErrPermissionDenied, err)
		}
		h.setSource(source)
		// The capture pump outlives acquisition, so it runs on ctx.
		frames, err = source.Start(ctx)
		if err != nil {
			return fmt.Errorf("starting capture: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		session, err := c.factories.Session()
		if err != nil {
			return fmt.Errorf("creating session: %w", err)
		}
		h.setSession(session)
		return session.Dial(gctx)
	})

	acquired := make(chan error, 1)
	go func() {
		if err := g.Wait(); err != nil {
			acquired <- err
			return
		}
		acquired <- h.Session().Setup(acqCtx)
	}()
	select {
	case err := <-acquired:
		if err != nil {
			return nil, err
		}
		return frames, nil
	case <-r.stop:
	case <-ctx.Done():
	}
	// Teardown must not start while either goroutine can still write to the
	// handle, so wait for both after aborting the dial.
	cancelAcq()
	c.cancelAcquire(h)
	<-acquired
	return nil, errHungUp
}

// cancelAcquire closes the session early so a pending dial aborts.
func (c *Controller) cancelAcquire(h *SessionHandle) {
	if s := h.Session(); s != nil {
		if err := s.Close(); err != nil {
			c.logger.Debug("closing session during acquire", zap.Error(err))
		}
	}
}

func (c *Controller) handleFrame(h *SessionHandle, frame tools.CaptureFrame) {
	c.metrics.recordFrame()
	if c.State() != StateActive {
		c.metrics.recordDropped(DropReasonNotOpen)
		return
	}
	if h.Muted() {
		c.metrics.recordDropped(DropReasonMuted)
		return
	}
	chunk, err := c.encoder.Encode(frame.Samples)
	if err != nil {
		c.logger.Warn("dropping frame", zap.Uint64("seq", frame.Seq), zap.Error(err))
		c.metrics.recordDropped(DropReasonEncode)
		return
	}
	switch err := h.Session().Send(chunk); {
	case err == nil:
		c.metrics.recordSent()
	case errors.Is(err, shared.ErrSessionNotOpen):
		c.metrics.recordDropped(DropReasonNotOpen)
	default:
		c.logger.Warn("dropping frame", zap.Uint64("seq", frame.Seq), zap.Error(err))
		c.metrics.recordDropped(DropReasonBackpressure)
	}
}

// handleEvent reports done when the session is over; err is nil for a
// normal remote close.
func (c *Controller) handleEvent(h *SessionHandle, sink tools.PlaybackSink, ev Event) (done bool, err error) {
	switch ev.Type {
	case EventOpen:
		c.transition(StateActive)
	case EventAudio:
		c.metrics.recordReceived()
		buf, err := tools.Decode(ev.Audio)
		if err != nil {
			c.logger.Warn("skipping audio chunk", zap.String("session", h.ID), zap.Error(err))
			c.metrics.recordDecodeFailure()
			return false, nil
		}
		if _, err := sink.Play(buf); err != nil {
			c.logger.Error("scheduling playback", err, zap.String("session", h.ID))
		}
	case EventText, EventInputTranscript, EventOutputTranscript:
		c.mu.Lock()
		handler := c.th
		c.mu.Unlock()
		if handler != nil {
			handler(ev.Type, ev.Text)
		}
	case EventInterrupted:
		c.logger.Debug("model turn interrupted", zap.String("session", h.ID))
	case EventTurnComplete:
		c.logger.Debug("model turn complete", zap.String("session", h.ID))
	case EventGoAway:
		c.logger.Warn("endpoint will close the session", zap.String("session", h.ID), zap.String("timeLeft", ev.TimeLeft))
	case EventClosed:
		c.logger.Info("endpoint closed the session", zap.String("session", h.ID))
		return true, nil
	case EventError:
		return true, ev.Err
	}
	return false, nil
}

// finish runs the teardown for every exit path of the loop.
func (c *Controller) finish(r *run, cause error) {
	h := r.handle
	if cause != nil {
		c.logger.Error("voice session failed", cause, zap.String("session", h.ID))
	} else {
		c.transition(StateClosing)
	}
	if err := h.Close(); err != nil {
		c.logger.Error("tearing down voice session", err, zap.String("session", h.ID))
	}

	end := StateClosed
	if cause != nil {
		end = StateError
	}
	// The terminal state and the release of the run are published together
	// so a Start racing with teardown sees either the old run or none.
	c.mu.Lock()
	prev := c.state
	c.state = end
	c.err = cause
	c.run = nil
	handler := c.sh
	c.mu.Unlock()
	c.logger.Trace("controller state changed", zap.Stringer("prev", prev), zap.Stringer("new", end))
	if handler != nil {
		handler(prev, end)
	}
	c.metrics.recordSessionEnd(end, time.Since(h.StartedAt))
	c.logger.Info("voice session ended", zap.String("session", h.ID), zap.Stringer("state", end))
	close(r.done)
}
