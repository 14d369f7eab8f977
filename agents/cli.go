package agents

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	pkg "github.com/wtconnect/livevoice"
	"github.com/wtconnect/livevoice/auth"
	"github.com/wtconnect/livevoice/shared"
	"go.uber.org/zap"
)

// Key commands, each followed by Enter.
const (
	keyMute   string = "m"
	keyHangUp string = "q"
)

type CLIOptions struct {
	// Keys is read line by line for commands; nil disables them.
	Keys io.Reader
	// User is greeted by name when set.
	User    *auth.User
	Metrics *pkg.Metrics
	// Factories replaces the microphone, speaker and live client.
	Factories *pkg.Factories
}

// CLIAgent runs one voice call in a terminal: it prints the session
// config, the call state and the conversation text, and reads mute and
// hang-up commands.
type CLIAgent struct {
	logger  shared.LoggerAdapter
	printer *shared.Printer
	ctrl    *pkg.Controller

	mu      sync.Mutex
	spawned bool
	done    <-chan struct{}
}

func (a *CLIAgent) Spawn(
	ctx context.Context,
	logger shared.LoggerAdapter,
	cfg *pkg.Config,
	printer *shared.Printer,
	opts CLIOptions,
) error {
	if logger == nil {
		return shared.ErrNoLogger
	}
	if cfg == nil {
		return shared.ErrNoConfig
	}
	if printer == nil {
		return errors.New("no printer provided")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.spawned {
		return shared.ErrSessionAlreadyRunning
	}
	a.logger = logger
	a.printer = printer
	a.logger.Info("spawning CLI agent")

	if opts.User != nil {
		a.println("👋 Hi, "+opts.User.DisplayName+"!\n", 0)
	}
	a.println("🤖 Spawning CLI agent...\n", 0)

	a.println("📋 Session Config\n", 0)
	yamlBytes, err := cfg.Session.YAML()
	if err != nil {
		a.logger.Error("marshaling session config to yaml", err)
		return err
	}
	if err := a.printer.Write(string(yamlBytes), 1); err != nil {
		a.logger.Error("printing session config", err)
		return err
	}
	a.println("\n", 0)

	factories := pkg.DefaultFactories(ctx, logger, cfg)
	if opts.Factories != nil {
		factories = *opts.Factories
	}
	a.ctrl, err = pkg.NewController(logger.With(zap.String("component", "controller")), cfg, opts.Metrics, factories)
	if err != nil {
		a.logger.Error("creating controller", err)
		return err
	}
	if err := a.ctrl.RegisterStateHandler(a.onState); err != nil {
		return err
	}
	if err := a.ctrl.RegisterTextHandler(a.onText); err != nil {
		return err
	}

	if err := a.ctrl.Start(ctx); err != nil {
		a.logger.Error("starting voice session", err)
		return err
	}
	a.done = a.ctrl.Done()
	a.spawned = true
	if opts.Keys != nil {
		go a.readKeys(opts.Keys)
	}
	return nil
}

func (a *CLIAgent) onState(_, next pkg.ControllerState) {
	switch next {
	case pkg.StateConnecting:
		a.println("📞 Connecting... (🎤 opening microphone)", 0)
	case pkg.StateActive:
		a.println("✅ Live. Type m to mute or unmute, q to hang up.\n", 0)
	case pkg.StateClosing:
		a.println("\n👋 Hanging up...", 0)
	case pkg.StateClosed:
		a.println("📴 Call ended.", 0)
	case pkg.StateError:
		err := a.ctrl.Err()
		switch {
		case errors.Is(err, shared.ErrPermissionDenied):
			a.println("❌ Unable to access microphone. Please ensure that your microphone is connected and that you have granted permission to access it.", 0)
		case errors.Is(err, shared.ErrConnectionFailed):
			a.println("❌ Lost connection to the voice service.", 0)
		default:
			a.println("❌ Call failed.", 0)
		}
	}
}

func (a *CLIAgent) onText(kind pkg.EventType, text string) {
	switch kind {
	case pkg.EventInputTranscript:
		a.println("🗣  "+text, 1)
	default:
		a.println("🤖 "+text, 1)
	}
}

func (a *CLIAgent) readKeys(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case keyMute:
			muted := !a.ctrl.Muted()
			if err := a.ctrl.SetMuted(muted); err != nil {
				a.logger.Warn("toggling mute", zap.Error(err))
				continue
			}
			if muted {
				a.println("🔇 Muted", 0)
			} else {
				a.println("🎙  Unmuted", 0)
			}
		case keyHangUp:
			if err := a.Close(); err != nil {
				a.logger.Error("hanging up", err)
			}
			return
		}
	}
	if err := scanner.Err(); err != nil {
		a.logger.Warn("reading key commands", zap.Error(err))
	}
}

func (a *CLIAgent) println(s string, ind int) {
	if err := a.printer.Writeln(s, ind); err != nil {
		a.logger.Error("printing message", err)
	}
}

// Done is closed once the call has been torn down.
func (a *CLIAgent) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.done
}

// Err is the reason the call failed, if it did.
func (a *CLIAgent) Err() error {
	if a.ctrl == nil {
		return nil
	}
	return a.ctrl.Err()
}

// Close hangs up without waiting; use Done to observe the end of the call.
func (a *CLIAgent) Close() error {
	if a.ctrl == nil {
		return shared.ErrClientNotInitialized
	}
	return a.ctrl.Close()
}
