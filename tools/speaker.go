package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"
	"github.com/wtconnect/livevoice/shared"
	"go.uber.org/zap"
)

// PlaybackSink receives decoded buffers in arrival order and plays them
// back to back.
type PlaybackSink interface {
	Play(buf *Buffer) (PlaybackEntry, error)
	Close() error
}

// Player is a PlaybackSink scheduling buffers gaplessly onto a Timeline.
type Player struct {
	timeline  *Timeline
	scheduler *Scheduler
	onClose   func()
	closeOnce sync.Once
}

func NewPlayer(timeline *Timeline) *Player {
	return &Player{
		timeline:  timeline,
		scheduler: NewScheduler(timeline),
	}
}

func (p *Player) Timeline() *Timeline {
	return p.timeline
}

func (p *Player) Play(buf *Buffer) (PlaybackEntry, error) {
	if buf == nil {
		return PlaybackEntry{}, fmt.Errorf("nil buffer: %w", shared.ErrProtocol)
	}
	if buf.SampleRate != int(p.timeline.SampleRate()) {
		return PlaybackEntry{}, fmt.Errorf("buffer rate %d does not match output rate %d", buf.SampleRate, p.timeline.SampleRate())
	}
	entry := p.scheduler.Schedule(buf)
	if err := p.timeline.Add(entry); err != nil {
		return PlaybackEntry{}, err
	}
	return entry, nil
}

// Drain blocks until every scheduled sample has been rendered or ctx is
// done.
func (p *Player) Drain(ctx context.Context) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for p.timeline.Pending() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (p *Player) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.timeline.Close()
		if p.onClose != nil {
			p.onClose()
		}
	})
	return err
}

var (
	speakerOnce sync.Once
	speakerErr  error
)

// initSpeaker opens the default output device. beep allows a single
// speaker per process, so every session shares it at PlaybackSampleRate.
func initSpeaker(logger shared.LoggerAdapter) error {
	speakerOnce.Do(func() {
		sr := beep.SampleRate(PlaybackSampleRate)
		speakerErr = speaker.Init(sr, sr.N(time.Second/10))
		if speakerErr == nil {
			logger.Info("speaker initialised", zap.Int("sampleRate", PlaybackSampleRate))
		}
	})
	return speakerErr
}

// OpenSpeaker returns a Player whose timeline is mixed into the default
// output device. Closing the player detaches only its own timeline.
func OpenSpeaker(logger shared.LoggerAdapter) (*Player, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if err := initSpeaker(logger); err != nil {
		return nil, fmt.Errorf("initialising speaker: %w", err)
	}
	p := NewPlayer(NewTimeline(beep.SampleRate(PlaybackSampleRate)))
	p.onClose = func() {
		logger.Debug("speaker timeline detached", zap.Duration("played", p.timeline.Now()))
	}
	speaker.Play(p.timeline)
	return p, nil
}
