package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/mediadevices/pkg/wave"
	"github.com/wtconnect/livevoice/shared"
	"go.uber.org/zap"
)

// Microphone captures the default input device through mediadevices. A
// Microphone is single use: once stopped it cannot be restarted.
type Microphone struct {
	logger    shared.LoggerAdapter
	frameSize int

	mu       sync.Mutex
	track    mediadevices.Track
	cancel   context.CancelFunc
	stopOnce sync.Once
}

var _ CaptureSource = (*Microphone)(nil)

func NewMicrophone(logger shared.LoggerAdapter, frameSize int) (*Microphone, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if frameSize <= 0 {
		frameSize = FrameSize
	}
	return &Microphone{logger: logger, frameSize: frameSize}, nil
}

// Start acquires the microphone. Any acquisition failure, refused access
// included, is reported as shared.ErrPermissionDenied.
func (m *Microphone) Start(ctx context.Context) (<-chan CaptureFrame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.track != nil {
		return nil, errors.New("microphone already started")
	}
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(CaptureSampleRate)
			c.ChannelCount = prop.Int(1)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getting microphone stream: %w: %w", shared.ErrPermissionDenied, err)
	}
	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, fmt.Errorf("no audio track in microphone stream: %w", shared.ErrPermissionDenied)
	}
	audioTrack, ok := tracks[0].(*mediadevices.AudioTrack)
	if !ok {
		closeTracks(tracks)
		return nil, fmt.Errorf("unexpected track type %T: %w", tracks[0], shared.ErrPermissionDenied)
	}
	reader := audioTrack.NewReader(false)
	m.track = audioTrack
	m.logger.Info("microphone acquired", zap.String("track", audioTrack.ID()))

	ctx, m.cancel = context.WithCancel(ctx)
	frames := make(chan CaptureFrame, 8)
	go m.pump(ctx, reader.Read, frames)
	return frames, nil
}

// pump runs on a single goroutine so frames leave in capture order.
func (m *Microphone) pump(ctx context.Context, read func() (wave.Audio, func(), error), frames chan<- CaptureFrame) {
	defer close(frames)
	var framer *Framer
	for {
		if ctx.Err() != nil {
			return
		}
		chunk, release, err := read()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				m.logger.Error("reading microphone", err)
			}
			return
		}
		info := chunk.ChunkInfo()
		if framer == nil {
			framer = NewFramer(m.frameSize, info.SamplingRate)
		}
		var samples []float32
		switch c := chunk.(type) {
		case *wave.Float32Interleaved:
			samples = DownmixInterleaved(append([]float32(nil), c.Data...), info.Channels)
		case *wave.Int16Interleaved:
			samples = DownmixInterleaved(Int16ToFloat(c.Data), info.Channels)
		default:
			m.logger.Warn("dropping unsupported audio chunk", zap.String("type", fmt.Sprintf("%T", chunk)))
		}
		release()
		for _, frame := range framer.Push(samples) {
			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Stop releases the device. It may be called any number of times, before
// or after Start.
func (m *Microphone) Stop() error {
	var err error
	m.stopOnce.Do(func() {
		m.mu.Lock()
		track, cancel := m.track, m.cancel
		m.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if track != nil {
			err = track.Close()
			m.logger.Info("microphone released")
		}
	})
	return err
}

func closeTracks(tracks []mediadevices.Track) {
	for _, t := range tracks {
		_ = t.Close()
	}
}
