package tools

import (
	"context"
)

// CaptureSource produces fixed-size frames from an input device. The
// returned channel is closed once the source stops. Stop is idempotent and
// releases the device.
type CaptureSource interface {
	Start(ctx context.Context) (<-chan CaptureFrame, error)
	Stop() error
}

// Framer cuts a continuous sample stream into frames of exactly size
// samples. A partial tail is held until enough samples arrive.
type Framer struct {
	size      int
	resampler *Resampler
	pending   []float32
	seq       uint64
}

// NewFramer frames audio delivered at srcRate into CaptureSampleRate
// frames of size samples.
func NewFramer(size, srcRate int) *Framer {
	if size <= 0 {
		size = FrameSize
	}
	if srcRate <= 0 {
		srcRate = CaptureSampleRate
	}
	return &Framer{
		size:      size,
		resampler: NewResampler(srcRate, CaptureSampleRate),
		pending:   make([]float32, 0, size),
	}
}

func (f *Framer) Push(samples []float32) []CaptureFrame {
	samples = f.resampler.Process(samples)
	var frames []CaptureFrame
	for len(samples) > 0 {
		n := min(f.size-len(f.pending), len(samples))
		f.pending = append(f.pending, samples[:n]...)
		samples = samples[n:]
		if len(f.pending) == f.size {
			frames = append(frames, CaptureFrame{Seq: f.seq, Samples: f.pending})
			f.seq++
			f.pending = make([]float32, 0, f.size)
		}
	}
	return frames
}

// Pending is the number of samples held back waiting for a full frame.
func (f *Framer) Pending() int {
	return len(f.pending)
}

// Int16ToFloat normalises signed 16-bit samples by 32768.
func Int16ToFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}

// DownmixInterleaved averages interleaved channels into mono.
func DownmixInterleaved(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	out := make([]float32, len(samples)/channels)
	for i := range out {
		var sum float32
		for c := range channels {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}
