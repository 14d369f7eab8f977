package tools

import (
	"errors"
	"sync"
	"time"

	"github.com/gopxl/beep"
)

var ErrTimelineClosed = errors.New("timeline closed")

type timelineEntry struct {
	start   int
	samples []float32
}

func (e timelineEntry) end() int {
	return e.start + len(e.samples)
}

// Timeline is a beep.Streamer that renders scheduled buffers at their
// sample offsets and silence everywhere else. Its position advances with
// every sample pulled by the output device, which makes it the Clock the
// Scheduler runs on.
type Timeline struct {
	mu      sync.Mutex
	rate    beep.SampleRate
	pos     int
	lastEnd int
	entries []timelineEntry
	closed  bool
}

func NewTimeline(rate beep.SampleRate) *Timeline {
	return &Timeline{rate: rate}
}

func (t *Timeline) SampleRate() beep.SampleRate {
	return t.rate
}

func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rate.D(t.pos)
}

// Add places an entry on the timeline. An entry never starts before the
// end of the previous one or before the current position, so rounding
// cannot create overlap.
func (t *Timeline) Add(entry PlaybackEntry) error {
	if entry.Buffer == nil || len(entry.Buffer.Samples) == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTimelineClosed
	}
	start := max(SampleOffset(entry.Start, int(t.rate)), t.lastEnd, t.pos)
	e := timelineEntry{start: start, samples: entry.Buffer.Samples}
	t.entries = append(t.entries, e)
	t.lastEnd = e.end()
	return nil
}

// Pending is the number of samples still to be rendered.
func (t *Timeline) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return max(t.lastEnd-t.pos, 0)
}

func (t *Timeline) Stream(samples [][2]float64) (n int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, false
	}
	for i := range samples {
		samples[i] = [2]float64{}
	}
	from, to := t.pos, t.pos+len(samples)
	keep := t.entries[:0]
	for _, e := range t.entries {
		if e.start < to && e.end() > from {
			lo, hi := max(e.start, from), min(e.end(), to)
			for p := lo; p < hi; p++ {
				v := float64(e.samples[p-e.start])
				samples[p-from] = [2]float64{v, v}
			}
		}
		if e.end() > to {
			keep = append(keep, e)
		}
	}
	clear(t.entries[len(keep):])
	t.entries = keep
	t.pos = to
	return len(samples), true
}

func (t *Timeline) Err() error {
	return nil
}

// Close detaches the timeline from its output: the next Stream call
// reports exhaustion and pending entries are discarded.
func (t *Timeline) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.entries = nil
	return nil
}
