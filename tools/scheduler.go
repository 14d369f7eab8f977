package tools

import (
	"sync"
	"time"
)

// Clock reports the current position of the playback timeline.
type Clock interface {
	Now() time.Duration
}

// PlaybackEntry is a decoded buffer pinned to a start time on the
// playback timeline.
type PlaybackEntry struct {
	Buffer *Buffer
	Start  time.Duration
}

func (e PlaybackEntry) End() time.Duration {
	if e.Buffer == nil {
		return e.Start
	}
	return e.Start + e.Buffer.Duration()
}

// Scheduler assigns gapless start times: each buffer starts when the
// previous one ends, or now if the timeline has already moved past that.
// Entries are never dropped or reordered.
type Scheduler struct {
	mu    sync.Mutex
	clock Clock
	next  time.Duration
	count int
}

func NewScheduler(clock Clock) *Scheduler {
	return &Scheduler{clock: clock}
}

func (s *Scheduler) Schedule(buf *Buffer) PlaybackEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := max(s.clock.Now(), s.next)
	entry := PlaybackEntry{Buffer: buf, Start: start}
	s.next = entry.End()
	s.count++
	return entry
}

// Next is the time at which the most recently scheduled entry ends.
func (s *Scheduler) Next() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

func (s *Scheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
