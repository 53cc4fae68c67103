// Package stats tracks packet and frame counters for the streams and control
// channels.
package stats

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Window is the length of one rate window.
const Window = time.Second

// RateCounter reports how many events happened in the last closed one-second
// window. The rate only changes when a Tick observes that the window has
// elapsed; it is the raw count of that window, not an average.
type RateCounter struct {
	mu            sync.Mutex
	windowStart   time.Time
	countInWindow int
	rate          int
}

// NewRateCounter starts the first window at now.
func NewRateCounter(now time.Time) *RateCounter {
	return &RateCounter{windowStart: now}
}

// RecordEvent counts one event in the current window.
func (r *RateCounter) RecordEvent() {
	r.mu.Lock()
	r.countInWindow++
	r.mu.Unlock()
}

// Tick closes the window if at least one second has passed since it opened,
// and reports whether it did.
func (r *RateCounter) Tick(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if now.Sub(r.windowStart) < Window {
		return false
	}
	r.rate = r.countInWindow
	r.countInWindow = 0
	r.windowStart = now
	return true
}

// Rate returns the count of the last closed window.
func (r *RateCounter) Rate() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rate
}

// CountInWindow returns the events recorded in the open window.
func (r *RateCounter) CountInWindow() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countInWindow
}

// Snapshot is a point-in-time copy of StreamStats.
type Snapshot struct {
	Stream  string `json:"stream"`
	Frames  uint64 `json:"frames"`
	Packets uint64 `json:"packets"`
	Errors  uint64 `json:"errors"`
	Dropped uint64 `json:"dropped"`
	FPS     int    `json:"fps"`
}

// StreamStats holds the counters of one stream or channel. Frames feed the
// rate counter; packets count datagrams or reads.
type StreamStats struct {
	name  string
	clock clock.PassiveClock

	mu      sync.Mutex
	frames  uint64
	packets uint64
	errors  uint64
	dropped uint64
	rate    *RateCounter
}

// NewStreamStats creates counters read against clk. A nil clock means the
// real clock.
func NewStreamStats(name string, clk clock.PassiveClock) *StreamStats {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &StreamStats{
		name:  name,
		clock: clk,
		rate:  NewRateCounter(clk.Now()),
	}
}

// RecordFrame counts one frame made of packets datagrams and advances the
// rate window. It reports whether a window closed.
func (s *StreamStats) RecordFrame(packets int) bool {
	s.mu.Lock()
	s.frames++
	s.packets += uint64(packets)
	s.mu.Unlock()

	s.rate.RecordEvent()
	return s.rate.Tick(s.clock.Now())
}

// RecordPackets counts datagrams that do not complete a frame.
func (s *StreamStats) RecordPackets(n int) {
	s.mu.Lock()
	s.packets += uint64(n)
	s.mu.Unlock()
}

// RecordError counts a failed send or receive.
func (s *StreamStats) RecordError() {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()
}

// RecordDrop counts input discarded before it reached the network.
func (s *StreamStats) RecordDrop() {
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
}

// Snapshot copies the counters.
func (s *StreamStats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Stream:  s.name,
		Frames:  s.frames,
		Packets: s.packets,
		Errors:  s.errors,
		Dropped: s.dropped,
		FPS:     s.rate.Rate(),
	}
}
