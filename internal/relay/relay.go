// Package relay forwards an operator's controller to the vehicle: the latest
// poll is sent as a gamepad report at a fixed rate.
package relay

import (
	"context"
	"io"
	"time"

	"k8s.io/utils/clock"

	"github.com/tg/roverlink/internal/stats"
	"github.com/tg/roverlink/internal/util"
)

// DefaultInterval is the send period, about 30 Hz.
const DefaultInterval = 33 * time.Millisecond

// Relay sends gamepad reports to w on every tick.
type Relay struct {
	w        io.Writer
	source   InputSource
	interval time.Duration
	clock    clock.Clock
	stats    *stats.StreamStats
}

// Option configures a Relay.
type Option func(*Relay)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithClock replaces the real clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(r *Relay) { r.clock = c }
}

// New creates a relay reading from source and writing frames to w.
func New(w io.Writer, source InputSource, opts ...Option) *Relay {
	r := &Relay{
		w:        w,
		source:   source,
		interval: DefaultInterval,
		clock:    clock.RealClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.stats = stats.NewStreamStats("relay", r.clock)
	return r
}

// Run sends until ctx is done. Ticks before the first poll send nothing.
// Write errors are counted and logged; the next tick tries again.
func (r *Relay) Run(ctx context.Context) error {
	logger := util.GetLogger()
	logger.Info("Gamepad relay started", "interval", r.interval)

	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			snap := r.stats.Snapshot()
			logger.Info("Gamepad relay stopped", "sent", snap.Frames, "errors", snap.Errors)
			return nil
		case <-ticker.C():
			r.Tick()
		}
	}
}

// Tick sends the current poll once.
func (r *Relay) Tick() {
	in, ok := r.source.Latest()
	if !ok {
		return
	}
	if _, err := r.w.Write(in.Report().Encode()); err != nil {
		r.stats.RecordError()
		util.GetLogger().Debug("Failed to relay gamepad report", "error", err)
		return
	}
	if r.stats.RecordFrame(1) {
		util.GetLogger().Debug("Relay rate", "hz", r.stats.Snapshot().FPS)
	}
}

// Stats returns the send counters.
func (r *Relay) Stats() stats.Snapshot {
	return r.stats.Snapshot()
}
