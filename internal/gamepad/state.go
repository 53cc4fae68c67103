// Package gamepad holds the last-known controller state reported by a relay
// and the operator-side input format the relay reads.
package gamepad

import (
	"sync/atomic"

	"github.com/tg/roverlink/internal/pipeline"
	"github.com/tg/roverlink/internal/protocol"
)

// Snapshot is a copy of State at one point in time.
type Snapshot struct {
	RightTrigger int8 `json:"rightTrigger"`
	LeftTrigger  int8 `json:"leftTrigger"`
	LeftX        int8 `json:"leftX"`
	LeftY        int8 `json:"leftY"`
}

// State is the last-write-wins controller record owned by a receiving
// channel. Every field is written atomically on its own; a reader may see a
// mix of two consecutive reports, which is fine for display.
type State struct {
	rightTrigger atomic.Int32
	leftTrigger  atomic.Int32
	leftX        atomic.Int32
	leftY        atomic.Int32

	updates *pipeline.Broadcaster[Snapshot]
}

// NewState returns a state with released triggers and a centered stick.
func NewState() *State {
	s := &State{
		updates: pipeline.NewBroadcaster[Snapshot]("gamepad"),
	}
	s.rightTrigger.Store(protocol.AxisMin)
	s.leftTrigger.Store(protocol.AxisMin)
	return s
}

// Apply updates the state from a decoded frame. It reports whether the
// frame was a gamepad report; other kinds leave the state untouched.
func (s *State) Apply(frame protocol.ControlFrame) bool {
	if frame.Kind != protocol.KindGamepad {
		return false
	}
	report, ok := frame.Gamepad()
	if !ok {
		return false
	}

	s.rightTrigger.Store(int32(report.RightTrigger))
	s.leftTrigger.Store(int32(report.LeftTrigger))
	s.leftX.Store(int32(report.LeftX))
	s.leftY.Store(int32(report.LeftY))

	s.updates.Publish(s.Snapshot())
	return true
}

// Snapshot reads every field once.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		RightTrigger: int8(s.rightTrigger.Load()),
		LeftTrigger:  int8(s.leftTrigger.Load()),
		LeftX:        int8(s.leftX.Load()),
		LeftY:        int8(s.leftY.Load()),
	}
}

// Updates exposes the snapshot feed for observers.
func (s *State) Updates() *pipeline.Broadcaster[Snapshot] {
	return s.updates
}
