package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	clocktesting "k8s.io/utils/clock/testing"
)

func TestRateCounterWindow(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rc := NewRateCounter(start)

	for range 30 {
		rc.RecordEvent()
	}
	assert.False(t, rc.Tick(start.Add(500*time.Millisecond)))
	assert.Equal(t, 0, rc.Rate())
	assert.Equal(t, 30, rc.CountInWindow())

	assert.True(t, rc.Tick(start.Add(1001*time.Millisecond)))
	assert.Equal(t, 30, rc.Rate())
	assert.Equal(t, 0, rc.CountInWindow())
}

func TestRateCounterRateHoldsUntilNextWindow(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rc := NewRateCounter(start)

	rc.RecordEvent()
	rc.RecordEvent()
	rc.Tick(start.Add(time.Second))
	assert.Equal(t, 2, rc.Rate())

	rc.RecordEvent()
	assert.False(t, rc.Tick(start.Add(1500*time.Millisecond)))
	assert.Equal(t, 2, rc.Rate())

	assert.True(t, rc.Tick(start.Add(2*time.Second)))
	assert.Equal(t, 1, rc.Rate())
}

func TestStreamStatsWithFakeClock(t *testing.T) {
	clk := clocktesting.NewFakePassiveClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s := NewStreamStats("mjpeg", clk)

	for range 30 {
		assert.False(t, s.RecordFrame(3))
	}
	s.RecordPackets(2)
	s.RecordError()
	s.RecordDrop()

	clk.SetTime(clk.Now().Add(1001 * time.Millisecond))
	assert.True(t, s.RecordFrame(3))

	snap := s.Snapshot()
	assert.Equal(t, "mjpeg", snap.Stream)
	assert.Equal(t, uint64(31), snap.Frames)
	assert.Equal(t, uint64(31*3+2), snap.Packets)
	assert.Equal(t, uint64(1), snap.Errors)
	assert.Equal(t, uint64(1), snap.Dropped)
	assert.Equal(t, 31, snap.FPS)
}
