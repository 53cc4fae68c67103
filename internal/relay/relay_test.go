package relay

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/tg/roverlink/internal/gamepad"
	"github.com/tg/roverlink/internal/protocol"
)

type frameLog struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (f *frameLog) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.frames = append(f.frames, bytes.Clone(p))
	return len(p), nil
}

func (f *frameLog) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

type fixedInput struct {
	in gamepad.Input
	ok bool
}

func (f fixedInput) Latest() (gamepad.Input, bool) { return f.in, f.ok }

func TestLineReaderKeepsLatest(t *testing.T) {
	input := strings.Join([]string{
		`{"leftX":0.1}`,
		``,
		`not json`,
		`{"leftX":-0.5,"rightTrigger":1,"b":true}`,
	}, "\n")

	var r LineReader
	_, ok := r.Latest()
	assert.False(t, ok)

	require.NoError(t, r.Run(context.Background(), strings.NewReader(input)))
	assert.Equal(t, 3, r.Lines())
	assert.Equal(t, 1, r.Invalid())

	in, ok := r.Latest()
	require.True(t, ok)
	assert.Equal(t, -0.5, in.LeftX)
	assert.True(t, in.B)
	assert.Equal(t, -1.0, in.LeftTrigger)
}

func TestRelayTickSendsReport(t *testing.T) {
	out := &frameLog{}
	r := New(out, fixedInput{in: gamepad.Input{LeftX: 1, LeftTrigger: -1, RightTrigger: 0.5, A: true}, ok: true})

	r.Tick()

	require.Equal(t, 1, out.count())
	frame, err := protocol.DecodeControl(out.frames[0])
	require.NoError(t, err)
	report, ok := frame.Gamepad()
	require.True(t, ok)
	assert.Equal(t, int8(100), report.LeftX)
	assert.Equal(t, int8(-100), report.LeftTrigger)
	assert.Equal(t, int8(50), report.RightTrigger)
	assert.Equal(t, protocol.ButtonA, report.Buttons)
	assert.Equal(t, uint64(1), r.Stats().Frames)
}

func TestRelayTickWithoutInputSendsNothing(t *testing.T) {
	out := &frameLog{}
	r := New(out, fixedInput{})
	r.Tick()
	assert.Zero(t, out.count())
}

func TestRelayTickCountsWriteErrors(t *testing.T) {
	out := &frameLog{err: io.ErrClosedPipe}
	r := New(out, fixedInput{ok: true})

	r.Tick()
	r.Tick()
	assert.Equal(t, uint64(2), r.Stats().Errors)
	assert.Zero(t, r.Stats().Frames)
}

func TestRelayRunFollowsClock(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	out := &frameLog{}
	r := New(out, fixedInput{ok: true}, WithClock(clk), WithInterval(DefaultInterval))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, clk.HasWaiters, time.Second, time.Millisecond)
	assert.Zero(t, out.count())

	for i := 1; i <= 3; i++ {
		clk.Step(DefaultInterval)
		require.Eventually(t, func() bool { return out.count() == i }, time.Second, time.Millisecond)
	}

	cancel()
	require.NoError(t, <-done)
}
