package streamer

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tg/roverlink/internal/packetizer"
)

// datagrams records every Write as one datagram.
type datagrams struct {
	mu   sync.Mutex
	list [][]byte
	fail bool
}

func (d *datagrams) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return 0, io.ErrClosedPipe
	}
	d.list = append(d.list, append([]byte{}, p...))
	return len(p), nil
}

func (d *datagrams) all() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.list...)
}

func TestMJPEGHandleFrame(t *testing.T) {
	out := &datagrams{}
	var previewed [][]byte
	s := NewMJPEGStreamer(out, nil, MJPEGOptions{
		Preview: func(jpeg []byte) { previewed = append(previewed, jpeg) },
	})

	frame := make([]byte, 2700)
	frame[0], frame[1] = 0xFF, 0xD8
	require.NoError(t, s.HandleFrame(frame))

	got := out.all()
	require.Len(t, got, 4)
	assert.Len(t, got[0], packetizer.DefaultMTU)
	assert.Len(t, got[1], packetizer.DefaultMTU)
	assert.Len(t, got[2], 100)
	assert.Empty(t, got[3])
	assert.Equal(t, frame, bytes.Join(got, nil))
	assert.Len(t, previewed, 1)

	snap := s.Stats()
	assert.Equal(t, uint64(1), snap.Frames)
	assert.Equal(t, uint64(4), snap.Packets)
}

func TestMJPEGHandleFrameSendError(t *testing.T) {
	out := &datagrams{fail: true}
	s := NewMJPEGStreamer(out, nil, MJPEGOptions{})

	assert.Error(t, s.HandleFrame([]byte{0xFF, 0xD8, 0xFF, 0xD9}))
	snap := s.Stats()
	assert.Zero(t, snap.Frames)
	assert.Equal(t, uint64(1), snap.Errors)

	out.fail = false
	require.NoError(t, s.HandleFrame([]byte{0xFF, 0xD8, 0xFF, 0xD9}))
	assert.Equal(t, uint64(1), s.Stats().Frames)
}

// sliceSource hands out fixed frames, then reports exhaustion.
type sliceSource struct {
	mu      sync.Mutex
	frames  [][]byte
	stopped bool
}

func (s *sliceSource) Start(ctx context.Context) error { return nil }

func (s *sliceSource) Next(ctx context.Context) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil, false
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, true
}

func (s *sliceSource) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	return nil
}

func TestMJPEGStreamerRunsSource(t *testing.T) {
	out := &datagrams{}
	src := &sliceSource{frames: [][]byte{{1, 2, 3}, {4, 5}}}
	s := NewMJPEGStreamer(out, src, MJPEGOptions{MTU: 2})

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return s.Stats().Frames == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	assert.True(t, src.stopped)

	assert.Equal(t, [][]byte{{1, 2}, {3}, {}, {4, 5}, {}}, out.all())
	assert.ErrorIs(t, s.Stop(), ErrNotStarted)
}

func TestH264OutputBeforeFormatIsDropped(t *testing.T) {
	out := &datagrams{}
	s := NewH264Streamer(out, nil, H264Options{})

	buf := lengthPrefixed(testIDR)
	s.Process(OutputAvailable{Buffer: buf, Info: BufferInfo{Size: len(buf)}})

	assert.Empty(t, out.all())
	assert.False(t, s.HeadersSent())
	assert.Equal(t, uint64(1), s.Stats().Dropped)
}

func TestH264ParameterSetsPrecedeFrames(t *testing.T) {
	out := &datagrams{}
	var sent [][]byte
	s := NewH264Streamer(out, nil, H264Options{
		OnNALSent: func(nal []byte) { sent = append(sent, nal) },
	})

	s.Process(FormatChanged{ParameterSets: [][]byte{testSPS, WithStartCode(testPPS)}})
	require.True(t, s.HeadersSent())

	buf := lengthPrefixed(testIDR, testP)
	s.Process(OutputAvailable{Buffer: buf, Info: BufferInfo{Size: len(buf), KeyFrame: true}})

	assert.Equal(t, [][]byte{
		WithStartCode(testSPS),
		WithStartCode(testPPS),
		WithStartCode(testIDR),
		WithStartCode(testP),
	}, out.all())
	assert.Equal(t, [][]byte{WithStartCode(testIDR), WithStartCode(testP)}, sent)
	assert.Equal(t, uint64(2), s.Stats().Frames)
	assert.Equal(t, uint64(4), s.Stats().Packets)
}

func TestH264ParameterSetsAreNotFrames(t *testing.T) {
	out := &datagrams{}
	s := NewH264Streamer(out, nil, H264Options{})

	s.Process(FormatChanged{ParameterSets: [][]byte{testSPS, testPPS}})

	require.Len(t, out.all(), 2)
	assert.Zero(t, s.Stats().Frames)
	assert.Equal(t, uint64(2), s.Stats().Packets)
}

func TestH264LargeNALHasNoTerminator(t *testing.T) {
	out := &datagrams{}
	s := NewH264Streamer(out, nil, H264Options{MTU: 100})
	s.Process(FormatChanged{ParameterSets: [][]byte{testSPS}})

	nal := make([]byte, 250)
	nal[0] = 0x65
	buf := lengthPrefixed(nal)
	s.Process(OutputAvailable{Buffer: buf, Info: BufferInfo{Size: len(buf)}})

	got := out.all()[1:]
	require.Len(t, got, 3)
	for _, d := range got {
		assert.NotEmpty(t, d)
	}
	assert.Equal(t, WithStartCode(nal), bytes.Join(got, nil))
}

func TestH264BufferInfoWindow(t *testing.T) {
	out := &datagrams{}
	s := NewH264Streamer(out, nil, H264Options{})
	s.Process(FormatChanged{ParameterSets: [][]byte{testSPS, testPPS}})

	payload := lengthPrefixed(testP)
	buf := append([]byte{9, 9, 9}, payload...)
	buf = append(buf, 7, 7)
	s.Process(OutputAvailable{Buffer: buf, Info: BufferInfo{Offset: 3, Size: len(payload)}})

	got := out.all()
	require.Len(t, got, 3)
	assert.Equal(t, WithStartCode(testP), got[2])
}

func TestH264TruncatedOutputKeepsParsedUnits(t *testing.T) {
	out := &datagrams{}
	s := NewH264Streamer(out, nil, H264Options{})
	s.Process(FormatChanged{ParameterSets: [][]byte{testSPS, testPPS}})

	buf := append(lengthPrefixed(testIDR), 0, 0, 1, 0, 0x41)
	s.Process(OutputAvailable{Buffer: buf, Info: BufferInfo{Size: len(buf)}})

	got := out.all()
	require.Len(t, got, 3)
	assert.Equal(t, WithStartCode(testIDR), got[2])
	assert.Equal(t, uint64(1), s.Stats().Errors)
}

func TestOutputAvailablePayload(t *testing.T) {
	o := OutputAvailable{Buffer: []byte{1, 2, 3, 4}, Info: BufferInfo{Offset: 1, Size: 2}}
	p, ok := o.Payload()
	assert.True(t, ok)
	assert.Equal(t, []byte{2, 3}, p)

	o.Info.Size = 10
	p, ok = o.Payload()
	assert.False(t, ok)
	assert.Equal(t, []byte{2, 3, 4}, p)

	o.Info.Offset = 9
	p, ok = o.Payload()
	assert.False(t, ok)
	assert.Nil(t, p)
}

// eventSource submits a fixed list of events and returns.
type eventSource struct {
	events []EncoderEvent
}

func (e *eventSource) Run(ctx context.Context, submit func(EncoderEvent)) error {
	for _, ev := range e.events {
		submit(ev)
	}
	<-ctx.Done()
	return nil
}

func TestH264StreamerDrainsQueue(t *testing.T) {
	out := &datagrams{}
	buf := lengthPrefixed(testIDR)
	src := &eventSource{events: []EncoderEvent{
		FormatChanged{ParameterSets: [][]byte{testSPS, testPPS}},
		OutputAvailable{Buffer: buf, Info: BufferInfo{Size: len(buf)}},
	}}
	s := NewH264Streamer(out, src, H264Options{QueueSize: 4})

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return len(out.all()) == 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrNotStarted)
}

func TestH264SubmitDropsWhenFull(t *testing.T) {
	s := NewH264Streamer(&datagrams{}, nil, H264Options{QueueSize: 1})

	assert.True(t, s.Submit(FormatChanged{}))
	assert.False(t, s.Submit(FormatChanged{}))
	assert.Equal(t, uint64(1), s.Stats().Dropped)
}
