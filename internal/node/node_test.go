package node

import (
	"context"
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/tg/roverlink/config"
	"github.com/tg/roverlink/internal/protocol"
)

type recordingSender struct {
	mu   sync.Mutex
	sent [][2]int
}

func (r *recordingSender) SendControl(accel, direction int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, [2]int{accel, direction})
	return nil
}

func (r *recordingSender) last() ([2]int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return [2]int{}, 0
	}
	return r.sent[len(r.sent)-1], len(r.sent)
}

func TestDirectionFromAzimuth(t *testing.T) {
	assert.Equal(t, 90, DirectionFromAzimuth(10))
	assert.Equal(t, 80, DirectionFromAzimuth(0))
	assert.Equal(t, 135, DirectionFromAzimuth(54.6))
}

func TestControllerManualInput(t *testing.T) {
	sender := &recordingSender{}
	c := NewController(sender, nil, 33*time.Millisecond, nil)

	c.SetInput(40, -150)
	c.Tick()

	last, n := sender.last()
	assert.Equal(t, 1, n)
	assert.Equal(t, [2]int{40, -100}, last)
	assert.Equal(t, Command{Accel: 40, Direction: -100, Sent: 1}, c.Last())
}

func TestControllerClampsHugeInput(t *testing.T) {
	sender := &recordingSender{}
	c := NewController(sender, nil, 33*time.Millisecond, nil)

	// Truncated to int32 before clamping these would become -1 and 0.
	c.SetInput(math.MaxInt, math.MinInt)
	c.Tick()

	last, _ := sender.last()
	assert.Equal(t, [2]int{100, -100}, last)
	assert.Equal(t, Command{Accel: 100, Direction: -100, Sent: 1}, c.Last())
}

func TestControllerByRotation(t *testing.T) {
	sender := &recordingSender{}
	heading := &Heading{}
	c := NewController(sender, heading, 33*time.Millisecond, nil)
	c.SetInput(20, 5)

	// No heading yet: manual direction is used.
	c.Tick()
	last, _ := sender.last()
	assert.Equal(t, [2]int{20, 5}, last)

	heading.Set(30)
	c.Tick()
	last, _ = sender.last()
	assert.Equal(t, [2]int{20, 110}, last)
	assert.Equal(t, 100, c.Last().Direction)
}

func TestControllerRunFollowsClock(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	sender := &recordingSender{}
	c := NewController(sender, nil, 33*time.Millisecond, clk)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	require.Eventually(t, clk.HasWaiters, time.Second, time.Millisecond)
	clk.Step(33 * time.Millisecond)
	require.Eventually(t, func() bool { _, n := sender.last(); return n == 1 }, time.Second, time.Millisecond)

	cancel()
	<-done
}

func testSettings(t *testing.T, transport string) (config.Settings, *net.UDPConn) {
	t.Helper()

	peer, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { peer.Close() })

	return config.Settings{
		PeerIP: "127.0.0.1",
		Control: config.ControlSettings{
			Transport: transport,
			SendPort:  peer.LocalAddr().(*net.UDPAddr).Port,
			Interval:  10 * time.Millisecond,
		},
		Video: config.VideoSettings{MTU: 1300, QueueSize: 16, Framerate: 30},
	}, peer
}

func TestNodeSendsControlToPeer(t *testing.T) {
	settings, peer := testSettings(t, "udp")

	n, err := New(settings)
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	defer n.Stop()

	n.SetControl(30, 60)
	assert.False(t, n.SetAzimuth(45), "rotation disabled")

	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	for {
		k, _, err := peer.ReadFromUDP(buf)
		require.NoError(t, err)
		if k == protocol.RemoteFrameSize && buf[1] == 30 {
			assert.Equal(t, []byte{byte(protocol.KindRemote), 30, 60}, buf[:k])
			break
		}
	}

	st := n.Status()
	assert.Equal(t, "udp", st.Transport)
	assert.Empty(t, st.TCPState)
	assert.Empty(t, st.Streams)
	assert.Equal(t, int8(-100), st.Gamepad.LeftTrigger)
}

func TestNodeReceivesGamepadOverTCP(t *testing.T) {
	settings, _ := testSettings(t, "tcp")
	settings.ControlByRotation = true

	n, err := New(settings)
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	defer n.Stop()

	assert.True(t, n.SetAzimuth(10))
	assert.Equal(t, "awaiting_client", n.Status().TCPState)

	conn, err := net.Dial("tcp4", n.tcpServer.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write(protocol.GamepadReport{LeftX: 12, LeftY: -7, LeftTrigger: 0, RightTrigger: 90}.Encode())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return n.Status().PacketsReceived == 1 }, 2*time.Second, 5*time.Millisecond)
	st := n.Status()
	assert.Equal(t, "connected", st.TCPState)
	assert.Equal(t, int8(12), st.Gamepad.LeftX)
	assert.Equal(t, int8(90), st.Gamepad.RightTrigger)
}

func TestNodeRejectsStreamWithoutInput(t *testing.T) {
	settings, _ := testSettings(t, "udp")
	settings.EnableMJPEG = true

	_, err := New(settings)
	assert.Error(t, err)
}

func TestNodeRejectsWebsocketTransport(t *testing.T) {
	settings, _ := testSettings(t, "ws")

	_, err := New(settings)
	assert.ErrorContains(t, err, "only supported by relay")
}
