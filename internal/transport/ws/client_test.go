package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tg/roverlink/internal/protocol"
)

type vehicle struct {
	upgrader    websocket.Upgrader
	connections atomic.Int32
	// closeAfter closes the first connection after this many messages.
	closeAfter int

	mu       sync.Mutex
	messages [][]byte
	types    []int
}

func (v *vehicle) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := v.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	n := v.connections.Add(1)

	conn.WriteMessage(websocket.TextMessage, []byte("hello from vehicle"))
	for i := 1; ; i++ {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		v.mu.Lock()
		v.messages = append(v.messages, data)
		v.types = append(v.types, mt)
		v.mu.Unlock()
		if n == 1 && v.closeAfter > 0 && i == v.closeAfter {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart"), time.Now().Add(time.Second))
			return
		}
	}
}

func (v *vehicle) received() ([][]byte, []int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([][]byte(nil), v.messages...), append([]int(nil), v.types...)
}

func startVehicle(t *testing.T, v *vehicle) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle(ControllerPath, v)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + ControllerPath
}

func TestControllerURL(t *testing.T) {
	assert.Equal(t, "ws://192.168.4.1/ws/controller", ControllerURL("192.168.4.1", 80))
	assert.Equal(t, "ws://192.168.4.1/ws/controller", ControllerURL("192.168.4.1", 0))
	assert.Equal(t, "ws://10.0.0.5:8080/ws/controller", ControllerURL("10.0.0.5", 8080))
}

func TestClientSendsBinaryFrames(t *testing.T) {
	v := &vehicle{}
	c := NewClient(startVehicle(t, v))
	defer c.Close()

	report := protocol.GamepadReport{LeftX: 10, LeftY: -20, LeftTrigger: 50, RightTrigger: -60, Buttons: protocol.ButtonA}
	frame := report.Encode()

	n, err := c.Write(frame)
	require.NoError(t, err)
	assert.Equal(t, len(frame), n)
	_, err = c.Write(protocol.EncodeRemote(30, -5))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		msgs, _ := v.received()
		return len(msgs) == 2
	}, 2*time.Second, 10*time.Millisecond)

	msgs, types := v.received()
	assert.Equal(t, frame, msgs[0])
	assert.Equal(t, []byte{1, 30, 0xFB}, msgs[1])
	assert.Equal(t, []int{websocket.BinaryMessage, websocket.BinaryMessage}, types)
}

func TestClientRedialsAfterPeerClose(t *testing.T) {
	v := &vehicle{closeAfter: 1}
	c := NewClient(startVehicle(t, v))
	defer c.Close()

	_, err := c.Write([]byte{0, 1, 2, 3, 4, 5, 6, 7})
	require.NoError(t, err)

	// Writes racing the close may fail; the client must come back on its own.
	require.Eventually(t, func() bool {
		c.Write([]byte{1, 9, 9})
		return v.connections.Load() >= 2
	}, 3*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		msgs, _ := v.received()
		return len(msgs) >= 2 && assert.ObjectsAreEqual([]byte{1, 9, 9}, msgs[len(msgs)-1])
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClientDialFailure(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + ControllerPath
	ts.Close()

	c := NewClient(url)
	_, err := c.Write([]byte{1, 0, 0})
	assert.Error(t, err)
	assert.NoError(t, c.Close())
}
