package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tg/roverlink/internal/gamepad"
	"github.com/tg/roverlink/internal/node"
	"github.com/tg/roverlink/internal/pipeline"
	"github.com/tg/roverlink/internal/stats"
)

type fakeBackend struct {
	mu        sync.Mutex
	accel     int
	direction int
	azimuth   float64
	rotation  bool

	pads    *pipeline.Broadcaster[gamepad.Snapshot]
	preview *pipeline.Broadcaster[[]byte]
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		pads:    pipeline.NewBroadcaster[gamepad.Snapshot]("test-gamepad"),
		preview: pipeline.NewBroadcaster[[]byte]("test-preview"),
	}
}

func (f *fakeBackend) Status() node.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return node.Status{
		PhoneIP:   "192.168.4.2",
		Transport: "udp",
		Control:   node.Command{Accel: f.accel, Direction: f.direction},
		Streams:   []stats.Snapshot{{Stream: "mjpeg", FPS: 30}},
	}
}

func (f *fakeBackend) SetControl(accel, direction int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accel, f.direction = accel, direction
}

func (f *fakeBackend) SetAzimuth(azimuth float64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.azimuth = azimuth
	return f.rotation
}

func (f *fakeBackend) Gamepad() *pipeline.Broadcaster[gamepad.Snapshot] { return f.pads }
func (f *fakeBackend) Preview() *pipeline.Broadcaster[[]byte]            { return f.preview }

func newTestServer(t *testing.T, backend Backend) *httptest.Server {
	t.Helper()
	s := New("127.0.0.1:0", backend)
	s.interval = 20 * time.Millisecond
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return ts
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(t, newFakeBackend())

	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var st node.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, "192.168.4.2", st.PhoneIP)
	require.Len(t, st.Streams, 1)
	assert.Equal(t, 30, st.Streams[0].FPS)
}

func TestControlEndpoint(t *testing.T) {
	backend := newFakeBackend()
	ts := newTestServer(t, backend)

	resp, err := http.Post(ts.URL+"/api/control", "application/json", strings.NewReader(`{"accel":50,"direction":-20}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, node.Command{Accel: 50, Direction: -20}, backend.Status().Control)

	resp, err = http.Post(ts.URL+"/api/control", "application/json", strings.NewReader(`{"accel":50}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/control")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestOrientationEndpoint(t *testing.T) {
	backend := newFakeBackend()
	ts := newTestServer(t, backend)

	resp, err := http.Post(ts.URL+"/api/orientation", "application/json", strings.NewReader(`{"azimuth":12.5}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	backend.mu.Lock()
	backend.rotation = true
	backend.mu.Unlock()
	resp, err = http.Post(ts.URL+"/api/orientation", "application/json", strings.NewReader(`{"azimuth":12.5}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	backend.mu.Lock()
	assert.Equal(t, 12.5, backend.azimuth)
	backend.mu.Unlock()
}

func TestVersionEndpoint(t *testing.T) {
	ts := newTestServer(t, newFakeBackend())

	resp, err := http.Get(ts.URL + "/api/version")
	require.NoError(t, err)
	defer resp.Body.Close()

	var info map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, "1", info["ProtocolVersion"])
	assert.NotEmpty(t, info["uptime"])
}

func TestTelemetryWebSocket(t *testing.T) {
	backend := newFakeBackend()
	ts := newTestServer(t, backend)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/telemetry"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var msg TelemetryMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "status", msg.Type)
	require.NotNil(t, msg.Status)

	require.Eventually(t, func() bool { return backend.pads.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	backend.pads.Publish(gamepad.Snapshot{LeftX: 33})

	for {
		var m TelemetryMessage
		require.NoError(t, conn.ReadJSON(&m))
		if m.Type == "gamepad" {
			require.NotNil(t, m.Gamepad)
			assert.Equal(t, int8(33), m.Gamepad.LeftX)
			break
		}
	}
}

func TestMJPEGPreview(t *testing.T) {
	backend := newFakeBackend()
	ts := newTestServer(t, backend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/stream/mjpeg", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "multipart/x-mixed-replace; boundary="+previewBoundary, resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return backend.preview.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	backend.preview.Publish([]byte{0xFF, 0xD8, 0xFF, 0xD9})

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "--"+previewBoundary+"\r\n", line)

	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "Content-Type: image/jpeg\r\n", line)

	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "Content-Length: 4\r\n", line)
}
