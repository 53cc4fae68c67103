package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tg/roverlink/internal/gamepad"
	"github.com/tg/roverlink/internal/node"
	"github.com/tg/roverlink/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local tool, any origin
	},
}

const writeWait = 2 * time.Second

// TelemetryMessage is one websocket push. Exactly one field is set.
type TelemetryMessage struct {
	Type    string            `json:"type"`
	Status  *node.Status      `json:"status,omitempty"`
	Gamepad *gamepad.Snapshot `json:"gamepad,omitempty"`
}

// handleTelemetry pushes a status snapshot every interval and every gamepad
// update as it happens.
func (s *StatusServer) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	logger := util.GetLogger()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Failed to upgrade telemetry websocket", "error", err)
		return
	}
	defer conn.Close()

	logger.Info("Telemetry client connected", "remote", r.RemoteAddr)
	defer logger.Info("Telemetry client disconnected", "remote", r.RemoteAddr)

	pads := s.backend.Gamepad()
	id, updates := pads.Subscribe(8)
	defer pads.Unsubscribe(id)

	// Reads only detect the close; clients send nothing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debug("Telemetry websocket read error", "error", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	send := func(msg TelemetryMessage) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			logger.Debug("Failed to write telemetry", "error", err)
			return false
		}
		return true
	}

	status := s.backend.Status()
	if !send(TelemetryMessage{Type: "status", Status: &status}) {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if !send(TelemetryMessage{Type: "gamepad", Gamepad: &snap}) {
				return
			}
		case <-ticker.C:
			status := s.backend.Status()
			if !send(TelemetryMessage{Type: "status", Status: &status}) {
				return
			}
		}
	}
}
