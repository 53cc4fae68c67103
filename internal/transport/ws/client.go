// Package ws sends control frames to a vehicle that accepts them as binary
// websocket messages, the third relay transport next to UDP and TCP.
package ws

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/tg/roverlink/internal/util"
)

const (
	// ControllerPath is where the vehicle serves its control endpoint.
	ControllerPath = "/ws/controller"

	DefaultDialTimeout = 2 * time.Second
	writeWait          = time.Second
)

// ControllerURL returns the control endpoint of the vehicle at ip.
func ControllerURL(ip string, port int) string {
	host := ip
	if port != 0 && port != 80 {
		host = net.JoinHostPort(ip, fmt.Sprint(port))
	}
	return "ws://" + host + ControllerPath
}

// Client writes each control frame as one binary message. A failed write or
// a closed connection drops the socket; the next write dials again.
type Client struct {
	url    string
	dialer websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewClient creates a client for url. Nothing is dialed yet.
func NewClient(url string) *Client {
	return &Client{
		url:    url,
		dialer: websocket.Dialer{HandshakeTimeout: DefaultDialTimeout},
	}
}

// Connect dials if not connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultDialTimeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to connect to %s", c.url)
	}
	c.conn = conn
	go c.readLoop(conn)

	util.GetLogger().Info("Control websocket established", "url", c.url)
	return nil
}

// readLoop logs what the vehicle sends back and notices when the peer
// closes the connection.
func (c *Client) readLoop(conn *websocket.Conn) {
	logger := util.GetLogger()
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			conn.Close()
			logger.Debug("Control websocket closed", "url", c.url, "error", err)
			return
		}
		if mt == websocket.TextMessage {
			logger.Info("Message from vehicle", "text", string(data))
		}
	}
}

// Write sends p as one binary message, dialing first when needed.
func (c *Client) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(context.Background()); err != nil {
		return 0, err
	}

	conn := c.conn
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		util.GetLogger().Warn("Control websocket lost", "url", c.url, "error", err)
		conn.Close()
		c.conn = nil
		return 0, errors.Wrap(err, "failed to write control frame")
	}
	return len(p), nil
}

// Close sends a close message and closes the current connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	conn := c.conn
	c.conn = nil
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	return conn.Close()
}
