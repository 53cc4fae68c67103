package tcp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/tg/roverlink/internal/util"
)

// DefaultDialTimeout bounds each connection attempt.
const DefaultDialTimeout = 2 * time.Second

// Client writes control frames to a Server. A failed write drops the
// connection; the next write dials again.
type Client struct {
	addr        string
	dialTimeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

// NewClient creates a client for ip:port. Nothing is dialed yet.
func NewClient(ip string, port int) *Client {
	return &Client{
		addr:        net.JoinHostPort(ip, fmt.Sprint(port)),
		dialTimeout: DefaultDialTimeout,
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

	d := net.Dialer{Timeout: c.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp4", c.addr)
	if err != nil {
		return errors.Wrapf(err, "failed to connect to %s", c.addr)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}
	c.conn = conn
	util.GetLogger().Info("Control connection established", "addr", c.addr)
	return nil
}

// Write sends p on the stream, dialing first when needed.
func (c *Client) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(context.Background()); err != nil {
		return 0, err
	}

	n, err := c.conn.Write(p)
	if err != nil {
		util.GetLogger().Warn("Control connection lost", "addr", c.addr, "error", err)
		c.conn.Close()
		c.conn = nil
		return n, errors.Wrap(err, "failed to write control frame")
	}
	return n, nil
}

// Close closes the current connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
