// Package tcp implements the stream variant of the control channel: a server
// that serves one client at a time and survives disconnects, and a client
// used by the operator side.
package tcp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/tg/roverlink/internal/gamepad"
	"github.com/tg/roverlink/internal/pipeline"
	"github.com/tg/roverlink/internal/protocol"
	"github.com/tg/roverlink/internal/transport"
	"github.com/tg/roverlink/internal/util"
)

// ErrPeerDisconnected marks an orderly end-of-stream from the client.
var ErrPeerDisconnected = errors.New("peer disconnected")

// State is the connection state of a Server.
type State int32

const (
	StateAwaitingClient State = iota
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateAwaitingClient:
		return "awaiting_client"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// acceptRetryDelay paces accept retries after a non-fatal accept error.
const acceptRetryDelay = 100 * time.Millisecond

// Server accepts one control client at a time. When the client goes away it
// returns to accepting without losing gamepad state or counters.
type Server struct {
	listener    *net.TCPListener
	state       *gamepad.State
	readTimeout time.Duration

	mu     sync.Mutex
	conn   *net.TCPConn
	reader *bufio.Reader

	status      atomic.Int32
	packets     atomic.Int64
	connections atomic.Int64
	stopped     atomic.Bool

	transitions *pipeline.Broadcaster[State]
}

// Option configures a Server.
type Option func(*Server)

// WithReadTimeout bounds each read. An expired read is the idle condition and
// the loop simply reads again. Zero waits indefinitely.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = d
	}
}

// Listen binds the control server on port. Gamepad reports are applied to
// state.
func Listen(port int, state *gamepad.State, opts ...Option) (*Server, error) {
	ln, err := net.ListenTCP("tcp4", &net.TCPAddr{Port: port})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to bind tcp control port %d", port)
	}

	s := &Server{
		listener:    ln,
		state:       state,
		transitions: pipeline.NewBroadcaster[State]("tcp-control"),
	}
	for _, opt := range opts {
		opt(s)
	}
	// status starts at StateAwaitingClient; publish it so subscribers see it.
	s.transitions.Publish(StateAwaitingClient)
	return s, nil
}

// Run serves clients until Stop is called or ctx is done.
func (s *Server) Run(ctx context.Context, onPacket transport.PacketHandler) error {
	logger := util.GetLogger()
	logger.Info("TCP control server started", "addr", s.listener.Addr().String())
	defer logger.Info("TCP control server stopped", "packets", s.Packets())

	stop := context.AfterFunc(ctx, func() { s.Stop() })
	defer stop()

	buf := make([]byte, protocol.MaxFrameSize)
	for !s.stopped.Load() {
		conn, reader := s.current()
		if conn == nil {
			if err := s.accept(); err != nil {
				if s.stopped.Load() || transport.IsClosed(err) {
					return nil
				}
				logger.Warn("Failed to accept control client", "error", err)
				time.Sleep(acceptRetryDelay)
			}
			continue
		}

		if s.readTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}

		n, err := reader.Read(buf)
		if n > 0 {
			s.handle(buf[:n], conn.RemoteAddr(), onPacket)
		}
		if err == nil {
			continue
		}

		switch {
		case s.stopped.Load():
			return nil
		case transport.IsTimeout(err):
			// idle, not an error
		case errors.Is(err, io.EOF):
			logger.Info("Control client disconnected", "peer", conn.RemoteAddr().String(), "reason", ErrPeerDisconnected)
			s.dropConn()
			s.setState(StateAwaitingClient)
		default:
			logger.Error("Control connection failed", "peer", conn.RemoteAddr().String(), "error", err)
			s.setState(StateReconnecting)
			s.dropConn()
			s.setState(StateAwaitingClient)
		}
	}
	return nil
}

func (s *Server) accept() error {
	logger := util.GetLogger()
	logger.Info("Waiting for control client", "addr", s.listener.Addr().String())

	conn, err := s.listener.AcceptTCP()
	if err != nil {
		return err
	}

	if err := conn.SetNoDelay(true); err != nil {
		logger.Debug("SetNoDelay failed", "error", err)
	}
	if err := conn.SetKeepAlive(true); err != nil {
		logger.Debug("SetKeepAlive failed", "error", err)
	}

	s.mu.Lock()
	if s.stopped.Load() {
		s.mu.Unlock()
		conn.Close()
		return net.ErrClosed
	}
	s.conn = conn
	s.reader = bufio.NewReader(conn)
	s.mu.Unlock()

	s.connections.Add(1)
	s.setState(StateConnected)
	logger.Info("Control client connected", "peer", conn.RemoteAddr().String())
	return nil
}

func (s *Server) handle(data []byte, from net.Addr, onPacket transport.PacketHandler) {
	total := int(s.packets.Add(1))
	payload := make([]byte, len(data))
	copy(payload, data)

	if _, err := transport.Dispatch(payload, s.state); err != nil {
		util.GetLogger().Debug("Dropping control read", "peer", from.String(), "size", len(payload), "error", err)
		return
	}
	if onPacket != nil {
		onPacket(payload, from, total)
	}
}

func (s *Server) current() (*net.TCPConn, *bufio.Reader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn, s.reader
}

func (s *Server) dropConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = nil
	s.reader = nil
}

func (s *Server) setState(st State) {
	if State(s.status.Swap(int32(st))) == st {
		return
	}
	s.transitions.Publish(st)
}

// Stop closes the listener and the active connection.
func (s *Server) Stop() error {
	if s.stopped.Swap(true) {
		return nil
	}
	s.dropConn()
	s.transitions.Close()
	return s.listener.Close()
}

// State returns the current connection state.
func (s *Server) State() State {
	return State(s.status.Load())
}

// Transitions publishes every state change.
func (s *Server) Transitions() *pipeline.Broadcaster[State] {
	return s.transitions
}

// Packets returns the number of reads handled across all connections.
func (s *Server) Packets() int {
	return int(s.packets.Load())
}

// Connections returns how many clients have been accepted.
func (s *Server) Connections() int {
	return int(s.connections.Load())
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
