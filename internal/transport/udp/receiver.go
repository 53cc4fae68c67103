package udp

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/tg/roverlink/internal/gamepad"
	"github.com/tg/roverlink/internal/protocol"
	"github.com/tg/roverlink/internal/transport"
	"github.com/tg/roverlink/internal/util"
)

// Receiver listens for control frames on a fixed local port.
type Receiver struct {
	conn  *net.UDPConn
	state *gamepad.State

	packets   atomic.Int64
	malformed atomic.Int64
	stopped   atomic.Bool
}

// Listen binds the receiving socket. Gamepad reports are applied to state.
func Listen(port int, state *gamepad.State) (*Receiver, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to bind udp control port %d", port)
	}
	return &Receiver{conn: conn, state: state}, nil
}

// Run blocks receiving datagrams until Stop is called or ctx is done. For
// each datagram the packet count is incremented, the frame is dispatched and
// onPacket is invoked. A stop is not reported as an error.
func (r *Receiver) Run(ctx context.Context, onPacket transport.PacketHandler) error {
	logger := util.GetLogger()
	logger.Info("UDP control receiver started", "addr", r.conn.LocalAddr().String())
	defer logger.Info("UDP control receiver stopped", "packets", r.Packets())

	stop := context.AfterFunc(ctx, func() { r.Stop() })
	defer stop()

	buf := make([]byte, protocol.MaxFrameSize)
	for {
		n, from, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if r.stopped.Load() || transport.IsClosed(err) {
				logger.Debug("UDP control socket closed", "error", err)
				return nil
			}
			if transport.IsTimeout(err) {
				continue
			}
			return errors.Wrap(err, "udp control receive failed")
		}

		total := int(r.packets.Add(1))
		data := make([]byte, n)
		copy(data, buf[:n])

		if _, err := transport.Dispatch(data, r.state); err != nil {
			r.malformed.Add(1)
			logger.Debug("Dropping control datagram", "from", from.String(), "size", n, "error", err)
			continue
		}

		if onPacket != nil {
			onPacket(data, from, total)
		}
	}
}

// Stop closes the socket, which unblocks Run.
func (r *Receiver) Stop() error {
	if r.stopped.Swap(true) {
		return nil
	}
	return r.conn.Close()
}

// Packets returns the number of datagrams received so far.
func (r *Receiver) Packets() int {
	return int(r.packets.Load())
}

// Malformed returns how many datagrams were too short for their tag.
func (r *Receiver) Malformed() int {
	return int(r.malformed.Load())
}

// LocalAddr returns the bound address.
func (r *Receiver) LocalAddr() net.Addr {
	return r.conn.LocalAddr()
}

// String describes the receiver for logs.
func (r *Receiver) String() string {
	return fmt.Sprintf("udp-control(%s)", r.conn.LocalAddr())
}
