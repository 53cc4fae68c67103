// Package transport holds what the UDP and TCP control channels share: the
// per-packet callback and the inbound dispatch rule.
package transport

import (
	"net"
	"os"

	"github.com/pkg/errors"

	"github.com/tg/roverlink/internal/gamepad"
	"github.com/tg/roverlink/internal/protocol"
)

// PacketHandler is invoked once per accepted inbound control packet with the
// raw bytes, the sender and the channel's running packet count.
type PacketHandler func(data []byte, from net.Addr, total int)

// Dispatch decodes data and applies gamepad reports to state. Frames of any
// other kind decode fine and are left to the handler.
func Dispatch(data []byte, state *gamepad.State) (protocol.ControlFrame, error) {
	frame, err := protocol.DecodeControl(data)
	if err != nil {
		return protocol.ControlFrame{}, err
	}
	if state != nil {
		state.Apply(frame)
	}
	return frame, nil
}

// IsTimeout reports whether err is a read deadline expiry.
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsClosed reports whether err comes from using a socket after Close.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
