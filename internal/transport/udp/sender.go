// Package udp implements the datagram control channel and the datagram
// sender used by the video streams.
package udp

import (
	"fmt"
	"net"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"

	"github.com/tg/roverlink/internal/protocol"
	"github.com/tg/roverlink/internal/util"
)

// lowDelayTOS is IPTOS_LOWDELAY.
const lowDelayTOS = 0x10

// Sender writes datagrams to one fixed remote endpoint. Every Write is one
// datagram; a zero-length Write sends an empty datagram.
type Sender struct {
	conn *net.UDPConn
}

// NewSender connects a datagram socket to ip:port.
func NewSender(ip string, port int) (*Sender, error) {
	raddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(ip, fmt.Sprint(port)))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve %s:%d", ip, port)
	}

	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open udp sender to %s", raddr)
	}

	if err := ipv4.NewConn(conn).SetTOS(lowDelayTOS); err != nil {
		util.GetLogger().Debug("Could not set low-delay TOS", "remote", raddr.String(), "error", err)
	}

	return &Sender{conn: conn}, nil
}

// Write sends p as a single datagram.
func (s *Sender) Write(p []byte) (int, error) {
	return s.conn.Write(p)
}

// SendControl sends one remote command frame. Loss is accepted; there is no
// retry.
func (s *Sender) SendControl(accel, direction int) error {
	if _, err := s.conn.Write(protocol.EncodeRemote(accel, direction)); err != nil {
		return errors.Wrap(err, "failed to send control frame")
	}
	return nil
}

// RemoteAddr returns the fixed destination.
func (s *Sender) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Close releases the socket.
func (s *Sender) Close() error {
	return s.conn.Close()
}
