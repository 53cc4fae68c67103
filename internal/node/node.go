// Package node assembles the device side of the link from Settings: the
// inbound control channel, the control sender, the enabled video streamers
// and the feeds observed by the status server.
package node

import (
	"context"
	"net"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/tg/roverlink/config"
	"github.com/tg/roverlink/internal/capture"
	"github.com/tg/roverlink/internal/gamepad"
	"github.com/tg/roverlink/internal/pipeline"
	"github.com/tg/roverlink/internal/stats"
	"github.com/tg/roverlink/internal/streamer"
	"github.com/tg/roverlink/internal/transport"
	"github.com/tg/roverlink/internal/transport/tcp"
	"github.com/tg/roverlink/internal/transport/udp"
	"github.com/tg/roverlink/internal/util"
)

// controlChannel is what the UDP receiver and the TCP server have in common.
type controlChannel interface {
	Run(ctx context.Context, onPacket transport.PacketHandler) error
	Stop() error
	Packets() int
}

// namedStreamer pairs a streamer with its counters.
type namedStreamer struct {
	name string
	streamer.Streamer
	streamer.Reporter
}

// Status is the device state shown to the operator.
type Status struct {
	PhoneIP         string           `json:"phoneIp"`
	Transport       string           `json:"transport"`
	TCPState        string           `json:"tcpState,omitempty"`
	PacketsReceived int              `json:"packetsReceived"`
	Gamepad         gamepad.Snapshot `json:"gamepad"`
	Control         Command          `json:"control"`
	Streams         []stats.Snapshot `json:"streams"`
}

// Node owns every device-side component.
type Node struct {
	settings config.Settings
	phoneIP  string

	state      *gamepad.State
	channel    controlChannel
	tcpServer  *tcp.Server
	sender     *udp.Sender
	controller *Controller
	heading    *Heading
	streamers  []namedStreamer
	closers    []func() error

	preview *pipeline.Broadcaster[[]byte]

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New binds sockets and builds the components selected by s. Nothing runs
// until Start.
func New(s config.Settings) (*Node, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	n := &Node{
		settings: s,
		phoneIP:  udp.LocalIPv4(),
		state:    gamepad.NewState(),
		preview:  pipeline.NewBroadcaster[[]byte]("preview"),
	}

	if err := n.buildControl(); err != nil {
		n.close()
		return nil, err
	}
	if err := n.buildStreamers(); err != nil {
		n.close()
		return nil, err
	}
	return n, nil
}

func (n *Node) buildControl() error {
	s := n.settings

	switch s.Control.Transport {
	case "ws":
		return errors.New("control.transport ws is only supported by relay")
	case "tcp":
		srv, err := tcp.Listen(s.Control.TCPPort, n.state)
		if err != nil {
			return err
		}
		n.channel, n.tcpServer = srv, srv
	default:
		rx, err := udp.Listen(s.Control.ReceivePort, n.state)
		if err != nil {
			return err
		}
		n.channel = rx
	}
	n.closers = append(n.closers, n.channel.Stop)

	sender, err := udp.NewSender(s.PeerIP, s.Control.SendPort)
	if err != nil {
		return err
	}
	n.sender = sender
	n.closers = append(n.closers, sender.Close)

	var rotation RotationProvider
	if s.ControlByRotation {
		n.heading = &Heading{}
		rotation = n.heading
	}
	n.controller = NewController(sender, rotation, s.Control.Interval, nil)
	return nil
}

func (n *Node) buildStreamers() error {
	s := n.settings
	v := s.Video

	if (s.EnableMJPEG || s.EnableH264) && v.Input == "" {
		return errors.New("video.input must be set when a video stream is enabled")
	}

	if s.EnableMJPEG {
		out, err := udp.NewSender(s.PeerIP, v.MJPEGPort)
		if err != nil {
			return err
		}
		n.closers = append(n.closers, out.Close)

		source := capture.NewMJPEGCapture(capture.MJPEGOptions{
			Input:     v.Input,
			Width:     v.Width,
			Height:    v.Height,
			Framerate: v.Framerate,
		})
		st := streamer.NewMJPEGStreamer(out, source, streamer.MJPEGOptions{
			MTU:     v.MTU,
			Preview: n.preview.Publish,
		})
		n.streamers = append(n.streamers, namedStreamer{"mjpeg", st, st})
	}

	if s.EnableH264 {
		out, err := udp.NewSender(s.PeerIP, v.H264Port)
		if err != nil {
			return err
		}
		n.closers = append(n.closers, out.Close)

		st := streamer.NewH264Streamer(out, h264Source(v), streamer.H264Options{
			MTU:       v.MTU,
			QueueSize: v.QueueSize,
		})
		n.streamers = append(n.streamers, namedStreamer{"h264", st, st})
	}
	return nil
}

// h264Source replays raw .h264 files directly and encodes anything else
// with ffmpeg.
func h264Source(v config.VideoSettings) streamer.EncoderSource {
	switch strings.ToLower(filepath.Ext(v.Input)) {
	case ".h264", ".264":
		return capture.NewH264File(v.Input, v.Framerate, true)
	}
	return capture.NewH264Encoder(capture.H264Options{
		Input:     v.Input,
		Width:     v.Width,
		Height:    v.Height,
		Framerate: v.Framerate,
		Bitrate:   v.Bitrate,
	})
}

// Start launches every component.
func (n *Node) Start(ctx context.Context) error {
	logger := util.GetLogger()

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.channel.Run(ctx, n.onControlPacket); err != nil {
			logger.Error("Control channel failed", "error", err)
		}
	}()

	if n.tcpServer != nil {
		id, ch := n.tcpServer.Transitions().Subscribe(4)
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			defer n.tcpServer.Transitions().Unsubscribe(id)
			for {
				select {
				case <-ctx.Done():
					return
				case st, ok := <-ch:
					if !ok {
						return
					}
					logger.Info("Control connection state", "state", st)
				}
			}
		}()
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.controller.Run(ctx)
	}()

	for _, s := range n.streamers {
		if err := s.Start(ctx); err != nil {
			logger.Error("Failed to start streamer", "stream", s.name, "error", err)
			continue
		}
	}

	logger.Info("Node started", "phone_ip", n.phoneIP, "peer", n.settings.PeerIP,
		"transport", n.settings.Control.Transport, "streams", len(n.streamers))
	return nil
}

func (n *Node) onControlPacket(data []byte, from net.Addr, total int) {
	util.GetLogger().Debug("Control packet", "from", from.String(), "size", len(data), "total", total)
}

// Stop stops every component and releases the sockets.
func (n *Node) Stop() error {
	n.mu.Lock()
	cancel := n.cancel
	n.cancel = nil
	n.mu.Unlock()

	if cancel == nil {
		n.close()
		return nil
	}
	cancel()

	for _, s := range n.streamers {
		if err := s.Stop(); err != nil && !errors.Is(err, streamer.ErrNotStarted) {
			util.GetLogger().Warn("Failed to stop streamer", "stream", s.name, "error", err)
		}
	}
	n.close()
	n.wg.Wait()
	n.preview.Close()
	n.state.Updates().Close()
	return nil
}

func (n *Node) close() {
	for i := len(n.closers) - 1; i >= 0; i-- {
		n.closers[i]()
	}
	n.closers = nil
}

// Status returns the current device state.
func (n *Node) Status() Status {
	st := Status{
		PhoneIP:         n.phoneIP,
		Transport:       n.settings.Control.Transport,
		PacketsReceived: n.channel.Packets(),
		Gamepad:         n.state.Snapshot(),
		Control:         n.controller.Last(),
		Streams:         make([]stats.Snapshot, 0, len(n.streamers)),
	}
	if n.tcpServer != nil {
		st.TCPState = n.tcpServer.State().String()
	}
	for _, s := range n.streamers {
		st.Streams = append(st.Streams, s.Stats())
	}
	return st
}

// SetControl records the operator's accel and direction.
func (n *Node) SetControl(accel, direction int) {
	n.controller.SetInput(accel, direction)
}

// SetAzimuth feeds the device heading. It reports false when steering by
// rotation is disabled.
func (n *Node) SetAzimuth(azimuth float64) bool {
	if n.heading == nil {
		return false
	}
	n.heading.Set(azimuth)
	return true
}

// Gamepad exposes the gamepad snapshot feed.
func (n *Node) Gamepad() *pipeline.Broadcaster[gamepad.Snapshot] {
	return n.state.Updates()
}

// Preview exposes the frames handed to the MJPEG streamer.
func (n *Node) Preview() *pipeline.Broadcaster[[]byte] {
	return n.preview
}
