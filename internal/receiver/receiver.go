// Package receiver is the operator side of the video link. It listens for
// stream datagrams, rebuilds frames or NAL units and hands them to a sink.
package receiver

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync/atomic"

	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/tg/roverlink/internal/stats"
	"github.com/tg/roverlink/internal/streamer"
	"github.com/tg/roverlink/internal/transport"
	"github.com/tg/roverlink/internal/util"
)

// Codec selects how datagrams are reassembled.
type Codec string

const (
	CodecMJPEG Codec = "mjpeg"
	CodecH264  Codec = "h264"
)

// ParseCodec validates a codec name.
func ParseCodec(s string) (Codec, error) {
	switch Codec(s) {
	case CodecMJPEG, CodecH264:
		return Codec(s), nil
	}
	return "", errors.Errorf("unknown codec %q (want mjpeg or h264)", s)
}

// maxDatagram is large enough for any UDP payload.
const maxDatagram = 64 << 10

// Options configures a Receiver.
type Options struct {
	// Sink receives every JPEG frame, or every NAL unit prefixed with a
	// 4-byte start code, so the output plays with ffplay.
	Sink io.Writer
	// OnFrame runs for every complete JPEG or NAL unit.
	OnFrame func(data []byte)
	Clock   clock.PassiveClock
}

// Receiver reads one video stream from a UDP port.
type Receiver struct {
	conn    *net.UDPConn
	codec   Codec
	sink    io.Writer
	onFrame func([]byte)
	stats   *stats.StreamStats

	stopped atomic.Bool
}

// Listen binds the stream port.
func Listen(port int, codec Codec, opts Options) (*Receiver, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to bind %s stream port %d", codec, port)
	}
	return &Receiver{
		conn:    conn,
		codec:   codec,
		sink:    opts.Sink,
		onFrame: opts.OnFrame,
		stats:   stats.NewStreamStats(string(codec)+"-rx", opts.Clock),
	}, nil
}

// Run receives until Stop is called or ctx is done.
func (r *Receiver) Run(ctx context.Context) error {
	logger := util.GetLogger()
	logger.Info("Video receiver started", "codec", r.codec, "addr", r.conn.LocalAddr().String())

	stop := context.AfterFunc(ctx, func() { r.Stop() })
	defer stop()

	var (
		jpegs JPEGAssembler
		nals  NALAssembler
	)
	defer func() {
		if r.codec == CodecH264 {
			if nal := nals.Flush(); nal != nil {
				r.deliverNAL(nal)
			}
		}
		snap := r.stats.Snapshot()
		logger.Info("Video receiver stopped", "codec", r.codec, "frames", snap.Frames, "packets", snap.Packets,
			"corrupt", jpegs.Corrupt, "overflows", jpegs.Overflows)
	}()

	buf := make([]byte, maxDatagram)
	for {
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if r.stopped.Load() || transport.IsClosed(err) {
				return nil
			}
			if transport.IsTimeout(err) {
				continue
			}
			return errors.Wrap(err, "video receive failed")
		}
		r.stats.RecordPackets(1)

		switch r.codec {
		case CodecMJPEG:
			before := jpegs.Corrupt
			if frame, ok := jpegs.Push(buf[:n]); ok {
				r.deliver(frame, true)
			} else if jpegs.Corrupt > before {
				r.stats.RecordError()
			}
		case CodecH264:
			for _, nal := range nals.Push(buf[:n]) {
				r.deliverNAL(nal)
			}
		}
	}
}

func (r *Receiver) deliverNAL(nal []byte) {
	r.deliver(streamer.WithStartCode(nal), IsPicture(nal))
}

// deliver writes data to the sink and counts it as a frame when picture is
// set.
func (r *Receiver) deliver(data []byte, picture bool) {
	if r.sink != nil {
		if _, err := r.sink.Write(data); err != nil {
			r.stats.RecordError()
			util.GetLogger().Warn("Failed to write to sink", "codec", r.codec, "error", err)
		}
	}
	if r.onFrame != nil {
		r.onFrame(data)
	}
	if picture && r.stats.RecordFrame(0) {
		util.GetLogger().Debug("Receive rate", "codec", r.codec, "fps", r.stats.Snapshot().FPS)
	}
}

// Stop closes the socket, which unblocks Run.
func (r *Receiver) Stop() error {
	if r.stopped.Swap(true) {
		return nil
	}
	return r.conn.Close()
}

// Stats returns the receive counters. FPS counts JPEG frames or coded
// slices.
func (r *Receiver) Stats() stats.Snapshot {
	return r.stats.Snapshot()
}

// LocalAddr returns the bound address.
func (r *Receiver) LocalAddr() net.Addr {
	return r.conn.LocalAddr()
}

func (r *Receiver) String() string {
	return fmt.Sprintf("%s-receiver(%s)", r.codec, r.conn.LocalAddr())
}
