// Package streamer turns camera and encoder output into MTU-sized datagrams.
//
// Two variants exist. MJPEGStreamer sends one JPEG per frame followed by an
// empty terminator datagram. H264Streamer rewrites encoder output into
// Annex-B NAL units and sends them without terminators; receivers find
// boundaries by scanning for start codes. A chunk lost inside a NAL is only
// recovered at the next start code.
package streamer

import (
	"context"

	"github.com/pkg/errors"

	"github.com/tg/roverlink/internal/stats"
)

// ErrNotStarted is returned when stopping a streamer that was never started.
var ErrNotStarted = errors.New("streamer not started")

// Streamer is a video pipeline that can be started and stopped.
type Streamer interface {
	Start(ctx context.Context) error
	Stop() error
}

// Reporter exposes a streamer's counters.
type Reporter interface {
	Stats() stats.Snapshot
}
