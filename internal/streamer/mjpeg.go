package streamer

import (
	"context"
	"io"
	"sync"

	"github.com/tg/roverlink/internal/packetizer"
	"github.com/tg/roverlink/internal/stats"
	"github.com/tg/roverlink/internal/util"
)

// FrameSource delivers compressed frames one at a time. Next blocks until a
// frame is ready and returns false once the source is exhausted or ctx ends.
// Dropping frames the streamer cannot keep up with is the source's job.
type FrameSource interface {
	Start(ctx context.Context) error
	Next(ctx context.Context) ([]byte, bool)
	Stop() error
}

// MJPEGOptions configures an MJPEGStreamer.
type MJPEGOptions struct {
	// MTU is the maximum datagram payload. Defaults to packetizer.DefaultMTU.
	MTU int
	// Preview receives every frame before it is sent, for local display.
	Preview func(jpeg []byte)
	// Stats collects counters; a fresh set is created when nil.
	Stats *stats.StreamStats
}

// MJPEGStreamer sends each JPEG as a run of chunks plus one empty terminator
// datagram.
type MJPEGStreamer struct {
	w       io.Writer
	source  FrameSource
	mtu     int
	preview func([]byte)
	stats   *stats.StreamStats

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMJPEGStreamer creates a streamer writing datagrams to w. source may be
// nil when frames are pushed through HandleFrame directly.
func NewMJPEGStreamer(w io.Writer, source FrameSource, opts MJPEGOptions) *MJPEGStreamer {
	if opts.MTU <= 0 {
		opts.MTU = packetizer.DefaultMTU
	}
	if opts.Stats == nil {
		opts.Stats = stats.NewStreamStats("mjpeg", nil)
	}
	return &MJPEGStreamer{
		w:       w,
		source:  source,
		mtu:     opts.MTU,
		preview: opts.Preview,
		stats:   opts.Stats,
	}
}

// Start starts the frame source and the send loop.
func (s *MJPEGStreamer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return nil
	}
	if s.source == nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	if err := s.source.Start(ctx); err != nil {
		cancel()
		return err
	}

	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)

	util.GetLogger().Info("MJPEG streamer started", "mtu", s.mtu)
	return nil
}

func (s *MJPEGStreamer) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		frame, ok := s.source.Next(ctx)
		if !ok {
			return
		}
		s.HandleFrame(frame)
	}
}

// HandleFrame previews, packetizes and sends one frame, then updates the
// counters. A send failure is counted and logged; the next frame is sent
// normally.
func (s *MJPEGStreamer) HandleFrame(jpeg []byte) error {
	if s.preview != nil {
		s.preview(jpeg)
	}

	sent, err := packetizer.Send(s.w, jpeg, s.mtu, true)
	if err != nil {
		s.stats.RecordPackets(sent)
		s.stats.RecordError()
		util.GetLogger().Warn("Failed to send MJPEG frame", "size", len(jpeg), "sent", sent, "error", err)
		return err
	}

	if s.stats.RecordFrame(sent) {
		snap := s.stats.Snapshot()
		util.GetLogger().Debug("MJPEG rate", "fps", snap.FPS, "frames", snap.Frames, "packets", snap.Packets)
	}
	return nil
}

// Stop stops the send loop and the source.
func (s *MJPEGStreamer) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return ErrNotStarted
	}

	cancel()
	err := s.source.Stop()
	<-done

	util.GetLogger().Info("MJPEG streamer stopped", "frames", s.stats.Snapshot().Frames)
	return err
}

// Stats returns the streamer's counters.
func (s *MJPEGStreamer) Stats() stats.Snapshot {
	return s.stats.Snapshot()
}
