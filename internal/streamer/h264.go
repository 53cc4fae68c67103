package streamer

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

	"github.com/tg/roverlink/internal/packetizer"
	"github.com/tg/roverlink/internal/stats"
	"github.com/tg/roverlink/internal/util"
)

// EncoderEvent is one item drained from a hardware or software encoder.
type EncoderEvent interface {
	encoderEvent()
}

// FormatChanged carries the codec parameter sets (SPS, then PPS) the encoder
// settled on.
type FormatChanged struct {
	ParameterSets [][]byte
}

// BufferInfo locates the valid bytes of an output buffer.
type BufferInfo struct {
	Offset             int
	Size               int
	PresentationTimeUs int64
	KeyFrame           bool
}

// OutputAvailable carries one encoder output buffer of length-prefixed NAL
// records.
type OutputAvailable struct {
	Buffer []byte
	Info   BufferInfo
}

func (FormatChanged) encoderEvent()   {}
func (OutputAvailable) encoderEvent() {}

// Payload returns the window of Buffer described by Info, clipped to the
// buffer. The second result is false when Info pointed outside the buffer.
func (o OutputAvailable) Payload() ([]byte, bool) {
	start, end := o.Info.Offset, o.Info.Offset+o.Info.Size
	if start < 0 || o.Info.Size < 0 || start > len(o.Buffer) {
		return nil, false
	}
	if end > len(o.Buffer) {
		return o.Buffer[start:], false
	}
	return o.Buffer[start:end], true
}

// EncoderSource produces encoder events until ctx ends or it runs dry.
// It runs on its own goroutine and hands every event to submit.
type EncoderSource interface {
	Run(ctx context.Context, submit func(EncoderEvent)) error
}

// H264Options configures an H264Streamer.
type H264Options struct {
	// MTU is the maximum datagram payload. Defaults to packetizer.DefaultMTU.
	MTU int
	// QueueSize bounds the events waiting for the drain worker.
	QueueSize int
	// OnNALSent runs after each NAL unit has been fully sent.
	OnNALSent func(nal []byte)
	// Stats collects counters; a fresh set is created when nil.
	Stats *stats.StreamStats
}

// H264Streamer sends encoder output as Annex-B NAL units. Output that arrives
// before the first FormatChanged is dropped because a decoder cannot use it
// without parameter sets.
type H264Streamer struct {
	w         io.Writer
	source    EncoderSource
	mtu       int
	onNALSent func([]byte)
	stats     *stats.StreamStats

	queue       chan EncoderEvent
	headersSent atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewH264Streamer creates a streamer writing datagrams to w. source may be
// nil when events are pushed through Submit.
func NewH264Streamer(w io.Writer, source EncoderSource, opts H264Options) *H264Streamer {
	if opts.MTU <= 0 {
		opts.MTU = packetizer.DefaultMTU
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	if opts.Stats == nil {
		opts.Stats = stats.NewStreamStats("h264", nil)
	}
	return &H264Streamer{
		w:         w,
		source:    source,
		mtu:       opts.MTU,
		onNALSent: opts.OnNALSent,
		stats:     opts.Stats,
		queue:     make(chan EncoderEvent, opts.QueueSize),
	}
}

// Start launches the drain worker and, when configured, the encoder source.
func (s *H264Streamer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.drain(ctx)

	if s.source != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.source.Run(ctx, s.Submit); err != nil && ctx.Err() == nil {
				util.GetLogger().Error("H264 encoder source failed", "error", err)
			}
		}()
	}

	util.GetLogger().Info("H264 streamer started", "mtu", s.mtu, "queue", cap(s.queue))
	return nil
}

// Submit queues an event for the drain worker. It never blocks; when the
// queue is full the event is dropped and false is returned.
func (s *H264Streamer) Submit(ev EncoderEvent) bool {
	select {
	case s.queue <- ev:
		return true
	default:
		s.stats.RecordDrop()
		util.GetLogger().Warn("H264 event queue full, dropping event")
		return false
	}
}

func (s *H264Streamer) drain(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.queue:
			s.Process(ev)
		}
	}
}

// Process handles one encoder event synchronously.
func (s *H264Streamer) Process(ev EncoderEvent) {
	switch e := ev.(type) {
	case FormatChanged:
		s.sendParameterSets(e)
	case OutputAvailable:
		s.sendOutput(e)
	}
}

func (s *H264Streamer) sendParameterSets(e FormatChanged) {
	logger := util.GetLogger()
	for i, ps := range e.ParameterSets {
		if len(ps) == 0 {
			logger.Warn("Empty parameter set in format change", "index", i)
			continue
		}
		nal := ParameterSetNAL(ps)
		if err := s.sendNAL(nal); err != nil {
			logger.Warn("Failed to send parameter set", "index", i, "error", err)
			continue
		}
		if t, ok := NALType(nal); ok {
			logger.Debug("Parameter set sent", "type", t, "size", len(nal))
		}
	}
	s.headersSent.Store(true)
	logger.Info("H264 parameter sets sent", "count", len(e.ParameterSets))
}

func (s *H264Streamer) sendOutput(e OutputAvailable) {
	logger := util.GetLogger()

	if !s.headersSent.Load() {
		s.stats.RecordDrop()
		logger.Debug("Dropping encoder output before parameter sets", "size", e.Info.Size)
		return
	}

	payload, ok := e.Payload()
	if !ok {
		logger.Warn("Encoder buffer info out of range", "offset", e.Info.Offset, "size", e.Info.Size, "buffer", len(e.Buffer))
	}

	nals, err := ConvertToAnnexB(payload)
	if err != nil {
		s.stats.RecordError()
		logger.Warn("Discarding malformed encoder output tail", "error", err, "parsed", len(nals))
	}

	for _, nal := range nals {
		if err := s.sendNAL(nal); err != nil {
			logger.Warn("Failed to send NAL unit", "size", len(nal), "error", err)
			continue
		}
		s.stats.RecordFrame(0)
		if t, ok := NALType(nal); ok && t == h264.NALUTypeIDR {
			logger.Debug("Keyframe sent", "size", len(nal), "pts_us", e.Info.PresentationTimeUs)
		}
		if s.onNALSent != nil {
			s.onNALSent(nal)
		}
	}
}

// sendNAL packetizes one NAL unit without a terminator and counts its packets.
func (s *H264Streamer) sendNAL(nal []byte) error {
	sent, err := packetizer.Send(s.w, nal, s.mtu, false)
	if err != nil {
		s.stats.RecordPackets(sent)
		s.stats.RecordError()
		return err
	}
	s.stats.RecordPackets(sent)
	return nil
}

// HeadersSent reports whether parameter sets went out at least once.
func (s *H264Streamer) HeadersSent() bool {
	return s.headersSent.Load()
}

// Stop stops the worker and the encoder source. Queued events are discarded.
func (s *H264Streamer) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return ErrNotStarted
	}
	cancel()
	s.wg.Wait()

	util.GetLogger().Info("H264 streamer stopped", "nal_units", s.stats.Snapshot().Frames)
	return nil
}

// Stats returns the streamer's counters.
func (s *H264Streamer) Stats() stats.Snapshot {
	return s.stats.Snapshot()
}
