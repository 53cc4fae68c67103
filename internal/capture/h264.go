package capture

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strconv"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/pkg/errors"

	"github.com/tg/roverlink/internal/streamer"
	"github.com/tg/roverlink/internal/util"
)

// maxNALSize bounds a single NAL unit held by the scanner.
const maxNALSize = 2 << 20

// H264Options configures an H264Encoder.
type H264Options struct {
	Input     string
	Width     int
	Height    int
	Framerate int
	Bitrate   int
}

// H264Encoder runs ffmpeg as a baseline H264 encoder and turns its Annex-B
// output into encoder events: a FormatChanged whenever SPS or PPS change and
// one OutputAvailable per coded NAL unit, length-prefixed.
type H264Encoder struct {
	proc *process
}

// NewH264Encoder creates an encoder reading opts.Input.
func NewH264Encoder(opts H264Options) *H264Encoder {
	return &H264Encoder{proc: newProcess("h264", h264Args(opts))}
}

func h264Args(opts H264Options) []string {
	args := []string{"-hide_banner", "-loglevel", "warning"}
	args = append(args, inputArgs(opts.Input)...)
	args = append(args,
		"-an",
		"-vf", "scale="+strconv.Itoa(opts.Width)+":"+strconv.Itoa(opts.Height),
		"-r", strconv.Itoa(opts.Framerate),
		"-c:v", "libx264",
		"-profile:v", "baseline",
		"-preset", "ultrafast",
		"-tune", "zerolatency",
		"-b:v", strconv.Itoa(opts.Bitrate),
		// One keyframe per second.
		"-g", strconv.Itoa(opts.Framerate),
		"-bsf:v", "h264_mp4toannexb",
		"-f", "h264",
		"pipe:1",
	)
	return args
}

// Run starts ffmpeg and forwards events until its output ends or ctx is done.
func (e *H264Encoder) Run(ctx context.Context, submit func(streamer.EncoderEvent)) error {
	stdout, err := e.proc.start(ctx)
	if err != nil {
		return err
	}
	defer e.proc.stop()

	return ReadAnnexB(ctx, stdout, submit)
}

// ReadAnnexB converts an Annex-B byte stream into encoder events. It returns
// nil at EOF.
func ReadAnnexB(ctx context.Context, r io.Reader, submit func(streamer.EncoderEvent)) error {
	logger := util.GetLogger()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxNALSize)
	scanner.Split(streamer.ScanNALUnits)

	var conv annexBConverter
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		if ev := conv.push(bytes.Clone(scanner.Bytes())); ev != nil {
			submit(ev)
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "failed to read H264 stream")
	}
	logger.Info("H264 stream ended", "nal_units", conv.units)
	return nil
}

// annexBConverter tracks parameter sets across NAL units.
type annexBConverter struct {
	sps, pps []byte
	units    int
}

// push consumes one NAL unit (without start code) and returns the event it
// produces, if any.
func (c *annexBConverter) push(nal []byte) streamer.EncoderEvent {
	if len(nal) == 0 {
		return nil
	}
	c.units++

	typ := h264.NALUType(nal[0] & 0x1F)
	switch typ {
	case h264.NALUTypeSPS:
		if bytes.Equal(c.sps, nal) {
			return nil
		}
		c.sps = nal
		return c.formatChanged()

	case h264.NALUTypePPS:
		if bytes.Equal(c.pps, nal) {
			return nil
		}
		c.pps = nal
		return c.formatChanged()

	case h264.NALUTypeAccessUnitDelimiter:
		return nil
	}

	buf, err := h264.AVCC{nal}.Marshal()
	if err != nil {
		util.GetLogger().Warn("Failed to wrap NAL unit", "type", typ, "error", err)
		return nil
	}
	return streamer.OutputAvailable{
		Buffer: buf,
		Info: streamer.BufferInfo{
			Size:     len(buf),
			KeyFrame: typ == h264.NALUTypeIDR,
		},
	}
}

// formatChanged fires once both parameter sets are known.
func (c *annexBConverter) formatChanged() streamer.EncoderEvent {
	if c.sps == nil || c.pps == nil {
		return nil
	}
	return streamer.FormatChanged{
		ParameterSets: [][]byte{
			streamer.WithStartCode(c.sps),
			streamer.WithStartCode(c.pps),
		},
	}
}
