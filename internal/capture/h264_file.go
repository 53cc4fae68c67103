package capture

import (
	"context"
	"os"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/tg/roverlink/internal/streamer"
	"github.com/tg/roverlink/internal/util"
)

// H264File replays a raw Annex-B file as if it came from an encoder, one
// picture per frame interval, looping at the end.
type H264File struct {
	path      string
	framerate int
	clock     clock.Clock
	loop      bool
}

// NewH264File creates a replay source. A framerate of zero disables pacing:
// events are submitted back to back and whatever the streamer queue cannot
// hold is dropped by Submit.
func NewH264File(path string, framerate int, loop bool) *H264File {
	return &H264File{path: path, framerate: framerate, clock: clock.RealClock{}, loop: loop}
}

// Run implements streamer.EncoderSource.
func (f *H264File) Run(ctx context.Context, submit func(streamer.EncoderEvent)) error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", f.path)
	}

	var au h264.AnnexB
	if err := au.Unmarshal(data); err != nil {
		return errors.Wrapf(err, "failed to parse %s as Annex-B", f.path)
	}
	util.GetLogger().Info("Replaying H264 file", "path", f.path, "nal_units", len(au), "loop", f.loop)

	var frame time.Duration
	if f.framerate > 0 {
		frame = time.Second / time.Duration(f.framerate)
	}

	for {
		var conv annexBConverter
		pictures := 0
		for _, nal := range au {
			if ctx.Err() != nil {
				return nil
			}
			ev := conv.push(nal)
			if ev == nil {
				continue
			}
			submit(ev)

			out, ok := ev.(streamer.OutputAvailable)
			if !ok || !isPicture(out) {
				continue
			}
			pictures++
			if frame > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-f.clock.After(frame):
				}
			}
		}
		if !f.loop || pictures == 0 || ctx.Err() != nil {
			return nil
		}
	}
}

// isPicture reports whether an output buffer holds a coded slice.
func isPicture(out streamer.OutputAvailable) bool {
	var records h264.AVCC
	if err := records.Unmarshal(out.Buffer); err != nil || len(records) == 0 || len(records[0]) == 0 {
		return false
	}
	switch h264.NALUType(records[0][0] & 0x1F) {
	case h264.NALUTypeIDR, h264.NALUTypeNonIDR:
		return true
	}
	return false
}
