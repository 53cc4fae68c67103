package receiver

import (
	"bytes"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

	"github.com/tg/roverlink/internal/streamer"
)

// MaxFrameSize caps a reassembled JPEG. A frame growing past it means the
// terminator was lost and the buffer is reset.
const MaxFrameSize = 4 << 20

// JPEGAssembler rebuilds JPEG frames from MJPEG datagrams. Chunks accumulate
// until a zero-length datagram closes the frame.
type JPEGAssembler struct {
	buf bytes.Buffer

	// Corrupt counts frames that did not start with a JPEG SOI marker,
	// typically because a chunk was lost.
	Corrupt int
	// Overflows counts buffers discarded for exceeding MaxFrameSize.
	Overflows int
}

// Push consumes one datagram and returns a complete frame when p is the
// terminator. Empty frames are never returned.
func (a *JPEGAssembler) Push(p []byte) ([]byte, bool) {
	if len(p) > 0 {
		if a.buf.Len()+len(p) > MaxFrameSize {
			a.buf.Reset()
			a.Overflows++
		}
		a.buf.Write(p)
		return nil, false
	}

	if a.buf.Len() == 0 {
		return nil, false
	}
	frame := bytes.Clone(a.buf.Bytes())
	a.buf.Reset()

	if !bytes.HasPrefix(frame, []byte{0xFF, 0xD8}) {
		a.Corrupt++
		return nil, false
	}
	return frame, true
}

// NALAssembler rebuilds NAL units from H264 datagrams. Datagram boundaries
// carry no meaning; units are delimited by start codes only, so a unit is
// released once the next start code arrives.
type NALAssembler struct {
	buf []byte
}

// Push appends p and returns every NAL unit (without start code) completed
// by it.
func (a *NALAssembler) Push(p []byte) [][]byte {
	a.buf = append(a.buf, p...)

	var out [][]byte
	for {
		advance, nal, _ := streamer.ScanNALUnits(a.buf, false)
		if advance == 0 {
			break
		}
		if nal != nil {
			out = append(out, bytes.Clone(nal))
		}
		a.buf = a.buf[advance:]
	}

	if len(a.buf) == 0 {
		a.buf = nil
	} else if cap(a.buf) > 4*len(a.buf) && cap(a.buf) > 64<<10 {
		a.buf = bytes.Clone(a.buf)
	}
	return out
}

// Flush returns the unit still buffered, if any.
func (a *NALAssembler) Flush() []byte {
	_, nal, _ := streamer.ScanNALUnits(a.buf, true)
	a.buf = nil
	if nal == nil {
		return nil
	}
	return bytes.Clone(nal)
}

// IsPicture reports whether nal carries a coded slice.
func IsPicture(nal []byte) bool {
	if len(nal) == 0 {
		return false
	}
	switch h264.NALUType(nal[0] & 0x1F) {
	case h264.NALUTypeIDR, h264.NALUTypeNonIDR:
		return true
	}
	return false
}
