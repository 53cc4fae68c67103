package streamer

import (
	"bytes"
	"encoding/binary"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/pkg/errors"
)

var (
	// StartCode4 is the Annex-B delimiter put in front of every NAL unit.
	StartCode4 = []byte{0x00, 0x00, 0x00, 0x01}
	startCode3 = []byte{0x00, 0x00, 0x01}
)

// lengthPrefixSize is the size of the big-endian length in front of each
// record in encoder output.
const lengthPrefixSize = 4

// ErrEncoderOutputTruncated is returned when a record's declared length runs
// past the end of the buffer. Records before it are still valid.
var ErrEncoderOutputTruncated = errors.New("encoder output truncated")

// HasStartCode checks if data begins with a start code
func HasStartCode(data []byte) bool {
	return bytes.HasPrefix(data, StartCode4) || bytes.HasPrefix(data, startCode3)
}

// WithStartCode returns a new slice holding the 4-byte start code followed by
// payload.
func WithStartCode(payload []byte) []byte {
	out := make([]byte, 0, len(StartCode4)+len(payload))
	out = append(out, StartCode4...)
	return append(out, payload...)
}

// ParameterSetNAL prepares a codec parameter set for sending. Encoders
// disagree on whether these already carry a delimiter, so one is only added
// when missing; a 3-byte delimiter is widened to 4 bytes.
func ParameterSetNAL(ps []byte) []byte {
	switch {
	case bytes.HasPrefix(ps, StartCode4):
		return append([]byte(nil), ps...)
	case bytes.HasPrefix(ps, startCode3):
		return WithStartCode(ps[len(startCode3):])
	default:
		return WithStartCode(ps)
	}
}

// ConvertToAnnexB splits length-prefixed encoder output into start-code
// prefixed NAL units. Parsing stops when fewer than 4 bytes remain or a
// declared length overruns the buffer; in the latter case the units parsed
// so far are returned with ErrEncoderOutputTruncated.
func ConvertToAnnexB(data []byte) ([][]byte, error) {
	var nalUnits [][]byte
	offset := 0

	for offset+lengthPrefixSize <= len(data) {
		declared := binary.BigEndian.Uint32(data[offset : offset+lengthPrefixSize])
		offset += lengthPrefixSize

		// Compared before converting so a huge prefix cannot wrap int on 32-bit.
		if uint64(declared) > uint64(len(data)-offset) {
			return nalUnits, errors.Wrapf(ErrEncoderOutputTruncated,
				"record at %d declares %d bytes, %d left", offset-lengthPrefixSize, declared, len(data)-offset)
		}
		length := int(declared)

		nalUnits = append(nalUnits, WithStartCode(data[offset:offset+length]))
		offset += length
	}

	return nalUnits, nil
}

// NALType returns the type of a start-code prefixed NAL unit.
func NALType(nal []byte) (h264.NALUType, bool) {
	payload := nal
	switch {
	case bytes.HasPrefix(nal, StartCode4):
		payload = nal[len(StartCode4):]
	case bytes.HasPrefix(nal, startCode3):
		payload = nal[len(startCode3):]
	}
	if len(payload) == 0 {
		return 0, false
	}
	return h264.NALUType(payload[0] & 0x1F), true
}

// findStartCode returns the index of the first start code at or after from
// and its length (3 or 4), or -1.
func findStartCode(data []byte, from int) (int, int) {
	if from >= len(data) {
		return -1, 0
	}
	i := bytes.Index(data[from:], startCode3)
	if i < 0 {
		return -1, 0
	}
	pos := from + i
	if pos > from && data[pos-1] == 0x00 {
		return pos - 1, len(StartCode4)
	}
	return pos, len(startCode3)
}

// ScanNALUnits is a bufio.SplitFunc over an Annex-B byte stream. Each token
// is one NAL unit without its start code. A unit is complete once the next
// start code shows up, or at EOF. Bytes before the first start code are
// skipped.
func ScanNALUnits(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start, scLen := findStartCode(data, 0)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep a tail that may be the beginning of a split start code.
		if len(data) > len(StartCode4) {
			return len(data) - len(StartCode4) + 1, nil, nil
		}
		return 0, nil, nil
	}

	payloadStart := start + scLen
	next, _ := findStartCode(data, payloadStart)
	if next < 0 {
		if !atEOF {
			return start, nil, nil
		}
		nal := bytes.TrimRight(data[payloadStart:], "\x00")
		if len(nal) == 0 {
			return len(data), nil, nil
		}
		return len(data), nal, nil
	}

	nal := bytes.TrimRight(data[payloadStart:next], "\x00")
	if len(nal) == 0 {
		return next, nil, nil
	}
	return next, nal, nil
}
