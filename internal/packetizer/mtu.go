// Package packetizer splits buffers into datagram-sized chunks.
package packetizer

import (
	"io"
	"iter"

	"github.com/pkg/errors"
)

// DefaultMTU is the chunk size used by both video streams.
const DefaultMTU = 1300

// ErrInvalidChunkSize is returned for a non-positive chunk size.
var ErrInvalidChunkSize = errors.New("chunk size must be positive")

// Chunks yields consecutive sub-slices of buf, each at most max bytes. Every
// chunk but the last is exactly max bytes. The chunks alias buf. Ranging over
// the sequence again starts from the beginning. A non-positive max yields
// nothing.
func Chunks(buf []byte, max int) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		if max <= 0 {
			return
		}
		for off := 0; off < len(buf); off += max {
			end := min(off+max, len(buf))
			if !yield(buf[off:end:end]) {
				return
			}
		}
	}
}

// Count returns how many chunks Chunks yields for n bytes.
func Count(n, max int) int {
	if max <= 0 || n <= 0 {
		return 0
	}
	return (n + max - 1) / max
}

// Send writes each chunk of buf as a separate Write call on w, in offset
// order. With terminate set, a zero-length write follows the last chunk to
// mark the end of a logical frame. It returns the number of writes made,
// terminator included.
func Send(w io.Writer, buf []byte, max int, terminate bool) (int, error) {
	if max <= 0 {
		return 0, ErrInvalidChunkSize
	}

	sent := 0
	for chunk := range Chunks(buf, max) {
		if _, err := w.Write(chunk); err != nil {
			return sent, errors.Wrapf(err, "failed to send chunk %d of %d", sent+1, Count(len(buf), max))
		}
		sent++
	}

	if terminate {
		if _, err := w.Write(nil); err != nil {
			return sent, errors.Wrap(err, "failed to send frame terminator")
		}
		sent++
	}
	return sent, nil
}
