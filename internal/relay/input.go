package relay

import (
	"bufio"
	"context"
	"io"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/tg/roverlink/internal/gamepad"
	"github.com/tg/roverlink/internal/util"
)

// InputSource returns the most recent controller poll.
type InputSource interface {
	Latest() (gamepad.Input, bool)
}

// LineReader reads newline-delimited JSON polls, as printed by an external
// HID reader, and keeps only the newest.
type LineReader struct {
	latest  atomic.Pointer[gamepad.Input]
	lines   atomic.Int64
	invalid atomic.Int64
}

// Run consumes r until EOF or ctx is done. ctx only interrupts between lines;
// closing r is what unblocks a pending read.
func (l *LineReader) Run(ctx context.Context, r io.Reader) error {
	logger := util.GetLogger()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		l.lines.Add(1)

		in, err := gamepad.ParseInput(line)
		if err != nil {
			l.invalid.Add(1)
			logger.Debug("Skipping input line", "error", err)
			continue
		}
		l.latest.Store(&in)
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "failed to read gamepad input")
	}
	return nil
}

// Latest implements InputSource.
func (l *LineReader) Latest() (gamepad.Input, bool) {
	in := l.latest.Load()
	if in == nil {
		return gamepad.Input{}, false
	}
	return *in, true
}

// Lines returns the number of non-empty lines read.
func (l *LineReader) Lines() int {
	return int(l.lines.Load())
}

// Invalid returns the number of lines that failed to parse.
func (l *LineReader) Invalid() int {
	return int(l.invalid.Load())
}
