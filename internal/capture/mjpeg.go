package capture

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/tg/roverlink/internal/pipeline"
	"github.com/tg/roverlink/internal/util"
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// maxJPEGSize bounds a single frame held by the scanner.
const maxJPEGSize = 4 << 20

// ScanJPEG is a bufio.SplitFunc yielding complete JPEG images from a
// concatenated MJPEG stream. Anything between an end-of-image marker and the
// next start-of-image marker is discarded.
func ScanJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		if atEOF || len(data) == 0 {
			return len(data), nil, nil
		}
		// Keep the last byte, it may be the first half of a marker.
		return len(data) - 1, nil, nil
	}

	end := bytes.Index(data[start+len(jpegSOI):], jpegEOI)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}

	stop := start + len(jpegSOI) + end + len(jpegEOI)
	return stop, data[start:stop], nil
}

// MJPEGOptions configures an MJPEGCapture.
type MJPEGOptions struct {
	Input     string
	Width     int
	Height    int
	Framerate int
	// Quality is the ffmpeg -q:v value, 2 (best) to 31.
	Quality int
}

// MJPEGCapture runs ffmpeg to grab JPEG frames from Input. Only the newest
// frame is kept; frames the consumer did not pick up in time are dropped.
type MJPEGCapture struct {
	opts    MJPEGOptions
	proc    *process
	mailbox *pipeline.Mailbox[[]byte]

	mu   sync.Mutex
	done chan struct{}
}

// NewMJPEGCapture creates a capture for opts.Input. The input is handed to
// ffmpeg verbatim, so devices, files and test sources all work.
func NewMJPEGCapture(opts MJPEGOptions) *MJPEGCapture {
	if opts.Quality <= 0 {
		opts.Quality = 8
	}
	return &MJPEGCapture{
		opts:    opts,
		proc:    newProcess("mjpeg", mjpegArgs(opts)),
		mailbox: pipeline.NewMailbox[[]byte](),
	}
}

func mjpegArgs(opts MJPEGOptions) []string {
	args := []string{"-hide_banner", "-loglevel", "warning"}
	args = append(args, inputArgs(opts.Input)...)
	args = append(args,
		"-an",
		"-vf", fmt.Sprintf("scale=%d:%d", opts.Width, opts.Height),
		"-r", strconv.Itoa(opts.Framerate),
		"-c:v", "mjpeg",
		"-q:v", strconv.Itoa(opts.Quality),
		"-f", "mjpeg",
		"pipe:1",
	)
	return args
}

// Start launches ffmpeg and the frame reader.
func (c *MJPEGCapture) Start(ctx context.Context) error {
	stdout, err := c.proc.start(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go c.readFrames(stdout, done)
	return nil
}

func (c *MJPEGCapture) readFrames(r io.Reader, done chan struct{}) {
	logger := util.GetLogger()
	defer close(done)
	defer c.mailbox.Close()

	frames := 0
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256<<10), maxJPEGSize)
	scanner.Split(ScanJPEG)
	for scanner.Scan() {
		frame := bytes.Clone(scanner.Bytes())
		c.mailbox.Put(frame)
		frames++
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("MJPEG capture read failed", "error", err)
	}
	logger.Info("MJPEG capture ended", "frames", frames, "dropped", c.mailbox.Drops())
}

// Next returns the newest frame not yet consumed.
func (c *MJPEGCapture) Next(ctx context.Context) ([]byte, bool) {
	return c.mailbox.Take(ctx)
}

// Stop terminates ffmpeg and waits for the reader to finish.
func (c *MJPEGCapture) Stop() error {
	err := c.proc.stop()

	c.mu.Lock()
	done := c.done
	c.done = nil
	c.mu.Unlock()

	if done != nil {
		<-done
	}
	return err
}

// Dropped returns how many frames were replaced before being consumed.
func (c *MJPEGCapture) Dropped() uint64 {
	return c.mailbox.Drops()
}
