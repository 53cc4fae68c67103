// Package capture runs the external programs that feed the streamers: an
// ffmpeg process producing JPEG frames, or one producing an H264 elementary
// stream.
package capture

import (
	"context"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	procgroup "github.com/tg/roverlink/internal/proc_group"
	"github.com/tg/roverlink/internal/util"
)

// stopGrace is how long ffmpeg gets to exit after SIGTERM before it is killed.
const stopGrace = 2 * time.Second

// ffmpegBinary is the executable looked up on PATH.
var ffmpegBinary = "ffmpeg"

// process wraps one ffmpeg invocation whose stdout is consumed by the caller.
type process struct {
	name string
	args []string

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdout io.ReadCloser
	done   chan error
}

func newProcess(name string, args []string) *process {
	return &process{name: name, args: args}
}

// start launches ffmpeg and returns its stdout.
func (p *process) start(ctx context.Context) (io.Reader, error) {
	logger := util.GetLogger()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		return nil, errors.Errorf("%s: ffmpeg already running", p.name)
	}

	path, err := exec.LookPath(ffmpegBinary)
	if err != nil {
		return nil, errors.Wrap(err, "ffmpeg not found in PATH")
	}

	cmd := exec.Command(path, p.args...)
	procgroup.SetProcGrp(cmd)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get ffmpeg stdout")
	}
	if util.IsVerbose() {
		cmd.Stderr = util.NewLogWriter(logger.With("source", p.name), slog.LevelDebug)
	}

	if err := cmd.Start(); err != nil {
		stdout.Close()
		return nil, errors.Wrapf(err, "failed to start ffmpeg for %s", p.name)
	}

	p.cmd = cmd
	p.stdout = stdout
	p.done = make(chan error, 1)
	go func(done chan<- error) {
		done <- cmd.Wait()
	}(p.done)

	context.AfterFunc(ctx, func() { p.stop() })

	logger.Info("FFmpeg started", "source", p.name, "pid", cmd.Process.Pid)
	logger.Debug("FFmpeg arguments", "source", p.name, "args", p.args)
	return stdout, nil
}

// stop terminates ffmpeg, escalating to SIGKILL after stopGrace.
func (p *process) stop() error {
	logger := util.GetLogger()

	p.mu.Lock()
	cmd, done := p.cmd, p.done
	p.cmd, p.done = nil, nil
	p.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if err := procgroup.Terminate(cmd); err != nil {
		logger.Debug("Failed to signal ffmpeg", "source", p.name, "error", err)
	}

	select {
	case err := <-done:
		logger.Info("FFmpeg stopped", "source", p.name, "error", err)
		return nil
	case <-time.After(stopGrace):
		procgroup.Kill(cmd)
		<-done
		logger.Warn("FFmpeg force killed", "source", p.name)
		return nil
	}
}

// inputArgs picks the ffmpeg demuxer for an input. "lavfi:<graph>"
// selects a filter source such as testsrc, /dev/video* is read through
// v4l2, and anything else is treated as a file looped at native rate.
func inputArgs(input string) []string {
	switch {
	case strings.HasPrefix(input, "lavfi:"):
		return []string{"-re", "-f", "lavfi", "-i", strings.TrimPrefix(input, "lavfi:")}
	case strings.HasPrefix(input, "/dev/video"):
		return []string{"-f", "v4l2", "-i", input}
	default:
		return []string{"-re", "-stream_loop", "-1", "-i", input}
	}
}
