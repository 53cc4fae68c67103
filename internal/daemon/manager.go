// Package daemon tracks a background "roverlink serve" through a PID file in
// the roverlink home directory and the node's status server.
package daemon

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/tg/roverlink/internal/util"
)

// EnvDaemon is set in the environment of a detached serve process.
const EnvDaemon = "ROVERLINK_DAEMON"

var (
	ErrAlreadyRunning = errors.New("roverlink serve is already running")
	ErrNotRunning     = errors.New("roverlink serve is not running")
)

const (
	healthPollInterval = 250 * time.Millisecond
	healthPollAttempts = 20
	stopTimeout        = 5 * time.Second
)

// Manager handles the serve process lifecycle
type Manager struct {
	home      string
	statusURL string
	client    *http.Client
}

// NewManager creates a manager keeping its files under home and probing the
// status server listening on statusAddr.
func NewManager(home, statusAddr string) *Manager {
	return &Manager{
		home:      home,
		statusURL: StatusURL(statusAddr),
		client:    &http.Client{Timeout: 2 * time.Second},
	}
}

// StatusURL turns a listen address into a URL reachable from this host.
// Wildcard and empty hosts map to the loopback address.
func StatusURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// PIDFile returns the path to the PID file
func (m *Manager) PIDFile() string {
	return filepath.Join(m.home, "serve.pid")
}

// LogFile is where a detached serve writes its output.
func (m *Manager) LogFile() string {
	return filepath.Join(m.home, "serve.log")
}

// WritePID records the current process as the running serve.
func (m *Manager) WritePID() error {
	if err := os.MkdirAll(m.home, 0o755); err != nil {
		return errors.Wrap(err, "failed to create roverlink home")
	}
	return os.WriteFile(m.PIDFile(), []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// RemovePID deletes the PID file if it still names this process.
func (m *Manager) RemovePID() {
	if pid, err := m.ReadPID(); err == nil && pid == os.Getpid() {
		os.Remove(m.PIDFile())
	}
}

// ReadPID returns the PID recorded in the PID file.
func (m *Manager) ReadPID() (int, error) {
	data, err := os.ReadFile(m.PIDFile())
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, errors.Wrap(err, "invalid PID file")
	}
	return pid, nil
}

// IsRunning reports whether a serve process is alive and answering. A PID
// file left behind by a dead process is removed.
func (m *Manager) IsRunning(ctx context.Context) bool {
	if pid, err := m.ReadPID(); err == nil {
		if isProcessAlive(pid) && m.Healthy(ctx) {
			return true
		}
		if !isProcessAlive(pid) {
			os.Remove(m.PIDFile())
		}
	}
	return m.Healthy(ctx)
}

// Healthy checks if the status server is responding.
func (m *Manager) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.statusURL+"/api/version", nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Start launches the current executable with args in the background, its
// output appended to LogFile, and waits for the status server to answer.
func (m *Manager) Start(ctx context.Context, args []string) (int, error) {
	logger := util.GetLogger()

	if m.IsRunning(ctx) {
		return 0, ErrAlreadyRunning
	}
	if err := os.MkdirAll(m.home, 0o755); err != nil {
		return 0, errors.Wrap(err, "failed to create roverlink home")
	}

	logFd, err := os.OpenFile(m.LogFile(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, errors.Wrap(err, "failed to create log file")
	}
	defer logFd.Close()

	exePath, err := os.Executable()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get executable path")
	}

	cmd := exec.Command(exePath, args...)
	cmd.Stdout = logFd
	cmd.Stderr = logFd
	cmd.Env = append(os.Environ(), EnvDaemon+"=1")
	setSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return 0, errors.Wrap(err, "failed to start serve in background")
	}
	pid := cmd.Process.Pid
	cmd.Process.Release()

	if err := os.WriteFile(m.PIDFile(), []byte(strconv.Itoa(pid)), 0o644); err != nil {
		logger.Warn("Failed to write PID file", "error", err)
	}

	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()
	for i := 0; i < healthPollAttempts; i++ {
		select {
		case <-ctx.Done():
			return pid, ctx.Err()
		case <-ticker.C:
		}
		if m.Healthy(ctx) {
			logger.Info("Serve started in background", "pid", pid, "log", m.LogFile())
			return pid, nil
		}
		if !isProcessAlive(pid) {
			return pid, errors.Errorf("serve exited during startup, see %s", m.LogFile())
		}
	}
	return pid, errors.Errorf("serve started but status server not responding at %s", m.statusURL)
}

// Stop asks the recorded serve process to exit and waits for it.
func (m *Manager) Stop() (int, error) {
	pid, err := m.ReadPID()
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotRunning
		}
		return 0, err
	}
	if !isProcessAlive(pid) {
		os.Remove(m.PIDFile())
		return pid, ErrNotRunning
	}

	if err := killProcess(pid, syscall.SIGTERM); err != nil {
		return pid, errors.Wrapf(err, "failed to stop serve (PID %d)", pid)
	}

	deadline := time.Now().Add(stopTimeout)
	for isProcessAlive(pid) {
		if time.Now().After(deadline) {
			return pid, errors.Errorf("serve (PID %d) did not exit within %s", pid, stopTimeout)
		}
		time.Sleep(100 * time.Millisecond)
	}

	os.Remove(m.PIDFile())
	util.GetLogger().Info("Serve stopped", "pid", pid)
	return pid, nil
}

// Status fetches /api/status and decodes it into out.
func (m *Manager) Status(ctx context.Context, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.statusURL+"/api/status", nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return errors.Wrapf(ErrNotRunning, "no status server at %s", m.statusURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("status server returned %d", resp.StatusCode)
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "failed to decode status")
}
