//go:build !windows

package daemon

import (
	"os"
	"os/exec"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopTerminatesRecordedProcess(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	go cmd.Wait()

	m := NewManager(t.TempDir(), ":0")
	require.NoError(t, os.WriteFile(m.PIDFile(), []byte(strconv.Itoa(cmd.Process.Pid)), 0o644))

	pid, err := m.Stop()
	require.NoError(t, err)
	assert.Equal(t, cmd.Process.Pid, pid)
	assert.False(t, isProcessAlive(pid))

	_, err = os.Stat(m.PIDFile())
	assert.True(t, os.IsNotExist(err))
}

func TestStopRemovesStalePIDFile(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())

	m := NewManager(t.TempDir(), ":0")
	require.NoError(t, os.WriteFile(m.PIDFile(), []byte(strconv.Itoa(cmd.Process.Pid)), 0o644))

	_, err := m.Stop()
	assert.ErrorIs(t, err, ErrNotRunning)
	_, err = os.Stat(m.PIDFile())
	assert.True(t, os.IsNotExist(err))
}
