//go:build !windows

package procgroup

import (
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminateStopsGroup(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	SetProcGrp(cmd)
	require.NoError(t, cmd.Start())

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	require.NoError(t, Terminate(cmd))
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		Kill(cmd)
		t.Fatal("process did not exit after Terminate")
	}
}

func TestSignalBeforeStart(t *testing.T) {
	cmd := exec.Command("sleep", "1")
	assert.NoError(t, Terminate(cmd))
	assert.NoError(t, Kill(cmd))
}
