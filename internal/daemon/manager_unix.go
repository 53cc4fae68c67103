//go:build !windows

package daemon

import (
	"os/exec"
	"syscall"
)

func killProcess(pid int, signal syscall.Signal) error {
	return syscall.Kill(pid, signal)
}

func isProcessAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

// setSysProcAttr detaches the child from the controlling terminal.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
}
