//go:build !windows

// Package procgroup starts helper processes in their own process group so a
// terminal Ctrl-C reaches roverlink only, and roverlink decides how the
// helpers shut down.
package procgroup

import (
	"os/exec"
	"syscall"
)

// SetProcGrp makes cmd the leader of a new process group.
func SetProcGrp(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// Terminate asks the whole group led by cmd to exit.
func Terminate(cmd *exec.Cmd) error {
	return signalGroup(cmd, syscall.SIGTERM)
}

// Kill force-stops the whole group led by cmd.
func Kill(cmd *exec.Cmd) error {
	return signalGroup(cmd, syscall.SIGKILL)
}

func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	if err := syscall.Kill(-pid, sig); err != nil {
		// Not a group leader, e.g. SetProcGrp was skipped.
		return syscall.Kill(pid, sig)
	}
	return nil
}
