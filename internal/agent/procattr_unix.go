//go:build unix && !linux

package agent

import (
	"os/exec"
	"syscall"
)

// setProcGroup configures the command to run in its own process group.
// Pdeathsig is Linux-specific; on macOS/BSD orphan cleanup relies on
// explicit Release() calls.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateProcessGroup sends SIGTERM to the entire process group of pid.
func terminateProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

// killProcessGroup sends SIGKILL to the entire process group of pid.
func killProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
