//go:build unix

package main

import (
	"os/exec"
	"syscall"
)

// detachProcess puts the spawned server in its own session so it outlives
// the hook process and the terminal it ran in.
func detachProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// notifyWrapper tells the terminal wrapper a teleport happened.
func notifyWrapper(pid int) error {
	return syscall.Kill(pid, syscall.SIGUSR1)
}
