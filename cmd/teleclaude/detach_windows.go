//go:build windows

package main

import (
	"fmt"
	"os/exec"
	"syscall"
)

// detachProcess starts the spawned server in its own process group.
func detachProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// notifyWrapper is a no-op: the terminal wrapper protocol is POSIX-only.
func notifyWrapper(pid int) error {
	return fmt.Errorf("wrapper signaling not supported on windows (pid %d)", pid)
}
