//go:build !windows

package supervisor

import (
	"os/exec"
	"syscall"
)

// detach starts the worker in its own session so it outlives the caller's terminal.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
