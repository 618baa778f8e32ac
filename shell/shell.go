// Package shell runs job commands through the platform shell.
package shell

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"queuectl/jobqueue"
)

var _ jobqueue.Executor = (*Executor)(nil)

type Executor struct {
	// Dir is the working directory of every command. Empty means the caller's.
	Dir string
	// WaitDelay bounds how long output pipes are drained after the command is killed.
	WaitDelay time.Duration
}

func New() *Executor {
	return &Executor{WaitDelay: 2 * time.Second}
}

// Execute runs command with sh -c (cmd /C on Windows). On timeout the whole process
// group is killed and TimedOut is set.
func (e *Executor) Execute(ctx context.Context, command string, timeout time.Duration) jobqueue.Result {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	name, args := shellCommand(command)
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = e.Dir
	cmd.WaitDelay = e.WaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	configure(cmd)

	err := cmd.Run()
	res := jobqueue.Result{Stdout: stdout.String(), Stderr: stderr.String()}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.TimedOut = true
		res.ExitCode = -1
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = -1
		res.Err = err
	}
	return res
}
