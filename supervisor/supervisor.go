// Package supervisor starts and stops detached worker processes. It keeps no state of
// its own: which workers exist is read from the registry.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	ps "github.com/mitchellh/go-ps"
	"github.com/shirou/gopsutil/v4/process"

	"queuectl/registry"
)

var ErrInvalidCount = errors.New("supervisor: worker count must be >= 1")

type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	// Executable is the binary to spawn. Defaults to the running executable.
	Executable string
	// Args are passed to every worker. Defaults to "worker run".
	Args []string
	// LogFile receives worker stdout and stderr. Empty discards them.
	LogFile string
	// Env is added to the inherited environment of every worker. Keep credentials here,
	// not in Args.
	Env []string

	Logger Logger

	// Terminate sends SIGTERM (or the platform equivalent) to pid.
	Terminate func(ctx context.Context, pid int) error
	// Owned reports whether pid still runs our executable, so a recycled pid is never signalled.
	Owned func(pid int) bool
}

type Supervisor struct {
	reg  *registry.Registry
	opts Options
}

func New(reg *registry.Registry, opts Options) (*Supervisor, error) {
	if opts.Executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
		opts.Executable = exe
	}
	if len(opts.Args) == 0 {
		opts.Args = []string{"worker", "run"}
	}
	if opts.Terminate == nil {
		opts.Terminate = terminate
	}
	if opts.Owned == nil {
		opts.Owned = executableMatches(opts.Executable)
	}
	return &Supervisor{reg: reg, opts: opts}, nil
}

// Start spawns count detached workers and returns their pids. It does not wait for the
// workers to register.
func (s *Supervisor) Start(ctx context.Context, count int) ([]int, error) {
	if count < 1 {
		return nil, ErrInvalidCount
	}

	out, err := s.output()
	if err != nil {
		return nil, err
	}
	if c, ok := out.(io.Closer); ok {
		// Children hold their own descriptor.
		defer c.Close()
	}

	pids := make([]int, 0, count)
	for range count {
		if err := ctx.Err(); err != nil {
			return pids, err
		}

		cmd := exec.Command(s.opts.Executable, s.opts.Args...)
		cmd.Stdout = out
		cmd.Stderr = out
		if len(s.opts.Env) > 0 {
			cmd.Env = append(os.Environ(), s.opts.Env...)
		}
		detach(cmd)

		if err := cmd.Start(); err != nil {
			return pids, fmt.Errorf("start worker: %w", err)
		}
		pid := cmd.Process.Pid
		// An unreaped zombie still looks alive to the registry.
		go func() {
			if err := cmd.Wait(); err != nil {
				s.logf("worker pid=%d exited: %v", pid, err)
			}
		}()
		s.logf("started worker pid=%d", pid)
		pids = append(pids, pid)
	}
	return pids, nil
}

func (s *Supervisor) output() (io.Writer, error) {
	if s.opts.LogFile == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(s.opts.LogFile), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(s.opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open worker log: %w", err)
	}
	return f, nil
}

// Stop empties the registry and asks every worker it held to terminate. Workers finish
// their current job before exiting; Stop does not wait for them. It returns how many
// workers were signalled.
func (s *Supervisor) Stop(ctx context.Context) (int, error) {
	prev, err := s.reg.Clear(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, w := range prev {
		if !s.opts.Owned(w.PID) {
			s.logf("skip pid=%d: not a worker process", w.PID)
			continue
		}
		if err := s.opts.Terminate(ctx, w.PID); err != nil {
			s.logf("terminate worker %d: %v", w.PID, err)
			continue
		}
		n++
	}
	return n, nil
}

// Workers lists the live workers.
func (s *Supervisor) Workers(ctx context.Context) ([]registry.WorkerStatus, error) {
	return s.reg.List(ctx)
}

func (s *Supervisor) logf(format string, args ...any) {
	if s.opts.Logger != nil {
		s.opts.Logger.Printf(format, args...)
	}
}

func terminate(ctx context.Context, pid int) error {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return err
	}
	return p.TerminateWithContext(ctx)
}

// executableMatches compares the process name, which some platforms truncate, against
// the base name of exe.
func executableMatches(exe string) func(pid int) bool {
	base := strings.ToLower(filepath.Base(exe))
	return func(pid int) bool {
		p, err := ps.FindProcess(pid)
		if err != nil || p == nil {
			return false
		}
		name := strings.ToLower(p.Executable())
		return name != "" && strings.HasPrefix(base, name)
	}
}
