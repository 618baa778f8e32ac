package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"queuectl/registry"
	"queuectl/store"
)

type terminations struct {
	mu   sync.Mutex
	pids []int
	fail map[int]bool
}

func (t *terminations) terminate(_ context.Context, pid int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail[pid] {
		return errors.New("no such process")
	}
	t.pids = append(t.pids, pid)
	return nil
}

func newRegistry() *registry.Registry {
	return registry.New(store.NewMemoryStore(), registry.Options{
		Alive: func(context.Context, int) bool { return true },
	})
}

func TestStop(t *testing.T) {
	ctx := t.Context()
	reg := newRegistry()
	for _, pid := range []int{1001, 1002, 1003, 1004} {
		require.NoError(t, reg.Register(ctx, pid))
	}

	term := &terminations{fail: map[int]bool{1003: true}}
	s, err := New(reg, Options{
		Executable: "/usr/bin/queuectl",
		Terminate:  term.terminate,
		Owned:      func(pid int) bool { return pid != 1002 },
	})
	require.NoError(t, err)

	n, err := s.Stop(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []int{1001, 1004}, term.pids)

	ws, err := s.Workers(ctx)
	require.NoError(t, err)
	require.Empty(t, ws)
}

func TestStopWithEmptyRegistry(t *testing.T) {
	s, err := New(newRegistry(), Options{Executable: "/usr/bin/queuectl"})
	require.NoError(t, err)

	n, err := s.Stop(t.Context())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestStart(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	logFile := filepath.Join(t.TempDir(), "logs", "workers.log")
	s, err := New(newRegistry(), Options{
		Executable: "/bin/sh",
		Args:       []string{"-c", "echo started"},
		LogFile:    logFile,
	})
	require.NoError(t, err)

	pids, err := s.Start(t.Context(), 3)
	require.NoError(t, err)
	require.Len(t, pids, 3)
	for _, pid := range pids {
		require.Positive(t, pid)
	}

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(logFile)
		return err == nil && len(data) == len("started\n")*3
	}, 5*time.Second, 20*time.Millisecond)

	_, err = s.Start(t.Context(), 0)
	require.ErrorIs(t, err, ErrInvalidCount)
}

func TestExecutableMatches(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)

	owned := executableMatches(exe)
	require.True(t, owned(os.Getpid()))
	require.False(t, executableMatches("/usr/bin/some-other-binary")(os.Getpid()))
}

func TestStartReapsExitedWorkers(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	ctx := t.Context()
	reg := registry.New(store.NewMemoryStore(), registry.Options{})
	s, err := New(reg, Options{
		Executable: "/bin/sh",
		Args:       []string{"-c", "exit 0"},
	})
	require.NoError(t, err)

	pids, err := s.Start(ctx, 1)
	require.NoError(t, err)
	pid := pids[0]
	// The worker dies without deregistering.
	require.NoError(t, reg.SetProcessing(ctx, pid, "job-1"))

	require.Eventually(t, func() bool {
		return !registry.PidExists(ctx, pid)
	}, 5*time.Second, 20*time.Millisecond)

	ws, err := s.Workers(ctx)
	require.NoError(t, err)
	require.Empty(t, ws)
	require.Empty(t, registry.ActiveJobs(ws))
}

func TestStartPassesEnv(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	logFile := filepath.Join(t.TempDir(), "workers.log")
	s, err := New(newRegistry(), Options{
		Executable: "/bin/sh",
		Args:       []string{"-c", `echo "dsn=$QUEUECTL_DSN"`},
		LogFile:    logFile,
		Env:        []string{"QUEUECTL_DSN=postgres://u:secret@db/q"},
	})
	require.NoError(t, err)

	_, err = s.Start(t.Context(), 1)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(logFile)
		return err == nil && string(data) == "dsn=postgres://u:secret@db/q\n"
	}, 5*time.Second, 20*time.Millisecond)
}
