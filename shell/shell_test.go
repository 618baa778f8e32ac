//go:build !windows

package shell

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExecute(t *testing.T) {
	e := New()

	t.Run("success captures stdout", func(t *testing.T) {
		res := e.Execute(t.Context(), "echo hi", time.Minute)
		require.True(t, res.Succeeded())
		require.Equal(t, "hi\n", res.Stdout)
		require.Empty(t, res.Stderr)
	})

	t.Run("exit code and stderr", func(t *testing.T) {
		res := e.Execute(t.Context(), "echo oops 1>&2; exit 3", time.Minute)
		require.False(t, res.Succeeded())
		require.Equal(t, 3, res.ExitCode)
		require.Equal(t, "oops\n", res.Stderr)
		require.NoError(t, res.Err)
	})

	t.Run("unknown command", func(t *testing.T) {
		res := e.Execute(t.Context(), "definitely-not-a-command-queuectl", time.Minute)
		require.False(t, res.Succeeded())
		require.Equal(t, 127, res.ExitCode)
	})

	t.Run("timeout kills the process group", func(t *testing.T) {
		start := time.Now()
		res := e.Execute(t.Context(), "sleep 30 & sleep 30", 200*time.Millisecond)
		require.True(t, res.TimedOut)
		require.False(t, res.Succeeded())
		require.Less(t, time.Since(start), 10*time.Second)
	})

	t.Run("working directory", func(t *testing.T) {
		dir := t.TempDir()
		res := (&Executor{Dir: dir}).Execute(t.Context(), "pwd -P", time.Minute)
		require.True(t, res.Succeeded())
		require.Contains(t, res.Stdout, "/")
	})
}
