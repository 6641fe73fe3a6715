package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/SanjoDeundiak/childproc/pkg/lib"
	"github.com/SanjoDeundiak/childproc/pkg/lib/spawn"
)

func waitStopped(t *testing.T, r *Runner, id string) *StatusResult {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		st, err := r.Status(id)
		require.NoError(t, err)
		if st.Status.Lifecycle == lib.LifecycleTerminated {
			return st
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("process %s did not stop in time", id)
	return nil
}

func TestStartAndStatus(t *testing.T) {
	r, err := NewRunner()
	require.NoError(t, err)

	res, err := r.Start("/bin/sh", "-c", "pwd -P > marker; exit 4")
	require.NoError(t, err)
	require.Equal(t, lib.LifecycleRunning, res.Status.Lifecycle)
	require.Greater(t, res.Status.PID, 0)
	require.True(t, res.Status.EndTime.IsZero())

	st := waitStopped(t, r, res.ID)
	require.Equal(t, lib.TerminationReasonExit, st.Status.Reason)
	require.Equal(t, 4, st.Status.Code)
	require.Equal(t, Command{Command: "/bin/sh", Args: []string{"-c", "pwd -P > marker; exit 4"}}, st.Command)

	// each process runs in its own directory under the runner's base
	marker, err := os.ReadFile(filepath.Join(r.baseDir, res.ID, "marker"))
	require.NoError(t, err)
	base, err := filepath.EvalSymlinks(r.baseDir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(base, res.ID)+"\n", string(marker))

	require.Equal(t, []string{res.ID}, r.List())
}

func TestStopKillsProcess(t *testing.T) {
	r, err := NewRunner()
	require.NoError(t, err)

	res, err := r.Start("/bin/sh", "-c", "exec sleep 10")
	require.NoError(t, err)

	stopped, err := r.Stop(context.Background(), res.ID)
	require.NoError(t, err)
	require.Equal(t, lib.LifecycleTerminated, stopped.Status.Lifecycle)
	require.Equal(t, lib.TerminationReasonUncaughtSignal, stopped.Status.Reason)
	require.Equal(t, int(unix.SIGTERM), stopped.Status.Code)

	// stopping again just reports the final state
	again, err := r.Stop(context.Background(), res.ID)
	require.NoError(t, err)
	require.Equal(t, stopped.Status, again.Status)
}

func TestStopEscalatesToKill(t *testing.T) {
	old := StopGrace
	StopGrace = 50 * time.Millisecond
	defer func() { StopGrace = old }()

	r, err := NewRunner()
	require.NoError(t, err)

	res, err := r.Start("/bin/sh", "-c", "trap '' TERM; while :; do sleep 0.01; done")
	require.NoError(t, err)
	// let the shell install its trap
	time.Sleep(50 * time.Millisecond)

	stopped, err := r.Stop(context.Background(), res.ID)
	require.NoError(t, err)
	require.Equal(t, lib.LifecycleTerminated, stopped.Status.Lifecycle)
	require.Equal(t, int(unix.SIGKILL), stopped.Status.Code)
}

func TestStartInvalidCommand(t *testing.T) {
	r, err := NewRunner()
	require.NoError(t, err)

	_, err = r.Start("")
	require.ErrorIs(t, err, spawn.ErrConfiguration)

	_, err = r.Start("/no/such/command")
	require.ErrorIs(t, err, spawn.ErrFileNotFound)
	require.Empty(t, r.List())

	entries, err := os.ReadDir(r.baseDir)
	require.NoError(t, err)
	require.Empty(t, entries, "failed starts must not leave working directories behind")
}

func TestUnknownID(t *testing.T) {
	r, err := NewRunner()
	require.NoError(t, err)

	_, err = r.Status("missing")
	require.True(t, errors.Is(err, os.ErrNotExist))
	_, err = r.Stop(context.Background(), "missing")
	require.True(t, errors.Is(err, os.ErrNotExist))
}
