//go:build linux

package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Runs only as root on linux
func TestCgroup(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("Skipping: not running as root")
	}
	if !cgroupsManaged() {
		t.Skip("Skipping: cgroup v2 not mounted")
	}

	r, err := NewRunner()
	require.NoError(t, err)

	res, err := r.Start("/bin/sh", "-c", "sleep 60")
	require.NoError(t, err)

	procsData, err := os.ReadFile(filepath.Join(cgroupRoot, res.ID, "cgroup.procs"))
	require.NoError(t, err)
	// the child was cloned straight into its cgroup
	require.Equal(t, fmt.Sprint(res.Status.PID), strings.TrimSpace(string(procsData)))

	enabled, err := readControllerSet(filepath.Join(cgroupRoot, "cgroup.subtree_control"))
	require.NoError(t, err)
	if enabled["cpu"] {
		cpuWeight, err := os.ReadFile(filepath.Join(cgroupRoot, res.ID, "cpu.weight"))
		require.NoError(t, err)
		require.Equal(t, "100", strings.TrimSpace(string(cpuWeight)))
	}
	if enabled["memory"] {
		memoryHigh, err := os.ReadFile(filepath.Join(cgroupRoot, res.ID, "memory.high"))
		require.NoError(t, err)
		require.Equal(t, fmt.Sprint(int64(512)*1024*1024), strings.TrimSpace(string(memoryHigh)))
	}

	_, err = r.Stop(context.Background(), res.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(cgroupRoot, res.ID))
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond, "cgroup should be removed once the process is reaped")
}

func TestReadControllerSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cgroup.subtree_control")
	require.NoError(t, os.WriteFile(path, []byte("+cpu io\n+memory\n"), 0o644))

	set, err := readControllerSet(path)
	require.NoError(t, err)
	require.Equal(t, map[string]bool{"cpu": true, "io": true, "memory": true}, set)
}

func TestStartWithoutCgroupHierarchy(t *testing.T) {
	old := cgroupRoot
	cgroupRoot = filepath.Join(t.TempDir(), "childproc")
	defer func() { cgroupRoot = old }()

	require.False(t, cgroupsManaged())

	r, err := NewRunner()
	require.NoError(t, err)

	res, err := r.Start("/bin/sh", "-c", "exit 0")
	require.NoError(t, err)
	waitStopped(t, r, res.ID)

	_, err = os.Stat(cgroupRoot)
	require.True(t, os.IsNotExist(err), "nothing may be created outside a cgroup v2 mount")
}
