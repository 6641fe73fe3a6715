//go:build linux

package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// cgroupRoot holds one child cgroup per started process.
var cgroupRoot = "/sys/fs/cgroup/childproc"

var (
	cgroupInitOnce sync.Once
	cgroupInitErr  error
)

// initCgroups prepares cgroupRoot and enables the controllers children get
// limits for. Real work happens once; as non-root it does nothing.
func initCgroups() error {
	cgroupInitOnce.Do(func() {
		cgroupInitErr = initCgroupsImpl()
	})
	return cgroupInitErr
}

func initCgroupsImpl() error {
	if err := os.MkdirAll(cgroupRoot, 0755); err != nil {
		return err
	}

	available, err := readControllerSet(filepath.Join(cgroupRoot, "cgroup.controllers"))
	if err != nil {
		return err
	}
	enabled, err := readControllerSet(filepath.Join(cgroupRoot, "cgroup.subtree_control"))
	if err != nil {
		return err
	}

	var toAdd []string
	for _, ctrl := range []string{"cpu", "io", "memory"} {
		if available[ctrl] && !enabled[ctrl] {
			toAdd = append(toAdd, "+"+ctrl)
		}
	}
	if len(toAdd) == 0 {
		return nil
	}
	return writeString(filepath.Join(cgroupRoot, "cgroup.subtree_control"), strings.Join(toAdd, " "))
}

func readControllerSet(path string) (map[string]bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool)
	for _, f := range strings.Fields(string(data)) {
		set[strings.TrimPrefix(f, "+")] = true
	}
	return set, nil
}

// cgroupsManaged reports whether the parent of cgroupRoot is a cgroup v2
// mount we may write to. v1 and hybrid layouts are left alone.
func cgroupsManaged() bool {
	if os.Geteuid() != 0 {
		return false
	}
	var st unix.Statfs_t
	if err := unix.Statfs(filepath.Dir(cgroupRoot), &st); err != nil {
		return false
	}
	return st.Type == unix.CGROUP2_SUPER_MAGIC
}

// setupCgroupFor creates the cgroup for a process and returns its directory,
// or "" when cgroups are not managed (non-root or no cgroup v2 hierarchy).
func setupCgroupFor(id string) (string, error) {
	if !cgroupsManaged() {
		return "", nil
	}
	if err := initCgroups(); err != nil {
		return "", fmt.Errorf("init cgroups: %w", err)
	}

	dir := filepath.Join(cgroupRoot, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	limits := map[string][2]string{
		"cpu":    {"cpu.weight", "100"},
		"io":     {"io.weight", "100"},
		"memory": {"memory.high", fmt.Sprint(int64(512) * 1024 * 1024)},
	}
	enabled, _ := readControllerSet(filepath.Join(cgroupRoot, "cgroup.subtree_control"))
	for ctrl, limit := range limits {
		if !enabled[ctrl] {
			continue
		}
		if err := writeString(filepath.Join(dir, limit[0]), limit[1]); err != nil {
			_ = os.Remove(dir)
			return "", err
		}
	}
	return dir, nil
}

func killCgroup(id string) (bool, error) {
	err := writeString(filepath.Join(cgroupRoot, id, "cgroup.kill"), "1")
	return err == nil, err
}

func cleanupCgroup(id string) error {
	return os.Remove(filepath.Join(cgroupRoot, id))
}

func writeString(path, val string) error {
	return os.WriteFile(path, []byte(val), 0644)
}
