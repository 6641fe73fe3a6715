//go:build linux

package spawn

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// sysProcAttr builds the clone attributes for req. The returned func closes
// anything opened for the spawn and must be called once ForkExec returns.
func sysProcAttr(req *Request) (*syscall.SysProcAttr, func(), error) {
	attr := &syscall.SysProcAttr{
		Setsid: req.NewSession,
		// setsid already makes the child a group leader
		Setpgid: req.NewProcessGroup && !req.NewSession,
	}
	if req.Cgroup == "" {
		return attr, func() {}, nil
	}

	cgroupDir, err := openCgroup(req.Cgroup)
	if err != nil {
		return nil, nil, err
	}
	attr.UseCgroupFD = true
	attr.CgroupFD = int(cgroupDir.Fd())
	return attr, func() { _ = cgroupDir.Close() }, nil
}

// openCgroup opens a cgroup v2 directory for CLONE_INTO_CGROUP.
func openCgroup(dir string) (*os.File, error) {
	dir = filepath.Clean(dir)
	if _, err := os.Stat(filepath.Join(dir, "cgroup.procs")); err != nil {
		return nil, Classify(err, StageEnterCgroup, dir)
	}

	f, err := os.OpenFile(dir, os.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		return nil, Classify(err, StageEnterCgroup, dir)
	}
	logger().Debug("cgroup_opened", "dir", dir, "controllers", readControllers(dir))
	return f, nil
}

func readControllers(dir string) []string {
	data, err := os.ReadFile(filepath.Join(dir, "cgroup.controllers"))
	if err != nil {
		return nil
	}
	return strings.Fields(string(data))
}
