//go:build unix && !linux

package spawn

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func sysProcAttr(req *Request) (*syscall.SysProcAttr, func(), error) {
	if req.Cgroup != "" {
		return nil, nil, newError(0, KindSpawnFailure, StageEnterCgroup, unix.ENOTSUP, req.Cgroup)
	}
	return &syscall.SysProcAttr{
		Setsid:  req.NewSession,
		Setpgid: req.NewProcessGroup && !req.NewSession,
	}, func() {}, nil
}
