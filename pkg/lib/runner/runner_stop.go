package runner

import (
	"context"
	"time"

	"golang.org/x/sys/unix"

	"github.com/SanjoDeundiak/childproc/pkg/lib"
)

// StopGrace is how long Stop waits after SIGTERM before escalating.
var StopGrace = time.Second

// StopResult returns process info and its final status after Stop.
type StopResult struct {
	Command Command
	Status  lib.Status
}

// Stop terminates the process by identifier and returns its final status,
// or the current one if ctx ends first. An already stopped process is
// returned as is.
func (runner *Runner) Stop(ctx context.Context, id string) (*StopResult, error) {
	pe, err := runner.getProcess(id)
	if err != nil {
		return nil, err
	}
	h := pe.handle
	res := StopResult{Command: pe.command}

	if h.Lifecycle() == lib.LifecycleRunning {
		// The child leads its own process group; signal the group so
		// anything it started goes down with it.
		if err := h.SignalGroup(unix.SIGTERM); err != nil {
			return nil, err
		}

		graceCtx, cancel := context.WithTimeout(ctx, StopGrace)
		err := h.Wait(graceCtx)
		cancel()
		if err != nil && ctx.Err() == nil {
			// cgroup.kill also catches processes that left the group
			if killed, _ := killCgroup(h.ID()); !killed {
				if err := h.SignalGroup(unix.SIGKILL); err != nil {
					return nil, err
				}
			}
			_ = h.Wait(ctx)
		}
	}

	res.Status = h.Status()
	return &res, nil
}
