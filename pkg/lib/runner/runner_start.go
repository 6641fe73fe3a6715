package runner

import (
	"os"
	"path/filepath"

	"github.com/SanjoDeundiak/childproc/pkg/lib"
	"github.com/SanjoDeundiak/childproc/pkg/lib/process"
)

type StartResult struct {
	ID     string
	Status lib.Status
}

// Start spawns command in a fresh working directory and returns its
// identifier and initial status. Stdin is /dev/null; stdout and stderr are
// discarded.
func (runner *Runner) Start(command string, args ...string) (*StartResult, error) {
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	// the child holds its own copy after Run
	defer devNull.Close()

	cfg := &process.Config{
		Path:   command,
		Args:   append([]string(nil), args...),
		Stdin:  process.File(devNull),
		Stdout: process.File(devNull),
		Stderr: process.File(devNull),
	}
	var opts []process.Option
	if runner.observer != nil {
		opts = append(opts, process.WithObserver(runner.observer))
	}
	h := process.New(cfg, opts...)
	id := h.ID()

	workDir := filepath.Join(runner.baseDir, id)
	if err := os.MkdirAll(workDir, 0o700); err != nil {
		return nil, err
	}
	cfg.Dir = workDir

	cgroup, err := setupCgroupFor(id)
	if err != nil {
		_ = os.Remove(workDir)
		return nil, err
	}
	cfg.Cgroup = cgroup

	h.SetTerminationHandler(func(h *process.Handle) {
		st := h.Status()
		logger().Info("process_finished", "id", id, "reason", st.Reason, "status", st.Code)
		if cgroup != "" {
			if err := cleanupCgroup(id); err != nil {
				logger().Warn("cgroup_cleanup_failed", "id", id, "err", err)
			}
		}
	})

	logger().Debug("process_starting", "id", id, "command", command)
	if err := h.Run(); err != nil {
		logger().Warn("process_start_failed", "id", id, "err", err)
		if cgroup != "" {
			_ = cleanupCgroup(id)
		}
		_ = os.Remove(workDir)
		return nil, err
	}

	runner.mu.Lock()
	runner.processes[id] = &processEntry{
		handle:  h,
		command: Command{Command: command, Args: cfg.Args},
		workDir: workDir,
	}
	runner.mu.Unlock()

	return &StartResult{ID: id, Status: h.Status()}, nil
}
