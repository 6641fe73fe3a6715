package runner

import (
	"github.com/SanjoDeundiak/childproc/pkg/lib"
)

type StatusResult struct {
	Command Command
	Status  lib.Status
}

// Status returns the current process and status by identifier.
func (runner *Runner) Status(id string) (*StatusResult, error) {
	pe, err := runner.getProcess(id)
	if err != nil {
		return nil, err
	}
	return &StatusResult{Command: pe.command, Status: pe.handle.Status()}, nil
}

// List returns the identifiers of every process started by this runner.
func (runner *Runner) List() []string {
	runner.mu.RLock()
	defer runner.mu.RUnlock()
	ids := make([]string, 0, len(runner.processes))
	for id := range runner.processes {
		ids = append(ids, id)
	}
	return ids
}
