// Package runner keeps spawned process handles addressable by identifier.
// Each child gets its own working directory and, when running as root on
// Linux, its own cgroup.
package runner

import (
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/SanjoDeundiak/childproc/pkg/lib/process"
)

var currentLogger atomic.Pointer[slog.Logger]

func init() { SetLogger(nil) }

func logger() *slog.Logger { return currentLogger.Load() }

// SetLogger replaces the package logger. A nil logger restores the silent default.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	currentLogger.Store(l)
}

// Runner manages processes started through it.
type Runner struct {
	mu        sync.RWMutex
	processes map[string]*processEntry
	baseDir   string
	observer  process.Observer
}

type processEntry struct {
	handle  *process.Handle
	command Command
	workDir string
}

// Command captures what was started.
type Command struct {
	Command string
	Args    []string
}

// Option customises a Runner.
type Option func(*Runner)

// WithObserver is passed to every handle the runner creates.
func WithObserver(o process.Observer) Option {
	return func(r *Runner) { r.observer = o }
}

// NewRunner creates a new Runner with a private base directory.
func NewRunner(opts ...Option) (*Runner, error) {
	baseDir, err := os.MkdirTemp("", "childproc-*")
	if err != nil {
		return nil, err
	}

	r := &Runner{processes: make(map[string]*processEntry), baseDir: baseDir}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (runner *Runner) getProcess(id string) (*processEntry, error) {
	runner.mu.RLock()
	pe := runner.processes[id]
	runner.mu.RUnlock()
	if pe == nil {
		return nil, os.ErrNotExist
	}
	return pe, nil
}
