// Package spawn holds the boundary between a process handle and the
// primitive that actually creates the child: argument marshalling, the
// Engine contract, a fork/exec engine, and the error taxonomy.
package spawn

import (
	"io"
	"log/slog"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"
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

// FileMapping asks the engine to duplicate Parent onto the child's Target descriptor.
type FileMapping struct {
	Target int
	Parent uintptr
}

// Request is everything an Engine needs for one spawn.
type Request struct {
	Args  *ArgBlock
	Files []FileMapping

	NewSession            bool
	NewProcessGroup       bool
	CloseOtherDescriptors bool

	// Cgroup is an optional cgroup v2 directory the child starts in.
	Cgroup string
}

// Engine creates a child process. Implementations must be safe for
// concurrent use and return either a pid > 0 or an error.
type Engine interface {
	Spawn(req *Request) (int, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(req *Request) (int, error)

func (f EngineFunc) Spawn(req *Request) (int, error) { return f(req) }

// ForkExecEngine spawns through syscall.ForkExec, which holds
// syscall.ForkLock and only runs async-signal-safe code in the child.
type ForkExecEngine struct{}

// DefaultEngine is used by handles that do not set their own.
var DefaultEngine Engine = ForkExecEngine{}

func (ForkExecEngine) Spawn(req *Request) (int, error) {
	if req == nil || req.Args == nil || req.Args.Released() {
		return 0, ConfigurationError(StageValidate, "spawn request has no arguments")
	}
	// Every descriptor the Go runtime opens is close-on-exec, so the child
	// only ever sees the mapped ones.
	if !req.CloseOtherDescriptors {
		return 0, newError(0, KindSpawnFailure, StageArrangeFDs, unix.ENOTSUP, "descriptor inheritance beyond the mapped set")
	}

	files, err := childFiles(req.Files)
	if err != nil {
		return 0, err
	}

	attr, closeAttr, err := sysProcAttr(req)
	if err != nil {
		return 0, err
	}
	defer closeAttr()

	path := req.Args.Path()
	pid, err := syscall.ForkExec(path, req.Args.ArgvStrings(), &syscall.ProcAttr{
		Dir:   req.Args.Dir(),
		Env:   req.Args.EnvpStrings(),
		Files: files,
		Sys:   attr,
	})
	if err != nil {
		logger().Debug("fork_exec_failed", "path", path, "err", err)
		return 0, Classify(err, StageExec, path)
	}
	logger().Debug("fork_exec", "path", path, "pid", pid)
	return pid, nil
}

// childFiles turns the mapping list into the index-addressed slice
// syscall.ForkExec expects.
func childFiles(mappings []FileMapping) ([]uintptr, error) {
	n := 0
	for _, m := range mappings {
		if m.Target < 0 {
			return nil, newError(0, KindSpawnFailure, StageArrangeFDs, unix.EBADF, "negative target descriptor")
		}
		if m.Target+1 > n {
			n = m.Target + 1
		}
	}

	files := make([]uintptr, n)
	for i := range files {
		files[i] = ^uintptr(0)
	}
	for _, m := range mappings {
		files[m.Target] = m.Parent
	}
	return files, nil
}
