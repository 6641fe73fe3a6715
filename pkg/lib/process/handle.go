// Package process spawns one child per Handle and tracks it through the
// forward-only lifecycle NotStarted -> Running -> Terminated without ever
// blocking a caller on the child.
package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/SanjoDeundiak/childproc/pkg/lib"
	"github.com/SanjoDeundiak/childproc/pkg/lib/spawn"
)

var (
	// ErrNotStarted is returned by accessors that need a pid before Run succeeded.
	ErrNotStarted = errors.New("process not started")
	// ErrNotTerminated is returned by termination accessors while the child runs.
	ErrNotTerminated = errors.New("process not terminated")
	// ErrAlreadyStarted is returned by a second Run. It also matches spawn.ErrConfiguration.
	ErrAlreadyStarted = errors.New("run already called on this handle")
)

// Handle owns one child process.
//
// All state lives behind mu. running mirrors lifecycle == Running for
// lock-free polling and is only written inside mu next to lifecycle.
type Handle struct {
	id       string
	cfg      *Config
	engine   spawn.Engine
	observer Observer

	mu        sync.Mutex
	snapshot  *Config
	attempted bool
	lifecycle lib.Lifecycle
	pid       int
	reason    lib.TerminationReason
	code      int
	start     time.Time
	end       time.Time
	handler   func(*Handle)
	done      chan struct{}

	running atomic.Bool
}

// Option customises a Handle.
type Option func(*Handle)

// WithEngine replaces spawn.DefaultEngine.
func WithEngine(e spawn.Engine) Option {
	return func(h *Handle) { h.engine = e }
}

// WithObserver registers an Observer for this handle.
func WithObserver(o Observer) Option {
	return func(h *Handle) { h.observer = o }
}

// New returns a handle in the NotStarted state. cfg stays owned by the
// caller until Run.
func New(cfg *Config, opts ...Option) *Handle {
	h := &Handle{
		id:       lib.NewID(),
		cfg:      cfg,
		engine:   spawn.DefaultEngine,
		observer: nopObserver{},
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.engine == nil {
		h.engine = spawn.DefaultEngine
	}
	if h.observer == nil {
		h.observer = nopObserver{}
	}
	return h
}

// ID is a unique identifier for log correlation.
func (h *Handle) ID() string { return h.id }

// Run spawns the child. It may be called once; a failed Run also consumes
// the handle. On success the parent's copies of the child's ends of owned
// pipes are closed and the termination watcher is armed before Run returns.
func (h *Handle) Run() error {
	h.mu.Lock()
	if h.attempted || h.lifecycle != lib.LifecycleNotStarted {
		h.mu.Unlock()
		return fmt.Errorf("%w: %w", spawn.ErrConfiguration, ErrAlreadyStarted)
	}
	h.attempted = true

	cfg := h.cfg.clone()
	h.snapshot = &cfg

	logger().Debug("process_starting", "id", h.id, "path", cfg.Path)
	pid, err := h.spawnLocked(&cfg)
	if err != nil {
		h.mu.Unlock()
		logger().Warn("process_start_failed", "id", h.id, "path", cfg.Path, "err", err)
		h.observer.SpawnFailed(h, err)
		return err
	}

	h.pid = pid
	h.start = time.Now()
	h.lifecycle = lib.LifecycleRunning
	h.running.Store(true)
	h.closeChildEndsLocked(&cfg)
	h.mu.Unlock()

	logger().Info("process_started", "id", h.id, "pid", pid, "path", cfg.Path)
	h.observer.Spawned(h)
	reaper.watch(h, pid)
	return nil
}

func (h *Handle) spawnLocked(cfg *Config) (int, error) {
	env := os.Environ()
	if cfg.Env != nil {
		var err error
		if env, err = spawn.EnvList(cfg.Env); err != nil {
			return 0, err
		}
	}

	args, err := spawn.Marshal(cfg.Path, cfg.Args, env, cfg.Dir)
	if err != nil {
		return 0, err
	}
	defer args.Release()

	files := make([]spawn.FileMapping, 0, 3)
	for target, s := range []Stream{cfg.Stdin, cfg.Stdout, cfg.Stderr} {
		f := s.descriptor(target)
		if f == nil {
			return 0, spawn.ConfigurationError(spawn.StageArrangeFDs,
				fmt.Sprintf("stream for descriptor %d is closed", target))
		}
		files = append(files, spawn.FileMapping{Target: target, Parent: f.Fd()})
	}

	pid, err := h.engine.Spawn(&spawn.Request{
		Args:                  args,
		Files:                 files,
		NewSession:            cfg.NewSession,
		NewProcessGroup:       true,
		CloseOtherDescriptors: true,
		Cgroup:                cfg.Cgroup,
	})
	if err != nil {
		return 0, spawn.Classify(err, spawn.StageExec, cfg.Path)
	}
	if pid <= 0 {
		return 0, spawn.SpawnFailure(spawn.StageExec, 0, fmt.Sprintf("engine returned pid %d", pid))
	}
	return pid, nil
}

// closeChildEndsLocked drops the parent's copy of every pipe end the child
// now holds. Without it a child reading stdin never sees end-of-file.
func (h *Handle) closeChildEndsLocked(cfg *Config) {
	for target, s := range []Stream{cfg.Stdin, cfg.Stdout, cfg.Stderr} {
		if s.kind != streamPipe {
			continue
		}
		if err := s.pipe.closeChildEnd(target); err != nil {
			logger().Warn("pipe_close_failed", "id", h.id, "fd", target, "err", err)
		}
	}
}

// Config returns the configuration the child was spawned with, or the
// caller's current configuration before Run.
func (h *Handle) Config() Config {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.snapshot != nil {
		return h.snapshot.clone()
	}
	return h.cfg.clone()
}

// Stdin returns the parent's write end when stdin is an owned pipe.
func (h *Handle) Stdin() *os.File { return h.parentEnd(0) }

// Stdout returns the parent's read end when stdout is an owned pipe.
func (h *Handle) Stdout() *os.File { return h.parentEnd(1) }

// Stderr returns the parent's read end when stderr is an owned pipe.
func (h *Handle) Stderr() *os.File { return h.parentEnd(2) }

func (h *Handle) parentEnd(target int) *os.File {
	cfg := h.Config()
	s := []Stream{cfg.Stdin, cfg.Stdout, cfg.Stderr}[target]
	if s.kind != streamPipe {
		return nil
	}
	return s.pipe.parentEnd(target)
}

// Lifecycle is the authoritative state.
func (h *Handle) Lifecycle() lib.Lifecycle {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lifecycle
}

// IsRunning is a lock-free approximation of Lifecycle() == LifecycleRunning.
// It is false before Run returns and false by the time the termination
// handler runs.
func (h *Handle) IsRunning() bool {
	return h.running.Load()
}

// PID returns the child's pid once Run has succeeded.
func (h *Handle) PID() (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lifecycle == lib.LifecycleNotStarted {
		return 0, ErrNotStarted
	}
	return h.pid, nil
}

// TerminationReason tells whether the child exited or was killed by a signal.
func (h *Handle) TerminationReason() (lib.TerminationReason, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lifecycle != lib.LifecycleTerminated {
		return 0, ErrNotTerminated
	}
	return h.reason, nil
}

// TerminationStatus is the exit code or the signal number, see TerminationReason.
func (h *Handle) TerminationStatus() (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lifecycle != lib.LifecycleTerminated {
		return 0, ErrNotTerminated
	}
	return h.code, nil
}

// Status returns a consistent snapshot of the handle.
func (h *Handle) Status() lib.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return lib.Status{
		Lifecycle: h.lifecycle,
		PID:       h.pid,
		Reason:    h.reason,
		Code:      h.code,
		StartTime: h.start,
		EndTime:   h.end,
	}
}

// SetTerminationHandler registers fn to be called once with the terminated
// handle. If the child has already terminated fn runs immediately on the
// calling goroutine; otherwise it runs on whichever goroutine observes the
// exit, usually the shared SIGCHLD dispatcher and occasionally Run itself.
// A slow handler delays termination detection for other handles. Setting a
// new handler before termination replaces the previous one.
func (h *Handle) SetTerminationHandler(fn func(*Handle)) {
	h.mu.Lock()
	if h.lifecycle == lib.LifecycleTerminated {
		h.mu.Unlock()
		if fn != nil {
			fn(h)
		}
		return
	}
	h.handler = fn
	h.mu.Unlock()
}

// TerminationHandler returns the pending handler; nil once it has fired.
func (h *Handle) TerminationHandler() func(*Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.handler
}

// Done is closed when the handle reaches LifecycleTerminated.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the child terminates or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Interrupt sends SIGINT.
func (h *Handle) Interrupt() error { return h.Signal(unix.SIGINT) }

// Terminate sends SIGTERM.
func (h *Handle) Terminate() error { return h.Signal(unix.SIGTERM) }

// Kill sends SIGKILL.
func (h *Handle) Kill() error { return h.Signal(unix.SIGKILL) }

// Signal delivers sig to the child while it is running and does nothing in
// any other state. The child cannot be reaped while the lock is held, so the
// pid still names our child. A child that is already gone is not an error.
func (h *Handle) Signal(sig unix.Signal) error { return h.signal(sig, false) }

// SignalGroup delivers sig to the child's whole process group while the
// child is running. The child always leads its own group, so this also
// reaches descendants that have not left it.
func (h *Handle) SignalGroup(sig unix.Signal) error { return h.signal(sig, true) }

func (h *Handle) signal(sig unix.Signal, group bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lifecycle != lib.LifecycleRunning {
		return nil
	}
	target := h.pid
	if group {
		target = -h.pid
	}
	err := unix.Kill(target, sig)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return nil
	}
	return fmt.Errorf("signal %v to pid %d: %w", sig, target, err)
}
