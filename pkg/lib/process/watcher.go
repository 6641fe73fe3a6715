package process

import (
	"os"
	"os/signal"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/SanjoDeundiak/childproc/pkg/lib"
	"github.com/SanjoDeundiak/childproc/pkg/lib/spawn"
)

// dispatcher is the process-wide SIGCHLD listener shared by every handle.
// It starts with the first watched child and is never stopped. Handles stay
// referenced here until their child is reaped, so dropping a Handle neither
// kills its child nor leaves a zombie behind.
//
// Lock order is Handle.mu then dispatcher.mu; the dispatcher never probes
// while holding its own lock.
type dispatcher struct {
	once    sync.Once
	signals chan os.Signal

	mu      sync.Mutex
	handles map[int]*Handle
}

var reaper = &dispatcher{handles: make(map[int]*Handle)}

func (d *dispatcher) start() {
	d.once.Do(func() {
		d.signals = make(chan os.Signal, 1)
		signal.Notify(d.signals, unix.SIGCHLD)
		go d.loop()
		logger().Debug("sigchld_dispatcher_started")
	})
}

// watch arms termination detection for h. The child may already be dead
// when this runs, so after registering it probes once itself; that probe
// and the signal loop race under h.mu and only the first commits.
func (d *dispatcher) watch(h *Handle, pid int) {
	d.start()

	d.mu.Lock()
	d.handles[pid] = h
	d.mu.Unlock()

	h.probe()
}

// forget drops pid only if it still belongs to h; the pid may already have
// been reused by a newer child registered by another handle.
func (d *dispatcher) forget(pid int, h *Handle) {
	d.mu.Lock()
	if d.handles[pid] == h {
		delete(d.handles, pid)
	}
	d.mu.Unlock()
}

func (d *dispatcher) loop() {
	for range d.signals {
		// SIGCHLD coalesces, so one signal may stand for many exits.
		d.mu.Lock()
		handles := make([]*Handle, 0, len(d.handles))
		for _, h := range d.handles {
			handles = append(handles, h)
		}
		d.mu.Unlock()

		for _, h := range handles {
			h.probe()
		}
	}
}

// probe checks without blocking whether the child has terminated and, if so,
// commits LifecycleTerminated and fires the handler. Wait4 runs under h.mu
// and only while Running, so a child is reaped exactly once.
func (h *Handle) probe() {
	h.mu.Lock()
	if h.lifecycle != lib.LifecycleRunning {
		h.mu.Unlock()
		return
	}

	var ws unix.WaitStatus
	for {
		wpid, err := unix.Wait4(h.pid, &ws, unix.WNOHANG, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			pid := h.pid
			h.mu.Unlock()
			errno, _ := err.(unix.Errno)
			violation := spawn.InvariantViolation(spawn.StageWait, errno, "wait4 on tracked child")
			logger().Error("wait_invariant_violated", "id", h.id, "pid", pid, "err", violation)
			panic(violation)
		}
		if wpid == 0 {
			h.mu.Unlock()
			return
		}
		break
	}

	switch {
	case ws.Exited():
		h.reason = lib.TerminationReasonExit
		h.code = ws.ExitStatus()
	case ws.Signaled():
		h.reason = lib.TerminationReasonUncaughtSignal
		h.code = int(ws.Signal())
	default:
		// stopped or continued; not terminal
		h.mu.Unlock()
		return
	}

	h.end = time.Now()
	h.lifecycle = lib.LifecycleTerminated
	h.running.Store(false)
	close(h.done)
	reaper.forget(h.pid, h)

	handler := h.handler
	h.handler = nil
	pid, reason, code := h.pid, h.reason, h.code
	h.mu.Unlock()

	logger().Info("process_terminated", "id", h.id, "pid", pid, "reason", reason, "status", code)
	if handler != nil {
		handler(h)
	}
	h.observer.Terminated(h)
}
