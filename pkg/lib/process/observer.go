package process

import (
	"io"
	"log/slog"
	"sync/atomic"
)

var currentLogger atomic.Pointer[slog.Logger]

func init() { SetLogger(nil) }

func logger() *slog.Logger { return currentLogger.Load() }

// SetLogger replaces the package logger. It may be called at any time.
// A nil logger restores the silent default.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	currentLogger.Store(l)
}

// Observer is told about lifecycle events. Calls are made outside the
// handle's lock; Terminated is called after the termination handler.
type Observer interface {
	Spawned(h *Handle)
	SpawnFailed(h *Handle, err error)
	Terminated(h *Handle)
}

type nopObserver struct{}

func (nopObserver) Spawned(*Handle)            {}
func (nopObserver) SpawnFailed(*Handle, error) {}
func (nopObserver) Terminated(*Handle)         {}
