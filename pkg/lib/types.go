package lib

import (
	"fmt"
	"time"
)

// Lifecycle is the forward-only state of a process handle:
// NotStarted -> Running -> Terminated.
type Lifecycle int

const (
	LifecycleNotStarted Lifecycle = iota
	LifecycleRunning
	LifecycleTerminated
)

func (l Lifecycle) String() string {
	switch l {
	case LifecycleNotStarted:
		return "not-started"
	case LifecycleRunning:
		return "running"
	case LifecycleTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("Lifecycle(%d)", int(l))
	}
}

// TerminationReason tells how a child left the running state.
type TerminationReason int

const (
	// TerminationReasonExit means the child called exit; the status is the exit code.
	TerminationReasonExit TerminationReason = iota + 1
	// TerminationReasonUncaughtSignal means the child was killed by a signal;
	// the status is the signal number.
	TerminationReasonUncaughtSignal
)

func (r TerminationReason) String() string {
	switch r {
	case TerminationReasonExit:
		return "exit"
	case TerminationReasonUncaughtSignal:
		return "uncaught-signal"
	default:
		return fmt.Sprintf("TerminationReason(%d)", int(r))
	}
}

// Status is a point-in-time copy of a handle's state. PID and StartTime are
// meaningful from LifecycleRunning on; Reason, Code and EndTime only once
// LifecycleTerminated is reached.
type Status struct {
	Lifecycle Lifecycle
	PID       int
	Reason    TerminationReason
	Code      int
	StartTime time.Time
	EndTime   time.Time
}

// Uptime is how long the child ran, or has been running so far.
func (s Status) Uptime() time.Duration {
	switch s.Lifecycle {
	case LifecycleRunning:
		return time.Since(s.StartTime)
	case LifecycleTerminated:
		return s.EndTime.Sub(s.StartTime)
	default:
		return 0
	}
}
