package spawn

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sys/unix"
)

// Sentinels for errors.Is. Every *Error matches exactly one of them.
var (
	ErrConfiguration     = errors.New("invalid process configuration")
	ErrFileNotFound      = errors.New("executable or working directory not found")
	ErrSpawnFailure      = errors.New("spawn failed")
	ErrInternalInvariant = errors.New("internal invariant violated")
)

// Kind is the caller-facing classification of a failure.
type Kind uint8

const (
	KindConfiguration Kind = iota + 1
	KindFileNotFound
	KindSpawnFailure
	KindInternalInvariant
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindFileNotFound:
		return "file-not-found"
	case KindSpawnFailure:
		return "spawn-failure"
	case KindInternalInvariant:
		return "internal-invariant"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindConfiguration:
		return ErrConfiguration
	case KindFileNotFound:
		return ErrFileNotFound
	case KindInternalInvariant:
		return ErrInternalInvariant
	default:
		return ErrSpawnFailure
	}
}

// Stage identifies the step at which a spawn or wait failed.
type Stage uint8

const (
	StageValidate Stage = iota
	StageMarshal
	StageArrangeFDs
	StageEnterCgroup
	StageExec
	StageWait
)

func (s Stage) String() string {
	descriptions := []string{
		"validating configuration",
		"marshalling arguments",
		"arranging file descriptors",
		"entering cgroup",
		"executing command",
		"waiting for child",
	}
	if int(s) < len(descriptions) {
		return descriptions[s]
	}
	return fmt.Sprintf("Stage(%d)", s)
}

// Error is the structured diagnostic for a failed spawn or wait.
type Error struct {
	Kind  Kind
	Stage Stage
	// Errno is the OS error code, zero when the failure did not come from the OS.
	Errno unix.Errno
	// Location is the file:line of the code that detected the failure.
	Location string
	// Extra is free-form context, e.g. the offending path.
	Extra string
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s while %s", e.Kind, e.Stage)
	if e.Extra != "" {
		fmt.Fprintf(&b, " (%s)", e.Extra)
	}
	if e.Errno != 0 {
		fmt.Fprintf(&b, ": %v", e.Errno)
	}
	if e.Location != "" {
		fmt.Fprintf(&b, " [%s]", e.Location)
	}
	return b.String()
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// Unwrap exposes the errno so errors.Is(err, unix.ENOENT) works.
func (e *Error) Unwrap() error {
	if e.Errno == 0 {
		return nil
	}
	return e.Errno
}

// newError records the detecting location skip frames above its caller:
// 0 is the function calling newError, 1 is that function's caller.
func newError(skip int, kind Kind, stage Stage, errno unix.Errno, extra string) *Error {
	return &Error{
		Kind:     kind,
		Stage:    stage,
		Errno:    errno,
		Location: callerLocation(skip + 1),
		Extra:    extra,
	}
}

// ConfigurationError reports a configuration problem found before the engine runs.
func ConfigurationError(stage Stage, extra string) *Error {
	return newError(1, KindConfiguration, stage, 0, extra)
}

// SpawnFailure reports an engine failure that did not come with an error of its own.
func SpawnFailure(stage Stage, errno unix.Errno, extra string) *Error {
	return newError(1, KindSpawnFailure, stage, errno, extra)
}

// InvariantViolation reports an unrecoverable internal contract breach.
func InvariantViolation(stage Stage, errno unix.Errno, extra string) *Error {
	return newError(1, KindInternalInvariant, stage, errno, extra)
}

// Classify maps an engine failure into the caller taxonomy. An *Error passes
// through unchanged. ENOENT and ENOTDIR become KindFileNotFound; everything
// else is KindSpawnFailure.
func Classify(err error, stage Stage, extra string) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}

	var errno unix.Errno
	if !errors.As(err, &errno) {
		e := newError(1, KindSpawnFailure, stage, 0, extra)
		if e.Extra == "" {
			e.Extra = err.Error()
		} else {
			e.Extra += ": " + err.Error()
		}
		return e
	}

	kind := KindSpawnFailure
	if errno == unix.ENOENT || errno == unix.ENOTDIR {
		kind = KindFileNotFound
	}
	return newError(1, kind, stage, errno, extra)
}

func callerLocation(skip int) string {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}
