package process

import (
	"maps"
	"os"
	"slices"
	"sync"
)

// Config describes what to run. The handle keeps the caller's pointer until
// Run and then works from a private copy, so later edits have no effect on a
// spawned process.
type Config struct {
	// Path is the executable. It is also passed as argv[0].
	Path string
	// Dir is the working directory; empty means the parent's.
	Dir string
	// Args are appended after argv[0].
	Args []string
	// Env is the complete child environment. nil inherits os.Environ().
	Env map[string]string

	Stdin  Stream
	Stdout Stream
	Stderr Stream

	// NewSession runs the child in a new session. Otherwise it gets its own
	// process group.
	NewSession bool
	// Cgroup is an optional cgroup v2 directory to start the child in (Linux only).
	Cgroup string
}

func (c *Config) clone() Config {
	if c == nil {
		return Config{}
	}
	out := *c
	out.Args = slices.Clone(c.Args)
	if c.Env != nil {
		out.Env = maps.Clone(c.Env)
	}
	return out
}

type streamKind uint8

const (
	streamInherit streamKind = iota
	streamPipe
	streamFile
)

// Stream is one of the child's standard stream endpoints. The zero value
// inherits the parent's descriptor.
type Stream struct {
	kind streamKind
	pipe *Pipe
	file *os.File
}

// Inherit returns a Stream that shares the parent's descriptor.
func Inherit() Stream { return Stream{} }

// File returns a Stream backed by a caller-owned file. The handle never closes it.
func File(f *os.File) Stream {
	if f == nil {
		return Stream{}
	}
	return Stream{kind: streamFile, file: f}
}

// Pipe is an owned pipe. The child gets one end; the parent keeps the other
// through Reader or Writer. After a successful Run the handle closes the
// parent's copy of the child's end.
type Pipe struct {
	mu sync.Mutex
	r  *os.File
	w  *os.File
}

// NewPipe creates a pipe. Both ends are close-on-exec in the parent.
func NewPipe() (*Pipe, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	return &Pipe{r: r, w: w}, nil
}

// Stream wraps the pipe for use as a Config stream.
func (p *Pipe) Stream() Stream {
	return Stream{kind: streamPipe, pipe: p}
}

// Reader returns the read end, or nil once it was handed to a child and closed.
func (p *Pipe) Reader() *os.File {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.r
}

// Writer returns the write end, or nil once it was handed to a child and closed.
func (p *Pipe) Writer() *os.File {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.w
}

// Close closes whatever ends are still open.
func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, f := range []**os.File{&p.r, &p.w} {
		if *f == nil {
			continue
		}
		if err := (*f).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		*f = nil
	}
	return firstErr
}

// childEnd is the end a child with descriptor target uses: the read end for
// stdin, the write end for stdout and stderr.
func (p *Pipe) childEnd(target int) *os.File {
	p.mu.Lock()
	defer p.mu.Unlock()
	if target == 0 {
		return p.r
	}
	return p.w
}

func (p *Pipe) parentEnd(target int) *os.File {
	if target == 0 {
		return p.Writer()
	}
	return p.Reader()
}

func (p *Pipe) closeChildEnd(target int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	end := &p.w
	if target == 0 {
		end = &p.r
	}
	if *end == nil {
		return nil
	}
	err := (*end).Close()
	*end = nil
	return err
}

// descriptor is the file the child gets as target. Inherited streams use
// the parent's own stdin, stdout or stderr.
func (s Stream) descriptor(target int) *os.File {
	switch s.kind {
	case streamPipe:
		return s.pipe.childEnd(target)
	case streamFile:
		return s.file
	}
	switch target {
	case 0:
		return os.Stdin
	case 1:
		return os.Stdout
	default:
		return os.Stderr
	}
}
