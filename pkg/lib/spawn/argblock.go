package spawn

import (
	"sort"
	"strings"

	"golang.org/x/sys/unix"
)

// ArgBlock owns the NUL-terminated buffers handed to an Engine: the executable
// path, argv, envp and an optional working directory. argv[0] is always the
// path. Release must be called once the engine returns; the Handle defers it
// right after Marshal so every exit path releases.
type ArgBlock struct {
	path []byte
	argv [][]byte
	envp [][]byte
	dir  []byte

	released bool
}

// Marshal validates and copies the given strings into an ArgBlock.
// env entries must already be in KEY=VALUE form; see EnvList.
// Any string carrying an embedded NUL is a configuration error.
func Marshal(path string, args []string, env []string, dir string) (*ArgBlock, error) {
	if path == "" {
		return nil, ConfigurationError(StageValidate, "executable path is required")
	}

	b := &ArgBlock{}
	var err error
	if b.path, err = cstring(path, "path"); err != nil {
		return nil, err
	}

	b.argv = make([][]byte, 0, len(args)+1)
	b.argv = append(b.argv, b.path)
	for _, a := range args {
		buf, err := cstring(a, "argument")
		if err != nil {
			b.Release()
			return nil, err
		}
		b.argv = append(b.argv, buf)
	}

	b.envp = make([][]byte, 0, len(env))
	for _, kv := range env {
		buf, err := cstring(kv, "environment entry")
		if err != nil {
			b.Release()
			return nil, err
		}
		b.envp = append(b.envp, buf)
	}

	if dir != "" {
		if b.dir, err = cstring(dir, "working directory"); err != nil {
			b.Release()
			return nil, err
		}
	}
	return b, nil
}

// EnvList renders an environment map as sorted KEY=VALUE entries.
// Keys must be non-empty and must not contain '='.
func EnvList(env map[string]string) ([]string, error) {
	keys := make([]string, 0, len(env))
	for k := range env {
		if k == "" || strings.ContainsRune(k, '=') {
			return nil, ConfigurationError(StageMarshal, "invalid environment key "+quote(k))
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out, nil
}

// Release drops every owned buffer. It is safe to call more than once.
func (b *ArgBlock) Release() {
	if b == nil || b.released {
		return
	}
	b.path = nil
	b.argv = nil
	b.envp = nil
	b.dir = nil
	b.released = true
}

// Released reports whether Release has been called.
func (b *ArgBlock) Released() bool {
	return b == nil || b.released
}

// PathPtr returns the NUL-terminated executable path, or nil once released.
func (b *ArgBlock) PathPtr() *byte {
	return firstByte(b.path)
}

// DirPtr returns the NUL-terminated working directory, or nil when unset.
func (b *ArgBlock) DirPtr() *byte {
	return firstByte(b.dir)
}

// Argv returns a nil-terminated array of pointers into the argv buffers.
func (b *ArgBlock) Argv() []*byte {
	return ptrArray(b.argv)
}

// Envp returns a nil-terminated array of pointers into the envp buffers.
func (b *ArgBlock) Envp() []*byte {
	return ptrArray(b.envp)
}

// Path returns the executable path without its terminator.
func (b *ArgBlock) Path() string {
	return gostring(b.path)
}

// Dir returns the working directory without its terminator.
func (b *ArgBlock) Dir() string {
	return gostring(b.dir)
}

// ArgvStrings returns argv as Go strings, for engines built on the syscall package.
func (b *ArgBlock) ArgvStrings() []string {
	return gostrings(b.argv)
}

// EnvpStrings returns envp as Go strings.
func (b *ArgBlock) EnvpStrings() []string {
	return gostrings(b.envp)
}

func cstring(s, what string) ([]byte, error) {
	buf, err := unix.ByteSliceFromString(s)
	if err != nil {
		e := ConfigurationError(StageMarshal, what+" contains NUL byte: "+quote(s))
		e.Errno = unix.EINVAL
		return nil, e
	}
	return buf, nil
}

func firstByte(buf []byte) *byte {
	if len(buf) == 0 {
		return nil
	}
	return &buf[0]
}

func ptrArray(bufs [][]byte) []*byte {
	if bufs == nil {
		return nil
	}
	out := make([]*byte, len(bufs)+1)
	for i, buf := range bufs {
		out[i] = &buf[0]
	}
	return out
}

func gostring(buf []byte) string {
	if len(buf) == 0 {
		return ""
	}
	return string(buf[:len(buf)-1])
}

func gostrings(bufs [][]byte) []string {
	if bufs == nil {
		return nil
	}
	out := make([]string, len(bufs))
	for i, buf := range bufs {
		out[i] = gostring(buf)
	}
	return out
}

func quote(s string) string {
	return strings.ReplaceAll(`"`+s+`"`, "\x00", `\x00`)
}
