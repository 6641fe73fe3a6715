package spawn

import (
	"errors"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestMarshal_ForcesArgvZeroToPath(t *testing.T) {
	b, err := Marshal("/bin/echo", []string{"hello", "world"}, []string{"A=1"}, "/tmp")
	require.NoError(t, err)
	defer b.Release()

	require.Equal(t, "/bin/echo", b.Path())
	require.Equal(t, []string{"/bin/echo", "hello", "world"}, b.ArgvStrings())
	require.Equal(t, []string{"A=1"}, b.EnvpStrings())
	require.Equal(t, "/tmp", b.Dir())
}

func TestMarshal_PointerArraysAreNilTerminated(t *testing.T) {
	b, err := Marshal("/bin/true", []string{"x"}, []string{"K=V"}, "")
	require.NoError(t, err)
	defer b.Release()

	argv := b.Argv()
	require.Len(t, argv, 3)
	require.Nil(t, argv[2])
	require.Equal(t, "/bin/true", unix.BytePtrToString(argv[0]))
	require.Equal(t, "x", unix.BytePtrToString(argv[1]))

	envp := b.Envp()
	require.Len(t, envp, 2)
	require.Nil(t, envp[1])
	require.Equal(t, "K=V", unix.BytePtrToString(envp[0]))

	require.Nil(t, b.DirPtr())
	require.Equal(t, "/bin/true", unix.BytePtrToString(b.PathPtr()))

	// each buffer carries its own terminator
	last := unsafe.Slice(argv[1], 2)
	require.Equal(t, byte(0), last[1])
}

func TestMarshal_EmptyEnvironmentStillTerminated(t *testing.T) {
	b, err := Marshal("/bin/true", nil, nil, "")
	require.NoError(t, err)
	defer b.Release()

	require.Equal(t, []*byte{nil}, b.Envp())
	require.Empty(t, b.EnvpStrings())
}

func TestMarshal_RejectsEmbeddedNUL(t *testing.T) {
	cases := map[string]struct {
		path string
		args []string
		env  []string
		dir  string
	}{
		"path":     {path: "/bin/\x00true"},
		"argument": {path: "/bin/true", args: []string{"ok", "b\x00d"}},
		"env":      {path: "/bin/true", env: []string{"A=\x00"}},
		"dir":      {path: "/bin/true", dir: "/t\x00mp"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			b, err := Marshal(tc.path, tc.args, tc.env, tc.dir)
			require.Nil(t, b)
			require.ErrorIs(t, err, ErrConfiguration)
			require.ErrorIs(t, err, unix.EINVAL)

			var se *Error
			require.True(t, errors.As(err, &se))
			require.Equal(t, StageMarshal, se.Stage)
			require.Contains(t, se.Error(), `\x00`)
		})
	}
}

func TestMarshal_RequiresPath(t *testing.T) {
	_, err := Marshal("", []string{"a"}, nil, "")
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestArgBlock_ReleaseIsIdempotent(t *testing.T) {
	b, err := Marshal("/bin/true", []string{"a"}, []string{"A=1"}, "/")
	require.NoError(t, err)
	require.False(t, b.Released())

	b.Release()
	b.Release()
	require.True(t, b.Released())
	require.Nil(t, b.Argv())
	require.Nil(t, b.Envp())
	require.Nil(t, b.PathPtr())
	require.Equal(t, "", b.Path())

	var nilBlock *ArgBlock
	nilBlock.Release()
	require.True(t, nilBlock.Released())
}

func TestEnvList_SortedAndValidated(t *testing.T) {
	env, err := EnvList(map[string]string{"B": "2", "A": "1", "EMPTY": ""})
	require.NoError(t, err)
	require.Equal(t, []string{"A=1", "B=2", "EMPTY="}, env)

	_, err = EnvList(map[string]string{"A=B": "x"})
	require.ErrorIs(t, err, ErrConfiguration)

	_, err = EnvList(map[string]string{"": "x"})
	require.ErrorIs(t, err, ErrConfiguration)
}
