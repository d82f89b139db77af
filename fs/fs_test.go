package fs

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFsWriteRead(t *testing.T) {
	f, err := Open(filepath.Join(t.TempDir(), "blob"))
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.Write([]byte("hello"), 0))
	require.NoError(t, f.Write([]byte("world"), 5))

	buf := make([]byte, 10)
	n, err := f.Read(buf, 0)
	require.NoError(t, err)
	require.Equal(t, 10, n)
	require.Equal(t, "helloworld", string(buf))
}

func TestFsReadPastEnd(t *testing.T) {
	f, err := Open(filepath.Join(t.TempDir(), "blob"))
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.Write([]byte("abc"), 0))

	// Reads past the data come back short, reads past the file empty.
	buf := make([]byte, 8)
	n, err := f.Read(buf, 1)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = f.Read(buf, 100)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestFsWriteBeyondEndGrowsFile(t *testing.T) {
	f, err := Open(filepath.Join(t.TempDir(), "blob"))
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.Write([]byte{1}, 99))

	size, err := f.Size()
	require.NoError(t, err)
	require.Equal(t, uint64(100), size)
}

func TestFsAppend(t *testing.T) {
	f, err := Open(filepath.Join(t.TempDir(), "blob"))
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.Append([]byte("one")))
	require.NoError(t, f.Append([]byte("two")))

	size, err := f.Size()
	require.NoError(t, err)
	require.Equal(t, uint64(6), size)

	buf := make([]byte, 6)
	_, err = f.Read(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "onetwo", string(buf))
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob")

	require.False(t, Exists(path))
	require.False(t, Exists(dir))

	f, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.True(t, Exists(path))
}
