package byteio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteAtIsStagedUntilCommit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vol.DRI")

	f, err := Open(path, os.O_RDWR|os.O_CREATE, 0o600)
	require.NoError(t, err)
	defer f.Close()

	f.WriteAt([]byte("hello"), 0)

	buf := make([]byte, 5)
	_, err = f.ReadAt(buf, 0)
	require.Error(t, err, "uncommitted writes must not be visible to ReadAt")

	require.NoError(t, f.Commit())

	_, err = f.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf))
}

func TestAppendTracksStagedExtent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vol.DRI")

	f, err := Open(path, os.O_RDWR|os.O_CREATE, 0o600)
	require.NoError(t, err)
	defer f.Close()

	off1, err := f.Append([]byte("abc"))
	require.NoError(t, err)
	require.Equal(t, int64(0), off1)

	off2, err := f.Append([]byte("de"))
	require.NoError(t, err)
	require.Equal(t, int64(3), off2)

	require.NoError(t, f.Commit())

	size, err := f.Size()
	require.NoError(t, err)
	require.Equal(t, int64(5), size)
}

func TestLockRejectsSecondHolder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vol.DRI")

	f1, err := Open(path, os.O_RDWR|os.O_CREATE, 0o600)
	require.NoError(t, err)
	defer f1.Close()
	require.NoError(t, f1.Lock())

	f2, err := Open(path, os.O_RDWR, 0o600)
	require.NoError(t, err)
	defer f2.Close()

	err = f2.Lock()
	require.Error(t, err)
}
