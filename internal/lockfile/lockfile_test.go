package lockfile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTryLockAndUnlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tick.lock")

	lock, err := TryLock(path)
	require.NoError(t, err)
	require.FileExists(t, path)

	_, err = TryLock(path)
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, lock.Unlock())
	require.FileExists(t, path)

	lock2, err := TryLock(path)
	require.NoError(t, err)
	require.NoError(t, lock2.Unlock())
}

func TestTryLockStealsStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tick.lock")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(999999999)), 0644))

	lock, err := TryLock(path)
	require.NoError(t, err)
	require.NoError(t, lock.Unlock())
}
