// Package lockfile gives one scheduler tick (and one per-blueprint spawn
// attempt) exclusive access to a data directory: only one process may
// touch a given file at a time. Uses golang.org/x/sys/unix's flock(2)
// directly, the same package bbolt itself pulls in for its file locking,
// rather than a bbolt-specific API this package has no reason to depend on.
package lockfile

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned by TryLock when another live process holds the
// lock.
var ErrLocked = errors.New("lockfile: already locked")

// Lock is a held exclusive flock on path. Release it with Unlock.
type Lock struct {
	file *os.File
}

// TryLock attempts a non-blocking exclusive flock on path, creating the file
// if needed. The lock is held for the life of the open file descriptor: if
// this process dies, the kernel releases it automatically, so there is no
// stale-lock detection to implement — unlike a pid-in-a-file convention,
// flock can never go stale.
func TryLock(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("lockfile: open %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("lockfile: flock %s: %w", path, err)
	}

	return &Lock{file: f}, nil
}

// Unlock releases the lock and closes the underlying file descriptor.
func (l *Lock) Unlock() error {
	defer l.file.Close()
	return unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
}
