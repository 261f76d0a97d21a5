// Package lockfile wraps github.com/gofrs/flock to provide the advisory,
// file-based mutual exclusion compaction uses to guarantee only one merge
// runs against a database directory at a time, matching the embedding
// pattern the prologic/bitcask lineage uses around the same library.
package lockfile

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

// ErrLocked is returned by TryLock when another holder already has the lock.
var ErrLocked = errors.New("lockfile: already locked")

// Lock is a single advisory lock file.
type Lock struct {
	fl *flock.Flock
}

// New returns a Lock bound to path. The file is created on first TryLock if
// it does not already exist.
func New(path string) *Lock {
	return &Lock{fl: flock.New(path)}
}

// TryLock attempts to acquire the lock without blocking. It returns
// ErrLocked if another process or goroutine already holds it.
func (l *Lock) TryLock() error {
	locked, err := l.fl.TryLock()
	if err != nil {
		return fmt.Errorf("lockfile: %w", err)
	}
	if !locked {
		return ErrLocked
	}
	return nil
}

// Unlock releases the lock. It is safe to call even if TryLock was never
// called or already failed.
func (l *Lock) Unlock() error {
	return l.fl.Unlock()
}

// Path returns the path of the underlying lock file.
func (l *Lock) Path() string {
	return l.fl.Path()
}
