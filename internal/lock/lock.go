// Package lock keeps two savekeep processes from writing to one archive.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another process holds the archive lock.
var ErrLocked = errors.New("archive is in use by another savekeep process")

type Lock struct {
	file *flock.Flock
}

// Acquire takes the lock at path without waiting, creating its folder if needed.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (lock: %s)", ErrLocked, path)
	}
	return &Lock{file: lock}, nil
}

func (l *Lock) Path() string {
	if l == nil || l.file == nil {
		return ""
	}
	return l.file.Path()
}

// Release frees the lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Unlock()
}
