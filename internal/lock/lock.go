// Package lock guarantees a single daemon instance per state directory.
package lock

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned by TryLock when another process holds the lock.
var ErrLocked = errors.New("lock held by another process")

type FileLock struct {
	path string
	file *os.File
}

func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// TryLock takes an exclusive non-blocking flock and writes the PID into the file.
func (fl *FileLock) TryLock() error {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return fmt.Errorf("%s: %w", fl.path, ErrLocked)
		}
		return fmt.Errorf("acquire lock: %w", err)
	}

	release := func(err error) error {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
		return err
	}
	if err := f.Truncate(0); err != nil {
		return release(fmt.Errorf("truncate lock file: %w", err))
	}
	if _, err := f.Seek(0, 0); err != nil {
		return release(fmt.Errorf("seek lock file: %w", err))
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return release(fmt.Errorf("write PID to lock file: %w", err))
	}
	if err := f.Sync(); err != nil {
		return release(fmt.Errorf("sync lock file: %w", err))
	}

	fl.file = f
	return nil
}

func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}
	if err := unix.Flock(int(fl.file.Fd()), unix.LOCK_UN); err != nil {
		_ = fl.file.Close()
		fl.file = nil
		return fmt.Errorf("release lock: %w", err)
	}
	if err := fl.file.Close(); err != nil {
		fl.file = nil
		return fmt.Errorf("close lock file: %w", err)
	}
	_ = os.Remove(fl.path)
	fl.file = nil
	return nil
}
