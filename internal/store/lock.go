package store

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// fileLock is a per-session advisory lock backed by flock(2). It
// prevents two processes from racing on the same store file, enforcing
// a single writer per session.
type fileLock struct {
	f *os.File
}

// acquireFileLock opens (creating if needed) the lock file at path and
// takes a non-blocking exclusive flock. It fails fast with a
// descriptive error if another process already holds it.
func acquireFileLock(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("another process holds the session lock on %s: %w", path, err)
	}

	return &fileLock{f: f}, nil
}

// Release unlocks and closes the lock file.
func (l *fileLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return l.f.Close()
}
