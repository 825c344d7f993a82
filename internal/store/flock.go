package store

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

const lockFileName = ".lock"

// fileLock provides cross-process mutual exclusion over one plan directory
// using flock(2). Writers take it exclusively; readers take it shared so a
// reader never observes the window between two renames of a multi-file save.
type fileLock struct {
	path string
	file *os.File
}

func newFileLock(dir string) *fileLock {
	return &fileLock{path: filepath.Join(dir, lockFileName)}
}

// Lock acquires an exclusive lock, blocking until available.
func (fl *fileLock) Lock() error {
	return fl.acquire(syscall.LOCK_EX)
}

// RLock acquires a shared lock, blocking until available.
func (fl *fileLock) RLock() error {
	return fl.acquire(syscall.LOCK_SH)
}

func (fl *fileLock) acquire(how int) error {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), how); err != nil {
		_ = f.Close()
		return fmt.Errorf("flock: %w", err)
	}
	fl.file = f
	return nil
}

// Unlock releases the lock and closes the lock file.
func (fl *fileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}
	defer func() { fl.file = nil }()

	if err := syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = fl.file.Close()
		return fmt.Errorf("funlock: %w", err)
	}
	return fl.file.Close()
}
