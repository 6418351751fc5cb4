//go:build !unix

package storage

import "sync"

// FileLock degrades to an in-process mutex on platforms without flock.
type FileLock struct {
	mu sync.Mutex
}

// NewFileLock creates a new file lock guarding path.
func NewFileLock(path string) *FileLock {
	return &FileLock{}
}

// Lock acquires the lock.
func (l *FileLock) Lock() error {
	l.mu.Lock()
	return nil
}

// Unlock releases the lock.
func (l *FileLock) Unlock() error {
	l.mu.Unlock()
	return nil
}
