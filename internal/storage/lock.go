package storage

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
)

// FileLock is an exclusive flock on <path>.lock. The mutex serialises
// holders in this process; flock excludes other processes. The lock file is
// left in place on unlock, since removing it would let a waiter lock a stale
// inode. While held it contains the holder's pid.
type FileLock struct {
	path string
	mu   sync.Mutex
	file *os.File
}

// NewFileLock creates a lock for path. Nothing is opened until it is taken.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Lock blocks until the lock is held.
func (l *FileLock) Lock() error {
	l.mu.Lock()
	if err := l.acquire(syscall.LOCK_EX); err != nil {
		l.mu.Unlock()
		return err
	}
	return nil
}

// TryLock takes the lock only if no one else holds it.
func (l *FileLock) TryLock() bool {
	if !l.mu.TryLock() {
		return false
	}
	if err := l.acquire(syscall.LOCK_EX | syscall.LOCK_NB); err != nil {
		l.mu.Unlock()
		return false
	}
	return true
}

func (l *FileLock) acquire(how int) error {
	f, err := os.OpenFile(l.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return err
	}
	if err := syscall.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		return err
	}
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0)
	}
	l.file = f
	return nil
}

// Unlock releases the lock. Unlocking a lock that is not held is a no-op.
func (l *FileLock) Unlock() error {
	if l.file == nil {
		return nil
	}
	_ = l.file.Truncate(0)
	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	l.mu.Unlock()
	return err
}

// Remove deletes the lock file of a held lock. The lock stays held until
// Unlock. Only remove it once the guarded resource is gone.
func (l *FileLock) Remove() error {
	if l.file == nil {
		return nil
	}
	if err := os.Remove(l.path + ".lock"); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Holder returns the pid recorded in the lock file of path, if any.
func Holder(path string) (int, bool) {
	data, err := os.ReadFile(path + ".lock")
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}
