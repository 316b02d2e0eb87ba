// Package lock provides the file locks shared between autohost processes:
// the per-instance lock, the archive-cache (unitsync) lock gating both
// archive enumeration and game launch, and the auto-update lock shared by
// instances running from a common installation directory.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// FileLock is an exclusive advisory lock backed by flock(2). Locks taken
// through separate FileLock values (or separate opens) conflict even
// inside one process, which is what gates the archive cache between the
// loader worker and a game launch.
type FileLock struct {
	path string

	mu sync.Mutex
	f  *os.File
}

// New prepares a lock on path without acquiring it.
func New(path string) *FileLock {
	return &FileLock{path: path}
}

// Path returns the lock file path.
func (l *FileLock) Path() string { return l.path }

// TryAcquire attempts a non-blocking exclusive lock.
// Returns false (no error) when another process holds it.
func (l *FileLock) TryAcquire() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return false, fmt.Errorf("opening lock file %s: %w", l.path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return false, nil
		}
		return false, fmt.Errorf("locking %s: %w", l.path, err)
	}
	// The descriptor must not leak into spawned children: a child inheriting
	// the flock would keep the archive cache locked past our lifetime.
	unix.CloseOnExec(int(f.Fd()))
	l.mu.Lock()
	l.f = f
	l.mu.Unlock()
	return true, nil
}

// Acquire blocks until the lock is obtained or timeout elapses.
func (l *FileLock) Acquire(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := l.TryAcquire()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("acquiring %s: timed out after %s", l.path, timeout)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// Release drops the lock. Safe to call when not held.
func (l *FileLock) Release() error {
	l.mu.Lock()
	f := l.f
	l.f = nil
	l.mu.Unlock()
	if f == nil {
		return nil
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		f.Close()
		return fmt.Errorf("unlocking %s: %w", l.path, err)
	}
	return f.Close()
}

// Held reports whether this FileLock value currently holds the lock.
func (l *FileLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f != nil
}

// TryWithBackoff retries op until it succeeds, up to maxTries attempts
// separated by delay.
func TryWithBackoff(op func() error, maxTries int, delay time.Duration) error {
	var err error
	for i := 0; i < maxTries; i++ {
		if err = op(); err == nil {
			return nil
		}
		if i < maxTries-1 {
			time.Sleep(delay)
		}
	}
	return err
}

// Instance couples the instance lock with a PID file so that a losing
// process can report who owns the directory.
type Instance struct {
	lock    *FileLock
	pidPath string
}

// NewInstance prepares the instance lock for dir.
func NewInstance(dir string) *Instance {
	return &Instance{
		lock:    New(filepath.Join(dir, "autohost.lock")),
		pidPath: filepath.Join(dir, "autohost.pid"),
	}
}

// Acquire takes the instance lock and writes the PID file.
// On conflict it returns ErrConflict wrapped with the holder's PID.
func (i *Instance) Acquire() error {
	ok, err := i.lock.TryAcquire()
	if err != nil {
		return err
	}
	if !ok {
		pid := i.holderPID()
		return fmt.Errorf("%w: held by PID %d", ErrConflict, pid)
	}
	err = TryWithBackoff(func() error {
		return os.WriteFile(i.pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
	}, 3, 200*time.Millisecond)
	if err != nil {
		i.lock.Release()
		return fmt.Errorf("writing pid file: %w", err)
	}
	return nil
}

func (i *Instance) holderPID() int {
	data, err := os.ReadFile(i.pidPath)
	if err != nil {
		return 0
	}
	pid, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	return pid
}

// Release drops the lock and removes the PID file.
func (i *Instance) Release() {
	os.Remove(i.pidPath)
	i.lock.Release()
}

// ErrConflict indicates another instance owns the directory.
var ErrConflict = errors.New("instance lock conflict")
