// Package process serializes mutating commands on one install directory
// with an advisory flock(2) lock.
package process

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("another tunnelgate process holds the install lock")

// LockError reports a failed acquisition with the holder's PID when known.
type LockError struct {
	Path      string
	HolderPID int
	Err       error
}

func (e *LockError) Error() string {
	if e.HolderPID > 0 {
		return fmt.Sprintf("lock %s: held by pid %d: %v", e.Path, e.HolderPID, e.Err)
	}
	return fmt.Sprintf("lock %s: %v", e.Path, e.Err)
}

func (e *LockError) Unwrap() error {
	return e.Err
}

// Lock is an exclusive lock on a file. The holder's PID is written into the
// file for diagnostics. The kernel drops the lock if the process dies.
type Lock struct {
	path string
	file *os.File
}

// NewLock returns an unacquired lock on path.
func NewLock(path string) *Lock {
	return &Lock{path: path}
}

// Acquire takes the lock without blocking. It fails with ErrLocked when
// another process holds it.
func (l *Lock) Acquire() error {
	if l.file != nil {
		return nil
	}

	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return &LockError{Path: l.path, Err: err}
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		pid := readPID(f)
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return &LockError{Path: l.path, HolderPID: pid, Err: ErrLocked}
		}
		return &LockError{Path: l.path, Err: err}
	}

	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}

	l.file = f
	return nil
}

// Release drops the lock. It is safe to call when not held.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	_ = l.file.Truncate(0)
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	if err != nil && !errors.Is(err, fs.ErrClosed) {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	return nil
}

// Held reports whether this Lock holds the lock.
func (l *Lock) Held() bool {
	return l.file != nil
}

func readPID(f *os.File) int {
	buf := make([]byte, 32)
	n, _ := f.ReadAt(buf, 0)
	pid, err := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if err != nil {
		return 0
	}
	return pid
}
