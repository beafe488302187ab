package sysfs

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// LockError reports a non-retriable flock(2) failure.
type LockError struct {
	Path string
	Err  error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("sysfs: flock %q: %v", e.Path, e.Err)
}

func (e *LockError) Unwrap() error { return e.Err }

// AdvisoryLock is a scoped exclusive advisory lock on a file descriptor,
// grounded on the FileLock helper in
// _examples/original_source/CPUCGroup.cpp, which opens the target path
// O_RDONLY and holds flock(LOCK_EX) for its lifetime, retrying on EINTR.
//
// The teacher repo (nayuta-ai-simple_runc) already depends on
// golang.org/x/sys/unix for every other raw syscall it needs
// (unix.Statfs, unix.EINVAL, ...), so AdvisoryLock uses unix.Flock rather
// than pulling in a separate flock library such as github.com/gofrs/flock
// (see DESIGN.md).
type AdvisoryLock struct {
	file *os.File
}

// Lock opens path and blocks until an exclusive flock is acquired,
// retrying automatically when the underlying syscall is interrupted by a
// signal.
func Lock(path string) (*AdvisoryLock, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, &IoError{Path: path, Op: "open", Err: err}
	}

	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX)
		if err == nil {
			return &AdvisoryLock{file: f}, nil
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		f.Close()
		return nil, &LockError{Path: path, Err: err}
	}
}

// Unlock releases the lock and closes the underlying file descriptor. It is
// safe to call Unlock at most once; callers typically defer it immediately
// after a successful Lock.
func (l *AdvisoryLock) Unlock() error {
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	if err != nil {
		return &LockError{Path: l.file.Name(), Err: err}
	}
	if closeErr != nil {
		return &IoError{Path: l.file.Name(), Op: "close", Err: closeErr}
	}
	return nil
}
