// Package sysfs provides small, typed wrappers for reading and writing the
// virtual files exposed by cgroupfs and sysfs, plus an advisory file lock
// and a single-file change watcher built on inotify.
//
// The read/write/change-then-write helpers are grounded on sysfs_read,
// sysfs_write, and sysfs_change in _examples/original_source/sysfs.{hpp,cpp},
// re-expressed with Go's typed-error conventions the way
// _examples/nayuta-ai-simple_runc/libcontainer/cgroups/utils.go wraps every
// fallible filesystem operation in a path-carrying error
// (fmt.Errorf("...: %w", err)).
package sysfs

import (
	"fmt"
	"os"
	"strings"
)

// IoError reports a failed sysfs read or write, carrying the path that was
// attempted so the caller does not need to re-derive it from a bare errno.
type IoError struct {
	Path string
	Op   string
	Err  error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("sysfs: %s %q: %v", e.Op, e.Path, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

// Read reads the full contents of the file at path and trims surrounding
// whitespace (including the trailing newline), mirroring sysfs_read's use of the '>>' string
// extraction operator (which stops at whitespace) -- our sysfs consumers
// only ever read single-token or single-line files, so trimming surrounding
// whitespace is equivalent and avoids a bespoke tokenizer.
func Read(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", &IoError{Path: path, Op: "read", Err: err}
	}
	return strings.TrimSpace(string(b)), nil
}

// ReadLine reads the first line of the file at path without trimming
// internal whitespace, for files such as cgroup.events whose value is
// meaningful as a whole line (spec §4.3's WaitEmpty).
func ReadLine(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", &IoError{Path: path, Op: "read", Err: err}
	}
	line := string(b)
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	return line, nil
}

// Overwrite truncates the file at path and writes value to it, mirroring
// sysfs_write.
func Overwrite(path string, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return &IoError{Path: path, Op: "open", Err: err}
	}
	defer f.Close()
	if _, err := f.WriteString(value); err != nil {
		return &IoError{Path: path, Op: "write", Err: err}
	}
	return nil
}

// Append appends value to the file at path without truncating, used for
// cgroup.procs, where each write is interpreted by the kernel as "add this
// one pid" rather than "replace the file's contents."
func Append(path string, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return &IoError{Path: path, Op: "open", Err: err}
	}
	defer f.Close()
	if _, err := f.WriteString(value); err != nil {
		return &IoError{Path: path, Op: "write", Err: err}
	}
	return nil
}

// ReadThenWrite reads the current contents of the file at path, then writes
// value to it, returning the old contents. Mirrors sysfs_change, used by
// the AMD P-state driver to record and flip amd_pstate/status in a single
// round trip.
func ReadThenWrite(path string, value string) (old string, err error) {
	old, err = Read(path)
	if err != nil {
		return "", err
	}
	if err := Overwrite(path, value); err != nil {
		return "", err
	}
	return old, nil
}

// ReadBackAndVerify writes value to path, then reads it back and compares
// against want (after trimming). This is used for cpuset.cpus.partition,
// where the kernel may silently refuse a requested partition type and
// report why via the readback rather than via the write's return value
// (spec §4.3's construction step (4)).
func ReadBackAndVerify(path, value, want string) (got string, ok bool, err error) {
	if err := Overwrite(path, value); err != nil {
		return "", false, err
	}
	got, err = Read(path)
	if err != nil {
		return "", false, err
	}
	return got, got == want, nil
}
