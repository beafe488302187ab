//go:build linux

package excl

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// cloneArgs mirrors struct clone_args from <linux/sched.h>, as used by
// clone3(2). golang.org/x/sys/unix does not expose a typed wrapper for
// clone3 in the version this module pins, so the struct and syscall number
// are defined directly here, the same way
// _examples/original_source/CPUCGroup.cpp includes <linux/sched.h> for the
// struct definition and invokes the raw syscall via ::syscall(__NR_clone3, ...).
type cloneArgs struct {
	flags      uint64
	pidfd      uint64
	childTID   uint64
	parentTID  uint64
	exitSignal uint64
	stack      uint64
	stackSize  uint64
	tls        uint64
	setTID     uint64
	setTIDSize uint64
	cgroup     uint64
}

// CloneInto spawns a new process directly into the cgroup using clone3's
// CLONE_INTO_CGROUP facility. extraFlags are forwarded verbatim (namespace,
// filesystem, signal-handling, vfork flags, etc.) and are not validated,
// matching spec §4.3's CloneInto contract. It returns the child's pid to
// the parent and 0 to the child, exactly like fork/clone conventions.
//
// Like a raw fork(2), the child comes out of this call as a single OS
// thread with a copy of the parent's address space (under CLONE_VFORK the
// parent is suspended until the child execs or exits), while every other
// goroutine-backing thread is left behind. Callers on the child branch must keep working
// between here and exec to an absolute minimum and assume the allocator,
// GC, and scheduler are in an inconsistent state until exec replaces the
// image.
func (g *CpuCGroup) CloneInto(extraFlags uintptr) (pid int, isChild bool, err error) {
	fd, err := unix.Open(g.path, unix.O_PATH, 0)
	if err != nil {
		return 0, false, &CloneError{Err: err}
	}
	defer unix.Close(fd)

	args := cloneArgs{
		flags:      uint64(unix.CLONE_INTO_CGROUP) | uint64(extraFlags),
		exitSignal: uint64(unix.SIGCHLD),
		cgroup:     uint64(fd),
	}

	ret, _, errno := unix.Syscall(unix.SYS_CLONE3, uintptr(unsafe.Pointer(&args)), unsafe.Sizeof(args), 0)
	if errno != 0 {
		return 0, false, &CloneError{Err: errno}
	}

	child := int(ret)
	if child == 0 {
		return 0, true, nil
	}
	return child, false, nil
}

// WaitEmpty blocks until the cgroup's cgroup.events reports populated 0,
// i.e. no processes remain in the group or any of its descendants. This
// tolerates grandchildren that outlive the direct child, per spec §4.3.
func (g *CpuCGroup) WaitEmpty() error {
	eventsPath := g.path + "/cgroup.events"

	watcher, err := openChangeWatcher(eventsPath)
	if err != nil {
		return err
	}
	defer watcher.Close()

	for {
		populated, err := readPopulated(eventsPath)
		if err != nil {
			return err
		}
		if !populated {
			return nil
		}
		if err := watcher.Wait(); err != nil {
			return err
		}
	}
}
