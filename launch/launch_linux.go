//go:build linux

package launch

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"syscall"

	"github.com/edoenges/runexcl/cpuset"
	"github.com/edoenges/runexcl/excl"
	"github.com/edoenges/runexcl/freqctl"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// terminationSignals are the signals the parent blocks from before slice
// setup until after teardown, per spec §4.5/§5. SIGQUIT is deliberately
// left unblocked as a debugger escape -- killing runexcl with SIGQUIT
// skips teardown entirely, matching original_source/runexcl.cpp's comment
// on the same line.
var terminationSignals = []unix.Signal{unix.SIGINT, unix.SIGTERM, unix.SIGHUP}

// Run executes the full launch protocol for cfg and returns the exit code
// the process should report: the child's exit code on a clean exit, or
// 128+signal if the child died from a signal (spec §9 open question (2),
// resolved in SPEC_FULL.md §4.5 as "exit code propagation").
func Run(cfg Config) (exitCode int, err error) {
	if err := cfg.Validate(); err != nil {
		return 1, err
	}

	// clone3 only duplicates the calling OS thread, not the whole process's
	// thread pool, so the sequence from here through CloneInto must stay
	// pinned to one OS thread: the signal mask we install has to be the one
	// actually in effect when clone3 runs, and the child must come out of
	// clone3 on the same thread whose mask it inherited.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	oldMask, err := blockSignals(terminationSignals)
	if err != nil {
		return 1, fmt.Errorf("launch: blocking signals: %w", err)
	}

	slice, err := excl.Setup()
	if err != nil {
		return 1, err
	}

	group, err := excl.Create(slice, cfg.Mask)
	if err != nil {
		return 1, err
	}

	if cfg.Isolate {
		if err := group.Isolate(true); err != nil {
			logTeardownErr(group.Close())
			return 1, err
		}
	}

	var controller *freqctl.Controller
	if cfg.Frequency != nil {
		controller, err = freqctl.SetFrequency(cfg.Mask, *cfg.Frequency)
		if err != nil && !errors.Is(err, freqctl.ErrNoDriver) {
			if controller != nil {
				logTeardownErr(controller.Close())
			}
			logTeardownErr(group.Close())
			return 1, err
		}
	}

	pid, isChild, err := group.CloneInto(unix.CLONE_VFORK)
	if err != nil {
		if controller != nil {
			logTeardownErr(controller.Close())
		}
		logTeardownErr(group.Close())
		return 1, err
	}

	if isChild {
		// No defer, no destructors: a failure here reports to stderr and
		// exits without running any parent teardown, per spec §4.5's
		// child-path contract.
		runChild(cfg, oldMask)
		// runChild never returns on success (it execs); if we get here it
		// failed and already reported + exited.
		unix.Exit(1)
	}

	waitStatus, waitErr := waitForChild(pid)

	emptyErr := group.WaitEmpty()

	if controller != nil {
		logTeardownErr(controller.Close())
	}
	logTeardownErr(group.Close())

	if waitErr != nil {
		return 1, fmt.Errorf("launch: waitpid: %w", waitErr)
	}
	if emptyErr != nil {
		return 1, emptyErr
	}

	return childExitCode(waitStatus), nil
}

func logTeardownErr(err error) {
	if err != nil {
		logrus.WithError(err).Warn("launch: error during teardown")
	}
}

func blockSignals(sigs []unix.Signal) (old unix.Sigset_t, err error) {
	var set unix.Sigset_t
	for _, s := range sigs {
		addSignal(&set, s)
	}
	if err := unix.Sigprocmask(unix.SIG_SETMASK, &set, &old); err != nil {
		return unix.Sigset_t{}, err
	}
	return old, nil
}

func addSignal(set *unix.Sigset_t, sig unix.Signal) {
	// unix.Sigset_t is a fixed-size bitmap; Linux signal numbers are
	// 1-indexed.
	word := (sig - 1) / 64
	bit := (sig - 1) % 64
	set.Val[word] |= 1 << uint(bit)
}

func waitForChild(pid int) (unix.WaitStatus, error) {
	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &ws, 0, nil)
		if err == nil {
			return ws, nil
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return ws, err
	}
}

func childExitCode(ws unix.WaitStatus) int {
	switch {
	case ws.Exited():
		return ws.ExitStatus()
	case ws.Signaled():
		return 128 + int(ws.Signal())
	default:
		return 1
	}
}

// runChild runs entirely in the cloned child process. It sets the thread's
// CPU affinity (belt-and-braces -- the cgroup already restricts it), drops
// SUID privileges, closes inherited descriptors above stderr, restores the
// signal mask the parent had before blocking the termination signals, and
// execs the target command. Grounded on the child branch of main() in
// original_source/runexcl.cpp.
func runChild(cfg Config, oldMask unix.Sigset_t) {
	if err := setAffinity(cfg.Mask); err != nil {
		failChild("affinity", err)
	}

	if err := unix.Setgid(unix.Getgid()); err != nil {
		failChild("setgid", err)
	}
	if err := unix.Setuid(unix.Getuid()); err != nil {
		failChild("setuid", err)
	}

	if err := closeInheritedFDs(); err != nil {
		failChild("closing inherited file descriptors", err)
	}

	if err := unix.Sigprocmask(unix.SIG_SETMASK, &oldMask, nil); err != nil {
		failChild("restoring signal mask", err)
	}

	path, err := exec.LookPath(cfg.Command[0])
	if err != nil {
		failChild(cfg.Command[0], err)
	}
	if err := syscall.Exec(path, cfg.Command, os.Environ()); err != nil {
		failChild(cfg.Command[0], err)
	}
}

func failChild(what string, err error) {
	fmt.Fprintf(os.Stderr, "runexcl: %s: %v\n", what, err)
	unix.Exit(1)
}

// setAffinity sets the calling thread's CPU affinity to mask.
// golang.org/x/sys/unix.CPUSet is fixed at 1024 bits; CPUs beyond that are
// silently dropped from the affinity mask rather than failing the whole
// invocation, since the cgroup's own cpuset already constrains scheduling
// to the reserved CPUs regardless (spec §4.5 calls affinity
// "belt-and-braces").
func setAffinity(mask cpuset.CpuMask) error {
	var set unix.CPUSet
	set.Zero()
	for cpu := mask.First(); cpu != -1 && cpu < len(set)*64; {
		set.Set(cpu)
		next := -1
		for c := cpu + 1; c < mask.MaxCPUs(); c++ {
			if mask.IsSet(c) {
				next = c
				break
			}
		}
		cpu = next
	}
	return unix.SchedSetaffinity(0, &set)
}

// closeInheritedFDs closes every open file descriptor above stderr except
// the one backing the /proc/self/fd directory iteration itself, mirroring
// the opendir/dirfd loop in original_source/runexcl.cpp.
func closeInheritedFDs() error {
	dir, err := os.Open("/proc/self/fd")
	if err != nil {
		return err
	}
	defer dir.Close()

	dirFD := int(dir.Fd())
	names, err := dir.Readdirnames(-1)
	if err != nil {
		return err
	}
	for _, name := range names {
		fd, err := strconv.Atoi(name)
		if err != nil {
			continue
		}
		if fd > 2 && fd != dirFD {
			unix.Close(fd)
		}
	}
	return nil
}
