package excl

import (
	"errors"
	"fmt"
	"os"

	"github.com/edoenges/runexcl/cpuset"
	"github.com/edoenges/runexcl/sysfs"
	"github.com/sirupsen/logrus"
)

// PartitionType is one of the two cpuset partition types this package
// manages: root, or isolated (a root partition whose CPUs are additionally
// pulled out of the scheduler's load-balancing domains).
type PartitionType string

const (
	PartitionRoot     PartitionType = "root"
	PartitionIsolated PartitionType = "isolated"
)

// CpuCGroup is a per-invocation cpuset cgroup directory created under an
// ExclusionSlice, named runexcl.<mask-as-list>. It is grounded on the
// CPUCGroup class in _examples/original_source/CPUCGroup.{hpp,cpp}.
type CpuCGroup struct {
	slice     *ExclusionSlice
	path      string
	mask      cpuset.CpuMask
	partition PartitionType
}

// Create reserves mask against slice, creates the child cgroup directory,
// writes mask to cpuset.cpus, and sets the partition type to root,
// verifying the kernel accepted it via readback (spec §4.3's construction
// steps (1)-(4)). Any failure after the reservation is held releases it
// before returning; any failure after the directory is created also
// removes the directory.
func Create(slice *ExclusionSlice, mask cpuset.CpuMask) (*CpuCGroup, error) {
	if err := slice.Reserve(mask); err != nil {
		return nil, err
	}

	path := slice.Path() + "/runexcl." + mask.String()
	if err := os.Mkdir(path, 0o755); err != nil {
		if relErr := slice.Release(mask); relErr != nil {
			logrus.WithError(relErr).Warn("excl: releasing reservation after failed mkdir")
		}
		return nil, &sysfs.IoError{Path: path, Op: "mkdir", Err: err}
	}

	g := &CpuCGroup{slice: slice, path: path, mask: mask}

	if err := sysfs.Overwrite(path+"/cpuset.cpus", mask.String()); err != nil {
		g.abortCreate()
		return nil, err
	}
	if err := g.setPartitionType(PartitionRoot); err != nil {
		g.abortCreate()
		return nil, err
	}

	return g, nil
}

// abortCreate rmdirs the half-created group directory and releases the
// reservation, used when Create fails after the directory already exists.
func (g *CpuCGroup) abortCreate() {
	if err := os.Remove(g.path); err != nil {
		logrus.WithError(err).Warn("excl: removing cgroup after failed create")
	}
	if err := g.slice.Release(g.mask); err != nil {
		logrus.WithError(err).Warn("excl: releasing reservation after failed create")
	}
}

// Isolate switches the partition type between root and isolated.
func (g *CpuCGroup) Isolate(enable bool) error {
	if enable {
		return g.setPartitionType(PartitionIsolated)
	}
	return g.setPartitionType(PartitionRoot)
}

func (g *CpuCGroup) setPartitionType(want PartitionType) error {
	path := g.path + "/cpuset.cpus.partition"
	got, ok, err := sysfs.ReadBackAndVerify(path, string(want), string(want))
	if err != nil {
		return err
	}
	if !ok {
		return &KernelRejection{Path: path, Wanted: string(want), Reason: got}
	}
	g.partition = want
	return nil
}

// Attach appends pid to cgroup.procs.
func (g *CpuCGroup) Attach(pid int) error {
	return sysfs.Append(g.path+"/cgroup.procs", fmt.Sprintf("%d", pid))
}

// Path returns the cgroup's filesystem path.
func (g *CpuCGroup) Path() string { return g.path }

// Mask returns the CpuMask reserved for this group.
func (g *CpuCGroup) Mask() cpuset.CpuMask { return g.mask }

// Close removes the cgroup directory and releases the reservation from the
// slice's ledger, per spec §4.3's destruction semantics and the
// must-not-throw-during-teardown design note in spec §9. Unlike the
// original C++ destructor, which logs and swallows every error, Close is
// a fallible method: callers that care about teardown failures can inspect
// the returned error, while callers that only want best-effort cleanup may
// log it through logrus and move on, matching the original's behavior at
// the call site instead of baking it into the type.
func (g *CpuCGroup) Close() error {
	var errs []error
	if err := os.Remove(g.path); err != nil {
		errs = append(errs, fmt.Errorf("rmdir %q: %w", g.path, err))
	}
	if err := g.slice.Release(g.mask); err != nil {
		errs = append(errs, fmt.Errorf("releasing reservation %q: %w", g.mask.String(), err))
	}
	return errors.Join(errs...)
}
