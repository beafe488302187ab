// Package excl implements the exclusion slice and per-invocation cpuset
// cgroup that give a runexcl invocation exclusive ownership of a subset of
// host CPUs.
//
// ExclusionSlice is grounded on CPUCGroup::setupSlice and the reservation
// bookkeeping in _examples/original_source/CPUCGroup.cpp, generalized the
// way _examples/nayuta-ai-simple_runc/libcontainer/cgroups/utils.go
// generalizes cgroup v2 mountpoint/controller detection: typed errors that
// carry the attempted path, golang.org/x/sys/unix for every raw syscall,
// and github.com/sirupsen/logrus for anything that must be logged rather
// than propagated.
package excl

import (
	"fmt"
	"os"

	"github.com/edoenges/runexcl/cpuset"
	"github.com/edoenges/runexcl/sysfs"
)

const (
	// CgroupRoot is the cgroup v2 mountpoint, matching CGROUP_ROOT in
	// original_source/CPUCGroup.hpp.
	CgroupRoot = "/sys/fs/cgroup"

	// sliceName is the directory name of the exclusion slice under
	// CgroupRoot, matching RUNEXCL_SLICE.
	sliceName = "runexcl.slice"
)

// ExclusionSlice is a singleton per process representing the parent
// cgroup at CgroupRoot/runexcl.slice. It tracks which CPUs are currently
// leased to any running invocation via the cpuset.cpus.exclusive ledger.
type ExclusionSlice struct {
	path      string
	ledger    string // path to cpuset.cpus.exclusive
	effective cpuset.CpuMask
}

// Setup performs the one-time setup described in spec §4.2: enabling the
// cpuset controller on both the cgroup root and the slice, creating the
// slice directory idempotently, and seeding cpuset.cpus from
// cpuset.cpus.effective if it was empty (required before any remote
// partition can be created under the slice). It returns the slice's
// effective CpuMask.
func Setup() (*ExclusionSlice, error) {
	if err := enableCpusetController(CgroupRoot); err != nil {
		return nil, err
	}

	path := CgroupRoot + "/" + sliceName
	if err := os.Mkdir(path, 0o755); err != nil && !os.IsExist(err) {
		return nil, &sysfs.IoError{Path: path, Op: "mkdir", Err: err}
	}

	if err := enableCpusetController(path); err != nil {
		return nil, err
	}

	effectiveStr, err := sysfs.Read(path + "/cpuset.cpus.effective")
	if err != nil {
		return nil, err
	}
	effective, _, err := cpuset.ParseStream(effectiveStr)
	if err != nil {
		return nil, fmt.Errorf("excl: parsing %s/cpuset.cpus.effective: %w", path, err)
	}

	cpusPath := path + "/cpuset.cpus"
	current, err := sysfs.Read(cpusPath)
	if err != nil {
		return nil, err
	}
	currentMask, _, err := cpuset.ParseStream(current)
	if err != nil {
		return nil, fmt.Errorf("excl: parsing %s: %w", cpusPath, err)
	}
	if currentMask.Empty() {
		if err := sysfs.Overwrite(cpusPath, effective.String()); err != nil {
			return nil, err
		}
	}

	return &ExclusionSlice{
		path:      path,
		ledger:    path + "/cpuset.cpus.exclusive",
		effective: effective,
	}, nil
}

// enableCpusetController writes "+cpuset" to path/cgroup.subtree_control
// if the cpuset controller is not already listed there. This is idempotent
// by observation, matching spec §4.2 step (1)/(3).
func enableCpusetController(path string) error {
	subtreeControl := path + "/cgroup.subtree_control"
	current, err := sysfs.Read(subtreeControl)
	if err != nil {
		return err
	}
	for _, ctrl := range splitFields(current) {
		if ctrl == "cpuset" {
			return nil
		}
	}
	return sysfs.Overwrite(subtreeControl, "+cpuset")
}

func splitFields(s string) []string {
	var fields []string
	start := -1
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ' ' || s[i] == '\t' || s[i] == '\n' {
			if start != -1 {
				fields = append(fields, s[start:i])
				start = -1
			}
		} else if start == -1 {
			start = i
		}
	}
	return fields
}

// Path returns the filesystem path of the slice.
func (s *ExclusionSlice) Path() string { return s.path }

// Effective returns the slice's effective CpuMask as last observed during
// Setup.
func (s *ExclusionSlice) Effective() cpuset.CpuMask { return s.effective }

// Reserve atomically adds requested to the ledger under an exclusive
// advisory lock, after verifying requested is a subset of the slice's
// effective CPUs. It does not verify that requested is disjoint from the
// current ledger contents -- spec §4.2 leaves that arbitration to the
// kernel when the caller subsequently tries to create a partition.
func (s *ExclusionSlice) Reserve(requested cpuset.CpuMask) error {
	lock, err := sysfs.Lock(s.ledger)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	if !requested.IsSubsetOf(s.effective) {
		return &ConfigError{Requested: requested.String(), Available: s.effective.String()}
	}

	current, err := s.readLedgerLocked()
	if err != nil {
		return err
	}

	union := current.Union(requested)
	return sysfs.Overwrite(s.ledger, union.String())
}

// Release atomically removes reserved from the ledger under the same
// advisory lock used by Reserve, using the (E^m)&E identity (spec §4.2,
// §9) because the kernel refuses to accept an empty write to
// cpuset.cpus.exclusive.
func (s *ExclusionSlice) Release(reserved cpuset.CpuMask) error {
	lock, err := sysfs.Lock(s.ledger)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	current, err := s.readLedgerLocked()
	if err != nil {
		return err
	}

	remaining := current.Minus(reserved)
	if remaining.Empty() {
		// The kernel disallows writing the empty mask; leave the ledger at
		// its last non-empty value. The kernel ignores it once no remote
		// partition references it (spec §3's "known quirk").
		return nil
	}
	return sysfs.Overwrite(s.ledger, remaining.String())
}

func (s *ExclusionSlice) readLedgerLocked() (cpuset.CpuMask, error) {
	text, err := sysfs.Read(s.ledger)
	if err != nil {
		return cpuset.CpuMask{}, err
	}
	mask, _, err := cpuset.ParseStream(text)
	if err != nil {
		return cpuset.CpuMask{}, fmt.Errorf("excl: parsing %s: %w", s.ledger, err)
	}
	return mask, nil
}
