// Package freqctl implements the CPU frequency governor controller: it
// detects the active scaling driver, switches affected cpufreq policies
// into userspace-controlled mode, programs a requested setpoint, and
// restores every touched policy's prior state on teardown.
//
// Grounded on the CPUPolicy/CPUPerformanceDriver/CPUAMDPStatePolicy
// hierarchy in _examples/original_source/CPUGovernor.cpp. Per spec §9's
// design note and the "Policy polymorphism" remark, this is re-expressed
// as a single policy record tagged with an isAMD flag rather than a C++
// class hierarchy: the AMD P-state variant only differs from the base in
// driver detection, per-policy setup, the driver-status restore, and the
// -3.0 special-value mapping, so a flag on one record type captures that
// without forcing every variant through virtual dispatch.
package freqctl

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/edoenges/runexcl/cpuset"
	"github.com/edoenges/runexcl/sysfs"
	"github.com/sirupsen/logrus"
)

const (
	cpuRoot        = "/sys/devices/system/cpu"
	cpufreqRoot    = cpuRoot + "/cpufreq"
	amdPstatePath  = cpuRoot + "/amd_pstate/status"
	unsupportedSet = "<unsupported>"
)

// policy holds one cpufreq/policy<N> directory's saved state, restored on
// Close. It corresponds to the "Policy record" in spec §3.
type policy struct {
	path            string
	savedGovernor   string
	savedSetSpeed   string
	minFreqKHz      int
	maxFreqKHz      int
	lowestNonlinear int // AMD P-state only; 0 if not applicable
	isAMD           bool
}

func newPolicy(path string, amd bool) (*policy, error) {
	p := &policy{path: path, isAMD: amd}

	var err error
	if p.savedGovernor, err = sysfs.Read(filepath.Join(path, "scaling_governor")); err != nil {
		return nil, err
	}
	if p.savedSetSpeed, err = sysfs.Read(filepath.Join(path, "scaling_setspeed")); err != nil {
		return nil, err
	}
	if p.minFreqKHz, err = readInt(filepath.Join(path, "scaling_min_freq")); err != nil {
		return nil, err
	}
	if p.maxFreqKHz, err = readInt(filepath.Join(path, "scaling_max_freq")); err != nil {
		return nil, err
	}

	if amd {
		if p.lowestNonlinear, err = readInt(filepath.Join(path, "amd_pstate_lowest_nonlinear_freq")); err != nil {
			return nil, err
		}
	}

	return p, nil
}

func readInt(path string) (int, error) {
	s, err := sysfs.Read(path)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("freqctl: parsing %q: %w", path, err)
	}
	return n, nil
}

// mapSetpoint implements the frequency-mapping table from spec §4.4.
func (p *policy) mapSetpoint(freq float64) int {
	var setpoint int
	switch {
	case freq > 1.0:
		setpoint = int(freq)
	case freq >= 0.0 && freq <= 1.0:
		setpoint = int(float64(p.maxFreqKHz) * freq)
	case freq == -1.0:
		setpoint = p.maxFreqKHz
	case freq == -2.0:
		setpoint = p.minFreqKHz
	case freq == -3.0 && p.isAMD:
		setpoint = p.lowestNonlinear
	default:
		setpoint = p.minFreqKHz
	}
	if setpoint < p.minFreqKHz {
		setpoint = p.minFreqKHz
	}
	return setpoint
}

// SetFrequency writes "userspace" to scaling_governor, then the mapped
// setpoint to scaling_setspeed, per spec §4.4's "applying a setpoint"
// rule.
func (p *policy) SetFrequency(freq float64) error {
	if err := sysfs.Overwrite(filepath.Join(p.path, "scaling_governor"), "userspace"); err != nil {
		return err
	}
	setpoint := p.mapSetpoint(freq)
	return sysfs.Overwrite(filepath.Join(p.path, "scaling_setspeed"), strconv.Itoa(setpoint))
}

// Close restores scaling_setspeed (unless it was the sentinel
// "<unsupported>") and then scaling_governor, in that order, so that
// restoring the governor last re-engages the kernel's control loop (spec
// §4.4's base contract).
func (p *policy) Close() error {
	var errs []error
	if p.savedSetSpeed != unsupportedSet {
		if err := sysfs.Overwrite(filepath.Join(p.path, "scaling_setspeed"), p.savedSetSpeed); err != nil {
			errs = append(errs, err)
		}
	}
	if err := sysfs.Overwrite(filepath.Join(p.path, "scaling_governor"), p.savedGovernor); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Controller is the CPU frequency governor controller for a single runexcl
// invocation. It is created once an exclusive CpuMask has been reserved
// and destroyed (via Close) before the reservation is released.
type Controller struct {
	amdStatus *string // saved amd_pstate/status value, nil if driver not AMD P-state
	policies  []*policy
}

// ErrNoDriver is returned by SetFrequency when no supported frequency
// scaling driver was detected (spec §4.4: "no controller is available and
// a frequency request fails soft").
var ErrNoDriver = errors.New("freqctl: no supported frequency scaling driver detected")

// detectAMDPState reports whether the AMD P-state driver is present.
func detectAMDPState() bool {
	_, err := os.Stat(amdPstatePath)
	return err == nil
}

// SetFrequency detects the scaling driver, selects every cpufreq policy
// whose affected_cpus intersects mask, and applies freq to each. On the
// AMD P-state driver, it first flips amd_pstate/status to "passive",
// recording the prior value, since the userspace governor only takes
// effect in passive mode (spec §4.4).
//
// Per spec §4.4, if no driver is detected this logs and returns ErrNoDriver
// rather than failing the whole invocation -- callers that want a frequency
// request to be mandatory should check the returned error themselves.
func SetFrequency(mask cpuset.CpuMask, freq float64) (*Controller, error) {
	if !detectAMDPState() {
		logrus.Warn("freqctl: no supported frequency scaling driver detected, frequency request ignored")
		return nil, ErrNoDriver
	}

	c := &Controller{}

	old, err := sysfs.ReadThenWrite(amdPstatePath, "passive")
	if err != nil {
		return nil, err
	}
	c.amdStatus = &old

	entries, err := os.ReadDir(cpufreqRoot)
	if err != nil {
		return c, &sysfs.IoError{Path: cpufreqRoot, Op: "readdir", Err: err}
	}

	for _, entry := range entries {
		if !entry.IsDir() || !strings.Contains(entry.Name(), "policy") {
			continue
		}
		dir := filepath.Join(cpufreqRoot, entry.Name())
		affected, err := readAffectedCPUs(dir, mask.MaxCPUs())
		if err != nil {
			return c, err
		}
		if !affected.Intersect(mask).Empty() {
			p, err := newPolicy(dir, true)
			if err != nil {
				return c, err
			}
			c.policies = append(c.policies, p)
		}
	}

	for _, p := range c.policies {
		if err := p.SetFrequency(freq); err != nil {
			return c, err
		}
	}

	return c, nil
}

// readAffectedCPUs parses a policy directory's affected_cpus file, which
// uses cpufreq's own whitespace-separated format rather than the list-form
// grammar CpuMask.String produces (spec §4.4's policy selection note).
func readAffectedCPUs(policyDir string, maxCPUs int) (cpuset.CpuMask, error) {
	text, err := sysfs.Read(filepath.Join(policyDir, "affected_cpus"))
	if err != nil {
		return cpuset.CpuMask{}, err
	}

	out := cpuset.New()
	for _, field := range strings.Fields(text) {
		n, err := strconv.Atoi(field)
		if err != nil || n < 0 || n >= maxCPUs {
			continue
		}
		out.Set(n)
	}
	return out, nil
}

// Close restores every touched policy's saved governor/setspeed, then
// restores the driver's saved status, matching
// CPUAMDPStatePerformanceDriver's destructor ordering in
// original_source/CPUGovernor.cpp: policies are disposed of before the
// driver status is restored. Unlike that destructor, a failure restoring
// one policy does not stop the remaining policies (or the driver-status
// restore) from being attempted -- spec §4.4's supplement on partial-
// failure teardown ordering.
func (c *Controller) Close() error {
	if c == nil {
		return nil
	}

	var errs []error
	for _, p := range c.policies {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.amdStatus != nil {
		if err := sysfs.Overwrite(amdPstatePath, *c.amdStatus); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
