// Package launch implements the runexcl launch protocol: it blocks the
// termination signals, claims an exclusive cpuset cgroup, optionally
// programs the CPU frequency, clones the target command directly into the
// new cgroup, and waits for both the child and the cgroup to drain before
// tearing everything down.
//
// Grounded on main() in _examples/original_source/runexcl.cpp, generalized
// the way _examples/nayuta-ai-simple_runc/libcontainer/process_linux.go
// splits "apply cgroup state, then let the child run" into a parent/child
// sequence -- here the clone-into-cgroup syscall collapses that into one
// step, so there is no separate initProcess.start Apply() call.
package launch

import (
	"fmt"

	"github.com/edoenges/runexcl/cpuset"
)

// Config is the parsed CLI configuration handed to Run. It corresponds to
// RunExclArgs in original_source/runexcl.cpp and the LaunchConfig type
// named in SPEC_FULL.md §3.
type Config struct {
	// Mask is the set of CPUs to reserve exclusively. Must be non-empty.
	Mask cpuset.CpuMask

	// Frequency is nil when no frequency change was requested (spec §9's
	// "Option<FrequencyRequest>" recommendation rather than an overloaded
	// 0.0 sentinel), or a pointer to the raw overloaded value described in
	// spec §4.4 otherwise.
	Frequency *float64

	// Isolate requests the isolated partition type instead of root.
	Isolate bool

	// Command is the argv of the program to execute, Command[0] being the
	// program name or path.
	Command []string
}

// ConfigError reports a malformed Config: an empty mask or missing
// command, per spec §7's ConfigError kind.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return fmt.Sprintf("launch: %s", e.Msg) }

// Validate checks the parts of Config that can be checked without talking
// to the kernel.
func (c Config) Validate() error {
	if c.Mask.Empty() {
		return &ConfigError{Msg: "cpuset must be non-empty"}
	}
	if len(c.Command) == 0 {
		return &ConfigError{Msg: "missing command"}
	}
	return nil
}
