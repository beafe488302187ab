package excl

import (
	"os"
	"testing"
)

func TestSetupRequiresCgroupV2(t *testing.T) {
	if _, err := os.Stat(CgroupRoot + "/cgroup.subtree_control"); err != nil {
		t.Skip("test requires a cgroup v2 mount at /sys/fs/cgroup")
	}

	slice, err := Setup()
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if slice.Effective().Empty() {
		t.Error("expected a non-empty effective cpuset")
	}
}

func TestSplitFields(t *testing.T) {
	got := splitFields(" cpuset  memory\tio\n")
	want := []string{"cpuset", "memory", "io"}
	if len(got) != len(want) {
		t.Fatalf("splitFields = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("splitFields[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
