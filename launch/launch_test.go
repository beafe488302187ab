package launch

import (
	"testing"

	"github.com/edoenges/runexcl/cpuset"
)

func TestValidateEmptyMask(t *testing.T) {
	cfg := Config{Command: []string{"true"}}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty mask")
	}
}

func TestValidateMissingCommand(t *testing.T) {
	mask, err := cpuset.Parse("0")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg := Config{Mask: mask}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing command")
	}
}

func TestValidateOK(t *testing.T) {
	mask, err := cpuset.Parse("0-1")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg := Config{Mask: mask, Command: []string{"true"}}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}
