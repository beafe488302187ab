package freqctl

import "testing"

func TestMapSetpointScenarios(t *testing.T) {
	p := &policy{minFreqKHz: 800000, maxFreqKHz: 3000000}

	cases := []struct {
		freq float64
		want int
	}{
		{0.5, 1500000},
		{-1.0, 3000000},
		{-2.0, 800000},
		{1000000, 1000000},
		{100, 800000}, // clamped up to scaling_min_freq
	}

	for _, tc := range cases {
		if got := p.mapSetpoint(tc.freq); got != tc.want {
			t.Errorf("mapSetpoint(%v) = %d, want %d", tc.freq, got, tc.want)
		}
	}
}

func TestMapSetpointAMDLowestNonlinear(t *testing.T) {
	p := &policy{minFreqKHz: 800000, maxFreqKHz: 3000000, lowestNonlinear: 1200000, isAMD: true}
	if got := p.mapSetpoint(-3.0); got != 1200000 {
		t.Errorf("mapSetpoint(-3.0) = %d, want 1200000", got)
	}
}

func TestMapSetpointNonAMDIgnoresLowestNonlinear(t *testing.T) {
	p := &policy{minFreqKHz: 800000, maxFreqKHz: 3000000}
	if got := p.mapSetpoint(-3.0); got != p.minFreqKHz {
		t.Errorf("mapSetpoint(-3.0) on non-AMD policy = %d, want min freq %d", got, p.minFreqKHz)
	}
}
