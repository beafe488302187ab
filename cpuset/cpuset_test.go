package cpuset

import (
	"strconv"
	"testing"
)

func mustParse(t *testing.T, s string) CpuMask {
	t.Helper()
	m, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}
	return m
}

func TestParseFormatRoundTrip(t *testing.T) {
	cases := []string{"", "0", "0-2,4,6-7,9", "0,2-3,1022-1023", "5-5"}
	for _, s := range cases {
		m := mustParse(t, s)
		got := m.String()
		want := s
		if s == "5-5" {
			want = "5"
		}
		if got != want {
			t.Errorf("Parse(%q).String() = %q, want %q", s, got, want)
		}
	}
}

func TestParseScenario1(t *testing.T) {
	m := mustParse(t, "0-2,4,6-7,9")
	for _, cpu := range []int{0, 1, 2, 4, 6, 7, 9} {
		if !m.IsSet(cpu) {
			t.Errorf("expected CPU %d set", cpu)
		}
	}
	if got := m.Count(); got != 7 {
		t.Errorf("Count() = %d, want 7", got)
	}
	if got := m.String(); got != "0-2,4,6-7,9" {
		t.Errorf("String() = %q", got)
	}
}

func TestParseScenario2(t *testing.T) {
	m := mustParse(t, "0,2-3,1022-1023")
	for _, cpu := range []int{0, 2, 3, 1022, 1023} {
		if !m.IsSet(cpu) {
			t.Errorf("expected CPU %d set", cpu)
		}
	}
	if got := m.Count(); got != 5 {
		t.Errorf("Count() = %d, want 5", got)
	}
}

func TestParseStreamScenario3(t *testing.T) {
	m, consumed, err := ParseStream("0-2,4,6-7,9\nGarbage")
	if err != nil {
		t.Fatalf("ParseStream: %v", err)
	}
	for _, cpu := range []int{0, 1, 2, 4, 6, 7, 9} {
		if !m.IsSet(cpu) {
			t.Errorf("expected CPU %d set", cpu)
		}
	}
	rest := "0-2,4,6-7,9\nGarbage"[consumed:]
	if rest != "\nGarbage" {
		t.Errorf("unread tail = %q, want %q", rest, "\nGarbage")
	}
}

func TestParseStreamTrailingHyphenFails(t *testing.T) {
	if _, _, err := ParseStream("0-"); err == nil {
		t.Errorf("ParseStream(%q): expected syntax error for end-of-input mid-range", "0-")
	}
}

func TestEmptyStringIsEmptyMask(t *testing.T) {
	m := mustParse(t, "")
	if !m.Empty() {
		t.Errorf("expected empty mask")
	}
	if m.String() != "" {
		t.Errorf("expected empty string format")
	}
}

func TestMaxCPUBoundary(t *testing.T) {
	max := MaxCPUs()
	m := mustParse(t, strconv.Itoa(max-1))
	if !m.IsSet(max - 1) {
		t.Errorf("expected CPU %d set", max-1)
	}
	if got := m.String(); got != strconv.Itoa(max-1) {
		t.Errorf("String() = %q, want %q", got, strconv.Itoa(max-1))
	}

	if _, err := Parse(strconv.Itoa(max)); err == nil {
		t.Errorf("expected out-of-range error for CPU %d", max)
	}
}

func TestReversedRangeFails(t *testing.T) {
	if _, err := Parse("1-0"); err == nil {
		t.Errorf("expected error for reversed range")
	}
}

func TestTrailingCommaAndHyphenFail(t *testing.T) {
	for _, s := range []string{"0,", "0-"} {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q): expected syntax error", s)
		}
	}
}

func TestSetAlgebraLaws(t *testing.T) {
	a := mustParse(t, "0-3")
	b := mustParse(t, "2-5")

	if !a.Union(b).Equal(b.Union(a)) {
		t.Error("union not commutative")
	}
	if !a.Intersect(b).Equal(b.Intersect(a)) {
		t.Error("intersect not commutative")
	}
	if !a.SymmetricDiff(b).Equal(b.SymmetricDiff(a)) {
		t.Error("symmetric diff not commutative")
	}
	if !a.Union(a).Equal(a) {
		t.Error("a | a != a")
	}
	if !a.Intersect(a).Equal(a) {
		t.Error("a & a != a")
	}
	if !a.SymmetricDiff(a).Empty() {
		t.Error("a ^ a != empty")
	}
}

func TestReleaseIdentity(t *testing.T) {
	ledger := mustParse(t, "0-7")
	release := mustParse(t, "2-3")

	got := ledger.Minus(release)
	want := mustParse(t, "0-1,4-7")
	if !got.Equal(want) {
		t.Errorf("ledger.Minus(release) = %q, want %q", got.String(), want.String())
	}
}

