// Package cpuset implements CpuMask, a dense bit-vector over CPU indices in
// [0, MaxCPUs), along with its two textual encodings.
//
// The type and its parse/format grammar are ported from the CPUSet class in
// _examples/original_source/CPUSet.{hpp,cpp}, re-expressed as a Go value
// type backed by a []uint64 word slice rather than a CPU_ALLOC-backed C
// pointer. Copies of a CpuMask share that slice, so Set and Clear on one
// copy are visible through every other; Clone makes an independent mask.
package cpuset

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

const wordBits = 64

// defaultMaxCPUs is used when the kernel_max sysfs file cannot be read,
// mirroring CPU_SETSIZE from <sched.h> as used by original_source's
// getMaxCPUs().
const defaultMaxCPUs = 1024

var (
	maxCPUsOnce sync.Once
	maxCPUs     int
)

// MaxCPUs returns the maximum CPU index (exclusive upper bound) the kernel
// reports via /sys/devices/system/cpu/kernel_max, falling back to 1024 if
// that file is missing or malformed. The result is never below 1024, even
// when kernel_max reports a smaller value. The value is determined once per
// process and cached, matching the static local in original_source's
// getMaxCPUs().
func MaxCPUs() int {
	maxCPUsOnce.Do(func() {
		maxCPUs = defaultMaxCPUs
		f, err := os.Open("/sys/devices/system/cpu/kernel_max")
		if err != nil {
			return
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		if !scanner.Scan() {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
		if err != nil || n < 0 {
			return
		}
		// kernel_max is the highest valid index, so the exclusive bound is
		// n+1; never shrink below CPU_SETSIZE.
		if n+1 > maxCPUs {
			maxCPUs = n + 1
		}
	})
	return maxCPUs
}

// ParseError reports a malformed CpuMask textual encoding, carrying the
// offending substring for diagnostics.
type ParseError struct {
	Input string
	Msg   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cpuset: %s: %q", e.Msg, e.Input)
}

// CpuMask is a dense bit-set over CPU indices [0, MaxCPUs). The zero value
// is not usable; construct masks with New, Parse, or ParseStream.
type CpuMask struct {
	bits    []uint64
	maxCPUs int
}

// New returns an empty mask sized to MaxCPUs().
func New() CpuMask {
	max := MaxCPUs()
	return CpuMask{bits: make([]uint64, wordsFor(max)), maxCPUs: max}
}

func wordsFor(maxCPUs int) int {
	return (maxCPUs + wordBits - 1) / wordBits
}

// Clone returns an independent copy of m.
func (m CpuMask) Clone() CpuMask {
	bits := make([]uint64, len(m.bits))
	copy(bits, m.bits)
	return CpuMask{bits: bits, maxCPUs: m.maxCPUs}
}

// MaxCPUs reports the exclusive upper bound this mask was sized for.
func (m CpuMask) MaxCPUs() int { return m.maxCPUs }

// Empty reports whether no bits are set.
func (m CpuMask) Empty() bool {
	for _, w := range m.bits {
		if w != 0 {
			return false
		}
	}
	return true
}

// Count returns the number of set bits.
func (m CpuMask) Count() int {
	n := 0
	for _, w := range m.bits {
		for w != 0 {
			w &= w - 1
			n++
		}
	}
	return n
}

// IsSet reports whether cpu is a member of the mask.
func (m CpuMask) IsSet(cpu int) bool {
	if cpu < 0 || cpu >= m.maxCPUs {
		return false
	}
	return m.bits[cpu/wordBits]&(uint64(1)<<uint(cpu%wordBits)) != 0
}

// Set adds cpu to the mask in place.
func (m CpuMask) Set(cpu int) {
	if cpu < 0 || cpu >= m.maxCPUs {
		panic(fmt.Sprintf("cpuset: CPU #%d out of range [0,%d)", cpu, m.maxCPUs))
	}
	m.bits[cpu/wordBits] |= uint64(1) << uint(cpu%wordBits)
}

// Clear removes cpu from the mask in place.
func (m CpuMask) Clear(cpu int) {
	if cpu < 0 || cpu >= m.maxCPUs {
		panic(fmt.Sprintf("cpuset: CPU #%d out of range [0,%d)", cpu, m.maxCPUs))
	}
	m.bits[cpu/wordBits] &^= uint64(1) << uint(cpu%wordBits)
}

// First returns the lowest set CPU index, or -1 if the mask is empty.
func (m CpuMask) First() int {
	for i, w := range m.bits {
		if w != 0 {
			return i*wordBits + trailingZeros64(w)
		}
	}
	return -1
}

// Last returns the highest set CPU index, or -1 if the mask is empty.
func (m CpuMask) Last() int {
	for i := len(m.bits) - 1; i >= 0; i-- {
		if w := m.bits[i]; w != 0 {
			return i*wordBits + (63 - leadingZeros64(w))
		}
	}
	return -1
}

func trailingZeros64(w uint64) int {
	n := 0
	for w&1 == 0 {
		w >>= 1
		n++
	}
	return n
}

func leadingZeros64(w uint64) int {
	n := 0
	for i := 63; i >= 0; i-- {
		if w&(uint64(1)<<uint(i)) != 0 {
			break
		}
		n++
	}
	return n
}

func requireSameSize(a, b CpuMask) {
	if a.maxCPUs != b.maxCPUs {
		panic("cpuset: operands have different MaxCPUs")
	}
}

// Equal reports whether two masks contain the same CPUs. Both operands must
// share the same MaxCPUs.
func (m CpuMask) Equal(other CpuMask) bool {
	requireSameSize(m, other)
	for i := range m.bits {
		if m.bits[i] != other.bits[i] {
			return false
		}
	}
	return true
}

// Union returns m | other.
func (m CpuMask) Union(other CpuMask) CpuMask {
	requireSameSize(m, other)
	out := CpuMask{bits: make([]uint64, len(m.bits)), maxCPUs: m.maxCPUs}
	for i := range m.bits {
		out.bits[i] = m.bits[i] | other.bits[i]
	}
	return out
}

// Intersect returns m & other.
func (m CpuMask) Intersect(other CpuMask) CpuMask {
	requireSameSize(m, other)
	out := CpuMask{bits: make([]uint64, len(m.bits)), maxCPUs: m.maxCPUs}
	for i := range m.bits {
		out.bits[i] = m.bits[i] & other.bits[i]
	}
	return out
}

// SymmetricDiff returns m ^ other.
func (m CpuMask) SymmetricDiff(other CpuMask) CpuMask {
	requireSameSize(m, other)
	out := CpuMask{bits: make([]uint64, len(m.bits)), maxCPUs: m.maxCPUs}
	for i := range m.bits {
		out.bits[i] = m.bits[i] ^ other.bits[i]
	}
	return out
}

// IsSubsetOf reports whether every CPU in m is also in other, i.e.
// m & other == m.
func (m CpuMask) IsSubsetOf(other CpuMask) bool {
	requireSameSize(m, other)
	return m.Intersect(other).Equal(m)
}

// Minus returns m \ other without requiring a complement operator, using
// the (a^b)&a identity noted in spec §4.2/§9 for the kernel's
// cpuset.cpus.exclusive ledger, where the empty mask cannot be written.
func (m CpuMask) Minus(other CpuMask) CpuMask {
	requireSameSize(m, other)
	return m.SymmetricDiff(other).Intersect(m)
}

// String formats the mask in list form: a comma-separated sequence of
// decimals and inclusive ranges, e.g. "0-2,4,6-7,9". The empty mask formats
// as the empty string.
func (m CpuMask) String() string {
	var b strings.Builder
	first := true
	for n := 0; n < m.maxCPUs; n++ {
		if !m.IsSet(n) {
			continue
		}
		start := n
		for n+1 < m.maxCPUs && m.IsSet(n+1) {
			n++
		}
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.WriteString(strconv.Itoa(start))
		if start != n {
			b.WriteByte('-')
			b.WriteString(strconv.Itoa(n))
		}
	}
	return b.String()
}

// Parse parses s in list form into a freshly allocated mask sized to
// MaxCPUs(). It fails on a trailing comma or hyphen, a missing start or end
// of range, a reversed range, a CPU index out of range, a stray non-digit,
// or a negative number. The empty string parses to the empty mask.
func Parse(s string) (CpuMask, error) {
	out := New()
	if s == "" {
		return out, nil
	}

	start := -1
	pos := 0
	for pos < len(s) {
		n, end, ok := scanUint(s, pos)
		if !ok {
			if start == -1 {
				return CpuMask{}, &ParseError{Input: s, Msg: "missing CPU number"}
			}
			return CpuMask{}, &ParseError{Input: s, Msg: "missing end of range"}
		}
		if n >= out.maxCPUs {
			return CpuMask{}, &ParseError{Input: s, Msg: fmt.Sprintf("CPU #%d out of range", n)}
		}

		var sep byte
		if end < len(s) {
			sep = s[end]
		}
		switch sep {
		case 0: // end of string
			if start == -1 {
				out.Set(n)
			} else {
				if start > n {
					return CpuMask{}, &ParseError{Input: s, Msg: fmt.Sprintf("reversed range %d-%d", start, n)}
				}
				for i := start; i <= n; i++ {
					out.Set(i)
				}
			}
			pos = end
		case ',':
			if start == -1 {
				out.Set(n)
			} else {
				if start > n {
					return CpuMask{}, &ParseError{Input: s, Msg: fmt.Sprintf("reversed range %d-%d", start, n)}
				}
				for i := start; i <= n; i++ {
					out.Set(i)
				}
				start = -1
			}
			pos = end + 1
			if pos == len(s) {
				return CpuMask{}, &ParseError{Input: s, Msg: "trailing comma"}
			}
		case '-':
			if start != -1 {
				return CpuMask{}, &ParseError{Input: s, Msg: "unexpected '-'"}
			}
			start = n
			pos = end + 1
			if pos == len(s) {
				return CpuMask{}, &ParseError{Input: s, Msg: "trailing hyphen"}
			}
		default:
			return CpuMask{}, &ParseError{Input: s, Msg: fmt.Sprintf("unexpected character %q", sep)}
		}
	}
	return out, nil
}

// scanUint scans an unsigned decimal integer starting at s[pos]. It returns
// false if no digit is present at pos (including a leading '-', which is
// rejected the way strtoul never lets CPUSet::parse accept it).
func scanUint(s string, pos int) (n, end int, ok bool) {
	start := pos
	for pos < len(s) && s[pos] >= '0' && s[pos] <= '9' {
		n = n*10 + int(s[pos]-'0')
		pos++
	}
	if pos == start {
		return 0, pos, false
	}
	return n, pos, true
}

// ParseStream parses a mask from the whitespace-delimited grammar used by
// sysfs list files, consuming the valid prefix of s and reporting how many
// bytes were consumed. Unlike Parse, it does not fail on trailing
// non-grammar characters (e.g. a newline and following garbage) -- it stops
// at the first one and reports that position, failing only when the input
// ends inside a partial construct such as "0-". On success the returned
// mask replaces any previous value; on failure the caller should discard
// the partial result.
func ParseStream(s string) (mask CpuMask, consumed int, err error) {
	out := New()
	if s == "" {
		return out, 0, nil
	}

	start := -1
	pos := 0
	for pos < len(s) {
		n, end, ok := scanUint(s, pos)
		if !ok {
			// No number at pos: if we're not mid-range, this is just the
			// end of the grammar (push back); if we are, it's an error.
			if start != -1 {
				return CpuMask{}, 0, &ParseError{Input: s[pos:], Msg: "missing end of range"}
			}
			break
		}
		if n >= out.maxCPUs {
			return CpuMask{}, 0, &ParseError{Input: s, Msg: fmt.Sprintf("CPU #%d out of range", n)}
		}

		var sep byte
		if end < len(s) {
			sep = s[end]
		}
		switch sep {
		case '-':
			if start != -1 {
				return CpuMask{}, 0, &ParseError{Input: s, Msg: "unexpected '-'"}
			}
			start = n
			pos = end + 1
			continue
		case ',':
			if start == -1 {
				out.Set(n)
			} else {
				if start > n {
					return CpuMask{}, 0, &ParseError{Input: s, Msg: fmt.Sprintf("reversed range %d-%d", start, n)}
				}
				for i := start; i <= n; i++ {
					out.Set(i)
				}
				start = -1
			}
			pos = end + 1
			continue
		default:
			// Any other character (including end of string) terminates the
			// grammar; push it back by not consuming it.
			if start == -1 {
				out.Set(n)
			} else {
				if start > n {
					return CpuMask{}, 0, &ParseError{Input: s, Msg: fmt.Sprintf("reversed range %d-%d", start, n)}
				}
				for i := start; i <= n; i++ {
					out.Set(i)
				}
			}
			return out, end, nil
		}
	}
	if start != -1 {
		return CpuMask{}, 0, &ParseError{Input: s, Msg: "missing end of range"}
	}
	return out, pos, nil
}
