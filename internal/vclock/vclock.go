// Package vclock implements vector clocks for causal ordering between sites.
//
// A Clock maps a site ID to the number of operations from that site that
// have been observed. Absent entries read as 0.
//
// Clock values are treated as immutable: Increment and Merge return fresh
// copies, so a Clock can be shared between goroutines and stored inside
// operations without defensive copying by the caller.
package vclock

import (
	"sort"
	"strconv"
	"strings"
)

// Clock is a vector clock. Do not mutate a Clock after handing it out.
type Clock map[string]uint64

// Ordering is the result of comparing two clocks.
type Ordering int

const (
	// Equal means both clocks have identical entries (absent == 0).
	Equal Ordering = iota
	// Before means the left clock happened strictly before the right one.
	Before
	// After means the left clock happened strictly after the right one.
	After
	// Concurrent means neither clock descends from the other.
	Concurrent
)

func (o Ordering) String() string {
	switch o {
	case Equal:
		return "equal"
	case Before:
		return "before"
	case After:
		return "after"
	case Concurrent:
		return "concurrent"
	default:
		return "unknown"
	}
}

// New returns an empty clock.
func New() Clock {
	return Clock{}
}

// Get returns the counter for site, or 0 if the site is absent.
func (c Clock) Get(site string) uint64 {
	return c[site]
}

// Increment returns a copy of c with site's counter advanced by one.
// Only the owning site increments its own entry.
func (c Clock) Increment(site string) Clock {
	out := c.Copy()
	out[site]++
	return out
}

// Copy returns an independent copy of c. Zero entries are dropped.
func (c Clock) Copy() Clock {
	out := make(Clock, len(c))
	for site, n := range c {
		if n > 0 {
			out[site] = n
		}
	}
	return out
}

// Merge returns the component-wise maximum of a and b.
func Merge(a, b Clock) Clock {
	out := a.Copy()
	for site, n := range b {
		if n > out[site] {
			out[site] = n
		}
	}
	return out
}

// Descends reports whether c has seen everything other has seen
// (c >= other component-wise).
func (c Clock) Descends(other Clock) bool {
	for site, n := range other {
		if c[site] < n {
			return false
		}
	}
	return true
}

// Compare orders a relative to b.
func Compare(a, b Clock) Ordering {
	aGeB := a.Descends(b)
	bGeA := b.Descends(a)
	switch {
	case aGeB && bGeA:
		return Equal
	case bGeA:
		return Before
	case aGeB:
		return After
	default:
		return Concurrent
	}
}

// Equal reports whether a and b hold the same entries.
func (c Clock) Equal(other Clock) bool {
	return Compare(c, other) == Equal
}

// Depth is the sum of all entries. It strictly increases along every causal
// chain, so it serves as a Lamport timestamp for the clock's event.
func (c Clock) Depth() uint64 {
	var sum uint64
	for _, n := range c {
		sum += n
	}
	return sum
}

// Sites returns the sites with non-zero entries in sorted order.
func (c Clock) Sites() []string {
	sites := make([]string, 0, len(c))
	for site, n := range c {
		if n > 0 {
			sites = append(sites, site)
		}
	}
	sort.Strings(sites)
	return sites
}

// String renders the clock deterministically, e.g. "{A:1, B:3}".
func (c Clock) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, site := range c.Sites() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(site)
		b.WriteByte(':')
		b.WriteString(strconv.FormatUint(c[site], 10))
	}
	b.WriteByte('}')
	return b.String()
}

// IsCausallyReady reports whether an operation stamped with opClock by origin
// can be applied to a document whose clock is docClock.
//
// The operation must be the next one from its origin (no gaps, no
// reordering from a single sender) and every other entry must already be
// covered by the document. A false result means the caller buffers the
// operation and retries later; it never blocks.
func IsCausallyReady(opClock, docClock Clock, origin string) bool {
	if opClock[origin] != docClock[origin]+1 {
		return false
	}
	for site, n := range opClock {
		if site == origin {
			continue
		}
		if n > docClock[site] {
			return false
		}
	}
	return true
}
