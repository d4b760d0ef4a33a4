// Package ipcounter implements the sorted, coalesced interval-merge list
// used to count unique IPv4 address space across overlapping prefix
// announcements.
package ipcounter

import "github.com/caida-tools/bgpwatcher/internal/addr"

type interval struct {
	lo, hi uint64
}

// Counter holds a sorted, disjoint list of inclusive [lo,hi] IPv4 ranges.
// The zero value is ready to use.
type Counter struct {
	intervals []interval
}

func bounds(pfx addr.Prefix) (uint64, uint64) {
	lo := uint64(addr.ToUint32(pfx.Addr()))
	width := 32 - int(pfx.MaskLen())
	var hi uint64
	if width <= 0 {
		hi = lo
	} else {
		hi = lo | ((uint64(1) << uint(width)) - 1)
	}
	return lo, hi
}

func touchesOrOverlaps(iv interval, lo, hi uint64) bool {
	return iv.lo <= hi+1 && iv.hi+1 >= lo
}

// Add converts pfx to an IPv4 [lo,hi] range and merges it into the sorted
// list, coalescing with any touching or overlapping neighbors.
func (c *Counter) Add(pfx addr.Prefix) {
	if pfx.Family() != addr.FamilyV4 {
		return
	}
	lo, hi := bounds(pfx)
	c.mergeIn(lo, hi)
}

func (c *Counter) mergeIn(lo, hi uint64) {
	var merged []interval
	i := 0
	for i < len(c.intervals) && !touchesOrOverlaps(c.intervals[i], lo, hi) {
		merged = append(merged, c.intervals[i])
		i++
	}
	for i < len(c.intervals) && touchesOrOverlaps(c.intervals[i], lo, hi) {
		if c.intervals[i].lo < lo {
			lo = c.intervals[i].lo
		}
		if c.intervals[i].hi > hi {
			hi = c.intervals[i].hi
		}
		i++
	}
	merged = append(merged, interval{lo, hi})
	merged = append(merged, c.intervals[i:]...)
	c.intervals = merged
}

// IPCount sums hi-lo+1 across all intervals.
func (c *Counter) IPCount() uint64 {
	var total uint64
	for _, iv := range c.intervals {
		total += iv.hi - iv.lo + 1
	}
	return total
}

// IsOverlapping reports the count of addresses in pfx that are already
// covered, and whether pfx lies strictly inside a single existing
// interval (as opposed to merely intersecting one or more).
func (c *Counter) IsOverlapping(pfx addr.Prefix) (uint64, bool) {
	if pfx.Family() != addr.FamilyV4 {
		return 0, false
	}
	lo, hi := bounds(pfx)
	var total uint64
	moreSpecific := false
	for _, iv := range c.intervals {
		if iv.lo > hi {
			break
		}
		if iv.hi < lo {
			continue
		}
		start, end := iv.lo, iv.hi
		if lo > start {
			start = lo
		}
		if hi < end {
			end = hi
		}
		total += end - start + 1
		if iv.lo <= lo && iv.hi >= hi && (iv.lo < lo || iv.hi > hi) {
			moreSpecific = true
		}
	}
	return total, moreSpecific
}

// Len returns the number of coalesced intervals currently held.
func (c *Counter) Len() int {
	return len(c.intervals)
}

// Clear empties the list.
func (c *Counter) Clear() {
	c.intervals = nil
}
