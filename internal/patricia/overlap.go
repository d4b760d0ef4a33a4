package patricia

import "github.com/caida-tools/bgpwatcher/internal/addr"

// Overlap classification bits.
const (
	OverlapExact uint8 = 0b001
	OverlapMore  uint8 = 0b010
	OverlapLess  uint8 = 0b100
)

func (t *Tree[T]) hasActualInSubtreeInclusive(idx int32) bool {
	if idx == nilIdx {
		return false
	}
	e := t.arena[idx]
	if e.actual {
		return true
	}
	return t.hasActualInSubtreeInclusive(e.left) || t.hasActualInSubtreeInclusive(e.right)
}

func (t *Tree[T]) hasActualAncestorInclusive(idx int32) bool {
	cur := idx
	for cur != nilIdx {
		if t.arena[cur].actual {
			return true
		}
		cur = t.arena[cur].parent
	}
	return false
}

// GetPfxOverlapInfo reports whether pfx would overlap with prefixes
// already in the tree: EXACT if pfx is present, MORE if any more-specific
// prefix exists, LESS if any less-specific prefix exists.
func (t *Tree[T]) GetPfxOverlapInfo(pfx addr.Prefix) uint8 {
	fi := famIdx(pfx.Family())
	if t.roots[fi] == nilIdx {
		return 0
	}
	reached := t.descend(fi, pfx)
	rel, diff := t.classify(reached, pfx)
	re := t.arena[reached]

	var mask uint8
	switch rel {
	case relSelf:
		if re.actual {
			mask |= OverlapExact
		}
		if t.hasActualInSubtreeInclusive(re.left) || t.hasActualInSubtreeInclusive(re.right) {
			mask |= OverlapMore
		}
		if t.hasActualAncestorInclusive(re.parent) {
			mask |= OverlapLess
		}
	case relParent:
		if t.hasActualAncestorInclusive(reached) {
			mask |= OverlapLess
		}
	case relChild:
		if t.hasActualInSubtreeInclusive(reached) {
			mask |= OverlapMore
		}
		if t.hasActualAncestorInclusive(re.parent) {
			mask |= OverlapLess
		}
	case relSibling:
		anc := re.parent
		for anc != nilIdx && int(t.arena[anc].pfx.MaskLen()) >= diff {
			anc = t.arena[anc].parent
		}
		if t.hasActualAncestorInclusive(anc) {
			mask |= OverlapLess
		}
	}
	return mask
}

// GetNodeOverlapInfo reports whether other prefixes in the tree overlap
// with the given, already-present node.
func (t *Tree[T]) GetNodeOverlapInfo(n Node) uint8 {
	e := t.arena[n.idx]
	var mask uint8
	if t.hasActualInSubtreeInclusive(e.left) || t.hasActualInSubtreeInclusive(e.right) {
		mask |= OverlapMore
	}
	if t.hasActualAncestorInclusive(e.parent) {
		mask |= OverlapLess
	}
	return mask
}

// GetMoreSpecifics returns every actual descendant of n, in order.
func (t *Tree[T]) GetMoreSpecifics(n Node) []Node {
	e := t.arena[n.idx]
	var out []Node
	collect := func(idx int32) {
		var walk func(int32)
		walk = func(i int32) {
			if i == nilIdx {
				return
			}
			ce := t.arena[i]
			walk(ce.left)
			if ce.actual {
				out = append(out, Node{i})
			}
			walk(ce.right)
		}
		walk(idx)
	}
	collect(e.left)
	collect(e.right)
	return out
}

// GetLessSpecifics returns every actual ancestor of n, nearest first.
func (t *Tree[T]) GetLessSpecifics(n Node) []Node {
	var out []Node
	cur := t.arena[n.idx].parent
	for cur != nilIdx {
		if t.arena[cur].actual {
			out = append(out, Node{cur})
		}
		cur = t.arena[cur].parent
	}
	return out
}

// GetMincovering returns the nearest actual ancestor strictly covering
// n: the most specific prefix in the tree that contains n's prefix
// without being it. The result slice holds at most one node, matching
// the shape of the other result-set queries.
func (t *Tree[T]) GetMincovering(n Node) []Node {
	cur := t.arena[n.idx].parent
	for cur != nilIdx {
		if t.arena[cur].actual {
			return []Node{{cur}}
		}
		cur = t.arena[cur].parent
	}
	return nil
}

// GetMinimumCoverage returns the minimal set of actual prefixes of the
// given family whose union covers every address announced in the tree:
// every actual node that has no actual ancestor.
func (t *Tree[T]) GetMinimumCoverage(f addr.Family) []Node {
	fi := famIdx(f)
	var out []Node
	var walk func(int32)
	walk = func(idx int32) {
		if idx == nilIdx {
			return
		}
		e := t.arena[idx]
		walk(e.left)
		if e.actual && !t.hasActualAncestorInclusive(e.parent) {
			out = append(out, Node{idx})
		}
		walk(e.right)
	}
	walk(t.roots[fi])
	return out
}

// Count24Subnets counts the /24-equivalent IPv4 address blocks spanned
// by the tree's actual prefixes: 2^(24-masklen) for masklen<24, else 1.
// Overlapping announcements are not deduplicated, matching a direct
// per-node accounting pass.
func (t *Tree[T]) Count24Subnets() uint64 {
	return t.countSubnets(famIdx(addr.FamilyV4), 24)
}

// Count64Subnets is the IPv6 analogue of Count24Subnets at /64 granularity.
func (t *Tree[T]) Count64Subnets() uint64 {
	return t.countSubnets(famIdx(addr.FamilyV6), 64)
}

func (t *Tree[T]) countSubnets(fi int, granularity int) uint64 {
	var total uint64
	var walk func(int32)
	walk = func(idx int32) {
		if idx == nilIdx {
			return
		}
		e := t.arena[idx]
		walk(e.left)
		if e.actual {
			ml := int(e.pfx.MaskLen())
			if ml < granularity {
				total += uint64(1) << uint(granularity-ml)
			} else {
				total++
			}
		}
		walk(e.right)
	}
	walk(t.roots[fi])
	return total
}
