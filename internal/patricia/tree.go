// Package patricia implements the binary Patricia trie that backs every
// prefix operation in the watcher fabric: insert, exact/best match,
// up/down traversal, overlap classification, and range decomposition.
//
// Nodes live in an arena owned by the Tree; a Node value returned to
// callers is a plain index into that arena, never an owning reference.
// Two independent trees coexist in one Tree value, indexed by address
// family, matching the "mixed root" requirement.
package patricia

import (
	"net/netip"

	"github.com/caida-tools/bgpwatcher/internal/addr"
)

const nilIdx int32 = -1

// Node is a borrowed reference to a trie position. It is only meaningful
// together with the Tree that produced it.
type Node struct {
	idx int32
}

// IsZero reports whether n is the invalid Node that Tree methods return
// alongside a "not found" result. The zero Node{} value is not that
// sentinel: it refers to arena slot 0.
func (n Node) IsZero() bool { return n.idx == nilIdx }

func invalidNode() Node { return Node{idx: nilIdx} }

type entry[T any] struct {
	pfx     addr.Prefix
	parent  int32
	left    int32
	right   int32
	actual  bool
	hasUser bool
	user    T
}

// Tree is a generic Patricia trie. T is the type of the per-node user
// data slot; destroy, if non-nil, is invoked whenever a node's user value
// is overwritten, removed, or the tree is cleared or discarded.
type Tree[T any] struct {
	arena   []*entry[T]
	free    []int32
	roots   [2]int32
	counts  [2]int
	destroy func(T)
}

// New creates an empty trie. destroy may be nil if T needs no cleanup.
func New[T any](destroy func(T)) *Tree[T] {
	return &Tree[T]{
		roots:   [2]int32{nilIdx, nilIdx},
		destroy: destroy,
	}
}

func famIdx(f addr.Family) int {
	if f == addr.FamilyV6 {
		return 1
	}
	return 0
}

func (t *Tree[T]) alloc(pfx addr.Prefix, actual bool) int32 {
	e := &entry[T]{pfx: pfx, parent: nilIdx, left: nilIdx, right: nilIdx, actual: actual}
	if n := len(t.free); n > 0 {
		idx := t.free[n-1]
		t.free = t.free[:n-1]
		t.arena[idx] = e
		return idx
	}
	t.arena = append(t.arena, e)
	return int32(len(t.arena) - 1)
}

func (t *Tree[T]) releaseUser(idx int32) {
	e := t.arena[idx]
	if e.hasUser && t.destroy != nil {
		t.destroy(e.user)
	}
	var zero T
	e.user = zero
	e.hasUser = false
}

func (t *Tree[T]) release(idx int32) {
	t.releaseUser(idx)
	t.arena[idx] = nil
	t.free = append(t.free, idx)
}

func firstDiffBit(a, b netip.Addr, width int) int {
	for k := 0; k < width; k++ {
		if addr.BitAt(a, k) != addr.BitAt(b, k) {
			return k
		}
	}
	return width
}

// descend walks from the family root toward pfx's insertion point,
// returning the last node reached (never nilIdx for a non-empty family
// tree). The caller must check for an empty tree separately.
func (t *Tree[T]) descend(fi int, pfx addr.Prefix) int32 {
	cur := t.roots[fi]
	for {
		e := t.arena[cur]
		if int(e.pfx.MaskLen()) >= int(pfx.MaskLen()) {
			return cur
		}
		var next int32
		if addr.BitAt(pfx.Addr(), int(e.pfx.MaskLen())) {
			next = e.right
		} else {
			next = e.left
		}
		if next == nilIdx {
			return cur
		}
		cur = next
	}
}

// relation classifies where pfx would attach relative to the reached
// node, per the insertion algorithm's four cases.
type relation int

const (
	relSelf relation = iota
	relParent
	relChild
	relSibling
)

func (t *Tree[T]) classify(reached int32, pfx addr.Prefix) (relation, int) {
	re := t.arena[reached]
	width := int(re.pfx.MaskLen())
	if int(pfx.MaskLen()) < width {
		width = int(pfx.MaskLen())
	}
	diff := firstDiffBit(pfx.Addr(), re.pfx.Addr(), width)

	switch {
	case diff >= int(re.pfx.MaskLen()) && diff >= int(pfx.MaskLen()) && re.pfx.MaskLen() == pfx.MaskLen():
		return relSelf, diff
	case diff == int(re.pfx.MaskLen()):
		return relParent, diff
	case diff == int(pfx.MaskLen()):
		return relChild, diff
	default:
		return relSibling, diff
	}
}

// Insert returns a handle for pfx. If an actual node already exists for
// pfx it is returned unchanged. If a glue node occupies pfx's position it
// is promoted to actual. Otherwise a new actual node is allocated and
// linked, possibly behind a new glue node.
func (t *Tree[T]) Insert(pfx addr.Prefix) Node {
	fi := famIdx(pfx.Family())
	if t.roots[fi] == nilIdx {
		idx := t.alloc(pfx, true)
		t.roots[fi] = idx
		t.counts[fi]++
		return Node{idx}
	}

	reached := t.descend(fi, pfx)
	rel, diff := t.classify(reached, pfx)

	switch rel {
	case relSelf:
		re := t.arena[reached]
		if re.actual {
			return Node{reached}
		}
		re.actual = true
		t.counts[fi]++
		return Node{reached}

	case relParent:
		newIdx := t.alloc(pfx, true)
		re := t.arena[reached]
		ne := t.arena[newIdx]
		ne.parent = reached
		if addr.BitAt(pfx.Addr(), int(re.pfx.MaskLen())) {
			re.right = newIdx
		} else {
			re.left = newIdx
		}
		t.counts[fi]++
		return Node{newIdx}

	case relChild:
		newIdx := t.alloc(pfx, true)
		re := t.arena[reached]
		ne := t.arena[newIdx]
		ne.parent = re.parent
		if re.parent != nilIdx {
			pe := t.arena[re.parent]
			if pe.left == reached {
				pe.left = newIdx
			} else {
				pe.right = newIdx
			}
		} else {
			t.roots[fi] = newIdx
		}
		if addr.BitAt(re.pfx.Addr(), int(pfx.MaskLen())) {
			ne.right = reached
		} else {
			ne.left = reached
		}
		re.parent = newIdx
		t.counts[fi]++
		return Node{newIdx}

	default: // relSibling
		// The glue goes above every ancestor that branches at or below the
		// differing bit, since none of those contain pfx.
		for p := t.arena[reached].parent; p != nilIdx && int(t.arena[p].pfx.MaskLen()) >= diff; p = t.arena[p].parent {
			reached = p
		}
		glueAddr := addr.MaskAddr(pfx.Addr(), diff)
		gluePfx := addr.NewPrefix(glueAddr, uint8(diff))
		newIdx := t.alloc(pfx, true)
		glueIdx := t.alloc(gluePfx, false)
		re := t.arena[reached]
		ne := t.arena[newIdx]
		ge := t.arena[glueIdx]

		ge.parent = re.parent
		if re.parent != nilIdx {
			pe := t.arena[re.parent]
			if pe.left == reached {
				pe.left = glueIdx
			} else {
				pe.right = glueIdx
			}
		} else {
			t.roots[fi] = glueIdx
		}

		if addr.BitAt(pfx.Addr(), diff) {
			ge.right, ge.left = newIdx, reached
		} else {
			ge.left, ge.right = newIdx, reached
		}
		ne.parent = glueIdx
		re.parent = glueIdx
		t.counts[fi]++
		return Node{newIdx}
	}
}

// SearchExact returns the actual node whose prefix equals pfx, if any.
func (t *Tree[T]) SearchExact(pfx addr.Prefix) (Node, bool) {
	fi := famIdx(pfx.Family())
	if t.roots[fi] == nilIdx {
		return invalidNode(), false
	}
	reached := t.descend(fi, pfx)
	re := t.arena[reached]
	if re.pfx.MaskLen() != pfx.MaskLen() {
		return invalidNode(), false
	}
	width := pfx.Family().Width()
	if firstDiffBit(pfx.Addr(), re.pfx.Addr(), width) < width {
		return invalidNode(), false
	}
	if !re.actual {
		return invalidNode(), false
	}
	return Node{reached}, true
}

// SearchBest performs longest-prefix match of a, returning the most
// specific actual prefix that contains it.
func (t *Tree[T]) SearchBest(a netip.Addr) (Node, bool) {
	fam := addr.FamilyV4
	if a.Is6() {
		fam = addr.FamilyV6
	}
	fi := famIdx(fam)
	cur := t.roots[fi]
	best := nilIdx
	width := fam.Width()
	for cur != nilIdx {
		e := t.arena[cur]
		if firstDiffBit(a, e.pfx.Addr(), int(e.pfx.MaskLen())) < int(e.pfx.MaskLen()) {
			// a does not fall under this node's prefix at all; stop.
			break
		}
		if e.actual {
			best = cur
		}
		if int(e.pfx.MaskLen()) >= width {
			break
		}
		if addr.BitAt(a, int(e.pfx.MaskLen())) {
			cur = e.right
		} else {
			cur = e.left
		}
	}
	if best == nilIdx {
		return invalidNode(), false
	}
	return Node{best}, true
}

// Remove deletes pfx from the trie if present; a no-op otherwise.
func (t *Tree[T]) Remove(pfx addr.Prefix) {
	n, ok := t.SearchExact(pfx)
	if !ok {
		return
	}
	t.RemoveNode(n)
}

// RemoveNode removes the given node. An actual node with two children is
// demoted to glue; otherwise it is unlinked, collapsing a resulting
// one-child glue parent.
func (t *Tree[T]) RemoveNode(n Node) {
	idx := n.idx
	e := t.arena[idx]
	if !e.actual {
		return
	}
	fi := famIdx(e.pfx.Family())
	t.releaseUser(idx)
	e.actual = false
	t.counts[fi]--

	if e.left != nilIdx && e.right != nilIdx {
		// Two children: stays as a glue branch point.
		return
	}

	// At most one child: unlink this node, splicing its single child (if
	// any) into its parent's slot.
	var onlyChild int32 = nilIdx
	if e.left != nilIdx {
		onlyChild = e.left
	} else if e.right != nilIdx {
		onlyChild = e.right
	}

	parent := e.parent
	if onlyChild != nilIdx {
		t.arena[onlyChild].parent = parent
	}
	if parent == nilIdx {
		t.roots[fi] = onlyChild
	} else {
		pe := t.arena[parent]
		if pe.left == idx {
			pe.left = onlyChild
		} else {
			pe.right = onlyChild
		}
	}
	t.release(idx)

	// If the parent is now a glue node with a single child, collapse it
	// too (glue nodes never carry exactly one child in a well-formed tree).
	if parent != nilIdx {
		pe := t.arena[parent]
		if !pe.actual {
			var remaining int32 = nilIdx
			childCount := 0
			if pe.left != nilIdx {
				remaining = pe.left
				childCount++
			}
			if pe.right != nilIdx {
				childCount++
				if remaining == nilIdx {
					remaining = pe.right
				}
			}
			if childCount <= 1 {
				grandparent := pe.parent
				if remaining != nilIdx {
					t.arena[remaining].parent = grandparent
				}
				if grandparent == nilIdx {
					t.roots[fi] = remaining
				} else {
					ge := t.arena[grandparent]
					if ge.left == parent {
						ge.left = remaining
					} else {
						ge.right = remaining
					}
				}
				t.release(parent)
			}
		}
	}
}

// Count returns the number of actual nodes for the given family.
func (t *Tree[T]) Count(f addr.Family) int {
	return t.counts[famIdx(f)]
}

// Prefix returns the stored prefix for a node handle.
func (t *Tree[T]) Prefix(n Node) addr.Prefix {
	return t.arena[n.idx].pfx
}

// User returns the user data slot for a node, and whether it is set.
func (t *Tree[T]) User(n Node) (T, bool) {
	e := t.arena[n.idx]
	return e.user, e.hasUser
}

// SetUser sets the user data slot, invoking the configured destructor on
// any previous value first.
func (t *Tree[T]) SetUser(n Node, v T) {
	t.releaseUser(n.idx)
	e := t.arena[n.idx]
	e.user = v
	e.hasUser = true
}

// ClearUser removes the user data slot, invoking the destructor if set.
func (t *Tree[T]) ClearUser(n Node) {
	t.releaseUser(n.idx)
}

// Clear removes every prefix from the tree, invoking user destructors.
func (t *Tree[T]) Clear() {
	for idx, e := range t.arena {
		if e == nil {
			continue
		}
		_ = idx
		t.releaseUser(int32(idx))
	}
	t.arena = nil
	t.free = nil
	t.roots = [2]int32{nilIdx, nilIdx}
	t.counts = [2]int{0, 0}
}

// Merge inserts every actual prefix of src into dst.
func Merge[T any](dst, src *Tree[T]) {
	for _, fam := range [2]addr.Family{addr.FamilyV4, addr.FamilyV6} {
		fi := famIdx(fam)
		if src.roots[fi] == nilIdx {
			continue
		}
		src.walkAllActual(src.roots[fi], func(n Node) {
			dst.Insert(src.Prefix(n))
		})
	}
}

func (t *Tree[T]) walkAllActual(root int32, visit func(Node)) {
	if root == nilIdx {
		return
	}
	e := t.arena[root]
	t.walkAllActual(e.left, visit)
	if e.actual {
		visit(Node{root})
	}
	t.walkAllActual(e.right, visit)
}
