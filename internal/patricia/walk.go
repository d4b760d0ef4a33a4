package patricia

import "github.com/caida-tools/bgpwatcher/internal/addr"

// WalkAction is returned by walk-up-down callbacks to control traversal.
type WalkAction int

const (
	// Continue lets the walk proceed to the next node.
	Continue WalkAction = iota
	// EndDirection stops the current traversal direction (the subtree
	// branch or the upward ancestor chain currently being walked) but
	// lets the overall walk proceed with any other phase.
	EndDirection
	// EndAll aborts the entire walk-up-down call immediately.
	EndAll
)

// Callback is invoked for each node visited during WalkUpDown.
type Callback[T any] func(n Node) WalkAction

// WalkUpDown traverses the trie in up to three zones relative to pfx's
// insertion point, without mutating the tree:
//
//   - SELF (pfx matches an existing node's position exactly): onExact
//     fires once, then onParent walks the ancestor chain upward, then
//     onChild visits both subtrees in order.
//   - PARENT (pfx would be a fresh child of the reached node): onParent
//     fires starting at the reached node and walking upward.
//   - CHILD (pfx would be inserted above the reached node): onParent
//     walks the reached node's ancestor chain, then onChild visits the
//     reached node's subtree in order (reached node included).
//   - SIBLING (pfx would glue off the reached node, or off the highest
//     of its ancestors that branch at or below the differing bit):
//     onParent walks from that glue point's parent upward only.
//
// Only actual nodes invoke a callback; glue nodes are traversed silently.
func (t *Tree[T]) WalkUpDown(pfx addr.Prefix, onExact, onParent, onChild Callback[T]) {
	fi := famIdx(pfx.Family())
	if t.roots[fi] == nilIdx {
		return
	}
	reached := t.descend(fi, pfx)
	rel, diff := t.classify(reached, pfx)

	switch rel {
	case relSelf:
		re := t.arena[reached]
		if re.actual && onExact != nil {
			if onExact(Node{reached}) == EndAll {
				return
			}
		}
		if onParent != nil {
			if t.walkAncestors(re.parent, onParent) == EndAll {
				return
			}
		}
		if onChild != nil {
			if t.walkSubtree(re.left, onChild) == EndAll {
				return
			}
			t.walkSubtree(re.right, onChild)
		}

	case relParent:
		if onParent != nil {
			t.walkAncestors(reached, onParent)
		}

	case relChild:
		re := t.arena[reached]
		if onParent != nil {
			if t.walkAncestors(re.parent, onParent) == EndAll {
				return
			}
		}
		if onChild != nil {
			t.walkSubtree(reached, onChild)
		}

	case relSibling:
		anc := t.arena[reached].parent
		for anc != nilIdx && int(t.arena[anc].pfx.MaskLen()) >= diff {
			anc = t.arena[anc].parent
		}
		if onParent != nil {
			t.walkAncestors(anc, onParent)
		}
	}
}

// walkAncestors walks the parent chain starting at (and including) start,
// invoking cb for actual nodes only.
func (t *Tree[T]) walkAncestors(start int32, cb Callback[T]) WalkAction {
	cur := start
	for cur != nilIdx {
		e := t.arena[cur]
		if e.actual {
			switch cb(Node{cur}) {
			case EndAll:
				return EndAll
			case EndDirection:
				return Continue
			}
		}
		cur = e.parent
	}
	return Continue
}

// walkSubtree visits root's subtree in order (left, self, right),
// invoking cb for actual nodes only.
func (t *Tree[T]) walkSubtree(root int32, cb Callback[T]) WalkAction {
	if root == nilIdx {
		return Continue
	}
	e := t.arena[root]
	if e.left != nilIdx {
		switch t.walkSubtree(e.left, cb) {
		case EndAll:
			return EndAll
		case EndDirection:
			return Continue
		}
	}
	if e.actual {
		switch cb(Node{root}) {
		case EndAll:
			return EndAll
		case EndDirection:
			return Continue
		}
	}
	if e.right != nilIdx {
		if t.walkSubtree(e.right, cb) == EndAll {
			return EndAll
		}
	}
	return Continue
}
