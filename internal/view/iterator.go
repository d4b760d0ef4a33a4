package view

import "github.com/caida-tools/bgpwatcher/internal/addr"

// Iterator is a fluent, seekable cursor over a view's peer table and
// prefix maps. It exposes five independently-positioned fields: PEER,
// V4PFX, V6PFX, V4PFX_PEER and V6PFX_PEER. Seeking the outer prefix field
// (V4PfxFirst/V4PfxNext, and likewise for V6) implicitly resets the
// corresponding inner peer field to its own first position, since the
// set of peers it ranges over changes with the current prefix.
type Iterator struct {
	v *View

	peerPos int

	v4Pos     int
	v4PeerPos int

	v6Pos     int
	v6PeerPos int
}

// IterCreate returns a new iterator positioned before the first element
// of every field.
func (v *View) IterCreate() *Iterator {
	return &Iterator{v: v}
}

// PeerFirst seeks the PEER field to its first element.
func (it *Iterator) PeerFirst() { it.peerPos = 0 }

// PeerNext advances the PEER field.
func (it *Iterator) PeerNext() { it.peerPos++ }

// PeerIsEnd reports whether the PEER field has been exhausted.
func (it *Iterator) PeerIsEnd() bool { return it.peerPos >= len(it.v.peerOrder) }

// PeerGet returns the current peer id and its metadata.
func (it *Iterator) PeerGet() (uint16, *PeerInfo) {
	id := it.v.peerOrder[it.peerPos]
	return id, it.v.peers[id]
}

// PeerSize returns the total number of peers.
func (it *Iterator) PeerSize() int { return len(it.v.peerOrder) }

// V4PfxFirst seeks the V4PFX field to its first element, resetting
// V4PFX_PEER.
func (it *Iterator) V4PfxFirst() { it.v4Pos = 0; it.v4PeerPos = 0 }

// V4PfxNext advances the V4PFX field, resetting V4PFX_PEER.
func (it *Iterator) V4PfxNext() { it.v4Pos++; it.v4PeerPos = 0 }

// V4PfxIsEnd reports whether the V4PFX field has been exhausted.
func (it *Iterator) V4PfxIsEnd() bool { return it.v4Pos >= len(it.v.v4) }

// V4PfxGet returns the current IPv4 prefix.
func (it *Iterator) V4PfxGet() addr.Prefix { return it.v.v4[it.v4Pos].pfx }

// V4PfxSize returns the total number of distinct IPv4 prefixes.
func (it *Iterator) V4PfxSize() int { return len(it.v.v4) }

// V4PfxPeerFirst seeks V4PFX_PEER to the first peer of the current V4PFX
// position.
func (it *Iterator) V4PfxPeerFirst() { it.v4PeerPos = 0 }

// V4PfxPeerNext advances V4PFX_PEER.
func (it *Iterator) V4PfxPeerNext() { it.v4PeerPos++ }

// V4PfxPeerIsEnd reports whether V4PFX_PEER has been exhausted for the
// current prefix.
func (it *Iterator) V4PfxPeerIsEnd() bool {
	return it.v4PeerPos >= len(it.v.v4[it.v4Pos].peers)
}

// V4PfxPeerGet returns the current (peer, prefix) entry for the current
// V4PFX position.
func (it *Iterator) V4PfxPeerGet() PeerPfxInfo {
	return it.v.v4[it.v4Pos].peers[it.v4PeerPos]
}

// V4PfxPeerSize returns the number of peers originating the current
// V4PFX prefix.
func (it *Iterator) V4PfxPeerSize() int { return len(it.v.v4[it.v4Pos].peers) }

// V6PfxFirst seeks the V6PFX field to its first element, resetting
// V6PFX_PEER.
func (it *Iterator) V6PfxFirst() { it.v6Pos = 0; it.v6PeerPos = 0 }

// V6PfxNext advances the V6PFX field, resetting V6PFX_PEER.
func (it *Iterator) V6PfxNext() { it.v6Pos++; it.v6PeerPos = 0 }

// V6PfxIsEnd reports whether the V6PFX field has been exhausted.
func (it *Iterator) V6PfxIsEnd() bool { return it.v6Pos >= len(it.v.v6) }

// V6PfxGet returns the current IPv6 prefix.
func (it *Iterator) V6PfxGet() addr.Prefix { return it.v.v6[it.v6Pos].pfx }

// V6PfxSize returns the total number of distinct IPv6 prefixes.
func (it *Iterator) V6PfxSize() int { return len(it.v.v6) }

// V6PfxPeerFirst seeks V6PFX_PEER to the first peer of the current V6PFX
// position.
func (it *Iterator) V6PfxPeerFirst() { it.v6PeerPos = 0 }

// V6PfxPeerNext advances V6PFX_PEER.
func (it *Iterator) V6PfxPeerNext() { it.v6PeerPos++ }

// V6PfxPeerIsEnd reports whether V6PFX_PEER has been exhausted for the
// current prefix.
func (it *Iterator) V6PfxPeerIsEnd() bool {
	return it.v6PeerPos >= len(it.v.v6[it.v6Pos].peers)
}

// V6PfxPeerGet returns the current (peer, prefix) entry for the current
// V6PFX position.
func (it *Iterator) V6PfxPeerGet() PeerPfxInfo {
	return it.v.v6[it.v6Pos].peers[it.v6PeerPos]
}

// V6PfxPeerSize returns the number of peers originating the current
// V6PFX prefix.
func (it *Iterator) V6PfxPeerSize() int { return len(it.v.v6[it.v6Pos].peers) }
