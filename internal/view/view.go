// Package view implements the time-stamped, per-collector snapshot of
// peer sessions and the prefixes they originate: a peer table keyed by
// peer id plus two prefix maps, one per address family.
package view

import (
	"errors"

	"github.com/caida-tools/bgpwatcher/internal/addr"
	"github.com/caida-tools/bgpwatcher/internal/peersig"
)

// ErrPeerNotEstablished is returned by AddPfxPeer when the named peer is
// not in the established state; only established peers may originate
// prefixes in a view.
var ErrPeerNotEstablished = errors.New("view: peer is not established")

// PeerInfo is the per-peer metadata tracked by a view.
type PeerInfo struct {
	Sig       peersig.Sig
	State     peersig.State
	V4PfxCnt  int
	V6PfxCnt  int
	User      any
}

// PeerPfxInfo is the per-(peer, prefix) data tracked by a view.
type PeerPfxInfo struct {
	PeerID  uint16
	OrigASN uint32
	User    any
}

type pfxSlot struct {
	pfx     addr.Prefix
	peers   []PeerPfxInfo
	peerPos map[uint16]int
	user    any
}

// Destructors bundles the optional user-pointer destructors registered at
// view creation, one per level of the data model. A nil destructor means
// "no cleanup needed" at that level.
type Destructors struct {
	View     func(any)
	Peer     func(any)
	Prefix   func(any)
	PeerPfx  func(any)
}

// View is a time-stamped snapshot of one collector's peers and the
// prefixes they originate. The zero value is not usable; construct with
// New.
type View struct {
	time      uint32
	collector string

	sigs      *peersig.Map
	peerOrder []uint16
	peers     map[uint16]*PeerInfo

	v4     []*pfxSlot
	v4idx  map[addr.Prefix]int
	v6     []*pfxSlot
	v6idx  map[addr.Prefix]int

	user any
	dtor Destructors
}

// New creates an empty view. dtor may be the zero value if no user
// pointers will be attached.
func New(dtor Destructors) *View {
	return &View{
		sigs:  peersig.New(),
		peers: make(map[uint16]*PeerInfo),
		v4idx: make(map[addr.Prefix]int),
		v6idx: make(map[addr.Prefix]int),
		dtor:  dtor,
	}
}

// SetTime sets the view's snapshot timestamp.
func (v *View) SetTime(t uint32) { v.time = t }

// Time returns the view's snapshot timestamp.
func (v *View) Time() uint32 { return v.time }

// SetCollector sets the originating collector name.
func (v *View) SetCollector(name string) { v.collector = name }

// Collector returns the originating collector name.
func (v *View) Collector() string { return v.collector }

// AddPeer interns sig through the view's peer-signature map and records
// or updates its session state, returning the peer id.
func (v *View) AddPeer(sig peersig.Sig, state peersig.State) uint16 {
	id := v.sigs.GetID(sig.Collector, sig.PeerIP, sig.PeerASN)
	v.sigs.SetState(id, state)
	if pi, ok := v.peers[id]; ok {
		pi.State = state
		return id
	}
	v.peers[id] = &PeerInfo{Sig: sig, State: state}
	v.peerOrder = append(v.peerOrder, id)
	return id
}

// PeerCount returns the number of distinct peers known to the view.
func (v *View) PeerCount() int { return len(v.peerOrder) }

// PeerInfo returns the metadata tracked for a peer id, if known.
func (v *View) PeerInfo(peerID uint16) (*PeerInfo, bool) {
	pi, ok := v.peers[peerID]
	return pi, ok
}

func famTables(v *View, fam addr.Family) (*[]*pfxSlot, map[addr.Prefix]int, bool) {
	switch fam {
	case addr.FamilyV4:
		return &v.v4, v.v4idx, true
	case addr.FamilyV6:
		return &v.v6, v.v6idx, true
	default:
		return nil, nil, false
	}
}

// AddPfxPeer records that peerID originates pfx with origin ASN asn. The
// per-family prefix count increments only on first occurrence of
// (peerID, pfx). peerID must already be known and established.
func (v *View) AddPfxPeer(peerID uint16, pfx addr.Prefix, origASN uint32) error {
	pi, ok := v.peers[peerID]
	if !ok {
		return errors.New("view: unknown peer id")
	}
	if pi.State != peersig.StateEstablished {
		return ErrPeerNotEstablished
	}

	slots, idx, ok := famTables(v, pfx.Family())
	if !ok {
		return errors.New("view: prefix has no address family")
	}

	si, ok := idx[pfx]
	var slot *pfxSlot
	if ok {
		slot = (*slots)[si]
	} else {
		slot = &pfxSlot{pfx: pfx, peerPos: make(map[uint16]int)}
		*slots = append(*slots, slot)
		idx[pfx] = len(*slots) - 1
	}

	if ppIdx, exists := slot.peerPos[peerID]; exists {
		slot.peers[ppIdx].OrigASN = origASN
		return nil
	}

	slot.peerPos[peerID] = len(slot.peers)
	slot.peers = append(slot.peers, PeerPfxInfo{PeerID: peerID, OrigASN: origASN})
	if pfx.Family() == addr.FamilyV4 {
		pi.V4PfxCnt++
	} else {
		pi.V6PfxCnt++
	}
	return nil
}

// V4PfxCount returns the number of distinct IPv4 prefixes in the view.
func (v *View) V4PfxCount() int { return len(v.v4) }

// V6PfxCount returns the number of distinct IPv6 prefixes in the view.
func (v *View) V6PfxCount() int { return len(v.v6) }

// User returns the view-level user pointer.
func (v *View) User() any { return v.user }

// SetUser replaces the view-level user pointer, invoking the registered
// destructor (if any) on the previous value.
func (v *View) SetUser(u any) {
	if v.dtor.View != nil && v.user != nil {
		v.dtor.View(v.user)
	}
	v.user = u
}

// PeerUser returns the user pointer attached to a peer.
func (v *View) PeerUser(peerID uint16) any {
	if pi, ok := v.peers[peerID]; ok {
		return pi.User
	}
	return nil
}

// SetPeerUser attaches a user pointer to a peer, invoking the registered
// peer destructor on any previous value.
func (v *View) SetPeerUser(peerID uint16, u any) {
	pi, ok := v.peers[peerID]
	if !ok {
		return
	}
	if v.dtor.Peer != nil && pi.User != nil {
		v.dtor.Peer(pi.User)
	}
	pi.User = u
}

func (v *View) findSlot(fam addr.Family, pfx addr.Prefix) *pfxSlot {
	slots, idx, ok := famTables(v, fam)
	if !ok {
		return nil
	}
	if si, ok := idx[pfx]; ok {
		return (*slots)[si]
	}
	return nil
}

// PfxUser returns the user pointer attached to a prefix entry.
func (v *View) PfxUser(fam addr.Family, pfx addr.Prefix) any {
	if slot := v.findSlot(fam, pfx); slot != nil {
		return slot.user
	}
	return nil
}

// SetPfxUser attaches a user pointer to a prefix entry, invoking the
// registered prefix destructor on any previous value.
func (v *View) SetPfxUser(fam addr.Family, pfx addr.Prefix, u any) {
	slot := v.findSlot(fam, pfx)
	if slot == nil {
		return
	}
	if v.dtor.Prefix != nil && slot.user != nil {
		v.dtor.Prefix(slot.user)
	}
	slot.user = u
}

// PeerPfxUser returns the user pointer attached to a (peer, prefix) pair.
func (v *View) PeerPfxUser(fam addr.Family, pfx addr.Prefix, peerID uint16) any {
	slot := v.findSlot(fam, pfx)
	if slot == nil {
		return nil
	}
	if i, ok := slot.peerPos[peerID]; ok {
		return slot.peers[i].User
	}
	return nil
}

// SetPeerPfxUser attaches a user pointer to a (peer, prefix) pair,
// invoking the registered destructor on any previous value.
func (v *View) SetPeerPfxUser(fam addr.Family, pfx addr.Prefix, peerID uint16, u any) {
	slot := v.findSlot(fam, pfx)
	if slot == nil {
		return
	}
	i, ok := slot.peerPos[peerID]
	if !ok {
		return
	}
	if v.dtor.PeerPfx != nil && slot.peers[i].User != nil {
		v.dtor.PeerPfx(slot.peers[i].User)
	}
	slot.peers[i].User = u
}

// Clear empties the view, invoking registered destructors on every
// outstanding user pointer, and resets it for reuse.
func (v *View) Clear() {
	if v.dtor.View != nil && v.user != nil {
		v.dtor.View(v.user)
	}
	v.user = nil

	for _, pi := range v.peers {
		if v.dtor.Peer != nil && pi.User != nil {
			v.dtor.Peer(pi.User)
		}
	}
	for _, slots := range [][]*pfxSlot{v.v4, v.v6} {
		for _, s := range slots {
			if v.dtor.Prefix != nil && s.user != nil {
				v.dtor.Prefix(s.user)
			}
			if v.dtor.PeerPfx != nil {
				for _, pp := range s.peers {
					if pp.User != nil {
						v.dtor.PeerPfx(pp.User)
					}
				}
			}
		}
	}

	v.time = 0
	v.collector = ""
	v.sigs = peersig.New()
	v.peerOrder = nil
	v.peers = make(map[uint16]*PeerInfo)
	v.v4 = nil
	v.v6 = nil
	v.v4idx = make(map[addr.Prefix]int)
	v.v6idx = make(map[addr.Prefix]int)
}

// Destroy releases the view. It is equivalent to Clear; a View has no
// additional resources to release beyond its user pointers.
func (v *View) Destroy() { v.Clear() }
