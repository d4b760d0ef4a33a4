// Package peersig implements the two-way interning map between a peer's
// (collector, address, ASN) signature and a dense 16-bit peer id.
package peersig

import "net/netip"

// InvalidID is the reserved "no such peer" id.
const InvalidID uint16 = 0

// Sig identifies a peer uniquely within a map.
type Sig struct {
	Collector string
	PeerIP    netip.Addr
	PeerASN   uint32
}

// State is a peer's BGP session state. Only Established peers contribute
// prefixes to a view.
type State int

const (
	StateNull State = iota
	StateIdle
	StateConnect
	StateActive
	StateOpenSent
	StateOpenConfirm
	StateEstablished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnect:
		return "connect"
	case StateActive:
		return "active"
	case StateOpenSent:
		return "opensent"
	case StateOpenConfirm:
		return "openconfirm"
	case StateEstablished:
		return "established"
	default:
		return "null"
	}
}

// Map is a bijective collector/peer-ip/peer-asn <-> peer-id interning
// table. Not safe for concurrent use; each view or server owns its own.
type Map struct {
	sigToID map[Sig]uint16
	idToSig []Sig   // idToSig[id-1] holds the signature for id
	state   []State // state[id-1] holds the session state for id
}

// New creates an empty map.
func New() *Map {
	return &Map{sigToID: make(map[Sig]uint16)}
}

// GetID interns (collector, ip, asn), allocating a new id on first sight.
// Ids are dense and allocated as current_size+1; id 0 is never returned.
func (m *Map) GetID(collector string, ip netip.Addr, asn uint32) uint16 {
	s := Sig{Collector: collector, PeerIP: ip, PeerASN: asn}
	if id, ok := m.sigToID[s]; ok {
		return id
	}
	id := uint16(len(m.idToSig) + 1)
	m.sigToID[s] = id
	m.idToSig = append(m.idToSig, s)
	m.state = append(m.state, StateNull)
	return id
}

// GetSig is the O(1) reverse lookup; ok is false for InvalidID or an
// id never allocated by this map.
func (m *Map) GetSig(id uint16) (Sig, bool) {
	if id == InvalidID || int(id) > len(m.idToSig) {
		return Sig{}, false
	}
	return m.idToSig[id-1], true
}

// Size returns the number of interned signatures; both internal maps
// always have equal size by construction.
func (m *Map) Size() int {
	return len(m.idToSig)
}

// State returns the session state for id, or StateNull if id is invalid
// or unallocated.
func (m *Map) State(id uint16) State {
	if id == InvalidID || int(id) > len(m.state) {
		return StateNull
	}
	return m.state[id-1]
}

// SetState updates the session state for an already-interned id. It is a
// no-op for InvalidID or an unallocated id.
func (m *Map) SetState(id uint16, s State) {
	if id == InvalidID || int(id) > len(m.state) {
		return
	}
	m.state[id-1] = s
}
