package peersig

import (
	"net/netip"
	"testing"
)

func TestGetIDInternsAndRoundTrips(t *testing.T) {
	m := New()
	ip := netip.MustParseAddr("192.0.2.1")
	id := m.GetID("route-views2", ip, 64500)

	if id == InvalidID {
		t.Fatal("GetID returned the reserved invalid id")
	}

	sig, ok := m.GetSig(id)
	if !ok {
		t.Fatal("GetSig failed to find a just-interned id")
	}
	want := Sig{Collector: "route-views2", PeerIP: ip, PeerASN: 64500}
	if sig != want {
		t.Errorf("GetSig(%d) = %+v, want %+v", id, sig, want)
	}
}

func TestGetIDIsIdempotent(t *testing.T) {
	m := New()
	ip := netip.MustParseAddr("192.0.2.1")
	id1 := m.GetID("rrc00", ip, 3356)
	id2 := m.GetID("rrc00", ip, 3356)
	if id1 != id2 {
		t.Errorf("repeat GetID returned different ids: %d vs %d", id1, id2)
	}
	if m.Size() != 1 {
		t.Errorf("Size() = %d, want 1", m.Size())
	}
}

func TestIDsAreDenseAndMonotonic(t *testing.T) {
	m := New()
	ip := netip.MustParseAddr("2001:db8::1")
	var ids []uint16
	for i, asn := range []uint32{100, 200, 300} {
		ids = append(ids, m.GetID("rrc10", ip, asn))
		if want := uint16(i + 1); ids[i] != want {
			t.Errorf("GetID #%d = %d, want %d", i, ids[i], want)
		}
	}
}

func TestDistinctCollectorsAreDistinctPeers(t *testing.T) {
	m := New()
	ip := netip.MustParseAddr("192.0.2.1")
	id1 := m.GetID("rrc00", ip, 64500)
	id2 := m.GetID("rrc01", ip, 64500)
	if id1 == id2 {
		t.Error("same ip/asn under different collectors collapsed to the same id")
	}
}

func TestGetSigRejectsInvalidAndUnallocated(t *testing.T) {
	m := New()
	if _, ok := m.GetSig(InvalidID); ok {
		t.Error("GetSig(InvalidID) should never succeed")
	}
	if _, ok := m.GetSig(1); ok {
		t.Error("GetSig of an unallocated id should fail on an empty map")
	}
}

func TestStateDefaultsToNullAndTracksUpdates(t *testing.T) {
	m := New()
	id := m.GetID("rrc00", netip.MustParseAddr("192.0.2.1"), 64500)
	if got := m.State(id); got != StateNull {
		t.Errorf("initial state = %s, want null", got)
	}
	m.SetState(id, StateEstablished)
	if got := m.State(id); got != StateEstablished {
		t.Errorf("state after SetState = %s, want established", got)
	}
	if got := m.State(InvalidID); got != StateNull {
		t.Errorf("State(InvalidID) = %s, want null", got)
	}
}

func TestMapSizesStayEqual(t *testing.T) {
	m := New()
	for i := 0; i < 5; i++ {
		m.GetID("rrc00", netip.MustParseAddr("192.0.2.1"), uint32(i))
	}
	for id := uint16(1); id <= uint16(m.Size()); id++ {
		sig, ok := m.GetSig(id)
		if !ok {
			t.Fatalf("id %d missing from reverse map though Size()=%d", id, m.Size())
		}
		if back := m.GetID(sig.Collector, sig.PeerIP, sig.PeerASN); back != id {
			t.Errorf("round trip for id %d produced %d", id, back)
		}
	}
}
