package view

import (
	"testing"

	"github.com/caida-tools/bgpwatcher/internal/addr"
	"github.com/caida-tools/bgpwatcher/internal/peersig"
)

func pfx(t *testing.T, s string) addr.Prefix {
	t.Helper()
	p, err := addr.Parse(s)
	if err != nil {
		t.Fatalf("addr.Parse(%q): %v", s, err)
	}
	return p
}

func establishedSig(t *testing.T, v *View, ip string, asn uint32) uint16 {
	t.Helper()
	a, err := addr.Parse(ip + "/32")
	if err != nil {
		t.Fatalf("addr.Parse(%q): %v", ip, err)
	}
	sig := peersig.Sig{Collector: "rrc00", PeerIP: a.Addr(), PeerASN: asn}
	return v.AddPeer(sig, peersig.StateEstablished)
}

func TestAddPfxPeerIncrementsOnFirstOccurrenceOnly(t *testing.T) {
	v := New(Destructors{})
	peerID := establishedSig(t, v, "192.0.2.1", 64500)

	if err := v.AddPfxPeer(peerID, pfx(t, "10.0.0.0/24"), 64500); err != nil {
		t.Fatalf("AddPfxPeer: %v", err)
	}
	if v.V4PfxCount() != 1 {
		t.Fatalf("V4PfxCount() = %d, want 1", v.V4PfxCount())
	}
	if v.peers[peerID].V4PfxCnt != 1 {
		t.Fatalf("peer V4PfxCnt = %d, want 1", v.peers[peerID].V4PfxCnt)
	}

	// Re-adding the same (peer, pfx) updates the origin ASN but must not
	// increment the counters again.
	if err := v.AddPfxPeer(peerID, pfx(t, "10.0.0.0/24"), 64501); err != nil {
		t.Fatalf("AddPfxPeer (update): %v", err)
	}
	if v.V4PfxCount() != 1 {
		t.Errorf("V4PfxCount() after repeat = %d, want 1", v.V4PfxCount())
	}
	if v.peers[peerID].V4PfxCnt != 1 {
		t.Errorf("peer V4PfxCnt after repeat = %d, want 1", v.peers[peerID].V4PfxCnt)
	}
}

func TestAddPfxPeerRejectsNonEstablishedPeer(t *testing.T) {
	v := New(Destructors{})
	a, _ := addr.Parse("192.0.2.1/32")
	sig := peersig.Sig{Collector: "rrc00", PeerIP: a.Addr(), PeerASN: 64500}
	peerID := v.AddPeer(sig, peersig.StateActive)

	if err := v.AddPfxPeer(peerID, pfx(t, "10.0.0.0/24"), 64500); err != ErrPeerNotEstablished {
		t.Errorf("AddPfxPeer = %v, want ErrPeerNotEstablished", err)
	}
}

func TestIteratorV4PfxPeerResetsOnOuterSeek(t *testing.T) {
	v := New(Destructors{})
	p1 := establishedSig(t, v, "192.0.2.1", 64500)
	p2 := establishedSig(t, v, "192.0.2.2", 64501)

	v.AddPfxPeer(p1, pfx(t, "10.0.0.0/24"), 64500)
	v.AddPfxPeer(p2, pfx(t, "10.0.0.0/24"), 64500)
	v.AddPfxPeer(p1, pfx(t, "10.0.1.0/24"), 64500)

	it := v.IterCreate()
	it.V4PfxFirst()
	if it.V4PfxSize() != 2 {
		t.Fatalf("V4PfxSize() = %d, want 2", it.V4PfxSize())
	}

	it.V4PfxPeerFirst()
	count := 0
	for !it.V4PfxPeerIsEnd() {
		count++
		it.V4PfxPeerNext()
	}
	if count != 2 {
		t.Errorf("peers on first prefix = %d, want 2", count)
	}

	it.V4PfxNext()
	if it.V4PfxPeerIsEnd() {
		t.Fatal("expected at least one peer on second prefix after implicit reset")
	}
	if size := it.V4PfxPeerSize(); size != 1 {
		t.Errorf("peers on second prefix = %d, want 1", size)
	}
}

func TestPeerIteratorCoversAllPeers(t *testing.T) {
	v := New(Destructors{})
	establishedSig(t, v, "192.0.2.1", 64500)
	establishedSig(t, v, "192.0.2.2", 64501)

	it := v.IterCreate()
	it.PeerFirst()
	seen := 0
	for !it.PeerIsEnd() {
		seen++
		it.PeerNext()
	}
	if seen != 2 {
		t.Errorf("peer iteration saw %d, want 2", seen)
	}
}

func TestUserDestructorsFireOnOverwriteAndClear(t *testing.T) {
	var destroyedView, destroyedPeer, destroyedPfx, destroyedPeerPfx []int
	v := New(Destructors{
		View:    func(u any) { destroyedView = append(destroyedView, u.(int)) },
		Peer:    func(u any) { destroyedPeer = append(destroyedPeer, u.(int)) },
		Prefix:  func(u any) { destroyedPfx = append(destroyedPfx, u.(int)) },
		PeerPfx: func(u any) { destroyedPeerPfx = append(destroyedPeerPfx, u.(int)) },
	})
	peerID := establishedSig(t, v, "192.0.2.1", 64500)
	p := pfx(t, "10.0.0.0/24")
	v.AddPfxPeer(peerID, p, 64500)

	v.SetUser(1)
	v.SetUser(2) // overwrite: destroys 1
	v.SetPeerUser(peerID, 10)
	v.SetPfxUser(addr.FamilyV4, p, 20)
	v.SetPeerPfxUser(addr.FamilyV4, p, peerID, 30)

	v.Clear()

	if len(destroyedView) != 2 || destroyedView[0] != 1 || destroyedView[1] != 2 {
		t.Errorf("destroyedView = %v, want [1 2]", destroyedView)
	}
	if len(destroyedPeer) != 1 || destroyedPeer[0] != 10 {
		t.Errorf("destroyedPeer = %v, want [10]", destroyedPeer)
	}
	if len(destroyedPfx) != 1 || destroyedPfx[0] != 20 {
		t.Errorf("destroyedPfx = %v, want [20]", destroyedPfx)
	}
	if len(destroyedPeerPfx) != 1 || destroyedPeerPfx[0] != 30 {
		t.Errorf("destroyedPeerPfx = %v, want [30]", destroyedPeerPfx)
	}
	if v.PeerCount() != 0 || v.V4PfxCount() != 0 {
		t.Error("Clear did not reset the view")
	}
}
