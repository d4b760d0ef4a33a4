// Package tablebuild assembles a view.View from the sequence of wire
// records carried between a TABLE_BEGIN and its matching TABLE_END: a
// producer's peer table burst followed by its prefix table burst. The
// same assembler is used on the server (reassembling a producer's table)
// and on a consumer client (decoding a published view), since both sides
// see an identical wire shape.
package tablebuild

import (
	"fmt"
	"net/netip"

	"github.com/caida-tools/bgpwatcher/internal/peersig"
	"github.com/caida-tools/bgpwatcher/internal/view"
	"github.com/caida-tools/bgpwatcher/internal/wire"
)

type tableState struct {
	open      bool
	time      uint32
	collector string
}

// Builder accumulates one view across a PEER table burst followed by a
// PREFIX table burst. A Builder is single-use: once both bursts have been
// closed with a matching End, call View to take the result and Reset
// before reusing it for the next table.
type Builder struct {
	v          *view.View
	peerByIP   map[netip.Addr]uint16
	peerTable  tableState
	pfxTable   tableState
	peerClosed bool
	pfxClosed  bool
}

// New creates an empty builder. dtor is forwarded to the underlying view.
func New(dtor view.Destructors) *Builder {
	return &Builder{
		v:        view.New(dtor),
		peerByIP: make(map[netip.Addr]uint16),
	}
}

// Begin opens a table burst of the type named in tb. The first Begin seen
// stamps the view's time and collector; a later Begin of the other type
// must echo the same time and collector or Begin fails with a protocol
// error.
func (b *Builder) Begin(tb wire.TableBegin) error {
	st, err := b.stateFor(tb.Type)
	if err != nil {
		return err
	}
	if st.open {
		return fmt.Errorf("tablebuild: table type %s already open", tb.Type)
	}
	if b.v.PeerCount() == 0 && b.v.V4PfxCount() == 0 && b.v.V6PfxCount() == 0 && b.v.Time() == 0 {
		b.v.SetTime(tb.Time)
		b.v.SetCollector(tb.Collector)
	} else if tb.Time != b.v.Time() || tb.Collector != b.v.Collector() {
		return fmt.Errorf("tablebuild: table-begin (time=%d, collector=%q) does not match in-progress table (time=%d, collector=%q)",
			tb.Time, tb.Collector, b.v.Time(), b.v.Collector())
	}
	st.open = true
	st.time = tb.Time
	st.collector = tb.Collector
	return nil
}

func (b *Builder) stateFor(t wire.TableType) (*tableState, error) {
	switch t {
	case wire.TablePeer:
		return &b.peerTable, nil
	case wire.TablePrefix:
		return &b.pfxTable, nil
	default:
		return nil, fmt.Errorf("tablebuild: unknown table type %v", t)
	}
}

// AddPeer records one peer record into the view's peer table. It must
// occur between a PEER Begin and its End.
func (b *Builder) AddPeer(pr wire.PeerRecord) error {
	if !b.peerTable.open {
		return fmt.Errorf("tablebuild: peer record received with no open peer table")
	}
	sig := peersig.Sig{Collector: b.v.Collector(), PeerIP: pr.PeerIP, PeerASN: pr.ASN}
	id := b.v.AddPeer(sig, pr.State)
	b.peerByIP[pr.PeerIP] = id
	return nil
}

// AddPrefix records one prefix record, looking up its originating peer by
// the IP address carried on the wire among peers already added from the
// peer table burst. It must occur between a PREFIX Begin and its End.
func (b *Builder) AddPrefix(pr wire.PrefixRecord) error {
	if !b.pfxTable.open {
		return fmt.Errorf("tablebuild: prefix record received with no open prefix table")
	}
	id, ok := b.peerByIP[pr.PeerIP]
	if !ok {
		return fmt.Errorf("tablebuild: prefix record references unknown peer %s", pr.PeerIP)
	}
	return b.v.AddPfxPeer(id, pr.Prefix, pr.OrigASN)
}

// End closes the table burst named in te. te.Time must echo the Begin
// that opened it. Done reports whether both the peer and prefix bursts
// have now closed, meaning the view is complete.
func (b *Builder) End(te wire.TableEnd) (done bool, err error) {
	st, err := b.stateFor(te.Type)
	if err != nil {
		return false, err
	}
	if !st.open {
		return false, fmt.Errorf("tablebuild: table-end for %s with no open table", te.Type)
	}
	if te.Time != st.time {
		return false, fmt.Errorf("tablebuild: table-end time %d does not match table-begin time %d", te.Time, st.time)
	}
	st.open = false
	switch te.Type {
	case wire.TablePeer:
		b.peerClosed = true
	case wire.TablePrefix:
		b.pfxClosed = true
	}
	return b.peerClosed && b.pfxClosed, nil
}

// View returns the view assembled so far. It remains valid to keep
// accumulating into it until Reset is called.
func (b *Builder) View() *view.View { return b.v }

// Reset discards the current view (invoking any registered destructors)
// and prepares the builder for the next table.
func (b *Builder) Reset(dtor view.Destructors) {
	b.v.Destroy()
	b.v = view.New(dtor)
	b.peerByIP = make(map[netip.Addr]uint16)
	b.peerTable = tableState{}
	b.pfxTable = tableState{}
	b.peerClosed = false
	b.pfxClosed = false
}
