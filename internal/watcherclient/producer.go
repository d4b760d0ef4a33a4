package watcherclient

import (
	"context"

	"github.com/caida-tools/bgpwatcher/internal/wire"
)

// ProducerTable is a fluent builder over a Client that hides the wire
// protocol's two underlying table bursts (PEER then PREFIX) behind a
// single begin/add-peer/add-prefix/end sequence: the PEER burst opens
// on the first AddPeer and closes automatically the moment the first
// AddPrefix is called, which opens the PREFIX burst in its place.
type ProducerTable struct {
	c         *Client
	time      uint32
	collector string
	peerCount uint16

	peerOpen bool
	pfxOpen  bool
}

// NewTable starts building a table for the given collector and
// snapshot time. peerCount is advertised on the wire but not enforced;
// it is informational for the server.
func (c *Client) NewTable(t uint32, collector string, peerCount uint16) *ProducerTable {
	return &ProducerTable{c: c, time: t, collector: collector, peerCount: peerCount}
}

// AddPeer records one peer. It opens the PEER burst on first call.
func (t *ProducerTable) AddPeer(ctx context.Context, pr wire.PeerRecord) error {
	if !t.peerOpen {
		if err := t.c.BeginTable(ctx, wire.TablePeer, t.time, t.collector, t.peerCount); err != nil {
			return err
		}
		t.peerOpen = true
	}
	return t.c.AddPeer(ctx, pr)
}

// AddPrefix records one prefix. It closes the PEER burst (if still
// open) and opens the PREFIX burst on first call.
func (t *ProducerTable) AddPrefix(ctx context.Context, pr wire.PrefixRecord) error {
	if t.peerOpen && !t.pfxOpen {
		if err := t.c.EndTable(ctx, wire.TablePeer, t.time); err != nil {
			return err
		}
		t.peerOpen = false
	}
	if !t.pfxOpen {
		if err := t.c.BeginTable(ctx, wire.TablePrefix, t.time, t.collector, t.peerCount); err != nil {
			return err
		}
		t.pfxOpen = true
	}
	return t.c.AddPrefix(ctx, pr)
}

// End closes whichever burst is still open. Call it exactly once after
// the last AddPeer/AddPrefix.
func (t *ProducerTable) End(ctx context.Context) error {
	if t.peerOpen {
		if err := t.c.EndTable(ctx, wire.TablePeer, t.time); err != nil {
			return err
		}
		t.peerOpen = false
	}
	if t.pfxOpen {
		if err := t.c.EndTable(ctx, wire.TablePrefix, t.time); err != nil {
			return err
		}
		t.pfxOpen = false
	}
	return nil
}
