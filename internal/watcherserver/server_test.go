package watcherserver

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/caida-tools/bgpwatcher/internal/addr"
	"github.com/caida-tools/bgpwatcher/internal/peersig"
	"github.com/caida-tools/bgpwatcher/internal/tablebuild"
	"github.com/caida-tools/bgpwatcher/internal/transport"
	"github.com/caida-tools/bgpwatcher/internal/view"
	"github.com/caida-tools/bgpwatcher/internal/wire"
)

func buildTestView(t *testing.T, peers int, v4PfxPerPeer int) *view.View {
	t.Helper()
	v := view.New(view.Destructors{})
	v.SetTime(1000)
	v.SetCollector("rrc00")
	for p := 0; p < peers; p++ {
		sig := peersig.Sig{
			Collector: "rrc00",
			PeerIP:    netip.MustParseAddr("192.0.2.1"),
			PeerASN:   uint32(64500 + p),
		}
		id := v.AddPeer(sig, peersig.StateEstablished)
		for i := 0; i < v4PfxPerPeer; i++ {
			p4 := addr.NewPrefix(netip.AddrFrom4([4]byte{203, 0, byte(i), 0}), 24)
			if err := v.AddPfxPeer(id, p4, 65000); err != nil {
				t.Fatalf("AddPfxPeer: %v", err)
			}
		}
	}
	return v
}

func TestClassify_BelowThreshold(t *testing.T) {
	v := buildTestView(t, 1, 1)
	cfg := FeedConfig{V4FullFeedSize: 400000, V6FullFeedSize: 10000, PeerCountThreshold: 1}
	mask := classify(v, cfg, map[string]bool{})
	if mask != wire.InterestPartial {
		t.Fatalf("got %v, want PARTIAL", mask)
	}
}

func TestClassify_FirstFullThenFull(t *testing.T) {
	v := buildTestView(t, 1, 5)
	cfg := FeedConfig{V4FullFeedSize: 5, V6FullFeedSize: 10000, PeerCountThreshold: 1}
	seen := map[string]bool{}

	mask := classify(v, cfg, seen)
	if mask != wire.InterestFirstFull|wire.InterestFull {
		t.Fatalf("first view: got %v, want FIRST_FULL|FULL", mask)
	}

	mask = classify(v, cfg, seen)
	if mask != wire.InterestFull {
		t.Fatalf("second view: got %v, want FULL", mask)
	}
}

func TestClassify_EmptyView(t *testing.T) {
	v := view.New(view.Destructors{})
	cfg := DefaultFeedConfig()
	if mask := classify(v, cfg, map[string]bool{}); mask != 0 {
		t.Fatalf("got %v, want 0 for an empty view", mask)
	}
}

func decodeViewMessages(t *testing.T, msgs [][][]byte) *view.View {
	t.Helper()
	b := tablebuild.New(view.Destructors{})
	for i, msg := range msgs {
		envType := wire.EnvelopeTypeOf(msg[0])
		if envType != wire.EnvelopeData {
			t.Fatalf("message %d: envelope type = %v, want DATA", i, envType)
		}
		dataType := wire.DataMsgTypeOf(msg[1])
		body := msg[3:]
		switch dataType {
		case wire.DataTableBegin:
			tb, err := wire.DecodeTableBegin(body)
			if err != nil {
				t.Fatalf("DecodeTableBegin: %v", err)
			}
			if err := b.Begin(tb); err != nil {
				t.Fatalf("Begin: %v", err)
			}
		case wire.DataPeerRecord:
			pr, err := wire.DecodePeerRecord(body)
			if err != nil {
				t.Fatalf("DecodePeerRecord: %v", err)
			}
			if err := b.AddPeer(pr); err != nil {
				t.Fatalf("AddPeer: %v", err)
			}
		case wire.DataPrefixRecord:
			pr, err := wire.DecodePrefixRecord(body)
			if err != nil {
				t.Fatalf("DecodePrefixRecord: %v", err)
			}
			if err := b.AddPrefix(pr); err != nil {
				t.Fatalf("AddPrefix: %v", err)
			}
		case wire.DataPrefixRecordBurst:
			if len(body) != 1 {
				t.Fatalf("prefix burst has %d frames, want 1", len(body))
			}
			records, err := wire.DecodePrefixBurst(body[0])
			if err != nil {
				t.Fatalf("DecodePrefixBurst: %v", err)
			}
			for _, pr := range records {
				if err := b.AddPrefix(pr); err != nil {
					t.Fatalf("AddPrefix (burst): %v", err)
				}
			}
		case wire.DataTableEnd:
			te, err := wire.DecodeTableEnd(body)
			if err != nil {
				t.Fatalf("DecodeTableEnd: %v", err)
			}
			if _, err := b.End(te); err != nil {
				t.Fatalf("End: %v", err)
			}
		}
	}
	return b.View()
}

func TestEncodeViewRoundTripsThroughTablebuild(t *testing.T) {
	srv := New(Config{}, nil, Callbacks{})
	v := buildTestView(t, 2, 3)
	got := decodeViewMessages(t, srv.encodeView(v, wire.InterestFull))
	if got.PeerCount() != v.PeerCount() {
		t.Errorf("peer count = %d, want %d", got.PeerCount(), v.PeerCount())
	}
	if got.V4PfxCount() != v.V4PfxCount() {
		t.Errorf("v4 prefix count = %d, want %d", got.V4PfxCount(), v.V4PfxCount())
	}
}

func TestEncodeViewBatchesLargeTablesIntoBursts(t *testing.T) {
	srv := New(Config{}, nil, Callbacks{})
	v := buildTestView(t, 1, wire.BulkBurstThreshold+10)
	msgs := srv.encodeView(v, wire.InterestFull)

	sawBurst := false
	for _, msg := range msgs {
		if wire.DataMsgTypeOf(msg[1]) == wire.DataPrefixRecordBurst {
			sawBurst = true
		}
		if wire.DataMsgTypeOf(msg[1]) == wire.DataPrefixRecord {
			t.Fatal("large table still carries per-record prefix messages")
		}
	}
	if !sawBurst {
		t.Fatal("expected at least one PREFIX_RECORD_BURST message")
	}

	got := decodeViewMessages(t, msgs)
	if got.V4PfxCount() != v.V4PfxCount() {
		t.Errorf("v4 prefix count = %d, want %d", got.V4PfxCount(), v.V4PfxCount())
	}
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			return conn
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("dial %s: %v", addr, err)
	return nil
}

func TestServerPublishesToInterestedConsumer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addrStr := ln.Addr().String()
	ln.Close()

	srv := New(Config{
		ListenAddr:        addrStr,
		HeartbeatInterval: time.Second,
		HeartbeatLiveness: 3,
		Feed:              FeedConfig{V4FullFeedSize: 2, V6FullFeedSize: 10000, PeerCountThreshold: 1},
	}, nil, Callbacks{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	consumer := dial(t, addrStr)
	defer consumer.Close()
	if err := transport.WriteMessage(consumer, [][]byte{{byte(wire.EnvelopeReady)}, []byte("consumer1"), {byte(wire.InterestPartial)}}); err != nil {
		t.Fatalf("consumer READY: %v", err)
	}

	producer := dial(t, addrStr)
	defer producer.Close()
	if err := transport.WriteMessage(producer, [][]byte{{byte(wire.EnvelopeReady)}, []byte("producer1")}); err != nil {
		t.Fatalf("producer READY: %v", err)
	}

	send := func(dataType wire.DataMsgType, body [][]byte) {
		msg := append([][]byte{{byte(wire.EnvelopeData)}, {byte(dataType)}, wire.EncodeSeq(1)}, body...)
		if err := transport.WriteMessage(producer, msg); err != nil {
			t.Fatalf("write: %v", err)
		}
		reply, err := transport.ReadMessage(producer)
		if err != nil {
			t.Fatalf("read reply: %v", err)
		}
		if wire.EnvelopeTypeOf(reply[0]) != wire.EnvelopeReply {
			t.Fatalf("expected REPLY, got %v", wire.EnvelopeTypeOf(reply[0]))
		}
		rep, err := wire.DecodeReply(reply[1:])
		if err != nil {
			t.Fatalf("DecodeReply: %v", err)
		}
		if rep.RC != wire.RCNone {
			t.Fatalf("reply RC = %v, want success", rep.RC)
		}
	}

	send(wire.DataTableBegin, wire.EncodeTableBegin(wire.TableBegin{Type: wire.TablePeer, Time: 42, Collector: "rrc00", PeerCount: 1}))
	send(wire.DataPeerRecord, wire.EncodePeerRecord(wire.PeerRecord{PeerIP: netip.MustParseAddr("192.0.2.1"), State: peersig.StateEstablished, ASN: 64500}))
	send(wire.DataTableEnd, wire.EncodeTableEnd(wire.TableEnd{Type: wire.TablePeer, Time: 42}))
	send(wire.DataTableBegin, wire.EncodeTableBegin(wire.TableBegin{Type: wire.TablePrefix, Time: 42, Collector: "rrc00", PeerCount: 1}))
	send(wire.DataPrefixRecord, wire.EncodePrefixRecord(wire.PrefixRecord{
		Prefix: addr.NewPrefix(netip.MustParseAddr("203.0.113.0"), 24), PeerIP: netip.MustParseAddr("192.0.2.1"), OrigASN: 65000, Collector: "rrc00",
	}))
	send(wire.DataTableEnd, wire.EncodeTableEnd(wire.TableEnd{Type: wire.TablePrefix, Time: 42}))

	consumer.SetReadDeadline(time.Now().Add(2 * time.Second))
	frames, err := transport.ReadMessage(consumer)
	if err != nil {
		t.Fatalf("consumer read: %v", err)
	}
	if wire.EnvelopeTypeOf(frames[0]) != wire.EnvelopeData {
		t.Fatalf("expected DATA, got %v", wire.EnvelopeTypeOf(frames[0]))
	}
	if wire.DataMsgTypeOf(frames[1]) != wire.DataTableBegin {
		t.Fatalf("expected TABLE_BEGIN, got %v", wire.DataMsgTypeOf(frames[1]))
	}
}
