package ingest

import (
	"bytes"
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/caida-tools/bgpwatcher/internal/addr"
	"github.com/caida-tools/bgpwatcher/internal/peersig"
	"github.com/caida-tools/bgpwatcher/internal/transport"
	"github.com/caida-tools/bgpwatcher/internal/watcherclient"
	"github.com/caida-tools/bgpwatcher/internal/watcherserver"
	"github.com/caida-tools/bgpwatcher/internal/wire"
)

func startTestServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addrStr := ln.Addr().String()
	ln.Close()

	srv := watcherserver.New(watcherserver.Config{
		ListenAddr:        addrStr,
		HeartbeatInterval: time.Second,
		HeartbeatLiveness: 3,
		Feed:              watcherserver.FeedConfig{V4FullFeedSize: 1, V6FullFeedSize: 10000, PeerCountThreshold: 1},
	}, nil, watcherserver.Callbacks{})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Run(ctx)
	time.Sleep(50 * time.Millisecond)
	return addrStr
}

// framedRecord renders a Kafka record value the way the encoding side of
// the ingest pipeline would: a transport-framed message whose first
// frame is the data sub-type tag and whose remaining frames are the
// usual wire encoding for that message.
func framedRecord(collector string, dataType wire.DataMsgType, frames [][]byte) *kgo.Record {
	var buf bytes.Buffer
	all := append([][]byte{{byte(dataType)}}, frames...)
	if err := transport.WriteMessage(&buf, all); err != nil {
		panic(err)
	}
	return &kgo.Record{Key: []byte(collector), Value: buf.Bytes()}
}

func TestPipelineProcess_FullTableRoundTrip(t *testing.T) {
	addrStr := startTestServer(t)

	producer := watcherclient.New(watcherclient.Config{
		ServerAddr:     addrStr,
		Identity:       "ingest-producer",
		Role:           watcherclient.RoleProducer,
		RequestTimeout: 2 * time.Second,
	}, nil)
	producer.Start()
	defer producer.Close(time.Second)

	consumer := watcherclient.New(watcherclient.Config{
		ServerAddr:     addrStr,
		Identity:       "ingest-consumer",
		Role:           watcherclient.RoleConsumer,
		Interest:       wire.InterestFull,
		RequestTimeout: 2 * time.Second,
	}, nil)
	consumer.Start()
	defer consumer.Close(time.Second)

	time.Sleep(100 * time.Millisecond)

	p := NewPipeline(producer, 10, 1000, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	records := []*kgo.Record{
		framedRecord("rrc00", wire.DataTableBegin, wire.EncodeTableBegin(wire.TableBegin{
			Type: wire.TablePeer, Time: 1000, Collector: "rrc00", PeerCount: 1,
		})),
		framedRecord("rrc00", wire.DataPeerRecord, wire.EncodePeerRecord(wire.PeerRecord{
			PeerIP: netip.MustParseAddr("192.0.2.1"), State: peersig.StateEstablished, ASN: 64500,
		})),
		framedRecord("rrc00", wire.DataPrefixRecord, wire.EncodePrefixRecord(wire.PrefixRecord{
			Prefix: addr.NewPrefix(netip.MustParseAddr("203.0.113.0"), 24), PeerIP: netip.MustParseAddr("192.0.2.1"),
			OrigASN: 65000, Collector: "rrc00",
		})),
		framedRecord("rrc00", wire.DataTableEnd, nil),
	}

	for i, r := range records {
		if err := p.process(ctx, r); err != nil {
			t.Fatalf("process record %d: %v", i, err)
		}
	}

	v, mask, err := consumer.RecvView(ctx)
	if err != nil {
		t.Fatalf("RecvView: %v", err)
	}
	if mask == 0 {
		t.Fatalf("got mask 0")
	}
	if v.Collector() != "rrc00" {
		t.Errorf("collector = %q, want rrc00", v.Collector())
	}
	if v.PeerCount() != 1 {
		t.Errorf("peer count = %d, want 1", v.PeerCount())
	}
	if v.V4PfxCount() != 1 {
		t.Errorf("v4 prefix count = %d, want 1", v.V4PfxCount())
	}
}

func TestPipelineProcess_UnopenedTableRejected(t *testing.T) {
	p := NewPipeline(nil, 10, 1000, zap.NewNop())

	rec := framedRecord("rrc00", wire.DataPeerRecord, wire.EncodePeerRecord(wire.PeerRecord{
		PeerIP: netip.MustParseAddr("192.0.2.1"), State: peersig.StateEstablished, ASN: 64500,
	}))

	if err := p.process(context.Background(), rec); err == nil {
		t.Fatal("expected error for peer record with no open table")
	}
}

func TestPipelineProcess_EmptyRecordRejected(t *testing.T) {
	p := NewPipeline(nil, 10, 1000, zap.NewNop())

	if err := p.process(context.Background(), &kgo.Record{Value: nil}); err == nil {
		t.Fatal("expected error for empty record value")
	}
}
