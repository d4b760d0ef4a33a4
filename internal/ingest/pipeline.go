package ingest

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/caida-tools/bgpwatcher/internal/metrics"
	"github.com/caida-tools/bgpwatcher/internal/transport"
	"github.com/caida-tools/bgpwatcher/internal/watcherclient"
	"github.com/caida-tools/bgpwatcher/internal/wire"
)

// Pipeline drives a watcherclient Client's fluent producer API from a
// Kafka topic of pre-decoded routing records. Each record's value is a
// transport-framed message whose first frame is a wire.DataMsgType tag
// and whose remaining frames are that message's usual wire encoding
// (TableBegin/PeerRecord/PrefixRecord/TableEnd) — the same frame codec
// the broker protocol itself uses over TCP, reused here for the Kafka
// payload rather than invented as a second format.
//
// Records are batched before offset commit: processed up to batchSize
// records or flushInterval, whichever comes first, then handed back on
// the flushed channel once every table operation they carried has been
// acknowledged by the watcher server.
type Pipeline struct {
	client        *watcherclient.Client
	batchSize     int
	flushInterval time.Duration
	logger        *zap.Logger

	tables map[string]*watcherclient.ProducerTable
}

func NewPipeline(client *watcherclient.Client, batchSize int, flushIntervalMs int, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		client:        client,
		batchSize:     batchSize,
		flushInterval: time.Duration(flushIntervalMs) * time.Millisecond,
		logger:        logger,
		tables:        make(map[string]*watcherclient.ProducerTable),
	}
}

// Run processes records from the channel until ctx is cancelled or
// records is closed, emitting each record on flushed once its table
// operation has been durably acknowledged (in request/reply terms: the
// producer API call returned with rc=0).
func (p *Pipeline) Run(ctx context.Context, records <-chan []*kgo.Record, flushed chan<- []*kgo.Record) {
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	var pending []*kgo.Record

	flush := func() {
		if len(pending) == 0 {
			return
		}
		select {
		case flushed <- pending:
		case <-ctx.Done():
		}
		pending = nil
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case recs, ok := <-records:
			if !ok {
				flush()
				return
			}
			for _, r := range recs {
				if err := p.process(ctx, r); err != nil {
					p.logger.Warn("ingest: dropping malformed record",
						zap.String("topic", r.Topic), zap.Int64("offset", r.Offset), zap.Error(err))
					continue
				}
				metrics.IngestRecordsTotal.WithLabelValues(r.Topic).Inc()
				pending = append(pending, r)
				if len(pending) >= p.batchSize {
					flush()
				}
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (p *Pipeline) process(ctx context.Context, r *kgo.Record) error {
	frames, err := transport.ReadMessage(bytes.NewReader(r.Value))
	if err != nil {
		return fmt.Errorf("ingest: framing error: %w", err)
	}
	if len(frames) < 1 {
		return fmt.Errorf("ingest: empty record value")
	}
	dataType := wire.DataMsgTypeOf(frames[0])
	body := frames[1:]
	collector := string(r.Key)

	// Unlike the broker wire protocol, which brackets a PEER burst and a
	// PREFIX burst each with their own begin/end, the ingest framing
	// brackets one whole view cycle per collector with a single
	// begin/end pair; ProducerTable's own peer/prefix burst bookkeeping
	// handles the two bursts underneath.
	switch dataType {
	case wire.DataTableBegin:
		tb, err := wire.DecodeTableBegin(body)
		if err != nil {
			return err
		}
		if _, open := p.tables[tb.Collector]; open {
			return fmt.Errorf("ingest: table already open for collector %q", tb.Collector)
		}
		p.tables[tb.Collector] = p.client.NewTable(tb.Time, tb.Collector, tb.PeerCount)
		return nil

	case wire.DataPeerRecord:
		t, ok := p.tables[collector]
		if !ok {
			return fmt.Errorf("ingest: peer record with no open table for collector %q", collector)
		}
		pr, err := wire.DecodePeerRecord(body)
		if err != nil {
			return err
		}
		return t.AddPeer(ctx, pr)

	case wire.DataPrefixRecord:
		t, ok := p.tables[collector]
		if !ok {
			return fmt.Errorf("ingest: prefix record with no open table for collector %q", collector)
		}
		pr, err := wire.DecodePrefixRecord(body)
		if err != nil {
			return err
		}
		return t.AddPrefix(ctx, pr)

	case wire.DataTableEnd:
		t, ok := p.tables[collector]
		if !ok {
			return fmt.Errorf("ingest: table-end with no open table for collector %q", collector)
		}
		if err := t.End(ctx); err != nil {
			return err
		}
		delete(p.tables, collector)
		return nil

	default:
		return fmt.Errorf("ingest: unknown data message type %v", dataType)
	}
}
