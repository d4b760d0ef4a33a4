// Package visibility implements a demonstration watcher consumer: it
// aggregates a received view into per-origin-AS prefix counts and a
// full-feed peer count, the same shape of summary a downstream
// visibility-reporting consumer would compute independently of
// whatever full-feed thresholds the server itself applied when
// classifying the view.
package visibility

import (
	"context"

	"github.com/caida-tools/bgpwatcher/internal/addr"
	"github.com/caida-tools/bgpwatcher/internal/ipcounter"
	"github.com/caida-tools/bgpwatcher/internal/metrics"
	"github.com/caida-tools/bgpwatcher/internal/patricia"
	"github.com/caida-tools/bgpwatcher/internal/peersig"
	"github.com/caida-tools/bgpwatcher/internal/view"
	"github.com/caida-tools/bgpwatcher/internal/watcherclient"
	"github.com/caida-tools/bgpwatcher/internal/wire"
)

// FullFeedSizes is the per-peer prefix-count threshold a peer must
// reach, for either family, to count as full-feed.
type FullFeedSizes struct {
	V4 int
	V6 int
}

// DefaultFullFeedSizes mirrors the per-peer thresholds a visibility
// consumer has historically used.
func DefaultFullFeedSizes() FullFeedSizes {
	return FullFeedSizes{V4: 400000, V6: 10000}
}

// Stats summarizes one view: its identity, peer and prefix totals, the
// number of established peers counted as full-feed, a per-origin-AS
// count of distinct prefixes (summed across both families), and the
// announced IPv4 address space measured through a prefix trie and an
// interval merge list.
type Stats struct {
	Collector     string
	Time          uint32
	PeerCount     int
	V4PfxCount    int
	V6PfxCount    int
	FullFeedPeers int
	ASOrigins     map[uint32]int

	// UniqueV4IPs counts the distinct IPv4 addresses covered by the
	// view's announcements, overlaps deduplicated.
	UniqueV4IPs uint64
	// V4Intervals is the coalesced interval count behind UniqueV4IPs.
	V4Intervals int
	// V4MinCoverage is the size of the minimal prefix set covering all
	// announced IPv4 space (announced prefixes with no announced
	// covering prefix).
	V4MinCoverage int
}

// Compute derives Stats from a fully-assembled view.
func Compute(v *view.View, sizes FullFeedSizes) Stats {
	s := Stats{
		Collector:  v.Collector(),
		Time:       v.Time(),
		PeerCount:  v.PeerCount(),
		V4PfxCount: v.V4PfxCount(),
		V6PfxCount: v.V6PfxCount(),
		ASOrigins:  make(map[uint32]int),
	}

	it := v.IterCreate()
	for it.PeerFirst(); !it.PeerIsEnd(); it.PeerNext() {
		_, pi := it.PeerGet()
		if pi.State == peersig.StateEstablished && (pi.V4PfxCnt >= sizes.V4 || pi.V6PfxCnt >= sizes.V6) {
			s.FullFeedPeers++
		}
	}

	tree := patricia.New[struct{}](nil)
	var counter ipcounter.Counter
	for it.V4PfxFirst(); !it.V4PfxIsEnd(); it.V4PfxNext() {
		pfx := it.V4PfxGet()
		tree.Insert(pfx)
		counter.Add(pfx)
		origins := make(map[uint32]bool)
		for it.V4PfxPeerFirst(); !it.V4PfxPeerIsEnd(); it.V4PfxPeerNext() {
			pp := it.V4PfxPeerGet()
			if !origins[pp.OrigASN] {
				origins[pp.OrigASN] = true
				s.ASOrigins[pp.OrigASN]++
			}
		}
	}
	for it.V6PfxFirst(); !it.V6PfxIsEnd(); it.V6PfxNext() {
		tree.Insert(it.V6PfxGet())
		origins := make(map[uint32]bool)
		for it.V6PfxPeerFirst(); !it.V6PfxPeerIsEnd(); it.V6PfxPeerNext() {
			pp := it.V6PfxPeerGet()
			if !origins[pp.OrigASN] {
				origins[pp.OrigASN] = true
				s.ASOrigins[pp.OrigASN]++
			}
		}
	}

	s.UniqueV4IPs = counter.IPCount()
	s.V4Intervals = counter.Len()
	s.V4MinCoverage = len(tree.GetMinimumCoverage(addr.FamilyV4))

	metrics.TrieNodes.WithLabelValues("v4").Set(float64(tree.Count(addr.FamilyV4)))
	metrics.TrieNodes.WithLabelValues("v6").Set(float64(tree.Count(addr.FamilyV6)))
	metrics.IPIntervalListSize.WithLabelValues("v4").Set(float64(counter.Len()))

	return s
}

// Consumer drives a watcherclient.Client's view feed, keeping the most
// recently computed Stats for each collector it has seen.
type Consumer struct {
	client *watcherclient.Client
	sizes  FullFeedSizes

	latest map[string]Stats
}

// NewConsumer wraps an already-constructed client. Neither NewConsumer
// nor Run starts it; the caller does.
func NewConsumer(client *watcherclient.Client, sizes FullFeedSizes) *Consumer {
	return &Consumer{client: client, sizes: sizes, latest: make(map[string]Stats)}
}

// Run consumes published views until ctx is cancelled, invoking onStats
// (if non-nil) after each update. It is meant to run in its own
// goroutine.
func (c *Consumer) Run(ctx context.Context, onStats func(Stats)) error {
	for {
		v, mask, err := c.client.RecvView(ctx)
		if err != nil {
			return err
		}
		if mask&wire.InterestPartial == 0 && mask&wire.InterestFull == 0 && mask&wire.InterestFirstFull == 0 {
			continue
		}
		stats := Compute(v, c.sizes)
		c.latest[stats.Collector] = stats
		if onStats != nil {
			onStats(stats)
		}
	}
}

// Latest returns the most recently computed Stats for a collector, if
// any have been seen yet.
func (c *Consumer) Latest(collector string) (Stats, bool) {
	s, ok := c.latest[collector]
	return s, ok
}
