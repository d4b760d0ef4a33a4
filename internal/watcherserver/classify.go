package watcherserver

import (
	"github.com/caida-tools/bgpwatcher/internal/peersig"
	"github.com/caida-tools/bgpwatcher/internal/view"
	"github.com/caida-tools/bgpwatcher/internal/wire"
)

// FeedConfig holds the thresholds a view is classified against: a peer
// counts as full-feed once its originated prefix count for a family
// reaches that family's size, and a view counts as FULL once at least
// PeerCountThreshold of its established peers are full-feed.
type FeedConfig struct {
	V4FullFeedSize     int
	V6FullFeedSize     int
	PeerCountThreshold int
}

// DefaultFeedConfig mirrors the per-peer full-feed sizes a visibility
// consumer has historically used to tell a default-free peer from a
// partial one.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		V4FullFeedSize:     400000,
		V6FullFeedSize:     10000,
		PeerCountThreshold: 10,
	}
}

func peerIsFullFeed(pi *view.PeerInfo, cfg FeedConfig) bool {
	if pi.State != peersig.StateEstablished {
		return false
	}
	return pi.V4PfxCnt >= cfg.V4FullFeedSize || pi.V6PfxCnt >= cfg.V6FullFeedSize
}

// classify counts a view's full-feed peers against cfg and reports the
// interest mask it qualifies for. seenFull tracks, per collector,
// whether a FULL view has already been seen; the first view to cross
// the FULL threshold for a collector is classified FIRST_FULL in
// addition to FULL, and seenFull is updated in place.
func classify(v *view.View, cfg FeedConfig, seenFull map[string]bool) wire.InterestMask {
	if v.PeerCount() == 0 {
		return 0
	}

	it := v.IterCreate()
	fullFeedPeers := 0
	for it.PeerFirst(); !it.PeerIsEnd(); it.PeerNext() {
		_, pi := it.PeerGet()
		if peerIsFullFeed(pi, cfg) {
			fullFeedPeers++
		}
	}

	if fullFeedPeers < cfg.PeerCountThreshold {
		return wire.InterestPartial
	}
	if !seenFull[v.Collector()] {
		seenFull[v.Collector()] = true
		return wire.InterestFirstFull | wire.InterestFull
	}
	return wire.InterestFull
}
