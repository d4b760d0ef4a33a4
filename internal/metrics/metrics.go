package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ServerClientsConnected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bgpwatcher_server_clients_connected",
			Help: "Currently connected clients by role.",
		},
		[]string{"role"},
	)

	ServerHeartbeatMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpwatcher_server_heartbeat_misses_total",
			Help: "Clients disconnected for exceeding heartbeat liveness.",
		},
		[]string{},
	)

	ServerViewsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpwatcher_server_views_published_total",
			Help: "Views classified and republished to consumers.",
		},
		[]string{"collector", "interest"},
	)

	ServerReplyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bgpwatcher_server_reply_duration_seconds",
			Help:    "Time from a data frame's arrival to its REPLY being sent.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"msg_type"},
	)

	ClientViewsReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpwatcher_client_views_received_total",
			Help: "Views received by a consumer client.",
		},
		[]string{"interest"},
	)

	ClientReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpwatcher_client_reconnects_total",
			Help: "Broker reconnect attempts to the watcher server.",
		},
		[]string{},
	)

	ClientRequestRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpwatcher_client_request_retries_total",
			Help: "Producer request retries after a timed-out REPLY.",
		},
		[]string{},
	)

	TrieNodes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bgpwatcher_trie_nodes",
			Help: "Actual (non-glue) prefix nodes held by a prefix trie, by address family.",
		},
		[]string{"family"},
	)

	IPIntervalListSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bgpwatcher_ip_interval_list_size",
			Help: "Coalesced interval count in an IP counter.",
		},
		[]string{"family"},
	)

	IngestRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpwatcher_ingest_records_total",
			Help: "Raw records consumed from the Kafka ingest pipeline.",
		},
		[]string{"topic"},
	)
)

var registerOnce sync.Once

// Register registers every watcher-domain metric with the default
// Prometheus registry. Safe to call more than once; only the first
// call registers.
func Register() {
	registerOnce.Do(register)
}

func register() {
	prometheus.MustRegister(
		ServerClientsConnected,
		ServerHeartbeatMissesTotal,
		ServerViewsPublishedTotal,
		ServerReplyDuration,
		ClientViewsReceivedTotal,
		ClientReconnectsTotal,
		ClientRequestRetriesTotal,
		TrieNodes,
		IPIntervalListSize,
		IngestRecordsTotal,
	)
}
