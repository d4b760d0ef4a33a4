package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIsIdempotent(t *testing.T) {
	Register()
	Register()
}

func TestRegisteredMetricsAreGatherable(t *testing.T) {
	Register()
	ServerClientsConnected.WithLabelValues("producer").Set(3)
	ClientViewsReceivedTotal.WithLabelValues("FULL").Inc()

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := map[string]bool{}
	for _, mf := range mfs {
		found[mf.GetName()] = true
	}
	for _, name := range []string{
		"bgpwatcher_server_clients_connected",
		"bgpwatcher_client_views_received_total",
	} {
		if !found[name] {
			t.Errorf("metric %s not gathered", name)
		}
	}
}
