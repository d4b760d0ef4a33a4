package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() *Config {
	cfg := defaults()
	cfg.Ingest.Brokers = []string{"localhost:9092"}
	cfg.Ingest.GroupID = "g1"
	cfg.Ingest.Topics = []string{"t1"}
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
}

func TestValidate_ValidConfig_NoIngest(t *testing.T) {
	cfg := defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config with no ingest brokers configured, got: %v", err)
	}
}

func TestValidate_NoListenAddr(t *testing.T) {
	cfg := validConfig()
	cfg.Server.ListenAddr = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty listen_addr")
	}
}

func TestValidate_HeartbeatIntervalZero(t *testing.T) {
	cfg := validConfig()
	cfg.Server.HeartbeatIntervalMs = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero heartbeat interval")
	}
}

func TestValidate_HeartbeatLivenessZero(t *testing.T) {
	cfg := validConfig()
	cfg.Server.HeartbeatLiveness = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for heartbeat liveness < 1")
	}
}

func TestValidate_FullFeedSizeZero(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Feed.V4FullFeedSize = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero v4 full-feed size")
	}
}

func TestValidate_ReconnectMaxLessThanMin(t *testing.T) {
	cfg := validConfig()
	cfg.Client.ReconnectIntervalMinMs = 1000
	cfg.Client.ReconnectIntervalMaxMs = 500
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when reconnect max < min")
	}
}

func TestValidate_RequestRetriesNegative(t *testing.T) {
	cfg := validConfig()
	cfg.Client.RequestRetries = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative request_retries")
	}
}

func TestValidate_EmptyInterest(t *testing.T) {
	cfg := validConfig()
	cfg.Client.Interest = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty interest list")
	}
}

func TestValidate_UnknownInterestTag(t *testing.T) {
	cfg := validConfig()
	cfg.Client.Interest = []string{"bogus"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown interest tag")
	}
}

func TestValidate_NegativeShutdownLinger(t *testing.T) {
	cfg := validConfig()
	cfg.Service.ShutdownLingerMs = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative shutdown linger")
	}
}

func TestValidate_IngestMissingGroupID(t *testing.T) {
	cfg := validConfig()
	cfg.Ingest.GroupID = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for ingest brokers set without group_id")
	}
}

func TestValidate_IngestMissingTopics(t *testing.T) {
	cfg := validConfig()
	cfg.Ingest.Topics = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for ingest brokers set without topics")
	}
}

func writeMinimalYAML(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	data := `
server:
  listen_addr: ":7900"
client:
  server_addr: "127.0.0.1:7900"
  interest:
    - "first-full"
    - "full"
`
	if err := os.WriteFile(p, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_EnvOverrideListenAddr(t *testing.T) {
	p := writeMinimalYAML(t)
	t.Setenv("BGPWATCHER_SERVER__LISTEN_ADDR", ":9999")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":9999" {
		t.Errorf("expected listen_addr from env, got %q", cfg.Server.ListenAddr)
	}
}

func TestLoad_EnvOverrideLogLevel(t *testing.T) {
	p := writeMinimalYAML(t)
	t.Setenv("BGPWATCHER_SERVICE__LOG_LEVEL", "debug")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Service.LogLevel != "debug" {
		t.Errorf("expected log_level 'debug' from env, got %q", cfg.Service.LogLevel)
	}
}

func TestLoad_EnvEmptyListenAddrFailsValidation(t *testing.T) {
	p := writeMinimalYAML(t)
	t.Setenv("BGPWATCHER_SERVER__LISTEN_ADDR", "")

	_, err := Load(p)
	if err == nil {
		t.Fatal("expected validation error for empty listen_addr via env")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr == "" {
		t.Error("expected default listen_addr to be set")
	}
	if cfg.Server.Feed.V4FullFeedSize != 400000 {
		t.Errorf("expected default v4 full-feed size 400000, got %d", cfg.Server.Feed.V4FullFeedSize)
	}
}

func TestLoad_CommaSeparatedEnvSlice(t *testing.T) {
	t.Setenv("BGPWATCHER_CLIENT__INTEREST", "first-full,partial")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Client.Interest) != 2 || cfg.Client.Interest[0] != "first-full" || cfg.Client.Interest[1] != "partial" {
		t.Errorf("expected split interest list, got %v", cfg.Client.Interest)
	}
}
