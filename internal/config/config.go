// Package config loads the watcher fabric's layered configuration: a
// YAML file provider read first, then an environment-variable overlay
// with a BGPWATCHER_ prefix and "__" nesting, unmarshaled into typed
// defaults and cross-checked by Validate.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the root of the watcher fabric's configuration: a server
// section (consumed by cmd/watcher-server), a client section and an
// ingest section (read by cmd/watcher-producer in --config mode), plus
// the ambient service settings. cmd/watcher-consumer loads no config.
type Config struct {
	Service ServiceConfig `koanf:"service"`
	Server  ServerConfig  `koanf:"server"`
	Client  ClientConfig  `koanf:"client"`
	Ingest  IngestConfig  `koanf:"ingest"`
}

// ServiceConfig covers concerns shared by every binary in the cmd/ tree.
type ServiceConfig struct {
	InstanceID      string `koanf:"instance_id"`
	HTTPListen      string `koanf:"http_listen"`
	LogLevel        string `koanf:"log_level"`
	ShutdownLingerMs int   `koanf:"shutdown_linger_ms"`
}

// ServerConfig governs the collector-facing watcher server.
type ServerConfig struct {
	ListenAddr           string    `koanf:"listen_addr"`
	HeartbeatIntervalMs  int       `koanf:"heartbeat_interval_ms"`
	HeartbeatLiveness    int       `koanf:"heartbeat_liveness"`
	Feed                 FeedConfig `koanf:"feed"`
}

// FeedConfig names the full-feed classification thresholds a published
// view is judged against. MaskLenThreshold is accepted for
// compatibility with older deployment configs; the peer-prefix-count
// classification does not consult it directly.
type FeedConfig struct {
	V4FullFeedSize     int `koanf:"v4_fullfeed_size"`
	V6FullFeedSize     int `koanf:"v6_fullfeed_size"`
	PeerCountThreshold int `koanf:"peer_count_threshold"`
	MaskLenThreshold   int `koanf:"mask_len_threshold"`
}

// ClientConfig holds client-side settings: heartbeat/reconnect tuning
// and the producer's request retry budget. Of these, the cmd/ binaries
// consult only ServerAddr (cmd/watcher-producer, when -s is empty); the
// tuning fields are validated here but not passed to watcherclient.
type ClientConfig struct {
	ServerAddr              string   `koanf:"server_addr"`
	Identity                string   `koanf:"identity"`
	Interest                []string `koanf:"interest"`
	HeartbeatIntervalMs     int      `koanf:"heartbeat_interval_ms"`
	HeartbeatLiveness       int      `koanf:"heartbeat_liveness"`
	ReconnectIntervalMinMs  int      `koanf:"reconnect_interval_min_ms"`
	ReconnectIntervalMaxMs  int      `koanf:"reconnect_interval_max_ms"`
	RequestTimeoutMs        int      `koanf:"request_timeout_ms"`
	RequestRetries          int      `koanf:"request_retries"`
}

// IngestConfig governs the Kafka-backed producer ingest pipeline: a
// supplemental front-end that sources pre-decoded peer/prefix records
// from a topic instead of a hand-written producer caller.
type IngestConfig struct {
	Brokers           []string `koanf:"brokers"`
	ClientID          string   `koanf:"client_id"`
	GroupID           string   `koanf:"group_id"`
	Topics            []string `koanf:"topics"`
	FetchMaxBytes     int32    `koanf:"fetch_max_bytes"`
	ChannelBufferSize int      `koanf:"channel_buffer_size"`
	TLS               TLSConfig  `koanf:"tls"`
	SASL              SASLConfig `koanf:"sasl"`
}

type TLSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	CAFile   string `koanf:"ca_file"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
}

type SASLConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Mechanism string `koanf:"mechanism"`
	Username  string `koanf:"username"`
	Password  string `koanf:"password"`
}

// Load reads path (if non-empty) as a YAML file, overlays environment
// variables prefixed BGPWATCHER_ (double underscore separating nested
// keys), fills in defaults for anything still unset, and validates the
// result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("BGPWATCHER_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "BGPWATCHER_")
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	cfg := defaults()

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if len(cfg.Ingest.Brokers) == 1 && strings.Contains(cfg.Ingest.Brokers[0], ",") {
		cfg.Ingest.Brokers = strings.Split(cfg.Ingest.Brokers[0], ",")
	}
	if len(cfg.Ingest.Topics) == 1 && strings.Contains(cfg.Ingest.Topics[0], ",") {
		cfg.Ingest.Topics = strings.Split(cfg.Ingest.Topics[0], ",")
	}
	if len(cfg.Client.Interest) == 1 && strings.Contains(cfg.Client.Interest[0], ",") {
		cfg.Client.Interest = strings.Split(cfg.Client.Interest[0], ",")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			InstanceID:       "bgpwatcher-1",
			HTTPListen:       ":8080",
			LogLevel:         "info",
			ShutdownLingerMs: 2000,
		},
		Server: ServerConfig{
			ListenAddr:          ":7900",
			HeartbeatIntervalMs: 2500,
			HeartbeatLiveness:   3,
			Feed: FeedConfig{
				V4FullFeedSize:     400000,
				V6FullFeedSize:     10000,
				PeerCountThreshold: 10,
				MaskLenThreshold:   6,
			},
		},
		Client: ClientConfig{
			Identity:               "watcher-client",
			Interest:                []string{"first-full"},
			HeartbeatIntervalMs:     2500,
			HeartbeatLiveness:       3,
			ReconnectIntervalMinMs:  100,
			ReconnectIntervalMaxMs:  3200,
			RequestTimeoutMs:        2000,
			RequestRetries:          3,
		},
		Ingest: IngestConfig{
			ClientID:          "bgpwatcher-ingest",
			FetchMaxBytes:     10485760,
			ChannelBufferSize: 16,
		},
	}
}

// Validate performs the cross-field checks the source's inline "figure
// it out later" assumptions deferred to callers: thresholds must be
// positive, interest masks must be non-empty, reconnect-min must not
// exceed reconnect-max, heartbeat liveness must be >= 1.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("config: server.listen_addr is required")
	}
	if c.Server.HeartbeatIntervalMs <= 0 {
		return fmt.Errorf("config: server.heartbeat_interval_ms must be > 0 (got %d)", c.Server.HeartbeatIntervalMs)
	}
	if c.Server.HeartbeatLiveness < 1 {
		return fmt.Errorf("config: server.heartbeat_liveness must be >= 1 (got %d)", c.Server.HeartbeatLiveness)
	}
	if c.Server.Feed.V4FullFeedSize <= 0 {
		return fmt.Errorf("config: server.feed.v4_fullfeed_size must be > 0 (got %d)", c.Server.Feed.V4FullFeedSize)
	}
	if c.Server.Feed.V6FullFeedSize <= 0 {
		return fmt.Errorf("config: server.feed.v6_fullfeed_size must be > 0 (got %d)", c.Server.Feed.V6FullFeedSize)
	}
	if c.Server.Feed.PeerCountThreshold <= 0 {
		return fmt.Errorf("config: server.feed.peer_count_threshold must be > 0 (got %d)", c.Server.Feed.PeerCountThreshold)
	}

	if c.Client.HeartbeatIntervalMs <= 0 {
		return fmt.Errorf("config: client.heartbeat_interval_ms must be > 0 (got %d)", c.Client.HeartbeatIntervalMs)
	}
	if c.Client.HeartbeatLiveness < 1 {
		return fmt.Errorf("config: client.heartbeat_liveness must be >= 1 (got %d)", c.Client.HeartbeatLiveness)
	}
	if c.Client.ReconnectIntervalMinMs <= 0 {
		return fmt.Errorf("config: client.reconnect_interval_min_ms must be > 0 (got %d)", c.Client.ReconnectIntervalMinMs)
	}
	if c.Client.ReconnectIntervalMaxMs < c.Client.ReconnectIntervalMinMs {
		return fmt.Errorf("config: client.reconnect_interval_max_ms (%d) must be >= reconnect_interval_min_ms (%d)",
			c.Client.ReconnectIntervalMaxMs, c.Client.ReconnectIntervalMinMs)
	}
	if c.Client.RequestTimeoutMs <= 0 {
		return fmt.Errorf("config: client.request_timeout_ms must be > 0 (got %d)", c.Client.RequestTimeoutMs)
	}
	if c.Client.RequestRetries < 0 {
		return fmt.Errorf("config: client.request_retries must be >= 0 (got %d)", c.Client.RequestRetries)
	}
	if len(c.Client.Interest) == 0 {
		return fmt.Errorf("config: client.interest must name at least one of first-full, full, partial")
	}
	for _, tag := range c.Client.Interest {
		switch tag {
		case "first-full", "full", "partial":
		default:
			return fmt.Errorf("config: client.interest %q is not one of first-full, full, partial", tag)
		}
	}

	if c.Service.ShutdownLingerMs < 0 {
		return fmt.Errorf("config: service.shutdown_linger_ms must be >= 0 (got %d)", c.Service.ShutdownLingerMs)
	}

	if len(c.Ingest.Brokers) > 0 {
		if c.Ingest.GroupID == "" {
			return fmt.Errorf("config: ingest.group_id is required when ingest.brokers is set")
		}
		if len(c.Ingest.Topics) == 0 {
			return fmt.Errorf("config: ingest.topics is required when ingest.brokers is set")
		}
		if c.Ingest.FetchMaxBytes <= 0 {
			return fmt.Errorf("config: ingest.fetch_max_bytes must be > 0 (got %d)", c.Ingest.FetchMaxBytes)
		}
		if c.Ingest.ChannelBufferSize <= 0 {
			return fmt.Errorf("config: ingest.channel_buffer_size must be > 0 (got %d)", c.Ingest.ChannelBufferSize)
		}
	}

	return nil
}

// HeartbeatInterval returns the server's heartbeat interval as a
// time.Duration.
func (c *ServerConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMs) * time.Millisecond
}

// HeartbeatInterval returns the client's heartbeat interval as a
// time.Duration.
func (c *ClientConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMs) * time.Millisecond
}

// ReconnectIntervalMin returns the client's minimum reconnect backoff.
func (c *ClientConfig) ReconnectIntervalMin() time.Duration {
	return time.Duration(c.ReconnectIntervalMinMs) * time.Millisecond
}

// ReconnectIntervalMax returns the client's maximum reconnect backoff.
func (c *ClientConfig) ReconnectIntervalMax() time.Duration {
	return time.Duration(c.ReconnectIntervalMaxMs) * time.Millisecond
}

// RequestTimeout returns the producer's per-attempt request timeout.
func (c *ClientConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// ShutdownLinger returns the configured shutdown linger;
// cmd/watcher-server uses it to bound its HTTP server's shutdown.
func (c *ServiceConfig) ShutdownLinger() time.Duration {
	return time.Duration(c.ShutdownLingerMs) * time.Millisecond
}
