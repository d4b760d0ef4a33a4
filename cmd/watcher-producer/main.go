// Command watcher-producer is the producer test harness: it connects
// to a watcher-server and pushes a configurable number of
// synthetic table bursts, each with a configurable peer and prefix
// count, optionally randomizing peer session state and dropping a
// fraction of prefixes to exercise withdraw handling downstream.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/caida-tools/bgpwatcher/internal/addr"
	"github.com/caida-tools/bgpwatcher/internal/config"
	"github.com/caida-tools/bgpwatcher/internal/ingest"
	"github.com/caida-tools/bgpwatcher/internal/peersig"
	"github.com/caida-tools/bgpwatcher/internal/watcherclient"
	"github.com/caida-tools/bgpwatcher/internal/wire"
)

type options struct {
	serverAddr  string
	identity    string
	tables      int
	peers       int
	prefixes    int
	randomState bool
	randomDrop  bool
	logLevel    string
	configPath  string
}

func main() {
	if len(os.Args) >= 2 && (os.Args[1] == "--help" || os.Args[1] == "-h") {
		printUsage()
		return
	}

	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		printUsage()
		os.Exit(1)
	}

	logger := initLogger(opts.logLevel)
	defer logger.Sync()

	var ingestCfg *config.IngestConfig
	if opts.configPath != "" {
		cfg, err := config.Load(opts.configPath)
		if err != nil {
			logger.Fatal("failed to load config", zap.Error(err))
		}
		if opts.serverAddr == "" {
			opts.serverAddr = cfg.Client.ServerAddr
		}
		if len(cfg.Ingest.Brokers) > 0 {
			ingestCfg = &cfg.Ingest
		}
	}

	client := watcherclient.New(watcherclient.Config{
		ServerAddr: opts.serverAddr,
		Identity:   opts.identity,
		Role:       watcherclient.RoleProducer,
	}, logger)
	client.Start()
	defer client.Close(2 * time.Second)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if ingestCfg != nil {
		runIngest(ctx, client, ingestCfg, logger)
		logger.Info("watcher-producer stopped")
		return
	}

	logger.Info("starting watcher-producer",
		zap.String("server_addr", opts.serverAddr),
		zap.String("identity", opts.identity),
		zap.Int("tables", opts.tables), zap.Int("peers", opts.peers), zap.Int("prefixes", opts.prefixes),
	)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	collector := opts.identity

	for n := 0; n < opts.tables; n++ {
		if ctx.Err() != nil {
			break
		}
		if err := pushTable(ctx, client, collector, opts, rng); err != nil {
			logger.Error("table push failed", zap.Int("table", n), zap.Error(err))
			continue
		}
		logger.Info("pushed table burst", zap.Int("table", n))
	}

	<-ctx.Done()
	logger.Info("watcher-producer stopped")
}

// runIngest drives the alternate Kafka-backed producer front-end: a
// RecordConsumer fetches pre-decoded routing records and a Pipeline
// feeds them into the same fluent producer API the synthetic generator
// above uses, committing offsets once each batch has been acknowledged.
func runIngest(ctx context.Context, client *watcherclient.Client, cfg *config.IngestConfig, logger *zap.Logger) {
	rc, err := ingest.NewRecordConsumer(cfg.Brokers, cfg.GroupID, cfg.Topics, cfg.ClientID,
		cfg.FetchMaxBytes, nil, nil, logger.Named("ingest"))
	if err != nil {
		logger.Fatal("failed to start ingest consumer", zap.Error(err))
	}
	defer rc.Close()

	pipeline := ingest.NewPipeline(client, cfg.ChannelBufferSize, 1000, logger.Named("ingest"))

	records := make(chan []*kgo.Record, cfg.ChannelBufferSize)
	flushed := make(chan []*kgo.Record, cfg.ChannelBufferSize)
	var commitWg sync.WaitGroup

	go rc.Run(ctx, records, flushed, &commitWg)

	logger.Info("starting watcher-producer ingest pipeline",
		zap.Strings("brokers", cfg.Brokers), zap.Strings("topics", cfg.Topics), zap.String("group_id", cfg.GroupID))

	pipeline.Run(ctx, records, flushed)
	close(flushed)
	commitWg.Wait()
}

// pushTable synthesizes one table burst: peerCount peers over a
// contiguous /24-sized test range, each announcing a slice of
// prefixCount synthetic /32s under a handful of origin ASNs.
func pushTable(ctx context.Context, client *watcherclient.Client, collector string, opts options, rng *rand.Rand) error {
	now := uint32(time.Now().Unix())
	table := client.NewTable(now, collector, uint16(opts.peers))

	peerIPs := make([]netip.Addr, opts.peers)
	for i := 0; i < opts.peers; i++ {
		peerIPs[i] = netip.AddrFrom4([4]byte{198, 51, 100, byte(i + 1)})
		state := peersig.StateEstablished
		if opts.randomState && rng.Intn(10) == 0 {
			state = peersig.State(rng.Intn(int(peersig.StateEstablished) + 1))
		}
		if err := table.AddPeer(ctx, wire.PeerRecord{
			PeerIP: peerIPs[i],
			State:  state,
			ASN:    uint32(64512 + i),
		}); err != nil {
			return fmt.Errorf("add peer %d: %w", i, err)
		}
	}

	for i := 0; i < opts.prefixes; i++ {
		if opts.randomDrop && rng.Intn(20) == 0 {
			continue
		}
		peerIdx := i % opts.peers
		a := netip.AddrFrom4([4]byte{10, byte(i >> 16), byte(i >> 8), byte(i)})
		prefix := addr.NewPrefix(a, 32)
		if err := table.AddPrefix(ctx, wire.PrefixRecord{
			Prefix:    prefix,
			PeerIP:    peerIPs[peerIdx],
			OrigASN:   uint32(64512 + peerIdx),
			Collector: collector,
		}); err != nil {
			return fmt.Errorf("add prefix %d: %w", i, err)
		}
	}

	return table.End(ctx)
}

func printUsage() {
	fmt.Println("Usage: watcher-producer -s <server-addr> -n <identity> [options]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -s <addr>   Watcher server address (host:port)")
	fmt.Println("  -n <name>   Producer identity sent on the wire")
	fmt.Println("  -N <n>      Number of table bursts to push (default 1)")
	fmt.Println("  -P <n>      Peers per table (default 4)")
	fmt.Println("  -T <n>      Prefixes per table (default 100)")
	fmt.Println("  -c          Randomize a fraction of peer session states")
	fmt.Println("  -p          Randomly drop a fraction of prefixes")
	fmt.Println("  --config <path>  Load settings from YAML; if ingest.brokers is set,")
	fmt.Println("                   run the Kafka-backed ingest pipeline instead of -N/-P/-T")
	fmt.Println("  --log-level <lvl>  debug, info, warn, error")
}

func parseFlags(args []string) (options, error) {
	opts := options{
		serverAddr: "127.0.0.1:7900",
		identity:   "watcher-producer",
		tables:     1,
		peers:      4,
		prefixes:   100,
		logLevel:   "info",
	}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-s":
			i++
			if i >= len(args) {
				return opts, fmt.Errorf("-s requires an argument")
			}
			opts.serverAddr = args[i]
		case "-n":
			i++
			if i >= len(args) {
				return opts, fmt.Errorf("-n requires an argument")
			}
			opts.identity = args[i]
		case "-N":
			i++
			v, err := strconv.Atoi(args[i])
			if err != nil {
				return opts, fmt.Errorf("-N: %w", err)
			}
			opts.tables = v
		case "-P":
			i++
			v, err := strconv.Atoi(args[i])
			if err != nil {
				return opts, fmt.Errorf("-P: %w", err)
			}
			opts.peers = v
		case "-T":
			i++
			v, err := strconv.Atoi(args[i])
			if err != nil {
				return opts, fmt.Errorf("-T: %w", err)
			}
			opts.prefixes = v
		case "-c":
			opts.randomState = true
		case "-p":
			opts.randomDrop = true
		case "--log-level":
			i++
			if i >= len(args) {
				return opts, fmt.Errorf("--log-level requires an argument")
			}
			opts.logLevel = args[i]
		case "--config":
			i++
			if i >= len(args) {
				return opts, fmt.Errorf("--config requires an argument")
			}
			opts.configPath = args[i]
		default:
			return opts, fmt.Errorf("unknown flag %q", args[i])
		}
	}
	if opts.peers <= 0 {
		return opts, fmt.Errorf("-P must be positive")
	}
	return opts, nil
}

func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zap.DebugLevel
	case "warn":
		zapLevel = zap.WarnLevel
	case "error":
		zapLevel = zap.ErrorLevel
	default:
		zapLevel = zap.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error initializing logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}
