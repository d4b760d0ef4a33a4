// Command watcher-consumer is the consumer client harness: it
// connects to a watcher-server, advertises an interest mask, and prints
// a per-AS visibility summary for each published view it receives.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/caida-tools/bgpwatcher/internal/visibility"
	"github.com/caida-tools/bgpwatcher/internal/watcherclient"
	"github.com/caida-tools/bgpwatcher/internal/wire"
)

type options struct {
	serverAddr string
	identity   string
	interest   []string
	logLevel   string
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

	mask, err := wire.ParseInterestTags(opts.interest)
	if err != nil {
		logger.Fatal("invalid interest flags", zap.Error(err))
	}

	client := watcherclient.New(watcherclient.Config{
		ServerAddr: opts.serverAddr,
		Identity:   opts.identity,
		Role:       watcherclient.RoleConsumer,
		Interest:   mask,
	}, logger)
	client.Start()
	defer client.Close(2 * time.Second)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting watcher-consumer",
		zap.String("server_addr", opts.serverAddr),
		zap.String("identity", opts.identity),
		zap.Strings("interest", opts.interest),
	)

	consumer := visibility.NewConsumer(client, visibility.DefaultFullFeedSizes())
	go func() {
		if err := consumer.Run(ctx, func(s visibility.Stats) {
			logger.Info("view update",
				zap.String("collector", s.Collector), zap.Uint32("time", s.Time),
				zap.Int("peers", s.PeerCount), zap.Int("full_feed_peers", s.FullFeedPeers),
				zap.Int("v4_prefixes", s.V4PfxCount), zap.Int("v6_prefixes", s.V6PfxCount),
				zap.Int("distinct_origin_ases", len(s.ASOrigins)),
			)
		}); err != nil && ctx.Err() == nil {
			logger.Error("view consumer stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("watcher-consumer stopped")
}

func printUsage() {
	fmt.Println("Usage: watcher-consumer -s <server-addr> -n <identity> -I <tag> [-I <tag> ...]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -s <addr>   Watcher server address (host:port)")
	fmt.Println("  -n <name>   Consumer identity sent on the wire")
	fmt.Println("  -I <tag>    Interest tag, repeatable: first-full, full, partial")
	fmt.Println("  --log-level <lvl>  debug, info, warn, error")
}

func parseFlags(args []string) (options, error) {
	opts := options{
		serverAddr: "127.0.0.1:7900",
		identity:   "watcher-consumer",
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
		case "-I":
			i++
			if i >= len(args) {
				return opts, fmt.Errorf("-I requires an argument")
			}
			opts.interest = append(opts.interest, args[i])
		case "--log-level":
			i++
			if i >= len(args) {
				return opts, fmt.Errorf("--log-level requires an argument")
			}
			opts.logLevel = args[i]
		default:
			return opts, fmt.Errorf("unknown flag %q", args[i])
		}
	}
	if len(opts.interest) == 0 {
		opts.interest = []string{"full"}
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
