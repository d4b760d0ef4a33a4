// Command watcher-server runs the collector-facing side of the watcher
// fabric: it accepts producer and consumer connections, reassembles
// producer table bursts into views, classifies and republishes them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/caida-tools/bgpwatcher/internal/config"
	ribhttp "github.com/caida-tools/bgpwatcher/internal/http"
	"github.com/caida-tools/bgpwatcher/internal/metrics"
	"github.com/caida-tools/bgpwatcher/internal/watcherserver"
)

func main() {
	if len(os.Args) >= 2 && (os.Args[1] == "--help" || os.Args[1] == "-h" || os.Args[1] == "help") {
		printUsage()
		return
	}

	configPath, logLevel := parseFlags(os.Args[1:])
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	if logLevel != "" {
		cfg.Service.LogLevel = logLevel
	}

	logger := initLogger(cfg.Service.LogLevel)
	defer logger.Sync()

	metrics.Register()

	srv := watcherserver.New(watcherserver.Config{
		ListenAddr:        cfg.Server.ListenAddr,
		HeartbeatInterval: cfg.Server.HeartbeatInterval(),
		HeartbeatLiveness: cfg.Server.HeartbeatLiveness,
		Feed: watcherserver.FeedConfig{
			V4FullFeedSize:     cfg.Server.Feed.V4FullFeedSize,
			V6FullFeedSize:     cfg.Server.Feed.V6FullFeedSize,
			PeerCountThreshold: cfg.Server.Feed.PeerCountThreshold,
		},
	}, logger, watcherserver.Callbacks{
		OnClientChange: func(ci watcherserver.ClientInfo, connected bool) {
			logger.Info("client state change",
				zap.Uint64("id", ci.ID), zap.String("name", ci.Name), zap.Bool("connected", connected))
		},
	})

	httpSrv := ribhttp.NewServer(cfg.Service.HTTPListen, srv, nil, logger.Named("http"))
	if err := httpSrv.Start(); err != nil {
		logger.Fatal("failed to start HTTP server", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting watcher-server",
		zap.String("instance_id", cfg.Service.InstanceID),
		zap.String("listen_addr", cfg.Server.ListenAddr),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
		<-errCh
	case err := <-errCh:
		logger.Error("watcher server exited", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownLinger())
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	logger.Info("watcher-server stopped")
}

func printUsage() {
	fmt.Println("Usage: watcher-server [options]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config <path>    Path to configuration YAML file")
	fmt.Println("  --log-level <lvl>  Override log level (debug, info, warn, error)")
}

func parseFlags(args []string) (configPath, logLevel string) {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			if i+1 < len(args) {
				configPath = args[i+1]
				i++
			}
		case "--log-level":
			if i+1 < len(args) {
				logLevel = args[i+1]
				i++
			}
		}
	}
	return
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
