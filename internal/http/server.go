// Package http exposes the watcher fabric's operational surface: a
// small net/http server serving /healthz, /readyz, and /metrics,
// shared by the server and client binaries.
package http

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ReadinessChecker abstracts "has this process completed its first
// successful event-loop cycle" so the HTTP server can report readiness
// without depending on watcherserver or watcherclient directly.
type ReadinessChecker interface {
	Ready() bool
}

// ConsumerStatus reports whether a Kafka consumer group has an active
// partition assignment, for the optional ingest pipeline.
type ConsumerStatus interface {
	IsJoined() bool
}

type Server struct {
	srv           *http.Server
	checker       ReadinessChecker
	ingest        ConsumerStatus
	logger        *zap.Logger
}

// NewServer builds an operational HTTP server. ingest may be nil when
// the process does not run the Kafka ingest pipeline.
func NewServer(addr string, checker ReadinessChecker, ingest ConsumerStatus, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{checker: checker, ingest: ingest, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("HTTP server listening", zap.String("addr", s.srv.Addr))
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	allOK := true

	if s.checker != nil && s.checker.Ready() {
		checks["event_loop"] = "ok"
	} else {
		checks["event_loop"] = "not_ready"
		allOK = false
	}

	if s.ingest != nil {
		if s.ingest.IsJoined() {
			checks["ingest"] = "ok"
		} else {
			checks["ingest"] = "not_joined"
			allOK = false
		}
	}

	w.Header().Set("Content-Type", "application/json")
	status := "ready"
	httpStatus := http.StatusOK
	if !allOK {
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}

	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"checks": checks,
	})
}

// AtomicReady is a ReadinessChecker a server or broker loop flips once
// after completing its first successful cycle.
type AtomicReady struct {
	ready atomic.Bool
}

func (a *AtomicReady) MarkReady() { a.ready.Store(true) }
func (a *AtomicReady) Ready() bool { return a.ready.Load() }
