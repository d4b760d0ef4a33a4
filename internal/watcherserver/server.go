// Package watcherserver implements the collector-facing side of the
// watcher fabric: a TCP listener that accepts producer and consumer
// connections, reassembles each producer's table burst into a view,
// classifies the finished view, and republishes it to every connected
// consumer whose advertised interest intersects that classification.
//
// All client-state mutation happens on a single dispatcher goroutine;
// per-connection reader goroutines only decode frames off the wire and
// hand them to the dispatcher over a channel, mirroring the
// single-threaded event loop a ZeroMQ-style broker would run on one
// poller thread.
package watcherserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/caida-tools/bgpwatcher/internal/metrics"
	"github.com/caida-tools/bgpwatcher/internal/tablebuild"
	"github.com/caida-tools/bgpwatcher/internal/transport"
	"github.com/caida-tools/bgpwatcher/internal/view"
	"github.com/caida-tools/bgpwatcher/internal/wire"
)

// Role distinguishes the two kinds of client a connection can become
// once its READY frame is seen.
type Role int

const (
	RoleUnknown Role = iota
	RoleProducer
	RoleConsumer
)

// Config holds the tunables for a Server.
type Config struct {
	ListenAddr        string
	HeartbeatInterval time.Duration
	HeartbeatLiveness int
	Feed              FeedConfig
}

// ClientInfo is a point-in-time snapshot of a connected client, handed
// to Callbacks.OnClientChange and readable from Server.Clients.
type ClientInfo struct {
	ID         uint64
	Name       string
	Role       Role
	Interest   wire.InterestMask
	RemoteAddr string
	LastSeen   time.Time
}

// Callbacks lets the host application observe server activity without
// reaching into its internals.
type Callbacks struct {
	OnClientChange  func(info ClientInfo, connected bool)
	OnViewPublished func(collector string, mask wire.InterestMask, v *view.View)
}

type clientConn struct {
	id       uint64
	conn     net.Conn
	name     string
	role     Role
	interest wire.InterestMask
	active   bool
	lastSeen time.Time
	builder  *tablebuild.Builder
}

func (c *clientConn) info() ClientInfo {
	return ClientInfo{
		ID:         c.id,
		Name:       c.name,
		Role:       c.role,
		Interest:   c.interest,
		RemoteAddr: c.conn.RemoteAddr().String(),
		LastSeen:   c.lastSeen,
	}
}

type connEvent struct {
	id   uint64
	conn net.Conn
}

type frameEvent struct {
	id     uint64
	frames [][]byte
}

type disconnectEvent struct {
	id  uint64
	err error
}

// Server is the watcher fabric's collector-facing TCP endpoint. The
// zero value is not usable; construct with New.
type Server struct {
	cfg    Config
	logger *zap.Logger
	cb     Callbacks

	nextID uint64
	events chan any

	clientsMu sync.RWMutex // guards clients only against concurrent Clients() reads
	clients   map[uint64]*clientConn
	seenFull  map[string]bool

	ready atomic.Bool
}

// New constructs a Server. logger and cb may carry zero values; a nil
// logger falls back to zap.NewNop.
func New(cfg Config, logger *zap.Logger, cb Callbacks) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.HeartbeatLiveness <= 0 {
		cfg.HeartbeatLiveness = 3
	}
	return &Server{
		cfg:      cfg,
		logger:   logger,
		cb:       cb,
		events:   make(chan any, 256),
		clients:  make(map[uint64]*clientConn),
		seenFull: make(map[string]bool),
	}
}

// Run listens on cfg.ListenAddr and runs the dispatcher loop until ctx
// is cancelled or the listener fails. It always returns a non-nil
// error; ctx.Err() on a clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("watcherserver: listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.logger.Info("watcher server listening", zap.String("addr", s.cfg.ListenAddr))

	go s.acceptLoop(ctx, ln)
	s.ready.Store(true)

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ln.Close()
			s.closeAll()
			return ctx.Err()
		case ev := <-s.events:
			s.handleEvent(ev)
		case <-ticker.C:
			s.heartbeatTick()
		}
	}
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("accept failed", zap.Error(err))
			return
		}
		id := atomic.AddUint64(&s.nextID, 1)
		go s.readLoop(id, conn)
	}
}

func (s *Server) readLoop(id uint64, conn net.Conn) {
	s.events <- connEvent{id: id, conn: conn}
	for {
		frames, err := transport.ReadMessage(conn)
		if err != nil {
			s.events <- disconnectEvent{id: id, err: err}
			return
		}
		s.events <- frameEvent{id: id, frames: frames}
	}
}

func (s *Server) handleEvent(ev any) {
	switch e := ev.(type) {
	case connEvent:
		s.clientsMu.Lock()
		s.clients[e.id] = &clientConn{id: e.id, conn: e.conn, lastSeen: time.Now()}
		s.clientsMu.Unlock()
	case disconnectEvent:
		s.removeClient(e.id, e.err)
	case frameEvent:
		s.handleFrames(e.id, e.frames)
	}
}

func (s *Server) removeClient(id uint64, cause error) {
	c, ok := s.clients[id]
	if !ok {
		return
	}
	s.clientsMu.Lock()
	delete(s.clients, id)
	s.clientsMu.Unlock()
	c.conn.Close()
	if cause != nil && !errors.Is(cause, errClientTerm) {
		s.logger.Info("client disconnected", zap.Uint64("id", id), zap.String("name", c.name), zap.Error(cause))
	} else {
		s.logger.Info("client disconnected", zap.Uint64("id", id), zap.String("name", c.name))
	}
	if c.active {
		metrics.ServerClientsConnected.WithLabelValues(roleLabel(c.role)).Dec()
		if s.cb.OnClientChange != nil {
			s.cb.OnClientChange(c.info(), false)
		}
	}
}

func roleLabel(r Role) string {
	switch r {
	case RoleProducer:
		return "producer"
	case RoleConsumer:
		return "consumer"
	default:
		return "unknown"
	}
}

var errClientTerm = errors.New("watcherserver: client sent TERM")

func (s *Server) handleFrames(id uint64, frames [][]byte) {
	c, ok := s.clients[id]
	if !ok {
		return
	}
	c.lastSeen = time.Now()

	if len(frames) == 0 {
		s.logger.Warn("dropped empty message", zap.Uint64("id", id))
		return
	}

	switch wire.EnvelopeTypeOf(frames[0]) {
	case wire.EnvelopeReady:
		s.handleReady(c, frames[1:])
	case wire.EnvelopeTerm:
		s.removeClient(id, errClientTerm)
	case wire.EnvelopeHeartbeat:
		// lastSeen already refreshed above.
	case wire.EnvelopeData:
		s.handleData(c, frames[1:])
	default:
		s.logger.Warn("dropped message with unknown envelope type", zap.Uint64("id", id))
	}
}

func (s *Server) handleReady(c *clientConn, rest [][]byte) {
	if len(rest) >= 1 {
		c.name = string(rest[0])
	}
	if len(rest) >= 2 && len(rest[1]) == 1 {
		c.role = RoleConsumer
		c.interest = wire.InterestMask(rest[1][0])
	} else {
		c.role = RoleProducer
		c.builder = tablebuild.New(view.Destructors{})
	}
	c.active = true
	metrics.ServerClientsConnected.WithLabelValues(roleLabel(c.role)).Inc()
	s.logger.Info("client ready",
		zap.Uint64("id", c.id), zap.String("name", c.name),
		zap.Bool("producer", c.role == RoleProducer), zap.Stringer("interest", c.interest))
	if s.cb.OnClientChange != nil {
		s.cb.OnClientChange(c.info(), true)
	}
}

func (s *Server) handleData(c *clientConn, rest [][]byte) {
	start := time.Now()
	if len(rest) < 2 {
		s.logger.Warn("dropped malformed data message", zap.Uint64("id", c.id))
		return
	}
	dataType := wire.DataMsgTypeOf(rest[0])
	seq, seqErr := wire.DecodeSeq(rest[1])
	body := rest[2:]

	if c.role != RoleProducer {
		s.logger.Warn("dropped data message from non-producer client", zap.Uint64("id", c.id))
		return
	}

	var err error
	switch {
	case seqErr != nil:
		err = seqErr
	case dataType == wire.DataTableBegin:
		var tb wire.TableBegin
		if tb, err = wire.DecodeTableBegin(body); err == nil {
			err = c.builder.Begin(tb)
		}
	case dataType == wire.DataPeerRecord:
		var pr wire.PeerRecord
		if pr, err = wire.DecodePeerRecord(body); err == nil {
			err = c.builder.AddPeer(pr)
		}
	case dataType == wire.DataPrefixRecord:
		var pr wire.PrefixRecord
		if pr, err = wire.DecodePrefixRecord(body); err == nil {
			err = c.builder.AddPrefix(pr)
		}
	case dataType == wire.DataPrefixRecordBurst:
		err = s.applyPrefixBurst(c, body)
	case dataType == wire.DataTableEnd:
		var te wire.TableEnd
		var done bool
		if te, err = wire.DecodeTableEnd(body); err == nil {
			if done, err = c.builder.End(te); err == nil && done {
				s.completeView(c)
			}
		}
	default:
		err = fmt.Errorf("watcherserver: unknown data message type %v", dataType)
	}

	rc := wire.RCNone
	if err != nil {
		rc = wire.RCProtocol
		s.logger.Warn("producer data error", zap.Uint64("id", c.id), zap.Error(err))
	}
	s.sendReply(c, seq, rc)
	metrics.ServerReplyDuration.WithLabelValues(dataType.String()).Observe(time.Since(start).Seconds())
}

// applyPrefixBurst unpacks one compressed batch of prefix records into the
// producer's open PREFIX table.
func (s *Server) applyPrefixBurst(c *clientConn, body [][]byte) error {
	if len(body) != 1 {
		return fmt.Errorf("watcherserver: prefix burst needs 1 frame, got %d", len(body))
	}
	records, err := wire.DecodePrefixBurst(body[0])
	if err != nil {
		return err
	}
	for _, pr := range records {
		if err := c.builder.AddPrefix(pr); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) completeView(c *clientConn) {
	v := c.builder.View()
	mask := classify(v, s.cfg.Feed, s.seenFull)
	s.logger.Info("view complete",
		zap.String("collector", v.Collector()), zap.Uint32("time", v.Time()),
		zap.Int("peers", v.PeerCount()), zap.Stringer("interest", mask))
	if mask != 0 {
		metrics.ServerViewsPublishedTotal.WithLabelValues(v.Collector(), mask.String()).Inc()
		s.publish(v, mask)
	}
	if s.cb.OnViewPublished != nil {
		s.cb.OnViewPublished(v.Collector(), mask, v)
	}
	c.builder.Reset(view.Destructors{})
}

func (s *Server) sendReply(c *clientConn, seq uint32, rc wire.ReturnCode) {
	frames := append([][]byte{{byte(wire.EnvelopeReply)}}, wire.EncodeReply(wire.Reply{Seq: seq, RC: rc})...)
	if err := transport.WriteMessage(c.conn, frames); err != nil {
		s.logger.Warn("failed to send reply", zap.Uint64("id", c.id), zap.Error(err))
		s.removeClient(c.id, err)
	}
}

func (s *Server) publish(v *view.View, mask wire.InterestMask) {
	frames := s.encodeView(v, mask)
	for _, c := range s.clients {
		if c.role != RoleConsumer || !c.active {
			continue
		}
		if !c.interest.Intersects(mask) {
			continue
		}
		for _, msg := range frames {
			if err := transport.WriteMessage(c.conn, msg); err != nil {
				s.logger.Warn("failed to publish view", zap.Uint64("id", c.id), zap.Error(err))
				s.removeClient(c.id, err)
				break
			}
		}
	}
}

func (s *Server) heartbeatTick() {
	now := time.Now()
	deadline := s.cfg.HeartbeatInterval * time.Duration(s.cfg.HeartbeatLiveness)
	hb := [][]byte{{byte(wire.EnvelopeHeartbeat)}}
	for id, c := range s.clients {
		if now.Sub(c.lastSeen) > deadline {
			metrics.ServerHeartbeatMissesTotal.WithLabelValues().Inc()
			s.removeClient(id, fmt.Errorf("watcherserver: heartbeat timeout"))
			continue
		}
		if err := transport.WriteMessage(c.conn, hb); err != nil {
			s.removeClient(id, err)
		}
	}
}

func (s *Server) closeAll() {
	for id := range s.clients {
		s.removeClient(id, nil)
	}
}

// Ready reports whether Run has successfully bound its listener and
// started the dispatcher loop, satisfying http.ReadinessChecker.
func (s *Server) Ready() bool { return s.ready.Load() }

// Clients returns a snapshot of every currently-active client. Safe to
// call from another goroutine while Run is active; individual fields
// may be a message or two stale since client state itself is only
// mutated on the dispatcher goroutine.
func (s *Server) Clients() []ClientInfo {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	out := make([]ClientInfo, 0, len(s.clients))
	for _, c := range s.clients {
		if c.active {
			out = append(out, c.info())
		}
	}
	return out
}
