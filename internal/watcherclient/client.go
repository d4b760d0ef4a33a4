// Package watcherclient implements the watcher-fabric-facing side of a
// collector or consumer process: a broker goroutine that connects to a
// watcher server, exchanges heartbeats, and reconnects with exponential
// backoff on failure, plus a thin request/reply API for producers and a
// channel-based view feed for consumers.
package watcherclient

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
	"github.com/caida-tools/bgpwatcher/internal/watchererr"
	"github.com/caida-tools/bgpwatcher/internal/wire"
)

// Role distinguishes a producer connection (sends table data, expects
// REPLYs) from a consumer connection (advertises interest, receives
// published views).
type Role int

const (
	RoleProducer Role = iota
	RoleConsumer
)

// Config holds the tunables for a Client's broker loop.
type Config struct {
	ServerAddr string
	Identity   string
	Role       Role
	Interest   wire.InterestMask // consumer only

	HeartbeatInterval     time.Duration
	HeartbeatLiveness     int
	ReconnectIntervalMin  time.Duration
	ReconnectIntervalMax  time.Duration
	RequestTimeout        time.Duration
	RequestRetries        int
}

func (c *Config) setDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 5 * time.Second
	}
	if c.HeartbeatLiveness <= 0 {
		c.HeartbeatLiveness = 3
	}
	if c.ReconnectIntervalMin <= 0 {
		c.ReconnectIntervalMin = 200 * time.Millisecond
	}
	if c.ReconnectIntervalMax <= 0 {
		c.ReconnectIntervalMax = 30 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
}

var (
	errShutdown          = errors.New("watcherclient: shutdown requested")
	errHeartbeatTimeout  = errors.New("watcherclient: server heartbeat timeout")
	errNotConnected      = errors.New("watcherclient: not connected")
	errClientClosed      = errors.New("watcherclient: client closed")
)

type consumedView struct {
	v    *view.View
	mask wire.InterestMask
}

// Client is a connection to a watcher server, run by a background
// broker loop started with Start. The zero value is not usable;
// construct with New.
type Client struct {
	cfg    Config
	logger *zap.Logger

	connMu  sync.RWMutex
	conn    net.Conn
	writeMu sync.Mutex

	seq       uint32
	pendingMu sync.Mutex
	pending   map[uint32]chan wire.Reply

	builder *tablebuild.Builder
	mask    wire.InterestMask
	views   chan consumedView

	closing atomic.Bool
	ready   atomic.Bool
	cancel  context.CancelFunc
	runDone chan struct{}
}

// Ready reports whether the broker loop is currently connected and has
// sent its READY frame to the server (cleared again on disconnect),
// satisfying http.ReadinessChecker.
func (c *Client) Ready() bool { return c.ready.Load() }

// New constructs a Client. logger may be nil, in which case a no-op
// logger is used.
func New(cfg Config, logger *zap.Logger) *Client {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		logger:  logger,
		pending: make(map[uint32]chan wire.Reply),
		views:   make(chan consumedView, 64),
	}
}

// Start launches the broker loop in the background. It returns
// immediately; the first connection attempt happens asynchronously.
func (c *Client) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.runDone = make(chan struct{})
	go func() {
		defer close(c.runDone)
		c.run(ctx)
	}()
}

// Close stops the broker loop. It first rejects new requests and waits
// up to linger for outstanding producer requests to be acknowledged,
// then sends TERM and disconnects.
func (c *Client) Close(linger time.Duration) error {
	c.closing.Store(true)
	deadline := time.Now().Add(linger)
	for time.Now().Before(deadline) {
		c.pendingMu.Lock()
		n := len(c.pending)
		c.pendingMu.Unlock()
		if n == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if c.cancel != nil {
		c.cancel()
	}
	if c.runDone != nil {
		<-c.runDone
	}
	return nil
}

func (c *Client) run(ctx context.Context) {
	reconnectNext := c.cfg.ReconnectIntervalMin
	for {
		if ctx.Err() != nil {
			return
		}
		err := c.serve(ctx)
		if ctx.Err() != nil || errors.Is(err, errShutdown) {
			return
		}
		c.logger.Warn("watcher server connection lost, reconnecting",
			zap.Error(err), zap.Duration("after", reconnectNext))
		metrics.ClientReconnectsTotal.WithLabelValues().Inc()
		select {
		case <-time.After(reconnectNext):
		case <-ctx.Done():
			return
		}
		reconnectNext = nextBackoff(reconnectNext, c.cfg.ReconnectIntervalMax)
	}
}

// nextBackoff doubles the reconnect interval, clamped to max.
func nextBackoff(cur, max time.Duration) time.Duration {
	if cur >= max {
		return max
	}
	cur *= 2
	if cur > max {
		return max
	}
	return cur
}

func (c *Client) serve(ctx context.Context) error {
	conn, err := net.Dial("tcp", c.cfg.ServerAddr)
	if err != nil {
		return watchererr.New(watchererr.KindTransport, "dial watcher server", err)
	}
	c.setConn(conn)
	defer func() {
		c.ready.Store(false)
		c.setConn(nil)
		conn.Close()
	}()

	if err := c.writeMessage(readyFrames(c.cfg)); err != nil {
		return err
	}
	c.ready.Store(true)

	frameCh := make(chan [][]byte, 8)
	readErrCh := make(chan error, 1)
	go c.readLoop(conn, frameCh, readErrCh)

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	liveness := c.cfg.HeartbeatLiveness

	for {
		select {
		case <-ctx.Done():
			_ = c.writeMessage([][]byte{{byte(wire.EnvelopeTerm)}})
			return errShutdown
		case err := <-readErrCh:
			return watchererr.New(watchererr.KindTransport, "read from watcher server", err)
		case frames := <-frameCh:
			liveness = c.cfg.HeartbeatLiveness
			c.handleFrames(frames)
		case <-ticker.C:
			liveness--
			if liveness <= 0 {
				return watchererr.New(watchererr.KindTimeout, "heartbeat", errHeartbeatTimeout)
			}
			if err := c.writeMessage([][]byte{{byte(wire.EnvelopeHeartbeat)}}); err != nil {
				return err
			}
		}
	}
}

func (c *Client) readLoop(conn net.Conn, frameCh chan<- [][]byte, errCh chan<- error) {
	for {
		frames, err := transport.ReadMessage(conn)
		if err != nil {
			errCh <- err
			return
		}
		frameCh <- frames
	}
}

func readyFrames(cfg Config) [][]byte {
	if cfg.Role == RoleConsumer {
		return [][]byte{{byte(wire.EnvelopeReady)}, []byte(cfg.Identity), {byte(cfg.Interest)}}
	}
	return [][]byte{{byte(wire.EnvelopeReady)}, []byte(cfg.Identity)}
}

func (c *Client) setConn(conn net.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

func (c *Client) writeMessage(frames [][]byte) error {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return watchererr.New(watchererr.KindTransport, "write", errNotConnected)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := transport.WriteMessage(conn, frames); err != nil {
		return watchererr.New(watchererr.KindTransport, "write", err)
	}
	return nil
}

func (c *Client) handleFrames(frames [][]byte) {
	if len(frames) == 0 {
		return
	}
	switch wire.EnvelopeTypeOf(frames[0]) {
	case wire.EnvelopeReply:
		rep, err := wire.DecodeReply(frames[1:])
		if err != nil {
			c.logger.Warn("malformed reply from server", zap.Error(err))
			return
		}
		c.deliverReply(rep)
	case wire.EnvelopeHeartbeat:
		// liveness already refreshed by the caller.
	case wire.EnvelopeData:
		c.handleData(frames[1:])
	default:
		c.logger.Warn("dropped message with unknown envelope type")
	}
}

func (c *Client) deliverReply(rep wire.Reply) {
	c.pendingMu.Lock()
	ch, ok := c.pending[rep.Seq]
	if ok {
		delete(c.pending, rep.Seq)
	}
	c.pendingMu.Unlock()
	if ok {
		ch <- rep
	}
}

func (c *Client) handleData(rest [][]byte) {
	if len(rest) < 2 {
		c.logger.Warn("dropped malformed data message")
		return
	}
	dataType := wire.DataMsgTypeOf(rest[0])
	seq, err := wire.DecodeSeq(rest[1])
	if err != nil {
		c.logger.Warn("malformed data sequence frame", zap.Error(err))
		return
	}
	body := rest[2:]

	if c.builder == nil {
		c.builder = tablebuild.New(view.Destructors{})
	}

	switch dataType {
	case wire.DataTableBegin:
		tb, derr := wire.DecodeTableBegin(body)
		if derr == nil {
			if tb.Type == wire.TablePeer {
				c.mask = wire.InterestMask(seq)
			}
			derr = c.builder.Begin(tb)
		}
		err = derr
	case wire.DataPeerRecord:
		var pr wire.PeerRecord
		if pr, err = wire.DecodePeerRecord(body); err == nil {
			err = c.builder.AddPeer(pr)
		}
	case wire.DataPrefixRecord:
		var pr wire.PrefixRecord
		if pr, err = wire.DecodePrefixRecord(body); err == nil {
			err = c.builder.AddPrefix(pr)
		}
	case wire.DataPrefixRecordBurst:
		err = c.applyPrefixBurst(body)
	case wire.DataTableEnd:
		te, derr := wire.DecodeTableEnd(body)
		if derr == nil {
			var done bool
			if done, derr = c.builder.End(te); derr == nil && done {
				v := c.builder.View()
				select {
				case c.views <- consumedView{v: v, mask: c.mask}:
				default:
					c.logger.Warn("dropped published view, consumer not draining fast enough")
				}
				// v now belongs to the consumer; Reset would clear it, so
				// the next table starts on a fresh builder.
				c.builder = tablebuild.New(view.Destructors{})
			}
		}
		err = derr
	default:
		err = fmt.Errorf("watcherclient: unknown data message type %v", dataType)
	}
	if err != nil {
		c.logger.Warn("error applying published data", zap.Error(err))
	}
}

// applyPrefixBurst unpacks one compressed batch of published prefix
// records into the view under assembly.
func (c *Client) applyPrefixBurst(body [][]byte) error {
	if len(body) != 1 {
		return fmt.Errorf("watcherclient: prefix burst needs 1 frame, got %d", len(body))
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

// request sends a DATA frame of the given sub-type and blocks for its
// REPLY, retrying up to cfg.RequestRetries times on write failure or
// timeout.
func (c *Client) request(ctx context.Context, dataType wire.DataMsgType, body [][]byte) error {
	if c.closing.Load() {
		return watchererr.New(watchererr.KindInterrupt, "request", errClientClosed)
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.RequestRetries; attempt++ {
		seq := atomic.AddUint32(&c.seq, 1)
		replyCh := make(chan wire.Reply, 1)
		c.pendingMu.Lock()
		c.pending[seq] = replyCh
		c.pendingMu.Unlock()

		msg := append([][]byte{{byte(wire.EnvelopeData)}, {byte(dataType)}, wire.EncodeSeq(seq)}, body...)
		if err := c.writeMessage(msg); err != nil {
			c.dropPending(seq)
			lastErr = err
			metrics.ClientRequestRetriesTotal.WithLabelValues().Inc()
			continue
		}

		select {
		case rep := <-replyCh:
			if rep.RC != wire.RCNone {
				return replyError(rep.RC)
			}
			return nil
		case <-time.After(c.cfg.RequestTimeout):
			c.dropPending(seq)
			lastErr = watchererr.New(watchererr.KindTimeout, "request", nil)
			metrics.ClientRequestRetriesTotal.WithLabelValues().Inc()
		case <-ctx.Done():
			c.dropPending(seq)
			return ctx.Err()
		}
	}
	return fmt.Errorf("watcherclient: request failed after %d attempts: %w", c.cfg.RequestRetries+1, lastErr)
}

// replyError translates a non-zero REPLY return code back into the
// fabric's error taxonomy.
func replyError(rc wire.ReturnCode) error {
	kind := watchererr.KindSemantic
	switch rc {
	case wire.RCProtocol:
		kind = watchererr.KindProtocol
	case wire.RCMalloc:
		kind = watchererr.KindResource
	case wire.RCInterrupt:
		kind = watchererr.KindInterrupt
	}
	return watchererr.New(kind, "server returned "+rc.String(), nil)
}

func (c *Client) dropPending(seq uint32) {
	c.pendingMu.Lock()
	delete(c.pending, seq)
	c.pendingMu.Unlock()
}

// BeginTable opens a table burst of the given type.
func (c *Client) BeginTable(ctx context.Context, tt wire.TableType, t uint32, collector string, peerCount uint16) error {
	return c.request(ctx, wire.DataTableBegin, wire.EncodeTableBegin(wire.TableBegin{
		Type: tt, Time: t, Collector: collector, PeerCount: peerCount,
	}))
}

// AddPeer sends one peer record. It must occur within an open PEER
// table burst.
func (c *Client) AddPeer(ctx context.Context, pr wire.PeerRecord) error {
	return c.request(ctx, wire.DataPeerRecord, wire.EncodePeerRecord(pr))
}

// AddPrefix sends one prefix record. It must occur within an open
// PREFIX table burst.
func (c *Client) AddPrefix(ctx context.Context, pr wire.PrefixRecord) error {
	return c.request(ctx, wire.DataPrefixRecord, wire.EncodePrefixRecord(pr))
}

// EndTable closes the table burst of the given type.
func (c *Client) EndTable(ctx context.Context, tt wire.TableType, t uint32) error {
	return c.request(ctx, wire.DataTableEnd, wire.EncodeTableEnd(wire.TableEnd{Type: tt, Time: t}))
}
