package watcherclient

import (
	"context"
	"errors"

	"github.com/caida-tools/bgpwatcher/internal/metrics"
	"github.com/caida-tools/bgpwatcher/internal/view"
	"github.com/caida-tools/bgpwatcher/internal/watchererr"
	"github.com/caida-tools/bgpwatcher/internal/wire"
)

// ErrNoView is returned by TryRecvView when no published view is
// currently queued.
var ErrNoView = errors.New("watcherclient: no view available")

// RecvView blocks until a published view arrives, ctx is cancelled, or
// the client is closed.
func (c *Client) RecvView(ctx context.Context) (*view.View, wire.InterestMask, error) {
	select {
	case cv := <-c.views:
		metrics.ClientViewsReceivedTotal.WithLabelValues(cv.mask.String()).Inc()
		return cv.v, cv.mask, nil
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case <-c.runDone:
		return nil, 0, watchererr.New(watchererr.KindInterrupt, "recv view", errClientClosed)
	}
}

// TryRecvView returns immediately with ErrNoView if no published view
// is currently queued, instead of blocking.
func (c *Client) TryRecvView() (*view.View, wire.InterestMask, error) {
	select {
	case cv := <-c.views:
		metrics.ClientViewsReceivedTotal.WithLabelValues(cv.mask.String()).Inc()
		return cv.v, cv.mask, nil
	default:
		return nil, 0, ErrNoView
	}
}
