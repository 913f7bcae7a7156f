package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"grvt-hedge/pkg/types"
)

// freshFor is how long a cached top of book may serve reads before the
// next read falls back to REST.
const freshFor = 3 * time.Second

// ErrEmptyBook marks a book with no usable price on at least one side.
// Callers skip the instrument for the tick and alert.
var ErrEmptyBook = errors.New("order book empty")

// BookSource fetches an L2 snapshot from the venue.
type BookSource interface {
	Orderbook(ctx context.Context, instrument string, depth int) (types.OrderbookSnapshot, error)
}

// Top is the best bid and ask of one instrument at a point in time.
type Top struct {
	Bid decimal.Decimal
	Ask decimal.Decimal
	At  time.Time
}

// BookCache mirrors the top of book per instrument. WebSocket snapshots
// keep it warm through Apply; reads older than freshFor refetch over REST.
// Writers are the feed pump and the REST path, readers the decision
// engine.
type BookCache struct {
	source BookSource
	depth  int
	logger *logrus.Entry

	mu   sync.RWMutex
	tops map[string]Top
}

// NewBookCache creates a cache reading REST snapshots at the given depth.
func NewBookCache(source BookSource, depth int, logger *logrus.Logger) *BookCache {
	return &BookCache{
		source: source,
		depth:  depth,
		logger: logger.WithField("component", "market"),
		tops:   make(map[string]Top),
	}
}

// Top returns the instrument's best bid/ask, from cache when fresh,
// otherwise via REST.
func (c *BookCache) Top(ctx context.Context, instrument string) (Top, error) {
	c.mu.RLock()
	top, ok := c.tops[instrument]
	c.mu.RUnlock()
	if ok && time.Since(top.At) <= freshFor {
		return top, nil
	}
	return c.Refresh(ctx, instrument)
}

// Refresh fetches the book over REST unconditionally and updates the
// cache. Post-only reprice attempts use this directly so a stale cached
// top can never feed a retry.
func (c *BookCache) Refresh(ctx context.Context, instrument string) (Top, error) {
	snap, err := c.source.Orderbook(ctx, instrument, c.depth)
	if err != nil {
		return Top{}, err
	}

	top, err := topOf(snap)
	if err != nil {
		return Top{}, fmt.Errorf("%s: %w", instrument, err)
	}

	c.mu.Lock()
	c.tops[instrument] = top
	c.mu.Unlock()
	return top, nil
}

// Apply folds a streamed snapshot into the cache. Unusable snapshots are
// dropped.
func (c *BookCache) Apply(snap types.OrderbookSnapshot) {
	top, err := topOf(snap)
	if err != nil {
		c.logger.WithField("instrument", snap.Instrument).Debug("ignoring unusable book snapshot")
		return
	}

	c.mu.Lock()
	c.tops[snap.Instrument] = top
	c.mu.Unlock()
}

// LastUpdated returns when the instrument's top was last written, zero if
// never.
func (c *BookCache) LastUpdated(instrument string) time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tops[instrument].At
}

// topOf extracts and validates the best levels of a snapshot. Both sides
// must be present with positive prices.
func topOf(snap types.OrderbookSnapshot) (Top, error) {
	if len(snap.Bids) == 0 || len(snap.Asks) == 0 {
		return Top{}, ErrEmptyBook
	}
	bid, err := decimal.NewFromString(snap.Bids[0].Price)
	if err != nil || bid.Sign() <= 0 {
		return Top{}, ErrEmptyBook
	}
	ask, err := decimal.NewFromString(snap.Asks[0].Price)
	if err != nil || ask.Sign() <= 0 {
		return Top{}, ErrEmptyBook
	}
	return Top{Bid: bid, Ask: ask, At: time.Now()}, nil
}
