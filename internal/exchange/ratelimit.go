// ratelimit.go implements token-bucket rate limiting for the venue API.
//
// The venue budgets requests per API key in 10-second windows, with
// separate allowances for order entry and reads. Buckets refill
// continuously (rather than in 10s bursts) so sustained usage never spikes
// into a hard limit:
//
//   - Order:  60 burst / 10 per sec  — order placement and transfers
//   - Cancel: 60 burst / 10 per sec  — cancellations
//   - Query:  100 burst / 20 per sec — orders, positions, summaries
//   - Book:   150 burst / 15 per sec — market-data reads
package exchange

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements a token-bucket rate limiter with continuous refill.
// Callers block in Wait() until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were calculated
}

// NewTokenBucket creates a rate limiter with the given capacity and refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		// Calculate wait time for next token
		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry
		}
	}
}

// RateLimiter groups token buckets by venue API category. Each call waits
// on its bucket before the HTTP request goes out.
type RateLimiter struct {
	Order  *TokenBucket // create_order, transfer
	Cancel *TokenBucket // cancel_order
	Query  *TokenBucket // open_orders, order, positions, account summaries
	Book   *TokenBucket // book, instrument, instruments
}

// NewRateLimiter creates rate limiters tuned under the venue's published
// per-key budgets. Capacities are the 10-second burst allowance; refill
// rates sit below the sustained limit in each category.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Order:  NewTokenBucket(60, 10),
		Cancel: NewTokenBucket(60, 10),
		Query:  NewTokenBucket(100, 20),
		Book:   NewTokenBucket(150, 15),
	}
}
