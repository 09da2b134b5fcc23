package executor

import (
	"context"
	"sync"
	"time"

	"github.com/SamoraDC/tradebot/internal/domain"
)

// TokenBucket is the in-process rate limiter used for venue submissions:
// a bucket of burst capacity refilled at rate tokens per interval. Wait
// suspends the caller until a token is available instead of failing.
//
// The key argument of the RateLimiter interface is accepted for parity with
// the Redis-backed implementation but all keys share one bucket here; the
// venue rate limit is global per API key anyway.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	last       time.Time
	now        func() time.Time
}

// NewTokenBucket creates a full bucket admitting requests per interval with
// burst capacity equal to requests.
func NewTokenBucket(requests int, interval time.Duration) *TokenBucket {
	if requests <= 0 {
		requests = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &TokenBucket{
		capacity:   float64(requests),
		tokens:     float64(requests),
		refillRate: float64(requests) / interval.Seconds(),
		now:        time.Now,
	}
}

func (tb *TokenBucket) refill() {
	now := tb.now()
	if !tb.last.IsZero() {
		tb.tokens += now.Sub(tb.last).Seconds() * tb.refillRate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
	}
	tb.last = now
}

// Allow consumes a token if one is available.
func (tb *TokenBucket) Allow(ctx context.Context, key string) (bool, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= 1 {
		tb.tokens--
		return true, nil
	}
	return false, nil
}

// Wait blocks until a token is available or ctx is done.
func (tb *TokenBucket) Wait(ctx context.Context, key string) error {
	for {
		tb.mu.Lock()
		tb.refill()
		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}
		deficit := 1 - tb.tokens
		tb.mu.Unlock()

		wait := time.Duration(deficit / tb.refillRate * float64(time.Second))
		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Compile-time interface check.
var _ domain.RateLimiter = (*TokenBucket)(nil)
