// ratelimit.go implements token-bucket rate limiting for the trade API.
//
// Kalshi's basic access tier allows roughly 10 transactions per second with
// modest bursts, and is far more forgiving on reads. Buckets refill
// continuously rather than in window-sized bursts so a busy tick never
// slams into a hard limit.
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

// RateLimiter groups token buckets by API endpoint category. Each call
// must Wait() on the appropriate bucket before making the HTTP request.
type RateLimiter struct {
	Order     *TokenBucket // POST/DELETE /portfolio/orders
	Portfolio *TokenBucket // GET /portfolio/positions, /portfolio/balance
	Market    *TokenBucket // GET /markets — public reads
}

// NewRateLimiter creates rate limiters tuned below Kalshi's basic-tier
// transaction limits, with headroom so the stop-loss worker is never
// starved by the strategy worker.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Order:     NewTokenBucket(10, 5),
		Portfolio: NewTokenBucket(10, 5),
		Market:    NewTokenBucket(20, 10),
	}
}
