// Package ratelimiter throttles inbound traffic with a token bucket.
package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter wraps golang.org/x/time/rate.
//
// A nil *RateLimiter never limits, so callers can hold one unconditionally.
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a limiter allowing messagesPerSecond sustained and burst
// messages at once. It returns nil when messagesPerSecond is zero.
//
// A burst below one is raised to one; otherwise Wait could never succeed.
func New(messagesPerSecond, burst uint) *RateLimiter {
	if messagesPerSecond == 0 {
		return nil
	}
	if burst == 0 {
		burst = 1
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(messagesPerSecond), int(burst)),
	}
}

// Allow reports whether a message may pass now, consuming a token if so.
func (r *RateLimiter) Allow() bool {
	if r == nil {
		return true
	}
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil {
		return ctx.Err()
	}
	return r.limiter.Wait(ctx)
}

// Limit returns the sustained rate, or zero for an unlimited limiter.
func (r *RateLimiter) Limit() float64 {
	if r == nil {
		return 0
	}
	return float64(r.limiter.Limit())
}
