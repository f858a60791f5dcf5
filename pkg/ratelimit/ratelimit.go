// Package ratelimit provides the token-bucket limiter that paces outbound
// provider calls.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter admits at most a configured number of acquisitions per window,
// with continuous token refill. The bucket starts full, so a burst up to
// the configured rate passes immediately; the next acquisition waits for
// refill. Safe for concurrent use.
type Limiter struct {
	l *rate.Limiter
}

// New returns a limiter admitting requests acquisitions per window. The
// bucket capacity equals requests. A non-positive window defaults to one
// second.
func New(requests int, per time.Duration) *Limiter {
	if requests < 1 {
		requests = 1
	}
	if per <= 0 {
		per = time.Second
	}
	return &Limiter{
		l: rate.NewLimiter(rate.Limit(float64(requests)/per.Seconds()), requests),
	}
}

// Acquire blocks until a token is available or ctx is done. Concurrent
// callers never double-spend a token.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.l.Wait(ctx)
}
