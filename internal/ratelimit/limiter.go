// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ratelimit throttles outbound E-utilities calls to a
// requests-per-second ceiling.
package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// Limiter enforces a minimum interval between successive calls. A Limiter
// is created once per process and injected into the clients that share the
// ceiling; it holds no global state.
type Limiter struct {
	lim      *rate.Limiter
	interval time.Duration
}

// New returns a Limiter allowing rps calls per second. A non-positive rps
// disables throttling.
func New(rps float64) *Limiter {
	if rps <= 0 {
		return &Limiter{lim: rate.NewLimiter(rate.Inf, 1)}
	}
	return NewInterval(time.Duration(float64(time.Second) / rps))
}

// NewInterval returns a Limiter spacing calls at least interval apart.
func NewInterval(interval time.Duration) *Limiter {
	if interval <= 0 {
		return &Limiter{lim: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Limiter{
		lim:      rate.NewLimiter(rate.Every(interval), 1),
		interval: interval,
	}
}

// Interval returns the configured minimum spacing between calls.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// Acquire blocks until one more call may be issued. For a sequential caller
// the wait never exceeds Interval. Acquire is not cancellable; callers check
// for cancellation between calls.
func (l *Limiter) Acquire() {
	r := l.lim.Reserve()
	if d := r.Delay(); d > 0 {
		time.Sleep(d)
	}
}
