// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides HTTP helpers shared by the E-utilities client
// and the search orchestrator: status classification and backoff timing.
package httputil

import (
	"context"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"time"
)

// RetryBaseDelay controls the base duration for exponential backoff when a
// caller does not supply its own. Tests override this to avoid real sleeps.
var RetryBaseDelay = 5 * time.Second

// Backoff returns the wait before retry number attempt (1-based): base,
// 2*base, 4*base, ... A non-positive base falls back to RetryBaseDelay.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = RetryBaseDelay
	}
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(math.Pow(2, float64(attempt-1))) * base
}

// Sleep waits for d or until ctx is done, whichever comes first. It returns
// ctx.Err() when the context ends the wait.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryableStatus reports whether an HTTP status is worth retrying: 429
// (Too Many Requests) and every 5xx.
func RetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// RetryableError reports whether a transport error is worth retrying.
// Timeouts, connection failures, and truncated bodies qualify; context
// cancellation and request errors such as an unsupported scheme do not.
func RetryableError(err error) bool {
	if err == nil {
		return false
	}
	// *url.Error satisfies net.Error itself, so judge what it wraps.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// DrainClose discards the rest of the body and closes it so the connection
// can be reused.
func DrainClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
