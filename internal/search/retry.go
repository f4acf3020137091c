// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"errors"
	"time"

	"github.com/pdiddy/pms/internal/httputil"
	"github.com/pdiddy/pms/internal/pubmed"
	"github.com/pdiddy/pms/pkg/types"
)

// BatchState is the retry state of one batch (or one ID page).
//
//	Attempting(n) -> Succeeded
//	              -> Retrying(n+1) -> Attempting(n+1)
//	              -> Exhausted      (transient failure on the last attempt)
//	              -> Failed         (fatal failure or cancellation)
type BatchState int

const (
	Attempting BatchState = iota
	Succeeded
	Retrying
	Exhausted
	Failed
)

func (s BatchState) String() string {
	switch s {
	case Attempting:
		return "attempting"
	case Succeeded:
		return "succeeded"
	case Retrying:
		return "retrying"
	case Exhausted:
		return "exhausted"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// RetryPolicy bounds the attempts spent on one batch.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, first one included.
	MaxAttempts int

	// BaseDelay is the wait after the first failed attempt; it doubles with
	// each further attempt. Zero uses httputil.RetryBaseDelay.
	BaseDelay time.Duration
}

// DefaultRetryPolicy returns three attempts with the shared base delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: httputil.RetryBaseDelay}
}

// RetryPolicyFromConfig applies api.max_attempts and api.retry_delay over
// the defaults. Non-positive values keep the default.
func RetryPolicyFromConfig(cfg types.APIConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.RetryDelay > 0 {
		p.BaseDelay = cfg.RetryDelay
	}
	return p
}

// Delay returns the wait between failed attempt n and attempt n+1.
func (p RetryPolicy) Delay(n int) time.Duration {
	return httputil.Backoff(p.BaseDelay, n)
}

func (p RetryPolicy) maxAttempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Next returns the state that follows attempt n ending with err.
func (p RetryPolicy) Next(n int, err error) BatchState {
	switch {
	case err == nil:
		return Succeeded
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Failed
	case !pubmed.IsTransient(err):
		return Failed
	case n >= p.maxAttempts():
		return Exhausted
	default:
		return Retrying
	}
}

// attemptResult is the outcome of driving one batch through the policy.
type attemptResult struct {
	State    BatchState
	Attempts int
	Err      error
}

// run drives op through the state machine. onRetry is called before each
// backoff wait with the attempt that failed and the upcoming delay. Backoff
// waits end early when ctx is done; the batch then fails with ctx.Err().
func (p RetryPolicy) run(ctx context.Context, op func() error, onRetry func(n int, delay time.Duration, err error)) attemptResult {
	n := 1
	state := Attempting
	var err error
	for {
		switch state {
		case Attempting:
			err = op()
			state = p.Next(n, err)
		case Retrying:
			d := p.Delay(n)
			if onRetry != nil {
				onRetry(n, d, err)
			}
			if sleepErr := httputil.Sleep(ctx, d); sleepErr != nil {
				return attemptResult{State: Failed, Attempts: n, Err: sleepErr}
			}
			n++
			state = Attempting
		default:
			return attemptResult{State: state, Attempts: n, Err: err}
		}
	}
}
