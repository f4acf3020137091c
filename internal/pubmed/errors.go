// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pubmed

import (
	"errors"
	"fmt"
)

// ErrBatchTooLarge is returned when FetchRecords receives more ids than a
// single EFetch call accepts.
var ErrBatchTooLarge = errors.New("too many ids for one fetch")

// TransientError is a failure worth retrying: a network error or timeout,
// HTTP 429, HTTP 5xx, or a truncated or unparseable body.
type TransientError struct {
	Endpoint   string
	StatusCode int // zero when no response was received
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: transient failure (HTTP %d): %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transient failure: %v", e.Endpoint, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError is a failure that retrying cannot fix: a 4xx other than 429, a
// request the transport refuses to send, or an ESearch response rejecting
// the query.
type FatalError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *FatalError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: fatal failure (HTTP %d): %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: fatal failure: %v", e.Endpoint, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsTransient reports whether err wraps a *TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsFatal reports whether err wraps a *FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
