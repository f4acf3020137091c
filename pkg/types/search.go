// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for pms: records, projects,
// search requests and summaries, and configuration.
package types

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the E-utilities date format used for date ranges.
const DateLayout = "2006/01/02"

// DateRange bounds a search by publication date. Either end may be zero.
type DateRange struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// ParseDateRange parses "YYYY/MM/DD:YYYY/MM/DD". An empty string yields nil.
func ParseDateRange(s string) (*DateRange, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	startStr, endStr, ok := strings.Cut(s, ":")
	if !ok {
		return nil, fmt.Errorf("date range %q: want START:END", s)
	}
	var dr DateRange
	if startStr != "" {
		t, err := time.Parse(DateLayout, startStr)
		if err != nil {
			return nil, fmt.Errorf("date range start %q: %w", startStr, err)
		}
		dr.Start = t
	}
	if endStr != "" {
		t, err := time.Parse(DateLayout, endStr)
		if err != nil {
			return nil, fmt.Errorf("date range end %q: %w", endStr, err)
		}
		dr.End = t
	}
	return &dr, nil
}

// String formats the range back into "YYYY/MM/DD:YYYY/MM/DD".
func (d DateRange) String() string {
	var start, end string
	if !d.Start.IsZero() {
		start = d.Start.Format(DateLayout)
	}
	if !d.End.IsZero() {
		end = d.End.Format(DateLayout)
	}
	return start + ":" + end
}

// SearchRequest describes one ingestion run. Query is passed through to
// PubMed untouched.
type SearchRequest struct {
	Query string `json:"query" yaml:"query"`

	// MaxResults bounds fetched plus skipped records. Zero means unbounded.
	MaxResults int `json:"max_results" yaml:"max_results"`

	DateRange *DateRange `json:"date_range,omitempty" yaml:"date_range,omitempty"`

	// BatchSize is the page size for ID search and record fetch calls.
	BatchSize int `json:"batch_size" yaml:"batch_size"`
}

// RunStatus is the terminal state of a search run.
type RunStatus string

const (
	StatusCompleted RunStatus = "completed"
	StatusAborted   RunStatus = "aborted"
	StatusFailed    RunStatus = "failed"
)

// BatchError describes a batch that exhausted its retries.
type BatchError struct {
	// Batch is the zero-based index of the fetch batch within the run.
	// ID search pages report -1.
	Batch    int      `json:"batch" yaml:"batch"`
	IDs      []string `json:"ids,omitempty" yaml:"ids,omitempty"`
	Attempts int      `json:"attempts" yaml:"attempts"`
	Message  string   `json:"message" yaml:"message"`
}

func (e BatchError) String() string {
	if e.Batch < 0 {
		return fmt.Sprintf("id search: %s (after %d attempts)", e.Message, e.Attempts)
	}
	return fmt.Sprintf("batch %d [%s]: %s (after %d attempts)",
		e.Batch, strings.Join(e.IDs, ","), e.Message, e.Attempts)
}

// SearchResult summarizes a search run. A completed run may still carry
// batch errors; callers must surface them.
type SearchResult struct {
	Status            RunStatus    `json:"status" yaml:"status"`
	TotalAvailable    int          `json:"total_available" yaml:"total_available"`
	Fetched           int          `json:"fetched" yaml:"fetched"`
	DuplicatesSkipped int          `json:"duplicates_skipped" yaml:"duplicates_skipped"`
	Missing           []string     `json:"missing,omitempty" yaml:"missing,omitempty"`
	Errors            []BatchError `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// Processed returns fetched plus skipped records, the quantity bounded by
// SearchRequest.MaxResults.
func (r SearchResult) Processed() int {
	return r.Fetched + r.DuplicatesSkipped
}
