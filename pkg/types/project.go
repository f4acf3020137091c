// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// Project is a named workspace owning exactly one record store.
type Project struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

// QueryRun is one entry of a project's search history.
type QueryRun struct {
	ProjectID         string     `json:"project_id" yaml:"project_id"`
	Query             string     `json:"query" yaml:"query"`
	DateRange         *DateRange `json:"date_range,omitempty" yaml:"date_range,omitempty"`
	MaxResults        int        `json:"max_results" yaml:"max_results"`
	BatchSize         int        `json:"batch_size" yaml:"batch_size"`
	Status            RunStatus  `json:"status" yaml:"status"`
	Fetched           int        `json:"fetched" yaml:"fetched"`
	DuplicatesSkipped int        `json:"duplicates_skipped" yaml:"duplicates_skipped"`
	Errors            int        `json:"errors" yaml:"errors"`
	RanAt             time.Time  `json:"ran_at" yaml:"ran_at"`
}

// Request rebuilds the search request that produced this run.
func (r QueryRun) Request() SearchRequest {
	return SearchRequest{
		Query:      r.Query,
		MaxResults: r.MaxResults,
		DateRange:  r.DateRange,
		BatchSize:  r.BatchSize,
	}
}
