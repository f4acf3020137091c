// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/pms/pkg/types"
)

// QueryFile is a saved search: the request that was run and the summary it
// produced. A saved file can be replayed with `pms search --from`.
type QueryFile struct {
	Project string             `yaml:"project"`
	Request QueryParams        `yaml:"request"`
	Result  *QuerySummary      `yaml:"result,omitempty"`
	Errors  []types.BatchError `yaml:"errors,omitempty"`
}

// QueryParams stores a SearchRequest with the date range as text.
type QueryParams struct {
	Query      string `yaml:"query"`
	MaxResults int    `yaml:"max_results"`
	BatchSize  int    `yaml:"batch_size"`
	DateRange  string `yaml:"date_range,omitempty"`
}

// QuerySummary stores result counts and a timestamp.
type QuerySummary struct {
	Status            types.RunStatus `yaml:"status"`
	TotalAvailable    int             `yaml:"total_available"`
	Fetched           int             `yaml:"fetched"`
	DuplicatesSkipped int             `yaml:"duplicates_skipped"`
	Missing           []string        `yaml:"missing,omitempty"`
	Timestamp         time.Time       `yaml:"timestamp"`
}

// NewQueryFile captures a request and, when res is non-nil, its outcome.
func NewQueryFile(project string, req types.SearchRequest, res *types.SearchResult) QueryFile {
	qf := QueryFile{
		Project: project,
		Request: QueryParams{
			Query:      req.Query,
			MaxResults: req.MaxResults,
			BatchSize:  req.BatchSize,
		},
	}
	if req.DateRange != nil {
		qf.Request.DateRange = req.DateRange.String()
	}
	if res != nil {
		qf.Result = &QuerySummary{
			Status:            res.Status,
			TotalAvailable:    res.TotalAvailable,
			Fetched:           res.Fetched,
			DuplicatesSkipped: res.DuplicatesSkipped,
			Missing:           res.Missing,
			Timestamp:         time.Now().UTC(),
		}
		qf.Errors = res.Errors
	}
	return qf
}

// WriteQueryFile saves qf as YAML.
func WriteQueryFile(path string, qf QueryFile) error {
	data, err := yaml.Marshal(&qf)
	if err != nil {
		return fmt.Errorf("marshaling query file: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadQueryFile loads a previously saved query file.
func ReadQueryFile(path string) (*QueryFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading query file: %w", err)
	}
	var qf QueryFile
	if err := yaml.Unmarshal(data, &qf); err != nil {
		return nil, fmt.Errorf("parsing query file %s: %w", path, err)
	}
	return &qf, nil
}

// ToRequest converts stored parameters back into a SearchRequest.
func (p QueryParams) ToRequest() (types.SearchRequest, error) {
	dr, err := types.ParseDateRange(p.DateRange)
	if err != nil {
		return types.SearchRequest{}, err
	}
	return types.SearchRequest{
		Query:      p.Query,
		MaxResults: p.MaxResults,
		BatchSize:  p.BatchSize,
		DateRange:  dr,
	}, nil
}
