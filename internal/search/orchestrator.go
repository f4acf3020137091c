// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package search runs ingestion: it pages through PubMed ids for a query,
// filters out ids the project already holds, fetches the rest in batches,
// and inserts the records into the project's store.
//
// A run is strictly sequential. Ids are checked against the store before
// they are fetched, so content the project already owns is never
// downloaded again. Transient failures are retried per batch; a batch that
// exhausts its retries is reported in the result while the run continues.
// A fatal failure aborts the run.
package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/pms/internal/metrics"
	"github.com/pdiddy/pms/internal/pubmed"
	"github.com/pdiddy/pms/internal/store"
	"github.com/pdiddy/pms/pkg/types"
)

// MaxBatchSize is the largest accepted batch size, matching the EFetch limit.
const MaxBatchSize = pubmed.MaxFetchIDs

var (
	// ErrInvalidRequest is returned before any network call when a request
	// is malformed.
	ErrInvalidRequest = errors.New("invalid search request")

	// ErrSearchFailed is returned when no record was fetched and at least one
	// batch failed. The result is still returned.
	ErrSearchFailed = errors.New("search failed")

	// ErrAborted wraps the fatal API error or context error that stopped a
	// run. Records committed before the abort stay committed.
	ErrAborted = errors.New("search aborted")
)

// Fetcher is the part of the E-utilities client a run needs.
type Fetcher interface {
	SearchIDs(ctx context.Context, query string, dateRange *types.DateRange, cursor *pubmed.Cursor, limit int) (pubmed.Page, error)
	FetchRecords(ctx context.Context, ids []string) (pubmed.FetchResult, error)
}

// Registry resolves projects to record stores and keeps run history.
type Registry interface {
	Records(ctx context.Context, ref string) (store.Records, error)
	AppendHistory(ctx context.Context, run types.QueryRun) error
}

// runState names the phases of one run; transitions are logged at debug.
type runState string

const (
	stateValidating    runState = "validating"
	statePaginating    runState = "paginating_ids"
	stateFetching      runState = "fetching_batch"
	stateRetrying      runState = "retrying_batch"
	statePersisting    runState = "persisting"
	stateCompleted     runState = "completed"
	stateAborted       runState = "aborted"
	stateFailedOverall runState = "failed"
)

// Orchestrator runs searches. Fields may be set after New and before the
// first Run.
type Orchestrator struct {
	Fetcher  Fetcher
	Registry Registry
	Retry    RetryPolicy
	Logger   *zap.Logger
	Metrics  *metrics.Metrics

	// Progress receives one human-readable line per batch. Nil discards.
	Progress io.Writer
}

// New returns an orchestrator with the default retry policy.
func New(f Fetcher, reg Registry, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		Fetcher:  f,
		Registry: reg,
		Retry:    DefaultRetryPolicy(),
		Logger:   logger,
	}
}

// Validate checks a request without touching the network or the store.
func Validate(req types.SearchRequest) error {
	if strings.TrimSpace(req.Query) == "" {
		return fmt.Errorf("%w: query is empty", ErrInvalidRequest)
	}
	if req.BatchSize < 1 || req.BatchSize > MaxBatchSize {
		return fmt.Errorf("%w: batch size %d outside [1, %d]", ErrInvalidRequest, req.BatchSize, MaxBatchSize)
	}
	if req.MaxResults < 0 {
		return fmt.Errorf("%w: max results %d is negative", ErrInvalidRequest, req.MaxResults)
	}
	if dr := req.DateRange; dr != nil && !dr.Start.IsZero() && !dr.End.IsZero() && dr.Start.After(dr.End) {
		return fmt.Errorf("%w: date range %s ends before it starts", ErrInvalidRequest, dr)
	}
	return nil
}

// run holds the mutable state of one Run call.
type run struct {
	o       *Orchestrator
	log     *zap.Logger
	req     types.SearchRequest
	records store.Records
	res     types.SearchResult

	queue     []string
	cursor    *pubmed.Cursor
	started   bool
	exhausted bool
	seen      map[string]bool
	batch     int
}

// Run ingests the results of req into the project identified by projectID
// (an id or a name). It returns the run summary together with nil,
// ErrInvalidRequest, store.ErrProjectNotFound, ErrSearchFailed, or
// ErrAborted. Batch errors on a completed run are reported in
// SearchResult.Errors only.
func (o *Orchestrator) Run(ctx context.Context, projectID string, req types.SearchRequest) (types.SearchResult, error) {
	log := o.logger().With(zap.String("project", projectID), zap.String("query", req.Query))
	transition(log, stateValidating)
	if err := Validate(req); err != nil {
		return types.SearchResult{}, err
	}

	records, err := o.Registry.Records(ctx, projectID)
	if err != nil {
		return types.SearchResult{}, fmt.Errorf("resolving project %s: %w", projectID, err)
	}

	r := &run{o: o, log: log, req: req, records: records, seen: make(map[string]bool)}
	err = r.execute(ctx)

	switch {
	case err != nil:
		r.res.Status = types.StatusAborted
		transition(log, stateAborted)
		err = fmt.Errorf("%w: %w", ErrAborted, err)
	case r.res.Fetched == 0 && len(r.res.Errors) > 0:
		r.res.Status = types.StatusFailed
		transition(log, stateFailedOverall)
		err = fmt.Errorf("%w: %d batch errors, nothing fetched", ErrSearchFailed, len(r.res.Errors))
	default:
		r.res.Status = types.StatusCompleted
		transition(log, stateCompleted)
	}

	o.finish(ctx, projectID, req, r.res)
	return r.res, err
}

func (o *Orchestrator) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func transition(log *zap.Logger, s runState) {
	log.Debug("search state", zap.String("state", string(s)))
}

// finish records history and metrics. History is written even when the
// run was cancelled.
func (o *Orchestrator) finish(ctx context.Context, projectID string, req types.SearchRequest, res types.SearchResult) {
	o.Metrics.IncRun(string(res.Status))
	o.Metrics.AddFetched(res.Fetched)
	o.Metrics.AddDuplicates(res.DuplicatesSkipped)

	entry := types.QueryRun{
		ProjectID:         projectID,
		Query:             req.Query,
		DateRange:         req.DateRange,
		MaxResults:        req.MaxResults,
		BatchSize:         req.BatchSize,
		Status:            res.Status,
		Fetched:           res.Fetched,
		DuplicatesSkipped: res.DuplicatesSkipped,
		Errors:            len(res.Errors),
		RanAt:             time.Now().UTC(),
	}
	if err := o.Registry.AppendHistory(context.WithoutCancel(ctx), entry); err != nil {
		o.logger().Warn("recording search history", zap.String("project", projectID), zap.Error(err))
	}
	o.logger().Info("search finished",
		zap.String("project", projectID),
		zap.String("status", string(res.Status)),
		zap.Int("fetched", res.Fetched),
		zap.Int("duplicates_skipped", res.DuplicatesSkipped),
		zap.Int("errors", len(res.Errors)),
		zap.Int("missing", len(res.Missing)))
}

// execute alternates between collecting a batch of unseen ids and fetching
// it, until the id pages run out or the max-results bound is met. It
// returns a non-nil error only when the run must abort.
func (r *run) execute(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.bounded() && r.res.Processed() >= r.req.MaxResults {
			return nil
		}

		pending, err := r.collect(ctx)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}
		if err := r.fetch(ctx, pending); err != nil {
			return err
		}
	}
}

func (r *run) bounded() bool { return r.req.MaxResults > 0 }

// collect fills a pending batch from the id queue, pulling new pages as
// needed. Ids already seen in this run or already stored are counted as
// duplicates and never join the batch. The batch never grows past what the
// max-results bound still allows.
func (r *run) collect(ctx context.Context) ([]string, error) {
	var pending []string
	for len(pending) < r.req.BatchSize {
		if r.bounded() && r.res.Processed()+len(pending) >= r.req.MaxResults {
			break
		}
		if len(r.queue) == 0 {
			if r.exhausted {
				break
			}
			if err := r.nextPage(ctx); err != nil {
				return nil, err
			}
			continue
		}

		id := r.queue[0]
		r.queue = r.queue[1:]
		if r.seen[id] {
			r.res.DuplicatesSkipped++
			continue
		}
		r.seen[id] = true

		ok, err := r.records.Contains(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			r.res.DuplicatesSkipped++
			continue
		}
		pending = append(pending, id)
	}
	return pending, nil
}

// nextPage requests the next id page under the retry policy. An exhausted
// page ends pagination with a batch error; a fatal one aborts the run.
func (r *run) nextPage(ctx context.Context) error {
	transition(r.log, statePaginating)
	var page pubmed.Page
	out := r.o.Retry.run(ctx, func() error {
		var err error
		page, err = r.o.Fetcher.SearchIDs(ctx, r.req.Query, r.req.DateRange, r.cursor, r.req.BatchSize)
		return err
	}, r.onRetry(-1))

	switch out.State {
	case Succeeded:
	case Exhausted:
		r.exhausted = true
		r.recordError(types.BatchError{Batch: -1, Attempts: out.Attempts, Message: out.Err.Error()})
		return nil
	default:
		return out.Err
	}

	if !r.started {
		r.res.TotalAvailable = page.Total
		r.started = true
	}
	r.queue = append(r.queue, page.IDs...)
	r.cursor = page.Next
	if page.Next == nil || len(page.IDs) == 0 {
		r.exhausted = true
	}
	return nil
}

// fetch retrieves one batch under the retry policy and persists the result.
func (r *run) fetch(ctx context.Context, ids []string) error {
	index := r.batch
	r.batch++
	transition(r.log, stateFetching)

	var fr pubmed.FetchResult
	out := r.o.Retry.run(ctx, func() error {
		var err error
		fr, err = r.o.Fetcher.FetchRecords(ctx, ids)
		return err
	}, r.onRetry(index))

	switch out.State {
	case Succeeded:
	case Exhausted:
		r.recordError(types.BatchError{Batch: index, IDs: ids, Attempts: out.Attempts, Message: out.Err.Error()})
		r.progress("batch %d: failed after %d attempts: %v\n", index+1, out.Attempts, out.Err)
		return nil
	default:
		return out.Err
	}

	// Records already fetched are committed even if ctx ends now; the
	// cancellation is seen before the next batch.
	transition(r.log, statePersisting)
	persistCtx := context.WithoutCancel(ctx)
	requested := make(map[string]bool, len(ids))
	for _, id := range ids {
		requested[id] = true
	}
	fetched, skipped := 0, 0
	for _, rec := range fr.Records {
		if !requested[rec.ID] {
			continue
		}
		delete(requested, rec.ID)
		inserted, err := r.records.InsertIfAbsent(persistCtx, rec)
		if err != nil {
			return err
		}
		if inserted {
			fetched++
		} else {
			skipped++
		}
	}
	r.res.Fetched += fetched
	r.res.DuplicatesSkipped += skipped
	r.res.Missing = append(r.res.Missing, fr.Missing...)

	r.log.Debug("batch persisted",
		zap.Int("batch", index),
		zap.Int("requested", len(ids)),
		zap.Int("fetched", fetched),
		zap.Int("duplicates_skipped", skipped),
		zap.Int("missing", len(fr.Missing)))
	r.progress("batch %d: fetched %d, skipped %d, missing %d\n", index+1, fetched, skipped, len(fr.Missing))
	return nil
}

func (r *run) onRetry(batch int) func(n int, delay time.Duration, err error) {
	return func(n int, delay time.Duration, err error) {
		transition(r.log, stateRetrying)
		r.o.Metrics.IncRetry()
		r.log.Warn("retrying after transient failure",
			zap.Int("batch", batch),
			zap.Int("attempt", n),
			zap.Duration("delay", delay),
			zap.Error(err))
	}
}

func (r *run) recordError(be types.BatchError) {
	r.o.Metrics.IncBatchError()
	r.log.Error("batch exhausted retries", zap.String("batch", be.String()))
	r.res.Errors = append(r.res.Errors, be)
}

func (r *run) progress(format string, args ...any) {
	if r.o.Progress != nil {
		fmt.Fprintf(r.o.Progress, format, args...)
	}
}
