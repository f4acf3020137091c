// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package scheduler periodically re-runs the most recent search of every
// project so new publications are ingested without manual runs.
package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/pdiddy/pms/pkg/types"
)

// Registry lists projects and their search history.
type Registry interface {
	ListProjects(ctx context.Context) ([]types.Project, error)
	History(ctx context.Context, ref string) ([]types.QueryRun, error)
}

// Runner executes a search run for a project.
type Runner interface {
	Run(ctx context.Context, projectID string, req types.SearchRequest) (types.SearchResult, error)
}

// Scheduler owns a cron instance with a single refresh job. Scheduled
// refreshes run under a context that Stop cancels.
type Scheduler struct {
	cron   *cron.Cron
	reg    Registry
	runner Runner
	log    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New registers the refresh job on spec (standard five-field cron syntax or
// descriptors such as "@daily"). The job does not run until Start.
func New(spec string, reg Registry, runner Runner, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{cron: cron.New(), reg: reg, runner: runner, log: logger, ctx: ctx, cancel: cancel}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		cancel()
		return nil, fmt.Errorf("parsing refresh schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop prevents further runs, cancels a refresh in progress, and waits for
// it to unwind or ctx to end. Batches already committed by the cancelled
// run stay stored.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop().Done()
	s.cancel()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (s *Scheduler) tick() {
	s.log.Info("running scheduled refresh")
	n, err := s.RefreshAll(s.ctx)
	if err != nil {
		s.log.Error("scheduled refresh failed", zap.Int("projects_refreshed", n), zap.Error(err))
		return
	}
	s.log.Info("scheduled refresh completed", zap.Int("projects_refreshed", n))
}

// RefreshAll re-runs the latest query of each project that has one. A
// failing project does not stop the others; all failures are joined into
// the returned error. It returns how many projects ran without error.
func (s *Scheduler) RefreshAll(ctx context.Context) (int, error) {
	projects, err := s.reg.ListProjects(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing projects: %w", err)
	}
	var errs []error
	refreshed := 0
	for _, p := range projects {
		if err := ctx.Err(); err != nil {
			return refreshed, errors.Join(append(errs, err)...)
		}
		runs, err := s.reg.History(ctx, p.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("project %s: %w", p.Name, err))
			continue
		}
		if len(runs) == 0 {
			continue
		}
		latest := runs[len(runs)-1]
		res, err := s.runner.Run(ctx, p.ID, latest.Request())
		if err != nil {
			errs = append(errs, fmt.Errorf("project %s: %w", p.Name, err))
			continue
		}
		refreshed++
		s.log.Info("project refreshed",
			zap.String("project", p.Name),
			zap.Int("fetched", res.Fetched),
			zap.Int("duplicates_skipped", res.DuplicatesSkipped))
	}
	return refreshed, errors.Join(errs...)
}
