// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store persists projects, their records, and their search history.
// Each project owns one record set keyed by PMID; InsertIfAbsent is the
// single point that keeps that set free of duplicates, including across
// concurrent runs. Two backends exist: SQLite (default) and Postgres via gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pdiddy/pms/pkg/types"
)

var (
	// ErrProjectNotFound is returned when no project matches an id or name.
	ErrProjectNotFound = errors.New("project not found")

	// ErrProjectExists is returned when creating a project whose id or name
	// is already taken.
	ErrProjectExists = errors.New("project already exists")

	// ErrInvalidProject is returned when a project has no name.
	ErrInvalidProject = errors.New("invalid project")
)

// Records is the record set of one project.
type Records interface {
	// Contains reports whether a record with id is stored.
	Contains(ctx context.Context, id string) (bool, error)

	// InsertIfAbsent stores r unless a record with the same id exists. It
	// reports whether the record was inserted. Existing records are never
	// overwritten.
	InsertIfAbsent(ctx context.Context, r types.Record) (bool, error)

	// List yields every stored record ordered by id. Each range re-queries
	// the store, so the sequence can be iterated more than once. Iteration
	// stops after the first error.
	List(ctx context.Context) iter.Seq2[types.Record, error]

	Count(ctx context.Context) (int, error)
	DeleteAll(ctx context.Context) error
}

// Registry maps projects to their record sets and keeps project metadata
// and history. Lookups accept either a project id or a project name.
type Registry interface {
	CreateProject(ctx context.Context, p types.Project) (types.Project, error)
	GetProject(ctx context.Context, ref string) (types.Project, error)
	ListProjects(ctx context.Context) ([]types.Project, error)

	// DeleteProject removes the project with its records and history.
	DeleteProject(ctx context.Context, ref string) error

	Records(ctx context.Context, ref string) (Records, error)

	AppendHistory(ctx context.Context, run types.QueryRun) error

	// History returns the project's runs, oldest first.
	History(ctx context.Context, ref string) ([]types.QueryRun, error)

	Close() error
}

// Open returns the registry selected by cfg.Driver.
func Open(cfg types.StorageConfig) (Registry, error) {
	switch cfg.Driver {
	case "", types.DriverSQLite:
		return OpenSQLite(cfg.DatabasePath)
	case types.DriverPostgres:
		return OpenPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %q (want sqlite or postgres)", cfg.Driver)
	}
}

// prepareProject validates p and fills in a generated id and creation time.
func prepareProject(p types.Project) (types.Project, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return p, fmt.Errorf("%w: name is required", ErrInvalidProject)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	return p, nil
}
