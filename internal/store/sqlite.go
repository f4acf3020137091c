// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/pdiddy/pms/pkg/types"
)

// SQLite is the default Registry, backed by one database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path, creating parent
// directories and the schema as needed.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite database path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=10000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS records (
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			abstract TEXT NOT NULL DEFAULT '',
			authors TEXT NOT NULL DEFAULT '[]',
			publication_date TEXT,
			doi TEXT NOT NULL DEFAULT '',
			journal TEXT NOT NULL DEFAULT '',
			keywords TEXT NOT NULL DEFAULT '[]',
			raw BLOB,
			PRIMARY KEY (project_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS query_runs (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			query TEXT NOT NULL,
			date_range TEXT NOT NULL DEFAULT '',
			max_results INTEGER NOT NULL DEFAULT 0,
			batch_size INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			fetched INTEGER NOT NULL DEFAULT 0,
			duplicates_skipped INTEGER NOT NULL DEFAULT 0,
			errors INTEGER NOT NULL DEFAULT 0,
			ran_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_query_runs_project ON query_runs(project_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// isConstraint reports whether err is a SQLite uniqueness violation.
func isConstraint(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

// CreateProject inserts p, generating an id when p.ID is empty.
func (s *SQLite) CreateProject(ctx context.Context, p types.Project) (types.Project, error) {
	p, err := prepareProject(p)
	if err != nil {
		return p, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, description, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, p.CreatedAt.UTC().Format(time.RFC3339Nano))
	if isConstraint(err) {
		return p, fmt.Errorf("%w: %s", ErrProjectExists, p.Name)
	}
	if err != nil {
		return p, fmt.Errorf("inserting project %s: %w", p.Name, err)
	}
	return p, nil
}

// GetProject looks a project up by id, then by name.
func (s *SQLite) GetProject(ctx context.Context, ref string) (types.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM projects
		 WHERE id = ? OR name = ? ORDER BY (id = ?) DESC LIMIT 1`, ref, ref, ref)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return p, fmt.Errorf("%w: %s", ErrProjectNotFound, ref)
	}
	return p, err
}

// ListProjects returns all projects ordered by name.
func (s *SQLite) ListProjects(ctx context.Context) ([]types.Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, description, created_at FROM projects ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var projects []types.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(sc rowScanner) (types.Project, error) {
	var p types.Project
	var created string
	if err := sc.Scan(&p.ID, &p.Name, &p.Description, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("scanning project: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return p, fmt.Errorf("parsing created_at of project %s: %w", p.Name, err)
	}
	p.CreatedAt = t
	return p, nil
}

// DeleteProject removes the project, its records, and its history in one
// transaction.
func (s *SQLite) DeleteProject(ctx context.Context, ref string) error {
	p, err := s.GetProject(ctx, ref)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM records WHERE project_id = ?`,
		`DELETE FROM query_runs WHERE project_id = ?`,
		`DELETE FROM projects WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, p.ID); err != nil {
			return fmt.Errorf("deleting project %s: %w", p.Name, err)
		}
	}
	return tx.Commit()
}

// Records returns the record set of the referenced project.
func (s *SQLite) Records(ctx context.Context, ref string) (Records, error) {
	p, err := s.GetProject(ctx, ref)
	if err != nil {
		return nil, err
	}
	return &sqliteRecords{db: s.db, projectID: p.ID}, nil
}

// AppendHistory records one finished run. run.ProjectID may be an id or a
// name.
func (s *SQLite) AppendHistory(ctx context.Context, run types.QueryRun) error {
	p, err := s.GetProject(ctx, run.ProjectID)
	if err != nil {
		return err
	}
	run.ProjectID = p.ID
	if run.RanAt.IsZero() {
		run.RanAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO query_runs (project_id, query, date_range, max_results, batch_size,
			status, fetched, duplicates_skipped, errors, ran_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ProjectID, run.Query, formatDateRange(run.DateRange), run.MaxResults, run.BatchSize,
		string(run.Status), run.Fetched, run.DuplicatesSkipped, run.Errors,
		run.RanAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("appending history for %s: %w", run.ProjectID, err)
	}
	return nil
}

// History returns the referenced project's runs, oldest first.
func (s *SQLite) History(ctx context.Context, ref string) ([]types.QueryRun, error) {
	p, err := s.GetProject(ctx, ref)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT project_id, query, date_range, max_results, batch_size, status,
			fetched, duplicates_skipped, errors, ran_at
		 FROM query_runs WHERE project_id = ? ORDER BY seq`, p.ID)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var runs []types.QueryRun
	for rows.Next() {
		var run types.QueryRun
		var dr, status, ranAt string
		if err := rows.Scan(&run.ProjectID, &run.Query, &dr, &run.MaxResults, &run.BatchSize,
			&status, &run.Fetched, &run.DuplicatesSkipped, &run.Errors, &ranAt); err != nil {
			return nil, fmt.Errorf("scanning history: %w", err)
		}
		run.Status = types.RunStatus(status)
		if run.DateRange, err = types.ParseDateRange(dr); err != nil {
			return nil, err
		}
		if run.RanAt, err = time.Parse(time.RFC3339Nano, ranAt); err != nil {
			return nil, fmt.Errorf("parsing ran_at: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// sqliteRecords is the record set of one project in a SQLite database.
type sqliteRecords struct {
	db        *sql.DB
	projectID string
}

func (r *sqliteRecords) Contains(ctx context.Context, id string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM records WHERE project_id = ? AND id = ?`, r.projectID, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking record %s: %w", id, err)
	}
	return n > 0, nil
}

// InsertIfAbsent relies on the (project_id, id) primary key: the statement
// either inserts one row or none.
func (r *sqliteRecords) InsertIfAbsent(ctx context.Context, rec types.Record) (bool, error) {
	if rec.ID == "" {
		return false, fmt.Errorf("record has no id")
	}
	row, err := encodeRecord(r.projectID, rec)
	if err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO records (project_id, id, title, abstract, authors, publication_date,
			doi, journal, keywords, raw)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (project_id, id) DO NOTHING`,
		row.ProjectID, row.ID, row.Title, row.Abstract, row.Authors, row.PublicationDate,
		row.DOI, row.Journal, row.Keywords, row.Raw)
	if err != nil {
		return false, fmt.Errorf("inserting record %s: %w", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("inserting record %s: %w", rec.ID, err)
	}
	return n == 1, nil
}

func (r *sqliteRecords) List(ctx context.Context) iter.Seq2[types.Record, error] {
	return func(yield func(types.Record, error) bool) {
		rows, err := r.db.QueryContext(ctx,
			`SELECT project_id, id, title, abstract, authors, publication_date, doi, journal, keywords, raw
			 FROM records WHERE project_id = ? ORDER BY length(id), id`, r.projectID)
		if err != nil {
			yield(types.Record{}, fmt.Errorf("listing records: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var row recordRow
			if err := rows.Scan(&row.ProjectID, &row.ID, &row.Title, &row.Abstract, &row.Authors,
				&row.PublicationDate, &row.DOI, &row.Journal, &row.Keywords, &row.Raw); err != nil {
				yield(types.Record{}, fmt.Errorf("scanning record: %w", err))
				return
			}
			rec, err := row.decode()
			if !yield(rec, err) || err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(types.Record{}, fmt.Errorf("listing records: %w", err))
		}
	}
}

func (r *sqliteRecords) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM records WHERE project_id = ?`, r.projectID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return n, nil
}

func (r *sqliteRecords) DeleteAll(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE project_id = ?`, r.projectID); err != nil {
		return fmt.Errorf("deleting records: %w", err)
	}
	return nil
}
