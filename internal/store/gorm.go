// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/pdiddy/pms/pkg/types"
)

type projectRow struct {
	ID          string    `gorm:"primaryKey"`
	Name        string    `gorm:"uniqueIndex;not null"`
	Description string    `gorm:"not null;default:''"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (projectRow) TableName() string { return "projects" }

type runRow struct {
	Seq               int64  `gorm:"primaryKey;autoIncrement"`
	ProjectID         string `gorm:"index;not null"`
	Query             string `gorm:"not null"`
	DateRange         string
	MaxResults        int
	BatchSize         int
	Status            string `gorm:"not null"`
	Fetched           int
	DuplicatesSkipped int
	Errors            int
	RanAt             time.Time `gorm:"not null"`
}

func (runRow) TableName() string { return "query_runs" }

// Gorm is a Registry over any gorm dialect. OpenPostgres is the supported
// entry point; tests also run it on the gorm SQLite driver.
type Gorm struct {
	db *gorm.DB
}

// OpenPostgres connects to dsn and migrates the schema.
func OpenPostgres(dsn string) (*Gorm, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is empty")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return NewGorm(db)
}

// NewGorm migrates the schema on db and wraps it.
func NewGorm(db *gorm.DB) (*Gorm, error) {
	if err := db.AutoMigrate(&projectRow{}, &recordRow{}, &runRow{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return &Gorm{db: db}, nil
}

// Close releases the underlying connection pool.
func (g *Gorm) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (g *Gorm) CreateProject(ctx context.Context, p types.Project) (types.Project, error) {
	p, err := prepareProject(p)
	if err != nil {
		return p, err
	}
	row := projectRow{ID: p.ID, Name: p.Name, Description: p.Description, CreatedAt: p.CreatedAt}
	err = g.db.WithContext(ctx).Create(&row).Error
	if err == nil {
		return p, nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || g.projectTaken(ctx, p) {
		return p, fmt.Errorf("%w: %s", ErrProjectExists, p.Name)
	}
	return p, fmt.Errorf("inserting project %s: %w", p.Name, err)
}

// projectTaken reports whether p's id or name is already in use. Dialects
// without error translation rely on it to detect conflicts.
func (g *Gorm) projectTaken(ctx context.Context, p types.Project) bool {
	var n int64
	err := g.db.WithContext(ctx).Model(&projectRow{}).
		Where("id = ? OR name = ?", p.ID, p.Name).Count(&n).Error
	return err == nil && n > 0
}

func (g *Gorm) GetProject(ctx context.Context, ref string) (types.Project, error) {
	var row projectRow
	err := g.db.WithContext(ctx).
		Where("id = ? OR name = ?", ref, ref).
		Order(clause.OrderBy{Expression: clause.Expr{
			SQL: "CASE WHEN id = ? THEN 0 ELSE 1 END", Vars: []any{ref}, WithoutParentheses: true,
		}}).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.Project{}, fmt.Errorf("%w: %s", ErrProjectNotFound, ref)
	}
	if err != nil {
		return types.Project{}, fmt.Errorf("looking up project %s: %w", ref, err)
	}
	return row.toProject(), nil
}

func (row projectRow) toProject() types.Project {
	return types.Project{ID: row.ID, Name: row.Name, Description: row.Description, CreatedAt: row.CreatedAt.UTC()}
}

func (g *Gorm) ListProjects(ctx context.Context) ([]types.Project, error) {
	var rows []projectRow
	if err := g.db.WithContext(ctx).Order("name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	projects := make([]types.Project, len(rows))
	for i, row := range rows {
		projects[i] = row.toProject()
	}
	return projects, nil
}

func (g *Gorm) DeleteProject(ctx context.Context, ref string) error {
	p, err := g.GetProject(ctx, ref)
	if err != nil {
		return err
	}
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", p.ID).Delete(&recordRow{}).Error; err != nil {
			return fmt.Errorf("deleting records of %s: %w", p.Name, err)
		}
		if err := tx.Where("project_id = ?", p.ID).Delete(&runRow{}).Error; err != nil {
			return fmt.Errorf("deleting history of %s: %w", p.Name, err)
		}
		if err := tx.Delete(&projectRow{ID: p.ID}).Error; err != nil {
			return fmt.Errorf("deleting project %s: %w", p.Name, err)
		}
		return nil
	})
}

func (g *Gorm) Records(ctx context.Context, ref string) (Records, error) {
	p, err := g.GetProject(ctx, ref)
	if err != nil {
		return nil, err
	}
	return &gormRecords{db: g.db, projectID: p.ID}, nil
}

func (g *Gorm) AppendHistory(ctx context.Context, run types.QueryRun) error {
	p, err := g.GetProject(ctx, run.ProjectID)
	if err != nil {
		return err
	}
	if run.RanAt.IsZero() {
		run.RanAt = time.Now().UTC()
	}
	row := runRow{
		ProjectID:         p.ID,
		Query:             run.Query,
		DateRange:         formatDateRange(run.DateRange),
		MaxResults:        run.MaxResults,
		BatchSize:         run.BatchSize,
		Status:            string(run.Status),
		Fetched:           run.Fetched,
		DuplicatesSkipped: run.DuplicatesSkipped,
		Errors:            run.Errors,
		RanAt:             run.RanAt,
	}
	if err := g.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("appending history for %s: %w", p.Name, err)
	}
	return nil
}

func (g *Gorm) History(ctx context.Context, ref string) ([]types.QueryRun, error) {
	p, err := g.GetProject(ctx, ref)
	if err != nil {
		return nil, err
	}
	var rows []runRow
	if err := g.db.WithContext(ctx).Where("project_id = ?", p.ID).Order("seq").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	runs := make([]types.QueryRun, 0, len(rows))
	for _, row := range rows {
		dr, err := types.ParseDateRange(row.DateRange)
		if err != nil {
			return nil, err
		}
		runs = append(runs, types.QueryRun{
			ProjectID:         row.ProjectID,
			Query:             row.Query,
			DateRange:         dr,
			MaxResults:        row.MaxResults,
			BatchSize:         row.BatchSize,
			Status:            types.RunStatus(row.Status),
			Fetched:           row.Fetched,
			DuplicatesSkipped: row.DuplicatesSkipped,
			Errors:            row.Errors,
			RanAt:             row.RanAt.UTC(),
		})
	}
	return runs, nil
}

// gormRecords is the record set of one project behind gorm.
type gormRecords struct {
	db        *gorm.DB
	projectID string
}

func (r *gormRecords) scope(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&recordRow{}).Where("project_id = ?", r.projectID)
}

func (r *gormRecords) Contains(ctx context.Context, id string) (bool, error) {
	var n int64
	if err := r.scope(ctx).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, fmt.Errorf("checking record %s: %w", id, err)
	}
	return n > 0, nil
}

// InsertIfAbsent issues INSERT ... ON CONFLICT DO NOTHING; RowsAffected
// tells whether this call won.
func (r *gormRecords) InsertIfAbsent(ctx context.Context, rec types.Record) (bool, error) {
	if rec.ID == "" {
		return false, fmt.Errorf("record has no id")
	}
	row, err := encodeRecord(r.projectID, rec)
	if err != nil {
		return false, err
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("inserting record %s: %w", rec.ID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRecords) List(ctx context.Context) iter.Seq2[types.Record, error] {
	return func(yield func(types.Record, error) bool) {
		rows, err := r.scope(ctx).Order("length(id), id").Rows()
		if err != nil {
			yield(types.Record{}, fmt.Errorf("listing records: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var row recordRow
			if err := r.db.ScanRows(rows, &row); err != nil {
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

func (r *gormRecords) Count(ctx context.Context) (int, error) {
	var n int64
	if err := r.scope(ctx).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return int(n), nil
}

func (r *gormRecords) DeleteAll(ctx context.Context) error {
	if err := r.db.WithContext(ctx).Where("project_id = ?", r.projectID).Delete(&recordRow{}).Error; err != nil {
		return fmt.Errorf("deleting records: %w", err)
	}
	return nil
}
