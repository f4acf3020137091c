// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pdiddy/pms/pkg/types"
)

const dateLayout = "2006-01-02"

// recordRow is the stored shape of a record, shared by both backends.
// Authors and keywords are JSON text columns.
type recordRow struct {
	ProjectID       string  `gorm:"primaryKey;column:project_id"`
	ID              string  `gorm:"primaryKey;column:id"`
	Title           string  `gorm:"column:title"`
	Abstract        string  `gorm:"column:abstract"`
	Authors         string  `gorm:"column:authors"`
	PublicationDate *string `gorm:"column:publication_date"`
	DOI             string  `gorm:"column:doi"`
	Journal         string  `gorm:"column:journal"`
	Keywords        string  `gorm:"column:keywords"`
	Raw             []byte  `gorm:"column:raw"`
}

func (recordRow) TableName() string { return "records" }

func encodeRecord(projectID string, r types.Record) (recordRow, error) {
	authors, err := json.Marshal(r.Authors)
	if err != nil {
		return recordRow{}, fmt.Errorf("encoding authors of %s: %w", r.ID, err)
	}
	keywords, err := json.Marshal(r.Keywords)
	if err != nil {
		return recordRow{}, fmt.Errorf("encoding keywords of %s: %w", r.ID, err)
	}
	row := recordRow{
		ProjectID: projectID,
		ID:        r.ID,
		Title:     r.Title,
		Abstract:  r.Abstract,
		Authors:   string(authors),
		DOI:       r.DOI,
		Journal:   r.Journal,
		Keywords:  string(keywords),
		Raw:       r.Raw,
	}
	if r.PublicationDate != nil {
		d := r.PublicationDate.Format(dateLayout)
		row.PublicationDate = &d
	}
	return row, nil
}

func (row recordRow) decode() (types.Record, error) {
	r := types.Record{
		ID:       row.ID,
		Title:    row.Title,
		Abstract: row.Abstract,
		DOI:      row.DOI,
		Journal:  row.Journal,
		Raw:      row.Raw,
	}
	if row.Authors != "" && row.Authors != "null" {
		if err := json.Unmarshal([]byte(row.Authors), &r.Authors); err != nil {
			return r, fmt.Errorf("decoding authors of %s: %w", row.ID, err)
		}
	}
	if row.Keywords != "" && row.Keywords != "null" {
		if err := json.Unmarshal([]byte(row.Keywords), &r.Keywords); err != nil {
			return r, fmt.Errorf("decoding keywords of %s: %w", row.ID, err)
		}
	}
	if row.PublicationDate != nil && *row.PublicationDate != "" {
		t, err := time.Parse(dateLayout, *row.PublicationDate)
		if err != nil {
			return r, fmt.Errorf("decoding publication date of %s: %w", row.ID, err)
		}
		r.PublicationDate = &t
	}
	return r, nil
}

// formatDateRange stores a date range as its "START:END" text, or "" for nil.
func formatDateRange(dr *types.DateRange) string {
	if dr == nil {
		return ""
	}
	return dr.String()
}
