// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package export

import (
	"io"
	"iter"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/pms/pkg/types"
)

// CSLItem is a bibliographic entry in CSL (Citation Style Language) form.
// Field names follow the CSL-YAML schema so Pandoc and reference managers
// can read the output.
type CSLItem struct {
	ID             string    `yaml:"id"`
	Type           string    `yaml:"type"`
	Title          string    `yaml:"title"`
	Author         []CSLName `yaml:"author,omitempty"`
	Abstract       string    `yaml:"abstract,omitempty"`
	ContainerTitle string    `yaml:"container-title,omitempty"`
	Issued         *CSLDate  `yaml:"issued,omitempty"`
	DOI            string    `yaml:"DOI,omitempty"`
	PMID           string    `yaml:"PMID"`
	Keyword        string    `yaml:"keyword,omitempty"`
}

// CSLName is a person's name in CSL form.
type CSLName struct {
	Family string `yaml:"family,omitempty"`
	Given  string `yaml:"given,omitempty"`
}

// CSLDate is a date in CSL date-parts form.
type CSLDate struct {
	DateParts [][]int `yaml:"date-parts"`
}

func writeCSL(w io.Writer, records iter.Seq2[types.Record, error]) (int, error) {
	var items []CSLItem
	for r, err := range records {
		if err != nil {
			return len(items), err
		}
		items = append(items, ToCSLItem(r))
	}
	if items == nil {
		items = []CSLItem{}
	}
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	if err := enc.Encode(items); err != nil {
		return 0, err
	}
	return len(items), nil
}

// ToCSLItem converts a record to a journal-article CSL item keyed
// "pmid<ID>".
func ToCSLItem(r types.Record) CSLItem {
	item := CSLItem{
		ID:             "pmid" + r.ID,
		Type:           "article-journal",
		Title:          r.Title,
		Abstract:       r.Abstract,
		ContainerTitle: r.Journal,
		DOI:            r.DOI,
		PMID:           r.ID,
	}
	for _, a := range r.Authors {
		item.Author = append(item.Author, CSLName{Family: a.LastName, Given: a.ForeName})
	}
	if r.PublicationDate != nil {
		d := *r.PublicationDate
		item.Issued = &CSLDate{DateParts: [][]int{{d.Year(), int(d.Month()), d.Day()}}}
	}
	item.Keyword = strings.Join(r.Keywords, ", ")
	return item
}
