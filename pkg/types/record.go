// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// Author is one entry of a record's author list.
type Author struct {
	// LastName is the family name. Collective authors carry their name here.
	LastName string `json:"last_name" yaml:"last_name"`

	ForeName string `json:"fore_name,omitempty" yaml:"fore_name,omitempty"`
	Initials string `json:"initials,omitempty" yaml:"initials,omitempty"`

	// Affiliations lists the author's institutional affiliations in source order.
	Affiliations []string `json:"affiliations,omitempty" yaml:"affiliations,omitempty"`
}

// DisplayName returns "LastName, ForeName" or the bare last name.
func (a Author) DisplayName() string {
	if a.ForeName == "" {
		return a.LastName
	}
	return a.LastName + ", " + a.ForeName
}

// Record is one bibliographic entry retrieved from PubMed. A record is
// immutable once stored: re-fetching the same ID never overwrites it.
type Record struct {
	// ID is the PubMed identifier (PMID), unique within a project.
	ID string `json:"pmid" yaml:"pmid"`

	Title    string `json:"title" yaml:"title"`
	Abstract string `json:"abstract,omitempty" yaml:"abstract,omitempty"`

	// Authors lists the record authors in source order.
	Authors []Author `json:"authors" yaml:"authors"`

	// PublicationDate is nil when the source carries no usable date.
	PublicationDate *time.Time `json:"publication_date,omitempty" yaml:"publication_date,omitempty"`

	DOI      string   `json:"doi,omitempty" yaml:"doi,omitempty"`
	Journal  string   `json:"journal,omitempty" yaml:"journal,omitempty"`
	Keywords []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`

	// Raw is the source <PubmedArticle> element, kept for lossless export.
	Raw []byte `json:"-" yaml:"-"`
}
