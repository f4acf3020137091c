// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package export serializes a project's records. Every writer consumes the
// restartable record sequence from the store, so a failed export can simply
// be run again.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/pdiddy/pms/pkg/types"
)

// Format names an output format.
type Format string

const (
	FormatJSONL Format = "jsonl"
	FormatJSON  Format = "json"
	FormatCSV   Format = "csv"
	FormatCSL   Format = "csl"
	FormatXML   Format = "xml"
)

// Formats lists the supported formats in display order.
var Formats = []Format{FormatJSONL, FormatJSON, FormatCSV, FormatCSL, FormatXML}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown export format %q (want one of %s)", s, formatList())
}

func formatList() string {
	names := make([]string, len(Formats))
	for i, f := range Formats {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}

// Extension returns the conventional file extension for f.
func (f Format) Extension() string {
	switch f {
	case FormatCSL:
		return ".yaml"
	default:
		return "." + string(f)
	}
}

// ContentType returns the MIME type used when uploading f.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatJSONL:
		return "application/x-ndjson"
	case FormatCSV:
		return "text/csv"
	case FormatCSL:
		return "application/yaml"
	case FormatXML:
		return "application/xml"
	}
	return "application/octet-stream"
}

// Write serializes records to w in format f and returns how many were
// written.
func Write(w io.Writer, f Format, records iter.Seq2[types.Record, error]) (int, error) {
	switch f {
	case FormatJSONL:
		return writeJSONL(w, records)
	case FormatJSON:
		return writeJSON(w, records)
	case FormatCSV:
		return writeCSV(w, records)
	case FormatCSL:
		return writeCSL(w, records)
	case FormatXML:
		return writeXML(w, records)
	}
	return 0, fmt.Errorf("unknown export format %q", f)
}

// jsonRecord is the JSON shape of a record: its fields plus the source
// <PubmedArticle> element so JSON exports lose nothing.
type jsonRecord struct {
	types.Record
	RawXML string `json:"raw_xml,omitempty"`
}

func toJSONRecord(r types.Record) jsonRecord {
	return jsonRecord{Record: r, RawXML: string(r.Raw)}
}

func writeJSONL(w io.Writer, records iter.Seq2[types.Record, error]) (int, error) {
	enc := json.NewEncoder(w)
	n := 0
	for r, err := range records {
		if err != nil {
			return n, err
		}
		if err := enc.Encode(toJSONRecord(r)); err != nil {
			return n, fmt.Errorf("encoding record %s: %w", r.ID, err)
		}
		n++
	}
	return n, nil
}

// writeJSON streams an indented JSON array.
func writeJSON(w io.Writer, records iter.Seq2[types.Record, error]) (int, error) {
	if _, err := io.WriteString(w, "["); err != nil {
		return 0, err
	}
	n := 0
	for r, err := range records {
		if err != nil {
			return n, err
		}
		data, err := json.MarshalIndent(toJSONRecord(r), "  ", "  ")
		if err != nil {
			return n, fmt.Errorf("encoding record %s: %w", r.ID, err)
		}
		sep := ",\n  "
		if n == 0 {
			sep = "\n  "
		}
		if _, err := io.WriteString(w, sep); err != nil {
			return n, err
		}
		if _, err := w.Write(data); err != nil {
			return n, err
		}
		n++
	}
	end := "]\n"
	if n > 0 {
		end = "\n]\n"
	}
	_, err := io.WriteString(w, end)
	return n, err
}

var csvHeader = []string{"pmid", "title", "abstract", "doi", "publication_date", "journal", "authors", "keywords"}

func writeCSV(w io.Writer, records iter.Seq2[types.Record, error]) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, err
	}
	n := 0
	for r, err := range records {
		if err != nil {
			return n, err
		}
		var date string
		if r.PublicationDate != nil {
			date = r.PublicationDate.Format("2006-01-02")
		}
		authors := make([]string, len(r.Authors))
		for i, a := range r.Authors {
			authors[i] = a.DisplayName()
		}
		row := []string{
			r.ID, r.Title, r.Abstract, r.DOI, date, r.Journal,
			strings.Join(authors, "; "),
			strings.Join(r.Keywords, "; "),
		}
		if err := cw.Write(row); err != nil {
			return n, err
		}
		n++
	}
	cw.Flush()
	return n, cw.Error()
}

// writeXML reassembles the stored PubmedArticle elements into one
// PubmedArticleSet document. Records stored without a raw element are
// skipped and not counted.
func writeXML(w io.Writer, records iter.Seq2[types.Record, error]) (int, error) {
	if _, err := io.WriteString(w, "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n<PubmedArticleSet>\n"); err != nil {
		return 0, err
	}
	n := 0
	for r, err := range records {
		if err != nil {
			return n, err
		}
		if len(r.Raw) == 0 {
			continue
		}
		if _, err := w.Write(r.Raw); err != nil {
			return n, err
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return n, err
		}
		n++
	}
	_, err := io.WriteString(w, "</PubmedArticleSet>\n")
	return n, err
}
