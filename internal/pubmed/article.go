// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pubmed

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pdiddy/pms/pkg/types"
)

// PubMed EFetch XML structures. Only the fields pms keeps are mapped; the
// full element is retained in Record.Raw.
type articleSet struct {
	XMLName  xml.Name        `xml:"PubmedArticleSet"`
	Articles []pubmedArticle `xml:"PubmedArticle"`
}

type pubmedArticle struct {
	Inner    []byte          `xml:",innerxml"`
	Citation medlineCitation `xml:"MedlineCitation"`
	IDs      []articleID     `xml:"PubmedData>ArticleIdList>ArticleId"`
}

type medlineCitation struct {
	PMID     string        `xml:"PMID"`
	Article  articleXML    `xml:"Article"`
	Keywords []markupField `xml:"KeywordList>Keyword"`
}

type articleXML struct {
	Title     markupField    `xml:"ArticleTitle"`
	Abstract  []abstractText `xml:"Abstract>AbstractText"`
	Authors   []authorXML    `xml:"AuthorList>Author"`
	Journal   journalXML     `xml:"Journal"`
	ELocation []articleID    `xml:"ELocationID"`
}

type journalXML struct {
	Title   string     `xml:"Title"`
	PubDate pubDateXML `xml:"JournalIssue>PubDate"`
}

type pubDateXML struct {
	Year        string `xml:"Year"`
	Month       string `xml:"Month"`
	Day         string `xml:"Day"`
	MedlineDate string `xml:"MedlineDate"`
}

type authorXML struct {
	LastName     string   `xml:"LastName"`
	ForeName     string   `xml:"ForeName"`
	Initials     string   `xml:"Initials"`
	Affiliations []string `xml:"AffiliationInfo>Affiliation"`
}

type abstractText struct {
	Label string `xml:"Label,attr"`
	Inner string `xml:",innerxml"`
}

// articleID covers both ArticleId (IdType) and ELocationID (EIdType).
type articleID struct {
	IDType  string `xml:"IdType,attr"`
	EIDType string `xml:"EIdType,attr"`
	Value   string `xml:",chardata"`
}

// markupField keeps inline markup such as <i> or <sup> so it can be
// flattened to text.
type markupField struct {
	Inner string `xml:",innerxml"`
}

// ParseArticles decodes an EFetch PubmedArticleSet document. Articles without
// a PMID are skipped.
func ParseArticles(data []byte) ([]types.Record, error) {
	var set articleSet
	if err := xml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parsing efetch XML: %w", err)
	}
	records := make([]types.Record, 0, len(set.Articles))
	for _, a := range set.Articles {
		id := strings.TrimSpace(a.Citation.PMID)
		if id == "" {
			continue
		}
		records = append(records, a.toRecord(id))
	}
	return records, nil
}

func (a pubmedArticle) toRecord(id string) types.Record {
	art := a.Citation.Article
	r := types.Record{
		ID:       id,
		Title:    plainText(art.Title.Inner),
		Abstract: joinAbstract(art.Abstract),
		Journal:  strings.TrimSpace(art.Journal.Title),
		DOI:      findDOI(a.IDs, art.ELocation),
	}
	for _, au := range art.Authors {
		if strings.TrimSpace(au.LastName) == "" {
			continue
		}
		author := types.Author{
			LastName: strings.TrimSpace(au.LastName),
			ForeName: strings.TrimSpace(au.ForeName),
			Initials: strings.TrimSpace(au.Initials),
		}
		for _, aff := range au.Affiliations {
			if aff = strings.TrimSpace(aff); aff != "" {
				author.Affiliations = append(author.Affiliations, aff)
			}
		}
		r.Authors = append(r.Authors, author)
	}
	for _, kw := range a.Citation.Keywords {
		if text := plainText(kw.Inner); text != "" {
			r.Keywords = append(r.Keywords, text)
		}
	}
	r.PublicationDate = parsePubDate(art.Journal.PubDate)

	var raw bytes.Buffer
	raw.WriteString("<PubmedArticle>")
	raw.Write(a.Inner)
	raw.WriteString("</PubmedArticle>")
	r.Raw = raw.Bytes()
	return r
}

// joinAbstract returns a single section as is. Structured abstracts become
// "LABEL: text" sections joined by spaces.
func joinAbstract(sections []abstractText) string {
	switch len(sections) {
	case 0:
		return ""
	case 1:
		return plainText(sections[0].Inner)
	}
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		text := plainText(s.Inner)
		if s.Label != "" {
			parts = append(parts, s.Label+": "+text)
		} else {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

func findDOI(ids []articleID, elocs []articleID) string {
	for _, id := range ids {
		if strings.EqualFold(id.IDType, "doi") && strings.TrimSpace(id.Value) != "" {
			return strings.TrimSpace(id.Value)
		}
	}
	for _, id := range elocs {
		if strings.EqualFold(id.EIDType, "doi") && strings.TrimSpace(id.Value) != "" {
			return strings.TrimSpace(id.Value)
		}
	}
	return ""
}

// parsePubDate builds a date from Year/Month/Day, defaulting month and day
// to 1. Month may be numeric or an English abbreviation. MedlineDate values
// such as "1998 Dec-1999 Jan" contribute their leading year only. Invalid
// dates yield nil.
func parsePubDate(d pubDateXML) *time.Time {
	yearStr := strings.TrimSpace(d.Year)
	if yearStr == "" {
		md := strings.TrimSpace(d.MedlineDate)
		if len(md) >= 4 {
			yearStr = md[:4]
		}
	}
	year, err := strconv.Atoi(yearStr)
	if err != nil || year <= 0 {
		return nil
	}

	month := parseMonth(d.Month)
	day := 1
	if s := strings.TrimSpace(d.Day); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil
		}
		day = n
	}

	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || t.Month() != month || t.Day() != day {
		return nil
	}
	return &t
}

func parseMonth(s string) time.Month {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.January
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n >= 1 && n <= 12 {
			return time.Month(n)
		}
		return time.January
	}
	if len(s) > 3 {
		s = s[:3]
	}
	if t, err := time.Parse("Jan", strings.ToUpper(s[:1])+strings.ToLower(s[1:])); err == nil {
		return t.Month()
	}
	return time.January
}

// plainText strips inline markup from an XML fragment and collapses
// whitespace. Fragments that fail to tokenize are returned trimmed.
func plainText(fragment string) string {
	if !strings.Contains(fragment, "<") && !strings.Contains(fragment, "&") {
		return strings.Join(strings.Fields(fragment), " ")
	}
	dec := xml.NewDecoder(strings.NewReader("<x>" + fragment + "</x>"))
	var b strings.Builder
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return strings.TrimSpace(fragment)
		}
		if cd, ok := tok.(xml.CharData); ok {
			b.Write(cd)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
