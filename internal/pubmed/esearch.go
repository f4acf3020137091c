// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pubmed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/pdiddy/pms/pkg/types"
)

// Cursor is the continuation token for the next ESearch page. WebEnv and
// QueryKey pin the result set on the history server so later pages see the
// same ordering even if new records are indexed mid-run.
type Cursor struct {
	WebEnv   string
	QueryKey string
	Offset   int
}

// MaxRetStart is the highest retstart ESearch accepts. PubMed serves only
// the first 10,000 ids of a result set and answers deeper requests with an
// ERROR field.
var MaxRetStart = 9998

// Page is one ESearch result page.
type Page struct {
	IDs   []string
	Total int
	// Next is nil when no further page exists.
	Next *Cursor
	// Capped is set when more ids match than ESearch will page through.
	Capped bool
}

// esearchResponse mirrors the JSON envelope. Counts arrive as strings.
type esearchResponse struct {
	Result struct {
		Count    string   `json:"count"`
		RetMax   string   `json:"retmax"`
		RetStart string   `json:"retstart"`
		QueryKey string   `json:"querykey"`
		WebEnv   string   `json:"webenv"`
		IDList   []string `json:"idlist"`
		Error    string   `json:"ERROR"`
	} `json:"esearchresult"`
	Error string `json:"error"`
}

// SearchIDs fetches one page of at most limit ids. A nil cursor starts a new
// result set; the date range is only sent with that first request.
func (c *Client) SearchIDs(ctx context.Context, query string, dateRange *types.DateRange, cursor *Cursor, limit int) (Page, error) {
	if limit <= 0 {
		return Page{}, fmt.Errorf("esearch limit must be positive, got %d", limit)
	}
	params := c.commonParams(url.Values{})
	params.Set("retmode", "json")
	params.Set("retmax", strconv.Itoa(limit))
	params.Set("usehistory", "y")

	offset := 0
	if cursor != nil {
		offset = cursor.Offset
	}
	if cursor != nil && cursor.WebEnv != "" && cursor.QueryKey != "" {
		params.Set("term", "#"+cursor.QueryKey)
		params.Set("WebEnv", cursor.WebEnv)
	} else {
		params.Set("term", query)
		setDateRange(params, dateRange)
	}
	params.Set("retstart", strconv.Itoa(offset))

	reqURL := c.BaseURL + "/esearch.fcgi?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Page{}, fmt.Errorf("creating esearch request: %w", err)
	}

	body, err := c.do(ctx, endpointSearch, req)
	if err != nil {
		return Page{}, err
	}

	var er esearchResponse
	if err := json.Unmarshal(body, &er); err != nil {
		return Page{}, &TransientError{Endpoint: endpointSearch, StatusCode: http.StatusOK, Err: fmt.Errorf("parsing esearch response: %w", err)}
	}
	if er.Result.Error != "" {
		return Page{}, &FatalError{Endpoint: endpointSearch, StatusCode: http.StatusOK, Err: errors.New(er.Result.Error)}
	}
	if er.Error != "" {
		return Page{}, &FatalError{Endpoint: endpointSearch, StatusCode: http.StatusOK, Err: errors.New(er.Error)}
	}

	total, err := atoiDefault(er.Result.Count)
	if err != nil {
		return Page{}, &TransientError{Endpoint: endpointSearch, StatusCode: http.StatusOK, Err: fmt.Errorf("parsing esearch count: %w", err)}
	}

	page := Page{IDs: er.Result.IDList, Total: total}
	next := offset + len(page.IDs)
	switch {
	case len(page.IDs) == 0 || next >= total:
	case next > MaxRetStart:
		page.Capped = true
		c.Logger.Warn("result set exceeds the ESearch paging limit; later ids are unreachable",
			zap.Int("total", total),
			zap.Int("retrieved", next),
			zap.Int("limit", MaxRetStart+1))
	default:
		page.Next = &Cursor{WebEnv: er.Result.WebEnv, QueryKey: er.Result.QueryKey, Offset: next}
	}
	c.Logger.Debug("esearch page",
		zap.Int("offset", offset),
		zap.Int("ids", len(page.IDs)),
		zap.Int("total", total),
		zap.Bool("more", page.Next != nil))
	return page, nil
}

// setDateRange adds publication-date bounds. E-utilities needs both ends, so
// an open end is filled with the widest accepted value.
func setDateRange(v url.Values, dr *types.DateRange) {
	if dr == nil || (dr.Start.IsZero() && dr.End.IsZero()) {
		return
	}
	minDate, maxDate := "1800/01/01", "3000/12/31"
	if !dr.Start.IsZero() {
		minDate = dr.Start.Format(types.DateLayout)
	}
	if !dr.End.IsZero() {
		maxDate = dr.End.Format(types.DateLayout)
	}
	v.Set("datetype", "pdat")
	v.Set("mindate", minDate)
	v.Set("maxdate", maxDate)
}

func atoiDefault(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
