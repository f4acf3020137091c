// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pubmed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/pms/pkg/types"
)

// FetchResult holds the records EFetch returned and the requested ids it did
// not return (withdrawn or book records, for example).
type FetchResult struct {
	Records []types.Record
	Missing []string
}

// FetchRecords retrieves full records for ids in one POST request. A short
// response is not an error; the absent ids are listed in Missing.
func (c *Client) FetchRecords(ctx context.Context, ids []string) (FetchResult, error) {
	if len(ids) == 0 {
		return FetchResult{}, nil
	}
	if len(ids) > MaxFetchIDs {
		return FetchResult{}, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(ids), MaxFetchIDs)
	}

	form := c.commonParams(url.Values{})
	form.Set("id", strings.Join(ids, ","))
	form.Set("retmode", "xml")
	form.Set("rettype", "abstract")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/efetch.fcgi", strings.NewReader(form.Encode()))
	if err != nil {
		return FetchResult{}, fmt.Errorf("creating efetch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do(ctx, endpointFetch, req)
	if err != nil {
		return FetchResult{}, err
	}

	records, err := ParseArticles(body)
	if err != nil {
		return FetchResult{}, &TransientError{Endpoint: endpointFetch, StatusCode: http.StatusOK, Err: err}
	}

	returned := make(map[string]bool, len(records))
	for _, r := range records {
		returned[r.ID] = true
	}
	var res FetchResult
	res.Records = records
	for _, id := range ids {
		if !returned[id] {
			res.Missing = append(res.Missing, id)
		}
	}
	if len(res.Missing) > 0 {
		c.Logger.Warn("efetch returned fewer records than requested",
			zap.Int("requested", len(ids)),
			zap.Int("returned", len(records)),
			zap.Strings("missing", res.Missing))
	}
	return res, nil
}
