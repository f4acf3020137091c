// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/pms/internal/metrics"
	"github.com/pdiddy/pms/internal/pubmed"
	"github.com/pdiddy/pms/internal/store"
	"github.com/pdiddy/pms/pkg/types"
)

// --- test doubles ---

// fakeAPI serves a fixed id list through cursor pagination and returns one
// record per requested id. Failures are scripted per batch, keyed by the
// first id of the batch, and consumed one per call.
type fakeAPI struct {
	mu sync.Mutex

	ids     []string
	missing map[string]bool

	searchErrs []error
	failFor    map[string][]error

	searchCalls int
	fetchCalls  [][]string

	// afterFetch runs after every successful FetchRecords call.
	afterFetch func(call int)
}

func newFakeAPI(ids ...string) *fakeAPI {
	return &fakeAPI{ids: ids, missing: map[string]bool{}, failFor: map[string][]error{}}
}

func seq(from, to int) []string {
	var out []string
	for i := from; i <= to; i++ {
		out = append(out, fmt.Sprint(i))
	}
	return out
}

func (f *fakeAPI) SearchIDs(_ context.Context, _ string, _ *types.DateRange, cursor *pubmed.Cursor, limit int) (pubmed.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	if len(f.searchErrs) > 0 {
		err := f.searchErrs[0]
		f.searchErrs = f.searchErrs[1:]
		if err != nil {
			return pubmed.Page{}, err
		}
	}
	offset := 0
	if cursor != nil {
		offset = cursor.Offset
	}
	end := min(offset+limit, len(f.ids))
	page := pubmed.Page{IDs: append([]string(nil), f.ids[offset:end]...), Total: len(f.ids)}
	if end < len(f.ids) {
		page.Next = &pubmed.Cursor{WebEnv: "MCID_test", QueryKey: "1", Offset: end}
	}
	return page, nil
}

func (f *fakeAPI) FetchRecords(_ context.Context, ids []string) (pubmed.FetchResult, error) {
	f.mu.Lock()
	f.fetchCalls = append(f.fetchCalls, append([]string(nil), ids...))
	call := len(f.fetchCalls)
	if errs := f.failFor[ids[0]]; len(errs) > 0 {
		f.failFor[ids[0]] = errs[1:]
		f.mu.Unlock()
		return pubmed.FetchResult{}, errs[0]
	}
	var res pubmed.FetchResult
	for _, id := range ids {
		if f.missing[id] {
			res.Missing = append(res.Missing, id)
			continue
		}
		res.Records = append(res.Records, types.Record{ID: id, Title: "title " + id})
	}
	hook := f.afterFetch
	f.mu.Unlock()
	if hook != nil {
		hook(call)
	}
	return res, nil
}

func transient() error {
	return &pubmed.TransientError{Endpoint: "efetch", StatusCode: 503, Err: errors.New("service unavailable")}
}

func fatal() error {
	return &pubmed.FatalError{Endpoint: "efetch", StatusCode: 400, Err: errors.New("bad request")}
}

func repeat(err func() error, n int) []error {
	out := make([]error, n)
	for i := range out {
		out[i] = err()
	}
	return out
}

type fixture struct {
	reg  *store.SQLite
	api  *fakeAPI
	orch *Orchestrator
	recs store.Records
}

func newFixture(t *testing.T, api *fakeAPI) *fixture {
	t.Helper()
	reg, err := store.OpenSQLite(filepath.Join(t.TempDir(), "pms.db"))
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	_, err = reg.CreateProject(context.Background(), types.Project{ID: "p1", Name: "biomarkers"})
	require.NoError(t, err)
	recs, err := reg.Records(context.Background(), "p1")
	require.NoError(t, err)

	o := New(api, reg, nil)
	o.Retry = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	return &fixture{reg: reg, api: api, orch: o, recs: recs}
}

func (f *fixture) seed(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := f.recs.InsertIfAbsent(context.Background(), types.Record{ID: id, Title: "seeded"})
		require.NoError(t, err)
	}
}

func (f *fixture) count(t *testing.T) int {
	t.Helper()
	n, err := f.recs.Count(context.Background())
	require.NoError(t, err)
	return n
}

func request(max, batch int) types.SearchRequest {
	return types.SearchRequest{Query: "cancer AND biomarkers", MaxResults: max, BatchSize: batch}
}

// --- scenarios ---

func TestRun_EmptyProject(t *testing.T) {
	f := newFixture(t, newFakeAPI(seq(1, 5)...))

	res, err := f.orch.Run(context.Background(), "p1", request(5, 3))
	require.NoError(t, err)

	assert.Equal(t, types.StatusCompleted, res.Status)
	assert.Equal(t, 5, res.Fetched)
	assert.Zero(t, res.DuplicatesSkipped)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 5, res.TotalAvailable)
	assert.Equal(t, 5, f.count(t))
	assert.Equal(t, 2, f.api.searchCalls)
	assert.Equal(t, [][]string{{"1", "2", "3"}, {"4", "5"}}, f.api.fetchCalls)
}

func TestRun_PartiallyOwnedProject(t *testing.T) {
	f := newFixture(t, newFakeAPI(seq(1, 5)...))
	f.seed(t, "1", "3", "5")

	res, err := f.orch.Run(context.Background(), "p1", request(5, 3))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Fetched)
	assert.Equal(t, 3, res.DuplicatesSkipped)
	assert.Equal(t, 5, f.count(t))
	assert.Equal(t, [][]string{{"2", "4"}}, f.api.fetchCalls, "owned ids are never fetched")
}

func TestRun_DedupIdempotence(t *testing.T) {
	f := newFixture(t, newFakeAPI(seq(1, 7)...))
	req := request(0, 3)

	first, err := f.orch.Run(context.Background(), "p1", req)
	require.NoError(t, err)
	require.Equal(t, 7, first.Fetched)
	calls := len(f.api.fetchCalls)

	second, err := f.orch.Run(context.Background(), "biomarkers", req)
	require.NoError(t, err)
	assert.Zero(t, second.Fetched)
	assert.Equal(t, first.Fetched, second.DuplicatesSkipped)
	assert.Equal(t, 7, f.count(t))
	assert.Len(t, f.api.fetchCalls, calls, "second run fetches nothing")
}

func TestRun_MaxResultsBound(t *testing.T) {
	tests := []struct {
		name    string
		total   int
		max     int
		batch   int
		seed    []string
		missing []string
	}{
		{"exact pages", 50, 15, 5, nil, nil},
		{"bound inside a page", 50, 17, 5, nil, nil},
		{"bound smaller than a batch", 50, 2, 10, nil, nil},
		{"owned ids count toward bound", 50, 12, 5, []string{"2", "3", "9"}, nil},
		{"short batches are refilled", 50, 12, 5, nil, []string{"3", "4", "11"}},
		{"fewer ids than bound", 8, 20, 3, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI(seq(1, tt.total)...)
			for _, id := range tt.missing {
				api.missing[id] = true
			}
			f := newFixture(t, api)
			f.seed(t, tt.seed...)

			res, err := f.orch.Run(context.Background(), "p1", request(tt.max, tt.batch))
			require.NoError(t, err)

			want := min(tt.max, tt.total-len(tt.missing))
			assert.Equal(t, want, res.Processed())
			assert.Equal(t, len(tt.seed), res.DuplicatesSkipped)
			assert.ElementsMatch(t, tt.missing, res.Missing)
			for _, call := range api.fetchCalls {
				assert.LessOrEqual(t, len(call), tt.batch)
			}
		})
	}
}

func TestRun_DuplicatesAcrossPages(t *testing.T) {
	f := newFixture(t, newFakeAPI("1", "2", "3", "3", "4"))

	res, err := f.orch.Run(context.Background(), "p1", request(0, 2))
	require.NoError(t, err)
	assert.Equal(t, 4, res.Fetched)
	assert.Equal(t, 1, res.DuplicatesSkipped)
	for _, call := range f.api.fetchCalls {
		for _, id := range call {
			if id == "3" {
				assert.Equal(t, []string{"3", "4"}, call, "3 is fetched once")
			}
		}
	}
}

// --- failure handling ---

func TestRun_BatchIsolation(t *testing.T) {
	api := newFakeAPI(seq(1, 9)...)
	api.failFor["4"] = repeat(transient, 3)
	f := newFixture(t, api)

	res, err := f.orch.Run(context.Background(), "p1", request(0, 3))
	require.NoError(t, err)

	assert.Equal(t, types.StatusCompleted, res.Status)
	assert.Equal(t, 6, res.Fetched)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 1, res.Errors[0].Batch)
	assert.Equal(t, []string{"4", "5", "6"}, res.Errors[0].IDs)
	assert.Equal(t, 3, res.Errors[0].Attempts)
	assert.Contains(t, res.Errors[0].Message, "service unavailable")
	assert.Len(t, api.fetchCalls, 5, "one call each for batches 0 and 2, three for batch 1")

	ok, err := f.recs.Contains(context.Background(), "5")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRun_TransientRecovers(t *testing.T) {
	api := newFakeAPI(seq(1, 3)...)
	api.failFor["1"] = repeat(transient, 2)
	f := newFixture(t, api)

	res, err := f.orch.Run(context.Background(), "p1", request(0, 3))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Fetched)
	assert.Empty(t, res.Errors)
	assert.Len(t, api.fetchCalls, 3)
}

func TestRun_FatalAbort(t *testing.T) {
	api := newFakeAPI(seq(1, 9)...)
	api.failFor["4"] = []error{fatal()}
	f := newFixture(t, api)

	res, err := f.orch.Run(context.Background(), "p1", request(0, 3))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAborted)
	assert.True(t, pubmed.IsFatal(err))

	assert.Equal(t, types.StatusAborted, res.Status)
	assert.Equal(t, 3, res.Fetched, "batch 0 stays committed")
	assert.Equal(t, 3, f.count(t))
	assert.Len(t, api.fetchCalls, 2, "no batch after the fatal one is attempted")
}

func TestRun_SearchFailed(t *testing.T) {
	api := newFakeAPI(seq(1, 4)...)
	api.failFor["1"] = repeat(transient, 3)
	api.failFor["3"] = repeat(transient, 3)
	f := newFixture(t, api)

	res, err := f.orch.Run(context.Background(), "p1", request(0, 2))
	assert.ErrorIs(t, err, ErrSearchFailed)
	assert.Equal(t, types.StatusFailed, res.Status)
	assert.Zero(t, res.Fetched)
	assert.Len(t, res.Errors, 2)
	assert.Zero(t, f.count(t))
}

func TestRun_IDPageExhaustedEndsPagination(t *testing.T) {
	api := newFakeAPI(seq(1, 9)...)
	api.searchErrs = []error{nil, transient(), transient(), transient()}
	f := newFixture(t, api)

	res, err := f.orch.Run(context.Background(), "p1", request(0, 3))
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, res.Status)
	assert.Equal(t, 3, res.Fetched)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, -1, res.Errors[0].Batch)
	assert.Equal(t, 3, res.Errors[0].Attempts)
	assert.Equal(t, 4, api.searchCalls)
}

// pagingLimitServer mimics ESearch refusing any retstart above the paging
// limit. It serves count ids and answers EFetch with one article per id.
func pagingLimitServer(t *testing.T, count int, limit int, maxOffset *atomic.Int32) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/esearch.fcgi":
			q := r.URL.Query()
			start, _ := strconv.Atoi(q.Get("retstart"))
			size, _ := strconv.Atoi(q.Get("retmax"))
			if int32(start) > maxOffset.Load() {
				maxOffset.Store(int32(start))
			}
			if start > limit {
				fmt.Fprintf(w, `{"esearchresult":{"ERROR":"Search Backend failed: Exception:\n'retstart' cannot be larger than %d."}}`, limit)
				return
			}
			var ids []string
			for i := start; i < min(start+size, count); i++ {
				ids = append(ids, strconv.Quote(strconv.Itoa(i+1)))
			}
			fmt.Fprintf(w, `{"esearchresult":{"count":"%d","querykey":"1","webenv":"MCID_cap","idlist":[%s]}}`, count, strings.Join(ids, ","))
		case "/efetch.fcgi":
			assert.NoError(t, r.ParseForm())
			var b strings.Builder
			b.WriteString("<PubmedArticleSet>")
			for _, id := range strings.Split(r.PostForm.Get("id"), ",") {
				fmt.Fprintf(&b, `<PubmedArticle><MedlineCitation><PMID>%s</PMID><Article><ArticleTitle>Title %s</ArticleTitle><Journal><Title>J</Title><JournalIssue><PubDate><Year>2020</Year></PubDate></JournalIssue></Journal></Article></MedlineCitation></PubmedArticle>`, id, id)
			}
			b.WriteString("</PubmedArticleSet>")
			fmt.Fprint(w, b.String())
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestRun_StopsAtPagingLimit(t *testing.T) {
	saved := pubmed.MaxRetStart
	pubmed.MaxRetStart = 8
	t.Cleanup(func() { pubmed.MaxRetStart = saved })

	var maxOffset atomic.Int32
	ts := pagingLimitServer(t, 20, 8, &maxOffset)

	f := newFixture(t, newFakeAPI())
	f.orch.Fetcher = pubmed.New(types.APIConfig{BaseURL: ts.URL, Email: "dev@example.org"}, nil, nil)

	res, err := f.orch.Run(context.Background(), "p1", request(0, 3))
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, res.Status)
	assert.Equal(t, 20, res.TotalAvailable)
	assert.Equal(t, 9, res.Fetched, "ids up to the paging limit are ingested")
	assert.Empty(t, res.Errors)
	assert.Equal(t, 9, f.count(t))
	assert.EqualValues(t, 6, maxOffset.Load(), "no request beyond the last accepted offset")
}

func TestRun_IDPageFatal(t *testing.T) {
	api := newFakeAPI(seq(1, 9)...)
	api.searchErrs = []error{&pubmed.FatalError{Endpoint: "esearch", Err: errors.New("Invalid query")}}
	f := newFixture(t, api)

	res, err := f.orch.Run(context.Background(), "p1", request(0, 3))
	assert.ErrorIs(t, err, ErrAborted)
	assert.True(t, pubmed.IsFatal(err))
	assert.Equal(t, types.StatusAborted, res.Status)
	assert.Empty(t, api.fetchCalls)
}

func TestRun_CancelledBetweenBatches(t *testing.T) {
	api := newFakeAPI(seq(1, 9)...)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	api.afterFetch = func(call int) {
		if call == 1 {
			cancel()
		}
	}
	f := newFixture(t, api)

	res, err := f.orch.Run(ctx, "p1", request(0, 3))
	assert.ErrorIs(t, err, ErrAborted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, types.StatusAborted, res.Status)
	assert.Equal(t, 3, res.Fetched)
	assert.Len(t, api.fetchCalls, 1)

	runs, err := f.reg.History(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, runs, 1, "cancelled runs are still recorded")
	assert.Equal(t, types.StatusAborted, runs[0].Status)
}

func TestRun_CancelledDuringBackoff(t *testing.T) {
	api := newFakeAPI(seq(1, 3)...)
	api.failFor["1"] = repeat(transient, 3)
	f := newFixture(t, api)
	f.orch.Retry = RetryPolicy{MaxAttempts: 3, BaseDelay: time.Minute}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := f.orch.Run(ctx, "p1", request(0, 3))
	assert.ErrorIs(t, err, ErrAborted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Len(t, api.fetchCalls, 1)
}

// --- validation and lookup ---

func TestRun_InvalidRequest(t *testing.T) {
	reversed := &types.DateRange{
		Start: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	tests := []struct {
		name string
		req  types.SearchRequest
	}{
		{"empty query", types.SearchRequest{Query: "  ", BatchSize: 10}},
		{"zero batch", types.SearchRequest{Query: "q", BatchSize: 0}},
		{"batch too large", types.SearchRequest{Query: "q", BatchSize: MaxBatchSize + 1}},
		{"negative max", types.SearchRequest{Query: "q", BatchSize: 10, MaxResults: -1}},
		{"reversed dates", types.SearchRequest{Query: "q", BatchSize: 10, DateRange: reversed}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI(seq(1, 3)...)
			f := newFixture(t, api)
			_, err := f.orch.Run(context.Background(), "p1", tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
			assert.Zero(t, api.searchCalls)
			assert.Empty(t, api.fetchCalls)
		})
	}
}

func TestValidate_AcceptsBounds(t *testing.T) {
	assert.NoError(t, Validate(types.SearchRequest{Query: "q", BatchSize: 1}))
	assert.NoError(t, Validate(types.SearchRequest{Query: "q", BatchSize: MaxBatchSize, MaxResults: 0}))
	open := &types.DateRange{Start: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)}
	assert.NoError(t, Validate(types.SearchRequest{Query: "q", BatchSize: 5, DateRange: open}))
}

func TestRun_ProjectNotFound(t *testing.T) {
	api := newFakeAPI(seq(1, 3)...)
	f := newFixture(t, api)

	_, err := f.orch.Run(context.Background(), "missing", request(0, 3))
	assert.ErrorIs(t, err, store.ErrProjectNotFound)
	assert.Zero(t, api.searchCalls)
}

// --- side effects ---

func TestRun_RecordsHistory(t *testing.T) {
	f := newFixture(t, newFakeAPI(seq(1, 5)...))
	req := request(4, 2)
	req.DateRange = &types.DateRange{Start: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC)}

	_, err := f.orch.Run(context.Background(), "p1", req)
	require.NoError(t, err)

	runs, err := f.reg.History(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "cancer AND biomarkers", runs[0].Query)
	assert.Equal(t, 4, runs[0].Fetched)
	assert.Equal(t, types.StatusCompleted, runs[0].Status)
	assert.Equal(t, "2020/01/01:2020/12/31", runs[0].DateRange.String())
	assert.Equal(t, 2, runs[0].BatchSize)
}

func TestRun_ProgressAndMetrics(t *testing.T) {
	api := newFakeAPI(seq(1, 6)...)
	api.failFor["4"] = repeat(transient, 1)
	f := newFixture(t, api)

	var buf bytes.Buffer
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	f.orch.Progress = &buf
	f.orch.Metrics = m

	_, err = f.orch.Run(context.Background(), "p1", request(0, 3))
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "batch 1: fetched 3, skipped 0, missing 0")
	assert.Contains(t, buf.String(), "batch 2: fetched 3")

	n, err := testutil.GatherAndCount(reg, "pms_search_runs_total", "pms_batch_retries_total", "pms_records_fetched_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
