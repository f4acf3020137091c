// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/pms/pkg/types"
)

// runRegistryTests exercises a Registry implementation. open must return an
// empty registry.
func runRegistryTests(t *testing.T, open func(t *testing.T) Registry) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, open(t)) })
	t.Run("IDTakesPrecedence", func(t *testing.T) { testIDTakesPrecedence(t, open(t)) })
	t.Run("CreateValidation", func(t *testing.T) { testCreateValidation(t, open(t)) })
	t.Run("ListProjects", func(t *testing.T) { testListProjects(t, open(t)) })
	t.Run("InsertIfAbsent", func(t *testing.T) { testInsertIfAbsent(t, open(t)) })
	t.Run("RecordRoundTrip", func(t *testing.T) { testRecordRoundTrip(t, open(t)) })
	t.Run("ListRestartable", func(t *testing.T) { testListRestartable(t, open(t)) })
	t.Run("ListEarlyBreak", func(t *testing.T) { testListEarlyBreak(t, open(t)) })
	t.Run("ProjectsIsolated", func(t *testing.T) { testProjectsIsolated(t, open(t)) })
	t.Run("DeleteAll", func(t *testing.T) { testDeleteAll(t, open(t)) })
	t.Run("DeleteProjectCascades", func(t *testing.T) { testDeleteProjectCascades(t, open(t)) })
	t.Run("History", func(t *testing.T) { testHistory(t, open(t)) })
	t.Run("ConcurrentInsert", func(t *testing.T) { testConcurrentInsert(t, open(t)) })
}

func mustCreate(t *testing.T, reg Registry, name string) types.Project {
	t.Helper()
	p, err := reg.CreateProject(context.Background(), types.Project{Name: name})
	require.NoError(t, err)
	return p
}

func mustRecords(t *testing.T, reg Registry, ref string) Records {
	t.Helper()
	recs, err := reg.Records(context.Background(), ref)
	require.NoError(t, err)
	return recs
}

func collect(t *testing.T, recs Records) []types.Record {
	t.Helper()
	var out []types.Record
	for r, err := range recs.List(context.Background()) {
		require.NoError(t, err)
		out = append(out, r)
	}
	return out
}

func ids(records []types.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func testCreateAndGet(t *testing.T, reg Registry) {
	ctx := context.Background()
	p, err := reg.CreateProject(ctx, types.Project{Name: "  crispr  ", Description: "gene editing"})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID, "id is generated")
	assert.Equal(t, "crispr", p.Name)
	assert.False(t, p.CreatedAt.IsZero())

	byID, err := reg.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, byID.Name)
	assert.Equal(t, "gene editing", byID.Description)
	assert.WithinDuration(t, p.CreatedAt, byID.CreatedAt, time.Millisecond)

	byName, err := reg.GetProject(ctx, "crispr")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byName.ID)

	_, err = reg.GetProject(ctx, "nope")
	assert.ErrorIs(t, err, ErrProjectNotFound)

	_, err = reg.Records(ctx, "nope")
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func testIDTakesPrecedence(t *testing.T, reg Registry) {
	ctx := context.Background()
	first, err := reg.CreateProject(ctx, types.Project{ID: "oncology", Name: "first"})
	require.NoError(t, err)
	_, err = reg.CreateProject(ctx, types.Project{ID: "second-id", Name: "oncology"})
	require.NoError(t, err)

	got, err := reg.GetProject(ctx, "oncology")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID, "an id match wins over a name match")

	got, err = reg.GetProject(ctx, "second-id")
	require.NoError(t, err)
	assert.Equal(t, "oncology", got.Name)
}

func testCreateValidation(t *testing.T, reg Registry) {
	ctx := context.Background()
	_, err := reg.CreateProject(ctx, types.Project{Name: "   "})
	assert.ErrorIs(t, err, ErrInvalidProject)

	_, err = reg.CreateProject(ctx, types.Project{ID: "fixed", Name: "one"})
	require.NoError(t, err)
	_, err = reg.CreateProject(ctx, types.Project{Name: "one"})
	assert.ErrorIs(t, err, ErrProjectExists, "duplicate name")
	_, err = reg.CreateProject(ctx, types.Project{ID: "fixed", Name: "two"})
	assert.ErrorIs(t, err, ErrProjectExists, "duplicate id")
}

func testListProjects(t *testing.T, reg Registry) {
	ctx := context.Background()
	projects, err := reg.ListProjects(ctx)
	require.NoError(t, err)
	assert.Empty(t, projects)

	mustCreate(t, reg, "zeta")
	mustCreate(t, reg, "alpha")

	projects, err = reg.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "alpha", projects[0].Name)
	assert.Equal(t, "zeta", projects[1].Name)
}

func testInsertIfAbsent(t *testing.T, reg Registry) {
	ctx := context.Background()
	mustCreate(t, reg, "p")
	recs := mustRecords(t, reg, "p")

	ok, err := recs.Contains(ctx, "100")
	require.NoError(t, err)
	assert.False(t, ok)

	inserted, err := recs.InsertIfAbsent(ctx, types.Record{ID: "100", Title: "first"})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = recs.InsertIfAbsent(ctx, types.Record{ID: "100", Title: "second"})
	require.NoError(t, err)
	assert.False(t, inserted, "second insert is a no-op")

	ok, err = recs.Contains(ctx, "100")
	require.NoError(t, err)
	assert.True(t, ok)

	all := collect(t, recs)
	require.Len(t, all, 1)
	assert.Equal(t, "first", all[0].Title, "stored records are never overwritten")

	_, err = recs.InsertIfAbsent(ctx, types.Record{Title: "no id"})
	assert.Error(t, err)
}

func testRecordRoundTrip(t *testing.T, reg Registry) {
	ctx := context.Background()
	mustCreate(t, reg, "p")
	recs := mustRecords(t, reg, "p")

	date := time.Date(2019, time.September, 12, 0, 0, 0, 0, time.UTC)
	in := types.Record{
		ID:       "31452104",
		Title:    "CRISPR",
		Abstract: "BACKGROUND: x",
		Authors: []types.Author{
			{LastName: "Doudna", ForeName: "Jennifer A", Initials: "JA", Affiliations: []string{"UC Berkeley"}},
			{LastName: "Zhang"},
		},
		PublicationDate: &date,
		DOI:             "10.1/x",
		Journal:         "Nature medicine",
		Keywords:        []string{"CRISPR", "editing"},
		Raw:             []byte("<PubmedArticle/>"),
	}
	_, err := recs.InsertIfAbsent(ctx, in)
	require.NoError(t, err)
	_, err = recs.InsertIfAbsent(ctx, types.Record{ID: "2", Title: "bare"})
	require.NoError(t, err)

	all := collect(t, recs)
	require.Len(t, all, 2)
	assert.Equal(t, "2", all[0].ID, "numeric ids list in numeric order")

	bare := all[0]
	assert.Nil(t, bare.PublicationDate)
	assert.Empty(t, bare.Authors)
	assert.Empty(t, bare.Keywords)

	out := all[1]
	require.NotNil(t, out.PublicationDate)
	assert.True(t, date.Equal(*out.PublicationDate))
	out.PublicationDate = in.PublicationDate
	assert.Equal(t, in, out)
}

func testListRestartable(t *testing.T, reg Registry) {
	ctx := context.Background()
	mustCreate(t, reg, "p")
	recs := mustRecords(t, reg, "p")
	for _, id := range []string{"3", "1", "2"} {
		_, err := recs.InsertIfAbsent(ctx, types.Record{ID: id})
		require.NoError(t, err)
	}

	seq := recs.List(ctx)
	first := 0
	for _, err := range seq {
		require.NoError(t, err)
		first++
	}
	_, err := recs.InsertIfAbsent(ctx, types.Record{ID: "4"})
	require.NoError(t, err)

	var second []string
	for r, err := range seq {
		require.NoError(t, err)
		second = append(second, r.ID)
	}
	assert.Equal(t, 3, first)
	assert.Equal(t, []string{"1", "2", "3", "4"}, second, "a new range replays current contents")
}

func testListEarlyBreak(t *testing.T, reg Registry) {
	ctx := context.Background()
	mustCreate(t, reg, "p")
	recs := mustRecords(t, reg, "p")
	for i := range 5 {
		_, err := recs.InsertIfAbsent(ctx, types.Record{ID: fmt.Sprint(i + 1)})
		require.NoError(t, err)
	}

	for range 3 {
		n := 0
		for _, err := range recs.List(ctx) {
			require.NoError(t, err)
			n++
			if n == 2 {
				break
			}
		}
		assert.Equal(t, 2, n)
	}

	// Breaking out released the rows, so writes still succeed.
	_, err := recs.InsertIfAbsent(ctx, types.Record{ID: "99"})
	require.NoError(t, err)
	count, err := recs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, count)
}

func testProjectsIsolated(t *testing.T, reg Registry) {
	ctx := context.Background()
	mustCreate(t, reg, "a")
	mustCreate(t, reg, "b")
	a := mustRecords(t, reg, "a")
	b := mustRecords(t, reg, "b")

	inserted, err := a.InsertIfAbsent(ctx, types.Record{ID: "1"})
	require.NoError(t, err)
	assert.True(t, inserted)
	inserted, err = b.InsertIfAbsent(ctx, types.Record{ID: "1"})
	require.NoError(t, err)
	assert.True(t, inserted, "the same PMID may live in two projects")

	ok, err := b.Contains(ctx, "1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, a.DeleteAll(ctx))
	n, err := b.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testDeleteAll(t *testing.T, reg Registry) {
	ctx := context.Background()
	mustCreate(t, reg, "p")
	recs := mustRecords(t, reg, "p")
	for _, id := range []string{"1", "2"} {
		_, err := recs.InsertIfAbsent(ctx, types.Record{ID: id})
		require.NoError(t, err)
	}
	require.NoError(t, recs.DeleteAll(ctx))

	n, err := recs.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, collect(t, recs))
}

func testDeleteProjectCascades(t *testing.T, reg Registry) {
	ctx := context.Background()
	p := mustCreate(t, reg, "doomed")
	recs := mustRecords(t, reg, p.ID)
	_, err := recs.InsertIfAbsent(ctx, types.Record{ID: "1"})
	require.NoError(t, err)
	require.NoError(t, reg.AppendHistory(ctx, types.QueryRun{ProjectID: p.ID, Query: "q", Status: types.StatusCompleted}))

	require.NoError(t, reg.DeleteProject(ctx, "doomed"))

	_, err = reg.GetProject(ctx, p.ID)
	assert.ErrorIs(t, err, ErrProjectNotFound)
	assert.ErrorIs(t, reg.DeleteProject(ctx, "doomed"), ErrProjectNotFound)

	// A new project with the same name starts empty.
	mustCreate(t, reg, "doomed")
	fresh := mustRecords(t, reg, "doomed")
	n, err := fresh.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	runs, err := reg.History(ctx, "doomed")
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func testHistory(t *testing.T, reg Registry) {
	ctx := context.Background()
	p := mustCreate(t, reg, "p")
	dr, err := types.ParseDateRange("2020/01/01:2020/12/31")
	require.NoError(t, err)

	first := types.QueryRun{
		ProjectID: "p", Query: "crispr", DateRange: dr, MaxResults: 50, BatchSize: 10,
		Status: types.StatusCompleted, Fetched: 40, DuplicatesSkipped: 10,
		RanAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	second := types.QueryRun{ProjectID: p.ID, Query: "cas9", Status: types.StatusFailed, Errors: 2}
	require.NoError(t, reg.AppendHistory(ctx, first))
	require.NoError(t, reg.AppendHistory(ctx, second))

	assert.ErrorIs(t, reg.AppendHistory(ctx, types.QueryRun{ProjectID: "ghost", Query: "q"}), ErrProjectNotFound)

	runs, err := reg.History(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, p.ID, runs[0].ProjectID, "names resolve to ids")
	assert.Equal(t, "crispr", runs[0].Query)
	require.NotNil(t, runs[0].DateRange)
	assert.Equal(t, "2020/01/01:2020/12/31", runs[0].DateRange.String())
	assert.Equal(t, 40, runs[0].Fetched)
	assert.Equal(t, 10, runs[0].DuplicatesSkipped)
	assert.True(t, first.RanAt.Equal(runs[0].RanAt))
	assert.Equal(t, types.SearchRequest{Query: "crispr", MaxResults: 50, DateRange: runs[0].DateRange, BatchSize: 10}, runs[0].Request())

	assert.Equal(t, "cas9", runs[1].Query)
	assert.Nil(t, runs[1].DateRange)
	assert.Equal(t, types.StatusFailed, runs[1].Status)
	assert.Equal(t, 2, runs[1].Errors)
	assert.False(t, runs[1].RanAt.IsZero(), "missing timestamps are filled in")
}

func testConcurrentInsert(t *testing.T, reg Registry) {
	ctx := context.Background()
	mustCreate(t, reg, "p")

	const workers, records = 8, 25
	var inserted atomic.Int32
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recs, err := reg.Records(ctx, "p")
			if !assert.NoError(t, err) {
				return
			}
			for i := range records {
				ok, err := recs.InsertIfAbsent(ctx, types.Record{ID: fmt.Sprint(i + 1)})
				if !assert.NoError(t, err) {
					return
				}
				if ok {
					inserted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(records), inserted.Load(), "each id wins exactly once")
	recs := mustRecords(t, reg, "p")
	n, err := recs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, records, n)
}
