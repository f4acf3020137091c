// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/pdiddy/pms/internal/metrics"
	"github.com/pdiddy/pms/internal/search"
	"github.com/pdiddy/pms/pkg/types"
)

var searchCmd = &cobra.Command{
	Use:   "search <project> [query]",
	Short: "Search PubMed and ingest new records into a project",
	Long: `Search pages through the PubMed ids matching the query, skips ids the
project already holds, fetches the rest in batches, and stores them.

The query is passed to PubMed unchanged, so field tags and boolean
operators work as on the PubMed website. --max-results bounds fetched plus
skipped records (0 means no bound). Failed batches are retried with
exponential backoff; batches that still fail are listed at the end while
the rest of the run continues.

Use --save to write the request and its summary to a YAML file and --from
to replay such a file.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	req, err := searchRequestFromFlags(cmd, args)
	if err != nil {
		return err
	}
	project := args[0]

	reg, err := openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	promReg := prometheus.NewRegistry()
	o, err := newOrchestrator(reg, promReg)
	if err != nil {
		return err
	}
	o.Progress = os.Stderr

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, runErr := o.Run(ctx, project, req)
	if errors.Is(runErr, search.ErrInvalidRequest) {
		return runErr
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	if jsonOutput {
		if err := writeJSON(os.Stdout, res); err != nil {
			return err
		}
	} else if runErr == nil || res.Status != "" {
		printSearchResult(os.Stdout, res)
		if recs, err := reg.Records(context.Background(), project); err == nil {
			if n, err := recs.Count(context.Background()); err == nil {
				fmt.Printf("Records in project:  %d\n", n)
			}
		}
	}

	if path, _ := cmd.Flags().GetString("save"); path != "" && res.Status != "" {
		if err := search.WriteQueryFile(path, search.NewQueryFile(project, req, &res)); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Saved query to %s\n", path)
	}
	if path, _ := cmd.Flags().GetString("metrics-file"); path != "" {
		if err := metrics.WriteTextfile(promReg, path); err != nil {
			return err
		}
	}

	switch {
	case runErr == nil:
		return nil
	case errors.Is(runErr, search.ErrAborted):
		return &exitError{code: 2, err: runErr}
	default:
		return runErr
	}
}

// searchRequestFromFlags builds the request from --from or from the query
// argument, then applies flags and configured defaults.
func searchRequestFromFlags(cmd *cobra.Command, args []string) (types.SearchRequest, error) {
	var req types.SearchRequest
	from, _ := cmd.Flags().GetString("from")
	switch {
	case from != "":
		qf, err := search.ReadQueryFile(from)
		if err != nil {
			return req, err
		}
		req, err = qf.Request.ToRequest()
		if err != nil {
			return req, fmt.Errorf("query file %s: %w", from, err)
		}
		if len(args) == 2 {
			req.Query = args[1]
		}
	case len(args) == 2:
		req = types.SearchRequest{
			Query:      args[1],
			MaxResults: cfg.Search.MaxResults,
			BatchSize:  cfg.Search.BatchSize,
		}
	default:
		return req, fmt.Errorf("a query argument or --from is required")
	}

	if cmd.Flags().Changed("max-results") {
		req.MaxResults, _ = cmd.Flags().GetInt("max-results")
	}
	if cmd.Flags().Changed("batch-size") {
		req.BatchSize, _ = cmd.Flags().GetInt("batch-size")
	}
	if req.BatchSize == 0 {
		req.BatchSize = cfg.Search.BatchSize
	}
	if cmd.Flags().Changed("date-range") {
		s, _ := cmd.Flags().GetString("date-range")
		dr, err := types.ParseDateRange(s)
		if err != nil {
			return req, err
		}
		req.DateRange = dr
	}
	return req, nil
}

func printSearchResult(w io.Writer, res types.SearchResult) {
	fmt.Fprintf(w, "Status:              %s\n", res.Status)
	fmt.Fprintf(w, "Matching in PubMed:  %d\n", res.TotalAvailable)
	fmt.Fprintf(w, "Fetched:             %d\n", res.Fetched)
	fmt.Fprintf(w, "Already in project:  %d\n", res.DuplicatesSkipped)
	if len(res.Missing) > 0 {
		fmt.Fprintf(w, "Not returned:        %d\n", len(res.Missing))
	}
	if len(res.Errors) > 0 {
		fmt.Fprintf(w, "\n%d batch(es) failed:\n", len(res.Errors))
		for _, e := range res.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
}

func init() {
	searchCmd.Flags().Int("max-results", 0, "bound on fetched plus skipped records, 0 for none (default from search.max_results)")
	searchCmd.Flags().Int("batch-size", 0, "ids per search page and fetch batch, 1-200 (default from search.batch_size)")
	searchCmd.Flags().String("date-range", "", "publication date range YYYY/MM/DD:YYYY/MM/DD, either end may be empty")
	searchCmd.Flags().String("save", "", "write the request and its summary to this YAML file")
	searchCmd.Flags().String("from", "", "replay a saved query file")
	searchCmd.Flags().String("metrics-file", "", "write Prometheus metrics for the run to this file")
	searchCmd.Flags().Bool("json", false, "print the summary as JSON")

	rootCmd.AddCommand(searchCmd)
}
