// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/pms/pkg/types"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Create, inspect, and remove projects",
	Long: `A project is a named record set. Searches ingest into a project and
exports read from one. Projects are addressed by id or by name.`,
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectCreate,
}

func runProjectCreate(cmd *cobra.Command, args []string) error {
	desc, _ := cmd.Flags().GetString("description")
	id, _ := cmd.Flags().GetString("id")

	reg, err := openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	p, err := reg.CreateProject(context.Background(), types.Project{ID: id, Name: args[0], Description: desc})
	if err != nil {
		return err
	}
	fmt.Printf("Created project %s (%s)\n", p.Name, p.ID)
	return nil
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects with their record counts",
	Args:  cobra.NoArgs,
	RunE:  runProjectList,
}

func runProjectList(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	reg, err := openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	ctx := context.Background()
	projects, err := reg.ListProjects(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(os.Stdout, projects)
	}
	if len(projects) == 0 {
		fmt.Println("No projects.")
		return nil
	}

	fmt.Fprintf(os.Stdout, "%-36s  %-24s  %8s  %s\n", "ID", "Name", "Records", "Created")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 90))
	for _, p := range projects {
		recs, err := reg.Records(ctx, p.ID)
		if err != nil {
			return err
		}
		n, err := recs.Count(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%-36s  %-24s  %8d  %s\n",
			p.ID, truncate(p.Name, 24), n, p.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

var projectShowCmd = &cobra.Command{
	Use:   "show <project>",
	Short: "Show a project's details and its latest search",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectShow,
}

func runProjectShow(cmd *cobra.Command, args []string) error {
	reg, err := openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	ctx := context.Background()
	p, err := reg.GetProject(ctx, args[0])
	if err != nil {
		return err
	}
	recs, err := reg.Records(ctx, p.ID)
	if err != nil {
		return err
	}
	n, err := recs.Count(ctx)
	if err != nil {
		return err
	}
	runs, err := reg.History(ctx, p.ID)
	if err != nil {
		return err
	}

	fmt.Printf("ID:          %s\n", p.ID)
	fmt.Printf("Name:        %s\n", p.Name)
	if p.Description != "" {
		fmt.Printf("Description: %s\n", p.Description)
	}
	fmt.Printf("Created:     %s\n", p.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("Records:     %d\n", n)
	fmt.Printf("Searches:    %d\n", len(runs))
	if len(runs) > 0 {
		last := runs[len(runs)-1]
		fmt.Printf("Last search: %q (%s, %s)\n", last.Query, last.Status, last.RanAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

var projectRemoveCmd = &cobra.Command{
	Use:   "remove <project>",
	Short: "Delete a project with all its records and history",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectRemove,
}

func runProjectRemove(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")

	reg, err := openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	ctx := context.Background()
	p, err := reg.GetProject(ctx, args[0])
	if err != nil {
		return err
	}
	if !force && !confirm(cmd.InOrStdin(), fmt.Sprintf("Delete project %s and all its records? [y/N] ", p.Name)) {
		fmt.Println("Aborted.")
		return nil
	}
	if err := reg.DeleteProject(ctx, p.ID); err != nil {
		return err
	}
	fmt.Printf("Removed project %s\n", p.Name)
	return nil
}

var projectHistoryCmd = &cobra.Command{
	Use:   "history <project>",
	Short: "List the searches run against a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectHistory,
}

func runProjectHistory(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	reg, err := openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	runs, err := reg.History(context.Background(), args[0])
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(os.Stdout, runs)
	}
	if len(runs) == 0 {
		fmt.Println("No searches yet.")
		return nil
	}

	fmt.Fprintf(os.Stdout, "%-16s  %-10s  %7s  %7s  %6s  %s\n", "Ran", "Status", "Fetched", "Skipped", "Errors", "Query")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 90))
	for _, r := range runs {
		query := r.Query
		if r.DateRange != nil {
			query += " [" + r.DateRange.String() + "]"
		}
		fmt.Fprintf(os.Stdout, "%-16s  %-10s  %7d  %7d  %6d  %s\n",
			r.RanAt.Local().Format("2006-01-02 15:04"), r.Status, r.Fetched, r.DuplicatesSkipped, r.Errors, truncate(query, 40))
	}
	return nil
}

// confirm asks a yes/no question on stderr and reads the answer from in.
func confirm(in io.Reader, prompt string) bool {
	fmt.Fprint(os.Stderr, prompt)
	line, _ := bufio.NewReader(in).ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	projectCreateCmd.Flags().String("description", "", "free-text description")
	projectCreateCmd.Flags().String("id", "", "explicit project id (default: generated UUID)")
	projectListCmd.Flags().Bool("json", false, "output as JSON")
	projectRemoveCmd.Flags().Bool("force", false, "skip the confirmation prompt")
	projectHistoryCmd.Flags().Bool("json", false, "output as JSON")

	projectCmd.AddCommand(projectCreateCmd, projectListCmd, projectShowCmd, projectRemoveCmd, projectHistoryCmd)
	rootCmd.AddCommand(projectCmd)
}
