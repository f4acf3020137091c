// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/pms/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export <project> <output>",
	Short: "Write a project's records to a file",
	Long: `Export writes every record of a project to <output> ("-" for stdout).
The format defaults to the output file extension and can be forced with
--format: jsonl, json, csv, csl (CSL-YAML for citation tools), or xml (the
original PubMed XML).

With --s3-bucket (or export.s3.bucket configured) the written file is also
uploaded under export.s3.prefix.`,
	Args: cobra.ExactArgs(2),
	RunE: runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	project, output := args[0], args[1]

	format, err := exportFormat(cmd, output)
	if err != nil {
		return err
	}
	s3cfg := cfg.Export.S3
	if b, _ := cmd.Flags().GetString("s3-bucket"); b != "" {
		s3cfg.Bucket = b
	}
	if s3cfg.Bucket != "" && output == "-" {
		return fmt.Errorf("uploading to S3 requires an output file, not stdout")
	}

	reg, err := openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	ctx := context.Background()
	recs, err := reg.Records(ctx, project)
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if output != "-" {
		if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("creating %s: %w", output, err)
		}
		defer f.Close()
		w = f
	}

	n, err := export.Write(w, format, recs.List(ctx))
	if err != nil {
		return fmt.Errorf("exporting %s: %w", project, err)
	}
	if output == "-" {
		return nil
	}
	fmt.Fprintf(os.Stderr, "Exported %d records to %s\n", n, output)

	if s3cfg.Bucket == "" {
		return nil
	}
	sink, err := export.NewS3Sink(ctx, s3cfg)
	if err != nil {
		return err
	}
	f, err := os.Open(output)
	if err != nil {
		return err
	}
	defer f.Close()
	url, err := sink.Upload(ctx, filepath.Base(output), f, format.ContentType())
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Uploaded to %s\n", url)
	return nil
}

// exportFormat takes --format when given, else the output extension, else
// jsonl.
func exportFormat(cmd *cobra.Command, output string) (export.Format, error) {
	if cmd.Flags().Changed("format") {
		s, _ := cmd.Flags().GetString("format")
		return export.ParseFormat(s)
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(output)), ".")
	switch ext {
	case "yaml", "yml":
		return export.FormatCSL, nil
	case "":
		return export.FormatJSONL, nil
	}
	if f, err := export.ParseFormat(ext); err == nil {
		return f, nil
	}
	return export.FormatJSONL, nil
}

func init() {
	exportCmd.Flags().String("format", "jsonl", "output format: jsonl, json, csv, csl, xml")
	exportCmd.Flags().String("s3-bucket", "", "also upload the export to this S3 bucket")

	rootCmd.AddCommand(exportCmd)
}
