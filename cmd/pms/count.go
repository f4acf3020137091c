// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var countCmd = &cobra.Command{
	Use:   "count <project>",
	Short: "Print the number of records stored in a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry()
		if err != nil {
			return err
		}
		defer reg.Close()

		ctx := context.Background()
		recs, err := reg.Records(ctx, args[0])
		if err != nil {
			return err
		}
		n, err := recs.Count(ctx)
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(countCmd)
}
