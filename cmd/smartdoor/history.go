package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/weiihann/smartdoor/bench"
	"github.com/weiihann/smartdoor/report"
)

func newRunsCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded benchmark runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			runs, closeRuns, err := a.openRuns(ctx)
			if err != nil {
				return err
			}
			defer closeRuns()

			list, err := runs.List(ctx, limit)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}

			if a.outputJSON {
				return report.GenerateJSON(cmd.OutOrStdout(), list)
			}

			return report.GenerateRuns(cmd.OutOrStdout(), list)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0,
		"Maximum runs to list (default: 20)")

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show the full report of a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parse run id: %w", err)
			}

			runs, closeRuns, err := a.openRuns(ctx)
			if err != nil {
				return err
			}
			defer closeRuns()

			rep, err := runs.Get(ctx, id)
			if err != nil {
				return fmt.Errorf("get run: %w", err)
			}

			return writeReport(cmd.OutOrStdout(), a.outputJSON, rep)
		},
	})

	return cmd
}

func newReportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "report <file>",
		Short: "Render a JSON report written by evaluate --output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open report: %w", err)
			}
			defer f.Close()

			rep, err := bench.ParseReport(f)
			if err != nil {
				return fmt.Errorf("parse report: %w", err)
			}

			return writeReport(cmd.OutOrStdout(), a.outputJSON, rep)
		},
	}
}
