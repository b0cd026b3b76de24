package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/weiihann/smartdoor/bench"
	"github.com/weiihann/smartdoor/contract"
	"github.com/weiihann/smartdoor/plan"
	"github.com/weiihann/smartdoor/report"
)

type evalConfig struct {
	requests int
	methods  []string
	planPath string
	confirm  string
	timeout  time.Duration
	pause    time.Duration
	output   string
	save     bool
	// access restricts the plan to accessDoor.
	access bool
}

func newEvaluateCmd(a *app) *cobra.Command {
	var cfg evalConfig

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Measure the latency of every contract method",
		Long: `Send each method of the plan N times, wait for every request to be
confirmed and report min/mean/max latency per method and per category.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEvaluation(cmd.Context(), a, cmd.OutOrStdout(), cfg)
		},
	}

	addEvalFlags(cmd, &cfg, bench.ConfirmReceipt)

	flags := cmd.Flags()
	flags.StringSliceVar(&cfg.methods, "methods", nil,
		"Only benchmark these methods (e.g. getRole,accessDoor)")
	flags.StringVar(&cfg.planPath, "plan", "",
		"Path to a JSONL plan file (default: every method)")

	return cmd
}

func newEvaluateAccessCmd(a *app) *cobra.Command {
	cfg := evalConfig{access: true}

	cmd := &cobra.Command{
		Use:   "evaluate-access",
		Short: "Measure door access latency up to its notification",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEvaluation(cmd.Context(), a, cmd.OutOrStdout(), cfg)
		},
	}

	addEvalFlags(cmd, &cfg, bench.ConfirmEvent)

	return cmd
}

func addEvalFlags(cmd *cobra.Command, cfg *evalConfig, confirm bench.Confirm) {
	flags := cmd.Flags()
	flags.IntVar(&cfg.requests, "requests", 0,
		"Requests per method (default: requests from config)")
	flags.StringVar(&cfg.confirm, "confirm", string(confirm),
		"Confirmation mode: receipt, event")
	flags.DurationVar(&cfg.timeout, "timeout", 0,
		"Per-method time limit (default: timeout from config)")
	flags.DurationVar(&cfg.pause, "pause", 0,
		"Delay between consecutive requests")
	flags.StringVar(&cfg.output, "output", "",
		"Also write the JSON report to this file")
	flags.BoolVar(&cfg.save, "save", false,
		"Record the run in the history store")
}

func runEvaluation(ctx context.Context, a *app, w io.Writer, cfg evalConfig) error {
	confirm, err := bench.ParseConfirm(cfg.confirm)
	if err != nil {
		return err
	}

	b, err := a.openDoor(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	if err := contract.EnsureChain(ctx, b.door, a.cfg.ChainID); err != nil {
		return err
	}

	p, err := loadPlan(cfg, b.door.Account())
	if err != nil {
		return err
	}

	requests := cfg.requests
	if requests <= 0 {
		requests = a.cfg.Requests
	}

	timeout := cfg.timeout
	if timeout <= 0 {
		timeout = a.cfg.Timeout
	}

	runner := bench.NewRunner(b.door, bench.Config{
		Requests:     requests,
		Confirm:      confirm,
		Opts:         a.cfg.TxOpts(),
		Timeout:      timeout,
		PollInterval: a.cfg.PollInterval,
		Pause:        cfg.pause,
		Prepare:      b.prepare,
		Backend:      b.name,
	}, a.logger)

	rep, runErr := runner.Run(ctx, p)
	if rep == nil {
		return runErr
	}

	if err := writeReport(w, a.outputJSON, rep); err != nil {
		return err
	}

	if cfg.output != "" {
		if err := writeReportFile(cfg.output, rep); err != nil {
			return err
		}
		a.logger.InfoContext(ctx, "report written", slog.String("path", cfg.output))
	}

	if cfg.save {
		// Saving must succeed even after an interrupt.
		if err := saveRun(context.WithoutCancel(ctx), a, rep); err != nil {
			return err
		}
	}

	return runErr
}

func loadPlan(cfg evalConfig, account string) (plan.Plan, error) {
	if cfg.access {
		return plan.Access(), nil
	}

	p := plan.Default(account)

	if cfg.planPath != "" {
		f, err := os.Open(cfg.planPath)
		if err != nil {
			return plan.Plan{}, fmt.Errorf("open plan: %w", err)
		}
		defer f.Close()

		if p, err = plan.Parse(f); err != nil {
			return plan.Plan{}, fmt.Errorf("parse plan: %w", err)
		}
	}

	if len(cfg.methods) > 0 {
		return p.Filter(cfg.methods)
	}

	return p, nil
}

func writeReport(w io.Writer, asJSON bool, rep *bench.Report) error {
	if asJSON {
		if err := report.GenerateJSON(w, rep); err != nil {
			return fmt.Errorf("generate JSON report: %w", err)
		}
		return nil
	}

	if err := report.Generate(w, rep); err != nil {
		return fmt.Errorf("generate report: %w", err)
	}

	return nil
}

func writeReportFile(path string, rep *bench.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}

	if err := report.GenerateJSON(f, rep); err != nil {
		f.Close()
		return fmt.Errorf("write report file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close report file: %w", err)
	}

	return nil
}

func saveRun(ctx context.Context, a *app, rep *bench.Report) error {
	runs, closeRuns, err := a.openRuns(ctx)
	if err != nil {
		return err
	}
	defer closeRuns()

	if err := runs.Save(ctx, rep); err != nil {
		return fmt.Errorf("save run: %w", err)
	}

	a.logger.InfoContext(ctx, "run saved", slog.String("run", rep.ID.String()))

	return nil
}

func newEstimateGasCmd(a *app) *cobra.Command {
	var planPath string

	cmd := &cobra.Command{
		Use:   "estimate-gas",
		Short: "Estimate the gas of every method in the plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			b, err := a.openDoor(ctx)
			if err != nil {
				return err
			}
			defer b.close()

			p, err := loadPlan(evalConfig{planPath: planPath}, b.door.Account())
			if err != nil {
				return err
			}

			runner := bench.NewRunner(b.door, bench.Config{Backend: b.name}, a.logger)
			estimates := runner.EstimateAll(ctx, p)

			if a.outputJSON {
				return report.GenerateJSON(cmd.OutOrStdout(), estimates)
			}

			return report.GenerateGas(cmd.OutOrStdout(), estimates)
		},
	}

	cmd.Flags().StringVar(&planPath, "plan", "",
		"Path to a JSONL plan file (default: every method)")

	return cmd
}
