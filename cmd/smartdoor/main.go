// Package main provides the CLI entry point for smartdoor, a toolkit for
// benchmarking and operating the SmartDoor access-control contract.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/weiihann/smartdoor/config"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	root := newRootCmd(&app{logger: logger, level: level})
	err := root.ExecuteContext(ctx)
	stop()

	if err != nil {
		logger.Error("command failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// app carries the root flags and the loaded configuration to every
// subcommand.
type app struct {
	logger *slog.Logger
	level  *slog.LevelVar

	configPath string
	logLevel   string
	simulate   bool
	latency    time.Duration
	outputJSON bool

	cfg *config.Config
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "smartdoor",
		Short: "Benchmark and operate the SmartDoor access-control contract",
		Long: `Smartdoor talks to a deployed SmartDoor contract: it measures the
latency of every contract method, estimates gas, performs guest and owner
actions, watches the contract for changes and drives a physical lock from
confirmed accesses.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.load()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "",
		"Config file (default: ./smartdoor.yaml or $HOME/.smartdoor/smartdoor.yaml)")
	flags.StringVar(&a.logLevel, "log-level", "info",
		"Log level: debug, info, warn, error")
	flags.BoolVar(&a.simulate, "simulate", false,
		"Use an in-memory contract owned by the configured account")
	flags.DurationVar(&a.latency, "simulate-latency", 0,
		"Mining delay of the in-memory contract")
	flags.BoolVar(&a.outputJSON, "json", false,
		"Output results as JSON instead of text")

	root.AddCommand(
		newEvaluateCmd(a),
		newEvaluateAccessCmd(a),
		newEstimateGasCmd(a),
		newRunsCmd(a),
		newReportCmd(a),
		newStatusCmd(a),
		newWatchCmd(a),
		newDoorCmd(a),
	)
	root.AddCommand(newActionCmds(a)...)

	return root
}

func (a *app) load() error {
	if err := a.level.UnmarshalText([]byte(a.logLevel)); err != nil {
		return fmt.Errorf("parse --log-level: %w", err)
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	a.cfg = cfg

	return nil
}
