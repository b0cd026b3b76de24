package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/weiihann/smartdoor/contract"
	"github.com/weiihann/smartdoor/door"
)

func newDoorCmd(a *app) *cobra.Command {
	var (
		hold  time.Duration
		guest string
	)

	cmd := &cobra.Command{
		Use:   "door",
		Short: "Open the lock for every confirmed access",
		Long: `Listen for newAccess notifications and, for each one, engage the lock,
hold it open and release it. The lock is driven by the door.engage and
door.release commands from config, or only logged when they are unset.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			if hold <= 0 {
				hold = a.cfg.Door.Hold
			}
			if guest == "" {
				guest = a.cfg.Door.Guest
			}
			if guest != "" {
				if err := contract.ValidateAddress(guest); err != nil {
					return fmt.Errorf("--guest: %w", err)
				}
			}

			b, err := a.openDoor(ctx)
			if err != nil {
				return err
			}
			defer b.close()

			logger := a.logger.With(slog.String("component", "door"))

			ctrl := &door.Controller{
				Notifier: b.door,
				Actuator: a.actuator(logger),
				Hold:     hold,
				Guest:    guest,
				Logger:   logger,
				Opened: func(ev contract.Event) {
					fmt.Fprintf(cmd.OutOrStdout(), "%s opened for %s (block %d)\n",
						time.Now().Format(time.RFC3339), ev.Subject, ev.Block)
				},
			}

			return ctrl.Run(ctx)
		},
	}

	flags := cmd.Flags()
	flags.DurationVar(&hold, "hold", 0,
		"How long the lock stays open (default: door.hold from config)")
	flags.StringVar(&guest, "guest", "",
		"Only open for this guest (default: door.guest from config)")

	return cmd
}

func (a *app) actuator(logger *slog.Logger) door.Actuator {
	engage := door.ParseCommand(a.cfg.Door.Engage)
	release := door.ParseCommand(a.cfg.Door.Release)

	if engage.Binary == "" && release.Binary == "" {
		return door.LogActuator{Logger: logger}
	}

	return door.CommandActuator{EngageCmd: engage, ReleaseCmd: release, Logger: logger}
}
