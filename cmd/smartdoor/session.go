package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/weiihann/smartdoor/contract"
	"github.com/weiihann/smartdoor/report"
	"github.com/weiihann/smartdoor/session"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the caller's role, balance, authorizations and accesses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, closeSession, err := a.connect(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer closeSession()

			return a.printSnapshot(cmd.OutOrStdout(), s.Snapshot())
		},
	}
}

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print a fresh snapshot after every relevant contract event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			w := cmd.OutOrStdout()

			var mu sync.Mutex
			show := func(snap session.Snapshot) {
				mu.Lock()
				defer mu.Unlock()
				if err := a.printSnapshot(w, snap); err != nil {
					a.logger.Warn("print snapshot", slog.String("error", err.Error()))
				}
			}

			_, closeSession, err := a.connect(ctx, show)
			if err != nil {
				return err
			}
			defer closeSession()

			<-ctx.Done()

			return nil
		},
	}
}

func (a *app) printSnapshot(w io.Writer, snap session.Snapshot) error {
	if a.outputJSON {
		return report.GenerateJSON(w, snap)
	}

	fmt.Fprintf(w, "Account:  %s (%s)\n", snap.Account, snap.Role)
	if snap.Balance != nil {
		fmt.Fprintf(w, "Balance:  %s MATIC\n", contract.FormatEther(snap.Balance))
	}
	fmt.Fprintf(w, "Updated:  %s\n", snap.RefreshedAt.Format(time.RFC3339))

	if snap.Role == contract.RoleOwner {
		fmt.Fprintf(w, "\n%d authorization(s)\n", len(snap.Authorizations))
		for _, auth := range snap.Authorizations {
			accesses := snap.GuestAccesses[contract.NormalizeAddress(auth.Guest)]
			fmt.Fprintf(w, "  %-42s %-10s %-9s %d access(es)\n",
				auth.Guest, auth.Name, auth.Status, len(accesses))
		}
		fmt.Fprintln(w)

		return nil
	}

	if !snap.Authorization.Exists() {
		fmt.Fprintf(w, "Status:   no authorization requested\n\n")
		return nil
	}

	fmt.Fprintf(w, "Name:     %s\n", snap.Authorization.Name)
	fmt.Fprintf(w, "Status:   %s\n", snap.Authorization.Status)

	accesses := append([]contract.Access(nil), snap.Accesses...)
	sort.Slice(accesses, func(i, j int) bool {
		return accesses[i].Timestamp > accesses[j].Timestamp
	})

	fmt.Fprintf(w, "\n%d access(es)\n", len(accesses))
	for _, acc := range accesses {
		fmt.Fprintf(w, "  %s\n", time.Unix(acc.Timestamp, 0).UTC().Format(time.RFC3339))
	}
	fmt.Fprintln(w)

	return nil
}

// actionSpec maps one CLI verb to a Session action.
type actionSpec struct {
	use   string
	short string
	args  int
	do    func(ctx context.Context, s *session.Session, args []string) error
}

func newActionCmds(a *app) []*cobra.Command {
	specs := []actionSpec{
		{
			use: "request <name>", short: "Ask the owner for an authorization", args: 1,
			do: func(ctx context.Context, s *session.Session, args []string) error {
				return s.RequestAuthorization(ctx, args[0])
			},
		},
		{
			use: "create <name> <guest>", short: "Register a guest as the owner", args: 2,
			do: func(ctx context.Context, s *session.Session, args []string) error {
				return s.CreateAuthorization(ctx, args[0], args[1])
			},
		},
		{
			use: "accept <guest>", short: "Accept a pending authorization", args: 1,
			do: func(ctx context.Context, s *session.Session, args []string) error {
				return s.AcceptAuthorization(ctx, args[0])
			},
		},
		{
			use: "reject <guest>", short: "Reject a pending or accepted authorization", args: 1,
			do: func(ctx context.Context, s *session.Session, args []string) error {
				return s.RejectAuthorization(ctx, args[0])
			},
		},
		{
			use: "access", short: "Open the door with an accepted authorization",
			do: func(ctx context.Context, s *session.Session, _ []string) error {
				return s.AccessDoor(ctx)
			},
		},
		{
			use: "reset", short: "Clear every authorization and access",
			do: func(ctx context.Context, s *session.Session, _ []string) error {
				return s.Reset(ctx)
			},
		},
	}

	cmds := make([]*cobra.Command, 0, len(specs))
	for _, spec := range specs {
		cmds = append(cmds, newActionCmd(a, spec))
	}

	return cmds
}

func newActionCmd(a *app, spec actionSpec) *cobra.Command {
	return &cobra.Command{
		Use:   spec.use,
		Short: spec.short,
		Args:  cobra.ExactArgs(spec.args),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, closeSession, err := a.connect(ctx, nil)
			if err != nil {
				return err
			}
			defer closeSession()

			if err := spec.do(ctx, s, args); err != nil {
				if msg := s.LastError(); msg != "" && msg != err.Error() {
					return fmt.Errorf("%s: %w", msg, err)
				}
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "done")

			return nil
		},
	}
}
