package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/weiihann/smartdoor/bench"
	"github.com/weiihann/smartdoor/contract"
	"github.com/weiihann/smartdoor/contract/ethdoor"
	"github.com/weiihann/smartdoor/contract/memdoor"
	"github.com/weiihann/smartdoor/session"
	"github.com/weiihann/smartdoor/store"
)

// demoAccount owns the in-memory contract when no account is configured.
const demoAccount = "0x000000000000000000000000000000000000dEaD"

const (
	backendSimulated = "memdoor"
	backendChain     = "ethdoor"
)

// backend is an open contract connection and how to release it.
type backend struct {
	door  contract.Door
	name  string
	close func()
	// prepare is set for the simulated contract, which is staged before
	// each benchmarked request so a single account can issue every call.
	prepare bench.PrepareFunc
}

func (a *app) openDoor(ctx context.Context) (*backend, error) {
	if a.simulate {
		account, err := a.cfg.Account()
		if err != nil {
			account = demoAccount
		}

		c := memdoor.New(account,
			memdoor.WithLatency(a.latency),
			memdoor.WithChainID(a.cfg.ChainID),
		)

		a.logger.InfoContext(ctx, "using simulated contract",
			slog.String("owner", c.Owner()),
			slog.Duration("latency", a.latency),
		)

		return &backend{
			door:  c.As(account),
			name:  backendSimulated,
			close: func() {},
			prepare: func(_ context.Context, call contract.Call) error {
				c.Stage(account, call)
				return nil
			},
		}, nil
	}

	if err := a.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	d, err := ethdoor.Dial(ctx, ethdoor.Config{
		SendURL:         a.cfg.SendURL,
		FetchURL:        a.cfg.FetchURL,
		ContractAddress: a.cfg.ContractAddress,
		PrivateKey:      a.cfg.PrivateKey,
		Account:         a.cfg.UserAddress,
		ABIPath:         a.cfg.ABIPath,
		PollInterval:    a.cfg.LogPollInterval,
		Logger:          a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("dial contract: %w", err)
	}

	return &backend{door: d, name: backendChain, close: d.Close}, nil
}

// connect opens the door and a synced session over it. The returned
// function closes both.
func (a *app) connect(ctx context.Context, onRefresh func(session.Snapshot)) (*session.Session, func(), error) {
	b, err := a.openDoor(ctx)
	if err != nil {
		return nil, nil, err
	}

	s := session.New(b.door, session.Options{
		Logger:          a.logger,
		ExpectedChainID: a.cfg.ChainID,
		Opts:            a.cfg.TxOpts(),
		OnRefresh:       onRefresh,
	})

	if err := s.Connect(ctx); err != nil {
		b.close()
		if msg := s.LastError(); msg != "" && msg != err.Error() {
			return nil, nil, fmt.Errorf("%s: %w", msg, err)
		}
		return nil, nil, err
	}

	return s, func() {
		s.Close()
		b.close()
	}, nil
}

// openRuns opens the run history store. The returned function closes it.
func (a *app) openRuns(ctx context.Context) (*store.Runs, func(), error) {
	db, err := store.Open(ctx, store.Config{Path: a.cfg.DBPath})
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	return store.NewRuns(db), func() { closeDB(a.logger, db) }, nil
}

func closeDB(logger *slog.Logger, db *sql.DB) {
	if err := db.Close(); err != nil {
		logger.Warn("close store", slog.String("error", err.Error()))
	}
}
