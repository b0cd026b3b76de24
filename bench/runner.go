// Package bench measures SmartDoor call latencies. Each method of a plan
// is issued a fixed number of times, one request at a time, and every
// answered request yields a sample.
package bench

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/weiihann/smartdoor/contract"
	"github.com/weiihann/smartdoor/plan"
	"github.com/weiihann/smartdoor/stats"
)

// Defaults applied by NewRunner to zero Config fields.
const (
	DefaultRequests = 25
	DefaultTimeout  = 2 * time.Minute
)

// Config holds parameters for a benchmark run.
type Config struct {
	Requests int
	Confirm  Confirm
	Opts     contract.TxOpts
	// Timeout bounds each method's batch.
	Timeout      time.Duration
	PollInterval time.Duration
	// Pause is slept between consecutive requests.
	Pause time.Duration
	// Prepare, when set, runs before every request and outside its
	// measured interval. An error fails the request without sending it.
	Prepare PrepareFunc
	Backend string
	Now     func() time.Time
}

// PrepareFunc readies the contract for one request of call.
type PrepareFunc func(ctx context.Context, call contract.Call) error

// Runner drives a plan against one caller-bound door.
type Runner struct {
	door   contract.Door
	cfg    Config
	logger *slog.Logger
}

// NewRunner creates a Runner issuing calls as door's account.
func NewRunner(door contract.Door, cfg Config, logger *slog.Logger) *Runner {
	if cfg.Requests <= 0 {
		cfg.Requests = DefaultRequests
	}
	if cfg.Confirm == "" {
		cfg.Confirm = ConfirmReceipt
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultWaitInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Runner{
		door: door,
		cfg:  cfg,
		logger: logger.With(
			slog.String("account", door.Account()),
			slog.String("confirm", string(cfg.Confirm)),
		),
	}
}

// Run benchmarks every step of p in order. Failed and timed-out batches
// are recorded and the run moves on; only cancellation of ctx stops it
// early, in which case the partial report is returned with the error.
func (r *Runner) Run(ctx context.Context, p plan.Plan) (*Report, error) {
	report := &Report{
		ID:        uuid.New(),
		StartedAt: r.cfg.Now(),
		Backend:   r.cfg.Backend,
		Account:   r.door.Account(),
		Confirm:   r.cfg.Confirm,
		Requests:  r.cfg.Requests,
	}

	r.logger.InfoContext(ctx, "starting benchmark",
		slog.String("run", report.ID.String()),
		slog.Int("methods", len(p.Steps)),
		slog.Int("requests", r.cfg.Requests),
	)

	var runErr error

	for _, step := range p.Steps {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		report.Results = append(report.Results, r.runStep(ctx, step.Call))
	}

	report.FinishedAt = r.cfg.Now()
	report.Summarize()

	r.logger.InfoContext(ctx, "benchmark finished",
		slog.String("run", report.ID.String()),
		slog.Duration("wall_time", report.FinishedAt.Sub(report.StartedAt)),
		slog.String("mean", report.Totals.All.FormatMean()),
	)

	return report, runErr
}

func (r *Runner) runStep(ctx context.Context, call contract.Call) Result {
	spec := call.Method.Spec()
	res := Result{
		Method:     call.Method.String(),
		Mutability: spec.Mutability.String(),
		Requests:   r.cfg.Requests,
	}

	logger := r.logger.With(slog.String("method", res.Method))

	stepCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	corr := NewCorrelator(r.cfg.Now)
	defer corr.Close()

	byEvent := spec.Mutability == contract.Write && r.cfg.Confirm == ConfirmEvent
	if byEvent {
		stop, err := r.listen(stepCtx, spec.Event, corr, logger)
		if err != nil {
			logger.WarnContext(ctx, "subscribe failed", slog.String("error", err.Error()))
			res.Failures = res.Requests
			return res
		}
		defer stop()
	}

	logger.InfoContext(ctx, "starting batch", slog.Int("requests", r.cfg.Requests))

	key := KeyFor(call, r.door.Account())

	for i := range r.cfg.Requests {
		if stepCtx.Err() != nil {
			res.TimedOut = true
			break
		}

		err := r.prepare(stepCtx, call)
		if err == nil {
			t := corr.Begin(key)
			if err = r.issue(stepCtx, call, byEvent, corr, t); err != nil {
				corr.Abort(t)
			}
		}

		if err != nil {
			if stepCtx.Err() != nil && ctx.Err() == nil {
				res.TimedOut = true
				break
			}

			res.Failures++
			logger.WarnContext(ctx, "request failed",
				slog.Int("request", i),
				slog.String("error", err.Error()),
			)
		}

		if r.cfg.Pause > 0 {
			select {
			case <-stepCtx.Done():
			case <-time.After(r.cfg.Pause):
			}
		}
	}

	if byEvent && !res.TimedOut {
		if err := corr.Wait(stepCtx, r.cfg.PollInterval); errors.Is(err, ErrTimedOut) {
			res.TimedOut = true
		}
	}

	corr.Close()

	res.Samples = corr.Samples()
	res.Summary = stats.Summarize(Elapsed(res.Samples))

	if n := corr.Inverted(); n > 0 {
		logger.WarnContext(ctx, "answers stamped before their request",
			slog.Int("samples", n),
		)
	}

	if res.TimedOut {
		logger.WarnContext(ctx, "batch timed out",
			slog.Int("answered", len(res.Samples)),
			slog.Duration("timeout", r.cfg.Timeout),
		)
	}

	logger.InfoContext(ctx, "batch finished",
		slog.Int("samples", len(res.Samples)),
		slog.Int("failures", res.Failures),
		slog.String("mean", res.Summary.FormatMean()),
	)

	return res
}

func (r *Runner) prepare(ctx context.Context, call contract.Call) error {
	if r.cfg.Prepare == nil {
		return nil
	}

	if err := r.cfg.Prepare(ctx, call); err != nil {
		return fmt.Errorf("prepare: %w", err)
	}

	return nil
}

// issue sends one request. Reads and receipt-confirmed writes complete t
// here; event-confirmed writes are completed by the listener.
func (r *Runner) issue(ctx context.Context, call contract.Call, byEvent bool, corr *Correlator, t Ticket) error {
	tx, err := contract.Dispatch(ctx, r.door, call, r.cfg.Opts)
	if err != nil {
		return err
	}

	if tx == nil {
		corr.Complete(t)
		return nil
	}

	if err := tx.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w", tx.Hash(), err)
	}

	if !byEvent {
		corr.Complete(t)
	}

	return nil
}

// listen feeds notifications of kind into corr until the returned stop
// function is called.
func (r *Runner) listen(ctx context.Context, kind contract.EventKind, corr *Correlator, logger *slog.Logger) (func(), error) {
	sub, err := r.door.Subscribe(ctx, kind)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})

	go func() {
		defer close(done)

		for {
			select {
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				if !corr.Observe(Key{Kind: ev.Kind, Subject: ev.Subject}) {
					logger.DebugContext(ctx, "discarding unmatched notification",
						slog.String("subject", ev.Subject),
						slog.String("tx", ev.TxHash),
					)
				}
			case err := <-sub.Err():
				if err != nil {
					logger.WarnContext(ctx, "subscription failed", slog.String("error", err.Error()))
				}
				return
			}
		}
	}()

	return func() {
		sub.Close()
		<-done
	}, nil
}

// EstimateAll estimates the gas of every step of p. Failures are recorded
// in the estimate and logged.
func (r *Runner) EstimateAll(ctx context.Context, p plan.Plan) []GasEstimate {
	out := make([]GasEstimate, 0, len(p.Steps))

	for _, step := range p.Steps {
		call := step.Call
		est := GasEstimate{
			Method:     call.Method.String(),
			Mutability: call.Method.Spec().Mutability.String(),
		}

		gas, err := r.door.EstimateGas(ctx, call)
		if err != nil {
			est.Err = err.Error()
			r.logger.WarnContext(ctx, "gas estimation failed",
				slog.String("method", est.Method),
				slog.String("error", err.Error()),
			)
		} else {
			est.Gas = gas
		}

		out = append(out, est)
	}

	return out
}
