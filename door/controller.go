package door

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/weiihann/smartdoor/contract"
)

// DefaultHold is how long the lock stays open after an access.
const DefaultHold = 10 * time.Second

// Controller opens the lock for every confirmed access, one at a time.
type Controller struct {
	Notifier contract.Notifier
	Actuator Actuator
	Hold     time.Duration
	// Guest, when set, restricts the controller to one guest's accesses.
	Guest  string
	Logger *slog.Logger
	// Opened is called after each completed open/hold/close cycle.
	Opened func(contract.Event)
}

// Run listens for accesses until ctx ends. It returns nil on
// cancellation and the subscription's error if the stream fails.
func (c *Controller) Run(ctx context.Context) error {
	hold := c.Hold
	if hold <= 0 {
		hold = DefaultHold
	}

	logger := c.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	sub, err := c.Notifier.Subscribe(ctx, contract.EventAccess)
	if err != nil {
		return fmt.Errorf("subscribe accesses: %w", err)
	}
	defer sub.Close()

	logger.InfoContext(ctx, "waiting for accesses", slog.Duration("hold", hold))

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-sub.Err():
			if err != nil {
				return fmt.Errorf("access stream: %w", err)
			}
			return nil

		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}

			if c.Guest != "" && !contract.SameAccount(ev.Subject, c.Guest) {
				logger.DebugContext(ctx, "ignoring access", slog.String("guest", ev.Subject))
				continue
			}

			if err := c.open(ctx, ev, hold, logger); err != nil {
				return err
			}
		}
	}
}

func (c *Controller) open(ctx context.Context, ev contract.Event, hold time.Duration, logger *slog.Logger) error {
	logger.InfoContext(ctx, "opening door",
		slog.String("guest", ev.Subject),
		slog.String("tx", ev.TxHash),
	)

	if err := c.Actuator.Engage(ctx); err != nil {
		return err
	}

	timer := time.NewTimer(hold)
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	timer.Stop()

	// Release even when ctx is done so the lock never stays open.
	if err := c.Actuator.Release(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	if c.Opened != nil {
		c.Opened(ev)
	}

	return nil
}
