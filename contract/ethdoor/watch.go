package ethdoor

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/weiihann/smartdoor/contract"
)

type logSubscription struct {
	events chan contract.Event
	errs   chan error
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newLogSubscription() *logSubscription {
	return &logSubscription{
		events: make(chan contract.Event, 64),
		errs:   make(chan error, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (s *logSubscription) Events() <-chan contract.Event { return s.events }

func (s *logSubscription) Err() <-chan error { return s.errs }

func (s *logSubscription) Close() {
	s.once.Do(func() { close(s.quit) })
	<-s.done
}

func (s *logSubscription) deliver(ev contract.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.quit:
		return false
	}
}

func (s *logSubscription) fail(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

// Subscribe streams notifications of the given kinds, or of every kind if
// none are given. WebSocket endpoints push logs; other endpoints are polled
// every PollInterval.
func (d *Door) Subscribe(ctx context.Context, kinds ...contract.EventKind) (contract.Subscription, error) {
	topics, err := eventTopics(d.abi, kinds)
	if err != nil {
		return nil, err
	}

	query := ethereum.FilterQuery{
		Addresses: []common.Address{d.address},
		Topics:    [][]common.Hash{topics},
	}

	s := newLogSubscription()

	if d.watching {
		logs := make(chan types.Log, 64)
		sub, err := d.fetch.SubscribeFilterLogs(ctx, query, logs)
		if err != nil {
			return nil, fmt.Errorf("subscribe logs: %w", err)
		}

		go d.watch(ctx, s, sub, logs)
		return s, nil
	}

	head, err := d.fetch.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("query head: %w", err)
	}

	go d.poll(ctx, s, query, head+1)
	return s, nil
}

func (d *Door) handle(ctx context.Context, s *logSubscription, l types.Log) bool {
	if l.Removed {
		return true
	}

	ev, err := decodeLog(d.abi, l)
	if err != nil {
		d.logger.WarnContext(ctx, "skipping undecodable log", slog.String("error", err.Error()))
		return true
	}

	return s.deliver(ev)
}

func (d *Door) watch(ctx context.Context, s *logSubscription, sub ethereum.Subscription, logs <-chan types.Log) {
	defer close(s.done)
	defer close(s.events)
	defer sub.Unsubscribe()

	for {
		select {
		case l := <-logs:
			if !d.handle(ctx, s, l) {
				return
			}
		case err := <-sub.Err():
			if err != nil {
				s.fail(fmt.Errorf("log subscription: %w", err))
			}
			return
		case <-ctx.Done():
			return
		case <-s.quit:
			return
		}
	}
}

// poll walks the chain from next onwards, one block range per tick.
// Transient RPC failures are logged and retried on the next tick.
func (d *Door) poll(ctx context.Context, s *logSubscription, query ethereum.FilterQuery, next uint64) {
	defer close(s.done)
	defer close(s.events)

	ticker := time.NewTicker(d.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.quit:
			return
		case <-ticker.C:
		}

		head, err := d.fetch.BlockNumber(ctx)
		if err != nil {
			d.logger.WarnContext(ctx, "poll head failed", slog.String("error", err.Error()))
			continue
		}

		if head < next {
			continue
		}

		q := query
		q.FromBlock = new(big.Int).SetUint64(next)
		q.ToBlock = new(big.Int).SetUint64(head)

		logs, err := d.fetch.FilterLogs(ctx, q)
		if err != nil {
			d.logger.WarnContext(ctx, "poll logs failed",
				slog.Uint64("from", next),
				slog.Uint64("to", head),
				slog.String("error", err.Error()),
			)
			continue
		}

		for _, l := range logs {
			if !d.handle(ctx, s, l) {
				return
			}
		}

		next = head + 1
	}
}
