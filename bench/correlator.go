package bench

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/weiihann/smartdoor/contract"
)

// ErrTimedOut is returned by Wait when the context ends before every
// issued request has been answered.
var ErrTimedOut = errors.New("timed out waiting for confirmations")

const defaultWaitInterval = 10 * time.Millisecond

// Key matches a notification to the request that caused it.
type Key struct {
	Kind    contract.EventKind
	Subject string
}

// KeyFor returns the key of the notification call emits when issued by
// caller.
func KeyFor(call contract.Call, caller string) Key {
	return Key{
		Kind:    call.Method.Spec().Event,
		Subject: contract.NormalizeAddress(call.Subject(caller)),
	}
}

// Sample is one answered request.
type Sample struct {
	SentAt     time.Time `json:"sent_at"`
	ReceivedAt time.Time `json:"received_at"`
}

// Elapsed is the request latency. It is negative when the answer was
// stamped before the send, which only a clock step can cause.
func (s Sample) Elapsed() time.Duration {
	return s.ReceivedAt.Sub(s.SentAt)
}

// Ticket identifies one issued request within a Correlator.
type Ticket int

type entry struct {
	key     Key
	sample  Sample
	done    bool
	aborted bool
}

// Correlator pairs the requests of one batch with their answers. Answers
// carrying a key are matched to the oldest unanswered request with the
// same key. A Correlator must not be shared between batches.
type Correlator struct {
	mu      sync.Mutex
	now     func() time.Time
	entries  []entry
	pending  int
	inverted int
	closed   bool
}

// NewCorrelator returns an empty correlator. A nil now uses time.Now.
func NewCorrelator(now func() time.Time) *Correlator {
	if now == nil {
		now = time.Now
	}

	return &Correlator{now: now}
}

// Begin records the send time of a request. Call it immediately before
// the request is issued.
func (c *Correlator) Begin(key Key) Ticket {
	key.Subject = contract.NormalizeAddress(key.Subject)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = append(c.entries, entry{
		key:    key,
		sample: Sample{SentAt: c.now()},
	})
	c.pending++

	return Ticket(len(c.entries) - 1)
}

// Complete records the receive time of t directly.
func (c *Correlator) Complete(t Ticket) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.finish(int(t), false)
}

// Abort drops t; it is neither waited for nor reported.
func (c *Correlator) Abort(t Ticket) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.finish(int(t), true)
}

// finish closes entry i. Callers hold c.mu.
func (c *Correlator) finish(i int, aborted bool) bool {
	if c.closed || i < 0 || i >= len(c.entries) {
		return false
	}

	e := &c.entries[i]
	if e.done || e.aborted {
		return false
	}

	if aborted {
		e.aborted = true
	} else {
		e.done = true
		e.sample.ReceivedAt = c.now()
		if e.sample.ReceivedAt.Before(e.sample.SentAt) {
			c.inverted++
		}
	}
	c.pending--

	return true
}

// Observe records an answer for the oldest open request with key. It
// reports false when no open request matches, in which case the answer
// is discarded.
func (c *Correlator) Observe(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	key.Subject = contract.NormalizeAddress(key.Subject)

	for i := range c.entries {
		e := &c.entries[i]
		if e.done || e.aborted || e.key != key {
			continue
		}

		return c.finish(i, false)
	}

	return false
}

// Pending reports how many begun requests are still unanswered.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.pending
}

// Inverted reports how many answers were stamped before their request.
func (c *Correlator) Inverted() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.inverted
}

// Wait blocks until every begun request is answered or aborted, checking
// every interval. It returns ErrTimedOut if ctx ends first.
func (c *Correlator) Wait(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = defaultWaitInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if c.Pending() == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ErrTimedOut
		case <-ticker.C:
		}
	}
}

// Close seals the correlator. Later answers are ignored.
func (c *Correlator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
}

// Samples returns the answered requests in issue order.
func (c *Correlator) Samples() []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Sample, 0, len(c.entries))
	for _, e := range c.entries {
		if e.done {
			out = append(out, e.sample)
		}
	}

	return out
}

// Elapsed returns the latency of every answered request in seconds.
func Elapsed(samples []Sample) []float64 {
	out := make([]float64, 0, len(samples))
	for _, s := range samples {
		out = append(out, s.Elapsed().Seconds())
	}

	return out
}
