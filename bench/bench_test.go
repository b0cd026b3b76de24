package bench

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiihann/smartdoor/contract"
	"github.com/weiihann/smartdoor/contract/memdoor"
	"github.com/weiihann/smartdoor/plan"
)

const (
	owner  = "0x00000000000000000000000000000000000000aa"
	guestA = "0x1111111111111111111111111111111111111111"
	guestB = "0x2222222222222222222222222222222222222222"
	guestC = "0x3333333333333333333333333333333333333333"
)

var discard = slog.New(slog.DiscardHandler)

// clock advances one second on every reading.
type clock struct{ t time.Time }

func (c *clock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func accessKey(guest string) Key {
	return Key{Kind: contract.EventAccess, Subject: guest}
}

func TestCorrelatorMatchesInIssueOrder(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	corr := NewCorrelator(c.now)

	corr.Begin(accessKey(guestA))
	corr.Begin(accessKey(guestB))
	corr.Begin(accessKey(guestC))
	assert.Equal(t, 3, corr.Pending())

	assert.False(t, corr.Observe(accessKey(owner)), "unrelated subject must be discarded")
	assert.False(t, corr.Observe(Key{Kind: contract.EventPending, Subject: guestA}))

	assert.True(t, corr.Observe(accessKey(guestC)))
	assert.True(t, corr.Observe(accessKey(guestA)))
	assert.True(t, corr.Observe(accessKey(guestB)))
	assert.False(t, corr.Observe(accessKey(guestB)), "no open request left for B")

	require.NoError(t, corr.Wait(context.Background(), time.Millisecond))

	samples := corr.Samples()
	require.Len(t, samples, 3)

	// Sent at t+1..t+3; received C at t+4, A at t+5, B at t+6.
	assert.Equal(t, 4*time.Second, samples[0].Elapsed())
	assert.Equal(t, 4*time.Second, samples[1].Elapsed())
	assert.Equal(t, time.Second, samples[2].Elapsed())
	for _, s := range samples {
		assert.False(t, s.ReceivedAt.Before(s.SentAt))
	}
}

func TestCorrelatorSameKeyIsFIFO(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	corr := NewCorrelator(c.now)

	first := corr.Begin(accessKey(guestA))
	corr.Begin(accessKey(guestA))

	assert.True(t, corr.Observe(accessKey(strings.ToLower(guestA))))
	samples := corr.Samples()
	require.Len(t, samples, 1)
	assert.Equal(t, time.Unix(1, 0), samples[0].SentAt, "oldest request answered first")

	corr.Complete(first)
	assert.Equal(t, 1, corr.Pending(), "completing an answered ticket is a no-op")
}

func TestCorrelatorCountsInvertedAnswers(t *testing.T) {
	readings := []time.Time{time.Unix(10, 0), time.Unix(7, 0)}
	corr := NewCorrelator(func() time.Time {
		now := readings[0]
		readings = readings[1:]
		return now
	})

	corr.Complete(corr.Begin(accessKey(guestA)))

	samples := corr.Samples()
	require.Len(t, samples, 1)
	assert.Equal(t, -3*time.Second, samples[0].Elapsed())
	assert.Equal(t, []float64{-3}, Elapsed(samples))
	assert.Equal(t, 1, corr.Inverted())
}

func TestCorrelatorWaitTimesOut(t *testing.T) {
	corr := NewCorrelator(nil)
	corr.Begin(accessKey(guestA))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := corr.Wait(ctx, 0)
	assert.ErrorIs(t, err, ErrTimedOut)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCorrelatorAbortIsNotWaitedFor(t *testing.T) {
	corr := NewCorrelator(nil)
	tk := corr.Begin(accessKey(guestA))
	corr.Abort(tk)

	assert.Zero(t, corr.Pending())
	assert.NoError(t, corr.Wait(context.Background(), time.Millisecond))
	assert.Empty(t, corr.Samples())
}

func TestCorrelatorIgnoresLateNotifications(t *testing.T) {
	corr := NewCorrelator(nil)
	corr.Begin(accessKey(guestA))
	corr.Close()

	assert.False(t, corr.Observe(accessKey(guestA)))
	assert.Empty(t, corr.Samples())
}

func TestKeyFor(t *testing.T) {
	assert.Equal(t, Key{Kind: contract.EventAccess, Subject: contract.NormalizeAddress(guestA)},
		KeyFor(contract.Call{Method: contract.AccessDoor}, guestA))

	assert.Equal(t, Key{Kind: contract.EventAccepted, Subject: contract.NormalizeAddress(guestB)},
		KeyFor(contract.Call{Method: contract.AcceptAuthorization, Guest: guestB}, owner))

	assert.Equal(t, Key{Kind: contract.EventReset},
		KeyFor(contract.Call{Method: contract.Reset}, owner))
}

func ownerPlan() plan.Plan {
	return plan.Plan{Steps: []plan.Step{
		{Call: contract.Call{Method: contract.GetRole}},
		{Call: contract.Call{Method: contract.CreateAuthorization, Name: "g", Guest: guestA}},
		{Call: contract.Call{Method: contract.AcceptAuthorization, Guest: guestA}},
		{Call: contract.Call{Method: contract.Reset}},
	}}
}

func TestRunnerRun(t *testing.T) {
	for _, confirm := range []Confirm{ConfirmReceipt, ConfirmEvent} {
		t.Run(string(confirm), func(t *testing.T) {
			c := memdoor.New(owner, memdoor.WithLatency(2*time.Millisecond))
			r := NewRunner(c.As(owner), Config{
				Requests:     3,
				Confirm:      confirm,
				Timeout:      5 * time.Second,
				PollInterval: time.Millisecond,
				Backend:      "memdoor",
			}, discard)

			report, err := r.Run(context.Background(), ownerPlan())
			require.NoError(t, err)
			require.Len(t, report.Results, 4)

			assert.Equal(t, confirm, report.Confirm)
			assert.Equal(t, "memdoor", report.Backend)
			assert.NotEqual(t, [16]byte{}, [16]byte(report.ID))

			role := report.Results[0]
			assert.Equal(t, "getRole", role.Method)
			assert.Len(t, role.Samples, 3)
			assert.Zero(t, role.Failures)

			// Only the first create and accept succeed; the rest revert.
			for _, res := range report.Results[1:3] {
				assert.Len(t, res.Samples, 1, res.Method)
				assert.Equal(t, 2, res.Failures, res.Method)
				assert.False(t, res.TimedOut, res.Method)
			}

			reset := report.Results[3]
			assert.Len(t, reset.Samples, 3)
			assert.Zero(t, reset.Failures)

			assert.Equal(t, 3, report.Totals.Write.Count)
			assert.Equal(t, 1, report.Totals.Read.Count)
			assert.Equal(t, 4, report.Totals.All.Count)
			assert.Zero(t, c.Subscribers(), "batch subscriptions must be released")
		})
	}
}

func requestPlan() plan.Plan {
	return plan.Plan{Steps: []plan.Step{
		{Call: contract.Call{Method: contract.RequestAuthorization, Name: "g"}},
	}}
}

func TestRunnerGuestRequests(t *testing.T) {
	for _, confirm := range []Confirm{ConfirmReceipt, ConfirmEvent} {
		t.Run(string(confirm), func(t *testing.T) {
			c := memdoor.New(owner, memdoor.WithLatency(2*time.Millisecond))

			var samples []Sample
			for _, guest := range []string{guestA, guestB, guestC} {
				r := NewRunner(c.As(guest), Config{
					Requests:     1,
					Confirm:      confirm,
					Timeout:      5 * time.Second,
					PollInterval: time.Millisecond,
				}, discard)

				report, err := r.Run(context.Background(), requestPlan())
				require.NoError(t, err)
				require.Len(t, report.Results, 1)

				res := report.Results[0]
				assert.Zero(t, res.Failures, guest)
				assert.False(t, res.TimedOut, guest)
				samples = append(samples, res.Samples...)
			}

			require.Len(t, samples, 3)
			for i, s := range samples {
				assert.GreaterOrEqual(t, s.Elapsed(), time.Duration(0), i)
				if i > 0 {
					assert.False(t, s.SentAt.Before(samples[i-1].SentAt), "sent_at must not go back")
				}
			}

			auths, err := c.As(owner).Authorizations(context.Background())
			require.NoError(t, err)
			assert.Len(t, auths, 3)
			assert.Zero(t, c.Subscribers())
		})
	}
}

func TestRunnerPrepare(t *testing.T) {
	for _, confirm := range []Confirm{ConfirmReceipt, ConfirmEvent} {
		t.Run(string(confirm), func(t *testing.T) {
			c := memdoor.New(owner)
			prepared := 0

			r := NewRunner(c.As(guestA), Config{
				Requests:     3,
				Confirm:      confirm,
				Timeout:      5 * time.Second,
				PollInterval: time.Millisecond,
				Prepare: func(_ context.Context, call contract.Call) error {
					prepared++
					c.Stage(guestA, call)
					return nil
				},
			}, discard)

			report, err := r.Run(context.Background(), requestPlan())
			require.NoError(t, err)

			res := report.Results[0]
			assert.Equal(t, 3, prepared)
			assert.Len(t, res.Samples, 3)
			assert.Zero(t, res.Failures)
		})
	}

	r := NewRunner(memdoor.New(owner).As(guestA), Config{
		Requests: 2,
		Prepare: func(context.Context, contract.Call) error {
			return errors.New("not ready")
		},
	}, discard)

	report, err := r.Run(context.Background(), requestPlan())
	require.NoError(t, err)
	assert.Empty(t, report.Results[0].Samples)
	assert.Equal(t, 2, report.Results[0].Failures)
}

// silentDoor never delivers notifications.
type silentDoor struct {
	*memdoor.Door
}

type silentSubscription struct {
	events chan contract.Event
	once   bool
}

func (s *silentSubscription) Events() <-chan contract.Event { return s.events }
func (s *silentSubscription) Err() <-chan error { return nil }
func (s *silentSubscription) Close() {
	if !s.once {
		s.once = true
		close(s.events)
	}
}

func (silentDoor) Subscribe(context.Context, ...contract.EventKind) (contract.Subscription, error) {
	return &silentSubscription{events: make(chan contract.Event)}, nil
}

func TestRunnerEventTimeout(t *testing.T) {
	c := memdoor.New(owner)
	r := NewRunner(silentDoor{c.As(owner)}, Config{
		Requests:     2,
		Confirm:      ConfirmEvent,
		Timeout:      50 * time.Millisecond,
		PollInterval: time.Millisecond,
	}, discard)

	p := plan.Plan{Steps: []plan.Step{
		{Call: contract.Call{Method: contract.Reset}},
		{Call: contract.Call{Method: contract.GetRole}},
	}}

	report, err := r.Run(context.Background(), p)
	require.NoError(t, err)

	reset := report.Results[0]
	assert.True(t, reset.TimedOut)
	assert.Empty(t, reset.Samples)
	assert.True(t, reset.Summary.NoData())

	role := report.Results[1]
	assert.False(t, role.TimedOut, "run continues after a timed out batch")
	assert.Len(t, role.Samples, 2)
}

func TestRunnerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRunner(memdoor.New(owner).As(owner), Config{Requests: 1}, discard)

	report, err := r.Run(ctx, ownerPlan())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, report.Results)
}

func TestEstimateAll(t *testing.T) {
	c := memdoor.New(owner)
	r := NewRunner(c.As(guestA), Config{}, discard)

	estimates := r.EstimateAll(context.Background(), plan.Default(guestB))
	require.Len(t, estimates, len(contract.Methods()))

	byMethod := make(map[string]GasEstimate)
	for _, e := range estimates {
		byMethod[e.Method] = e
	}

	assert.NotZero(t, byMethod["getRole"].Gas)
	assert.Empty(t, byMethod["getRole"].Err)
	assert.NotEmpty(t, byMethod["accessDoor"].Err, "guest without authorization cannot access")
	assert.NotEmpty(t, byMethod["getData"].Err, "guest cannot list all authorizations")
	assert.NotZero(t, byMethod["requestAuthorisation"].Gas)
}

func TestParseReport(t *testing.T) {
	r := NewRunner(memdoor.New(owner).As(owner), Config{Requests: 2}, discard)

	report, err := r.Run(context.Background(), ownerPlan())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(report))

	got, err := ParseReport(&buf)
	require.NoError(t, err)
	assert.Equal(t, report.ID, got.ID)
	assert.Equal(t, len(report.Results), len(got.Results))
	assert.Equal(t, report.Totals, got.Totals)

	_, err = ParseReport(strings.NewReader(`not json at all`))
	assert.Error(t, err)

	_, err = ParseReport(strings.NewReader(`{"id":"` + report.ID.String() + `"}`))
	assert.Error(t, err)
}

func TestParseConfirm(t *testing.T) {
	c, err := ParseConfirm("event")
	require.NoError(t, err)
	assert.Equal(t, ConfirmEvent, c)

	_, err = ParseConfirm("block")
	assert.Error(t, err)
}
