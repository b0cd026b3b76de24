package memdoor

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiihann/smartdoor/contract"
)

const (
	owner  = "0x00000000000000000000000000000000000000aa"
	guestA = "0x1111111111111111111111111111111111111111"
	guestB = "0x2222222222222222222222222222222222222222"
)

var opts = contract.TxOpts{GasLimit: 10_000_000}

func confirm(t *testing.T, tx contract.Tx, err error) error {
	t.Helper()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	return tx.Wait(ctx)
}

func TestGuestLifecycle(t *testing.T) {
	ctx := context.Background()
	c := New(owner)
	g := c.As(guestA)
	o := c.As(owner)

	role, err := g.Role(ctx)
	require.NoError(t, err)
	assert.Equal(t, contract.RoleGuest, role)

	role, err = o.Role(ctx)
	require.NoError(t, err)
	assert.Equal(t, contract.RoleOwner, role)

	tx, err := g.RequestAuthorization(ctx, opts, "alice")
	require.NoError(t, confirm(t, tx, err))

	auth, err := g.Authorization(ctx)
	require.NoError(t, err)
	assert.Equal(t, contract.StatusPending, auth.Status)
	assert.Equal(t, "alice", auth.Name)

	tx, err = g.AccessDoor(ctx, opts)
	assert.ErrorIs(t, confirm(t, tx, err), contract.ErrNotAuthorized)

	tx, err = o.AcceptAuthorization(ctx, opts, guestA)
	require.NoError(t, confirm(t, tx, err))

	tx, err = g.AccessDoor(ctx, opts)
	require.NoError(t, confirm(t, tx, err))

	accesses, err := g.Accesses(ctx)
	require.NoError(t, err)
	require.Len(t, accesses, 1)
	assert.Equal(t, guestA, accesses[0].Guest)

	history, err := o.GuestAccesses(ctx, guestA)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestPendingIsTheOnlyEntryState(t *testing.T) {
	ctx := context.Background()
	c := New(owner)
	o := c.As(owner)

	tx, err := o.AcceptAuthorization(ctx, opts, guestA)
	assert.ErrorIs(t, confirm(t, tx, err), contract.ErrIllegalTransition)

	tx, err = o.RejectAuthorization(ctx, opts, guestA)
	assert.ErrorIs(t, confirm(t, tx, err), contract.ErrIllegalTransition)

	tx, err = o.CreateAuthorization(ctx, opts, "bob", guestB)
	require.NoError(t, confirm(t, tx, err))

	tx, err = o.RejectAuthorization(ctx, opts, guestB)
	require.NoError(t, confirm(t, tx, err))

	for _, tr := range c.Transitions() {
		if tr.From == contract.StatusNull {
			assert.Equal(t, contract.StatusPending, tr.To, "entered %s without PENDING", tr.To)
		}
	}
}

func TestDuplicateAndResubmission(t *testing.T) {
	ctx := context.Background()
	c := New(owner)
	g := c.As(guestA)
	o := c.As(owner)

	tx, err := g.RequestAuthorization(ctx, opts, "alice")
	require.NoError(t, confirm(t, tx, err))

	tx, err = g.RequestAuthorization(ctx, opts, "alice")
	assert.ErrorIs(t, confirm(t, tx, err), contract.ErrDuplicateRequest)

	tx, err = o.RejectAuthorization(ctx, opts, guestA)
	require.NoError(t, confirm(t, tx, err))

	tx, err = g.RequestAuthorization(ctx, opts, "alice again")
	require.NoError(t, confirm(t, tx, err))

	auth, err := g.Authorization(ctx)
	require.NoError(t, err)
	assert.Equal(t, contract.StatusPending, auth.Status)
	assert.Equal(t, "alice again", auth.Name)
}

func TestOwnerOnlyCalls(t *testing.T) {
	ctx := context.Background()
	c := New(owner)
	g := c.As(guestA)

	_, err := g.Authorizations(ctx)
	assert.ErrorIs(t, err, contract.ErrNotOwner)

	_, err = g.GuestAccesses(ctx, guestB)
	assert.ErrorIs(t, err, contract.ErrNotOwner)

	tx, err := g.Reset(ctx, opts)
	assert.ErrorIs(t, confirm(t, tx, err), contract.ErrNotOwner)

	tx, err = g.CreateAuthorization(ctx, opts, "mallory", guestB)
	assert.ErrorIs(t, confirm(t, tx, err), contract.ErrNotOwner)
}

func TestOwnerHoldsOwnAuthorization(t *testing.T) {
	ctx := context.Background()
	c := New(owner)
	o := c.As(owner)

	tx, err := o.RequestAuthorization(ctx, opts, "me")
	require.NoError(t, confirm(t, tx, err))

	tx, err = o.AcceptAuthorization(ctx, opts, owner)
	require.NoError(t, confirm(t, tx, err))

	tx, err = o.AccessDoor(ctx, opts)
	require.NoError(t, confirm(t, tx, err))

	accesses, err := o.Accesses(ctx)
	require.NoError(t, err)
	assert.Len(t, accesses, 1)
}

func TestResetClearsEverything(t *testing.T) {
	ctx := context.Background()
	c := New(owner)
	o := c.As(owner)

	for _, guest := range []string{guestA, guestB} {
		tx, err := c.As(guest).RequestAuthorization(ctx, opts, "g")
		require.NoError(t, confirm(t, tx, err))
	}

	tx, err := o.Reset(ctx, opts)
	require.NoError(t, confirm(t, tx, err))

	auths, err := o.Authorizations(ctx)
	require.NoError(t, err)
	assert.Empty(t, auths)

	auth, err := c.As(guestA).Authorization(ctx)
	require.NoError(t, err)
	assert.False(t, auth.Exists())
}

func TestSubscriptionDeliversFilteredEvents(t *testing.T) {
	ctx := context.Background()
	c := New(owner, WithLatency(5*time.Millisecond))
	o := c.As(owner)

	sub, err := o.Subscribe(ctx, contract.EventPending, contract.EventReset)
	require.NoError(t, err)
	defer sub.Close()

	tx, err := c.As(guestA).RequestAuthorization(ctx, opts, "alice")
	require.NoError(t, confirm(t, tx, err))

	tx, err = o.AcceptAuthorization(ctx, opts, guestA)
	require.NoError(t, confirm(t, tx, err))

	tx, err = o.Reset(ctx, opts)
	require.NoError(t, confirm(t, tx, err))

	var got []contract.Event
	for len(got) < 2 {
		select {
		case ev := <-sub.Events():
			got = append(got, ev)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d events", len(got))
		}
	}

	assert.Equal(t, contract.EventPending, got[0].Kind)
	assert.Equal(t, guestA, got[0].Subject)
	assert.NotEmpty(t, got[0].TxHash)
	assert.Equal(t, contract.EventReset, got[1].Kind)
	assert.True(t, got[1].Global())
}

func TestSubscriptionCloseUnsubscribes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := New(owner)

	first, err := c.As(owner).Subscribe(context.Background())
	require.NoError(t, err)
	_, err = c.As(owner).Subscribe(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Subscribers())

	first.Close()
	first.Close()

	_, open := <-first.Events()
	assert.False(t, open)

	cancel()
	assert.Eventually(t, func() bool { return c.Subscribers() == 0 },
		time.Second, 5*time.Millisecond)
}

func TestEstimateGasFailsOnRevert(t *testing.T) {
	ctx := context.Background()
	c := New(owner)

	gas, err := c.As(guestA).EstimateGas(ctx, contract.Call{Method: contract.GetRole})
	require.NoError(t, err)
	assert.NotZero(t, gas)

	_, err = c.As(guestA).EstimateGas(ctx, contract.Call{Method: contract.AccessDoor})
	assert.ErrorIs(t, err, contract.ErrNotAuthorized)

	_, err = c.As(guestA).EstimateGas(ctx, contract.Call{Method: contract.GetData})
	assert.ErrorIs(t, err, contract.ErrNotOwner)
}

func TestBalanceAndChain(t *testing.T) {
	ctx := context.Background()
	wei := big.NewInt(1_500_000_000_000_000_000)
	c := New(owner, WithBalance(guestA, wei), WithChainID(1))

	bal, err := c.As(guestA).Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.5", contract.FormatEther(bal))

	id, err := c.As(guestA).ChainID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
}

func TestStageMakesEveryWriteLegal(t *testing.T) {
	ctx := context.Background()
	c := New(owner)
	o := c.As(owner)

	for round := range 3 {
		for _, call := range []contract.Call{
			{Method: contract.RequestAuthorization, Name: "me"},
			{Method: contract.AccessDoor},
			{Method: contract.CreateAuthorization, Name: "a", Guest: guestA},
			{Method: contract.AcceptAuthorization, Guest: guestA},
			{Method: contract.RejectAuthorization, Guest: guestA},
			{Method: contract.Reset},
		} {
			c.Stage(owner, call)

			tx, err := contract.Dispatch(ctx, o, call, opts)
			require.NoError(t, confirm(t, tx, err), "round %d: %s", round, call.Method)
		}
	}

	before := len(c.Transitions())
	c.Stage(guestB, contract.Call{Method: contract.AccessDoor})
	assert.Len(t, c.Transitions(), before, "staging is not a mined transition")

	auth, err := c.As(guestB).Authorization(ctx)
	require.NoError(t, err)
	assert.Equal(t, contract.StatusAccepted, auth.Status)
}
