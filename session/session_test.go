package session

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiihann/smartdoor/contract"
	"github.com/weiihann/smartdoor/contract/memdoor"
)

const (
	owner  = "0x00000000000000000000000000000000000000aa"
	guestA = "0x1111111111111111111111111111111111111111"
	guestB = "0x2222222222222222222222222222222222222222"
)

var opts = contract.TxOpts{GasLimit: 10_000_000}

func connect(t *testing.T, d contract.Door, o Options) *Session {
	t.Helper()

	s := New(d, o)
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(s.Close)

	return s
}

func mined(t *testing.T, tx contract.Tx, err error) {
	t.Helper()
	require.NoError(t, err)
	require.NoError(t, tx.Wait(context.Background()))
}

func settle(t *testing.T, s *Session, want int) {
	t.Helper()

	assert.Eventually(t, func() bool { return s.Refreshes() >= want },
		time.Second, 2*time.Millisecond)
	assert.Never(t, func() bool { return s.Refreshes() > want },
		50*time.Millisecond, 5*time.Millisecond)
}

func TestConnectReachesSynced(t *testing.T) {
	c := memdoor.New(owner)
	s := connect(t, c.As(guestA), Options{ExpectedChainID: contract.MumbaiChainID})

	assert.Equal(t, Synced, s.State())
	assert.Equal(t, contract.RoleGuest, s.Role())
	assert.Equal(t, 1, s.Refreshes())
	assert.Equal(t, 1, c.Subscribers())

	snap := s.Snapshot()
	assert.Equal(t, guestA, snap.Account)
	assert.False(t, snap.Authorization.Exists())
	assert.NotNil(t, snap.Balance)
}

func TestConnectWrongNetwork(t *testing.T) {
	c := memdoor.New(owner, memdoor.WithChainID(1))

	s := New(c.As(guestA), Options{ExpectedChainID: contract.MumbaiChainID})
	err := s.Connect(context.Background())

	assert.ErrorIs(t, err, contract.ErrWrongNetwork)
	assert.Equal(t, Disconnected, s.State())
	assert.Equal(t, "Change network to connect", s.LastError())
	assert.Zero(t, c.Subscribers())

	s.Close()
}

func TestGuestIgnoresOtherSubjects(t *testing.T) {
	ctx := context.Background()
	c := memdoor.New(owner)
	s := connect(t, c.As(guestA), Options{})

	tx, err := c.As(guestB).RequestAuthorization(ctx, opts, "bob")
	mined(t, tx, err)

	tx, err = c.As(guestA).RequestAuthorization(ctx, opts, "alice")
	mined(t, tx, err)

	settle(t, s, 2)
	assert.Equal(t, contract.StatusPending, s.Snapshot().Authorization.Status)
}

func TestResetAlwaysRefreshes(t *testing.T) {
	ctx := context.Background()
	c := memdoor.New(owner)
	s := connect(t, c.As(guestA), Options{})

	for i := range 5 {
		guest := fmt.Sprintf("0x%040x", 0x100+i)
		tx, err := c.As(guest).RequestAuthorization(ctx, opts, "g")
		mined(t, tx, err)
	}

	tx, err := c.As(owner).Reset(ctx, opts)
	mined(t, tx, err)

	settle(t, s, 2)
}

func TestOwnerRefreshesOnEveryNotification(t *testing.T) {
	ctx := context.Background()
	c := memdoor.New(owner)

	var mu sync.Mutex
	var seen []Snapshot
	s := connect(t, c.As(owner), Options{OnRefresh: func(snap Snapshot) {
		mu.Lock()
		seen = append(seen, snap)
		mu.Unlock()
	}})
	assert.Equal(t, contract.RoleOwner, s.Role())

	g := c.As(guestA)

	tx, err := g.RequestAuthorization(ctx, opts, "alice")
	mined(t, tx, err)
	settle(t, s, 2)

	require.NoError(t, s.AcceptAuthorization(ctx, guestA))
	settle(t, s, 3)

	tx, err = g.AccessDoor(ctx, opts)
	mined(t, tx, err)
	settle(t, s, 4)

	snap := s.Snapshot()
	require.Len(t, snap.Authorizations, 1)
	assert.Equal(t, contract.StatusAccepted, snap.Authorizations[0].Status)
	assert.Len(t, snap.GuestAccesses[contract.NormalizeAddress(guestA)], 1)
	assert.Len(t, snap.Accesses, 1)

	mu.Lock()
	assert.Len(t, seen, 4)
	mu.Unlock()
}

func TestActionsValidateBeforeSending(t *testing.T) {
	ctx := context.Background()
	c := memdoor.New(owner)
	s := connect(t, c.As(guestA), Options{})

	assert.ErrorIs(t, s.RequestAuthorization(ctx, "  "), contract.ErrInvalidName)
	assert.NotEmpty(t, s.LastError())

	assert.ErrorIs(t, s.Reset(ctx), contract.ErrNotOwner)
	assert.ErrorIs(t, s.AcceptAuthorization(ctx, guestB), contract.ErrNotOwner)

	require.NoError(t, s.RequestAuthorization(ctx, "alice"))
	assert.Empty(t, s.LastError())

	assert.Eventually(t, func() bool {
		return s.Snapshot().Authorization.Status == contract.StatusPending
	}, time.Second, 2*time.Millisecond)

	assert.ErrorIs(t, s.RequestAuthorization(ctx, "alice"), contract.ErrDuplicateRequest)

	err := s.AccessDoor(ctx)
	assert.ErrorIs(t, err, contract.ErrReverted)
	assert.Contains(t, s.LastError(), "reverted")

	s.ClearError()
	assert.Empty(t, s.LastError())
}

func TestOwnerCreateChecksDuplicates(t *testing.T) {
	ctx := context.Background()
	c := memdoor.New(owner)
	s := connect(t, c.As(owner), Options{})

	require.NoError(t, s.CreateAuthorization(ctx, "bob", guestB))
	assert.Eventually(t, func() bool { return len(s.Snapshot().Authorizations) == 1 },
		time.Second, 2*time.Millisecond)

	assert.ErrorIs(t, s.CreateAuthorization(ctx, "bob", guestB), contract.ErrDuplicateRequest)
	assert.ErrorIs(t, s.CreateAuthorization(ctx, "bob", "0x12"), contract.ErrInvalidAddress)

	require.NoError(t, s.RejectAuthorization(ctx, guestB))
	assert.Eventually(t, func() bool {
		auths := s.Snapshot().Authorizations
		return len(auths) == 1 && auths[0].Status == contract.StatusRejected
	}, time.Second, 2*time.Millisecond)

	require.NoError(t, s.CreateAuthorization(ctx, "bob again", guestB), "rejected guests may be re-registered")
}

func TestActionsRequireConnection(t *testing.T) {
	s := New(memdoor.New(owner).As(guestA), Options{})

	assert.ErrorIs(t, s.AccessDoor(context.Background()), ErrNotConnected)
}

func TestCloseUnsubscribes(t *testing.T) {
	c := memdoor.New(owner)
	s := New(c.As(guestA), Options{})
	require.NoError(t, s.Connect(context.Background()))
	require.Error(t, s.Connect(context.Background()), "second connect fails")

	s.Close()

	assert.Equal(t, Disconnected, s.State())
	assert.Zero(t, c.Subscribers())
}

func TestSnapshotIsACopy(t *testing.T) {
	c := memdoor.New(owner, memdoor.WithBalance(guestA, big.NewInt(5)))
	s := connect(t, c.As(guestA), Options{})

	snap := s.Snapshot()
	snap.Balance.SetInt64(0)

	assert.Equal(t, "5", s.Snapshot().Balance.String())
}
