package contract

import (
	"context"
	"errors"
	"math/big"
)

var (
	ErrWrongNetwork      = errors.New("connected to the wrong network")
	ErrInvalidName       = errors.New("name is required")
	ErrInvalidAddress    = errors.New("malformed account address")
	ErrDuplicateRequest  = errors.New("guest already has an outstanding authorization")
	ErrReverted          = errors.New("transaction reverted")
	ErrNotOwner          = errors.New("caller is not the owner")
	ErrNotAuthorized     = errors.New("guest is not authorized to access the door")
	ErrIllegalTransition = errors.New("illegal authorization transition")
	ErrClosed            = errors.New("closed")
)

// TxOpts carries the fee parameters attached to every state-changing call.
type TxOpts struct {
	GasLimit uint64
	GasPrice *big.Int
}

// Tx is a submitted state-changing call.
type Tx interface {
	Hash() string
	// Wait blocks until the call is confirmed. A call the contract
	// rejected returns an error wrapping ErrReverted.
	Wait(ctx context.Context) error
}

// Querier groups the contract's side-effect-free methods. Calls are made
// on behalf of the bound account.
type Querier interface {
	Role(ctx context.Context) (Role, error)
	Authorization(ctx context.Context) (Authorization, error)
	Accesses(ctx context.Context) ([]Access, error)
	// Authorizations returns every guest's record. Owner only.
	Authorizations(ctx context.Context) ([]Authorization, error)
	// GuestAccesses returns the access history of guest. Owner only.
	GuestAccesses(ctx context.Context, guest string) ([]Access, error)
}

// Commander groups the contract's state-changing methods.
type Commander interface {
	RequestAuthorization(ctx context.Context, opts TxOpts, name string) (Tx, error)
	CreateAuthorization(ctx context.Context, opts TxOpts, name, guest string) (Tx, error)
	AcceptAuthorization(ctx context.Context, opts TxOpts, guest string) (Tx, error)
	RejectAuthorization(ctx context.Context, opts TxOpts, guest string) (Tx, error)
	AccessDoor(ctx context.Context, opts TxOpts) (Tx, error)
	Reset(ctx context.Context, opts TxOpts) (Tx, error)
}

// Notifier opens notification streams. With no kinds every notification is
// delivered.
type Notifier interface {
	Subscribe(ctx context.Context, kinds ...EventKind) (Subscription, error)
}

// ChainReader reports the identifier of the connected chain.
type ChainReader interface {
	ChainID(ctx context.Context) (uint64, error)
}

// Door is one account's handle on a deployed SmartDoor contract.
type Door interface {
	Querier
	Commander
	Notifier
	ChainReader

	Account() string
	Balance(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call Call) (uint64, error)
}
