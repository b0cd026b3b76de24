package memdoor

import (
	"context"
	"math/big"

	"github.com/weiihann/smartdoor/contract"
)

// Static gas figures reported by EstimateGas.
var gasTable = map[contract.Method]uint64{
	contract.GetRole:              23_512,
	contract.RequestAuthorization: 117_480,
	contract.GetAuthorization:     31_904,
	contract.AccessDoor:           74_311,
	contract.GetAccesses:          27_640,
	contract.GetData:              35_218,
	contract.CreateAuthorization:  119_702,
	contract.AcceptAuthorization:  33_120,
	contract.RejectAuthorization:  33_098,
	contract.GetGuestAccesses:     28_102,
	contract.Reset:                41_377,
}

// Door is a caller-bound view of a Contract.
type Door struct {
	c       *Contract
	account string
}

var _ contract.Door = (*Door)(nil)

// Account is the address the view calls as.
func (d *Door) Account() string { return d.account }

// ChainID reports the chain set by WithChainID.
func (d *Door) ChainID(context.Context) (uint64, error) {
	return d.c.chainID, nil
}

// Balance reports the wei credited by WithBalance, or zero.
func (d *Door) Balance(context.Context) (*big.Int, error) {
	d.c.mu.Lock()
	defer d.c.mu.Unlock()

	if b, ok := d.c.balances[key(d.account)]; ok {
		return new(big.Int).Set(b), nil
	}

	return new(big.Int), nil
}

// Role is owner for the deploying account and guest for everyone else.
func (d *Door) Role(context.Context) (contract.Role, error) {
	if d.c.isOwner(d.account) {
		return contract.RoleOwner, nil
	}

	return contract.RoleGuest, nil
}

// Authorization returns the caller's record, or the zero record.
func (d *Door) Authorization(context.Context) (contract.Authorization, error) {
	d.c.mu.Lock()
	defer d.c.mu.Unlock()

	if a, ok := d.c.auths[key(d.account)]; ok {
		return *a, nil
	}

	return contract.Authorization{}, nil
}

// Accesses returns the caller's accesses in mining order.
func (d *Door) Accesses(context.Context) ([]contract.Access, error) {
	return d.c.accessesOf(d.account), nil
}

// Authorizations lists every record in request order. Owner only.
func (d *Door) Authorizations(context.Context) ([]contract.Authorization, error) {
	if !d.c.isOwner(d.account) {
		return nil, contract.ErrNotOwner
	}

	d.c.mu.Lock()
	defer d.c.mu.Unlock()

	out := make([]contract.Authorization, 0, len(d.c.order))
	for _, k := range d.c.order {
		out = append(out, *d.c.auths[k])
	}

	return out, nil
}

// GuestAccesses returns guest's accesses. Owner only.
func (d *Door) GuestAccesses(_ context.Context, guest string) ([]contract.Access, error) {
	if !d.c.isOwner(d.account) {
		return nil, contract.ErrNotOwner
	}

	return d.c.accessesOf(guest), nil
}

func (c *Contract) accessesOf(account string) []contract.Access {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]contract.Access, 0)
	for _, a := range c.accesses {
		if contract.SameAccount(a.Guest, account) {
			out = append(out, a)
		}
	}

	return out
}

func (d *Door) send(o op) (contract.Tx, error) {
	o.caller = d.account
	return d.c.submit(o), nil
}

// RequestAuthorization queues the caller's request. Writes return at once
// and are validated when mined.
func (d *Door) RequestAuthorization(_ context.Context, _ contract.TxOpts, name string) (contract.Tx, error) {
	return d.send(op{method: contract.RequestAuthorization, name: name})
}

// CreateAuthorization queues an owner registration of guest.
func (d *Door) CreateAuthorization(_ context.Context, _ contract.TxOpts, name, guest string) (contract.Tx, error) {
	return d.send(op{method: contract.CreateAuthorization, name: name, guest: guest})
}

// AcceptAuthorization queues the acceptance of guest.
func (d *Door) AcceptAuthorization(_ context.Context, _ contract.TxOpts, guest string) (contract.Tx, error) {
	return d.send(op{method: contract.AcceptAuthorization, guest: guest})
}

// RejectAuthorization queues the rejection of guest.
func (d *Door) RejectAuthorization(_ context.Context, _ contract.TxOpts, guest string) (contract.Tx, error) {
	return d.send(op{method: contract.RejectAuthorization, guest: guest})
}

// AccessDoor queues an access by the caller.
func (d *Door) AccessDoor(_ context.Context, _ contract.TxOpts) (contract.Tx, error) {
	return d.send(op{method: contract.AccessDoor})
}

// Reset queues the removal of every record and access.
func (d *Door) Reset(_ context.Context, _ contract.TxOpts) (contract.Tx, error) {
	return d.send(op{method: contract.Reset})
}

// EstimateGas fails the way a node does when the call would revert.
func (d *Door) EstimateGas(_ context.Context, call contract.Call) (uint64, error) {
	if err := call.Validate(); err != nil {
		return 0, err
	}

	if call.Method.Spec().Mutability == contract.Write {
		d.c.mu.Lock()
		err := d.c.validate(op{
			method: call.Method,
			caller: d.account,
			name:   call.Name,
			guest:  call.Guest,
		})
		d.c.mu.Unlock()

		if err != nil {
			return 0, err
		}
	} else if (call.Method == contract.GetData || call.Method == contract.GetGuestAccesses) &&
		!d.c.isOwner(d.account) {
		return 0, contract.ErrNotOwner
	}

	return gasTable[call.Method], nil
}
