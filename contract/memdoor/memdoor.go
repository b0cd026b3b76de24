// Package memdoor is an in-process SmartDoor contract. It keeps one
// authorization per guest, mines submitted calls after a configurable
// delay, reverts calls the real contract would reject, and emits the same
// notifications. It is the conformant double used by tests and by
// --simulate runs.
package memdoor

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/weiihann/smartdoor/contract"
)

// Transition records one observed status change.
type Transition struct {
	Guest string
	From  contract.Status
	To    contract.Status
}

// Option configures a Contract.
type Option func(*Contract)

// WithLatency sets the delay between submission and confirmation.
func WithLatency(d time.Duration) Option {
	return func(c *Contract) { c.latency = d }
}

// WithNow replaces the clock used for record timestamps.
func WithNow(now func() time.Time) Option {
	return func(c *Contract) { c.now = now }
}

// WithChainID sets the chain the contract reports.
func WithChainID(id uint64) Option {
	return func(c *Contract) { c.chainID = id }
}

// WithBalance credits account with wei.
func WithBalance(account string, wei *big.Int) Option {
	return func(c *Contract) { c.balances[key(account)] = new(big.Int).Set(wei) }
}

// Contract is the shared contract state. Use As to obtain a caller-bound
// contract.Door.
type Contract struct {
	mu          sync.Mutex
	owner       string
	chainID     uint64
	latency     time.Duration
	now         func() time.Time
	auths       map[string]*contract.Authorization
	order       []string
	accesses    []contract.Access
	balances    map[string]*big.Int
	transitions []Transition
	subs        map[int]*subscription
	nextSub     int
	nextTx      uint64
	block       uint64
}

// New deploys a contract owned by owner.
func New(owner string, opts ...Option) *Contract {
	c := &Contract{
		owner:    owner,
		chainID:  contract.MumbaiChainID,
		now:      time.Now,
		auths:    make(map[string]*contract.Authorization),
		balances: make(map[string]*big.Int),
		subs:     make(map[int]*subscription),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Owner returns the deploying account.
func (c *Contract) Owner() string {
	return c.owner
}

// As binds the contract to account.
func (c *Contract) As(account string) *Door {
	return &Door{c: c, account: account}
}

// Transitions returns every status change mined so far.
func (c *Contract) Transitions() []Transition {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Transition, len(c.transitions))
	copy(out, c.transitions)

	return out
}

// Stage puts the contract in a state where call, issued by account, is
// accepted. Nothing is mined: no notification is sent and no transition
// is recorded. Reads and reset need no staging.
func (c *Contract) Stage(account string, call contract.Call) {
	c.mu.Lock()
	defer c.mu.Unlock()

	o := op{method: call.Method, caller: account, name: call.Name, guest: call.Guest}
	subject := o.subject()

	switch call.Method {
	case contract.RequestAuthorization, contract.CreateAuthorization:
		c.drop(subject)
	case contract.AcceptAuthorization:
		if c.checkTransition(subject, contract.StatusAccepted) != nil {
			c.force(subject, contract.StatusPending)
		}
	case contract.RejectAuthorization:
		if c.checkTransition(subject, contract.StatusRejected) != nil {
			c.force(subject, contract.StatusPending)
		}
	case contract.AccessDoor:
		c.force(subject, contract.StatusAccepted)
	}
}

// drop forgets guest's record. Callers hold c.mu.
func (c *Contract) drop(guest string) {
	k := key(guest)
	if _, ok := c.auths[k]; !ok {
		return
	}

	delete(c.auths, k)
	for i, o := range c.order {
		if o == k {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// force sets guest's status without recording a transition. Callers
// hold c.mu.
func (c *Contract) force(guest string, status contract.Status) {
	k := key(guest)

	a, ok := c.auths[k]
	if !ok {
		a = &contract.Authorization{Guest: guest, Name: "staged"}
		c.auths[k] = a
		c.order = append(c.order, k)
	}

	a.Status = status
	a.Timestamp = c.now().Unix()
}

func key(account string) string {
	return strings.ToLower(strings.TrimSpace(account))
}

func (c *Contract) isOwner(account string) bool {
	return contract.SameAccount(account, c.owner)
}

type op struct {
	method contract.Method
	caller string
	name   string
	guest  string
}

// subject is the guest whose record op touches.
func (o op) subject() string {
	switch o.method {
	case contract.RequestAuthorization, contract.AccessDoor:
		return o.caller
	default:
		return o.guest
	}
}

// validate reports why the contract would revert op. Callers hold c.mu.
func (c *Contract) validate(o op) error {
	switch o.method {
	case contract.RequestAuthorization, contract.CreateAuthorization:
		if o.method == contract.CreateAuthorization && !c.isOwner(o.caller) {
			return contract.ErrNotOwner
		}
		return c.checkTransition(o.subject(), contract.StatusPending)

	case contract.AcceptAuthorization:
		if !c.isOwner(o.caller) {
			return contract.ErrNotOwner
		}
		return c.checkTransition(o.guest, contract.StatusAccepted)

	case contract.RejectAuthorization:
		if !c.isOwner(o.caller) {
			return contract.ErrNotOwner
		}
		return c.checkTransition(o.guest, contract.StatusRejected)

	case contract.AccessDoor:
		a, ok := c.auths[key(o.caller)]
		if !ok || a.Status != contract.StatusAccepted {
			return contract.ErrNotAuthorized
		}
		return nil

	case contract.Reset:
		if !c.isOwner(o.caller) {
			return contract.ErrNotOwner
		}
		return nil

	default:
		return fmt.Errorf("method %s is not a transaction", o.method)
	}
}

func (c *Contract) checkTransition(guest string, next contract.Status) error {
	current := contract.StatusNull
	if a, ok := c.auths[key(guest)]; ok {
		current = a.Status
	}

	if next == contract.StatusPending && current.Outstanding() {
		return fmt.Errorf("%w: %s", contract.ErrDuplicateRequest, current)
	}

	if !current.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", contract.ErrIllegalTransition, current, next)
	}

	return nil
}

// apply mutates state for a validated op and returns its notification.
// Callers hold c.mu.
func (c *Contract) apply(o op) contract.Event {
	ts := c.now().Unix()
	subject := o.subject()

	switch o.method {
	case contract.RequestAuthorization, contract.CreateAuthorization:
		c.setStatus(subject, o.name, contract.StatusPending, ts)
		return contract.Event{Kind: contract.EventPending, Subject: subject}

	case contract.AcceptAuthorization:
		c.setStatus(subject, "", contract.StatusAccepted, ts)
		return contract.Event{Kind: contract.EventAccepted, Subject: subject}

	case contract.RejectAuthorization:
		c.setStatus(subject, "", contract.StatusRejected, ts)
		return contract.Event{Kind: contract.EventRejected, Subject: subject}

	case contract.AccessDoor:
		c.accesses = append(c.accesses, contract.Access{Timestamp: ts, Guest: o.caller})
		return contract.Event{Kind: contract.EventAccess, Subject: o.caller}

	default:
		for _, k := range c.order {
			a := c.auths[k]
			c.transitions = append(c.transitions, Transition{
				Guest: a.Guest, From: a.Status, To: contract.StatusNull,
			})
		}
		c.auths = make(map[string]*contract.Authorization)
		c.order = nil
		c.accesses = nil
		return contract.Event{Kind: contract.EventReset}
	}
}

func (c *Contract) setStatus(guest, name string, next contract.Status, ts int64) {
	k := key(guest)

	a, ok := c.auths[k]
	if !ok {
		a = &contract.Authorization{Guest: guest}
		c.auths[k] = a
		c.order = append(c.order, k)
	}

	c.transitions = append(c.transitions, Transition{Guest: a.Guest, From: a.Status, To: next})

	a.Status = next
	a.Timestamp = ts
	if name != "" {
		a.Name = name
	}
}

type tx struct {
	hash string
	done chan struct{}
	err  error
}

func (t *tx) Hash() string { return t.hash }

func (t *tx) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Contract) submit(o op) *tx {
	c.mu.Lock()
	c.nextTx++
	t := &tx{
		hash: fmt.Sprintf("0x%064x", c.nextTx),
		done: make(chan struct{}),
	}
	latency := c.latency
	c.mu.Unlock()

	if latency <= 0 {
		c.mine(t, o)
		return t
	}

	time.AfterFunc(latency, func() { c.mine(t, o) })

	return t
}

func (c *Contract) mine(t *tx, o op) {
	c.mu.Lock()

	if err := c.validate(o); err != nil {
		c.mu.Unlock()
		t.err = fmt.Errorf("%w: %s: %w", contract.ErrReverted, o.method, err)
		close(t.done)
		return
	}

	c.block++
	ev := c.apply(o)
	ev.Block = c.block
	ev.TxHash = t.hash
	ev.ObservedAt = c.now()

	subs := make([]*subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		s.push(ev)
	}

	close(t.done)
}
