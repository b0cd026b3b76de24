// Package session keeps a caller's view of the contract current. It does
// one full read after connecting and re-reads whenever a notification
// that concerns the caller arrives.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/weiihann/smartdoor/contract"
)

// ErrNotConnected is returned by calls that need a connected session.
var ErrNotConnected = errors.New("session is not connected")

// State is the connection progress of a session.
type State int

const (
	Disconnected State = iota
	Connected
	RoleKnown
	Synced
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case RoleKnown:
		return "role known"
	case Synced:
		return "synced"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Snapshot is the caller's last read of the contract. Guest sessions fill
// Authorization and Accesses; owner sessions fill Authorizations and
// GuestAccesses.
type Snapshot struct {
	Account        string                       `json:"account"`
	Role           contract.Role                `json:"role"`
	Balance        *big.Int                     `json:"balance"`
	Authorization  contract.Authorization       `json:"authorization"`
	Accesses       []contract.Access            `json:"accesses,omitempty"`
	Authorizations []contract.Authorization     `json:"authorizations,omitempty"`
	GuestAccesses  map[string][]contract.Access `json:"guest_accesses,omitempty"`
	RefreshedAt    time.Time                    `json:"refreshed_at"`
}

func (s Snapshot) clone() Snapshot {
	out := s
	if s.Balance != nil {
		out.Balance = new(big.Int).Set(s.Balance)
	}
	out.Accesses = append([]contract.Access(nil), s.Accesses...)
	out.Authorizations = append([]contract.Authorization(nil), s.Authorizations...)

	if s.GuestAccesses != nil {
		out.GuestAccesses = make(map[string][]contract.Access, len(s.GuestAccesses))
		for k, v := range s.GuestAccesses {
			out.GuestAccesses[k] = append([]contract.Access(nil), v...)
		}
	}

	return out
}

// Options configures a Session.
type Options struct {
	Logger *slog.Logger
	// ExpectedChainID is checked on connect and before every action. Zero
	// disables the check.
	ExpectedChainID uint64
	Opts            contract.TxOpts
	// OnRefresh is called with a copy of every new snapshot.
	OnRefresh func(Snapshot)
	Now       func() time.Time
}

// Session is one caller's live view of the contract. Close must be
// called once Connect has succeeded.
type Session struct {
	door   contract.Door
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	state     State
	snap      Snapshot
	refreshes int
	lastErr   string

	sub    contract.Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

func New(door contract.Door, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Session{
		door:   door,
		opts:   opts,
		logger: opts.Logger.With(slog.String("account", door.Account())),
		snap:   Snapshot{Account: door.Account()},
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Connect checks the network, learns the caller's role, subscribes to
// notifications and performs the first full read. The session listens
// until ctx ends or Close is called.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Disconnected {
		s.mu.Unlock()
		return fmt.Errorf("session already %s", s.state)
	}
	s.state = Connected
	s.mu.Unlock()

	if err := s.connect(ctx); err != nil {
		s.setState(Disconnected)
		s.recordError("connect", err)
		return err
	}

	return nil
}

func (s *Session) connect(ctx context.Context) error {
	if err := s.checkChain(ctx); err != nil {
		return err
	}

	role, err := s.door.Role(ctx)
	if err != nil {
		return fmt.Errorf("query role: %w", err)
	}

	s.mu.Lock()
	s.snap.Role = role
	s.state = RoleKnown
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "role known", slog.String("role", role.String()))

	loopCtx, cancel := context.WithCancel(ctx)

	sub, err := s.door.Subscribe(loopCtx, contract.AllEvents()...)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe: %w", err)
	}

	if err := s.Refresh(ctx); err != nil {
		sub.Close()
		cancel()
		return err
	}

	s.sub = sub
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(loopCtx)

	return nil
}

// Close unsubscribes and waits for the event loop to exit.
func (s *Session) Close() {
	if s.done == nil {
		return
	}

	s.cancel()
	s.sub.Close()
	<-s.done

	s.setState(Disconnected)
}

func (s *Session) loop(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-s.sub.Events():
			if !ok {
				return
			}

			if !s.qualifies(ev) {
				s.logger.DebugContext(ctx, "ignoring notification",
					slog.String("event", ev.Kind.String()),
					slog.String("subject", ev.Subject),
				)
				continue
			}

			if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
				s.logger.WarnContext(ctx, "refresh failed",
					slog.String("event", ev.Kind.String()),
					slog.String("error", err.Error()),
				)
			}

		case err := <-s.sub.Err():
			if err != nil {
				s.recordError("listen", err)
				s.logger.WarnContext(ctx, "subscription failed", slog.String("error", err.Error()))
			}
			return
		}
	}
}

// qualifies reports whether ev requires a re-read. Owners administer
// every guest, so every notification concerns them.
func (s *Session) qualifies(ev contract.Event) bool {
	if ev.Global() {
		return true
	}

	if s.Role() == contract.RoleOwner {
		return true
	}

	return ev.Concerns(s.door.Account())
}

// Refresh re-reads the caller's balance and records. The role is not
// re-read.
func (s *Session) Refresh(ctx context.Context) error {
	snap := Snapshot{Account: s.door.Account(), Role: s.Role()}

	var err error

	snap.Balance, err = s.door.Balance(ctx)
	if err != nil {
		return fmt.Errorf("query balance: %w", err)
	}

	if snap.Role == contract.RoleOwner {
		snap.Authorizations, err = s.door.Authorizations(ctx)
		if err != nil {
			return fmt.Errorf("query authorizations: %w", err)
		}

		snap.GuestAccesses = make(map[string][]contract.Access, len(snap.Authorizations))
		for _, a := range snap.Authorizations {
			accesses, err := s.door.GuestAccesses(ctx, a.Guest)
			if err != nil {
				return fmt.Errorf("query accesses of %s: %w", a.Guest, err)
			}
			snap.GuestAccesses[contract.NormalizeAddress(a.Guest)] = accesses
			snap.Accesses = append(snap.Accesses, accesses...)
		}
	} else {
		snap.Authorization, err = s.door.Authorization(ctx)
		if err != nil {
			return fmt.Errorf("query authorization: %w", err)
		}

		snap.Accesses, err = s.door.Accesses(ctx)
		if err != nil {
			return fmt.Errorf("query accesses: %w", err)
		}
	}

	snap.RefreshedAt = s.opts.Now()

	s.mu.Lock()
	s.snap = snap
	s.refreshes++
	s.state = Synced
	n := s.refreshes
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "refreshed", slog.Int("refreshes", n))

	if s.opts.OnRefresh != nil {
		s.opts.OnRefresh(snap.clone())
	}

	return nil
}

// Snapshot returns a copy of the last read.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snap.clone()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

func (s *Session) Role() contract.Role {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snap.Role
}

// Refreshes counts completed full reads.
func (s *Session) Refreshes() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.refreshes
}

// LastError is the message of the most recent failed action, or empty
// after a successful one.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastErr
}

// ClearError dismisses the current error message.
func (s *Session) ClearError() {
	s.mu.Lock()
	s.lastErr = ""
	s.mu.Unlock()
}

func (s *Session) checkChain(ctx context.Context) error {
	if s.opts.ExpectedChainID == 0 {
		return nil
	}

	return contract.EnsureChain(ctx, s.door, s.opts.ExpectedChainID)
}

func (s *Session) recordError(action string, err error) {
	msg := err.Error()
	if errors.Is(err, contract.ErrWrongNetwork) {
		msg = "Change network to " + action
	}

	s.mu.Lock()
	s.lastErr = msg
	s.mu.Unlock()
}
