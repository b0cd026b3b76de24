package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weiihann/smartdoor/contract"
)

// action describes one front-end operation.
type action struct {
	phrase    string
	call      contract.Call
	ownerOnly bool
	// check runs against the current snapshot before anything is sent.
	check func(Snapshot) error
}

// RequestAuthorization asks the owner to let the caller in under name.
func (s *Session) RequestAuthorization(ctx context.Context, name string) error {
	return s.run(ctx, action{
		phrase: "request the authorisation",
		call:   contract.Call{Method: contract.RequestAuthorization, Name: name},
		check: func(snap Snapshot) error {
			return contract.CheckDuplicate([]contract.Authorization{snap.Authorization}, snap.Account)
		},
	})
}

// CreateAuthorization registers guest under name on the owner's behalf.
func (s *Session) CreateAuthorization(ctx context.Context, name, guest string) error {
	return s.run(ctx, action{
		phrase:    "create the authorisation",
		call:      contract.Call{Method: contract.CreateAuthorization, Name: name, Guest: guest},
		ownerOnly: true,
		check: func(snap Snapshot) error {
			return contract.CheckDuplicate(snap.Authorizations, guest)
		},
	})
}

// AcceptAuthorization lets a pending guest in.
func (s *Session) AcceptAuthorization(ctx context.Context, guest string) error {
	return s.run(ctx, action{
		phrase:    "accept the authorisation",
		call:      contract.Call{Method: contract.AcceptAuthorization, Guest: guest},
		ownerOnly: true,
	})
}

// RejectAuthorization turns a pending guest away.
func (s *Session) RejectAuthorization(ctx context.Context, guest string) error {
	return s.run(ctx, action{
		phrase:    "reject the authorisation",
		call:      contract.Call{Method: contract.RejectAuthorization, Guest: guest},
		ownerOnly: true,
	})
}

// AccessDoor opens the door with the caller's accepted authorization.
func (s *Session) AccessDoor(ctx context.Context) error {
	return s.run(ctx, action{
		phrase: "open the door",
		call:   contract.Call{Method: contract.AccessDoor},
	})
}

// Reset clears every authorization and access.
func (s *Session) Reset(ctx context.Context) error {
	return s.run(ctx, action{
		phrase:    "reset the contract",
		call:      contract.Call{Method: contract.Reset},
		ownerOnly: true,
	})
}

// run validates, sends and confirms a, recording a user-facing message on
// failure. The snapshot is updated by the notification the call emits.
func (s *Session) run(ctx context.Context, a action) error {
	if err := s.send(ctx, a); err != nil {
		s.recordError(a.phrase, err)
		s.logger.WarnContext(ctx, "action failed",
			slog.String("method", a.call.Method.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	s.ClearError()

	return nil
}

func (s *Session) send(ctx context.Context, a action) error {
	if s.State() != Synced {
		return ErrNotConnected
	}

	if err := a.call.Validate(); err != nil {
		return err
	}

	snap := s.Snapshot()

	if a.ownerOnly && snap.Role != contract.RoleOwner {
		return contract.ErrNotOwner
	}

	if a.check != nil {
		if err := a.check(snap); err != nil {
			return err
		}
	}

	if err := s.checkChain(ctx); err != nil {
		return err
	}

	tx, err := contract.Dispatch(ctx, s.door, a.call, s.opts.Opts)
	if err != nil {
		return fmt.Errorf("send %s: %w", a.call.Method, err)
	}

	if err := tx.Wait(ctx); err != nil {
		return fmt.Errorf("confirm %s: %w", a.call.Method, err)
	}

	s.logger.InfoContext(ctx, "action confirmed",
		slog.String("method", a.call.Method.String()),
		slog.String("tx", tx.Hash()),
	)

	return nil
}
