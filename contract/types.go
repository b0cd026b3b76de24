// Package contract describes the SmartDoor access-control contract as a
// typed capability: the records it stores, the methods it exposes, the
// notifications it emits, and the client-side checks that run before a
// state-changing call is submitted.
package contract

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of an authorization, mirrored from the
// contract's Status enum.
type Status uint8

const (
	StatusNull Status = iota
	StatusPending
	StatusAccepted
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusNull:
		return "NULL"
	case StatusPending:
		return "PENDING"
	case StatusAccepted:
		return "ACCEPTED"
	case StatusRejected:
		return "REJECTED"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// CanTransition reports whether a conformant contract may move an
// authorization from s to next. PENDING is the only entry state; REJECTED
// may return to PENDING through a new request; reset returns anything to
// NULL.
func (s Status) CanTransition(next Status) bool {
	if next == StatusNull {
		return true
	}

	switch s {
	case StatusNull, StatusRejected:
		return next == StatusPending
	case StatusPending:
		return next == StatusAccepted || next == StatusRejected
	default:
		return false
	}
}

// Outstanding reports whether the status blocks a new request for the
// same guest.
func (s Status) Outstanding() bool {
	return s == StatusPending || s == StatusAccepted
}

// Role is the caller's role as reported by getRole.
type Role uint8

const (
	RoleNull Role = iota
	RoleOwner
	RoleGuest
)

func (r Role) String() string {
	switch r {
	case RoleNull:
		return "none"
	case RoleOwner:
		return "owner"
	case RoleGuest:
		return "guest"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// Authorization is a guest's request-for-access record.
type Authorization struct {
	Timestamp int64  `json:"timestamp"`
	Guest     string `json:"guest"`
	Name      string `json:"name,omitempty"`
	Status    Status `json:"status"`
}

// Exists reports whether the record holds a request.
func (a Authorization) Exists() bool {
	return a.Status != StatusNull
}

// Access is one confirmed door opening.
type Access struct {
	Timestamp int64  `json:"timestamp"`
	Guest     string `json:"guest"`
}

// SameAccount compares account identifiers the way the chain does:
// hex addresses are case-insensitive.
func SameAccount(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
