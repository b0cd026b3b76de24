package contract

import (
	"fmt"
	"time"
)

// EventKind names one of the contract's state-change notifications.
type EventKind int

const (
	EventPending EventKind = iota + 1
	EventAccepted
	EventRejected
	EventAccess
	EventReset
)

var eventNames = map[EventKind]string{
	EventPending:  "pendingAuthorisation",
	EventAccepted: "acceptedAuthorisation",
	EventRejected: "rejectedAuthorisation",
	EventAccess:   "newAccess",
	EventReset:    "newReset",
}

// AllEvents lists every notification kind in declaration order.
func AllEvents() []EventKind {
	return []EventKind{
		EventPending, EventAccepted, EventRejected, EventAccess, EventReset,
	}
}

// ABIName returns the event name used in the contract ABI.
func (k EventKind) ABIName() string {
	return eventNames[k]
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}

	return fmt.Sprintf("EventKind(%d)", int(k))
}

// EventKindFromABI maps an ABI event name back to its kind.
func EventKindFromABI(name string) (EventKind, bool) {
	for k, n := range eventNames {
		if n == name {
			return k, true
		}
	}

	return 0, false
}

// Event is one observed notification. Subject is the guest the
// notification is about; it is empty for reset.
type Event struct {
	Kind       EventKind `json:"kind"`
	Subject    string    `json:"subject,omitempty"`
	Block      uint64    `json:"block,omitempty"`
	TxHash     string    `json:"tx_hash,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// Global reports whether the notification concerns every account.
func (e Event) Global() bool {
	return e.Kind == EventReset
}

// Concerns reports whether the notification is scoped to account, or is
// global.
func (e Event) Concerns(account string) bool {
	return e.Global() || SameAccount(e.Subject, account)
}

// Subscription is a live stream of notifications. Close must be called to
// release it; after Close the Events channel is closed.
type Subscription interface {
	Events() <-chan Event
	Err() <-chan error
	Close()
}
