package contract

import (
	"context"
	"fmt"
	"strings"
)

// Mutability tells read calls from billable state-changing calls.
type Mutability int

const (
	Read Mutability = iota + 1
	Write
)

func (m Mutability) String() string {
	switch m {
	case Read:
		return "view"
	case Write:
		return "payable"
	default:
		return fmt.Sprintf("Mutability(%d)", int(m))
	}
}

// Param is one argument slot of a method.
type Param int

const (
	ParamName Param = iota + 1
	ParamGuest
)

// Method enumerates the contract's methods.
type Method int

const (
	GetRole Method = iota + 1
	RequestAuthorization
	GetAuthorization
	AccessDoor
	GetAccesses
	GetData
	CreateAuthorization
	AcceptAuthorization
	RejectAuthorization
	GetGuestAccesses
	Reset
)

// MethodSpec is the static description of a method: its ABI name, the
// label used in reports (which disambiguates the overloaded getAccesses),
// its argument shape, and the notification a confirmed write emits.
type MethodSpec struct {
	Name       string
	Label      string
	Mutability Mutability
	Params     []Param
	Event      EventKind
}

var methodSpecs = map[Method]MethodSpec{
	GetRole: {
		Name: "getRole", Label: "getRole", Mutability: Read,
	},
	RequestAuthorization: {
		Name: "requestAuthorisation", Label: "requestAuthorisation",
		Mutability: Write, Params: []Param{ParamName}, Event: EventPending,
	},
	GetAuthorization: {
		Name: "getAuthorisation", Label: "getAuthorisation", Mutability: Read,
	},
	AccessDoor: {
		Name: "accessDoor", Label: "accessDoor",
		Mutability: Write, Event: EventAccess,
	},
	GetAccesses: {
		Name: "getAccesses", Label: "getAccesses()", Mutability: Read,
	},
	GetData: {
		Name: "getData", Label: "getData", Mutability: Read,
	},
	CreateAuthorization: {
		Name: "createAuthorisation", Label: "createAuthorisation",
		Mutability: Write, Params: []Param{ParamName, ParamGuest},
		Event: EventPending,
	},
	AcceptAuthorization: {
		Name: "acceptAuthorisation", Label: "acceptAuthorisation",
		Mutability: Write, Params: []Param{ParamGuest}, Event: EventAccepted,
	},
	RejectAuthorization: {
		Name: "rejectAuthorisation", Label: "rejectAuthorisation",
		Mutability: Write, Params: []Param{ParamGuest}, Event: EventRejected,
	},
	GetGuestAccesses: {
		Name: "getAccesses", Label: "getAccesses(address)",
		Mutability: Read, Params: []Param{ParamGuest},
	},
	Reset: {
		Name: "reset", Label: "reset", Mutability: Write, Event: EventReset,
	},
}

// Methods lists every method in the order the benchmark issues them.
func Methods() []Method {
	return []Method{
		GetRole, RequestAuthorization, GetAuthorization, AccessDoor,
		GetAccesses, GetData, CreateAuthorization, AcceptAuthorization,
		RejectAuthorization, GetGuestAccesses, Reset,
	}
}

// Spec returns the static description of m.
func (m Method) Spec() MethodSpec {
	return methodSpecs[m]
}

func (m Method) String() string {
	if spec, ok := methodSpecs[m]; ok {
		return spec.Label
	}

	return fmt.Sprintf("Method(%d)", int(m))
}

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	_, ok := methodSpecs[m]
	return ok
}

// ParseMethod resolves a report label such as "getAccesses(address)". A
// bare overloaded name resolves to its argument-less form.
func ParseMethod(s string) (Method, error) {
	s = strings.TrimSpace(s)

	for _, m := range Methods() {
		if methodSpecs[m].Label == s {
			return m, nil
		}
	}

	for _, m := range Methods() {
		spec := methodSpecs[m]
		if spec.Name == s && len(spec.Params) == 0 {
			return m, nil
		}
	}

	for _, m := range Methods() {
		if methodSpecs[m].Name == s {
			return m, nil
		}
	}

	return 0, fmt.Errorf("unknown method %q", s)
}

// Call is a method together with its arguments.
type Call struct {
	Method Method
	Name   string
	Guest  string
}

func (c Call) String() string {
	return c.Method.String()
}

// Validate checks that every argument the method takes is well formed.
func (c Call) Validate() error {
	spec, ok := methodSpecs[c.Method]
	if !ok {
		return fmt.Errorf("unknown method %d", int(c.Method))
	}

	for _, p := range spec.Params {
		switch p {
		case ParamName:
			if err := ValidateName(c.Name); err != nil {
				return fmt.Errorf("%s: %w", spec.Label, err)
			}
		case ParamGuest:
			if err := ValidateAddress(c.Guest); err != nil {
				return fmt.Errorf("%s: %w", spec.Label, err)
			}
		}
	}

	return nil
}

// Subject returns the account the call's notification will carry when
// issued by caller. It is empty for calls whose notification is global.
func (c Call) Subject(caller string) string {
	switch c.Method {
	case RequestAuthorization, AccessDoor:
		return caller
	case CreateAuthorization, AcceptAuthorization, RejectAuthorization:
		return c.Guest
	default:
		return ""
	}
}

// Dispatch issues call against d. Read calls complete before Dispatch
// returns and yield a nil Tx.
func Dispatch(ctx context.Context, d Door, call Call, opts TxOpts) (Tx, error) {
	if err := call.Validate(); err != nil {
		return nil, err
	}

	var err error

	switch call.Method {
	case GetRole:
		_, err = d.Role(ctx)
	case GetAuthorization:
		_, err = d.Authorization(ctx)
	case GetAccesses:
		_, err = d.Accesses(ctx)
	case GetData:
		_, err = d.Authorizations(ctx)
	case GetGuestAccesses:
		_, err = d.GuestAccesses(ctx, call.Guest)
	case RequestAuthorization:
		return d.RequestAuthorization(ctx, opts, call.Name)
	case CreateAuthorization:
		return d.CreateAuthorization(ctx, opts, call.Name, call.Guest)
	case AcceptAuthorization:
		return d.AcceptAuthorization(ctx, opts, call.Guest)
	case RejectAuthorization:
		return d.RejectAuthorization(ctx, opts, call.Guest)
	case AccessDoor:
		return d.AccessDoor(ctx, opts)
	case Reset:
		return d.Reset(ctx, opts)
	}

	return nil, err
}
