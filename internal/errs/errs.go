// internal/errs/errs.go
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so callers can decide whether to surface or retry it.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNotFound
	KindConflict
	KindInvalidState
	KindUnavailable
	KindInvalidInput
	KindUnauthorized
	KindRateLimited
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
)

var kindNames = map[Kind]string{
	KindUnknown:      "unknown",
	KindNotFound:     "not_found",
	KindConflict:     "conflict",
	KindInvalidState: "invalid_state",
	KindUnavailable:  "unavailable",
	KindInvalidInput: "invalid_input",
	KindUnauthorized: "unauthorized",
	KindRateLimited:  "rate_limited",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind is the inverse of Kind.String. Unknown names map to KindUnknown.
func ParseKind(name string) Kind {
	for k, n := range kindNames {
		if n == name {
			return k
		}
	}
	return KindUnknown
}

func (k Kind) sentinel() error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindConflict:
		return ErrConflict
	case KindInvalidState:
		return ErrInvalidState
	case KindUnavailable:
		return ErrUnavailable
	case KindInvalidInput:
		return ErrInvalidInput
	case KindUnauthorized:
		return ErrUnauthorized
	case KindRateLimited:
		return ErrRateLimited
	default:
		return nil
	}
}

// Error is the typed failure returned by services and stores.
// Entity and ID name the record involved so a request layer can render a specific message.
type Error struct {
	Kind   Kind
	Op     string
	Entity string
	ID     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Entity != "" {
		b.WriteString(e.Entity)
		if e.ID != "" {
			b.WriteString(" ")
			b.WriteString(e.ID)
		}
		b.WriteString(": ")
	}
	switch {
	case e.Reason != "":
		b.WriteString(e.Reason)
	default:
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind, so errors.Is(err, ErrConflict) works through wrapping.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && s == target
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// WithOp returns err annotated with op when it is an *Error without one; other errors pass through.
func WithOp(op string, err error) error {
	var e *Error
	if errors.As(err, &e) && e.Op == "" {
		cp := *e
		cp.Op = op
		return &cp
	}
	return err
}

func newErr(kind Kind, op, entity string, id fmt.Stringer, reason string) *Error {
	e := &Error{Kind: kind, Op: op, Entity: entity, Reason: reason}
	if id != nil {
		e.ID = id.String()
	}
	return e
}

func NotFound(op, entity string, id fmt.Stringer) *Error {
	return newErr(KindNotFound, op, entity, id, "not found")
}

func Conflict(op, entity string, id fmt.Stringer, reason string) *Error {
	return newErr(KindConflict, op, entity, id, reason)
}

func InvalidState(op, entity string, id fmt.Stringer, reason string) *Error {
	return newErr(KindInvalidState, op, entity, id, reason)
}

func InvalidInput(op, reason string) *Error {
	return newErr(KindInvalidInput, op, "", nil, reason)
}

func Unauthorized(op, reason string) *Error {
	return newErr(KindUnauthorized, op, "", nil, reason)
}

func RateLimited(op string) *Error {
	return newErr(KindRateLimited, op, "", nil, "rate limit exceeded")
}

// Unavailable wraps a transient fault from a collaborating store.
func Unavailable(op string, err error) *Error {
	return &Error{Kind: KindUnavailable, Op: op, Reason: "store unavailable", Err: err}
}
