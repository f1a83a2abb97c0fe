package types

import (
	"errors"
	"fmt"
)

// Kind classifies a failed operation. The numeric value doubles as the
// ABCI result code.
type Kind uint32

const (
	KindAuthorization Kind = iota + 1
	KindState
	KindInvariant
	KindInsufficientPayment
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization error"
	case KindState:
		return "state error"
	case KindInvariant:
		return "invariant violation"
	case KindInsufficientPayment:
		return "insufficient payment"
	default:
		return "unknown error"
	}
}

// Error is the single failure type returned by core operations.
type Error struct {
	Kind   Kind
	Op     string
	Detail string
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Detail)
}

// Is matches the kind sentinels below, so errors.Is(err, ErrState) works
// for every state error regardless of op and detail.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Detail == "" && t.Kind == e.Kind
}

var (
	ErrAuthorization       = &Error{Kind: KindAuthorization}
	ErrState               = &Error{Kind: KindState}
	ErrInvariant           = &Error{Kind: KindInvariant}
	ErrInsufficientPayment = &Error{Kind: KindInsufficientPayment}
)

func newError(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// Unauthorized reports a wrong role, owner or approval.
func Unauthorized(op, format string, args ...any) error {
	return newError(KindAuthorization, op, format, args...)
}

// BadState reports a precondition on mutable state that does not hold.
func BadState(op, format string, args ...any) error {
	return newError(KindState, op, format, args...)
}

// Violation reports misuse of an index, an address or a missing collaborator.
func Violation(op, format string, args ...any) error {
	return newError(KindInvariant, op, format, args...)
}

// Underpaid reports a payment below what the operation requires.
func Underpaid(op, format string, args ...any) error {
	return newError(KindInsufficientPayment, op, format, args...)
}

// KindOf returns the kind of err, or 0 when err is not a core error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
