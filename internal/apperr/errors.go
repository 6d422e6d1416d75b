// Package apperr is the shared error taxonomy. Callers match on kinds with
// errors.Is against the exported sentinels; the HTTP layer maps kinds to statuses.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation     Kind = "validation"
	KindConflict       Kind = "conflict"
	KindNotFound       Kind = "not_found"
	KindTransport      Kind = "transport"
	KindRetryExhausted Kind = "retry_exhausted"
)

var (
	ErrValidation     = &Error{Kind: KindValidation}
	ErrConflict       = &Error{Kind: KindConflict}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrTransport      = &Error{Kind: KindTransport}
	ErrRetryExhausted = &Error{Kind: KindRetryExhausted}
)

// Error carries a kind, the failing operation and an optional cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound) works
// regardless of op or message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func Validation(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func Conflict(op, format string, args ...any) error {
	return &Error{Kind: KindConflict, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(op, format string, args ...any) error {
	return &Error{Kind: KindNotFound, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func Transport(op string, err error) error {
	return &Error{Kind: KindTransport, Op: op, Msg: "send failed", Err: err}
}

func RetryExhausted(op string, attempts int, err error) error {
	return &Error{Kind: KindRetryExhausted, Op: op, Msg: fmt.Sprintf("gave up after %d attempts", attempts), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool   { return errors.Is(err, ErrConflict) }
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
func IsTransport(err error) bool  { return errors.Is(err, ErrTransport) }
