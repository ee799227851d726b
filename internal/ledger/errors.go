package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("bounty not found")
	ErrInvalidState      = errors.New("invalid bounty state")
	ErrUnauthorized      = errors.New("caller not authorized")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInsufficientFunds = errors.New("insufficient funds in custody")
)

// Error describes a rejected write. It unwraps to one of the sentinel errors
// above so callers can classify it with errors.Is.
type Error struct {
	Op  string
	ID  uint64
	Err error
	Msg string

	global bool
}

func (e *Error) Error() string {
	subject := fmt.Sprintf("%s bounty %d", e.Op, e.ID)
	if e.global {
		subject = e.Op
	}
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", subject, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", subject, e.Err, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, id uint64, kind error, format string, args ...any) *Error {
	return &Error{Op: op, ID: id, Err: kind, Msg: fmt.Sprintf(format, args...)}
}

func globalError(op string, kind error, format string, args ...any) *Error {
	return &Error{Op: op, Err: kind, Msg: fmt.Sprintf(format, args...), global: true}
}

// Kind returns the sentinel an error wraps, or nil for unclassified errors.
func Kind(err error) error {
	for _, kind := range []error{ErrNotFound, ErrInvalidState, ErrUnauthorized, ErrInvalidArgument, ErrInsufficientFunds} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
