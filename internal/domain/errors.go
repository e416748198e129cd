package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is the sentinel used by storage scans.
var ErrNotFound = errors.New("not found")

type Kind int

const (
	KindValidation Kind = iota // malformed or missing input
	KindNotFound               // room/booking/property absent
	KindConflict               // date overlap, capacity, min-stay
	KindUpstream               // CRM or channel-manager call failed
	KindParse                  // webhook body in no known format
)

// Error carries a user-displayable message plus a kind the HTTP layer maps
// to a status code. Wrapped causes stay reachable through Unwrap.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...), Err: ErrNotFound}
}

func Conflictf(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func Upstream(msg string, cause error) *Error {
	return &Error{Kind: KindUpstream, Message: msg, Err: cause}
}

func Parsef(format string, args ...any) *Error {
	return &Error{Kind: KindParse, Message: fmt.Sprintf(format, args...)}
}

// KindOf reports the kind of err when it is (or wraps) a *Error.
func KindOf(err error) (Kind, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind, true
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound, true
	}
	return 0, false
}

func IsKind(err error, k Kind) bool {
	got, ok := KindOf(err)
	return ok && got == k
}
