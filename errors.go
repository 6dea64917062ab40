package vann

import "fmt"

// ErrorCode classifies the narrow error taxonomy the engine surfaces to its
// host. See §7 of SPEC_FULL.md: structural corruption, link-broken (swallowed
// locally, never surfaced as an Error), capacity (fatal panic, never an
// Error), and cancellation are the four classes; only the externally visible
// ones get a code here.
type ErrorCode int

const (
	// ErrConfig marks invalid option values (range, sortedness, schema).
	ErrConfig ErrorCode = iota + 1
	// ErrDimensionMismatch marks a query whose dim differs from Meta.
	ErrDimensionMismatch
	// ErrCancelled marks a check() initiated abort.
	ErrCancelled
	// ErrDataCorruption marks a structural assertion failure.
	ErrDataCorruption
	// ErrNotFound marks a lookup that found nothing (not a failure; some
	// callers use this to distinguish "empty" from a real fault).
	ErrNotFound
)

func (c ErrorCode) String() string {
	switch c {
	case ErrConfig:
		return "config"
	case ErrDimensionMismatch:
		return "dimension mismatch"
	case ErrCancelled:
		return "cancelled"
	case ErrDataCorruption:
		return "data corruption"
	case ErrNotFound:
		return "not found"
	default:
		return "unknown"
	}
}

// Error is the engine's single error type. It always carries a code so hosts
// can branch on it without string matching, and optionally wraps an
// underlying cause (a substrate I/O failure, a deserialization error).
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("vann: %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("vann: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an *Error with no wrapped cause.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError builds an *Error wrapping a lower-level cause.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// IsCancelled reports whether err is (or wraps) an ErrCancelled Error.
func IsCancelled(err error) bool {
	var e *Error
	return asError(err, &e) && e.Code == ErrCancelled
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
