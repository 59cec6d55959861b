package fault

import (
	"context"
	"errors"
	"fmt"

	"nautgate/internal/gateway/engine"
	"nautgate/internal/logger"
)

// Category is the stable, caller-facing error taxonomy. Every failure that
// crosses the gateway boundary carries exactly one category.
type Category string

const (
	Validation Category = "ValidationError"
	Session    Category = "SessionError"
	Connection Category = "ConnectionError"
	Auth       Category = "AuthError"
	Trading    Category = "TradingError"
	OrderBusy  Category = "OrderBusy"
	Timeout    Category = "Timeout"
	System     Category = "SystemError"
)

// Error is a classified failure. Message is safe to return to callers and to
// log: it never contains credentials or raw internal state.
type Error struct {
	Category  Category
	Retryable bool
	Message   string
	cause     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a classified error with the category's default retryability.
func New(cat Category, message string) *Error {
	return &Error{Category: cat, Retryable: defaultRetryable(cat), Message: message}
}

func Newf(cat Category, format string, v ...any) *Error {
	return New(cat, fmt.Sprintf(format, v...))
}

// Wrap attaches a category to an underlying error, keeping the chain intact
// for errors.Is/As while exposing only the safe message.
func Wrap(cat Category, err error, message string) *Error {
	return &Error{Category: cat, Retryable: defaultRetryable(cat), Message: message, cause: err}
}

func defaultRetryable(cat Category) bool {
	switch cat {
	case Connection, OrderBusy, Timeout:
		return true
	default:
		return false
	}
}

// Classify maps any failure into exactly one category. It is total: already
// classified errors pass through, typed facade failures map by kind, context
// errors map to Timeout, and anything unrecognized becomes a SystemError and
// is logged at error level so it is never silently swallowed.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}

	var authErr *engine.AuthFailure
	if errors.As(err, &authErr) {
		return Wrap(Auth, err, fmt.Sprintf("venue %s rejected credentials", authErr.VenueID))
	}

	var connErr *engine.ConnFailure
	if errors.As(err, &connErr) {
		return Wrap(Connection, err, fmt.Sprintf("venue %s unreachable: %s", connErr.VenueID, connErr.Reason))
	}

	var rejErr *engine.RejectFailure
	if errors.As(err, &rejErr) {
		// Engine reject reasons are passed through verbatim.
		return Wrap(Trading, err, rejErr.Reason)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(Timeout, err, "operation timed out awaiting engine response")
	}
	if errors.Is(err, context.Canceled) {
		return Wrap(Timeout, err, "operation canceled before engine response")
	}

	logger.Errorf("fault: unclassified failure treated as system error: %v", err)
	return Wrap(System, err, "internal error")
}

// CategoryOf reports the category an error would classify to.
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}
	return Classify(err).Category
}

// IsRetryable reports whether a caller may retry the failed operation.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err).Retryable
}
