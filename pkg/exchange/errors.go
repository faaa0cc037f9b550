package exchange

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies provider failures so callers can choose between retrying,
// backing off, and surfacing.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransient covers network failures, venue 5xx responses, and
	// cancelled or timed-out requests. The venue may or may not have seen
	// the request; the reconcile loop resolves the ambiguity.
	KindTransient
	// KindRateLimited marks venue throttling. Retry after backoff.
	KindRateLimited
	// KindInvalidRequest is a venue rejection of the request itself.
	KindInvalidRequest
	// KindInsufficientMargin is a venue rejection for lack of collateral.
	KindInsufficientMargin
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindInvalidRequest:
		return "invalid_request"
	case KindInsufficientMargin:
		return "insufficient_margin"
	default:
		return "unknown"
	}
}

// Error is the failure type returned by providers. Op names the provider
// call; Coin is set when the failure is instrument-scoped.
type Error struct {
	Kind Kind
	Op   string
	Coin string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	prefix := e.Op
	if e.Coin != "" {
		prefix = fmt.Sprintf("%s %s", e.Op, e.Coin)
	}
	if e.Msg != "" && e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Msg, e.Err)
	}
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", prefix, e.Msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", prefix, e.Err)
	}
	return prefix
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a provider error with a literal message.
func NewError(kind Kind, op, coin, msg string) *Error {
	return &Error{Kind: kind, Op: op, Coin: coin, Msg: msg}
}

// WrapError classifies an underlying error. Context cancellation and
// deadline expiry are always mapped to KindTransient regardless of the
// kind the caller proposes.
func WrapError(kind Kind, op string, err error) *Error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		kind = KindTransient
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the failure kind, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindUnknown
}

// IsRetryable reports whether a failed call may succeed if repeated.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindRateLimited:
		return true
	default:
		return false
	}
}
