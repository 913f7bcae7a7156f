// errors.go classifies venue and transport failures into the recovery
// policies the rest of the engine understands.
//
// The venue reports failures through three inconsistent channels: an HTTP
// status, a numeric venue code, and a free-text message. Classification
// inspects all three. Callers branch on Kind via KindOf/IsKind and never
// parse message text themselves.
package exchange

import (
	"errors"
	"fmt"
	"strings"
)

// Kind buckets a failed exchange call by its recovery policy.
type Kind int

const (
	// KindTransient covers network errors, timeouts, and 5xx replies.
	// The operation is skipped and retried on a later tick.
	KindTransient Kind = iota

	// KindAuth means the session was rejected. The client re-logs-in once
	// before surfacing this to callers.
	KindAuth

	// KindPostOnlyRejected means a post-only order would have crossed the
	// book. The decision engine reprices and retries.
	KindPostOnlyRejected

	// KindRateLimited means the venue throttled the request. Backoff to
	// the next tick.
	KindRateLimited

	// KindInsufficientSize means the order failed the venue's minimum-size
	// or balance checks. The placement is skipped for this tick.
	KindInsufficientSize

	// KindPermanent covers the remaining 4xx semantic rejections. Never
	// retried.
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindPostOnlyRejected:
		return "post_only_rejected"
	case KindRateLimited:
		return "rate_limited"
	case KindInsufficientSize:
		return "insufficient_size"
	case KindPermanent:
		return "permanent"
	default:
		return "transient"
	}
}

// Error is a classified exchange failure. Op names the API call, Status is
// the HTTP status (0 for pure transport errors), Code the venue error code.
type Error struct {
	Op      string
	Kind    Kind
	Status  int
	Code    int
	Message string
	wrapped error
}

func (e *Error) Error() string {
	if e.Code != 0 || e.Status != 0 {
		return fmt.Sprintf("%s: %s (code=%d status=%d): %s", e.Op, e.Kind, e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// KindOf returns err's classification. Errors that never passed through
// the classifier (raw transport failures, context timeouts) count as
// transient.
func KindOf(err error) Kind {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return KindTransient
}

// IsKind reports whether err carries classification k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// transportError wraps a failed round trip (dial, timeout, broken pipe).
func transportError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindTransient, Message: err.Error(), wrapped: err}
}

// classify maps the venue's reply onto a Kind. The heuristics mirror the
// venue's observed behaviour: the numeric code is authoritative when
// present, the HTTP status next, the message text last.
func classify(op string, status, code int, msg string) *Error {
	lower := strings.ToLower(msg)
	kind := KindPermanent

	switch {
	case status == 401, code == 1000,
		strings.Contains(lower, "authenticate"),
		strings.Contains(lower, "unauthorized"):
		kind = KindAuth
	case status == 429, code == 1006:
		kind = KindRateLimited
	case strings.Contains(lower, "would match"),
		strings.Contains(lower, "post"),
		strings.Contains(lower, "maker"),
		strings.Contains(lower, "taker"):
		kind = KindPostOnlyRejected
	case strings.Contains(lower, "insufficient"),
		strings.Contains(lower, "minimum"),
		strings.Contains(lower, "min size"):
		kind = KindInsufficientSize
	case status >= 500, status == 0 && code == 0:
		kind = KindTransient
	}

	return &Error{Op: op, Kind: kind, Status: status, Code: code, Message: msg}
}

// OrderGone reports whether err means the order already left the book
// (filled or cancelled elsewhere). Cancels treat these as success; order
// polls treat them as terminal.
func OrderGone(err error) bool {
	var ee *Error
	if errors.As(err, &ee) {
		return orderGone(ee.Message)
	}
	return false
}

func orderGone(msg string) bool {
	lower := strings.ToLower(msg)
	for _, s := range []string{
		"not found",
		"does not exist",
		"already closed",
		"already canceled",
		"already cancelled",
	} {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
