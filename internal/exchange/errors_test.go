package exchange

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		code   int
		msg    string
		want   Kind
	}{
		{"http 401", 401, 0, "", KindAuth},
		{"venue code 1000", 0, 1000, "session expired", KindAuth},
		{"authenticate in message", 400, 0, "please authenticate first", KindAuth},
		{"unauthorized in message", 403, 0, "Unauthorized access", KindAuth},
		{"http 429", 429, 0, "slow down", KindRateLimited},
		{"venue code 1006", 200, 1006, "too many requests", KindRateLimited},
		{"would match", 400, 0, "order would match resting liquidity", KindPostOnlyRejected},
		{"post only reject", 400, 0, "POST_ONLY order rejected", KindPostOnlyRejected},
		{"taker reject", 400, 0, "order would be a taker", KindPostOnlyRejected},
		{"insufficient balance", 400, 0, "insufficient balance for order", KindInsufficientSize},
		{"below minimum", 400, 0, "size below minimum", KindInsufficientSize},
		{"server error", 503, 0, "upstream unavailable", KindTransient},
		{"no status no code", 0, 0, "connection reset", KindTransient},
		{"semantic 4xx", 400, 0, "invalid instrument", KindPermanent},
		{"venue code only", 0, 2004, "order price out of range", KindPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := classify("test_op", tt.status, tt.code, tt.msg)
			if got.Kind != tt.want {
				t.Errorf("classify(%d, %d, %q).Kind = %v, want %v", tt.status, tt.code, tt.msg, got.Kind, tt.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	authErr := classify("login", 401, 0, "")
	if KindOf(authErr) != KindAuth {
		t.Errorf("KindOf(auth error) = %v, want KindAuth", KindOf(authErr))
	}

	wrapped := fmt.Errorf("place order: %w", authErr)
	if KindOf(wrapped) != KindAuth {
		t.Errorf("KindOf(wrapped auth error) = %v, want KindAuth", KindOf(wrapped))
	}

	if KindOf(errors.New("dial tcp: connection refused")) != KindTransient {
		t.Error("unclassified errors should default to KindTransient")
	}

	if !IsKind(wrapped, KindAuth) {
		t.Error("IsKind should see through wrapping")
	}
	if IsKind(nil, KindTransient) {
		t.Error("IsKind(nil) should be false")
	}
}

func TestTransportErrorUnwraps(t *testing.T) {
	t.Parallel()

	cause := errors.New("read tcp: i/o timeout")
	err := transportError("book", cause)

	if err.Kind != KindTransient {
		t.Errorf("Kind = %v, want KindTransient", err.Kind)
	}
	if !errors.Is(err, cause) {
		t.Error("transportError should wrap its cause")
	}
}

func TestOrderGone(t *testing.T) {
	t.Parallel()

	tests := []struct {
		msg  string
		want bool
	}{
		{"order not found", true},
		{"order does not exist", true},
		{"Order Already Closed", true},
		{"order already canceled", true},
		{"order already cancelled", true},
		{"insufficient permissions", false},
		{"rate limit exceeded", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := orderGone(tt.msg); got != tt.want {
			t.Errorf("orderGone(%q) = %v, want %v", tt.msg, got, tt.want)
		}
		err := fmt.Errorf("get_order: %w", classify("get_order", 404, 0, tt.msg))
		if got := OrderGone(err); got != tt.want {
			t.Errorf("OrderGone(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}

	if OrderGone(errors.New("order not found")) {
		t.Error("OrderGone should ignore errors that never passed classification")
	}
}
