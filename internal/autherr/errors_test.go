package autherr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("login: %w", New(KindInvalidCredentials, "wrong password", nil))
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials match")
	}
	if errors.Is(err, ErrServerError) {
		t.Fatalf("unexpected server error match")
	}
	if KindOf(err) != KindInvalidCredentials {
		t.Fatalf("expected kind %s, got %s", KindInvalidCredentials, KindOf(err))
	}
}

func TestUserMessage(t *testing.T) {
	if got := UserMessage(Validation("email", "bad email")); got != "bad email" {
		t.Fatalf("expected field message, got %q", got)
	}
	if got := UserMessage(New(KindOtpExpired, "", nil)); got != defaultMessages[KindOtpExpired] {
		t.Fatalf("expected default otp expired message, got %q", got)
	}
	if got := UserMessage(errors.New("dial tcp: refused")); got != defaultMessages[KindServerError] {
		t.Fatalf("foreign errors must not leak, got %q", got)
	}
	if UserMessage(nil) != "" {
		t.Fatalf("nil error should render empty")
	}
}

func TestUnwrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := New(KindNetworkFailure, "", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
}
