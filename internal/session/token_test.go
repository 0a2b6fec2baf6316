package session

import (
	"testing"
	"time"
)

func TestTokenIssuerRoundTrip(t *testing.T) {
	iss := NewTokenIssuer([]byte("a-test-secret"), time.Minute)

	tok, err := iss.Issue("sess-123")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	sub, err := iss.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if sub != "sess-123" {
		t.Fatalf("got subject %q, want sess-123", sub)
	}
}

func TestTokenIssuerRejectsExpiredToken(t *testing.T) {
	iss := NewTokenIssuer([]byte("a-test-secret"), -time.Minute)

	tok, err := iss.Issue("sess-123")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := iss.Verify(tok); err != ErrTokenExpired {
		t.Fatalf("got %v, want ErrTokenExpired", err)
	}
}

func TestTokenIssuerRejectsForeignSecret(t *testing.T) {
	a := NewTokenIssuer([]byte("secret-a"), time.Minute)
	b := NewTokenIssuer([]byte("secret-b"), time.Minute)

	tok, err := a.Issue("sess-123")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := b.Verify(tok); err == nil {
		t.Fatal("expected verification to fail against a different secret")
	}
}
