package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/uniplex/gate/internal/gatetypes"
)

type fakeBootstrapper struct {
	cred *gatetypes.Credential
	err  error
}

func (f fakeBootstrapper) IssueSafeDefault(_ context.Context, _ string) (*gatetypes.Credential, error) {
	return f.cred, f.err
}

func TestGetOrCreateCreatesOnFirstCall(t *testing.T) {
	s := New(Config{})
	sess, err := s.GetOrCreate(context.Background(), "sess-1", nil)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if sess.SessionID != "sess-1" {
		t.Fatalf("got %+v", sess)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 session, got %d", s.Len())
	}
}

func TestGetOrCreateReturnsExistingSession(t *testing.T) {
	s := New(Config{})
	first, _ := s.GetOrCreate(context.Background(), "sess-1", nil)
	second, _ := s.GetOrCreate(context.Background(), "sess-1", nil)
	if first != second {
		t.Fatal("expected same *Session pointer on repeated GetOrCreate")
	}
}

func TestGetOrCreateBootstrapsSafeDefaultCredential(t *testing.T) {
	cred := &gatetypes.Credential{CredentialID: "safe-default", Claims: []gatetypes.Claim{{PermissionKey: "flights:search"}}}
	boot := fakeBootstrapper{cred: cred}
	s := New(Config{})
	sess, err := s.GetOrCreate(context.Background(), "sess-1", boot)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if sess.Credential == nil || sess.Credential.CredentialID != "safe-default" {
		t.Fatalf("expected bootstrapped credential, got %+v", sess.Credential)
	}
	if sess.Credential.ClaimIndex == nil {
		t.Fatal("expected claim index rebuilt on credential assignment")
	}
}

func TestGetOrCreateBootstrapFailureStillReturnsSession(t *testing.T) {
	boot := fakeBootstrapper{err: errors.New("issuer unreachable")}
	s := New(Config{})
	sess, err := s.GetOrCreate(context.Background(), "sess-1", boot)
	if err == nil {
		t.Fatal("expected bootstrap error to propagate")
	}
	if sess == nil || sess.Credential != nil {
		t.Fatalf("expected bare session with no credential, got %+v", sess)
	}
}

func TestCleanupPurgesInactiveSessions(t *testing.T) {
	s := New(Config{InactivityThreshold: time.Minute})
	sess, _ := s.GetOrCreate(context.Background(), "sess-1", nil)
	sess.LastActivityAt = time.Now().Add(-2 * time.Minute)

	purged := s.Cleanup(time.Now())
	if purged != 1 {
		t.Fatalf("expected 1 purged, got %d", purged)
	}
	if s.Len() != 0 {
		t.Fatalf("expected 0 sessions remaining, got %d", s.Len())
	}
}

func TestCleanupClearsExpiredCredentialWithoutPurgingSession(t *testing.T) {
	s := New(Config{InactivityThreshold: time.Hour})
	sess, _ := s.GetOrCreate(context.Background(), "sess-1", nil)
	sess.SetCredential(&gatetypes.Credential{CredentialID: "c1", ExpiresAt: time.Now().Add(-time.Minute)})

	s.Cleanup(time.Now())
	if s.Len() != 1 {
		t.Fatalf("session should survive cleanup, got %d sessions", s.Len())
	}
	got, _ := s.Get("sess-1")
	if got.Credential != nil {
		t.Fatal("expired credential should have been cleared")
	}
}

func TestTouchUpdatesLastActivity(t *testing.T) {
	s := New(Config{})
	sess, _ := s.GetOrCreate(context.Background(), "sess-1", nil)
	sess.LastActivityAt = time.Now().Add(-time.Hour)
	s.Touch("sess-1")
	if time.Since(sess.LastActivityAt) > time.Second {
		t.Fatal("Touch did not refresh LastActivityAt")
	}
}
