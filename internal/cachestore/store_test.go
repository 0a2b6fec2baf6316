package cachestore

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/uniplex/gate/internal/gatetypes"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(DefaultTTLConfig(), FailClosed, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestCatalogFreshnessWindow(t *testing.T) {
	s := newTestStore(t)
	s.ttl.Catalog = 10 * time.Millisecond
	cat := &gatetypes.Catalog{GateID: "gate-1", Current: gatetypes.CatalogVersionData{Version: 1}}
	s.SetCatalog(cat)

	got, fresh := s.Catalog()
	if got == nil || !fresh {
		t.Fatalf("expected fresh catalog immediately after set")
	}

	time.Sleep(20 * time.Millisecond)
	got, fresh = s.Catalog()
	if got == nil {
		t.Fatalf("catalog should still be returned when stale")
	}
	if fresh {
		t.Fatalf("catalog should be stale after TTL elapsed")
	}
}

func TestIssuerPublicKeyLookup(t *testing.T) {
	s := newTestStore(t)
	pub, _, _ := ed25519.GenerateKey(nil)
	s.SetIssuerKeys(map[string]ed25519.PublicKey{"issuer-1": pub})

	got, ok := s.IssuerPublicKey("issuer-1")
	if !ok || string(got) != string(pub) {
		t.Fatalf("IssuerPublicKey mismatch")
	}
	if _, ok := s.IssuerPublicKey("issuer-unknown"); ok {
		t.Fatalf("expected miss for unknown issuer")
	}
}

func TestIsRevokedAndFreshness(t *testing.T) {
	s := newTestStore(t)
	s.SetRevocations(map[string]struct{}{"cred-revoked": {}})

	revoked, fresh := s.IsRevoked("cred-revoked")
	if !revoked || !fresh {
		t.Fatalf("expected revoked=true fresh=true, got revoked=%v fresh=%v", revoked, fresh)
	}

	revoked, _ = s.IsRevoked("cred-ok")
	if revoked {
		t.Fatalf("unexpected revocation for unlisted credential")
	}
}

func TestFailModeForOverride(t *testing.T) {
	overrides := map[string]FailModeOverride{
		"funds:transfer": {FailMode: FailClosed, RevocationMaxAge: time.Second},
	}
	s, err := New(DefaultTTLConfig(), FailOpen, overrides)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if got := s.FailModeFor("funds:transfer"); got.FailMode != FailClosed {
		t.Fatalf("expected override fail_closed, got %v", got.FailMode)
	}
	if got := s.FailModeFor("flights:search"); got.FailMode != FailOpen {
		t.Fatalf("expected default fail_open, got %v", got.FailMode)
	}
}

func TestNoSnapshotIsNotFresh(t *testing.T) {
	s := newTestStore(t)
	if _, fresh := s.Catalog(); fresh {
		t.Fatalf("empty store must report stale catalog")
	}
	if _, fresh := s.IsRevoked("anything"); fresh {
		t.Fatalf("empty store must report stale revocations")
	}
	if s.IssuerKeysFresh() {
		t.Fatalf("empty store must report stale issuer keys")
	}
}
