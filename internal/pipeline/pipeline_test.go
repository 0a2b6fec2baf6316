package pipeline

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/uniplex/gate/internal/cachestore"
	"github.com/uniplex/gate/internal/constraint"
	"github.com/uniplex/gate/internal/credential"
	"github.com/uniplex/gate/internal/gatetypes"
	"github.com/uniplex/gate/internal/ratelimit"
)

type fakeCache struct {
	keys        map[string]ed25519.PublicKey
	catalog     *gatetypes.Catalog
	catalogOK   bool
	revoked     map[string]bool
	revokedOK   bool
	issuerFresh bool

	// revocationStaleness and failMode let staleness/fail-mode tests drive
	// the per-action override path independently of revokedOK.
	revocationStaleness time.Duration
	failMode            cachestore.FailModeOverride
}

func (f *fakeCache) IssuerPublicKey(id string) (ed25519.PublicKey, bool) {
	k, ok := f.keys[id]
	return k, ok
}
func (f *fakeCache) IssuerKeysFresh() bool { return f.issuerFresh }
func (f *fakeCache) Catalog() (*gatetypes.Catalog, bool) {
	return f.catalog, f.catalogOK
}
func (f *fakeCache) IsRevoked(id string) (bool, bool) {
	return f.revoked[id], f.revokedOK
}
func (f *fakeCache) RevocationStaleness() time.Duration { return f.revocationStaleness }
func (f *fakeCache) FailModeFor(string) cachestore.FailModeOverride {
	if f.failMode.RevocationMaxAge == 0 && f.failMode.FailMode == "" {
		return cachestore.FailModeOverride{FailMode: cachestore.FailOpen, RevocationMaxAge: time.Minute}
	}
	return f.failMode
}

func buildCatalog(permKey string, classification *gatetypes.Classification) *gatetypes.Catalog {
	cat := &gatetypes.Catalog{
		GateID:               "gate-1",
		MinCompatibleVersion: 1,
		Current: gatetypes.CatalogVersionData{
			Version: 1,
			Permissions: []gatetypes.Permission{
				{Key: permKey, DefaultConstraints: gatetypes.ConstraintMap{}, Classification: classification},
			},
		},
	}
	cat.EnsureIndex()
	return cat
}

func signedCredential(t *testing.T, pub ed25519.PublicKey, priv ed25519.PrivateKey, action string, claimConstraints gatetypes.ConstraintMap) gatetypes.Credential {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	c := gatetypes.Credential{
		CredentialID: "cred-1",
		IssuerID:     "issuer-1",
		SubjectID:    "subject-1",
		GateID:       "gate-1",
		IssuedAt:     now,
		ExpiresAt:    now.Add(time.Hour),
		Claims:       []gatetypes.Claim{{PermissionKey: action, Constraints: claimConstraints}},
		Constraints:  gatetypes.ConstraintMap{},
	}
	sig, err := credential.Sign(priv, c)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	c.Signature = sig
	c.BuildClaimIndex()
	return c
}

func TestVerifyPermitsValidRequest(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	cat := buildCatalog("flights:search", nil)
	cache := &fakeCache{
		keys:        map[string]ed25519.PublicKey{"issuer-1": pub},
		catalog:     cat,
		catalogOK:   true,
		revokedOK:   true,
		issuerFresh: true,
	}
	cred := signedCredential(t, pub, priv, "flights:search", gatetypes.ConstraintMap{})

	p := New(cache, ratelimit.NewInMemory())
	res := p.Verify(context.Background(), Input{Credential: &cred, Action: "flights:search", Now: time.Now()})
	if res.Decision != "permit" {
		t.Fatalf("decision = %v, denial = %+v", res.Decision, res.Denial)
	}
	if !res.Confident {
		t.Fatal("expected confident=true with all-fresh cache")
	}
}

func TestVerifyNoCredentialDeniesWithoutAnonymousPolicy(t *testing.T) {
	p := New(&fakeCache{}, ratelimit.NewInMemory())
	res := p.Verify(context.Background(), Input{Action: "flights:search", Now: time.Now()})
	if res.Decision != "deny" || res.Denial.Code != CodePassportMissing {
		t.Fatalf("got %+v", res)
	}
}

func TestVerifyAnonymousPermitsAllowedAction(t *testing.T) {
	policy := &AnonymousPolicy{Enabled: true, AllowedActions: map[string]bool{"flights:search": true}, RateLimit: 10}
	p := New(&fakeCache{}, ratelimit.NewInMemory())
	res := p.Verify(context.Background(), Input{Action: "flights:search", SourceID: "ip-1", Now: time.Now(), AnonymousPolicy: policy})
	if res.Decision != "permit" {
		t.Fatalf("got %+v", res)
	}
}

func TestVerifyUnknownIssuerNeverFallsBackToAnonymous(t *testing.T) {
	policy := &AnonymousPolicy{Enabled: true, AllowedActions: map[string]bool{"flights:search": true}, RateLimit: 10}
	cache := &fakeCache{keys: map[string]ed25519.PublicKey{}}
	_, priv, _ := ed25519.GenerateKey(nil)
	pub2, _, _ := ed25519.GenerateKey(nil)
	cred := signedCredential(t, pub2, priv, "flights:search", gatetypes.ConstraintMap{})

	p := New(cache, ratelimit.NewInMemory())
	res := p.Verify(context.Background(), Input{Credential: &cred, Action: "flights:search", Now: time.Now(), AnonymousPolicy: policy})
	if res.Decision != "deny" || res.Denial.Code != CodeIssuerNotAllowed {
		t.Fatalf("anti-downgrade violated: got %+v", res)
	}
}

func TestVerifyExpiredCredentialDenies(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	cat := buildCatalog("flights:search", nil)
	cache := &fakeCache{keys: map[string]ed25519.PublicKey{"issuer-1": pub}, catalog: cat, catalogOK: true, revokedOK: true}
	cred := signedCredential(t, pub, priv, "flights:search", gatetypes.ConstraintMap{})
	cred.ExpiresAt = time.Now().Add(-time.Minute)
	sig, _ := credential.Sign(priv, cred)
	cred.Signature = sig

	p := New(cache, ratelimit.NewInMemory())
	res := p.Verify(context.Background(), Input{Credential: &cred, Action: "flights:search", Now: time.Now()})
	if res.Denial == nil || res.Denial.Code != CodePassportExpired {
		t.Fatalf("got %+v", res)
	}
}

func TestVerifyRevokedCredentialDenies(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	cat := buildCatalog("flights:search", nil)
	cache := &fakeCache{
		keys: map[string]ed25519.PublicKey{"issuer-1": pub}, catalog: cat, catalogOK: true,
		revoked: map[string]bool{"cred-1": true}, revokedOK: true,
	}
	cred := signedCredential(t, pub, priv, "flights:search", gatetypes.ConstraintMap{})

	p := New(cache, ratelimit.NewInMemory())
	res := p.Verify(context.Background(), Input{Credential: &cred, Action: "flights:search", Now: time.Now()})
	if res.Denial == nil || res.Denial.Code != CodePassportRevoked {
		t.Fatalf("got %+v", res)
	}
}

func TestVerifyActionNotInClaimsDeniesWithUpgradeTemplate(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	cat := &gatetypes.Catalog{
		GateID: "gate-1",
		Current: gatetypes.CatalogVersionData{
			Version: 1,
			Permissions: []gatetypes.Permission{
				{Key: "flights:book", UpgradeTemplate: "upgrade-to-booking", DefaultConstraints: gatetypes.ConstraintMap{}},
			},
		},
	}
	cat.EnsureIndex()
	cache := &fakeCache{keys: map[string]ed25519.PublicKey{"issuer-1": pub}, catalog: cat, catalogOK: true, revokedOK: true}
	cred := signedCredential(t, pub, priv, "flights:search", gatetypes.ConstraintMap{})

	p := New(cache, ratelimit.NewInMemory())
	res := p.Verify(context.Background(), Input{Credential: &cred, Action: "flights:book", Now: time.Now()})
	if res.Denial == nil || res.Denial.Code != CodePermissionDenied {
		t.Fatalf("got %+v", res)
	}
	if res.Denial.UpgradeTemplate != "upgrade-to-booking" {
		t.Fatalf("expected upgrade template hint, got %+v", res.Denial)
	}
}

func TestVerifyDeprecatedCatalogPinDenies(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	cat := buildCatalog("flights:search", nil)
	cat.MinCompatibleVersion = 2
	cache := &fakeCache{keys: map[string]ed25519.PublicKey{"issuer-1": pub}, catalog: cat, catalogOK: true, revokedOK: true}
	cred := signedCredential(t, pub, priv, "flights:search", gatetypes.ConstraintMap{})
	cred.CatalogVersionPin = map[string]int{"gate-1": 1}
	sig, _ := credential.Sign(priv, cred)
	cred.Signature = sig

	p := New(cache, ratelimit.NewInMemory())
	res := p.Verify(context.Background(), Input{Credential: &cred, Action: "flights:search", Now: time.Now()})
	if res.Denial == nil || res.Denial.Code != CodeCatalogVersionDeprecated {
		t.Fatalf("got %+v", res)
	}
}

func TestVerifyCostOverLimitBlocks(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	cat := buildCatalog("flights:book", nil)
	cache := &fakeCache{keys: map[string]ed25519.PublicKey{"issuer-1": pub}, catalog: cat, catalogOK: true, revokedOK: true}
	cred := signedCredential(t, pub, priv, "flights:book", gatetypes.ConstraintMap{constraint.KeyCostMaxPerAction: int64(1000)})

	p := New(cache, ratelimit.NewInMemory())
	amount := int64(5000)
	res := p.Verify(context.Background(), Input{
		Credential: &cred, Action: "flights:book", Now: time.Now(),
		Request: constraint.RequestContext{AmountCanonical: &amount},
	})
	if res.Denial == nil || res.Denial.Code != CodeConstraintViolated {
		t.Fatalf("got %+v", res)
	}
}

func TestVerifySuspendSurfacesAsDenyWithObligations(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	cat := buildCatalog("funds:transfer", nil)
	cache := &fakeCache{keys: map[string]ed25519.PublicKey{"issuer-1": pub}, catalog: cat, catalogOK: true, revokedOK: true}
	cred := signedCredential(t, pub, priv, "funds:transfer", gatetypes.ConstraintMap{constraint.KeyApprovalRequired: true})

	p := New(cache, ratelimit.NewInMemory())
	res := p.Verify(context.Background(), Input{Credential: &cred, Action: "funds:transfer", Now: time.Now()})
	if res.Decision != "deny" || res.Denial.Code != CodeApprovalRequired {
		t.Fatalf("got %+v", res)
	}
	if res.ConstraintDecision != gatetypes.DecisionSuspend {
		t.Fatalf("expected constraint_decision SUSPEND, got %v", res.ConstraintDecision)
	}
}

func TestVerifyStaleCacheSetsNotConfident(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	cat := buildCatalog("flights:search", nil)
	cache := &fakeCache{keys: map[string]ed25519.PublicKey{"issuer-1": pub}, catalog: cat, catalogOK: false, revokedOK: false, issuerFresh: false}
	cred := signedCredential(t, pub, priv, "flights:search", gatetypes.ConstraintMap{})

	p := New(cache, ratelimit.NewInMemory())
	res := p.Verify(context.Background(), Input{Credential: &cred, Action: "flights:search", Now: time.Now()})
	if res.Confident {
		t.Fatal("expected confident=false when cache entries are stale")
	}
}

func TestVerifyRateLimitedPerMinute(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	cat := buildCatalog("flights:search", nil)
	cache := &fakeCache{keys: map[string]ed25519.PublicKey{"issuer-1": pub}, catalog: cat, catalogOK: true, revokedOK: true}
	cred := signedCredential(t, pub, priv, "flights:search", gatetypes.ConstraintMap{constraint.KeyRatePerMinute: int64(1)})

	p := New(cache, ratelimit.NewInMemory())
	first := p.Verify(context.Background(), Input{Credential: &cred, Action: "flights:search", Now: time.Now()})
	if first.Decision != "permit" {
		t.Fatalf("first call should permit, got %+v", first)
	}
	second := p.Verify(context.Background(), Input{Credential: &cred, Action: "flights:search", Now: time.Now()})
	if second.Decision != "deny" || second.Denial.Code != CodeRateLimited {
		t.Fatalf("second call should be rate limited, got %+v", second)
	}
}

func TestVerifyRateLimitedPerDayIndependentlyOfPerMinute(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	cat := buildCatalog("flights:search", nil)
	cache := &fakeCache{keys: map[string]ed25519.PublicKey{"issuer-1": pub}, catalog: cat, catalogOK: true, revokedOK: true}
	cred := signedCredential(t, pub, priv, "flights:search", gatetypes.ConstraintMap{
		constraint.KeyRatePerMinute: int64(100),
		constraint.KeyRatePerDay:    int64(1),
	})

	p := New(cache, ratelimit.NewInMemory())
	first := p.Verify(context.Background(), Input{Credential: &cred, Action: "flights:search", Now: time.Now()})
	if first.Decision != "permit" {
		t.Fatalf("first call should permit, got %+v", first)
	}
	second := p.Verify(context.Background(), Input{Credential: &cred, Action: "flights:search", Now: time.Now()})
	if second.Decision != "deny" || second.Denial.Code != CodeRateLimited {
		t.Fatalf("second call should be denied by the per-day bucket even though the per-minute limit is nowhere near exhausted, got %+v", second)
	}
}
