package receipt

import (
	"crypto/ed25519"
	"testing"

	"github.com/uniplex/gate/internal/gatetypes"
)

func TestComputeCostCentsPerCall(t *testing.T) {
	effective := gatetypes.ConstraintMap{"core:pricing:per_call_cents": int64(250)}
	got := ComputeCostCents(effective, 3, nil)
	if got != 750 {
		t.Fatalf("got %d, want 750", got)
	}
}

func TestComputeCostCentsPerMinuteCeiling(t *testing.T) {
	effective := gatetypes.ConstraintMap{
		"core:pricing:model":             "per_minute",
		"core:pricing:per_minute_cents": int64(100),
	}
	duration := int64(61_000) // 61s -> ceil to 2 minutes
	got := ComputeCostCents(effective, 1, &duration)
	if got != 200 {
		t.Fatalf("got %d, want 200", got)
	}
}

func TestComputePlatformFeeCeiling(t *testing.T) {
	effective := gatetypes.ConstraintMap{"core:platform_fee:basis_points": int64(250)} // 2.5%
	got := ComputePlatformFeeCents(333, effective)
	// 333 * 250 / 10000 = 8.325 -> ceil to 9
	if got != 9 {
		t.Fatalf("got %d, want 9", got)
	}
}

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	effective := gatetypes.ConstraintMap{"core:pricing:per_call_cents": int64(100), "core:platform_fee:basis_points": int64(1000)}

	r, err := Issue(IssueInput{
		GateID: "gate-1", SubjectID: "subj-1", CredentialID: "cred-1",
		PermissionKey: "flights:search", CatalogVersion: 1,
		EffectiveConstraints: effective, RequestNonce: "nonce-1",
		KeyID: "key-1", Sign: Ed25519Signer(priv), ReceiptID: "receipt-1",
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if r.Consumption.CostCents != 100 || r.Consumption.PlatformFeeCents != 10 {
		t.Fatalf("unexpected consumption: %+v", r.Consumption)
	}

	result := VerifyReceipt(VerifyInput{Receipt: r, ExpectedNonce: "nonce-1", Verify: Ed25519Verifier(pub)})
	if !result.Valid {
		t.Fatalf("expected valid receipt, got mismatch %q", result.MismatchCode)
	}
}

func TestVerifyNonceMismatch(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	r, _ := Issue(IssueInput{
		GateID: "gate-1", SubjectID: "subj-1", CredentialID: "cred-1",
		PermissionKey: "flights:search", CatalogVersion: 1,
		EffectiveConstraints: gatetypes.ConstraintMap{}, RequestNonce: "nonce-1",
		KeyID: "key-1", Sign: Ed25519Signer(priv), ReceiptID: "receipt-1",
	})
	result := VerifyReceipt(VerifyInput{Receipt: r, ExpectedNonce: "different-nonce", Verify: Ed25519Verifier(pub)})
	if result.Valid || result.MismatchCode != "nonce_mismatch" {
		t.Fatalf("got %+v", result)
	}
}

func TestVerifyDetectsTamperedCost(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	effective := gatetypes.ConstraintMap{"core:pricing:per_call_cents": int64(100)}
	r, _ := Issue(IssueInput{
		GateID: "gate-1", SubjectID: "subj-1", CredentialID: "cred-1",
		PermissionKey: "flights:search", CatalogVersion: 1,
		EffectiveConstraints: effective, KeyID: "key-1", Sign: Ed25519Signer(priv), ReceiptID: "receipt-1",
	})
	r.Consumption.CostCents = 999999 // tamper after signing

	result := VerifyReceipt(VerifyInput{Receipt: r, Verify: Ed25519Verifier(pub)})
	if result.Valid {
		t.Fatal("expected invalid receipt after tampering signed payload content")
	}
	// signature no longer matches the mutated payload before cost is even recomputed.
	if result.MismatchCode != "signature_mismatch" {
		t.Fatalf("got %q", result.MismatchCode)
	}
}

func TestVerifyInvalidSignatureFails(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	otherPub, _, _ := ed25519.GenerateKey(nil)
	r, _ := Issue(IssueInput{
		GateID: "gate-1", SubjectID: "subj-1", CredentialID: "cred-1",
		PermissionKey: "flights:search", CatalogVersion: 1,
		EffectiveConstraints: gatetypes.ConstraintMap{}, KeyID: "key-1", Sign: Ed25519Signer(priv), ReceiptID: "receipt-1",
	})
	result := VerifyReceipt(VerifyInput{Receipt: r, Verify: Ed25519Verifier(otherPub)})
	if result.Valid || result.MismatchCode != "signature_mismatch" {
		t.Fatalf("got %+v", result)
	}
}
