// Package receipt implements consumption-receipt issuance and verification
//: cost/platform-fee computation, canonical signing via package
// gatetypes, and field-level mismatch detection on verify.
package receipt

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uniplex/gate/internal/gatetypes"
)

var (
	ErrNonceMismatch     = errors.New("nonce_mismatch")
	ErrSignatureMismatch = errors.New("signature_mismatch")
)

// Signer produces a detached signature over payload; the key id is recorded
// separately in the receipt's proof. It is
// injected so issuance never embeds raw private key material in this
// package.
type Signer func(payload string) (signature string, err error)

// Verifier checks a detached signature over payload using the gate's
// public key.
type Verifier func(payload string, signature string) bool

// IssueInput bundles everything Issue needs.
type IssueInput struct {
	GateID               string
	SubjectID            string
	CredentialID          string
	PermissionKey        string
	CatalogVersion       int
	EffectiveConstraints gatetypes.ConstraintMap
	RequestNonce         string
	DurationMs           *int64
	Units                int64 // default 1
	PrevReceiptHash      string
	KeyID                string
	Sign                 Signer
	ReceiptID            string
	Now                  time.Time
}

// ceilDiv computes ceil(a/b) for non-negative a and positive b using only
// integer arithmetic; fees and cost round up, never down.
func ceilDiv(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// ComputeCostCents implements pricing-model dispatch.
func ComputeCostCents(effective gatetypes.ConstraintMap, units int64, durationMs *int64) int64 {
	model, _ := effective["core:pricing:model"].(string)
	if model == string(gatetypes.PricingPerMinute) && durationMs != nil {
		perMinute := int64Of(effective["core:pricing:per_minute_cents"])
		minutes := ceilDiv(*durationMs, 60_000)
		return perMinute * minutes
	}
	if perCall, ok := effective["core:pricing:per_call_cents"]; ok {
		return int64Of(perCall) * units
	}
	return 0
}

// ComputePlatformFeeCents applies ceiling rounding over basis points.
func ComputePlatformFeeCents(costCents int64, effective gatetypes.ConstraintMap) int64 {
	bps := int64Of(effective["core:platform_fee:basis_points"])
	if bps == 0 {
		return 0
	}
	return ceilDiv(costCents*bps, 10_000)
}

func int64Of(v interface{}) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case float64:
		return int64(x)
	default:
		return 0
	}
}

// Issue builds, signs and returns a consumption receipt.
func Issue(in IssueInput) (gatetypes.ConsumptionReceipt, error) {
	units := in.Units
	if units == 0 {
		units = 1
	}
	costCents := ComputeCostCents(in.EffectiveConstraints, units, in.DurationMs)
	platformFeeCents := ComputePlatformFeeCents(costCents, in.EffectiveConstraints)

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	r := gatetypes.ConsumptionReceipt{
		Type:                 "consumption",
		ReceiptID:            in.ReceiptID,
		GateID:               in.GateID,
		SubjectID:            in.SubjectID,
		CredentialID:         in.CredentialID,
		PermissionKey:        in.PermissionKey,
		CatalogVersion:       in.CatalogVersion,
		RequestNonce:         in.RequestNonce,
		EffectiveConstraints: in.EffectiveConstraints,
		PrevReceiptHash:      in.PrevReceiptHash,
		Consumption: gatetypes.Consumption{
			Units:            units,
			CostCents:        costCents,
			PlatformFeeCents: platformFeeCents,
			TimestampUnix:    now.Unix(),
			DurationMs:       in.DurationMs,
		},
	}

	payload, err := gatetypes.ReceiptSignedPayload(r)
	if err != nil {
		return gatetypes.ConsumptionReceipt{}, fmt.Errorf("build signed payload: %w", err)
	}
	sig, err := in.Sign(payload)
	if err != nil {
		return gatetypes.ConsumptionReceipt{}, fmt.Errorf("sign receipt: %w", err)
	}
	r.Proof = gatetypes.Proof{KeyID: in.KeyID, Signature: sig}
	return r, nil
}

// VerifyInput bundles everything Verify needs.
type VerifyInput struct {
	Receipt       gatetypes.ConsumptionReceipt
	ExpectedNonce string // empty means "don't check"
	Verify        Verifier
}

// Result reports whether a receipt is valid, and if not, which field or
// check failed first.
type Result struct {
	Valid        bool
	MismatchCode string // "nonce_mismatch", "signature_mismatch", "cost_mismatch", "platform_fee_mismatch"
}

// VerifyReceipt checks nonce, signature, then recomputes cost/fee from the
// receipt's own fields and compares.
func VerifyReceipt(in VerifyInput) Result {
	r := in.Receipt

	if in.ExpectedNonce != "" && r.RequestNonce != in.ExpectedNonce {
		return Result{Valid: false, MismatchCode: "nonce_mismatch"}
	}

	payload, err := gatetypes.ReceiptSignedPayload(r)
	if err != nil {
		return Result{Valid: false, MismatchCode: "signature_mismatch"}
	}
	if !in.Verify(payload, r.Proof.Signature) {
		return Result{Valid: false, MismatchCode: "signature_mismatch"}
	}

	wantCost := ComputeCostCents(r.EffectiveConstraints, r.Consumption.Units, r.Consumption.DurationMs)
	if wantCost != r.Consumption.CostCents {
		return Result{Valid: false, MismatchCode: "cost_mismatch"}
	}
	wantFee := ComputePlatformFeeCents(wantCost, r.EffectiveConstraints)
	if wantFee != r.Consumption.PlatformFeeCents {
		return Result{Valid: false, MismatchCode: "platform_fee_mismatch"}
	}

	return Result{Valid: true}
}

// Ed25519Signer adapts a raw private key into a Signer, hex-encoding the
// detached signature the way package credential does for credentials.
func Ed25519Signer(priv ed25519.PrivateKey) Signer {
	return func(payload string) (string, error) {
		sig := ed25519.Sign(priv, []byte(payload))
		return hex.EncodeToString(sig), nil
	}
}

// Ed25519Verifier adapts a raw public key into a Verifier.
func Ed25519Verifier(pub ed25519.PublicKey) Verifier {
	return func(payload string, signature string) bool {
		sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
		if err != nil {
			return false
		}
		return ed25519.Verify(pub, []byte(payload), sig)
	}
}
