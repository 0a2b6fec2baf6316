package gatetypes

// PricingModel enumerates the commerce term's billing shape.
type PricingModel string

const (
	PricingPerCall      PricingModel = "per_call"
	PricingPerMinute    PricingModel = "per_minute"
	PricingSubscription PricingModel = "subscription"
	PricingUsage        PricingModel = "usage"
)

// Consumption records what was actually used in a completed call.
type Consumption struct {
	Units           int64  `json:"units"`
	CostCents       int64  `json:"cost_cents"`
	PlatformFeeCents int64 `json:"platform_fee_cents"`
	TimestampUnix   int64  `json:"timestamp"`
	DurationMs      *int64 `json:"duration_ms,omitempty"`
}

// Proof is the detached signature over a receipt's canonical payload.
type Proof struct {
	KeyID     string `json:"key_id"`
	Signature string `json:"signature"`
}

// ConsumptionReceipt is a signed, caller-verifiable record of one billable
// call. PrevReceiptHash is a supplemented causal-chain field
//; it is additive and does not participate in the signed
// payload ordering mandated unless present.
type ConsumptionReceipt struct {
	Type                 string        `json:"type"` // always "consumption"
	ReceiptID            string        `json:"receipt_id"`
	GateID               string        `json:"gate_id"`
	SubjectID            string        `json:"subject_id"`
	CredentialID         string        `json:"credential_id"`
	PermissionKey        string        `json:"permission_key"`
	CatalogVersion       int           `json:"catalog_version"`
	RequestNonce         string        `json:"request_nonce,omitempty"`
	EffectiveConstraints ConstraintMap `json:"effective_constraints"`
	Consumption          Consumption   `json:"consumption"`
	PrevReceiptHash       string        `json:"prev_receipt_hash,omitempty"`
	Proof                Proof         `json:"proof"`
}

// ReceiptSignedPayload renders the exact byte sequence a receipt's proof
// signs: the same field set as ConsumptionReceipt with Proof excluded.
func ReceiptSignedPayload(r ConsumptionReceipt) (string, error) {
	var nonce interface{}
	if r.RequestNonce != "" {
		nonce = r.RequestNonce
	}
	var prevHash interface{}
	if r.PrevReceiptHash != "" {
		prevHash = r.PrevReceiptHash
	}
	return canonicalObject([]field{
		{"type", r.Type},
		{"receipt_id", r.ReceiptID},
		{"gate_id", r.GateID},
		{"subject_id", r.SubjectID},
		{"credential_id", r.CredentialID},
		{"permission_key", r.PermissionKey},
		{"catalog_version", r.CatalogVersion},
		{"request_nonce", nonce},
		{"effective_constraints", r.EffectiveConstraints},
		{"consumption", r.Consumption},
		{"prev_receipt_hash", prevHash},
	})
}
