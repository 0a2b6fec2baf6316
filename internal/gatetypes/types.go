// Package gatetypes holds the wire and in-memory shapes shared across the
// gate: credentials, catalogs, constraint maps, sessions, and receipts.
package gatetypes

import "time"

// RiskLevel classifies how dangerous a permission is to exercise.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Reversibility, BlastRadius and Urgency classify an effect's blast radius;
// they are optional and feed the Constraint Engine's approval escalation.
type Classification struct {
	Reversibility string `json:"reversibility,omitempty"` // reversible, compensatable, irreversible
	BlastRadius   string `json:"blast_radius,omitempty"`  // single_record, dataset, system_wide
	Urgency       string `json:"urgency,omitempty"`       // deferrable, time_sensitive, immediate
}

// ConstraintMap is a typed key/value bag. Values are one of: int64 (limit),
// string, bool, []string (policy lists/allowlists), depending on the key's
// registered type (see package constraint).
type ConstraintMap map[string]interface{}

// Clone returns a shallow copy safe to mutate without touching the original.
func (m ConstraintMap) Clone() ConstraintMap {
	if m == nil {
		return nil
	}
	out := make(ConstraintMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Claim is one permission grant carried by a credential.
type Claim struct {
	PermissionKey string        `json:"permission_key"`
	Constraints   ConstraintMap `json:"constraints"`
}

// Credential is a signed token presented by a caller. ClaimIndex is derived
// from Claims at load time (BuildClaimIndex) and must never be mutated
// independently of it.
type Credential struct {
	CredentialID      string         `json:"credential_id"`
	IssuerID          string         `json:"issuer_id"`
	SubjectID         string         `json:"subject_id"`
	GateID            string         `json:"gate_id"`
	IssuedAt          time.Time      `json:"issued_at"`
	ExpiresAt         time.Time      `json:"expires_at"`
	Claims            []Claim        `json:"claims"`
	Constraints       ConstraintMap  `json:"constraints"`
	CatalogVersionPin map[string]int `json:"catalog_version_pin,omitempty"`
	Signature         string         `json:"signature"`

	// ClaimIndex is a pure function of Claims, rebuilt on load. Not part of
	// the signed payload.
	ClaimIndex map[string]Claim `json:"-"`
}

// BuildClaimIndex rebuilds the credential's permission-key index from its
// claims list. It is idempotent: calling it twice yields the same index.
func (c *Credential) BuildClaimIndex() {
	idx := make(map[string]Claim, len(c.Claims))
	for _, cl := range c.Claims {
		idx[cl.PermissionKey] = cl
	}
	c.ClaimIndex = idx
}

// Claim looks up a claim by permission key using the derived index.
func (c *Credential) Claim(permissionKey string) (Claim, bool) {
	if c.ClaimIndex == nil {
		c.BuildClaimIndex()
	}
	cl, ok := c.ClaimIndex[permissionKey]
	return cl, ok
}

// Permission is one entry in a catalog: the gate's authoritative declaration
// of a recognized action and its default constraints.
type Permission struct {
	Key                  string          `json:"key"`
	DisplayName          string          `json:"display_name"`
	RiskLevel            RiskLevel       `json:"risk_level"`
	DefaultConstraints   ConstraintMap   `json:"default_constraints"`
	RequiredConstraints  []string        `json:"required_constraint_keys,omitempty"`
	UpgradeTemplate      string          `json:"upgrade_template,omitempty"`
	Classification       *Classification `json:"classification,omitempty"`
}

// CatalogVersionData is one published version of a gate's catalog.
type CatalogVersionData struct {
	Version     int          `json:"version"`
	Permissions []Permission `json:"permissions"`
	PublishedAt time.Time    `json:"published_at"`
}

// PermissionIndex returns a key->Permission map for O(1) lookup.
func (v CatalogVersionData) PermissionIndex() map[string]Permission {
	idx := make(map[string]Permission, len(v.Permissions))
	for _, p := range v.Permissions {
		idx[p.Key] = p
	}
	return idx
}

// Catalog is the gate's current + retained-older signed permission catalog.
type Catalog struct {
	GateID               string                      `json:"gate_id"`
	MinCompatibleVersion int                          `json:"min_compatible_version"`
	Current              CatalogVersionData           `json:"current"`
	Older                map[int]CatalogVersionData   `json:"older,omitempty"`
	ContentHash          string                       `json:"catalog_content_hash,omitempty"`

	// currentIndex is built once at parse time and cached alongside the raw
	// catalog (see cachestore).
	currentIndex map[string]Permission
}

// EnsureIndex builds (once) and returns the current version's permission
// index.
func (cat *Catalog) EnsureIndex() map[string]Permission {
	if cat.currentIndex == nil {
		cat.currentIndex = cat.Current.PermissionIndex()
	}
	return cat.currentIndex
}

// Session binds at most one credential to a session id.
type Session struct {
	SessionID      string
	Credential     *Credential
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// SetCredential replaces the bound credential and rebuilds its claim index.
func (s *Session) SetCredential(c *Credential) {
	if c != nil {
		c.BuildClaimIndex()
	}
	s.Credential = c
	s.LastActivityAt = time.Now()
}

// Decision is the three-valued internal verdict of the Constraint Engine.
type Decision string

const (
	DecisionPermit  Decision = "PERMIT"
	DecisionSuspend Decision = "SUSPEND"
	DecisionBlock   Decision = "BLOCK"
)

// rank orders decisions by severity: BLOCK > SUSPEND > PERMIT.
func (d Decision) rank() int {
	switch d {
	case DecisionBlock:
		return 2
	case DecisionSuspend:
		return 1
	default:
		return 0
	}
}

// MaxDecision returns the more severe of two decisions under
// BLOCK > SUSPEND > PERMIT.
func MaxDecision(a, b Decision) Decision {
	if a.rank() >= b.rank() {
		return a
	}
	return b
}

// Denial describes why a call was not permitted.
type Denial struct {
	Code            string   `json:"code"`
	Message         string   `json:"message"`
	UpgradeTemplate string   `json:"upgrade_template,omitempty"`
	ReasonCodes     []string `json:"reason_codes,omitempty"`
	Obligations     []string `json:"obligations,omitempty"`
}

// VerifyResult is the output of the Verification Pipeline.
type VerifyResult struct {
	Decision              string        `json:"decision"` // "permit" or "deny"
	ConstraintDecision     Decision      `json:"constraint_decision"`
	EffectiveConstraints   ConstraintMap `json:"effective_constraints,omitempty"`
	Denial                 *Denial       `json:"denial,omitempty"`
	Confident              bool          `json:"confident"`
}
