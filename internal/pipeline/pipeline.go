// Package pipeline implements the gate's hot-path verification sequence: a
// strict chain of checks over cache snapshots already resident in memory,
// ending in a permit/deny VerifyResult. Every check is in-memory except the
// rate-limit check, which makes a network call when the configured
// ratelimit.Limiter is Redis-backed. It is the orchestration
// point that ties together package credential (signature verification),
// package constraint (merge + evaluate), and package ratelimit, chaining
// its verification stages before dispatch the way a request-handling
// layer chains middleware.
package pipeline

import (
	"context"
	"time"

	"github.com/uniplex/gate/internal/cachestore"
	"github.com/uniplex/gate/internal/constraint"
	"github.com/uniplex/gate/internal/credential"
	"github.com/uniplex/gate/internal/gatetypes"
	"github.com/uniplex/gate/internal/ratelimit"
)

// Denial reason codes.
const (
	CodePassportMissing           = "passport_missing"
	CodeIssuerNotAllowed          = "issuer_not_allowed"
	CodeInvalidSignature          = "invalid_signature"
	CodePassportExpired           = "passport_expired"
	CodePassportRevoked           = "passport_revoked"
	CodeCatalogVersionDeprecated  = "catalog_version_deprecated"
	CodePermissionDenied          = "permission_denied"
	CodeConstraintViolated        = "constraint_violated"
	CodeApprovalRequired          = "approval_required"
	CodeRateLimited               = "rate_limited"
)

var denialMessages = map[string]string{
	CodePassportMissing:          "no credential presented",
	CodeIssuerNotAllowed:         "credential issuer is not recognized",
	CodeInvalidSignature:         "credential signature failed verification",
	CodePassportExpired:          "credential has expired",
	CodePassportRevoked:          "credential has been revoked",
	CodeCatalogVersionDeprecated: "credential's pinned catalog version is no longer supported",
	CodePermissionDenied:         "action is not permitted for this credential",
	CodeConstraintViolated:       "action violates an effective constraint",
	CodeApprovalRequired:         "action requires approval before it can proceed",
	CodeRateLimited:              "rate limit exceeded for this action",
}

// Cache is the read surface the pipeline needs from the cache store
// (package cachestore); kept narrow so pipeline tests can supply a fake
// without depending on cachestore internals.
type Cache interface {
	credential.IssuerKeyLookup
	Catalog() (*gatetypes.Catalog, bool)
	IsRevoked(credentialID string) (revoked bool, fresh bool)
	IssuerKeysFresh() bool
	RevocationStaleness() time.Duration
	FailModeFor(action string) cachestore.FailModeOverride
}

// AnonymousPolicy governs unauthenticated access to a bounded set of
// low-risk actions.
type AnonymousPolicy struct {
	Enabled        bool
	AllowedActions map[string]bool
	RateLimit      int64
	UpgradeMessage string
}

func (p *AnonymousPolicy) allows(action string) bool {
	return p != nil && p.Enabled && p.AllowedActions[action]
}

// Input bundles everything one Verify call needs.
type Input struct {
	Credential      *gatetypes.Credential // nil means anonymous
	Action          string
	Request         constraint.RequestContext
	SourceID        string // used for anonymous rate limiting
	Now             time.Time
	AnonymousPolicy *AnonymousPolicy
	CostTracker     constraint.CumulativeCostTracker
}

// Pipeline runs the fixed verification sequence against a cache snapshot
// and a rate limiter. It performs no I/O of its own.
type Pipeline struct {
	Cache   Cache
	Limiter ratelimit.Limiter
}

// New constructs a Pipeline over the given cache and limiter.
func New(cache Cache, limiter ratelimit.Limiter) *Pipeline {
	return &Pipeline{Cache: cache, Limiter: limiter}
}

// rateGranularities enumerates every constraint key the Rate Limiter
// enforces, each bound to its own fixed window. suffix keeps a credential's
// three buckets from colliding in the limiter's key space.
var rateGranularities = []struct {
	key    string
	window time.Duration
	suffix string
}{
	{constraint.KeyRatePerMinute, time.Minute, "minute"},
	{constraint.KeyRatePerHour, time.Hour, "hour"},
	{constraint.KeyRatePerDay, 24 * time.Hour, "day"},
}

// buildRateCheck adapts the limiter into a constraint.RateChecker that
// enforces every rate granularity present in effective, scoped to
// scopeID. A granularity absent from effective (or not a positive int64) is
// skipped rather than defaulting to some implicit limit.
func (p *Pipeline) buildRateCheck(ctx context.Context, effective gatetypes.ConstraintMap, scopeID string) constraint.RateChecker {
	return func(action string) bool {
		allowed := true
		for _, g := range rateGranularities {
			v, ok := effective[g.key]
			if !ok {
				continue
			}
			limit, ok := v.(int64)
			if !ok || limit <= 0 {
				continue
			}
			key := ratelimit.Key(action+":"+g.suffix, scopeID)
			if !p.Limiter.Allow(ctx, key, limit, g.window).Allowed {
				allowed = false
			}
		}
		return allowed
	}
}

// Verify runs the nine-step sequence (the rate check runs inside step 9's
// constraint evaluation) and returns the resulting
// VerifyResult. ctx bounds only the rate limiter's network hop (Redis);
// every other step is pure in-memory computation.
func (p *Pipeline) Verify(ctx context.Context, in Input) gatetypes.VerifyResult {
	confident := true

	// Step 1: no credential.
	if in.Credential == nil {
		if !in.AnonymousPolicy.allows(in.Action) {
			return deny(CodePassportMissing, "", nil, nil, confident)
		}
		limit := in.AnonymousPolicy.RateLimit
		verdict := p.Limiter.Allow(ctx, ratelimit.Key(in.Action, "anon:"+in.SourceID), limit, time.Minute)
		if !verdict.Allowed {
			return deny(CodeRateLimited, "", nil, nil, confident)
		}
		return gatetypes.VerifyResult{Decision: "permit", ConstraintDecision: gatetypes.DecisionPermit, Confident: confident}
	}

	cred := in.Credential

	// Step 2: issuer known. Anti-downgrade: from here on, failure never
	// falls back to anonymous access, even if the action would otherwise
	// qualify.
	if _, ok := p.Cache.IssuerPublicKey(cred.IssuerID); !ok {
		return deny(CodeIssuerNotAllowed, "", nil, nil, confident)
	}
	if !p.Cache.IssuerKeysFresh() {
		confident = false
	}

	// Step 3: signature valid.
	if err := credential.VerifySignature(p.Cache, *cred); err != nil {
		return deny(CodeInvalidSignature, "", nil, nil, confident)
	}

	// Step 4: not expired.
	if credential.IsExpired(cred.ExpiresAt, in.Now) {
		return deny(CodePassportExpired, "", nil, nil, confident)
	}

	// Step 5: not revoked. Freshness here is judged against the per-action
	// fail-mode override (falling back to the store's default), not the raw
	// cache TTL: an action configured fail_closed must reject a stale
	// revocation set rather than silently trust a possibly-revoked
	// credential, honoring the anti-downgrade invariant on a per-action
	// basis.
	revoked, _ := p.Cache.IsRevoked(cred.CredentialID)
	override := p.Cache.FailModeFor(in.Action)
	if p.Cache.RevocationStaleness() > override.RevocationMaxAge {
		confident = false
		if override.FailMode == cachestore.FailClosed {
			return deny(CodePassportRevoked, "", nil, nil, confident)
		}
	}
	if revoked {
		return deny(CodePassportRevoked, "", nil, nil, confident)
	}

	// Step 6/7/8: catalog resolution, action-in-catalog, action-in-claims.
	cat, catFresh := p.Cache.Catalog()
	if !catFresh {
		confident = false
	}
	if cat == nil {
		return deny(CodePermissionDenied, "", nil, nil, confident)
	}

	pinnedVersion, hasPin := cred.CatalogVersionPin[cat.GateID]
	versionData, err := gatetypes.ResolveCatalogVersion(cat, pinnedVersion, hasPin)
	if err != nil {
		return deny(CodeCatalogVersionDeprecated, "", nil, nil, confident)
	}

	perm, inCatalog := versionData.PermissionIndex()[in.Action]
	if !inCatalog {
		return deny(CodePermissionDenied, "", nil, nil, confident)
	}

	claim, inClaims := cred.Claim(in.Action)
	if !inClaims {
		return deny(CodePermissionDenied, perm.UpgradeTemplate, nil, nil, confident)
	}

	// Step 9: constraint evaluation.
	effective, err := constraint.Merge(nil, perm.DefaultConstraints, claim.Constraints)
	if err != nil {
		return deny(CodeConstraintViolated, "", nil, nil, confident)
	}
	if cat.ContentHash != "" {
		effective[constraint.KeyCatalogContentHash] = cat.ContentHash
	}

	// RateCheck consults and increments every configured granularity
	// (per-minute, per-hour, per-day) in the same call: each granularity
	// gets its own bucket key and window, so exhausting one does not
	// disturb the others.
	decision, reasons, obligations := constraint.Evaluate(constraint.EvaluateInput{
		Action:         in.Action,
		CredentialID:   cred.CredentialID,
		Now:            in.Now,
		Effective:      effective,
		Request:        in.Request,
		Classification: perm.Classification,
		RateCheck:      p.buildRateCheck(ctx, effective, cred.CredentialID),
		CostTracker:    in.CostTracker,
	})

	switch decision {
	case gatetypes.DecisionBlock:
		code := CodeConstraintViolated
		if containsReason(reasons, "rate_limited") {
			code = CodeRateLimited
		}
		return gatetypes.VerifyResult{
			Decision:             "deny",
			ConstraintDecision:   decision,
			EffectiveConstraints: effective,
			Denial:               &gatetypes.Denial{Code: code, Message: denialMessages[code], ReasonCodes: reasons, Obligations: obligations},
			Confident:            confident,
		}
	case gatetypes.DecisionSuspend:
		return gatetypes.VerifyResult{
			Decision:             "deny",
			ConstraintDecision:   decision,
			EffectiveConstraints: effective,
			Denial: &gatetypes.Denial{
				Code:        CodeApprovalRequired,
				Message:     denialMessages[CodeApprovalRequired],
				ReasonCodes: reasons,
				Obligations: obligations,
			},
			Confident: confident,
		}
	}

	return gatetypes.VerifyResult{
		Decision:             "permit",
		ConstraintDecision:   gatetypes.DecisionPermit,
		EffectiveConstraints: effective,
		Confident:            confident,
	}
}

func deny(code, upgradeTemplate string, reasons, obligations []string, confident bool) gatetypes.VerifyResult {
	return gatetypes.VerifyResult{
		Decision:           "deny",
		ConstraintDecision: gatetypes.DecisionBlock,
		Denial: &gatetypes.Denial{
			Code:            code,
			Message:         denialMessages[code],
			UpgradeTemplate: upgradeTemplate,
			ReasonCodes:     reasons,
			Obligations:     obligations,
		},
		Confident: confident,
	}
}

func containsReason(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
