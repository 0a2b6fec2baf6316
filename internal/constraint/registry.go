// Package constraint implements the typed constraint registry, merge
// rules, and evaluator. Keys are a fixed, typed set — there is no general
// policy language here, by design.
package constraint

import "errors"

// Kind is the semantic category of a constraint key.
type Kind int

const (
	KindLimit Kind = iota
	KindTerm
	KindPolicy
)

var ErrConstraintType = errors.New("constraint_type_error")

// Canonical key names. core:cost:max is the deprecated alias of
// core:cost:max_per_action: the gate commits to the
// newer name and aliases the older one, logging a one-time deprecation
// notice rather than silently merging both.
const (
	KeyCostMaxPerAction  = "core:cost:max_per_action"
	KeyCostMaxDeprecated = "core:cost:max"
	KeyCostMaxCumulative = "core:cost:max_cumulative"
	KeyRatePerMinute     = "core:rate:per_minute"
	KeyRatePerHour       = "core:rate:per_hour"
	KeyRatePerDay        = "core:rate:per_day"

	KeyPricingModel         = "core:pricing:model"
	KeyPricingPerCallCents  = "core:pricing:per_call_cents"
	KeyPricingPerMinuteCents = "core:pricing:per_minute_cents"
	KeyPricingCurrency      = "core:pricing:currency"
	KeyPricingFreeTierCalls = "core:pricing:free_tier_calls"
	KeySLAUptime            = "core:sla:uptime"
	KeySLAResponseTime      = "core:sla:response_time_ms"
	KeyPlatformFeeBps       = "core:platform_fee:basis_points"

	KeyApprovalRequired   = "core:approval:required"
	KeyActionAllowlist    = "core:scope:action_allowlist"
	KeyActionBlocklist    = "core:scope:action_blocklist"
	KeyDomainAllowlist    = "core:scope:domain_allowlist"
	KeyDomainBlocklist    = "core:scope:domain_blocklist"
	KeyOperatingHours     = "core:temporal:operating_hours"
	KeyBlackoutWindows    = "core:temporal:blackout_windows"
	KeyDataReadOnly       = "core:data:read_only"
	KeyNoPIIExport        = "core:data:no_pii_export"

	KeyCostApprovalThreshold = "core:cost:approval_threshold"

	// KeyCatalogContentHash is not catalog- or claim-negotiated like the
	// keys above: the pipeline stamps it into the effective constraint map
	// after merge so every receipt pins the exact catalog snapshot its
	// constraints were resolved from.
	KeyCatalogContentHash = "core:catalog:content_hash"
)

// registry maps every known key to its Kind. Unknown keys pass through
// merge untouched, so a newer catalog can add constraint keys an older
// gate binary doesn't recognize yet.
var registry = map[string]Kind{
	KeyCostMaxPerAction:      KindLimit,
	KeyCostMaxDeprecated:     KindLimit,
	KeyCostMaxCumulative:     KindLimit,
	KeyCostApprovalThreshold: KindLimit,
	KeyRatePerMinute:         KindLimit,
	KeyRatePerHour:           KindLimit,
	KeyRatePerDay:            KindLimit,

	KeyPricingModel:          KindTerm,
	KeyPricingPerCallCents:   KindTerm,
	KeyPricingPerMinuteCents: KindTerm,
	KeyPricingCurrency:       KindTerm,
	KeyPricingFreeTierCalls:  KindTerm,
	KeySLAUptime:             KindTerm,
	KeySLAResponseTime:       KindTerm,
	KeyPlatformFeeBps:        KindTerm,

	KeyApprovalRequired: KindPolicy,
	KeyActionAllowlist:  KindPolicy,
	KeyActionBlocklist:  KindPolicy,
	KeyDomainAllowlist:  KindPolicy,
	KeyDomainBlocklist:  KindPolicy,
	KeyOperatingHours:   KindPolicy,
	KeyBlackoutWindows:  KindPolicy,
	KeyDataReadOnly:     KindPolicy,
	KeyNoPIIExport:      KindPolicy,

	KeyCatalogContentHash: KindTerm,
}

// KindOf returns the registered kind of key, and false for unknown keys.
func KindOf(key string) (Kind, bool) {
	k, ok := registry[key]
	return k, ok
}
