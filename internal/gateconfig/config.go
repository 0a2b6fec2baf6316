// Package gateconfig implements the gate's configuration surface:
// environment variables mapping 1:1 onto the documented root keys.
// Grounded on the example pack's env-var-with-defaults config loader
// pattern (a Load() that reads os.Getenv with fallback defaults and
// validates required fields before returning).
package gateconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/uniplex/gate/internal/cachestore"
	"github.com/uniplex/gate/internal/shared/validate"
)

// SafeDefaultConfig governs session bootstrap.
type SafeDefaultConfig struct {
	Enabled      bool
	AutoIssue    bool
	Permissions  []string
	MaxLifetime  time.Duration
}

// CacheConfig holds the cache store's tuning knobs.
type CacheConfig struct {
	CatalogMaxAge     time.Duration
	RevocationMaxAge  time.Duration
	FailMode          cachestore.FailMode
	FailModeOverrides map[string]cachestore.FailModeOverride
}

// AuditMode selects how much the audit trail records.
type AuditMode string

const (
	AuditModeFull          AuditMode = "full"
	AuditModeSampled       AuditMode = "sampled"
	AuditModeSessionDigest AuditMode = "session_digest"
)

// AuditConfig holds the decision audit trail's tuning knobs.
type AuditConfig struct {
	Enabled    bool
	LogInputs  bool
	LogOutputs bool
	WebhookURL string
	Mode       AuditMode
}

// CommerceConfig holds the receipt-issuance tuning knobs.
type CommerceConfig struct {
	Enabled       bool
	IssueReceipts bool
	SigningKeyID  string
}

// AnonymousConfig holds the unauthenticated-access tuning knobs.
type AnonymousConfig struct {
	Enabled            bool
	AllowedActions     []string
	ReadOnly           bool
	RateLimitPerMinute int64
	RateLimitPerHour   int64
	UpgradeMessage     string
}

// TestModeConfig holds the local test-mode override knobs.
type TestModeConfig struct {
	Enabled      bool
	MockPassport string
}

// Config is the fully-resolved gate configuration.
type Config struct {
	GateID        string
	UniplexAPIURL string
	GateSecret    string
	SigningKeyID  string

	SafeDefault SafeDefaultConfig
	Cache       CacheConfig
	Audit       AuditConfig
	Commerce    CommerceConfig
	Anonymous   AnonymousConfig
	TestMode    TestModeConfig

	TrustedIssuers []string
	TrustNetworks  []string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		GateID:        getEnv("UNIPLEX_GATE_ID", ""),
		UniplexAPIURL: getEnv("UNIPLEX_API_URL", "https://api.uniplex.ai"),
		GateSecret:    getEnv("UNIPLEX_GATE_SECRET", ""),
		SigningKeyID:  getEnv("UNIPLEX_SIGNING_KEY_ID", ""),

		SafeDefault: SafeDefaultConfig{
			Enabled:     getEnvBool("UNIPLEX_SAFE_DEFAULT_ENABLED", false),
			AutoIssue:   getEnvBool("UNIPLEX_SAFE_DEFAULT_AUTO_ISSUE", false),
			Permissions: getEnvList("UNIPLEX_SAFE_DEFAULT_PERMISSIONS", nil),
			MaxLifetime: getEnvDuration("UNIPLEX_SAFE_DEFAULT_MAX_LIFETIME", time.Hour),
		},
		Cache: CacheConfig{
			CatalogMaxAge:    time.Duration(getEnvInt("UNIPLEX_CACHE_CATALOG_MAX_AGE_MINUTES", 5)) * time.Minute,
			RevocationMaxAge: time.Duration(getEnvInt("UNIPLEX_CACHE_REVOCATION_MAX_AGE_MINUTES", 1)) * time.Minute,
			FailMode:         cachestore.FailMode(getEnv("UNIPLEX_CACHE_FAIL_MODE", string(cachestore.FailClosed))),
		},
		Audit: AuditConfig{
			Enabled:    getEnvBool("UNIPLEX_AUDIT_ENABLED", false),
			LogInputs:  getEnvBool("UNIPLEX_AUDIT_LOG_INPUTS", false),
			LogOutputs: getEnvBool("UNIPLEX_AUDIT_LOG_OUTPUTS", false),
			WebhookURL: getEnv("UNIPLEX_AUDIT_WEBHOOK_URL", ""),
			Mode:       AuditMode(getEnv("UNIPLEX_AUDIT_MODE", string(AuditModeSampled))),
		},
		Commerce: CommerceConfig{
			Enabled:       getEnvBool("UNIPLEX_COMMERCE_ENABLED", false),
			IssueReceipts: getEnvBool("UNIPLEX_COMMERCE_ISSUE_RECEIPTS", false),
			SigningKeyID:  getEnv("UNIPLEX_COMMERCE_SIGNING_KEY_ID", ""),
		},
		Anonymous: AnonymousConfig{
			Enabled:            getEnvBool("UNIPLEX_ANONYMOUS_ENABLED", false),
			AllowedActions:     getEnvList("UNIPLEX_ANONYMOUS_ALLOWED_ACTIONS", nil),
			ReadOnly:           getEnvBool("UNIPLEX_ANONYMOUS_READ_ONLY", true),
			RateLimitPerMinute: int64(getEnvInt("UNIPLEX_ANONYMOUS_RATE_LIMIT_PER_MINUTE", 10)),
			RateLimitPerHour:   int64(getEnvInt("UNIPLEX_ANONYMOUS_RATE_LIMIT_PER_HOUR", 100)),
			UpgradeMessage:     getEnv("UNIPLEX_ANONYMOUS_UPGRADE_MESSAGE", ""),
		},
		TestMode: TestModeConfig{
			Enabled:      getEnvBool("UNIPLEX_TEST_MODE_ENABLED", false),
			MockPassport: getEnv("UNIPLEX_TEST_MODE_MOCK_PASSPORT", ""),
		},

		TrustedIssuers: getEnvList("UNIPLEX_TRUSTED_ISSUERS", nil),
		TrustNetworks:  getEnvList("UNIPLEX_TRUST_NETWORKS", nil),
	}

	if cfg.GateID == "" {
		return nil, fmt.Errorf("UNIPLEX_GATE_ID is required")
	}
	if err := validate.ValidateGateID(cfg.GateID); err != nil {
		return nil, fmt.Errorf("UNIPLEX_GATE_ID: %w", err)
	}
	if cfg.Cache.FailMode != cachestore.FailOpen && cfg.Cache.FailMode != cachestore.FailClosed {
		return nil, fmt.Errorf("UNIPLEX_CACHE_FAIL_MODE must be %q or %q, got %q", cachestore.FailOpen, cachestore.FailClosed, cfg.Cache.FailMode)
	}
	if cfg.Commerce.Enabled && cfg.Commerce.IssueReceipts && cfg.Commerce.SigningKeyID == "" {
		return nil, fmt.Errorf("UNIPLEX_COMMERCE_SIGNING_KEY_ID is required when receipt issuance is enabled")
	}
	if cfg.SafeDefault.Enabled {
		if err := validate.ValidateTTL(cfg.SafeDefault.MaxLifetime, time.Minute, 24*time.Hour); err != nil {
			return nil, fmt.Errorf("UNIPLEX_SAFE_DEFAULT_MAX_LIFETIME: %w", err)
		}
	}

	overrides, err := parseFailModeOverrides(getEnv("UNIPLEX_CACHE_FAIL_MODE_OVERRIDES", ""), cfg.Cache.RevocationMaxAge)
	if err != nil {
		return nil, fmt.Errorf("UNIPLEX_CACHE_FAIL_MODE_OVERRIDES: %w", err)
	}
	cfg.Cache.FailModeOverrides = overrides

	return cfg, nil
}

// parseFailModeOverrides decodes a comma-separated list of
// "action=fail_mode[:revocation_max_age_minutes]" entries, e.g.
// "payments:charge=fail_closed:1,flights:search=fail_open:10". An entry
// that omits the minutes segment inherits defaultRevocationMaxAge.
func parseFailModeOverrides(raw string, defaultRevocationMaxAge time.Duration) (map[string]cachestore.FailModeOverride, error) {
	if raw == "" {
		return nil, nil
	}
	out := make(map[string]cachestore.FailModeOverride)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		action, spec, ok := strings.Cut(entry, "=")
		if !ok || action == "" || spec == "" {
			return nil, fmt.Errorf("malformed entry %q, want action=fail_mode[:minutes]", entry)
		}
		modeStr, minutesStr, hasMinutes := strings.Cut(spec, ":")
		mode := cachestore.FailMode(modeStr)
		if mode != cachestore.FailOpen && mode != cachestore.FailClosed {
			return nil, fmt.Errorf("action %q: fail mode must be %q or %q, got %q", action, cachestore.FailOpen, cachestore.FailClosed, mode)
		}
		revocationMaxAge := defaultRevocationMaxAge
		if hasMinutes {
			minutes, err := strconv.Atoi(minutesStr)
			if err != nil {
				return nil, fmt.Errorf("action %q: invalid revocation_max_age_minutes %q: %w", action, minutesStr, err)
			}
			revocationMaxAge = time.Duration(minutes) * time.Minute
		}
		out[action] = cachestore.FailModeOverride{FailMode: mode, RevocationMaxAge: revocationMaxAge}
	}
	return out, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
