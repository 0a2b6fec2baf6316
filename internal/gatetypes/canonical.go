package gatetypes

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// field is one entry of an ordered, canonically-encoded JSON object. A nil
// Value means "undefined" and the field is omitted entirely, matching the
// signature payload's undefined-field-omission rule.
type field struct {
	Name  string
	Value interface{}
}

// canonicalObject renders fields in the given order as tight JSON: no
// whitespace, undefined values omitted, nested maps with sorted keys.
func canonicalObject(fields []field) (string, error) {
	var parts []string
	for _, f := range fields {
		if isUndefined(f.Value) {
			continue
		}
		enc, err := canonicalValue(f.Value)
		if err != nil {
			return "", fmt.Errorf("field %s: %w", f.Name, err)
		}
		parts = append(parts, canonicalString(f.Name)+":"+enc)
	}
	return "{" + strings.Join(parts, ",") + "}", nil
}

func isUndefined(v interface{}) bool {
	if v == nil {
		return true
	}
	switch x := v.(type) {
	case string:
		return false
	case map[string]int:
		return x == nil
	case ConstraintMap:
		return x == nil
	case []Claim:
		return false
	case []string:
		return x == nil
	case *Classification:
		return x == nil
	}
	return false
}

func canonicalValue(v interface{}) (string, error) {
	switch x := v.(type) {
	case nil:
		return "null", nil
	case string:
		return canonicalString(x), nil
	case bool:
		if x {
			return "true", nil
		}
		return "false", nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case time.Time:
		return canonicalString(x.UTC().Format(time.RFC3339)), nil
	case []string:
		var parts []string
		for _, s := range x {
			parts = append(parts, canonicalString(s))
		}
		return "[" + strings.Join(parts, ",") + "]", nil
	case map[string]int:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var parts []string
		for _, k := range keys {
			parts = append(parts, canonicalString(k)+":"+strconv.Itoa(x[k]))
		}
		return "{" + strings.Join(parts, ",") + "}", nil
	case ConstraintMap:
		return canonicalConstraintMap(x)
	case Consumption:
		var dur interface{}
		if x.DurationMs != nil {
			dur = *x.DurationMs
		}
		return canonicalObject([]field{
			{"units", x.Units},
			{"cost_cents", x.CostCents},
			{"platform_fee_cents", x.PlatformFeeCents},
			{"timestamp", x.TimestampUnix},
			{"duration_ms", dur},
		})
	case []Claim:
		var parts []string
		for _, c := range x {
			cm, err := canonicalConstraintMap(c.Constraints)
			if err != nil {
				return "", err
			}
			obj := "{" + canonicalString("permission_key") + ":" + canonicalString(c.PermissionKey) +
				"," + canonicalString("constraints") + ":" + cm + "}"
			parts = append(parts, obj)
		}
		return "[" + strings.Join(parts, ",") + "]", nil
	default:
		return "", fmt.Errorf("canonical: unsupported value type %T", v)
	}
}

func canonicalConstraintMap(m ConstraintMap) (string, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var parts []string
	for _, k := range keys {
		enc, err := canonicalScalar(m[k])
		if err != nil {
			return "", fmt.Errorf("constraint %s: %w", k, err)
		}
		parts = append(parts, canonicalString(k)+":"+enc)
	}
	return "{" + strings.Join(parts, ",") + "}", nil
}

// canonicalScalar encodes the handful of value shapes a constraint value may
// take (int64/float-as-int64 for limits, bool/string for terms and policy
// flags, []string for allow/blocklists).
func canonicalScalar(v interface{}) (string, error) {
	switch x := v.(type) {
	case int64:
		return strconv.FormatInt(x, 10), nil
	case int:
		return strconv.Itoa(x), nil
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10), nil
		}
		return "", fmt.Errorf("non-integer numeric constraint value %v", x)
	case bool:
		if x {
			return "true", nil
		}
		return "false", nil
	case string:
		return canonicalString(x), nil
	case []string:
		var parts []string
		for _, s := range x {
			parts = append(parts, canonicalString(s))
		}
		return "[" + strings.Join(parts, ",") + "]", nil
	case []interface{}:
		var parts []string
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return "", fmt.Errorf("unsupported list element type %T", e)
			}
			parts = append(parts, canonicalString(s))
		}
		return "[" + strings.Join(parts, ",") + "]", nil
	case nil:
		return "null", nil
	default:
		return "", fmt.Errorf("unsupported constraint value type %T", v)
	}
}

// canonicalString renders s as a minimal, deterministic JSON string: only
// the escapes the JSON grammar requires, nothing HTML-sensitive-specific.
func canonicalString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				b.WriteString(fmt.Sprintf(`\u%04x`, r))
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}

// CredentialSignedPayload renders the exact byte sequence a credential's
// signature is computed over: field order fixed, undefined
// fields omitted, no extra whitespace.
func CredentialSignedPayload(c Credential) (string, error) {
	var pin interface{}
	if c.CatalogVersionPin != nil {
		pin = c.CatalogVersionPin
	}
	return canonicalObject([]field{
		{"credential_id", c.CredentialID},
		{"issuer_id", c.IssuerID},
		{"subject_id", c.SubjectID},
		{"gate_id", c.GateID},
		{"claims", c.Claims},
		{"constraints", c.Constraints},
		{"expires_at", c.ExpiresAt},
		{"issued_at", c.IssuedAt},
		{"catalog_version_pin", pin},
	})
}

// CatalogCanonicalJSON computes a deterministic JSON rendering of a catalog
// version suitable for hashing into catalog_content_hash.
func CatalogCanonicalJSON(v CatalogVersionData) (string, error) {
	var perms []string
	for _, p := range v.Permissions {
		dc, err := canonicalConstraintMap(p.DefaultConstraints)
		if err != nil {
			return "", err
		}
		req, err := canonicalValue(p.RequiredConstraints)
		if err != nil {
			return "", err
		}
		obj := "{" +
			canonicalString("key") + ":" + canonicalString(p.Key) + "," +
			canonicalString("display_name") + ":" + canonicalString(p.DisplayName) + "," +
			canonicalString("risk_level") + ":" + canonicalString(string(p.RiskLevel)) + "," +
			canonicalString("default_constraints") + ":" + dc + "," +
			canonicalString("required_constraint_keys") + ":" + req +
			"}"
		perms = append(perms, obj)
	}
	return "{" +
		canonicalString("version") + ":" + strconv.Itoa(v.Version) + "," +
		canonicalString("permissions") + ":[" + strings.Join(perms, ",") + "]" +
		"}", nil
}
