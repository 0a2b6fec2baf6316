package constraint

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/uniplex/gate/internal/gatetypes"
)

var deprecatedAliasOnce sync.Once

// Merge composes catalog-default constraints with a credential claim's
// per-claim constraints: for limit keys, the effective value
// is min(catalog, credential) when both present, else whichever is present;
// for term keys, catalog always wins and any credential value is discarded;
// unknown keys pass the credential value through untouched.
//
// core:cost:max is accepted as a read-time alias of
// core:cost:max_per_action: if only the deprecated key is present
// it is copied under the canonical name (logged once), and the two keys are
// never silently combined.
func Merge(logger *slog.Logger, catalogDefaults, credentialConstraints gatetypes.ConstraintMap) (gatetypes.ConstraintMap, error) {
	catalogDefaults = aliasDeprecatedCostKey(logger, catalogDefaults)
	credentialConstraints = aliasDeprecatedCostKey(logger, credentialConstraints)

	effective := make(gatetypes.ConstraintMap, len(catalogDefaults)+len(credentialConstraints))

	keys := make(map[string]struct{}, len(catalogDefaults)+len(credentialConstraints))
	for k := range catalogDefaults {
		keys[k] = struct{}{}
	}
	for k := range credentialConstraints {
		keys[k] = struct{}{}
	}

	for k := range keys {
		catVal, catOK := catalogDefaults[k]
		credVal, credOK := credentialConstraints[k]

		kind, known := KindOf(k)
		if !known {
			// Forward-compatible: unknown keys pass the credential value
			// through, falling back to the catalog value if the credential
			// doesn't declare it.
			if credOK {
				effective[k] = credVal
			} else {
				effective[k] = catVal
			}
			continue
		}

		switch kind {
		case KindTerm:
			if catOK {
				effective[k] = catVal
			}
			// a credential-only term value is discarded entirely
		case KindLimit:
			switch {
			case catOK && credOK:
				merged, err := minNumeric(catVal, credVal)
				if err != nil {
					return nil, fmt.Errorf("%w: key %s: %v", ErrConstraintType, k, err)
				}
				effective[k] = merged
			case catOK:
				effective[k] = catVal
			case credOK:
				effective[k] = credVal
			}
		case KindPolicy:
			// Policy constraints are catalog-authoritative defaults that a
			// credential may only narrow by presence; absent a documented
			// narrowing rule, the credential value (if any) wins, else the
			// catalog value.
			if credOK {
				effective[k] = credVal
			} else if catOK {
				effective[k] = catVal
			}
		}
	}

	return effective, nil
}

func aliasDeprecatedCostKey(logger *slog.Logger, m gatetypes.ConstraintMap) gatetypes.ConstraintMap {
	if m == nil {
		return m
	}
	oldVal, hasOld := m[KeyCostMaxDeprecated]
	_, hasNew := m[KeyCostMaxPerAction]
	if !hasOld || hasNew {
		return m
	}
	deprecatedAliasOnce.Do(func() {
		if logger != nil {
			logger.Warn("constraint key core:cost:max is deprecated, use core:cost:max_per_action")
		}
	})
	out := m.Clone()
	out[KeyCostMaxPerAction] = oldVal
	delete(out, KeyCostMaxDeprecated)
	return out
}

func minNumeric(a, b interface{}) (int64, error) {
	ai, err := toInt64(a)
	if err != nil {
		return 0, err
	}
	bi, err := toInt64(b)
	if err != nil {
		return 0, err
	}
	if ai < bi {
		return ai, nil
	}
	return bi, nil
}

func toInt64(v interface{}) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case float64:
		if x != float64(int64(x)) {
			return 0, fmt.Errorf("non-integer limit value %v", x)
		}
		return int64(x), nil
	default:
		return 0, fmt.Errorf("non-numeric limit value of type %T", v)
	}
}
