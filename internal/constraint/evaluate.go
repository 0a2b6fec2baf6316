package constraint

import (
	"time"

	"github.com/uniplex/gate/internal/gatetypes"
)

// Obligation tokens: small strings, not closures, so
// they serialize onto the wire and can be handled by external workflow
// engines without coupling to gate internals.
const (
	ObligationRequireApproval = "require_approval"
)

// Reason codes produced by the evaluator's categories.
const (
	ReasonConstraintViolated = "constraint_violated"
	ReasonApprovalRequired   = "approval_required"
	ReasonRateLimited        = "rate_limited"
)

// RequestContext is the per-request context mapping extracted from inputs,
// e.g. amount_canonical for cost, plus flags the Data category inspects.
type RequestContext struct {
	AmountCanonical *int64
	Domain          string
	IsDataWrite     bool
	IsPIIExport     bool
	ApprovalFlagged bool
}

// CumulativeCostTracker is the stateful per-(credential,action) cumulative
// cost hook.
type CumulativeCostTracker interface {
	Add(credentialID, action string, amountCents int64) (total int64, err error)
}

// RateChecker is the hook into the Rate Limiter (component 4.5); the
// Evaluate category asks whether the action is currently permitted. The
// pipeline's checker counts the call in the same step (Limiter.Allow
// increments the bucket); there is no separate increment afterwards.
type RateChecker func(action string) bool

// Verdict is the outcome of one category evaluation.
type Verdict struct {
	Decision    gatetypes.Decision
	ReasonCodes []string
	Obligations []string
}

// EvaluateInput bundles everything Evaluate needs to run its fixed category
// order.
type EvaluateInput struct {
	Action        string
	CredentialID  string
	Now           time.Time
	Effective     gatetypes.ConstraintMap
	Request       RequestContext
	Classification *gatetypes.Classification
	RateCheck     RateChecker
	CostTracker   CumulativeCostTracker
}

// Evaluate runs the fixed-order category pipeline and aggregates verdicts
// under BLOCK > SUSPEND > PERMIT.
func Evaluate(in EvaluateInput) (gatetypes.Decision, []string, []string) {
	aggregate := gatetypes.DecisionPermit
	var reasons []string
	var obligations []string

	apply := func(v Verdict) {
		aggregate = gatetypes.MaxDecision(aggregate, v.Decision)
		reasons = append(reasons, v.ReasonCodes...)
		obligations = append(obligations, dedupe(obligations, v.Obligations)...)
	}

	apply(evaluateTemporal(in))
	apply(evaluateScope(in))
	apply(evaluateRate(in))
	apply(evaluateCost(in))
	apply(evaluateApproval(in))
	apply(evaluateData(in))

	return aggregate, reasons, obligations
}

func dedupe(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, s := range existing {
		seen[s] = true
	}
	var out []string
	for _, s := range incoming {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// evaluateTemporal checks operating-hours windows and blackout windows.
// Absent any configured window, the category always permits.
func evaluateTemporal(in EvaluateInput) Verdict {
	if hours, ok := in.Effective[KeyOperatingHours]; ok {
		if !withinOperatingHours(hours, in.Now) {
			return Verdict{Decision: gatetypes.DecisionBlock, ReasonCodes: []string{ReasonConstraintViolated}}
		}
	}
	if windows, ok := in.Effective[KeyBlackoutWindows]; ok {
		if inBlackoutWindow(windows, in.Now) {
			return Verdict{Decision: gatetypes.DecisionBlock, ReasonCodes: []string{ReasonConstraintViolated}}
		}
	}
	return Verdict{Decision: gatetypes.DecisionPermit}
}

func withinOperatingHours(v interface{}, now time.Time) bool {
	m, ok := v.(map[string]interface{})
	if !ok {
		return true
	}
	start, sOK := m["start"].(string)
	end, eOK := m["end"].(string)
	if !sOK || !eOK {
		return true
	}
	startT, err1 := time.Parse("15:04", start)
	endT, err2 := time.Parse("15:04", end)
	if err1 != nil || err2 != nil {
		return true
	}
	nowMinutes := now.Hour()*60 + now.Minute()
	startMinutes := startT.Hour()*60 + startT.Minute()
	endMinutes := endT.Hour()*60 + endT.Minute()
	if startMinutes <= endMinutes {
		return nowMinutes >= startMinutes && nowMinutes <= endMinutes
	}
	// window wraps past midnight
	return nowMinutes >= startMinutes || nowMinutes <= endMinutes
}

func inBlackoutWindow(v interface{}, now time.Time) bool {
	list, ok := v.([]interface{})
	if !ok {
		return false
	}
	for _, entry := range list {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		startStr, _ := m["start"].(string)
		endStr, _ := m["end"].(string)
		start, err1 := time.Parse(time.RFC3339, startStr)
		end, err2 := time.Parse(time.RFC3339, endStr)
		if err1 != nil || err2 != nil {
			continue
		}
		if (now.Equal(start) || now.After(start)) && now.Before(end) {
			return true
		}
	}
	return false
}

func evaluateScope(in EvaluateInput) Verdict {
	if list, ok := in.Effective[KeyActionBlocklist]; ok && containsString(list, in.Action) {
		return Verdict{Decision: gatetypes.DecisionBlock, ReasonCodes: []string{ReasonConstraintViolated}}
	}
	if list, ok := in.Effective[KeyActionAllowlist]; ok && !containsString(list, in.Action) {
		return Verdict{Decision: gatetypes.DecisionBlock, ReasonCodes: []string{ReasonConstraintViolated}}
	}
	if in.Request.Domain != "" {
		if list, ok := in.Effective[KeyDomainBlocklist]; ok && containsString(list, in.Request.Domain) {
			return Verdict{Decision: gatetypes.DecisionBlock, ReasonCodes: []string{ReasonConstraintViolated}}
		}
		if list, ok := in.Effective[KeyDomainAllowlist]; ok && !containsString(list, in.Request.Domain) {
			return Verdict{Decision: gatetypes.DecisionBlock, ReasonCodes: []string{ReasonConstraintViolated}}
		}
	}
	return Verdict{Decision: gatetypes.DecisionPermit}
}

func containsString(v interface{}, target string) bool {
	switch list := v.(type) {
	case []string:
		for _, s := range list {
			if s == target {
				return true
			}
		}
	case []interface{}:
		for _, e := range list {
			if s, ok := e.(string); ok && s == target {
				return true
			}
		}
	}
	return false
}

func evaluateRate(in EvaluateInput) Verdict {
	if in.RateCheck == nil {
		return Verdict{Decision: gatetypes.DecisionPermit}
	}
	if !in.RateCheck(in.Action) {
		return Verdict{Decision: gatetypes.DecisionBlock, ReasonCodes: []string{ReasonRateLimited}}
	}
	return Verdict{Decision: gatetypes.DecisionPermit}
}

func evaluateCost(in EvaluateInput) Verdict {
	if in.Request.AmountCanonical == nil {
		return Verdict{Decision: gatetypes.DecisionPermit}
	}
	amount := *in.Request.AmountCanonical

	if maxVal, ok := in.Effective[KeyCostMaxPerAction]; ok {
		max, err := toInt64(maxVal)
		if err == nil && amount > max {
			return Verdict{Decision: gatetypes.DecisionBlock, ReasonCodes: []string{ReasonConstraintViolated}}
		}
	}

	if thresholdVal, ok := in.Effective[KeyCostApprovalThreshold]; ok {
		threshold, err := toInt64(thresholdVal)
		if err == nil && amount >= threshold {
			return Verdict{
				Decision:    gatetypes.DecisionSuspend,
				ReasonCodes: []string{ReasonApprovalRequired},
				Obligations: []string{ObligationRequireApproval},
			}
		}
	}

	if cumVal, ok := in.Effective[KeyCostMaxCumulative]; ok && in.CostTracker != nil {
		cumMax, err := toInt64(cumVal)
		if err == nil {
			total, trackErr := in.CostTracker.Add(in.CredentialID, in.Action, amount)
			if trackErr == nil && total > cumMax {
				return Verdict{Decision: gatetypes.DecisionBlock, ReasonCodes: []string{ReasonConstraintViolated}}
			}
		}
	}

	return Verdict{Decision: gatetypes.DecisionPermit}
}

func evaluateApproval(in EvaluateInput) Verdict {
	explicit := false
	if v, ok := in.Effective[KeyApprovalRequired]; ok {
		if b, ok := v.(bool); ok && b {
			explicit = true
		}
	}
	if in.Request.ApprovalFlagged {
		explicit = true
	}

	// Supplemented escalation: an irreversible, system-wide
	// effect escalates to SUSPEND even without an explicit approval claim.
	autoEscalate := in.Classification != nil &&
		in.Classification.Reversibility == "irreversible" &&
		in.Classification.BlastRadius == "system_wide"

	if explicit || autoEscalate {
		return Verdict{
			Decision:    gatetypes.DecisionSuspend,
			ReasonCodes: []string{ReasonApprovalRequired},
			Obligations: []string{ObligationRequireApproval},
		}
	}
	return Verdict{Decision: gatetypes.DecisionPermit}
}

func evaluateData(in EvaluateInput) Verdict {
	if v, ok := in.Effective[KeyDataReadOnly]; ok {
		if b, ok := v.(bool); ok && b && in.Request.IsDataWrite {
			return Verdict{Decision: gatetypes.DecisionBlock, ReasonCodes: []string{ReasonConstraintViolated}}
		}
	}
	if v, ok := in.Effective[KeyNoPIIExport]; ok {
		if b, ok := v.(bool); ok && b && in.Request.IsPIIExport {
			return Verdict{Decision: gatetypes.DecisionBlock, ReasonCodes: []string{ReasonConstraintViolated}}
		}
	}
	return Verdict{Decision: gatetypes.DecisionPermit}
}
