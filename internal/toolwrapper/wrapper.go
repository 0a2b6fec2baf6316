// Package toolwrapper implements the gate's tool registration and
// invocation surface: each registered tool declares how to
// pull constraint-relevant values out of its raw JSON input, the wrapper
// normalizes those values (package money), runs the Verification Pipeline,
// and on permit dispatches to the tool's handler while emitting audit and
// receipt hooks. JSON-path extraction is done with github.com/tidwall/gjson,
// adopted from the rest of the example pack for exactly this kind of
// schema-less path lookup.
package toolwrapper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidwall/gjson"

	"github.com/uniplex/gate/internal/constraint"
	"github.com/uniplex/gate/internal/gatetypes"
	"github.com/uniplex/gate/internal/money"
	"github.com/uniplex/gate/internal/pipeline"
)

// Source is where a constraint mapping pulls its raw value from.
type Source string

const (
	SourceFixed Source = "fixed"
	SourceInput Source = "input"
)

// Transform is the normalization applied to a mapping's raw value.
type Transform string

const (
	TransformNone           Transform = "none"
	TransformDollarsToCents Transform = "dollars_to_cents"
	TransformCustom         Transform = "custom"
)

// Well-known logical constraint keys a mapping can bind into the request
// context.
const (
	FieldAmount          = "amount"
	FieldDomain          = "domain"
	FieldIsDataWrite     = "is_data_write"
	FieldIsPIIExport     = "is_pii_export"
	FieldApprovalFlagged = "approval_flagged"
)

// CustomTransformFunc lets a tool supply its own raw-string -> value logic
// for a mapping declared with Transform: custom.
type CustomTransformFunc func(raw string) (interface{}, error)

// Mapping is one constraint-mapping entry.
type Mapping struct {
	ConstraintKey string // one of the Field* constants above
	Source        Source
	FixedValue    interface{} // used when Source == SourceFixed
	JSONPath      string      // used when Source == SourceInput
	Transform     Transform
	Precision     int // default 2 for dollars_to_cents
	Mode          money.Mode
	Custom        CustomTransformFunc
}

// Tool is one registered tool.
type Tool struct {
	Name          string
	PermissionKey string
	RiskLevel     gatetypes.RiskLevel
	InputSchema   json.RawMessage
	Mappings      []Mapping
	Handler       func(ctx context.Context, input json.RawMessage) (interface{}, error)
}

// ToolError is returned on denial; it carries everything a caller needs to
// render a user-facing message.
type ToolError struct {
	Code            string
	Message         string
	UpgradeTemplate string
	Suggestions     []string
}

func (e *ToolError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// AuditHook is invoked after a permitted call completes.
type AuditHook func(ctx context.Context, toolName string, cred *gatetypes.Credential, duration time.Duration, result gatetypes.VerifyResult)

// ReceiptHook is invoked after a permitted call completes, when commerce is
// enabled, to emit a consumption receipt.
type ReceiptHook func(ctx context.Context, toolName string, cred *gatetypes.Credential, req constraint.RequestContext, effective gatetypes.ConstraintMap)

const defaultSuggestionTimeout = 500 * time.Millisecond

// Wrapper owns the tool registry and wires each call through the
// Verification Pipeline.
type Wrapper struct {
	Pipeline *pipeline.Pipeline
	Logger   *slog.Logger

	AuditEnabled    bool
	CommerceEnabled bool
	OnAudit         AuditHook
	OnReceipt       ReceiptHook

	// AnonymousPolicy is forwarded into every Verify call so unauthenticated
	// invocations can be permitted under the configured anonymous-access
	// policy.
	AnonymousPolicy *pipeline.AnonymousPolicy

	SuggestionTimeout time.Duration

	tools map[string]*Tool
}

// New constructs an empty wrapper over pl.
func New(pl *pipeline.Pipeline, logger *slog.Logger) *Wrapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Wrapper{
		Pipeline:          pl,
		Logger:            logger,
		SuggestionTimeout: defaultSuggestionTimeout,
		tools:             make(map[string]*Tool),
	}
}

// Register adds or replaces a tool in the registry.
func (w *Wrapper) Register(t *Tool) {
	w.tools[t.Name] = t
}

// Invoke extracts constraint values from rawInput per the tool's mappings,
// runs the Verification Pipeline, and on permit dispatches to the tool's
// handler.
func (w *Wrapper) Invoke(ctx context.Context, toolName string, cred *gatetypes.Credential, sessionID string, rawInput json.RawMessage) (interface{}, error) {
	tool, ok := w.tools[toolName]
	if !ok {
		return nil, &ToolError{Code: "tool_not_found", Message: fmt.Sprintf("no tool registered as %q", toolName)}
	}

	reqCtx := w.buildRequestContext(tool, rawInput)

	res := w.Pipeline.Verify(ctx, pipeline.Input{
		Credential:      cred,
		Action:          tool.PermissionKey,
		Request:         reqCtx,
		SourceID:        sessionID,
		Now:             time.Now(),
		AnonymousPolicy: w.AnonymousPolicy,
	})

	if res.Decision != "permit" {
		return nil, &ToolError{
			Code:            res.Denial.Code,
			Message:         res.Denial.Message,
			UpgradeTemplate: res.Denial.UpgradeTemplate,
			Suggestions:     w.suggestAlternatives(ctx, tool.Name),
		}
	}

	start := time.Now()
	result, err := tool.Handler(ctx, rawInput)
	duration := time.Since(start)

	if w.AuditEnabled && w.OnAudit != nil {
		w.OnAudit(ctx, tool.Name, cred, duration, res)
	}
	if w.CommerceEnabled && w.OnReceipt != nil {
		w.OnReceipt(ctx, tool.Name, cred, reqCtx, res.EffectiveConstraints)
	}

	return result, err
}

// buildRequestContext resolves every mapping. A mapping failure is logged
// and skipped; it never fails the call.
func (w *Wrapper) buildRequestContext(tool *Tool, rawInput json.RawMessage) constraint.RequestContext {
	var reqCtx constraint.RequestContext
	for _, m := range tool.Mappings {
		val, err := w.resolveMapping(m, rawInput)
		if err != nil {
			w.Logger.Warn("tool constraint mapping failed",
				"tool", tool.Name, "constraint_key", m.ConstraintKey, "error", err)
			continue
		}
		bindField(&reqCtx, m.ConstraintKey, val)
	}
	return reqCtx
}

func (w *Wrapper) resolveMapping(m Mapping, rawInput json.RawMessage) (interface{}, error) {
	var raw string
	switch m.Source {
	case SourceFixed:
		return m.FixedValue, nil
	case SourceInput:
		res := gjson.GetBytes(rawInput, m.JSONPath)
		if !res.Exists() {
			return nil, fmt.Errorf("json_path %q not found in input", m.JSONPath)
		}
		raw = res.String()
	default:
		return nil, fmt.Errorf("unknown mapping source %q", m.Source)
	}

	switch m.Transform {
	case "", TransformNone:
		return raw, nil
	case TransformDollarsToCents:
		precision := m.Precision
		if precision == 0 {
			precision = 2
		}
		mode := m.Mode
		if mode == "" {
			mode = money.ModeStrict
		}
		cents, err := money.Normalize(raw, precision, mode)
		if err != nil {
			return nil, err
		}
		return cents, nil
	case TransformCustom:
		if m.Custom == nil {
			return nil, fmt.Errorf("transform custom declared with no Custom func")
		}
		return m.Custom(raw)
	default:
		return nil, fmt.Errorf("unknown transform %q", m.Transform)
	}
}

// bindField writes val into req under key, additionally populating
// AmountCanonical whenever key names a cost or price constraint.
func bindField(req *constraint.RequestContext, key string, val interface{}) {
	switch key {
	case FieldDomain:
		if s, ok := val.(string); ok {
			req.Domain = s
		}
	case FieldIsDataWrite:
		req.IsDataWrite = truthy(val)
	case FieldIsPIIExport:
		req.IsPIIExport = truthy(val)
	case FieldApprovalFlagged:
		req.ApprovalFlagged = truthy(val)
	case FieldAmount:
		if amt, ok := val.(int64); ok {
			req.AmountCanonical = &amt
		}
	}
	if containsCostOrPrice(key) {
		if amt, ok := val.(int64); ok {
			req.AmountCanonical = &amt
		}
	}
}

func containsCostOrPrice(key string) bool {
	for _, needle := range []string{"cost", "price"} {
		if len(key) >= len(needle) && indexOf(key, needle) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func truthy(v interface{}) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		return x == "true"
	default:
		return false
	}
}

// suggestAlternatives returns names of other registered, non-critical-risk
// tools, bounded by SuggestionTimeout.
func (w *Wrapper) suggestAlternatives(ctx context.Context, exclude string) []string {
	deadline := time.Now().Add(w.SuggestionTimeout)
	var names []string
	for name, t := range w.tools {
		if time.Now().After(deadline) {
			break
		}
		if name == exclude || t.RiskLevel == gatetypes.RiskCritical {
			continue
		}
		names = append(names, name)
	}
	return names
}
