// Package audit implements the gate's decision audit trail:
// one structured record per verification outcome, logged via slog and
// optionally forwarded to a webhook, with a sampling mode that keeps the
// hot path cheap under load.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/uniplex/gate/internal/gatetypes"
	"github.com/uniplex/gate/internal/shared/validate"
)

// maxLoggedFieldLength bounds any caller-influenced string field (session
// id, action name) before it reaches a sink, so a malformed or adversarial
// session id can't blow up log line size or inject control characters into
// the log stream.
const maxLoggedFieldLength = 256

// Mode controls how much detail an Event carries and how often events are
// emitted.
type Mode string

const (
	ModeFull          Mode = "full"
	ModeSampled       Mode = "sampled"
	ModeSessionDigest Mode = "session_digest"
)

// Event is one audit record for a single verification decision.
type Event struct {
	DecisionID    string         `json:"decision_id"`
	GateID        string         `json:"gate_id"`
	SessionID     string         `json:"session_id,omitempty"`
	CredentialID  string         `json:"credential_id,omitempty"`
	Action        string         `json:"action"`
	Verdict       string         `json:"verdict"` // permit, deny
	DenialCode    string         `json:"denial_code,omitempty"`
	Reasons       []string       `json:"reasons,omitempty"`
	Confident     bool           `json:"confident"`
	Input         any            `json:"input,omitempty"`
	Output        any            `json:"output,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Labels        map[string]string `json:"labels,omitempty"`
}

// FromVerifyResult builds an Event from a pipeline outcome. logInputs and
// logOutputs gate whether the request/response payloads are attached; when
// false they are omitted even if provided, matching the configured
// audit.log_inputs / audit.log_outputs switches.
func FromVerifyResult(gateID, sessionID, action string, result gatetypes.VerifyResult, input, output any, logInputs, logOutputs bool) Event {
	ev := Event{
		GateID:    gateID,
		SessionID: validate.SanitizeString(sessionID, maxLoggedFieldLength),
		Action:    validate.SanitizeString(action, maxLoggedFieldLength),
		Confident: result.Confident,
		Timestamp: time.Now(),
	}
	if result.Decision == "permit" {
		ev.Verdict = "permit"
	} else {
		ev.Verdict = "deny"
		if result.Denial != nil {
			ev.DenialCode = result.Denial.Code
			ev.Reasons = result.Denial.ReasonCodes
		}
	}
	if logInputs {
		ev.Input = input
	}
	if logOutputs {
		ev.Output = output
	}
	return ev
}

// Sink receives finished audit events. Implementations must not block the
// verification hot path; Trail.Record dispatches to sinks synchronously,
// so slow sinks (e.g. Webhook) should be wrapped by the caller in a
// goroutine if latency matters.
type Sink interface {
	Record(ctx context.Context, ev Event) error
}

// SlogSink writes one structured log line per event.
type SlogSink struct {
	Logger *slog.Logger
}

func (s SlogSink) Record(_ context.Context, ev Event) error {
	attrs := []any{
		"decision_id", ev.DecisionID,
		"gate_id", ev.GateID,
		"action", ev.Action,
		"verdict", ev.Verdict,
		"confident", ev.Confident,
	}
	if ev.SessionID != "" {
		attrs = append(attrs, "session_id", ev.SessionID)
	}
	if ev.DenialCode != "" {
		attrs = append(attrs, "denial_code", ev.DenialCode)
	}
	s.Logger.Info("verification_decision", attrs...)
	return nil
}

// WebhookSink POSTs the JSON-encoded event to a configured URL.
type WebhookSink struct {
	URL        string
	HTTPClient *http.Client
}

func (w WebhookSink) Record(ctx context.Context, ev Event) error {
	client := w.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// Trail dispatches audit events to zero or more sinks, applying a sampling
// policy so a "sampled" mode gate doesn't pay full I/O cost per call.
type Trail struct {
	Mode    Mode
	Sinks   []Sink
	Logger  *slog.Logger
	sampleN int
	counter int
}

// New builds a Trail. sampleEvery is only consulted when mode is
// ModeSampled; a value <= 1 records every event.
func New(mode Mode, sampleEvery int, logger *slog.Logger, sinks ...Sink) *Trail {
	if sampleEvery < 1 {
		sampleEvery = 1
	}
	return &Trail{Mode: mode, Sinks: sinks, Logger: logger, sampleN: sampleEvery}
}

// Record fans an event out to every configured sink, skipping it under
// ModeSampled according to the configured rate. Denials always bypass
// sampling: a dropped denial event is a blind spot the operator cannot
// recover from.
func (t *Trail) Record(ctx context.Context, ev Event) {
	if t == nil {
		return
	}
	if t.Mode == ModeSampled && ev.Verdict != "deny" {
		t.counter++
		if t.counter%t.sampleN != 0 {
			return
		}
	}
	for _, sink := range t.Sinks {
		if err := sink.Record(ctx, ev); err != nil && t.Logger != nil {
			t.Logger.Warn("audit sink failed", "error", err)
		}
	}
}
