package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestObserveDecisionAndDenialExposedOnScrape(t *testing.T) {
	reg := New()
	reg.ObserveDecision("search_flights", "permit", 0.01)
	reg.ObserveDenial("book_flight", "constraint_violated")
	reg.ActiveSessions.Set(3)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		`gate_verifications_total{action="search_flights",decision="permit"} 1`,
		`gate_denials_total{action="book_flight",code="constraint_violated"} 1`,
		`gate_active_sessions 3`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected scrape output to contain %q, got:\n%s", want, body)
		}
	}
}

func TestObserveRateLimitHitAndReceiptIssued(t *testing.T) {
	reg := New()
	reg.ObserveRateLimitHit("search_flights")
	reg.ObserveReceiptIssued("flights.search")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, `gate_rate_limit_hits_total{action="search_flights"} 1`) {
		t.Fatalf("missing rate limit metric:\n%s", body)
	}
	if !strings.Contains(body, `gate_receipts_issued_total{permission_key="flights.search"} 1`) {
		t.Fatalf("missing receipts issued metric:\n%s", body)
	}
}
