package billing

import (
	"testing"
	"time"

	"github.com/uniplex/gate/internal/gatetypes"
)

func receipts() []gatetypes.ConsumptionReceipt {
	return []gatetypes.ConsumptionReceipt{
		{ReceiptID: "r1", GateID: "gate-1", SubjectID: "subj-1", Consumption: gatetypes.Consumption{Units: 1, CostCents: 100, PlatformFeeCents: 10}},
		{ReceiptID: "r2", GateID: "gate-1", SubjectID: "subj-1", Consumption: gatetypes.Consumption{Units: 2, CostCents: 200, PlatformFeeCents: 20}},
	}
}

func TestAggregateSumsFields(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	summary, err := Aggregate(receipts(), start, end)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if summary.TotalCalls != 3 || summary.TotalCostCents != 300 || summary.TotalPlatformFeeCents != 30 {
		t.Fatalf("got %+v", summary)
	}
	if len(summary.ReceiptIDs) != 2 {
		t.Fatalf("expected 2 receipt ids, got %v", summary.ReceiptIDs)
	}
}

func TestAggregateEmptyListFails(t *testing.T) {
	_, err := Aggregate(nil, time.Now(), time.Now())
	if err != ErrEmptyReceiptList {
		t.Fatalf("got %v", err)
	}
}

func TestAggregateRejectsMixedSubjects(t *testing.T) {
	rs := receipts()
	rs[1].SubjectID = "subj-2"
	_, err := Aggregate(rs, time.Now(), time.Now())
	if err != ErrMixedSubjects {
		t.Fatalf("got %v", err)
	}
}

func TestAggregateRejectsMixedGates(t *testing.T) {
	rs := receipts()
	rs[1].GateID = "gate-2"
	_, err := Aggregate(rs, time.Now(), time.Now())
	if err != ErrMixedGates {
		t.Fatalf("got %v", err)
	}
}
