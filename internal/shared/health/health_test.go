package health

import (
	"context"
	"errors"
	"testing"
)

func TestSnapshotCheckerDegradesRatherThanFails(t *testing.T) {
	hc := New()
	hc.Register(NewSnapshotChecker("catalog_cache", func(context.Context) error {
		return errors.New("catalog snapshot is 10m old, max age 5m")
	}))

	status := hc.Check(context.Background())
	if status.Status != StatusDegraded {
		t.Fatalf("overall status = %v, want %v", status.Status, StatusDegraded)
	}
	if len(status.Components) != 1 || status.Components[0].Status != StatusDegraded {
		t.Fatalf("component status = %+v, want degraded", status.Components)
	}
}

func TestSnapshotCheckerHealthyWhenFreshFuncPasses(t *testing.T) {
	hc := New()
	hc.Register(NewSnapshotChecker("catalog_cache", func(context.Context) error { return nil }))

	status := hc.Check(context.Background())
	if status.Status != StatusHealthy {
		t.Fatalf("overall status = %v, want %v", status.Status, StatusHealthy)
	}
}

func TestDatabaseCheckerUnhealthyIsNotDegraded(t *testing.T) {
	hc := New()
	hc.Register(NewDatabaseChecker("billing_db", func(context.Context) error {
		return errors.New("connection refused")
	}))

	status := hc.Check(context.Background())
	if status.Status != StatusUnhealthy {
		t.Fatalf("overall status = %v, want %v (a plain ping failure, not a StaleError, must not degrade)", status.Status, StatusUnhealthy)
	}
}
