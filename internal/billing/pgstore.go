package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore is the optional durable sink for aggregated billing periods
//: billing aggregation itself is pure and in-memory
// (Aggregate), but a gate that wants a queryable history persists each
// Summary here.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore wraps an already-connected pool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// EnsureSchema creates the billing_periods table if it does not exist.
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS billing_periods (
	gate_id TEXT NOT NULL,
	subject_id TEXT NOT NULL,
	period_start TIMESTAMPTZ NOT NULL,
	period_end TIMESTAMPTZ NOT NULL,
	total_calls BIGINT NOT NULL,
	total_cost_cents BIGINT NOT NULL,
	total_platform_fee_cents BIGINT NOT NULL,
	receipt_ids TEXT[] NOT NULL,
	PRIMARY KEY (gate_id, subject_id, period_start)
)`)
	if err != nil {
		return fmt.Errorf("ensure billing_periods schema: %w", err)
	}
	return nil
}

// Persist upserts one aggregated period.
func (s *PgStore) Persist(ctx context.Context, summary Summary) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO billing_periods (gate_id, subject_id, period_start, period_end, total_calls, total_cost_cents, total_platform_fee_cents, receipt_ids)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (gate_id, subject_id, period_start) DO UPDATE SET
	period_end = EXCLUDED.period_end,
	total_calls = EXCLUDED.total_calls,
	total_cost_cents = EXCLUDED.total_cost_cents,
	total_platform_fee_cents = EXCLUDED.total_platform_fee_cents,
	receipt_ids = EXCLUDED.receipt_ids
`, summary.GateID, summary.SubjectID, summary.PeriodStart, summary.PeriodEnd,
		summary.TotalCalls, summary.TotalCostCents, summary.TotalPlatformFeeCents, summary.ReceiptIDs)
	if err != nil {
		return fmt.Errorf("persist billing period: %w", err)
	}
	return nil
}

// LoadPeriod fetches one previously persisted period, or pgx.ErrNoRows if
// none exists.
func (s *PgStore) LoadPeriod(ctx context.Context, gateID, subjectID string, periodStart time.Time) (Summary, error) {
	var summary Summary
	row := s.pool.QueryRow(ctx, `
SELECT gate_id, subject_id, period_start, period_end, total_calls, total_cost_cents, total_platform_fee_cents, receipt_ids
FROM billing_periods
WHERE gate_id = $1 AND subject_id = $2 AND period_start = $3
`, gateID, subjectID, periodStart)
	err := row.Scan(&summary.GateID, &summary.SubjectID, &summary.PeriodStart, &summary.PeriodEnd,
		&summary.TotalCalls, &summary.TotalCostCents, &summary.TotalPlatformFeeCents, &summary.ReceiptIDs)
	if err != nil {
		return Summary{}, err
	}
	return summary, nil
}
