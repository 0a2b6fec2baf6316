// Package billing implements the gate's billing aggregator:
// pure in-memory rollup of a homogeneous receipt list into one period
// summary.
package billing

import (
	"errors"
	"time"

	"github.com/uniplex/gate/internal/gatetypes"
)

var (
	ErrEmptyReceiptList = errors.New("empty_receipt_list")
	ErrMixedSubjects    = errors.New("receipts_not_homogeneous: mixed subject_id")
	ErrMixedGates       = errors.New("receipts_not_homogeneous: mixed gate_id")
)

// Summary is one aggregated billing period.
type Summary struct {
	PeriodStart            time.Time
	PeriodEnd              time.Time
	SubjectID              string
	GateID                 string
	TotalCalls             int64
	TotalCostCents         int64
	TotalPlatformFeeCents  int64
	ReceiptIDs             []string
}

// Aggregate rolls up receipts into a Summary for [periodStart, periodEnd).
// receipts must be nonempty and homogeneous: same subject_id, same gate_id.
func Aggregate(receipts []gatetypes.ConsumptionReceipt, periodStart, periodEnd time.Time) (Summary, error) {
	if len(receipts) == 0 {
		return Summary{}, ErrEmptyReceiptList
	}

	subjectID := receipts[0].SubjectID
	gateID := receipts[0].GateID

	summary := Summary{
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		SubjectID:   subjectID,
		GateID:      gateID,
		ReceiptIDs:  make([]string, 0, len(receipts)),
	}

	for _, r := range receipts {
		if r.SubjectID != subjectID {
			return Summary{}, ErrMixedSubjects
		}
		if r.GateID != gateID {
			return Summary{}, ErrMixedGates
		}
		summary.TotalCalls += r.Consumption.Units
		summary.TotalCostCents += r.Consumption.CostCents
		summary.TotalPlatformFeeCents += r.Consumption.PlatformFeeCents
		summary.ReceiptIDs = append(summary.ReceiptIDs, r.ReceiptID)
	}

	return summary, nil
}
