package settlement

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/freshgate-erp/freshgate-erp/internal/shared"
)

// CaseStatus enumerates the reject-case follow-up workflow.
type CaseStatus string

const (
	CaseStatusOpen      CaseStatus = "OPEN"
	CaseStatusActioning CaseStatus = "ACTIONING"
	CaseStatusClosed    CaseStatus = "CLOSED"
)

// caseTransitions lists the allowed case progressions.
var caseTransitions = map[CaseStatus][]CaseStatus{
	CaseStatusOpen:      {CaseStatusActioning, CaseStatusClosed},
	CaseStatusActioning: {CaseStatusClosed},
}

// CanProgressCase reports whether the case status change is allowed.
func CanProgressCase(from, to CaseStatus) bool {
	for _, next := range caseTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// RejectCase tracks the follow-up on a rejected inspection. Exactly one case
// exists per inspection; settling a REJECT decision twice reuses it.
type RejectCase struct {
	ID              int64
	LotID           int64
	InspectionID    int64
	Status          CaseStatus
	DispositionNote string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SellRecheckEntry records one sell-with-recheck settlement pass. Check
// numbers are sequential per inspection so later discard requests can cite
// the exact pass they draw from.
type SellRecheckEntry struct {
	ID           int64
	InspectionID int64
	CheckNo      int
	Qty          decimal.Decimal
	CreatedAt    time.Time
}

var (
	// ErrInvalidCaseTransition occurs when a reject-case progression is not allowed.
	ErrInvalidCaseTransition = fmt.Errorf("settlement: invalid reject-case transition: %w", shared.ErrValidation)
	// ErrCannotReduce occurs when an inspection edit would lower quantities
	// already posted to the ledger.
	ErrCannotReduce = fmt.Errorf("settlement: posted quantities cannot be reduced: %w", shared.ErrValidation)
)
