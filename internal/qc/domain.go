package qc

import (
	"fmt"
	"time"

	"github.com/freshgate-erp/freshgate-erp/internal/shared"
	"github.com/shopspring/decimal"
)

// LotStatus enumerates the lot lifecycle.
type LotStatus string

const (
	LotStatusDraft             LotStatus = "DRAFT"
	LotStatusAwaitingQC        LotStatus = "AWAITING_QC"
	LotStatusQCCompleted       LotStatus = "QC_COMPLETED"
	LotStatusUnderRegrading    LotStatus = "UNDER_REGRADING"
	LotStatusRejected          LotStatus = "REJECTED"
	LotStatusRegradedCompleted LotStatus = "REGRADED_COMPLETED"
	LotStatusClosed            LotStatus = "CLOSED"
)

// lotTransitions lists the manual transitions an operator may request.
var lotTransitions = map[LotStatus][]LotStatus{
	LotStatusDraft:             {LotStatusAwaitingQC},
	LotStatusAwaitingQC:        {LotStatusQCCompleted, LotStatusUnderRegrading, LotStatusRejected},
	LotStatusQCCompleted:       {LotStatusClosed},
	LotStatusUnderRegrading:    {LotStatusRegradedCompleted, LotStatusClosed},
	LotStatusRejected:          {LotStatusClosed},
	LotStatusRegradedCompleted: {LotStatusClosed},
}

// CanTransition reports whether the manual transition is allowed.
func CanTransition(from, to LotStatus) bool {
	for _, next := range lotTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// EditsBlocked reports whether inspection create/update is blocked for the
// lot status. REJECTED and CLOSED are terminal for edits.
func EditsBlocked(status LotStatus) bool {
	return status == LotStatusRejected || status == LotStatusClosed
}

// Decision enumerates QC inspection outcomes.
type Decision string

const (
	DecisionAccept      Decision = "ACCEPT"
	DecisionRegrade     Decision = "REGRADE"
	DecisionReject      Decision = "REJECT"
	DecisionSellRecheck Decision = "SELL_RECHECK"
)

// ValidDecision reports whether the decision value is known.
func ValidDecision(d Decision) bool {
	switch d {
	case DecisionAccept, DecisionRegrade, DecisionReject, DecisionSellRecheck:
		return true
	}
	return false
}

// Lot is one physically arrived shipment unit subject to QC.
type Lot struct {
	ID           int64
	LotNumber    string
	ContainerRef string
	Origin       string
	WarehouseID  int64
	ArrivedAt    time.Time
	Status       LotStatus
	CreatedBy    int64
	CreatedAt    time.Time
}

// LotItem is one product line within a lot. The declared quantity is
// immutable once created and is the conservation ceiling for every downstream
// decision on the item.
type LotItem struct {
	ID          int64
	LotID       int64
	ProductID   int64
	DeclaredQty decimal.Decimal
	NetWeightKg decimal.Decimal
	Unit        string
}

// Inspection is one quality assessment of a LotItem. A LotItem may carry
// several inspections; later edits settle incrementally, never as a reset.
type Inspection struct {
	ID                   int64
	LotID                int64
	LotItemID            int64
	Decision             Decision
	AcceptedQty          decimal.Decimal
	RegradeQty           decimal.Decimal
	RejectedQty          decimal.Decimal
	Checklist            map[string]bool
	Notes                string
	Defects              []DefectRecord
	SubmittedForApproval bool
	CreatedBy            int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// TotalDecided sums the decided quantities of the inspection.
func (i Inspection) TotalDecided() decimal.Decimal {
	return i.AcceptedQty.Add(i.RegradeQty).Add(i.RejectedQty)
}

// DefectRecord ties an inspection to a defect-type reference with an observed
// occurrence count. This replaces free-text pattern matching upstream.
type DefectRecord struct {
	ID           int64
	InspectionID int64
	DefectTypeID int64
	Count        int
	Note         string
}

var (
	// ErrInvalidTransition occurs when a status change violates the lifecycle.
	ErrInvalidTransition = fmt.Errorf("qc: invalid lot status transition: %w", shared.ErrValidation)
	// ErrEditsBlocked occurs when inspections are edited on a terminal lot.
	ErrEditsBlocked = fmt.Errorf("qc: lot status blocks inspection edits: %w", shared.ErrValidation)
	// ErrQtyExceedsDeclared occurs when decided quantities exceed the ceiling.
	ErrQtyExceedsDeclared = fmt.Errorf("qc: quantities exceed declared quantity: %w", shared.ErrValidation)
	// ErrEvidenceRequired occurs when no evidence file accompanies an inspection.
	ErrEvidenceRequired = fmt.Errorf("qc: at least one evidence file required: %w", shared.ErrValidation)
)
