package discard

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/freshgate-erp/freshgate-erp/internal/shared"
)

// RequestStatus enumerates the discard request lifecycle.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "PENDING"
	RequestStatusApproved RequestStatus = "APPROVED"
	RequestStatusRejected RequestStatus = "REJECTED"
)

// SourceClass names where an approved discard drew its stock from.
type SourceClass string

const (
	// RealSourceLine means actual ledger lines were consumed.
	RealSourceLine SourceClass = "REAL"
	// SyntheticSourceLine means the discard was booked against the raw
	// on-hand balance because no ledger line covers the stock. This happens
	// for inventory older than the ledger itself.
	SyntheticSourceLine SourceClass = "SYNTHETIC"
)

// Request is one two-phase discard of sell-recheck stock. Creation never
// touches the ledger; only approval moves stock.
type Request struct {
	ID                 int64
	SellRecheckEntryID int64
	InspectionID       int64
	LotID              int64
	ProductID          int64
	WarehouseID        int64
	Qty                decimal.Decimal
	Reason             string
	Status             RequestStatus
	SourceClass        SourceClass
	RequestedBy        int64
	DecidedBy          int64
	CreatedAt          time.Time
	DecidedAt          *time.Time
}

var (
	// ErrAlreadyDecided occurs when approving or rejecting a request twice.
	ErrAlreadyDecided = fmt.Errorf("discard: request already decided: %w", shared.ErrValidation)
	// ErrQtyExceedsEntry occurs when the requested qty exceeds the
	// sell-recheck entry it references.
	ErrQtyExceedsEntry = fmt.Errorf("discard: qty exceeds sell-recheck entry: %w", shared.ErrValidation)
	// ErrInsufficientStock occurs when neither ledger lines nor the raw
	// on-hand balance cover the requested qty.
	ErrInsufficientStock = fmt.Errorf("discard: %w", shared.ErrInsufficientStock)
)
