package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/freshgate-erp/freshgate-erp/internal/shared"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// MovementKind enumerates ledger movement states.
type MovementKind string

const (
	// KindInTransit means received against a purchase bill but not yet
	// committed to a stock disposition.
	KindInTransit MovementKind = "IN_TRANSIT"
	// KindRegularIn means available, sellable on-hand stock.
	KindRegularIn MovementKind = "REGULAR_IN"
	// KindDiscard means removed from sellable stock as waste or reject.
	KindDiscard MovementKind = "DISCARD"
)

// Posting types distinguishing how a REGULAR_IN line was settled.
const (
	// PostingSellRecheck tags stock accepted pending a second pass, so the
	// discard workflow can later convert part of it.
	PostingSellRecheck = "SELL_RECHECK"
)

// Source types carried on ledger lines.
const (
	// SourceBill references a purchase-bill line.
	SourceBill = "BILL"
	// SourceSynthetic marks a degraded-mode source manufactured from raw
	// on-hand stock for data older than the ledger.
	SourceSynthetic = "SYNTHETIC"
)

// QCRef back-references the QC records that produced a line. Zero fields are
// persisted as NULL.
type QCRef struct {
	LotID        int64
	InspectionID int64
	JobID        int64
}

// Line is the unit of truth for stock. Fully consumed lines are soft-deleted,
// never removed; downstream reporting sums over non-deleted lines only.
type Line struct {
	ID            int64
	Kind          MovementKind
	ProductID     int64
	WarehouseID   int64
	Qty           decimal.Decimal
	UnitCost      decimal.Decimal
	Currency      string
	ExchangeRate  decimal.Decimal
	Amount        decimal.Decimal
	ForeignAmount decimal.Decimal
	TotalAmount   decimal.Decimal
	SourceType    string
	SourceID      int64
	SourceLineID  int64
	QC            QCRef
	PostingType   string
	Deleted       bool
	CreatedAt     time.Time
}

// Balance summarises on-hand stock per warehouse and product. Only REGULAR_IN
// movements contribute to it.
type Balance struct {
	WarehouseID int64
	ProductID   int64
	Qty         decimal.Decimal
	UpdatedAt   time.Time
}

// KindTotals sums a lot's ledger per movement kind, used for conservation
// checks and reporting.
type KindTotals struct {
	InTransit decimal.Decimal
	RegularIn decimal.Decimal
	Discard   decimal.Decimal
}

// QtyTolerance absorbs upstream rounding on conservation and completion
// comparisons.
var QtyTolerance = decimal.New(1, -2)

var (
	// ErrNoSource indicates no consumable source line exists for the product.
	ErrNoSource = fmt.Errorf("ledger: %w for product", shared.ErrNoSource)
	// ErrInvalidRequest indicates a malformed allocation request.
	ErrInvalidRequest = fmt.Errorf("ledger: invalid allocation request: %w", shared.ErrValidation)
	// ErrBalanceNotFound indicates a missing balance row.
	ErrBalanceNotFound = errors.New("ledger: balance not found")
)

// ValidateCurrency checks the ISO 4217 code carried on a line.
func ValidateCurrency(code string) error {
	if code == "" {
		return errors.New("ledger: currency code required")
	}
	if _, err := currency.ParseISO(code); err != nil {
		return errors.New("ledger: unknown currency code " + code)
	}
	return nil
}
