package purchasebill

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/freshgate-erp/freshgate-erp/internal/shared"
)

// BillStatus enumerates the purchase bill lifecycle.
type BillStatus string

const (
	BillStatusDraft     BillStatus = "DRAFT"
	BillStatusPosted    BillStatus = "POSTED"
	BillStatusCancelled BillStatus = "CANCELLED"
)

// PurchaseBill is the upstream system of record for what was brought in.
// Posting a bill writes one IN_TRANSIT ledger line per bill line.
type PurchaseBill struct {
	ID           int64
	Number       string
	SupplierID   int64
	WarehouseID  int64
	Currency     string
	ExchangeRate decimal.Decimal
	Status       BillStatus
	IssuedAt     time.Time
	Note         string
}

// BillLine is one product line on a purchase bill. Unit cost is in bill
// currency; the home amount applies the bill exchange rate.
type BillLine struct {
	ID        int64
	BillID    int64
	ProductID int64
	Qty       decimal.Decimal
	UnitCost  decimal.Decimal
}

// ForeignAmount is the line amount in bill currency.
func (l BillLine) ForeignAmount() decimal.Decimal {
	return l.Qty.Mul(l.UnitCost)
}

// HomeAmount converts the line amount at the given rate.
func (l BillLine) HomeAmount(rate decimal.Decimal) decimal.Decimal {
	return l.ForeignAmount().Mul(rate)
}

var (
	// ErrInvalidState occurs when an action violates the bill workflow.
	ErrInvalidState = fmt.Errorf("purchasebill: invalid state transition: %w", shared.ErrValidation)
)
