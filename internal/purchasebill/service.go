package purchasebill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/freshgate-erp/freshgate-erp/internal/ledger"
	"github.com/freshgate-erp/freshgate-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBill(ctx context.Context, id int64) (PurchaseBill, []BillLine, error)
	BillIDs(ctx context.Context, lotID int64) ([]int64, error)
}

// GuardPort is the idempotent-posting guard.
type GuardPort interface {
	Acquire(ctx context.Context, scope, module string) error
	Release(ctx context.Context, scope string) error
}

// Service orchestrates purchase bill intake and posting.
type Service struct {
	repo    RepositoryPort
	guard   GuardPort
	history qcHistoryPort
	logger  *slog.Logger
}

type qcHistoryPort interface {
	Append(ctx context.Context, entry shared.HistoryEntry) error
}

// NewService constructs the purchase bill service.
func NewService(repo RepositoryPort, guard GuardPort, history qcHistoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, guard: guard, history: history, logger: logger}
}

// BillLineInput describes one line at creation.
type BillLineInput struct {
	ProductID int64
	Qty       decimal.Decimal
	UnitCost  decimal.Decimal
}

// CreateBillInput describes a bill to register.
type CreateBillInput struct {
	Number       string
	SupplierID   int64
	WarehouseID  int64
	Currency     string
	ExchangeRate decimal.Decimal
	IssuedAt     time.Time
	Note         string
	ActorID      int64
	Lines        []BillLineInput
}

// CreateBill persists bill header and lines in DRAFT.
func (s *Service) CreateBill(ctx context.Context, input CreateBillInput) (PurchaseBill, error) {
	if len(input.Lines) == 0 {
		return PurchaseBill{}, fmt.Errorf("%w: minimal 1 bill line", shared.ErrValidation)
	}
	if err := ledger.ValidateCurrency(input.Currency); err != nil {
		return PurchaseBill{}, fmt.Errorf("%w: %s", shared.ErrValidation, err)
	}
	if !input.ExchangeRate.IsPositive() {
		return PurchaseBill{}, fmt.Errorf("%w: exchange rate must be > 0", shared.ErrValidation)
	}
	if input.Number == "" {
		input.Number = generateNumber("BILL")
	}
	issuedAt := input.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now().UTC()
	}
	bill := PurchaseBill{
		Number:       input.Number,
		SupplierID:   input.SupplierID,
		WarehouseID:  input.WarehouseID,
		Currency:     input.Currency,
		ExchangeRate: input.ExchangeRate,
		Status:       BillStatusDraft,
		IssuedAt:     issuedAt,
		Note:         input.Note,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		billID, err := tx.InsertBill(ctx, bill)
		if err != nil {
			return err
		}
		bill.ID = billID
		for _, line := range input.Lines {
			if line.ProductID == 0 || !line.Qty.IsPositive() || line.UnitCost.IsNegative() {
				return fmt.Errorf("%w: bill line needs product, positive qty and cost >= 0", shared.ErrValidation)
			}
			if _, err := tx.InsertBillLine(ctx, BillLine{BillID: billID, ProductID: line.ProductID, Qty: line.Qty, UnitCost: line.UnitCost}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return PurchaseBill{}, err
	}
	s.appendHistory(ctx, bill.ID, input.ActorID, "BILL_CREATE", map[string]any{"number": bill.Number})
	return bill, nil
}

// PostBill transitions the bill to POSTED and writes one IN_TRANSIT ledger
// line per bill line, in the same unit of work.
func (s *Service) PostBill(ctx context.Context, billID, actorID int64) error {
	bill, lines, err := s.repo.GetBill(ctx, billID)
	if err != nil {
		return err
	}
	if bill.Status != BillStatusDraft {
		return ErrInvalidState
	}
	scope := fmt.Sprintf("bill:%s", bill.Number)
	acquired := false
	if s.guard != nil {
		if err := s.guard.Acquire(ctx, scope, "purchasebill"); err != nil {
			return err
		}
		acquired = true
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateBillStatus(ctx, billID, BillStatusPosted); err != nil {
			return err
		}
		for _, line := range lines {
			foreign := line.ForeignAmount()
			home := line.HomeAmount(bill.ExchangeRate)
			_, err := tx.InsertInTransitLine(ctx, ledger.Line{
				Kind:          ledger.KindInTransit,
				ProductID:     line.ProductID,
				WarehouseID:   bill.WarehouseID,
				Qty:           line.Qty,
				UnitCost:      line.UnitCost,
				Currency:      bill.Currency,
				ExchangeRate:  bill.ExchangeRate,
				Amount:        home,
				ForeignAmount: foreign,
				TotalAmount:   home,
				SourceType:    ledger.SourceBill,
				SourceID:      bill.ID,
				SourceLineID:  line.ID,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if acquired {
			_ = s.guard.Release(ctx, scope)
		}
		return err
	}
	s.appendHistory(ctx, billID, actorID, "BILL_POST", map[string]any{"number": bill.Number, "lines": len(lines)})
	return nil
}

// LinkLot associates a bill with a lot. A lot may draw from several bills.
func (s *Service) LinkLot(ctx context.Context, lotID, billID, actorID int64) error {
	bill, _, err := s.repo.GetBill(ctx, billID)
	if err != nil {
		return err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.LinkLot(ctx, lotID, billID)
	})
	if err != nil {
		return err
	}
	s.appendHistory(ctx, lotID, actorID, "LOT_BILL_LINK", map[string]any{"bill": bill.Number})
	return nil
}

// GetBill loads one bill with its lines.
func (s *Service) GetBill(ctx context.Context, id int64) (PurchaseBill, []BillLine, error) {
	return s.repo.GetBill(ctx, id)
}

// BillIDs resolves the bills linked to a lot.
func (s *Service) BillIDs(ctx context.Context, lotID int64) ([]int64, error) {
	return s.repo.BillIDs(ctx, lotID)
}

func (s *Service) appendHistory(ctx context.Context, subjectID, actorID int64, action string, detail map[string]any) {
	if s.history == nil {
		return
	}
	if err := s.history.Append(ctx, shared.HistoryEntry{Module: "purchasebill", SubjectID: subjectID, ActorID: actorID, Action: action, Detail: detail}); err != nil {
		s.logger.Error("append bill history", slog.String("action", action), slog.Any("error", err))
	}
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
