package discard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/freshgate-erp/freshgate-erp/internal/ledger"
	"github.com/freshgate-erp/freshgate-erp/internal/qc"
	"github.com/freshgate-erp/freshgate-erp/internal/settlement"
	"github.com/freshgate-erp/freshgate-erp/internal/shared"
)

// RepositoryPort abstracts request persistence for the service.
type RepositoryPort interface {
	InsertRequest(ctx context.Context, req Request) (int64, error)
	GetRequest(ctx context.Context, id int64) (Request, error)
	ListRequests(ctx context.Context, status RequestStatus) ([]Request, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository runs the request decision and the ledger movement on one
// transaction, so a decided request and its stock effect commit together.
type TxRepository interface {
	DecideRequest(ctx context.Context, id int64, status RequestStatus, sourceClass SourceClass, decidedBy int64) error
	Ledger() ledger.TxRepository
}

// EntriesPort loads the sell-recheck entries requests reference.
type EntriesPort interface {
	GetSellRecheckEntry(ctx context.Context, id int64) (settlement.SellRecheckEntry, error)
}

// QCPort loads QC records and toggles the inspection approval flag.
type QCPort interface {
	GetLot(ctx context.Context, id int64) (qc.Lot, error)
	GetLotItem(ctx context.Context, id int64) (qc.LotItem, error)
	GetInspection(ctx context.Context, id int64) (qc.Inspection, error)
	MarkSubmittedForApproval(ctx context.Context, inspectionID int64, submitted bool, actorID int64) error
}

// ApprovalPort records and reads the approval trail.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	EnsureSubmit(ctx context.Context, module string, ref uuid.UUID, actorID int64, note string) error
	List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error)
}

// HistoryPort appends to the external QC history log.
type HistoryPort interface {
	Append(ctx context.Context, entry shared.HistoryEntry) error
}

// Service owns the two-phase discard workflow over sell-recheck stock.
type Service struct {
	repo      RepositoryPort
	entries   EntriesPort
	qc        QCPort
	engine    *ledger.Engine
	flags     shared.MovementFlagSource
	approvals ApprovalPort
	history   HistoryPort
	logger    *slog.Logger
}

// NewService constructs Service.
func NewService(repo RepositoryPort, entries EntriesPort, qcPort QCPort,
	engine *ledger.Engine, flags shared.MovementFlagSource, approvals ApprovalPort,
	history HistoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if engine == nil {
		engine = ledger.NewEngine(logger)
	}
	return &Service{
		repo: repo, entries: entries, qc: qcPort, engine: engine,
		flags: flags, approvals: approvals, history: history, logger: logger,
	}
}

// CreateInput describes a discard request.
type CreateInput struct {
	SellRecheckEntryID int64
	Qty                decimal.Decimal
	Reason             string
	ActorID            int64
}

// Create registers a PENDING request against a sell-recheck entry and flags
// the inspection as submitted for approval. No stock moves here.
func (s *Service) Create(ctx context.Context, input CreateInput) (Request, error) {
	if !input.Qty.IsPositive() {
		return Request{}, fmt.Errorf("%w: discard qty must be > 0", shared.ErrValidation)
	}
	if input.Reason == "" {
		return Request{}, fmt.Errorf("%w: discard reason required", shared.ErrValidation)
	}
	entry, err := s.entries.GetSellRecheckEntry(ctx, input.SellRecheckEntryID)
	if err != nil {
		return Request{}, err
	}
	if input.Qty.GreaterThan(entry.Qty) {
		return Request{}, fmt.Errorf("%w: %s > %s", ErrQtyExceedsEntry, input.Qty, entry.Qty)
	}
	insp, err := s.qc.GetInspection(ctx, entry.InspectionID)
	if err != nil {
		return Request{}, err
	}
	lot, err := s.qc.GetLot(ctx, insp.LotID)
	if err != nil {
		return Request{}, err
	}
	item, err := s.qc.GetLotItem(ctx, insp.LotItemID)
	if err != nil {
		return Request{}, err
	}

	req := Request{
		SellRecheckEntryID: entry.ID,
		InspectionID:       insp.ID,
		LotID:              lot.ID,
		ProductID:          item.ProductID,
		WarehouseID:        lot.WarehouseID,
		Qty:                input.Qty,
		Reason:             input.Reason,
		Status:             RequestStatusPending,
		RequestedBy:        input.ActorID,
	}
	id, err := s.repo.InsertRequest(ctx, req)
	if err != nil {
		return Request{}, err
	}
	req.ID = id

	if err := s.qc.MarkSubmittedForApproval(ctx, insp.ID, true, input.ActorID); err != nil {
		s.logger.Error("flag inspection for approval", slog.Int64("inspection_id", insp.ID), slog.Any("error", err))
	}
	if s.approvals != nil {
		ref := shared.ApprovalRef("discard", req.ID)
		if err := s.approvals.EnsureSubmit(ctx, "discard", ref, input.ActorID, input.Reason); err != nil {
			s.logger.Error("record discard submit", slog.Any("error", err))
		}
	}
	s.appendHistory(ctx, req.ID, input.ActorID, "DISCARD_REQUEST", map[string]any{
		"entry_id": entry.ID,
		"qty":      input.Qty.String(),
		"reason":   input.Reason,
	})
	return req, nil
}

// Approve moves the requested qty out of sellable stock as DISCARD lines.
// Sources resolve in priority order: SELL_RECHECK-tagged lines of the lot,
// then any sellable line of the product. Only the remainder no real line
// covers is booked against the raw on-hand balance as a synthetic source.
// The request decision and the stock movement commit in one transaction, and
// an approved request is immutable.
func (s *Service) Approve(ctx context.Context, requestID, actorID int64, note string) (Request, error) {
	req, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if req.Status != RequestStatusPending {
		return Request{}, ErrAlreadyDecided
	}
	if s.flags != nil && !s.flags.MovementsEnabled(ctx) {
		return Request{}, shared.ErrMovementsDisabled
	}

	sourceClass := RealSourceLine
	err = s.repo.WithTx(ctx, func(ctx context.Context, txr TxRepository) error {
		tx := txr.Ledger()
		sources, err := s.resolveSources(ctx, tx, req)
		if err != nil {
			return err
		}
		available := decimal.Zero
		for _, src := range sources {
			available = available.Add(src.Qty)
		}
		fromLines := decimal.Min(available, req.Qty)
		remainder := req.Qty.Sub(fromLines)

		qcRef := ledger.QCRef{LotID: req.LotID, InspectionID: req.InspectionID}
		if fromLines.IsPositive() {
			if _, err := s.engine.Allocate(ctx, tx, sources, fromLines, []ledger.OutputSpec{
				{Kind: ledger.KindDiscard, Qty: fromLines, QC: qcRef},
			}); err != nil {
				return err
			}
		}
		if remainder.IsPositive() {
			// Stock that predates the ledger has no line to consume. Book the
			// uncovered remainder against the raw balance with an explicit
			// synthetic marker.
			sourceClass = SyntheticSourceLine
			bal, err := tx.GetBalance(ctx, req.WarehouseID, req.ProductID)
			if err != nil && !errors.Is(err, ledger.ErrBalanceNotFound) {
				return err
			}
			if bal.Qty.LessThan(remainder) {
				return fmt.Errorf("%w: need %s, on hand %s", ErrInsufficientStock, remainder, bal.Qty)
			}
			if _, err := tx.InsertLine(ctx, ledger.Line{
				Kind:        ledger.KindDiscard,
				ProductID:   req.ProductID,
				WarehouseID: req.WarehouseID,
				Qty:         remainder,
				Currency:    "XXX",
				SourceType:  ledger.SourceSynthetic,
				QC:          qcRef,
			}); err != nil {
				return err
			}
			if err := tx.AdjustBalance(ctx, req.WarehouseID, req.ProductID, remainder.Neg()); err != nil {
				return err
			}
		}
		return txr.DecideRequest(ctx, requestID, RequestStatusApproved, sourceClass, actorID)
	})
	if err != nil {
		return Request{}, err
	}

	if err := s.qc.MarkSubmittedForApproval(ctx, req.InspectionID, false, actorID); err != nil {
		s.logger.Error("clear inspection approval flag", slog.Int64("inspection_id", req.InspectionID), slog.Any("error", err))
	}
	s.recordDecision(ctx, requestID, actorID, shared.ApprovalApprove, note)
	s.appendHistory(ctx, requestID, actorID, "DISCARD_APPROVE", map[string]any{
		"qty":          req.Qty.String(),
		"source_class": string(sourceClass),
	})
	req.Status = RequestStatusApproved
	req.SourceClass = sourceClass
	req.DecidedBy = actorID
	return req, nil
}

// Reject closes the request without any ledger effect and clears the
// inspection approval flag.
func (s *Service) Reject(ctx context.Context, requestID, actorID int64, note string) (Request, error) {
	req, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if req.Status != RequestStatusPending {
		return Request{}, ErrAlreadyDecided
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, txr TxRepository) error {
		return txr.DecideRequest(ctx, requestID, RequestStatusRejected, "", actorID)
	})
	if err != nil {
		return Request{}, err
	}
	if err := s.qc.MarkSubmittedForApproval(ctx, req.InspectionID, false, actorID); err != nil {
		s.logger.Error("clear inspection approval flag", slog.Int64("inspection_id", req.InspectionID), slog.Any("error", err))
	}
	s.recordDecision(ctx, requestID, actorID, shared.ApprovalReject, note)
	s.appendHistory(ctx, requestID, actorID, "DISCARD_REJECT", map[string]any{"note": note})
	req.Status = RequestStatusRejected
	req.DecidedBy = actorID
	return req, nil
}

// GetRequest loads one request.
func (s *Service) GetRequest(ctx context.Context, id int64) (Request, error) {
	return s.repo.GetRequest(ctx, id)
}

// ListRequests returns requests in the given status.
func (s *Service) ListRequests(ctx context.Context, status RequestStatus) ([]Request, error) {
	return s.repo.ListRequests(ctx, status)
}

// ApprovalTrail returns the recorded approval actions for a request.
func (s *Service) ApprovalTrail(ctx context.Context, requestID int64) ([]shared.ApprovalLog, error) {
	if s.approvals == nil {
		return nil, nil
	}
	if _, err := s.repo.GetRequest(ctx, requestID); err != nil {
		return nil, err
	}
	return s.approvals.List(ctx, "discard", shared.ApprovalRef("discard", requestID))
}

// resolveSources orders the real lines a discard may consume: SELL_RECHECK
// lines of the request's lot first, then every other sellable line of the
// product. Every open line must be consumed before the raw balance is
// touched, or line totals and the stored balance drift apart.
func (s *Service) resolveSources(ctx context.Context, tx ledger.TxRepository, req Request) ([]ledger.Line, error) {
	tagged, err := tx.ListRegularInForUpdate(ctx, req.ProductID, req.LotID, ledger.PostingSellRecheck)
	if err != nil {
		return nil, err
	}
	broad, err := tx.ListRegularInForUpdate(ctx, req.ProductID, 0, "")
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]bool, len(tagged))
	for _, line := range tagged {
		seen[line.ID] = true
	}
	sources := tagged
	for _, line := range broad {
		if !seen[line.ID] {
			sources = append(sources, line)
		}
	}
	return sources, nil
}

func (s *Service) recordDecision(ctx context.Context, requestID, actorID int64, action shared.ApprovalAction, note string) {
	if s.approvals == nil {
		return
	}
	if err := s.approvals.Record(ctx, shared.ApprovalLog{
		Module:  "discard",
		RefID:   shared.ApprovalRef("discard", requestID),
		ActorID: actorID,
		Action:  action,
		Note:    note,
	}); err != nil {
		s.logger.Error("record discard decision", slog.String("action", string(action)), slog.Any("error", err))
	}
}

func (s *Service) appendHistory(ctx context.Context, requestID, actorID int64, action string, detail map[string]any) {
	if s.history == nil {
		return
	}
	if err := s.history.Append(ctx, shared.HistoryEntry{
		Module:    "discard",
		SubjectID: requestID,
		ActorID:   actorID,
		Action:    action,
		Detail:    detail,
	}); err != nil {
		s.logger.Error("append discard history", slog.String("action", action), slog.Any("error", err))
	}
}
