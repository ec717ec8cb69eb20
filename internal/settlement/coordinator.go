package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/freshgate-erp/freshgate-erp/internal/ledger"
	"github.com/freshgate-erp/freshgate-erp/internal/qc"
	"github.com/freshgate-erp/freshgate-erp/internal/shared"
)

// QCPort loads the QC records a settlement pass acts on.
type QCPort interface {
	GetLot(ctx context.Context, id int64) (qc.Lot, error)
	GetLotItem(ctx context.Context, id int64) (qc.LotItem, error)
	GetInspection(ctx context.Context, id int64) (qc.Inspection, error)
}

// SourceResolver resolves the purchase bills a lot draws from.
type SourceResolver interface {
	BillIDs(ctx context.Context, lotID int64) ([]int64, error)
}

// LedgerPort runs ledger work inside one unit of work.
type LedgerPort interface {
	WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error
}

// GuardPort is the idempotent-posting guard.
type GuardPort interface {
	Acquire(ctx context.Context, scope, module string) error
	Release(ctx context.Context, scope string) error
}

// CasePort persists reject cases and sell-recheck entries.
type CasePort interface {
	EnsureRejectCase(ctx context.Context, lotID, inspectionID int64) (RejectCase, error)
	GetRejectCase(ctx context.Context, id int64) (RejectCase, error)
	UpdateRejectCase(ctx context.Context, id int64, status CaseStatus, note string) error
	NextCheckNo(ctx context.Context, inspectionID int64) (int, error)
	InsertSellRecheckEntry(ctx context.Context, entry SellRecheckEntry) (int64, error)
	ListSellRecheckEntries(ctx context.Context, inspectionID int64) ([]SellRecheckEntry, error)
}

// JobFactory ensures a regrading job exists for a REGRADE decision. Repeated
// settlement passes reuse the existing job.
type JobFactory interface {
	EnsureJob(ctx context.Context, lotID, lotItemID, productID, warehouseID int64, total decimal.Decimal) (int64, error)
}

// HistoryPort appends to the external QC history log.
type HistoryPort interface {
	Append(ctx context.Context, entry shared.HistoryEntry) error
}

// Coordinator turns QC inspection decisions into ledger movements plus their
// side records (reject cases, regrading jobs, sell-recheck entries).
type Coordinator struct {
	qc       QCPort
	resolver SourceResolver
	ledger   LedgerPort
	engine   *ledger.Engine
	guard    GuardPort
	cases    CasePort
	jobs     JobFactory
	flags    shared.MovementFlagSource
	history  HistoryPort
	logger   *slog.Logger
}

// NewCoordinator constructs Coordinator.
func NewCoordinator(qcPort QCPort, resolver SourceResolver, ledgerPort LedgerPort, engine *ledger.Engine,
	guard GuardPort, cases CasePort, jobs JobFactory, flags shared.MovementFlagSource,
	history HistoryPort, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if engine == nil {
		engine = ledger.NewEngine(logger)
	}
	return &Coordinator{
		qc: qcPort, resolver: resolver, ledger: ledgerPort, engine: engine,
		guard: guard, cases: cases, jobs: jobs, flags: flags, history: history, logger: logger,
	}
}

// SettleInput identifies the inspection to settle.
type SettleInput struct {
	InspectionID int64
	ActorID      int64
}

// Result reports what a settlement pass did.
type Result struct {
	Skipped            bool
	PostedRegularIn    decimal.Decimal
	PostedDiscard      decimal.Decimal
	Shortfall          decimal.Decimal
	RejectCaseID       int64
	JobID              int64
	SellRecheckEntryID int64
}

// Settle converts an inspection decision into ledger movements. A first pass
// posts the full decided quantities; a pass after an inspection edit posts
// only the increase beyond what the ledger already holds for the inspection.
// Reducing posted quantities is rejected, and a pass that changes nothing
// reports a duplicate posting. Side records (reject case, regrading job,
// sell-recheck entry) are written before the posting commits: a failed side
// record rolls the whole pass back, so a retry still sees the delta.
func (c *Coordinator) Settle(ctx context.Context, input SettleInput) (Result, error) {
	insp, err := c.qc.GetInspection(ctx, input.InspectionID)
	if err != nil {
		return Result{}, err
	}
	lot, err := c.qc.GetLot(ctx, insp.LotID)
	if err != nil {
		return Result{}, err
	}
	item, err := c.qc.GetLotItem(ctx, insp.LotItemID)
	if err != nil {
		return Result{}, err
	}
	if lot.Status == qc.LotStatusClosed {
		return Result{}, fmt.Errorf("%w: lot %d is closed", shared.ErrValidation, lot.ID)
	}
	if insp.TotalDecided().GreaterThan(item.DeclaredQty) {
		return Result{}, fmt.Errorf("%w: decided %s > declared %s", shared.ErrValidation, insp.TotalDecided(), item.DeclaredQty)
	}

	desired, postingType, err := desiredTotals(insp)
	if err != nil {
		return Result{}, err
	}

	if c.flags != nil && !c.flags.MovementsEnabled(ctx) {
		switch insp.Decision {
		case qc.DecisionAccept, qc.DecisionReject:
			c.logger.Info("inventory movements disabled, settlement skipped",
				slog.Int64("inspection_id", insp.ID),
				slog.String("decision", string(insp.Decision)))
			return Result{Skipped: true}, nil
		default:
			return Result{}, shared.ErrMovementsDisabled
		}
	}

	billIDs, err := c.resolver.BillIDs(ctx, lot.ID)
	if err != nil {
		return Result{}, err
	}

	scope := fmt.Sprintf("lot:%d:insp:%d", lot.ID, insp.ID)
	acquired := false
	if c.guard != nil {
		switch err := c.guard.Acquire(ctx, scope, "settlement"); {
		case err == nil:
			acquired = true
		case errors.Is(err, shared.ErrDuplicatePosting):
			// An earlier pass holds the scope. The delta check below decides
			// whether this is a legitimate incremental re-settlement.
		default:
			return Result{}, err
		}
	}

	var result Result
	err = c.ledger.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		prior, err := tx.InspectionTotals(ctx, insp.ID)
		if err != nil {
			return err
		}
		deltaRegular := desired.RegularIn.Sub(prior.RegularIn)
		deltaDiscard := desired.Discard.Sub(prior.Discard)
		if deltaRegular.IsNegative() || deltaDiscard.IsNegative() {
			return ErrCannotReduce
		}
		if deltaRegular.IsZero() && deltaDiscard.IsZero() {
			return shared.ErrDuplicatePosting
		}

		sources, err := tx.ListOpenInTransitForUpdate(ctx, item.ProductID, billIDs)
		if err != nil {
			return err
		}
		qcRef := ledger.QCRef{LotID: lot.ID, InspectionID: insp.ID}
		var outputs []ledger.OutputSpec
		if deltaRegular.IsPositive() {
			outputs = append(outputs, ledger.OutputSpec{Kind: ledger.KindRegularIn, Qty: deltaRegular, QC: qcRef, PostingType: postingType})
		}
		if deltaDiscard.IsPositive() {
			outputs = append(outputs, ledger.OutputSpec{Kind: ledger.KindDiscard, Qty: deltaDiscard, QC: qcRef})
		}

		plan, err := c.engine.Allocate(ctx, tx, sources, deltaRegular.Add(deltaDiscard), outputs)
		if err != nil {
			return err
		}
		for _, line := range plan.Lines() {
			switch line.Kind {
			case ledger.KindRegularIn:
				result.PostedRegularIn = result.PostedRegularIn.Add(line.Qty)
			case ledger.KindDiscard:
				result.PostedDiscard = result.PostedDiscard.Add(line.Qty)
			}
		}
		result.Shortfall = plan.Shortfall
		return c.ensureSideRecords(ctx, insp, item, lot, prior.RegularIn.Add(result.PostedRegularIn), &result)
	})
	if err != nil {
		if acquired {
			_ = c.guard.Release(ctx, scope)
		}
		return Result{}, err
	}

	c.appendHistory(ctx, insp.ID, input.ActorID, "SETTLE", map[string]any{
		"decision":   string(insp.Decision),
		"regular_in": result.PostedRegularIn.String(),
		"discard":    result.PostedDiscard.String(),
		"shortfall":  result.Shortfall.String(),
	})
	return result, nil
}

// ProgressRejectCase moves a reject case along OPEN -> ACTIONING -> CLOSED.
func (c *Coordinator) ProgressRejectCase(ctx context.Context, caseID int64, to CaseStatus, note string, actorID int64) error {
	rc, err := c.cases.GetRejectCase(ctx, caseID)
	if err != nil {
		return err
	}
	if !CanProgressCase(rc.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidCaseTransition, rc.Status, to)
	}
	if err := c.cases.UpdateRejectCase(ctx, caseID, to, note); err != nil {
		return err
	}
	c.appendHistory(ctx, rc.InspectionID, actorID, "REJECT_CASE_PROGRESS", map[string]any{
		"case_id": caseID,
		"before":  string(rc.Status),
		"after":   string(to),
		"note":    note,
	})
	return nil
}

// GetRejectCase loads one reject case.
func (c *Coordinator) GetRejectCase(ctx context.Context, caseID int64) (RejectCase, error) {
	return c.cases.GetRejectCase(ctx, caseID)
}

// SellRecheckEntries lists the sell-recheck passes recorded for an inspection
// in check order.
func (c *Coordinator) SellRecheckEntries(ctx context.Context, inspectionID int64) ([]SellRecheckEntry, error) {
	return c.cases.ListSellRecheckEntries(ctx, inspectionID)
}

// desiredTotals maps an inspection decision to the ledger totals it should
// have posted once settled.
func desiredTotals(insp qc.Inspection) (ledger.KindTotals, string, error) {
	switch insp.Decision {
	case qc.DecisionAccept:
		return ledger.KindTotals{RegularIn: insp.AcceptedQty}, "", nil
	case qc.DecisionReject:
		return ledger.KindTotals{Discard: insp.RejectedQty}, "", nil
	case qc.DecisionRegrade:
		// The regrade quantity itself stays IN_TRANSIT until the regrading
		// job completes and posts its own outputs.
		return ledger.KindTotals{RegularIn: insp.AcceptedQty, Discard: insp.RejectedQty}, "", nil
	case qc.DecisionSellRecheck:
		return ledger.KindTotals{RegularIn: insp.TotalDecided()}, ledger.PostingSellRecheck, nil
	}
	return ledger.KindTotals{}, "", fmt.Errorf("%w: unknown decision %q", shared.ErrValidation, insp.Decision)
}

// ensureSideRecords creates the records that accompany a posting. Each write
// is idempotent, so a pass repeated after a commit failure converges: the
// reject case and regrading job are ensured, and the sell-recheck entry is
// sized from the gap between totalRegular and what entries already record.
func (c *Coordinator) ensureSideRecords(ctx context.Context, insp qc.Inspection, item qc.LotItem, lot qc.Lot, totalRegular decimal.Decimal, result *Result) error {
	switch insp.Decision {
	case qc.DecisionReject:
		rc, err := c.cases.EnsureRejectCase(ctx, lot.ID, insp.ID)
		if err != nil {
			return err
		}
		result.RejectCaseID = rc.ID
	case qc.DecisionRegrade:
		if c.jobs == nil {
			return nil
		}
		jobID, err := c.jobs.EnsureJob(ctx, lot.ID, item.ID, item.ProductID, lot.WarehouseID, insp.RegradeQty)
		if err != nil {
			return err
		}
		result.JobID = jobID
	case qc.DecisionSellRecheck:
		if !result.PostedRegularIn.IsPositive() {
			return nil
		}
		entries, err := c.cases.ListSellRecheckEntries(ctx, insp.ID)
		if err != nil {
			return err
		}
		recorded := decimal.Zero
		for _, entry := range entries {
			recorded = recorded.Add(entry.Qty)
		}
		missing := totalRegular.Sub(recorded)
		if !missing.IsPositive() {
			return nil
		}
		checkNo, err := c.cases.NextCheckNo(ctx, insp.ID)
		if err != nil {
			return err
		}
		entryID, err := c.cases.InsertSellRecheckEntry(ctx, SellRecheckEntry{
			InspectionID: insp.ID,
			CheckNo:      checkNo,
			Qty:          missing,
		})
		if err != nil {
			return err
		}
		result.SellRecheckEntryID = entryID
	}
	return nil
}

func (c *Coordinator) appendHistory(ctx context.Context, inspectionID, actorID int64, action string, detail map[string]any) {
	if c.history == nil {
		return
	}
	if err := c.history.Append(ctx, shared.HistoryEntry{
		Module:    "settlement",
		SubjectID: inspectionID,
		ActorID:   actorID,
		Action:    action,
		Detail:    detail,
	}); err != nil {
		c.logger.Error("append settlement history", slog.String("action", action), slog.Any("error", err))
	}
}
