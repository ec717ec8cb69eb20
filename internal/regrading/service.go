package regrading

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/freshgate-erp/freshgate-erp/internal/ledger"
	"github.com/freshgate-erp/freshgate-erp/internal/qc"
	"github.com/freshgate-erp/freshgate-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	EnsureJob(ctx context.Context, job Job) (int64, error)
	GetJob(ctx context.Context, id int64) (Job, error)
	ListLogs(ctx context.Context, jobID int64) ([]DailyLog, error)
	ListJobsByStatus(ctx context.Context, status JobStatus) ([]Job, error)
	UpdateJobStatus(ctx context.Context, jobID int64, status JobStatus) error
}

// LotStatusPort moves the parent lot through its lifecycle.
type LotStatusPort interface {
	ChangeStatus(ctx context.Context, lotID int64, to qc.LotStatus, reason string, actorID int64) error
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

// HistoryPort appends to the external QC history log.
type HistoryPort interface {
	Append(ctx context.Context, entry shared.HistoryEntry) error
}

// Service owns the regrading job workflow: daily sorting logs against a fixed
// total, completion within tolerance, and the final ledger posting.
type Service struct {
	repo      RepositoryPort
	lots      LotStatusPort
	resolver  SourceResolver
	ledger    LedgerPort
	engine    *ledger.Engine
	guard     GuardPort
	flags     shared.MovementFlagSource
	media     shared.MediaStore
	history   HistoryPort
	tolerance decimal.Decimal
	logger    *slog.Logger
}

// NewService constructs Service. Tolerance zero falls back to the ledger-wide
// quantity tolerance.
func NewService(repo RepositoryPort, lots LotStatusPort, resolver SourceResolver, ledgerPort LedgerPort,
	engine *ledger.Engine, guard GuardPort, flags shared.MovementFlagSource, media shared.MediaStore,
	history HistoryPort, tolerance decimal.Decimal, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if engine == nil {
		engine = ledger.NewEngine(logger)
	}
	if tolerance.IsZero() {
		tolerance = ledger.QtyTolerance
	}
	return &Service{
		repo: repo, lots: lots, resolver: resolver, ledger: ledgerPort, engine: engine,
		guard: guard, flags: flags, media: media, history: history, tolerance: tolerance, logger: logger,
	}
}

// EnsureJob creates a PLANNED job for the lot item if none exists yet. The
// total quantity is snapshotted on first creation and kept on later calls.
func (s *Service) EnsureJob(ctx context.Context, lotID, lotItemID, productID, warehouseID int64, total decimal.Decimal) (int64, error) {
	if !total.IsPositive() {
		return 0, fmt.Errorf("%w: regrade total must be > 0", shared.ErrValidation)
	}
	return s.repo.EnsureJob(ctx, Job{
		LotID:       lotID,
		LotItemID:   lotItemID,
		ProductID:   productID,
		WarehouseID: warehouseID,
		TotalQty:    total,
	})
}

// AppendLogInput describes one day of sorting work.
type AppendLogInput struct {
	JobID         int64
	Date          time.Time
	TakenQty      decimal.Decimal
	SellableQty   decimal.Decimal
	DiscardedQty  decimal.Decimal
	Notes         string
	EvidencePaths []string
	ActorID       int64
}

// AppendDailyLog records one day's work. The first log activates the job.
func (s *Service) AppendDailyLog(ctx context.Context, input AppendLogInput) (DailyLog, error) {
	job, err := s.repo.GetJob(ctx, input.JobID)
	if err != nil {
		return DailyLog{}, err
	}
	if job.Status != JobStatusPlanned && job.Status != JobStatusActive {
		return DailyLog{}, ErrJobNotOpen
	}
	if !input.TakenQty.IsPositive() {
		return DailyLog{}, fmt.Errorf("%w: taken qty must be > 0", shared.ErrValidation)
	}
	if input.SellableQty.IsNegative() || input.DiscardedQty.IsNegative() {
		return DailyLog{}, fmt.Errorf("%w: day outputs must be >= 0", shared.ErrValidation)
	}
	if input.SellableQty.Add(input.DiscardedQty).GreaterThan(input.TakenQty) {
		return DailyLog{}, ErrOutputExceedsInput
	}
	if input.DiscardedQty.IsPositive() && input.Notes == "" {
		return DailyLog{}, ErrNotesRequired
	}
	if len(input.EvidencePaths) == 0 {
		return DailyLog{}, ErrEvidenceRequired
	}

	logDate := truncateToDate(input.Date)
	logs, err := s.repo.ListLogs(ctx, input.JobID)
	if err != nil {
		return DailyLog{}, err
	}
	opening := job.TotalQty
	for _, prior := range logs {
		if sameDate(prior.LogDate, logDate) {
			return DailyLog{}, ErrDuplicateDate
		}
		opening = opening.Sub(prior.TakenQty)
	}
	if input.TakenQty.GreaterThan(opening) {
		return DailyLog{}, fmt.Errorf("%w: taken %s > remaining %s", ErrExceedsBalance, input.TakenQty, opening)
	}

	log := DailyLog{
		JobID:        input.JobID,
		LogDate:      logDate,
		TakenQty:     input.TakenQty,
		SellableQty:  input.SellableQty,
		DiscardedQty: input.DiscardedQty,
		Notes:        input.Notes,
		CreatedBy:    input.ActorID,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertLog(ctx, log)
		if err != nil {
			return err
		}
		log.ID = id
		if job.Status == JobStatusPlanned {
			started := logDate
			return tx.UpdateJobStatus(ctx, job.ID, JobStatusActive, &started)
		}
		return nil
	})
	if err != nil {
		return DailyLog{}, err
	}
	if s.media != nil {
		if err := s.media.Attach(ctx, "regrading_log", log.ID, input.EvidencePaths); err != nil {
			s.logger.Error("attach regrading evidence", slog.Any("error", err))
		}
	}
	s.appendHistory(ctx, job.ID, input.ActorID, "REGRADE_LOG", map[string]any{
		"date":      logDate.Format("2006-01-02"),
		"taken":     input.TakenQty.String(),
		"sellable":  input.SellableQty.String(),
		"discarded": input.DiscardedQty.String(),
	})
	return log, nil
}

// Complete closes out the sorting phase. The logged taken sum must cover the
// job total within tolerance. The parent lot moves to REGRADED_COMPLETED.
func (s *Service) Complete(ctx context.Context, jobID, actorID int64) error {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != JobStatusActive {
		return ErrJobNotOpen
	}
	logs, err := s.repo.ListLogs(ctx, jobID)
	if err != nil {
		return err
	}
	view := FoldBalances(job, logs)
	if view.TakenSum.LessThan(job.TotalQty.Sub(s.tolerance)) {
		return fmt.Errorf("%w: taken %s of %s", ErrIncomplete, view.TakenSum, job.TotalQty)
	}
	if err := s.repo.UpdateJobStatus(ctx, jobID, JobStatusCompleted); err != nil {
		return err
	}
	if s.lots != nil {
		if err := s.lots.ChangeStatus(ctx, job.LotID, qc.LotStatusRegradedCompleted, "regrading completed", actorID); err != nil {
			s.logger.Error("update lot status after regrading", slog.Int64("lot_id", job.LotID), slog.Any("error", err))
		}
	}
	s.appendHistory(ctx, jobID, actorID, "REGRADE_COMPLETE", map[string]any{
		"taken": view.TakenSum.String(),
		"total": job.TotalQty.String(),
	})
	return nil
}

// PostInput carries the final outcome quantities of a completed job.
type PostInput struct {
	JobID        int64
	SellableQty  decimal.Decimal
	DiscardedQty decimal.Decimal
	ActorID      int64
}

// Post converts a completed job's outcome into ledger movements: sellable to
// REGULAR_IN, discarded to DISCARD, consumed FIFO from the lot's remaining
// IN_TRANSIT lines. Exactly one posting per job.
func (s *Service) Post(ctx context.Context, input PostInput) error {
	job, err := s.repo.GetJob(ctx, input.JobID)
	if err != nil {
		return err
	}
	if job.Status != JobStatusCompleted {
		return ErrNotCompleted
	}
	if input.SellableQty.IsNegative() || input.DiscardedQty.IsNegative() {
		return fmt.Errorf("%w: outcome quantities must be >= 0", shared.ErrValidation)
	}
	outcome := input.SellableQty.Add(input.DiscardedQty)
	if outcome.GreaterThan(job.TotalQty.Add(s.tolerance)) {
		return fmt.Errorf("%w: outcome %s > job total %s", shared.ErrValidation, outcome, job.TotalQty)
	}
	if s.flags != nil && !s.flags.MovementsEnabled(ctx) {
		return shared.ErrMovementsDisabled
	}

	billIDs, err := s.resolver.BillIDs(ctx, job.LotID)
	if err != nil {
		return err
	}

	scope := shared.PostingScopeKey(job.LotID, job.ID)
	if s.guard != nil {
		if err := s.guard.Acquire(ctx, scope, "regrading"); err != nil {
			return err
		}
	}
	qcRef := ledger.QCRef{LotID: job.LotID, JobID: job.ID}
	var outputs []ledger.OutputSpec
	if input.SellableQty.IsPositive() {
		outputs = append(outputs, ledger.OutputSpec{Kind: ledger.KindRegularIn, Qty: input.SellableQty, QC: qcRef})
	}
	if input.DiscardedQty.IsPositive() {
		outputs = append(outputs, ledger.OutputSpec{Kind: ledger.KindDiscard, Qty: input.DiscardedQty, QC: qcRef})
	}
	err = s.ledger.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		sources, err := tx.ListOpenInTransitForUpdate(ctx, job.ProductID, billIDs)
		if err != nil {
			return err
		}
		_, err = s.engine.Allocate(ctx, tx, sources, outcome, outputs)
		return err
	})
	if err != nil {
		if s.guard != nil {
			_ = s.guard.Release(ctx, scope)
		}
		return err
	}
	if err := s.repo.UpdateJobStatus(ctx, input.JobID, JobStatusClosed); err != nil {
		return err
	}
	s.appendHistory(ctx, input.JobID, input.ActorID, "REGRADE_POST", map[string]any{
		"sellable":  input.SellableQty.String(),
		"discarded": input.DiscardedQty.String(),
	})
	return nil
}

// ListJobs returns jobs in the given status.
func (s *Service) ListJobs(ctx context.Context, status JobStatus) ([]Job, error) {
	return s.repo.ListJobsByStatus(ctx, status)
}

// View loads a job with derived running balances. Job and logs load
// concurrently.
func (s *Service) View(ctx context.Context, jobID int64) (JobView, error) {
	var (
		job  Job
		logs []DailyLog
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		job, err = s.repo.GetJob(gctx, jobID)
		return err
	})
	g.Go(func() error {
		var err error
		logs, err = s.repo.ListLogs(gctx, jobID)
		return err
	})
	if err := g.Wait(); err != nil {
		return JobView{}, err
	}
	return FoldBalances(job, logs), nil
}

func (s *Service) appendHistory(ctx context.Context, jobID, actorID int64, action string, detail map[string]any) {
	if s.history == nil {
		return
	}
	if err := s.history.Append(ctx, shared.HistoryEntry{
		Module:    "regrading",
		SubjectID: jobID,
		ActorID:   actorID,
		Action:    action,
		Detail:    detail,
	}); err != nil {
		s.logger.Error("append regrading history", slog.String("action", action), slog.Any("error", err))
	}
}

func truncateToDate(t time.Time) time.Time {
	if t.IsZero() {
		t = time.Now()
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
