package regrading

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/freshgate-erp/freshgate-erp/internal/shared"
)

// JobStatus enumerates the regrading job lifecycle.
type JobStatus string

const (
	JobStatusPlanned   JobStatus = "PLANNED"
	JobStatusActive    JobStatus = "ACTIVE"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusClosed    JobStatus = "CLOSED"
)

// Job tracks a sorting/regrading run over one lot item. TotalQty is the
// snapshot taken at settlement time and never changes afterwards.
type Job struct {
	ID          int64
	LotID       int64
	LotItemID   int64
	ProductID   int64
	WarehouseID int64
	TotalQty    decimal.Decimal
	Status      JobStatus
	StartedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DailyLog is one day's sorting work. One log per job per date.
type DailyLog struct {
	ID           int64
	JobID        int64
	LogDate      time.Time
	TakenQty     decimal.Decimal
	SellableQty  decimal.Decimal
	DiscardedQty decimal.Decimal
	Notes        string
	CreatedBy    int64
	CreatedAt    time.Time
}

// DayBalance is one daily log with its derived running balances. Balances are
// recomputed from the log sequence, never stored.
type DayBalance struct {
	DailyLog
	Opening decimal.Decimal
	Closing decimal.Decimal
}

// JobView is a job with its logs folded into running balances in date order.
type JobView struct {
	Job       Job
	Days      []DayBalance
	TakenSum  decimal.Decimal
	Remaining decimal.Decimal
}

// FoldBalances derives per-day opening/closing balances from the job total.
// Logs must be sorted by date ascending.
func FoldBalances(job Job, logs []DailyLog) JobView {
	view := JobView{Job: job, Remaining: job.TotalQty}
	for _, log := range logs {
		day := DayBalance{DailyLog: log, Opening: view.Remaining}
		view.Remaining = view.Remaining.Sub(log.TakenQty)
		day.Closing = view.Remaining
		view.TakenSum = view.TakenSum.Add(log.TakenQty)
		view.Days = append(view.Days, day)
	}
	return view
}

var (
	// ErrDuplicateDate occurs when a job already has a log for the date.
	ErrDuplicateDate = fmt.Errorf("regrading: daily log already exists for date: %w", shared.ErrValidation)
	// ErrExceedsBalance occurs when taken qty exceeds the day's opening balance.
	ErrExceedsBalance = fmt.Errorf("regrading: taken qty exceeds remaining balance: %w", shared.ErrValidation)
	// ErrOutputExceedsInput occurs when day outputs exceed the taken qty.
	ErrOutputExceedsInput = fmt.Errorf("regrading: outputs exceed taken qty: %w", shared.ErrValidation)
	// ErrNotesRequired occurs when a day discards without explanation.
	ErrNotesRequired = fmt.Errorf("regrading: notes required when discarding: %w", shared.ErrValidation)
	// ErrEvidenceRequired occurs when no evidence file accompanies a daily log.
	ErrEvidenceRequired = fmt.Errorf("regrading: at least one evidence file required: %w", shared.ErrValidation)
	// ErrJobNotOpen occurs when logging against a completed or closed job.
	ErrJobNotOpen = fmt.Errorf("regrading: job no longer accepts daily logs: %w", shared.ErrValidation)
	// ErrIncomplete occurs when completing a job whose logs do not cover the
	// total within tolerance.
	ErrIncomplete = fmt.Errorf("regrading: taken sum below job total: %w", shared.ErrValidation)
	// ErrNotCompleted occurs when posting a job that is not COMPLETED.
	ErrNotCompleted = fmt.Errorf("regrading: job must be completed before posting: %w", shared.ErrValidation)
)
