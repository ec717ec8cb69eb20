package regrading

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/freshgate-erp/freshgate-erp/internal/platform/db"
	"github.com/freshgate-erp/freshgate-erp/internal/shared"
)

// Repository persists regrading jobs and daily logs in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations of a daily-log append.
type TxRepository interface {
	InsertLog(ctx context.Context, log DailyLog) (int64, error)
	UpdateJobStatus(ctx context.Context, jobID int64, status JobStatus, startedAt *time.Time) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("regrading repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const jobColumns = `id, lot_id, lot_item_id, product_id, warehouse_id, total_qty, status, started_at, created_at, updated_at`

// EnsureJob creates a PLANNED job for the lot item when absent and returns the
// job id either way. Settlement calls this on every REGRADE pass.
func (r *Repository) EnsureJob(ctx context.Context, job Job) (int64, error) {
	_, err := r.pool.Exec(ctx, `INSERT INTO regrading_jobs
(lot_id, lot_item_id, product_id, warehouse_id, total_qty, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW(),NOW())
ON CONFLICT (lot_id, lot_item_id) DO NOTHING`,
		job.LotID, job.LotItemID, job.ProductID, job.WarehouseID, job.TotalQty, string(JobStatusPlanned))
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.pool.QueryRow(ctx, `SELECT id FROM regrading_jobs WHERE lot_id=$1 AND lot_item_id=$2`,
		job.LotID, job.LotItemID).Scan(&id)
	return id, err
}

// GetJob loads one job.
func (r *Repository) GetJob(ctx context.Context, id int64) (Job, error) {
	var job Job
	err := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM regrading_jobs WHERE id=$1`, id).
		Scan(&job.ID, &job.LotID, &job.LotItemID, &job.ProductID, &job.WarehouseID,
			&job.TotalQty, &job.Status, &job.StartedAt, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, shared.ErrNotFound
		}
		return Job{}, err
	}
	return job, nil
}

// ListLogs lists a job's daily logs in date order.
func (r *Repository) ListLogs(ctx context.Context, jobID int64) ([]DailyLog, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, job_id, log_date, taken_qty, sellable_qty, discarded_qty, notes, created_by, created_at
FROM regrading_daily_logs WHERE job_id=$1 ORDER BY log_date ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []DailyLog
	for rows.Next() {
		var log DailyLog
		if err := rows.Scan(&log.ID, &log.JobID, &log.LogDate, &log.TakenQty, &log.SellableQty,
			&log.DiscardedQty, &log.Notes, &log.CreatedBy, &log.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// ListJobsByStatus lists jobs in one status, oldest first.
func (r *Repository) ListJobsByStatus(ctx context.Context, status JobStatus) ([]Job, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+jobColumns+` FROM regrading_jobs WHERE status=$1 ORDER BY created_at ASC`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []Job
	for rows.Next() {
		var job Job
		if err := rows.Scan(&job.ID, &job.LotID, &job.LotItemID, &job.ProductID, &job.WarehouseID,
			&job.TotalQty, &job.Status, &job.StartedAt, &job.CreatedAt, &job.UpdatedAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateJobStatus updates the status outside a daily-log transaction.
func (r *Repository) UpdateJobStatus(ctx context.Context, jobID int64, status JobStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE regrading_jobs SET status=$2, updated_at=NOW() WHERE id=$1`, jobID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepository) InsertLog(ctx context.Context, log DailyLog) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO regrading_daily_logs
(job_id, log_date, taken_qty, sellable_qty, discarded_qty, notes, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW()) RETURNING id`,
		log.JobID, log.LogDate, log.TakenQty, log.SellableQty, log.DiscardedQty, log.Notes, log.CreatedBy).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateDate
		}
		return 0, err
	}
	return id, nil
}

func (r *txRepository) UpdateJobStatus(ctx context.Context, jobID int64, status JobStatus, startedAt *time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE regrading_jobs
SET status=$2, started_at=COALESCE(started_at, $3), updated_at=NOW() WHERE id=$1`,
		jobID, string(status), startedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
