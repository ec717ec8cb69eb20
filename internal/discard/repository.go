package discard

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/freshgate-erp/freshgate-erp/internal/ledger"
	"github.com/freshgate-erp/freshgate-erp/internal/platform/db"
	"github.com/freshgate-erp/freshgate-erp/internal/shared"
)

// Repository persists discard requests in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction covering
// both the request row and the ledger.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

// Ledger exposes ledger operations on the same transaction.
func (r *txRepository) Ledger() ledger.TxRepository {
	return ledger.NewTxRepository(r.tx)
}

// DecideRequest flips a PENDING request to its final status. The status guard
// in the WHERE clause makes double decisions lose the race at the database.
func (r *txRepository) DecideRequest(ctx context.Context, id int64, status RequestStatus, sourceClass SourceClass, decidedBy int64) error {
	var class any
	if sourceClass != "" {
		class = string(sourceClass)
	}
	tag, err := r.tx.Exec(ctx, `UPDATE discard_requests
SET status=$2, source_class=$3, decided_by=$4, decided_at=$5
WHERE id=$1 AND status=$6`,
		id, string(status), class, decidedBy, time.Now(), string(RequestStatusPending))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyDecided
	}
	return nil
}

const requestColumns = `id, sell_recheck_entry_id, inspection_id, lot_id, product_id, warehouse_id,
qty, reason, status, source_class, requested_by, decided_by, created_at, decided_at`

// InsertRequest stores a new PENDING request.
func (r *Repository) InsertRequest(ctx context.Context, req Request) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO discard_requests
(sell_recheck_entry_id, inspection_id, lot_id, product_id, warehouse_id, qty, reason, status, requested_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW()) RETURNING id`,
		req.SellRecheckEntryID, req.InspectionID, req.LotID, req.ProductID, req.WarehouseID,
		req.Qty, req.Reason, string(RequestStatusPending), req.RequestedBy).Scan(&id)
	return id, err
}

// GetRequest loads one request.
func (r *Repository) GetRequest(ctx context.Context, id int64) (Request, error) {
	var req Request
	var sourceClass *string
	err := r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM discard_requests WHERE id=$1`, id).
		Scan(&req.ID, &req.SellRecheckEntryID, &req.InspectionID, &req.LotID, &req.ProductID, &req.WarehouseID,
			&req.Qty, &req.Reason, &req.Status, &sourceClass, &req.RequestedBy, &req.DecidedBy,
			&req.CreatedAt, &req.DecidedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, shared.ErrNotFound
		}
		return Request{}, err
	}
	if sourceClass != nil {
		req.SourceClass = SourceClass(*sourceClass)
	}
	return req, nil
}

// ListRequests lists requests in one status, oldest first.
func (r *Repository) ListRequests(ctx context.Context, status RequestStatus) ([]Request, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+requestColumns+` FROM discard_requests WHERE status=$1 ORDER BY created_at ASC`,
		string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var requests []Request
	for rows.Next() {
		var req Request
		var sourceClass *string
		if err := rows.Scan(&req.ID, &req.SellRecheckEntryID, &req.InspectionID, &req.LotID, &req.ProductID,
			&req.WarehouseID, &req.Qty, &req.Reason, &req.Status, &sourceClass, &req.RequestedBy,
			&req.DecidedBy, &req.CreatedAt, &req.DecidedAt); err != nil {
			return nil, err
		}
		if sourceClass != nil {
			req.SourceClass = SourceClass(*sourceClass)
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

