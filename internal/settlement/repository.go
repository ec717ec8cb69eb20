package settlement

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/freshgate-erp/freshgate-erp/internal/shared"
)

// Repository persists reject cases and sell-recheck entries in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EnsureRejectCase returns the case for the inspection, creating it OPEN when
// absent. Safe to call on every REJECT settlement pass.
func (r *Repository) EnsureRejectCase(ctx context.Context, lotID, inspectionID int64) (RejectCase, error) {
	_, err := r.pool.Exec(ctx, `INSERT INTO reject_cases (lot_id, inspection_id, status, created_at, updated_at)
VALUES ($1,$2,$3,NOW(),NOW())
ON CONFLICT (inspection_id) DO NOTHING`, lotID, inspectionID, string(CaseStatusOpen))
	if err != nil {
		return RejectCase{}, err
	}
	return r.GetRejectCaseByInspection(ctx, inspectionID)
}

// GetRejectCase loads one case by id.
func (r *Repository) GetRejectCase(ctx context.Context, id int64) (RejectCase, error) {
	return r.scanCase(r.pool.QueryRow(ctx, `SELECT id, lot_id, inspection_id, status, disposition_note, created_at, updated_at
FROM reject_cases WHERE id=$1`, id))
}

// GetRejectCaseByInspection loads the case attached to an inspection.
func (r *Repository) GetRejectCaseByInspection(ctx context.Context, inspectionID int64) (RejectCase, error) {
	return r.scanCase(r.pool.QueryRow(ctx, `SELECT id, lot_id, inspection_id, status, disposition_note, created_at, updated_at
FROM reject_cases WHERE inspection_id=$1`, inspectionID))
}

// UpdateRejectCase sets status and disposition note.
func (r *Repository) UpdateRejectCase(ctx context.Context, id int64, status CaseStatus, note string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE reject_cases SET status=$2, disposition_note=$3, updated_at=NOW() WHERE id=$1`,
		id, string(status), note)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// NextCheckNo returns the next sequential check number for an inspection.
func (r *Repository) NextCheckNo(ctx context.Context, inspectionID int64) (int, error) {
	var next int
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(MAX(check_no),0)+1 FROM sell_recheck_entries WHERE inspection_id=$1`,
		inspectionID).Scan(&next)
	return next, err
}

// InsertSellRecheckEntry records one sell-recheck settlement pass.
func (r *Repository) InsertSellRecheckEntry(ctx context.Context, entry SellRecheckEntry) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO sell_recheck_entries (inspection_id, check_no, qty, created_at)
VALUES ($1,$2,$3,NOW()) RETURNING id`, entry.InspectionID, entry.CheckNo, entry.Qty).Scan(&id)
	return id, err
}

// GetSellRecheckEntry loads one entry by id.
func (r *Repository) GetSellRecheckEntry(ctx context.Context, id int64) (SellRecheckEntry, error) {
	var entry SellRecheckEntry
	err := r.pool.QueryRow(ctx, `SELECT id, inspection_id, check_no, qty, created_at
FROM sell_recheck_entries WHERE id=$1`, id).
		Scan(&entry.ID, &entry.InspectionID, &entry.CheckNo, &entry.Qty, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SellRecheckEntry{}, shared.ErrNotFound
		}
		return SellRecheckEntry{}, err
	}
	return entry, nil
}

// ListSellRecheckEntries lists entries for an inspection in check order.
func (r *Repository) ListSellRecheckEntries(ctx context.Context, inspectionID int64) ([]SellRecheckEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, inspection_id, check_no, qty, created_at
FROM sell_recheck_entries WHERE inspection_id=$1 ORDER BY check_no ASC`, inspectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []SellRecheckEntry
	for rows.Next() {
		var entry SellRecheckEntry
		if err := rows.Scan(&entry.ID, &entry.InspectionID, &entry.CheckNo, &entry.Qty, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *Repository) scanCase(row pgx.Row) (RejectCase, error) {
	var c RejectCase
	err := row.Scan(&c.ID, &c.LotID, &c.InspectionID, &c.Status, &c.DispositionNote, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RejectCase{}, shared.ErrNotFound
		}
		return RejectCase{}, err
	}
	return c, nil
}
