package qc

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/freshgate-erp/freshgate-erp/internal/platform/db"
	"github.com/freshgate-erp/freshgate-erp/internal/shared"
)

// Repository persists lots, items and inspections in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	InsertLot(ctx context.Context, lot Lot) (int64, error)
	InsertLotItem(ctx context.Context, item LotItem) (int64, error)
	UpdateLotStatus(ctx context.Context, lotID int64, status LotStatus) error
	InsertInspection(ctx context.Context, insp Inspection) (int64, error)
	UpdateInspection(ctx context.Context, insp Inspection) error
	ReplaceDefects(ctx context.Context, inspectionID int64, defects []DefectRecord) error
	SetInspectionSubmitted(ctx context.Context, inspectionID int64, submitted bool) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("qc repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// GetLot loads one lot.
func (r *Repository) GetLot(ctx context.Context, id int64) (Lot, error) {
	var lot Lot
	err := r.pool.QueryRow(ctx, `SELECT id, lot_number, container_ref, origin, warehouse_id, arrived_at, status, created_by, created_at
FROM lots WHERE id=$1`, id).
		Scan(&lot.ID, &lot.LotNumber, &lot.ContainerRef, &lot.Origin, &lot.WarehouseID, &lot.ArrivedAt, &lot.Status, &lot.CreatedBy, &lot.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Lot{}, shared.ErrNotFound
		}
		return Lot{}, err
	}
	return lot, nil
}

// GetLotItem loads one lot item.
func (r *Repository) GetLotItem(ctx context.Context, id int64) (LotItem, error) {
	var item LotItem
	err := r.pool.QueryRow(ctx, `SELECT id, lot_id, product_id, declared_qty, net_weight_kg, unit
FROM lot_items WHERE id=$1`, id).
		Scan(&item.ID, &item.LotID, &item.ProductID, &item.DeclaredQty, &item.NetWeightKg, &item.Unit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LotItem{}, shared.ErrNotFound
		}
		return LotItem{}, err
	}
	return item, nil
}

// ListLotItems lists the items of a lot.
func (r *Repository) ListLotItems(ctx context.Context, lotID int64) ([]LotItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, lot_id, product_id, declared_qty, net_weight_kg, unit
FROM lot_items WHERE lot_id=$1 ORDER BY id ASC`, lotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []LotItem
	for rows.Next() {
		var item LotItem
		if err := rows.Scan(&item.ID, &item.LotID, &item.ProductID, &item.DeclaredQty, &item.NetWeightKg, &item.Unit); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetInspection loads one inspection with its defect records.
func (r *Repository) GetInspection(ctx context.Context, id int64) (Inspection, error) {
	var insp Inspection
	var checklist []byte
	err := r.pool.QueryRow(ctx, `SELECT id, lot_id, lot_item_id, decision, accepted_qty, regrade_qty, rejected_qty,
checklist, notes, submitted_for_approval, created_by, created_at, updated_at
FROM inspections WHERE id=$1`, id).
		Scan(&insp.ID, &insp.LotID, &insp.LotItemID, &insp.Decision, &insp.AcceptedQty, &insp.RegradeQty, &insp.RejectedQty,
			&checklist, &insp.Notes, &insp.SubmittedForApproval, &insp.CreatedBy, &insp.CreatedAt, &insp.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Inspection{}, shared.ErrNotFound
		}
		return Inspection{}, err
	}
	if len(checklist) > 0 {
		if err := json.Unmarshal(checklist, &insp.Checklist); err != nil {
			return Inspection{}, err
		}
	}
	defects, err := r.listDefects(ctx, id)
	if err != nil {
		return Inspection{}, err
	}
	insp.Defects = defects
	return insp, nil
}

// ListInspections lists inspections for one lot item, oldest first.
func (r *Repository) ListInspections(ctx context.Context, lotItemID int64) ([]Inspection, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, lot_id, lot_item_id, decision, accepted_qty, regrade_qty, rejected_qty,
checklist, notes, submitted_for_approval, created_by, created_at, updated_at
FROM inspections WHERE lot_item_id=$1 ORDER BY id ASC`, lotItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var inspections []Inspection
	for rows.Next() {
		var insp Inspection
		var checklist []byte
		if err := rows.Scan(&insp.ID, &insp.LotID, &insp.LotItemID, &insp.Decision, &insp.AcceptedQty, &insp.RegradeQty, &insp.RejectedQty,
			&checklist, &insp.Notes, &insp.SubmittedForApproval, &insp.CreatedBy, &insp.CreatedAt, &insp.UpdatedAt); err != nil {
			return nil, err
		}
		if len(checklist) > 0 {
			if err := json.Unmarshal(checklist, &insp.Checklist); err != nil {
				return nil, err
			}
		}
		inspections = append(inspections, insp)
	}
	return inspections, rows.Err()
}

func (r *Repository) listDefects(ctx context.Context, inspectionID int64) ([]DefectRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, inspection_id, defect_type_id, occurrence_count, note
FROM inspection_defects WHERE inspection_id=$1 ORDER BY id ASC`, inspectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var defects []DefectRecord
	for rows.Next() {
		var d DefectRecord
		if err := rows.Scan(&d.ID, &d.InspectionID, &d.DefectTypeID, &d.Count, &d.Note); err != nil {
			return nil, err
		}
		defects = append(defects, d)
	}
	return defects, rows.Err()
}

func (r *txRepository) InsertLot(ctx context.Context, lot Lot) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO lots (lot_number, container_ref, origin, warehouse_id, arrived_at, status, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW()) RETURNING id`,
		lot.LotNumber, lot.ContainerRef, lot.Origin, lot.WarehouseID, lot.ArrivedAt, string(lot.Status), lot.CreatedBy).Scan(&id)
	return id, err
}

func (r *txRepository) InsertLotItem(ctx context.Context, item LotItem) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO lot_items (lot_id, product_id, declared_qty, net_weight_kg, unit)
VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		item.LotID, item.ProductID, item.DeclaredQty, item.NetWeightKg, item.Unit).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateLotStatus(ctx context.Context, lotID int64, status LotStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE lots SET status=$2 WHERE id=$1`, lotID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepository) InsertInspection(ctx context.Context, insp Inspection) (int64, error) {
	checklist, err := json.Marshal(insp.Checklist)
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.tx.QueryRow(ctx, `INSERT INTO inspections
(lot_id, lot_item_id, decision, accepted_qty, regrade_qty, rejected_qty, checklist, notes, submitted_for_approval, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,false,$9,NOW(),NOW()) RETURNING id`,
		insp.LotID, insp.LotItemID, string(insp.Decision), insp.AcceptedQty, insp.RegradeQty, insp.RejectedQty,
		checklist, insp.Notes, insp.CreatedBy).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateInspection(ctx context.Context, insp Inspection) error {
	checklist, err := json.Marshal(insp.Checklist)
	if err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, `UPDATE inspections
SET decision=$2, accepted_qty=$3, regrade_qty=$4, rejected_qty=$5, checklist=$6, notes=$7, updated_at=NOW()
WHERE id=$1`,
		insp.ID, string(insp.Decision), insp.AcceptedQty, insp.RegradeQty, insp.RejectedQty, checklist, insp.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepository) ReplaceDefects(ctx context.Context, inspectionID int64, defects []DefectRecord) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM inspection_defects WHERE inspection_id=$1`, inspectionID); err != nil {
		return err
	}
	for _, d := range defects {
		if _, err := r.tx.Exec(ctx, `INSERT INTO inspection_defects (inspection_id, defect_type_id, occurrence_count, note)
VALUES ($1,$2,$3,$4)`, inspectionID, d.DefectTypeID, d.Count, d.Note); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) SetInspectionSubmitted(ctx context.Context, inspectionID int64, submitted bool) error {
	tag, err := r.tx.Exec(ctx, `UPDATE inspections SET submitted_for_approval=$2, updated_at=NOW() WHERE id=$1`, inspectionID, submitted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
