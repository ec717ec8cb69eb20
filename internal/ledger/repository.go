package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/freshgate-erp/freshgate-erp/internal/platform/db"
)

// Repository persists ledger lines and balances in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations the allocation engine and
// settlement flows run inside one unit of work.
type TxRepository interface {
	ListOpenInTransitForUpdate(ctx context.Context, productID int64, billIDs []int64) ([]Line, error)
	ListRegularInForUpdate(ctx context.Context, productID, lotID int64, postingType string) ([]Line, error)
	InsertLine(ctx context.Context, line Line) (int64, error)
	ShrinkLine(ctx context.Context, line Line) error
	SoftDeleteLine(ctx context.Context, id int64) error
	AdjustBalance(ctx context.Context, warehouseID, productID int64, delta decimal.Decimal) error
	GetBalance(ctx context.Context, warehouseID, productID int64) (Balance, error)
	InspectionTotals(ctx context.Context, inspectionID int64) (KindTotals, error)
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps an existing transaction so callers that manage their
// own unit of work can run ledger operations inside it.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const lineColumns = `id, kind, product_id, warehouse_id, qty, unit_cost, currency, exchange_rate,
amount, foreign_amount, total_amount, source_type, source_id, source_line_id,
qc_lot_id, qc_inspection_id, qc_job_id, posting_type, deleted, created_at`

// LotTotals sums non-deleted lines per movement kind for one lot and product.
// IN_TRANSIT lines attach to the lot through its purchase bills; settled lines
// carry the lot reference directly.
func (r *Repository) LotTotals(ctx context.Context, lotID, productID int64) (KindTotals, error) {
	if r == nil {
		return KindTotals{}, errors.New("ledger repository not initialised")
	}
	var totals KindTotals
	err := r.pool.QueryRow(ctx, `SELECT
COALESCE(SUM(qty) FILTER (WHERE kind='IN_TRANSIT' AND source_id IN (SELECT bill_id FROM lot_bills WHERE lot_id=$1)), 0),
COALESCE(SUM(qty) FILTER (WHERE kind='REGULAR_IN' AND qc_lot_id=$1), 0),
COALESCE(SUM(qty) FILTER (WHERE kind='DISCARD' AND qc_lot_id=$1), 0)
FROM ledger_lines
WHERE deleted=false AND product_id=$2`, lotID, productID).
		Scan(&totals.InTransit, &totals.RegularIn, &totals.Discard)
	return totals, err
}

// StockOnHand returns the on-hand balance for warehouse/product.
func (r *Repository) StockOnHand(ctx context.Context, warehouseID, productID int64) (Balance, error) {
	if r == nil {
		return Balance{}, errors.New("ledger repository not initialised")
	}
	var bal Balance
	err := r.pool.QueryRow(ctx, `SELECT warehouse_id, product_id, qty, updated_at
FROM stock_balances WHERE warehouse_id=$1 AND product_id=$2`, warehouseID, productID).
		Scan(&bal.WarehouseID, &bal.ProductID, &bal.Qty, &bal.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{WarehouseID: warehouseID, ProductID: productID, Qty: decimal.Zero}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	return bal, nil
}

// LotLines lists non-deleted settled lines for a lot, oldest first.
func (r *Repository) LotLines(ctx context.Context, lotID int64) ([]Line, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT `+lineColumns+` FROM ledger_lines
WHERE deleted=false AND qc_lot_id=$1 ORDER BY created_at ASC, id ASC`, lotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLines(rows)
}

func (r *txRepository) ListOpenInTransitForUpdate(ctx context.Context, productID int64, billIDs []int64) ([]Line, error) {
	if len(billIDs) == 0 {
		return nil, nil
	}
	rows, err := r.tx.Query(ctx, `SELECT `+lineColumns+` FROM ledger_lines
WHERE deleted=false AND kind='IN_TRANSIT' AND product_id=$1 AND source_type='BILL' AND source_id = ANY($2)
ORDER BY created_at ASC, id ASC
FOR UPDATE`, productID, billIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLines(rows)
}

func (r *txRepository) ListRegularInForUpdate(ctx context.Context, productID, lotID int64, postingType string) ([]Line, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+lineColumns+` FROM ledger_lines
WHERE deleted=false AND kind='REGULAR_IN' AND product_id=$1
AND ($2::bigint IS NULL OR qc_lot_id=$2)
AND ($3::text IS NULL OR posting_type=$3)
ORDER BY created_at ASC, id ASC
FOR UPDATE`, productID, nullInt(lotID), nullString(postingType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLines(rows)
}

func (r *txRepository) InsertLine(ctx context.Context, line Line) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO ledger_lines
(kind, product_id, warehouse_id, qty, unit_cost, currency, exchange_rate, amount, foreign_amount, total_amount,
 source_type, source_id, source_line_id, qc_lot_id, qc_inspection_id, qc_job_id, posting_type, deleted, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,false,NOW())
RETURNING id`,
		string(line.Kind), line.ProductID, line.WarehouseID, line.Qty, line.UnitCost, line.Currency, line.ExchangeRate,
		line.Amount, line.ForeignAmount, line.TotalAmount,
		line.SourceType, nullInt(line.SourceID), nullInt(line.SourceLineID),
		nullInt(line.QC.LotID), nullInt(line.QC.InspectionID), nullInt(line.QC.JobID),
		nullString(line.PostingType)).Scan(&id)
	return id, err
}

func (r *txRepository) ShrinkLine(ctx context.Context, line Line) error {
	tag, err := r.tx.Exec(ctx, `UPDATE ledger_lines
SET qty=$2, amount=$3, foreign_amount=$4, total_amount=$5
WHERE id=$1 AND deleted=false`, line.ID, line.Qty, line.Amount, line.ForeignAmount, line.TotalAmount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("ledger: shrink target line missing")
	}
	return nil
}

func (r *txRepository) SoftDeleteLine(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE ledger_lines SET qty=0, amount=0, foreign_amount=0, total_amount=0, deleted=true
WHERE id=$1 AND deleted=false`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("ledger: soft-delete target line missing")
	}
	return nil
}

func (r *txRepository) AdjustBalance(ctx context.Context, warehouseID, productID int64, delta decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_balances (warehouse_id, product_id, qty, updated_at)
VALUES ($1,$2,$3,NOW())
ON CONFLICT (warehouse_id, product_id) DO UPDATE SET qty=stock_balances.qty+EXCLUDED.qty, updated_at=NOW()`,
		warehouseID, productID, delta)
	return err
}

// InspectionTotals sums non-deleted output lines already posted for one
// inspection, per movement kind. Re-settlement after an inspection edit posts
// only the positive delta over these totals.
func (r *txRepository) InspectionTotals(ctx context.Context, inspectionID int64) (KindTotals, error) {
	var totals KindTotals
	err := r.tx.QueryRow(ctx, `SELECT
COALESCE(SUM(qty) FILTER (WHERE kind='REGULAR_IN'), 0),
COALESCE(SUM(qty) FILTER (WHERE kind='DISCARD'), 0)
FROM ledger_lines
WHERE deleted=false AND qc_inspection_id=$1`, inspectionID).
		Scan(&totals.RegularIn, &totals.Discard)
	return totals, err
}

func (r *txRepository) GetBalance(ctx context.Context, warehouseID, productID int64) (Balance, error) {
	var bal Balance
	err := r.tx.QueryRow(ctx, `SELECT warehouse_id, product_id, qty, updated_at
FROM stock_balances WHERE warehouse_id=$1 AND product_id=$2 FOR UPDATE`, warehouseID, productID).
		Scan(&bal.WarehouseID, &bal.ProductID, &bal.Qty, &bal.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{WarehouseID: warehouseID, ProductID: productID, Qty: decimal.Zero}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	return bal, nil
}

func scanLines(rows pgx.Rows) ([]Line, error) {
	var lines []Line
	for rows.Next() {
		var line Line
		var sourceID, sourceLineID, qcLot, qcIns, qcJob *int64
		var postingType *string
		if err := rows.Scan(&line.ID, &line.Kind, &line.ProductID, &line.WarehouseID, &line.Qty, &line.UnitCost,
			&line.Currency, &line.ExchangeRate, &line.Amount, &line.ForeignAmount, &line.TotalAmount,
			&line.SourceType, &sourceID, &sourceLineID, &qcLot, &qcIns, &qcJob, &postingType,
			&line.Deleted, &line.CreatedAt); err != nil {
			return nil, err
		}
		line.SourceID = derefInt(sourceID)
		line.SourceLineID = derefInt(sourceLineID)
		line.QC = QCRef{LotID: derefInt(qcLot), InspectionID: derefInt(qcIns), JobID: derefInt(qcJob)}
		if postingType != nil {
			line.PostingType = *postingType
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func derefInt(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
