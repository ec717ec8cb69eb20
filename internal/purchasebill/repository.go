package purchasebill

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/freshgate-erp/freshgate-erp/internal/ledger"
	"github.com/freshgate-erp/freshgate-erp/internal/platform/db"
	"github.com/freshgate-erp/freshgate-erp/internal/shared"
)

// Repository persists purchase bills and lot associations in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service. Bill
// posting and its IN_TRANSIT lines commit in one unit of work.
type TxRepository interface {
	InsertBill(ctx context.Context, bill PurchaseBill) (int64, error)
	InsertBillLine(ctx context.Context, line BillLine) (int64, error)
	UpdateBillStatus(ctx context.Context, billID int64, status BillStatus) error
	InsertInTransitLine(ctx context.Context, line ledger.Line) (int64, error)
	LinkLot(ctx context.Context, lotID, billID int64) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("purchasebill repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// GetBill loads one bill with its lines.
func (r *Repository) GetBill(ctx context.Context, id int64) (PurchaseBill, []BillLine, error) {
	var bill PurchaseBill
	err := r.pool.QueryRow(ctx, `SELECT id, number, supplier_id, warehouse_id, currency, exchange_rate, status, issued_at, note
FROM purchase_bills WHERE id=$1`, id).
		Scan(&bill.ID, &bill.Number, &bill.SupplierID, &bill.WarehouseID, &bill.Currency, &bill.ExchangeRate, &bill.Status, &bill.IssuedAt, &bill.Note)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseBill{}, nil, shared.ErrNotFound
		}
		return PurchaseBill{}, nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, bill_id, product_id, qty, unit_cost
FROM purchase_bill_lines WHERE bill_id=$1 ORDER BY id ASC`, id)
	if err != nil {
		return PurchaseBill{}, nil, err
	}
	defer rows.Close()
	var lines []BillLine
	for rows.Next() {
		var line BillLine
		if err := rows.Scan(&line.ID, &line.BillID, &line.ProductID, &line.Qty, &line.UnitCost); err != nil {
			return PurchaseBill{}, nil, err
		}
		lines = append(lines, line)
	}
	return bill, lines, rows.Err()
}

// BillIDs resolves the purchase bills linked to a lot, oldest link first.
// This is the one-to-many replacement for the upstream comma-joined list.
func (r *Repository) BillIDs(ctx context.Context, lotID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT bill_id FROM lot_bills WHERE lot_id=$1 ORDER BY id ASC`, lotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *txRepository) InsertBill(ctx context.Context, bill PurchaseBill) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_bills (number, supplier_id, warehouse_id, currency, exchange_rate, status, issued_at, note)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		bill.Number, bill.SupplierID, bill.WarehouseID, bill.Currency, bill.ExchangeRate, string(bill.Status), bill.IssuedAt, bill.Note).Scan(&id)
	return id, err
}

func (r *txRepository) InsertBillLine(ctx context.Context, line BillLine) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchase_bill_lines (bill_id, product_id, qty, unit_cost)
VALUES ($1,$2,$3,$4) RETURNING id`,
		line.BillID, line.ProductID, line.Qty, line.UnitCost).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateBillStatus(ctx context.Context, billID int64, status BillStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchase_bills SET status=$2 WHERE id=$1`, billID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepository) InsertInTransitLine(ctx context.Context, line ledger.Line) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO ledger_lines
(kind, product_id, warehouse_id, qty, unit_cost, currency, exchange_rate, amount, foreign_amount, total_amount,
 source_type, source_id, source_line_id, deleted, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,false,NOW()) RETURNING id`,
		string(line.Kind), line.ProductID, line.WarehouseID, line.Qty, line.UnitCost, line.Currency, line.ExchangeRate,
		line.Amount, line.ForeignAmount, line.TotalAmount, line.SourceType, line.SourceID, line.SourceLineID).Scan(&id)
	return id, err
}

func (r *txRepository) LinkLot(ctx context.Context, lotID, billID int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO lot_bills (lot_id, bill_id) VALUES ($1,$2) ON CONFLICT DO NOTHING`, lotID, billID)
	return err
}
