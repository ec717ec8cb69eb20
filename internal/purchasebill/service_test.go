package purchasebill

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/freshgate-erp/freshgate-erp/internal/ledger"
	"github.com/freshgate-erp/freshgate-erp/internal/shared"
)

type memoryRepo struct {
	bills      map[int64]*PurchaseBill
	lines      map[int64][]BillLine
	lotBills   map[int64][]int64
	ledger     []ledger.Line
	nextBillID int64
	nextLineID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{bills: map[int64]*PurchaseBill{}, lines: map[int64][]BillLine{}, lotBills: map[int64][]int64{}}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memoryRepo) GetBill(ctx context.Context, id int64) (PurchaseBill, []BillLine, error) {
	bill, ok := m.bills[id]
	if !ok {
		return PurchaseBill{}, nil, shared.ErrNotFound
	}
	return *bill, m.lines[id], nil
}

func (m *memoryRepo) BillIDs(ctx context.Context, lotID int64) ([]int64, error) {
	return m.lotBills[lotID], nil
}

func (m *memoryRepo) InsertBill(ctx context.Context, bill PurchaseBill) (int64, error) {
	m.nextBillID++
	bill.ID = m.nextBillID
	m.bills[bill.ID] = &bill
	return bill.ID, nil
}

func (m *memoryRepo) InsertBillLine(ctx context.Context, line BillLine) (int64, error) {
	m.nextLineID++
	line.ID = m.nextLineID
	m.lines[line.BillID] = append(m.lines[line.BillID], line)
	return line.ID, nil
}

func (m *memoryRepo) UpdateBillStatus(ctx context.Context, billID int64, status BillStatus) error {
	bill, ok := m.bills[billID]
	if !ok {
		return shared.ErrNotFound
	}
	bill.Status = status
	return nil
}

func (m *memoryRepo) InsertInTransitLine(ctx context.Context, line ledger.Line) (int64, error) {
	line.ID = int64(len(m.ledger) + 1)
	m.ledger = append(m.ledger, line)
	return line.ID, nil
}

func (m *memoryRepo) LinkLot(ctx context.Context, lotID, billID int64) error {
	for _, existing := range m.lotBills[lotID] {
		if existing == billID {
			return nil
		}
	}
	m.lotBills[lotID] = append(m.lotBills[lotID], billID)
	return nil
}

type memoryGuard struct {
	held map[string]bool
}

func (g *memoryGuard) Acquire(ctx context.Context, scope, module string) error {
	if g.held == nil {
		g.held = map[string]bool{}
	}
	if g.held[scope] {
		return shared.ErrDuplicatePosting
	}
	g.held[scope] = true
	return nil
}

func (g *memoryGuard) Release(ctx context.Context, scope string) error {
	delete(g.held, scope)
	return nil
}

func billInput() CreateBillInput {
	return CreateBillInput{
		Number:       "BILL-001",
		SupplierID:   1,
		WarehouseID:  1,
		Currency:     "USD",
		ExchangeRate: decimal.NewFromInt(1),
		Lines: []BillLineInput{
			{ProductID: 10, Qty: decimal.NewFromInt(100), UnitCost: decimal.NewFromFloat(1.5)},
			{ProductID: 11, Qty: decimal.NewFromInt(40), UnitCost: decimal.NewFromInt(2)},
		},
	}
}

func TestCreateBillValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(), &memoryGuard{}, nil, nil)
	ctx := context.Background()

	input := billInput()
	input.Lines = nil
	_, err := svc.CreateBill(ctx, input)
	require.ErrorIs(t, err, shared.ErrValidation)

	input = billInput()
	input.Currency = "ZZZ"
	_, err = svc.CreateBill(ctx, input)
	require.ErrorIs(t, err, shared.ErrValidation)

	input = billInput()
	input.ExchangeRate = decimal.Zero
	_, err = svc.CreateBill(ctx, input)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestPostBillWritesInTransitLines(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, &memoryGuard{}, nil, nil)
	ctx := context.Background()

	bill, err := svc.CreateBill(ctx, billInput())
	require.NoError(t, err)
	require.Equal(t, BillStatusDraft, bill.Status)

	require.NoError(t, svc.PostBill(ctx, bill.ID, 99))

	posted, lines, err := repo.GetBill(ctx, bill.ID)
	require.NoError(t, err)
	require.Equal(t, BillStatusPosted, posted.Status)
	require.Len(t, lines, 2)

	require.Len(t, repo.ledger, 2)
	first := repo.ledger[0]
	require.Equal(t, ledger.KindInTransit, first.Kind)
	require.Equal(t, ledger.SourceBill, first.SourceType)
	require.Equal(t, bill.ID, first.SourceID)
	require.Equal(t, lines[0].ID, first.SourceLineID)
	require.True(t, first.Qty.Equal(decimal.NewFromInt(100)))
	require.True(t, first.Amount.Equal(decimal.NewFromInt(150)))
}

func TestPostBillTwiceIsDuplicate(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, &memoryGuard{}, nil, nil)
	ctx := context.Background()

	bill, err := svc.CreateBill(ctx, billInput())
	require.NoError(t, err)
	require.NoError(t, svc.PostBill(ctx, bill.ID, 99))

	err = svc.PostBill(ctx, bill.ID, 99)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Len(t, repo.ledger, 2)
}

func TestLinkLotIdempotent(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, &memoryGuard{}, nil, nil)
	ctx := context.Background()

	bill, err := svc.CreateBill(ctx, billInput())
	require.NoError(t, err)

	require.NoError(t, svc.LinkLot(ctx, 5, bill.ID, 99))
	require.NoError(t, svc.LinkLot(ctx, 5, bill.ID, 99))

	ids, err := svc.BillIDs(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, []int64{bill.ID}, ids)
}
