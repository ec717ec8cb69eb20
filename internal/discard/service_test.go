package discard

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/freshgate-erp/freshgate-erp/internal/ledger"
	"github.com/freshgate-erp/freshgate-erp/internal/qc"
	"github.com/freshgate-erp/freshgate-erp/internal/settlement"
	"github.com/freshgate-erp/freshgate-erp/internal/shared"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type memoryRepo struct {
	requests map[int64]*Request
	nextID   int64
	ledger   *memoryLedger

	// failDecides makes the next n DecideRequest calls error.
	failDecides int
}

func newMemoryRepo(ledger *memoryLedger) *memoryRepo {
	return &memoryRepo{requests: map[int64]*Request{}, ledger: ledger}
}

// WithTx mimics transaction semantics: a failing callback restores both the
// request rows and the ledger state.
func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	requests := make(map[int64]*Request, len(m.requests))
	for id, req := range m.requests {
		copied := *req
		requests[id] = &copied
	}
	lines, balances, nextID := m.ledger.snapshot()
	if err := fn(ctx, &memoryTx{repo: m}); err != nil {
		m.requests = requests
		m.ledger.restore(lines, balances, nextID)
		return err
	}
	return nil
}

func (m *memoryRepo) InsertRequest(ctx context.Context, req Request) (int64, error) {
	m.nextID++
	req.ID = m.nextID
	m.requests[req.ID] = &req
	return req.ID, nil
}

func (m *memoryRepo) GetRequest(ctx context.Context, id int64) (Request, error) {
	req, ok := m.requests[id]
	if !ok {
		return Request{}, shared.ErrNotFound
	}
	return *req, nil
}

func (m *memoryRepo) ListRequests(ctx context.Context, status RequestStatus) ([]Request, error) {
	var out []Request
	for id := int64(1); id <= m.nextID; id++ {
		req, ok := m.requests[id]
		if ok && req.Status == status {
			out = append(out, *req)
		}
	}
	return out, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) Ledger() ledger.TxRepository {
	return t.repo.ledger
}

func (t *memoryTx) DecideRequest(ctx context.Context, id int64, status RequestStatus, sourceClass SourceClass, decidedBy int64) error {
	if t.repo.failDecides > 0 {
		t.repo.failDecides--
		return errors.New("decide request: connection reset")
	}
	req, ok := t.repo.requests[id]
	if !ok {
		return shared.ErrNotFound
	}
	if req.Status != RequestStatusPending {
		return ErrAlreadyDecided
	}
	req.Status = status
	req.SourceClass = sourceClass
	req.DecidedBy = decidedBy
	return nil
}

type memoryEntries map[int64]settlement.SellRecheckEntry

func (m memoryEntries) GetSellRecheckEntry(ctx context.Context, id int64) (settlement.SellRecheckEntry, error) {
	entry, ok := m[id]
	if !ok {
		return settlement.SellRecheckEntry{}, shared.ErrNotFound
	}
	return entry, nil
}

type memoryQC struct {
	lots        map[int64]qc.Lot
	items       map[int64]qc.LotItem
	inspections map[int64]*qc.Inspection
}

func (m *memoryQC) GetLot(ctx context.Context, id int64) (qc.Lot, error) {
	lot, ok := m.lots[id]
	if !ok {
		return qc.Lot{}, shared.ErrNotFound
	}
	return lot, nil
}

func (m *memoryQC) GetLotItem(ctx context.Context, id int64) (qc.LotItem, error) {
	item, ok := m.items[id]
	if !ok {
		return qc.LotItem{}, shared.ErrNotFound
	}
	return item, nil
}

func (m *memoryQC) GetInspection(ctx context.Context, id int64) (qc.Inspection, error) {
	insp, ok := m.inspections[id]
	if !ok {
		return qc.Inspection{}, shared.ErrNotFound
	}
	return *insp, nil
}

func (m *memoryQC) MarkSubmittedForApproval(ctx context.Context, inspectionID int64, submitted bool, actorID int64) error {
	insp, ok := m.inspections[inspectionID]
	if !ok {
		return shared.ErrNotFound
	}
	insp.SubmittedForApproval = submitted
	return nil
}

type memoryLedger struct {
	lines    map[int64]*ledger.Line
	nextID   int64
	balances map[[2]int64]decimal.Decimal
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{lines: map[int64]*ledger.Line{}, balances: map[[2]int64]decimal.Decimal{}}
}

func (m *memoryLedger) snapshot() (map[int64]*ledger.Line, map[[2]int64]decimal.Decimal, int64) {
	lines := make(map[int64]*ledger.Line, len(m.lines))
	for id, line := range m.lines {
		copied := *line
		lines[id] = &copied
	}
	balances := make(map[[2]int64]decimal.Decimal, len(m.balances))
	for key, qty := range m.balances {
		balances[key] = qty
	}
	return lines, balances, m.nextID
}

func (m *memoryLedger) restore(lines map[int64]*ledger.Line, balances map[[2]int64]decimal.Decimal, nextID int64) {
	m.lines = lines
	m.balances = balances
	m.nextID = nextID
}

func (m *memoryLedger) seed(line ledger.Line) ledger.Line {
	m.nextID++
	line.ID = m.nextID
	copied := line
	m.lines[line.ID] = &copied
	if line.Kind == ledger.KindRegularIn && !line.Deleted {
		key := [2]int64{line.WarehouseID, line.ProductID}
		m.balances[key] = m.balances[key].Add(line.Qty)
	}
	return line
}

func (m *memoryLedger) ListOpenInTransitForUpdate(ctx context.Context, productID int64, billIDs []int64) ([]ledger.Line, error) {
	return nil, nil
}

func (m *memoryLedger) ListRegularInForUpdate(ctx context.Context, productID, lotID int64, postingType string) ([]ledger.Line, error) {
	var out []ledger.Line
	for id := int64(1); id <= m.nextID; id++ {
		line, ok := m.lines[id]
		if !ok || line.Deleted || line.Kind != ledger.KindRegularIn || line.ProductID != productID {
			continue
		}
		if lotID != 0 && line.QC.LotID != lotID {
			continue
		}
		if postingType != "" && line.PostingType != postingType {
			continue
		}
		out = append(out, *line)
	}
	return out, nil
}

func (m *memoryLedger) InsertLine(ctx context.Context, line ledger.Line) (int64, error) {
	m.nextID++
	line.ID = m.nextID
	m.lines[line.ID] = &line
	return line.ID, nil
}

func (m *memoryLedger) ShrinkLine(ctx context.Context, line ledger.Line) error {
	existing, ok := m.lines[line.ID]
	if !ok {
		return shared.ErrNotFound
	}
	existing.Qty = line.Qty
	existing.Amount = line.Amount
	existing.ForeignAmount = line.ForeignAmount
	existing.TotalAmount = line.TotalAmount
	return nil
}

func (m *memoryLedger) SoftDeleteLine(ctx context.Context, id int64) error {
	existing, ok := m.lines[id]
	if !ok {
		return shared.ErrNotFound
	}
	existing.Qty = decimal.Zero
	existing.Deleted = true
	return nil
}

func (m *memoryLedger) AdjustBalance(ctx context.Context, warehouseID, productID int64, delta decimal.Decimal) error {
	key := [2]int64{warehouseID, productID}
	m.balances[key] = m.balances[key].Add(delta)
	return nil
}

func (m *memoryLedger) GetBalance(ctx context.Context, warehouseID, productID int64) (ledger.Balance, error) {
	key := [2]int64{warehouseID, productID}
	qty, ok := m.balances[key]
	if !ok {
		return ledger.Balance{WarehouseID: warehouseID, ProductID: productID, Qty: decimal.Zero}, ledger.ErrBalanceNotFound
	}
	return ledger.Balance{WarehouseID: warehouseID, ProductID: productID, Qty: qty}, nil
}

func (m *memoryLedger) InspectionTotals(ctx context.Context, inspectionID int64) (ledger.KindTotals, error) {
	return ledger.KindTotals{}, nil
}

type approvalRecorder struct {
	logs []shared.ApprovalLog
}

func (r *approvalRecorder) Record(ctx context.Context, log shared.ApprovalLog) error {
	r.logs = append(r.logs, log)
	return nil
}

func (r *approvalRecorder) EnsureSubmit(ctx context.Context, module string, ref uuid.UUID, actorID int64, note string) error {
	for _, log := range r.logs {
		if log.Module == module && log.RefID == ref && log.Action == shared.ApprovalSubmit {
			return nil
		}
	}
	r.logs = append(r.logs, shared.ApprovalLog{Module: module, RefID: ref, ActorID: actorID, Action: shared.ApprovalSubmit, Note: note})
	return nil
}

func (r *approvalRecorder) List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error) {
	var out []shared.ApprovalLog
	for _, log := range r.logs {
		if log.Module == module && log.RefID == ref {
			out = append(out, log)
		}
	}
	return out, nil
}

type fixture struct {
	repo      *memoryRepo
	qc        *memoryQC
	ledger    *memoryLedger
	approvals *approvalRecorder
	svc       *Service
}

func newFixture(flags shared.MovementFlagSource) *fixture {
	f := &fixture{
		qc: &memoryQC{
			lots:        map[int64]qc.Lot{1: {ID: 1, WarehouseID: 1, Status: qc.LotStatusQCCompleted}},
			items:       map[int64]qc.LotItem{10: {ID: 10, LotID: 1, ProductID: 100, DeclaredQty: dec("200")}},
			inspections: map[int64]*qc.Inspection{50: {ID: 50, LotID: 1, LotItemID: 10, Decision: qc.DecisionSellRecheck}},
		},
		ledger:    newMemoryLedger(),
		approvals: &approvalRecorder{},
	}
	f.repo = newMemoryRepo(f.ledger)
	entries := memoryEntries{5: {ID: 5, InspectionID: 50, CheckNo: 1, Qty: dec("50")}}
	f.svc = NewService(f.repo, entries, f.qc, nil, flags, f.approvals, nil, nil)
	return f
}

func (f *fixture) seedSellRecheck(qty string) ledger.Line {
	q := dec(qty)
	return f.ledger.seed(ledger.Line{
		Kind: ledger.KindRegularIn, ProductID: 100, WarehouseID: 1, Qty: q,
		UnitCost: dec("2"), Currency: "USD", ExchangeRate: dec("1"),
		Amount: q.Mul(dec("2")), TotalAmount: q.Mul(dec("2")),
		SourceType: ledger.SourceBill, SourceID: 7,
		QC:          ledger.QCRef{LotID: 1, InspectionID: 50},
		PostingType: ledger.PostingSellRecheck,
	})
}

func TestCreateFlagsInspection(t *testing.T) {
	f := newFixture(shared.StaticFlagSource(true))

	req, err := f.svc.Create(context.Background(), CreateInput{SellRecheckEntryID: 5, Qty: dec("20"), Reason: "mould", ActorID: 9})
	require.NoError(t, err)
	require.Equal(t, RequestStatusPending, req.Status)
	require.Equal(t, int64(100), req.ProductID)
	require.True(t, f.qc.inspections[50].SubmittedForApproval)
	// no ledger effect before approval
	require.Empty(t, f.ledger.lines)
}

func TestCreateValidatesQty(t *testing.T) {
	f := newFixture(shared.StaticFlagSource(true))
	ctx := context.Background()

	_, err := f.svc.Create(ctx, CreateInput{SellRecheckEntryID: 5, Qty: dec("0"), Reason: "x", ActorID: 9})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Create(ctx, CreateInput{SellRecheckEntryID: 5, Qty: dec("60"), Reason: "x", ActorID: 9})
	require.ErrorIs(t, err, ErrQtyExceedsEntry)
}

func TestApproveConsumesSellRecheckLines(t *testing.T) {
	f := newFixture(shared.StaticFlagSource(true))
	f.seedSellRecheck("50")
	ctx := context.Background()

	req, err := f.svc.Create(ctx, CreateInput{SellRecheckEntryID: 5, Qty: dec("20"), Reason: "mould", ActorID: 9})
	require.NoError(t, err)

	approved, err := f.svc.Approve(ctx, req.ID, 11, "confirmed")
	require.NoError(t, err)
	require.Equal(t, RequestStatusApproved, approved.Status)
	require.Equal(t, RealSourceLine, approved.SourceClass)

	// on-hand drops by the discarded qty
	require.True(t, f.ledger.balances[[2]int64{1, 100}].Equal(dec("30")))
	require.False(t, f.qc.inspections[50].SubmittedForApproval)

	discarded := decimal.Zero
	for _, line := range f.ledger.lines {
		if line.Kind == ledger.KindDiscard && !line.Deleted {
			discarded = discarded.Add(line.Qty)
		}
	}
	require.True(t, discarded.Equal(dec("20")))
}

func TestApprovePartialCoverageConsumesLinesFirst(t *testing.T) {
	f := newFixture(shared.StaticFlagSource(true))
	// one real line of 5 plus 5 units of stock that predate the ledger
	f.seedSellRecheck("5")
	key := [2]int64{1, 100}
	f.ledger.balances[key] = f.ledger.balances[key].Add(dec("5"))
	ctx := context.Background()

	req, err := f.svc.Create(ctx, CreateInput{SellRecheckEntryID: 5, Qty: dec("8"), Reason: "mould", ActorID: 9})
	require.NoError(t, err)

	approved, err := f.svc.Approve(ctx, req.ID, 11, "")
	require.NoError(t, err)
	require.Equal(t, SyntheticSourceLine, approved.SourceClass)

	// the real line is fully consumed before the balance is touched
	open := decimal.Zero
	for _, line := range f.ledger.lines {
		if line.Kind == ledger.KindRegularIn && !line.Deleted {
			open = open.Add(line.Qty)
		}
	}
	require.True(t, open.IsZero())
	require.True(t, f.ledger.balances[key].Equal(dec("2")))

	discarded := decimal.Zero
	synthetic := decimal.Zero
	for _, line := range f.ledger.lines {
		if line.Kind != ledger.KindDiscard || line.Deleted {
			continue
		}
		discarded = discarded.Add(line.Qty)
		if line.SourceType == ledger.SourceSynthetic {
			synthetic = synthetic.Add(line.Qty)
		}
	}
	require.True(t, discarded.Equal(dec("8")))
	require.True(t, synthetic.Equal(dec("3")))
}

func TestApproveRollsBackStockWhenDecideFails(t *testing.T) {
	f := newFixture(shared.StaticFlagSource(true))
	f.seedSellRecheck("50")
	ctx := context.Background()

	req, err := f.svc.Create(ctx, CreateInput{SellRecheckEntryID: 5, Qty: dec("20"), Reason: "mould", ActorID: 9})
	require.NoError(t, err)

	f.repo.failDecides = 1
	_, err = f.svc.Approve(ctx, req.ID, 11, "")
	require.Error(t, err)

	// no stock moved and the request is still decidable
	require.True(t, f.ledger.balances[[2]int64{1, 100}].Equal(dec("50")))
	for _, line := range f.ledger.lines {
		require.NotEqual(t, ledger.KindDiscard, line.Kind)
	}
	got, err := f.svc.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, RequestStatusPending, got.Status)

	approved, err := f.svc.Approve(ctx, req.ID, 11, "")
	require.NoError(t, err)
	require.Equal(t, RequestStatusApproved, approved.Status)
	require.True(t, f.ledger.balances[[2]int64{1, 100}].Equal(dec("30")))
}

func TestApproveFallsBackToSyntheticSource(t *testing.T) {
	f := newFixture(shared.StaticFlagSource(true))
	// no ledger lines at all, only a raw balance
	f.ledger.balances[[2]int64{1, 100}] = dec("40")
	ctx := context.Background()

	req, err := f.svc.Create(ctx, CreateInput{SellRecheckEntryID: 5, Qty: dec("20"), Reason: "mould", ActorID: 9})
	require.NoError(t, err)

	approved, err := f.svc.Approve(ctx, req.ID, 11, "")
	require.NoError(t, err)
	require.Equal(t, SyntheticSourceLine, approved.SourceClass)
	require.True(t, f.ledger.balances[[2]int64{1, 100}].Equal(dec("20")))

	var synthetic *ledger.Line
	for _, line := range f.ledger.lines {
		if line.SourceType == ledger.SourceSynthetic {
			synthetic = line
		}
	}
	require.NotNil(t, synthetic)
	require.Equal(t, ledger.KindDiscard, synthetic.Kind)
	require.True(t, synthetic.Qty.Equal(dec("20")))
}

func TestApproveInsufficientStock(t *testing.T) {
	f := newFixture(shared.StaticFlagSource(true))
	f.ledger.balances[[2]int64{1, 100}] = dec("10")
	ctx := context.Background()

	req, err := f.svc.Create(ctx, CreateInput{SellRecheckEntryID: 5, Qty: dec("20"), Reason: "mould", ActorID: 9})
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, req.ID, 11, "")
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	got, err := f.svc.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, RequestStatusPending, got.Status)
}

func TestApproveTwiceRejected(t *testing.T) {
	f := newFixture(shared.StaticFlagSource(true))
	f.seedSellRecheck("50")
	ctx := context.Background()

	req, err := f.svc.Create(ctx, CreateInput{SellRecheckEntryID: 5, Qty: dec("20"), Reason: "mould", ActorID: 9})
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, req.ID, 11, "")
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, req.ID, 11, "")
	require.ErrorIs(t, err, ErrAlreadyDecided)

	// only one discard line exists
	discards := 0
	for _, line := range f.ledger.lines {
		if line.Kind == ledger.KindDiscard {
			discards++
		}
	}
	require.Equal(t, 1, discards)
}

func TestRejectClearsFlagWithoutLedgerEffect(t *testing.T) {
	f := newFixture(shared.StaticFlagSource(true))
	f.seedSellRecheck("50")
	ctx := context.Background()

	req, err := f.svc.Create(ctx, CreateInput{SellRecheckEntryID: 5, Qty: dec("20"), Reason: "mould", ActorID: 9})
	require.NoError(t, err)

	rejected, err := f.svc.Reject(ctx, req.ID, 11, "not warranted")
	require.NoError(t, err)
	require.Equal(t, RequestStatusRejected, rejected.Status)
	require.False(t, f.qc.inspections[50].SubmittedForApproval)
	require.True(t, f.ledger.balances[[2]int64{1, 100}].Equal(dec("50")))

	_, err = f.svc.Reject(ctx, req.ID, 11, "")
	require.ErrorIs(t, err, ErrAlreadyDecided)
}

func TestListRequestsAndApprovalTrail(t *testing.T) {
	f := newFixture(shared.StaticFlagSource(true))
	f.seedSellRecheck("50")
	ctx := context.Background()

	first, err := f.svc.Create(ctx, CreateInput{SellRecheckEntryID: 5, Qty: dec("20"), Reason: "mould", ActorID: 9})
	require.NoError(t, err)
	second, err := f.svc.Create(ctx, CreateInput{SellRecheckEntryID: 5, Qty: dec("10"), Reason: "bruising", ActorID: 9})
	require.NoError(t, err)

	pending, err := f.svc.ListRequests(ctx, RequestStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	_, err = f.svc.Approve(ctx, first.ID, 11, "confirmed")
	require.NoError(t, err)

	pending, err = f.svc.ListRequests(ctx, RequestStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, second.ID, pending[0].ID)

	trail, err := f.svc.ApprovalTrail(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	require.Equal(t, shared.ApprovalSubmit, trail[0].Action)
	require.Equal(t, shared.ApprovalApprove, trail[1].Action)
}

func TestApproveHonoursMovementFlag(t *testing.T) {
	f := newFixture(shared.StaticFlagSource(false))
	f.seedSellRecheck("50")
	ctx := context.Background()

	req, err := f.svc.Create(ctx, CreateInput{SellRecheckEntryID: 5, Qty: dec("20"), Reason: "mould", ActorID: 9})
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, req.ID, 11, "")
	require.ErrorIs(t, err, shared.ErrMovementsDisabled)
}
