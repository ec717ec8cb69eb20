package regrading

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/freshgate-erp/freshgate-erp/internal/ledger"
	"github.com/freshgate-erp/freshgate-erp/internal/qc"
	"github.com/freshgate-erp/freshgate-erp/internal/shared"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

type memoryRepo struct {
	jobs   map[int64]*Job
	logs   map[int64][]DailyLog
	nextID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{jobs: map[int64]*Job{}, logs: map[int64][]DailyLog{}}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: m})
}

func (m *memoryRepo) EnsureJob(ctx context.Context, job Job) (int64, error) {
	for _, existing := range m.jobs {
		if existing.LotID == job.LotID && existing.LotItemID == job.LotItemID {
			return existing.ID, nil
		}
	}
	m.nextID++
	job.ID = m.nextID
	job.Status = JobStatusPlanned
	m.jobs[job.ID] = &job
	return job.ID, nil
}

func (m *memoryRepo) GetJob(ctx context.Context, id int64) (Job, error) {
	job, ok := m.jobs[id]
	if !ok {
		return Job{}, shared.ErrNotFound
	}
	return *job, nil
}

func (m *memoryRepo) ListLogs(ctx context.Context, jobID int64) ([]DailyLog, error) {
	return m.logs[jobID], nil
}

func (m *memoryRepo) ListJobsByStatus(ctx context.Context, status JobStatus) ([]Job, error) {
	var jobs []Job
	for _, job := range m.jobs {
		if job.Status == status {
			jobs = append(jobs, *job)
		}
	}
	return jobs, nil
}

func (m *memoryRepo) UpdateJobStatus(ctx context.Context, jobID int64, status JobStatus) error {
	job, ok := m.jobs[jobID]
	if !ok {
		return shared.ErrNotFound
	}
	job.Status = status
	return nil
}

type memoryTx struct{ repo *memoryRepo }

func (t *memoryTx) InsertLog(ctx context.Context, log DailyLog) (int64, error) {
	t.repo.nextID++
	log.ID = t.repo.nextID
	t.repo.logs[log.JobID] = append(t.repo.logs[log.JobID], log)
	return log.ID, nil
}

func (t *memoryTx) UpdateJobStatus(ctx context.Context, jobID int64, status JobStatus, startedAt *time.Time) error {
	job, ok := t.repo.jobs[jobID]
	if !ok {
		return shared.ErrNotFound
	}
	job.Status = status
	if job.StartedAt == nil {
		job.StartedAt = startedAt
	}
	return nil
}

type memoryMedia struct {
	attached map[string][]string
}

func (m *memoryMedia) HasAtLeastOne(ctx context.Context, scope string, scopeID int64) (bool, error) {
	return len(m.attached) > 0, nil
}

func (m *memoryMedia) Attach(ctx context.Context, scope string, scopeID int64, paths []string) error {
	if m.attached == nil {
		m.attached = map[string][]string{}
	}
	m.attached[scope] = append(m.attached[scope], paths...)
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

func (m *memoryLedger) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memoryLedger) seed(line ledger.Line) ledger.Line {
	m.nextID++
	line.ID = m.nextID
	copied := line
	m.lines[line.ID] = &copied
	return line
}

func (m *memoryLedger) ListOpenInTransitForUpdate(ctx context.Context, productID int64, billIDs []int64) ([]ledger.Line, error) {
	var out []ledger.Line
	for id := int64(1); id <= m.nextID; id++ {
		line, ok := m.lines[id]
		if !ok || line.Deleted || line.Kind != ledger.KindInTransit || line.ProductID != productID {
			continue
		}
		out = append(out, *line)
	}
	return out, nil
}

func (m *memoryLedger) ListRegularInForUpdate(ctx context.Context, productID, lotID int64, postingType string) ([]ledger.Line, error) {
	return nil, nil
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
	return ledger.Balance{WarehouseID: warehouseID, ProductID: productID, Qty: m.balances[key]}, nil
}

func (m *memoryLedger) InspectionTotals(ctx context.Context, inspectionID int64) (ledger.KindTotals, error) {
	return ledger.KindTotals{}, nil
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

type lotStatusRecorder struct {
	changes []qc.LotStatus
}

func (r *lotStatusRecorder) ChangeStatus(ctx context.Context, lotID int64, to qc.LotStatus, reason string, actorID int64) error {
	r.changes = append(r.changes, to)
	return nil
}

type billResolver []int64

func (r billResolver) BillIDs(ctx context.Context, lotID int64) ([]int64, error) {
	return r, nil
}

type fixture struct {
	repo   *memoryRepo
	ledger *memoryLedger
	guard  *memoryGuard
	lots   *lotStatusRecorder
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		repo:   newMemoryRepo(),
		ledger: newMemoryLedger(),
		guard:  &memoryGuard{},
		lots:   &lotStatusRecorder{},
	}
	f.svc = NewService(f.repo, f.lots, billResolver{7}, f.ledger, nil, f.guard,
		shared.StaticFlagSource(true), &memoryMedia{}, nil, decimal.Zero, nil)
	return f
}

func (f *fixture) newJob(t *testing.T, total string) int64 {
	jobID, err := f.svc.EnsureJob(context.Background(), 1, 10, 100, 1, dec(total))
	require.NoError(t, err)
	return jobID
}

func logInput(jobID int64, date, taken, sellable, discarded string) AppendLogInput {
	return AppendLogInput{
		JobID:         jobID,
		Date:          day(date),
		TakenQty:      dec(taken),
		SellableQty:   dec(sellable),
		DiscardedQty:  dec(discarded),
		Notes:         "sorted",
		EvidencePaths: []string{"photos/day.jpg"},
		ActorID:       9,
	}
}

func TestEnsureJobIdempotent(t *testing.T) {
	f := newFixture(t)
	first := f.newJob(t, "100")
	second := f.newJob(t, "100")
	require.Equal(t, first, second)
}

func TestAppendDailyLogActivatesJob(t *testing.T) {
	f := newFixture(t)
	jobID := f.newJob(t, "100")

	_, err := f.svc.AppendDailyLog(context.Background(), logInput(jobID, "2026-03-01", "40", "35", "0"))
	require.NoError(t, err)

	job, err := f.repo.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, JobStatusActive, job.Status)
}

func TestAppendDailyLogRejectsDuplicateDate(t *testing.T) {
	f := newFixture(t)
	jobID := f.newJob(t, "100")
	ctx := context.Background()

	_, err := f.svc.AppendDailyLog(ctx, logInput(jobID, "2026-03-01", "40", "35", "0"))
	require.NoError(t, err)
	_, err = f.svc.AppendDailyLog(ctx, logInput(jobID, "2026-03-01", "10", "10", "0"))
	require.ErrorIs(t, err, ErrDuplicateDate)
}

func TestAppendDailyLogRejectsOverBalance(t *testing.T) {
	f := newFixture(t)
	jobID := f.newJob(t, "100")
	ctx := context.Background()

	_, err := f.svc.AppendDailyLog(ctx, logInput(jobID, "2026-03-01", "70", "60", "0"))
	require.NoError(t, err)
	// 30 remains; taking 40 must fail
	_, err = f.svc.AppendDailyLog(ctx, logInput(jobID, "2026-03-02", "40", "40", "0"))
	require.ErrorIs(t, err, ErrExceedsBalance)
}

func TestAppendDailyLogValidations(t *testing.T) {
	f := newFixture(t)
	jobID := f.newJob(t, "100")
	ctx := context.Background()

	input := logInput(jobID, "2026-03-01", "40", "30", "20")
	_, err := f.svc.AppendDailyLog(ctx, input)
	require.ErrorIs(t, err, ErrOutputExceedsInput)

	input = logInput(jobID, "2026-03-01", "40", "30", "5")
	input.Notes = ""
	_, err = f.svc.AppendDailyLog(ctx, input)
	require.ErrorIs(t, err, ErrNotesRequired)

	input = logInput(jobID, "2026-03-01", "40", "35", "0")
	input.EvidencePaths = nil
	_, err = f.svc.AppendDailyLog(ctx, input)
	require.ErrorIs(t, err, ErrEvidenceRequired)
}

func TestCompleteWithinTolerance(t *testing.T) {
	f := newFixture(t)
	jobID := f.newJob(t, "100")
	ctx := context.Background()

	_, err := f.svc.AppendDailyLog(ctx, logInput(jobID, "2026-03-01", "60", "55", "0"))
	require.NoError(t, err)
	_, err = f.svc.AppendDailyLog(ctx, logInput(jobID, "2026-03-02", "39.99", "39", "0"))
	require.NoError(t, err)

	require.NoError(t, f.svc.Complete(ctx, jobID, 9))

	job, err := f.repo.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, JobStatusCompleted, job.Status)
	require.Equal(t, []qc.LotStatus{qc.LotStatusRegradedCompleted}, f.lots.changes)
}

func TestCompleteRejectsShortCoverage(t *testing.T) {
	f := newFixture(t)
	jobID := f.newJob(t, "100")
	ctx := context.Background()

	_, err := f.svc.AppendDailyLog(ctx, logInput(jobID, "2026-03-01", "95", "90", "0"))
	require.NoError(t, err)

	err = f.svc.Complete(ctx, jobID, 9)
	require.ErrorIs(t, err, ErrIncomplete)
}

func TestPostMovesLedgerOnce(t *testing.T) {
	f := newFixture(t)
	jobID := f.newJob(t, "100")
	ctx := context.Background()

	q := dec("100")
	f.ledger.seed(ledger.Line{
		Kind: ledger.KindInTransit, ProductID: 100, WarehouseID: 1, Qty: q,
		UnitCost: dec("2"), Currency: "USD", ExchangeRate: dec("1"),
		Amount: q.Mul(dec("2")), TotalAmount: q.Mul(dec("2")),
		SourceType: ledger.SourceBill, SourceID: 7,
	})

	_, err := f.svc.AppendDailyLog(ctx, logInput(jobID, "2026-03-01", "100", "80", "20"))
	require.NoError(t, err)
	require.NoError(t, f.svc.Complete(ctx, jobID, 9))

	post := PostInput{JobID: jobID, SellableQty: dec("80"), DiscardedQty: dec("20"), ActorID: 9}
	require.NoError(t, f.svc.Post(ctx, post))

	job, err := f.repo.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, JobStatusClosed, job.Status)
	require.True(t, f.ledger.balances[[2]int64{1, 100}].Equal(dec("80")))

	err = f.svc.Post(ctx, post)
	require.ErrorIs(t, err, ErrNotCompleted)
}

func TestPostRequiresCompletion(t *testing.T) {
	f := newFixture(t)
	jobID := f.newJob(t, "100")

	err := f.svc.Post(context.Background(), PostInput{JobID: jobID, SellableQty: dec("80"), DiscardedQty: dec("20")})
	require.ErrorIs(t, err, ErrNotCompleted)
}

func TestPostHonoursMovementFlag(t *testing.T) {
	f := newFixture(t)
	f.svc = NewService(f.repo, f.lots, billResolver{7}, f.ledger, nil, f.guard,
		shared.StaticFlagSource(false), &memoryMedia{}, nil, decimal.Zero, nil)
	jobID := f.newJob(t, "100")
	ctx := context.Background()

	_, err := f.svc.AppendDailyLog(ctx, logInput(jobID, "2026-03-01", "100", "80", "20"))
	require.NoError(t, err)
	require.NoError(t, f.svc.Complete(ctx, jobID, 9))

	err = f.svc.Post(ctx, PostInput{JobID: jobID, SellableQty: dec("80"), DiscardedQty: dec("20")})
	require.ErrorIs(t, err, shared.ErrMovementsDisabled)
}

func TestViewFoldsRunningBalances(t *testing.T) {
	f := newFixture(t)
	jobID := f.newJob(t, "100")
	ctx := context.Background()

	_, err := f.svc.AppendDailyLog(ctx, logInput(jobID, "2026-03-01", "60", "55", "0"))
	require.NoError(t, err)
	_, err = f.svc.AppendDailyLog(ctx, logInput(jobID, "2026-03-02", "30", "25", "0"))
	require.NoError(t, err)

	view, err := f.svc.View(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, view.Days, 2)
	require.True(t, view.Days[0].Opening.Equal(dec("100")))
	require.True(t, view.Days[0].Closing.Equal(dec("40")))
	require.True(t, view.Days[1].Opening.Equal(dec("40")))
	require.True(t, view.Days[1].Closing.Equal(dec("10")))
	require.True(t, view.TakenSum.Equal(dec("90")))
	require.True(t, view.Remaining.Equal(dec("10")))
}
