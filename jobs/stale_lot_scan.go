package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/freshgate-erp/freshgate-erp/internal/jobs"
)

// StaleLotScanJob reports intake lots that never progressed past DRAFT.
type StaleLotScanJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics

	// DefaultMaxAge applies when the payload carries no threshold.
	DefaultMaxAge time.Duration
	clock         func() time.Time
}

// NewStaleLotScanJob initialises the stale-lot scan handler.
func NewStaleLotScanJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics, maxAge time.Duration) *StaleLotScanJob {
	return &StaleLotScanJob{
		Pool:          pool,
		Logger:        logger,
		Metrics:       metrics,
		DefaultMaxAge: maxAge,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

type staleLot struct {
	ID          int64
	LotNumber   string
	WarehouseID int64
	ArrivedAt   time.Time
}

// Handle executes the scan. Stale lots are logged and counted, never mutated;
// an operator decides whether to push them through intake or void them.
func (j *StaleLotScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("stale lot scan: handler not configured")
	}
	var payload StaleLotScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	maxAge := j.DefaultMaxAge
	if payload.MaxAgeHours > 0 {
		maxAge = time.Duration(payload.MaxAgeHours) * time.Hour
	}
	if maxAge <= 0 {
		maxAge = 72 * time.Hour
	}
	cutoff := j.now().Add(-maxAge)

	tracker := j.Metrics.Track(TaskStaleLotScan)
	lots, err := j.scan(ctx, cutoff)
	if err != nil {
		j.logger().Error("stale lot scan failed", slog.Any("error", err))
		return tracker.End(err)
	}

	perWarehouse := map[int64]int{}
	for _, lot := range lots {
		perWarehouse[lot.WarehouseID]++
		j.logger().Warn("lot stuck in DRAFT",
			slog.Int64("lot_id", lot.ID),
			slog.String("lot_number", lot.LotNumber),
			slog.Int64("warehouse_id", lot.WarehouseID),
			slog.Time("arrived_at", lot.ArrivedAt),
		)
	}
	for warehouseID, count := range perWarehouse {
		j.Metrics.AddStaleLots(warehouseID, count)
	}
	j.logger().Info("stale lot scan done",
		slog.Int("stale", len(lots)),
		slog.Time("cutoff", cutoff),
	)
	return tracker.End(nil)
}

func (j *StaleLotScanJob) scan(ctx context.Context, cutoff time.Time) ([]staleLot, error) {
	rows, err := j.Pool.Query(ctx, `SELECT id, lot_number, warehouse_id, arrived_at
		FROM lots
		WHERE status = 'DRAFT' AND arrived_at < $1
		ORDER BY arrived_at`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lots []staleLot
	for rows.Next() {
		var lot staleLot
		if err := rows.Scan(&lot.ID, &lot.LotNumber, &lot.WarehouseID, &lot.ArrivedAt); err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

func (j *StaleLotScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

func (j *StaleLotScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
