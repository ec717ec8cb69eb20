package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/freshgate-erp/freshgate-erp/internal/jobs"
)

// GuardCleaner prunes expired posting-guard scopes for selected modules.
type GuardCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration, modules ...string) error
}

// TransientGuardModules lists the guard modules whose scopes may expire.
// Settlement re-posting is held off by the inspection delta check and bill
// posting by the bill status, so their guards are advisory. Regrading posts
// have no other double-posting defense and keep their scopes forever.
var TransientGuardModules = []string{"settlement", "purchasebill"}

// GuardCleanupJob prunes posting-guard rows past their retention window.
type GuardCleanupJob struct {
	Guard   GuardCleaner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics

	// DefaultRetention applies when the payload carries no retention.
	DefaultRetention time.Duration
}

// NewGuardCleanupJob initialises the guard cleanup handler.
func NewGuardCleanupJob(guard GuardCleaner, logger *slog.Logger, metrics *jobmetrics.Metrics, retention time.Duration) *GuardCleanupJob {
	return &GuardCleanupJob{Guard: guard, Logger: logger, Metrics: metrics, DefaultRetention: retention}
}

// Handle executes the cleanup.
func (j *GuardCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Guard == nil {
		return errors.New("guard cleanup: handler not configured")
	}
	var payload GuardCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	retention := j.DefaultRetention
	if payload.RetentionHours > 0 {
		retention = time.Duration(payload.RetentionHours) * time.Hour
	}
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}

	tracker := j.Metrics.Track(TaskGuardCleanup)
	err := j.Guard.Cleanup(ctx, retention, TransientGuardModules...)
	if err != nil {
		j.logger().Error("guard cleanup failed", slog.Any("error", err))
	} else {
		j.logger().Info("guard cleanup done",
			slog.Duration("retention", retention),
			slog.Any("modules", TransientGuardModules))
	}
	return tracker.End(err)
}

func (j *GuardCleanupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
