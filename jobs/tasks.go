package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGuardCleanup prunes expired posting-guard rows.
	TaskGuardCleanup = "guard:cleanup"
	// TaskStaleLotScan flags intake lots stuck in DRAFT.
	TaskStaleLotScan = "qc:stale_lot_scan"
)

// GuardCleanupPayload bounds the retention window for guard rows.
type GuardCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewGuardCleanupTask constructs an Asynq task for guard cleanup.
func NewGuardCleanupTask(payload GuardCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGuardCleanup, data), nil
}

// StaleLotScanPayload configures the DRAFT-age threshold for the scan.
type StaleLotScanPayload struct {
	MaxAgeHours int `json:"max_age_hours"`
}

// NewStaleLotScanTask constructs an Asynq task for the stale-lot scan.
func NewStaleLotScanTask(payload StaleLotScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStaleLotScan, data), nil
}
