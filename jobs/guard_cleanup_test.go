package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/freshgate-erp/freshgate-erp/internal/jobs"
)

type recordingCleaner struct {
	calls     int
	retention time.Duration
	modules   []string
}

func (r *recordingCleaner) Cleanup(ctx context.Context, olderThan time.Duration, modules ...string) error {
	r.calls++
	r.retention = olderThan
	r.modules = modules
	return nil
}

func TestGuardCleanupPrunesOnlyTransientModules(t *testing.T) {
	cleaner := &recordingCleaner{}
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	job := NewGuardCleanupJob(cleaner, nil, metrics, 90*24*time.Hour)

	task, err := NewGuardCleanupTask(GuardCleanupPayload{RetentionHours: 48})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.Equal(t, 1, cleaner.calls)
	require.Equal(t, 48*time.Hour, cleaner.retention)
	require.Equal(t, []string{"settlement", "purchasebill"}, cleaner.modules)
}

func TestGuardCleanupFallsBackToDefaultRetention(t *testing.T) {
	cleaner := &recordingCleaner{}
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	job := NewGuardCleanupJob(cleaner, nil, metrics, 30*24*time.Hour)

	task, err := NewGuardCleanupTask(GuardCleanupPayload{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.Equal(t, 30*24*time.Hour, cleaner.retention)
}
