package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HistoryEntry represents one append-only record in qc_history.
type HistoryEntry struct {
	Module    string
	SubjectID int64
	ActorID   int64
	Action    string
	Detail    map[string]any
	At        time.Time
}

// HistoryLogger writes QC workflow history. Failures are reported to the
// caller but must never roll back the surrounding settlement.
type HistoryLogger struct {
	pool *pgxpool.Pool
}

// NewHistoryLogger returns a new HistoryLogger.
func NewHistoryLogger(pool *pgxpool.Pool) *HistoryLogger {
	return &HistoryLogger{pool: pool}
}

// Append persists the history entry.
func (l *HistoryLogger) Append(ctx context.Context, entry HistoryEntry) error {
	if l == nil {
		return errors.New("history logger not initialised")
	}
	if entry.Module == "" || entry.Action == "" || entry.SubjectID == 0 {
		return errors.New("history entry requires module/action/subject")
	}
	detailJSON, err := json.Marshal(entry.Detail)
	if err != nil {
		return err
	}
	var at any
	if !entry.At.IsZero() {
		at = entry.At
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO qc_history (module, subject_id, actor_id, action, detail, occurred_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, entry.Module, entry.SubjectID, entry.ActorID, entry.Action, detailJSON, at)
	return err
}
