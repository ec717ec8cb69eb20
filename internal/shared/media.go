package shared

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// MediaStore is the evidence-file collaborator. The core only checks counts
// and records paths; it never interprets file bytes.
type MediaStore interface {
	HasAtLeastOne(ctx context.Context, scope string, scopeID int64) (bool, error)
	Attach(ctx context.Context, scope string, scopeID int64, paths []string) error
}

// MediaIndex is the PostgreSQL-backed MediaStore over media_files.
type MediaIndex struct {
	pool *pgxpool.Pool
}

// NewMediaIndex constructs MediaIndex.
func NewMediaIndex(pool *pgxpool.Pool) *MediaIndex {
	return &MediaIndex{pool: pool}
}

// HasAtLeastOne reports whether any evidence file is attached to the scope.
func (m *MediaIndex) HasAtLeastOne(ctx context.Context, scope string, scopeID int64) (bool, error) {
	if m == nil {
		return false, errors.New("media index not initialised")
	}
	var exists bool
	err := m.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM media_files WHERE scope=$1 AND scope_id=$2)`, scope, scopeID).Scan(&exists)
	return exists, err
}

// Attach records file paths against the scope.
func (m *MediaIndex) Attach(ctx context.Context, scope string, scopeID int64, paths []string) error {
	if m == nil {
		return errors.New("media index not initialised")
	}
	if scope == "" || scopeID == 0 {
		return errors.New("media scope required")
	}
	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := m.pool.Exec(ctx, `INSERT INTO media_files (scope, scope_id, path, created_at) VALUES ($1, $2, $3, NOW())`, scope, scopeID, path); err != nil {
			return err
		}
	}
	return nil
}
