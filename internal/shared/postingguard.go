package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostingGuard persists settlement scopes that have already been posted.
// A scope is one (lot, job) pair; jobID zero means the lot-level scope.
type PostingGuard struct {
	pool *pgxpool.Pool
}

// NewPostingGuard constructs the guard.
func NewPostingGuard(pool *pgxpool.Pool) *PostingGuard {
	return &PostingGuard{pool: pool}
}

// PostingScopeKey builds the guard key for a settlement scope.
func PostingScopeKey(lotID, jobID int64) string {
	if jobID != 0 {
		return fmt.Sprintf("lot:%d:job:%d", lotID, jobID)
	}
	return fmt.Sprintf("lot:%d", lotID)
}

// Acquire records the scope, failing with ErrDuplicatePosting when a prior
// settlement already claimed it.
func (g *PostingGuard) Acquire(ctx context.Context, scope, module string) error {
	if g == nil {
		return errors.New("posting guard not initialised")
	}
	if scope == "" {
		return errors.New("posting scope required")
	}
	if module == "" {
		return errors.New("posting module required")
	}
	_, err := g.pool.Exec(ctx, `INSERT INTO posting_guards (scope, module, created_at) VALUES ($1, $2, $3)`, scope, module, time.Now())
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
			return ErrDuplicatePosting
		}
		return err
	}
	return nil
}

// Release removes a scope, used to roll back a failed settlement.
func (g *PostingGuard) Release(ctx context.Context, scope string) error {
	if g == nil {
		return nil
	}
	if scope == "" {
		return errors.New("posting scope required")
	}
	_, err := g.pool.Exec(ctx, `DELETE FROM posting_guards WHERE scope=$1`, scope)
	return err
}

// Cleanup removes guard rows for the given modules older than the retention
// window. Scopes for modules not listed never expire: a module whose guard is
// its only double-posting defense must not appear here.
func (g *PostingGuard) Cleanup(ctx context.Context, olderThan time.Duration, modules ...string) error {
	if g == nil || len(modules) == 0 {
		return nil
	}
	cutoff := time.Now().Add(-olderThan)
	_, err := g.pool.Exec(ctx, `DELETE FROM posting_guards WHERE module = ANY($2) AND created_at < $1`, cutoff, modules)
	return err
}
