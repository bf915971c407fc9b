// Package store implements the persistence layer over PostgreSQL. The jobs
// table is the sole coordination point between API, workers, and
// coordinators; the skip-locked claim is the only locking primitive on the
// hot path.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Sentinel errors shared by all stores.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a uniqueness violation that the caller should
	// resolve by reading the existing row.
	ErrConflict = errors.New("conflict")

	// ErrInvalidState indicates a guarded status transition did not match
	// the row's current state.
	ErrInvalidState = errors.New("invalid state for operation")
)

// uniqueViolation is the PostgreSQL error code for unique_violation.
const uniqueViolation = "23505"

// isUniqueViolation reports whether err is a unique-index conflict.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Stores bundles every table-level store over one shared pool.
type Stores struct {
	Jobs         *JobStore
	ProviderRuns *ProviderRunStore
	Artifacts    *ArtifactStore
	Assets       *MediaAssetStore
	Longform     *LongformStore
	Support      *SupportStore
	Dashboard    *DashboardStore
	Users        *UserStore
	Commerce     *CommerceStore
	Music        *MusicStore
}

// New creates the store bundle.
func New(pool *pgxpool.Pool) *Stores {
	return &Stores{
		Jobs:         &JobStore{pool: pool},
		ProviderRuns: &ProviderRunStore{pool: pool},
		Artifacts:    &ArtifactStore{pool: pool},
		Assets:       &MediaAssetStore{pool: pool},
		Longform:     &LongformStore{pool: pool},
		Support:      &SupportStore{pool: pool},
		Dashboard:    &DashboardStore{pool: pool},
		Users:        &UserStore{pool: pool},
		Commerce:     &CommerceStore{pool: pool},
		Music:        &MusicStore{pool: pool},
	}
}

// qualify prefixes every column in a plain comma-separated column list with
// a table alias. Only valid for lists without expressions.
func qualify(columns, alias string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// inTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise.
func inTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
