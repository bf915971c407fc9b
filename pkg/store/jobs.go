package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skylark-media/atelier/pkg/models"
)

// JobStore owns the jobs table: idempotent submit, exclusive claim, requeue
// with backoff, and stale reclaim.
type JobStore struct {
	pool *pgxpool.Pool
}

const jobColumns = `id, studio_type, status, user_id, request_hash, payload, meta,
	COALESCE(error_code, ''), COALESCE(error_message, ''), attempt_count,
	next_run_at, COALESCE(claimed_by, ''), claimed_at, heartbeat_at,
	created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var (
		j        models.Job
		metaJSON []byte
	)
	err := row.Scan(
		&j.ID, &j.StudioType, &j.Status, &j.UserID, &j.RequestHash, &j.Payload, &metaJSON,
		&j.ErrorCode, &j.ErrorMessage, &j.AttemptCount,
		&j.NextRunAt, &j.ClaimedBy, &j.ClaimedAt, &j.HeartbeatAt,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &j.Meta); err != nil {
			return nil, fmt.Errorf("failed to decode job meta: %w", err)
		}
	}
	if j.Meta == nil {
		j.Meta = models.JobMeta{}
	}
	return &j, nil
}

// SubmitResult reports the outcome of an idempotent submit.
type SubmitResult struct {
	Job     *models.Job
	Existed bool // true when a prior submit with the same hash won
}

// Submit inserts a job idempotently: a second submit with the same
// (user, studio, request_hash) returns the winner's row and only bumps
// updated_at. Concurrent submits race on the unique index; the loser reads
// and returns the winner's id via the upsert RETURNING.
func (s *JobStore) Submit(ctx context.Context, userID uuid.UUID, studio models.StudioType, requestHash string, payload json.RawMessage, meta models.JobMeta) (*SubmitResult, error) {
	if meta == nil {
		meta = models.JobMeta{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job meta: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (id, studio_type, status, user_id, request_hash, payload, meta, next_run_at)
		VALUES ($1, $2, 'queued', $3, $4, $5, $6, now())
		ON CONFLICT (user_id, studio_type, request_hash)
		DO UPDATE SET updated_at = now()
		RETURNING `+jobColumns+`, (xmax <> 0) AS existed`,
		uuid.New(), studio, userID, requestHash, []byte(payload), metaJSON,
	)

	var (
		j        models.Job
		metaRaw  []byte
		existed  bool
	)
	err = row.Scan(
		&j.ID, &j.StudioType, &j.Status, &j.UserID, &j.RequestHash, &j.Payload, &metaRaw,
		&j.ErrorCode, &j.ErrorMessage, &j.AttemptCount,
		&j.NextRunAt, &j.ClaimedBy, &j.ClaimedAt, &j.HeartbeatAt,
		&j.CreatedAt, &j.UpdatedAt, &existed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to submit job: %w", err)
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &j.Meta); err != nil {
			return nil, fmt.Errorf("failed to decode job meta: %w", err)
		}
	}
	if j.Meta == nil {
		j.Meta = models.JobMeta{}
	}
	return &SubmitResult{Job: &j, Existed: existed}, nil
}

// Get returns a job by id.
func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

// GetOwned returns a job only if it belongs to userID.
func (s *JobStore) GetOwned(ctx context.Context, id, userID uuid.UUID) (*models.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND user_id = $2`, id, userID)
	return scanJob(row)
}

// ClaimBatch atomically claims up to limit eligible jobs in one studio
// partition using FOR UPDATE SKIP LOCKED, transitioning them to running and
// incrementing attempt_count (claim-time increment policy). FIFO within the
// partition by (next_run_at NULLS FIRST, created_at).
func (s *JobStore) ClaimBatch(ctx context.Context, studio models.StudioType, limit int, claimedBy string) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE jobs SET
			status = 'running',
			attempt_count = attempt_count + 1,
			claimed_by = $3,
			claimed_at = now(),
			heartbeat_at = now(),
			updated_at = now()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE studio_type = $1
			  AND status = 'queued'
			  AND (next_run_at IS NULL OR next_run_at <= now())
			ORDER BY next_run_at NULLS FIRST, created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		studio, limit, claimedBy,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}
	defer rows.Close()

	var claimed []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, j)
	}
	return claimed, rows.Err()
}

// Requeue transitions a running job back to queued with a future
// next_run_at, recording the failure so the next attempt can reason about
// it. DB now() is authoritative for queue ordering.
func (s *JobStore) Requeue(ctx context.Context, id uuid.UUID, delay time.Duration, code, message string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			status = 'queued',
			next_run_at = now() + make_interval(secs => $2),
			error_code = $3,
			error_message = $4,
			claimed_by = NULL,
			claimed_at = NULL,
			heartbeat_at = NULL,
			updated_at = now()
		WHERE id = $1 AND status = 'running'`,
		id, delay.Seconds(), code, message,
	)
	if err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// Finish transitions a job out of running (or stitching, for longform
// parents) into a terminal or stitching status. The status guard keeps the
// transition monotonic even if a stale executor races a reclaimed job.
func (s *JobStore) Finish(ctx context.Context, id uuid.UUID, to models.JobStatus, code, message string) error {
	if !models.CanTransition(models.JobRunning, to) && !models.CanTransition(models.JobStitching, to) {
		return models.ErrInvalidTransition
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			status = $2,
			error_code = NULLIF($3, ''),
			error_message = NULLIF($4, ''),
			claimed_by = NULL,
			claimed_at = NULL,
			heartbeat_at = NULL,
			updated_at = now()
		WHERE id = $1 AND status IN ('running', 'stitching')`,
		id, to, code, message,
	)
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// Cancel marks a queued or running job canceled. Processors honor the
// marker at their next state transition; no in-flight call is interrupted.
func (s *JobStore) Cancel(ctx context.Context, id, userID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = 'canceled', updated_at = now()
		WHERE id = $1 AND user_id = $2 AND status IN ('queued', 'running', 'stitching')`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// IsCanceled re-reads just the status to let processors honor cancellation
// between state-machine steps.
func (s *JobStore) IsCanceled(ctx context.Context, id uuid.UUID) (bool, error) {
	var status models.JobStatus
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("failed to read job status: %w", err)
	}
	return status == models.JobCanceled, nil
}

// UpdateMeta persists the job's meta map (control flags such as
// required_action).
func (s *JobStore) UpdateMeta(ctx context.Context, id uuid.UUID, meta models.JobMeta) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode job meta: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE jobs SET meta = $2, updated_at = now() WHERE id = $1`, id, metaJSON)
	if err != nil {
		return fmt.Errorf("failed to update job meta: %w", err)
	}
	return nil
}

// Heartbeat refreshes heartbeat_at on a set of in-flight jobs.
func (s *JobStore) Heartbeat(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET heartbeat_at = now()
		WHERE id = ANY($1) AND status IN ('running', 'stitching')`, ids)
	if err != nil {
		return fmt.Errorf("failed to heartbeat jobs: %w", err)
	}
	return nil
}

// ReclaimStale re-queues jobs stuck in running whose heartbeat is older
// than staleAfter. A reclaimed job becomes claimable again; the provider
// ledger's idempotency keys keep duplicate executors from duplicating
// outbound calls. Returns the reclaimed ids.
func (s *JobStore) ReclaimStale(ctx context.Context, staleAfter time.Duration) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE jobs SET
			status = 'queued',
			next_run_at = now(),
			claimed_by = NULL,
			claimed_at = NULL,
			heartbeat_at = NULL,
			updated_at = now()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'running'
			  AND heartbeat_at IS NOT NULL
			  AND heartbeat_at < now() - make_interval(secs => $1)
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id`,
		staleAfter.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to reclaim stale jobs: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan reclaimed id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RequeueOwnedBy re-queues running jobs claimed by the given worker id.
// Called once at startup to recover jobs orphaned by a previous crash of
// this same process identity.
func (s *JobStore) RequeueOwnedBy(ctx context.Context, claimedBy string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			status = 'queued',
			next_run_at = now(),
			claimed_by = NULL,
			claimed_at = NULL,
			heartbeat_at = NULL,
			updated_at = now()
		WHERE status = 'running' AND claimed_by LIKE $1 || '%'`,
		claimedBy,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue startup orphans: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDue returns how many jobs in a studio partition are eligible to run
// now. Emitted by the pool heartbeat as due_count.
func (s *JobStore) CountDue(ctx context.Context, studio models.StudioType) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM jobs
		WHERE studio_type = $1 AND status = 'queued'
		  AND (next_run_at IS NULL OR next_run_at <= now())`, studio).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count due jobs: %w", err)
	}
	return n, nil
}

// ListByUser returns a page of the user's jobs, newest first.
func (s *JobStore) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
