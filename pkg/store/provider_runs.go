package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skylark-media/atelier/pkg/models"
)

// ProviderRunStore owns the provider_runs ledger and the performances
// upsert. The idempotency-key uniqueness is what makes outbound calls
// at-most-once observable from the provider side.
type ProviderRunStore struct {
	pool *pgxpool.Pool
}

const providerRunColumns = `id, job_id, provider, idempotency_key,
	COALESCE(provider_job_id, ''), provider_status, request, response, meta,
	created_at, updated_at`

func scanProviderRun(row pgx.Row) (*models.ProviderRun, error) {
	var r models.ProviderRun
	err := row.Scan(
		&r.ID, &r.JobID, &r.Provider, &r.IdempotencyKey,
		&r.ProviderJobID, &r.ProviderStatus, &r.Request, &r.Response, &r.Meta,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan provider run: %w", err)
	}
	return &r, nil
}

// Upsert inserts a ledger row with provider_status=created. When a run with
// the same idempotency key already exists it instead bumps updated_at and
// returns the existing row so the caller can resume from its recorded
// state. A retry with the same key never inserts a second row.
func (s *ProviderRunStore) Upsert(ctx context.Context, jobID uuid.UUID, provider, idempotencyKey string, request json.RawMessage) (*models.ProviderRun, error) {
	if len(request) == 0 {
		request = json.RawMessage(`{}`)
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO provider_runs (id, job_id, provider, idempotency_key, provider_status, request)
		VALUES ($1, $2, $3, $4, 'created', $5)
		ON CONFLICT (idempotency_key)
		DO UPDATE SET updated_at = now()
		RETURNING `+providerRunColumns,
		uuid.New(), jobID, provider, idempotencyKey, []byte(request),
	)
	return scanProviderRun(row)
}

// MarkSubmitted records the provider-assigned job id after a successful
// submission.
func (s *ProviderRunStore) MarkSubmitted(ctx context.Context, id uuid.UUID, providerJobID string, response json.RawMessage) error {
	if len(response) == 0 {
		response = json.RawMessage(`{}`)
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE provider_runs SET
			provider_job_id = $2,
			provider_status = 'submitted',
			response = $3,
			updated_at = now()
		WHERE id = $1`,
		id, providerJobID, []byte(response),
	)
	if err != nil {
		return fmt.Errorf("failed to mark provider run submitted: %w", err)
	}
	return nil
}

// SetStatus records a provider-side lifecycle transition.
func (s *ProviderRunStore) SetStatus(ctx context.Context, id uuid.UUID, status models.ProviderStatus) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE provider_runs SET provider_status = $2, updated_at = now()
		WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to set provider run status: %w", err)
	}
	return nil
}

// Complete records the terminal provider status together with the final
// response body.
func (s *ProviderRunStore) Complete(ctx context.Context, id uuid.UUID, status models.ProviderStatus, response json.RawMessage) error {
	if len(response) == 0 {
		response = json.RawMessage(`{}`)
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE provider_runs SET provider_status = $2, response = $3, updated_at = now()
		WHERE id = $1`, id, status, []byte(response))
	if err != nil {
		return fmt.Errorf("failed to complete provider run: %w", err)
	}
	return nil
}

// GetByKey returns the ledger row for an idempotency key.
func (s *ProviderRunStore) GetByKey(ctx context.Context, idempotencyKey string) (*models.ProviderRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+providerRunColumns+` FROM provider_runs WHERE idempotency_key = $1`,
		idempotencyKey)
	return scanProviderRun(row)
}

// ListByJob returns all ledger rows for a job, oldest first.
func (s *ProviderRunStore) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.ProviderRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+providerRunColumns+` FROM provider_runs WHERE job_id = $1 ORDER BY created_at`,
		jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list provider runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.ProviderRun
	for rows.Next() {
		r, err := scanProviderRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// UpsertPerformance records the fusion outcome keyed by
// (provider, provider_job_id). Because the unique index is partial (only
// when provider_job_id is set), ON CONFLICT cannot target it directly:
// the store inserts first and falls back to an update on unique violation.
func (s *ProviderRunStore) UpsertPerformance(ctx context.Context, p *models.Performance) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	meta := p.Meta
	if len(meta) == 0 {
		meta = json.RawMessage(`{}`)
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO performances (id, job_id, provider, provider_job_id, video_url, meta)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6)`,
		p.ID, p.JobID, p.Provider, p.ProviderJobID, p.VideoURL, []byte(meta),
	)
	if err == nil {
		return nil
	}
	if !isUniqueViolation(err) {
		return fmt.Errorf("failed to insert performance: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE performances SET
			job_id = $3,
			video_url = NULLIF($4, ''),
			meta = $5,
			updated_at = now()
		WHERE provider = $1 AND provider_job_id = $2`,
		p.Provider, p.ProviderJobID, p.JobID, p.VideoURL, []byte(meta),
	)
	if err != nil {
		return fmt.Errorf("failed to update performance: %w", err)
	}
	return nil
}

// GetPerformance returns the performance row for a provider job id.
func (s *ProviderRunStore) GetPerformance(ctx context.Context, provider, providerJobID string) (*models.Performance, error) {
	var p models.Performance
	err := s.pool.QueryRow(ctx, `
		SELECT id, COALESCE(job_id, '00000000-0000-0000-0000-000000000000'::uuid),
		       provider, COALESCE(provider_job_id, ''), COALESCE(video_url, ''),
		       meta, created_at, updated_at
		FROM performances
		WHERE provider = $1 AND provider_job_id = $2`,
		provider, providerJobID,
	).Scan(&p.ID, &p.JobID, &p.Provider, &p.ProviderJobID, &p.VideoURL,
		&p.Meta, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get performance: %w", err)
	}
	return &p, nil
}
