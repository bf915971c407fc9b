package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skylark-media/atelier/pkg/models"
)

// MusicStore owns the candidate group of a music job.
type MusicStore struct {
	pool *pgxpool.Pool
}

const candidateColumns = `id, job_id, candidate_index, provider_run_id,
	COALESCE(audio_url, ''), status, selected, created_at, updated_at`

func scanCandidate(row pgx.Row) (*models.MusicCandidate, error) {
	var c models.MusicCandidate
	err := row.Scan(&c.ID, &c.JobID, &c.CandidateIndex, &c.ProviderRunID,
		&c.AudioURL, &c.Status, &c.Selected, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan music candidate: %w", err)
	}
	return &c, nil
}

// InsertCandidates creates the candidate group for a job in one transaction.
func (s *MusicStore) InsertCandidates(ctx context.Context, candidates []*models.MusicCandidate) error {
	return inTx(ctx, s.pool, func(tx pgx.Tx) error {
		for _, c := range candidates {
			if c.ID == uuid.Nil {
				c.ID = uuid.New()
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO music_candidates (id, job_id, candidate_index, provider_run_id)
				VALUES ($1, $2, $3, $4)`,
				c.ID, c.JobID, c.CandidateIndex, c.ProviderRunID)
			if err != nil {
				if isUniqueViolation(err) {
					return ErrConflict
				}
				return fmt.Errorf("failed to insert music candidate %d: %w", c.CandidateIndex, err)
			}
		}
		return nil
	})
}

// ListByJob returns the job's candidates ordered by index.
func (s *MusicStore) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.MusicCandidate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+candidateColumns+` FROM music_candidates
		WHERE job_id = $1 ORDER BY candidate_index`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list music candidates: %w", err)
	}
	defer rows.Close()

	var candidates []*models.MusicCandidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// SetResult records a candidate's provider outcome.
func (s *MusicStore) SetResult(ctx context.Context, id uuid.UUID, status models.CandidateStatus, audioURL string, providerRunID *uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE music_candidates SET
			status = $2,
			audio_url = NULLIF($3, ''),
			provider_run_id = COALESCE($4, provider_run_id),
			updated_at = now()
		WHERE id = $1`, id, status, audioURL, providerRunID)
	if err != nil {
		return fmt.Errorf("failed to set candidate result: %w", err)
	}
	return nil
}

// Select marks exactly one succeeded candidate of a job as chosen and clears
// any prior selection. Selecting a failed or pending candidate is rejected.
func (s *MusicStore) Select(ctx context.Context, jobID, candidateID uuid.UUID) (*models.MusicCandidate, error) {
	var selected *models.MusicCandidate
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE music_candidates SET selected = FALSE, updated_at = now()
			WHERE job_id = $1 AND selected`, jobID)
		if err != nil {
			return fmt.Errorf("failed to clear selection: %w", err)
		}

		row := tx.QueryRow(ctx, `
			UPDATE music_candidates SET selected = TRUE, updated_at = now()
			WHERE id = $1 AND job_id = $2 AND status = 'succeeded'
			RETURNING `+candidateColumns,
			candidateID, jobID)
		c, err := scanCandidate(row)
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidState
		}
		if err != nil {
			return err
		}
		selected = c
		return nil
	})
	return selected, err
}

// GetSelected returns the chosen candidate of a job.
func (s *MusicStore) GetSelected(ctx context.Context, jobID uuid.UUID) (*models.MusicCandidate, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+candidateColumns+` FROM music_candidates
		WHERE job_id = $1 AND selected`, jobID)
	return scanCandidate(row)
}
