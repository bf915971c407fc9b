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

// ArtifactStore owns produced media records. Artifact rows are append-only;
// signed URLs in the url column are advisory and re-minted at read time.
type ArtifactStore struct {
	pool *pgxpool.Pool
}

const artifactColumns = `id, job_id, kind, url, content_type, sha256, bytes, meta, created_at`

func scanArtifact(row pgx.Row) (*models.Artifact, error) {
	var (
		a        models.Artifact
		metaJSON []byte
	)
	err := row.Scan(&a.ID, &a.JobID, &a.Kind, &a.URL, &a.ContentType,
		&a.SHA256, &a.Bytes, &metaJSON, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan artifact: %w", err)
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &a.Meta); err != nil {
			return nil, fmt.Errorf("failed to decode artifact meta: %w", err)
		}
	}
	return &a, nil
}

// Insert records a new artifact.
func (s *ArtifactStore) Insert(ctx context.Context, a *models.Artifact) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	metaJSON, err := json.Marshal(a.Meta)
	if err != nil {
		return fmt.Errorf("failed to encode artifact meta: %w", err)
	}
	if a.Meta == nil {
		metaJSON = []byte(`{}`)
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO artifacts (id, job_id, kind, url, content_type, sha256, bytes, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		a.ID, a.JobID, a.Kind, a.URL, a.ContentType, a.SHA256, a.Bytes, metaJSON,
	).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert artifact: %w", err)
	}
	return nil
}

// Get returns an artifact by id.
func (s *ArtifactStore) Get(ctx context.Context, id uuid.UUID) (*models.Artifact, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE id = $1`, id)
	return scanArtifact(row)
}

// ListByJob returns all artifacts of a job, oldest first.
func (s *ArtifactStore) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.Artifact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE job_id = $1 ORDER BY created_at`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []*models.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// ListRecentByUser returns the newest artifacts across the user's jobs,
// used by the dashboard carousels.
func (s *ArtifactStore) ListRecentByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Artifact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+qualify(artifactColumns, "a")+`
		FROM artifacts a
		JOIN jobs j ON j.id = a.job_id
		WHERE j.user_id = $1
		ORDER BY a.created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []*models.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}
