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

// MediaAssetStore owns user-uploaded reusable inputs (voice references,
// face images, BYO audio). Asset lifetime is independent of any job.
type MediaAssetStore struct {
	pool *pgxpool.Pool
}

const assetColumns = `id, user_id, kind, url, content_type, sha256, bytes, duration_ms, meta, created_at`

func scanAsset(row pgx.Row) (*models.MediaAsset, error) {
	var (
		a        models.MediaAsset
		metaJSON []byte
	)
	err := row.Scan(&a.ID, &a.UserID, &a.Kind, &a.URL, &a.ContentType,
		&a.SHA256, &a.Bytes, &a.DurationMS, &metaJSON, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan media asset: %w", err)
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &a.Meta); err != nil {
			return nil, fmt.Errorf("failed to decode media asset meta: %w", err)
		}
	}
	return &a, nil
}

// Insert records a new media asset.
func (s *MediaAssetStore) Insert(ctx context.Context, a *models.MediaAsset) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	metaJSON, err := json.Marshal(a.Meta)
	if err != nil {
		return fmt.Errorf("failed to encode media asset meta: %w", err)
	}
	if a.Meta == nil {
		metaJSON = []byte(`{}`)
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO media_assets (id, user_id, kind, url, content_type, sha256, bytes, duration_ms, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`,
		a.ID, a.UserID, a.Kind, a.URL, a.ContentType, a.SHA256, a.Bytes, a.DurationMS, metaJSON,
	).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert media asset: %w", err)
	}
	return nil
}

// GetOwned returns the asset only if it belongs to userID.
func (s *MediaAssetStore) GetOwned(ctx context.Context, id, userID uuid.UUID) (*models.MediaAsset, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+assetColumns+` FROM media_assets WHERE id = $1 AND user_id = $2`, id, userID)
	return scanAsset(row)
}

// ListByUser returns the user's assets, newest first. An empty kind lists
// all kinds.
func (s *MediaAssetStore) ListByUser(ctx context.Context, userID uuid.UUID, kind models.ArtifactKind, limit int) ([]*models.MediaAsset, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+assetColumns+` FROM media_assets
		WHERE user_id = $1 AND ($2 = '' OR kind = $2)
		ORDER BY created_at DESC LIMIT $3`, userID, string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list media assets: %w", err)
	}
	defer rows.Close()

	var assets []*models.MediaAsset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}
