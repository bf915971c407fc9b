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

// DashboardStore owns the per-user cache rows and the coalesced refresh
// queue consumed by the dashboard worker.
type DashboardStore struct {
	pool *pgxpool.Pool
}

// GetCache returns the cached dashboard for a user, ErrNotFound on a cold
// cache.
func (s *DashboardStore) GetCache(ctx context.Context, userID uuid.UUID) (*models.DashboardCache, error) {
	var (
		c                      models.DashboardCache
		recentJSON, assetsJSON []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, gauges, alerts, recent_carousel, asset_carousel, updated_at
		FROM dashboard_cache WHERE user_id = $1`, userID,
	).Scan(&c.UserID, &c.Gauges, &c.Alerts, &recentJSON, &assetsJSON, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get dashboard cache: %w", err)
	}
	if err := json.Unmarshal(recentJSON, &c.RecentCarousel); err != nil {
		return nil, fmt.Errorf("failed to decode recent carousel: %w", err)
	}
	if err := json.Unmarshal(assetsJSON, &c.AssetCarousel); err != nil {
		return nil, fmt.Errorf("failed to decode asset carousel: %w", err)
	}
	return &c, nil
}

// UpsertCache replaces the user's cached dashboard wholesale.
func (s *DashboardStore) UpsertCache(ctx context.Context, c *models.DashboardCache) error {
	gauges := c.Gauges
	if len(gauges) == 0 {
		gauges = json.RawMessage(`{}`)
	}
	alerts := c.Alerts
	if len(alerts) == 0 {
		alerts = json.RawMessage(`[]`)
	}
	recentJSON, err := json.Marshal(c.RecentCarousel)
	if err != nil {
		return fmt.Errorf("failed to encode recent carousel: %w", err)
	}
	assetsJSON, err := json.Marshal(c.AssetCarousel)
	if err != nil {
		return fmt.Errorf("failed to encode asset carousel: %w", err)
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO dashboard_cache (user_id, gauges, alerts, recent_carousel, asset_carousel, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (user_id) DO UPDATE SET
			gauges = EXCLUDED.gauges,
			alerts = EXCLUDED.alerts,
			recent_carousel = EXCLUDED.recent_carousel,
			asset_carousel = EXCLUDED.asset_carousel,
			updated_at = now()
		RETURNING updated_at`,
		c.UserID, []byte(gauges), []byte(alerts), recentJSON, assetsJSON,
	).Scan(&c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert dashboard cache: %w", err)
	}
	return nil
}

// EnqueueRefresh marks the user's dashboard for recomputation. Repeat calls
// coalesce onto the single pending row.
func (s *DashboardStore) EnqueueRefresh(ctx context.Context, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dashboard_refresh_requests (user_id)
		VALUES ($1)
		ON CONFLICT (user_id) DO UPDATE SET requested_at = now()`, userID)
	if err != nil {
		return fmt.Errorf("failed to enqueue dashboard refresh: %w", err)
	}
	return nil
}

// WithRefreshBatch locks up to limit pending refresh rows, runs fn over the
// user ids, and deletes the rows on success. The rows stay locked for the
// duration of fn; a competing worker skips them and a crash releases them
// for retry.
func (s *DashboardStore) WithRefreshBatch(ctx context.Context, limit int, fn func(ctx context.Context, userIDs []uuid.UUID) error) (int, error) {
	var claimed int
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT user_id FROM dashboard_refresh_requests
			ORDER BY requested_at
			FOR UPDATE SKIP LOCKED
			LIMIT $1`, limit)
		if err != nil {
			return fmt.Errorf("failed to lock refresh requests: %w", err)
		}
		var userIDs []uuid.UUID
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan refresh request: %w", err)
			}
			userIDs = append(userIDs, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to read refresh requests: %w", err)
		}
		if len(userIDs) == 0 {
			return nil
		}

		if err := fn(ctx, userIDs); err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`DELETE FROM dashboard_refresh_requests WHERE user_id = ANY($1)`, userIDs)
		if err != nil {
			return fmt.Errorf("failed to clear refresh requests: %w", err)
		}
		claimed = len(userIDs)
		return nil
	})
	return claimed, err
}
