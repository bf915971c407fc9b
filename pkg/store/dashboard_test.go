package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylark-media/atelier/pkg/models"
)

func TestDashboardCacheRoundTrip(t *testing.T) {
	stores, _ := newTestStores(t)
	ctx := context.Background()
	userID := createTestUser(t, stores)

	_, err := stores.Dashboard.GetCache(ctx, userID)
	assert.ErrorIs(t, err, ErrNotFound)

	cache := &models.DashboardCache{
		UserID: userID,
		Gauges: json.RawMessage(`{"queued":2,"running":1}`),
		Alerts: json.RawMessage(`[]`),
		RecentCarousel: []models.CarouselItem{
			{ArtifactID: uuid.New(), Kind: models.KindVideo, StoragePath: "video/a.mp4"},
		},
	}
	require.NoError(t, stores.Dashboard.UpsertCache(ctx, cache))
	firstUpdate := cache.UpdatedAt

	got, err := stores.Dashboard.GetCache(ctx, userID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"queued":2,"running":1}`, string(got.Gauges))
	require.Len(t, got.RecentCarousel, 1)
	assert.Equal(t, "video/a.mp4", got.RecentCarousel[0].StoragePath)
	assert.Empty(t, got.AssetCarousel)

	// Upsert replaces wholesale and refreshes updated_at.
	cache.Gauges = json.RawMessage(`{"queued":0}`)
	cache.RecentCarousel = nil
	require.NoError(t, stores.Dashboard.UpsertCache(ctx, cache))
	assert.False(t, cache.UpdatedAt.Before(firstUpdate))

	got, err = stores.Dashboard.GetCache(ctx, userID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"queued":0}`, string(got.Gauges))
	assert.Empty(t, got.RecentCarousel)
}

func TestEnqueueRefreshCoalesces(t *testing.T) {
	stores, pool := newTestStores(t)
	ctx := context.Background()
	userID := createTestUser(t, stores)

	require.NoError(t, stores.Dashboard.EnqueueRefresh(ctx, userID))
	require.NoError(t, stores.Dashboard.EnqueueRefresh(ctx, userID))
	require.NoError(t, stores.Dashboard.EnqueueRefresh(ctx, userID))

	var n int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT count(*) FROM dashboard_refresh_requests WHERE user_id = $1`, userID).Scan(&n))
	assert.Equal(t, 1, n, "repeat requests coalesce onto one row")
}

func TestWithRefreshBatchDrainsOnSuccess(t *testing.T) {
	stores, _ := newTestStores(t)
	ctx := context.Background()

	var userIDs []uuid.UUID
	for range 3 {
		id := createTestUser(t, stores)
		require.NoError(t, stores.Dashboard.EnqueueRefresh(ctx, id))
		userIDs = append(userIDs, id)
	}

	var seen []uuid.UUID
	n, err := stores.Dashboard.WithRefreshBatch(ctx, 10, func(ctx context.Context, ids []uuid.UUID) error {
		seen = ids
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.ElementsMatch(t, userIDs, seen)

	// The queue is drained; the next batch is empty and fn never runs.
	n, err = stores.Dashboard.WithRefreshBatch(ctx, 10, func(ctx context.Context, ids []uuid.UUID) error {
		t.Fatal("fn must not run on an empty batch")
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWithRefreshBatchKeepsRowsOnFailure(t *testing.T) {
	stores, _ := newTestStores(t)
	ctx := context.Background()
	userID := createTestUser(t, stores)
	require.NoError(t, stores.Dashboard.EnqueueRefresh(ctx, userID))

	boom := errors.New("compute failed")
	_, err := stores.Dashboard.WithRefreshBatch(ctx, 10, func(ctx context.Context, ids []uuid.UUID) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	// The rollback preserved the request for the next cycle.
	n, err := stores.Dashboard.WithRefreshBatch(ctx, 10, func(ctx context.Context, ids []uuid.UUID) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWithRefreshBatchRespectsLimit(t *testing.T) {
	stores, _ := newTestStores(t)
	ctx := context.Background()

	for range 5 {
		require.NoError(t, stores.Dashboard.EnqueueRefresh(ctx, createTestUser(t, stores)))
	}

	n, err := stores.Dashboard.WithRefreshBatch(ctx, 2, func(ctx context.Context, ids []uuid.UUID) error {
		assert.Len(t, ids, 2)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
