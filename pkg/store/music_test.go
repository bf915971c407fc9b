package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylark-media/atelier/pkg/models"
)

func newCandidateGroup(t *testing.T, stores *Stores, n int) (*models.Job, []*models.MusicCandidate) {
	t.Helper()
	ctx := context.Background()
	userID := createTestUser(t, stores)

	job := submitTestJob(t, stores, userID, models.StudioMusic, `{"prompt":"lofi beats"}`)
	candidates := make([]*models.MusicCandidate, n)
	for i := range n {
		candidates[i] = &models.MusicCandidate{JobID: job.ID, CandidateIndex: i}
	}
	require.NoError(t, stores.Music.InsertCandidates(ctx, candidates))
	return job, candidates
}

func TestInsertCandidatesDuplicateIndex(t *testing.T) {
	stores, _ := newTestStores(t)
	ctx := context.Background()

	job, _ := newCandidateGroup(t, stores, 3)

	err := stores.Music.InsertCandidates(ctx, []*models.MusicCandidate{
		{JobID: job.ID, CandidateIndex: 0},
	})
	assert.ErrorIs(t, err, ErrConflict)

	got, err := stores.Music.ListByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	for i, c := range got {
		assert.Equal(t, i, c.CandidateIndex)
		assert.Equal(t, models.CandidatePending, c.Status)
		assert.False(t, c.Selected)
	}
}

func TestSelectCandidate(t *testing.T) {
	stores, _ := newTestStores(t)
	ctx := context.Background()

	job, candidates := newCandidateGroup(t, stores, 3)

	// Only succeeded candidates are selectable.
	_, err := stores.Music.Select(ctx, job.ID, candidates[0].ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, stores.Music.SetResult(ctx, candidates[0].ID,
		models.CandidateSucceeded, "https://cdn/track0.mp3", nil))
	require.NoError(t, stores.Music.SetResult(ctx, candidates[1].ID,
		models.CandidateSucceeded, "https://cdn/track1.mp3", nil))
	require.NoError(t, stores.Music.SetResult(ctx, candidates[2].ID,
		models.CandidateFailed, "", nil))

	selected, err := stores.Music.Select(ctx, job.ID, candidates[0].ID)
	require.NoError(t, err)
	assert.True(t, selected.Selected)
	assert.Equal(t, "https://cdn/track0.mp3", selected.AudioURL)

	// Re-selecting moves the flag; at most one candidate stays chosen.
	_, err = stores.Music.Select(ctx, job.ID, candidates[1].ID)
	require.NoError(t, err)
	got, err := stores.Music.GetSelected(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, candidates[1].ID, got.ID)

	all, err := stores.Music.ListByJob(ctx, job.ID)
	require.NoError(t, err)
	chosen := 0
	for _, c := range all {
		if c.Selected {
			chosen++
		}
	}
	assert.Equal(t, 1, chosen)

	// Failed candidates stay unselectable, and a failed Select leaves the
	// previous choice intact because the transaction rolls back.
	_, err = stores.Music.Select(ctx, job.ID, candidates[2].ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	got, err = stores.Music.GetSelected(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, candidates[1].ID, got.ID)

	// A candidate id from another job never matches.
	other, otherCandidates := newCandidateGroup(t, stores, 1)
	require.NoError(t, stores.Music.SetResult(ctx, otherCandidates[0].ID,
		models.CandidateSucceeded, "u", nil))
	_, err = stores.Music.Select(ctx, job.ID, otherCandidates[0].ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	_ = other
}

func TestGetSelectedColdGroup(t *testing.T) {
	stores, _ := newTestStores(t)
	ctx := context.Background()

	job, _ := newCandidateGroup(t, stores, 2)
	_, err := stores.Music.GetSelected(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProviderRunLedgerIdempotency(t *testing.T) {
	stores, _ := newTestStores(t)
	ctx := context.Background()
	userID := createTestUser(t, stores)

	job := submitTestJob(t, stores, userID, models.StudioFusion, `{"face":{},"audio":{}}`)
	key := "fusion:" + job.ID.String() + ":1"

	first, err := stores.ProviderRuns.Upsert(ctx, job.ID, "facefusion", key, nil)
	require.NoError(t, err)
	assert.Equal(t, models.RunCreated, first.ProviderStatus)

	require.NoError(t, stores.ProviderRuns.MarkSubmitted(ctx, first.ID, "prov-123", nil))

	// A retry with the same key resumes the recorded run instead of
	// creating a second outbound call.
	resumed, err := stores.ProviderRuns.Upsert(ctx, job.ID, "facefusion", key, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, resumed.ID)
	assert.Equal(t, models.RunSubmitted, resumed.ProviderStatus)
	assert.Equal(t, "prov-123", resumed.ProviderJobID)

	require.NoError(t, stores.ProviderRuns.Complete(ctx, first.ID, models.RunSucceeded, nil))
	runs, err := stores.ProviderRuns.ListByJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunSucceeded, runs[0].ProviderStatus)

	byKey, err := stores.ProviderRuns.GetByKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, first.ID, byKey.ID)
}

func TestUpsertPerformanceByProviderJobID(t *testing.T) {
	stores, _ := newTestStores(t)
	ctx := context.Background()
	userID := createTestUser(t, stores)

	job := submitTestJob(t, stores, userID, models.StudioFusion, `{"face":{},"audio":{}}`)

	perf := &models.Performance{
		JobID:         job.ID,
		Provider:      "facefusion",
		ProviderJobID: "prov-xyz",
	}
	require.NoError(t, stores.ProviderRuns.UpsertPerformance(ctx, perf))

	// Second report for the same provider job updates in place.
	require.NoError(t, stores.ProviderRuns.UpsertPerformance(ctx, &models.Performance{
		JobID:         job.ID,
		Provider:      "facefusion",
		ProviderJobID: "prov-xyz",
		VideoURL:      "https://cdn/final.mp4",
	}))

	got, err := stores.ProviderRuns.GetPerformance(ctx, "facefusion", "prov-xyz")
	require.NoError(t, err)
	assert.Equal(t, perf.ID, got.ID)
	assert.Equal(t, "https://cdn/final.mp4", got.VideoURL)

	_, err = stores.ProviderRuns.GetPerformance(ctx, "facefusion", "unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}
