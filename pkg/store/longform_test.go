package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylark-media/atelier/pkg/models"
)

// newLongformFixture submits a longform job, claims it into running, and
// creates the parent record with n queued segments.
func newLongformFixture(t *testing.T, stores *Stores, n int) (*models.Job, []*models.LongformSegment) {
	t.Helper()
	ctx := context.Background()
	userID := createTestUser(t, stores)

	job := submitTestJob(t, stores, userID, models.StudioLongform,
		fmt.Sprintf(`{"script":"fixture %s"}`, uuid.NewString()))
	claimed, err := stores.Jobs.ClaimBatch(ctx, models.StudioLongform, 1, "pod-longform-0")
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	parent := &models.LongformJob{
		JobID:               job.ID,
		TotalSegments:       n,
		AspectRatio:         "16:9",
		SegmentSeconds:      30,
		MaxSegmentSeconds:   60,
		VoiceGenderMode:     models.VoiceGenderAuto,
		WorkerCredentialRef: "cred-ref",
	}
	segments := make([]*models.LongformSegment, n)
	for i := range n {
		segments[i] = &models.LongformSegment{
			SegmentIndex: i,
			TextChunk:    fmt.Sprintf("segment text %d", i),
			DurationSec:  30,
		}
	}
	require.NoError(t, stores.Longform.CreateWithSegments(ctx, parent, segments))
	return claimed[0], segments
}

func TestCreateWithSegmentsIsIdempotentConflict(t *testing.T) {
	stores, _ := newTestStores(t)
	ctx := context.Background()

	job, _ := newLongformFixture(t, stores, 2)

	// A duplicate executor re-creating the fan-out hits the primary key.
	err := stores.Longform.CreateWithSegments(ctx, &models.LongformJob{
		JobID:         job.ID,
		TotalSegments: 2,
	}, nil)
	assert.ErrorIs(t, err, ErrConflict)

	lf, err := stores.Longform.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, lf.TotalSegments)
	assert.Equal(t, 0, lf.CompletedSegments)

	segs, err := stores.Longform.ListSegments(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, 0, segs[0].SegmentIndex)
	assert.Equal(t, models.SegmentQueued, segs[0].Status)
}

func TestClaimSegmentsInflightCap(t *testing.T) {
	stores, _ := newTestStores(t)
	ctx := context.Background()

	newLongformFixture(t, stores, 5)

	// Cap of 2 per parent limits the claim even when the limit allows more.
	claimed, err := stores.Longform.ClaimSegments(ctx, "seg-worker", 5, 2)
	require.NoError(t, err)
	assert.Len(t, claimed, 2)
	for _, seg := range claimed {
		assert.Equal(t, models.SegmentAudioRunning, seg.Status)
		assert.Equal(t, "seg-worker", seg.ClaimedBy)
	}

	// Finishing one segment frees one slot.
	_, err = stores.Longform.CompleteSegment(ctx, claimed[0].ID, "https://cdn/seg0.mp4", "longform/seg0.mp4")
	require.NoError(t, err)

	more, err := stores.Longform.ClaimSegments(ctx, "seg-worker", 5, 2)
	require.NoError(t, err)
	assert.Len(t, more, 1)
}

func TestClaimSegmentsSkipsNonRunningParents(t *testing.T) {
	stores, _ := newTestStores(t)
	ctx := context.Background()

	job, _ := newLongformFixture(t, stores, 2)

	// Cancel the parent: its queued segments must become invisible.
	require.NoError(t, stores.Jobs.Cancel(ctx, job.ID, job.UserID))

	claimed, err := stores.Longform.ClaimSegments(ctx, "seg-worker", 5, 5)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestCompleteSegmentHandsOffToStitching(t *testing.T) {
	stores, _ := newTestStores(t)
	ctx := context.Background()

	job, _ := newLongformFixture(t, stores, 2)

	claimed, err := stores.Longform.ClaimSegments(ctx, "seg-worker", 5, 5)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	allDone, err := stores.Longform.CompleteSegment(ctx, claimed[0].ID, "u0", "p0")
	require.NoError(t, err)
	assert.False(t, allDone)

	allDone, err = stores.Longform.CompleteSegment(ctx, claimed[1].ID, "u1", "p1")
	require.NoError(t, err)
	assert.True(t, allDone, "last segment flips the parent")

	got, err := stores.Jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStitching, got.Status)

	lf, err := stores.Longform.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, lf.CompletedSegments)

	// Completing an already-succeeded segment is rejected.
	_, err = stores.Longform.CompleteSegment(ctx, claimed[0].ID, "u0", "p0")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestFailSegmentFailsFast(t *testing.T) {
	stores, _ := newTestStores(t)
	ctx := context.Background()

	job, _ := newLongformFixture(t, stores, 3)

	claimed, err := stores.Longform.ClaimSegments(ctx, "seg-worker", 1, 5)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, stores.Longform.FailSegment(ctx, claimed[0].ID,
		models.CodeContentPolicyViolation, "provider rejected narration"))

	// The parent is terminal with the segment's error.
	got, err := stores.Jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.Status)
	assert.Equal(t, models.CodeContentPolicyViolation, got.ErrorCode)

	// Every queued sibling failed too; nothing is left to claim.
	segs, err := stores.Longform.ListSegments(ctx, job.ID)
	require.NoError(t, err)
	for _, seg := range segs {
		assert.Equal(t, models.SegmentFailed, seg.Status)
	}
	more, err := stores.Longform.ClaimSegments(ctx, "seg-worker", 5, 5)
	require.NoError(t, err)
	assert.Empty(t, more)
}

func TestReleaseSegmentRestartsFromAudio(t *testing.T) {
	stores, _ := newTestStores(t)
	ctx := context.Background()

	newLongformFixture(t, stores, 1)

	claimed, err := stores.Longform.ClaimSegments(ctx, "seg-worker", 1, 5)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	seg := claimed[0]

	require.NoError(t, stores.Longform.MarkVideoRunning(ctx, seg.ID, "https://cdn/a.mp3", nil, nil))
	require.NoError(t, stores.Longform.ReleaseSegment(ctx, seg.ID))

	again, err := stores.Longform.ClaimSegments(ctx, "seg-worker-2", 1, 5)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, seg.ID, again[0].ID)
	assert.Equal(t, models.SegmentAudioRunning, again[0].Status)
}

func TestReclaimStaleSegments(t *testing.T) {
	stores, pool := newTestStores(t)
	ctx := context.Background()

	newLongformFixture(t, stores, 1)
	claimed, err := stores.Longform.ClaimSegments(ctx, "dead-worker", 1, 5)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	n, err := stores.Longform.ReclaimStaleSegments(ctx, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n, "fresh claims are not reclaimed")

	_, err = pool.Exec(ctx,
		`UPDATE longform_segments SET updated_at = now() - interval '10 minutes' WHERE id = $1`,
		claimed[0].ID)
	require.NoError(t, err)

	n, err = stores.Longform.ReclaimStaleSegments(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestClaimStitchParent(t *testing.T) {
	stores, pool := newTestStores(t)
	ctx := context.Background()

	job, _ := newLongformFixture(t, stores, 1)
	claimed, err := stores.Longform.ClaimSegments(ctx, "seg-worker", 1, 5)
	require.NoError(t, err)
	allDone, err := stores.Longform.CompleteSegment(ctx, claimed[0].ID, "u", "p")
	require.NoError(t, err)
	require.True(t, allDone)

	parent, err := stores.Longform.ClaimStitchParent(ctx, "pod-a-stitch", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, job.ID, parent.ID)
	assert.Equal(t, models.JobStitching, parent.Status)

	// A live claim blocks other stitchers.
	_, err = stores.Longform.ClaimStitchParent(ctx, "pod-b-stitch", time.Minute)
	assert.ErrorIs(t, err, ErrNotFound)

	// A stale heartbeat re-exposes the parent.
	_, err = pool.Exec(ctx,
		`UPDATE jobs SET heartbeat_at = now() - interval '10 minutes' WHERE id = $1`, job.ID)
	require.NoError(t, err)
	reclaimed, err := stores.Longform.ClaimStitchParent(ctx, "pod-b-stitch", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, job.ID, reclaimed.ID)

	// Stitch success goes through the regular Finish guard.
	require.NoError(t, stores.Longform.SetFinalStoragePath(ctx, job.ID, "longform/final.mp4"))
	require.NoError(t, stores.Jobs.Finish(ctx, job.ID, models.JobSucceeded, "", ""))
	lf, err := stores.Longform.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "longform/final.mp4", lf.FinalStoragePath)
}
