package studio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylark-media/atelier/pkg/blob"
	"github.com/skylark-media/atelier/pkg/compose"
	"github.com/skylark-media/atelier/pkg/config"
	"github.com/skylark-media/atelier/pkg/models"
	"github.com/skylark-media/atelier/pkg/store"
	testdb "github.com/skylark-media/atelier/test/database"
)

type fakeComposer struct {
	got    *compose.Request
	result *compose.Result
	err    error
}

func (f *fakeComposer) Stitch(ctx context.Context, req *compose.Request) (*compose.Result, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

// fakeGateway stands in for the storage gateway and the compose output
// host: PUTs are recorded, GETs serve the stitched bytes.
type fakeGateway struct {
	mu   sync.Mutex
	puts []string
}

func (g *fakeGateway) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			g.mu.Lock()
			g.puts = append(g.puts, r.URL.Path)
			g.mu.Unlock()
			w.WriteHeader(http.StatusCreated)
		case http.MethodGet:
			w.Header().Set("Content-Type", "video/mp4")
			_, _ = w.Write([]byte("stitched-bytes"))
		default:
			http.NotFound(w, r)
		}
	}
}

type stitchFixture struct {
	stitcher *Stitcher
	stores   *store.Stores
	pool     *pgxpool.Pool
	job      *models.Job
	composer *fakeComposer
	gateway  *fakeGateway
}

// newStitchFixture builds a longform parent with n succeeded segments,
// hands the parent off to stitching, and claims it for the stitcher.
func newStitchFixture(t *testing.T, n int) *stitchFixture {
	t.Helper()
	ctx := context.Background()
	pool := testdb.NewTestPool(t)
	stores := store.New(pool)

	gateway := &fakeGateway{}
	srv := httptest.NewServer(gateway.handler())
	t.Cleanup(srv.Close)

	storage := config.DefaultStorageConfig()
	storage.AccountHost = "atelierdev.blob.example.net"
	storage.Endpoint = srv.URL
	cfg := &config.Config{
		Queue:    config.DefaultQueueConfig(),
		Longform: config.DefaultLongformConfig(),
		Storage:  storage,
	}
	signer := blob.NewSignerWithKey(storage, []byte("stitch-test-key"))

	composer := &fakeComposer{
		result: &compose.Result{VideoURL: srv.URL + "/compose-out/stitched.mp4"},
	}
	stitcher := NewStitcher(&Deps{
		Stores:   stores,
		Composer: composer,
		Blob:     blob.NewClient(storage, signer),
		Signer:   signer,
		Cfg:      cfg,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	user := &models.User{Email: uuid.NewString()[:8] + "@example.com"}
	require.NoError(t, stores.Users.Create(ctx, user))
	hash, err := models.RequestHash(user.ID, []byte(`{"script":"stitch me"}`))
	require.NoError(t, err)
	res, err := stores.Jobs.Submit(ctx, user.ID, models.StudioLongform, hash,
		[]byte(`{"script":"stitch me"}`), nil)
	require.NoError(t, err)
	claimed, err := stores.Jobs.ClaimBatch(ctx, models.StudioLongform, 1, "pod-longform-0")
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	parent := &models.LongformJob{
		JobID:               res.Job.ID,
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

	claimedSegs, err := stores.Longform.ClaimSegments(ctx, "pod-seg-0", n, n)
	require.NoError(t, err)
	require.Len(t, claimedSegs, n)
	for _, seg := range claimedSegs {
		require.NoError(t, stores.Longform.MarkVideoRunning(ctx, seg.ID,
			"https://provider/audio.mp3", nil, nil))
		_, err := stores.Longform.CompleteSegment(ctx, seg.ID,
			"https://provider/video.mp4",
			fmt.Sprintf("%s/%s/seg-%d.mp4", user.ID, res.Job.ID, seg.SegmentIndex))
		require.NoError(t, err)
	}

	job, err := stores.Longform.ClaimStitchParent(ctx, "pod-stitch-0", time.Minute)
	require.NoError(t, err)
	require.Equal(t, models.JobStitching, job.Status)

	return &stitchFixture{
		stitcher: stitcher,
		stores:   stores,
		pool:     pool,
		job:      job,
		composer: composer,
		gateway:  gateway,
	}
}

func TestStitchConcatenatesInIndexOrder(t *testing.T) {
	f := newStitchFixture(t, 3)
	ctx := context.Background()

	require.NoError(t, f.stitcher.Stitch(ctx, f.job))

	require.NotNil(t, f.composer.got)
	require.Len(t, f.composer.got.SegmentURLs, 3)
	for i, u := range f.composer.got.SegmentURLs {
		assert.Contains(t, u, fmt.Sprintf("seg-%d.mp4", i), "segment order must match index")
		assert.NoError(t, f.stitcher.d.Signer.Verify(u), "segment URLs are re-signed fresh")
	}
	assert.Equal(t, "16:9", f.composer.got.AspectRatio)

	// The stitched file lands under the final path and the parent succeeds.
	finalPath := fmt.Sprintf("%s/%s/final.mp4", f.job.UserID, f.job.ID)
	require.Len(t, f.gateway.puts, 1)
	assert.True(t, strings.HasSuffix(f.gateway.puts[0], finalPath))

	job, err := f.stores.Jobs.Get(ctx, f.job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobSucceeded, job.Status)

	lf, err := f.stores.Longform.Get(ctx, f.job.ID)
	require.NoError(t, err)
	assert.Equal(t, finalPath, lf.FinalStoragePath)

	artifacts, err := f.stores.Artifacts.ListByJob(ctx, f.job.ID)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, models.KindVideo, artifacts[0].Kind)
	assert.Equal(t, int64(len("stitched-bytes")), artifacts[0].Bytes)
}

func TestStitchComposeFailureFailsParent(t *testing.T) {
	f := newStitchFixture(t, 2)
	ctx := context.Background()

	f.composer.err = errors.New("compose service exploded")
	require.Error(t, f.stitcher.Stitch(ctx, f.job))

	job, err := f.stores.Jobs.Get(ctx, f.job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Equal(t, models.CodeStitchFailed, job.ErrorCode)
}

func TestStitchRejectsSegmentWithoutOutput(t *testing.T) {
	f := newStitchFixture(t, 2)
	ctx := context.Background()

	// Blank out one segment's stored output; the invariant check must fail
	// the parent rather than stitch a partial video.
	segs, err := f.stores.Longform.ListSegments(ctx, f.job.ID)
	require.NoError(t, err)
	_, err = f.pool.Exec(ctx,
		`UPDATE longform_segments SET segment_storage_path = '' WHERE id = $1`, segs[1].ID)
	require.NoError(t, err)

	err = f.stitcher.Stitch(ctx, f.job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without output")

	job, err := f.stores.Jobs.Get(ctx, f.job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Nil(t, f.composer.got, "compose never runs on inconsistent input")
}
