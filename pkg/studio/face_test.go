package studio

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylark-media/atelier/pkg/blob"
	"github.com/skylark-media/atelier/pkg/config"
	"github.com/skylark-media/atelier/pkg/models"
	"github.com/skylark-media/atelier/pkg/provider"
	"github.com/skylark-media/atelier/pkg/store"
	testdb "github.com/skylark-media/atelier/test/database"
)

// fakeImageProvider emulates the text-to-image provider and the storage
// gateway. failUploadPath makes one PUT fail once, forcing a mid-batch
// requeue.
type fakeImageProvider struct {
	mu             sync.Mutex
	generates      int
	failUploadPath string
}

func (f *fakeImageProvider) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/images":
			f.generates++
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{
				"b64": base64.StdEncoding.EncodeToString([]byte("image-bytes")),
			})
		case r.Method == http.MethodPut:
			if f.failUploadPath != "" && strings.HasSuffix(r.URL.Path, f.failUploadPath) {
				f.failUploadPath = ""
				http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusCreated)
		default:
			http.NotFound(w, r)
		}
	}
}

func newFaceFixture(t *testing.T) (*FaceProcessor, *store.Stores, *fakeImageProvider) {
	t.Helper()
	stores := store.New(testdb.NewTestPool(t))

	prov := &fakeImageProvider{}
	srv := httptest.NewServer(prov.handler())
	t.Cleanup(srv.Close)

	t.Setenv("IMAGE_API_KEY", "key-123")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	storage := config.DefaultStorageConfig()
	storage.AccountHost = "atelierdev.blob.example.net"
	storage.Endpoint = srv.URL
	signer := blob.NewSignerWithKey(storage, []byte("face-test-key"))

	proc := NewFaceProcessor(&Deps{
		Stores: stores,
		Ledger: provider.NewLedger(stores.ProviderRuns, logger),
		Image: provider.NewImageClient(&config.ProviderConfig{
			BaseURL:   srv.URL,
			APIKeyEnv: "IMAGE_API_KEY",
			Timeout:   5 * time.Second,
		}, nil, nil, logger),
		Blob:   blob.NewClient(storage, signer),
		Signer: signer,
		Safety: NewSafetyFilter(&config.SafetyConfig{}),
		Cfg: &config.Config{
			Queue:   config.DefaultQueueConfig(),
			Storage: storage,
		},
		Logger: logger,
	})
	return proc, stores, prov
}

func submitFaceJob(t *testing.T, stores *store.Stores, payload string) *models.Job {
	t.Helper()
	ctx := context.Background()
	user := &models.User{Email: uuid.NewString()[:8] + "@example.com"}
	require.NoError(t, stores.Users.Create(ctx, user))
	hash, err := models.RequestHash(user.ID, []byte(payload))
	require.NoError(t, err)
	_, err = stores.Jobs.Submit(ctx, user.ID, models.StudioFace, hash, []byte(payload), nil)
	require.NoError(t, err)
	claimed, err := stores.Jobs.ClaimBatch(ctx, models.StudioFace, 1, "pod-face-0")
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	return claimed[0]
}

func TestFaceProcessGeneratesVariants(t *testing.T) {
	proc, stores, prov := newFaceFixture(t)
	ctx := context.Background()

	job := submitFaceJob(t, stores, `{"prompt":"a friendly face","variants":2}`)
	res := proc.Process(ctx, job)
	assert.Equal(t, models.JobSucceeded, res.Status)
	assert.Equal(t, 2, prov.generates)

	artifacts, err := stores.Artifacts.ListByJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, artifacts, 2)
	for _, a := range artifacts {
		assert.Equal(t, models.KindFace, a.Kind)
		assert.Equal(t, int64(len("image-bytes")), a.Bytes)
	}
}

func TestFaceRequeueDoesNotDuplicateVariants(t *testing.T) {
	proc, stores, prov := newFaceFixture(t)
	ctx := context.Background()

	// The third variant's upload fails, requeueing the job after two
	// variants were already persisted and their runs recorded succeeded.
	prov.failUploadPath = "/2.png"
	job := submitFaceJob(t, stores, `{"prompt":"a friendly face","variants":4}`)
	res := proc.Process(ctx, job)
	require.Equal(t, models.JobQueued, res.Status)
	require.Equal(t, 3, prov.generates)

	artifacts, err := stores.Artifacts.ListByJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, artifacts, 2)

	// The retry resumes the finished variants from the ledger and only
	// generates the two that never landed.
	res = proc.Process(ctx, job)
	assert.Equal(t, models.JobSucceeded, res.Status)
	assert.Equal(t, 5, prov.generates)

	artifacts, err = stores.Artifacts.ListByJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, artifacts, 4)
	seen := map[int]bool{}
	for _, a := range artifacts {
		idx := int(a.Meta["variant"].(float64))
		assert.False(t, seen[idx], "variant %d persisted twice", idx)
		seen[idx] = true
	}
}
