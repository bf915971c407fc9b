package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylark-media/atelier/pkg/models"
	"github.com/skylark-media/atelier/pkg/store"
	testdb "github.com/skylark-media/atelier/test/database"
)

func newTestLedger(t *testing.T) (*Ledger, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	stores := store.New(testdb.NewTestPool(t))

	user := &models.User{Email: uuid.NewString()[:8] + "@example.com"}
	require.NoError(t, stores.Users.Create(ctx, user))
	hash, err := models.RequestHash(user.ID, []byte(`{"text":"x"}`))
	require.NoError(t, err)
	res, err := stores.Jobs.Submit(ctx, user.ID, models.StudioAudio, hash,
		json.RawMessage(`{"text":"x"}`), nil)
	require.NoError(t, err)

	ledger := NewLedger(stores.ProviderRuns, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return ledger, res.Job.ID
}

func TestKey(t *testing.T) {
	assert.Equal(t, "tts:job-1:0", Key("tts", "job-1", "0"))
	assert.Equal(t, "face_video:a:b:c", Key("face_video", "a", "b", "c"))
}

func TestLedgerBeginResume(t *testing.T) {
	ledger, jobID := newTestLedger(t)
	ctx := context.Background()
	key := Key("tts", jobID.String(), "0")

	run, resume, err := ledger.Begin(ctx, jobID, "tts", key, map[string]string{"text": "x"})
	require.NoError(t, err)
	assert.False(t, resume, "first attempt never resumes")
	assert.Equal(t, models.RunCreated, run.ProviderStatus)

	// Unsubmitted runs do not resume; the provider was never called.
	again, resume, err := ledger.Begin(ctx, jobID, "tts", key, nil)
	require.NoError(t, err)
	assert.False(t, resume)
	assert.Equal(t, run.ID, again.ID)

	require.NoError(t, ledger.Submitted(ctx, run, "prov-42", map[string]string{"id": "prov-42"}))

	// After submission the same key resumes with the provider job id.
	resumed, resume, err := ledger.Begin(ctx, jobID, "tts", key, nil)
	require.NoError(t, err)
	assert.True(t, resume)
	assert.Equal(t, "prov-42", resumed.ProviderJobID)
	assert.Equal(t, models.RunSubmitted, resumed.ProviderStatus)

	require.NoError(t, ledger.Running(ctx, resumed))
	assert.Equal(t, models.RunRunning, resumed.ProviderStatus)

	// Terminal runs resume too; the caller short-circuits from the
	// recorded response instead of calling the provider again.
	require.NoError(t, ledger.Succeeded(ctx, resumed, map[string]string{"url": "https://cdn/a.mp3"}))
	done, resume, err := ledger.Begin(ctx, jobID, "tts", key, nil)
	require.NoError(t, err)
	assert.True(t, resume)
	assert.Equal(t, models.RunSucceeded, done.ProviderStatus)
	assert.JSONEq(t, `{"url":"https://cdn/a.mp3"}`, string(done.Response))
}

func TestLedgerSyncCallResume(t *testing.T) {
	ledger, jobID := newTestLedger(t)
	ctx := context.Background()
	key := Key("tts", jobID.String())

	run, resume, err := ledger.Begin(ctx, jobID, "tts", key, map[string]string{"text": "x"})
	require.NoError(t, err)
	require.False(t, resume)

	// Synchronous providers finish without ever recording a provider job
	// id. The terminal row must still resume, or a requeue would pay for
	// the call twice.
	require.NoError(t, ledger.Succeeded(ctx, run, map[string]string{"audio_url": "https://cdn/a.mp3"}))

	again, resume, err := ledger.Begin(ctx, jobID, "tts", key, nil)
	require.NoError(t, err)
	assert.True(t, resume)
	assert.Empty(t, again.ProviderJobID)
	assert.Equal(t, models.RunSucceeded, again.ProviderStatus)
	assert.JSONEq(t, `{"audio_url":"https://cdn/a.mp3"}`, string(again.Response))

	// A failed synchronous run also resumes; callers treat it as a fresh
	// submit under the same key.
	failKey := Key("music", jobID.String(), "0")
	failRun, _, err := ledger.Begin(ctx, jobID, "music", failKey, nil)
	require.NoError(t, err)
	require.NoError(t, ledger.Failed(ctx, failRun, errors.New("provider exploded")))
	failed, resume, err := ledger.Begin(ctx, jobID, "music", failKey, nil)
	require.NoError(t, err)
	assert.True(t, resume)
	assert.Equal(t, models.RunFailed, failed.ProviderStatus)
}

func TestLedgerFailed(t *testing.T) {
	ledger, jobID := newTestLedger(t)
	ctx := context.Background()

	run, _, err := ledger.Begin(ctx, jobID, "music", Key("music", jobID.String(), "0"), nil)
	require.NoError(t, err)
	require.NoError(t, ledger.Failed(ctx, run, errors.New("provider exploded")))
	assert.Equal(t, models.RunFailed, run.ProviderStatus)
}
