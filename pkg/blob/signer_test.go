package blob

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylark-media/atelier/pkg/config"
	"github.com/skylark-media/atelier/pkg/models"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	cfg := config.DefaultStorageConfig()
	cfg.AccountHost = "atelierdev.blob.example.net"
	return NewSignerWithKey(cfg, []byte("0123456789abcdef0123456789abcdef"))
}

func TestSignAndVerify(t *testing.T) {
	s := newTestSigner(t)

	signed := s.SignPath("video-out", "jobs/abc/final.mp4", time.Hour)
	require.NoError(t, s.Verify(signed))

	u, err := url.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, "atelierdev.blob.example.net", u.Host)
	assert.Equal(t, "/video-out/jobs/abc/final.mp4", u.Path)
	q := u.Query()
	assert.Equal(t, "r", q.Get("sp"))
	assert.NotEmpty(t, q.Get("st"))
	assert.NotEmpty(t, q.Get("se"))
	assert.NotEmpty(t, q.Get("sig"))
}

func TestVerifyRejectsTampering(t *testing.T) {
	s := newTestSigner(t)
	signed := s.SignPath("video-out", "jobs/abc/final.mp4", time.Hour)

	// Swapping the blob path invalidates the signature.
	tampered, err := url.Parse(signed)
	require.NoError(t, err)
	tampered.Path = "/video-out/jobs/abc/other.mp4"
	assert.ErrorContains(t, s.Verify(tampered.String()), "signature mismatch")

	// Extending the expiry invalidates the signature too.
	extended, err := url.Parse(signed)
	require.NoError(t, err)
	q := extended.Query()
	q.Set("se", time.Now().Add(100*time.Hour).UTC().Format(time.RFC3339))
	extended.RawQuery = q.Encode()
	assert.ErrorContains(t, s.Verify(extended.String()), "signature mismatch")

	// A different key produces unverifiable URLs.
	other := NewSignerWithKey(s.cfg, []byte("another-key-entirely-here-000000"))
	assert.Error(t, other.Verify(signed))

	// Foreign hosts are rejected outright.
	foreign := "https://elsewhere.example.com/video-out/jobs/abc/final.mp4"
	assert.Error(t, s.Verify(foreign))
}

func TestVerifyExpiry(t *testing.T) {
	s := newTestSigner(t)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	signed := s.SignPath("audio-out", "jobs/x/narration.mp3", time.Hour)
	require.NoError(t, s.Verify(signed))

	s.now = func() time.Time { return now.Add(2 * time.Hour) }
	assert.ErrorContains(t, s.Verify(signed), "expired")

	// Before the start window (minus the skew allowance) the URL is invalid.
	s.now = func() time.Time { return now.Add(-time.Hour) }
	assert.ErrorContains(t, s.Verify(signed), "not yet valid")
}

func TestTTLForPolicy(t *testing.T) {
	s := newTestSigner(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	assert.Equal(t, s.cfg.FaceImageTTL, s.TTLFor(models.KindFace, now))
	assert.Equal(t, s.cfg.DefaultTTL, s.TTLFor(models.KindAudio, now))
	assert.Equal(t, s.cfg.DefaultTTL, s.TTLFor(models.KindImage, now))

	recent := now.Add(-24 * time.Hour)
	assert.Equal(t, s.cfg.RecentVideoTTL, s.TTLFor(models.KindVideo, recent))

	old := now.Add(-30 * 24 * time.Hour)
	assert.Equal(t, s.cfg.OldVideoTTL, s.TTLFor(models.KindVideo, old))
}

func TestFreshURL(t *testing.T) {
	s := newTestSigner(t)

	// Stored blob identity: mint a new signed URL regardless of the stale one.
	stored := &models.Artifact{
		Kind:      models.KindVideo,
		URL:       "https://atelierdev.blob.example.net/video-out/jobs/a/v.mp4?sig=stale",
		Meta:      map[string]any{models.MetaStoragePath: "jobs/a/v.mp4"},
		CreatedAt: time.Now(),
	}
	fresh := s.FreshURL(stored)
	assert.NotEqual(t, stored.URL, fresh)
	require.NoError(t, s.Verify(fresh))

	// External URL with no storage path passes through untouched.
	external := &models.Artifact{
		Kind: models.KindAudio,
		URL:  "https://provider.example.com/outputs/track.mp3",
	}
	assert.Equal(t, external.URL, s.FreshURL(external))

	// A foreign host wins even when a storage path is present.
	foreign := &models.Artifact{
		Kind: models.KindVideo,
		URL:  "https://provider.example.com/outputs/clip.mp4",
		Meta: map[string]any{models.MetaStoragePath: "jobs/b/clip.mp4"},
	}
	assert.Equal(t, foreign.URL, s.FreshURL(foreign))
}

func TestContainerFallback(t *testing.T) {
	s := newTestSigner(t)
	assert.Equal(t, "audio-out", s.Container("audio"))
	assert.Equal(t, "face-out", s.Container("face"))
	assert.Equal(t, "video-out", s.Container("unknown-kind"),
		"unknown kinds fall back to the video container")
}
