package provider

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylark-media/atelier/pkg/config"
	"github.com/skylark-media/atelier/pkg/models"
)

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveProviderRequest(ctx context.Context, provider, outcome string, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func newHTTPTestClient(t *testing.T, srv *httptest.Server, obs Observer) *client {
	t.Helper()
	t.Setenv("TEST_PROVIDER_KEY", "key-123")
	cfg := &config.ProviderConfig{
		BaseURL:   srv.URL,
		APIKeyEnv: "TEST_PROVIDER_KEY",
		Timeout:   5 * time.Second,
	}
	return newClient("testprov", cfg, obs, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDoJSONRoundTrip(t *testing.T) {
	obs := &recordingObserver{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key-123", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"text":"hello"}`, string(body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"run-1"}`))
	}))
	defer srv.Close()

	c := newHTTPTestClient(t, srv, obs)
	var out struct {
		ID string `json:"id"`
	}
	err := c.doJSON(context.Background(), http.MethodPost, "/synthesize",
		map[string]string{"text": "hello"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "run-1", out.ID)
	assert.Equal(t, []string{"ok"}, obs.outcomes)
}

func TestDoJSONClassifiesStatuses(t *testing.T) {
	var status int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("upstream said no"))
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	c := newHTTPTestClient(t, srv, obs)

	status = http.StatusServiceUnavailable
	err := c.doJSON(context.Background(), http.MethodGet, "/status", nil, nil)
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, models.CodeProvider5xx, pe.Code)
	assert.True(t, pe.Transient())
	assert.Contains(t, pe.Message, "upstream said no")

	status = http.StatusBadRequest
	err = c.doJSON(context.Background(), http.MethodGet, "/status", nil, nil)
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, models.CodeProvider4xx, pe.Code)
	assert.False(t, pe.Transient())

	assert.Equal(t, []string{"http_503", "http_400"}, obs.outcomes)
}

func TestDoJSONTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse all connections

	c := newHTTPTestClient(t, srv, nil)
	err := c.doJSON(context.Background(), http.MethodGet, "/status", nil, nil)
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, models.CodeNetworkError, pe.Code)
	assert.True(t, pe.Transient())
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("binary-audio-bytes"))
	}))
	defer srv.Close()

	c := newHTTPTestClient(t, srv, nil)
	data, contentType, err := c.download(context.Background(), srv.URL+"/outputs/a.mp3")
	require.NoError(t, err)
	assert.Equal(t, []byte("binary-audio-bytes"), data)
	assert.Equal(t, "audio/mpeg", contentType)
}

func TestDownloadNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := newHTTPTestClient(t, srv, nil)
	_, _, err := c.download(context.Background(), srv.URL+"/gone.mp3")
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, models.CodeProvider4xx, pe.Code)
}
