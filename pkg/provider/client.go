// Package provider implements the HTTP clients for external media providers
// (TTS, image, face-video, music, translation) and the ledger wrapper that
// makes every outbound call at-most-once observable from the provider side.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/skylark-media/atelier/pkg/config"
)

// Observer receives one measurement per provider round trip. Implemented by
// pkg/observe; a nil observer is a no-op.
type Observer interface {
	ObserveProviderRequest(ctx context.Context, provider, outcome string, elapsed time.Duration)
}

// client is the shared HTTP plumbing under every provider client.
type client struct {
	provider string
	baseURL  string
	apiKey   string
	http     *http.Client
	observer Observer
	logger   *slog.Logger
}

func newClient(provider string, cfg *config.ProviderConfig, observer Observer, logger *slog.Logger) *client {
	return &client{
		provider: provider,
		baseURL:  cfg.BaseURL,
		apiKey:   os.Getenv(cfg.APIKeyEnv),
		http:     &http.Client{Timeout: cfg.Timeout},
		observer: observer,
		logger:   logger.With("provider", provider),
	}
}

// doJSON performs one JSON round trip. Non-2xx responses become a classified
// *Error; transport failures are classified by cause.
func (c *client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", c.provider, err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", c.provider, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(ctx, "transport_error", start)
		return wrapTransportError(c.provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.observe(ctx, fmt.Sprintf("http_%d", resp.StatusCode), start)
		// Body is read for the message only; truncated to keep error rows small.
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &Error{
			Provider:   c.provider,
			StatusCode: resp.StatusCode,
			Code:       classifyStatus(resp.StatusCode),
			Message:    fmt.Sprintf("HTTP %d: %s", resp.StatusCode, msg),
		}
	}
	c.observe(ctx, "ok", start)

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", c.provider, err)
	}
	return nil
}

// download fetches a binary body from an absolute URL (not baseURL-relative);
// used to pull generated media before re-uploading to blob storage.
func (c *client) download(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build download request: %w", err)
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(ctx, "transport_error", start)
		return nil, "", wrapTransportError(c.provider, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.observe(ctx, fmt.Sprintf("http_%d", resp.StatusCode), start)
		return nil, "", &Error{
			Provider:   c.provider,
			StatusCode: resp.StatusCode,
			Code:       classifyStatus(resp.StatusCode),
			Message:    fmt.Sprintf("download returned HTTP %d", resp.StatusCode),
		}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.observe(ctx, "transport_error", start)
		return nil, "", wrapTransportError(c.provider, err)
	}
	c.observe(ctx, "ok", start)
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *client) observe(ctx context.Context, outcome string, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveProviderRequest(ctx, c.provider, outcome, time.Since(start))
	}
}
