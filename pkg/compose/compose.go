// Package compose wraps the stitching collaborator: an external service that
// concatenates ordered segment videos into one output file. The call is
// synchronous and bounded by the client timeout.
package compose

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/skylark-media/atelier/pkg/config"
)

// Request describes one stitch operation. SegmentURLs are strictly ordered;
// the output preserves that order.
type Request struct {
	SegmentURLs []string `json:"segment_urls"`
	AspectRatio string   `json:"aspect_ratio"`
	Captions    []string `json:"captions,omitempty"`
}

// Result is the stitched output.
type Result struct {
	VideoURL    string `json:"video_url"`
	ContentType string `json:"content_type,omitempty"`
	Bytes       int64  `json:"bytes,omitempty"`
	DurationMS  int64  `json:"duration_ms,omitempty"`
}

// Composer concatenates segment videos into one file.
type Composer interface {
	Stitch(ctx context.Context, req *Request) (*Result, error)
}

// HTTPComposer calls the compose service over HTTP.
type HTTPComposer struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

// NewHTTPComposer creates the compose client.
func NewHTTPComposer(cfg *config.ProviderConfig, logger *slog.Logger) *HTTPComposer {
	return &HTTPComposer{
		baseURL: cfg.BaseURL,
		apiKey:  os.Getenv(cfg.APIKeyEnv),
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger.With("component", "compose"),
	}
}

// Stitch runs one compose call.
func (c *HTTPComposer) Stitch(ctx context.Context, req *Request) (*Result, error) {
	if len(req.SegmentURLs) == 0 {
		return nil, fmt.Errorf("compose requires at least one segment")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode compose request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/compose", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build compose request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("compose call failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("compose returned HTTP %d: %s", resp.StatusCode, msg)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode compose response: %w", err)
	}
	if result.VideoURL == "" {
		return nil, fmt.Errorf("compose returned no output video")
	}
	return &result, nil
}
