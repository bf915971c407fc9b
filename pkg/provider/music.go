package provider

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/skylark-media/atelier/pkg/config"
)

// MusicClient speaks to the music synthesis provider.
type MusicClient struct {
	c *client
}

// NewMusicClient creates the music provider client.
func NewMusicClient(cfg *config.ProviderConfig, observer Observer, logger *slog.Logger) *MusicClient {
	return &MusicClient{c: newClient("music", cfg, observer, logger)}
}

// MusicRequest is the generation input.
type MusicRequest struct {
	Prompt       string   `json:"prompt"`
	Tags         []string `json:"tags,omitempty"`
	Lyrics       string   `json:"lyrics,omitempty"`
	Instrumental bool     `json:"instrumental,omitempty"`
	Seed         int64    `json:"seed,omitempty"`
	OutputFormat string   `json:"output_format,omitempty"`
	BitRate      int      `json:"bit_rate,omitempty"`
}

// MusicResult is one generated track.
type MusicResult struct {
	AudioURL    string `json:"audio_url"`
	ContentType string `json:"content_type,omitempty"`
	DurationMS  int64  `json:"duration_ms,omitempty"`
}

// Generate produces one track. Candidate groups are driven by the processor
// issuing N independent calls with distinct seeds and idempotency keys.
func (m *MusicClient) Generate(ctx context.Context, req *MusicRequest) (*MusicResult, error) {
	if req.OutputFormat == "" {
		req.OutputFormat = "mp3"
	}
	var resp MusicResult
	if err := m.c.doJSON(ctx, http.MethodPost, "/v1/music", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Download fetches generated audio bytes.
func (m *MusicClient) Download(ctx context.Context, audioURL string) ([]byte, string, error) {
	return m.c.download(ctx, audioURL)
}
