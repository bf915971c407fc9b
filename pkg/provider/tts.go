package provider

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/skylark-media/atelier/pkg/config"
)

// TTSClient speaks to the text-to-speech provider. Synthesis is synchronous
// at the HTTP level; the provider returns one or more rendered variants.
type TTSClient struct {
	c *client
}

// NewTTSClient creates the TTS provider client.
func NewTTSClient(cfg *config.ProviderConfig, observer Observer, logger *slog.Logger) *TTSClient {
	return &TTSClient{c: newClient("tts", cfg, observer, logger)}
}

// TTSRequest is the synthesis input.
type TTSRequest struct {
	Text         string  `json:"text"`
	TargetLocale string  `json:"target_locale"`
	Voice        string  `json:"voice,omitempty"`
	Style        string  `json:"style,omitempty"`
	Rate         float64 `json:"rate,omitempty"`
	Pitch        float64 `json:"pitch,omitempty"`
	OutputFormat string  `json:"output_format,omitempty"` // mp3 or wav
}

// TTSVariant is one rendered audio output.
type TTSVariant struct {
	AudioURL    string `json:"audio_url"`
	ContentType string `json:"content_type"`
	Bytes       int64  `json:"bytes"`
	DurationMS  int64  `json:"duration_ms"`
}

// Synthesize renders the text and returns the produced variants.
func (t *TTSClient) Synthesize(ctx context.Context, req *TTSRequest) ([]TTSVariant, error) {
	if req.OutputFormat == "" {
		req.OutputFormat = "mp3"
	}
	var resp struct {
		Variants []TTSVariant `json:"variants"`
	}
	if err := t.c.doJSON(ctx, http.MethodPost, "/v1/speech", req, &resp); err != nil {
		return nil, err
	}
	return resp.Variants, nil
}

// Download fetches rendered audio bytes.
func (t *TTSClient) Download(ctx context.Context, audioURL string) ([]byte, string, error) {
	return t.c.download(ctx, audioURL)
}
