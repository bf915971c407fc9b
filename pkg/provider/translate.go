package provider

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/skylark-media/atelier/pkg/config"
)

// TranslateClient speaks to the translation provider, used by the face
// processor to normalize prompts to English before image generation.
type TranslateClient struct {
	c *client
}

// NewTranslateClient creates the translation provider client.
func NewTranslateClient(cfg *config.ProviderConfig, observer Observer, logger *slog.Logger) *TranslateClient {
	return &TranslateClient{c: newClient("translate", cfg, observer, logger)}
}

// Translate renders text into the target locale.
func (t *TranslateClient) Translate(ctx context.Context, text, targetLocale string) (string, error) {
	in := map[string]string{"text": text, "target_locale": targetLocale}
	var resp struct {
		Text string `json:"text"`
	}
	if err := t.c.doJSON(ctx, http.MethodPost, "/v1/translate", in, &resp); err != nil {
		return "", err
	}
	if resp.Text == "" {
		return text, nil
	}
	return resp.Text, nil
}
