package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"github.com/skylark-media/atelier/pkg/config"
)

// ImageClient speaks to the text-to-image provider.
type ImageClient struct {
	c            *client
	allowedSizes []string
}

// NewImageClient creates the image provider client. allowedSizes is the
// provider's "WxH" allow-list; anything else is coerced to auto.
func NewImageClient(cfg *config.ProviderConfig, allowedSizes []string, observer Observer, logger *slog.Logger) *ImageClient {
	return &ImageClient{c: newClient("image", cfg, observer, logger), allowedSizes: allowedSizes}
}

// ImageRequest is the generation input.
type ImageRequest struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Seed           int64   `json:"seed,omitempty"`
	Size           string  `json:"size,omitempty"`
	Steps          int     `json:"steps,omitempty"`
	Guidance       float64 `json:"guidance,omitempty"`
}

// ImageResult is one generated image, as a URL or inline base64 body.
type ImageResult struct {
	URL         string `json:"url,omitempty"`
	B64         string `json:"b64,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// CoerceSize clamps a requested "WxH" size to the provider allow-list; sizes
// off the list become "auto" rather than failing the job.
func (i *ImageClient) CoerceSize(size string) string {
	if size == "" || !slices.Contains(i.allowedSizes, size) {
		return "auto"
	}
	return size
}

// Generate produces one image for the prompt.
func (i *ImageClient) Generate(ctx context.Context, req *ImageRequest) (*ImageResult, error) {
	req.Size = i.CoerceSize(req.Size)
	var resp ImageResult
	if err := i.c.doJSON(ctx, http.MethodPost, "/v1/images", req, &resp); err != nil {
		return nil, err
	}
	if resp.URL == "" && resp.B64 == "" {
		return nil, fmt.Errorf("image provider returned neither url nor bytes")
	}
	return &resp, nil
}

// Download fetches generated image bytes.
func (i *ImageClient) Download(ctx context.Context, imageURL string) ([]byte, string, error) {
	return i.c.download(ctx, imageURL)
}
