package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/skylark-media/atelier/pkg/config"
)

// Client uploads blobs to the storage namespace. Writes go to the stable
// {container}/{path} identity; read URLs are minted separately by the Signer.
type Client struct {
	cfg    *config.StorageConfig
	signer *Signer
	http   *http.Client
}

// NewClient creates the blob client.
func NewClient(cfg *config.StorageConfig, signer *Signer) *Client {
	return &Client{
		cfg:    cfg,
		signer: signer,
		http:   &http.Client{Timeout: 5 * time.Minute},
	}
}

// Upload stores a blob and returns its sha256 hex digest. The path follows
// the output convention {user_id}/{scope_id}/{variant}.{ext}.
func (c *Client) Upload(ctx context.Context, container, path string, data []byte, contentType string) (sha string, err error) {
	base := c.cfg.Endpoint
	if base == "" {
		base = "https://" + c.cfg.AccountHost
	}
	u := fmt.Sprintf("%s/%s/%s", base, container, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to build upload request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	// Writes authenticate with the signing key over the blob identity; the
	// storage gateway verifies the same HMAC scheme used for read URLs.
	req.Header.Set("Authorization", "SAS "+c.signer.signature(container, path, "", ""))

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("upload returned HTTP %d: %s", resp.StatusCode, msg)
	}

	digest := sha256.Sum256(data)
	return hex.EncodeToString(digest[:]), nil
}

// Download fetches a blob by its signed URL.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download returned HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
