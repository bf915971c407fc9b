// Package blob mints and refreshes signed read URLs for stored media. Blob
// identity is the stable {container}/{path} pair; every URL handed to a
// client is minted at read time with a TTL chosen by artifact kind and age.
package blob

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/skylark-media/atelier/pkg/config"
	"github.com/skylark-media/atelier/pkg/models"
)

// Query parameters of a signed URL.
const (
	paramPermissions = "sp"
	paramStart       = "st"
	paramExpiry      = "se"
	paramSignature   = "sig"

	permissionRead = "r"
)

const timeFormat = time.RFC3339

// Signer mints SAS-style signed URLs with an HMAC-SHA256 key.
type Signer struct {
	cfg *config.StorageConfig
	key []byte
	now func() time.Time
}

// NewSigner loads the signing key from the configured env var.
func NewSigner(cfg *config.StorageConfig) (*Signer, error) {
	raw := os.Getenv(cfg.SigningKeyEnv)
	if raw == "" {
		return nil, fmt.Errorf("signing key env %s is not set", cfg.SigningKeyEnv)
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("signing key is not valid base64: %w", err)
	}
	return &Signer{cfg: cfg, key: key, now: time.Now}, nil
}

// NewSignerWithKey builds a signer from an explicit key. Test constructor.
func NewSignerWithKey(cfg *config.StorageConfig, key []byte) *Signer {
	return &Signer{cfg: cfg, key: key, now: time.Now}
}

// stringToSign is the canonical signed payload: permissions, blob identity,
// and validity window, newline separated.
func (s *Signer) stringToSign(container, path, start, expiry string) string {
	return strings.Join([]string{permissionRead, container + "/" + path, start, expiry}, "\n")
}

func (s *Signer) signature(container, path, start, expiry string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(s.stringToSign(container, path, start, expiry)))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// SignPath mints a read URL for a blob valid for ttl from now.
func (s *Signer) SignPath(container, path string, ttl time.Duration) string {
	now := s.now().UTC()
	start := now.Add(-5 * time.Minute).Format(timeFormat) // clock skew allowance
	expiry := now.Add(ttl).Format(timeFormat)

	q := url.Values{}
	q.Set(paramPermissions, permissionRead)
	q.Set(paramStart, start)
	q.Set(paramExpiry, expiry)
	q.Set(paramSignature, s.signature(container, path, start, expiry))

	u := url.URL{
		Scheme:   "https",
		Host:     s.cfg.AccountHost,
		Path:     "/" + container + "/" + path,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// Verify checks a signed URL's signature and validity window. Used by tests
// and by the upload callback endpoint.
func (s *Signer) Verify(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed url: %w", err)
	}
	if u.Host != s.cfg.AccountHost {
		return fmt.Errorf("host %q is not the storage account", u.Host)
	}
	container, path, ok := splitBlobPath(u.Path)
	if !ok {
		return fmt.Errorf("url path %q does not name a blob", u.Path)
	}
	q := u.Query()
	start, expiry := q.Get(paramStart), q.Get(paramExpiry)
	want := s.signature(container, path, start, expiry)
	if !hmac.Equal([]byte(want), []byte(q.Get(paramSignature))) {
		return fmt.Errorf("signature mismatch")
	}
	now := s.now().UTC()
	st, err := time.Parse(timeFormat, start)
	if err != nil || now.Before(st) {
		return fmt.Errorf("url not yet valid")
	}
	se, err := time.Parse(timeFormat, expiry)
	if err != nil || now.After(se) {
		return fmt.Errorf("url expired")
	}
	return nil
}

func splitBlobPath(p string) (container, path string, ok bool) {
	p = strings.TrimPrefix(p, "/")
	container, path, ok = strings.Cut(p, "/")
	if container == "" || path == "" {
		return "", "", false
	}
	return container, path, ok
}

// Container maps an artifact kind to its storage container.
func (s *Signer) Container(kind string) string {
	return s.cfg.Container(kind)
}

// TTLFor implements the signed-URL lifetime policy: face images get a short
// window, videos get a long window while recent and a shorter one once old,
// everything else the default.
func (s *Signer) TTLFor(kind models.ArtifactKind, createdAt time.Time) time.Duration {
	switch kind {
	case models.KindFace:
		return s.cfg.FaceImageTTL
	case models.KindVideo:
		if s.now().Sub(createdAt) <= s.cfg.RecentVideoAge {
			return s.cfg.RecentVideoTTL
		}
		return s.cfg.OldVideoTTL
	default:
		return s.cfg.DefaultTTL
	}
}

// FreshURL returns a playback URL for an artifact. Artifacts with a stored
// blob identity get a newly minted URL; artifacts recorded with an external
// URL only (no storage path, or a foreign host) are returned as-is since the
// signer has no authority over them.
func (s *Signer) FreshURL(a *models.Artifact) string {
	path := a.StoragePath()
	if path == "" {
		return a.URL
	}
	if u, err := url.Parse(a.URL); err == nil && u.Host != "" && u.Host != s.cfg.AccountHost {
		return a.URL
	}
	container := s.cfg.Container(string(a.Kind))
	return s.SignPath(container, path, s.TTLFor(a.Kind, a.CreatedAt))
}
