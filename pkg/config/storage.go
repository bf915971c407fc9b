package config

import "time"

// StorageConfig describes the blob storage namespace and signed-URL policy.
type StorageConfig struct {
	// AccountHost is the blob storage host, e.g. "atelierprod.blob.example.net".
	// Only URLs on this host are eligible for re-signing.
	AccountHost string `yaml:"account_host"`

	// Endpoint overrides the https://{account_host} write base URL, for
	// local storage gateways in development.
	Endpoint string `yaml:"endpoint"`

	// SigningKeyEnv names the env var holding the base64 SAS signing key.
	SigningKeyEnv string `yaml:"signing_key_env"`

	// Containers maps artifact kinds to storage containers.
	Containers map[string]string `yaml:"containers"`

	// Signed-URL TTLs per artifact kind and age class: short for face
	// images, long for recent videos, shorter for older ones.
	FaceImageTTL   time.Duration `yaml:"face_image_ttl"`
	RecentVideoTTL time.Duration `yaml:"recent_video_ttl"`
	OldVideoTTL    time.Duration `yaml:"old_video_ttl"`
	DefaultTTL     time.Duration `yaml:"default_ttl"`

	// RecentVideoAge is the cut-off separating recent from old videos.
	RecentVideoAge time.Duration `yaml:"recent_video_age"`
}

// DefaultStorageConfig returns the built-in storage defaults.
func DefaultStorageConfig() *StorageConfig {
	return &StorageConfig{
		SigningKeyEnv: "ATELIER_BLOB_SIGNING_KEY",
		Containers: map[string]string{
			"audio": "audio-out",
			"image": "image-out",
			"video": "video-out",
			"face":  "face-out",
		},
		FaceImageTTL:   2 * time.Hour,
		RecentVideoTTL: 15 * 24 * time.Hour,
		OldVideoTTL:    24 * time.Hour,
		DefaultTTL:     24 * time.Hour,
		RecentVideoAge: 7 * 24 * time.Hour,
	}
}

// Container returns the container for an artifact kind, falling back to the
// video container.
func (c *StorageConfig) Container(kind string) string {
	if ct, ok := c.Containers[kind]; ok {
		return ct
	}
	return c.Containers["video"]
}
