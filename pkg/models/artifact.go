package models

import (
	"time"

	"github.com/google/uuid"
)

// ArtifactKind classifies a stored media blob.
type ArtifactKind string

// Artifact kinds.
const (
	KindAudio ArtifactKind = "audio"
	KindImage ArtifactKind = "image"
	KindVideo ArtifactKind = "video"
	KindFace  ArtifactKind = "face"
)

// MetaStoragePath is the meta key holding the stable blob identity used to
// mint fresh signed URLs. The url column is a time-limited signed URL and is
// never trusted for playback.
const MetaStoragePath = "storage_path"

// Artifact is a produced or uploaded media blob. JobID is nil for direct
// user uploads.
type Artifact struct {
	ID          uuid.UUID      `json:"id"`
	JobID       *uuid.UUID     `json:"job_id,omitempty"`
	Kind        ArtifactKind   `json:"kind"`
	URL         string         `json:"url"`
	ContentType string         `json:"content_type"`
	SHA256      string         `json:"sha256"`
	Bytes       int64          `json:"bytes"`
	Meta        map[string]any `json:"meta,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// StoragePath returns the stable blob identity, or "" when the artifact was
// recorded with an external URL only.
func (a *Artifact) StoragePath() string {
	if a.Meta == nil {
		return ""
	}
	s, _ := a.Meta[MetaStoragePath].(string)
	return s
}

// MediaAsset is a user-owned reusable input (voice reference, face image,
// BYO audio). Its lifetime is independent of any job.
type MediaAsset struct {
	ID          uuid.UUID      `json:"id"`
	UserID      uuid.UUID      `json:"user_id"`
	Kind        ArtifactKind   `json:"kind"`
	URL         string         `json:"url"`
	ContentType string         `json:"content_type"`
	SHA256      string         `json:"sha256"`
	Bytes       int64          `json:"bytes"`
	DurationMS  int64          `json:"duration_ms,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
