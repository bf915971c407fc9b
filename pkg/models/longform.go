package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// VoiceGenderMode selects how per-segment voices are chosen.
type VoiceGenderMode string

// Voice gender modes.
const (
	VoiceGenderAuto   VoiceGenderMode = "auto"
	VoiceGenderManual VoiceGenderMode = "manual"
)

// LongformJob is the parent record of a long-form build, one-to-one with a
// jobs row of studio_type=longform. The worker credential reference is a
// reusable service credential: async execution outlives any short-lived
// user token, so user tokens are rejected at submit.
type LongformJob struct {
	JobID               uuid.UUID       `json:"job_id"`
	TotalSegments       int             `json:"total_segments"`
	CompletedSegments   int             `json:"completed_segments"`
	AspectRatio         string          `json:"aspect_ratio"`
	SegmentSeconds      int             `json:"segment_seconds"`
	MaxSegmentSeconds   int             `json:"max_segment_seconds"`
	VoiceConfig         json.RawMessage `json:"voice_config,omitempty"`
	VoiceGenderMode     VoiceGenderMode `json:"voice_gender_mode"`
	FinalStoragePath    string          `json:"final_storage_path,omitempty"`
	WorkerCredentialRef string          `json:"worker_credential_ref"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// SegmentStatus is the sub-state machine of one long-form segment.
// The machine is sequential within a segment: queued → audio_running →
// video_running → succeeded, with failed reachable from any running state.
type SegmentStatus string

// Segment statuses.
const (
	SegmentQueued       SegmentStatus = "queued"
	SegmentAudioRunning SegmentStatus = "audio_running"
	SegmentVideoRunning SegmentStatus = "video_running"
	SegmentSucceeded    SegmentStatus = "succeeded"
	SegmentFailed       SegmentStatus = "failed"
)

// IsTerminal reports whether the segment finished (either way).
func (s SegmentStatus) IsTerminal() bool {
	return s == SegmentSucceeded || s == SegmentFailed
}

// InFlight reports whether the segment counts against the per-parent
// in-flight cap.
func (s SegmentStatus) InFlight() bool {
	return s == SegmentAudioRunning || s == SegmentVideoRunning
}

// LongformSegment is one slice of the script. Generated media is
// concatenated strictly by SegmentIndex at stitch time.
type LongformSegment struct {
	ID                 uuid.UUID     `json:"id"`
	ParentJobID        uuid.UUID     `json:"parent_job_id"`
	SegmentIndex       int           `json:"segment_index"`
	Status             SegmentStatus `json:"status"`
	TextChunk          string        `json:"text_chunk"`
	DurationSec        float64       `json:"duration_sec"`
	AudioURL           string        `json:"audio_url,omitempty"`
	AudioArtifactID    *uuid.UUID    `json:"audio_artifact_id,omitempty"`
	FusionJobID        *uuid.UUID    `json:"fusion_job_id,omitempty"`
	SegmentVideoURL    string        `json:"segment_video_url,omitempty"`
	SegmentStoragePath string        `json:"segment_storage_path,omitempty"`
	ErrorCode          string        `json:"error_code,omitempty"`
	ErrorMessage       string        `json:"error_message,omitempty"`
	ClaimedBy          string        `json:"claimed_by,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}
