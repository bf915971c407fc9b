package models

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Per-studio payload variants. The scheduler never interprets payloads; each
// processor decodes the variant it owns. Decoding is lenient: unknown keys
// are ignored here but preserved in the job row, which stores the raw JSON.

// FacePayload drives the face (text-to-image) processor.
type FacePayload struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Variants       int    `json:"variants,omitempty"`
	Seed           int64  `json:"seed,omitempty"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	Locale         string `json:"locale,omitempty"`
}

// AudioPayload drives the TTS processor.
type AudioPayload struct {
	Text         string  `json:"text"`
	TargetLocale string  `json:"target_locale,omitempty"`
	Voice        string  `json:"voice,omitempty"`
	Style        string  `json:"style,omitempty"`
	Rate         float64 `json:"rate,omitempty"`
	Pitch        float64 `json:"pitch,omitempty"`
	OutputFormat string  `json:"output_format,omitempty"` // mp3 | wav
}

// FusionPayload drives the face-animation (talking video) processor.
// Exactly one of FaceArtifactID / FaceURL must resolve to a face input, and
// one of AudioArtifactID / AudioURL to an audio input.
type FusionPayload struct {
	FaceArtifactID  *uuid.UUID `json:"face_artifact_id,omitempty"`
	FaceURL         string     `json:"face_url,omitempty"`
	AudioArtifactID *uuid.UUID `json:"audio_artifact_id,omitempty"`
	AudioURL        string     `json:"audio_url,omitempty"`
	AspectRatio     string     `json:"aspect_ratio,omitempty"`
}

// MusicPayload drives the music synthesis processor.
type MusicPayload struct {
	Prompt       string   `json:"prompt"`
	Tags         []string `json:"tags,omitempty"`
	Lyrics       string   `json:"lyrics,omitempty"`
	Instrumental bool     `json:"instrumental,omitempty"`
	Seed         int64    `json:"seed,omitempty"`
	OutputFormat string   `json:"output_format,omitempty"`
	BitRate      int      `json:"bit_rate,omitempty"`
	Candidates   int      `json:"candidates,omitempty"`
	AutoSelect   bool     `json:"auto_select,omitempty"`
}

// CommercePayload drives the commerce quote→confirm→campaign chain.
type CommercePayload struct {
	QuoteID    *uuid.UUID      `json:"quote_id,omitempty"`
	CampaignID *uuid.UUID      `json:"campaign_id,omitempty"`
	Step       string          `json:"step,omitempty"` // quote | confirm | campaign
	Items      json.RawMessage `json:"items,omitempty"`
}

// LongformPayload drives the long-form coordinator.
type LongformPayload struct {
	Script          string          `json:"script"`
	AspectRatio     string          `json:"aspect_ratio,omitempty"`
	SegmentSeconds  int             `json:"segment_seconds,omitempty"`
	VoiceConfig     json.RawMessage `json:"voice_config,omitempty"`
	VoiceGenderMode VoiceGenderMode `json:"voice_gender_mode,omitempty"`
	FaceArtifactID  *uuid.UUID      `json:"face_artifact_id,omitempty"`
	CredentialRef   string          `json:"credential_ref,omitempty"`
}

// DecodePayload unmarshals a job payload into the given variant.
func DecodePayload[T any](raw json.RawMessage) (*T, error) {
	var p T
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	return &p, nil
}
