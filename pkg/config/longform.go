package config

import "time"

// FaceVideoHardCapSeconds is the provider-imposed per-call duration limit.
// Long-form chunking must never produce a segment above this, regardless of
// the configured max_segment_seconds.
const FaceVideoHardCapSeconds = 120

// LongformConfig controls the long-form fan-out/fan-in coordinator.
type LongformConfig struct {
	// MaxTotalSegmentsPerJob rejects scripts that would fan out wider.
	MaxTotalSegmentsPerJob int `yaml:"max_total_segments_per_job"`

	// MaxSegmentSeconds is the configured per-segment cap. Clamped to
	// FaceVideoHardCapSeconds at load time.
	MaxSegmentSeconds int `yaml:"max_segment_seconds"`

	// DefaultSegmentSeconds is the target duration when submit omits one.
	DefaultSegmentSeconds int `yaml:"default_segment_seconds"`

	// WordsPerMinute is the rate used to estimate segment duration from
	// text length.
	WordsPerMinute int `yaml:"words_per_minute"`

	// MaxInflightPerJob caps concurrently-running segments per parent,
	// enforced inside the segment claim query.
	MaxInflightPerJob int `yaml:"max_inflight_per_job"`

	// SegmentBatchSize is how many segments one segment-worker poll claims.
	SegmentBatchSize int `yaml:"segment_batch_size"`

	// StitchTimeout bounds one compose invocation.
	StitchTimeout time.Duration `yaml:"stitch_timeout"`

	// StitchStaleAfter re-exposes stitching parents whose stitcher died.
	StitchStaleAfter time.Duration `yaml:"stitch_stale_after"`
}

// DefaultLongformConfig returns the built-in long-form defaults.
func DefaultLongformConfig() *LongformConfig {
	return &LongformConfig{
		MaxTotalSegmentsPerJob: 40,
		MaxSegmentSeconds:      FaceVideoHardCapSeconds,
		DefaultSegmentSeconds:  60,
		WordsPerMinute:         150,
		MaxInflightPerJob:      3,
		SegmentBatchSize:       5,
		StitchTimeout:          10 * time.Minute,
		StitchStaleAfter:       20 * time.Minute,
	}
}
