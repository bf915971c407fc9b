package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "atelier.yaml"), []byte(yaml), 0644))
	return dir
}

func TestInitializeMergesOverDefaults(t *testing.T) {
	dir := writeConfig(t, `
queue:
  workers_per_studio: 4
  stale_after: 5m
longform:
  max_total_segments_per_job: 10
`)

	cfg, err := Initialize(dir)
	require.NoError(t, err)

	// Overridden values win.
	assert.Equal(t, 4, cfg.Queue.WorkersPerStudio)
	assert.Equal(t, 5*time.Minute, cfg.Queue.StaleAfter)
	assert.Equal(t, 10, cfg.Longform.MaxTotalSegmentsPerJob)

	// Unset values keep built-in defaults.
	assert.Equal(t, DefaultQueueConfig().BatchSize, cfg.Queue.BatchSize)
	assert.Equal(t, DefaultLongformConfig().WordsPerMinute, cfg.Longform.WordsPerMinute)
	assert.Equal(t, DefaultSafetyConfig().SeverityThreshold, cfg.Safety.SeverityThreshold)
}

func TestInitializeEmptyFileUsesDefaults(t *testing.T) {
	dir := writeConfig(t, "")

	cfg, err := Initialize(dir)
	require.NoError(t, err)
	assert.Equal(t, DefaultQueueConfig().WorkersPerStudio, cfg.Queue.WorkersPerStudio)
	assert.Equal(t, DefaultDashboardConfig().StaleAfter, cfg.Dashboard.StaleAfter)
}

func TestInitializeExpandsEnvTemplates(t *testing.T) {
	t.Setenv("BLOCKED_WORD", "verboten")
	dir := writeConfig(t, `
safety:
  blocked_keywords:
    - "{{.BLOCKED_WORD}}"
`)

	cfg, err := Initialize(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"verboten"}, cfg.Safety.BlockedKeywords)
}

func TestInitializeConfigNotFound(t *testing.T) {
	_, err := Initialize(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestInitializeInvalidYAML(t *testing.T) {
	dir := writeConfig(t, "queue: [not: a: mapping")
	_, err := Initialize(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestInitializeValidationFailure(t *testing.T) {
	dir := writeConfig(t, `
queue:
  workers_per_studio: -1
`)

	_, err := Initialize(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)

	var v *ValidationError
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "queue", v.Section)
	assert.Equal(t, "workers_per_studio", v.Field)
}

func TestInitializeClampsSegmentCap(t *testing.T) {
	dir := writeConfig(t, `
longform:
  max_segment_seconds: 999
`)

	cfg, err := Initialize(dir)
	require.NoError(t, err)
	assert.Equal(t, FaceVideoHardCapSeconds, cfg.Longform.MaxSegmentSeconds)
}

func TestValidationErrorUnwraps(t *testing.T) {
	err := NewValidationError("queue", "batch_size", ErrInvalidValue)
	assert.True(t, errors.Is(err, ErrInvalidValue))
	assert.Contains(t, err.Error(), "batch_size")
}
