package studio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylark-media/atelier/pkg/config"
	"github.com/skylark-media/atelier/pkg/models"
)

func TestSafetyFilterCheckText(t *testing.T) {
	f := NewSafetyFilter(&config.SafetyConfig{
		BlockedKeywords:   []string{"Forbidden", "  banned phrase  ", ""},
		SeverityThreshold: 0.8,
	})

	assert.NoError(t, f.CheckText("a perfectly fine prompt"))

	// Matching is case-insensitive.
	err := f.CheckText("this is FORBIDDEN content")
	var v *SafetyViolation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, models.CodeUnsafePrompt, v.Code)
	assert.Equal(t, "forbidden", v.Keyword)

	err = f.CheckText("contains a banned phrase inside")
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "banned phrase", v.Keyword)
}

func TestSafetyFilterCheckScores(t *testing.T) {
	f := NewSafetyFilter(&config.SafetyConfig{SeverityThreshold: 0.8})

	assert.NoError(t, f.CheckScores(map[string]float64{"violence": 0.2, "adult": 0.79}))

	// The threshold is inclusive.
	err := f.CheckScores(map[string]float64{"violence": 0.8})
	var v *SafetyViolation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, models.CodeUnsafeImage, v.Code)
	assert.Equal(t, "violence", v.Keyword)

	// A zero threshold disables score checking entirely.
	open := NewSafetyFilter(&config.SafetyConfig{})
	assert.NoError(t, open.CheckScores(map[string]float64{"violence": 1.0}))
}
