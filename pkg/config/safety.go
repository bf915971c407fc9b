package config

// SafetyConfig is the prompt safety model: a keyword blocklist plus a
// severity threshold applied to provider moderation scores.
type SafetyConfig struct {
	// BlockedKeywords fail a prompt outright (case-insensitive substring).
	BlockedKeywords []string `yaml:"blocked_keywords"`

	// SeverityThreshold rejects prompts whose moderation severity meets or
	// exceeds this value (0 disables the threshold check).
	SeverityThreshold float64 `yaml:"severity_threshold"`
}

// DefaultSafetyConfig returns the built-in safety defaults.
func DefaultSafetyConfig() *SafetyConfig {
	return &SafetyConfig{
		SeverityThreshold: 0.8,
	}
}
