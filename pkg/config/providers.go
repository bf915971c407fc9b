package config

import "time"

// ProviderConfig is the connection block for one external provider.
// API keys are referenced by env var name, never stored in YAML.
type ProviderConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Timeout   time.Duration `yaml:"timeout"`
}

// ProvidersConfig groups all external provider settings plus the shared
// polling policy for providers with async job lifecycles.
type ProvidersConfig struct {
	TTS       *ProviderConfig `yaml:"tts"`
	Image     *ProviderConfig `yaml:"image"`
	FaceVideo *ProviderConfig `yaml:"face_video"`
	Music     *ProviderConfig `yaml:"music"`
	Translate *ProviderConfig `yaml:"translate"`
	Compose   *ProviderConfig `yaml:"compose"`

	// PollInterval is the cadence for polling async provider status
	// endpoints; PollDeadline is the total-time budget before a TIMEOUT.
	PollInterval time.Duration `yaml:"poll_interval"`
	PollDeadline time.Duration `yaml:"poll_deadline"`

	// ImageSizes is the provider allow-list of "WxH" values. Sizes outside
	// the list are coerced to "auto".
	ImageSizes []string `yaml:"image_sizes"`

	// AllowedLocales is the submit-time allow-list for locale and
	// target_locale fields. Empty locales always pass.
	AllowedLocales []string `yaml:"allowed_locales"`
}

// LocaleAllowed reports whether a locale passes the allow-list. The empty
// locale means "no translation" and always passes.
func (c *ProvidersConfig) LocaleAllowed(locale string) bool {
	if locale == "" {
		return true
	}
	for _, l := range c.AllowedLocales {
		if l == locale {
			return true
		}
	}
	return false
}

// DefaultProvidersConfig returns the built-in provider defaults.
func DefaultProvidersConfig() *ProvidersConfig {
	return &ProvidersConfig{
		TTS:          &ProviderConfig{Timeout: 60 * time.Second, APIKeyEnv: "TTS_API_KEY"},
		Image:        &ProviderConfig{Timeout: 120 * time.Second, APIKeyEnv: "IMAGE_API_KEY"},
		FaceVideo:    &ProviderConfig{Timeout: 60 * time.Second, APIKeyEnv: "FACE_VIDEO_API_KEY"},
		Music:        &ProviderConfig{Timeout: 120 * time.Second, APIKeyEnv: "MUSIC_API_KEY"},
		Translate:    &ProviderConfig{Timeout: 30 * time.Second, APIKeyEnv: "TRANSLATE_API_KEY"},
		Compose:      &ProviderConfig{Timeout: 10 * time.Minute, APIKeyEnv: "COMPOSE_API_KEY"},
		PollInterval: 5 * time.Second,
		PollDeadline: 20 * time.Minute,
		ImageSizes: []string{
			"512x512", "768x768", "1024x1024", "1024x1792", "1792x1024",
		},
		AllowedLocales: []string{
			"en", "es", "fr", "de", "it", "pt", "ja", "ko", "zh", "hi", "ar",
		},
	}
}
