package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// atelierYAML is the on-disk structure of atelier.yaml. Every section is
// optional; unset values fall back to built-in defaults.
type atelierYAML struct {
	Queue     *QueueConfig     `yaml:"queue"`
	Longform  *LongformConfig  `yaml:"longform"`
	Providers *ProvidersConfig `yaml:"providers"`
	Storage   *StorageConfig   `yaml:"storage"`
	Safety    *SafetyConfig    `yaml:"safety"`
	Dashboard *DashboardConfig `yaml:"dashboard"`
	Auth      *AuthConfig      `yaml:"auth"`
}

// Initialize loads, merges, and validates configuration from configDir.
// This is the primary entry point for configuration loading.
func Initialize(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized",
		"workers_per_studio", cfg.Queue.WorkersPerStudio,
		"max_segment_seconds", cfg.Longform.MaxSegmentSeconds,
		"stale_reclaim", cfg.Queue.StaleAfter > 0)

	return cfg, nil
}

func load(configDir string) (*Config, error) {
	var raw atelierYAML
	if err := loadYAML(configDir, "atelier.yaml", &raw); err != nil {
		return nil, NewLoadError("atelier.yaml", err)
	}

	cfg := &Config{
		configDir: configDir,
		Queue:     DefaultQueueConfig(),
		Longform:  DefaultLongformConfig(),
		Providers: DefaultProvidersConfig(),
		Storage:   DefaultStorageConfig(),
		Safety:    DefaultSafetyConfig(),
		Dashboard: DefaultDashboardConfig(),
		Auth:      DefaultAuthConfig(),
	}

	// Merge user YAML on top of built-in defaults; non-zero values override.
	sections := []struct {
		dst, src any
	}{
		{cfg.Queue, raw.Queue},
		{cfg.Longform, raw.Longform},
		{cfg.Providers, raw.Providers},
		{cfg.Storage, raw.Storage},
		{cfg.Safety, raw.Safety},
		{cfg.Dashboard, raw.Dashboard},
		{cfg.Auth, raw.Auth},
	}
	for _, s := range sections {
		if s.src == nil || isNilPtr(s.src) {
			continue
		}
		if err := mergo.Merge(s.dst, s.src, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge config section: %w", err)
		}
	}

	// The provider hard cap wins over any configured segment cap.
	if cfg.Longform.MaxSegmentSeconds > FaceVideoHardCapSeconds {
		slog.Warn("max_segment_seconds exceeds provider hard cap, clamping",
			"configured", cfg.Longform.MaxSegmentSeconds,
			"cap", FaceVideoHardCapSeconds)
		cfg.Longform.MaxSegmentSeconds = FaceVideoHardCapSeconds
	}

	return cfg, nil
}

func isNilPtr(v any) bool {
	switch t := v.(type) {
	case *QueueConfig:
		return t == nil
	case *LongformConfig:
		return t == nil
	case *ProvidersConfig:
		return t == nil
	case *StorageConfig:
		return t == nil
	case *SafetyConfig:
		return t == nil
	case *DashboardConfig:
		return t == nil
	case *AuthConfig:
		return t == nil
	}
	return false
}

func loadYAML(configDir, filename string, target any) error {
	path := filepath.Join(configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}

func validate(cfg *Config) error {
	q := cfg.Queue
	if q.WorkersPerStudio < 1 {
		return NewValidationError("queue", "workers_per_studio", ErrInvalidValue)
	}
	if q.BatchSize < 1 {
		return NewValidationError("queue", "batch_size", ErrInvalidValue)
	}
	if q.MaxInflight < 1 {
		return NewValidationError("queue", "max_inflight", ErrInvalidValue)
	}
	if q.PollInterval <= 0 {
		return NewValidationError("queue", "poll_interval", ErrInvalidValue)
	}
	if q.BackoffBase <= 0 || q.BackoffCap < q.BackoffBase {
		return NewValidationError("queue", "backoff_base", ErrInvalidValue)
	}

	lf := cfg.Longform
	if lf.MaxTotalSegmentsPerJob < 1 {
		return NewValidationError("longform", "max_total_segments_per_job", ErrInvalidValue)
	}
	if lf.MaxSegmentSeconds < 1 || lf.MaxSegmentSeconds > FaceVideoHardCapSeconds {
		return NewValidationError("longform", "max_segment_seconds", ErrInvalidValue)
	}
	if lf.DefaultSegmentSeconds < 1 || lf.DefaultSegmentSeconds > lf.MaxSegmentSeconds {
		return NewValidationError("longform", "default_segment_seconds", ErrInvalidValue)
	}
	if lf.WordsPerMinute < 1 {
		return NewValidationError("longform", "words_per_minute", ErrInvalidValue)
	}
	if lf.MaxInflightPerJob < 1 {
		return NewValidationError("longform", "max_inflight_per_job", ErrInvalidValue)
	}

	p := cfg.Providers
	if p.PollInterval <= 0 {
		return NewValidationError("providers", "poll_interval", ErrInvalidValue)
	}
	if p.PollDeadline <= p.PollInterval {
		return NewValidationError("providers", "poll_deadline", ErrInvalidValue)
	}

	d := cfg.Dashboard
	if d.StaleAfter <= 0 {
		return NewValidationError("dashboard", "stale_after", ErrInvalidValue)
	}
	if d.RefreshBatchSize < 1 {
		return NewValidationError("dashboard", "refresh_batch_size", ErrInvalidValue)
	}

	return nil
}
