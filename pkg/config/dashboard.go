package config

import "time"

// DashboardConfig controls the per-user dashboard cache.
type DashboardConfig struct {
	// StaleAfter marks a cache row stale; stale reads enqueue an async
	// refresh without blocking the reader.
	StaleAfter time.Duration `yaml:"stale_after"`

	// ForceOnMiss computes the view inline when no cache row exists.
	ForceOnMiss bool `yaml:"force_on_miss"`

	// RefreshInterval is the refresh worker poll cadence.
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	// RefreshBatchSize bounds refresh requests claimed per cycle.
	RefreshBatchSize int `yaml:"refresh_batch_size"`

	// CarouselSize bounds each carousel.
	CarouselSize int `yaml:"carousel_size"`
}

// DefaultDashboardConfig returns the built-in dashboard defaults.
func DefaultDashboardConfig() *DashboardConfig {
	return &DashboardConfig{
		StaleAfter:       30 * time.Second,
		ForceOnMiss:      true,
		RefreshInterval:  2 * time.Second,
		RefreshBatchSize: 20,
		CarouselSize:     10,
	}
}
