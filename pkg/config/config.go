// Package config loads and validates the atelier configuration from YAML
// with environment expansion and built-in defaults.
package config

// Config is the fully-resolved runtime configuration.
type Config struct {
	configDir string

	Queue     *QueueConfig
	Longform  *LongformConfig
	Providers *ProvidersConfig
	Storage   *StorageConfig
	Safety    *SafetyConfig
	Dashboard *DashboardConfig
	Auth      *AuthConfig
}

// ConfigDir returns the directory configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// AuthConfig holds inbound authentication settings. Token values are read
// from the environment at startup; YAML carries only the env var names.
type AuthConfig struct {
	// UserTokenSecretEnv names the env var holding the HMAC secret used to
	// verify user bearer tokens.
	UserTokenSecretEnv string `yaml:"user_token_secret_env"`

	// ServiceBearerEnv names the env var holding the internal service
	// bearer. Callers presenting it must also send X-Actor-User-Id.
	ServiceBearerEnv string `yaml:"service_bearer_env"`
}

// DefaultAuthConfig returns the built-in auth defaults.
func DefaultAuthConfig() *AuthConfig {
	return &AuthConfig{
		UserTokenSecretEnv: "ATELIER_USER_TOKEN_SECRET",
		ServiceBearerEnv:   "ATELIER_SERVICE_BEARER",
	}
}
