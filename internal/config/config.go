// Package config loads the service configuration from defaults, an optional
// YAML file and environment variables.
package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/febrile-severity-server/internal/domain"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every configuration key when read from the environment.
const EnvPrefix = "FEBRILE"

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v          *viper.Viper
	configFile string
	config     *domain.Config
}

// Option customizes a Manager
type Option func(*Manager)

// WithConfigFile reads configuration from an explicit file instead of the search paths
func WithConfigFile(path string) Option {
	return func(m *Manager) {
		m.configFile = path
	}
}

// NewManager creates a new configuration manager
func NewManager(opts ...Option) (*Manager, error) {
	m := &Manager{}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	v := viper.New()

	if m.configFile != "" {
		v.SetConfigFile(m.configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/febrile-severity/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return err
	}

	// Config file is optional unless one was named explicitly
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || m.configFile != "" {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.v = v
	m.config = config
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.request_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.tls_enabled", false)
	v.SetDefault("server.cert_file", "")
	v.SetDefault("server.key_file", "")
	v.SetDefault("server.trusted_proxies", []string{})

	// Auth defaults
	v.SetDefault("auth.issuer_url", "")
	v.SetDefault("auth.jwks_path", "/auth/v1/.well-known/jwks.json")
	v.SetDefault("auth.jwks_url", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.api_key", "")
	v.SetDefault("auth.audience", "authenticated")
	v.SetDefault("auth.expected_issuer", "")
	v.SetDefault("auth.symmetric_fallback", true)
	v.SetDefault("auth.jwks_timeout", "5s")
	v.SetDefault("auth.refresh_interval", "30s")
	v.SetDefault("auth.leeway", "0s")

	// Artifact defaults
	v.SetDefault("artifacts.source", "file")
	v.SetDefault("artifacts.pipeline_path", "./artifacts/pipeline_v3.json.gz")
	v.SetDefault("artifacts.metadata_path", "./artifacts/metadata_v3.json")
	v.SetDefault("artifacts.features_path", "./artifacts/feature_names_v3.json")
	v.SetDefault("artifacts.required", true)
	v.SetDefault("artifacts.load_timeout", "60s")
	v.SetDefault("artifacts.minio.endpoint", "")
	v.SetDefault("artifacts.minio.access_key", "")
	v.SetDefault("artifacts.minio.secret_key", "")
	v.SetDefault("artifacts.minio.bucket", "")
	v.SetDefault("artifacts.minio.region", "")
	v.SetDefault("artifacts.minio.use_ssl", true)

	// Cache defaults
	v.SetDefault("cache.key_set_size", 16)
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.key_set_ttl", "1h")
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")

	// Rate limit defaults
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests", 30)
	v.SetDefault("rate_limit.per", "1m")
	v.SetDefault("rate_limit.burst", 30)
	v.SetDefault("rate_limit.max_clients", 10000)

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Audit defaults
	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.driver", "sqlite")
	v.SetDefault("audit.dsn", "./data/audit.db")
	v.SetDefault("audit.buffer_size", 1024)
	v.SetDefault("audit.migrate_on_start", true)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "febrile_severity")

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.service_name", "febrile-severity-server")
	v.SetDefault("tracing.sample_rate", 1.0)
}

// bindLegacyEnv accepts the variable names used by existing deployments
// alongside the prefixed ones.
func bindLegacyEnv(v *viper.Viper) error {
	legacy := map[string]string{
		"auth.issuer_url":         "SUPABASE_URL",
		"auth.jwt_secret":         "SUPABASE_JWT_SECRET",
		"auth.api_key":            "SUPABASE_ANON_KEY",
		"cors.allowed_origins":    "ALLOWED_ORIGINS",
		"artifacts.pipeline_path": "PIPELINE_PATH",
		"artifacts.metadata_path": "METADATA_PATH",
		"artifacts.features_path": "FEATURES_PATH",
	}
	for key, name := range legacy {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, name); err != nil {
			return fmt.Errorf("binding %s: %w", key, err)
		}
	}
	return nil
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetAuthConfig returns token verification configuration
func (m *Manager) GetAuthConfig() *domain.AuthConfig {
	return &m.config.Auth
}

// GetArtifactsConfig returns artifact location configuration
func (m *Manager) GetArtifactsConfig() *domain.ArtifactsConfig {
	return &m.config.Artifacts
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}
	if config.Server.TLSEnabled && (config.Server.CertFile == "" || config.Server.KeyFile == "") {
		return fmt.Errorf("TLS requires cert_file and key_file")
	}

	if err := validateAuth(&config.Auth); err != nil {
		return err
	}
	if m.IsProduction() && config.Auth.IssuerURL == "" && config.Auth.JWKSURL == "" {
		return fmt.Errorf("auth issuer_url is required in production")
	}

	switch config.Artifacts.Source {
	case "file":
	case "minio":
		if config.Artifacts.MinIO.Endpoint == "" || config.Artifacts.MinIO.Bucket == "" {
			return fmt.Errorf("minio artifact source requires endpoint and bucket")
		}
	default:
		return fmt.Errorf("invalid artifact source: %s", config.Artifacts.Source)
	}
	if config.Artifacts.PipelinePath == "" || config.Artifacts.MetadataPath == "" || config.Artifacts.FeaturesPath == "" {
		return fmt.Errorf("pipeline, metadata and features paths are required")
	}

	if config.Cache.KeySetSize <= 0 {
		return fmt.Errorf("cache key_set_size must be positive")
	}

	if config.RateLimit.Enabled && (config.RateLimit.Requests <= 0 || config.RateLimit.Per <= 0) {
		return fmt.Errorf("rate limit requires positive requests and period")
	}

	if config.Audit.Enabled {
		switch config.Audit.Driver {
		case "sqlite", "postgres":
		default:
			return fmt.Errorf("invalid audit driver: %s", config.Audit.Driver)
		}
		if config.Audit.DSN == "" {
			return fmt.Errorf("audit dsn is required when audit is enabled")
		}
	}

	if config.Tracing.SampleRate < 0 || config.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing sample_rate must be within [0, 1]: %v", config.Tracing.SampleRate)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}
	if config.Logging.Format != "json" && config.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s", config.Logging.Format)
	}

	return nil
}

func validateAuth(auth *domain.AuthConfig) error {
	for name, raw := range map[string]string{"issuer_url": auth.IssuerURL, "jwks_url": auth.JWKSURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid auth %s: %q", name, raw)
		}
	}
	if auth.JWKSTimeout <= 0 {
		return fmt.Errorf("auth jwks_timeout must be positive")
	}
	if auth.RefreshInterval < 0 || auth.Leeway < 0 {
		return fmt.Errorf("auth refresh_interval and leeway must not be negative")
	}
	return nil
}

// GetRedisConnectionString returns the Redis connection string
func (m *Manager) GetRedisConnectionString() string {
	return m.config.Cache.RedisURL
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Environment) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.config.Environment)
	return env == "development" || env == "dev" || env == ""
}
