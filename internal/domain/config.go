package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	Auth        AuthConfig      `mapstructure:"auth"`
	Artifacts   ArtifactsConfig `mapstructure:"artifacts"`
	Cache       CacheConfig     `mapstructure:"cache"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
	CORS        CORSConfig      `mapstructure:"cors"`
	Logging     LoggingConfig   `mapstructure:"logging"`
	Audit       AuditConfig     `mapstructure:"audit"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
	Tracing     TracingConfig   `mapstructure:"tracing"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TLSEnabled      bool          `mapstructure:"tls_enabled"`
	CertFile        string        `mapstructure:"cert_file"`
	KeyFile         string        `mapstructure:"key_file"`
	// TrustedProxies lists the proxy addresses or CIDRs whose forwarding
	// headers are believed. Empty trusts none and uses the peer address.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// AuthConfig represents bearer token verification configuration.
// An empty IssuerURL (and JWKSURL) puts the verifier in development mode.
type AuthConfig struct {
	IssuerURL         string        `mapstructure:"issuer_url"`
	JWKSPath          string        `mapstructure:"jwks_path"`
	JWKSURL           string        `mapstructure:"jwks_url"`
	JWTSecret         string        `mapstructure:"jwt_secret"`
	APIKey            string        `mapstructure:"api_key"`
	Audience          string        `mapstructure:"audience"`
	ExpectedIssuer    string        `mapstructure:"expected_issuer"`
	SymmetricFallback bool          `mapstructure:"symmetric_fallback"`
	JWKSTimeout       time.Duration `mapstructure:"jwks_timeout"`
	RefreshInterval   time.Duration `mapstructure:"refresh_interval"`
	Leeway            time.Duration `mapstructure:"leeway"`
}

// ArtifactsConfig represents where the fitted pipeline and its metadata live
type ArtifactsConfig struct {
	Source       string        `mapstructure:"source"` // "file", "minio"
	PipelinePath string        `mapstructure:"pipeline_path"`
	MetadataPath string        `mapstructure:"metadata_path"`
	FeaturesPath string        `mapstructure:"features_path"`
	Required     bool          `mapstructure:"required"`
	LoadTimeout  time.Duration `mapstructure:"load_timeout"`
	MinIO        MinIOConfig   `mapstructure:"minio"`
}

// MinIOConfig represents S3-compatible object storage configuration
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// CacheConfig represents key-set cache configuration. RedisURL is optional.
type CacheConfig struct {
	KeySetSize  int           `mapstructure:"key_set_size"`
	RedisURL    string        `mapstructure:"redis_url"`
	KeySetTTL   time.Duration `mapstructure:"key_set_ttl"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
}

// RateLimitConfig represents per-client request rate limiting
type RateLimitConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Requests   int           `mapstructure:"requests"`
	Per        time.Duration `mapstructure:"per"`
	Burst      int           `mapstructure:"burst"`
	MaxClients int           `mapstructure:"max_clients"`
}

// CORSConfig represents cross-origin configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// AuditConfig represents the access audit trail configuration
type AuditConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Driver         string `mapstructure:"driver"` // "sqlite", "postgres"
	DSN            string `mapstructure:"dsn"`
	BufferSize     int    `mapstructure:"buffer_size"`
	MigrateOnStart bool   `mapstructure:"migrate_on_start"`
}

// MetricsConfig represents Prometheus exposition configuration
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// TracingConfig represents OpenTelemetry tracing configuration
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}
