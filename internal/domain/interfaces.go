package domain

import (
	"context"
	"time"
)

// TokenVerifier authenticates bearer credentials
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
	DevMode() bool
}

// Predictor runs the fitted pipeline and explains its result
type Predictor interface {
	Predict(ctx context.Context, record *ClinicalRecord) (*PredictionResult, error)
	Ready() bool
	ModelInfo() (*ModelInfo, error)
	ModelMetrics() (*ModelMetrics, error)
	FeatureNames() ([]string, error)
}

// AccessEntry is one row of the access audit trail. It never carries clinical
// values or prediction output.
type AccessEntry struct {
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
	Subject       string    `json:"subject"`
	Method        string    `json:"method"`
	Route         string    `json:"route"`
	Status        int       `json:"status"`
	Outcome       string    `json:"outcome"`
	LatencyMs     int64     `json:"latency_ms"`
	ClientIP      string    `json:"client_ip"`
}

// AccessRecorder accepts audit entries without blocking the request path
type AccessRecorder interface {
	Record(entry AccessEntry)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetServerConfig() *ServerConfig
	GetAuthConfig() *AuthConfig
	GetArtifactsConfig() *ArtifactsConfig
	Reload() error
	Validate() error
	GetRedisConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
