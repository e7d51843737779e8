package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/febrile-severity-server/internal/domain"
)

// Metadata is the human-facing model description shipped next to the bundle.
type Metadata struct {
	Version              string            `json:"version"`
	ModelName            string            `json:"modelo_nombre"`
	ModelType            string            `json:"modelo_tipo"`
	OriginalFeatures     int               `json:"n_features_originales"`
	PostEncodingFeatures int               `json:"n_features_post_ohe"`
	Classes              map[string]string `json:"clases"`
	Calibrated           bool              `json:"calibrado"`
	HoldoutMetrics       map[string]any    `json:"metricas_holdout"`
	NestedCVMetrics      map[string]any    `json:"metricas_nested_cv"`
	TrainSize            int               `json:"train_size"`
	TestSize             int               `json:"test_size"`
}

// ParseMetadata decodes a metadata document.
func ParseMetadata(data []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	return &m, nil
}

// ParseFeatureNames decodes the canonical feature-name list.
func ParseFeatureNames(data []byte) ([]string, error) {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("decoding feature names: %w", err)
	}
	return names, nil
}

// Info returns the general model description.
func (m *Metadata) Info() *domain.ModelInfo {
	classes := make(map[string]string, len(m.Classes))
	for k, v := range m.Classes {
		classes[k] = v
	}
	return &domain.ModelInfo{
		Version:             m.Version,
		ModelName:           m.ModelName,
		ModelType:           m.ModelType,
		OriginalFeatures:    m.OriginalFeatures,
		PostEncodingFeature: m.PostEncodingFeatures,
		Classes:             classes,
		Calibrated:          m.Calibrated,
	}
}

// Metrics returns the evaluation summary.
func (m *Metadata) Metrics() *domain.ModelMetrics {
	holdout := m.HoldoutMetrics
	if holdout == nil {
		holdout = map[string]any{}
	}
	nested := m.NestedCVMetrics
	if nested == nil {
		nested = map[string]any{}
	}
	return &domain.ModelMetrics{
		HoldoutMetrics:  holdout,
		NestedCVMetrics: nested,
		TrainSize:       m.TrainSize,
		TestSize:        m.TestSize,
	}
}
