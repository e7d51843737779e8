package domain

import "strings"

// Disclaimer is attached verbatim to every prediction.
const Disclaimer = "Esta herramienta es de apoyo a la decisión clínica y no reemplaza " +
	"el juicio médico profesional. Los resultados deben ser interpretados " +
	"por personal médico calificado en el contexto clínico del paciente."

// NoFactorsMessage is the single factor reported when no clinical rule triggers.
const NoFactorsMessage = "Parámetros clínicos dentro de rangos esperados"

// Severity is the predicted severity label.
type Severity string

const (
	SeverityMild     Severity = "Leve"
	SeverityModerate Severity = "Moderada"
	SeveritySevere   Severity = "Severa"
)

// IsValid reports whether the severity is one of the three trained classes.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityMild, SeverityModerate, SeveritySevere:
		return true
	default:
		return false
	}
}

// String returns the label.
func (s Severity) String() string {
	return string(s)
}

// ProbabilityKey returns the key used for this class in the probability map.
func (s Severity) ProbabilityKey() string {
	return strings.ToLower(string(s))
}

// PredictionResult is the immutable response for one prediction.
// Probabilities are percentages with one decimal, keyed by lowercase label.
type PredictionResult struct {
	Prediction    Severity           `json:"prediccion"`
	Code          int                `json:"codigo"`
	Probabilities map[string]float64 `json:"probabilidades"`
	Factors       []string           `json:"factores"`
	Confidence    float64            `json:"confianza"`
	Disclaimer    string             `json:"disclaimer"`
}

// ModelInfo is the general model description served by the metadata endpoint.
type ModelInfo struct {
	Version             string            `json:"version"`
	ModelName           string            `json:"modelo_nombre"`
	ModelType           string            `json:"modelo_tipo"`
	OriginalFeatures    int               `json:"n_features_originales"`
	PostEncodingFeature int               `json:"n_features_post_ohe"`
	Classes             map[string]string `json:"clases"`
	Calibrated          bool              `json:"calibrado"`
}

// ModelMetrics is the evaluation summary served by the metrics endpoint.
type ModelMetrics struct {
	HoldoutMetrics  map[string]any `json:"metricas_holdout"`
	NestedCVMetrics map[string]any `json:"metricas_nested_cv"`
	TrainSize       int            `json:"train_size"`
	TestSize        int            `json:"test_size"`
}
