// Package service runs predictions against the loaded pipeline artifacts and
// turns the classifier output into the response callers see.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/febrile-severity-server/internal/domain"
	"github.com/febrile-severity-server/internal/metrics"
	"github.com/febrile-severity-server/internal/pipeline"
	"github.com/febrile-severity-server/internal/telemetry"
)

// InferenceService implements domain.Predictor over immutable artifacts.
// A nil artifact set means the model is not ready; every operation then
// reports domain.ErrModelNotReady.
type InferenceService struct {
	artifacts *pipeline.Artifacts
	logger    *logrus.Logger
	metrics   *metrics.Collector
	tracer    trace.Tracer
}

var _ domain.Predictor = (*InferenceService)(nil)

// NewInferenceService creates a new inference service. artifacts may be nil.
func NewInferenceService(artifacts *pipeline.Artifacts, logger *logrus.Logger, m *metrics.Collector) *InferenceService {
	return &InferenceService{
		artifacts: artifacts,
		logger:    logger,
		metrics:   m,
		tracer:    otel.Tracer(telemetry.InstrumentationName),
	}
}

// Ready reports whether artifacts are loaded.
func (s *InferenceService) Ready() bool {
	return s.artifacts != nil
}

// Predict classifies one clinical record.
func (s *InferenceService) Predict(ctx context.Context, record *domain.ClinicalRecord) (*domain.PredictionResult, error) {
	ctx, span := s.tracer.Start(ctx, "inference.Predict")
	defer span.End()

	if s.artifacts == nil {
		s.metrics.ObservePrediction("not_ready", "", 0)
		span.SetStatus(codes.Error, "model not ready")
		return nil, domain.ErrModelNotReady
	}

	start := time.Now()
	result, err := s.predict(ctx, record)
	if err != nil {
		outcome := "failure"
		if ctx.Err() != nil {
			outcome = "cancelled"
		}
		s.metrics.ObservePrediction(outcome, "", 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		s.logger.WithError(err).WithFields(logrus.Fields(record.LogFields())).Error("Prediction failed")
		return nil, err
	}

	elapsed := time.Since(start)
	s.metrics.ObservePrediction("success", result.Prediction.String(), elapsed.Seconds())
	span.SetAttributes(
		attribute.String("prediction.label", result.Prediction.String()),
		attribute.Float64("prediction.confidence", result.Confidence),
		attribute.Int("prediction.factors", len(result.Factors)),
	)
	s.logger.WithFields(logrus.Fields{
		"prediction": result.Prediction,
		"confidence": result.Confidence,
		"latency_ms": elapsed.Milliseconds(),
	}).Info("Prediction completed")

	return result, nil
}

func (s *InferenceService) predict(ctx context.Context, record *domain.ClinicalRecord) (*domain.PredictionResult, error) {
	a := s.artifacts

	vec, err := a.Transformer().Transform(record)
	if err != nil {
		return nil, fmt.Errorf("%w: transforming record: %v", domain.ErrInferenceFailed, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	clf := a.Classifier()
	code, err := clf.Predict(vec)
	if err != nil {
		return nil, fmt.Errorf("%w: predicting class: %v", domain.ErrInferenceFailed, err)
	}
	proba, err := clf.PredictProba(vec)
	if err != nil {
		return nil, fmt.Errorf("%w: predicting probabilities: %v", domain.ErrInferenceFailed, err)
	}

	label, ok := a.Label(code)
	if !ok {
		return nil, fmt.Errorf("%w: class code %d has no label", domain.ErrInferenceFailed, code)
	}

	rounded := percentages(proba)
	probabilities := make(map[string]float64, len(rounded))
	for i, c := range clf.Classes() {
		l, ok := a.Label(c)
		if !ok {
			return nil, fmt.Errorf("%w: class code %d has no label", domain.ErrInferenceFailed, c)
		}
		probabilities[l.ProbabilityKey()] = rounded[i]
	}

	return &domain.PredictionResult{
		Prediction:    label,
		Code:          code,
		Probabilities: probabilities,
		Factors:       IdentifyFactors(record),
		Confidence:    roundPercent(maxOf(proba)),
		Disclaimer:    domain.Disclaimer,
	}, nil
}

// ModelInfo returns the general model description.
func (s *InferenceService) ModelInfo() (*domain.ModelInfo, error) {
	if s.artifacts == nil {
		return nil, domain.ErrModelNotReady
	}
	return s.artifacts.Metadata().Info(), nil
}

// ModelMetrics returns the evaluation summary.
func (s *InferenceService) ModelMetrics() (*domain.ModelMetrics, error) {
	if s.artifacts == nil {
		return nil, domain.ErrModelNotReady
	}
	return s.artifacts.Metadata().Metrics(), nil
}

// FeatureNames returns the post-encoding feature names in vector order.
func (s *InferenceService) FeatureNames() ([]string, error) {
	if s.artifacts == nil {
		return nil, domain.ErrModelNotReady
	}
	names := s.artifacts.FeatureNames()
	out := make([]string, len(names))
	copy(out, names)
	return out, nil
}
