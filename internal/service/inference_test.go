package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/febrile-severity-server/internal/domain"
	"github.com/febrile-severity-server/internal/logging"
	"github.com/febrile-severity-server/internal/metrics"
	"github.com/febrile-severity-server/internal/pipeline"
	"github.com/febrile-severity-server/internal/pipeline/pipelinetest"
)

func newTestService(t *testing.T) *InferenceService {
	t.Helper()
	return NewInferenceService(pipelinetest.Artifacts(t), logging.Discard(), metrics.NewCollector("test"))
}

func assertWellFormed(t *testing.T, result *domain.PredictionResult) {
	t.Helper()
	require.Len(t, result.Probabilities, 3)
	total := 0
	for _, key := range []string{"leve", "moderada", "severa"} {
		p, ok := result.Probabilities[key]
		require.True(t, ok, "missing probability for %s", key)
		total += int(p*10 + 0.5)
	}
	assert.InDelta(t, 1000, total, 1, "percentages add up to 100.0 within a tenth")
	assert.Equal(t, result.Probabilities[result.Prediction.ProbabilityKey()], result.Confidence)
	assert.Equal(t, domain.Disclaimer, result.Disclaimer)
	assert.NotEmpty(t, result.Factors)
}

func TestInferenceService_Scenarios(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *domain.ClinicalRecord)
		want    domain.Severity
		code    int
		factors []string
	}{
		{
			name:    "baseline",
			mutate:  func(r *domain.ClinicalRecord) {},
			want:    domain.SeverityMild,
			code:    0,
			factors: []string{domain.NoFactorsMessage},
		},
		{
			name:    "altered consciousness",
			mutate:  func(r *domain.ClinicalRecord) { r.Glasgow = 10 },
			want:    domain.SeveritySevere,
			code:    2,
			factors: []string{"Glasgow alterado (10)"},
		},
		{
			name:    "prolonged fever",
			mutate:  func(r *domain.ClinicalRecord) { r.FeverDays = 7 },
			want:    domain.SeverityModerate,
			code:    1,
			factors: []string{"Fiebre prolongada (7 días)"},
		},
		{
			name: "prolonged fever with thrombocytopenia",
			mutate: func(r *domain.ClinicalRecord) {
				r.FeverDays = 7
				r.Platelets = domain.Float(100000)
			},
			want:    domain.SeverityModerate,
			code:    1,
			factors: []string{"Trombocitopenia (100,000 cel/mm³)", "Fiebre prolongada (7 días)"},
		},
		{
			name:    "isolated thrombocytopenia",
			mutate:  func(r *domain.ClinicalRecord) { r.Platelets = domain.Float(100000) },
			want:    domain.SeverityMild,
			code:    0,
			factors: []string{"Trombocitopenia (100,000 cel/mm³)"},
		},
	}

	svc := newTestService(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := pipelinetest.Record()
			tt.mutate(&r)

			result, err := svc.Predict(context.Background(), &r)
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Prediction)
			assert.Equal(t, tt.code, result.Code)
			assert.Equal(t, tt.factors, result.Factors)
			assertWellFormed(t, result)
		})
	}
}

func TestInferenceService_Deterministic(t *testing.T) {
	svc := newTestService(t)
	r := pipelinetest.Record()
	r.FeverDays = 6
	r.CRP = domain.Float(4.1)

	first, err := svc.Predict(context.Background(), &r)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := svc.Predict(context.Background(), &r)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestInferenceService_ConcurrentPredictions(t *testing.T) {
	svc := newTestService(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(glasgow int) {
			defer wg.Done()
			r := pipelinetest.Record()
			r.Glasgow = glasgow
			result, err := svc.Predict(context.Background(), &r)
			if assert.NoError(t, err) {
				assertWellFormed(t, result)
			}
		}(3 + i%13)
	}
	wg.Wait()
}

func TestInferenceService_NotReady(t *testing.T) {
	svc := NewInferenceService(nil, logging.Discard(), nil)
	r := pipelinetest.Record()

	assert.False(t, svc.Ready())

	_, err := svc.Predict(context.Background(), &r)
	assert.ErrorIs(t, err, domain.ErrModelNotReady)
	_, err = svc.ModelInfo()
	assert.ErrorIs(t, err, domain.ErrModelNotReady)
	_, err = svc.ModelMetrics()
	assert.ErrorIs(t, err, domain.ErrModelNotReady)
	_, err = svc.FeatureNames()
	assert.ErrorIs(t, err, domain.ErrModelNotReady)
}

func TestInferenceService_CancelledContext(t *testing.T) {
	svc := newTestService(t)
	r := pipelinetest.Record()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Predict(ctx, &r)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, domain.ErrInferenceFailed))
}

func TestInferenceService_UnknownCategoryFails(t *testing.T) {
	b := pipelinetest.Bundle()
	b.Encoder.HandleUnknown = "error"
	a, err := pipeline.NewArtifacts(b, pipelinetest.Metadata(), pipelinetest.FeatureNames())
	require.NoError(t, err)
	svc := NewInferenceService(a, logging.Discard(), nil)

	r := pipelinetest.Record()
	r.Sex = "No registrado"
	_, err = svc.Predict(context.Background(), &r)
	assert.ErrorIs(t, err, domain.ErrInferenceFailed)
}

func TestInferenceService_Metadata(t *testing.T) {
	svc := newTestService(t)
	assert.True(t, svc.Ready())

	info, err := svc.ModelInfo()
	require.NoError(t, err)
	assert.Equal(t, "3.0.0", info.Version)
	assert.True(t, info.Calibrated)

	m, err := svc.ModelMetrics()
	require.NoError(t, err)
	assert.Equal(t, 412, m.TrainSize)
	assert.Equal(t, 104, m.TestSize)

	names, err := svc.FeatureNames()
	require.NoError(t, err)
	assert.Equal(t, pipelinetest.FeatureNames(), names)

	names[0] = "mutated"
	again, err := svc.FeatureNames()
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", again[0], "callers get a copy")
}
