package pipeline

import (
	"fmt"
	"math"
)

// StandardScaler centers and scales numeric columns with fitted statistics.
type StandardScaler struct {
	columns []string
	mean    []float64
	scale   []float64
}

func newStandardScaler(spec ScalerSpec) (*StandardScaler, error) {
	n := len(spec.Columns)
	withMean := spec.WithMean == nil || *spec.WithMean
	withStd := spec.WithStd == nil || *spec.WithStd

	mean := make([]float64, n)
	scale := make([]float64, n)
	for i := range scale {
		scale[i] = 1
	}

	if withMean {
		if len(spec.Mean) != n {
			return nil, fmt.Errorf("scaler: %d columns but %d means", n, len(spec.Mean))
		}
		copy(mean, spec.Mean)
	}
	if withStd {
		if len(spec.Scale) != n {
			return nil, fmt.Errorf("scaler: %d columns but %d scales", n, len(spec.Scale))
		}
		for i, s := range spec.Scale {
			if s == 0 || math.IsNaN(s) || math.IsInf(s, 0) {
				return nil, fmt.Errorf("scaler: invalid scale %v for column %q", s, spec.Columns[i])
			}
			scale[i] = s
		}
	}

	return &StandardScaler{columns: spec.Columns, mean: mean, scale: scale}, nil
}

// Columns returns the scaled columns, in order.
func (s *StandardScaler) Columns() []string {
	return s.columns
}

// Transform scales row, which must align with Columns.
func (s *StandardScaler) Transform(row []float64) []float64 {
	out := make([]float64, len(row))
	for i, v := range row {
		out[i] = (v - s.mean[i]) / s.scale[i]
	}
	return out
}
