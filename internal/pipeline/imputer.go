package pipeline

import (
	"encoding/json"
	"fmt"
	"math"
)

// NumericImputer replaces absent numeric values with the fitted statistic.
type NumericImputer struct {
	columns    []string
	statistics []float64
}

func newNumericImputer(spec ImputerSpec) (*NumericImputer, error) {
	if len(spec.Columns) != len(spec.Statistics) {
		return nil, fmt.Errorf("numeric imputer: %d columns but %d statistics", len(spec.Columns), len(spec.Statistics))
	}
	stats := make([]float64, len(spec.Statistics))
	for i, raw := range spec.Statistics {
		var v *float64
		if err := json.Unmarshal(raw, &v); err != nil || v == nil {
			return nil, fmt.Errorf("numeric imputer: statistic for %q is not a number", spec.Columns[i])
		}
		if math.IsNaN(*v) || math.IsInf(*v, 0) {
			return nil, fmt.Errorf("numeric imputer: statistic for %q is not finite", spec.Columns[i])
		}
		stats[i] = *v
	}
	return &NumericImputer{columns: spec.Columns, statistics: stats}, nil
}

// Columns returns the columns the imputer was fitted on, in order.
func (imp *NumericImputer) Columns() []string {
	return imp.columns
}

// Transform fills NaN entries of row, which must align with Columns.
func (imp *NumericImputer) Transform(row []float64) []float64 {
	out := make([]float64, len(row))
	for i, v := range row {
		if math.IsNaN(v) {
			v = imp.statistics[i]
		}
		out[i] = v
	}
	return out
}

// CategoricalImputer replaces empty categorical values with the fitted statistic.
type CategoricalImputer struct {
	columns    []string
	statistics []string
}

func newCategoricalImputer(spec ImputerSpec) (*CategoricalImputer, error) {
	if len(spec.Columns) != len(spec.Statistics) {
		return nil, fmt.Errorf("categorical imputer: %d columns but %d statistics", len(spec.Columns), len(spec.Statistics))
	}
	stats := make([]string, len(spec.Statistics))
	for i, raw := range spec.Statistics {
		var v string
		if err := json.Unmarshal(raw, &v); err != nil || v == "" {
			return nil, fmt.Errorf("categorical imputer: statistic for %q is not a category", spec.Columns[i])
		}
		stats[i] = v
	}
	return &CategoricalImputer{columns: spec.Columns, statistics: stats}, nil
}

// Columns returns the columns the imputer was fitted on, in order.
func (imp *CategoricalImputer) Columns() []string {
	return imp.columns
}

// Transform fills empty entries of row, which must align with Columns.
func (imp *CategoricalImputer) Transform(row []string) []string {
	out := make([]string, len(row))
	for i, v := range row {
		if v == "" {
			v = imp.statistics[i]
		}
		out[i] = v
	}
	return out
}
