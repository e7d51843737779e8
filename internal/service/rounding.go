package service

import "math"

// roundPercent converts a probability into a percentage rounded to one
// decimal, half away from zero.
func roundPercent(p float64) float64 {
	return math.Round(p*1000) / 10
}

// percentages rounds each class probability on its own. Three rounded values
// add up to 100.0 within a tenth.
func percentages(proba []float64) []float64 {
	if len(proba) == 0 {
		return nil
	}
	out := make([]float64, len(proba))
	for i, p := range proba {
		out[i] = roundPercent(p)
	}
	return out
}

// maxOf returns the largest value in v.
func maxOf(v []float64) float64 {
	m := math.Inf(-1)
	for _, x := range v {
		if x > m {
			m = x
		}
	}
	return m
}
