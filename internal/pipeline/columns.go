package pipeline

import (
	"math"

	"github.com/febrile-severity-server/internal/domain"
)

// categoricalBinding reads or replaces one categorical field of a record.
type categoricalBinding func(r *domain.ClinicalRecord) *string

// numericBinding reads one numeric field; NaN means absent.
type numericBinding func(r *domain.ClinicalRecord) float64

var categoricalBindings = map[string]categoricalBinding{
	domain.ColumnAgeGroup:               func(r *domain.ClinicalRecord) *string { return &r.AgeGroup },
	domain.ColumnSex:                    func(r *domain.ClinicalRecord) *string { return &r.Sex },
	domain.ColumnArea:                   func(r *domain.ClinicalRecord) *string { return &r.Area },
	domain.ColumnVaccination:            func(r *domain.ClinicalRecord) *string { return &r.Vaccination },
	domain.ColumnPriorConditions:        func(r *domain.ClinicalRecord) *string { return &r.PriorConditions },
	domain.ColumnEpidemiologicalContact: func(r *domain.ClinicalRecord) *string { return &r.EpidemiologicalContact },
	domain.ColumnEnvironmentalExposure:  func(r *domain.ClinicalRecord) *string { return &r.EnvironmentalExposure },
	domain.ColumnNutritionalStatus:      func(r *domain.ClinicalRecord) *string { return &r.NutritionalStatus },
	domain.ColumnPhysicalExamFinding:    func(r *domain.ClinicalRecord) *string { return &r.PhysicalExamFinding },
}

var numericBindings = map[string]numericBinding{
	domain.ColumnFeverDays:     func(r *domain.ClinicalRecord) float64 { return float64(r.FeverDays) },
	domain.ColumnGlasgow:       func(r *domain.ClinicalRecord) float64 { return float64(r.Glasgow) },
	domain.ColumnBandCells:     func(r *domain.ClinicalRecord) float64 { return optional(r.BandCells) },
	domain.ColumnPlatelets:     func(r *domain.ClinicalRecord) float64 { return optional(r.Platelets) },
	domain.ColumnAlbumin:       func(r *domain.ClinicalRecord) float64 { return optional(r.Albumin) },
	domain.ColumnGlobulin:      func(r *domain.ClinicalRecord) float64 { return optional(r.Globulin) },
	domain.ColumnProcalcitonin: func(r *domain.ClinicalRecord) float64 { return optional(r.Procalcitonin) },
	domain.ColumnLeukocytes:    func(r *domain.ClinicalRecord) float64 { return optional(r.Leukocytes) },
	domain.ColumnCRP:           func(r *domain.ClinicalRecord) float64 { return optional(r.CRP) },
}

func optional(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
