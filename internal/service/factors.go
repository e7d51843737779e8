package service

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/febrile-severity-server/internal/domain"
)

// Clinical thresholds for the contributing factor rules.
const (
	glasgowAlteredBelow     = 13
	thrombocytopeniaBelow   = 150000.0
	thrombocytosisAbove     = 400000.0
	hypoalbuminemiaBelow    = 3.5
	bandCellsAbove          = 500.0
	globulinAbove           = 4.0
	procalcitoninAtLeast    = 0.5
	crpAbove                = 2.0
	leukocytosisAbove       = 15000.0
	leukopeniaBelow         = 4000.0
	prolongedFeverAboveDays = 5
	vaccinationIncomplete   = "Incompleto"
	malnutritionRisk        = "Riesgo de desnutrición"
)

var alarmFindings = map[string]struct{}{
	"Taquipnea":                       {},
	"Tirajes subcostales":             {},
	"Exudado purulento retrofaríngeo": {},
}

// factorRule inspects the raw record and reports at most one factor.
type factorRule func(r *domain.ClinicalRecord) (string, bool)

// factorRules run in reporting order.
var factorRules = []factorRule{
	func(r *domain.ClinicalRecord) (string, bool) {
		if r.Glasgow < glasgowAlteredBelow {
			return fmt.Sprintf("Glasgow alterado (%d)", r.Glasgow), true
		}
		return "", false
	},
	func(r *domain.ClinicalRecord) (string, bool) {
		if r.Platelets == nil {
			return "", false
		}
		switch v := *r.Platelets; {
		case v < thrombocytopeniaBelow:
			return fmt.Sprintf("Trombocitopenia (%s cel/mm³)", formatCount(v)), true
		case v > thrombocytosisAbove:
			return fmt.Sprintf("Trombocitosis (%s cel/mm³)", formatCount(v)), true
		}
		return "", false
	},
	func(r *domain.ClinicalRecord) (string, bool) {
		if r.Albumin != nil && *r.Albumin < hypoalbuminemiaBelow {
			return fmt.Sprintf("Hipoalbuminemia (%s g/dl)", formatMeasure(*r.Albumin)), true
		}
		return "", false
	},
	func(r *domain.ClinicalRecord) (string, bool) {
		if r.BandCells != nil && *r.BandCells > bandCellsAbove {
			return fmt.Sprintf("Cayados elevados (%s cel/mm³)", formatCount(*r.BandCells)), true
		}
		return "", false
	},
	func(r *domain.ClinicalRecord) (string, bool) {
		if r.Globulin != nil && *r.Globulin > globulinAbove {
			return fmt.Sprintf("Globulina elevada (%s g/dl)", formatMeasure(*r.Globulin)), true
		}
		return "", false
	},
	func(r *domain.ClinicalRecord) (string, bool) {
		if r.Procalcitonin != nil && *r.Procalcitonin >= procalcitoninAtLeast {
			return fmt.Sprintf("Procalcitonina elevada (%s ng/mL)", formatMeasure(*r.Procalcitonin)), true
		}
		return "", false
	},
	func(r *domain.ClinicalRecord) (string, bool) {
		if r.CRP != nil && *r.CRP > crpAbove {
			return fmt.Sprintf("PCR elevada (%s mg/dL)", formatMeasure(*r.CRP)), true
		}
		return "", false
	},
	func(r *domain.ClinicalRecord) (string, bool) {
		if r.Leukocytes == nil {
			return "", false
		}
		switch v := *r.Leukocytes; {
		case v > leukocytosisAbove:
			return fmt.Sprintf("Leucocitosis (%s cel/mm³)", formatCount(v)), true
		case v < leukopeniaBelow:
			return fmt.Sprintf("Leucopenia (%s cel/mm³)", formatCount(v)), true
		}
		return "", false
	},
	func(r *domain.ClinicalRecord) (string, bool) {
		if _, ok := alarmFindings[r.PhysicalExamFinding]; ok {
			return fmt.Sprintf("Hallazgo de alarma al examen físico (%s)", r.PhysicalExamFinding), true
		}
		return "", false
	},
	func(r *domain.ClinicalRecord) (string, bool) {
		if r.FeverDays > prolongedFeverAboveDays {
			return fmt.Sprintf("Fiebre prolongada (%d días)", r.FeverDays), true
		}
		return "", false
	},
	func(r *domain.ClinicalRecord) (string, bool) {
		return "Esquema de vacunación incompleto", r.Vaccination == vaccinationIncomplete
	},
	func(r *domain.ClinicalRecord) (string, bool) {
		return malnutritionRisk, r.NutritionalStatus == malnutritionRisk
	},
}

// IdentifyFactors lists the clinical signals in the raw record that are
// worth surfacing next to a prediction. It never returns an empty slice.
func IdentifyFactors(r *domain.ClinicalRecord) []string {
	var factors []string
	for _, rule := range factorRules {
		if msg, ok := rule(r); ok {
			factors = append(factors, msg)
		}
	}
	if len(factors) == 0 {
		return []string{domain.NoFactorsMessage}
	}
	return factors
}

// formatCount renders a cell count rounded to a whole number with
// thousands separators, e.g. 100,000.
func formatCount(v float64) string {
	return humanize.Comma(int64(math.RoundToEven(v)))
}

// formatMeasure renders a concentration in its shortest exact form, keeping
// one decimal for whole values (3 → "3.0").
func formatMeasure(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
