// Package domain contains the core entities of the pediatric febrile severity service:
// the clinical record a caller submits, the prediction returned for it, the identity
// extracted from a bearer token, and the error taxonomy shared by every layer.
//
// Severity classes follow the three-level scale the model was trained on:
// Leve (mild), Moderada (moderate) and Severa (severe).
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Pipeline column names exactly as the fitted pipeline expects them.
const (
	ColumnAgeGroup               = "Grupo edad años"
	ColumnSex                    = "Sexo"
	ColumnArea                   = "Area"
	ColumnFeverDays              = "Tiempo dias de inicio de la fiebre en fecha de consulta"
	ColumnVaccination            = "Vacunación"
	ColumnPriorConditions        = "Antecedentes personales de patologías"
	ColumnEpidemiologicalContact = "Contacto epidemiologico con enfermedades infecciosas"
	ColumnEnvironmentalExposure  = "Exposicion ambiental"
	ColumnNutritionalStatus      = "Estado nutricional"
	ColumnGlasgow                = "Glasgow"
	ColumnPhysicalExamFinding    = "Hallazgo relevante al examen físico"
	ColumnBandCells              = "Cayados absolutos"
	ColumnPlatelets              = "Plaquetas cel/mm3"
	ColumnAlbumin                = "Albúmina sérica g/dl"
	ColumnGlobulin               = "Globulina sérica g/dl"
	ColumnProcalcitonin          = "Procalcitonina ng/mL"
	ColumnLeukocytes             = "Leucocitos cel/mm3"
	ColumnCRP                    = "PCR mg/dL"
)

// RareCategorySentinel replaces categorical values the training data saw too rarely.
const RareCategorySentinel = "Otro"

// Accepted ranges for the required integer measurements.
const (
	MinFeverDays = 0
	MaxFeverDays = 60
	MinGlasgow   = 3
	MaxGlasgow   = 15
)

// ClinicalRecord is the structured patient presentation submitted for prediction.
// Optional laboratory values are pointers; nil means the value was not measured,
// which is itself a signal the model consumes through missingness indicators.
type ClinicalRecord struct {
	AgeGroup               string `json:"grupo_edad"`
	Sex                    string `json:"sexo"`
	Area                   string `json:"area"`
	Vaccination            string `json:"vacunacion"`
	PriorConditions        string `json:"antecedentes"`
	EpidemiologicalContact string `json:"contacto_epidemiologico"`
	EnvironmentalExposure  string `json:"exposicion_ambiental"`
	NutritionalStatus      string `json:"estado_nutricional"`
	PhysicalExamFinding    string `json:"hallazgo_examen_fisico"`

	FeverDays int `json:"tiempo_fiebre"`
	Glasgow   int `json:"glasgow"`

	BandCells     *float64 `json:"cayados,omitempty"`
	Platelets     *float64 `json:"plaquetas,omitempty"`
	Albumin       *float64 `json:"albumina,omitempty"`
	Globulin      *float64 `json:"globulina,omitempty"`
	Procalcitonin *float64 `json:"procalcitonina,omitempty"`
	Leukocytes    *float64 `json:"leucocitos,omitempty"`
	CRP           *float64 `json:"pcr,omitempty"`

	// missing names required integer fields absent from the decoded JSON.
	missing []string
}

// UnmarshalJSON decodes a record and remembers which required integer
// fields were absent, since zero is a legitimate value for some of them.
func (r *ClinicalRecord) UnmarshalJSON(data []byte) error {
	return r.decode(data, false)
}

// DecodeRecordStrict decodes a record and rejects fields it does not define.
func DecodeRecordStrict(data []byte) (*ClinicalRecord, error) {
	var r ClinicalRecord
	if err := r.decode(data, true); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *ClinicalRecord) decode(data []byte, strict bool) error {
	type plain ClinicalRecord
	aux := struct {
		*plain
		FeverDays *int `json:"tiempo_fiebre"`
		Glasgow   *int `json:"glasgow"`
	}{plain: (*plain)(r)}

	dec := json.NewDecoder(bytes.NewReader(data))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(&aux); err != nil {
		return err
	}

	r.missing = nil
	if aux.FeverDays == nil {
		r.missing = append(r.missing, "tiempo_fiebre")
	} else {
		r.FeverDays = *aux.FeverDays
	}
	if aux.Glasgow == nil {
		r.missing = append(r.missing, "glasgow")
	} else {
		r.Glasgow = *aux.Glasgow
	}
	return nil
}

func (r *ClinicalRecord) absent(field string) bool {
	for _, f := range r.missing {
		if f == field {
			return true
		}
	}
	return false
}

// Validate checks the boundary constraints for a record. It returns every
// violation found so callers can report them together.
func (r *ClinicalRecord) Validate() []*ValidationError {
	var errs []*ValidationError

	required := []struct {
		field string
		value string
	}{
		{"grupo_edad", r.AgeGroup},
		{"sexo", r.Sex},
		{"area", r.Area},
		{"vacunacion", r.Vaccination},
		{"antecedentes", r.PriorConditions},
		{"contacto_epidemiologico", r.EpidemiologicalContact},
		{"exposicion_ambiental", r.EnvironmentalExposure},
		{"estado_nutricional", r.NutritionalStatus},
		{"hallazgo_examen_fisico", r.PhysicalExamFinding},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			errs = append(errs, NewValidationError(f.field, "field is required", f.value))
		}
	}

	measurements := []struct {
		field    string
		value    int
		min, max int
	}{
		{"tiempo_fiebre", r.FeverDays, MinFeverDays, MaxFeverDays},
		{"glasgow", r.Glasgow, MinGlasgow, MaxGlasgow},
	}
	for _, f := range measurements {
		if r.absent(f.field) {
			errs = append(errs, NewValidationError(f.field, "field is required", nil))
			continue
		}
		if f.value < f.min || f.value > f.max {
			errs = append(errs, NewValidationError(f.field,
				fmt.Sprintf("must be between %d and %d", f.min, f.max), f.value))
		}
	}

	for _, lab := range r.labs() {
		if lab.value == nil {
			continue
		}
		v := *lab.value
		if math.IsNaN(v) || math.IsInf(v, 0) {
			errs = append(errs, NewValidationError(lab.field, "must be a finite number", v))
			continue
		}
		if v < 0 {
			errs = append(errs, NewValidationError(lab.field, "must be greater than or equal to 0", v))
		}
	}

	return errs
}

type labValue struct {
	field string
	value *float64
}

func (r *ClinicalRecord) labs() []labValue {
	return []labValue{
		{"cayados", r.BandCells},
		{"plaquetas", r.Platelets},
		{"albumina", r.Albumin},
		{"globulina", r.Globulin},
		{"procalcitonina", r.Procalcitonin},
		{"leucocitos", r.Leukocytes},
		{"pcr", r.CRP},
	}
}

// LogFields returns the key clinical signals for structured request logging.
func (r *ClinicalRecord) LogFields() map[string]any {
	return map[string]any{
		"glasgow":          r.Glasgow,
		"fever_days":       r.FeverDays,
		"exam_finding":     r.PhysicalExamFinding,
		"labs_measured":    r.MeasuredLabCount(),
		"nutrition_status": r.NutritionalStatus,
	}
}

// MeasuredLabCount returns how many optional laboratory values are present.
func (r *ClinicalRecord) MeasuredLabCount() int {
	n := 0
	for _, lab := range r.labs() {
		if lab.value != nil {
			n++
		}
	}
	return n
}

// Float is a convenience for building optional lab values.
func Float(v float64) *float64 {
	return &v
}
