// Package pipelinetest provides a small, fully consistent fitted pipeline for
// tests across packages.
//
// The classifier is hand-built so that outcomes are predictable:
//   - Glasgow below 13 routes every tree to a leaf dominated by Severa.
//   - Platelets at or below roughly 152,000 route tree one to Moderada.
//   - Otherwise short fevers lean Leve and fevers longer than five days lean Moderada.
package pipelinetest

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/febrile-severity-server/internal/domain"
	"github.com/febrile-severity-server/internal/pipeline"
)

// IndicatorPrefix names missingness indicator columns.
const IndicatorPrefix = "missingindicator_"

// NumericColumns are the imputed and scaled numeric columns, in order.
var NumericColumns = []string{
	domain.ColumnFeverDays,
	domain.ColumnGlasgow,
	domain.ColumnBandCells,
	domain.ColumnPlatelets,
	domain.ColumnAlbumin,
	domain.ColumnGlobulin,
	domain.ColumnProcalcitonin,
	domain.ColumnLeukocytes,
	domain.ColumnCRP,
}

// LabColumns carry a missingness indicator.
var LabColumns = NumericColumns[2:]

// NumericStatistics are the imputer medians aligned with NumericColumns.
var NumericStatistics = []float64{3, 15, 300, 250000, 3.8, 2.9, 0.3, 9800, 1.2}

var scalerMean = []float64{3, 14.5, 320, 260000, 3.7, 3.0, 0.6, 10500, 2.0}
var scalerScale = []float64{2, 1, 250, 90000, 0.5, 0.6, 1.1, 4200, 2.5}

// CategoricalColumns and their fitted categories, in order.
var CategoricalColumns = []string{
	domain.ColumnAgeGroup,
	domain.ColumnSex,
	domain.ColumnArea,
	domain.ColumnVaccination,
	domain.ColumnPriorConditions,
	domain.ColumnEpidemiologicalContact,
	domain.ColumnEnvironmentalExposure,
	domain.ColumnNutritionalStatus,
	domain.ColumnPhysicalExamFinding,
}

var categories = [][]string{
	{"2-5", "6-11", "<2", "Otro"},
	{"Femenino", "Masculino"},
	{"Rural", "Urban"},
	{"Completo", "Incompleto"},
	{"Asma", "Ninguno", "Otro"},
	{"No", "Si"},
	{"No", "Si"},
	{"Normal", "Otro", "Riesgo de desnutrición"},
	{"Ninguno", "Otro", "Taquipnea", "Tirajes subcostales"},
}

// CategoricalStatistics are the imputer modes aligned with CategoricalColumns.
var CategoricalStatistics = []string{"2-5", "Femenino", "Urban", "Completo", "Ninguno", "No", "No", "Normal", "Ninguno"}

// RareCategories maps columns to values collapsed into the sentinel.
var RareCategories = map[string][]string{
	domain.ColumnAgeGroup:            {"12-17"},
	domain.ColumnPriorConditions:     {"Cardiopatía", "Epilepsia"},
	domain.ColumnNutritionalStatus:   {"Obesidad"},
	domain.ColumnPhysicalExamFinding: {"Exudado purulento retrofaríngeo"},
}

// IndicatorColumns returns the indicator column names, in order.
func IndicatorColumns() []string {
	out := make([]string, len(LabColumns))
	for i, c := range LabColumns {
		out[i] = IndicatorPrefix + c
	}
	return out
}

// FeatureNames returns the post-encoding feature order.
func FeatureNames() []string {
	names := append([]string{}, NumericColumns...)
	names = append(names, IndicatorColumns()...)
	for j, col := range CategoricalColumns {
		for _, cat := range categories[j] {
			names = append(names, col+"_"+cat)
		}
	}
	return names
}

// OriginalFeatures returns the raw input columns.
func OriginalFeatures() []string {
	return append(append([]string{}, CategoricalColumns...), NumericColumns...)
}

// Bundle returns a fresh, valid bundle.
func Bundle() *pipeline.Bundle {
	indicators := make([]pipeline.IndicatorSpec, len(LabColumns))
	for i, c := range LabColumns {
		indicators[i] = pipeline.IndicatorSpec{Column: IndicatorPrefix + c, Source: c}
	}

	numStats := make([]json.RawMessage, len(NumericStatistics))
	for i, v := range NumericStatistics {
		numStats[i] = raw(v)
	}
	catStats := make([]json.RawMessage, len(CategoricalStatistics))
	for i, v := range CategoricalStatistics {
		catStats[i] = raw(v)
	}

	cats := make([][]string, len(categories))
	for i := range categories {
		cats[i] = append([]string{}, categories[i]...)
	}
	rare := make(map[string][]string, len(RareCategories))
	for k, v := range RareCategories {
		rare[k] = append([]string{}, v...)
	}

	features := FeatureNames()

	return &pipeline.Bundle{
		FormatVersion: 1,
		NumericImputer: pipeline.ImputerSpec{
			Strategy:   "median",
			Columns:    append([]string{}, NumericColumns...),
			Statistics: numStats,
		},
		CategoricalImputer: pipeline.ImputerSpec{
			Strategy:   "most_frequent",
			Columns:    append([]string{}, CategoricalColumns...),
			Statistics: catStats,
		},
		Encoder: pipeline.EncoderSpec{
			Columns:       append([]string{}, CategoricalColumns...),
			Categories:    cats,
			HandleUnknown: "ignore",
		},
		Scaler: pipeline.ScalerSpec{
			Columns: append([]string{}, NumericColumns...),
			Mean:    append([]float64{}, scalerMean...),
			Scale:   append([]float64{}, scalerScale...),
		},
		Model:              classifier(len(features)),
		NumericColumns:     append(append([]string{}, NumericColumns...), IndicatorColumns()...),
		CategoricalColumns: append([]string{}, CategoricalColumns...),
		ScaleColumns:       append([]string{}, NumericColumns...),
		MissingIndicators:  indicators,
		FeatureNames:       features,
		OriginalFeatures:   OriginalFeatures(),
		RareCategories:     rare,
		ClassNames:         map[string]string{"0": "Leve", "1": "Moderada", "2": "Severa"},
	}
}

func classifier(width int) pipeline.ClassifierSpec {
	const (
		fever     = 0
		glasgow   = 1
		platelets = 3
	)

	// Thresholds are in scaled units: Glasgow 12.5 -> -2.0, fever 5 days -> 1.0,
	// platelets about 152,000 -> -1.2.
	glasgowTree := pipeline.TreeSpec{
		ChildrenLeft:  []int{1, -1, 3, -1, -1},
		ChildrenRight: []int{2, -1, 4, -1, -1},
		Feature:       []int{glasgow, -2, platelets, -2, -2},
		Threshold:     []float64{-2.0, -2, -1.2, -2, -2},
		Value: [][]float64{
			{0.5, 0.3, 0.2},
			{0.1, 0.2, 0.7},
			{0.6, 0.3, 0.1},
			{0.2, 0.6, 0.2},
			{0.8, 0.15, 0.05},
		},
	}
	feverTree := pipeline.TreeSpec{
		ChildrenLeft:  []int{1, -1, 3, -1, -1},
		ChildrenRight: []int{2, -1, 4, -1, -1},
		Feature:       []int{glasgow, -2, fever, -2, -2},
		Threshold:     []float64{-2.0, -2, 1.0, -2, -2},
		Value: [][]float64{
			{0.5, 0.3, 0.2},
			{0.05, 0.25, 0.7},
			{0.6, 0.3, 0.1},
			{0.7, 0.2, 0.1},
			{0.2, 0.6, 0.2},
		},
	}

	sigmoid := func(a, b float64) []pipeline.CalibratorSpec {
		out := make([]pipeline.CalibratorSpec, 3)
		for i := range out {
			av, bv := a, b
			out[i] = pipeline.CalibratorSpec{A: &av, B: &bv}
		}
		return out
	}

	return pipeline.ClassifierSpec{
		Classes:     []int{0, 1, 2},
		Method:      "sigmoid",
		NumFeatures: width,
		CalibratedClassifiers: []pipeline.CalibratedMemberSpec{
			{
				Estimator:   pipeline.EnsembleSpec{Kind: "extra_trees", NumClass: 3, Trees: []pipeline.TreeSpec{glasgowTree, feverTree}},
				Calibrators: sigmoid(-4, 2),
			},
			{
				Estimator:   pipeline.EnsembleSpec{Kind: "extra_trees", NumClass: 3, Trees: []pipeline.TreeSpec{feverTree}},
				Calibrators: sigmoid(-3, 1.5),
			},
		},
	}
}

// Metadata returns the companion metadata document.
func Metadata() *pipeline.Metadata {
	return &pipeline.Metadata{
		Version:              "3.0.0",
		ModelName:            "ExtraTrees calibrado",
		ModelType:            "CalibratedClassifierCV",
		OriginalFeatures:     len(OriginalFeatures()),
		PostEncodingFeatures: len(FeatureNames()),
		Classes:              map[string]string{"0": "Leve", "1": "Moderada", "2": "Severa"},
		Calibrated:           true,
		HoldoutMetrics:       map[string]any{"f1_macro": 0.81, "balanced_accuracy": 0.79},
		NestedCVMetrics:      map[string]any{"f1_macro_mean": 0.78},
		TrainSize:            412,
		TestSize:             104,
	}
}

// Artifacts builds validated artifacts from the fixture.
func Artifacts(t testing.TB) *pipeline.Artifacts {
	t.Helper()
	a, err := pipeline.NewArtifacts(Bundle(), Metadata(), FeatureNames())
	if err != nil {
		t.Fatalf("building fixture artifacts: %v", err)
	}
	return a
}

// WriteFiles writes the fixture documents into dir and returns their paths.
func WriteFiles(t testing.TB, dir string, compress bool) pipeline.Paths {
	t.Helper()

	bundle, err := json.Marshal(Bundle())
	if err != nil {
		t.Fatalf("encoding bundle: %v", err)
	}
	name := "pipeline.json"
	if compress {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(bundle); err != nil {
			t.Fatalf("compressing bundle: %v", err)
		}
		if err := gz.Close(); err != nil {
			t.Fatalf("compressing bundle: %v", err)
		}
		bundle = buf.Bytes()
		name += ".gz"
	}

	meta, err := json.Marshal(Metadata())
	if err != nil {
		t.Fatalf("encoding metadata: %v", err)
	}
	features, err := json.Marshal(FeatureNames())
	if err != nil {
		t.Fatalf("encoding features: %v", err)
	}

	paths := pipeline.Paths{
		Pipeline: filepath.Join(dir, name),
		Metadata: filepath.Join(dir, "metadata.json"),
		Features: filepath.Join(dir, "features.json"),
	}
	for path, data := range map[string][]byte{paths.Pipeline: bundle, paths.Metadata: meta, paths.Features: features} {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatalf("writing %s: %v", path, err)
		}
	}
	return paths
}

// Record returns a baseline record that triggers no clinical factor.
func Record() domain.ClinicalRecord {
	return domain.ClinicalRecord{
		AgeGroup:               "2-5",
		Sex:                    "Femenino",
		Area:                   "Urban",
		Vaccination:            "Completo",
		PriorConditions:        "Ninguno",
		EpidemiologicalContact: "No",
		EnvironmentalExposure:  "No",
		NutritionalStatus:      "Normal",
		PhysicalExamFinding:    "Ninguno",
		FeverDays:              3,
		Glasgow:                15,
	}
}

func raw(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
