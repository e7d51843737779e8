// Package pipeline reproduces, at request time, the fitted preprocessing
// pipeline and calibrated classifier the severity model was trained with.
//
// The fitted state is exported once from the training environment into a JSON
// bundle. Load validates the bundle, precomputes the column plan and returns an
// immutable *Artifacts that is safe for concurrent use without locking.
package pipeline

import "encoding/json"

// Bundle is the serialized form of the fitted pipeline.
type Bundle struct {
	FormatVersion int `json:"format_version"`

	NumericImputer     ImputerSpec    `json:"imputer_num"`
	CategoricalImputer ImputerSpec    `json:"imputer_cat"`
	Encoder            EncoderSpec    `json:"ohe"`
	Scaler             ScalerSpec     `json:"scaler"`
	Model              ClassifierSpec `json:"modelo"`

	NumericColumns     []string            `json:"cols_num"`
	CategoricalColumns []string            `json:"cols_cat"`
	ScaleColumns       []string            `json:"cols_escalar"`
	MissingIndicators  []IndicatorSpec     `json:"missing_indicators"`
	FeatureNames       []string            `json:"feature_names_post_ohe"`
	OriginalFeatures   []string            `json:"features_originales"`
	RareCategories     map[string][]string `json:"categorias_raras"`
	ClassNames         map[string]string   `json:"class_names"`
}

// ImputerSpec is a fitted simple imputer. Statistics align with Columns and
// are numbers for the numeric imputer and strings for the categorical one.
type ImputerSpec struct {
	Strategy   string            `json:"strategy"`
	Columns    []string          `json:"columns"`
	Statistics []json.RawMessage `json:"statistics"`
}

// EncoderSpec is a fitted one-hot encoder. DropIndex entries are null when no
// category of that column is dropped.
type EncoderSpec struct {
	Columns       []string   `json:"columns"`
	Categories    [][]string `json:"categories"`
	DropIndex     []*int     `json:"drop_idx"`
	HandleUnknown string     `json:"handle_unknown"`
}

// ScalerSpec is a fitted standard scaler.
type ScalerSpec struct {
	Columns  []string  `json:"columns"`
	Mean     []float64 `json:"mean"`
	Scale    []float64 `json:"scale"`
	WithMean *bool     `json:"with_mean,omitempty"`
	WithStd  *bool     `json:"with_std,omitempty"`
}

// IndicatorSpec names a missingness indicator column and the column it flags.
type IndicatorSpec struct {
	Column string `json:"column"`
	Source string `json:"source"`
}

// ClassifierSpec is a calibrated classifier: one or more base estimators each
// paired with a per-class calibrator, averaged at prediction time.
type ClassifierSpec struct {
	Classes               []int                  `json:"classes"`
	Method                string                 `json:"method"`
	NumFeatures           int                    `json:"n_features_in"`
	CalibratedClassifiers []CalibratedMemberSpec `json:"calibrated_classifiers"`
}

// CalibratedMemberSpec is one fold of a calibrated classifier.
type CalibratedMemberSpec struct {
	Estimator   EnsembleSpec     `json:"estimator"`
	Calibrators []CalibratorSpec `json:"calibrators"`
}

// EnsembleSpec is a tree ensemble whose probability is the mean over trees.
type EnsembleSpec struct {
	Kind     string     `json:"kind"`
	NumClass int        `json:"n_classes"`
	Trees    []TreeSpec `json:"trees"`
}

// TreeSpec is an array-encoded binary decision tree. A node is a leaf when
// ChildrenLeft is -1; Value holds the per-class weights at each node.
type TreeSpec struct {
	ChildrenLeft  []int       `json:"children_left"`
	ChildrenRight []int       `json:"children_right"`
	Feature       []int       `json:"feature"`
	Threshold     []float64   `json:"threshold"`
	Value         [][]float64 `json:"value"`
}

// CalibratorSpec is a sigmoid (A, B) or isotonic (X, Y) calibrator.
type CalibratorSpec struct {
	A *float64  `json:"a,omitempty"`
	B *float64  `json:"b,omitempty"`
	X []float64 `json:"x,omitempty"`
	Y []float64 `json:"y,omitempty"`
}
