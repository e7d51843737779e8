package pipeline

import (
	"fmt"
	"slices"
	"sort"
	"strconv"

	"github.com/febrile-severity-server/internal/domain"
)

// Artifacts is the validated, immutable fitted pipeline plus its metadata.
type Artifacts struct {
	transformer       *Transformer
	classifier        *CalibratedClassifier
	labels            map[int]domain.Severity
	originalFeatures  []string
	canonicalFeatures []string
	metadata          *Metadata
}

// Transformer returns the record-to-vector transformer.
func (a *Artifacts) Transformer() *Transformer {
	return a.transformer
}

// Classifier returns the calibrated classifier.
func (a *Artifacts) Classifier() *CalibratedClassifier {
	return a.classifier
}

// Label maps a class code to its severity label.
func (a *Artifacts) Label(code int) (domain.Severity, bool) {
	label, ok := a.labels[code]
	return label, ok
}

// Metadata returns the model description document.
func (a *Artifacts) Metadata() *Metadata {
	return a.metadata
}

// FeatureNames returns the canonical feature-name list shipped with the model.
func (a *Artifacts) FeatureNames() []string {
	return a.canonicalFeatures
}

// OriginalFeatures returns the raw input columns the pipeline was fitted on.
func (a *Artifacts) OriginalFeatures() []string {
	return a.originalFeatures
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidArtifacts, fmt.Sprintf(format, args...))
}

// NewArtifacts validates a decoded bundle against the record bindings and
// precomputes the column plan. Any inconsistency is an error: a bundle that
// passes here produces vectors in exactly the order the classifier was fit on.
func NewArtifacts(b *Bundle, meta *Metadata, canonical []string) (*Artifacts, error) {
	if meta == nil {
		meta = &Metadata{}
	}

	numImp, err := newNumericImputer(b.NumericImputer)
	if err != nil {
		return nil, invalid("%v", err)
	}
	catImp, err := newCategoricalImputer(b.CategoricalImputer)
	if err != nil {
		return nil, invalid("%v", err)
	}
	enc, err := newOneHotEncoder(b.Encoder)
	if err != nil {
		return nil, invalid("%v", err)
	}
	scaler, err := newStandardScaler(b.Scaler)
	if err != nil {
		return nil, invalid("%v", err)
	}
	clf, err := newCalibratedClassifier(b.Model)
	if err != nil {
		return nil, invalid("classifier: %v", err)
	}

	numeric, err := uniqueSet("cols_num", b.NumericColumns)
	if err != nil {
		return nil, err
	}
	categorical, err := uniqueSet("cols_cat", b.CategoricalColumns)
	if err != nil {
		return nil, err
	}
	for name := range numeric {
		if _, ok := categorical[name]; ok {
			return nil, invalid("column %q is both numeric and categorical", name)
		}
	}

	// Missingness indicators are numeric columns that are never imputed or scaled.
	indicatorCols := make(map[string]struct{}, len(b.MissingIndicators))
	indicators := make([]numericBinding, 0, len(b.MissingIndicators))
	for _, ind := range b.MissingIndicators {
		if _, ok := numeric[ind.Column]; !ok {
			return nil, invalid("indicator column %q is not in cols_num", ind.Column)
		}
		if _, dup := indicatorCols[ind.Column]; dup {
			return nil, invalid("indicator column %q declared twice", ind.Column)
		}
		indicatorCols[ind.Column] = struct{}{}
	}
	for _, ind := range b.MissingIndicators {
		if _, ok := indicatorCols[ind.Source]; ok {
			return nil, invalid("indicator %q flags another indicator", ind.Column)
		}
		if _, ok := numeric[ind.Source]; !ok {
			return nil, invalid("indicator %q flags %q, which is not in cols_num", ind.Column, ind.Source)
		}
		bind, ok := numericBindings[ind.Source]
		if !ok {
			return nil, invalid("indicator source %q has no record field", ind.Source)
		}
		indicators = append(indicators, bind)
	}

	// The numeric imputer covers exactly the non-indicator numeric columns.
	imputed := numImp.Columns()
	if len(imputed) != len(numeric)-len(indicatorCols) {
		return nil, invalid("numeric imputer covers %d columns, want %d", len(imputed), len(numeric)-len(indicatorCols))
	}
	numericBinds := make([]numericBinding, len(imputed))
	imputedIndex := make(map[string]int, len(imputed))
	for i, name := range imputed {
		if _, ok := numeric[name]; !ok {
			return nil, invalid("numeric imputer column %q is not in cols_num", name)
		}
		if _, ok := indicatorCols[name]; ok {
			return nil, invalid("numeric imputer must not impute indicator %q", name)
		}
		bind, ok := numericBindings[name]
		if !ok {
			return nil, invalid("numeric column %q has no record field", name)
		}
		numericBinds[i] = bind
		imputedIndex[name] = i
	}

	// The categorical imputer and the encoder both cover cols_cat, in the same order.
	catCols := catImp.Columns()
	if len(catCols) != len(categorical) {
		return nil, invalid("categorical imputer covers %d columns, want %d", len(catCols), len(categorical))
	}
	if !slices.Equal(catCols, enc.Columns()) {
		return nil, invalid("encoder columns %v differ from categorical imputer columns %v", enc.Columns(), catCols)
	}
	catBinds := make([]categoricalBinding, len(catCols))
	rare := make([]map[string]struct{}, len(catCols))
	for i, name := range catCols {
		if _, ok := categorical[name]; !ok {
			return nil, invalid("categorical imputer column %q is not in cols_cat", name)
		}
		bind, ok := categoricalBindings[name]
		if !ok {
			return nil, invalid("categorical column %q has no record field", name)
		}
		catBinds[i] = bind
		if values, ok := b.RareCategories[name]; ok && len(values) > 0 {
			rare[i] = make(map[string]struct{}, len(values))
			for _, v := range values {
				rare[i][v] = struct{}{}
			}
		}
	}
	for name := range b.RareCategories {
		if _, ok := categorical[name]; !ok {
			return nil, invalid("rare categories declared for non-categorical column %q", name)
		}
	}

	// Scale columns are a subset of the imputed numeric columns.
	if !slices.Equal(scaler.Columns(), b.ScaleColumns) {
		return nil, invalid("scaler columns %v differ from cols_escalar %v", scaler.Columns(), b.ScaleColumns)
	}
	scaleIndex := make([]int, len(b.ScaleColumns))
	for i, name := range b.ScaleColumns {
		idx, ok := imputedIndex[name]
		if !ok {
			return nil, invalid("scale column %q is not an imputed numeric column", name)
		}
		scaleIndex[i] = idx
	}

	// Concatenation plan: scaled block, indicator block, one-hot block.
	plan := make([]string, 0, len(b.FeatureNames))
	plan = append(plan, b.ScaleColumns...)
	for _, ind := range b.MissingIndicators {
		plan = append(plan, ind.Column)
	}
	plan = append(plan, enc.FeatureNames()...)
	if !slices.Equal(plan, b.FeatureNames) {
		return nil, invalid("concatenation plan does not match feature_names_post_ohe: %s", firstDifference(plan, b.FeatureNames))
	}
	if clf.NumFeatures() != len(plan) {
		return nil, invalid("classifier expects %d features, pipeline produces %d", clf.NumFeatures(), len(plan))
	}

	labels, err := classLabels(b.ClassNames, clf.Classes())
	if err != nil {
		return nil, err
	}

	for _, name := range b.OriginalFeatures {
		_, isNum := numericBindings[name]
		_, isCat := categoricalBindings[name]
		if !isNum && !isCat {
			return nil, invalid("original feature %q has no record field", name)
		}
	}

	if canonical == nil {
		canonical = b.FeatureNames
	}
	if !slices.Equal(canonical, b.FeatureNames) && !slices.Equal(canonical, b.OriginalFeatures) {
		return nil, invalid("feature name list matches neither feature_names_post_ohe nor features_originales")
	}
	if meta.PostEncodingFeatures != 0 && meta.PostEncodingFeatures != len(plan) {
		return nil, invalid("metadata declares %d post-encoding features, pipeline produces %d", meta.PostEncodingFeatures, len(plan))
	}

	return &Artifacts{
		transformer: &Transformer{
			categorical:        catBinds,
			rare:               rare,
			numeric:            numericBinds,
			indicators:         indicators,
			scaleIndex:         scaleIndex,
			numericImputer:     numImp,
			categoricalImputer: catImp,
			encoder:            enc,
			scaler:             scaler,
			featureNames:       plan,
		},
		classifier:        clf,
		labels:            labels,
		originalFeatures:  b.OriginalFeatures,
		canonicalFeatures: canonical,
		metadata:          meta,
	}, nil
}

func uniqueSet(name string, cols []string) (map[string]struct{}, error) {
	set := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		if _, dup := set[c]; dup {
			return nil, invalid("%s lists %q twice", name, c)
		}
		set[c] = struct{}{}
	}
	return set, nil
}

func classLabels(names map[string]string, classes []int) (map[int]domain.Severity, error) {
	if len(classes) != 3 {
		return nil, invalid("expected 3 classes, classifier has %d", len(classes))
	}
	labels := make(map[int]domain.Severity, len(names))
	for key, label := range names {
		code, err := strconv.Atoi(key)
		if err != nil {
			return nil, invalid("class code %q is not an integer", key)
		}
		sev := domain.Severity(label)
		if !sev.IsValid() {
			return nil, invalid("class %d has unknown label %q", code, label)
		}
		labels[code] = sev
	}
	seen := make(map[domain.Severity]bool, len(classes))
	for _, code := range classes {
		label, ok := labels[code]
		if !ok {
			return nil, invalid("class %d has no label", code)
		}
		if seen[label] {
			return nil, invalid("label %q is assigned to more than one class", label)
		}
		seen[label] = true
	}
	return labels, nil
}

func firstDifference(got, want []string) string {
	for i := 0; i < len(got) && i < len(want); i++ {
		if got[i] != want[i] {
			return fmt.Sprintf("position %d is %q, want %q", i, got[i], want[i])
		}
	}
	if len(got) != len(want) {
		extra := slices.Clone(got)
		if len(want) > len(got) {
			extra = slices.Clone(want)
		}
		tail := extra[min(len(got), len(want)):]
		sort.Strings(tail)
		return fmt.Sprintf("length %d, want %d (unmatched: %v)", len(got), len(want), tail)
	}
	return "no difference"
}
