package pipeline

import (
	"math"

	"github.com/febrile-severity-server/internal/domain"
)

// GroupedRecord is a clinical record whose rare categorical values have been
// collapsed to the sentinel category.
type GroupedRecord struct {
	Record domain.ClinicalRecord
}

// AssembledRow holds the record's values in pipeline column order. Numeric
// aligns with the numeric imputer (NaN marks absence), Indicators with the
// indicator block and Categorical with the categorical imputer.
type AssembledRow struct {
	Numeric     []float64
	Indicators  []float64
	Categorical []string
}

// ImputedRow is an AssembledRow with every gap filled.
type ImputedRow struct {
	Numeric     []float64
	Indicators  []float64
	Categorical []string
}

// Vector is the final model input: scaled block, indicator block, one-hot block.
type Vector []float64

// Transformer turns clinical records into model input using a column plan
// validated when the artifacts were loaded.
type Transformer struct {
	categorical []categoricalBinding
	rare        []map[string]struct{}
	numeric     []numericBinding
	indicators  []numericBinding
	scaleIndex  []int

	numericImputer     *NumericImputer
	categoricalImputer *CategoricalImputer
	encoder            *OneHotEncoder
	scaler             *StandardScaler

	featureNames []string
}

// FeatureNames returns the output column names in vector order.
func (t *Transformer) FeatureNames() []string {
	return t.featureNames
}

// Width returns the length of every Vector this transformer produces.
func (t *Transformer) Width() int {
	return len(t.featureNames)
}

// Group collapses rare categories. The input record is not modified.
func (t *Transformer) Group(record *domain.ClinicalRecord) GroupedRecord {
	g := GroupedRecord{Record: *record}
	for i, bind := range t.categorical {
		if t.rare[i] == nil {
			continue
		}
		field := bind(&g.Record)
		if _, ok := t.rare[i][*field]; ok {
			*field = domain.RareCategorySentinel
		}
	}
	return g
}

// Assemble lays the grouped record out by pipeline column and derives the
// missingness indicators before anything is imputed.
func (t *Transformer) Assemble(g GroupedRecord) AssembledRow {
	row := AssembledRow{
		Numeric:     make([]float64, len(t.numeric)),
		Indicators:  make([]float64, len(t.indicators)),
		Categorical: make([]string, len(t.categorical)),
	}
	for i, bind := range t.numeric {
		row.Numeric[i] = bind(&g.Record)
	}
	for i, bind := range t.indicators {
		if math.IsNaN(bind(&g.Record)) {
			row.Indicators[i] = 1
		}
	}
	for i, bind := range t.categorical {
		row.Categorical[i] = *bind(&g.Record)
	}
	return row
}

// Impute fills absent numeric and categorical values. Indicators pass through.
func (t *Transformer) Impute(row AssembledRow) ImputedRow {
	indicators := make([]float64, len(row.Indicators))
	copy(indicators, row.Indicators)
	return ImputedRow{
		Numeric:     t.numericImputer.Transform(row.Numeric),
		Indicators:  indicators,
		Categorical: t.categoricalImputer.Transform(row.Categorical),
	}
}

// Encode scales the scale subset, one-hot encodes categories and concatenates
// the blocks in training order.
func (t *Transformer) Encode(row ImputedRow) (Vector, error) {
	toScale := make([]float64, len(t.scaleIndex))
	for i, idx := range t.scaleIndex {
		toScale[i] = row.Numeric[idx]
	}
	scaled := t.scaler.Transform(toScale)

	onehot, err := t.encoder.Transform(row.Categorical)
	if err != nil {
		return nil, err
	}

	v := make(Vector, 0, len(t.featureNames))
	v = append(v, scaled...)
	v = append(v, row.Indicators...)
	v = append(v, onehot...)
	return v, nil
}

// Transform runs every stage. It fails only for categories the encoder was
// fitted to reject.
func (t *Transformer) Transform(record *domain.ClinicalRecord) (Vector, error) {
	return t.Encode(t.Impute(t.Assemble(t.Group(record))))
}
