package pipeline

import (
	"fmt"
)

// UnknownCategoryError is returned when a category was never seen at fit time
// and the encoder was fitted to reject unknown values.
type UnknownCategoryError struct {
	Column string
	Value  string
}

func (e *UnknownCategoryError) Error() string {
	return fmt.Sprintf("unknown category %q for column %q", e.Value, e.Column)
}

// OneHotEncoder produces a dense indicator block for categorical columns.
type OneHotEncoder struct {
	columns       []string
	index         []map[string]int // category -> output offset, dropped categories absent
	known         []map[string]struct{}
	width         int
	featureNames  []string
	ignoreUnknown bool
}

func newOneHotEncoder(spec EncoderSpec) (*OneHotEncoder, error) {
	if len(spec.Columns) != len(spec.Categories) {
		return nil, fmt.Errorf("one-hot encoder: %d columns but %d category lists", len(spec.Columns), len(spec.Categories))
	}
	if spec.DropIndex != nil && len(spec.DropIndex) != len(spec.Columns) {
		return nil, fmt.Errorf("one-hot encoder: drop_idx has %d entries for %d columns", len(spec.DropIndex), len(spec.Columns))
	}

	enc := &OneHotEncoder{columns: spec.Columns}
	switch spec.HandleUnknown {
	case "", "ignore", "infrequent_if_exist":
		enc.ignoreUnknown = true
	case "error":
	default:
		return nil, fmt.Errorf("one-hot encoder: unsupported handle_unknown %q", spec.HandleUnknown)
	}

	offset := 0
	for j, cats := range spec.Categories {
		if len(cats) == 0 {
			return nil, fmt.Errorf("one-hot encoder: column %q has no categories", spec.Columns[j])
		}
		drop := -1
		if spec.DropIndex != nil && spec.DropIndex[j] != nil {
			drop = *spec.DropIndex[j]
			if drop < 0 || drop >= len(cats) {
				return nil, fmt.Errorf("one-hot encoder: drop index %d out of range for column %q", drop, spec.Columns[j])
			}
		}

		idx := make(map[string]int, len(cats))
		known := make(map[string]struct{}, len(cats))
		for k, cat := range cats {
			if _, dup := known[cat]; dup {
				return nil, fmt.Errorf("one-hot encoder: duplicate category %q in column %q", cat, spec.Columns[j])
			}
			known[cat] = struct{}{}
			if k == drop {
				continue
			}
			idx[cat] = offset
			enc.featureNames = append(enc.featureNames, spec.Columns[j]+"_"+cat)
			offset++
		}
		enc.index = append(enc.index, idx)
		enc.known = append(enc.known, known)
	}
	enc.width = offset

	return enc, nil
}

// Columns returns the encoded columns, in order.
func (enc *OneHotEncoder) Columns() []string {
	return enc.columns
}

// FeatureNames returns the output column names in output order.
func (enc *OneHotEncoder) FeatureNames() []string {
	return enc.featureNames
}

// Width returns the number of output columns.
func (enc *OneHotEncoder) Width() int {
	return enc.width
}

// Transform encodes row, which must align with Columns.
func (enc *OneHotEncoder) Transform(row []string) ([]float64, error) {
	out := make([]float64, enc.width)
	for j, v := range row {
		if pos, ok := enc.index[j][v]; ok {
			out[pos] = 1
			continue
		}
		if _, ok := enc.known[j][v]; ok {
			// dropped category encodes as all zeros
			continue
		}
		if !enc.ignoreUnknown {
			return nil, &UnknownCategoryError{Column: enc.columns[j], Value: v}
		}
	}
	return out, nil
}
