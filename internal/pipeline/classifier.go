package pipeline

import (
	"fmt"
	"math"
	"sort"
)

type decisionTree struct {
	left      []int
	right     []int
	feature   []int
	threshold []float64
	value     [][]float64 // normalized per-class proportions
}

func newDecisionTree(spec TreeSpec, numFeatures, numClasses int) (*decisionTree, error) {
	n := len(spec.ChildrenLeft)
	if n == 0 {
		return nil, fmt.Errorf("tree has no nodes")
	}
	if len(spec.ChildrenRight) != n || len(spec.Feature) != n || len(spec.Threshold) != n || len(spec.Value) != n {
		return nil, fmt.Errorf("tree node arrays have inconsistent lengths")
	}

	t := &decisionTree{
		left:      spec.ChildrenLeft,
		right:     spec.ChildrenRight,
		feature:   spec.Feature,
		threshold: spec.Threshold,
		value:     make([][]float64, n),
	}
	for i := 0; i < n; i++ {
		if t.left[i] == -1 {
			if t.right[i] != -1 {
				return nil, fmt.Errorf("node %d has only one child", i)
			}
		} else {
			if t.left[i] <= i || t.left[i] >= n || t.right[i] <= i || t.right[i] >= n {
				return nil, fmt.Errorf("node %d has out-of-range children", i)
			}
			if t.feature[i] < 0 || t.feature[i] >= numFeatures {
				return nil, fmt.Errorf("node %d splits on feature %d outside [0, %d)", i, t.feature[i], numFeatures)
			}
		}
		if len(spec.Value[i]) != numClasses {
			return nil, fmt.Errorf("node %d has %d class weights, want %d", i, len(spec.Value[i]), numClasses)
		}
		t.value[i] = normalize(spec.Value[i])
	}
	return t, nil
}

// leaf walks from the root to the leaf x falls into.
func (t *decisionTree) leaf(x []float64) int {
	node := 0
	for t.left[node] != -1 {
		if x[t.feature[node]] <= t.threshold[node] {
			node = t.left[node]
		} else {
			node = t.right[node]
		}
	}
	return node
}

type treeEnsemble struct {
	trees      []*decisionTree
	numClasses int
}

func newTreeEnsemble(spec EnsembleSpec, numFeatures, numClasses int) (*treeEnsemble, error) {
	switch spec.Kind {
	case "extra_trees", "random_forest", "decision_tree":
	default:
		return nil, fmt.Errorf("unsupported estimator kind %q", spec.Kind)
	}
	if spec.NumClass != 0 && spec.NumClass != numClasses {
		return nil, fmt.Errorf("estimator has %d classes, want %d", spec.NumClass, numClasses)
	}
	if len(spec.Trees) == 0 {
		return nil, fmt.Errorf("estimator has no trees")
	}

	e := &treeEnsemble{numClasses: numClasses}
	for i, ts := range spec.Trees {
		tree, err := newDecisionTree(ts, numFeatures, numClasses)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
		e.trees = append(e.trees, tree)
	}
	return e, nil
}

func (e *treeEnsemble) predictProba(x []float64) []float64 {
	out := make([]float64, e.numClasses)
	for _, t := range e.trees {
		v := t.value[t.leaf(x)]
		for k := range out {
			out[k] += v[k]
		}
	}
	for k := range out {
		out[k] /= float64(len(e.trees))
	}
	return out
}

type calibrator interface {
	predict(f float64) float64
}

// sigmoidCalibrator implements Platt scaling: 1 / (1 + exp(a*f + b)).
type sigmoidCalibrator struct {
	a, b float64
}

func (c sigmoidCalibrator) predict(f float64) float64 {
	return 1 / (1 + math.Exp(c.a*f+c.b))
}

// isotonicCalibrator interpolates a fitted monotone step function, clipping
// inputs outside the fitted range.
type isotonicCalibrator struct {
	x, y []float64
}

func (c isotonicCalibrator) predict(f float64) float64 {
	n := len(c.x)
	if f <= c.x[0] {
		return c.y[0]
	}
	if f >= c.x[n-1] {
		return c.y[n-1]
	}
	i := sort.SearchFloat64s(c.x, f)
	if c.x[i] == f {
		return c.y[i]
	}
	x0, x1 := c.x[i-1], c.x[i]
	y0, y1 := c.y[i-1], c.y[i]
	return y0 + (f-x0)*(y1-y0)/(x1-x0)
}

func newCalibrator(method string, spec CalibratorSpec) (calibrator, error) {
	switch method {
	case "sigmoid":
		if spec.A == nil || spec.B == nil {
			return nil, fmt.Errorf("sigmoid calibrator requires a and b")
		}
		return sigmoidCalibrator{a: *spec.A, b: *spec.B}, nil
	case "isotonic":
		if len(spec.X) == 0 || len(spec.X) != len(spec.Y) {
			return nil, fmt.Errorf("isotonic calibrator requires matching non-empty x and y")
		}
		if !sort.Float64sAreSorted(spec.X) {
			return nil, fmt.Errorf("isotonic calibrator thresholds are not sorted")
		}
		return isotonicCalibrator{x: spec.X, y: spec.Y}, nil
	default:
		return nil, fmt.Errorf("unsupported calibration method %q", method)
	}
}

type calibratedMember struct {
	estimator   *treeEnsemble
	calibrators []calibrator
}

func (m *calibratedMember) predictProba(x []float64) []float64 {
	raw := m.estimator.predictProba(x)
	proba := make([]float64, len(raw))
	for k, c := range m.calibrators {
		proba[k] = c.predict(raw[k])
	}
	return normalizeOrUniform(proba)
}

// CalibratedClassifier averages calibrated tree-ensemble probabilities.
// It is deterministic: identical input always yields identical output.
type CalibratedClassifier struct {
	classes     []int
	numFeatures int
	members     []*calibratedMember
}

func newCalibratedClassifier(spec ClassifierSpec) (*CalibratedClassifier, error) {
	numClasses := len(spec.Classes)
	if numClasses < 2 {
		return nil, fmt.Errorf("classifier needs at least two classes, got %d", numClasses)
	}
	if spec.NumFeatures <= 0 {
		return nil, fmt.Errorf("classifier n_features_in must be positive")
	}
	if len(spec.CalibratedClassifiers) == 0 {
		return nil, fmt.Errorf("classifier has no calibrated members")
	}

	clf := &CalibratedClassifier{classes: spec.Classes, numFeatures: spec.NumFeatures}
	for i, ms := range spec.CalibratedClassifiers {
		est, err := newTreeEnsemble(ms.Estimator, spec.NumFeatures, numClasses)
		if err != nil {
			return nil, fmt.Errorf("member %d: %w", i, err)
		}
		if len(ms.Calibrators) != numClasses {
			return nil, fmt.Errorf("member %d: %d calibrators for %d classes", i, len(ms.Calibrators), numClasses)
		}
		member := &calibratedMember{estimator: est}
		for k, cs := range ms.Calibrators {
			cal, err := newCalibrator(spec.Method, cs)
			if err != nil {
				return nil, fmt.Errorf("member %d class %d: %w", i, k, err)
			}
			member.calibrators = append(member.calibrators, cal)
		}
		clf.members = append(clf.members, member)
	}
	return clf, nil
}

// Classes returns the class codes in probability order.
func (c *CalibratedClassifier) Classes() []int {
	return c.classes
}

// NumFeatures returns the expected input width.
func (c *CalibratedClassifier) NumFeatures() int {
	return c.numFeatures
}

// PredictProba returns per-class probabilities aligned with Classes.
func (c *CalibratedClassifier) PredictProba(x []float64) ([]float64, error) {
	if len(x) != c.numFeatures {
		return nil, fmt.Errorf("feature vector has %d values, classifier expects %d", len(x), c.numFeatures)
	}
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("feature %d is not finite", i)
		}
	}

	out := make([]float64, len(c.classes))
	for _, m := range c.members {
		p := m.predictProba(x)
		for k := range out {
			out[k] += p[k]
		}
	}
	for k := range out {
		out[k] /= float64(len(c.members))
	}
	return out, nil
}

// Predict returns the class code with the highest probability. Ties resolve
// to the lowest index.
func (c *CalibratedClassifier) Predict(x []float64) (int, error) {
	proba, err := c.PredictProba(x)
	if err != nil {
		return 0, err
	}
	return c.classes[argmax(proba)], nil
}

func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

func normalize(v []float64) []float64 {
	out := make([]float64, len(v))
	var sum float64
	for _, x := range v {
		sum += x
	}
	if sum == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = x / sum
	}
	return out
}

// normalizeOrUniform rescales v to sum to one, or returns the uniform
// distribution when every entry is zero.
func normalizeOrUniform(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		sum += x
	}
	out := make([]float64, len(v))
	if sum == 0 {
		for i := range out {
			out[i] = 1 / float64(len(v))
		}
		return out
	}
	for i, x := range v {
		out[i] = x / sum
	}
	return out
}
