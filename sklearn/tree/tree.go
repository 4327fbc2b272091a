// Package tree implements a CART decision tree classifier with weighted
// samples, the building block of the random forest in package ensemble.
package tree

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/mariiabilous/besca/core/model"
	"github.com/mariiabilous/besca/pkg/errors"
)

// Node is one entry of the flattened tree. Leaves have Feature == -1.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     []float64 // class distribution, sums to one
	Impurity  float64
	Weight    float64
	Depth     int
}

// DecisionTreeClassifier grows a binary tree greedily on the impurity
// decrease. Thresholds sit halfway between consecutive distinct values and
// ties go to the lowest feature index.
type DecisionTreeClassifier struct {
	state *model.StateManager

	criterion       string // "gini" or "entropy"
	maxDepth        int    // 0 means unlimited
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     int // 0 means all features
	randomState     int64

	nodes        []Node
	classes_     []int
	nClasses_    int
	importances_ []float64
}

// Option configures a DecisionTreeClassifier.
type Option func(*DecisionTreeClassifier)

// NewDecisionTreeClassifier returns an unlimited-depth gini tree.
func NewDecisionTreeClassifier(opts ...Option) *DecisionTreeClassifier {
	dt := &DecisionTreeClassifier{
		state:           model.NewStateManager(),
		criterion:       "gini",
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
	}
	for _, opt := range opts {
		opt(dt)
	}
	return dt
}

// WithCriterion selects "gini" or "entropy".
func WithCriterion(c string) Option { return func(dt *DecisionTreeClassifier) { dt.criterion = c } }

// WithMaxDepth limits the depth of the tree; 0 disables the limit.
func WithMaxDepth(d int) Option { return func(dt *DecisionTreeClassifier) { dt.maxDepth = d } }

// WithMinSamplesSplit sets the smallest node that may be split.
func WithMinSamplesSplit(n int) Option {
	return func(dt *DecisionTreeClassifier) { dt.minSamplesSplit = n }
}

// WithMinSamplesLeaf sets the smallest allowed leaf.
func WithMinSamplesLeaf(n int) Option {
	return func(dt *DecisionTreeClassifier) { dt.minSamplesLeaf = n }
}

// WithMaxFeatures sets how many features are drawn at every split; 0 uses all.
func WithMaxFeatures(n int) Option { return func(dt *DecisionTreeClassifier) { dt.maxFeatures = n } }

// WithRandomState seeds the feature draws.
func WithRandomState(seed int64) Option {
	return func(dt *DecisionTreeClassifier) { dt.randomState = seed }
}

func (dt *DecisionTreeClassifier) validate() error {
	switch dt.criterion {
	case "gini", "entropy", "log_loss":
	default:
		return errors.NewValidationError("criterion", "must be gini or entropy", dt.criterion)
	}
	if dt.maxDepth < 0 {
		return errors.NewValidationError("max_depth", "must be non-negative", dt.maxDepth)
	}
	if dt.minSamplesSplit < 2 {
		return errors.NewValidationError("min_samples_split", "must be at least 2", dt.minSamplesSplit)
	}
	if dt.minSamplesLeaf < 1 {
		return errors.NewValidationError("min_samples_leaf", "must be at least 1", dt.minSamplesLeaf)
	}
	if dt.maxFeatures < 0 {
		return errors.NewValidationError("max_features", "must be non-negative", dt.maxFeatures)
	}
	return nil
}

// Fit grows the tree on unit-weight samples.
func (dt *DecisionTreeClassifier) Fit(X, y mat.Matrix) error {
	return dt.FitWeighted(X, y, nil, nil)
}

// FitWeighted grows the tree with per-sample weights. Samples with zero
// weight are left out. When classes is non-nil it fixes the output columns,
// so a bootstrap sample missing a class still predicts over every class.
func (dt *DecisionTreeClassifier) FitWeighted(X, y mat.Matrix, sampleWeight []float64, classes []int) error {
	if err := dt.validate(); err != nil {
		return err
	}
	var yIdx []int
	var err error
	if classes == nil {
		if classes, yIdx, err = model.EncodeClasses("DecisionTreeClassifier.Fit", X, y); err != nil {
			return err
		}
	} else if yIdx, err = indexLabels(X, y, classes); err != nil {
		return err
	}
	n, p := X.Dims()
	if sampleWeight == nil {
		sampleWeight = make([]float64, n)
		for i := range sampleWeight {
			sampleWeight[i] = 1
		}
	}
	if len(sampleWeight) != n {
		return errors.NewDimensionError("DecisionTreeClassifier.Fit", n, len(sampleWeight), 0)
	}

	b := &builder{
		dt:      dt,
		X:       mat.DenseCopyOf(X),
		y:       yIdx,
		w:       sampleWeight,
		k:       len(classes),
		rng:     rand.New(rand.NewSource(dt.randomState)),
		imports: make([]float64, p),
	}
	var idx []int
	for i, wi := range sampleWeight {
		if wi < 0 || math.IsNaN(wi) {
			return errors.NewValidationError("sample_weight", "must be non-negative", wi)
		}
		if wi > 0 {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return errors.NewValueError("DecisionTreeClassifier.Fit", "all sample weights are zero")
	}

	dt.state.Reset()
	dt.nodes = dt.nodes[:0]
	b.grow(idx, 0)

	total := 0.0
	for _, v := range b.imports {
		total += v
	}
	if total > 0 {
		for i := range b.imports {
			b.imports[i] /= total
		}
	}
	dt.classes_, dt.nClasses_, dt.importances_ = classes, len(classes), b.imports
	dt.state.SetDimensions(p, n)
	dt.state.SetFitted()
	return nil
}

func indexLabels(X, y mat.Matrix, classes []int) ([]int, error) {
	n, _ := X.Dims()
	if r, c := y.Dims(); r != n || c != 1 {
		return nil, errors.NewDimensionError("DecisionTreeClassifier.Fit", n, r, 0)
	}
	pos := make(map[int]int, len(classes))
	for i, c := range classes {
		pos[c] = i
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		k, ok := pos[int(y.At(i, 0))]
		if !ok {
			return nil, errors.NewValidationError("y", "label outside the given classes", y.At(i, 0))
		}
		out[i] = k
	}
	return out, nil
}

type builder struct {
	dt      *DecisionTreeClassifier
	X       *mat.Dense
	y       []int
	w       []float64
	k       int
	rng     *rand.Rand
	imports []float64
}

func (b *builder) counts(idx []int) ([]float64, float64) {
	c := make([]float64, b.k)
	total := 0.0
	for _, i := range idx {
		c[b.y[i]] += b.w[i]
		total += b.w[i]
	}
	return c, total
}

func (b *builder) impurity(c []float64, total float64) float64 {
	if total <= 0 {
		return 0
	}
	v := 0.0
	if b.dt.criterion == "gini" {
		v = 1
		for _, ci := range c {
			p := ci / total
			v -= p * p
		}
		return v
	}
	for _, ci := range c {
		if ci > 0 {
			p := ci / total
			v -= p * math.Log2(p)
		}
	}
	return v
}

// grow appends the subtree for idx and returns its node index.
func (b *builder) grow(idx []int, depth int) int {
	dt := b.dt
	c, total := b.counts(idx)
	imp := b.impurity(c, total)
	value := make([]float64, b.k)
	for i := range c {
		value[i] = c[i] / total
	}
	id := len(dt.nodes)
	dt.nodes = append(dt.nodes, Node{Feature: -1, Left: -1, Right: -1, Value: value, Impurity: imp, Weight: total, Depth: depth})

	if imp <= 1e-12 || len(idx) < dt.minSamplesSplit || len(idx) < 2*dt.minSamplesLeaf ||
		(dt.maxDepth > 0 && depth >= dt.maxDepth) {
		return id
	}
	feature, threshold, ok := b.bestSplit(idx, imp, total)
	if !ok {
		return id
	}

	var left, right []int
	for _, i := range idx {
		if b.X.At(i, feature) <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	lc, lw := b.counts(left)
	rc, rw := b.counts(right)
	b.imports[feature] += total*imp - lw*b.impurity(lc, lw) - rw*b.impurity(rc, rw)

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	dt.nodes[id].Feature, dt.nodes[id].Threshold = feature, threshold
	dt.nodes[id].Left, dt.nodes[id].Right = l, r
	return id
}

// bestSplit scans the drawn features and falls back to the remaining ones
// when none of them admits a valid split.
func (b *builder) bestSplit(idx []int, parentImp, total float64) (int, float64, bool) {
	_, p := b.X.Dims()
	features := make([]int, p)
	for i := range features {
		features[i] = i
	}
	draw := p
	if m := b.dt.maxFeatures; m > 0 && m < p {
		b.rng.Shuffle(p, func(i, j int) { features[i], features[j] = features[j], features[i] })
		draw = m
	}

	bestGain, bestFeature, bestThreshold := math.Inf(-1), -1, 0.0
	sorted := make([]int, len(idx))
	left := make([]float64, b.k)
	for n, f := range features {
		if n >= draw && bestFeature >= 0 {
			break
		}
		copy(sorted, idx)
		sort.SliceStable(sorted, func(a, c int) bool { return b.X.At(sorted[a], f) < b.X.At(sorted[c], f) })
		right, _ := b.counts(sorted)
		for i := range left {
			left[i] = 0
		}
		lw := 0.0
		for pos := 0; pos < len(sorted)-1; pos++ {
			i := sorted[pos]
			left[b.y[i]] += b.w[i]
			right[b.y[i]] -= b.w[i]
			lw += b.w[i]
			if pos+1 < b.dt.minSamplesLeaf || len(sorted)-pos-1 < b.dt.minSamplesLeaf {
				continue
			}
			lo, hi := b.X.At(i, f), b.X.At(sorted[pos+1], f)
			if hi <= lo {
				continue
			}
			rw := total - lw
			gain := parentImp - lw/total*b.impurity(left, lw) - rw/total*b.impurity(right, rw)
			if gain > bestGain+1e-12 || (bestFeature >= 0 && math.Abs(gain-bestGain) <= 1e-12 && f < bestFeature) {
				bestGain, bestFeature = gain, f
				bestThreshold = lo + (hi-lo)/2
				if bestThreshold >= hi {
					bestThreshold = lo
				}
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

func (dt *DecisionTreeClassifier) leaf(row []float64) *Node {
	n := &dt.nodes[0]
	for n.Feature >= 0 {
		if row[n.Feature] <= n.Threshold {
			n = &dt.nodes[n.Left]
		} else {
			n = &dt.nodes[n.Right]
		}
	}
	return n
}

// PredictProba returns the class distribution of the leaf each sample
// falls into.
func (dt *DecisionTreeClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := dt.state.RequireFitted("DecisionTreeClassifier", "PredictProba"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := dt.state.CheckFeatures("DecisionTreeClassifier.PredictProba", c); err != nil {
		return nil, err
	}
	out := mat.NewDense(r, dt.nClasses_, nil)
	row := make([]float64, c)
	for i := 0; i < r; i++ {
		mat.Row(row, i, X)
		out.SetRow(i, dt.leaf(row).Value)
	}
	return out, nil
}

// Predict returns the majority class of each sample's leaf.
func (dt *DecisionTreeClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := dt.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return model.ArgmaxRows(proba, dt.classes_), nil
}

// Score returns the accuracy on (X, y), or 0 when prediction fails.
func (dt *DecisionTreeClassifier) Score(X, y mat.Matrix) float64 {
	pred, err := dt.Predict(X)
	if err != nil {
		return 0
	}
	n, _ := y.Dims()
	if n == 0 {
		return 0
	}
	correct := 0
	for i := 0; i < n; i++ {
		if pred.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(n)
}

// Classes returns the sorted class labels.
func (dt *DecisionTreeClassifier) Classes() []int { return append([]int(nil), dt.classes_...) }

// GetFeatureImportances returns the normalized total impurity decrease per
// feature.
func (dt *DecisionTreeClassifier) GetFeatureImportances() []float64 {
	return append([]float64(nil), dt.importances_...)
}

// GetDepth returns the depth of the deepest leaf; a single leaf has depth 0.
func (dt *DecisionTreeClassifier) GetDepth() int {
	d := 0
	for _, n := range dt.nodes {
		if n.Depth > d {
			d = n.Depth
		}
	}
	return d
}

// GetNLeaves returns the number of leaves.
func (dt *DecisionTreeClassifier) GetNLeaves() int {
	c := 0
	for _, n := range dt.nodes {
		if n.Feature < 0 {
			c++
		}
	}
	return c
}

// Nodes returns the flattened tree, root first.
func (dt *DecisionTreeClassifier) Nodes() []Node { return append([]Node(nil), dt.nodes...) }

// GetParams returns the hyperparameters.
func (dt *DecisionTreeClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"criterion":         dt.criterion,
		"max_depth":         dt.maxDepth,
		"min_samples_split": dt.minSamplesSplit,
		"min_samples_leaf":  dt.minSamplesLeaf,
		"max_features":      dt.maxFeatures,
		"random_state":      dt.randomState,
	}
}

// SetParams updates hyperparameters by name.
func (dt *DecisionTreeClassifier) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		switch key {
		case "criterion":
			v, ok := value.(string)
			if !ok {
				return errors.NewValidationError(key, "must be a string", value)
			}
			dt.criterion = v
		case "max_depth", "min_samples_split", "min_samples_leaf", "max_features":
			v, ok := value.(int)
			if !ok {
				return errors.NewValidationError(key, "must be an int", value)
			}
			switch key {
			case "max_depth":
				dt.maxDepth = v
			case "min_samples_split":
				dt.minSamplesSplit = v
			case "min_samples_leaf":
				dt.minSamplesLeaf = v
			default:
				dt.maxFeatures = v
			}
		case "random_state":
			switch v := value.(type) {
			case int:
				dt.randomState = int64(v)
			case int64:
				dt.randomState = v
			default:
				return errors.NewValidationError(key, "must be an integer", value)
			}
		default:
			return errors.NewValidationError(key, "unknown parameter", value)
		}
	}
	return dt.validate()
}

func (dt *DecisionTreeClassifier) String() string {
	return fmt.Sprintf("DecisionTreeClassifier(criterion=%s, max_depth=%d)", dt.criterion, dt.maxDepth)
}

type treeSnapshot struct {
	Criterion       string
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int
	RandomState     int64
	Nodes       []Node
	Classes     []int
	Importances []float64
	State       model.ModelState
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (dt *DecisionTreeClassifier) MarshalBinary() ([]byte, error) {
	return model.EncodeGob(treeSnapshot{
		Criterion: dt.criterion, MaxDepth: dt.maxDepth, MinSamplesSplit: dt.minSamplesSplit,
		MinSamplesLeaf: dt.minSamplesLeaf, MaxFeatures: dt.maxFeatures, RandomState: dt.randomState,
		Nodes: dt.nodes, Classes: dt.classes_,
		Importances: dt.importances_, State: dt.state.GetState(),
	})
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (dt *DecisionTreeClassifier) UnmarshalBinary(data []byte) error {
	var snap treeSnapshot
	if err := model.DecodeGob(data, &snap); err != nil {
		return err
	}
	dt.criterion, dt.maxDepth, dt.minSamplesSplit = snap.Criterion, snap.MaxDepth, snap.MinSamplesSplit
	dt.minSamplesLeaf, dt.maxFeatures, dt.randomState = snap.MinSamplesLeaf, snap.MaxFeatures, snap.RandomState
	dt.nodes, dt.classes_, dt.nClasses_ = snap.Nodes, snap.Classes, len(snap.Classes)
	dt.importances_ = snap.Importances
	dt.state = model.NewStateManager()
	dt.state.SetState(snap.State)
	return nil
}
