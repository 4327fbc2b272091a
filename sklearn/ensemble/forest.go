// Package ensemble provides a bagged random forest of decision trees.
package ensemble

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/mariiabilous/besca/core/model"
	"github.com/mariiabilous/besca/core/parallel"
	"github.com/mariiabilous/besca/pkg/errors"
	"github.com/mariiabilous/besca/sklearn/tree"
)

// RandomForestClassifier averages the class distributions of trees grown on
// bootstrap samples with a random feature subset at every split.
type RandomForestClassifier struct {
	state *model.StateManager

	nEstimators     int
	criterion       string
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     string // "sqrt", "log2" or "all"
	bootstrap       bool
	randomState     int64
	nJobs           int

	estimators_  []*tree.DecisionTreeClassifier
	classes_     []int
	importances_ []float64
}

// Option configures a RandomForestClassifier.
type Option func(*RandomForestClassifier)

// NewRandomForestClassifier returns a forest of 100 gini trees using
// sqrt(n_features) candidates per split.
func NewRandomForestClassifier(opts ...Option) *RandomForestClassifier {
	rf := &RandomForestClassifier{
		state:           model.NewStateManager(),
		nEstimators:     100,
		criterion:       "gini",
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		maxFeatures:     "sqrt",
		bootstrap:       true,
	}
	for _, opt := range opts {
		opt(rf)
	}
	return rf
}

// WithNEstimators sets the number of trees.
func WithNEstimators(n int) Option { return func(rf *RandomForestClassifier) { rf.nEstimators = n } }

// WithCriterion selects "gini" or "entropy".
func WithCriterion(c string) Option { return func(rf *RandomForestClassifier) { rf.criterion = c } }

// WithMaxDepth limits the depth of every tree; 0 disables the limit.
func WithMaxDepth(d int) Option { return func(rf *RandomForestClassifier) { rf.maxDepth = d } }

// WithMinSamplesSplit sets the smallest node that may be split.
func WithMinSamplesSplit(n int) Option {
	return func(rf *RandomForestClassifier) { rf.minSamplesSplit = n }
}

// WithMinSamplesLeaf sets the smallest allowed leaf.
func WithMinSamplesLeaf(n int) Option {
	return func(rf *RandomForestClassifier) { rf.minSamplesLeaf = n }
}

// WithMaxFeatures selects "sqrt", "log2" or "all".
func WithMaxFeatures(m string) Option { return func(rf *RandomForestClassifier) { rf.maxFeatures = m } }

// WithBootstrap toggles bootstrap sampling.
func WithBootstrap(b bool) Option { return func(rf *RandomForestClassifier) { rf.bootstrap = b } }

// WithRandomState seeds the bootstrap draws and the per-tree seeds.
func WithRandomState(seed int64) Option {
	return func(rf *RandomForestClassifier) { rf.randomState = seed }
}

// WithNJobs bounds the number of trees grown concurrently; 0 uses every CPU.
func WithNJobs(n int) Option { return func(rf *RandomForestClassifier) { rf.nJobs = n } }

func (rf *RandomForestClassifier) featuresPerSplit(p int) (int, error) {
	var m int
	switch rf.maxFeatures {
	case "sqrt":
		m = int(math.Sqrt(float64(p)))
	case "log2":
		m = int(math.Log2(float64(p)))
	case "all", "":
		return 0, nil
	default:
		return 0, errors.NewValidationError("max_features", "must be sqrt, log2 or all", rf.maxFeatures)
	}
	if m < 1 {
		m = 1
	}
	return m, nil
}

// Fit grows the trees. Seeds and bootstrap weights are drawn sequentially
// from randomState before the trees are grown in parallel, so the result
// does not depend on scheduling.
func (rf *RandomForestClassifier) Fit(X, y mat.Matrix) error {
	if rf.nEstimators < 1 {
		return errors.NewValidationError("n_estimators", "must be positive", rf.nEstimators)
	}
	classes, _, err := model.EncodeClasses("RandomForestClassifier.Fit", X, y)
	if err != nil {
		return err
	}
	n, p := X.Dims()
	m, err := rf.featuresPerSplit(p)
	if err != nil {
		return err
	}
	Xd := mat.DenseCopyOf(X)
	yd := mat.DenseCopyOf(y)

	rng := rand.New(rand.NewSource(rf.randomState))
	seeds := make([]int64, rf.nEstimators)
	weights := make([][]float64, rf.nEstimators)
	for t := range seeds {
		seeds[t] = rng.Int63()
		w := make([]float64, n)
		if rf.bootstrap {
			for i := 0; i < n; i++ {
				w[rng.Intn(n)]++
			}
		} else {
			for i := range w {
				w[i] = 1
			}
		}
		weights[t] = w
	}

	rf.state.Reset()
	trees := make([]*tree.DecisionTreeClassifier, rf.nEstimators)
	var (
		mu       sync.Mutex
		firstErr error
	)
	parallel.ParallelizeN(rf.nEstimators, rf.nJobs, func(start, end int) {
		for t := start; t < end; t++ {
			dt := tree.NewDecisionTreeClassifier(
				tree.WithCriterion(rf.criterion),
				tree.WithMaxDepth(rf.maxDepth),
				tree.WithMinSamplesSplit(rf.minSamplesSplit),
				tree.WithMinSamplesLeaf(rf.minSamplesLeaf),
				tree.WithMaxFeatures(m),
				tree.WithRandomState(seeds[t]),
			)
			if err := dt.FitWeighted(Xd, yd, weights[t], classes); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = errors.Wrapf(err, "fit tree %d", t)
				}
				mu.Unlock()
				continue
			}
			trees[t] = dt
		}
	})
	if firstErr != nil {
		return firstErr
	}

	rf.importances_ = make([]float64, p)
	for _, dt := range trees {
		floats.Add(rf.importances_, dt.GetFeatureImportances())
	}
	if total := floats.Sum(rf.importances_); total > 0 {
		floats.Scale(1/total, rf.importances_)
	}
	rf.estimators_, rf.classes_ = trees, classes
	rf.state.SetDimensions(p, n)
	rf.state.SetFitted()
	return nil
}

// PredictProba averages the tree distributions.
func (rf *RandomForestClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := rf.state.RequireFitted("RandomForestClassifier", "PredictProba"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := rf.state.CheckFeatures("RandomForestClassifier.PredictProba", c); err != nil {
		return nil, err
	}
	out := mat.NewDense(r, len(rf.classes_), nil)
	for _, dt := range rf.estimators_ {
		p, err := dt.PredictProba(X)
		if err != nil {
			return nil, err
		}
		out.Add(out, p)
	}
	out.Scale(1/float64(len(rf.estimators_)), out)
	return out, nil
}

// Predict returns the class with the highest averaged probability.
func (rf *RandomForestClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := rf.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return model.ArgmaxRows(proba, rf.classes_), nil
}

// Classes returns the sorted class labels.
func (rf *RandomForestClassifier) Classes() []int { return append([]int(nil), rf.classes_...) }

// Estimators returns the fitted trees.
func (rf *RandomForestClassifier) Estimators() []*tree.DecisionTreeClassifier {
	return append([]*tree.DecisionTreeClassifier(nil), rf.estimators_...)
}

// FeatureImportances returns the mean tree importances, normalized.
func (rf *RandomForestClassifier) FeatureImportances() []float64 {
	return append([]float64(nil), rf.importances_...)
}

// GetParams returns the hyperparameters.
func (rf *RandomForestClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":      rf.nEstimators,
		"criterion":         rf.criterion,
		"max_depth":         rf.maxDepth,
		"min_samples_split": rf.minSamplesSplit,
		"min_samples_leaf":  rf.minSamplesLeaf,
		"max_features":      rf.maxFeatures,
		"bootstrap":         rf.bootstrap,
		"random_state":      rf.randomState,
	}
}

func (rf *RandomForestClassifier) String() string {
	return fmt.Sprintf("RandomForestClassifier(n_estimators=%d, max_features=%s)", rf.nEstimators, rf.maxFeatures)
}

type forestSnapshot struct {
	NEstimators     int
	Criterion       string
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     string
	Bootstrap       bool
	RandomState     int64
	Trees           [][]byte
	Classes         []int
	Importances     []float64
	State           model.ModelState
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (rf *RandomForestClassifier) MarshalBinary() ([]byte, error) {
	snap := forestSnapshot{
		NEstimators: rf.nEstimators, Criterion: rf.criterion, MaxDepth: rf.maxDepth,
		MinSamplesSplit: rf.minSamplesSplit, MinSamplesLeaf: rf.minSamplesLeaf,
		MaxFeatures: rf.maxFeatures, Bootstrap: rf.bootstrap, RandomState: rf.randomState,
		Classes: rf.classes_, Importances: rf.importances_, State: rf.state.GetState(),
	}
	for i, dt := range rf.estimators_ {
		b, err := dt.MarshalBinary()
		if err != nil {
			return nil, errors.Wrapf(err, "marshal tree %d", i)
		}
		snap.Trees = append(snap.Trees, b)
	}
	return model.EncodeGob(snap)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (rf *RandomForestClassifier) UnmarshalBinary(data []byte) error {
	var snap forestSnapshot
	if err := model.DecodeGob(data, &snap); err != nil {
		return err
	}
	rf.nEstimators, rf.criterion, rf.maxDepth = snap.NEstimators, snap.Criterion, snap.MaxDepth
	rf.minSamplesSplit, rf.minSamplesLeaf = snap.MinSamplesSplit, snap.MinSamplesLeaf
	rf.maxFeatures, rf.bootstrap, rf.randomState = snap.MaxFeatures, snap.Bootstrap, snap.RandomState
	rf.classes_, rf.importances_ = snap.Classes, snap.Importances
	rf.estimators_ = make([]*tree.DecisionTreeClassifier, len(snap.Trees))
	for i, b := range snap.Trees {
		dt := tree.NewDecisionTreeClassifier()
		if err := dt.UnmarshalBinary(b); err != nil {
			return errors.Wrapf(err, "unmarshal tree %d", i)
		}
		rf.estimators_[i] = dt
	}
	rf.state = model.NewStateManager()
	rf.state.SetState(snap.State)
	return nil
}
