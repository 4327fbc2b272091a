// Package calibration turns margin classifiers into probabilistic ones by
// fitting Platt sigmoids to out-of-fold decision values.
package calibration

import (
	"encoding"
	"fmt"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/mariiabilous/besca/core/model"
	"github.com/mariiabilous/besca/pkg/errors"
)

// Margin is a classifier that exposes signed decision values.
type Margin interface {
	model.Fitter
	model.Predictor
	model.DecisionFunctioner
	Classes() []int
}

// CalibratedClassifier wraps a Margin classifier with one sigmoid per
// decision column. Binary problems use a single column for the second class.
type CalibratedClassifier struct {
	state   *model.StateManager
	newBase func() Margin
	cv      int

	base        Margin
	calibrators []Sigmoid
	classes_    []int
	inSample_   bool
}

// Option configures a CalibratedClassifier.
type Option func(*CalibratedClassifier)

// WithCV sets the number of stratified folds (default 3).
func WithCV(folds int) Option { return func(c *CalibratedClassifier) { c.cv = folds } }

// NewCalibratedClassifier builds a calibrator around fresh instances
// returned by newBase. The factory is called once per fold and once for the
// final refit on all samples.
func NewCalibratedClassifier(newBase func() Margin, opts ...Option) *CalibratedClassifier {
	c := &CalibratedClassifier{
		state:   model.NewStateManager(),
		newBase: newBase,
		cv:      3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fit collects out-of-fold decision values, fits the sigmoids on them and
// refits the base estimator on every sample. When a class has fewer samples
// than folds the sigmoids are fitted on in-sample decision values instead.
func (c *CalibratedClassifier) Fit(X, y mat.Matrix) error {
	if c.newBase == nil {
		return errors.NewValidationError("base_estimator", "must not be nil", nil)
	}
	if c.cv < 2 {
		return errors.NewValidationError("cv", "must be at least 2", c.cv)
	}
	classes, yIdx, err := model.EncodeClasses("CalibratedClassifier.Fit", X, y)
	if err != nil {
		return err
	}
	Xd := mat.DenseCopyOf(X)
	yd := mat.DenseCopyOf(y)
	n, p := Xd.Dims()

	c.state.Reset()
	c.classes_ = classes

	folds, ok := stratifiedFolds(yIdx, len(classes), c.cv)
	c.inSample_ = !ok

	final := c.newBase()
	if err := final.Fit(Xd, yd); err != nil {
		return errors.Wrap(err, "calibration: fit base estimator")
	}

	var scores *mat.Dense
	if c.inSample_ {
		if scores, err = final.DecisionFunction(Xd); err != nil {
			return err
		}
	} else {
		if scores, err = c.outOfFold(Xd, yd, folds); err != nil {
			return err
		}
	}

	_, nCols := scores.Dims()
	c.calibrators = make([]Sigmoid, nCols)
	for k := 0; k < nCols; k++ {
		positive := k
		if nCols == 1 {
			positive = 1
		}
		targets := make([]bool, n)
		for i, ci := range yIdx {
			targets[i] = ci == positive
		}
		if c.calibrators[k], err = FitSigmoid(mat.Col(nil, k, scores), targets); err != nil {
			return err
		}
	}

	c.base = final
	c.state.SetDimensions(p, n)
	c.state.SetFitted()
	return nil
}

func (c *CalibratedClassifier) outOfFold(X, y *mat.Dense, folds []int) (*mat.Dense, error) {
	n, _ := X.Dims()
	parts := make([]*mat.Dense, c.cv)
	var g errgroup.Group
	for f := 0; f < c.cv; f++ {
		f := f
		g.Go(func() error {
			var train, test []int
			for i, fi := range folds {
				if fi == f {
					test = append(test, i)
				} else {
					train = append(train, i)
				}
			}
			m := c.newBase()
			if err := m.Fit(subset(X, train), subset(y, train)); err != nil {
				return errors.Wrapf(err, "calibration: fit fold %d", f)
			}
			s, err := m.DecisionFunction(subset(X, test))
			if err != nil {
				return err
			}
			parts[f] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	_, nCols := parts[0].Dims()
	out := mat.NewDense(n, nCols, nil)
	next := make([]int, c.cv)
	for i, f := range folds {
		out.SetRow(i, parts[f].RawRowView(next[f]))
		next[f]++
	}
	return out, nil
}

// DecisionFunction forwards to the refitted base estimator.
func (c *CalibratedClassifier) DecisionFunction(X mat.Matrix) (*mat.Dense, error) {
	if err := c.state.RequireFitted("CalibratedClassifier", "DecisionFunction"); err != nil {
		return nil, err
	}
	return c.base.DecisionFunction(X)
}

// PredictProba returns calibrated probabilities with one column per class.
// Rows sum to one.
func (c *CalibratedClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	scores, err := c.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	n, nCols := scores.Dims()
	out := mat.NewDense(n, len(c.classes_), nil)
	for i := 0; i < n; i++ {
		row := out.RawRowView(i)
		if nCols == 1 {
			p := c.calibrators[0].Prob(scores.At(i, 0))
			row[0], row[1] = 1-p, p
			continue
		}
		for k := 0; k < nCols; k++ {
			row[k] = c.calibrators[k].Prob(scores.At(i, k))
		}
		errors.NormalizeRow(row)
	}
	return out, nil
}

// Predict returns the class with the highest calibrated probability.
func (c *CalibratedClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := c.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return model.ArgmaxRows(proba, c.classes_), nil
}

// Classes returns the sorted class labels.
func (c *CalibratedClassifier) Classes() []int { return append([]int(nil), c.classes_...) }

// Calibrators returns the fitted sigmoids, one per decision column.
func (c *CalibratedClassifier) Calibrators() []Sigmoid {
	return append([]Sigmoid(nil), c.calibrators...)
}

// InSample reports whether the last Fit fell back to in-sample calibration.
func (c *CalibratedClassifier) InSample() bool { return c.inSample_ }

// Base returns the estimator refitted on all samples.
func (c *CalibratedClassifier) Base() Margin { return c.base }

// GetParams returns cv and the base parameters prefixed with "base__".
func (c *CalibratedClassifier) GetParams() map[string]interface{} {
	out := map[string]interface{}{"cv": c.cv, "method": "sigmoid"}
	base := c.base
	if base == nil && c.newBase != nil {
		base = c.newBase()
	}
	if pg, ok := base.(model.ParameterGetter); ok {
		for k, v := range pg.GetParams() {
			out["base__"+k] = v
		}
	}
	return out
}

func (c *CalibratedClassifier) String() string {
	return fmt.Sprintf("CalibratedClassifier(cv=%d, method=sigmoid)", c.cv)
}

type calibratedSnapshot struct {
	CV          int
	Base        []byte
	Calibrators []Sigmoid
	Classes     []int
	InSample    bool
	State       model.ModelState
}

// MarshalBinary implements encoding.BinaryMarshaler. The base estimator
// must implement it too.
func (c *CalibratedClassifier) MarshalBinary() ([]byte, error) {
	snap := calibratedSnapshot{
		CV: c.cv, Calibrators: c.calibrators, Classes: c.classes_,
		InSample: c.inSample_, State: c.state.GetState(),
	}
	if c.base != nil {
		bm, ok := c.base.(encoding.BinaryMarshaler)
		if !ok {
			return nil, errors.NewValueError("CalibratedClassifier.MarshalBinary",
				fmt.Sprintf("base estimator %T cannot be serialized", c.base))
		}
		var err error
		if snap.Base, err = bm.MarshalBinary(); err != nil {
			return nil, err
		}
	}
	return model.EncodeGob(snap)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. The base estimator
// is rebuilt through the factory given to NewCalibratedClassifier.
func (c *CalibratedClassifier) UnmarshalBinary(data []byte) error {
	var snap calibratedSnapshot
	if err := model.DecodeGob(data, &snap); err != nil {
		return err
	}
	c.cv, c.calibrators, c.classes_, c.inSample_ = snap.CV, snap.Calibrators, snap.Classes, snap.InSample
	c.base = nil
	if len(snap.Base) > 0 {
		if c.newBase == nil {
			return errors.NewValidationError("base_estimator", "factory required to restore", nil)
		}
		base := c.newBase()
		bu, ok := base.(encoding.BinaryUnmarshaler)
		if !ok {
			return errors.NewValueError("CalibratedClassifier.UnmarshalBinary",
				fmt.Sprintf("base estimator %T cannot be restored", base))
		}
		if err := bu.UnmarshalBinary(snap.Base); err != nil {
			return err
		}
		c.base = base
	}
	c.state = model.NewStateManager()
	c.state.SetState(snap.State)
	return nil
}

// stratifiedFolds deals the samples of every class round-robin into folds.
// It reports false when some class has fewer samples than folds.
func stratifiedFolds(yIdx []int, nClasses, folds int) ([]int, bool) {
	counts := make([]int, nClasses)
	for _, c := range yIdx {
		counts[c]++
	}
	for _, n := range counts {
		if n < folds {
			return nil, false
		}
	}
	seen := make([]int, nClasses)
	out := make([]int, len(yIdx))
	for i, c := range yIdx {
		out[i] = seen[c] % folds
		seen[c]++
	}
	return out, true
}

func subset(m *mat.Dense, rows []int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(len(rows), c, nil)
	for i, r := range rows {
		out.SetRow(i, m.RawRowView(r))
	}
	return out
}
