// Package svm provides support vector classifiers trained by dual
// coordinate descent: a linear machine and an RBF kernel machine. Both
// decompose multiclass problems one-vs-rest and expose margins only; use
// package calibration for probabilities.
package svm

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/mariiabilous/besca/core/model"
	"github.com/mariiabilous/besca/pkg/errors"
)

// LinearSVC is a linear support vector classifier (liblinear style dual
// coordinate descent). The intercept is learned as the weight of a constant
// feature and is therefore regularized.
type LinearSVC struct {
	state *model.StateManager

	C                float64
	loss             string // "squared_hinge" or "hinge"
	tol              float64
	maxIter          int
	fitIntercept     bool
	interceptScaling float64
	randomState      int64

	coef_      [][]float64
	intercept_ []float64
	classes_   []int
	nIter_     int
}

// LinearOption configures a LinearSVC.
type LinearOption func(*LinearSVC)

// NewLinearSVC returns a LinearSVC with C=1, squared hinge loss.
func NewLinearSVC(opts ...LinearOption) *LinearSVC {
	s := &LinearSVC{
		state:            model.NewStateManager(),
		C:                1.0,
		loss:             "squared_hinge",
		tol:              1e-4,
		maxIter:          1000,
		fitIntercept:     true,
		interceptScaling: 1.0,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithC sets the penalty parameter.
func WithC(c float64) LinearOption { return func(s *LinearSVC) { s.C = c } }

// WithLoss selects "squared_hinge" or "hinge".
func WithLoss(loss string) LinearOption { return func(s *LinearSVC) { s.loss = loss } }

// WithTol sets the stopping tolerance on the projected gradient.
func WithTol(tol float64) LinearOption { return func(s *LinearSVC) { s.tol = tol } }

// WithMaxIter sets the maximum number of passes over the data.
func WithMaxIter(n int) LinearOption { return func(s *LinearSVC) { s.maxIter = n } }

// WithRandomState seeds the coordinate order.
func WithRandomState(seed int64) LinearOption { return func(s *LinearSVC) { s.randomState = seed } }

// WithFitIntercept toggles the constant feature.
func WithFitIntercept(fit bool) LinearOption { return func(s *LinearSVC) { s.fitIntercept = fit } }

// Fit trains one machine per class (a single machine for two classes).
func (s *LinearSVC) Fit(X, y mat.Matrix) error {
	if s.C <= 0 {
		return errors.NewValidationError("C", "must be positive", s.C)
	}
	if s.loss != "squared_hinge" && s.loss != "hinge" {
		return errors.NewValidationError("loss", "must be squared_hinge or hinge", s.loss)
	}
	if s.maxIter < 1 {
		return errors.NewValidationError("max_iter", "must be positive", s.maxIter)
	}
	classes, yIdx, err := model.EncodeClasses("LinearSVC.Fit", X, y)
	if err != nil {
		return err
	}
	Xd := mat.DenseCopyOf(X)
	nSamples, nFeatures := Xd.Dims()

	s.state.Reset()
	s.classes_ = classes
	s.coef_, s.intercept_, s.nIter_ = nil, nil, 0

	bias := 0.0
	if s.fitIntercept {
		bias = s.interceptScaling
	}
	converged := true
	for m, positive := range machines(len(classes)) {
		target := signs(yIdx, positive)
		w, b, iters, ok := s.solve(Xd, target, bias, s.randomState+int64(m))
		converged = converged && ok
		if iters > s.nIter_ {
			s.nIter_ = iters
		}
		s.coef_ = append(s.coef_, w)
		s.intercept_ = append(s.intercept_, b)
	}
	if !converged {
		errors.Warn(errors.NewConvergenceWarning("LinearSVC", s.nIter_,
			"dual coordinate descent did not reach tol; increase max_iter"))
	}
	s.state.SetDimensions(nFeatures, nSamples)
	s.state.SetFitted()
	return nil
}

// solve runs dual coordinate descent for one ±1 problem.
func (s *LinearSVC) solve(X *mat.Dense, target []float64, bias float64, seed int64) ([]float64, float64, int, bool) {
	n, p := X.Dims()
	w := make([]float64, p)
	b := 0.0
	alpha := make([]float64, n)

	upper, diag := math.Inf(1), 0.5/s.C
	if s.loss == "hinge" {
		upper, diag = s.C, 0
	}
	qd := make([]float64, n)
	for i := 0; i < n; i++ {
		row := X.RawRowView(i)
		qd[i] = floats.Dot(row, row) + bias*bias + diag
	}

	rng := rand.New(rand.NewSource(seed))
	order := rng.Perm(n)
	iter := 0
	for iter < s.maxIter {
		iter++
		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
		maxPG, minPG := math.Inf(-1), math.Inf(1)
		for _, i := range order {
			if qd[i] <= 0 {
				continue
			}
			row := X.RawRowView(i)
			yi := target[i]
			G := yi*(floats.Dot(w, row)+b*bias) - 1 + diag*alpha[i]

			pg := G
			switch {
			case alpha[i] == 0:
				pg = math.Min(G, 0)
			case alpha[i] >= upper:
				pg = math.Max(G, 0)
			}
			maxPG = math.Max(maxPG, pg)
			minPG = math.Min(minPG, pg)

			if math.Abs(pg) > 1e-12 {
				old := alpha[i]
				alpha[i] = math.Min(math.Max(alpha[i]-G/qd[i], 0), upper)
				d := (alpha[i] - old) * yi
				floats.AddScaled(w, d, row)
				b += d * bias
			}
		}
		if maxPG-minPG <= s.tol {
			return w, b * bias, iter, true
		}
	}
	return w, b * bias, iter, false
}

// DecisionFunction returns one margin column per machine.
func (s *LinearSVC) DecisionFunction(X mat.Matrix) (*mat.Dense, error) {
	if err := s.state.RequireFitted("LinearSVC", "DecisionFunction"); err != nil {
		return nil, err
	}
	n, nCols := X.Dims()
	if err := s.state.CheckFeatures("LinearSVC.DecisionFunction", nCols); err != nil {
		return nil, err
	}
	out := mat.NewDense(n, len(s.coef_), nil)
	row := make([]float64, nCols)
	for i := 0; i < n; i++ {
		mat.Row(row, i, X)
		for k, w := range s.coef_ {
			out.Set(i, k, floats.Dot(w, row)+s.intercept_[k])
		}
	}
	return out, nil
}

// Predict returns class labels.
func (s *LinearSVC) Predict(X mat.Matrix) (mat.Matrix, error) {
	scores, err := s.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	return model.MarginLabels(scores, s.classes_), nil
}

// PredictProba is not available on a bare margin classifier.
func (s *LinearSVC) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	return nil, errors.NewProbabilityUnsupportedError("LinearSVC")
}

// Classes returns the sorted class labels.
func (s *LinearSVC) Classes() []int { return append([]int(nil), s.classes_...) }

// Coef returns a copy of the weights, one row per machine.
func (s *LinearSVC) Coef() [][]float64 {
	out := make([][]float64, len(s.coef_))
	for i, c := range s.coef_ {
		out[i] = append([]float64(nil), c...)
	}
	return out
}

// GetParams returns the hyperparameters.
func (s *LinearSVC) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"C":             s.C,
		"loss":          s.loss,
		"tol":           s.tol,
		"max_iter":      s.maxIter,
		"fit_intercept": s.fitIntercept,
		"random_state":  s.randomState,
	}
}

type linearSnapshot struct {
	C                float64
	Loss             string
	Tol              float64
	MaxIter          int
	FitIntercept     bool
	InterceptScaling float64
	RandomState      int64
	Coef             [][]float64
	Intercept        []float64
	Classes          []int
	State            model.ModelState
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (s *LinearSVC) MarshalBinary() ([]byte, error) {
	return model.EncodeGob(linearSnapshot{
		C: s.C, Loss: s.loss, Tol: s.tol, MaxIter: s.maxIter, FitIntercept: s.fitIntercept,
		InterceptScaling: s.interceptScaling, RandomState: s.randomState,
		Coef: s.coef_, Intercept: s.intercept_, Classes: s.classes_, State: s.state.GetState(),
	})
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (s *LinearSVC) UnmarshalBinary(data []byte) error {
	var snap linearSnapshot
	if err := model.DecodeGob(data, &snap); err != nil {
		return err
	}
	if len(snap.Coef) != len(snap.Intercept) {
		return errors.NewValueError("LinearSVC.UnmarshalBinary", "coefficient and intercept counts differ")
	}
	s.C, s.loss, s.tol, s.maxIter = snap.C, snap.Loss, snap.Tol, snap.MaxIter
	s.fitIntercept, s.interceptScaling, s.randomState = snap.FitIntercept, snap.InterceptScaling, snap.RandomState
	s.coef_, s.intercept_, s.classes_ = snap.Coef, snap.Intercept, snap.Classes
	s.state = model.NewStateManager()
	s.state.SetState(snap.State)
	return nil
}

func (s *LinearSVC) String() string {
	return fmt.Sprintf("LinearSVC(C=%g, loss=%s)", s.C, s.loss)
}

// machines lists the positive class index of every one-vs-rest machine. Two
// classes need a single machine for the second class.
func machines(nClasses int) []int {
	if nClasses == 2 {
		return []int{1}
	}
	out := make([]int, nClasses)
	for i := range out {
		out[i] = i
	}
	return out
}

func signs(yIdx []int, positive int) []float64 {
	out := make([]float64, len(yIdx))
	for i, c := range yIdx {
		out[i] = -1
		if c == positive {
			out[i] = 1
		}
	}
	return out
}
