package svm

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/mariiabilous/besca/core/model"
	"github.com/mariiabilous/besca/core/parallel"
	"github.com/mariiabilous/besca/pkg/errors"
)

// KernelSVC is a hinge loss support vector classifier with an RBF kernel.
// The bias is folded into the kernel (K + 1), which keeps the dual free of
// the equality constraint and lets every coordinate be updated alone.
type KernelSVC struct {
	state *model.StateManager

	C           float64
	gammaMode   string  // "scale", "auto" or "value"
	gamma       float64 // used when gammaMode is "value"
	tol         float64
	maxIter     int
	randomState int64

	gamma_    float64     // resolved kernel width
	support_  *mat.Dense  // support vectors
	dualCoef_ *mat.Dense  // alpha*y, support vectors x machines
	classes_  []int
	nIter_    int
}

// KernelOption configures a KernelSVC.
type KernelOption func(*KernelSVC)

// NewKernelSVC returns an RBF KernelSVC with C=1 and gamma="scale".
func NewKernelSVC(opts ...KernelOption) *KernelSVC {
	s := &KernelSVC{
		state:     model.NewStateManager(),
		C:         1.0,
		gammaMode: "scale",
		tol:       1e-3,
		maxIter:   1000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithKernelC sets the penalty parameter.
func WithKernelC(c float64) KernelOption { return func(s *KernelSVC) { s.C = c } }

// WithGamma fixes the RBF width.
func WithGamma(g float64) KernelOption {
	return func(s *KernelSVC) { s.gammaMode, s.gamma = "value", g }
}

// WithGammaMode selects "scale" (1 / (n_features * Var(X))) or "auto"
// (1 / n_features).
func WithGammaMode(mode string) KernelOption { return func(s *KernelSVC) { s.gammaMode = mode } }

// WithKernelTol sets the stopping tolerance.
func WithKernelTol(tol float64) KernelOption { return func(s *KernelSVC) { s.tol = tol } }

// WithKernelMaxIter sets the maximum number of passes.
func WithKernelMaxIter(n int) KernelOption { return func(s *KernelSVC) { s.maxIter = n } }

// WithKernelRandomState seeds the coordinate order.
func WithKernelRandomState(seed int64) KernelOption {
	return func(s *KernelSVC) { s.randomState = seed }
}

func (s *KernelSVC) resolveGamma(X *mat.Dense) (float64, error) {
	_, p := X.Dims()
	switch s.gammaMode {
	case "scale":
		// X is a fresh DenseCopyOf, so the backing slice is contiguous.
		_, variance := stat.PopMeanVariance(X.RawMatrix().Data, nil)
		if variance <= 0 {
			return 1.0, nil
		}
		return 1 / (float64(p) * variance), nil
	case "auto":
		return 1 / float64(p), nil
	case "value":
		if s.gamma <= 0 {
			return 0, errors.NewValidationError("gamma", "must be positive", s.gamma)
		}
		return s.gamma, nil
	}
	return 0, errors.NewValidationError("gamma", "must be scale, auto or a positive number", s.gammaMode)
}

// Fit trains one machine per class (a single machine for two classes) on a
// shared kernel matrix.
func (s *KernelSVC) Fit(X, y mat.Matrix) error {
	if s.C <= 0 {
		return errors.NewValidationError("C", "must be positive", s.C)
	}
	if s.maxIter < 1 {
		return errors.NewValidationError("max_iter", "must be positive", s.maxIter)
	}
	classes, yIdx, err := model.EncodeClasses("KernelSVC.Fit", X, y)
	if err != nil {
		return err
	}
	Xd := mat.DenseCopyOf(X)
	n, p := Xd.Dims()
	gamma, err := s.resolveGamma(Xd)
	if err != nil {
		return err
	}

	s.state.Reset()
	s.classes_, s.gamma_, s.nIter_ = classes, gamma, 0

	K := mat.NewDense(n, n, nil)
	parallel.Parallelize(n, func(start, end int) {
		for i := start; i < end; i++ {
			xi := Xd.RawRowView(i)
			row := K.RawRowView(i)
			for j := 0; j < n; j++ {
				row[j] = rbf(xi, Xd.RawRowView(j), gamma) + 1
			}
		}
	})

	ms := machines(len(classes))
	coef := mat.NewDense(n, len(ms), nil)
	converged := true
	for m, positive := range ms {
		target := signs(yIdx, positive)
		alpha, iters, ok := s.solve(K, target, s.randomState+int64(m))
		converged = converged && ok
		if iters > s.nIter_ {
			s.nIter_ = iters
		}
		for i, a := range alpha {
			coef.Set(i, m, a*target[i])
		}
	}
	if !converged {
		errors.Warn(errors.NewConvergenceWarning("KernelSVC", s.nIter_,
			"dual coordinate descent did not reach tol; increase max_iter"))
	}

	var support []int
	for i := 0; i < n; i++ {
		if floats.Norm(coef.RawRowView(i), math.Inf(1)) > 0 {
			support = append(support, i)
		}
	}
	if len(support) == 0 {
		support = []int{0}
	}
	s.support_ = mat.NewDense(len(support), p, nil)
	s.dualCoef_ = mat.NewDense(len(support), len(ms), nil)
	for k, i := range support {
		s.support_.SetRow(k, Xd.RawRowView(i))
		s.dualCoef_.SetRow(k, coef.RawRowView(i))
	}

	s.state.SetDimensions(p, n)
	s.state.SetFitted()
	return nil
}

func (s *KernelSVC) solve(K *mat.Dense, target []float64, seed int64) ([]float64, int, bool) {
	n := len(target)
	alpha := make([]float64, n)
	grad := make([]float64, n) // sum_j alpha_j y_j K_ij
	rng := rand.New(rand.NewSource(seed))
	order := rng.Perm(n)

	iter := 0
	for iter < s.maxIter {
		iter++
		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
		maxPG, minPG := math.Inf(-1), math.Inf(1)
		for _, i := range order {
			qd := K.At(i, i)
			G := target[i]*grad[i] - 1
			pg := G
			switch {
			case alpha[i] == 0:
				pg = math.Min(G, 0)
			case alpha[i] >= s.C:
				pg = math.Max(G, 0)
			}
			maxPG = math.Max(maxPG, pg)
			minPG = math.Min(minPG, pg)
			if math.Abs(pg) <= 1e-12 {
				continue
			}
			old := alpha[i]
			alpha[i] = math.Min(math.Max(alpha[i]-G/qd, 0), s.C)
			if d := (alpha[i] - old) * target[i]; d != 0 {
				floats.AddScaled(grad, d, K.RawRowView(i))
			}
		}
		if maxPG-minPG <= s.tol {
			return alpha, iter, true
		}
	}
	return alpha, iter, false
}

// DecisionFunction returns one margin column per machine.
func (s *KernelSVC) DecisionFunction(X mat.Matrix) (*mat.Dense, error) {
	if err := s.state.RequireFitted("KernelSVC", "DecisionFunction"); err != nil {
		return nil, err
	}
	n, nCols := X.Dims()
	if err := s.state.CheckFeatures("KernelSVC.DecisionFunction", nCols); err != nil {
		return nil, err
	}
	Xd := mat.DenseCopyOf(X)
	nSV, nMachines := s.dualCoef_.Dims()
	out := mat.NewDense(n, nMachines, nil)
	parallel.ParallelizeWithThreshold(n, minParallelRows, func(start, end int) {
		k := make([]float64, nSV)
		for i := start; i < end; i++ {
			xi := Xd.RawRowView(i)
			for j := 0; j < nSV; j++ {
				k[j] = rbf(xi, s.support_.RawRowView(j), s.gamma_) + 1
			}
			row := out.RawRowView(i)
			for j := 0; j < nSV; j++ {
				floats.AddScaled(row, k[j], s.dualCoef_.RawRowView(j))
			}
		}
	})
	return out, nil
}

// Predict returns class labels.
func (s *KernelSVC) Predict(X mat.Matrix) (mat.Matrix, error) {
	scores, err := s.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	return model.MarginLabels(scores, s.classes_), nil
}

// PredictProba is not available on a bare margin classifier.
func (s *KernelSVC) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	return nil, errors.NewProbabilityUnsupportedError("KernelSVC")
}

// Classes returns the sorted class labels.
func (s *KernelSVC) Classes() []int { return append([]int(nil), s.classes_...) }

// Gamma returns the kernel width used by the fitted model.
func (s *KernelSVC) Gamma() float64 { return s.gamma_ }

// NSupport returns the number of support vectors.
func (s *KernelSVC) NSupport() int {
	if s.support_ == nil {
		return 0
	}
	r, _ := s.support_.Dims()
	return r
}

// GetParams returns the hyperparameters.
func (s *KernelSVC) GetParams() map[string]interface{} {
	gamma := interface{}(s.gammaMode)
	if s.gammaMode == "value" {
		gamma = s.gamma
	}
	return map[string]interface{}{
		"C":            s.C,
		"kernel":       "rbf",
		"gamma":        gamma,
		"tol":          s.tol,
		"max_iter":     s.maxIter,
		"random_state": s.randomState,
	}
}

func (s *KernelSVC) String() string {
	return fmt.Sprintf("KernelSVC(C=%g, kernel=rbf, gamma=%v)", s.C, s.GetParams()["gamma"])
}

type kernelSnapshot struct {
	C           float64
	GammaMode   string
	Gamma       float64
	Tol         float64
	MaxIter     int
	RandomState int64
	FittedGamma float64
	Support     []byte
	DualCoef    []byte
	Classes     []int
	State       model.ModelState
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (s *KernelSVC) MarshalBinary() ([]byte, error) {
	snap := kernelSnapshot{
		C: s.C, GammaMode: s.gammaMode, Gamma: s.gamma, Tol: s.tol, MaxIter: s.maxIter,
		RandomState: s.randomState, FittedGamma: s.gamma_, Classes: s.classes_,
		State: s.state.GetState(),
	}
	if s.support_ != nil {
		var err error
		if snap.Support, err = s.support_.MarshalBinary(); err != nil {
			return nil, errors.Wrap(err, "marshal support vectors")
		}
		if snap.DualCoef, err = s.dualCoef_.MarshalBinary(); err != nil {
			return nil, errors.Wrap(err, "marshal dual coefficients")
		}
	}
	return model.EncodeGob(snap)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (s *KernelSVC) UnmarshalBinary(data []byte) error {
	var snap kernelSnapshot
	if err := model.DecodeGob(data, &snap); err != nil {
		return err
	}
	s.C, s.gammaMode, s.gamma, s.tol = snap.C, snap.GammaMode, snap.Gamma, snap.Tol
	s.maxIter, s.randomState, s.gamma_, s.classes_ = snap.MaxIter, snap.RandomState, snap.FittedGamma, snap.Classes
	s.support_, s.dualCoef_ = nil, nil
	if len(snap.Support) > 0 {
		s.support_, s.dualCoef_ = &mat.Dense{}, &mat.Dense{}
		if err := s.support_.UnmarshalBinary(snap.Support); err != nil {
			return errors.Wrap(err, "unmarshal support vectors")
		}
		if err := s.dualCoef_.UnmarshalBinary(snap.DualCoef); err != nil {
			return errors.Wrap(err, "unmarshal dual coefficients")
		}
	}
	s.state = model.NewStateManager()
	s.state.SetState(snap.State)
	return nil
}

// Scoring fewer cells than this is not worth spreading across workers.
const minParallelRows = 64

func rbf(a, b []float64, gamma float64) float64 {
	d := 0.0
	for i := range a {
		diff := a[i] - b[i]
		d += diff * diff
	}
	return errors.StabilizeExp(-gamma * d)
}
