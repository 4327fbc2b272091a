package linear_model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/mariiabilous/besca/core/model"
	"github.com/mariiabilous/besca/pkg/errors"
)

// LogisticRegression implements regularized logistic regression for
// classification. Compatible with scikit-learn's LogisticRegression
// objective: C * sum(loss) + penalty(w).
type LogisticRegression struct {
	state *model.StateManager // State management (composition)

	// Hyperparameters
	penalty      string  // Regularization: "l2", "elasticnet", "none"
	C            float64 // Inverse regularization strength
	fitIntercept bool    // Whether to fit intercept
	maxIter      int     // Maximum iterations
	multiClass   string  // Multi-class: "multinomial", "ovr"
	l1Ratio      float64 // L1 ratio for elastic net
	tol          float64 // Tolerance for stopping

	// Model parameters
	coef_      [][]float64 // Coefficients (n_machines x n_features)
	intercept_ []float64   // Intercept terms
	classes_   []int       // Unique class labels
	nIter_     []int       // Iterations per machine
}

// LogisticRegressionOption is a functional option for LogisticRegression
type LogisticRegressionOption func(*LogisticRegression)

// NewLogisticRegression creates a new LogisticRegression classifier
//
//	lr := linear_model.NewLogisticRegression(
//	    linear_model.WithLRPenalty("elasticnet"),
//	    linear_model.WithLRL1Ratio(0.5),
//	)
func NewLogisticRegression(opts ...LogisticRegressionOption) *LogisticRegression {
	lr := &LogisticRegression{
		state:        model.NewStateManager(),
		penalty:      "l2",
		C:            1.0,
		fitIntercept: true,
		maxIter:      500,
		multiClass:   "multinomial",
		l1Ratio:      0.5,
		tol:          1e-4,
	}
	for _, opt := range opts {
		opt(lr)
	}
	return lr
}

// WithLRPenalty sets the regularization type
func WithLRPenalty(penalty string) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.penalty = penalty
	}
}

// WithLRC sets the inverse regularization strength
func WithLRC(c float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.C = c
	}
}

// WithLogisticFitIntercept sets whether to fit intercept
func WithLogisticFitIntercept(fit bool) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.fitIntercept = fit
	}
}

// WithLRMultiClass selects "multinomial" or "ovr".
func WithLRMultiClass(multiClass string) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.multiClass = multiClass
	}
}

// WithLRL1Ratio sets the elastic net mixing parameter.
func WithLRL1Ratio(ratio float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.l1Ratio = ratio
	}
}

// WithLRMaxIter sets the maximum number of iterations
func WithLRMaxIter(maxIter int) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.maxIter = maxIter
	}
}

// WithLRTol sets the tolerance for stopping criteria
func WithLRTol(tol float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.tol = tol
	}
}

func (lr *LogisticRegression) validate() error {
	switch lr.penalty {
	case "l2", "elasticnet", "none":
	default:
		return errors.NewValidationError("penalty", "must be l2, elasticnet or none", lr.penalty)
	}
	switch lr.multiClass {
	case "multinomial", "ovr":
	default:
		return errors.NewValidationError("multi_class", "must be multinomial or ovr", lr.multiClass)
	}
	if lr.C <= 0 {
		return errors.NewValidationError("C", "must be positive", lr.C)
	}
	if lr.l1Ratio < 0 || lr.l1Ratio > 1 {
		return errors.NewValidationError("l1_ratio", "must be in [0, 1]", lr.l1Ratio)
	}
	if lr.maxIter < 1 {
		return errors.NewValidationError("max_iter", "must be positive", lr.maxIter)
	}
	return nil
}

// Fit trains the logistic regression model. y holds integer class labels.
func (lr *LogisticRegression) Fit(X, y mat.Matrix) error {
	if err := lr.validate(); err != nil {
		return err
	}
	classes, yIdx, err := model.EncodeClasses("LogisticRegression.Fit", X, y)
	if err != nil {
		return err
	}
	Xd := mat.DenseCopyOf(X)
	nSamples, nFeatures := Xd.Dims()
	if err := errors.CheckMatrix("LogisticRegression.Fit", Xd, nSamples, nFeatures, 0); err != nil {
		return err
	}

	lr.state.Reset()
	lr.classes_ = classes
	lr.coef_, lr.intercept_, lr.nIter_ = nil, nil, nil

	lambda := 0.0
	if lr.penalty != "none" {
		lambda = 1 / (lr.C * float64(nSamples))
	}
	l1 := 0.0
	if lr.penalty == "elasticnet" {
		l1 = lr.l1Ratio
	}
	spectral := spectralEstimate(Xd, lr.fitIntercept)

	converged := true
	maxIterRun := 0
	if lr.multiClass == "multinomial" {
		K := len(classes)
		w := make([]float64, K*(nFeatures+1))
		loss := lr.multinomialLoss(Xd, yIdx, K, lambda*(1-l1))
		iters, ok := fista(w, loss, lr.prox(K, nFeatures, lambda*l1), 0.5*spectral+lambda*(1-l1), lr.maxIter, lr.tol)
		converged = ok
		maxIterRun = iters
		lr.unpack(w, K, nFeatures)
		lr.nIter_ = []int{iters}
	} else {
		machines := len(classes)
		if machines == 2 {
			machines = 1
		}
		for m := 0; m < machines; m++ {
			positive := m
			if len(classes) == 2 {
				positive = 1
			}
			target := make([]float64, nSamples)
			for i, c := range yIdx {
				if c == positive {
					target[i] = 1
				}
			}
			w := make([]float64, nFeatures+1)
			loss := lr.binaryLoss(Xd, target, lambda*(1-l1))
			iters, ok := fista(w, loss, lr.prox(1, nFeatures, lambda*l1), 0.25*spectral+lambda*(1-l1), lr.maxIter, lr.tol)
			converged = converged && ok
			if iters > maxIterRun {
				maxIterRun = iters
			}
			lr.coef_ = append(lr.coef_, w[:nFeatures])
			lr.intercept_ = append(lr.intercept_, w[nFeatures])
			lr.nIter_ = append(lr.nIter_, iters)
		}
	}

	if !converged {
		errors.Warn(errors.NewConvergenceWarning("LogisticRegression", maxIterRun,
			"increase max_iter or scale the data"))
	}
	for _, c := range lr.coef_ {
		if err := errors.CheckMatrix("LogisticRegression.Fit", mat.NewVecDense(len(c), c), len(c), 1, maxIterRun); err != nil {
			return err
		}
	}

	lr.state.SetDimensions(nFeatures, nSamples)
	lr.state.SetFitted()
	return nil
}

// multinomialLoss returns the mean softmax cross entropy plus the smooth
// L2 part. Parameters are laid out class by class, the intercept last.
func (lr *LogisticRegression) multinomialLoss(X *mat.Dense, yIdx []int, K int, l2 float64) smoothLoss {
	n, p := X.Dims()
	stride := p + 1
	z := make([]float64, K)
	return func(w, grad []float64) float64 {
		if grad != nil {
			for i := range grad {
				grad[i] = 0
			}
		}
		total := 0.0
		for i := 0; i < n; i++ {
			row := X.RawRowView(i)
			for k := 0; k < K; k++ {
				wk := w[k*stride : k*stride+p]
				z[k] = floats.Dot(wk, row)
				if lr.fitIntercept {
					z[k] += w[k*stride+p]
				}
			}
			lse := errors.LogSumExp(z)
			total += lse - z[yIdx[i]]
			if grad == nil {
				continue
			}
			for k := 0; k < K; k++ {
				r := math.Exp(z[k] - lse)
				if k == yIdx[i] {
					r--
				}
				r /= float64(n)
				floats.AddScaled(grad[k*stride:k*stride+p], r, row)
				if lr.fitIntercept {
					grad[k*stride+p] += r
				}
			}
		}
		f := total / float64(n)
		for k := 0; k < K; k++ {
			wk := w[k*stride : k*stride+p]
			f += 0.5 * l2 * floats.Dot(wk, wk)
			if grad != nil {
				floats.AddScaled(grad[k*stride:k*stride+p], l2, wk)
			}
		}
		return f
	}
}

// binaryLoss returns the mean logistic loss for 0/1 targets plus the smooth
// L2 part.
func (lr *LogisticRegression) binaryLoss(X *mat.Dense, target []float64, l2 float64) smoothLoss {
	n, p := X.Dims()
	return func(w, grad []float64) float64 {
		if grad != nil {
			for i := range grad {
				grad[i] = 0
			}
		}
		total := 0.0
		for i := 0; i < n; i++ {
			row := X.RawRowView(i)
			z := floats.Dot(w[:p], row)
			if lr.fitIntercept {
				z += w[p]
			}
			total += softplus(z) - target[i]*z
			if grad == nil {
				continue
			}
			r := (sigmoid(z) - target[i]) / float64(n)
			floats.AddScaled(grad[:p], r, row)
			if lr.fitIntercept {
				grad[p] += r
			}
		}
		f := total/float64(n) + 0.5*l2*floats.Dot(w[:p], w[:p])
		if grad != nil {
			floats.AddScaled(grad[:p], l2, w[:p])
		}
		return f
	}
}

// prox soft-thresholds the coefficients of every machine; intercepts are
// never penalized.
func (lr *LogisticRegression) prox(machines, p int, l1 float64) proxOp {
	stride := p + 1
	return func(w []float64, step float64) float64 {
		if l1 == 0 {
			return 0
		}
		value := 0.0
		for k := 0; k < machines; k++ {
			for j := 0; j < p; j++ {
				idx := k*stride + j
				w[idx] = softThreshold(w[idx], step*l1)
				value += math.Abs(w[idx])
			}
		}
		return l1 * value
	}
}

func (lr *LogisticRegression) unpack(w []float64, K, p int) {
	stride := p + 1
	lr.coef_ = make([][]float64, K)
	lr.intercept_ = make([]float64, K)
	for k := 0; k < K; k++ {
		lr.coef_[k] = append([]float64(nil), w[k*stride:k*stride+p]...)
		lr.intercept_[k] = w[k*stride+p]
	}
}

// DecisionFunction returns the linear scores, one column per machine.
func (lr *LogisticRegression) DecisionFunction(X mat.Matrix) (*mat.Dense, error) {
	if err := lr.state.RequireFitted("LogisticRegression", "DecisionFunction"); err != nil {
		return nil, err
	}
	nSamples, nCols := X.Dims()
	if err := lr.state.CheckFeatures("LogisticRegression.DecisionFunction", nCols); err != nil {
		return nil, err
	}
	scores := mat.NewDense(nSamples, len(lr.coef_), nil)
	row := make([]float64, nCols)
	for i := 0; i < nSamples; i++ {
		mat.Row(row, i, X)
		for k, w := range lr.coef_ {
			scores.Set(i, k, floats.Dot(w, row)+lr.intercept_[k])
		}
	}
	return scores, nil
}

// Predict makes predictions for input data
func (lr *LogisticRegression) Predict(X mat.Matrix) (mat.Matrix, error) {
	probas, err := lr.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return model.ArgmaxRows(probas, lr.classes_), nil
}

// PredictProba returns probability estimates for each class. Multinomial
// models use the softmax of the scores; one-vs-rest models normalize the
// per-class sigmoids.
func (lr *LogisticRegression) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	scores, err := lr.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	nSamples, _ := scores.Dims()
	K := len(lr.classes_)
	probas := mat.NewDense(nSamples, K, nil)
	for i := 0; i < nSamples; i++ {
		out := probas.RawRowView(i)
		switch {
		case lr.multiClass == "multinomial":
			copy(out, scores.RawRowView(i))
			errors.Softmax(out)
		case len(lr.coef_) == 1:
			p1 := sigmoid(scores.At(i, 0))
			out[0], out[1] = 1-p1, p1
		default:
			for k := range out {
				out[k] = sigmoid(scores.At(i, k))
			}
			errors.NormalizeRow(out)
		}
	}
	return probas, nil
}

// Classes returns the sorted class labels seen during Fit.
func (lr *LogisticRegression) Classes() []int {
	return append([]int(nil), lr.classes_...)
}

// Coef returns a copy of the coefficients, one row per machine.
func (lr *LogisticRegression) Coef() [][]float64 {
	out := make([][]float64, len(lr.coef_))
	for i, c := range lr.coef_ {
		out[i] = append([]float64(nil), c...)
	}
	return out
}

// NIter returns the iterations run per machine.
func (lr *LogisticRegression) NIter() []int { return append([]int(nil), lr.nIter_...) }

// Score returns the mean accuracy on the given test data and labels
func (lr *LogisticRegression) Score(X, y mat.Matrix) float64 {
	predictions, err := lr.Predict(X)
	if err != nil {
		return 0.0
	}

	nSamples, _ := X.Dims()
	correct := 0

	for i := 0; i < nSamples; i++ {
		if predictions.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}

	return float64(correct) / float64(nSamples)
}

// GetParams returns the model hyperparameters
func (lr *LogisticRegression) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"penalty":       lr.penalty,
		"C":             lr.C,
		"fit_intercept": lr.fitIntercept,
		"max_iter":      lr.maxIter,
		"multi_class":   lr.multiClass,
		"l1_ratio":      lr.l1Ratio,
		"tol":           lr.tol,
	}
}

// SetParams sets the model hyperparameters
func (lr *LogisticRegression) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var ok bool
		switch key {
		case "penalty":
			lr.penalty, ok = value.(string)
		case "C":
			lr.C, ok = value.(float64)
		case "fit_intercept":
			lr.fitIntercept, ok = value.(bool)
		case "max_iter":
			lr.maxIter, ok = value.(int)
		case "multi_class":
			lr.multiClass, ok = value.(string)
		case "l1_ratio":
			lr.l1Ratio, ok = value.(float64)
		case "tol":
			lr.tol, ok = value.(float64)
		default:
			return errors.NewValidationError(key, "unknown parameter", value)
		}
		if !ok {
			return errors.NewValidationError(key, fmt.Sprintf("unexpected type %T", value), value)
		}
	}
	return nil
}

type logisticSnapshot struct {
	Penalty      string
	C            float64
	FitIntercept bool
	MaxIter      int
	MultiClass   string
	L1Ratio      float64
	Tol          float64
	Coef         [][]float64
	Intercept    []float64
	Classes      []int
	NIter        []int
	State        model.ModelState
}

// MarshalBinary encodes hyperparameters and fitted coefficients.
func (lr *LogisticRegression) MarshalBinary() ([]byte, error) {
	return model.EncodeGob(logisticSnapshot{
		Penalty: lr.penalty, C: lr.C, FitIntercept: lr.fitIntercept, MaxIter: lr.maxIter,
		MultiClass: lr.multiClass, L1Ratio: lr.l1Ratio, Tol: lr.tol,
		Coef: lr.coef_, Intercept: lr.intercept_, Classes: lr.classes_, NIter: lr.nIter_,
		State: lr.state.GetState(),
	})
}

// UnmarshalBinary restores a model written by MarshalBinary.
func (lr *LogisticRegression) UnmarshalBinary(data []byte) error {
	var s logisticSnapshot
	if err := model.DecodeGob(data, &s); err != nil {
		return err
	}
	if len(s.Coef) != len(s.Intercept) {
		return errors.NewValueError("LogisticRegression.UnmarshalBinary", "coefficient and intercept counts differ")
	}
	lr.penalty, lr.C, lr.fitIntercept, lr.maxIter = s.Penalty, s.C, s.FitIntercept, s.MaxIter
	lr.multiClass, lr.l1Ratio, lr.tol = s.MultiClass, s.L1Ratio, s.Tol
	lr.coef_, lr.intercept_, lr.classes_, lr.nIter_ = s.Coef, s.Intercept, s.Classes, s.NIter
	lr.state = model.NewStateManager()
	lr.state.SetState(s.State)
	return nil
}

// sigmoid computes the sigmoid function
func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1.0 / (1.0 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// softplus computes log(1 + exp(z)) without overflow.
func softplus(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}
