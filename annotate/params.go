package annotate

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/mariiabilous/besca/pkg/errors"
)

// Params holds the hyperparameters of every classifier kind. Each kind reads
// the fields it understands and ignores the rest. Zero MaxIter and Tol mean
// "the backend's own default".
type Params struct {
	// C is the inverse regularization strength of the SVM and logistic kinds.
	C float64
	// MaxIter bounds solver passes; 0 keeps the backend default.
	MaxIter int
	// Tol is the stopping tolerance; 0 keeps the backend default.
	Tol float64
	// Loss overrides the hinge variant of linear_svm ("squared_hinge",
	// "hinge") and sgd_svm ("hinge", "modified_huber", "log_loss").
	Loss string
	// Gamma is the RBF width: "scale", "auto" or a positive number.
	Gamma string
	// Alpha is the SGD regularization constant.
	Alpha float64
	// L1Ratio mixes L1 into the elastic-net penalty.
	L1Ratio float64

	NEstimators     int
	Criterion       string
	MaxDepth        int // 0 means unlimited
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     string

	// Probability calibrates the SVM kinds with Platt sigmoids. Without it
	// probability requests fail with ProbabilityUnsupportedError.
	Probability bool
	// CV is the number of calibration folds.
	CV int
	// Scale standardizes genes before fitting; the fitted scaler is stored
	// with the model.
	Scale bool

	RandomState int64
	NJobs       int
}

// DefaultParams returns the documented defaults.
func DefaultParams() Params {
	return Params{
		C:               1.0,
		Gamma:           "scale",
		Alpha:           1e-4,
		L1Ratio:         0.5,
		NEstimators:     100,
		Criterion:       "gini",
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		MaxFeatures:     "sqrt",
		Probability:     true,
		CV:              3,
	}
}

// Apply returns a copy of p with the given keys overridden. Keys use the
// snake_case names of the configuration file; numbers may arrive as any Go
// numeric type.
func (p Params) Apply(overrides map[string]interface{}) (Params, error) {
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var err error
	for _, key := range keys {
		v := overrides[key]
		switch key {
		case "C", "c":
			p.C, err = toFloat(key, v)
		case "max_iter":
			p.MaxIter, err = toInt(key, v)
		case "tol":
			p.Tol, err = toFloat(key, v)
		case "loss":
			p.Loss, err = toString(key, v)
		case "gamma":
			p.Gamma, err = gammaString(v)
		case "alpha":
			p.Alpha, err = toFloat(key, v)
		case "l1_ratio":
			p.L1Ratio, err = toFloat(key, v)
		case "n_estimators":
			p.NEstimators, err = toInt(key, v)
		case "criterion":
			p.Criterion, err = toString(key, v)
		case "max_depth":
			if v == nil {
				p.MaxDepth = 0
				continue
			}
			p.MaxDepth, err = toInt(key, v)
		case "min_samples_split":
			p.MinSamplesSplit, err = toInt(key, v)
		case "min_samples_leaf":
			p.MinSamplesLeaf, err = toInt(key, v)
		case "max_features":
			p.MaxFeatures, err = toString(key, v)
		case "probability":
			p.Probability, err = toBool(key, v)
		case "cv":
			p.CV, err = toInt(key, v)
		case "scale":
			p.Scale, err = toBool(key, v)
		case "random_state":
			var seed int
			seed, err = toInt(key, v)
			p.RandomState = int64(seed)
		case "n_jobs":
			p.NJobs, err = toInt(key, v)
		default:
			return p, errors.NewValidationError(key, "unknown classifier parameter", v)
		}
		if err != nil {
			return p, err
		}
	}
	return p, p.Validate()
}

// Validate checks ranges shared by all kinds.
func (p Params) Validate() error {
	switch {
	case p.C <= 0:
		return errors.NewValidationError("C", "must be positive", p.C)
	case p.MaxIter < 0:
		return errors.NewValidationError("max_iter", "must be non-negative", p.MaxIter)
	case p.Tol < 0:
		return errors.NewValidationError("tol", "must be non-negative", p.Tol)
	case p.Alpha <= 0:
		return errors.NewValidationError("alpha", "must be positive", p.Alpha)
	case p.L1Ratio < 0 || p.L1Ratio > 1:
		return errors.NewValidationError("l1_ratio", "must be in [0, 1]", p.L1Ratio)
	case p.NEstimators < 1:
		return errors.NewValidationError("n_estimators", "must be positive", p.NEstimators)
	case p.CV < 2:
		return errors.NewValidationError("cv", "must be at least 2", p.CV)
	}
	if _, _, err := p.gamma(); err != nil {
		return err
	}
	return nil
}

// gamma resolves Gamma into a mode or a fixed value.
func (p Params) gamma() (string, float64, error) {
	switch p.Gamma {
	case "", "scale":
		return "scale", 0, nil
	case "auto":
		return "auto", 0, nil
	}
	g, err := strconv.ParseFloat(p.Gamma, 64)
	if err != nil || g <= 0 || math.IsInf(g, 0) {
		return "", 0, errors.NewValidationError("gamma", "must be scale, auto or a positive number", p.Gamma)
	}
	return "value", g, nil
}

// Map returns the parameters under their configuration names.
func (p Params) Map() map[string]interface{} {
	return map[string]interface{}{
		"C":                 p.C,
		"max_iter":          p.MaxIter,
		"tol":               p.Tol,
		"loss":              p.Loss,
		"gamma":             p.Gamma,
		"alpha":             p.Alpha,
		"l1_ratio":          p.L1Ratio,
		"n_estimators":      p.NEstimators,
		"criterion":         p.Criterion,
		"max_depth":         p.MaxDepth,
		"min_samples_split": p.MinSamplesSplit,
		"min_samples_leaf":  p.MinSamplesLeaf,
		"max_features":      p.MaxFeatures,
		"probability":       p.Probability,
		"cv":                p.CV,
		"scale":             p.Scale,
		"random_state":      p.RandomState,
		"n_jobs":            p.NJobs,
	}
}

func toFloat(key string, v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, errors.NewValidationError(key, "must be a number", v)
		}
		return f, nil
	}
	return 0, errors.NewValidationError(key, "must be a number", v)
}

func toInt(key string, v interface{}) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case uint64:
		return int(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, errors.NewValidationError(key, "must be an integer", v)
		}
		return int(x), nil
	case string:
		n, err := strconv.Atoi(x)
		if err != nil {
			return 0, errors.NewValidationError(key, "must be an integer", v)
		}
		return n, nil
	}
	return 0, errors.NewValidationError(key, "must be an integer", v)
}

func toBool(key string, v interface{}) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(x)
		if err != nil {
			return false, errors.NewValidationError(key, "must be a boolean", v)
		}
		return b, nil
	}
	return false, errors.NewValidationError(key, "must be a boolean", v)
}

func toString(key string, v interface{}) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", errors.NewValidationError(key, "must be a string", v)
}

func gammaString(v interface{}) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	g, err := toFloat("gamma", v)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%g", g), nil
}
