package annotate

import (
	"github.com/mariiabilous/besca/core/model"
	"github.com/mariiabilous/besca/pkg/errors"
	"github.com/mariiabilous/besca/sklearn/calibration"
	"github.com/mariiabilous/besca/sklearn/ensemble"
	"github.com/mariiabilous/besca/sklearn/linear_model"
	"github.com/mariiabilous/besca/sklearn/svm"
)

// Kind names a classifier variant.
type Kind string

const (
	KindLinearSVM                 Kind = "linear_svm"
	KindRBFSVM                    Kind = "rbf_svm"
	KindSGDSVM                    Kind = "sgd_svm"
	KindRandomForest              Kind = "random_forest"
	KindLogisticRegression        Kind = "logistic_regression"
	KindLogisticRegressionOVR     Kind = "logistic_regression_ovr"
	KindLogisticRegressionElastic Kind = "logistic_regression_elastic"
)

// backend builds an unfitted classifier for a kind. The same constructor
// restores persisted models, so it must not depend on training data.
type backend func(p Params) (model.BinaryModel, error)

var backends = map[Kind]backend{
	KindLinearSVM: func(p Params) (model.BinaryModel, error) {
		opts := []svm.LinearOption{svm.WithC(p.C), svm.WithRandomState(p.RandomState)}
		if p.Loss != "" {
			opts = append(opts, svm.WithLoss(p.Loss))
		}
		if p.MaxIter > 0 {
			opts = append(opts, svm.WithMaxIter(p.MaxIter))
		}
		if p.Tol > 0 {
			opts = append(opts, svm.WithTol(p.Tol))
		}
		return calibrated(p, func() calibration.Margin { return svm.NewLinearSVC(opts...) }), nil
	},
	KindRBFSVM: func(p Params) (model.BinaryModel, error) {
		mode, g, err := p.gamma()
		if err != nil {
			return nil, err
		}
		opts := []svm.KernelOption{svm.WithKernelC(p.C), svm.WithKernelRandomState(p.RandomState)}
		if mode == "value" {
			opts = append(opts, svm.WithGamma(g))
		} else {
			opts = append(opts, svm.WithGammaMode(mode))
		}
		if p.MaxIter > 0 {
			opts = append(opts, svm.WithKernelMaxIter(p.MaxIter))
		}
		if p.Tol > 0 {
			opts = append(opts, svm.WithKernelTol(p.Tol))
		}
		return calibrated(p, func() calibration.Margin { return svm.NewKernelSVC(opts...) }), nil
	},
	KindSGDSVM: func(p Params) (model.BinaryModel, error) {
		opts := []linear_model.SGDOption{
			linear_model.WithSGDAlpha(p.Alpha),
			linear_model.WithSGDRandomState(p.RandomState),
		}
		if p.Loss != "" {
			opts = append(opts, linear_model.WithSGDLoss(p.Loss))
		}
		if p.MaxIter > 0 {
			opts = append(opts, linear_model.WithSGDMaxIter(p.MaxIter))
		}
		if p.Tol > 0 {
			opts = append(opts, linear_model.WithSGDTol(p.Tol))
		}
		return linear_model.NewSGDClassifier(opts...), nil
	},
	KindRandomForest: func(p Params) (model.BinaryModel, error) {
		return ensemble.NewRandomForestClassifier(
			ensemble.WithNEstimators(p.NEstimators),
			ensemble.WithCriterion(p.Criterion),
			ensemble.WithMaxDepth(p.MaxDepth),
			ensemble.WithMinSamplesSplit(p.MinSamplesSplit),
			ensemble.WithMinSamplesLeaf(p.MinSamplesLeaf),
			ensemble.WithMaxFeatures(p.MaxFeatures),
			ensemble.WithRandomState(p.RandomState),
			ensemble.WithNJobs(p.NJobs),
		), nil
	},
	KindLogisticRegression: func(p Params) (model.BinaryModel, error) {
		return logistic(p, "l2", "multinomial"), nil
	},
	KindLogisticRegressionOVR: func(p Params) (model.BinaryModel, error) {
		return logistic(p, "l2", "ovr"), nil
	},
	KindLogisticRegressionElastic: func(p Params) (model.BinaryModel, error) {
		return logistic(p, "elasticnet", "multinomial"), nil
	},
}

// Kinds lists the supported variants in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindLinearSVM, KindRBFSVM, KindSGDSVM, KindRandomForest,
		KindLogisticRegression, KindLogisticRegressionOVR, KindLogisticRegressionElastic,
	}
}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := backends[k]; !ok {
		return "", errors.NewValidationError("kind", "unknown classifier kind", s)
	}
	return k, nil
}

// newBackend builds the unfitted classifier for kind.
func newBackend(kind Kind, p Params) (model.BinaryModel, error) {
	build, ok := backends[kind]
	if !ok {
		return nil, errors.NewValidationError("kind", "unknown classifier kind", string(kind))
	}
	return build(p)
}

// calibrated wraps an SVM in Platt calibration unless probabilities are
// disabled, in which case the bare machine is returned.
func calibrated(p Params, base func() calibration.Margin) model.BinaryModel {
	if !p.Probability {
		return base().(model.BinaryModel)
	}
	return calibration.NewCalibratedClassifier(base, calibration.WithCV(p.CV))
}

func logistic(p Params, penalty, multiClass string) *linear_model.LogisticRegression {
	opts := []linear_model.LogisticRegressionOption{
		linear_model.WithLRPenalty(penalty),
		linear_model.WithLRC(p.C),
		linear_model.WithLRMultiClass(multiClass),
	}
	if penalty == "elasticnet" {
		opts = append(opts, linear_model.WithLRL1Ratio(p.L1Ratio))
	}
	if p.MaxIter > 0 {
		opts = append(opts, linear_model.WithLRMaxIter(p.MaxIter))
	}
	if p.Tol > 0 {
		opts = append(opts, linear_model.WithLRTol(p.Tol))
	}
	return linear_model.NewLogisticRegression(opts...)
}
