// Package annotate trains cell-type classifiers on annotated matrices and
// applies them to new data.
//
// A fit reads the label column, sorts its distinct values into the label
// vocabulary and hands the expression matrix to the backend selected by
// Kind:
//
//	fm, err := annotate.Fit(train, annotate.Config{
//		Kind:        annotate.KindLogisticRegression,
//		LabelColumn: "celltype",
//		Params:      annotate.DefaultParams(),
//	})
//	labelled, err := annotate.AdataPredict(fm, query)
package annotate

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/mariiabilous/besca/anndata"
	"github.com/mariiabilous/besca/pkg/errors"
	"github.com/mariiabilous/besca/pkg/log"
	"github.com/mariiabilous/besca/pkg/telemetry"
	"github.com/mariiabilous/besca/preprocessing"
)

// DefaultLabelColumn is the obs column read when Config.LabelColumn is empty.
const DefaultLabelColumn = "celltype"

// Config selects a classifier and its hyperparameters.
type Config struct {
	Kind        Kind
	LabelColumn string
	Params      Params
}

// DefaultConfig returns kind with DefaultParams and the default label column.
func DefaultConfig(kind Kind) Config {
	return Config{Kind: kind, LabelColumn: DefaultLabelColumn, Params: DefaultParams()}
}

// Fit trains the classifier named by cfg.Kind on m's expression values
// against the labels in cfg.LabelColumn.
func Fit(m *anndata.AnnotatedMatrix, cfg Config) (fm *FittedModel, err error) {
	defer telemetry.ObserveStage(telemetry.StageFit)()
	defer func() { telemetry.RecordFit(string(cfg.Kind), err) }()

	if m == nil {
		return nil, errors.NewValidationError("matrix", "must not be nil", nil)
	}
	if cfg.LabelColumn == "" {
		cfg.LabelColumn = DefaultLabelColumn
	}
	if _, err := ParseKind(string(cfg.Kind)); err != nil {
		return nil, err
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	vocab, y, err := encodeLabels(m, cfg.LabelColumn)
	if err != nil {
		return nil, err
	}

	clf, err := newBackend(cfg.Kind, cfg.Params)
	if err != nil {
		return nil, err
	}

	logger := log.GetLoggerWithName("annotate").With(
		log.OperationKey, log.OperationFit,
		log.ClassifierKindKey, string(cfg.Kind),
		log.LabelColumnKey, cfg.LabelColumn,
	)
	start := time.Now()

	X := m.Dense()
	var scaler *preprocessing.StandardScaler
	if cfg.Params.Scale {
		scaler = preprocessing.NewStandardScalerDefault()
		scaled, err := scaler.FitTransform(X)
		if err != nil {
			return nil, err
		}
		X = mat.DenseCopyOf(scaled)
	}

	err = errors.SafeExecute("annotate.Fit", func() error { return clf.Fit(X, y) })
	if err != nil {
		logger.Error("fit failed", err, log.SamplesKey, m.NObs(), log.GenesKey, m.NVars())
		return nil, errors.Wrapf(err, "fit %s", cfg.Kind)
	}
	telemetry.CountSamples(telemetry.StageFit, m.NObs())

	fm = &FittedModel{
		ID:          uuid.NewString(),
		Kind:        cfg.Kind,
		LabelColumn: cfg.LabelColumn,
		Genes:       m.VarNames(),
		Classes:     vocab,
		Params:      cfg.Params,
		NSamples:    m.NObs(),
		CreatedAt:   time.Now().UTC(),
		scaler:      scaler,
		classifier:  clf,
	}
	logger.Info("classifier fitted",
		log.ModelIDKey, fm.ID,
		log.ModelNameKey, fmt.Sprintf("%T", clf),
		log.SamplesKey, m.NObs(),
		log.GenesKey, m.NVars(),
		log.ClassesKey, len(vocab),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return fm, nil
}

// isMissing reports whether a label value counts as absent.
func isMissing(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "nan", "na", "none", "null":
		return true
	}
	return false
}

// encodeLabels builds the sorted vocabulary and the (n, 1) target of
// vocabulary positions.
func encodeLabels(m *anndata.AnnotatedMatrix, column string) ([]string, *mat.Dense, error) {
	labels, ok := m.Obs(column)
	if !ok {
		return nil, nil, errors.NewInsufficientClassesError(column, 0, "column not found")
	}
	names := m.ObsNames()
	seen := map[string]bool{}
	for i, l := range labels {
		if isMissing(l) {
			return nil, nil, errors.NewInsufficientClassesError(column, 0,
				fmt.Sprintf("sample %q has no label", names[i]))
		}
		seen[l] = true
	}
	if len(seen) < 2 {
		return nil, nil, errors.NewInsufficientClassesError(column, len(seen), "")
	}
	vocab := make([]string, 0, len(seen))
	for l := range seen {
		vocab = append(vocab, l)
	}
	sort.Strings(vocab)
	pos := make(map[string]int, len(vocab))
	for i, l := range vocab {
		pos[l] = i
	}
	y := mat.NewDense(len(labels), 1, nil)
	for i, l := range labels {
		y.Set(i, 0, float64(pos[l]))
	}
	return vocab, y, nil
}

// LinearSVM fits a calibrated linear support vector machine.
func LinearSVM(m *anndata.AnnotatedMatrix, labelColumn string, p Params) (*FittedModel, error) {
	return Fit(m, Config{Kind: KindLinearSVM, LabelColumn: labelColumn, Params: p})
}

// RBFSVM fits a calibrated RBF kernel support vector machine.
func RBFSVM(m *anndata.AnnotatedMatrix, labelColumn string, p Params) (*FittedModel, error) {
	return Fit(m, Config{Kind: KindRBFSVM, LabelColumn: labelColumn, Params: p})
}

// SGDSVM fits a linear SVM by stochastic gradient descent. It predicts
// labels only.
func SGDSVM(m *anndata.AnnotatedMatrix, labelColumn string, p Params) (*FittedModel, error) {
	return Fit(m, Config{Kind: KindSGDSVM, LabelColumn: labelColumn, Params: p})
}

// RandomForest fits a random forest.
func RandomForest(m *anndata.AnnotatedMatrix, labelColumn string, p Params) (*FittedModel, error) {
	return Fit(m, Config{Kind: KindRandomForest, LabelColumn: labelColumn, Params: p})
}

// LogisticRegression fits a multinomial L2 logistic regression.
func LogisticRegression(m *anndata.AnnotatedMatrix, labelColumn string, p Params) (*FittedModel, error) {
	return Fit(m, Config{Kind: KindLogisticRegression, LabelColumn: labelColumn, Params: p})
}

// LogisticRegressionOVR fits one L2 logistic regression per class.
func LogisticRegressionOVR(m *anndata.AnnotatedMatrix, labelColumn string, p Params) (*FittedModel, error) {
	return Fit(m, Config{Kind: KindLogisticRegressionOVR, LabelColumn: labelColumn, Params: p})
}

// LogisticRegressionElastic fits a multinomial elastic-net logistic
// regression mixing the penalties by p.L1Ratio.
func LogisticRegressionElastic(m *anndata.AnnotatedMatrix, labelColumn string, p Params) (*FittedModel, error) {
	return Fit(m, Config{Kind: KindLogisticRegressionElastic, LabelColumn: labelColumn, Params: p})
}

// FitAll fits every configuration on m concurrently. Results follow the
// order of cfgs. The first failure cancels the configurations not yet
// started and is returned.
func FitAll(ctx context.Context, m *anndata.AnnotatedMatrix, cfgs []Config) ([]*FittedModel, error) {
	out := make([]*FittedModel, len(cfgs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, cfg := range cfgs {
		i, cfg := i, cfg
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fm, err := Fit(m, cfg)
			if err != nil {
				return errors.Wrapf(err, "config %d", i)
			}
			out[i] = fm
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
