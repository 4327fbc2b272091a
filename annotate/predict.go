package annotate

import (
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/mariiabilous/besca/anndata"
	"github.com/mariiabilous/besca/pkg/errors"
	"github.com/mariiabilous/besca/pkg/log"
	"github.com/mariiabilous/besca/pkg/telemetry"
)

// DefaultPredictionColumn is the obs column written by AdataPredict.
const DefaultPredictionColumn = "auto_annot"

// PredictionResult holds one prediction per sample, in input order.
type PredictionResult struct {
	SampleNames []string
	Labels      []string
	Classes     []string
	// Proba has one row per sample and one column per entry of Classes.
	// It is nil for label-only predictions.
	Proba *mat.Dense
}

// TopProbabilities returns the probability of each predicted label, or nil
// when no probabilities were computed.
func (r *PredictionResult) TopProbabilities() []float64 {
	if r.Proba == nil {
		return nil
	}
	n, _ := r.Proba.Dims()
	out := make([]float64, n)
	for i := range out {
		out[i] = mat.Max(r.Proba.RowView(i))
	}
	return out
}

type predictOptions struct {
	column string
}

// PredictOption configures AdataPredict and AdataPredProb.
type PredictOption func(*predictOptions)

// WithColumn sets the obs column that receives the labels.
func WithColumn(name string) PredictOption { return func(o *predictOptions) { o.column = name } }

func newPredictOptions(opts []PredictOption) predictOptions {
	o := predictOptions{column: DefaultPredictionColumn}
	for _, opt := range opts {
		opt(&o)
	}
	if o.column == "" {
		o.column = DefaultPredictionColumn
	}
	return o
}

// align returns m's expression values in the training gene order, scaled
// when the model was fitted on scaled data. Extra genes are dropped; a
// missing training gene fails with GeneMismatchError.
func (fm *FittedModel) align(m *anndata.AnnotatedMatrix) (mat.Matrix, error) {
	if fm == nil || fm.classifier == nil {
		return nil, errors.NewNotFittedError("FittedModel", "Predict")
	}
	if m == nil {
		return nil, errors.NewValidationError("matrix", "must not be nil", nil)
	}

	var X mat.Matrix
	if sameOrder(m.VarNames(), fm.Genes) {
		X = m.X()
	} else {
		var missing []string
		for _, g := range fm.Genes {
			if !m.HasVar(g) {
				missing = append(missing, g)
			}
		}
		if len(missing) > 0 {
			return nil, errors.NewGeneMismatchError(missing, len(fm.Genes), m.NVars())
		}
		sub, err := m.SelectVars(fm.Genes)
		if err != nil {
			return nil, err
		}
		log.GetLoggerWithName("annotate").Debug("genes reindexed to training order",
			log.ModelIDKey, fm.ID, log.GenesKey, m.NVars(), "training_genes", len(fm.Genes))
		X = sub.X()
	}
	if fm.scaler != nil {
		return fm.scaler.Transform(X)
	}
	return X, nil
}

func sameOrder(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Predict returns one label per sample of m, in input order.
func Predict(fm *FittedModel, m *anndata.AnnotatedMatrix) ([]string, error) {
	defer telemetry.ObserveStage(telemetry.StagePredict)()
	X, err := fm.align(m)
	if err != nil {
		return nil, err
	}
	var pred mat.Matrix
	err = errors.SafeExecute("annotate.Predict", func() (err error) {
		pred, err = fm.classifier.Predict(X)
		return err
	})
	if err != nil {
		return nil, err
	}
	labels, err := fm.decode(pred)
	if err != nil {
		return nil, err
	}
	telemetry.CountSamples(telemetry.StagePredict, len(labels))
	log.GetLoggerWithName("annotate").Info("labels predicted",
		log.OperationKey, log.OperationPredict,
		log.ModelIDKey, fm.ID,
		log.SamplesKey, len(labels),
	)
	return labels, nil
}

func (fm *FittedModel) decode(pred mat.Matrix) ([]string, error) {
	n, _ := pred.Dims()
	out := make([]string, n)
	for i := 0; i < n; i++ {
		k := int(pred.At(i, 0))
		if k < 0 || k >= len(fm.Classes) {
			return nil, errors.NewModelError("annotate.Predict", "class index out of range", nil)
		}
		out[i] = fm.Classes[k]
	}
	return out, nil
}

// PredictProba returns labels and the full probability matrix. The label of
// each sample is the class with the highest probability. Models without
// probability output fail with ProbabilityUnsupportedError.
func PredictProba(fm *FittedModel, m *anndata.AnnotatedMatrix) (*PredictionResult, error) {
	defer telemetry.ObserveStage(telemetry.StagePredict)()
	X, err := fm.align(m)
	if err != nil {
		return nil, err
	}
	var proba mat.Matrix
	err = errors.SafeExecute("annotate.PredictProba", func() (err error) {
		proba, err = fm.classifier.PredictProba(X)
		return err
	})
	if err != nil {
		return nil, err
	}
	n, c := proba.Dims()
	if c != len(fm.Classes) {
		return nil, errors.NewDimensionError("annotate.PredictProba", len(fm.Classes), c, 1)
	}
	P := mat.DenseCopyOf(proba)
	if err := errors.CheckMatrix("annotate.PredictProba", P, n, c, 0); err != nil {
		return nil, err
	}

	labels := make([]string, n)
	for i := 0; i < n; i++ {
		row := P.RawRowView(i)
		best := 0
		for j := 1; j < c; j++ {
			if row[j] > row[best] {
				best = j
			}
		}
		labels[i] = fm.Classes[best]
	}
	telemetry.CountSamples(telemetry.StagePredict, n)
	log.GetLoggerWithName("annotate").Info("probabilities predicted",
		log.OperationKey, log.OperationPredictProb,
		log.ModelIDKey, fm.ID,
		log.SamplesKey, n,
		log.ClassesKey, c,
	)
	return &PredictionResult{
		SampleNames: m.ObsNames(),
		Labels:      labels,
		Classes:     append([]string(nil), fm.Classes...),
		Proba:       P,
	}, nil
}

// AdataPredict returns m with the predicted labels in a new obs column.
// The column must not exist in m yet.
func AdataPredict(fm *FittedModel, m *anndata.AnnotatedMatrix, opts ...PredictOption) (*anndata.AnnotatedMatrix, error) {
	o := newPredictOptions(opts)
	if err := requireFreeColumns("AdataPredict", m, []string{o.column}, nil); err != nil {
		return nil, err
	}
	labels, err := Predict(fm, m)
	if err != nil {
		return nil, err
	}
	return m.WithObs(o.column, labels)
}

// AdataPredProb returns m with the predicted labels in obs column <col>,
// the winning probability in <col>_score and the probability table in obsm
// <col>_proba with one column per class. None of these may exist in m yet.
func AdataPredProb(fm *FittedModel, m *anndata.AnnotatedMatrix, opts ...PredictOption) (*anndata.AnnotatedMatrix, error) {
	o := newPredictOptions(opts)
	err := requireFreeColumns("AdataPredProb", m,
		[]string{o.column, o.column + "_score"}, []string{o.column + "_proba"})
	if err != nil {
		return nil, err
	}
	res, err := PredictProba(fm, m)
	if err != nil {
		return nil, err
	}
	out, err := m.WithObs(o.column, res.Labels)
	if err != nil {
		return nil, err
	}
	top := res.TopProbabilities()
	scores := make([]string, len(top))
	for i, p := range top {
		scores[i] = formatProb(p)
	}
	if out, err = out.WithObs(o.column+"_score", scores); err != nil {
		return nil, err
	}
	return out.WithObsm(o.column+"_proba", &anndata.Embedding{Columns: res.Classes, Values: res.Proba})
}

// requireFreeColumns keeps caller metadata intact: output columns that
// already exist are rejected instead of overwritten.
func requireFreeColumns(op string, m *anndata.AnnotatedMatrix, obs, obsm []string) error {
	for _, c := range obs {
		if _, ok := m.Obs(c); ok {
			return errors.NewValidationError("column", op+": obs column already exists", c)
		}
	}
	for _, c := range obsm {
		if _, ok := m.Obsm(c); ok {
			return errors.NewValidationError("column", op+": obsm entry already exists", c)
		}
	}
	return nil
}

func formatProb(p float64) string { return strconv.FormatFloat(p, 'g', -1, 64) }
