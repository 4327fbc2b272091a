// Package report summarizes annotation results: label distribution and
// confidence always, classification metrics when ground truth is known.
package report

import (
	"fmt"
	"sort"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"

	"github.com/mariiabilous/besca/anndata"
	"github.com/mariiabilous/besca/annotate"
	"github.com/mariiabilous/besca/metrics"
	"github.com/mariiabilous/besca/pkg/errors"
	"github.com/mariiabilous/besca/pkg/log"
	"github.com/mariiabilous/besca/pkg/telemetry"
)

// LabelCount is the number of samples predicted as Label.
type LabelCount struct {
	Label    string  `json:"label" yaml:"label"`
	Count    int     `json:"count" yaml:"count"`
	Fraction float64 `json:"fraction" yaml:"fraction"`
}

// ProbabilitySummary describes the winning-class probabilities.
type ProbabilitySummary struct {
	Mean   float64 `json:"mean" yaml:"mean"`
	Median float64 `json:"median" yaml:"median"`
	StdDev float64 `json:"std_dev" yaml:"std_dev"`
	Min    float64 `json:"min" yaml:"min"`
	Q25    float64 `json:"q25" yaml:"q25"`
}

// ClassRow extends the per-class metrics with the one-vs-rest AUC, present
// when probabilities for the label were predicted.
type ClassRow struct {
	metrics.ClassMetrics `yaml:",inline"`
	AUC                  *float64 `json:"auc,omitempty" yaml:"auc,omitempty"`
}

// Evaluation compares predictions against ground truth. Labels is the
// sorted union of vocabulary, truth and predicted labels; absent classes
// carry zero support.
type Evaluation struct {
	Accuracy  float64         `json:"accuracy" yaml:"accuracy"`
	Macro     metrics.Average `json:"macro_avg" yaml:"macro_avg"`
	Weighted  metrics.Average `json:"weighted_avg" yaml:"weighted_avg"`
	PerClass  []ClassRow      `json:"per_class" yaml:"per_class"`
	Labels    []string        `json:"labels" yaml:"labels"`
	Confusion [][]int         `json:"confusion" yaml:"confusion"`
	LogLoss   *float64        `json:"log_loss,omitempty" yaml:"log_loss,omitempty"`
}

// Report is derived from a prediction and optional ground truth.
type Report struct {
	Samples        int                 `json:"samples" yaml:"samples"`
	Vocabulary     []string            `json:"vocabulary" yaml:"vocabulary"`
	LabelCounts    []LabelCount        `json:"label_counts" yaml:"label_counts"`
	TopProbability *ProbabilitySummary `json:"top_probability,omitempty" yaml:"top_probability,omitempty"`
	Evaluation     *Evaluation         `json:"evaluation,omitempty" yaml:"evaluation,omitempty"`
}

// New builds a report for res. truth may be nil; otherwise it must hold one
// label per prediction.
func New(res *annotate.PredictionResult, truth []string) (*Report, error) {
	defer telemetry.ObserveStage(telemetry.StageReport)()
	if res == nil {
		return nil, errors.NewValidationError("predictions", "must not be nil", nil)
	}
	n := len(res.Labels)
	if n == 0 {
		return nil, errors.NewValueError("report.New", "no predictions")
	}
	if truth != nil && len(truth) != n {
		return nil, errors.NewDimensionError("report.New", n, len(truth), 0)
	}
	if res.Proba != nil {
		r, c := res.Proba.Dims()
		if r != n {
			return nil, errors.NewDimensionError("report.New", n, r, 0)
		}
		if c != len(res.Classes) {
			return nil, errors.NewDimensionError("report.New", len(res.Classes), c, 1)
		}
	}

	telemetry.CountSamples(telemetry.StageReport, n)

	vocab := res.Classes
	if len(vocab) == 0 {
		vocab = metrics.LabelUnion(res.Labels)
	}
	rep := &Report{
		Samples:     n,
		Vocabulary:  append([]string(nil), vocab...),
		LabelCounts: countLabels(res.Labels, vocab),
	}

	if top := res.TopProbabilities(); top != nil {
		summary, err := summarize(top)
		if err != nil {
			return nil, err
		}
		rep.TopProbability = summary
	}

	if truth != nil {
		ev, err := evaluate(res, truth, vocab)
		if err != nil {
			return nil, err
		}
		rep.Evaluation = ev
	}

	fields := []any{log.OperationKey, log.OperationReport, log.SamplesKey, n, log.ClassesKey, len(vocab)}
	if rep.Evaluation != nil {
		fields = append(fields, log.AccuracyKey, rep.Evaluation.Accuracy)
	}
	log.GetLoggerWithName("report").Info("report built", fields...)
	return rep, nil
}

// FromAdata builds a report from labels stored by annotate.AdataPredict or
// AdataPredProb. Probabilities are read from obsm "<predCol>_proba" when
// present. An empty truthCol means no ground truth.
func FromAdata(m *anndata.AnnotatedMatrix, predCol, truthCol string) (*Report, error) {
	if m == nil {
		return nil, errors.NewValidationError("matrix", "must not be nil", nil)
	}
	pred, ok := m.Obs(predCol)
	if !ok {
		return nil, errors.NewValidationError("prediction_column", "column not found", predCol)
	}
	res := &annotate.PredictionResult{SampleNames: m.ObsNames(), Labels: pred}
	if emb, ok := m.Obsm(predCol + "_proba"); ok {
		res.Classes = append([]string(nil), emb.Columns...)
		res.Proba = mat.DenseCopyOf(emb.Values)
	}

	var truth []string
	if truthCol != "" {
		if truth, ok = m.Obs(truthCol); !ok {
			return nil, errors.NewValidationError("truth_column", "column not found", truthCol)
		}
	}
	return New(res, truth)
}

func countLabels(labels, vocab []string) []LabelCount {
	counts := map[string]int{}
	for _, l := range vocab {
		counts[l] = 0
	}
	for _, l := range labels {
		counts[l]++
	}
	out := make([]LabelCount, 0, len(counts))
	for l, c := range counts {
		out = append(out, LabelCount{Label: l, Count: c, Fraction: float64(c) / float64(len(labels))})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}

func summarize(top []float64) (*ProbabilitySummary, error) {
	var s ProbabilitySummary
	var err error
	if s.Mean, err = stats.Mean(top); err != nil {
		return nil, errors.Wrap(err, "mean top probability")
	}
	if s.Median, err = stats.Median(top); err != nil {
		return nil, errors.Wrap(err, "median top probability")
	}
	if s.StdDev, err = stats.StandardDeviation(top); err != nil {
		return nil, errors.Wrap(err, "std top probability")
	}
	if s.Min, err = stats.Min(top); err != nil {
		return nil, errors.Wrap(err, "min top probability")
	}
	// stats.Percentile rejects a rank below the first value, so small
	// samples report the minimum.
	s.Q25 = s.Min
	if len(top) >= 4 {
		if s.Q25, err = stats.Percentile(top, 25); err != nil {
			return nil, errors.Wrap(err, "q25 top probability")
		}
	}
	return &s, nil
}

func evaluate(res *annotate.PredictionResult, truth, vocab []string) (*Evaluation, error) {
	labels := metrics.LabelUnion(vocab, truth, res.Labels)
	cm, err := metrics.ConfusionMatrix(truth, res.Labels, labels)
	if err != nil {
		return nil, err
	}
	per := metrics.PerClass(cm, labels)

	acc, err := metrics.Accuracy(truth, res.Labels)
	if err != nil {
		return nil, err
	}
	ev := &Evaluation{
		Accuracy:  acc,
		Macro:     metrics.MacroAverage(per),
		Weighted:  metrics.WeightedAverage(per),
		Labels:    labels,
		Confusion: make([][]int, len(labels)),
		PerClass:  make([]ClassRow, len(per)),
	}
	for i := range labels {
		ev.Confusion[i] = make([]int, len(labels))
		for j := range labels {
			ev.Confusion[i][j] = int(cm.At(i, j))
		}
	}

	col := map[string]int{}
	for j, c := range res.Classes {
		col[c] = j
	}
	for i, c := range per {
		ev.PerClass[i] = ClassRow{ClassMetrics: c}
		j, ok := col[c.Label]
		if res.Proba == nil || !ok {
			continue
		}
		auc, err := metrics.OneVsRestAUC(truth, c.Label, mat.Col(nil, j, res.Proba))
		if err != nil {
			return nil, err
		}
		ev.PerClass[i].AUC = &auc
	}

	if res.Proba != nil {
		idx := make([]int, len(truth))
		known := true
		for s, t := range truth {
			j, ok := col[t]
			if !ok {
				known = false
				break
			}
			idx[s] = j
		}
		if known {
			ll, err := metrics.LogLoss(idx, res.Proba)
			if err != nil {
				return nil, err
			}
			ev.LogLoss = &ll
		} else {
			errors.Warn(errors.NewUndefinedMetricWarning("log_loss",
				"ground truth contains labels outside the model vocabulary", 0))
		}
	}
	return ev, nil
}

// String renders the report as a plain text table.
func (r *Report) String() string {
	var b tableBuilder
	b.line("samples\t%d", r.Samples)
	if r.TopProbability != nil {
		b.line("top probability\tmean %.3f\tmedian %.3f", r.TopProbability.Mean, r.TopProbability.Median)
	}
	b.line("")
	b.line("label\tcount\tfraction")
	for _, c := range r.LabelCounts {
		b.line("%s\t%d\t%.3f", c.Label, c.Count, c.Fraction)
	}
	if ev := r.Evaluation; ev != nil {
		b.line("")
		b.line("accuracy\t%.4f", ev.Accuracy)
		if ev.LogLoss != nil {
			b.line("log loss\t%.4f", *ev.LogLoss)
		}
		b.line("")
		b.line("label\tprecision\trecall\tf1\tsupport")
		for _, c := range ev.PerClass {
			b.line("%s\t%.3f\t%.3f\t%.3f\t%d", c.Label, c.Precision, c.Recall, c.F1, c.Support)
		}
		b.line("macro avg\t%.3f\t%.3f\t%.3f\t%d", ev.Macro.Precision, ev.Macro.Recall, ev.Macro.F1, r.Samples)
		b.line("weighted avg\t%.3f\t%.3f\t%.3f\t%d", ev.Weighted.Precision, ev.Weighted.Recall, ev.Weighted.F1, r.Samples)
	}
	return b.String()
}

// Accuracy returns the accuracy, or an error when no truth was given.
func (r *Report) Accuracy() (float64, error) {
	if r.Evaluation == nil {
		return 0, errors.NewValueError("Report.Accuracy", fmt.Sprintf("report over %d samples has no ground truth", r.Samples))
	}
	return r.Evaluation.Accuracy, nil
}
