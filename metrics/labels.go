package metrics

import (
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/mariiabilous/besca/pkg/errors"
)

// ClassMetrics holds the one-vs-rest scores of a single label.
type ClassMetrics struct {
	Label     string  `json:"label" yaml:"label"`
	Precision float64 `json:"precision" yaml:"precision"`
	Recall    float64 `json:"recall" yaml:"recall"`
	F1        float64 `json:"f1" yaml:"f1"`
	Support   int     `json:"support" yaml:"support"`
}

// LabelUnion returns the sorted union of the given label lists.
func LabelUnion(lists ...[]string) []string {
	seen := map[string]bool{}
	for _, l := range lists {
		for _, v := range l {
			seen[v] = true
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// ConfusionMatrix counts truth (rows) against predictions (columns) in the
// order of labels. Every label in truth and pred must appear in labels.
func ConfusionMatrix(truth, pred, labels []string) (*mat.Dense, error) {
	if len(truth) != len(pred) {
		return nil, errors.NewDimensionError("ConfusionMatrix", len(truth), len(pred), 0)
	}
	if len(labels) == 0 {
		return nil, errors.NewValueError("ConfusionMatrix", "no labels")
	}
	pos := make(map[string]int, len(labels))
	for i, l := range labels {
		pos[l] = i
	}
	cm := mat.NewDense(len(labels), len(labels), nil)
	for i := range truth {
		t, ok := pos[truth[i]]
		if !ok {
			return nil, errors.NewValidationError("truth", "label not in label list", truth[i])
		}
		p, ok := pos[pred[i]]
		if !ok {
			return nil, errors.NewValidationError("pred", "label not in label list", pred[i])
		}
		cm.Set(t, p, cm.At(t, p)+1)
	}
	return cm, nil
}

// PerClass derives precision, recall and F1 for every label from a
// confusion matrix built over labels. Undefined ratios are reported as 0
// with an UndefinedMetricWarning.
func PerClass(cm mat.Matrix, labels []string) []ClassMetrics {
	k := len(labels)
	out := make([]ClassMetrics, k)
	for i := 0; i < k; i++ {
		tp := cm.At(i, i)
		var predicted, actual float64
		for j := 0; j < k; j++ {
			predicted += cm.At(j, i)
			actual += cm.At(i, j)
		}
		m := ClassMetrics{Label: labels[i], Support: int(actual)}
		if predicted > 0 {
			m.Precision = errors.SafeDivide(tp, predicted)
		} else if actual > 0 {
			errors.Warn(errors.NewUndefinedMetricWarning("precision",
				"no predicted samples for label "+labels[i], 0))
		}
		if actual > 0 {
			m.Recall = errors.SafeDivide(tp, actual)
		} else if predicted > 0 {
			errors.Warn(errors.NewUndefinedMetricWarning("recall",
				"no true samples for label "+labels[i], 0))
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		out[i] = m
	}
	return out
}

// Average holds macro and support-weighted means of the per-class scores.
type Average struct {
	Precision float64 `json:"precision" yaml:"precision"`
	Recall    float64 `json:"recall" yaml:"recall"`
	F1        float64 `json:"f1" yaml:"f1"`
}

// MacroAverage is the unweighted mean over labels.
func MacroAverage(cs []ClassMetrics) Average {
	var a Average
	if len(cs) == 0 {
		return a
	}
	for _, c := range cs {
		a.Precision += c.Precision
		a.Recall += c.Recall
		a.F1 += c.F1
	}
	n := float64(len(cs))
	return Average{a.Precision / n, a.Recall / n, a.F1 / n}
}

// WeightedAverage weights each label by its support.
func WeightedAverage(cs []ClassMetrics) Average {
	var a Average
	total := 0
	for _, c := range cs {
		w := float64(c.Support)
		a.Precision += w * c.Precision
		a.Recall += w * c.Recall
		a.F1 += w * c.F1
		total += c.Support
	}
	if total == 0 {
		return Average{}
	}
	t := float64(total)
	return Average{a.Precision / t, a.Recall / t, a.F1 / t}
}
