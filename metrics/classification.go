// Package metrics computes classification quality measures for annotation
// results: accuracy, one-vs-rest AUC, log loss and per-class
// precision/recall/F1 over string labels.
package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/mariiabilous/besca/pkg/errors"
)

// Accuracy は文字列ラベルの正解率を計算する
func Accuracy(truth, pred []string) (float64, error) {
	if len(truth) == 0 {
		return 0, errors.NewValueError("Accuracy", "empty input")
	}
	if len(pred) != len(truth) {
		return 0, errors.NewDimensionError("Accuracy", len(truth), len(pred), 0)
	}
	correct := 0
	for i := range truth {
		if truth[i] == pred[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(truth)), nil
}

// AUC は二値ラベルとスコアからROC曲線下面積を計算する。
// 同順位は平均順位で扱う。正例または負例しかない場合は 0.5 を返す。
func AUC(yTrue, yScore *mat.VecDense) (float64, error) {
	n, err := checkPair("AUC", yTrue, yScore)
	if err != nil {
		return 0, err
	}
	labels := make([]float64, n)
	scores := make([]float64, n)
	for i := 0; i < n; i++ {
		labels[i], scores[i] = yTrue.AtVec(i), yScore.AtVec(i)
		if labels[i] != 0 && labels[i] != 1 {
			return 0, errors.NewValidationError("yTrue", "labels must be 0 or 1", labels[i])
		}
	}
	return rankAUC(labels, scores), nil
}

// OneVsRestAUC は label を正例、それ以外を負例として AUC を計算する。
// scores[i] は truth[i] が label である確率。
func OneVsRestAUC(truth []string, label string, scores []float64) (float64, error) {
	if len(truth) == 0 {
		return 0, errors.NewValueError("OneVsRestAUC", "empty input")
	}
	if len(scores) != len(truth) {
		return 0, errors.NewDimensionError("OneVsRestAUC", len(truth), len(scores), 0)
	}
	pos := make([]float64, len(truth))
	for i, t := range truth {
		if t == label {
			pos[i] = 1
		}
	}
	return rankAUC(pos, scores), nil
}

func rankAUC(labels, scores []float64) float64 {
	n := len(labels)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] < scores[idx[b]] })

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && scores[idx[j+1]] == scores[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}
		i = j + 1
	}

	var nPos, nNeg, rankSum float64
	for i, l := range labels {
		if l == 1 {
			nPos++
			rankSum += ranks[i]
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		return 0.5
	}
	return (rankSum - nPos*(nPos+1)/2) / (nPos * nNeg)
}

const logLossEps = 1e-15

// LogLoss は多クラスの交差エントロピーを計算する。truth[i] は proba の列番号。
func LogLoss(truth []int, proba mat.Matrix) (float64, error) {
	r, c := proba.Dims()
	if len(truth) == 0 {
		return 0, errors.NewValueError("LogLoss", "empty input")
	}
	if r != len(truth) {
		return 0, errors.NewDimensionError("LogLoss", len(truth), r, 0)
	}
	sum := 0.0
	for i, k := range truth {
		if k < 0 || k >= c {
			return 0, errors.NewValidationError("truth", "class index out of range", k)
		}
		sum -= math.Log(clip(proba.At(i, k)))
	}
	return sum / float64(r), nil
}

func clip(p float64) float64 {
	return math.Max(logLossEps, math.Min(1-logLossEps, p))
}

func checkPair(op string, a, b *mat.VecDense) (int, error) {
	if a == nil || b == nil || a.Len() == 0 {
		return 0, errors.NewValueError(op, "empty vector")
	}
	if b.Len() != a.Len() {
		return 0, errors.NewDimensionError(op, a.Len(), b.Len(), 0)
	}
	return a.Len(), nil
}
