package model

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/mariiabilous/besca/pkg/errors"
)

// EncodeClasses validates a target column and maps its integer labels to
// positions in the sorted class list.
//
//	classes, yIdx, err := model.EncodeClasses(y)
//	// classes = [0 2 5], yIdx[i] in [0, 3)
func EncodeClasses(op string, X, y mat.Matrix) (classes []int, yIdx []int, err error) {
	nSamples, nFeatures := X.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return nil, nil, errors.NewModelError(op, "empty data", errors.ErrEmptyData)
	}
	yRows, yCols := y.Dims()
	if yRows != nSamples {
		return nil, nil, errors.NewDimensionError(op, nSamples, yRows, 0)
	}
	if yCols != 1 {
		return nil, nil, errors.NewDimensionError(op, 1, yCols, 1)
	}

	seen := map[int]bool{}
	raw := make([]int, nSamples)
	for i := 0; i < nSamples; i++ {
		v := y.At(i, 0)
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
			return nil, nil, errors.NewValidationError("y", "class labels must be integers", v)
		}
		raw[i] = int(v)
		seen[raw[i]] = true
	}
	if len(seen) < 2 {
		return nil, nil, errors.NewValueError(op, "at least two classes are required")
	}

	classes = make([]int, 0, len(seen))
	for c := range seen {
		classes = append(classes, c)
	}
	sort.Ints(classes)
	pos := make(map[int]int, len(classes))
	for i, c := range classes {
		pos[c] = i
	}
	yIdx = make([]int, nSamples)
	for i, c := range raw {
		yIdx[i] = pos[c]
	}
	return classes, yIdx, nil
}

// ArgmaxRows returns, for every row of scores, the class label at the
// column with the largest value, as an (n, 1) matrix.
func ArgmaxRows(scores mat.Matrix, classes []int) *mat.Dense {
	r, c := scores.Dims()
	out := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		best := 0
		for j := 1; j < c; j++ {
			if scores.At(i, j) > scores.At(i, best) {
				best = j
			}
		}
		out.Set(i, 0, float64(classes[best]))
	}
	return out
}

// MarginLabels maps one-vs-rest margins to labels. A single column is the
// binary margin of classes[1]; several columns pick the largest score.
func MarginLabels(scores mat.Matrix, classes []int) *mat.Dense {
	r, c := scores.Dims()
	if c > 1 {
		return ArgmaxRows(scores, classes)
	}
	out := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		label := classes[0]
		if scores.At(i, 0) > 0 {
			label = classes[1]
		}
		out.Set(i, 0, float64(label))
	}
	return out
}
