package preprocessing

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/mariiabilous/besca/pkg/errors"
)

// DefaultTargetSum is the per-sample total counts are scaled to.
const DefaultTargetSum = 1e4

// NormalizeTotal scales every row of counts so that it sums to targetSum.
// Rows summing to zero are left as zeros. Counts must be finite and
// non-negative.
func NormalizeTotal(counts mat.Matrix, targetSum float64) (*mat.Dense, error) {
	if targetSum <= 0 {
		return nil, errors.NewValidationError("target_sum", "must be positive", targetSum)
	}
	out := mat.DenseCopyOf(counts)
	r, _ := out.Dims()
	for i := 0; i < r; i++ {
		row := out.RawRowView(i)
		for j, v := range row {
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, errors.NewMalformedInputErrorf("", "invalid count %v at row %d, column %d", v, i, j)
			}
		}
		total := floats.Sum(row)
		if total == 0 {
			continue
		}
		floats.Scale(targetSum/total, row)
	}
	return out, nil
}

// Log1p returns log(1+x) elementwise.
func Log1p(X mat.Matrix) *mat.Dense {
	var out mat.Dense
	out.Apply(func(_, _ int, v float64) float64 { return math.Log1p(v) }, X)
	return &out
}
