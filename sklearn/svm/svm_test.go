package svm

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/mariiabilous/besca/pkg/errors"
)

// blobs draws n points around each centre with the given spread and labels
// them with the centre's position in labels.
func blobs(centres [][]float64, labels []int, n int, spread float64, seed int64) (*mat.Dense, *mat.Dense) {
	rng := rand.New(rand.NewSource(seed))
	p := len(centres[0])
	X := mat.NewDense(n*len(centres), p, nil)
	y := mat.NewDense(n*len(centres), 1, nil)
	for c, centre := range centres {
		for i := 0; i < n; i++ {
			row := c*n + i
			for j := 0; j < p; j++ {
				X.Set(row, j, centre[j]+spread*(rng.Float64()-0.5))
			}
			y.Set(row, 0, float64(labels[c]))
		}
	}
	return X, y
}

func accuracy(t *testing.T, pred mat.Matrix, y mat.Matrix) float64 {
	t.Helper()
	n, _ := y.Dims()
	correct := 0
	for i := 0; i < n; i++ {
		if pred.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(n)
}

func TestLinearSVCBinary(t *testing.T) {
	X, y := blobs([][]float64{{-2, -2}, {2, 2}}, []int{4, 8}, 20, 1, 1)

	for _, loss := range []string{"squared_hinge", "hinge"} {
		t.Run(loss, func(t *testing.T) {
			svc := NewLinearSVC(WithLoss(loss), WithRandomState(3))
			require.NoError(t, svc.Fit(X, y))
			assert.Equal(t, []int{4, 8}, svc.Classes())

			pred, err := svc.Predict(X)
			require.NoError(t, err)
			assert.Equal(t, 1.0, accuracy(t, pred, y))

			scores, err := svc.DecisionFunction(mat.NewDense(2, 2, []float64{-3, -3, 3, 3}))
			require.NoError(t, err)
			_, c := scores.Dims()
			assert.Equal(t, 1, c)
			assert.Less(t, scores.At(0, 0), 0.0)
			assert.Greater(t, scores.At(1, 0), 0.0)
		})
	}
}

func TestLinearSVCMulticlass(t *testing.T) {
	X, y := blobs([][]float64{{0, 6}, {6, 0}, {-6, -6}}, []int{0, 1, 2}, 15, 1, 2)
	svc := NewLinearSVC()
	require.NoError(t, svc.Fit(X, y))
	assert.Len(t, svc.Coef(), 3)

	pred, err := svc.Predict(X)
	require.NoError(t, err)
	assert.Equal(t, 1.0, accuracy(t, pred, y))
}

func TestLinearSVCValidation(t *testing.T) {
	X, y := blobs([][]float64{{-1}, {1}}, []int{0, 1}, 3, 0.1, 3)

	tests := []struct {
		name string
		svc  *LinearSVC
	}{
		{"negative C", NewLinearSVC(WithC(-1))},
		{"unknown loss", NewLinearSVC(WithLoss("log"))},
		{"zero max_iter", NewLinearSVC(WithMaxIter(0))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.svc.Fit(X, y)
			var ve *errors.ValidationError
			assert.True(t, errors.As(err, &ve), "got %v", err)
		})
	}

	single := mat.NewDense(6, 1, []float64{1, 1, 1, 1, 1, 1})
	assert.Error(t, NewLinearSVC().Fit(X, single))

	_, err := NewLinearSVC().Predict(X)
	var nf *errors.NotFittedError
	assert.True(t, errors.As(err, &nf))
}

func TestLinearSVCFeatureMismatch(t *testing.T) {
	X, y := blobs([][]float64{{-1, 0}, {1, 0}}, []int{0, 1}, 4, 0.1, 4)
	svc := NewLinearSVC()
	require.NoError(t, svc.Fit(X, y))
	_, err := svc.Predict(mat.NewDense(1, 3, nil))
	var de *errors.DimensionError
	assert.True(t, errors.As(err, &de))
}

func TestLinearSVCNoProbabilities(t *testing.T) {
	X, y := blobs([][]float64{{-1}, {1}}, []int{0, 1}, 4, 0.1, 5)
	svc := NewLinearSVC()
	require.NoError(t, svc.Fit(X, y))
	_, err := svc.PredictProba(X)
	var pu *errors.ProbabilityUnsupportedError
	require.True(t, errors.As(err, &pu))
	assert.Equal(t, "LinearSVC", pu.ModelName)
}

func TestLinearSVCMarshalBinary(t *testing.T) {
	X, y := blobs([][]float64{{0, 4}, {4, 0}, {-4, -4}}, []int{1, 2, 3}, 8, 1, 6)
	svc := NewLinearSVC(WithC(0.5))
	require.NoError(t, svc.Fit(X, y))

	data, err := svc.MarshalBinary()
	require.NoError(t, err)
	restored := NewLinearSVC()
	require.NoError(t, restored.UnmarshalBinary(data))

	want, err := svc.DecisionFunction(X)
	require.NoError(t, err)
	got, err := restored.DecisionFunction(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(want, got))
	assert.Equal(t, 0.5, restored.GetParams()["C"])
}

func TestKernelSVCSolvesXOR(t *testing.T) {
	X, y := blobs([][]float64{{-1, -1}, {1, 1}, {-1, 1}, {1, -1}}, []int{0, 0, 1, 1}, 10, 0.4, 7)

	svc := NewKernelSVC(WithKernelC(10), WithGamma(1))
	require.NoError(t, svc.Fit(X, y))
	pred, err := svc.Predict(X)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, accuracy(t, pred, y), 0.95)
	assert.Greater(t, svc.NSupport(), 0)

	// 線形モデルでは XOR は分離できない
	lin := NewLinearSVC()
	require.NoError(t, lin.Fit(X, y))
	linPred, err := lin.Predict(X)
	require.NoError(t, err)
	assert.Less(t, accuracy(t, linPred, y), 0.9)
}

func TestKernelSVCBatchScoringMatchesSingleRows(t *testing.T) {
	X, y := blobs([][]float64{{0, 3}, {3, 0}, {-3, -3}}, []int{5, 6, 7}, 8, 1, 12)
	svc := NewKernelSVC(WithGamma(0.5))
	require.NoError(t, svc.Fit(X, y))

	// 大きいバッチは並列経路を通る
	batch, _ := blobs([][]float64{{0, 3}, {3, 0}, {-3, -3}, {40, 40}}, []int{0, 1, 2, 3}, 2*minParallelRows, 2, 13)
	n, _ := batch.Dims()
	all, err := svc.DecisionFunction(batch)
	require.NoError(t, err)
	for _, i := range []int{0, n / 2, n - 1} {
		one, err := svc.DecisionFunction(batch.Slice(i, i+1, 0, 2))
		require.NoError(t, err)
		assert.InDeltaSlice(t, one.RawRowView(0), all.RawRowView(i), 1e-12)
	}
	for i := 0; i < n; i++ {
		for _, v := range all.RawRowView(i) {
			assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "row %d", i)
		}
	}
}

func TestKernelSVCMulticlass(t *testing.T) {
	X, y := blobs([][]float64{{0, 3}, {3, 0}, {-3, -3}}, []int{5, 6, 7}, 10, 1, 8)
	svc := NewKernelSVC()
	require.NoError(t, svc.Fit(X, y))

	scores, err := svc.DecisionFunction(X)
	require.NoError(t, err)
	_, c := scores.Dims()
	assert.Equal(t, 3, c)

	pred, err := svc.Predict(X)
	require.NoError(t, err)
	assert.Equal(t, 1.0, accuracy(t, pred, y))
}

func TestKernelSVCGamma(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{0, 0, 0, 2, 2, 0, 2, 2})
	y := mat.NewDense(4, 1, []float64{0, 0, 1, 1})

	scale := NewKernelSVC()
	require.NoError(t, scale.Fit(X, y))
	// Var(X) = 1 over all entries, two features.
	assert.InDelta(t, 0.5, scale.Gamma(), 1e-12)

	auto := NewKernelSVC(WithGammaMode("auto"))
	require.NoError(t, auto.Fit(X, y))
	assert.InDelta(t, 0.5, auto.Gamma(), 1e-12)

	constant := NewKernelSVC()
	require.NoError(t, constant.Fit(mat.NewDense(4, 1, []float64{1, 1, 1, 1}), y))
	assert.Equal(t, 1.0, constant.Gamma())

	var ve *errors.ValidationError
	assert.True(t, errors.As(NewKernelSVC(WithGamma(-1)).Fit(X, y), &ve))
	assert.True(t, errors.As(NewKernelSVC(WithGammaMode("wide")).Fit(X, y), &ve))
}

func TestKernelSVCMarshalBinary(t *testing.T) {
	X, y := blobs([][]float64{{-1, -1}, {1, 1}}, []int{0, 1}, 6, 0.5, 9)
	svc := NewKernelSVC(WithGamma(0.7))
	require.NoError(t, svc.Fit(X, y))

	data, err := svc.MarshalBinary()
	require.NoError(t, err)
	restored := NewKernelSVC()
	require.NoError(t, restored.UnmarshalBinary(data))

	want, err := svc.DecisionFunction(X)
	require.NoError(t, err)
	got, err := restored.DecisionFunction(X)
	require.NoError(t, err)
	r, _ := want.Dims()
	for i := 0; i < r; i++ {
		assert.False(t, math.IsNaN(got.At(i, 0)))
		assert.InDelta(t, want.At(i, 0), got.At(i, 0), 1e-12)
	}
	assert.Equal(t, 0.7, restored.GetParams()["gamma"])

	_, err = NewKernelSVC().DecisionFunction(X)
	var nf *errors.NotFittedError
	assert.True(t, errors.As(err, &nf))
}

func TestKernelSVCConvergenceWarning(t *testing.T) {
	var warnings []error
	errors.SetWarningHandler(func(w error) { warnings = append(warnings, w) })
	defer errors.SetWarningHandler(nil)

	X, y := blobs([][]float64{{-1, -1}, {1, 1}, {-1, 1}, {1, -1}}, []int{0, 0, 1, 1}, 10, 0.4, 10)
	svc := NewKernelSVC(WithKernelC(100), WithGamma(1), WithKernelMaxIter(1))
	require.NoError(t, svc.Fit(X, y))

	require.NotEmpty(t, warnings)
	var cw *errors.ConvergenceWarning
	assert.True(t, errors.As(warnings[0], &cw))
}
