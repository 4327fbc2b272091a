package merge

import (
	"math/rand"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/mariiabilous/besca/anndata"
	"github.com/mariiabilous/besca/pkg/errors"
)

func dataset(t *testing.T, prefix string, X *mat.Dense, genes []string) *anndata.AnnotatedMatrix {
	t.Helper()
	r, _ := X.Dims()
	names := make([]string, r)
	for i := range names {
		names[i] = prefix + strconv.Itoa(i)
	}
	m, err := anndata.New(X, names, genes)
	require.NoError(t, err)
	return m
}

// twoClusters returns n cells per cluster in five genes; cluster 0 is
// dominated by the first gene, cluster 1 by the second.
func twoClusters(n int, offset float64, seed int64) *mat.Dense {
	rng := rand.New(rand.NewSource(seed))
	X := mat.NewDense(2*n, 5, nil)
	for i := 0; i < 2*n; i++ {
		row := X.RawRowView(i)
		row[i/n] = 10
		for j := range row {
			row[j] += offset + 0.3*rng.Float64()
		}
	}
	return X
}

func centroid(X mat.Matrix) []float64 {
	r, c := X.Dims()
	out := make([]float64, c)
	for i := 0; i < r; i++ {
		floats.Add(out, mat.Row(nil, i, X))
	}
	floats.Scale(1/float64(r), out)
	return out
}

func TestNaiveMerge(t *testing.T) {
	a := dataset(t, "c", mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6}), []string{"g1", "g2", "g3"})
	b := dataset(t, "c", mat.NewDense(3, 3, []float64{7, 8, 9, 10, 11, 12, 13, 14, 15}), []string{"g3", "g2", "g4"})

	a, err := a.WithObs("celltype", []string{"T", "B"})
	require.NoError(t, err)
	b, err = b.WithObs("donor", []string{"d1", "d1", "d2"})
	require.NoError(t, err)

	res, err := NaiveMerge([]*anndata.AnnotatedMatrix{a, b}, WithNames("pbmc", "lung"))
	require.NoError(t, err)

	m := res.Matrix
	assert.Equal(t, 5, m.NObs())
	assert.Equal(t, []string{"g2", "g3"}, m.VarNames())
	assert.Equal(t, StrategyNaive, res.Strategy)
	assert.Equal(t, []string{"pbmc", "lung"}, res.Sources)
	assert.Equal(t, []string{"pbmc", "pbmc", "lung", "lung", "lung"}, res.Batch)

	// c0 and c1 occur in both inputs, c2 only in the second
	assert.Equal(t, []string{"c0-pbmc", "c1-pbmc", "c0-lung", "c1-lung", "c2"}, m.ObsNames())

	// b stores g3 before g2
	assert.Equal(t, []float64{2, 3}, m.Row(0))
	assert.Equal(t, []float64{8, 7}, m.Row(2))

	batch, ok := m.Obs(DefaultBatchKey)
	require.True(t, ok)
	assert.Equal(t, res.Batch, batch)

	celltype, _ := m.Obs("celltype")
	assert.Equal(t, []string{"T", "B", "", "", ""}, celltype)
	donor, _ := m.Obs("donor")
	assert.Equal(t, []string{"", "", "d1", "d1", "d2"}, donor)
}

func TestNaiveMergeFailures(t *testing.T) {
	a := dataset(t, "a", mat.NewDense(1, 2, []float64{1, 2}), []string{"g1", "g2"})
	z := dataset(t, "z", mat.NewDense(1, 2, []float64{1, 2}), []string{"x1", "x2"})

	_, err := NaiveMerge([]*anndata.AnnotatedMatrix{a, z}, WithNames("a", "z"))
	var nsf *errors.NoSharedFeaturesError
	require.True(t, errors.As(err, &nsf))
	assert.Equal(t, []string{"a", "z"}, nsf.Datasets)

	_, err = NaiveMerge(nil)
	assert.Error(t, err)

	_, err = NaiveMerge([]*anndata.AnnotatedMatrix{a, a}, WithNames("same", "same"))
	assert.Error(t, err)

	_, err = NaiveMerge([]*anndata.AnnotatedMatrix{a}, WithNames("a", "b"))
	assert.Error(t, err)
}

func TestMergeDataDispatch(t *testing.T) {
	a := dataset(t, "a", twoClusters(5, 0, 1), []string{"g1", "g2", "g3", "g4", "g5"})
	b := dataset(t, "b", twoClusters(5, 1, 2), []string{"g1", "g2", "g3", "g4", "g5"})

	res, err := MergeData([]*anndata.AnnotatedMatrix{a, b}, StrategyNaive)
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1"}, res.Sources)

	res, err = MergeData([]*anndata.AnnotatedMatrix{a, b}, StrategyScanorama)
	require.NoError(t, err)
	assert.Equal(t, StrategyScanorama, res.Strategy)

	_, err = MergeData([]*anndata.AnnotatedMatrix{a, b}, Strategy("harmony"))
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve))

	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyNaive, s)
	_, err = ParseStrategy("bbknn")
	assert.Error(t, err)
}

func TestScanoramaMergeKeepsOrder(t *testing.T) {
	genes := []string{"g1", "g2", "g3", "g4", "g5"}
	a := dataset(t, "a", twoClusters(15, 0, 1), genes)
	b := dataset(t, "b", twoClusters(15, 2, 2), genes)

	res, err := ScanoramaMerge([]*anndata.AnnotatedMatrix{a, b}, WithNames("ref", "query"), WithBatchKey("study"))
	require.NoError(t, err)

	m := res.Matrix
	assert.Equal(t, a.NObs()+b.NObs(), m.NObs())
	assert.Equal(t, genes, m.VarNames())
	assert.Equal(t, append(a.ObsNames(), b.ObsNames()...), m.ObsNames())
	study, ok := m.Obs("study")
	require.True(t, ok)
	assert.Equal(t, "ref", study[0])
	assert.Equal(t, "query", study[len(study)-1])
}

func TestScanoramaMergeNoSharedPair(t *testing.T) {
	a := dataset(t, "a", mat.NewDense(1, 2, []float64{1, 2}), []string{"g1", "g2"})
	b := dataset(t, "b", mat.NewDense(1, 2, []float64{1, 2}), []string{"g2", "g3"})
	c := dataset(t, "c", mat.NewDense(1, 2, []float64{1, 2}), []string{"g3", "g4"})

	_, err := ScanoramaMerge([]*anndata.AnnotatedMatrix{a, b, c}, WithNames("A", "B", "C"))
	var nsf *errors.NoSharedFeaturesError
	require.True(t, errors.As(err, &nsf))
	assert.Equal(t, []string{"A", "C"}, nsf.Datasets)
}

type failingCorrector struct{}

func (failingCorrector) Correct([]string, []*mat.Dense) ([]*mat.Dense, error) {
	return nil, errors.New("boom")
}

type droppingCorrector struct{}

func (droppingCorrector) Correct(_ []string, xs []*mat.Dense) ([]*mat.Dense, error) {
	return xs[:1], nil
}

func TestScanoramaMergeCorrectorErrors(t *testing.T) {
	genes := []string{"g1", "g2", "g3", "g4", "g5"}
	ms := []*anndata.AnnotatedMatrix{
		dataset(t, "a", twoClusters(3, 0, 1), genes),
		dataset(t, "b", twoClusters(3, 0, 2), genes),
	}

	_, err := ScanoramaMerge(ms, WithCorrector(failingCorrector{}))
	assert.ErrorContains(t, err, "boom")

	_, err = ScanoramaMerge(ms, WithCorrector(droppingCorrector{}))
	assert.Error(t, err)
}

func TestPanoramaCorrectorReducesOffset(t *testing.T) {
	ref := twoClusters(15, 0, 1)
	shifted := twoClusters(15, 1, 2)

	before := floats.Distance(centroid(ref), centroid(shifted), 2)

	p := &PanoramaCorrector{Knn: 5, Sigma: 15, Alpha: 0.1, Dimred: 100}
	out, err := p.Correct([]string{"ref", "shifted"}, []*mat.Dense{ref, shifted})
	require.NoError(t, err)
	require.Len(t, out, 2)

	after := floats.Distance(centroid(out[0]), centroid(out[1]), 2)
	assert.Less(t, after, before/2, "before %.3f after %.3f", before, after)

	r, c := out[1].Dims()
	assert.Equal(t, 30, r)
	assert.Equal(t, 5, c)
	// inputs are not modified
	assert.Equal(t, twoClusters(15, 1, 2), shifted)
}

func TestPanoramaCorrectorEmbedding(t *testing.T) {
	ref := twoClusters(10, 0, 1)
	shifted := twoClusters(10, 1, 2)

	p := &PanoramaCorrector{Knn: 5, Sigma: 15, Alpha: 0.1, Dimred: 2}
	out, err := p.Correct([]string{"a", "b"}, []*mat.Dense{ref, shifted})
	require.NoError(t, err)
	require.Len(t, out, 2)

	after := floats.Distance(centroid(out[0]), centroid(out[1]), 2)
	before := floats.Distance(centroid(ref), centroid(shifted), 2)
	assert.Less(t, after, before)
}

func TestPanoramaCorrectorSingleDataset(t *testing.T) {
	X := twoClusters(4, 0, 1)
	out, err := NewPanoramaCorrector().Correct([]string{"only"}, []*mat.Dense{X})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, mat.Equal(X, out[0]))
}

func TestPanoramaCorrectorWarnsOnUnmatched(t *testing.T) {
	var (
		mu       sync.Mutex
		warnings []error
	)
	errors.SetWarningHandler(func(w error) {
		mu.Lock()
		defer mu.Unlock()
		warnings = append(warnings, w)
	})
	t.Cleanup(func() { errors.SetWarningHandler(func(error) {}) })

	// b only covers the first cluster of a, so at most half of either
	// side can take part in a mutual match
	a := twoClusters(5, 0, 1)
	b := mat.DenseCopyOf(twoClusters(10, 1, 2).Slice(0, 10, 0, 5))
	p := &PanoramaCorrector{Knn: 1, Sigma: 15, Alpha: 0.9, Dimred: 100}
	out, err := p.Correct([]string{"a", "b"}, []*mat.Dense{a, b})
	require.NoError(t, err)
	assert.True(t, mat.Equal(b, out[1]), "unmatched datasets stay as they are")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, warnings, 2)
	var bw *errors.BatchCorrectionWarning
	require.True(t, errors.As(warnings[0], &bw))
	assert.Equal(t, "a", bw.Dataset)
}

func TestPanoramaCorrectorValidate(t *testing.T) {
	X := twoClusters(2, 0, 1)
	for _, p := range []*PanoramaCorrector{
		{Knn: 0, Sigma: 1, Alpha: 0.1, Dimred: 2},
		{Knn: 1, Sigma: 0, Alpha: 0.1, Dimred: 2},
		{Knn: 1, Sigma: 1, Alpha: 1, Dimred: 2},
		{Knn: 1, Sigma: 1, Alpha: 0.1, Dimred: 0},
	} {
		_, err := p.Correct([]string{"a", "b"}, []*mat.Dense{X, X})
		assert.Error(t, err)
	}
}
