package genes

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/mariiabilous/besca/anndata"
	"github.com/mariiabilous/besca/pkg/errors"
	"github.com/mariiabilous/besca/pkg/log"
)

func matrix(t *testing.T, prefix string, genes ...string) *anndata.AnnotatedMatrix {
	t.Helper()
	data := make([]float64, 2*len(genes))
	for i := range data {
		data[i] = float64(i)
	}
	m, err := anndata.New(mat.NewDense(2, len(genes), data), []string{prefix + "1", prefix + "2"}, genes)
	require.NoError(t, err)
	return m
}

func TestIntersectGenes(t *testing.T) {
	a := matrix(t, "a", "g1", "g2", "g3")
	b := matrix(t, "b", "g2", "g3", "g4")

	shared, err := IntersectGenes(a, b)
	require.NoError(t, err)
	assert.Equal(t, GeneSet{"g2", "g3"}, shared)

	// order follows the first matrix
	c := matrix(t, "c", "g3", "g9", "g2")
	shared, err = IntersectGenes(c, a)
	require.NoError(t, err)
	assert.Equal(t, GeneSet{"g3", "g2"}, shared)

	d := matrix(t, "d", "x1")
	shared, err = IntersectGenes(a, d)
	require.NoError(t, err)
	assert.Empty(t, shared)

	_, err = IntersectGenes()
	assert.Error(t, err)
}

func TestRemoveNonshared(t *testing.T) {
	a := matrix(t, "a", "g1", "g2", "g3")
	b := matrix(t, "b", "g2", "g3", "g4")
	c := matrix(t, "c", "g4", "g3", "g2", "g7")

	out, err := RemoveNonshared(a, b, c)
	require.NoError(t, err)
	require.Len(t, out, 3)

	shared, _ := IntersectGenes(a, b, c)
	for _, m := range out {
		assert.Equal(t, []string(shared), m.VarNames())
		assert.Equal(t, len(shared), m.NVars())
	}
	// values follow their gene: b has g2 at column 0, g3 at column 1
	assert.Equal(t, b.Row(1)[:2], out[1].Row(1))
	// c stored g3, g2 at columns 1 and 2
	assert.Equal(t, []float64{c.Row(0)[2], c.Row(0)[1]}, out[2].Row(0))

	_, err = RemoveNonshared(a, matrix(t, "z", "x1", "x2"))
	var nsf *errors.NoSharedFeaturesError
	assert.True(t, errors.As(err, &nsf))
}

func TestRemoveGenes(t *testing.T) {
	a := matrix(t, "a", "g1", "g2", "g3")

	out, err := RemoveGenes(a, []string{"g2", "not-there"})
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "g3"}, out.VarNames())
	assert.Equal(t, 3, a.NVars(), "input untouched")

	same, err := RemoveGenes(a, []string{"absent"})
	require.NoError(t, err)
	assert.Equal(t, a.VarNames(), same.VarNames())

	_, err = RemoveGenes(a, []string{"g1", "g2", "g3"})
	assert.Error(t, err)
}

func TestUnionAndDiff(t *testing.T) {
	a := matrix(t, "a", "g1", "g2", "g3")
	b := matrix(t, "b", "g2", "g3", "g4")

	assert.Equal(t, GeneSet{"g1", "g2", "g3", "g4"}, Union(a, b))
	assert.Equal(t, GeneSet{"g1"}, Diff(a, b))
	assert.Equal(t, GeneSet{"g4"}, Diff(b, a))
	assert.True(t, Union(a, b).Contains("g4"))
}

func TestRemoveNonsharedLogsDroppedGenes(t *testing.T) {
	provider, captured := log.NewTestLoggerProvider(log.LevelDebug)
	log.SetProvider(provider)
	defer log.SetProvider(log.NewZerologProvider(zerolog.Nop()))

	a := matrix(t, "a", "g1", "g2", "g3", "g5")
	b := matrix(t, "b", "g2", "g3", "g4")
	_, err := RemoveNonshared(a, b)
	require.NoError(t, err)

	assert.True(t, captured.ContainsField("union", float64(5)))
	assert.True(t, captured.ContainsField("dropped", "g1,g5"))
	assert.True(t, captured.ContainsField("dropped", "g4"))
}
