package loader

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gonum.org/v1/gonum/mat"

	"github.com/mariiabilous/besca/anndata"
	"github.com/mariiabilous/besca/pkg/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadData(t *testing.T) {
	dir := t.TempDir()
	expr := writeFile(t, dir, "expr.csv", "cell,CD3E,MS4A1,LYZ\nc1,1.5,0,0.2\nc2,0,2.5,0\nc3,0.1,0,3\n")
	// metadata rows in a different order than the expression rows
	obs := writeFile(t, dir, "obs.csv", "cell,celltype,donor\nc3,Mono,d2\nc1,T,d1\nc2,B,d1\n")

	m, err := ReadData(expr, obs)
	require.NoError(t, err)

	assert.Equal(t, 3, m.NObs())
	assert.Equal(t, []string{"CD3E", "MS4A1", "LYZ"}, m.VarNames())
	assert.Equal(t, []string{"c1", "c2", "c3"}, m.ObsNames())
	assert.Equal(t, 2.5, m.X().At(1, 1))

	labels, ok := m.Obs("celltype")
	require.True(t, ok)
	assert.Equal(t, []string{"T", "B", "Mono"}, labels)
	assert.Equal(t, []string{"celltype", "donor"}, m.ObsColumns())
}

func TestReadDataTransposedTSV(t *testing.T) {
	dir := t.TempDir()
	expr := writeFile(t, dir, "expr.tsv", "gene\tc1\tc2\nCD3E\t1\t0\nMS4A1\t0\t2\n")

	m, err := ReadData(expr, "", WithTransposed())
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, m.ObsNames())
	assert.Equal(t, []string{"CD3E", "MS4A1"}, m.VarNames())
	assert.Equal(t, 2.0, m.X().At(1, 1))
}

func TestReadDataFailures(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.csv", "cell,g1,g2\nc1,1,2\nc2,3,4\n")

	tests := []struct {
		name string
		expr string
		obs  string
	}{
		{"metadata row count differs", good, writeFile(t, dir, "short.csv", "cell,celltype\nc1,T\n")},
		{"metadata missing a sample", good, writeFile(t, dir, "other.csv", "cell,celltype\nc1,T\nc9,B\n")},
		{"duplicate gene ids", writeFile(t, dir, "dup.csv", "cell,g1,g1\nc1,1,2\n"), ""},
		{"non numeric cell", writeFile(t, dir, "text.csv", "cell,g1\nc1,abc\n"), ""},
		{"ragged row", writeFile(t, dir, "ragged.csv", "cell,g1,g2\nc1,1\n"), ""},
		{"duplicate sample ids", writeFile(t, dir, "dupcell.csv", "cell,g1\nc1,1\nc1,2\n"), ""},
		{"header only", writeFile(t, dir, "empty.csv", "cell,g1\n"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadData(tt.expr, tt.obs)
			require.Error(t, err)
			var mi *errors.MalformedInputError
			assert.True(t, errors.As(err, &mi), "got %v", err)
		})
	}

	_, err := ReadData(filepath.Join(dir, "missing.csv"), "")
	assert.Error(t, err)
	_, err = ReadData(writeFile(t, dir, "expr.parquet", "x"), "")
	assert.Error(t, err)
}

func TestReadRaw(t *testing.T) {
	dir := t.TempDir()
	expr := writeFile(t, dir, "counts.csv", "cell,g1,g2,g1\nc1,1,3,5\nc2,0,0,0\n")

	_, err := ReadRaw(expr, "")
	var mi *errors.MalformedInputError
	require.True(t, errors.As(err, &mi), "duplicates are rejected by default")

	m, err := ReadRaw(expr, "", WithDuplicateGenes(DuplicateKeepFirst), WithTargetSum(4))
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "g2"}, m.VarNames())
	// c1 keeps (1, 3): total 4, already at target sum
	assert.InDelta(t, math.Log1p(1), m.X().At(0, 0), 1e-12)
	assert.InDelta(t, math.Log1p(3), m.X().At(0, 1), 1e-12)
	assert.Equal(t, 0.0, m.X().At(1, 0), "all-zero sample stays zero")

	m, err = ReadRaw(expr, "", WithDuplicateGenes(DuplicateMakeUnique), WithoutNormalization())
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "g2", "g1-1"}, m.VarNames())
	assert.Equal(t, 5.0, m.X().At(0, 2))

	neg := writeFile(t, dir, "neg.csv", "cell,g1\nc1,-1\n")
	_, err = ReadRaw(neg, "")
	assert.True(t, errors.As(err, &mi))
}

func TestReadXLSXAndWriteObs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "expr.xlsx")

	f := excelize.NewFile()
	require.NoError(t, f.SetSheetName("Sheet1", "counts"))
	rows := [][]interface{}{
		{"cell", "g1", "g2"},
		{"c1", 1, 2},
		{"c2", 3, 4},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		r := row
		require.NoError(t, f.SetSheetRow("counts", cell, &r))
	}
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	m, err := ReadData(path, "", WithSheet("counts"))
	require.NoError(t, err)
	assert.Equal(t, 4.0, m.X().At(1, 1))

	m, err = m.WithObs("auto_annot", []string{"T", "B"})
	require.NoError(t, err)

	for _, name := range []string{"obs.csv", "obs.tsv", "obs.xlsx"} {
		out := filepath.Join(dir, name)
		require.NoError(t, WriteObs(out, m))
		table, err := readTable(out, "")
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"sample", "auto_annot"}, {"c1", "T"}, {"c2", "B"}}, table)
	}
	assert.Error(t, WriteObs(filepath.Join(dir, "missing", "obs.csv"), m))
}

func TestReadAdata(t *testing.T) {
	_, err := ReadAdata(nil)
	assert.Error(t, err)
	_, err = ReadAdata(&anndata.AnnotatedMatrix{})
	assert.Error(t, err)

	m, err := anndata.New(mat.NewDense(1, 2, []float64{1, 2}), []string{"c1"}, []string{"g1", "g2"})
	require.NoError(t, err)
	got, err := ReadAdata(m)
	require.NoError(t, err)
	assert.Same(t, m, got)
}
