package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/mariiabilous/besca/anndata"
	"github.com/mariiabilous/besca/annotate"
	"github.com/mariiabilous/besca/pkg/errors"
)

func fitted(t *testing.T, kind annotate.Kind) *annotate.FittedModel {
	t.Helper()
	n := 20
	X := mat.NewDense(n, 2, nil)
	names := make([]string, n)
	labels := make([]string, n)
	for i := 0; i < n; i++ {
		shift := 0.0
		labels[i] = "B"
		if i%2 == 1 {
			shift, labels[i] = 4, "T"
		}
		X.Set(i, 0, shift+float64(i%5)*0.1)
		X.Set(i, 1, -shift+float64(i%3)*0.1)
		names[i] = fmt.Sprintf("cell%d", i)
	}
	m, err := anndata.New(X, names, []string{"CD19", "CD3E"})
	require.NoError(t, err)
	m, err = m.WithObs(annotate.DefaultLabelColumn, labels)
	require.NoError(t, err)

	p := annotate.DefaultParams()
	p.NEstimators = 5
	fm, err := annotate.Fit(m, annotate.Config{Kind: kind, Params: p})
	require.NoError(t, err)
	return fm
}

func openTemp(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, DriverSQLite, filepath.Join(t.TempDir(), "models.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	// Migrate is idempotent.
	require.NoError(t, s.Migrate(ctx))

	fm := fitted(t, annotate.KindLogisticRegression)
	require.NoError(t, s.Save(ctx, fm))

	got, err := s.Load(ctx, fm.ID)
	require.NoError(t, err)
	assert.Equal(t, fm.ID, got.ID)
	assert.Equal(t, fm.Kind, got.Kind)
	assert.Equal(t, fm.Genes, got.Genes)
	assert.Equal(t, fm.Classes, got.Classes)
	assert.True(t, fm.CreatedAt.Equal(got.CreatedAt))

	query := mat.NewDense(2, 2, []float64{0, 0, 4, -4})
	m, err := anndata.New(query, []string{"a", "b"}, []string{"CD19", "CD3E"})
	require.NoError(t, err)
	want, err := annotate.Predict(fm, m)
	require.NoError(t, err)
	pred, err := annotate.Predict(got, m)
	require.NoError(t, err)
	assert.Equal(t, want, pred)

	man, err := s.Manifest(ctx, fm.ID)
	require.NoError(t, err)
	assert.Equal(t, string(annotate.KindLogisticRegression), man.Kind)
	assert.Equal(t, fm.Classes, man.Classes)
}

func TestListAndDelete(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	older := fitted(t, annotate.KindLinearSVM)
	older.CreatedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := fitted(t, annotate.KindRandomForest)
	newer.CreatedAt = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Save(ctx, older))
	require.NoError(t, s.Save(ctx, newer))
	// Saving again replaces the row.
	require.NoError(t, s.Save(ctx, newer))

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, newer.ID, entries[0].ID)
	assert.Equal(t, string(annotate.KindRandomForest), entries[0].Kind)
	assert.Equal(t, 2, entries[0].NGenes)
	assert.Equal(t, 2, entries[0].NClasses)
	assert.Equal(t, 20, entries[0].NSamples)
	assert.True(t, older.CreatedAt.Equal(entries[1].CreatedAt))

	require.NoError(t, s.Delete(ctx, older.ID))
	err = s.Delete(ctx, older.ID)
	assert.True(t, errors.Is(err, errors.ErrModelNotFound))
	_, err = s.Load(ctx, older.ID)
	assert.True(t, errors.Is(err, errors.ErrModelNotFound))
	_, err = s.Manifest(ctx, older.ID)
	assert.True(t, errors.Is(err, errors.ErrModelNotFound))

	entries, err = s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestOpenValidation(t *testing.T) {
	ctx := context.Background()
	_, err := Open(ctx, "mysql", "x")
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve))

	_, err = Open(ctx, DriverSQLite, "")
	assert.True(t, errors.As(err, &ve))

	s := openTemp(t)
	assert.Equal(t, DriverSQLite, s.Driver())
	err = s.Save(ctx, &annotate.FittedModel{})
	assert.True(t, errors.As(err, &ve))
}
