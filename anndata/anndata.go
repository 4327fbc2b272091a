// Package anndata holds the annotated expression matrix passed between the
// pipeline stages: a samples x genes matrix with sample names, gene names,
// per-sample metadata columns and named per-sample embeddings.
package anndata

import (
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/mariiabilous/besca/pkg/errors"
)

// Embedding is a dense per-sample matrix with named columns, used for
// class probability tables and low dimensional projections.
type Embedding struct {
	Columns []string
	Values  *mat.Dense
}

// AnnotatedMatrix is an immutable expression matrix. Methods that change
// metadata return a new value; the expression data itself is shared.
type AnnotatedMatrix struct {
	x        *mat.Dense
	obsNames []string
	varNames []string
	varIndex map[string]int

	obsKeys []string
	obs     map[string][]string
	obsm    map[string]*Embedding
}

// New builds an AnnotatedMatrix from X (samples x genes). X is copied.
// obsNames and varNames must be unique and match X's shape.
func New(X mat.Matrix, obsNames, varNames []string) (*AnnotatedMatrix, error) {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return nil, errors.NewMalformedInputError("", "expression matrix is empty")
	}
	if len(obsNames) != r {
		return nil, errors.NewMalformedInputErrorf("", "%d sample names for %d rows", len(obsNames), r)
	}
	if len(varNames) != c {
		return nil, errors.NewMalformedInputErrorf("", "%d gene names for %d columns", len(varNames), c)
	}
	if dup, ok := firstDuplicate(obsNames); ok {
		return nil, errors.NewMalformedInputErrorf("", "duplicate sample name %q", dup)
	}
	if dup, ok := firstDuplicate(varNames); ok {
		return nil, errors.NewMalformedInputErrorf("", "duplicate gene id %q", dup)
	}

	return &AnnotatedMatrix{
		x:        mat.DenseCopyOf(X),
		obsNames: append([]string(nil), obsNames...),
		varNames: append([]string(nil), varNames...),
		varIndex: indexOf(varNames),
		obs:      map[string][]string{},
		obsm:     map[string]*Embedding{},
	}, nil
}

// NObs returns the number of samples.
func (m *AnnotatedMatrix) NObs() int { return len(m.obsNames) }

// NVars returns the number of genes.
func (m *AnnotatedMatrix) NVars() int { return len(m.varNames) }

// X returns the expression matrix. Callers must not modify it.
func (m *AnnotatedMatrix) X() mat.Matrix { return m.x }

// Dense returns a copy of the expression matrix.
func (m *AnnotatedMatrix) Dense() *mat.Dense { return mat.DenseCopyOf(m.x) }

// Row returns a copy of sample i's expression vector.
func (m *AnnotatedMatrix) Row(i int) []float64 {
	return mat.Row(nil, i, m.x)
}

// ObsNames returns a copy of the sample names.
func (m *AnnotatedMatrix) ObsNames() []string { return append([]string(nil), m.obsNames...) }

// VarNames returns a copy of the gene names in column order.
func (m *AnnotatedMatrix) VarNames() []string { return append([]string(nil), m.varNames...) }

// VarIndex returns the column of gene g.
func (m *AnnotatedMatrix) VarIndex(g string) (int, bool) {
	j, ok := m.varIndex[g]
	return j, ok
}

// HasVar reports whether gene g is present.
func (m *AnnotatedMatrix) HasVar(g string) bool {
	_, ok := m.varIndex[g]
	return ok
}

// Obs returns a copy of metadata column key.
func (m *AnnotatedMatrix) Obs(key string) ([]string, bool) {
	col, ok := m.obs[key]
	if !ok {
		return nil, false
	}
	return append([]string(nil), col...), true
}

// ObsColumns returns metadata column names in insertion order.
func (m *AnnotatedMatrix) ObsColumns() []string { return append([]string(nil), m.obsKeys...) }

// Obsm returns the embedding stored under key.
func (m *AnnotatedMatrix) Obsm(key string) (*Embedding, bool) {
	e, ok := m.obsm[key]
	return e, ok
}

// ObsmKeys returns the sorted embedding keys.
func (m *AnnotatedMatrix) ObsmKeys() []string {
	keys := make([]string, 0, len(m.obsm))
	for k := range m.obsm {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WithObs returns a copy of m with metadata column key set to values.
// An existing column of the same name is replaced in place.
func (m *AnnotatedMatrix) WithObs(key string, values []string) (*AnnotatedMatrix, error) {
	if len(values) != m.NObs() {
		return nil, errors.NewDimensionError("WithObs", m.NObs(), len(values), 0)
	}
	out := m.shallowCopy()
	if _, exists := out.obs[key]; !exists {
		out.obsKeys = append(out.obsKeys, key)
	}
	out.obs[key] = append([]string(nil), values...)
	return out, nil
}

// WithObsm returns a copy of m with embedding key set.
func (m *AnnotatedMatrix) WithObsm(key string, e *Embedding) (*AnnotatedMatrix, error) {
	if e == nil || e.Values == nil {
		return nil, errors.NewValidationError("obsm", "embedding has no values", key)
	}
	r, c := e.Values.Dims()
	if r != m.NObs() {
		return nil, errors.NewDimensionError("WithObsm", m.NObs(), r, 0)
	}
	if len(e.Columns) != c {
		return nil, errors.NewDimensionError("WithObsm", c, len(e.Columns), 1)
	}
	out := m.shallowCopy()
	out.obsm[key] = &Embedding{
		Columns: append([]string(nil), e.Columns...),
		Values:  mat.DenseCopyOf(e.Values),
	}
	return out, nil
}

// WithX returns a copy of m whose expression matrix is replaced by X.
// X must have the same shape as the current matrix.
func (m *AnnotatedMatrix) WithX(X mat.Matrix) (*AnnotatedMatrix, error) {
	r, c := X.Dims()
	if r != m.NObs() {
		return nil, errors.NewDimensionError("WithX", m.NObs(), r, 0)
	}
	if c != m.NVars() {
		return nil, errors.NewDimensionError("WithX", m.NVars(), c, 1)
	}
	out := m.shallowCopy()
	out.x = mat.DenseCopyOf(X)
	return out, nil
}

// SelectVars returns a matrix restricted to genes, in the given order.
// Every gene must be present.
func (m *AnnotatedMatrix) SelectVars(genes []string) (*AnnotatedMatrix, error) {
	if len(genes) == 0 {
		return nil, errors.NewNoSharedFeaturesError()
	}
	cols := make([]int, len(genes))
	var missing []string
	for i, g := range genes {
		j, ok := m.varIndex[g]
		if !ok {
			missing = append(missing, g)
			continue
		}
		cols[i] = j
	}
	if len(missing) > 0 {
		return nil, errors.NewGeneMismatchError(missing, len(genes), m.NVars())
	}
	if dup, ok := firstDuplicate(genes); ok {
		return nil, errors.NewMalformedInputErrorf("", "duplicate gene id %q in selection", dup)
	}

	n := m.NObs()
	x := mat.NewDense(n, len(cols), nil)
	for i := 0; i < n; i++ {
		row := m.x.RawRowView(i)
		dst := x.RawRowView(i)
		for k, j := range cols {
			dst[k] = row[j]
		}
	}

	out := m.shallowCopy()
	out.x = x
	out.varNames = append([]string(nil), genes...)
	out.varIndex = indexOf(genes)
	return out, nil
}

// SelectObs returns the samples at the given row indices, metadata and
// embeddings included.
func (m *AnnotatedMatrix) SelectObs(rows []int) (*AnnotatedMatrix, error) {
	if len(rows) == 0 {
		return nil, errors.ErrEmptyData
	}
	nv := m.NVars()
	x := mat.NewDense(len(rows), nv, nil)
	names := make([]string, len(rows))
	for k, i := range rows {
		if i < 0 || i >= m.NObs() {
			return nil, errors.NewValueError("SelectObs", "row index out of range")
		}
		copy(x.RawRowView(k), m.x.RawRowView(i))
		names[k] = m.obsNames[i]
	}
	if dup, ok := firstDuplicate(names); ok {
		return nil, errors.NewMalformedInputErrorf("", "sample %q selected twice", dup)
	}

	out := &AnnotatedMatrix{
		x:        x,
		obsNames: names,
		varNames: m.varNames,
		varIndex: m.varIndex,
		obsKeys:  append([]string(nil), m.obsKeys...),
		obs:      make(map[string][]string, len(m.obs)),
		obsm:     make(map[string]*Embedding, len(m.obsm)),
	}
	for key, col := range m.obs {
		sub := make([]string, len(rows))
		for k, i := range rows {
			sub[k] = col[i]
		}
		out.obs[key] = sub
	}
	for key, e := range m.obsm {
		_, c := e.Values.Dims()
		vals := mat.NewDense(len(rows), c, nil)
		for k, i := range rows {
			copy(vals.RawRowView(k), e.Values.RawRowView(i))
		}
		out.obsm[key] = &Embedding{Columns: e.Columns, Values: vals}
	}
	return out, nil
}

func (m *AnnotatedMatrix) shallowCopy() *AnnotatedMatrix {
	out := &AnnotatedMatrix{
		x:        m.x,
		obsNames: m.obsNames,
		varNames: m.varNames,
		varIndex: m.varIndex,
		obsKeys:  append([]string(nil), m.obsKeys...),
		obs:      make(map[string][]string, len(m.obs)),
		obsm:     make(map[string]*Embedding, len(m.obsm)),
	}
	for k, v := range m.obs {
		out.obs[k] = v
	}
	for k, v := range m.obsm {
		out.obsm[k] = v
	}
	return out
}

func indexOf(names []string) map[string]int {
	idx := make(map[string]int, len(names))
	for i, n := range names {
		idx[n] = i
	}
	return idx
}

func firstDuplicate(names []string) (string, bool) {
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			return n, true
		}
		seen[n] = struct{}{}
	}
	return "", false
}
