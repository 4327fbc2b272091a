// Package loader reads expression tables and sample metadata into
// anndata.AnnotatedMatrix values.
//
// Expression tables have one sample per row: the first column holds the
// sample id and the header holds gene ids (WithTransposed flips this).
// Metadata tables have the sample id in the first column and one named
// column per annotation. Supported formats are csv, tsv/txt and xlsx.
package loader

import (
	"fmt"
	"math"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/mariiabilous/besca/anndata"
	"github.com/mariiabilous/besca/pkg/errors"
	"github.com/mariiabilous/besca/pkg/log"
	"github.com/mariiabilous/besca/pkg/telemetry"
	"github.com/mariiabilous/besca/preprocessing"
)

// DuplicatePolicy decides what ReadRaw does with repeated gene ids.
type DuplicatePolicy int

const (
	// DuplicateReject fails with a MalformedInputError.
	DuplicateReject DuplicatePolicy = iota
	// DuplicateKeepFirst keeps the first column of each gene id.
	DuplicateKeepFirst
	// DuplicateMakeUnique renames repeats to "<id>-1", "<id>-2", ...
	DuplicateMakeUnique
)

// ParseDuplicatePolicy maps "reject", "keep_first" and "make_unique".
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch s {
	case "", "reject":
		return DuplicateReject, nil
	case "keep_first":
		return DuplicateKeepFirst, nil
	case "make_unique":
		return DuplicateMakeUnique, nil
	}
	return 0, errors.NewValidationError("duplicate_genes", "must be reject, keep_first or make_unique", s)
}

type options struct {
	sheet      string
	obsSheet   string
	transposed bool
	duplicates DuplicatePolicy
	targetSum  float64
	normalize  bool
}

// Option configures ReadData and ReadRaw.
type Option func(*options)

// WithSheet selects the worksheet of xlsx expression input.
func WithSheet(name string) Option { return func(o *options) { o.sheet = name } }

// WithObsSheet selects the worksheet of xlsx metadata input.
func WithObsSheet(name string) Option { return func(o *options) { o.obsSheet = name } }

// WithTransposed reads expression tables with genes as rows.
func WithTransposed() Option { return func(o *options) { o.transposed = true } }

// WithDuplicateGenes sets the ReadRaw duplicate gene policy.
func WithDuplicateGenes(p DuplicatePolicy) Option { return func(o *options) { o.duplicates = p } }

// WithTargetSum sets the per-sample total ReadRaw normalizes to.
func WithTargetSum(v float64) Option { return func(o *options) { o.targetSum = v } }

// WithoutNormalization makes ReadRaw return the counts unchanged.
func WithoutNormalization() Option { return func(o *options) { o.normalize = false } }

func newOptions(opts []Option) options {
	o := options{targetSum: preprocessing.DefaultTargetSum, normalize: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ReadData loads an already normalized expression table and its metadata.
// obsPath may be empty. Duplicate gene ids are always rejected.
func ReadData(exprPath, obsPath string, opts ...Option) (*anndata.AnnotatedMatrix, error) {
	defer telemetry.ObserveStage(telemetry.StageRead)()
	o := newOptions(opts)
	o.duplicates = DuplicateReject

	m, err := read(exprPath, obsPath, o, false)
	if err != nil {
		return nil, err
	}
	logLoaded("expression data loaded", exprPath, m)
	return m, nil
}

// ReadRaw loads raw counts. Counts must be finite and non-negative.
// Unless WithoutNormalization is given each sample is scaled to the target
// sum (1e4 by default) and log1p transformed.
func ReadRaw(exprPath, obsPath string, opts ...Option) (*anndata.AnnotatedMatrix, error) {
	defer telemetry.ObserveStage(telemetry.StageRead)()
	o := newOptions(opts)

	m, err := read(exprPath, obsPath, o, true)
	if err != nil {
		return nil, err
	}
	if o.normalize {
		norm, err := preprocessing.NormalizeTotal(m.X(), o.targetSum)
		if err != nil {
			return nil, errors.Wrapf(err, "normalize %s", exprPath)
		}
		if m, err = m.WithX(preprocessing.Log1p(norm)); err != nil {
			return nil, err
		}
	}
	logLoaded("raw counts loaded", exprPath, m, "normalized", o.normalize)
	return m, nil
}

// ReadAdata validates an in-memory matrix and returns it unchanged.
func ReadAdata(m *anndata.AnnotatedMatrix) (*anndata.AnnotatedMatrix, error) {
	if m == nil {
		return nil, errors.NewMalformedInputError("", "annotated matrix is nil")
	}
	if m.NObs() == 0 || m.NVars() == 0 {
		return nil, errors.NewMalformedInputError("", "annotated matrix is empty")
	}
	r, c := m.X().Dims()
	if r != m.NObs() || c != m.NVars() {
		return nil, errors.NewMalformedInputErrorf("", "matrix is %dx%d but has %d sample and %d gene names", r, c, m.NObs(), m.NVars())
	}
	seen := make(map[string]struct{}, m.NVars())
	for _, g := range m.VarNames() {
		if _, dup := seen[g]; dup {
			return nil, errors.NewMalformedInputErrorf("", "duplicate gene id %q", g)
		}
		seen[g] = struct{}{}
	}
	for _, key := range m.ObsColumns() {
		col, _ := m.Obs(key)
		if len(col) != r {
			return nil, errors.NewMalformedInputErrorf("", "metadata column %q has %d rows, expression has %d", key, len(col), r)
		}
	}
	return m, nil
}

// WriteObs writes sample names and metadata columns of m to path.
func WriteObs(path string, m *anndata.AnnotatedMatrix) error {
	cols := m.ObsColumns()
	rows := make([][]string, 0, m.NObs()+1)
	rows = append(rows, append([]string{"sample"}, cols...))

	values := make([][]string, len(cols))
	for k, key := range cols {
		values[k], _ = m.Obs(key)
	}
	for i, name := range m.ObsNames() {
		row := make([]string, 0, len(cols)+1)
		row = append(row, name)
		for k := range cols {
			row = append(row, values[k][i])
		}
		rows = append(rows, row)
	}
	return writeTable(path, "obs", rows)
}

func read(exprPath, obsPath string, o options, raw bool) (*anndata.AnnotatedMatrix, error) {
	rows, err := readTable(exprPath, o.sheet)
	if err != nil {
		return nil, err
	}
	X, samples, genes, err := parseExpression(exprPath, rows, o.transposed, raw)
	if err != nil {
		return nil, err
	}
	X, genes, err = resolveDuplicates(exprPath, X, genes, o.duplicates)
	if err != nil {
		return nil, err
	}

	m, err := anndata.New(X, samples, genes)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", exprPath)
	}
	if obsPath == "" {
		return m, nil
	}
	return attachObs(m, obsPath, o.obsSheet)
}

func parseExpression(path string, rows [][]string, transposed, raw bool) (*mat.Dense, []string, []string, error) {
	header := rows[0][1:]
	body := rows[1:]
	if len(header) == 0 {
		return nil, nil, nil, errors.NewMalformedInputError(path, "header has no data columns")
	}

	ids := make([]string, len(body))
	data := mat.NewDense(len(body), len(header), nil)
	for i, row := range body {
		if len(row) != len(header)+1 {
			return nil, nil, nil, errors.NewMalformedInputErrorf(path, "row %d has %d fields, header has %d", i+2, len(row), len(header)+1)
		}
		ids[i] = row[0]
		if ids[i] == "" {
			return nil, nil, nil, errors.NewMalformedInputErrorf(path, "row %d has an empty id", i+2)
		}
		dst := data.RawRowView(i)
		for j, cell := range row[1:] {
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, nil, nil, errors.NewMalformedInputErrorf(path, "row %d, column %q: %q is not numeric", i+2, header[j], cell)
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, nil, nil, errors.NewMalformedInputErrorf(path, "row %d, column %q: non-finite value", i+2, header[j])
			}
			if raw && v < 0 {
				return nil, nil, nil, errors.NewMalformedInputErrorf(path, "row %d, column %q: negative count %v", i+2, header[j], v)
			}
			dst[j] = v
		}
	}

	if transposed {
		// rows are genes, header holds sample ids
		return mat.DenseCopyOf(data.T()), append([]string(nil), header...), ids, nil
	}
	return data, ids, append([]string(nil), header...), nil
}

func resolveDuplicates(path string, X *mat.Dense, genes []string, policy DuplicatePolicy) (*mat.Dense, []string, error) {
	counts := make(map[string]int, len(genes))
	hasDup := false
	for _, g := range genes {
		counts[g]++
		if counts[g] > 1 {
			hasDup = true
		}
	}
	if !hasDup {
		return X, genes, nil
	}

	switch policy {
	case DuplicateKeepFirst:
		seen := make(map[string]bool, len(genes))
		var keep []int
		var names []string
		for j, g := range genes {
			if seen[g] {
				continue
			}
			seen[g] = true
			keep = append(keep, j)
			names = append(names, g)
		}
		r, _ := X.Dims()
		out := mat.NewDense(r, len(keep), nil)
		for i := 0; i < r; i++ {
			src, dst := X.RawRowView(i), out.RawRowView(i)
			for k, j := range keep {
				dst[k] = src[j]
			}
		}
		log.GetLoggerWithName("loader").Warn("duplicate genes dropped",
			log.PathKey, path, "dropped", len(genes)-len(keep))
		return out, names, nil

	case DuplicateMakeUnique:
		taken := make(map[string]bool, len(genes))
		for _, g := range genes {
			taken[g] = true
		}
		seen := make(map[string]int, len(genes))
		names := make([]string, len(genes))
		for j, g := range genes {
			n := seen[g]
			seen[g] = n + 1
			if n == 0 {
				names[j] = g
				continue
			}
			name := fmt.Sprintf("%s-%d", g, n)
			for taken[name] {
				n++
				name = fmt.Sprintf("%s-%d", g, n)
			}
			seen[g] = n + 1
			taken[name] = true
			names[j] = name
		}
		return X, names, nil
	}

	for _, g := range genes {
		if counts[g] > 1 {
			return nil, nil, errors.NewMalformedInputErrorf(path, "duplicate gene id %q (%d occurrences)", g, counts[g])
		}
	}
	return X, genes, nil
}

func attachObs(m *anndata.AnnotatedMatrix, obsPath, sheet string) (*anndata.AnnotatedMatrix, error) {
	rows, err := readTable(obsPath, sheet)
	if err != nil {
		return nil, err
	}
	header := rows[0]
	body := rows[1:]

	if len(body) != m.NObs() {
		return nil, errors.NewMalformedInputErrorf(obsPath, "metadata has %d rows, expression has %d samples", len(body), m.NObs())
	}

	byID := make(map[string][]string, len(body))
	for i, row := range body {
		if len(row) != len(header) {
			return nil, errors.NewMalformedInputErrorf(obsPath, "row %d has %d fields, header has %d", i+2, len(row), len(header))
		}
		if _, dup := byID[row[0]]; dup {
			return nil, errors.NewMalformedInputErrorf(obsPath, "duplicate sample id %q", row[0])
		}
		byID[row[0]] = row[1:]
	}

	names := m.ObsNames()
	for _, id := range names {
		if _, ok := byID[id]; !ok {
			return nil, errors.NewMalformedInputErrorf(obsPath, "sample %q has no metadata row", id)
		}
	}
	for k, col := range header[1:] {
		values := make([]string, len(names))
		for i, id := range names {
			values[i] = byID[id][k]
		}
		if m, err = m.WithObs(col, values); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func logLoaded(msg, path string, m *anndata.AnnotatedMatrix, extra ...any) {
	telemetry.CountSamples(telemetry.StageRead, m.NObs())
	fields := append([]any{
		log.OperationKey, log.OperationRead,
		log.PathKey, path,
		log.SamplesKey, m.NObs(),
		log.GenesKey, m.NVars(),
	}, extra...)
	log.GetLoggerWithName("loader").Info(msg, fields...)
}
