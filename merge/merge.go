// Package merge combines several annotated matrices into one, either by
// plain concatenation on the shared genes or after batch correction.
package merge

import (
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/mariiabilous/besca/anndata"
	"github.com/mariiabilous/besca/genes"
	"github.com/mariiabilous/besca/pkg/errors"
	"github.com/mariiabilous/besca/pkg/log"
	"github.com/mariiabilous/besca/pkg/telemetry"
)

// Strategy selects how MergeData combines datasets.
type Strategy string

const (
	StrategyNaive     Strategy = "naive"
	StrategyScanorama Strategy = "scanorama"
)

// DefaultBatchKey is the obs column that records each sample's source dataset.
const DefaultBatchKey = "batch"

// ParseStrategy validates a strategy name. The empty string means naive.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyNaive:
		return StrategyNaive, nil
	case StrategyScanorama:
		return StrategyScanorama, nil
	}
	return "", errors.NewValidationError("strategy", "must be naive or scanorama", s)
}

// Result is a merged matrix with its provenance.
type Result struct {
	Matrix   *anndata.AnnotatedMatrix
	Sources  []string // dataset names in input order
	Strategy Strategy
	Batch    []string // source dataset name per merged sample
}

type options struct {
	names     []string
	batchKey  string
	corrector Corrector
}

// Option configures a merge.
type Option func(*options)

// WithNames names the input datasets. Defaults are "0", "1", ...
func WithNames(names ...string) Option {
	return func(o *options) { o.names = append([]string(nil), names...) }
}

// WithBatchKey sets the obs column used for provenance.
func WithBatchKey(key string) Option { return func(o *options) { o.batchKey = key } }

// WithCorrector replaces the batch correction used by ScanoramaMerge.
func WithCorrector(c Corrector) Option { return func(o *options) { o.corrector = c } }

func newOptions(n int, opts []Option) (options, error) {
	o := options{batchKey: DefaultBatchKey}
	for _, opt := range opts {
		opt(&o)
	}
	if o.names == nil {
		o.names = make([]string, n)
		for i := range o.names {
			o.names[i] = strconv.Itoa(i)
		}
	}
	if len(o.names) != n {
		return o, errors.NewValidationError("names", "one name per dataset is required", len(o.names))
	}
	seen := make(map[string]bool, n)
	for _, name := range o.names {
		if name == "" || seen[name] {
			return o, errors.NewValidationError("names", "dataset names must be unique and non-empty", name)
		}
		seen[name] = true
	}
	if o.batchKey == "" {
		o.batchKey = DefaultBatchKey
	}
	if o.corrector == nil {
		o.corrector = NewPanoramaCorrector()
	}
	return o, nil
}

// MergeData dispatches to NaiveMerge or ScanoramaMerge.
func MergeData(ms []*anndata.AnnotatedMatrix, strategy Strategy, opts ...Option) (*Result, error) {
	switch strategy {
	case StrategyNaive, "":
		return NaiveMerge(ms, opts...)
	case StrategyScanorama:
		return ScanoramaMerge(ms, opts...)
	}
	return nil, errors.NewValidationError("strategy", "must be naive or scanorama", string(strategy))
}

// NaiveMerge restricts all matrices to their shared genes and stacks the
// samples in input order. No batch correction is applied.
func NaiveMerge(ms []*anndata.AnnotatedMatrix, opts ...Option) (*Result, error) {
	defer telemetry.ObserveStage(telemetry.StageMerge)()
	if len(ms) == 0 {
		return nil, errors.NewValueError("NaiveMerge", "at least one matrix is required")
	}
	o, err := newOptions(len(ms), opts)
	if err != nil {
		return nil, err
	}

	aligned, err := genes.RemoveNonshared(ms...)
	if err != nil {
		return nil, renameNoShared(err, o.names)
	}
	xs := make([]*mat.Dense, len(aligned))
	for i, m := range aligned {
		xs[i] = m.Dense()
	}
	return stack(aligned, xs, o, StrategyNaive)
}

// ScanoramaMerge checks that every pair of datasets shares genes, restricts
// them to the shared genes, corrects batch effects with the configured
// Corrector and stacks the corrected samples in input order.
func ScanoramaMerge(ms []*anndata.AnnotatedMatrix, opts ...Option) (*Result, error) {
	defer telemetry.ObserveStage(telemetry.StageMerge)()
	if len(ms) == 0 {
		return nil, errors.NewValueError("ScanoramaMerge", "at least one matrix is required")
	}
	o, err := newOptions(len(ms), opts)
	if err != nil {
		return nil, err
	}

	for i := 0; i < len(ms); i++ {
		for j := i + 1; j < len(ms); j++ {
			shared, err := genes.IntersectGenes(ms[i], ms[j])
			if err != nil {
				return nil, err
			}
			if len(shared) == 0 {
				return nil, errors.NewNoSharedFeaturesError(o.names[i], o.names[j])
			}
		}
	}

	aligned, err := genes.RemoveNonshared(ms...)
	if err != nil {
		return nil, renameNoShared(err, o.names)
	}
	xs := make([]*mat.Dense, len(aligned))
	for i, m := range aligned {
		xs[i] = m.Dense()
	}

	corrected, err := o.corrector.Correct(o.names, xs)
	if err != nil {
		return nil, errors.Wrap(err, "batch correction")
	}
	if len(corrected) != len(xs) {
		return nil, errors.NewModelError("ScanoramaMerge", "corrector returned wrong number of datasets", nil)
	}
	for i, x := range corrected {
		r, c := x.Dims()
		if r != aligned[i].NObs() || c != aligned[i].NVars() {
			return nil, errors.NewDimensionError("ScanoramaMerge", aligned[i].NObs(), r, 0)
		}
	}
	return stack(aligned, corrected, o, StrategyScanorama)
}

// stack concatenates the rows of xs. Metadata columns are unioned with
// empty values where a dataset lacks a column; sample ids occurring in more
// than one dataset get a "-<dataset>" suffix.
func stack(ms []*anndata.AnnotatedMatrix, xs []*mat.Dense, o options, strategy Strategy) (*Result, error) {
	nGenes := ms[0].NVars()
	total := 0
	for _, m := range ms {
		total += m.NObs()
	}

	counts := map[string]int{}
	for _, m := range ms {
		for _, name := range m.ObsNames() {
			counts[name]++
		}
	}

	X := mat.NewDense(total, nGenes, nil)
	obsNames := make([]string, 0, total)
	batch := make([]string, 0, total)
	var columns []string
	seenCol := map[string]bool{}
	for _, m := range ms {
		for _, c := range m.ObsColumns() {
			if c != o.batchKey && !seenCol[c] {
				seenCol[c] = true
				columns = append(columns, c)
			}
		}
	}
	obs := make(map[string][]string, len(columns))
	for _, c := range columns {
		obs[c] = make([]string, 0, total)
	}

	row := 0
	for d, m := range ms {
		for i := 0; i < m.NObs(); i++ {
			copy(X.RawRowView(row), xs[d].RawRowView(i))
			row++
		}
		for _, name := range m.ObsNames() {
			if counts[name] > 1 {
				name = name + "-" + o.names[d]
			}
			obsNames = append(obsNames, name)
			batch = append(batch, o.names[d])
		}
		for _, c := range columns {
			col, ok := m.Obs(c)
			if !ok {
				col = make([]string, m.NObs())
			}
			obs[c] = append(obs[c], col...)
		}
	}

	merged, err := anndata.New(X, obsNames, ms[0].VarNames())
	if err != nil {
		return nil, errors.Wrap(err, "merge")
	}
	for _, c := range columns {
		if merged, err = merged.WithObs(c, obs[c]); err != nil {
			return nil, err
		}
	}
	if merged, err = merged.WithObs(o.batchKey, batch); err != nil {
		return nil, err
	}

	telemetry.CountSamples(telemetry.StageMerge, total)
	log.GetLoggerWithName("merge").Info("datasets merged",
		log.OperationKey, log.OperationMerge,
		log.MergeStrategyKey, string(strategy),
		log.DatasetsKey, len(ms),
		log.SamplesKey, total,
		log.GenesKey, nGenes,
	)

	return &Result{
		Matrix:   merged,
		Sources:  append([]string(nil), o.names...),
		Strategy: strategy,
		Batch:    batch,
	}, nil
}

func renameNoShared(err error, names []string) error {
	var nsf *errors.NoSharedFeaturesError
	if errors.As(err, &nsf) {
		return errors.NewNoSharedFeaturesError(names...)
	}
	return err
}
