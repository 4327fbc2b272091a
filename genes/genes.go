// Package genes reconciles gene sets across annotated matrices so that
// later stages can compare matrices column by column.
package genes

import (
	"strconv"
	"strings"

	"github.com/mariiabilous/besca/anndata"
	"github.com/mariiabilous/besca/pkg/errors"
	"github.com/mariiabilous/besca/pkg/log"
)

// GeneSet is an ordered set of gene identifiers.
type GeneSet []string

// Contains reports whether g is in s.
func (s GeneSet) Contains(g string) bool {
	for _, x := range s {
		if x == g {
			return true
		}
	}
	return false
}

// IntersectGenes returns the genes present in every matrix, in the order of
// the first matrix. The result may be empty.
func IntersectGenes(ms ...*anndata.AnnotatedMatrix) (GeneSet, error) {
	if len(ms) == 0 {
		return nil, errors.NewValueError("IntersectGenes", "at least one matrix is required")
	}
	for i, m := range ms {
		if m == nil {
			return nil, errors.NewValueError("IntersectGenes", "matrix is nil at position "+strconv.Itoa(i))
		}
	}

	out := GeneSet{}
	for _, g := range ms[0].VarNames() {
		shared := true
		for _, m := range ms[1:] {
			if !m.HasVar(g) {
				shared = false
				break
			}
		}
		if shared {
			out = append(out, g)
		}
	}
	return out, nil
}

// Union returns every gene of every matrix, first occurrence order.
func Union(ms ...*anndata.AnnotatedMatrix) GeneSet {
	seen := map[string]struct{}{}
	out := GeneSet{}
	for _, m := range ms {
		for _, g := range m.VarNames() {
			if _, ok := seen[g]; ok {
				continue
			}
			seen[g] = struct{}{}
			out = append(out, g)
		}
	}
	return out
}

// Diff returns the genes of m that other lacks, in m's order.
func Diff(m, other *anndata.AnnotatedMatrix) GeneSet {
	out := GeneSet{}
	for _, g := range m.VarNames() {
		if !other.HasVar(g) {
			out = append(out, g)
		}
	}
	return out
}

// RemoveGenes returns a new matrix without the named genes. Names not
// present in m are ignored.
func RemoveGenes(m *anndata.AnnotatedMatrix, drop []string) (*anndata.AnnotatedMatrix, error) {
	dropSet := make(map[string]struct{}, len(drop))
	for _, g := range drop {
		dropSet[g] = struct{}{}
	}
	keep := make([]string, 0, m.NVars())
	for _, g := range m.VarNames() {
		if _, ok := dropSet[g]; !ok {
			keep = append(keep, g)
		}
	}
	if len(keep) == m.NVars() {
		return m, nil
	}
	if len(keep) == 0 {
		return nil, errors.NewValueError("RemoveGenes", "removing the given genes leaves no genes")
	}
	return m.SelectVars(keep)
}

// RemoveNonshared restricts every matrix to IntersectGenes(ms...), so that
// all outputs have the same column layout. An empty intersection fails with
// a NoSharedFeaturesError.
func RemoveNonshared(ms ...*anndata.AnnotatedMatrix) ([]*anndata.AnnotatedMatrix, error) {
	shared, err := IntersectGenes(ms...)
	if err != nil {
		return nil, err
	}
	if len(shared) == 0 {
		names := make([]string, len(ms))
		for i := range ms {
			names[i] = strconv.Itoa(i)
		}
		return nil, errors.NewNoSharedFeaturesError(names...)
	}

	logger := log.GetLoggerWithName("genes")
	if union := Union(ms...); len(union) > len(shared) {
		logger.Info("restricting datasets to shared genes",
			log.OperationKey, log.OperationReconcile,
			log.DatasetsKey, len(ms), "union", len(union), log.GenesKey, len(shared))
	}
	out := make([]*anndata.AnnotatedMatrix, len(ms))
	for i, m := range ms {
		sub, err := m.SelectVars(shared)
		if err != nil {
			return nil, err
		}
		out[i] = sub
		if dropped := Diff(m, sub); len(dropped) > 0 {
			logger.Debug("non-shared genes removed",
				log.OperationKey, log.OperationReconcile,
				"dataset", i, "dropped", strings.Join(dropped, ","), log.GenesKey, len(shared))
		}
	}
	return out, nil
}
