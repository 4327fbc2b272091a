package merge

import (
	"math"
	"math/rand"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/mariiabilous/besca/core/parallel"
	"github.com/mariiabilous/besca/pkg/errors"
	"github.com/mariiabilous/besca/pkg/log"
	"github.com/mariiabilous/besca/pkg/telemetry"
)

// Corrector removes batch effects from datasets that share one gene layout.
// It must return one matrix per input with unchanged shape and row order.
type Corrector interface {
	Correct(names []string, datasets []*mat.Dense) ([]*mat.Dense, error)
}

// PanoramaCorrector stitches datasets together through mutual nearest
// neighbours in a joint low dimensional embedding, then shifts whole
// datasets along smoothed match vectors.
type PanoramaCorrector struct {
	// Knn is the number of neighbours searched on each side.
	Knn int
	// Sigma is the width of the Gaussian kernel smoothing the shift vectors.
	Sigma float64
	// Alpha is the minimum matched fraction for a dataset pair to be stitched.
	Alpha float64
	// Dimred is the embedding dimension.
	Dimred int
	// MaxSVDRows caps the number of cells used to fit the embedding basis.
	MaxSVDRows int
	// Seed drives the row subsample when MaxSVDRows is exceeded.
	Seed int64
}

// NewPanoramaCorrector returns a corrector with the usual defaults.
func NewPanoramaCorrector() *PanoramaCorrector {
	return &PanoramaCorrector{
		Knn:        20,
		Sigma:      15,
		Alpha:      0.10,
		Dimred:     100,
		MaxSVDRows: 20000,
		Seed:       0,
	}
}

// Alignment is a stitched pair of datasets with its mutual matches.
type Alignment struct {
	I, J    int
	Score   float64
	Matches [][2]int // (row in I, row in J)
}

// Correct implements Corrector.
func (p *PanoramaCorrector) Correct(names []string, datasets []*mat.Dense) ([]*mat.Dense, error) {
	if len(datasets) < 2 {
		out := make([]*mat.Dense, len(datasets))
		for i, d := range datasets {
			out[i] = mat.DenseCopyOf(d)
		}
		return out, nil
	}
	if err := p.validate(); err != nil {
		return nil, err
	}

	emb, err := p.embed(datasets)
	if err != nil {
		return nil, err
	}
	alignments, err := p.Align(emb)
	if err != nil {
		return nil, err
	}
	return p.apply(names, datasets, emb, alignments), nil
}

func (p *PanoramaCorrector) validate() error {
	switch {
	case p.Knn < 1:
		return errors.NewValidationError("knn", "must be positive", p.Knn)
	case p.Sigma <= 0:
		return errors.NewValidationError("sigma", "must be positive", p.Sigma)
	case p.Alpha < 0 || p.Alpha >= 1:
		return errors.NewValidationError("alpha", "must be in [0, 1)", p.Alpha)
	case p.Dimred < 1:
		return errors.NewValidationError("dimred", "must be positive", p.Dimred)
	}
	return nil
}

// embed L2-normalizes every cell and projects all datasets on the top
// right singular vectors of their concatenation. Embedded rows are
// L2-normalized again so distances compare directions only.
func (p *PanoramaCorrector) embed(datasets []*mat.Dense) ([]*mat.Dense, error) {
	_, nGenes := datasets[0].Dims()
	total := 0
	for _, d := range datasets {
		r, _ := d.Dims()
		total += r
	}

	joint := mat.NewDense(total, nGenes, nil)
	row := 0
	for _, d := range datasets {
		r, _ := d.Dims()
		for i := 0; i < r; i++ {
			dst := joint.RawRowView(row)
			copy(dst, d.RawRowView(i))
			normalizeRow(dst)
			row++
		}
	}

	k := p.Dimred
	if k > nGenes {
		k = nGenes
	}
	var projected *mat.Dense
	if k == nGenes {
		projected = joint
	} else {
		basis := joint
		if p.MaxSVDRows > 0 && total > p.MaxSVDRows {
			basis = subsampleRows(joint, p.MaxSVDRows, p.Seed)
		}
		br, _ := basis.Dims()
		if k > br {
			k = br
		}
		var svd mat.SVD
		if ok := svd.Factorize(basis, mat.SVDThin); !ok {
			return nil, errors.NewModelError("PanoramaCorrector", "svd failed to converge", nil)
		}
		var v mat.Dense
		svd.VTo(&v)
		projected = mat.NewDense(total, k, nil)
		projected.Mul(joint, v.Slice(0, nGenes, 0, k))
	}

	_, width := projected.Dims()
	out := make([]*mat.Dense, len(datasets))
	row = 0
	for d, ds := range datasets {
		r, _ := ds.Dims()
		e := mat.NewDense(r, width, nil)
		for i := 0; i < r; i++ {
			dst := e.RawRowView(i)
			copy(dst, projected.RawRowView(row))
			normalizeRow(dst)
			row++
		}
		out[d] = e
	}
	return out, nil
}

// Align finds mutual nearest neighbours for every dataset pair and keeps
// the pairs whose matched fraction exceeds Alpha, best first. Pairs are
// searched concurrently.
func (p *PanoramaCorrector) Align(emb []*mat.Dense) ([]Alignment, error) {
	type pair struct{ i, j int }
	var pairs []pair
	for i := 0; i < len(emb); i++ {
		for j := i + 1; j < len(emb); j++ {
			pairs = append(pairs, pair{i, j})
		}
	}

	results := make([]Alignment, len(pairs))
	var g errgroup.Group
	for idx, pr := range pairs {
		idx, pr := idx, pr
		g.Go(func() error {
			matches := p.mutualNeighbours(emb[pr.i], emb[pr.j])
			ri, _ := emb[pr.i].Dims()
			rj, _ := emb[pr.j].Dims()
			left, right := map[int]bool{}, map[int]bool{}
			for _, m := range matches {
				left[m[0]] = true
				right[m[1]] = true
			}
			score := math.Max(float64(len(left))/float64(ri), float64(len(right))/float64(rj))
			results[idx] = Alignment{I: pr.i, J: pr.j, Score: score, Matches: matches}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	kept := results[:0]
	for _, a := range results {
		telemetry.MergeMatches.Observe(float64(len(a.Matches)))
		if a.Score > p.Alpha && len(a.Matches) > 0 {
			kept = append(kept, a)
		}
	}
	sort.SliceStable(kept, func(x, y int) bool { return kept[x].Score > kept[y].Score })
	return kept, nil
}

func (p *PanoramaCorrector) mutualNeighbours(a, b *mat.Dense) [][2]int {
	ab := knn(a, b, p.Knn)
	ba := knn(b, a, p.Knn)

	back := make([]map[int]bool, len(ba))
	for j, ns := range ba {
		back[j] = make(map[int]bool, len(ns))
		for _, i := range ns {
			back[j][i] = true
		}
	}
	var matches [][2]int
	for i, ns := range ab {
		for _, j := range ns {
			if back[j][i] {
				matches = append(matches, [2]int{i, j})
			}
		}
	}
	return matches
}

// apply merges datasets into panoramas following the alignments. For each
// alignment joining two different panoramas, the smaller panorama is shifted
// toward the larger one.
func (p *PanoramaCorrector) apply(names []string, datasets, emb []*mat.Dense, alignments []Alignment) []*mat.Dense {
	out := make([]*mat.Dense, len(datasets))
	for i, d := range datasets {
		out[i] = mat.DenseCopyOf(d)
	}

	panorama := make([]int, len(datasets))
	size := make([]int, len(datasets))
	for i, d := range datasets {
		panorama[i] = i
		size[i], _ = d.Dims()
	}
	find := func(i int) int {
		for panorama[i] != i {
			i = panorama[i]
		}
		return i
	}

	logger := log.GetLoggerWithName("merge")
	stitched := make([]bool, len(datasets))
	for _, a := range alignments {
		pi, pj := find(a.I), find(a.J)
		if pi == pj {
			continue
		}

		// moving side: the dataset whose panorama is smaller
		move, ref, moveRoot, refRoot := a.J, a.I, pj, pi
		matches := a.Matches
		if size[pi] < size[pj] {
			move, ref, moveRoot, refRoot = a.I, a.J, pi, pj
			matches = make([][2]int, len(a.Matches))
			for k, m := range a.Matches {
				matches[k] = [2]int{m[1], m[0]}
			}
		}
		// matches are now (row in ref, row in move)

		var members []int
		for d := range datasets {
			if find(d) == moveRoot {
				members = append(members, d)
			}
		}
		p.shift(out, emb, members, move, ref, matches)

		panorama[moveRoot] = refRoot
		size[refRoot] += size[moveRoot]
		stitched[move], stitched[ref] = true, true
		logger.Debug("datasets stitched",
			"reference", names[ref], "moved", names[move],
			log.MatchesKey, len(matches), "score", a.Score)
	}

	for d := range datasets {
		if !stitched[d] {
			errors.Warn(errors.NewBatchCorrectionWarning(names[d],
				"no dataset shares enough mutual nearest neighbours"))
		}
	}
	return out
}

// shift translates every cell of the member datasets by the Gaussian
// weighted average of the match vectors ref - move, weighted by embedding
// distance to the matched cells of the moving dataset.
func (p *PanoramaCorrector) shift(out, emb []*mat.Dense, members []int, move, ref int, matches [][2]int) {
	_, nGenes := out[move].Dims()
	bias := make([][]float64, len(matches))
	anchors := make([][]float64, len(matches))
	for k, m := range matches {
		b := make([]float64, nGenes)
		floats.SubTo(b, out[ref].RawRowView(m[0]), out[move].RawRowView(m[1]))
		bias[k] = b
		anchors[k] = emb[move].RawRowView(m[1])
	}
	gamma := 0.5 * p.Sigma

	for _, d := range members {
		r, _ := out[d].Dims()
		parallel.Parallelize(r, func(start, end int) {
			logw := make([]float64, len(anchors))
			delta := make([]float64, nGenes)
			for i := start; i < end; i++ {
				cell := emb[d].RawRowView(i)
				for k, a := range anchors {
					logw[k] = -gamma * sqDist(cell, a)
				}
				lse := errors.LogSumExp(logw)
				for j := range delta {
					delta[j] = 0
				}
				for k := range anchors {
					floats.AddScaled(delta, math.Exp(logw[k]-lse), bias[k])
				}
				floats.Add(out[d].RawRowView(i), delta)
			}
		})
	}
}

// knn returns, for every row of q, the indices of its k nearest rows of ref.
func knn(q, ref *mat.Dense, k int) [][]int {
	nq, _ := q.Dims()
	nr, _ := ref.Dims()
	if k > nr {
		k = nr
	}
	out := make([][]int, nq)
	parallel.Parallelize(nq, func(start, end int) {
		idx := make([]int, nr)
		dist := make([]float64, nr)
		for i := start; i < end; i++ {
			row := q.RawRowView(i)
			for j := 0; j < nr; j++ {
				idx[j] = j
				dist[j] = sqDist(row, ref.RawRowView(j))
			}
			sort.Slice(idx, func(a, b int) bool {
				if dist[idx[a]] != dist[idx[b]] {
					return dist[idx[a]] < dist[idx[b]]
				}
				return idx[a] < idx[b]
			})
			out[i] = append([]int(nil), idx[:k]...)
		}
	})
	return out
}

func sqDist(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

func normalizeRow(row []float64) {
	n := floats.Norm(row, 2)
	if n > 0 {
		floats.Scale(1/n, row)
	}
}

func subsampleRows(X *mat.Dense, n int, seed int64) *mat.Dense {
	r, c := X.Dims()
	perm := rand.New(rand.NewSource(seed)).Perm(r)[:n]
	sort.Ints(perm)
	out := mat.NewDense(n, c, nil)
	for k, i := range perm {
		copy(out.RawRowView(k), X.RawRowView(i))
	}
	return out
}
