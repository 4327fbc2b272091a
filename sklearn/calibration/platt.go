package calibration

import (
	"math"

	"github.com/mariiabilous/besca/pkg/errors"
)

// Sigmoid maps a decision value f to P(y=1|f) = 1 / (1 + exp(A*f + B)).
type Sigmoid struct {
	A, B float64
}

// Prob evaluates the fitted sigmoid at f.
func (s Sigmoid) Prob(f float64) float64 {
	z := s.A*f + s.B
	if z >= 0 {
		e := math.Exp(-z)
		return e / (1 + e)
	}
	return 1 / (1 + math.Exp(z))
}

const (
	plattMaxIter = 100
	plattMinStep = 1e-10
	plattSigma   = 1e-12
	plattEps     = 1e-5
)

// FitSigmoid fits Platt's sigmoid to decision values f and binary targets
// (positive when true) with the Newton method and backtracking line search
// of Lin, Lin and Weng. Targets are smoothed to (N+ + 1)/(N+ + 2) and
// 1/(N- + 2).
func FitSigmoid(f []float64, positive []bool) (Sigmoid, error) {
	if len(f) != len(positive) {
		return Sigmoid{}, errors.NewDimensionError("FitSigmoid", len(f), len(positive), 0)
	}
	if len(f) == 0 {
		return Sigmoid{}, errors.NewModelError("FitSigmoid", "empty data", errors.ErrEmptyData)
	}
	for _, fi := range f {
		if err := errors.CheckScalar("FitSigmoid", fi, 0); err != nil {
			return Sigmoid{}, err
		}
	}

	var prior1, prior0 float64
	for _, p := range positive {
		if p {
			prior1++
		} else {
			prior0++
		}
	}
	hi, lo := (prior1+1)/(prior1+2), 1/(prior0+2)
	t := make([]float64, len(f))
	for i, p := range positive {
		t[i] = lo
		if p {
			t[i] = hi
		}
	}

	objective := func(a, b float64) float64 {
		v := 0.0
		for i, fi := range f {
			z := fi*a + b
			if z >= 0 {
				v += t[i]*z + math.Log1p(math.Exp(-z))
			} else {
				v += (t[i]-1)*z + math.Log1p(math.Exp(z))
			}
		}
		return v
	}

	a, b := 0.0, math.Log((prior0+1)/(prior1+1))
	fval := objective(a, b)
	for it := 0; it < plattMaxIter; it++ {
		h11, h22, h21, g1, g2 := plattSigma, plattSigma, 0.0, 0.0, 0.0
		for i, fi := range f {
			z := fi*a + b
			var p, q float64
			if z >= 0 {
				e := math.Exp(-z)
				p, q = e/(1+e), 1/(1+e)
			} else {
				e := math.Exp(z)
				p, q = 1/(1+e), e/(1+e)
			}
			d2 := p * q
			h11 += fi * fi * d2
			h22 += d2
			h21 += fi * d2
			d1 := t[i] - p
			g1 += fi * d1
			g2 += d1
		}
		if math.Abs(g1) < plattEps && math.Abs(g2) < plattEps {
			break
		}

		det := h11*h22 - h21*h21
		dA := -(h22*g1 - h21*g2) / det
		dB := -(-h21*g1 + h11*g2) / det
		gd := g1*dA + g2*dB

		step := 1.0
		for step >= plattMinStep {
			na, nb := a+step*dA, b+step*dB
			if nf := objective(na, nb); nf < fval+1e-4*step*gd {
				a, b, fval = na, nb, nf
				break
			}
			step /= 2
		}
		if step < plattMinStep {
			// line search failed; keep the last accepted point
			break
		}
	}
	if err := errors.CheckScalar("FitSigmoid.A", a, 0); err != nil {
		return Sigmoid{}, err
	}
	if err := errors.CheckScalar("FitSigmoid.B", b, 0); err != nil {
		return Sigmoid{}, err
	}
	return Sigmoid{A: a, B: b}, nil
}
