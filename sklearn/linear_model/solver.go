package linear_model

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// smoothLoss evaluates the differentiable part of an objective at w. When
// grad is non-nil it is overwritten with the gradient.
type smoothLoss func(w, grad []float64) float64

// proxOp applies the proximal operator of the non-smooth part with the given
// step and returns that part's value at the result.
type proxOp func(w []float64, step float64) float64

// fista minimizes loss + prox-part with accelerated proximal gradient,
// backtracking on the Lipschitz estimate and restarting the momentum when
// the objective increases. It returns the number of iterations run and
// whether the relative step fell below tol.
func fista(w []float64, loss smoothLoss, prox proxOp, lipschitz float64, maxIter int, tol float64) (int, bool) {
	n := len(w)
	x := append([]float64(nil), w...)
	y := append([]float64(nil), w...)
	z := make([]float64, n)
	gy := make([]float64, n)
	diff := make([]float64, n)

	L := lipschitz
	if L <= 0 || math.IsNaN(L) || math.IsInf(L, 0) {
		L = 1
	}
	t := 1.0
	fx := loss(x, nil) + prox(append([]float64(nil), x...), 0)

	iter := 0
	converged := false
	for iter < maxIter {
		iter++
		fy := loss(y, gy)

		var fz, gz float64
		for {
			copy(z, y)
			floats.AddScaled(z, -1/L, gy)
			gz = prox(z, 1/L)
			fz = loss(z, nil)

			floats.SubTo(diff, z, y)
			bound := fy + floats.Dot(gy, diff) + 0.5*L*floats.Dot(diff, diff)
			if fz <= bound+1e-12*math.Max(1, math.Abs(fy)) || L > 1e12 {
				break
			}
			L *= 2
		}

		floats.SubTo(diff, z, x)
		step := floats.Norm(diff, math.Inf(1))
		scale := math.Max(1, floats.Norm(z, math.Inf(1)))

		fNew := fz + gz
		if fNew > fx {
			// objective went up: drop the momentum and take a plain step
			t = 1
			copy(y, z)
		} else {
			tNext := (1 + math.Sqrt(1+4*t*t)) / 2
			for i := range y {
				y[i] = z[i] + (t-1)/tNext*(z[i]-x[i])
			}
			t = tNext
		}
		copy(x, z)
		fx = fNew

		if step <= tol*scale {
			converged = true
			break
		}
	}
	copy(w, x)
	return iter, converged
}

// softThreshold is the proximal operator of thresh*|v|.
func softThreshold(v, thresh float64) float64 {
	switch {
	case v > thresh:
		return v - thresh
	case v < -thresh:
		return v + thresh
	}
	return 0
}

// spectralEstimate approximates the largest eigenvalue of X'X/n (with an
// appended column of ones when intercept is set) by power iteration.
func spectralEstimate(X *mat.Dense, intercept bool) float64 {
	n, p := X.Dims()
	width := p
	if intercept {
		width++
	}
	v := make([]float64, width)
	for i := range v {
		v[i] = 1 / math.Sqrt(float64(width))
	}
	xv := make([]float64, n)
	next := make([]float64, width)
	lambda := 0.0
	for it := 0; it < 30; it++ {
		for i := 0; i < n; i++ {
			row := X.RawRowView(i)
			s := floats.Dot(row, v[:p])
			if intercept {
				s += v[p]
			}
			xv[i] = s
		}
		for j := range next {
			next[j] = 0
		}
		for i := 0; i < n; i++ {
			floats.AddScaled(next[:p], xv[i], X.RawRowView(i))
			if intercept {
				next[p] += xv[i]
			}
		}
		floats.Scale(1/float64(n), next)
		norm := floats.Norm(next, 2)
		if norm == 0 {
			return 0
		}
		lambda = norm
		floats.ScaleTo(v, 1/norm, next)
	}
	return lambda
}
