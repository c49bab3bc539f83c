// Package ica implements FastICA (C11): deflation (asymICA) and
// symmetric (symICA) variants over a column-centered, unit-variance
// matrix, per §4.11.
package ica

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/npl-go/npcore/internal/coreerr"
)

// Nonlinearity is g and its derivative g' used by both ICA variants.
type Nonlinearity struct {
	G      func(u float64) float64
	GPrime func(u float64) float64
}

// DefaultNonlinearity is g(u) = u*exp(-u^2/2).
func DefaultNonlinearity() Nonlinearity {
	return Nonlinearity{
		G:      func(u float64) float64 { return u * math.Exp(-u*u/2) },
		GPrime: func(u float64) float64 { return (1 - u*u) * math.Exp(-u*u/2) },
	}
}

// Options configures both ICA variants.
type Options struct {
	Eps          float64
	MaxIter      int
	Nonlinearity Nonlinearity
	Rand         *rand.Rand
}

func defaultOptions(o Options) Options {
	if o.Eps <= 0 {
		o.Eps = 1e-6
	}
	if o.MaxIter <= 0 {
		o.MaxIter = 200
	}
	if o.Nonlinearity.G == nil {
		o.Nonlinearity = DefaultNonlinearity()
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(1))
	}
	return o
}

// Result is the output of either ICA variant: S = Y*W, and W itself.
type Result struct {
	S *mat.Dense
	W *mat.Dense
}

// Deflation runs asymICA: one component at a time, Gram-Schmidt
// against already-accepted columns of W, fixed-point iteration to
// convergence, then re-deflation and re-normalization each step.
func Deflation(y *mat.Dense, opts Options) (*Result, error) {
	opts = defaultOptions(opts)
	n, d := y.Dims()
	if n < 2 {
		return nil, &coreerr.InvalidArgument{Op: "ica.Deflation", Reason: "need at least 2 samples"}
	}
	w := mat.NewDense(d, d, nil)

	for p := 0; p < d; p++ {
		wp := randUnit(d, opts.Rand)
		for iter := 0; iter < opts.MaxIter; iter++ {
			gs(wp, w, p)
			normalize(wp)

			u := make([]float64, n)
			for i := 0; i < n; i++ {
				row := mat.Row(nil, i, y)
				u[i] = dot(row, wp)
			}
			var gSum, gPrimeSum float64
			grad := make([]float64, d)
			for i := 0; i < n; i++ {
				gv := opts.Nonlinearity.G(u[i])
				gpv := opts.Nonlinearity.GPrime(u[i])
				row := mat.Row(nil, i, y)
				for k := range grad {
					grad[k] += row[k] * gv
				}
				gSum += gv
				gPrimeSum += gpv
			}
			_ = gSum
			wNew := make([]float64, d)
			meanGPrime := gPrimeSum / float64(n)
			for k := range wNew {
				wNew[k] = grad[k]/float64(n) - meanGPrime*wp[k]
			}
			gs(wNew, w, p)
			normalize(wNew)

			dotPrev := dot(wNew, wp)
			copy(wp, wNew)
			if math.Abs(1-math.Abs(dotPrev)) < opts.Eps {
				break
			}
		}
		w.SetCol(p, wp)
	}

	var s mat.Dense
	s.Mul(y, w)
	return &Result{S: &s, W: w}, nil
}

// Symmetric runs symICA: a single orthogonal W updated all at once each
// iteration via the Armijo-style fixed point, symmetrically
// decorrelated through its eigen-decomposition.
func Symmetric(y *mat.Dense, opts Options) (*Result, error) {
	opts = defaultOptions(opts)
	n, d := y.Dims()
	if n < 2 {
		return nil, &coreerr.InvalidArgument{Op: "ica.Symmetric", Reason: "need at least 2 samples"}
	}

	w := randomOrthogonal(d, opts.Rand)
	var prevObj float64
	for iter := 0; iter < opts.MaxIter; iter++ {
		var yw mat.Dense
		yw.Mul(y, w) // n x d

		wPlus := mat.NewDense(d, d, nil)
		var obj float64
		for c := 0; c < d; c++ {
			col := mat.Col(nil, c, &yw)
			var gPrimeSum float64
			grad := make([]float64, d)
			for i := 0; i < n; i++ {
				gv := opts.Nonlinearity.G(col[i])
				gpv := opts.Nonlinearity.GPrime(col[i])
				row := mat.Row(nil, i, y)
				for k := range grad {
					grad[k] += row[k] * gv
				}
				gPrimeSum += gpv
				obj += gv
			}
			meanGPrime := gPrimeSum / float64(n)
			wc := mat.Col(nil, c, w)
			for k := range grad {
				grad[k] = grad[k]/float64(n) - meanGPrime*wc[k]
			}
			wPlus.SetCol(c, grad)
		}

		decorrelated, err := symmetricDecorrelate(wPlus)
		if err != nil {
			return nil, err
		}

		maxAbsDot := 0.0
		for c := 0; c < d; c++ {
			prevCol := mat.Col(nil, c, w)
			newCol := mat.Col(nil, c, decorrelated)
			dp := dot(prevCol, newCol)
			if math.Abs(dp) > maxAbsDot {
				maxAbsDot = math.Abs(dp)
			}
		}
		w = decorrelated

		converged := math.Abs(1-maxAbsDot) < opts.Eps && math.Abs(obj-prevObj) < opts.Eps
		prevObj = obj
		if converged {
			break
		}
	}

	var s mat.Dense
	s.Mul(y, w)
	return &Result{S: &s, W: w}, nil
}

// symmetricDecorrelate computes W*(WᵀW)^{-1/2} via the eigen-
// decomposition of WᵀW.
func symmetricDecorrelate(w *mat.Dense) (*mat.Dense, error) {
	d, _ := w.Dims()
	var wtw mat.SymDense
	wtw.SymOuterK(1, w.T())

	var eig mat.EigenSym
	ok := eig.Factorize(&wtw, true)
	if !ok {
		return nil, &coreerr.NumericError{Op: "ica.symmetricDecorrelate", Reason: "eigendecomposition of WᵀW failed"}
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	invSqrt := mat.NewDense(d, d, nil)
	for i, v := range values {
		if v <= 0 {
			v = 1e-12
		}
		invSqrt.Set(i, i, 1/math.Sqrt(v))
	}
	var tmp, tmp2, result mat.Dense
	tmp.Mul(&vectors, invSqrt)
	tmp2.Mul(&tmp, vectors.T())
	result.Mul(w, &tmp2)
	return &result, nil
}

func randomOrthogonal(d int, rnd *rand.Rand) *mat.Dense {
	data := make([]float64, d*d)
	for i := range data {
		data[i] = rnd.NormFloat64()
	}
	m := mat.NewDense(d, d, data)
	var qr mat.QR
	qr.Factorize(m)
	var q mat.Dense
	qr.QTo(&q)
	return &q
}

func randUnit(d int, rnd *rand.Rand) []float64 {
	v := make([]float64, d)
	for i := range v {
		v[i] = rnd.NormFloat64()
	}
	normalize(v)
	return v
}

func normalize(v []float64) {
	norm := math.Sqrt(dot(v, v))
	if norm == 0 {
		return
	}
	for i := range v {
		v[i] /= norm
	}
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// gs Gram-Schmidt-orthogonalizes v against the first p columns of w.
func gs(v []float64, w *mat.Dense, p int) {
	for c := 0; c < p; c++ {
		col := mat.Col(nil, c, w)
		proj := dot(v, col)
		for i := range v {
			v[i] -= proj * col[i]
		}
	}
}
