// Package rsvd implements the Randomized SVD over Reorg (C10): the
// transposed form of the Halko-Martinsson-Tropp randomized range finder
// and a deterministic thin-SVD finish, operating only through
// reorg.Reorg's PostMult/PreMult so the full matrix is never formed.
package rsvd

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/npl-go/npcore/internal/coreerr"
	"github.com/npl-go/npcore/internal/reorg"
)

// Options configures Run.
type Options struct {
	StartRank      int // default ceil(log2(min(R,C))) if 0
	MaxRank        int // hard cap on basis size, default Cols
	PowerIters     int // default 1
	Tol            float64
	RejectTol      float64 // residual-norm threshold for basis rejection, default 1e-10
	Rand           *rand.Rand
}

// Result is the output of a randomized SVD run: X ≈ V·Σ·Uᵀ in the
// transposed-problem sense the spec describes (§4.10 point 6).
type Result struct {
	V          *mat.Dense   // R x rank
	U          *mat.Dense   // C x rank
	Sigma      []float64    // length rank, descending
	Iterations int
}

func defaultOptions(o Options, r, c int) Options {
	if o.StartRank <= 0 {
		o.StartRank = int(math.Ceil(math.Log2(float64(minInt(r, c)))))
		if o.StartRank < 1 {
			o.StartRank = 1
		}
	}
	if o.MaxRank <= 0 {
		o.MaxRank = c
	}
	if o.PowerIters <= 0 {
		o.PowerIters = 1
	}
	if o.RejectTol <= 0 {
		o.RejectTol = 1e-10
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(1))
	}
	return o
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Run computes a randomized SVD of the Rows x Cols matrix r represents.
func Run(r *reorg.Reorg, opts Options) (*Result, error) {
	opts = defaultOptions(opts, r.Rows, r.Cols)

	basis := mat.NewDense(r.Cols, 0, nil)
	iterations := 0
	maxOuterLoops := opts.MaxRank/opts.StartRank + 2
	for loop := 0; loop < maxOuterLoops; loop++ {
		iterations++
		cols := basis.RawMatrix().Cols
		if cols >= opts.MaxRank || cols >= r.Cols {
			break
		}
		rank := opts.StartRank
		if cols+rank > opts.MaxRank {
			rank = opts.MaxRank - cols
		}

		omega := randGaussian(r.Rows, rank, opts.Rand)
		y, err := r.PostMult(omega, true) // Y := Xᵀ·Ω, C x rank
		if err != nil {
			return nil, err
		}
		q, err := orthonormalColumns(y)
		if err != nil {
			return nil, err
		}

		for p := 0; p < opts.PowerIters; p++ {
			yHat, err := r.PostMult(q, false) // Ŷ := X·Q, R x rank
			if err != nil {
				return nil, err
			}
			qHat, err := orthonormalColumns(yHat)
			if err != nil {
				return nil, err
			}
			y2, err := r.PostMult(qHat, true) // Y := Xᵀ·Q̂
			if err != nil {
				return nil, err
			}
			q, err = orthonormalColumns(y2)
			if err != nil {
				return nil, err
			}
		}

		survivors := orthogonalizeAgainst(q, basis, opts.RejectTol)
		if survivors.RawMatrix().Cols == 0 {
			break
		}
		basis = appendColumns(basis, survivors)
	}

	q := basis
	b, err := r.PreMult(transpose(q), false) // B := Qᵀ·X, rank x Cols... actually in*X with in = Qᵀ (rank x Rows)
	if err != nil {
		return nil, err
	}

	var svd mat.SVD
	ok := svd.Factorize(b, mat.SVDThin)
	if !ok {
		return nil, &coreerr.RuntimeError{Op: "rsvd.Run", Err: errSVDFailed}
	}
	sigma := svd.Values(nil)
	var uHat, vHat mat.Dense
	svd.UTo(&uHat)
	svd.VTo(&vHat)

	var v mat.Dense
	v.Mul(q, &uHat)

	return &Result{V: &v, U: &vHat, Sigma: sigma, Iterations: iterations}, nil
}

var errSVDFailed = &coreerr.RuntimeError{Op: "rsvd.Run"}

func randGaussian(rows, cols int, rnd *rand.Rand) *mat.Dense {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = rnd.NormFloat64()
	}
	return mat.NewDense(rows, cols, data)
}

// orthonormalColumns returns an orthonormal basis for the column space
// of m via (thin) QR.
func orthonormalColumns(m *mat.Dense) (*mat.Dense, error) {
	var qr mat.QR
	qr.Factorize(m)
	rows, cols := m.Dims()
	var q mat.Dense
	qr.QTo(&q)
	if rows > cols {
		// keep only the first `cols` columns of the (square) Q.
		thin := mat.NewDense(rows, cols, nil)
		thin.Copy(q.Slice(0, rows, 0, cols))
		return thin, nil
	}
	return &q, nil
}

// orthogonalizeAgainst applies modified Gram-Schmidt (twice) to q's
// columns against the already-accepted basis, rejecting columns whose
// residual norm falls at or below tol.
func orthogonalizeAgainst(q, basis *mat.Dense, tol float64) *mat.Dense {
	rows, cols := q.Dims()
	_, basisCols := basis.Dims()
	var kept []([]float64)
	for c := 0; c < cols; c++ {
		v := mat.Col(nil, c, q)
		for pass := 0; pass < 2; pass++ {
			for b := 0; b < basisCols; b++ {
				u := mat.Col(nil, b, basis)
				proj := dot(u, v)
				for i := range v {
					v[i] -= proj * u[i]
				}
			}
			for _, k := range kept {
				proj := dot(k, v)
				for i := range v {
					v[i] -= proj * k[i]
				}
			}
		}
		norm := math.Sqrt(dot(v, v))
		if norm <= tol {
			continue
		}
		for i := range v {
			v[i] /= norm
		}
		kept = append(kept, v)
	}
	out := mat.NewDense(rows, len(kept), nil)
	for c, v := range kept {
		out.SetCol(c, v)
	}
	return out
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func appendColumns(a, b *mat.Dense) *mat.Dense {
	rows, aCols := a.Dims()
	_, bCols := b.Dims()
	out := mat.NewDense(rows, aCols+bCols, nil)
	out.Slice(0, rows, 0, aCols).(*mat.Dense).Copy(a)
	out.Slice(0, rows, aCols, aCols+bCols).(*mat.Dense).Copy(b)
	return out
}

func transpose(m *mat.Dense) *mat.Dense {
	var t mat.Dense
	t.CloneFrom(m.T())
	return &t
}

// SelectRank returns the smallest k such that Σ₀+...+Σ_{k-1} ≥ τ·ΣΣ,
// the variance-threshold rank-selection criterion of §4.10.
func SelectRank(sigma []float64, tau float64) int {
	var total float64
	for _, s := range sigma {
		total += s
	}
	if total == 0 {
		return 0
	}
	var acc float64
	for k, s := range sigma {
		acc += s
		if acc >= tau*total {
			return k + 1
		}
	}
	return len(sigma)
}
