package classify

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/npl-go/npcore/internal/coreerr"
)

// GMMResult holds the converged mixture parameters and per-row
// responsibilities.
type GMMResult struct {
	Means          []*mat.VecDense // k, each length d
	Covariances    []*mat.SymDense // k, each d x d
	Priors         []float64       // k
	Responsibility *mat.Dense      // n x k
	LogLikelihood  float64
	Iterations     int
}

// GMMOptions configures the EM run.
type GMMOptions struct {
	K       int
	MaxIter int
	Tol     float64 // convergence threshold on |Δ log L|, default 1
	Rand    *rand.Rand
}

// GMM runs full-covariance Gaussian-mixture EM over the rows of x.
func GMM(x *mat.Dense, opts GMMOptions) (*GMMResult, error) {
	n, d := x.Dims()
	if opts.K < 1 || opts.K > n {
		return nil, &coreerr.InvalidArgument{Op: "classify.GMM", Reason: "k must be in [1, n]"}
	}
	maxIter := opts.MaxIter
	if maxIter <= 0 {
		maxIter = 200
	}
	tol := opts.Tol
	if tol <= 0 {
		tol = 1
	}
	rnd := opts.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(1))
	}

	km, err := KMeans(x, KMeansOptions{K: opts.K, Rand: rnd})
	if err != nil {
		return nil, err
	}

	means := make([]*mat.VecDense, opts.K)
	covs := make([]*mat.SymDense, opts.K)
	priors := make([]float64, opts.K)
	for c := 0; c < opts.K; c++ {
		means[c] = mat.NewVecDense(d, mat.Row(nil, c, km.Centroids))
		covs[c] = identityCov(d)
		priors[c] = 1.0 / float64(opts.K)
	}

	resp := mat.NewDense(n, opts.K, nil)
	var prevLL float64
	iterations := 0

	for iter := 0; iter < maxIter; iter++ {
		iterations++
		ll := eStep(x, means, covs, priors, resp)
		reseedEmptyComponents(resp, rnd)
		mStep(x, resp, means, covs, priors)

		if iter > 0 && math.Abs(ll-prevLL) <= tol {
			prevLL = ll
			break
		}
		prevLL = ll
	}

	return &GMMResult{Means: means, Covariances: covs, Priors: priors, Responsibility: resp, LogLikelihood: prevLL, Iterations: iterations}, nil
}

func identityCov(d int) *mat.SymDense {
	data := make([]float64, d*d)
	for i := 0; i < d; i++ {
		data[i*d+i] = 1
	}
	return mat.NewSymDense(d, data)
}

// eStep computes p_ij ∝ τ_j * N(x_i | μ_j, Σ_j), row-normalizes into
// resp, and returns the log-likelihood accumulated from the
// unnormalized row sums.
func eStep(x *mat.Dense, means []*mat.VecDense, covs []*mat.SymDense, priors []float64, resp *mat.Dense) float64 {
	n, d := x.Dims()
	k := len(means)
	invs := make([]*mat.Dense, k)
	logDets := make([]float64, k)
	for c := 0; c < k; c++ {
		var chol mat.Cholesky
		ok := chol.Factorize(covs[c])
		if !ok {
			// degenerate covariance: fall back to identity (no move in
			// this direction).
			covs[c] = identityCov(d)
			chol.Factorize(covs[c])
		}
		var inv mat.Dense
		if err := chol.InverseTo(&inv); err != nil {
			covs[c] = identityCov(d)
			chol.Factorize(covs[c])
			chol.InverseTo(&inv)
		}
		invs[c] = &inv
		logDets[c] = chol.LogDet()
	}

	var ll float64
	for i := 0; i < n; i++ {
		row := mat.NewVecDense(d, mat.Row(nil, i, x))
		unnorm := make([]float64, k)
		var rowSum float64
		for c := 0; c < k; c++ {
			diff := mat.NewVecDense(d, nil)
			diff.SubVec(row, means[c])
			var tmp mat.VecDense
			tmp.MulVec(invs[c], diff)
			quad := mat.Dot(diff, &tmp)
			logPdf := -0.5*quad - 0.5*logDets[c] - float64(d)/2*math.Log(2*math.Pi)
			unnorm[c] = priors[c] * math.Exp(logPdf)
			rowSum += unnorm[c]
		}
		if rowSum == 0 {
			rowSum = 1e-300
		}
		ll += math.Log(rowSum)
		for c := 0; c < k; c++ {
			resp.Set(i, c, unnorm[c]/rowSum)
		}
	}
	return ll
}

// reseedEmptyComponents probabilistically re-seeds rows whose dominant
// responsibility belongs to a component with (near) zero total weight.
func reseedEmptyComponents(resp *mat.Dense, rnd *rand.Rand) {
	n, k := resp.Dims()
	colSums := make([]float64, k)
	for c := 0; c < k; c++ {
		for i := 0; i < n; i++ {
			colSums[c] += resp.At(i, c)
		}
	}
	for c := 0; c < k; c++ {
		if colSums[c] > 1e-6 {
			continue
		}
		for i := 0; i < n; i++ {
			dominant := argmaxRow(resp, i)
			if dominant != c {
				continue
			}
			for cc := 0; cc < k; cc++ {
				resp.Set(i, cc, rnd.Float64())
			}
			normalizeRow(resp, i)
		}
	}
}

func argmaxRow(m *mat.Dense, row int) int {
	_, cols := m.Dims()
	best, bestVal := 0, math.Inf(-1)
	for c := 0; c < cols; c++ {
		if v := m.At(row, c); v > bestVal {
			bestVal = v
			best = c
		}
	}
	return best
}

func normalizeRow(m *mat.Dense, row int) {
	_, cols := m.Dims()
	var sum float64
	for c := 0; c < cols; c++ {
		sum += m.At(row, c)
	}
	if sum == 0 {
		return
	}
	for c := 0; c < cols; c++ {
		m.Set(row, c, m.At(row, c)/sum)
	}
}

// mStep updates τ, μ, Σ from the current responsibilities.
func mStep(x *mat.Dense, resp *mat.Dense, means []*mat.VecDense, covs []*mat.SymDense, priors []float64) {
	n, d := x.Dims()
	k := len(means)
	colSums := make([]float64, k)
	var total float64
	for c := 0; c < k; c++ {
		for i := 0; i < n; i++ {
			colSums[c] += resp.At(i, c)
		}
		total += colSums[c]
	}
	for c := 0; c < k; c++ {
		if total == 0 {
			priors[c] = 1.0 / float64(k)
		} else {
			priors[c] = colSums[c] / total
		}

		newMean := make([]float64, d)
		for i := 0; i < n; i++ {
			w := resp.At(i, c)
			row := mat.Row(nil, i, x)
			for j := 0; j < d; j++ {
				newMean[j] += w * row[j]
			}
		}
		denom := colSums[c]
		if denom == 0 {
			denom = 1
		}
		for j := range newMean {
			newMean[j] /= denom
		}
		means[c] = mat.NewVecDense(d, newMean)

		covData := make([]float64, d*d)
		for i := 0; i < n; i++ {
			w := resp.At(i, c)
			row := mat.Row(nil, i, x)
			diff := make([]float64, d)
			for j := 0; j < d; j++ {
				diff[j] = row[j] - newMean[j]
			}
			for a := 0; a < d; a++ {
				for b := 0; b < d; b++ {
					covData[a*d+b] += w * diff[a] * diff[b]
				}
			}
		}
		for i := range covData {
			covData[i] /= denom
		}
		// symmetrize to guard against floating-point drift before
		// wrapping in SymDense.
		for a := 0; a < d; a++ {
			for b := a + 1; b < d; b++ {
				avg := (covData[a*d+b] + covData[b*d+a]) / 2
				covData[a*d+b] = avg
				covData[b*d+a] = avg
			}
		}
		covs[c] = mat.NewSymDense(d, covData)
	}
}
