// Package classify implements the Classifiers (C12): k-means++-seeded
// k-means and full-covariance Gaussian-mixture EM over rows of a
// dense matrix, per §4.12.
package classify

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/npl-go/npcore/internal/coreerr"
)

// KMeansResult holds the final assignment and centroids.
type KMeansResult struct {
	Centroids *mat.Dense // k x d
	Labels    []int      // len n
	Iterations int
}

// KMeansOptions configures KMeans.
type KMeansOptions struct {
	K       int
	MaxIter int
	Rand    *rand.Rand
}

// KMeans runs k-means++-seeded Lloyd's algorithm over the rows of x.
func KMeans(x *mat.Dense, opts KMeansOptions) (*KMeansResult, error) {
	n, d := x.Dims()
	if opts.K < 1 || opts.K > n {
		return nil, &coreerr.InvalidArgument{Op: "classify.KMeans", Reason: "k must be in [1, n]"}
	}
	maxIter := opts.MaxIter
	if maxIter <= 0 {
		maxIter = 100
	}
	rnd := opts.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(1))
	}

	centroids := approxKMeansPlusPlus(x, opts.K, rnd)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}

	iterations := 0
	for iter := 0; iter < maxIter; iter++ {
		iterations++
		changed := false
		for i := 0; i < n; i++ {
			row := mat.Row(nil, i, x)
			best, bestDist := 0, math.Inf(1)
			for c := 0; c < opts.K; c++ {
				crow := mat.Row(nil, c, centroids)
				dist := sqDist(row, crow)
				if dist < bestDist {
					bestDist = dist
					best = c
				}
			}
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}

		sums := make([][]float64, opts.K)
		counts := make([]int, opts.K)
		for c := range sums {
			sums[c] = make([]float64, d)
		}
		for i := 0; i < n; i++ {
			row := mat.Row(nil, i, x)
			c := labels[i]
			counts[c]++
			for k := 0; k < d; k++ {
				sums[c][k] += row[k]
			}
		}
		for c := 0; c < opts.K; c++ {
			if counts[c] == 0 {
				continue
			}
			for k := 0; k < d; k++ {
				centroids.Set(c, k, sums[c][k]/float64(counts[c]))
			}
		}
	}

	return &KMeansResult{Centroids: centroids, Labels: labels, Iterations: iterations}, nil
}

// approxKMeansPlusPlus implements the probabilistic k-means++-style
// seeding: the first centroid is uniform-random, each subsequent one is
// drawn with probability proportional to squared distance to the
// nearest already-chosen centroid.
func approxKMeansPlusPlus(x *mat.Dense, k int, rnd *rand.Rand) *mat.Dense {
	n, d := x.Dims()
	centroids := mat.NewDense(k, d, nil)
	first := rnd.Intn(n)
	centroids.SetRow(0, mat.Row(nil, first, x))

	minDist := make([]float64, n)
	for i := range minDist {
		minDist[i] = math.Inf(1)
	}

	for c := 1; c < k; c++ {
		prev := mat.Row(nil, c-1, centroids)
		var total float64
		for i := 0; i < n; i++ {
			row := mat.Row(nil, i, x)
			dist := sqDist(row, prev)
			if dist < minDist[i] {
				minDist[i] = dist
			}
			total += minDist[i]
		}
		if total == 0 {
			centroids.SetRow(c, mat.Row(nil, rnd.Intn(n), x))
			continue
		}
		target := rnd.Float64() * total
		var acc float64
		chosen := n - 1
		for i := 0; i < n; i++ {
			acc += minDist[i]
			if acc >= target {
				chosen = i
				break
			}
		}
		centroids.SetRow(c, mat.Row(nil, chosen, x))
	}
	return centroids
}

func sqDist(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}
