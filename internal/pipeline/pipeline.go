// Package pipeline orchestrates the group-ICA pipeline (C9 -> C10 ->
// C11 -> C12) end to end: reorganize a grid of 4-D images into tall
// chunks, extract a reduced basis via randomized SVD, unmix it with
// FastICA, and optionally post-process the resulting components with
// a classifier. This is the Go-native equivalent of the original
// tree's fmri_gica2/gica_ica front ends (spec.md's distillation names
// C9-C11 as library components; SPEC_FULL.md carries the tool-level
// orchestration those front ends provided).
package pipeline

import (
	"log/slog"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/npl-go/npcore/internal/coreerr"
	"github.com/npl-go/npcore/internal/ica"
	"github.com/npl-go/npcore/internal/mrimage"
	"github.com/npl-go/npcore/internal/ndarray"
	"github.com/npl-go/npcore/internal/reorg"
	"github.com/npl-go/npcore/internal/rsvd"
)

// GroupICAOptions configures RunGroupICA.
type GroupICAOptions struct {
	// Images is a T x S grid (time-major) of 4-D volumes, as in
	// reorg.BuildOptions.
	Images [][]*mrimage.Image
	// Masks is one mask per space-block; a nil entry derives a
	// non-zero-variance mask from Images[0][s].
	Masks []*ndarray.Store
	// Prefix is the tall-chunk file prefix passed to reorg.Build.
	Prefix string
	// MaxDoubles caps per-chunk memory, per reorg.BuildOptions.
	MaxDoubles int
	// Normalize z-scores each voxel's time series before reorg writes it.
	Normalize bool

	// RSVD controls the randomized-SVD range finder; zero value uses
	// its documented defaults.
	RSVD rsvd.Options
	// VarianceThreshold selects the final rank via rsvd.SelectRank; if
	// <= 0, the full basis rsvd.Run returns is kept.
	VarianceThreshold float64

	// Method selects the FastICA variant: "deflation" (default) or
	// "symmetric".
	Method string
	// NumComponents is the number of independent components to
	// extract; 0 uses the full reduced-basis rank.
	NumComponents int
	ICA           ica.Options
}

// GroupICAResult is the output of the full reorg -> rSVD -> ICA chain.
type GroupICAResult struct {
	Reorg     *reorg.Reorg
	SVD       *rsvd.Result
	Rank      int
	Sources   *mat.Dense // S = Y*W, n-components rows... see ica.Result
	Unmixing  *mat.Dense
	Whitened  *mat.Dense
}

// RunGroupICA drives the full pipeline without ever materializing the
// implicit R x C time-series matrix: reorg.Build produces tall chunks,
// rsvd.Run reduces them to a basis of the chosen rank entirely through
// reorg's PostMult/PreMult, and the selected FastICA variant unmixes
// the reduced (column-centered, unit-variance) basis.
//
// The returned Reorg is left open (its Close method releases the
// chunk mmaps); callers that only need the ICA result should call
// result.Reorg.Close() once done.
func RunGroupICA(opts GroupICAOptions) (*GroupICAResult, error) {
	r, err := reorg.Build(reorg.BuildOptions{
		Images:     opts.Images,
		Masks:      opts.Masks,
		Prefix:     opts.Prefix,
		MaxDoubles: opts.MaxDoubles,
		Normalize:  opts.Normalize,
	})
	if err != nil {
		return nil, err
	}

	slog.Info("pipeline: reorg complete", "rows", r.Rows, "cols", r.Cols, "prefix", opts.Prefix)

	svd, err := rsvd.Run(r, opts.RSVD)
	if err != nil {
		r.Close()
		return nil, err
	}

	rank := len(svd.Sigma)
	if opts.VarianceThreshold > 0 {
		rank = rsvd.SelectRank(svd.Sigma, opts.VarianceThreshold)
	}
	if opts.NumComponents > 0 && opts.NumComponents < rank {
		rank = opts.NumComponents
	}
	slog.Info("pipeline: rsvd complete", "full_rank", len(svd.Sigma), "selected_rank", rank)

	y := columnCenterUnitVariance(trimColumns(svd.V, rank))

	method := opts.Method
	if method == "" {
		method = "deflation"
	}

	var sources, unmixing *mat.Dense
	switch method {
	case "symmetric":
		res, err := ica.Symmetric(y, opts.ICA)
		if err != nil {
			r.Close()
			return nil, err
		}
		sources, unmixing = res.S, res.W
	case "deflation":
		res, err := ica.Deflation(y, opts.ICA)
		if err != nil {
			r.Close()
			return nil, err
		}
		sources, unmixing = res.S, res.W
	default:
		r.Close()
		return nil, &coreerr.InvalidArgument{Op: "pipeline.RunGroupICA", Reason: "unknown method: " + method}
	}

	return &GroupICAResult{
		Reorg:    r,
		SVD:      svd,
		Rank:     rank,
		Sources:  sources,
		Unmixing: unmixing,
		Whitened: y,
	}, nil
}

// trimColumns returns the first k columns of m (k <= m.ColView count).
func trimColumns(m *mat.Dense, k int) *mat.Dense {
	rows, cols := m.Dims()
	if k <= 0 || k > cols {
		k = cols
	}
	out := mat.NewDense(rows, k, nil)
	out.Copy(m.Slice(0, rows, 0, k))
	return out
}

// columnCenterUnitVariance subtracts each column's mean and scales it
// to unit variance, the preconditioning §4.11 requires of Y before
// either FastICA variant runs.
func columnCenterUnitVariance(m *mat.Dense) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense(rows, cols, nil)
	for j := 0; j < cols; j++ {
		var mean float64
		for i := 0; i < rows; i++ {
			mean += m.At(i, j)
		}
		mean /= float64(rows)

		var variance float64
		for i := 0; i < rows; i++ {
			d := m.At(i, j) - mean
			variance += d * d
		}
		variance /= float64(rows)
		std := 1.0
		if variance > 0 {
			std = math.Sqrt(variance)
		}
		for i := 0; i < rows; i++ {
			out.Set(i, j, (m.At(i, j)-mean)/std)
		}
	}
	return out
}
