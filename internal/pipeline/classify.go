package pipeline

import (
	"gonum.org/v1/gonum/mat"

	"github.com/npl-go/npcore/internal/classify"
)

// ClassifyMethod selects the post-processing classifier run over ICA
// component maps, per spec.md §4.12's use-case note and
// original_source/tools/simplesegment.cpp.
type ClassifyMethod int

const (
	ClassifyKMeans ClassifyMethod = iota
	ClassifyGMM
)

// ClassifyOptions configures ClassifyComponents.
type ClassifyOptions struct {
	Method  ClassifyMethod
	KMeans  classify.KMeansOptions
	GMM     classify.GMMOptions
}

// ClassifyResult normalizes the two classifier outputs to a common
// shape: per-row (per-component, or per-voxel if Components is
// transposed by the caller) group assignment.
type ClassifyResult struct {
	Labels []int
	KMeans *classify.KMeansResult
	GMM    *classify.GMMResult
}

// ClassifyComponents partitions the rows of components (e.g. a
// components x voxels spatial-map matrix, or its transpose for a
// per-voxel classification) into groups via k-means or Gaussian-mixture
// EM, the classifier post-processing step spec.md §2 names as C12's
// use-case against group-ICA output.
func ClassifyComponents(components *mat.Dense, opts ClassifyOptions) (*ClassifyResult, error) {
	switch opts.Method {
	case ClassifyGMM:
		res, err := classify.GMM(components, opts.GMM)
		if err != nil {
			return nil, err
		}
		labels := make([]int, 0)
		rows, _ := res.Responsibility.Dims()
		for i := 0; i < rows; i++ {
			labels = append(labels, argmax(res.Responsibility, i))
		}
		return &ClassifyResult{Labels: labels, GMM: res}, nil
	default:
		res, err := classify.KMeans(components, opts.KMeans)
		if err != nil {
			return nil, err
		}
		return &ClassifyResult{Labels: res.Labels, KMeans: res}, nil
	}
}

func argmax(m *mat.Dense, row int) int {
	_, cols := m.Dims()
	best := 0
	bestV := m.At(row, 0)
	for j := 1; j < cols; j++ {
		if v := m.At(row, j); v > bestV {
			bestV = v
			best = j
		}
	}
	return best
}
