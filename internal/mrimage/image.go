// Package mrimage implements the Oriented Image (C4): an Array Store
// plus direction/spacing/origin, the derived index↔RAS affine, and
// medical metadata (slice timing, phase/frequency/slice dimension
// indices).
package mrimage

import (
	"sort"

	"github.com/npl-go/npcore/internal/coreerr"
	"github.com/npl-go/npcore/internal/ndarray"
	"gonum.org/v1/gonum/mat"
)

// SliceOrder identifies the slice-timing acquisition pattern.
type SliceOrder int

const (
	SliceOrderUnset SliceOrder = iota
	SliceOrderSeq              // SEQ
	SliceOrderRSeq             // RSEQ
	SliceOrderAlt              // ALT
	SliceOrderRAlt             // RALT
	SliceOrderAltShift         // ALT_SHFT
	SliceOrderRAltShift        // RALT_SHFT
)

// SliceTiming is one (index, acquisition time) pair.
type SliceTiming struct {
	Index int
	Time  float64
}

// Image is an ndarray.Store plus orientation and medical metadata. The
// affine A = [R·diag(s) origin; 0 1] and its inverse are recomputed
// whenever origin, spacing, or direction change, before the next
// index↔point call returns.
type Image struct {
	Store *ndarray.Store

	origin    []float64
	spacing   []float64
	direction *mat.Dense // N x N orthonormal

	affine    *mat.Dense // (N+1) x (N+1)
	affineInv *mat.Dense

	FreqDim, PhaseDim, SliceDim int // -1 if unset
	SliceDuration               float64
	SliceStart, SliceEnd        int
	SliceOrderVal               SliceOrder
	sliceTiming                 map[int]float64
}

// New constructs an Image over s with origin/spacing/direction defaulted
// to zero/one/identity.
func New(s *ndarray.Store) *Image {
	n := s.Rank()
	origin := make([]float64, n)
	spacing := make([]float64, n)
	dir := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		spacing[i] = 1
		dir.Set(i, i, 1)
	}
	img := &Image{
		Store:        s,
		origin:       origin,
		spacing:      spacing,
		direction:    dir,
		FreqDim:      -1,
		PhaseDim:     -1,
		SliceDim:     -1,
		sliceTiming:  make(map[int]float64),
	}
	img.recompute()
	return img
}

func (img *Image) recompute() {
	n := img.Store.Rank()
	a := mat.NewDense(n+1, n+1, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			a.Set(i, j, img.direction.At(i, j)*img.spacing[j])
		}
		a.Set(i, n, img.origin[i])
	}
	a.Set(n, n, 1)
	img.affine = a

	inv := mat.NewDense(n+1, n+1, nil)
	if err := inv.Inverse(a); err != nil {
		// Degenerate direction matrix: fall back to identity so callers
		// still get a defined (if useless) affine rather than a panic.
		for i := 0; i <= n; i++ {
			inv.Set(i, i, 1)
		}
	}
	img.affineInv = inv
}

// SetOrient replaces origin, spacing, and direction in one call and
// recomputes the affine. reinit, if true, also clears medical metadata.
func (img *Image) SetOrient(origin, spacing []float64, direction *mat.Dense, reinit bool) error {
	n := img.Store.Rank()
	if len(origin) != n || len(spacing) != n {
		return &coreerr.InvalidArgument{Op: "mrimage.SetOrient", Reason: "origin/spacing arity must match rank"}
	}
	for _, sp := range spacing {
		if sp <= 0 {
			return &coreerr.InvalidArgument{Op: "mrimage.SetOrient", Reason: "spacing must be positive"}
		}
	}
	r, c := direction.Dims()
	if r != n || c != n {
		return &coreerr.InvalidArgument{Op: "mrimage.SetOrient", Reason: "direction must be N x N"}
	}
	img.origin = append([]float64(nil), origin...)
	img.spacing = append([]float64(nil), spacing...)
	img.direction = mat.DenseCopyOf(direction)
	if reinit {
		img.FreqDim, img.PhaseDim, img.SliceDim = -1, -1, -1
		img.sliceTiming = make(map[int]float64)
	}
	img.recompute()
	return nil
}

// SetOrigin updates origin and recomputes the affine.
func (img *Image) SetOrigin(origin []float64) error {
	if len(origin) != img.Store.Rank() {
		return &coreerr.InvalidArgument{Op: "mrimage.SetOrigin", Reason: "arity mismatch"}
	}
	img.origin = append([]float64(nil), origin...)
	img.recompute()
	return nil
}

// SetSpacing updates spacing and recomputes the affine.
func (img *Image) SetSpacing(spacing []float64) error {
	if len(spacing) != img.Store.Rank() {
		return &coreerr.InvalidArgument{Op: "mrimage.SetSpacing", Reason: "arity mismatch"}
	}
	for _, sp := range spacing {
		if sp <= 0 {
			return &coreerr.InvalidArgument{Op: "mrimage.SetSpacing", Reason: "spacing must be positive"}
		}
	}
	img.spacing = append([]float64(nil), spacing...)
	img.recompute()
	return nil
}

// Affine returns the current index-to-point affine A.
func (img *Image) Affine() *mat.Dense { return img.affine }

// AffineInv returns the current point-to-index affine A⁻¹.
func (img *Image) AffineInv() *mat.Dense { return img.affineInv }

// Origin returns a copy of the image origin.
func (img *Image) Origin() []float64 { return append([]float64(nil), img.origin...) }

// Spacing returns a copy of the voxel spacing.
func (img *Image) Spacing() []float64 { return append([]float64(nil), img.spacing...) }

// Direction returns a copy of the N x N direction matrix.
func (img *Image) Direction() *mat.Dense { return mat.DenseCopyOf(img.direction) }

// IndexToPoint converts an (integer or continuous) index to a physical
// point. Trailing components of a shorter idx are treated as zero;
// trailing components of a shorter result are dropped.
func (img *Image) IndexToPoint(idx []float64) []float64 {
	n := img.Store.Rank()
	homog := make([]float64, n+1)
	for i := 0; i < n; i++ {
		if i < len(idx) {
			homog[i] = idx[i]
		}
	}
	homog[n] = 1
	v := mat.NewVecDense(n+1, homog)
	out := mat.NewVecDense(n+1, nil)
	out.MulVec(img.affine, v)
	pt := make([]float64, n)
	for i := 0; i < n; i++ {
		pt[i] = out.AtVec(i)
	}
	return pt
}

// PointToIndex converts a physical point to a continuous index.
func (img *Image) PointToIndex(pt []float64) []float64 {
	n := img.Store.Rank()
	homog := make([]float64, n+1)
	for i := 0; i < n; i++ {
		if i < len(pt) {
			homog[i] = pt[i]
		}
	}
	homog[n] = 1
	v := mat.NewVecDense(n+1, homog)
	out := mat.NewVecDense(n+1, nil)
	out.MulVec(img.affineInv, v)
	idx := make([]float64, n)
	for i := 0; i < n; i++ {
		idx[i] = out.AtVec(i)
	}
	return idx
}

// PointToIntIndex converts a physical point to a rounded integer index.
func (img *Image) PointToIntIndex(pt []float64) []int {
	cont := img.PointToIndex(pt)
	out := make([]int, len(cont))
	for i, v := range cont {
		out[i] = int(v + 0.5*sign(v))
	}
	return out
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

// IndexInsideFOV reports whether an integer index lies within the
// store's shape.
func (img *Image) IndexInsideFOV(idx []int) bool {
	shape := img.Store.Shape()
	if len(idx) != len(shape) {
		return false
	}
	for i, v := range idx {
		if v < 0 || v >= shape[i] {
			return false
		}
	}
	return true
}

// PointInsideFOV reports whether a physical point maps inside the
// store's shape.
func (img *Image) PointInsideFOV(pt []float64) bool {
	cont := img.PointToIndex(pt)
	shape := img.Store.Shape()
	for i, v := range cont {
		if v < -0.5 || v > float64(shape[i])-0.5 {
			return false
		}
	}
	return true
}

// SliceTimingOrdered returns the populated slice-timing map as a slice
// sorted by index, for CLI/report consumption.
func (img *Image) SliceTimingOrdered() []SliceTiming {
	out := make([]SliceTiming, 0, len(img.sliceTiming))
	for idx, t := range img.sliceTiming {
		out = append(out, SliceTiming{Index: idx, Time: t})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// ComputeSliceTiming derives the slice-timing map from SliceOrderVal,
// SliceStart, SliceEnd, and SliceDuration, per the spec's acquisition
// pattern definitions. An unset order leaves the map empty.
func (img *Image) ComputeSliceTiming() error {
	img.sliceTiming = make(map[int]float64)
	if img.SliceOrderVal == SliceOrderUnset {
		return nil
	}
	if img.SliceStart > img.SliceEnd {
		return &coreerr.InvalidArgument{Op: "mrimage.ComputeSliceTiming", Reason: "slice_start > slice_end"}
	}
	n := img.SliceEnd - img.SliceStart + 1

	seqTime := func(pos int) float64 { return float64(pos) * img.SliceDuration }

	switch img.SliceOrderVal {
	case SliceOrderSeq:
		for i := 0; i < n; i++ {
			img.sliceTiming[img.SliceStart+i] = seqTime(i)
		}
	case SliceOrderRSeq:
		for i := 0; i < n; i++ {
			img.sliceTiming[img.SliceStart+i] = seqTime(n - 1 - i)
		}
	case SliceOrderAlt:
		pos := 0
		for i := 0; i < n; i += 2 {
			img.sliceTiming[img.SliceStart+i] = seqTime(pos)
			pos++
		}
		for i := 1; i < n; i += 2 {
			img.sliceTiming[img.SliceStart+i] = seqTime(pos)
			pos++
		}
	case SliceOrderRAlt:
		pos := 0
		for i := n - 1; i >= 0; i -= 2 {
			img.sliceTiming[img.SliceStart+i] = seqTime(pos)
			pos++
		}
		for i := n - 2; i >= 0; i -= 2 {
			img.sliceTiming[img.SliceStart+i] = seqTime(pos)
			pos++
		}
	case SliceOrderAltShift:
		pos := 0
		for i := 1; i < n; i += 2 {
			img.sliceTiming[img.SliceStart+i] = seqTime(pos)
			pos++
		}
		for i := 0; i < n; i += 2 {
			img.sliceTiming[img.SliceStart+i] = seqTime(pos)
			pos++
		}
	case SliceOrderRAltShift:
		pos := 0
		for i := n - 2; i >= 0; i -= 2 {
			img.sliceTiming[img.SliceStart+i] = seqTime(pos)
			pos++
		}
		for i := n - 1; i >= 0; i -= 2 {
			img.sliceTiming[img.SliceStart+i] = seqTime(pos)
			pos++
		}
	default:
		return &coreerr.InvalidArgument{Op: "mrimage.ComputeSliceTiming", Reason: "unknown slice order"}
	}
	return nil
}
