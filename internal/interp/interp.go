// Package interp implements the Interpolators (C5): nearest, linear, and
// Lanczos samplers over a mrimage.Image, with a configurable boundary
// policy and optional RAS-coordinate input. Interpolators never raise:
// out-of-bounds samples are resolved by the boundary policy.
package interp

import (
	"math"

	"github.com/npl-go/npcore/internal/mrimage"
	"github.com/npl-go/npcore/internal/ndarray"
)

// Boundary selects how out-of-ROI samples are resolved.
type Boundary int

const (
	// BoundaryZeroFlux clamps each out-of-range axis to [0, dim-1].
	BoundaryZeroFlux Boundary = iota
	// BoundaryWrap folds each axis into [0, dim-1] modularly.
	BoundaryWrap
	// BoundaryConstantZero returns 0 whenever any axis is out of range.
	BoundaryConstantZero
)

// Kind identifies the sampling method.
type Kind int

const (
	KindNearest Kind = iota
	KindLinear
	KindLanczos
)

// Sampler samples a mrimage.Image under a fixed boundary policy and, for
// Lanczos, a fixed kernel radius.
type Sampler struct {
	img      *mrimage.Image
	acc      *ndarray.Store
	boundary Boundary
	kind     Kind
	radius   int // Lanczos only, default 2
	useRAS   bool
}

// New constructs a Sampler of the given Kind and Boundary over img. For
// KindLanczos, radius <= 0 defaults to 2.
func New(img *mrimage.Image, kind Kind, boundary Boundary, radius int) *Sampler {
	if radius <= 0 {
		radius = 2
	}
	return &Sampler{img: img, acc: img.Store, boundary: boundary, kind: kind, radius: radius}
}

// SetRASInput toggles whether Sample/Value accepts a RAS point instead
// of an index.
func (s *Sampler) SetRASInput(v bool) { s.useRAS = v }

func resolveAxis(i, dim int, boundary Boundary) (int, bool) {
	switch boundary {
	case BoundaryZeroFlux:
		if i < 0 {
			return 0, true
		}
		if i >= dim {
			return dim - 1, true
		}
		return i, true
	case BoundaryWrap:
		m := i % dim
		if m < 0 {
			m += dim
		}
		return m, true
	case BoundaryConstantZero:
		if i < 0 || i >= dim {
			return 0, false
		}
		return i, true
	}
	return i, true
}

func getFloat64(store *ndarray.Store, idx []int) float64 {
	a := ndarray.NewAccessorFloat64(store)
	v, err := a.Get(idx...)
	if err != nil {
		return 0
	}
	return v
}

// Sample evaluates the image at idx (or a RAS point if SetRASInput(true)
// was called), returning 0 wherever the boundary policy cannot resolve a
// needed sample.
func (s *Sampler) Sample(coord []float64) float64 {
	idx := coord
	if s.useRAS {
		idx = s.img.PointToIndex(coord)
	}
	switch s.kind {
	case KindNearest:
		return s.nearest(idx)
	case KindLinear:
		return s.linear(idx)
	case KindLanczos:
		return s.lanczos(idx)
	}
	return 0
}

func (s *Sampler) nearest(idx []float64) float64 {
	shape := s.acc.Shape()
	ridx := make([]int, len(idx))
	ok := true
	for i, v := range idx {
		r := int(math.Round(v))
		rv, resolved := resolveAxis(r, shape[i], s.boundary)
		if !resolved {
			ok = false
			break
		}
		ridx[i] = rv
	}
	if !ok {
		return 0
	}
	return getFloat64(s.acc, ridx)
}

func tentWeight(d float64) float64 {
	w := 1 - math.Abs(d)
	if w < 0 {
		return 0
	}
	return w
}

// linear forms the 2^N corner product of tent weights and accumulates
// corner values under the boundary policy; any corner whose aggregate
// weight is 0 is skipped to avoid NaN propagation in zero-weighted
// regions.
func (s *Sampler) linear(idx []float64) float64 {
	n := len(idx)
	shape := s.acc.Shape()
	lo := make([]int, n)
	frac := make([]float64, n)
	for i, v := range idx {
		lo[i] = int(math.Floor(v))
		frac[i] = v - float64(lo[i])
	}

	var sum float64
	corners := 1 << uint(n)
	coord := make([]int, n)
	for c := 0; c < corners; c++ {
		w := 1.0
		resolved := true
		for i := 0; i < n; i++ {
			bit := (c >> uint(i)) & 1
			raw := lo[i] + bit
			var d float64
			if bit == 0 {
				d = frac[i]
			} else {
				d = 1 - frac[i]
			}
			w *= tentWeight(d)
			if w == 0 {
				break
			}
			rv, ok := resolveAxis(raw, shape[i], s.boundary)
			if !ok {
				resolved = false
				break
			}
			coord[i] = rv
		}
		if w == 0 || !resolved {
			// Out-of-range corner under BoundaryConstantZero: its weight
			// still accounts for the full tent-weight partition (the
			// corner contributes its literal 0 value, it is not excluded
			// from the weighted sum), so nothing is added to sum.
			continue
		}
		sum += w * getFloat64(s.acc, coord)
	}
	return sum
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

func lanczosWeight(x float64, r int) float64 {
	if math.Abs(x) >= float64(r) {
		return 0
	}
	return sinc(x) * sinc(x/float64(r))
}

// lanczos evaluates the separable Lanczos kernel of radius s.radius over
// the (2r+1)^N neighborhood of the rounded center.
func (s *Sampler) lanczos(idx []float64) float64 {
	n := len(idx)
	shape := s.acc.Shape()
	r := s.radius
	center := make([]int, n)
	frac := make([]float64, n)
	for i, v := range idx {
		center[i] = int(math.Round(v))
		frac[i] = v - float64(center[i])
	}

	width := 2*r + 1
	total := 1
	for i := 0; i < n; i++ {
		total *= width
	}

	var sum float64
	rel := make([]int, n)
	coord := make([]int, n)
	for c := 0; c < total; c++ {
		rem := c
		for axis := n - 1; axis >= 0; axis-- {
			rel[axis] = rem%width - r
			rem /= width
		}
		w := 1.0
		resolved := true
		for i := 0; i < n; i++ {
			d := float64(rel[i]) - frac[i]
			w *= lanczosWeight(d, r)
			if w == 0 {
				break
			}
			rv, ok := resolveAxis(center[i]+rel[i], shape[i], s.boundary)
			if !ok {
				resolved = false
				break
			}
			coord[i] = rv
		}
		if w == 0 || !resolved {
			// Out-of-range neighbor under BoundaryConstantZero contributes
			// its literal 0 value at its kernel weight; it is not excluded
			// from a renormalizing denominator.
			continue
		}
		sum += w * getFloat64(s.acc, coord)
	}
	return sum
}
