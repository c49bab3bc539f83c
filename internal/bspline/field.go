// Package bspline implements the B-Spline Distortion Metric (C7): a
// cubic-B-spline deformation field restricted to a single phase-encode
// axis, an intensity-preserving resampling of the moving image through
// that field, and Jacobian/thin-plate regularizers evaluated on the
// B-spline representation.
package bspline

import (
	"math"

	"github.com/npl-go/npcore/internal/coreerr"
	"github.com/npl-go/npcore/internal/mrimage"
	"github.com/npl-go/npcore/internal/ndarray"
)

// Field is a deformation field: an Oriented Image of rank ≥ 3 storing
// cubic-B-spline coefficients on a coarse regular grid, non-trivial
// along PhaseDim only.
type Field struct {
	Knots    *mrimage.Image
	PhaseDim int
	Spacing  float64 // physical knot spacing along PhaseDim
}

// NewField creates the knot image from the fixed image's bounding box
// plus a four-knot pad on every side, at the given physical knot
// spacing along phaseDim.
func NewField(fixed *mrimage.Image, phaseDim int, knotSpacing float64) (*Field, error) {
	shape := fixed.Store.Shape()
	if phaseDim < 0 || phaseDim >= len(shape) {
		return nil, &coreerr.InvalidArgument{Op: "bspline.NewField", Reason: "phaseDim out of range"}
	}
	knotShape := make([]int, len(shape))
	for i, d := range shape {
		if i == phaseDim {
			n := int(math.Ceil(float64(d)/knotSpacing)) + 1 + 2*4
			knotShape[i] = n
		} else {
			knotShape[i] = 1
		}
	}
	s, err := ndarray.Create(knotShape, ndarray.KindFloat64)
	if err != nil {
		return nil, err
	}
	knots := mrimage.New(s)
	origin := make([]float64, len(shape))
	spacing := make([]float64, len(shape))
	for i := range spacing {
		spacing[i] = 1
	}
	spacing[phaseDim] = knotSpacing
	origin[phaseDim] = -4 * knotSpacing
	if err := knots.SetSpacing(spacing); err != nil {
		return nil, err
	}
	if err := knots.SetOrigin(origin); err != nil {
		return nil, err
	}
	return &Field{Knots: knots, PhaseDim: phaseDim, Spacing: knotSpacing}, nil
}

func cubicB3(x float64) float64 {
	ax := math.Abs(x)
	switch {
	case ax < 1:
		return (4 - 6*ax*ax + 3*ax*ax*ax) / 6
	case ax < 2:
		t := 2 - ax
		return t * t * t / 6
	default:
		return 0
	}
}

func cubicB3Deriv(x float64) float64 {
	ax := math.Abs(x)
	sign := 1.0
	if x < 0 {
		sign = -1.0
	}
	switch {
	case ax < 1:
		return sign * (-12*ax + 9*ax*ax) / 6
	case ax < 2:
		t := 2 - ax
		return -sign * t * t / 2
	default:
		return 0
	}
}

// knotCoord returns the continuous knot-space coordinate along
// PhaseDim for physical index position x (in the fixed image's index
// units along PhaseDim).
func (f *Field) knotCoord(x float64) float64 {
	return (x-f.Knots.IndexToPoint(zeros(f.Knots.Store.Rank()))[f.PhaseDim])/f.Spacing + 4
}

func zeros(n int) []float64 { return make([]float64, n) }

func (f *Field) coeff(k int) float64 {
	shape := f.Knots.Store.Shape()
	n := shape[f.PhaseDim]
	if k < 0 {
		k = 0
	}
	if k >= n {
		k = n - 1
	}
	idx := make([]int, len(shape))
	idx[f.PhaseDim] = k
	a := ndarray.NewAccessorFloat64(f.Knots.Store)
	v, _ := a.Get(idx...)
	return v
}

func (f *Field) setCoeff(k int, v float64) {
	shape := f.Knots.Store.Shape()
	idx := make([]int, len(shape))
	idx[f.PhaseDim] = k
	a := ndarray.NewAccessorFloat64(f.Knots.Store)
	_ = a.Set(v, idx...)
}

// NumKnots returns the number of free coefficients along PhaseDim.
func (f *Field) NumKnots() int { return f.Knots.Store.Shape()[f.PhaseDim] }

// Displacement evaluates φ(x) at physical index position x along
// PhaseDim, clamped (zero-flux) at the grid edges.
func (f *Field) Displacement(x float64) float64 {
	c := f.knotCoord(x)
	center := int(math.Floor(c))
	var val float64
	for k := center - 1; k <= center+2; k++ {
		w := cubicB3(c - float64(k))
		if w == 0 {
			continue
		}
		val += w * f.coeff(k)
	}
	return val
}

// DisplacementDeriv evaluates ∂φ/∂x at physical index position x.
func (f *Field) DisplacementDeriv(x float64) float64 {
	c := f.knotCoord(x)
	center := int(math.Floor(c))
	var val float64
	for k := center - 1; k <= center+2; k++ {
		w := cubicB3Deriv(c-float64(k)) / f.Spacing
		if w == 0 {
			continue
		}
		val += w * f.coeff(k)
	}
	return val
}

// SupportKnots returns the knot indices whose B3 support covers physical
// index position x, together with the weight B3(c-k) of each.
func (f *Field) SupportKnots(x float64) ([]int, []float64) {
	c := f.knotCoord(x)
	center := int(math.Floor(c))
	var ks []int
	var ws []float64
	for k := center - 1; k <= center+2; k++ {
		w := cubicB3(c - float64(k))
		if w == 0 {
			continue
		}
		ks = append(ks, k)
		ws = append(ws, w)
	}
	return ks, ws
}
