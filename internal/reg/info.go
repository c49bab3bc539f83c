package reg

import (
	"math"

	"github.com/npl-go/npcore/internal/coreerr"
	"github.com/npl-go/npcore/internal/interp"
	"github.com/npl-go/npcore/internal/mrimage"
	"github.com/npl-go/npcore/internal/ndarray"
)

// InfoVariant selects which entropy-based statistic Value/Grad report.
type InfoVariant int

const (
	InfoMI InfoVariant = iota
	InfoNMI
	InfoVI
)

// cubicBSpline3 is the zeroth-order centered cubic B-spline kernel B3,
// support [-2, 2].
func cubicBSpline3(x float64) float64 {
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

// cubicBSpline3Deriv is B3′.
func cubicBSpline3Deriv(x float64) float64 {
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

// InfoMetric owns marginal PDFs p_f, p_m and joint PDF p_fm with B bins
// each, splatted via a cubic-B-spline Parzen window of kernel radius k.
type InfoMetric struct {
	Fixed, Moving  *mrimage.Image
	Variant        InfoVariant
	Bins           int
	KernelRadius   int
	DifferenceMode bool

	center  [3]float64
	sampler *interp.Sampler

	fixedLo, fixedW   float64
	movingLo, movingW float64

	movingGradX, movingGradY, movingGradZ *ndarray.Store
}

// NewInfoMetric builds an InfoMetric over fixed/moving (same grid and
// orientation required), with B histogram bins and Parzen kernel radius
// k (number of bins each sample contributes to, per axis).
func NewInfoMetric(fixed, moving *mrimage.Image, variant InfoVariant, bins, kernelRadius int) (*InfoMetric, error) {
	if !sameGrid(fixed, moving) {
		return nil, &coreerr.InvalidArgument{Op: "reg.NewInfoMetric", Reason: "fixed and moving must share grid and orientation"}
	}
	if bins < 2 {
		return nil, &coreerr.InvalidArgument{Op: "reg.NewInfoMetric", Reason: "bins must be >= 2"}
	}
	fLo, fHi := imageRange(fixed.Store)
	mLo, mHi := imageRange(moving.Store)
	gx, gy, gz := centralDifferenceGradient(moving.Store)
	im := &InfoMetric{
		Fixed: fixed, Moving: moving, Variant: variant, Bins: bins, KernelRadius: kernelRadius,
		center:   GridCentroid(fixed),
		sampler:  interp.New(moving, interp.KindLinear, interp.BoundaryZeroFlux, 0),
		fixedLo:  fLo, fixedW: rangeWidth(fLo, fHi, bins),
		movingLo: mLo, movingW: rangeWidth(mLo, mHi, bins),
		movingGradX: gx, movingGradY: gy, movingGradZ: gz,
	}
	return im, nil
}

func rangeWidth(lo, hi float64, bins int) float64 {
	if hi <= lo {
		return 1
	}
	return (hi - lo) / float64(bins-1)
}

func imageRange(s *ndarray.Store) (float64, float64) {
	a := ndarray.NewAccessorFloat64(s)
	shape := s.Shape()
	lo, hi := math.Inf(1), math.Inf(-1)
	idx := make([]int, len(shape))
	var walk func(axis int)
	walk = func(axis int) {
		if axis == len(shape) {
			v, _ := a.Get(idx...)
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
			return
		}
		for i := 0; i < shape[axis]; i++ {
			idx[axis] = i
			walk(axis + 1)
		}
	}
	walk(0)
	return lo, hi
}

func (m *InfoMetric) Dim() int { return 6 }

func (m *InfoMetric) binIndex(val, lo, w float64) float64 {
	return (val - lo) / w
}

// computeHistograms splats every voxel's (fixed, moving-at-u) pair into
// the joint PDF with a tensor-product cubic-B-spline kernel over the
// (2k+1)^2 neighborhood, then normalizes and marginalizes.
func (m *InfoMetric) computeHistograms(p []float64) (pf, pm []float64, pfm [][]float64) {
	var pp [6]float64
	copy(pp[:], p)
	xf := NewRigidTransform(m.center)
	xf.SetParams(pp)

	B := m.Bins
	pf = make([]float64, B)
	pm = make([]float64, B)
	pfm = make([][]float64, B)
	for i := range pfm {
		pfm[i] = make([]float64, B)
	}

	shape := m.Fixed.Store.Shape()
	fixedAcc := ndarray.NewAccessorFloat64(m.Fixed.Store)
	k := m.KernelRadius
	if k <= 0 {
		k = 2
	}

	var total float64
	idx := make([]int, len(shape))
	var walk func(axis int)
	walk = func(axis int) {
		if axis == len(shape) {
			var v [3]float64
			for i := 0; i < 3 && i < len(shape); i++ {
				v[i] = float64(idx[i])
			}
			u := xf.Apply(v)
			fVal, _ := fixedAcc.Get(idx...)
			mVal := m.sampler.Sample(u[:])

			fBin := m.binIndex(fVal, m.fixedLo, m.fixedW)
			mBin := m.binIndex(mVal, m.movingLo, m.movingW)
			fc := int(math.Round(fBin))
			mc := int(math.Round(mBin))
			for df := -k; df <= k; df++ {
				fi := fc + df
				if fi < 0 || fi >= B {
					continue
				}
				wf := cubicBSpline3(fBin - float64(fi))
				if wf == 0 {
					continue
				}
				for dm := -k; dm <= k; dm++ {
					mi := mc + dm
					if mi < 0 || mi >= B {
						continue
					}
					wm := cubicBSpline3(mBin - float64(mi))
					if wm == 0 {
						continue
					}
					w := wf * wm
					pfm[fi][mi] += w
					total += w
				}
			}
			return
		}
		for i := 0; i < shape[axis]; i++ {
			idx[axis] = i
			walk(axis + 1)
		}
	}
	walk(0)

	if total == 0 {
		total = 1
	}
	for i := 0; i < B; i++ {
		for j := 0; j < B; j++ {
			pfm[i][j] /= total
			pf[i] += pfm[i][j]
			pm[j] += pfm[i][j]
		}
	}
	return pf, pm, pfm
}

func entropy(p []float64) float64 {
	var h float64
	for _, v := range p {
		if v > 0 {
			h -= v * math.Log(v)
		}
	}
	return h
}

func entropy2D(p [][]float64) float64 {
	var h float64
	for _, row := range p {
		for _, v := range row {
			if v > 0 {
				h -= v * math.Log(v)
			}
		}
	}
	return h
}

func (m *InfoMetric) valueFromHistograms(pf, pm []float64, pfm [][]float64) float64 {
	Hf := entropy(pf)
	Hm := entropy(pm)
	Hfm := entropy2D(pfm)

	var val float64
	negatable := false
	switch m.Variant {
	case InfoMI:
		val = Hf + Hm - Hfm
		negatable = true
	case InfoNMI:
		if Hfm == 0 {
			val = 0
		} else {
			val = (Hf + Hm) / Hfm
		}
		negatable = true
	case InfoVI:
		val = 2*Hfm - Hf - Hm
	}
	if negatable && m.DifferenceMode {
		return -val
	}
	return val
}

func (m *InfoMetric) Value(p []float64) float64 {
	pf, pm, pfm := m.computeHistograms(p)
	return m.valueFromHistograms(pf, pm, pfm)
}

// computeHistogramsAndGrad splats every voxel exactly as computeHistograms
// does, while additionally accumulating the analytic derivative of the
// unnormalized joint histogram w.r.t. each of the 6 rigid parameters:
// only the moving bin index depends on p (the fixed image is read
// directly on its own grid and never transformed), so per spec §4.6
// point 2 this adds B3(fixed_bin)·B3′(moving_bin)·∂(moving_bin)/∂p_i to
// ∂p_fm/∂p_i at every (fi, mi) the voxel splats into; ∂p_f/∂p_i is
// identically zero and is not tracked.
func (m *InfoMetric) computeHistogramsAndGrad(p []float64) (pf, pm []float64, pfm [][]float64, dPfm [6][][]float64, dPm [6][]float64) {
	var pp [6]float64
	copy(pp[:], p)
	xf := NewRigidTransform(m.center)
	xf.SetParams(pp)
	dR := rotationDerivatives(xf.Rotation[0], xf.Rotation[1], xf.Rotation[2])
	rT := transpose3(rotationMatrix(xf.Rotation[0], xf.Rotation[1], xf.Rotation[2]))

	B := m.Bins
	pf = make([]float64, B)
	pm = make([]float64, B)
	pfm = make([][]float64, B)
	var rawFM [][]float64
	var dRawFM [6][][]float64
	var dTotal [6]float64
	for i := range pfm {
		pfm[i] = make([]float64, B)
	}
	rawFM = make([][]float64, B)
	for i := range rawFM {
		rawFM[i] = make([]float64, B)
	}
	for k := 0; k < 6; k++ {
		dRawFM[k] = make([][]float64, B)
		for i := range dRawFM[k] {
			dRawFM[k][i] = make([]float64, B)
		}
	}

	shape := m.Fixed.Store.Shape()
	fixedAcc := ndarray.NewAccessorFloat64(m.Fixed.Store)
	k := m.KernelRadius
	if k <= 0 {
		k = 2
	}

	var total float64
	idx := make([]int, len(shape))
	var walk func(axis int)
	walk = func(axis int) {
		if axis == len(shape) {
			var v [3]float64
			for i := 0; i < 3 && i < len(shape); i++ {
				v[i] = float64(idx[i])
			}
			d := [3]float64{v[0] - xf.Shift[0] - xf.Center[0], v[1] - xf.Shift[1] - xf.Center[1], v[2] - xf.Shift[2] - xf.Center[2]}
			u := xf.Apply(v)
			fVal, _ := fixedAcc.Get(idx...)
			mVal := m.sampler.Sample(u[:])

			gradU := gradientAt(m.movingGradX, m.movingGradY, m.movingGradZ, u)
			dudp := paramJacobian(dR, rT, d)
			var dMBindp [6]float64
			for kk := 0; kk < 6; kk++ {
				dMValdp := gradU[0]*dudp[kk][0] + gradU[1]*dudp[kk][1] + gradU[2]*dudp[kk][2]
				dMBindp[kk] = dMValdp / m.movingW
			}

			fBin := m.binIndex(fVal, m.fixedLo, m.fixedW)
			mBin := m.binIndex(mVal, m.movingLo, m.movingW)
			fc := int(math.Round(fBin))
			mc := int(math.Round(mBin))
			for df := -k; df <= k; df++ {
				fi := fc + df
				if fi < 0 || fi >= B {
					continue
				}
				wf := cubicBSpline3(fBin - float64(fi))
				if wf == 0 {
					continue
				}
				for dm := -k; dm <= k; dm++ {
					mi := mc + dm
					if mi < 0 || mi >= B {
						continue
					}
					wm := cubicBSpline3(mBin - float64(mi))
					dwm := cubicBSpline3Deriv(mBin - float64(mi))
					w := wf * wm
					rawFM[fi][mi] += w
					total += w
					for kk := 0; kk < 6; kk++ {
						dw := wf * dwm * dMBindp[kk]
						dRawFM[kk][fi][mi] += dw
						dTotal[kk] += dw
					}
				}
			}
			return
		}
		for i := 0; i < shape[axis]; i++ {
			idx[axis] = i
			walk(axis + 1)
		}
	}
	walk(0)

	if total == 0 {
		total = 1
	}
	for i := 0; i < B; i++ {
		for j := 0; j < B; j++ {
			pfm[i][j] = rawFM[i][j] / total
			pf[i] += pfm[i][j]
			pm[j] += pfm[i][j]
		}
	}

	for kk := 0; kk < 6; kk++ {
		dPfm[kk] = make([][]float64, B)
		for i := range dPfm[kk] {
			dPfm[kk][i] = make([]float64, B)
		}
		dPm[kk] = make([]float64, B)
		for i := 0; i < B; i++ {
			for j := 0; j < B; j++ {
				dPfm[kk][i][j] = (dRawFM[kk][i][j] - pfm[i][j]*dTotal[kk]) / total
				dPm[kk][j] += dPfm[kk][i][j]
			}
		}
	}
	return pf, pm, pfm, dPfm, dPm
}

// entropyGradTerm returns one bin's term of dH/dp given p (a probability vector, possibly 2-D
// flattened by the caller) and its derivative dp/dp_i: d(-Σ p log p)/dp_i
// = -Σ (dp/dp_i)·(1 + log p), skipping bins at p == 0 (the spec's
// 0·log 0 = 0 convention extended to the derivative).
func entropyGradTerm(pVal, dpVal float64) float64 {
	if pVal <= 0 {
		return 0
	}
	return -dpVal * (1 + math.Log(pVal))
}

// Grad computes the analytic gradient of Value via the chain rule on
// the entropies H_f, H_m, H_fm (spec §4.6 point 2/4): H_f is invariant
// under the moving-image transform (only the moving bin index depends
// on p), so only dH_m/dp and dH_fm/dp are accumulated from the
// per-voxel ∂p_fm/∂p_i splatting in computeHistogramsAndGrad.
func (m *InfoMetric) Grad(p []float64, g []float64) {
	m.ValueGrad(p, g)
}

func (m *InfoMetric) ValueGrad(p []float64, g []float64) float64 {
	pf, pm, pfm, dPfm, dPm := m.computeHistogramsAndGrad(p)
	Hf := entropy(pf)
	Hm := entropy(pm)
	Hfm := entropy2D(pfm)
	B := m.Bins

	var dHm, dHfm [6]float64
	for kk := 0; kk < 6; kk++ {
		for j := 0; j < B; j++ {
			dHm[kk] += entropyGradTerm(pm[j], dPm[kk][j])
		}
		for i := 0; i < B; i++ {
			for j := 0; j < B; j++ {
				dHfm[kk] += entropyGradTerm(pfm[i][j], dPfm[kk][i][j])
			}
		}
	}

	var val float64
	var dVal [6]float64
	negatable := false
	switch m.Variant {
	case InfoMI:
		val = Hf + Hm - Hfm
		for kk := 0; kk < 6; kk++ {
			dVal[kk] = dHm[kk] - dHfm[kk]
		}
		negatable = true
	case InfoNMI:
		if Hfm == 0 {
			val = 0
		} else {
			val = (Hf + Hm) / Hfm
			for kk := 0; kk < 6; kk++ {
				dVal[kk] = (dHm[kk]*Hfm - (Hf+Hm)*dHfm[kk]) / (Hfm * Hfm)
			}
		}
		negatable = true
	case InfoVI:
		val = 2*Hfm - Hf - Hm
		for kk := 0; kk < 6; kk++ {
			dVal[kk] = 2*dHfm[kk] - dHm[kk]
		}
	}

	const deg2rad = math.Pi / 180
	for kk := 0; kk < 6 && kk < len(g); kk++ {
		raw := dVal[kk]
		if kk < 3 {
			raw *= deg2rad
		}
		if negatable && m.DifferenceMode {
			raw = -raw
		}
		g[kk] = raw
	}
	if negatable && m.DifferenceMode {
		return -val
	}
	return val
}
