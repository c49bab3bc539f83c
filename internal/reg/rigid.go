// Package reg implements the Rigid Transform and Metrics (C6): a 6-DOF
// rigid transform plus correlation and mutual-information/NMI/VI metric
// objects that compute value and analytic gradient given fixed/moving
// images.
package reg

import (
	"math"

	"github.com/npl-go/npcore/internal/mrimage"
)

// RigidTransform is {center, shift, rotation, ras_coord}. Parameters are
// ordered (rx,ry,rz in degrees, sx,sy,sz) at the public boundary;
// internally rotation is stored in radians. While RASCoord is false the
// shift is in voxel (index) units and is applied as such; no mm-to-voxel
// conversion is done. ToRAS converts the shift to mm.
type RigidTransform struct {
	Center   [3]float64
	Shift    [3]float64
	Rotation [3]float64 // radians
	RASCoord bool
}

// NewRigidTransform builds an identity transform centered at c.
func NewRigidTransform(center [3]float64) *RigidTransform {
	return &RigidTransform{Center: center}
}

// SetParams loads p = (rx,ry,rz deg, sx,sy,sz) into the transform; the
// shift is stored as given.
func (r *RigidTransform) SetParams(p [6]float64) {
	const deg2rad = math.Pi / 180
	r.Rotation = [3]float64{p[0] * deg2rad, p[1] * deg2rad, p[2] * deg2rad}
	r.Shift = [3]float64{p[3], p[4], p[5]}
}

// Params returns (rx,ry,rz deg, sx,sy,sz), the shift in the transform's
// current units.
func (r *RigidTransform) Params() [6]float64 {
	const rad2deg = 180 / math.Pi
	return [6]float64{
		r.Rotation[0] * rad2deg, r.Rotation[1] * rad2deg, r.Rotation[2] * rad2deg,
		r.Shift[0], r.Shift[1], r.Shift[2],
	}
}

// rotationMatrix returns R(rx)R(ry)R(rz), the product of elemental
// rotations about x, y, z respectively.
func rotationMatrix(rx, ry, rz float64) [3][3]float64 {
	cx, sx := math.Cos(rx), math.Sin(rx)
	cy, sy := math.Cos(ry), math.Sin(ry)
	cz, sz := math.Cos(rz), math.Sin(rz)

	rX := [3][3]float64{{1, 0, 0}, {0, cx, -sx}, {0, sx, cx}}
	rY := [3][3]float64{{cy, 0, sy}, {0, 1, 0}, {-sy, 0, cy}}
	rZ := [3][3]float64{{cz, -sz, 0}, {sz, cz, 0}, {0, 0, 1}}

	return matMul3(matMul3(rX, rY), rZ)
}

func matMul3(a, b [3][3]float64) [3][3]float64 {
	var c [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				c[i][j] += a[i][k] * b[k][j]
			}
		}
	}
	return c
}

func matVec3(m [3][3]float64, v [3]float64) [3]float64 {
	var out [3]float64
	for i := 0; i < 3; i++ {
		out[i] = m[i][0]*v[0] + m[i][1]*v[1] + m[i][2]*v[2]
	}
	return out
}

func transpose3(m [3][3]float64) [3][3]float64 {
	var t [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			t[j][i] = m[i][j]
		}
	}
	return t
}

// Apply computes u = R⁻¹(v − s − c) + c, the fixed-to-moving index
// mapping used by the metrics: v is a fixed-grid index and u the point
// at which the moving image is sampled.
func (r *RigidTransform) Apply(v [3]float64) [3]float64 {
	rot := rotationMatrix(r.Rotation[0], r.Rotation[1], r.Rotation[2])
	rInv := transpose3(rot) // rotation matrices are orthonormal
	var d [3]float64
	for i := 0; i < 3; i++ {
		d[i] = v[i] - r.Shift[i] - r.Center[i]
	}
	u := matVec3(rInv, d)
	for i := 0; i < 3; i++ {
		u[i] += r.Center[i]
	}
	return u
}

// rotationDerivatives returns dR/drx, dR/dry, dR/drz, the analytic
// derivative of R(rx)R(ry)R(rz) w.r.t. each elemental angle.
func rotationDerivatives(rx, ry, rz float64) [3][3][3]float64 {
	cx, sx := math.Cos(rx), math.Sin(rx)
	cy, sy := math.Cos(ry), math.Sin(ry)
	cz, sz := math.Cos(rz), math.Sin(rz)

	rX := [3][3]float64{{1, 0, 0}, {0, cx, -sx}, {0, sx, cx}}
	rY := [3][3]float64{{cy, 0, sy}, {0, 1, 0}, {-sy, 0, cy}}
	rZ := [3][3]float64{{cz, -sz, 0}, {sz, cz, 0}, {0, 0, 1}}

	dRx := [3][3]float64{{0, 0, 0}, {0, -sx, -cx}, {0, cx, -sx}}
	dRy := [3][3]float64{{-sy, 0, cy}, {0, 0, 0}, {-cy, 0, -sy}}
	dRz := [3][3]float64{{-sz, -cz, 0}, {cz, -sz, 0}, {0, 0, 0}}

	var out [3][3][3]float64
	out[0] = matMul3(matMul3(dRx, rY), rZ)
	out[1] = matMul3(matMul3(rX, dRy), rZ)
	out[2] = matMul3(matMul3(rX, rY), dRz)
	return out
}

// paramJacobian returns ∂u/∂p_k for all 6 rigid parameters at a voxel
// whose centered offset from the transform's center is d = v - s - c:
// ∂u/∂r_k = (dR_k)ᵀ·d for the three rotation angles, ∂u/∂s_k = -Rᵀ·e_k
// (column k of -Rᵀ) for the three shifts. Shared by CorrMetric and
// InfoMetric's analytic chain-rule gradients.
func paramJacobian(dR [3][3][3]float64, rT [3][3]float64, d [3]float64) [6][3]float64 {
	var out [6][3]float64
	for k := 0; k < 3; k++ {
		out[k] = matVec3(transpose3(dR[k]), d)
	}
	for k := 0; k < 3; k++ {
		for i := 0; i < 3; i++ {
			out[3+k][i] = -rT[i][k]
		}
	}
	return out
}

// GridCentroid returns the centroid (in index space) of img's grid,
// the conventional center of rotation.
func GridCentroid(img *mrimage.Image) [3]float64 {
	shape := img.Store.Shape()
	var c [3]float64
	for i := 0; i < 3 && i < len(shape); i++ {
		c[i] = float64(shape[i]-1) / 2
	}
	return c
}

// ToRAS converts an index-space transform to RAS-space representation
// using the reference image's affine.
func (r *RigidTransform) ToRAS(ref *mrimage.Image) *RigidTransform {
	if r.RASCoord {
		return r
	}
	out := *r
	out.RASCoord = true
	c0 := ref.IndexToPoint([]float64{r.Center[0], r.Center[1], r.Center[2]})
	copy(out.Center[:], c0)
	// Shift transforms the same way a displacement does: via the
	// linear part of the affine only (no translation component).
	a := ref.Affine()
	var s [3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			s[i] += a.At(i, j) * r.Shift[j]
		}
	}
	out.Shift = s
	return &out
}

// ToIndex converts a RAS-space transform back to index-space using ref's
// inverse affine.
func (r *RigidTransform) ToIndex(ref *mrimage.Image) *RigidTransform {
	if !r.RASCoord {
		return r
	}
	out := *r
	out.RASCoord = false
	c0 := ref.PointToIndex([]float64{r.Center[0], r.Center[1], r.Center[2]})
	copy(out.Center[:], c0)
	ainv := ref.AffineInv()
	var s [3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			s[i] += ainv.At(i, j) * r.Shift[j]
		}
	}
	out.Shift = s
	return &out
}
