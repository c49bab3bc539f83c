package slicer

import "github.com/npl-go/npcore/internal/coreerr"

// KSlicer extends a Slicer with a kernel window [k_lo, k_hi] per axis,
// producing a bank of offsets at every center position. Offsets that
// would leave the ROI are the interpolator's boundary-policy concern,
// not the KSlicer's: Offsets reports, per kernel point, whether it fell
// outside the ROI so the caller can apply its own policy.
type KSlicer struct {
	*Slicer
	kLo, kHi []int
	kShape   []int
	kCount   int
}

// NewKSlicer builds a KSlicer over shape/stride with a symmetric or
// asymmetric kernel window [kLo, kHi] per axis (both inclusive).
func NewKSlicer(shape, stride, kLo, kHi []int) (*KSlicer, error) {
	base, err := New(shape, stride)
	if err != nil {
		return nil, err
	}
	n := len(shape)
	if len(kLo) != n || len(kHi) != n {
		return nil, &coreerr.InvalidArgument{Op: "slicer.NewKSlicer", Reason: "kernel window arity must match rank"}
	}
	kShape := make([]int, n)
	count := 1
	for i := 0; i < n; i++ {
		if kLo[i] > kHi[i] {
			return nil, &coreerr.InvalidArgument{Op: "slicer.NewKSlicer", Reason: "kernel window lo > hi"}
		}
		kShape[i] = kHi[i] - kLo[i] + 1
		count *= kShape[i]
	}
	return &KSlicer{
		Slicer: base,
		kLo:    append([]int(nil), kLo...),
		kHi:    append([]int(nil), kHi...),
		kShape: kShape,
		kCount: count,
	}, nil
}

// KernelSize returns the number of points in the kernel window.
func (k *KSlicer) KernelSize() int { return k.kCount }

// KernelOffsets returns, for the current center position, the flat
// offset of every kernel point together with a per-point "inside ROI"
// flag, in row-major order over the kernel window (last axis fastest).
func (k *KSlicer) KernelOffsets() ([]int, []bool) {
	offsets := make([]int, k.kCount)
	inside := make([]bool, k.kCount)
	rel := make([]int, len(k.kShape))
	for i := 0; i < k.kCount; i++ {
		rem := i
		for axis := len(k.kShape) - 1; axis >= 0; axis-- {
			rel[axis] = rem % k.kShape[axis]
			rem /= k.kShape[axis]
		}
		deltas := make([]int, len(k.kShape))
		for axis := range deltas {
			deltas[axis] = k.kLo[axis] + rel[axis]
		}
		off, ins, _ := k.Offsets(deltas)
		offsets[i] = off
		inside[i] = ins
	}
	return offsets, inside
}

// KernelDelta returns the per-axis delta of kernel point i from the
// center, using the same row-major (last axis fastest) enumeration as
// KernelOffsets.
func (k *KSlicer) KernelDelta(i int) []int {
	rel := make([]int, len(k.kShape))
	rem := i
	for axis := len(k.kShape) - 1; axis >= 0; axis-- {
		rel[axis] = rem % k.kShape[axis]
		rem /= k.kShape[axis]
	}
	deltas := make([]int, len(k.kShape))
	for axis := range deltas {
		deltas[axis] = k.kLo[axis] + rel[axis]
	}
	return deltas
}
