// Package ndarray implements the core Array Store: a rank-tagged,
// reference-counted buffer of one of sixteen scalar kinds, with row-major
// strides and the primitive index/address lookups higher layers build on.
package ndarray

import (
	"sync/atomic"

	"github.com/npl-go/npcore/internal/coreerr"
)

// MaxRank is the largest rank a Store may carry.
const MaxRank = 8

// Store owns a contiguous buffer of one scalar Kind. Attributes: rank
// N ∈ [1,8], shape dim[0..N), row-major strides stride[0..N) with
// stride[N-1] = 1, and an owning buffer with a deleter. The invariant
// buffer.len = Π dim[i] · kind.Size() holds for the lifetime of the Store.
type Store struct {
	rank    int
	shape   [MaxRank]int
	stride  [MaxRank]int
	kind    Kind
	buf     []byte
	deleter func()
	refs    *int32
}

// Shape returns the store's dimensions, dims beyond rank are undefined.
func (s *Store) Shape() []int { return s.shape[:s.rank] }

// Stride returns the store's row-major strides (in elements, not bytes).
func (s *Store) Stride() []int { return s.stride[:s.rank] }

// Rank returns the store's rank.
func (s *Store) Rank() int { return s.rank }

// Kind returns the store's scalar kind.
func (s *Store) Kind() Kind { return s.kind }

// Bytes exposes the raw underlying buffer. Callers must not retain it
// beyond the Store's lifetime.
func (s *Store) Bytes() []byte { return s.buf }

// Tlen returns the product of all dims at index ≥ 3 (the "fourth and
// higher" length), or 1 if rank < 4.
func (s *Store) Tlen() int {
	if s.rank < 4 {
		return 1
	}
	t := 1
	for i := 3; i < s.rank; i++ {
		t *= s.shape[i]
	}
	return t
}

func computeStrides(shape []int) [MaxRank]int {
	var stride [MaxRank]int
	n := len(shape)
	acc := 1
	for i := n - 1; i >= 0; i-- {
		stride[i] = acc
		acc *= shape[i]
	}
	return stride
}

func validateShape(shape []int) error {
	if len(shape) < 1 || len(shape) > MaxRank {
		return &coreerr.InvalidArgument{Op: "ndarray", Reason: "rank must be in [1,8]"}
	}
	for _, d := range shape {
		if d < 0 {
			return &coreerr.InvalidArgument{Op: "ndarray", Reason: "negative dimension"}
		}
	}
	return nil
}

func numElems(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Create allocates a zero-initialized Store of the given shape and kind.
func Create(shape []int, kind Kind) (*Store, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	if kind == KindUnknown {
		return nil, &coreerr.InvalidArgument{Op: "ndarray.Create", Reason: "unknown scalar kind"}
	}
	s := &Store{
		rank:   len(shape),
		kind:   kind,
		buf:    make([]byte, numElems(shape)*kind.Size()),
		refs:   new(int32),
	}
	copy(s.shape[:], shape)
	s.stride = computeStrides(shape)
	*s.refs = 1
	return s, nil
}

// Graft adopts a caller-owned buffer; the Store takes ownership via
// deleter, invoked when the last reference is released.
func Graft(shape []int, kind Kind, buf []byte, deleter func()) (*Store, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	want := numElems(shape) * kind.Size()
	if len(buf) != want {
		return nil, &coreerr.InvalidArgument{Op: "ndarray.Graft", Reason: "buffer length does not match shape/kind"}
	}
	s := &Store{
		rank:    len(shape),
		kind:    kind,
		buf:     buf,
		deleter: deleter,
		refs:    new(int32),
	}
	copy(s.shape[:], shape)
	s.stride = computeStrides(shape)
	*s.refs = 1
	return s, nil
}

// Retain increments the reference count and returns the same Store,
// mirroring the teacher's explicit lifetime-management idiom.
func (s *Store) Retain() *Store {
	atomic.AddInt32(s.refs, 1)
	return s
}

// Release decrements the reference count, invoking the deleter (if any)
// once the last reference is gone.
func (s *Store) Release() {
	if atomic.AddInt32(s.refs, -1) == 0 && s.deleter != nil {
		s.deleter()
	}
}

// Copy performs a deep copy: same kind, same shape.
func (s *Store) Copy() *Store {
	buf := make([]byte, len(s.buf))
	copy(buf, s.buf)
	cp := &Store{
		rank:   s.rank,
		shape:  s.shape,
		stride: s.stride,
		kind:   s.kind,
		buf:    buf,
		refs:   new(int32),
	}
	*cp.refs = 1
	return cp
}

// GetLinearIndex computes the flat element offset for an N-D index.
func (s *Store) GetLinearIndex(idx ...int) (int, error) {
	if len(idx) != s.rank {
		return 0, &coreerr.InvalidArgument{Op: "ndarray.GetLinearIndex", Reason: "index arity does not match rank"}
	}
	off := 0
	for i := 0; i < s.rank; i++ {
		if idx[i] < 0 || idx[i] >= s.shape[i] {
			return 0, &coreerr.InvalidArgument{Op: "ndarray.GetLinearIndex", Reason: "index out of range"}
		}
		off += idx[i] * s.stride[i]
	}
	return off, nil
}

// GetAddr returns the byte offset into Bytes() for an N-D index.
func (s *Store) GetAddr(idx ...int) (int, error) {
	lin, err := s.GetLinearIndex(idx...)
	if err != nil {
		return 0, err
	}
	return lin * s.kind.Size(), nil
}

func minInts(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// CopyCast allocates a new Store of newShape/newKind and copies the
// rectangular overlap with the source, converting element-by-element.
// Any extension beyond the source's bounds is left default-initialized.
func (s *Store) CopyCast(newShape []int, newKind Kind) (*Store, error) {
	dst, err := Create(newShape, newKind)
	if err != nil {
		return nil, err
	}
	overlap := make([]int, maxInts(s.rank, len(newShape)))
	for i := range overlap {
		a, b := 0, 0
		if i < s.rank {
			a = s.shape[i]
		}
		if i < len(newShape) {
			b = newShape[i]
		}
		if i < s.rank && i < len(newShape) {
			overlap[i] = minInts(a, b)
		} else {
			overlap[i] = 0
		}
	}
	srcAcc := NewAccessorFloat64(s)
	dstAcc := NewAccessorFloat64(dst)
	idx := make([]int, s.rank)
	copyRect(overlap, 0, idx, func(coord []int) {
		v, _ := srcAcc.Get(coord...)
		_ = dstAcc.Set(v, coord...)
	})
	return dst, nil
}

func maxInts(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// copyRect walks every coordinate in the rectangular region bounded by
// dims (each axis independently from 0..dims[axis)) and invokes visit.
func copyRect(dims []int, axis int, coord []int, visit func([]int)) {
	if axis == len(dims) {
		visit(coord)
		return
	}
	if axis >= len(coord) {
		return
	}
	for i := 0; i < dims[axis]; i++ {
		coord[axis] = i
		copyRect(dims, axis+1, coord, visit)
	}
}

// ExtractCast crops the store to size starting at lo, casting to newKind.
// A zero entry in size deletes that axis from the result.
func (s *Store) ExtractCast(lo, size []int, newKind Kind) (*Store, error) {
	if len(lo) != s.rank || len(size) != s.rank {
		return nil, &coreerr.InvalidArgument{Op: "ndarray.ExtractCast", Reason: "lo/size arity must match rank"}
	}
	var newShape []int
	for i, sz := range size {
		if sz == 0 {
			continue
		}
		if lo[i] < 0 || lo[i]+sz > s.shape[i] {
			return nil, &coreerr.InvalidArgument{Op: "ndarray.ExtractCast", Reason: "crop out of range"}
		}
		newShape = append(newShape, sz)
	}
	if len(newShape) == 0 {
		newShape = []int{1}
	}
	dst, err := Create(newShape, newKind)
	if err != nil {
		return nil, err
	}
	srcAcc := NewAccessorFloat64(s)
	dstAcc := NewAccessorFloat64(dst)

	axes := make([]int, 0, s.rank)
	for i, sz := range size {
		if sz != 0 {
			axes = append(axes, i)
		}
	}
	dstCoord := make([]int, len(newShape))
	copyRect(newShape, 0, dstCoord, func(coord []int) {
		srcCoord := make([]int, s.rank)
		copy(srcCoord, lo)
		for k, axis := range axes {
			srcCoord[axis] = lo[axis] + coord[k]
		}
		v, _ := srcAcc.Get(srcCoord...)
		_ = dstAcc.Set(v, coord...)
	})
	return dst, nil
}
