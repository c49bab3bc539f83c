// Package accessor implements the Typed View (C2): a view over an
// ndarray.Store that reads/writes elements as a caller-chosen type T,
// independent of the store's own scalar kind.
package accessor

import (
	"github.com/npl-go/npcore/internal/coreerr"
	"github.com/npl-go/npcore/internal/ndarray"
)

// Numeric bounds the view type T to what the 16-kind cast table below
// can produce and consume.
type Numeric interface {
	~int8 | ~int16 | ~int32 | ~int64 |
		~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// Accessor wraps a *ndarray.Store and reads/writes it through the
// store's float64 accessor, obtained on every Get and Set. It casts on
// every read and write. Lifetime of an Accessor must not exceed the
// referenced Store.
type Accessor[T Numeric] struct {
	store *ndarray.Store
}

// New constructs an Accessor[T] over s.
func New[T Numeric](s *ndarray.Store) *Accessor[T] {
	return &Accessor[T]{store: s}
}

// Get reads the element at idx and casts it to T.
func (a *Accessor[T]) Get(idx ...int) (T, error) {
	f := ndarray.NewAccessorFloat64(a.store)
	v, err := f.Get(idx...)
	if err != nil {
		var zero T
		return zero, err
	}
	return T(v), nil
}

// Set casts v from T and writes it at idx.
func (a *Accessor[T]) Set(v T, idx ...int) error {
	f := ndarray.NewAccessorFloat64(a.store)
	return f.Set(float64(v), idx...)
}

// Store returns the underlying store.
func (a *Accessor[T]) Store() *ndarray.Store { return a.store }

// ConstAccessor is the read-only counterpart: it omits Set entirely so
// that a read-only Store reference cannot be mutated through it.
type ConstAccessor[T Numeric] struct {
	store *ndarray.Store
}

// NewConst constructs a read-only Accessor[T] over s.
func NewConst[T Numeric](s *ndarray.Store) *ConstAccessor[T] {
	return &ConstAccessor[T]{store: s}
}

// Get reads the element at idx and casts it to T.
func (a *ConstAccessor[T]) Get(idx ...int) (T, error) {
	f := ndarray.NewAccessorFloat64(a.store)
	v, err := f.Get(idx...)
	if err != nil {
		var zero T
		return zero, err
	}
	return T(v), nil
}

// Pixel3D specializes Accessor to rank-3 index arity, exposing At/SetAt
// with exactly three integer coordinates; the generic variadic Get/Set
// are not exposed.
type Pixel3D[T Numeric] struct {
	acc *Accessor[T]
}

// NewPixel3D constructs a Pixel3D view over a rank-3 store.
func NewPixel3D[T Numeric](s *ndarray.Store) (*Pixel3D[T], error) {
	if s.Rank() != 3 {
		return nil, &coreerr.InvalidArgument{Op: "accessor.NewPixel3D", Reason: "store must have rank 3"}
	}
	return &Pixel3D[T]{acc: New[T](s)}, nil
}

// At reads the element at (x, y, z).
func (p *Pixel3D[T]) At(x, y, z int) (T, error) { return p.acc.Get(x, y, z) }

// SetAt writes v at (x, y, z).
func (p *Pixel3D[T]) SetAt(v T, x, y, z int) error { return p.acc.Set(v, x, y, z) }

// Vector3D specializes Accessor to rank-4 index arity (three spatial
// coordinates plus a vector/time component), per the spec's
// Vector3DView.
type Vector3D[T Numeric] struct {
	*Accessor[T]
}

// NewVector3D constructs a Vector3D view over a rank-4 store.
func NewVector3D[T Numeric](s *ndarray.Store) (*Vector3D[T], error) {
	if s.Rank() != 4 {
		return nil, &coreerr.InvalidArgument{Op: "accessor.NewVector3D", Reason: "store must have rank 4"}
	}
	return &Vector3D[T]{Accessor: New[T](s)}, nil
}

// At reads the element at (x, y, z, t).
func (v *Vector3D[T]) At(x, y, z, t int) (T, error) { return v.Get(x, y, z, t) }

// SetAt writes val at (x, y, z, t).
func (v *Vector3D[T]) SetAt(val T, x, y, z, t int) error { return v.Set(val, x, y, z, t) }

// Vector3DConst is the read-only counterpart to Vector3D.
type Vector3DConst[T Numeric] struct {
	*ConstAccessor[T]
}

// NewVector3DConst constructs a read-only Vector3D view over a rank-4 store.
func NewVector3DConst[T Numeric](s *ndarray.Store) (*Vector3DConst[T], error) {
	if s.Rank() != 4 {
		return nil, &coreerr.InvalidArgument{Op: "accessor.NewVector3DConst", Reason: "store must have rank 4"}
	}
	return &Vector3DConst[T]{ConstAccessor: NewConst[T](s)}, nil
}

// At reads the element at (x, y, z, t).
func (v *Vector3DConst[T]) At(x, y, z, t int) (T, error) { return v.Get(x, y, z, t) }
