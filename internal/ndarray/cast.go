package ndarray

import (
	"encoding/binary"
	"math"
)

// internalAccessor is the float64-valued get/set pair CopyCast and
// ExtractCast use internally to move values between stores of differing
// kinds. It mirrors the function-pointer dispatch the Typed View (C2)
// exposes publicly, but stays unexported: callers needing a typed view
// over arbitrary T use package accessor.
type internalAccessor struct {
	s        *Store
	get      func(off int) float64
	set      func(off int, v float64)
}

// NewAccessorFloat64 builds the internal float64 get/set pair for s's
// kind. Real→int conversions truncate toward zero (Go's int() already
// does); complex→real takes the real part; RGB/RGBA are read and written
// component-wise, one channel at a time via the leading byte(s).
func NewAccessorFloat64(s *Store) *internalAccessor {
	a := &internalAccessor{s: s}
	switch s.kind {
	case KindUint8:
		a.get = func(off int) float64 { return float64(s.buf[off]) }
		a.set = func(off int, v float64) { s.buf[off] = uint8(int64(v)) }
	case KindInt8:
		a.get = func(off int) float64 { return float64(int8(s.buf[off])) }
		a.set = func(off int, v float64) { s.buf[off] = byte(int8(int64(v))) }
	case KindUint16:
		a.get = func(off int) float64 { return float64(binary.LittleEndian.Uint16(s.buf[off:])) }
		a.set = func(off int, v float64) { binary.LittleEndian.PutUint16(s.buf[off:], uint16(int64(v))) }
	case KindInt16:
		a.get = func(off int) float64 { return float64(int16(binary.LittleEndian.Uint16(s.buf[off:]))) }
		a.set = func(off int, v float64) { binary.LittleEndian.PutUint16(s.buf[off:], uint16(int16(int64(v)))) }
	case KindUint32:
		a.get = func(off int) float64 { return float64(binary.LittleEndian.Uint32(s.buf[off:])) }
		a.set = func(off int, v float64) { binary.LittleEndian.PutUint32(s.buf[off:], uint32(int64(v))) }
	case KindInt32:
		a.get = func(off int) float64 { return float64(int32(binary.LittleEndian.Uint32(s.buf[off:]))) }
		a.set = func(off int, v float64) { binary.LittleEndian.PutUint32(s.buf[off:], uint32(int32(int64(v)))) }
	case KindUint64:
		a.get = func(off int) float64 { return float64(binary.LittleEndian.Uint64(s.buf[off:])) }
		a.set = func(off int, v float64) { binary.LittleEndian.PutUint64(s.buf[off:], uint64(int64(v))) }
	case KindInt64:
		a.get = func(off int) float64 { return float64(int64(binary.LittleEndian.Uint64(s.buf[off:]))) }
		a.set = func(off int, v float64) { binary.LittleEndian.PutUint64(s.buf[off:], uint64(int64(v))) }
	case KindFloat32:
		a.get = func(off int) float64 { return float64(math.Float32frombits(binary.LittleEndian.Uint32(s.buf[off:]))) }
		a.set = func(off int, v float64) { binary.LittleEndian.PutUint32(s.buf[off:], math.Float32bits(float32(v))) }
	case KindFloat64:
		a.get = func(off int) float64 { return math.Float64frombits(binary.LittleEndian.Uint64(s.buf[off:])) }
		a.set = func(off int, v float64) { binary.LittleEndian.PutUint64(s.buf[off:], math.Float64bits(v)) }
	case KindFloat128:
		// No native 128-bit float; the leading 8 bytes carry a float64
		// approximation and the trailing 8 bytes are reserved/zero.
		a.get = func(off int) float64 { return math.Float64frombits(binary.LittleEndian.Uint64(s.buf[off:])) }
		a.set = func(off int, v float64) { binary.LittleEndian.PutUint64(s.buf[off:], math.Float64bits(v)) }
	case KindComplex64:
		a.get = func(off int) float64 { return float64(math.Float32frombits(binary.LittleEndian.Uint32(s.buf[off:]))) } // real part
		a.set = func(off int, v float64) {
			binary.LittleEndian.PutUint32(s.buf[off:], math.Float32bits(float32(v)))
			binary.LittleEndian.PutUint32(s.buf[off+4:], 0)
		}
	case KindComplex128:
		a.get = func(off int) float64 { return math.Float64frombits(binary.LittleEndian.Uint64(s.buf[off:])) } // real part
		a.set = func(off int, v float64) {
			binary.LittleEndian.PutUint64(s.buf[off:], math.Float64bits(v))
			binary.LittleEndian.PutUint64(s.buf[off+8:], 0)
		}
	case KindComplex256:
		a.get = func(off int) float64 { return math.Float64frombits(binary.LittleEndian.Uint64(s.buf[off:])) } // real part
		a.set = func(off int, v float64) {
			binary.LittleEndian.PutUint64(s.buf[off:], math.Float64bits(v))
		}
	case KindRGB24:
		a.get = func(off int) float64 { return float64(s.buf[off]) } // red channel
		a.set = func(off int, v float64) { s.buf[off] = uint8(int64(v)) }
	case KindRGBA32:
		a.get = func(off int) float64 { return float64(s.buf[off]) } // red channel
		a.set = func(off int, v float64) { s.buf[off] = uint8(int64(v)) }
	default:
		a.get = func(off int) float64 { return 0 }
		a.set = func(off int, v float64) {}
	}
	return a
}

// Get reads the element at idx, cast to float64.
func (a *internalAccessor) Get(idx ...int) (float64, error) {
	off, err := a.s.GetAddr(idx...)
	if err != nil {
		return 0, err
	}
	return a.get(off), nil
}

// Set writes v (cast from float64) at idx.
func (a *internalAccessor) Set(v float64, idx ...int) error {
	off, err := a.s.GetAddr(idx...)
	if err != nil {
		return err
	}
	a.set(off, v)
	return nil
}
