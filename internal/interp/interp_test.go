package interp

import (
	"math"
	"testing"

	"github.com/npl-go/npcore/internal/mrimage"
	"github.com/npl-go/npcore/internal/ndarray"
)

func rampImage(t *testing.T, shape []int) *mrimage.Image {
	t.Helper()
	s, err := ndarray.Create(shape, ndarray.KindFloat64)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	acc := ndarray.NewAccessorFloat64(s)
	idx := make([]int, len(shape))
	var fill func(axis int)
	fill = func(axis int) {
		if axis == len(shape) {
			v := 0.0
			for i, p := range idx {
				v += float64(p) * math.Pow(10, float64(i))
			}
			_ = acc.Set(v, idx...)
			return
		}
		for i := 0; i < shape[axis]; i++ {
			idx[axis] = i
			fill(axis + 1)
		}
	}
	fill(0)
	return mrimage.New(s)
}

func TestNearestExact(t *testing.T) {
	img := rampImage(t, []int{5, 5})
	s := New(img, KindNearest, BoundaryZeroFlux, 0)
	got := s.Sample([]float64{2, 3})
	if got != 32 {
		t.Errorf("got %f, want 32", got)
	}
}

func TestLinearMidpoint(t *testing.T) {
	img := rampImage(t, []int{5, 5})
	s := New(img, KindLinear, BoundaryZeroFlux, 0)
	got := s.Sample([]float64{2.5, 2})
	want := (22.0 + 23.0) / 2
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("got %f, want %f", got, want)
	}
}

func TestZeroFluxClampsOutOfRange(t *testing.T) {
	img := rampImage(t, []int{5, 5})
	s := New(img, KindNearest, BoundaryZeroFlux, 0)
	got := s.Sample([]float64{-5, 0})
	if got != 0 {
		t.Errorf("got %f, want 0 (clamped to index 0)", got)
	}
}

func TestConstantZeroOutOfRange(t *testing.T) {
	img := rampImage(t, []int{5, 5})
	s := New(img, KindNearest, BoundaryConstantZero, 0)
	got := s.Sample([]float64{-1, 0})
	if got != 0 {
		t.Errorf("got %f, want 0", got)
	}
}

func TestWrapBoundary(t *testing.T) {
	img := rampImage(t, []int{5, 5})
	s := New(img, KindNearest, BoundaryWrap, 0)
	got := s.Sample([]float64{-1, 0})
	want := getFloat64(img.Store, []int{4, 0})
	if got != want {
		t.Errorf("got %f, want %f", got, want)
	}
}

func TestLinearConstantZeroBlendsTowardZeroAtEdge(t *testing.T) {
	s1, err := ndarray.Create([]int{2}, ndarray.KindFloat64)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	acc := ndarray.NewAccessorFloat64(s1)
	_ = acc.Set(5, 0)
	_ = acc.Set(10, 1)
	img := mrimage.New(s1)

	s := New(img, KindLinear, BoundaryConstantZero, 0)
	got := s.Sample([]float64{-0.5})
	want := 2.5 // out-of-range corner contributes 0 at weight 0.5, index 0 contributes 5 at weight 0.5
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("got %f, want %f", got, want)
	}
}

func TestLanczosConstantZeroDoesNotRenormalize(t *testing.T) {
	img := rampImage(t, []int{9, 9})
	s := New(img, KindLanczos, BoundaryConstantZero, 2)
	got := s.Sample([]float64{-0.5, 4})
	if got >= getFloat64(img.Store, []int{0, 4}) {
		t.Errorf("got %f, want strictly less than center value (off-grid neighbors should pull toward 0, not renormalize away)", got)
	}
}

func TestLanczosAtGridPointReturnsExactValue(t *testing.T) {
	img := rampImage(t, []int{9, 9})
	s := New(img, KindLanczos, BoundaryZeroFlux, 2)
	got := s.Sample([]float64{4, 4})
	want := getFloat64(img.Store, []int{4, 4})
	if math.Abs(got-want) > 1e-6 {
		t.Errorf("got %f, want %f", got, want)
	}
}
