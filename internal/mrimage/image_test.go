package mrimage

import (
	"math"
	"testing"

	"github.com/npl-go/npcore/internal/ndarray"
)

func TestIndexPointRoundTrip(t *testing.T) {
	s, _ := ndarray.Create([]int{10, 10, 10}, ndarray.KindFloat64)
	img := New(s)
	if err := img.SetSpacing([]float64{1.5, 2.0, 0.5}); err != nil {
		t.Fatalf("SetSpacing: %v", err)
	}
	if err := img.SetOrigin([]float64{10, -5, 3}); err != nil {
		t.Fatalf("SetOrigin: %v", err)
	}

	tests := []struct {
		name string
		idx  []float64
	}{
		{"integer index", []float64{2, 3, 4}},
		{"continuous index", []float64{2.25, 3.75, 1.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pt := img.IndexToPoint(tt.idx)
			back := img.PointToIndex(pt)
			for i := range tt.idx {
				if math.Abs(back[i]-tt.idx[i]) > 1e-9 {
					t.Errorf("axis %d: got %f, want %f", i, back[i], tt.idx[i])
				}
			}
		})
	}
}

func TestIndexInsideFOV(t *testing.T) {
	s, _ := ndarray.Create([]int{4, 4}, ndarray.KindFloat64)
	img := New(s)
	if !img.IndexInsideFOV([]int{0, 0}) {
		t.Error("expected (0,0) inside FOV")
	}
	if img.IndexInsideFOV([]int{4, 0}) {
		t.Error("expected (4,0) outside FOV")
	}
}

func TestSliceTimingSequential(t *testing.T) {
	s, _ := ndarray.Create([]int{4, 4, 4}, ndarray.KindFloat64)
	img := New(s)
	img.SliceOrderVal = SliceOrderSeq
	img.SliceStart = 0
	img.SliceEnd = 3
	img.SliceDuration = 0.1
	if err := img.ComputeSliceTiming(); err != nil {
		t.Fatalf("ComputeSliceTiming: %v", err)
	}
	ordered := img.SliceTimingOrdered()
	if len(ordered) != 4 {
		t.Fatalf("got %d entries, want 4", len(ordered))
	}
	for i, st := range ordered {
		want := float64(i) * 0.1
		if math.Abs(st.Time-want) > 1e-12 {
			t.Errorf("slice %d: got %f, want %f", i, st.Time, want)
		}
	}
}

func TestSliceTimingAlternating(t *testing.T) {
	s, _ := ndarray.Create([]int{4, 4, 6}, ndarray.KindFloat64)
	img := New(s)
	img.SliceOrderVal = SliceOrderAlt
	img.SliceStart = 0
	img.SliceEnd = 5
	img.SliceDuration = 1.0
	if err := img.ComputeSliceTiming(); err != nil {
		t.Fatalf("ComputeSliceTiming: %v", err)
	}
	// Even indices (0,2,4) acquired first, then odd (1,3,5).
	timing := make(map[int]float64)
	for _, st := range img.SliceTimingOrdered() {
		timing[st.Index] = st.Time
	}
	if timing[0] != 0 || timing[2] != 1 || timing[4] != 2 {
		t.Errorf("even slices not acquired first: %v", timing)
	}
	if timing[1] != 3 || timing[3] != 4 || timing[5] != 5 {
		t.Errorf("odd slices not acquired second: %v", timing)
	}
}

func TestUnsetSliceOrderLeavesEmptyMap(t *testing.T) {
	s, _ := ndarray.Create([]int{4, 4, 4}, ndarray.KindFloat64)
	img := New(s)
	if err := img.ComputeSliceTiming(); err != nil {
		t.Fatalf("ComputeSliceTiming: %v", err)
	}
	if len(img.SliceTimingOrdered()) != 0 {
		t.Error("expected empty slice timing map for unset order")
	}
}
