package slicer

import "testing"

func rowMajorStride(shape []int) []int {
	n := len(shape)
	stride := make([]int, n)
	acc := 1
	for i := n - 1; i >= 0; i-- {
		stride[i] = acc
		acc *= shape[i]
	}
	return stride
}

func TestSlicerVisitsEveryOffsetExactlyOnce(t *testing.T) {
	tests := []struct {
		name  string
		shape []int
		order []int
	}{
		{"2x3 axis0 fastest", []int{2, 3}, []int{0, 1}},
		{"2x3 axis1 fastest", []int{2, 3}, []int{1, 0}},
		{"3x2x4 default order", []int{3, 2, 4}, []int{0, 1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stride := rowMajorStride(tt.shape)
			s, err := New(tt.shape, stride)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if err := s.SetOrder(tt.order, false); err != nil {
				t.Fatalf("SetOrder: %v", err)
			}

			total := 1
			for _, d := range tt.shape {
				total *= d
			}

			seen := make(map[int]bool)
			s.GoBegin()
			for {
				seen[s.Offset()] = true
				if !s.Next() {
					break
				}
			}
			if len(seen) != total {
				t.Errorf("visited %d distinct offsets, want %d", len(seen), total)
			}
			if !s.End() {
				t.Error("expected End() true after exhausting traversal")
			}
		})
	}
}

func TestSlicerFastestAxisIsOrderZero(t *testing.T) {
	shape := []int{2, 3}
	stride := rowMajorStride(shape)
	s, _ := New(shape, stride)
	if err := s.SetOrder([]int{1, 0}, false); err != nil {
		t.Fatalf("SetOrder: %v", err)
	}
	s.GoBegin()
	first := s.Pos()[1]
	s.Next()
	second := s.Pos()[1]
	if second == first {
		t.Error("axis 1 should vary fastest but did not change after one Next")
	}
}

func TestKSlicerKernelOffsetsBoundary(t *testing.T) {
	shape := []int{4, 4}
	stride := rowMajorStride(shape)
	ks, err := NewKSlicer(shape, stride, []int{-1, -1}, []int{1, 1})
	if err != nil {
		t.Fatalf("NewKSlicer: %v", err)
	}
	if err := ks.GoIndex([]int{0, 0}); err != nil {
		t.Fatalf("GoIndex: %v", err)
	}
	_, inside := ks.KernelOffsets()
	insideCount := 0
	for _, ok := range inside {
		if ok {
			insideCount++
		}
	}
	// At the corner (0,0) of a 4x4 grid with a 3x3 kernel, only the
	// bottom-right 2x2 block of the kernel stays inside the ROI.
	if insideCount != 4 {
		t.Errorf("got %d inside points at corner, want 4", insideCount)
	}
}
