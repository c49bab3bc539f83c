package ndarray

import "testing"

func TestCreateShapeAndStride(t *testing.T) {
	tests := []struct {
		name  string
		shape []int
		kind  Kind
	}{
		{"3d float64", []int{2, 3, 4}, KindFloat64},
		{"1d uint8", []int{10}, KindUint8},
		{"4d int32", []int{2, 2, 2, 2}, KindInt32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Create(tt.shape, tt.kind)
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if s.Rank() != len(tt.shape) {
				t.Errorf("rank mismatch: got %d, want %d", s.Rank(), len(tt.shape))
			}
			if s.Stride()[s.Rank()-1] != 1 {
				t.Errorf("last stride must be 1, got %d", s.Stride()[s.Rank()-1])
			}
			want := 1
			for _, d := range tt.shape {
				want *= d
			}
			if len(s.Bytes()) != want*tt.kind.Size() {
				t.Errorf("buffer length mismatch: got %d, want %d", len(s.Bytes()), want*tt.kind.Size())
			}
		})
	}
}

func TestGetSetRoundTrip(t *testing.T) {
	s, err := Create([]int{3, 4}, KindFloat64)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	acc := NewAccessorFloat64(s)
	if err := acc.Set(42.5, 1, 2); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := acc.Get(1, 2)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != 42.5 {
		t.Errorf("got %f, want 42.5", got)
	}
}

func TestGetLinearIndexOutOfRange(t *testing.T) {
	s, _ := Create([]int{2, 2}, KindFloat64)
	if _, err := s.GetLinearIndex(5, 0); err == nil {
		t.Error("expected error for out-of-range index")
	}
}

func TestCopyCastTruncatesTowardZero(t *testing.T) {
	s, _ := Create([]int{2}, KindFloat64)
	acc := NewAccessorFloat64(s)
	acc.Set(3.9, 0)
	acc.Set(-3.9, 1)

	dst, err := s.CopyCast([]int{2}, KindInt32)
	if err != nil {
		t.Fatalf("CopyCast: %v", err)
	}
	dstAcc := NewAccessorFloat64(dst)
	v0, _ := dstAcc.Get(0)
	v1, _ := dstAcc.Get(1)
	if v0 != 3 {
		t.Errorf("got %f, want 3 (truncate toward zero)", v0)
	}
	if v1 != -3 {
		t.Errorf("got %f, want -3 (truncate toward zero)", v1)
	}
}

func TestExtractCastCrop(t *testing.T) {
	s, _ := Create([]int{4, 4}, KindFloat64)
	acc := NewAccessorFloat64(s)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			acc.Set(float64(i*10+j), i, j)
		}
	}
	dst, err := s.ExtractCast([]int{1, 1}, []int{2, 2}, KindFloat64)
	if err != nil {
		t.Fatalf("ExtractCast: %v", err)
	}
	dstAcc := NewAccessorFloat64(dst)
	got, _ := dstAcc.Get(0, 0)
	if got != 11 {
		t.Errorf("got %f, want 11", got)
	}
}

func TestTlen(t *testing.T) {
	s3, _ := Create([]int{2, 3, 4}, KindFloat64)
	if s3.Tlen() != 1 {
		t.Errorf("rank 3 Tlen: got %d, want 1", s3.Tlen())
	}
	s5, _ := Create([]int{2, 3, 4, 5, 6}, KindFloat64)
	if s5.Tlen() != 30 {
		t.Errorf("rank 5 Tlen: got %d, want 30", s5.Tlen())
	}
}
