package reorg

import (
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/npl-go/npcore/internal/mrimage"
	"github.com/npl-go/npcore/internal/ndarray"
)

func makeVolume(t *testing.T, nx, ny, nz, nt int, fill func(x, y, z, k int) float64) *mrimage.Image {
	t.Helper()
	s, err := ndarray.Create([]int{nx, ny, nz, nt}, ndarray.KindFloat64)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	acc := ndarray.NewAccessorFloat64(s)
	for x := 0; x < nx; x++ {
		for y := 0; y < ny; y++ {
			for z := 0; z < nz; z++ {
				for k := 0; k < nt; k++ {
					_ = acc.Set(fill(x, y, z, k), x, y, z, k)
				}
			}
		}
	}
	return mrimage.New(s)
}

func onesMask(t *testing.T, nx, ny, nz int) *ndarray.Store {
	t.Helper()
	s, err := ndarray.Create([]int{nx, ny, nz}, ndarray.KindUint8)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	acc := ndarray.NewAccessorFloat64(s)
	for x := 0; x < nx; x++ {
		for y := 0; y < ny; y++ {
			for z := 0; z < nz; z++ {
				_ = acc.Set(1, x, y, z)
			}
		}
	}
	return s
}

func TestBuildAndPostMultRoundTrip(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "reorg")

	nx, ny, nz, nt := 2, 2, 1, 3
	img := makeVolume(t, nx, ny, nz, nt, func(x, y, z, k int) float64 {
		return float64(x + 2*y + 10*k)
	})
	mask := onesMask(t, nx, ny, nz)

	r, err := Build(BuildOptions{
		Images:     [][]*mrimage.Image{{img}},
		Masks:      []*ndarray.Store{mask},
		Prefix:     prefix,
		MaxDoubles: 1 << 20,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer r.Close()

	if r.Rows != nt {
		t.Errorf("Rows = %d, want %d", r.Rows, nt)
	}
	if r.Cols != nx*ny*nz {
		t.Errorf("Cols = %d, want %d", r.Cols, nx*ny*nz)
	}

	in := mat.NewDense(r.Cols, 1, onesVec(r.Cols))
	out, err := r.PostMult(in, false)
	if err != nil {
		t.Fatalf("PostMult: %v", err)
	}
	if rows, cols := out.Dims(); rows != r.Rows || cols != 1 {
		t.Fatalf("unexpected out dims: %d x %d", rows, cols)
	}
}

func onesVec(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 1
	}
	return v
}

func TestLoadMatsRejectsTruncatedFile(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "reorg")

	img := makeVolume(t, 2, 2, 1, 2, func(x, y, z, k int) float64 { return float64(x) })
	mask := onesMask(t, 2, 2, 1)
	r, err := Build(BuildOptions{
		Images:     [][]*mrimage.Image{{img}},
		Masks:      []*ndarray.Store{mask},
		Prefix:     prefix,
		MaxDoubles: 1 << 20,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	numChunks := len(r.chunks)
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := os.Truncate(chunkPath(prefix, 0), headerBytes); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	if _, err := LoadMats(prefix, numChunks, 1); err == nil {
		t.Error("expected LoadMats to fail on truncated chunk file")
	}
}

func TestStatsDoesNotRequireReopeningMmap(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "reorg")
	img := makeVolume(t, 2, 1, 1, 2, func(x, y, z, k int) float64 { return float64(x) })
	mask := onesMask(t, 2, 1, 1)
	r, err := Build(BuildOptions{
		Images:     [][]*mrimage.Image{{img}},
		Masks:      []*ndarray.Store{mask},
		Prefix:     prefix,
		MaxDoubles: 1 << 20,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer r.Close()

	rows, cols, chunkCols := r.Stats()
	if rows != 2 || cols != 2 {
		t.Errorf("Stats = (%d, %d), want (2, 2)", rows, cols)
	}
	sum := 0
	for _, c := range chunkCols {
		sum += c
	}
	if sum != cols {
		t.Errorf("chunkCols sum = %d, want %d", sum, cols)
	}
}
