package rsvd

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/npl-go/npcore/internal/mrimage"
	"github.com/npl-go/npcore/internal/ndarray"
	"github.com/npl-go/npcore/internal/reorg"
)

func buildRankOneReorg(t *testing.T, nx, nt int) *reorg.Reorg {
	t.Helper()
	dir := t.TempDir()
	prefix := filepath.Join(dir, "rsvd")

	s, err := ndarray.Create([]int{nx, 1, 1, nt}, ndarray.KindFloat64)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	acc := ndarray.NewAccessorFloat64(s)
	u := make([]float64, nx)
	v := make([]float64, nt)
	for i := range u {
		u[i] = float64(i + 1)
	}
	for i := range v {
		v[i] = float64(i + 1)
	}
	for x := 0; x < nx; x++ {
		for k := 0; k < nt; k++ {
			_ = acc.Set(u[x]*v[k], x, 0, 0, k)
		}
	}
	img := mrimage.New(s)

	mask, err := ndarray.Create([]int{nx, 1, 1}, ndarray.KindUint8)
	if err != nil {
		t.Fatalf("Create mask: %v", err)
	}
	maskAcc := ndarray.NewAccessorFloat64(mask)
	for x := 0; x < nx; x++ {
		_ = maskAcc.Set(1, x, 0, 0)
	}

	r, err := reorg.Build(reorg.BuildOptions{
		Images:     [][]*mrimage.Image{{img}},
		Masks:      []*ndarray.Store{mask},
		Prefix:     prefix,
		MaxDoubles: 1 << 20,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return r
}

func TestRunRecoversRankOneSpectrum(t *testing.T) {
	r := buildRankOneReorg(t, 5, 4)
	defer r.Close()

	res, err := Run(r, Options{StartRank: 2, MaxRank: 2, Rand: rand.New(rand.NewSource(7))})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Sigma) == 0 {
		t.Fatal("expected at least one singular value")
	}
	if res.Sigma[0] <= 0 {
		t.Errorf("leading singular value should be positive, got %f", res.Sigma[0])
	}
	for i := 1; i < len(res.Sigma); i++ {
		if res.Sigma[i] > res.Sigma[i-1]+1e-9 {
			t.Errorf("singular values not descending: %v", res.Sigma)
		}
	}
	// a rank-1 matrix should have a near-zero second singular value.
	if len(res.Sigma) > 1 && res.Sigma[1] > 1e-6*res.Sigma[0] {
		t.Errorf("second singular value should be negligible for rank-1 input: %v", res.Sigma)
	}
}

func TestSelectRankHonorsThreshold(t *testing.T) {
	sigma := []float64{10, 1, 0.1, 0.01}
	k := SelectRank(sigma, 0.99)
	if k < 1 || k > len(sigma) {
		t.Fatalf("rank out of range: %d", k)
	}
	var total, partial float64
	for _, s := range sigma {
		total += s
	}
	for i := 0; i < k; i++ {
		partial += sigma[i]
	}
	if partial < 0.99*total {
		t.Errorf("selected rank %d does not meet threshold: %f < %f", k, partial, 0.99*total)
	}
	if k > 1 {
		var shortOf float64
		for i := 0; i < k-1; i++ {
			shortOf += sigma[i]
		}
		if shortOf >= 0.99*total {
			t.Errorf("rank %d is not minimal", k)
		}
	}
}

func TestSelectRankZeroSpectrum(t *testing.T) {
	if k := SelectRank(nil, 0.9); k != 0 {
		t.Errorf("empty spectrum should select rank 0, got %d", k)
	}
}

