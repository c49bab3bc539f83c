package classify

import (
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func twoBlobData(t *testing.T) *mat.Dense {
	t.Helper()
	rnd := rand.New(rand.NewSource(42))
	n := 60
	data := make([]float64, n*2)
	for i := 0; i < n/2; i++ {
		data[2*i] = rnd.NormFloat64()*0.2 + 0
		data[2*i+1] = rnd.NormFloat64()*0.2 + 0
	}
	for i := n / 2; i < n; i++ {
		data[2*i] = rnd.NormFloat64()*0.2 + 5
		data[2*i+1] = rnd.NormFloat64()*0.2 + 5
	}
	return mat.NewDense(n, 2, data)
}

func TestKMeansSeparatesTwoWellSeparatedBlobs(t *testing.T) {
	x := twoBlobData(t)
	res, err := KMeans(x, KMeansOptions{K: 2, Rand: rand.New(rand.NewSource(1))})
	if err != nil {
		t.Fatalf("KMeans: %v", err)
	}
	n, _ := x.Dims()
	firstLabel := res.Labels[0]
	for i := 1; i < n/2; i++ {
		if res.Labels[i] != firstLabel {
			t.Errorf("sample %d not grouped with its blob", i)
		}
	}
	secondLabel := res.Labels[n/2]
	if secondLabel == firstLabel {
		t.Error("expected the two blobs to land in different clusters")
	}
	for i := n / 2; i < n; i++ {
		if res.Labels[i] != secondLabel {
			t.Errorf("sample %d not grouped with its blob", i)
		}
	}
}

func TestKMeansRejectsKGreaterThanN(t *testing.T) {
	x := mat.NewDense(3, 2, []float64{0, 0, 1, 1, 2, 2})
	if _, err := KMeans(x, KMeansOptions{K: 5}); err == nil {
		t.Error("expected error when k exceeds sample count")
	}
}

func TestGMMSeparatesTwoWellSeparatedBlobs(t *testing.T) {
	x := twoBlobData(t)
	res, err := GMM(x, GMMOptions{K: 2, Rand: rand.New(rand.NewSource(2))})
	if err != nil {
		t.Fatalf("GMM: %v", err)
	}
	n, k := res.Responsibility.Dims()
	if k != 2 {
		t.Fatalf("expected 2 components, got %d", k)
	}
	dominant := func(row int) int {
		best, bestVal := 0, -1.0
		for c := 0; c < k; c++ {
			if v := res.Responsibility.At(row, c); v > bestVal {
				bestVal = v
				best = c
			}
		}
		return best
	}
	firstGroup := dominant(0)
	for i := 1; i < n/2; i++ {
		if dominant(i) != firstGroup {
			t.Errorf("sample %d not grouped with its blob", i)
		}
	}
	for i := n / 2; i < n; i++ {
		if dominant(i) == firstGroup {
			t.Errorf("sample %d should be in the other component", i)
		}
	}
}
