package ica

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// mixedSources builds a simple two-source mixture (a sine and a
// sawtooth) passed through a fixed non-orthogonal mixing matrix, giving
// both ICA variants a separable problem to unmix.
func mixedSources(t *testing.T, n int) *mat.Dense {
	t.Helper()
	s1 := make([]float64, n)
	s2 := make([]float64, n)
	for i := 0; i < n; i++ {
		phase := float64(i) / float64(n) * 2 * math.Pi * 5
		s1[i] = math.Sin(phase)
		s2[i] = math.Mod(float64(i), 7) - 3
	}
	centerAndScale(s1)
	centerAndScale(s2)

	mix := [2][2]float64{{1, 0.5}, {0.3, 1}}
	y := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		y.Set(i, 0, mix[0][0]*s1[i]+mix[0][1]*s2[i])
		y.Set(i, 1, mix[1][0]*s1[i]+mix[1][1]*s2[i])
	}
	return y
}

func centerAndScale(v []float64) {
	var mean float64
	for _, x := range v {
		mean += x
	}
	mean /= float64(len(v))
	var variance float64
	for i := range v {
		v[i] -= mean
		variance += v[i] * v[i]
	}
	variance /= float64(len(v))
	sd := math.Sqrt(variance)
	if sd == 0 {
		return
	}
	for i := range v {
		v[i] /= sd
	}
}

func TestDeflationProducesOrthonormalUnmixing(t *testing.T) {
	y := mixedSources(t, 500)
	res, err := Deflation(y, Options{Rand: rand.New(rand.NewSource(3))})
	if err != nil {
		t.Fatalf("Deflation: %v", err)
	}
	checkOrthonormal(t, res.W)
}

func TestSymmetricProducesOrthonormalUnmixing(t *testing.T) {
	y := mixedSources(t, 500)
	res, err := Symmetric(y, Options{Rand: rand.New(rand.NewSource(11))})
	if err != nil {
		t.Fatalf("Symmetric: %v", err)
	}
	checkOrthonormal(t, res.W)
}

func checkOrthonormal(t *testing.T, w *mat.Dense) {
	t.Helper()
	d, _ := w.Dims()
	var wtw mat.Dense
	wtw.Mul(w.T(), w)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			if math.Abs(wtw.At(i, j)-want) > 0.05 {
				t.Errorf("WᵀW[%d][%d] = %f, want %f", i, j, wtw.At(i, j), want)
			}
		}
	}
}

func TestDeflationRejectsTooFewSamples(t *testing.T) {
	y := mat.NewDense(1, 2, []float64{0, 0})
	if _, err := Deflation(y, Options{}); err == nil {
		t.Error("expected error for a single sample")
	}
}
