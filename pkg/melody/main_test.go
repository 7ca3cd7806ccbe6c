package melody

import (
	"math"
	"math/rand/v2"
	"testing"
)

func newTestRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed+1))
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func sumProbabilities[K comparable](t *testing.T, probs map[K]float64) float64 {
	t.Helper()
	sum := 0.0
	for _, p := range probs {
		if p < 0 || p > 1 {
			t.Fatalf("probability %v outside [0, 1]", p)
		}
		sum += p
	}
	return sum
}
