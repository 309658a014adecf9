package train

import (
	"math"
	"math/rand"
	"testing"

	"github.com/jeffheaton/encog-dotnet-core-sub009/data"
	"github.com/jeffheaton/encog-dotnet-core-sub009/flat"
)

// xorSet returns the four rows of the XOR function
func xorSet(t *testing.T) *data.Memory {
	set, err := data.NewMemory(
		[][]float64{{0, 0}, {0, 1}, {1, 0}, {1, 1}},
		[][]float64{{0}, {1}, {1}, {0}},
	)
	if err != nil {
		t.Fatal(err)
	}
	return set
}

// randomSet returns rows of uniform random values in [-1, 1)
func randomSet(t *testing.T, rows, inputs, ideals int, seed int64) *data.Memory {
	rnd := newRand(seed)
	in := make([][]float64, rows)
	ideal := make([][]float64, rows)
	for i := range in {
		in[i] = make([]float64, inputs)
		for j := range in[i] {
			in[i][j] = rnd.Float64()*2 - 1
		}
		ideal[i] = make([]float64, ideals)
		for j := range ideal[i] {
			ideal[i][j] = rnd.Float64()*2 - 1
		}
	}
	set, err := data.NewMemory(in, ideal)
	if err != nil {
		t.Fatal(err)
	}
	return set
}

// randomNetwork returns a feed-forward network with random weights in [-1, 1)
func randomNetwork(t *testing.T, inputs int, hidden []int, outputs int, act flat.Activation, seed int64) *flat.Network {
	n, err := flat.NewFeedForward(inputs, hidden, outputs, act)
	if err != nil {
		t.Fatal(err)
	}
	flat.RangeRandomizer{Min: -1, Max: 1}.Randomize(n, newRand(seed))
	return n
}

func newRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// badSet is a Set whose row at index bad holds a NaN input
type badSet struct {
	data.Set
	bad int
}

func (s badSet) Record(i int) (input, ideal []float64) {
	input, ideal = s.Set.Record(i)
	if i == s.bad {
		input = append([]float64(nil), input...)
		input[0] = math.NaN()
	}
	return input, ideal
}

// defTol is a good default tolerance for how much two values can differ to be used with the aboutEqual function
const defTol = 1e-9

// aboutEqual returns whether x is about equal to y with the given tolerance
func aboutEqual(x, y, tol float64) bool {
	diff := x - y
	if diff < 0 {
		diff = -diff
	}
	return diff < tol
}

// relEqual returns whether x and y differ by less than tol relative to their size
func relEqual(x, y, tol float64) bool {
	scale := math.Max(1, math.Max(math.Abs(x), math.Abs(y)))
	return aboutEqual(x, y, tol*scale)
}
