package flat

import (
	"math"
	"math/rand"
)

// Randomizer assigns new starting weights to a network
type Randomizer interface {
	Randomize(n *Network, rnd *rand.Rand)
}

// RangeRandomizer sets every weight to a uniform random value in [Min, Max)
type RangeRandomizer struct {
	Min float64
	Max float64
}

// Randomize implements Randomizer
func (r RangeRandomizer) Randomize(n *Network, rnd *rand.Rand) {
	for i := range n.Weights {
		n.Weights[i] = r.Min + rnd.Float64()*(r.Max-r.Min)
	}
}

// NguyenWidrow scales random weights so that the active regions of the hidden
// neurons are spread evenly over the input space.
type NguyenWidrow struct{}

// Randomize implements Randomizer
func (NguyenWidrow) Randomize(n *Network, rnd *rand.Rand) {
	for layer := 0; layer < n.NumLayers()-1; layer++ {
		fromCount := n.LayerFeedCounts[layer]
		toCount := n.LayerFeedCounts[layer+1]
		beta := 0.7 * math.Pow(float64(toCount), 1/float64(fromCount))
		// only feed neurons are normalized, bias and context weights stay in [-beta, beta)
		for to := 0; to < toCount; to++ {
			var norm float64
			for from := 0; from < n.LayerCounts[layer]; from++ {
				w := rnd.Float64() - 0.5
				if from >= fromCount {
					w *= 2 * beta
				}
				n.SetWeight(layer, from, to, w)
				if from < fromCount {
					norm += w * w
				}
			}
			norm = math.Sqrt(norm)
			if norm == 0 {
				continue
			}
			for from := 0; from < fromCount; from++ {
				n.SetWeight(layer, from, to, beta*n.Weight(layer, from, to)/norm)
			}
		}
	}
}
