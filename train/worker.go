package train

import (
	"context"
	"math"

	"github.com/pkg/errors"

	"github.com/jeffheaton/encog-dotnet-core-sub009/data"
	"github.com/jeffheaton/encog-dotnet-core-sub009/flat"
)

// Result is the output of one gradient calculation over a partition
type Result struct {
	// Gradients holds one entry per network weight: the sum over all rows of
	// delta(to) * output(from), where delta is (ideal - actual) scaled by the
	// activation derivative. It points away from the error slope.
	Gradients []float64
	Error     float64 // the sum of squared errors over all rows and outputs
	Rows      int     // the number of rows processed
}

func (r *Result) reset(numWeights int) {
	if len(r.Gradients) != numWeights {
		r.Gradients = make([]float64, numWeights)
	}
	clear(r.Gradients)
	r.Error = 0
	r.Rows = 0
}

// Calculator computes the gradients of a network over a range of training set rows.
// The network weights are only read. The returned Result belongs to the Calculator
// and stays valid until its next call. Context neurons start from zero on every
// call, so the gradients summed over partitions only match one call over all the
// rows for networks without context.
type Calculator interface {
	Calculate(ctx context.Context, p Partition) (*Result, error)
}

// GradientWorker is a CPU Calculator. It owns its activation storage and gradient
// buffer, so workers on disjoint partitions can run at the same time.
type GradientWorker struct {
	net        *flat.Network
	set        data.Set
	scratch    *flat.Scratch
	layerDelta []float64
	result     Result
}

// NewGradientWorker returns a worker computing gradients of net over rows of set
func NewGradientWorker(net *flat.Network, set data.Set) *GradientWorker {
	return &GradientWorker{
		net:        net,
		set:        set,
		scratch:    net.NewScratch(),
		layerDelta: make([]float64, len(net.LayerOutput)),
	}
}

// Calculate implements Calculator
func (w *GradientWorker) Calculate(ctx context.Context, p Partition) (*Result, error) {
	w.result.reset(len(w.net.Weights))
	// context neurons start from zero in every partition
	w.net.Reset(w.scratch)
	for row := p.Low; row < p.High; row++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		input, ideal := w.set.Record(row)
		if !data.Finite(input) || !data.Finite(ideal) {
			return nil, errors.Wrapf(data.ErrNotFinite, "row %d", row)
		}
		if len(ideal) != w.net.OutputCount {
			return nil, errors.Wrapf(flat.ErrOutputSize, "row %d has %d ideal values, network has %d outputs", row, len(ideal), w.net.OutputCount)
		}
		if err := w.process(input, ideal); err != nil {
			return nil, errors.Wrapf(err, "row %d", row)
		}
	}
	return &w.result, nil
}

// process adds the gradients and error of one training pair
func (w *GradientWorker) process(input, ideal []float64) error {
	n := w.net
	s := w.scratch
	if err := n.Forward(s, input); err != nil {
		return err
	}
	clear(w.layerDelta)

	out := n.NumLayers() - 1
	act := n.Activations[out]
	for j := 0; j < n.OutputCount; j++ {
		ui := n.UnitIndex(out, j)
		diff := ideal[j] - s.Output[ui]
		w.result.Error += diff * diff
		w.layerDelta[ui] = diff * act.Derivative(s.Sums[ui], s.Output[ui])
	}
	for layer := out - 1; layer >= 0; layer-- {
		w.processLevel(layer)
	}
	w.result.Rows++
	return nil
}

// processLevel accumulates the gradients of the weights from the given layer to the one
// above it, and backpropagates the deltas of the layer above into the given layer
func (w *GradientWorker) processLevel(layer int) {
	n := w.net
	s := w.scratch
	grad := w.result.Gradients
	fromStart := n.LayerIndex[layer]
	fromCount := n.LayerCounts[layer]
	fromFeed := n.LayerFeedCounts[layer]
	toStart := n.LayerIndex[layer+1]
	wi := n.WeightIndex[layer]
	limited := n.IsLimited()
	// the input layer has no incoming weights, so its deltas are never used
	propagate := layer > 0

	for to := 0; to < n.LayerFeedCounts[layer+1]; to++ {
		delta := w.layerDelta[toStart+to]
		row := wi + to*fromCount
		for from := 0; from < fromCount; from++ {
			weight := n.Weights[row+from]
			if limited && math.Abs(weight) < n.ConnectionLimit {
				continue
			}
			grad[row+from] += delta * s.Output[fromStart+from]
			// bias and context neurons are constant inputs and take no delta
			if propagate && from < fromFeed {
				w.layerDelta[fromStart+from] += weight * delta
			}
		}
	}
	if !propagate {
		return
	}
	act := n.Activations[layer]
	for from := 0; from < fromFeed; from++ {
		ui := fromStart + from
		w.layerDelta[ui] *= act.Derivative(s.Sums[ui], s.Output[ui])
	}
}
