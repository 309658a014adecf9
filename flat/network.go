// Package flat implements multilayer feed-forward neural networks stored as a
// handful of contiguous arrays instead of per-layer objects.
//
// Layers are addressed input first. Inside the neuron arrays each layer holds its
// feed neurons, then its bias neuron (if any), then its context neurons (if any).
// The weights of the connections from layer i to layer i+1 form one block that
// starts at WeightIndex[i] and stores one row per target feed neuron, each row
// holding one weight per neuron of layer i (bias and context neurons included).
package flat

import (
	"math"

	"github.com/pkg/errors"
)

// These are the errors that describe a misuse of a network.
var (
	ErrTopology   = errors.New("invalid network topology")
	ErrInputSize  = errors.New("input size does not match network")
	ErrOutputSize = errors.New("output size does not match network")
)

// Layer describes one layer of a network before it is flattened.
type Layer struct {
	Count          int        // the number of feed neurons on this layer
	Activation     Activation // the activation function of the feed neurons (ignored on the input layer)
	Bias           bool       // whether this layer has a bias neuron feeding the next layer
	BiasActivation float64    // the constant output of the bias neuron, zero means 1
	ContextFedBy   int        // the index of a later layer whose previous outputs feed this layer's context neurons, zero means none
}

// Network is a feed-forward neural network in flat form
type Network struct {
	InputCount  int // the number of inputs
	OutputCount int // the number of outputs

	LayerCounts        []int // the total number of neurons per layer, including bias and context neurons
	LayerFeedCounts    []int // the number of feed neurons per layer
	LayerContextCounts []int // the number of context neurons per layer
	LayerIndex         []int // the starting index of each layer in LayerOutput
	WeightIndex        []int // the starting index in Weights of the block connecting layer i to layer i+1

	// ContextTargetOffset and ContextTargetSize are indexed by the layer that feeds a
	// context; they give the index in LayerOutput of the context neurons it copies into.
	ContextTargetOffset []int
	ContextTargetSize   []int

	BiasActivation []float64    // the output of the bias neuron of each layer, zero if it has none
	Activations    []Activation // the activation function of each layer

	ConnectionLimit float64 // weights with an absolute value below this are treated as absent

	Weights     []float64 // every connection weight in the network
	LayerOutput []float64 // the most recent activation of every neuron
	LayerSums   []float64 // the most recent net input of every neuron
}

// New flattens the given layers, ordered from input to output, into a network with zero weights
func New(layers ...Layer) (*Network, error) {
	if len(layers) < 2 {
		return nil, errors.Wrapf(ErrTopology, "need at least an input and an output layer, got %d layers", len(layers))
	}
	last := len(layers) - 1
	n := &Network{
		InputCount:          layers[0].Count,
		OutputCount:         layers[last].Count,
		LayerCounts:         make([]int, len(layers)),
		LayerFeedCounts:     make([]int, len(layers)),
		LayerContextCounts:  make([]int, len(layers)),
		ContextTargetOffset: make([]int, len(layers)),
		ContextTargetSize:   make([]int, len(layers)),
		BiasActivation:      make([]float64, len(layers)),
		Activations:         make([]Activation, len(layers)),
	}
	for i, l := range layers {
		if l.Count <= 0 {
			return nil, errors.Wrapf(ErrTopology, "layer %d has %d neurons", i, l.Count)
		}
		if !l.Activation.Valid() {
			return nil, errors.Wrapf(ErrTopology, "layer %d has unknown activation function %d", i, l.Activation.Kind)
		}
		if l.Bias && i == last {
			return nil, errors.Wrapf(ErrTopology, "the output layer cannot have a bias neuron")
		}
		n.LayerFeedCounts[i] = l.Count
		n.Activations[i] = l.Activation
		if l.Bias {
			n.BiasActivation[i] = l.BiasActivation
			if n.BiasActivation[i] == 0 {
				n.BiasActivation[i] = 1
			}
		}
	}
	// context neurons copy the feed neurons of the layer named by ContextFedBy
	for i, l := range layers {
		src := l.ContextFedBy
		if src == 0 {
			continue
		}
		if src <= i || src > last {
			return nil, errors.Wrapf(ErrTopology, "layer %d has its context fed by layer %d, which is not a later layer", i, src)
		}
		if n.ContextTargetSize[src] != 0 {
			return nil, errors.Wrapf(ErrTopology, "layer %d feeds more than one context", src)
		}
		n.LayerContextCounts[i] = layers[src].Count
		n.ContextTargetSize[src] = layers[src].Count
	}
	for i := range layers {
		n.LayerCounts[i] = n.LayerFeedCounts[i] + n.LayerContextCounts[i]
		if n.BiasActivation[i] != 0 {
			n.LayerCounts[i]++
		}
	}
	n.LayerIndex, n.WeightIndex = layout(n.LayerCounts, n.LayerFeedCounts)
	for i, l := range layers {
		if l.ContextFedBy != 0 {
			n.ContextTargetOffset[l.ContextFedBy] = n.contextStart(i)
		}
	}

	numUnits := n.LayerIndex[last] + n.LayerCounts[last]
	n.Weights = make([]float64, n.weightCount())
	n.LayerOutput = make([]float64, numUnits)
	n.LayerSums = make([]float64, numUnits)
	n.ClearContext()
	return n, nil
}

// NewFeedForward returns a network with the given number of inputs, hidden units on each hidden
// layer, and outputs. Every layer but the output one has a bias neuron.
func NewFeedForward(numInputs int, hidden []int, numOutputs int, act Activation) (*Network, error) {
	layers := make([]Layer, 0, len(hidden)+2)
	layers = append(layers, Layer{Count: numInputs, Activation: Linear, Bias: true})
	for _, h := range hidden {
		layers = append(layers, Layer{Count: h, Activation: act, Bias: true})
	}
	layers = append(layers, Layer{Count: numOutputs, Activation: act})
	return New(layers...)
}

// NewElman returns a simple recurrent network whose hidden layer feeds a context held by the input layer
func NewElman(numInputs, numHidden, numOutputs int, act Activation) (*Network, error) {
	return New(
		Layer{Count: numInputs, Activation: Linear, Bias: true, ContextFedBy: 1},
		Layer{Count: numHidden, Activation: act, Bias: true},
		Layer{Count: numOutputs, Activation: act},
	)
}

// layout returns the starting index of each layer in the neuron arrays and the
// starting index of each weight block
func layout(counts, feedCounts []int) (layerIndex, weightIndex []int) {
	layerIndex = make([]int, len(counts))
	weightIndex = make([]int, len(counts)-1)
	for i := 1; i < len(counts); i++ {
		layerIndex[i] = layerIndex[i-1] + counts[i-1]
	}
	for i := 1; i < len(weightIndex); i++ {
		weightIndex[i] = weightIndex[i-1] + counts[i-1]*feedCounts[i]
	}
	return layerIndex, weightIndex
}

func (n *Network) weightCount() int {
	last := len(n.WeightIndex) - 1
	return n.WeightIndex[last] + n.LayerCounts[last]*n.LayerFeedCounts[last+1]
}

// contextStart returns the index of the first context neuron of the given layer
func (n *Network) contextStart(layer int) int {
	return n.LayerIndex[layer] + n.LayerCounts[layer] - n.LayerContextCounts[layer]
}

// NumLayers returns the number of layers, including the input and output layers
func (n *Network) NumLayers() int {
	return len(n.LayerCounts)
}

// UnitIndex returns the index in LayerOutput of the neuron at the given index (idx) on the given layer
func (n *Network) UnitIndex(layer, idx int) int {
	return n.LayerIndex[layer] + idx
}

// ConnectionIndex returns the index in Weights of the connection from the neuron at index from
// on the given layer to the feed neuron at index to on the layer above it
func (n *Network) ConnectionIndex(layer, from, to int) int {
	return n.WeightIndex[layer] + to*n.LayerCounts[layer] + from
}

// Weight returns the weight of the connection from layer:from to (layer+1):to
func (n *Network) Weight(layer, from, to int) float64 {
	return n.Weights[n.ConnectionIndex(layer, from, to)]
}

// SetWeight sets the weight of the connection from layer:from to (layer+1):to
func (n *Network) SetWeight(layer, from, to int, w float64) {
	n.Weights[n.ConnectionIndex(layer, from, to)] = w
}

// IsLimited reports whether connections below ConnectionLimit are skipped
func (n *Network) IsLimited() bool {
	return n.ConnectionLimit > 0
}

// HasContext reports whether any layer carries context neurons
func (n *Network) HasContext() bool {
	for _, c := range n.LayerContextCounts {
		if c > 0 {
			return true
		}
	}
	return false
}

// Scratch holds the per-neuron activations and net inputs of one forward pass.
// Each goroutine computing with a shared network needs its own Scratch.
type Scratch struct {
	Output []float64
	Sums   []float64
}

// NewScratch returns activation storage for this network, with bias neurons set and context cleared
func (n *Network) NewScratch() *Scratch {
	s := &Scratch{
		Output: make([]float64, len(n.LayerOutput)),
		Sums:   make([]float64, len(n.LayerSums)),
	}
	n.Reset(s)
	return s
}

// Reset zeroes the given activation storage and sets the bias neurons
func (n *Network) Reset(s *Scratch) {
	clear(s.Sums)
	n.initOutput(s.Output)
}

// ClearContext resets the network's own activations, forgetting any recurrent context
func (n *Network) ClearContext() {
	clear(n.LayerSums)
	n.initOutput(n.LayerOutput)
}

func (n *Network) initOutput(out []float64) {
	clear(out)
	for l := range n.LayerCounts {
		if n.BiasActivation[l] != 0 {
			out[n.LayerIndex[l]+n.LayerFeedCounts[l]] = n.BiasActivation[l]
		}
	}
}

// Compute runs the given input through the network, writes the output layer into output,
// and keeps every neuron's activation in LayerOutput.
func (n *Network) Compute(input, output []float64) error {
	if len(output) != n.OutputCount {
		return errors.Wrapf(ErrOutputSize, "got %d values, network has %d outputs", len(output), n.OutputCount)
	}
	s := &Scratch{Output: n.LayerOutput, Sums: n.LayerSums}
	if err := n.Forward(s, input); err != nil {
		return err
	}
	copy(output, n.Outputs(s))
	return nil
}

// Outputs returns the output layer activations held by s. The slice aliases s.
func (n *Network) Outputs(s *Scratch) []float64 {
	start := n.LayerIndex[len(n.LayerIndex)-1]
	return s.Output[start : start+n.OutputCount]
}

// Forward computes the forward propagation pass for the given input into s.
// Weights are only read, so any number of goroutines may call Forward at once,
// each with its own Scratch.
func (n *Network) Forward(s *Scratch, input []float64) error {
	if len(input) != n.InputCount {
		return errors.Wrapf(ErrInputSize, "got %d values, network has %d inputs", len(input), n.InputCount)
	}
	copy(s.Output[n.LayerIndex[0]:], input)
	copy(s.Sums[n.LayerIndex[0]:], input)
	for l := 1; l < len(n.LayerCounts); l++ {
		n.computeLayer(s, l)
		// the context fed by this layer was already read this pass, so it now holds
		// the value for the next one
		if size := n.ContextTargetSize[l]; size > 0 {
			start := n.LayerIndex[l]
			copy(s.Output[n.ContextTargetOffset[l]:], s.Output[start:start+size])
		}
	}
	return nil
}

// computeLayer computes the feed neurons of the given layer from the layer below it
func (n *Network) computeLayer(s *Scratch, layer int) {
	below := layer - 1
	inStart := n.LayerIndex[below]
	inSize := n.LayerCounts[below]
	in := s.Output[inStart : inStart+inSize]
	act := n.Activations[layer]
	wi := n.WeightIndex[below]
	limited := n.IsLimited()

	for to := 0; to < n.LayerFeedCounts[layer]; to++ {
		row := n.Weights[wi+to*inSize : wi+(to+1)*inSize]
		var sum float64
		if limited {
			for from, w := range row {
				if math.Abs(w) < n.ConnectionLimit {
					continue
				}
				sum += w * in[from]
			}
		} else {
			for from, w := range row {
				sum += w * in[from]
			}
		}
		ui := n.LayerIndex[layer] + to
		s.Sums[ui] = sum
		s.Output[ui] = act.Activate(sum)
	}
}

// Clone returns a deep copy of the network
func (n *Network) Clone() *Network {
	c := *n
	c.LayerCounts = append([]int(nil), n.LayerCounts...)
	c.LayerFeedCounts = append([]int(nil), n.LayerFeedCounts...)
	c.LayerContextCounts = append([]int(nil), n.LayerContextCounts...)
	c.LayerIndex = append([]int(nil), n.LayerIndex...)
	c.WeightIndex = append([]int(nil), n.WeightIndex...)
	c.ContextTargetOffset = append([]int(nil), n.ContextTargetOffset...)
	c.ContextTargetSize = append([]int(nil), n.ContextTargetSize...)
	c.BiasActivation = append([]float64(nil), n.BiasActivation...)
	c.Activations = append([]Activation(nil), n.Activations...)
	c.Weights = append([]float64(nil), n.Weights...)
	c.LayerOutput = append([]float64(nil), n.LayerOutput...)
	c.LayerSums = append([]float64(nil), n.LayerSums...)
	return &c
}

// Validate checks that the flat arrays describe a consistent network
func (n *Network) Validate() error {
	numLayers := len(n.LayerCounts)
	if numLayers < 2 {
		return errors.Wrapf(ErrTopology, "need at least 2 layers, got %d", numLayers)
	}
	for name, l := range map[string]int{
		"layer feed counts":     len(n.LayerFeedCounts),
		"layer context counts":  len(n.LayerContextCounts),
		"layer index":           len(n.LayerIndex),
		"context target offset": len(n.ContextTargetOffset),
		"context target size":   len(n.ContextTargetSize),
		"bias activation":       len(n.BiasActivation),
		"activations":           len(n.Activations),
	} {
		if l != numLayers {
			return errors.Wrapf(ErrTopology, "%s has %d entries for %d layers", name, l, numLayers)
		}
	}
	if len(n.WeightIndex) != numLayers-1 {
		return errors.Wrapf(ErrTopology, "weight index has %d entries for %d layers", len(n.WeightIndex), numLayers)
	}
	for l := 0; l < numLayers; l++ {
		if n.LayerFeedCounts[l] <= 0 {
			return errors.Wrapf(ErrTopology, "layer %d has %d neurons", l, n.LayerFeedCounts[l])
		}
		if n.LayerContextCounts[l] < 0 {
			return errors.Wrapf(ErrTopology, "layer %d has %d context neurons", l, n.LayerContextCounts[l])
		}
		want := n.LayerFeedCounts[l] + n.LayerContextCounts[l]
		if n.BiasActivation[l] != 0 {
			want++
		}
		if n.LayerCounts[l] != want {
			return errors.Wrapf(ErrTopology, "layer %d has %d neurons, expected %d", l, n.LayerCounts[l], want)
		}
		if !n.Activations[l].Valid() {
			return errors.Wrapf(ErrTopology, "layer %d has unknown activation function %d", l, n.Activations[l].Kind)
		}
		if size := n.ContextTargetSize[l]; size != 0 {
			if size != n.LayerFeedCounts[l] {
				return errors.Wrapf(ErrTopology, "layer %d feeds a context of %d neurons but has %d", l, size, n.LayerFeedCounts[l])
			}
			found := false
			for h := 0; h < l; h++ {
				if n.LayerContextCounts[h] == size && n.ContextTargetOffset[l] == n.contextStart(h) {
					found = true
				}
			}
			if !found {
				return errors.Wrapf(ErrTopology, "layer %d feeds a context that is not held by a layer below it", l)
			}
		}
	}
	// every context is filled by exactly one later layer
	for h := 0; h < numLayers; h++ {
		count := n.LayerContextCounts[h]
		if count == 0 {
			continue
		}
		feeders := 0
		for l := h + 1; l < numLayers; l++ {
			if n.ContextTargetSize[l] == count && n.ContextTargetOffset[l] == n.contextStart(h) {
				feeders++
			}
		}
		if feeders != 1 {
			return errors.Wrapf(ErrTopology, "the %d context neurons of layer %d are fed by %d layers", count, h, feeders)
		}
	}
	if n.InputCount != n.LayerFeedCounts[0] || n.OutputCount != n.LayerFeedCounts[numLayers-1] {
		return errors.Wrapf(ErrTopology, "input/output counts %d/%d do not match layers", n.InputCount, n.OutputCount)
	}
	layerIndex, weightIndex := layout(n.LayerCounts, n.LayerFeedCounts)
	for i := range layerIndex {
		if layerIndex[i] != n.LayerIndex[i] {
			return errors.Wrapf(ErrTopology, "layer %d starts at %d, expected %d", i, n.LayerIndex[i], layerIndex[i])
		}
	}
	for i := range weightIndex {
		if weightIndex[i] != n.WeightIndex[i] {
			return errors.Wrapf(ErrTopology, "weight block %d starts at %d, expected %d", i, n.WeightIndex[i], weightIndex[i])
		}
	}
	if len(n.Weights) != n.weightCount() {
		return errors.Wrapf(ErrTopology, "network has %d weights, expected %d", len(n.Weights), n.weightCount())
	}
	numUnits := n.LayerIndex[numLayers-1] + n.LayerCounts[numLayers-1]
	if len(n.LayerOutput) != numUnits || len(n.LayerSums) != numUnits {
		return errors.Wrapf(ErrTopology, "network has %d/%d neuron values, expected %d", len(n.LayerOutput), len(n.LayerSums), numUnits)
	}
	return nil
}
