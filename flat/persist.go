package flat

import (
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
)

// persistVersion is bumped whenever the saved layout changes
const persistVersion = 1

// savedNetwork is the JSON form of a Network
type savedNetwork struct {
	Version             int               `json:"version"`
	InputCount          int               `json:"input_count"`
	OutputCount         int               `json:"output_count"`
	LayerCounts         []int             `json:"layer_counts"`
	LayerFeedCounts     []int             `json:"layer_feed_counts"`
	LayerContextCounts  []int             `json:"layer_context_counts"`
	LayerIndex          []int             `json:"layer_index"`
	WeightIndex         []int             `json:"weight_index"`
	ContextTargetOffset []int             `json:"context_target_offset"`
	ContextTargetSize   []int             `json:"context_target_size"`
	BiasActivation      []float64         `json:"bias_activation"`
	Activations         []savedActivation `json:"activations"`
	ConnectionLimit     float64           `json:"connection_limit,omitempty"`
	Weights             []float64         `json:"weights"`
	LayerOutput         []float64         `json:"layer_output,omitempty"`
}

type savedActivation struct {
	Name  string  `json:"name"`
	Slope float64 `json:"slope,omitempty"`
}

// Save writes the network as JSON. The current activations are included so that a
// recurrent network resumes with the same context.
func (n *Network) Save(w io.Writer) error {
	s := savedNetwork{
		Version:             persistVersion,
		InputCount:          n.InputCount,
		OutputCount:         n.OutputCount,
		LayerCounts:         n.LayerCounts,
		LayerFeedCounts:     n.LayerFeedCounts,
		LayerContextCounts:  n.LayerContextCounts,
		LayerIndex:          n.LayerIndex,
		WeightIndex:         n.WeightIndex,
		ContextTargetOffset: n.ContextTargetOffset,
		ContextTargetSize:   n.ContextTargetSize,
		BiasActivation:      n.BiasActivation,
		Activations:         make([]savedActivation, len(n.Activations)),
		ConnectionLimit:     n.ConnectionLimit,
		Weights:             n.Weights,
		LayerOutput:         n.LayerOutput,
	}
	for i, a := range n.Activations {
		s.Activations[i] = savedActivation{Name: a.Kind.String(), Slope: a.Slope}
	}
	enc := json.NewEncoder(w)
	if err := enc.Encode(&s); err != nil {
		return errors.Wrapf(err, "Can't encode network")
	}
	return nil
}

// Load reads a network written by Save
func Load(r io.Reader) (*Network, error) {
	var s savedNetwork
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, errors.Wrapf(err, "Can't decode network")
	}
	if s.Version != persistVersion {
		return nil, errors.Errorf("unsupported network version %d", s.Version)
	}
	n := &Network{
		InputCount:          s.InputCount,
		OutputCount:         s.OutputCount,
		LayerCounts:         s.LayerCounts,
		LayerFeedCounts:     s.LayerFeedCounts,
		LayerContextCounts:  s.LayerContextCounts,
		LayerIndex:          s.LayerIndex,
		WeightIndex:         s.WeightIndex,
		ContextTargetOffset: s.ContextTargetOffset,
		ContextTargetSize:   s.ContextTargetSize,
		BiasActivation:      s.BiasActivation,
		Activations:         make([]Activation, len(s.Activations)),
		ConnectionLimit:     s.ConnectionLimit,
		Weights:             s.Weights,
	}
	for i, a := range s.Activations {
		kind, err := ParseActivationKind(a.Name)
		if err != nil {
			return nil, errors.Wrapf(err, "layer %d", i)
		}
		n.Activations[i] = Activation{Kind: kind, Slope: a.Slope}
	}
	if len(n.LayerCounts) > 0 && len(n.LayerIndex) == len(n.LayerCounts) {
		last := len(n.LayerCounts) - 1
		numUnits := max(n.LayerIndex[last]+n.LayerCounts[last], 0)
		n.LayerSums = make([]float64, numUnits)
		n.LayerOutput = s.LayerOutput
		if n.LayerOutput == nil {
			n.LayerOutput = make([]float64, numUnits)
		}
	}
	if err := n.Validate(); err != nil {
		return nil, errors.Wrapf(err, "Loaded network is inconsistent")
	}
	if s.LayerOutput == nil {
		n.ClearContext()
	}
	return n, nil
}

// SaveFile writes the network to the file at path
func (n *Network) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "Can't save network, couldn't create file %s", path)
	}
	defer f.Close()
	if err := n.Save(f); err != nil {
		return err
	}
	return f.Close()
}

// LoadFile reads a network from the file at path
func LoadFile(path string) (*Network, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't load network, couldn't open file %s", path)
	}
	defer f.Close()
	return Load(f)
}
