package train

import (
	"context"
	"time"

	"github.com/goki/mat32"
	"github.com/pkg/errors"

	"github.com/jeffheaton/encog-dotnet-core-sub009/data"
	"github.com/jeffheaton/encog-dotnet-core-sub009/flat"
)

// DeviceProfile describes how an accelerator splits the work it is given
type DeviceProfile struct {
	LocalSize int           // the number of rows reduced together in one workgroup
	Timeout   time.Duration // the longest a single Calculate may take, zero for no limit
}

// DefaultDeviceProfile returns a profile with 64-row workgroups and no timeout
func DefaultDeviceProfile() DeviceProfile {
	return DeviceProfile{LocalSize: 64}
}

// Device is a Calculator that computes in single precision on a snapshot of the
// network weights, reducing each workgroup of rows on its own before folding it
// into the result, the way a compute kernel does.
type Device struct {
	net     *flat.Network
	set     data.Set
	profile DeviceProfile

	weights []float32 // snapshot taken at the start of each Calculate
	output  []float32
	sums    []float32
	delta   []float32
	local   []float32 // gradients of the current workgroup
	result  Result
}

// NewDevice returns a single precision accelerator for net over rows of set
func NewDevice(net *flat.Network, set data.Set, profile DeviceProfile) (*Device, error) {
	if profile.LocalSize <= 0 {
		return nil, errors.Errorf("device workgroup size must be positive, got %d", profile.LocalSize)
	}
	numUnits := len(net.LayerOutput)
	return &Device{
		net:     net,
		set:     set,
		profile: profile,
		weights: make([]float32, len(net.Weights)),
		output:  make([]float32, numUnits),
		sums:    make([]float32, numUnits),
		delta:   make([]float32, numUnits),
		local:   make([]float32, len(net.Weights)),
	}, nil
}

// Calculate implements Calculator
func (d *Device) Calculate(ctx context.Context, p Partition) (*Result, error) {
	if d.profile.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.profile.Timeout)
		defer cancel()
	}
	n := d.net
	d.result.reset(len(n.Weights))
	for i, w := range n.Weights {
		d.weights[i] = float32(w)
	}
	d.resetOutput()

	for start := p.Low; start < p.High; start += d.profile.LocalSize {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "device stopped at row %d", start)
		}
		end := min(start+d.profile.LocalSize, p.High)
		clear(d.local)
		var localErr float32
		for row := start; row < end; row++ {
			input, ideal := d.set.Record(row)
			if !data.Finite(input) || !data.Finite(ideal) {
				return nil, errors.Wrapf(data.ErrNotFinite, "row %d", row)
			}
			if len(input) != n.InputCount {
				return nil, errors.Wrapf(flat.ErrInputSize, "row %d has %d inputs, network has %d", row, len(input), n.InputCount)
			}
			if len(ideal) != n.OutputCount {
				return nil, errors.Wrapf(flat.ErrOutputSize, "row %d has %d ideal values, network has %d outputs", row, len(ideal), n.OutputCount)
			}
			localErr += d.process(input, ideal)
		}
		for i, g := range d.local {
			d.result.Gradients[i] += float64(g)
		}
		d.result.Error += float64(localErr)
		d.result.Rows += end - start
	}
	return &d.result, nil
}

func (d *Device) resetOutput() {
	n := d.net
	clear(d.output)
	clear(d.sums)
	for l := range n.LayerCounts {
		if n.BiasActivation[l] != 0 {
			d.output[n.LayerIndex[l]+n.LayerFeedCounts[l]] = float32(n.BiasActivation[l])
		}
	}
}

// process runs one training pair forward and backward, adds its gradients to the
// workgroup buffer and returns its squared error
func (d *Device) process(input, ideal []float64) float32 {
	n := d.net
	limit := float32(n.ConnectionLimit)
	limited := n.IsLimited()

	for i, x := range input {
		d.output[n.LayerIndex[0]+i] = float32(x)
	}
	for l := 1; l < n.NumLayers(); l++ {
		inStart, inSize := n.LayerIndex[l-1], n.LayerCounts[l-1]
		act := n.Activations[l]
		for to := 0; to < n.LayerFeedCounts[l]; to++ {
			row := d.weights[n.WeightIndex[l-1]+to*inSize:][:inSize]
			var sum float32
			for from, w := range row {
				if limited && mat32.Abs(w) < limit {
					continue
				}
				sum += w * d.output[inStart+from]
			}
			ui := n.LayerIndex[l] + to
			d.sums[ui] = sum
			d.output[ui] = act.Activate32(sum)
		}
		if size := n.ContextTargetSize[l]; size > 0 {
			copy(d.output[n.ContextTargetOffset[l]:], d.output[n.LayerIndex[l]:][:size])
		}
	}

	clear(d.delta)
	out := n.NumLayers() - 1
	var sse float32
	for j := 0; j < n.OutputCount; j++ {
		ui := n.LayerIndex[out] + j
		diff := float32(ideal[j]) - d.output[ui]
		sse += diff * diff
		d.delta[ui] = diff * n.Activations[out].Derivative32(d.sums[ui], d.output[ui])
	}
	for layer := out - 1; layer >= 0; layer-- {
		fromStart, fromCount, fromFeed := n.LayerIndex[layer], n.LayerCounts[layer], n.LayerFeedCounts[layer]
		toStart := n.LayerIndex[layer+1]
		for to := 0; to < n.LayerFeedCounts[layer+1]; to++ {
			delta := d.delta[toStart+to]
			row := n.WeightIndex[layer] + to*fromCount
			for from := 0; from < fromCount; from++ {
				w := d.weights[row+from]
				if limited && mat32.Abs(w) < limit {
					continue
				}
				d.local[row+from] += delta * d.output[fromStart+from]
				if layer > 0 && from < fromFeed {
					d.delta[fromStart+from] += w * delta
				}
			}
		}
		if layer == 0 {
			continue
		}
		act := n.Activations[layer]
		for from := 0; from < fromFeed; from++ {
			ui := fromStart + from
			d.delta[ui] *= act.Derivative32(d.sums[ui], d.output[ui])
		}
	}
	return sse
}
