package train

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/jeffheaton/encog-dotnet-core-sub009/data"
	"github.com/jeffheaton/encog-dotnet-core-sub009/flat"
)

// These are the errors that stop training.
var (
	ErrEmptySet  = errors.New("training set is empty")
	ErrNotFinite = errors.New("training produced a NaN or infinite value")
	ErrDone      = errors.New("training is finished")
)

// Manager splits a training set into partitions, computes the gradients of every
// partition at the same time, and sums them. Its calculators are created once and
// reused by every call to Run. The sum does not depend on the number of partitions,
// up to rounding, unless the network has context neurons.
type Manager struct {
	net         *flat.Network
	set         data.Set
	parts       []Partition
	calculators []Calculator
	results     []*Result
	gradients   []float64
}

// NewManager returns a manager for the given network and training set. threads is the
// number of CPU workers (zero or less means one per CPU). If ratio is positive, that
// share of the rows is computed by accelerator, which must then be non-nil.
func NewManager(net *flat.Network, set data.Set, threads int, ratio float64, accelerator Calculator) (*Manager, error) {
	if set.InputSize() != net.InputCount {
		return nil, errors.Wrapf(flat.ErrInputSize, "training set has %d inputs, network has %d", set.InputSize(), net.InputCount)
	}
	if set.IdealSize() != net.OutputCount {
		return nil, errors.Wrapf(flat.ErrOutputSize, "training set has %d ideals, network has %d outputs", set.IdealSize(), net.OutputCount)
	}
	if ratio > 0 && accelerator == nil {
		return nil, errors.Errorf("accelerator ratio is %g but no accelerator is configured", ratio)
	}
	device, cpu, err := Plan(set.Count(), threads, ratio)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		net:       net,
		set:       set,
		gradients: make([]float64, len(net.Weights)),
	}
	if device.Len() > 0 {
		m.parts = append(m.parts, device)
		m.calculators = append(m.calculators, accelerator)
	}
	for _, p := range cpu {
		m.parts = append(m.parts, p)
		m.calculators = append(m.calculators, NewGradientWorker(net, set))
	}
	m.results = make([]*Result, len(m.parts))
	return m, nil
}

// Partitions returns the row ranges handled by each calculator, accelerator first
func (m *Manager) Partitions() []Partition {
	return append([]Partition(nil), m.parts...)
}

// Run computes the gradients of every partition in parallel and returns their sum
// and the summed squared error. The gradient slice is reused by the next call.
// If any partition fails, the others are cancelled, Run waits for all of them to
// return and then reports the failure; no partial sum is ever returned.
func (m *Manager) Run(ctx context.Context) ([]float64, float64, error) {
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range m.calculators {
		i, c := i, c
		p := m.parts[i]
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = errors.Errorf("panic: %v", r)
				}
				if err != nil {
					err = errors.Wrapf(err, "Partition %d [%d, %d) failed", i, p.Low, p.High)
				}
			}()
			res, err := c.Calculate(gctx, p)
			if err != nil {
				return err
			}
			if len(res.Gradients) != len(m.gradients) {
				return errors.Errorf("got %d gradients for %d weights", len(res.Gradients), len(m.gradients))
			}
			m.results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	clear(m.gradients)
	errs := make([]float64, len(m.results))
	for i, res := range m.results {
		floats.Add(m.gradients, res.Gradients)
		errs[i] = res.Error
	}
	sse := floats.Sum(errs)
	if !finite(m.gradients) || math.IsNaN(sse) || math.IsInf(sse, 0) {
		return nil, 0, errors.Wrapf(ErrNotFinite, "summing gradients")
	}
	return m.gradients, sse, nil
}

// RMS returns the root mean square error for the given summed squared error over the whole set
func (m *Manager) RMS(sse float64) float64 {
	return math.Sqrt(sse / float64(m.set.Count()*m.net.OutputCount))
}

// finite reports whether v holds neither NaN nor infinite values
func finite(v []float64) bool {
	if floats.HasNaN(v) {
		return false
	}
	for _, x := range v {
		if math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
