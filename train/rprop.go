package train

import (
	"math"

	"github.com/pkg/errors"
)

// RPROPParams are the tunables of resilient propagation
type RPROPParams struct {
	InitialUpdate float64 // the starting step size of every weight
	MaxStep       float64 // the largest step size
	MinStep       float64 // the smallest step size
	PositiveEta   float64 // the step growth factor while the gradient keeps its sign
	NegativeEta   float64 // the step shrink factor when the gradient changes sign
	ZeroTolerance float64 // values smaller than this in magnitude have no sign
}

// DefaultRPROP returns the standard RPROP parameters
func DefaultRPROP() RPROPParams {
	return RPROPParams{
		InitialUpdate: 0.1,
		MaxStep:       50,
		MinStep:       1e-6,
		PositiveEta:   1.2,
		NegativeEta:   0.5,
		ZeroTolerance: 1e-17,
	}
}

// Validate checks that the parameters describe a working update rule
func (p RPROPParams) Validate() error {
	switch {
	case p.MinStep <= 0:
		return errors.Errorf("RPROP minimum step %g must be positive", p.MinStep)
	case p.MaxStep < p.MinStep:
		return errors.Errorf("RPROP maximum step %g is below the minimum step %g", p.MaxStep, p.MinStep)
	case p.InitialUpdate < p.MinStep || p.InitialUpdate > p.MaxStep:
		return errors.Errorf("RPROP initial update %g is outside [%g, %g]", p.InitialUpdate, p.MinStep, p.MaxStep)
	case p.PositiveEta <= 1:
		return errors.Errorf("RPROP positive eta %g must be above 1", p.PositiveEta)
	case p.NegativeEta <= 0 || p.NegativeEta >= 1:
		return errors.Errorf("RPROP negative eta %g must be in (0, 1)", p.NegativeEta)
	case p.ZeroTolerance < 0:
		return errors.Errorf("RPROP zero tolerance %g is negative", p.ZeroTolerance)
	}
	return nil
}

// Updater applies the RPROP rule with undo on sign reversal. It keeps, for every
// weight, the gradient it last agreed with, its current step size and the change
// it last applied.
type Updater struct {
	Params       RPROPParams
	LastGradient []float64
	UpdateValues []float64
	WeightChange []float64

	// staged values of the step in progress
	weights      []float64
	lastGradient []float64
	updateValues []float64
	weightChange []float64
}

// NewUpdater returns an updater for a network with the given number of weights
func NewUpdater(numWeights int, p RPROPParams) (*Updater, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	u := &Updater{
		Params:       p,
		LastGradient: make([]float64, numWeights),
		UpdateValues: make([]float64, numWeights),
		WeightChange: make([]float64, numWeights),
		weights:      make([]float64, numWeights),
		lastGradient: make([]float64, numWeights),
		updateValues: make([]float64, numWeights),
		weightChange: make([]float64, numWeights),
	}
	u.Reset()
	return u, nil
}

// Reset forgets all gradient history and restores the initial step sizes
func (u *Updater) Reset() {
	clear(u.LastGradient)
	clear(u.WeightChange)
	for i := range u.UpdateValues {
		u.UpdateValues[i] = u.Params.InitialUpdate
	}
}

// Backtrack is used after the weights are put back to where the last step started.
// Every step size shrinks as it would on a sign change, and the gradient and change
// history is cleared, so the next step from those weights is a shorter plain step.
func (u *Updater) Backtrack() {
	clear(u.LastGradient)
	clear(u.WeightChange)
	for i, step := range u.UpdateValues {
		u.UpdateValues[i] = math.Max(step*u.Params.NegativeEta, u.Params.MinStep)
	}
}

// sign returns -1, 0 or 1; anything within ZeroTolerance of zero is 0
func (u *Updater) sign(x float64) float64 {
	if math.Abs(x) < u.Params.ZeroTolerance {
		return 0
	}
	if x > 0 {
		return 1
	}
	if x < 0 {
		return -1
	}
	return 0
}

// Step changes every weight according to its gradient. The new weights and state are
// computed aside and only committed if every weight is finite; otherwise weights and
// state are left untouched and ErrNotFinite is returned.
//
// gradients follow the Result convention (they point downhill), so each weight
// moves by the sign of its gradient times its step size.
func (u *Updater) Step(weights, gradients []float64) error {
	if len(weights) != len(u.UpdateValues) || len(gradients) != len(u.UpdateValues) {
		return errors.Errorf("got %d weights and %d gradients, updater has %d", len(weights), len(gradients), len(u.UpdateValues))
	}
	p := u.Params
	for i, g := range gradients {
		change := u.sign(g * u.LastGradient[i])
		step := u.UpdateValues[i]
		last := g
		var delta float64
		switch {
		case change > 0:
			step = math.Min(step*p.PositiveEta, p.MaxStep)
			delta = u.sign(g) * step
		case change < 0:
			step = math.Max(step*p.NegativeEta, p.MinStep)
			// undo the previous change and sit out the next sign test
			delta = -u.WeightChange[i]
			last = 0
		default:
			delta = u.sign(g) * step
		}
		w := weights[i] + delta
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return errors.Wrapf(ErrNotFinite, "weight %d would become %g", i, w)
		}
		u.weights[i] = w
		u.lastGradient[i] = last
		u.updateValues[i] = step
		u.weightChange[i] = delta
	}
	copy(weights, u.weights)
	copy(u.LastGradient, u.lastGradient)
	copy(u.UpdateValues, u.updateValues)
	copy(u.WeightChange, u.weightChange)
	return nil
}
