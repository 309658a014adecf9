package train

import "math"

// Strategy observes a Trainer around each iteration and may change its state
type Strategy interface {
	Init(t *Trainer)
	PreIteration()
	PostIteration()
}

// StopTraining asks training to stop once the best error has improved by less
// than MinImprovement for more than Tolerate iterations in a row
type StopTraining struct {
	MinImprovement float64
	Tolerate       int

	t         *Trainer
	ready     bool
	bestError float64
	badCycles int
}

// NewStopTraining returns a StopTraining with the usual thresholds (1e-7 over 100 iterations)
func NewStopTraining() *StopTraining {
	return &StopTraining{MinImprovement: 1e-7, Tolerate: 100}
}

// Init implements Strategy
func (s *StopTraining) Init(t *Trainer) {
	s.t = t
	s.ready = false
	s.bestError = math.Inf(1)
	s.badCycles = 0
}

// PreIteration implements Strategy
func (s *StopTraining) PreIteration() {}

// PostIteration implements Strategy
func (s *StopTraining) PostIteration() {
	e := s.t.Error()
	if s.ready {
		if math.Abs(s.bestError-e) < s.MinImprovement {
			s.badCycles++
			if s.badCycles > s.Tolerate {
				s.t.Logf("stopping: error improved less than %g for %d iterations", s.MinImprovement, s.badCycles)
				s.t.RequestStop()
			}
		} else {
			s.badCycles = 0
		}
	} else {
		s.ready = true
	}
	s.bestError = math.Min(s.bestError, e)
}

// RequiredImprovement resets the network when the error has not improved on the best
// error by at least the fraction Required for more than Cycles iterations in a row
type RequiredImprovement struct {
	Required float64
	Cycles   int

	t         *Trainer
	bestError float64
	badCycles int
}

// Init implements Strategy
func (s *RequiredImprovement) Init(t *Trainer) {
	s.t = t
	s.bestError = math.Inf(1)
	s.badCycles = 0
}

// PreIteration implements Strategy
func (s *RequiredImprovement) PreIteration() {
	e := s.t.Error()
	if math.IsInf(e, 1) {
		return
	}
	if !math.IsInf(s.bestError, 1) {
		improve := (s.bestError - e) / s.bestError
		if improve < s.Required {
			s.badCycles++
			if s.badCycles > s.Cycles {
				s.t.Logf("resetting: error %g improved by less than %g for %d iterations", e, s.Required, s.badCycles)
				s.t.Reset()
				s.badCycles = 0
				s.bestError = math.Inf(1)
				return
			}
		} else {
			s.badCycles = 0
		}
	}
	s.bestError = math.Min(s.bestError, e)
}

// PostIteration implements Strategy
func (s *RequiredImprovement) PostIteration() {}

// ResetStrategy resets the network when the error stays above Required for more
// than Cycles iterations in a row
type ResetStrategy struct {
	Required float64
	Cycles   int

	t         *Trainer
	badCycles int
}

// Init implements Strategy
func (s *ResetStrategy) Init(t *Trainer) {
	s.t = t
	s.badCycles = 0
}

// PreIteration implements Strategy
func (s *ResetStrategy) PreIteration() {}

// PostIteration implements Strategy
func (s *ResetStrategy) PostIteration() {
	if s.t.Error() <= s.Required {
		s.badCycles = 0
		return
	}
	s.badCycles++
	if s.badCycles > s.Cycles {
		s.t.Logf("resetting: error %g above %g for %d iterations", s.t.Error(), s.Required, s.badCycles)
		s.t.Reset()
		s.badCycles = 0
	}
}

// Greedy undoes any iteration whose update makes the error worse. After each
// iteration the updated weights are measured over the whole set; if they do worse
// than the weights the iteration started from, those weights are put back and the
// RPROP steps shrink, so the next iteration tries a shorter step from the same place.
type Greedy struct {
	Reverts int // the number of iterations undone so far

	t       *Trainer
	weights []float64
}

// Init implements Strategy
func (s *Greedy) Init(t *Trainer) {
	s.t = t
	s.weights = make([]float64, len(t.Network().Weights))
	s.Reverts = 0
}

// PreIteration implements Strategy
func (s *Greedy) PreIteration() {
	copy(s.weights, s.t.Network().Weights)
}

// PostIteration implements Strategy
func (s *Greedy) PostIteration() {
	// the trainer's error is that of the weights the iteration started from
	before := s.t.Error()
	after, err := CalculateError(s.t.Network(), s.t.Set())
	if err != nil {
		s.t.Logf("greedy: can't measure the updated weights: %v", err)
		return
	}
	if after <= before {
		return
	}
	copy(s.t.Network().Weights, s.weights)
	s.t.Updater().Backtrack()
	s.Reverts++
}
