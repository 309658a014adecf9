// Package train trains flat networks with resilient propagation (RPROP), computing
// the gradients of each iteration on several goroutines at once.
package train

import (
	"context"
	"io"
	"log"
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/jeffheaton/encog-dotnet-core-sub009/data"
	"github.com/jeffheaton/encog-dotnet-core-sub009/flat"
)

// Config holds the configuration of a Trainer
type Config struct {
	Threads     int             // the number of CPU workers, zero for one per CPU
	DeviceRatio float64         // the share of rows given to Accelerator, in [0, 1]
	Accelerator Calculator      // computes the accelerator share, required when DeviceRatio > 0
	RPROP       RPROPParams     // the update rule tunables
	Randomizer  flat.Randomizer // used by Reset to pick new weights
	Seed        int64           // the seed of the random source used by Reset
	Logger      *log.Logger     // where progress is logged, nil for nowhere
	Verbose     bool            // whether to log every iteration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Threads:    0,
		RPROP:      DefaultRPROP(),
		Randomizer: flat.NguyenWidrow{},
		Seed:       1,
	}
}

// Trainer runs RPROP iterations on a network. It goes from created to iterating
// on the first call to Iteration, and to done on Finish. Iteration must not be
// called from more than one goroutine at once; Error and IterationNumber may be
// read from anywhere.
type Trainer struct {
	net        *flat.Network
	set        data.Set
	cfg        Config
	manager    *Manager
	updater    *Updater
	strategies []Strategy
	rnd        *rand.Rand
	logger     *log.Logger

	err       atomic.Float64
	iteration atomic.Int64
	stop      atomic.Bool
	done      atomic.Bool
}

// NewTrainer returns a trainer of net over set. A nil config means DefaultConfig().
func NewTrainer(net *flat.Network, set data.Set, cfg *Config) (*Trainer, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if set.Count() == 0 {
		return nil, ErrEmptySet
	}
	manager, err := NewManager(net, set, cfg.Threads, cfg.DeviceRatio, cfg.Accelerator)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't create trainer")
	}
	updater, err := NewUpdater(len(net.Weights), cfg.RPROP)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't create trainer")
	}
	t := &Trainer{
		net:     net,
		set:     set,
		cfg:     *cfg,
		manager: manager,
		updater: updater,
		rnd:     rand.New(rand.NewSource(cfg.Seed)),
		logger:  cfg.Logger,
	}
	if t.logger == nil {
		t.logger = log.New(io.Discard, "", 0)
	}
	if t.cfg.Randomizer == nil {
		t.cfg.Randomizer = flat.NguyenWidrow{}
	}
	t.err.Store(math.Inf(1))
	return t, nil
}

// Network returns the network being trained
func (t *Trainer) Network() *flat.Network { return t.net }

// Set returns the training set
func (t *Trainer) Set() data.Set { return t.set }

// Updater returns the RPROP state
func (t *Trainer) Updater() *Updater { return t.updater }

// Partitions returns the row ranges computed in parallel each iteration
func (t *Trainer) Partitions() []Partition { return t.manager.Partitions() }

// Error returns the root mean square error of the last iteration, measured with
// the weights it started from. It is +Inf before the first iteration.
func (t *Trainer) Error() float64 { return t.err.Load() }

// SetError overrides the current error, for strategies that revert an iteration
func (t *Trainer) SetError(e float64) { t.err.Store(e) }

// IterationNumber returns the number of completed iterations
func (t *Trainer) IterationNumber() int { return int(t.iteration.Load()) }

// AddStrategy adds a strategy and lets it look at the trainer
func (t *Trainer) AddStrategy(s Strategy) {
	s.Init(t)
	t.strategies = append(t.strategies, s)
}

// RequestStop asks the caller to stop training; see ShouldStop
func (t *Trainer) RequestStop() { t.stop.Store(true) }

// ShouldStop reports whether a strategy has asked for training to stop
func (t *Trainer) ShouldStop() bool { return t.stop.Load() }

// Finish moves the trainer to its done state; later iterations fail with ErrDone
func (t *Trainer) Finish() { t.done.Store(true) }

// Logf logs through the trainer's logger
func (t *Trainer) Logf(format string, args ...interface{}) {
	t.logger.Printf(format, args...)
}

// Reset gives the network new random weights and forgets the RPROP history
func (t *Trainer) Reset() {
	t.cfg.Randomizer.Randomize(t.net, t.rnd)
	t.updater.Reset()
	t.net.ClearContext()
}

// Iteration runs one training iteration: the gradients of every partition are
// computed in parallel, summed, and applied with the RPROP rule. If any step fails
// the weights and RPROP state are left as they were.
func (t *Trainer) Iteration(ctx context.Context) error {
	if t.done.Load() {
		return ErrDone
	}
	for _, s := range t.strategies {
		s.PreIteration()
	}
	num := t.IterationNumber() + 1
	gradients, sse, err := t.manager.Run(ctx)
	if err != nil {
		return errors.Wrapf(err, "Iteration %d failed", num)
	}
	if err := t.updater.Step(t.net.Weights, gradients); err != nil {
		return errors.Wrapf(err, "Iteration %d failed", num)
	}
	t.err.Store(t.manager.RMS(sse))
	t.iteration.Inc()
	if t.cfg.Verbose {
		t.Logf("iteration %d: error %g", num, t.Error())
	}
	for _, s := range t.strategies {
		s.PostIteration()
	}
	return nil
}

// TrainToError runs iterations until the error falls below target, a strategy asks
// to stop, or maxIterations have run (zero means no limit), then finishes training.
// It returns the number of iterations run.
func (t *Trainer) TrainToError(ctx context.Context, target float64, maxIterations int) (int, error) {
	defer t.Finish()
	ran := 0
	for maxIterations <= 0 || ran < maxIterations {
		if err := t.Iteration(ctx); err != nil {
			return ran, err
		}
		ran++
		if t.Error() < target || t.ShouldStop() {
			break
		}
	}
	t.Logf("training finished after %d iterations with error %g", ran, t.Error())
	return ran, nil
}

// CalculateError returns the root mean square error of net over every row of set.
// It uses its own activation storage, so net itself is not changed.
func CalculateError(net *flat.Network, set data.Set) (float64, error) {
	if set.Count() == 0 {
		return 0, ErrEmptySet
	}
	s := net.NewScratch()
	var sse float64
	for i := 0; i < set.Count(); i++ {
		input, ideal := set.Record(i)
		if len(ideal) != net.OutputCount {
			return 0, errors.Wrapf(flat.ErrOutputSize, "row %d has %d ideal values, network has %d outputs", i, len(ideal), net.OutputCount)
		}
		if err := net.Forward(s, input); err != nil {
			return 0, errors.Wrapf(err, "row %d", i)
		}
		for j, actual := range net.Outputs(s) {
			diff := ideal[j] - actual
			sse += diff * diff
		}
	}
	return math.Sqrt(sse / float64(set.Count()*net.OutputCount)), nil
}
