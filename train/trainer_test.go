package train

import (
	"bytes"
	"context"
	"log"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"

	"github.com/jeffheaton/encog-dotnet-core-sub009/data"
	"github.com/jeffheaton/encog-dotnet-core-sub009/flat"
)

func newXORTrainer(t *testing.T, cfg *Config) *Trainer {
	n, err := flat.NewFeedForward(2, []int{3}, 1, flat.Sigmoid)
	if err != nil {
		t.Fatal(err)
	}
	flat.NguyenWidrow{}.Randomize(n, newRand(7))
	tr, err := NewTrainer(n, xorSet(t), cfg)
	if err != nil {
		t.Fatal(err)
	}
	return tr
}

func TestTrainXOR(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Threads = 2
	tr := newXORTrainer(t, cfg)
	// a network stuck in a local minimum starts over
	tr.AddStrategy(&ResetStrategy{Required: 0.25, Cycles: 100})

	if !math.IsInf(tr.Error(), 1) {
		t.Errorf("error: error before training is %g, expected +Inf", tr.Error())
	}
	ran, err := tr.TrainToError(context.Background(), 0.05, 5000)
	if err != nil {
		t.Fatal(err)
	}
	if tr.Error() >= 0.05 {
		t.Fatalf("error: error is %g after %d iterations, expected below 0.05", tr.Error(), ran)
	}
	if ran != tr.IterationNumber() {
		t.Errorf("error: ran %d iterations but the trainer counted %d", ran, tr.IterationNumber())
	}
	final, err := CalculateError(tr.Network(), tr.Set())
	if err != nil {
		t.Fatal(err)
	}
	if final >= 0.1 {
		t.Errorf("error: error after the last update is %g, expected about the trained error %g", final, tr.Error())
	}

	// training is over
	if err := tr.Iteration(context.Background()); !errors.Is(err, ErrDone) {
		t.Errorf("error: expected ErrDone after training, got %v", err)
	}
}

func TestTrainXORDevice(t *testing.T) {
	n, err := flat.NewFeedForward(2, []int{3}, 1, flat.Sigmoid)
	if err != nil {
		t.Fatal(err)
	}
	flat.NguyenWidrow{}.Randomize(n, newRand(7))
	set := xorSet(t)
	dev, err := NewDevice(n, set, DeviceProfile{LocalSize: 1})
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.Threads = 1
	cfg.DeviceRatio = 0.5
	cfg.Accelerator = dev
	tr, err := NewTrainer(n, set, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if parts := tr.Partitions(); len(parts) != 2 || parts[0] != (Partition{0, 2}) {
		t.Fatalf("error: got partitions %v, expected the device on [0, 2) and one CPU worker", parts)
	}
	tr.AddStrategy(&ResetStrategy{Required: 0.25, Cycles: 100})
	ran, err := tr.TrainToError(context.Background(), 0.05, 5000)
	if err != nil {
		t.Fatal(err)
	}
	if tr.Error() >= 0.05 {
		t.Errorf("error: error is %g after %d iterations with the device, expected below 0.05", tr.Error(), ran)
	}
}

func TestIterationError(t *testing.T) {
	n, err := flat.NewFeedForward(2, []int{3}, 1, flat.TanH)
	if err != nil {
		t.Fatal(err)
	}
	flat.NguyenWidrow{}.Randomize(n, newRand(3))
	tr, err := NewTrainer(n, badSet{Set: xorSet(t), bad: 1}, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	before := append([]float64(nil), n.Weights...)
	err = tr.Iteration(context.Background())
	if !errors.Is(err, data.ErrNotFinite) {
		t.Fatalf("error: expected ErrNotFinite, got %v", err)
	}
	for i := range before {
		if n.Weights[i] != before[i] {
			t.Errorf("error: weight %d changed from %g to %g in a failed iteration", i, before[i], n.Weights[i])
		}
	}
	u := tr.Updater()
	for i := range u.UpdateValues {
		if u.UpdateValues[i] != 0.1 || u.LastGradient[i] != 0 {
			t.Errorf("error: RPROP state of weight %d changed in a failed iteration", i)
		}
	}
	if tr.IterationNumber() != 0 || !math.IsInf(tr.Error(), 1) {
		t.Errorf("error: failed iteration counted (%d iterations, error %g)", tr.IterationNumber(), tr.Error())
	}
}

func TestIterationReportsStartingError(t *testing.T) {
	tr := newXORTrainer(t, nil)
	want, err := CalculateError(tr.Network(), tr.Set())
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Iteration(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !aboutEqual(tr.Error(), want, defTol) {
		t.Errorf("error: first iteration error is %g, expected the starting error %g", tr.Error(), want)
	}
}

func TestNewTrainerErrors(t *testing.T) {
	n, err := flat.NewFeedForward(2, []int{3}, 1, flat.TanH)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewTrainer(n, &data.Memory{}, nil); !errors.Is(err, ErrEmptySet) {
		t.Errorf("error: expected ErrEmptySet, got %v", err)
	}
	wide := randomSet(t, 4, 3, 1, 1)
	if _, err := NewTrainer(n, wide, nil); !errors.Is(err, flat.ErrInputSize) {
		t.Errorf("error: expected ErrInputSize, got %v", err)
	}
	cfg := DefaultConfig()
	cfg.DeviceRatio = 0.5
	if _, err := NewTrainer(n, xorSet(t), cfg); err == nil {
		t.Errorf("error: expected an error for a device ratio without an accelerator")
	}
	cfg = DefaultConfig()
	cfg.RPROP.NegativeEta = 2
	if _, err := NewTrainer(n, xorSet(t), cfg); err == nil {
		t.Errorf("error: expected an error for invalid RPROP parameters")
	}
}

func TestStopTraining(t *testing.T) {
	tr := newXORTrainer(t, nil)
	// every change is too small, so training stops after Tolerate+2 iterations
	tr.AddStrategy(&StopTraining{MinImprovement: 10, Tolerate: 3})
	ran, err := tr.TrainToError(context.Background(), 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if ran != 5 || !tr.ShouldStop() {
		t.Errorf("error: stopped after %d iterations (stop requested %v), expected 5", ran, tr.ShouldStop())
	}
}

func TestResetStrategy(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Logger = log.New(&buf, "", 0)
	tr := newXORTrainer(t, cfg)
	tr.AddStrategy(&ResetStrategy{Required: 0, Cycles: 2})
	for i := 0; i < 2; i++ {
		if err := tr.Iteration(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	before := append([]float64(nil), tr.Network().Weights...)
	if err := tr.Iteration(context.Background()); err != nil {
		t.Fatal(err)
	}
	u := tr.Updater()
	for i := range u.UpdateValues {
		if u.UpdateValues[i] != 0.1 || u.LastGradient[i] != 0 || u.WeightChange[i] != 0 {
			t.Errorf("error: RPROP state of weight %d was not reset", i)
		}
	}
	same := true
	for i, w := range tr.Network().Weights {
		if !aboutEqual(w, before[i], 0.2) {
			same = false
		}
	}
	if same {
		t.Errorf("error: weights %v look like a single step from %v, expected new random weights", tr.Network().Weights, before)
	}
	if !strings.Contains(buf.String(), "resetting") {
		t.Errorf("error: expected the reset to be logged, got %q", buf.String())
	}
}

func TestRequiredImprovement(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Logger = log.New(&buf, "", 0)
	tr := newXORTrainer(t, cfg)
	// no iteration halves the error, so the network is reset regularly
	tr.AddStrategy(&RequiredImprovement{Required: 0.5, Cycles: 3})
	for i := 0; i < 20; i++ {
		if err := tr.Iteration(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if !strings.Contains(buf.String(), "resetting") {
		t.Errorf("error: expected a reset to be logged, got %q", buf.String())
	}
}

func TestGreedy(t *testing.T) {
	tr := newXORTrainer(t, nil)
	g := &Greedy{}
	tr.AddStrategy(g)
	held, err := CalculateError(tr.Network(), tr.Set())
	if err != nil {
		t.Fatal(err)
	}
	start := held
	firstRevert := 0
	movedAfterRevert := false
	for i := 1; i <= 200; i++ {
		if err := tr.Iteration(context.Background()); err != nil {
			t.Fatal(err)
		}
		now, err := CalculateError(tr.Network(), tr.Set())
		if err != nil {
			t.Fatal(err)
		}
		// the weights kept are never worse than the ones the iteration started from
		if now > tr.Error()+1e-12 {
			t.Errorf("error: iteration %d kept weights with error %g, worse than the starting error %g", i, now, tr.Error())
		}
		if now > held+1e-12 {
			t.Errorf("error: iteration %d raised the error of the kept weights from %g to %g", i, held, now)
		}
		if g.Reverts > 0 && firstRevert == 0 {
			firstRevert = i
		}
		if firstRevert != 0 && i > firstRevert && now < held-1e-12 {
			movedAfterRevert = true
		}
		held = now
	}
	if g.Reverts == 0 {
		t.Fatalf("error: no iteration was undone")
	}
	if !movedAfterRevert {
		t.Errorf("error: training stopped improving after the first undone iteration %d (%d undone)", firstRevert, g.Reverts)
	}
	if held >= start {
		t.Errorf("error: error went from %g to %g in 200 iterations", start, held)
	}
}

func TestVerboseLogging(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Logger = log.New(&buf, "", 0)
	cfg.Verbose = true
	tr := newXORTrainer(t, cfg)
	if _, err := tr.TrainToError(context.Background(), 0, 3); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "iteration 3: error") || !strings.Contains(out, "training finished after 3 iterations") {
		t.Errorf("error: unexpected log output %q", out)
	}
}

func TestErrorReadConcurrently(t *testing.T) {
	tr := newXORTrainer(t, nil)
	var wg sync.WaitGroup
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				_ = tr.Error()
				_ = tr.IterationNumber()
			}
		}
	}()
	for i := 0; i < 20; i++ {
		if err := tr.Iteration(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	close(done)
	wg.Wait()
	if tr.IterationNumber() != 20 {
		t.Errorf("error: %d iterations counted, expected 20", tr.IterationNumber())
	}
}

func TestCalculateError(t *testing.T) {
	n, err := flat.NewFeedForward(1, nil, 1, flat.Linear)
	if err != nil {
		t.Fatal(err)
	}
	n.SetWeight(0, 0, 0, 1)
	set, err := data.NewMemory([][]float64{{1}, {2}}, [][]float64{{2}, {2}})
	if err != nil {
		t.Fatal(err)
	}
	// outputs 1 and 2, so the squared errors are 1 and 0
	got, err := CalculateError(n, set)
	if err != nil {
		t.Fatal(err)
	}
	if !aboutEqual(got, math.Sqrt(0.5), defTol) {
		t.Errorf("error: error is %g, expected %g", got, math.Sqrt(0.5))
	}
	if _, err := CalculateError(n, &data.Memory{}); !errors.Is(err, ErrEmptySet) {
		t.Errorf("error: expected ErrEmptySet, got %v", err)
	}
}
