// Package data holds training sets: input vectors paired with the ideal output
// the network should produce for them.
package data

import (
	"math"

	"github.com/pkg/errors"
)

// These are the errors returned for malformed training data.
var (
	ErrShape     = errors.New("training pair has the wrong size")
	ErrNotFinite = errors.New("training pair holds a NaN or infinite value")
)

// Pair is one row of a training set
type Pair struct {
	Input []float64
	Ideal []float64
}

// Set is a training set with random access to its rows, so that it can be
// split between workers. Implementations must allow concurrent calls to Record.
type Set interface {
	Count() int     // the number of rows
	InputSize() int // the length of every input vector
	IdealSize() int // the length of every ideal vector
	// Record returns the row at index i. The returned slices must not be modified.
	Record(i int) (input, ideal []float64)
}

// Iterator reads a training set one row at a time
type Iterator interface {
	Next() bool // advances to the next pair, false at the end or on error
	Pair() Pair // the current pair
	Err() error // the error that stopped iteration, if any
}

// Memory is a training set held fully in memory
type Memory struct {
	pairs     []Pair
	inputSize int
	idealSize int
}

// NewMemory returns a set of the given input and ideal rows. The rows are not copied.
func NewMemory(input, ideal [][]float64) (*Memory, error) {
	if len(input) != len(ideal) {
		return nil, errors.Wrapf(ErrShape, "%d input rows but %d ideal rows", len(input), len(ideal))
	}
	m := &Memory{pairs: make([]Pair, 0, len(input))}
	for i := range input {
		if err := m.Add(Pair{Input: input[i], Ideal: ideal[i]}); err != nil {
			return nil, errors.Wrapf(err, "row %d", i)
		}
	}
	return m, nil
}

// Add appends a pair. The first pair fixes the input and ideal sizes.
func (m *Memory) Add(p Pair) error {
	if len(p.Input) == 0 || len(p.Ideal) == 0 {
		return errors.Wrapf(ErrShape, "empty pair (%d inputs, %d ideals)", len(p.Input), len(p.Ideal))
	}
	if len(m.pairs) == 0 {
		m.inputSize = len(p.Input)
		m.idealSize = len(p.Ideal)
	}
	if len(p.Input) != m.inputSize || len(p.Ideal) != m.idealSize {
		return errors.Wrapf(ErrShape, "got %d inputs and %d ideals, set has %d and %d",
			len(p.Input), len(p.Ideal), m.inputSize, m.idealSize)
	}
	if !Finite(p.Input) || !Finite(p.Ideal) {
		return ErrNotFinite
	}
	m.pairs = append(m.pairs, p)
	return nil
}

// Count implements Set
func (m *Memory) Count() int { return len(m.pairs) }

// InputSize implements Set
func (m *Memory) InputSize() int { return m.inputSize }

// IdealSize implements Set
func (m *Memory) IdealSize() int { return m.idealSize }

// Record implements Set
func (m *Memory) Record(i int) (input, ideal []float64) {
	p := m.pairs[i]
	return p.Input, p.Ideal
}

// Collect reads every pair from it into a Memory set, so that a sequential
// source can be partitioned
func Collect(it Iterator) (*Memory, error) {
	m := &Memory{}
	for it.Next() {
		if err := m.Add(it.Pair()); err != nil {
			return nil, errors.Wrapf(err, "row %d", m.Count())
		}
	}
	if err := it.Err(); err != nil {
		return nil, errors.Wrapf(err, "Reading training set failed after %d rows", m.Count())
	}
	return m, nil
}

// Slice returns a view of rows [low, high) of s
func Slice(s Set, low, high int) Set {
	return &slice{Set: s, low: low, high: high}
}

type slice struct {
	Set
	low, high int
}

func (s *slice) Count() int { return s.high - s.low }

func (s *slice) Record(i int) (input, ideal []float64) {
	return s.Set.Record(s.low + i)
}

// Finite reports whether every value in v is neither NaN nor infinite
func Finite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
