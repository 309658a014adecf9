package train

import (
	"runtime"

	"github.com/pkg/errors"
)

// Partition is the range of training set rows [Low, High) handled by one worker
type Partition struct {
	Low  int
	High int
}

// Len returns the number of rows in the partition
func (p Partition) Len() int {
	return p.High - p.Low
}

// Workload returns the number of CPU workers to use for the given number of rows.
// A thread count of zero or less means one per CPU. There are never more workers than rows.
func Workload(rows, threads int) int {
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	if threads > rows {
		threads = rows
	}
	return max(threads, 1)
}

// Split divides rows [low, high) into the given number of contiguous partitions of
// equal size, with any remainder added to the last one
func Split(low, high, threads int) []Partition {
	rows := high - low
	if rows <= 0 || threads <= 0 {
		return nil
	}
	threads = min(threads, rows)
	size := rows / threads
	parts := make([]Partition, threads)
	for i := range parts {
		parts[i] = Partition{Low: low + i*size, High: low + (i+1)*size}
	}
	parts[threads-1].High = high
	return parts
}

// Plan splits rows between an accelerator and the CPU workers. The first
// floor(ratio*rows) rows go to the accelerator; the rest are split between
// Workload(rows-deviceRows, threads) CPU partitions. The device partition is
// empty when the ratio is zero.
func Plan(rows, threads int, ratio float64) (device Partition, cpu []Partition, err error) {
	if rows <= 0 {
		return Partition{}, nil, errors.Wrapf(ErrEmptySet, "can't partition %d rows", rows)
	}
	if ratio < 0 || ratio > 1 {
		return Partition{}, nil, errors.Errorf("accelerator ratio %g is outside [0, 1]", ratio)
	}
	deviceRows := int(ratio * float64(rows))
	device = Partition{Low: 0, High: deviceRows}
	if deviceRows < rows {
		cpu = Split(deviceRows, rows, Workload(rows-deviceRows, threads))
	}
	return device, cpu, nil
}
