package spc

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// Measurement is a single numeric reading within a sample. Excluded
// measurements are skipped by all derived statistics but keep their
// position in the sample.
type Measurement struct {
	Value    float64
	Excluded bool
}

// Sample is an ordered subgroup of measurements taken together. The ID is
// opaque to the engine; callers supply samples in timestamp order and
// filter out excluded samples before handing them over.
type Sample struct {
	ID           int64
	Measurements []Measurement
}

// SubgroupStat holds the per-sample aggregates every downstream
// calculation consumes. It is derived 1:1 from a sample and replaced
// wholesale whenever the sample's measurements change.
type SubgroupStat struct {
	SampleID int64
	Mean     float64
	Range    float64
	StdDev   float64
	N        int
}

// ComputeSubgroupStat computes the mean, range and sample standard
// deviation of a sample's non-excluded measurements. A single usable
// measurement has range and stddev of zero; a lone reading has no
// defined spread. Samples with no usable measurements return
// ErrEmptySample.
func ComputeSubgroupStat(s Sample) (SubgroupStat, error) {
	values := make([]float64, 0, len(s.Measurements))
	for _, m := range s.Measurements {
		if m.Excluded {
			continue
		}
		values = append(values, m.Value)
	}
	if len(values) == 0 {
		return SubgroupStat{}, fmt.Errorf("sample %d: %w", s.ID, ErrEmptySample)
	}

	out := SubgroupStat{
		SampleID: s.ID,
		Mean:     stat.Mean(values, nil),
		N:        len(values),
	}
	if len(values) == 1 {
		return out, nil
	}

	min, max := values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	out.Range = max - min
	out.StdDev = stat.StdDev(values, nil)
	return out, nil
}
