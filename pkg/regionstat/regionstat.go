// Package regionstat reduces the voxel values of a region to a single number.
//
// An empty input is not an error: both reducers return NaN so that metrics
// derived from the result propagate the missing value.
package regionstat

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// Kind names a reduction
type Kind string

const (
	KindMedian Kind = "median"
	KindMean   Kind = "mean"
)

// ParseKind converts a configuration string into a Kind
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindMedian:
		return KindMedian, nil
	case KindMean:
		return KindMean, nil
	}
	return "", fmt.Errorf("unknown statistic %q (must be median or mean)", s)
}

// Reduce applies the statistic to values
func (k Kind) Reduce(values []float64) (float64, error) {
	switch k {
	case KindMedian:
		return Median(values), nil
	case KindMean:
		return Mean(values), nil
	}
	return math.NaN(), fmt.Errorf("unknown statistic %q", string(k))
}

// Median returns the middle value, or the average of the two middle values
// for an even count. The input is not modified.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return math.NaN()
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}

// Mean returns the arithmetic mean
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return stat.Mean(values, nil)
}
