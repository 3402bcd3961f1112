package visualization

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/astewartau/ukb-qsmxt/internal/models"
	"github.com/astewartau/ukb-qsmxt/pkg/regionstat"
)

// Method selects which axial slice is previewed
type Method string

const (
	// MethodMedian picks the slice whose labelled voxel count is closest to
	// the median count of all labelled slices
	MethodMedian Method = "median"
	// MethodRandomAboveMedian picks a random slice whose count is at least the median
	MethodRandomAboveMedian Method = "random_above_median"
)

// ParseMethod converts a configuration string into a Method
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case MethodMedian, MethodRandomAboveMedian:
		return m, nil
	}
	return "", fmt.Errorf("unknown slice selection method %q", s)
}

// SliceCounts returns the number of labelled (> 0) voxels in every axial slice
func SliceCounts(labels *models.Volume) []int {
	plane := labels.Shape.X * labels.Shape.Y
	counts := make([]int, labels.Shape.Z)
	for z := range counts {
		for _, v := range labels.Data[z*plane : (z+1)*plane] {
			if v > 0 {
				counts[z]++
			}
		}
	}
	return counts
}

// SelectAxialSlice picks a representative axial slice of a segmentation.
// Only slices with at least one labelled voxel take part. The boolean is
// false when the segmentation is empty. rng is only used by
// MethodRandomAboveMedian and must not be nil for it.
func SelectAxialSlice(labels *models.Volume, method Method, rng *rand.Rand) (int, bool, error) {
	var slices []int
	var counts []float64
	for z, n := range SliceCounts(labels) {
		if n > 0 {
			slices = append(slices, z)
			counts = append(counts, float64(n))
		}
	}
	if len(slices) == 0 {
		return 0, false, nil
	}

	median := regionstat.Median(counts)

	switch method {
	case MethodMedian:
		best, bestDist := 0, math.Inf(1)
		for i, n := range counts {
			// strict comparison keeps the first slice on ties
			if d := math.Abs(n - median); d < bestDist {
				best, bestDist = i, d
			}
		}
		return slices[best], true, nil

	case MethodRandomAboveMedian:
		if rng == nil {
			return 0, false, fmt.Errorf("%s needs a random source", method)
		}
		var candidates []int
		for i, n := range counts {
			if n >= median {
				candidates = append(candidates, slices[i])
			}
		}
		return candidates[rng.Intn(len(candidates))], true, nil
	}
	return 0, false, fmt.Errorf("unknown slice selection method %q", method)
}

// percentile interpolates linearly between the closest ranks of sorted,
// the default method of numpy.percentile
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// WindowSlice clips values to their [low, high] percentiles and scales the
// result to [0, 1]. Non-finite values are ignored by the percentiles and
// map to 0.
func WindowSlice(values []float64, low, high float64) []float64 {
	finite := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	sort.Float64s(finite)

	out := make([]float64, len(values))
	if len(finite) == 0 {
		return out
	}

	lo := percentile(finite, low)
	hi := percentile(finite, high)
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		v = math.Max(lo, math.Min(hi, v))
		out[i] = (v - lo) / (hi - lo + 1e-8)
	}
	return out
}
