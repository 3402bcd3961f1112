package regionstat

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyInputIsNaN(t *testing.T) {
	assert.True(t, math.IsNaN(Median(nil)))
	assert.True(t, math.IsNaN(Median([]float64{})))
	assert.True(t, math.IsNaN(Mean(nil)))

	for _, k := range []Kind{KindMedian, KindMean} {
		v, err := k.Reduce(nil)
		require.NoError(t, err)
		assert.True(t, math.IsNaN(v), "%s of empty input", k)
	}
}

func TestMedian(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"single", []float64{4}, 4},
		{"odd", []float64{3, 1, 2}, 2},
		{"even", []float64{4, 1, 3, 2}, 2.5},
		{"negative", []float64{-0.02, 0.01, -0.01}, -0.01},
		{"repeated", []float64{5, 5, 5, 5}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Median(tt.values), 1e-12)
		})
	}
}

func TestMedianDoesNotReorderInput(t *testing.T) {
	values := []float64{3, 1, 2}
	Median(values)
	assert.Equal(t, []float64{3, 1, 2}, values)
}

func TestMean(t *testing.T) {
	assert.InDelta(t, 2.5, Mean([]float64{1, 2, 3, 4}), 1e-12)
	assert.InDelta(t, -1, Mean([]float64{-1}), 1e-12)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Median ")
	require.NoError(t, err)
	assert.Equal(t, KindMedian, k)

	k, err = ParseKind("mean")
	require.NoError(t, err)
	assert.Equal(t, KindMean, k)

	_, err = ParseKind("mode")
	assert.Error(t, err)

	_, err = Kind("mode").Reduce([]float64{1})
	assert.Error(t, err)
}
