package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercentile(t *testing.T) {
	tests := []struct {
		name   string
		sorted []float64
		p      float64
		want   float64
	}{
		{"empty slice", []float64{}, 0.5, 0},
		{"single element", []float64{5.0}, 0.5, 5.0},
		{"p0", []float64{1, 2, 3, 4, 5}, 0.0, 1.0},
		{"p100", []float64{1, 2, 3, 4, 5}, 1.0, 5.0},
		{"p50 odd", []float64{1, 2, 3, 4, 5}, 0.5, 3.0},
		{"p50 even", []float64{1, 2, 3, 4}, 0.5, 2.0},
		{"p10", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 0.1, 1.0},
		{"p90", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 0.9, 9.0},
		{"clamped high", []float64{1, 2}, 3, 2},
		{"clamped low", []float64{1, 2}, -1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Percentile(tt.sorted, tt.p), 1e-9)
		})
	}
}

func TestComputeDistribution(t *testing.T) {
	values := []float64{10, 1, 9, 2, 8, 3, 7, 4, 6, 5}
	mean, std, p10, p50, p90 := ComputeDistribution(values)

	assert.InDelta(t, 5.5, mean, 1e-9)
	assert.InDelta(t, 3.0277, std, 1e-3)
	assert.Equal(t, 1.0, p10)
	assert.Equal(t, 5.0, p50)
	assert.Equal(t, 9.0, p90)
	assert.Equal(t, 10.0, values[0], "input is not reordered")
}

func TestComputeDistributionSmall(t *testing.T) {
	mean, std, p10, p50, p90 := ComputeDistribution(nil)
	assert.Zero(t, mean+std+p10+p50+p90)

	mean, std, _, p50, _ = ComputeDistribution([]float64{4})
	assert.Equal(t, 4.0, mean)
	assert.Zero(t, std)
	assert.Equal(t, 4.0, p50)
}
