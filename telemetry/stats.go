package telemetry

import (
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gonum.org/v1/gonum/stat"
)

// WindowStats holds aggregated statistics for a window of ticks.
type WindowStats struct {
	WindowStartTick int64   `csv:"-"`
	WindowEndTick   int64   `csv:"window_end"`
	SimTimeSec      float64 `csv:"sim_time"`

	// Population at window end and lifecycle events during the window
	Agents    int `csv:"agents"`
	Spawned   int `csv:"spawned"`
	Despawned int `csv:"despawned"`

	// Steering work, averaged per tick
	NeighborQueries   float64 `csv:"neighbor_queries"`
	NeighborsPerQuery float64 `csv:"neighbors_per_query"`
	EvaluatedPerAgent float64 `csv:"evaluated_per_agent"`
	TruncationRate    float64 `csv:"truncation_rate"` // Fraction of agent steps whose force hit the budget
	Wrapped           int     `csv:"wrapped"`

	// Speed distribution (sampled at window end)
	SpeedMean float64 `csv:"speed_mean"`
	SpeedStd  float64 `csv:"speed_std"`
	SpeedP10  float64 `csv:"speed_p10"`
	SpeedP50  float64 `csv:"speed_p50"`
	SpeedP90  float64 `csv:"speed_p90"`
}

// Percentile returns the empirical p-quantile of a sorted slice. p is
// clamped to [0, 1]. Returns 0 if the slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	p = min(max(p, 0), 1)
	return stat.Quantile(p, stat.Empirical, sorted, nil)
}

// ComputeDistribution calculates mean, standard deviation and the 10th,
// 50th and 90th percentiles of values.
func ComputeDistribution(values []float64) (mean, std, p10, p50, p90 float64) {
	n := len(values)
	if n == 0 {
		return 0, 0, 0, 0, 0
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	if n == 1 {
		mean = sorted[0]
	} else {
		mean, std = stat.MeanStdDev(sorted, nil)
	}

	p10 = Percentile(sorted, 0.10)
	p50 = Percentile(sorted, 0.50)
	p90 = Percentile(sorted, 0.90)
	return mean, std, p10, p50, p90
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (s WindowStats) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt64("window_start", s.WindowStartTick)
	enc.AddInt64("window_end", s.WindowEndTick)
	enc.AddFloat64("sim_time", s.SimTimeSec)
	enc.AddInt("agents", s.Agents)
	enc.AddInt("spawned", s.Spawned)
	enc.AddInt("despawned", s.Despawned)
	enc.AddFloat64("neighbor_queries", s.NeighborQueries)
	enc.AddFloat64("neighbors_per_query", s.NeighborsPerQuery)
	enc.AddFloat64("evaluated_per_agent", s.EvaluatedPerAgent)
	enc.AddFloat64("truncation_rate", s.TruncationRate)
	enc.AddInt("wrapped", s.Wrapped)
	enc.AddFloat64("speed_mean", s.SpeedMean)
	enc.AddFloat64("speed_std", s.SpeedStd)
	enc.AddFloat64("speed_p10", s.SpeedP10)
	enc.AddFloat64("speed_p50", s.SpeedP50)
	enc.AddFloat64("speed_p90", s.SpeedP90)
	return nil
}

// LogStats logs the window stats.
func (s WindowStats) LogStats(logger *zap.Logger) {
	logger.Info("stats", zap.Inline(s))
}
