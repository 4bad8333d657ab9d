package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestPerfCollector_BasicTiming(t *testing.T) {
	pc := NewPerfCollector(10)

	for i := 0; i < 5; i++ {
		pc.StartTick()
		pc.StartPhase(PhasePrepare)
		time.Sleep(100 * time.Microsecond)
		pc.StartPhase(PhaseCompute)
		time.Sleep(200 * time.Microsecond)
		assert.Positive(t, pc.EndTick())
	}

	stats := pc.Stats()
	assert.Positive(t, stats.AvgTickDuration)
	assert.Contains(t, stats.PhaseAvg, PhasePrepare)
	assert.Contains(t, stats.PhaseAvg, PhaseCompute)
	assert.LessOrEqual(t, stats.MinTickDuration, stats.MaxTickDuration)
}

func TestPerfCollector_RollingWindow(t *testing.T) {
	pc := NewPerfCollector(5)

	for i := 0; i < 10; i++ {
		pc.StartTick()
		pc.StartPhase(PhaseCompute)
		time.Sleep(10 * time.Microsecond)
		pc.EndTick()
	}

	stats := pc.Stats()
	assert.Positive(t, stats.AvgTickDuration)
	assert.Positive(t, stats.TicksPerSecond)
}

func TestPerfCollector_PhasePercentages(t *testing.T) {
	pc := NewPerfCollector(10)

	for i := 0; i < 5; i++ {
		pc.StartTick()
		pc.StartPhase("fast")
		time.Sleep(10 * time.Microsecond)
		pc.StartPhase("slow")
		time.Sleep(2 * time.Millisecond)
		pc.EndTick()
	}

	stats := pc.Stats()
	assert.Greater(t, stats.PhasePct["slow"], stats.PhasePct["fast"])
}

func TestPerfCollector_EmptyStats(t *testing.T) {
	stats := NewPerfCollector(10).Stats()

	assert.Zero(t, stats.AvgTickDuration)
	assert.NotNil(t, stats.PhaseAvg)
	assert.NotNil(t, stats.PhasePct)
}

func TestPerfStatsLogAndCSV(t *testing.T) {
	stats := PerfStats{
		AvgTickDuration: 2 * time.Millisecond,
		PhasePct:        map[string]float64{PhaseCompute: 75.55, PhaseApply: 0.05},
		TicksPerSecond:  500,
	}

	core, logs := observer.New(zap.InfoLevel)
	stats.LogStats(zap.New(core))
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, int64(2000), fields["avg_tick_us"])
	assert.InDelta(t, 75.5, fields["compute_pct"], 1e-9)
	assert.NotContains(t, fields, "apply_pct", "negligible phases are omitted")

	row := stats.ToCSV(120)
	assert.Equal(t, int64(120), row.WindowEnd)
	assert.Equal(t, 75.55, row.ComputePct)
}
