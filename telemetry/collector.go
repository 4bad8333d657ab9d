package telemetry

// TickCounts is the per-tick work a collector accumulates.
type TickCounts struct {
	Agents          int
	NeighborQueries int
	Neighbors       int
	Evaluated       int
	Truncated       int
	Wrapped         int
}

// Collector accumulates events and tick counts within windows and produces
// WindowStats.
type Collector struct {
	windowTicks int64
	dt          float64

	windowStartTick int64

	// Counters for the current window
	ticks           int
	agentSteps      int
	neighborQueries int
	neighbors       int
	evaluated       int
	truncated       int
	wrapped         int
	spawned         int
	despawned       int
}

// NewCollector creates a stats collector flushing every windowTicks ticks.
// dt converts ticks to simulated seconds.
func NewCollector(windowTicks int, dt float64) *Collector {
	if windowTicks < 1 {
		windowTicks = 1
	}
	return &Collector{windowTicks: int64(windowTicks), dt: dt}
}

// RecordEvent records a lifecycle event.
func (c *Collector) RecordEvent(e Event) {
	switch e.Type {
	case EventSpawn:
		c.spawned++
	case EventDespawn:
		c.despawned++
	}
}

// RecordTick adds one tick of steering work.
func (c *Collector) RecordTick(tc TickCounts) {
	c.ticks++
	c.agentSteps += tc.Agents
	c.neighborQueries += tc.NeighborQueries
	c.neighbors += tc.Neighbors
	c.evaluated += tc.Evaluated
	c.truncated += tc.Truncated
	c.wrapped += tc.Wrapped
}

// ShouldFlush returns true if enough ticks have passed to flush the window.
func (c *Collector) ShouldFlush(currentTick int64) bool {
	return currentTick-c.windowStartTick >= c.windowTicks
}

// Flush produces a WindowStats and resets counters for the next window.
// speeds are the agents' current speeds, sampled at window end.
func (c *Collector) Flush(currentTick int64, speeds []float64) WindowStats {
	stats := WindowStats{
		WindowStartTick: c.windowStartTick,
		WindowEndTick:   currentTick,
		SimTimeSec:      float64(currentTick) * c.dt,
		Agents:          len(speeds),
		Spawned:         c.spawned,
		Despawned:       c.despawned,
		Wrapped:         c.wrapped,
	}
	if c.ticks > 0 {
		stats.NeighborQueries = float64(c.neighborQueries) / float64(c.ticks)
	}
	if c.neighborQueries > 0 {
		stats.NeighborsPerQuery = float64(c.neighbors) / float64(c.neighborQueries)
	}
	if c.agentSteps > 0 {
		stats.EvaluatedPerAgent = float64(c.evaluated) / float64(c.agentSteps)
		stats.TruncationRate = float64(c.truncated) / float64(c.agentSteps)
	}
	stats.SpeedMean, stats.SpeedStd, stats.SpeedP10, stats.SpeedP50, stats.SpeedP90 = ComputeDistribution(speeds)

	*c = Collector{windowTicks: c.windowTicks, dt: c.dt, windowStartTick: currentTick}
	return stats
}

// WindowTicks returns the number of ticks per window.
func (c *Collector) WindowTicks() int64 {
	return c.windowTicks
}
