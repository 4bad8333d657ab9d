// Package world owns the simulation context: the ECS world holding agents,
// static geometry, the neighbor index, configuration and telemetry. It is
// the entry point for spawning agents, registering behaviors and ticking.
package world

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mlange-42/ark/ecs"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/steer/components"
	"github.com/pthm-cable/steer/config"
	"github.com/pthm-cable/steer/logging"
	"github.com/pthm-cable/steer/steering"
	"github.com/pthm-cable/steer/systems"
	"github.com/pthm-cable/steer/telemetry"
)

var (
	// ErrNoConfig is returned by New without a configuration.
	ErrNoConfig = errors.New("world: no config")
	// ErrUnknownAgent is returned for entities that are not live agents.
	ErrUnknownAgent = errors.New("world: unknown agent")
)

// Option configures a World.
type Option func(*World)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(w *World) {
		w.logger = logging.OrNop(l)
	}
}

// WithMetrics exports tick metrics to m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(w *World) { w.metrics = m }
}

// WithSeed overrides the configured world seed.
func WithSeed(seed int64) Option {
	return func(w *World) { w.seed = seed }
}

// WithOutput writes window stats and perf stats as CSV through om.
func WithOutput(om *telemetry.OutputManager) Option {
	return func(w *World) { w.output = om }
}

// WithStatsCallback is called with every flushed stats window.
func WithStatsCallback(fn func(telemetry.WindowStats)) Option {
	return func(w *World) { w.statsCallback = fn }
}

// WithLogStats logs every flushed stats window at info level.
func WithLogStats(enabled bool) Option {
	return func(w *World) { w.logStats = enabled }
}

// World holds the complete simulation state.
type World struct {
	cfg  *config.Config
	ecs  *ecs.World
	rng  *rand.Rand
	seed int64

	agentMapper *ecs.Map7[
		components.Position,
		components.Velocity,
		components.Heading,
		components.Body,
		components.Limits,
		components.Steering,
		components.Identity,
	]
	agentFilter *ecs.Filter4[
		components.Velocity,
		components.Limits,
		components.Steering,
		components.Identity,
	]

	posMap   *ecs.Map1[components.Position]
	velMap   *ecs.Map1[components.Velocity]
	headMap  *ecs.Map1[components.Heading]
	bodyMap  *ecs.Map1[components.Body]
	limMap   *ecs.Map1[components.Limits]
	stMap    *ecs.Map1[components.Steering]
	idMap    *ecs.Map1[components.Identity]
	entities map[uuid.UUID]ecs.Entity

	index    systems.NeighborQuery
	statics  *statics
	steering *systems.SteeringSystem
	physics  *systems.PhysicsSystem
	factory  *Factory

	logger        *zap.Logger
	metrics       *telemetry.Metrics
	perf          *telemetry.PerfCollector
	collector     *telemetry.Collector
	output        *telemetry.OutputManager
	statsCallback func(telemetry.WindowStats)
	logStats      bool
	speeds        []float64

	tick int64

	// Structural changes requested while a tick runs wait here.
	mu      sync.Mutex
	inTick  bool
	pending []func()
}

// New creates a world from a validated config.
func New(cfg *config.Config, opts ...Option) (*World, error) {
	if cfg == nil {
		return nil, ErrNoConfig
	}

	w := &World{
		cfg:      cfg,
		ecs:      ecs.NewWorld(),
		seed:     cfg.World.Seed,
		logger:   logging.OrNop(nil),
		statics:  &statics{},
		entities: make(map[uuid.UUID]ecs.Entity),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.seed == 0 {
		w.seed = time.Now().UnixNano()
	}
	w.rng = rand.New(rand.NewSource(w.seed))

	w.agentMapper = ecs.NewMap7[
		components.Position,
		components.Velocity,
		components.Heading,
		components.Body,
		components.Limits,
		components.Steering,
		components.Identity,
	](w.ecs)
	w.agentFilter = ecs.NewFilter4[
		components.Velocity,
		components.Limits,
		components.Steering,
		components.Identity,
	](w.ecs)
	w.posMap = ecs.NewMap1[components.Position](w.ecs)
	w.velMap = ecs.NewMap1[components.Velocity](w.ecs)
	w.headMap = ecs.NewMap1[components.Heading](w.ecs)
	w.bodyMap = ecs.NewMap1[components.Body](w.ecs)
	w.limMap = ecs.NewMap1[components.Limits](w.ecs)
	w.stMap = ecs.NewMap1[components.Steering](w.ecs)
	w.idMap = ecs.NewMap1[components.Identity](w.ecs)

	if cfg.Partition.Enabled {
		w.index = systems.NewSpatialGridFromConfig(cfg)
	} else {
		w.index = systems.NewBruteForce()
	}

	sysOpts, err := systems.OptionsFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("world: %w", err)
	}
	w.perf = telemetry.NewPerfCollector(cfg.Telemetry.PerfCollectorWindow)
	sysOpts.Timer = w.perf

	w.steering, err = systems.NewSteeringSystem(w.ecs, w.index, w.statics, sysOpts)
	if err != nil {
		return nil, fmt.Errorf("world: %w", err)
	}
	w.physics = systems.NewPhysicsSystem(w.ecs)
	w.collector = telemetry.NewCollector(cfg.Telemetry.StatsWindow, cfg.Physics.DT)
	w.factory = newFactory(cfg)

	w.logger.Info("world created",
		zap.Int64("seed", w.seed),
		zap.Float64("width", cfg.World.Width),
		zap.Float64("height", cfg.World.Height),
		zap.Bool("wrap", cfg.World.WrapAround),
		zap.Bool("partition", cfg.Partition.Enabled),
		zap.Stringer("policy", sysOpts.Policy),
		zap.Stringer("neighbor_policy", sysOpts.NeighborPolicy),
		zap.Bool("parallel", sysOpts.Parallel),
	)
	return w, nil
}

// Config returns the world's configuration.
func (w *World) Config() *config.Config { return w.cfg }

// Seed returns the seed the world rng was created with.
func (w *World) Seed() int64 { return w.seed }

// CurrentTick returns the number of completed ticks.
func (w *World) CurrentTick() int64 { return w.tick }

// ECS exposes the underlying ark world for environments that attach their
// own components.
func (w *World) ECS() *ecs.World { return w.ecs }

// Partition returns the neighbor index. Environments that integrate
// positions themselves keep it current through the steering system, which
// syncs every agent at the start of its step.
func (w *World) Partition() systems.NeighborQuery { return w.index }

// Behaviors returns the factory for behaviors configured from defaults.
func (w *World) Behaviors() *Factory { return w.factory }

// Perf returns the per-phase timing collector.
func (w *World) Perf() *telemetry.PerfCollector { return w.perf }

// AddObstacle adds a static circular obstacle.
func (w *World) AddObstacle(o steering.Obstacle) {
	w.statics.obstacles = append(w.statics.obstacles, o)
}

// AddWall adds a static wall segment.
func (w *World) AddWall(wall steering.Wall) {
	w.statics.walls = append(w.statics.walls, wall)
}

// Obstacles returns the static obstacles.
func (w *World) Obstacles() []steering.Obstacle { return w.statics.obstacles }

// Walls returns the static walls.
func (w *World) Walls() []steering.Wall { return w.statics.walls }

// Tick steers every agent once, updating velocities and headings.
// Positions are left to the caller's integrator.
func (w *World) Tick() systems.TickStats {
	return w.step(false)
}

// Step runs Tick and then moves agents by the configured dt.
func (w *World) Step() systems.TickStats {
	return w.step(true)
}

// Run steps the world n times, or until ctx is done when n <= 0.
func (w *World) Run(ctx context.Context, n int) error {
	for i := 0; n <= 0 || i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.Step()
	}
	return nil
}

func (w *World) step(integrate bool) systems.TickStats {
	w.perf.StartTick()

	w.mu.Lock()
	w.inTick = true
	w.mu.Unlock()

	stats := w.steering.Update()

	if integrate {
		w.perf.StartPhase(telemetry.PhaseIntegrate)
		w.physics.Update(w.cfg.Physics.DT)
	}

	w.perf.StartPhase(telemetry.PhaseLifecycle)
	w.mu.Lock()
	w.inTick = false
	pending := w.pending
	w.pending = nil
	w.mu.Unlock()
	for _, fn := range pending {
		fn()
	}

	w.perf.StartPhase(telemetry.PhaseTelemetry)
	w.tick++
	counts := tickCounts(stats)
	w.collector.RecordTick(counts)
	w.flushTelemetry()

	d := w.perf.EndTick()
	w.metrics.ObserveTick(d, counts)
	return stats
}

// deferOrRun queues fn for the next tick boundary when a tick is running, or
// runs it now. It reports whether fn was queued.
func (w *World) deferOrRun(fn func()) bool {
	w.mu.Lock()
	if w.inTick {
		w.pending = append(w.pending, fn)
		w.mu.Unlock()
		return true
	}
	w.mu.Unlock()
	fn()
	return false
}

func (w *World) record(e telemetry.Event) {
	w.collector.RecordEvent(e)
	w.metrics.RecordEvent(e)
}

// flushTelemetry closes the stats window when it is due.
func (w *World) flushTelemetry() {
	if !w.collector.ShouldFlush(w.tick) {
		return
	}

	w.speeds = w.speeds[:0]
	query := w.agentFilter.Query()
	for query.Next() {
		vel, _, _, _ := query.Get()
		w.speeds = append(w.speeds, r2.Norm(vel.Vec))
	}

	stats := w.collector.Flush(w.tick, w.speeds)
	perfStats := w.perf.Stats()

	if w.statsCallback != nil {
		w.statsCallback(stats)
	}
	if w.logStats {
		stats.LogStats(w.logger)
		perfStats.LogStats(w.logger)
	}
	if err := w.output.WriteTelemetry(stats); err != nil {
		w.logger.Error("failed to write telemetry", zap.Error(err))
	}
	if err := w.output.WritePerf(perfStats, stats.WindowEndTick); err != nil {
		w.logger.Error("failed to write perf", zap.Error(err))
	}
}

func tickCounts(s systems.TickStats) telemetry.TickCounts {
	return telemetry.TickCounts{
		Agents:          s.Agents,
		NeighborQueries: s.NeighborQueries,
		Neighbors:       s.Neighbors,
		Evaluated:       s.Evaluated,
		Truncated:       s.Truncated,
		Wrapped:         s.Wrapped,
	}
}

// statics is the world's fixed geometry.
type statics struct {
	obstacles []steering.Obstacle
	walls     []steering.Wall
}

func (s *statics) Obstacles() []steering.Obstacle { return s.obstacles }
func (s *statics) Walls() []steering.Wall         { return s.walls }
