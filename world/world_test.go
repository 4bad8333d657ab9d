package world

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/mlange-42/ark/ecs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/steer/config"
	"github.com/pthm-cable/steer/steering"
	"github.com/pthm-cable/steer/telemetry"
)

func newWorld(t *testing.T, overlay string, opts ...Option) *World {
	t.Helper()
	cfg, err := config.Parse([]byte(overlay))
	require.NoError(t, err)
	opts = append([]Option{WithSeed(42)}, opts...)
	w, err := New(cfg, opts...)
	require.NoError(t, err)
	return w
}

// hook runs fn on every evaluation.
type hook struct{ fn func() }

func (h *hook) Kind() steering.Kind             { return steering.KindSeek }
func (h *hook) Needs() steering.Needs           { return 0 }
func (h *hook) Velocity(*steering.Input) r2.Vec { h.fn(); return r2.Vec{} }

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNoConfig)
}

func TestNewLogsSetup(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	newWorld(t, "", WithLogger(zap.New(core)))
	entries := logs.FilterMessage("world created").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(42), entries[0].ContextMap()["seed"])
	assert.Equal(t, "prioritized_dithering", entries[0].ContextMap()["policy"])
}

func TestSpawnDefaults(t *testing.T) {
	w := newWorld(t, "")
	e, err := w.Spawn(AgentSpec{Position: r2.Vec{X: 10, Y: 20}, Velocity: r2.Vec{X: 100}, Defaults: true})
	require.NoError(t, err)

	assert.Equal(t, []steering.Kind{
		steering.KindSeparation,
		steering.KindAlignment,
		steering.KindCohesion,
		steering.KindWander,
	}, w.AgentBehaviors(e))

	st, err := w.State(e)
	require.NoError(t, err)
	assert.Equal(t, steering.Up, st.Heading)
	assert.InDelta(t, 5, st.Velocity.X, 1e-12, "spawn velocity is clamped to max speed")
	assert.Equal(t, 1, w.Len())
	assert.Equal(t, 1, w.Partition().Len())

	found, ok := w.Entity(st.ID)
	require.True(t, ok)
	assert.Equal(t, e, found)

	id, ok := w.Identity(e)
	require.True(t, ok)
	assert.NotZero(t, id.Seed)
}

func TestSpawnDuplicateID(t *testing.T) {
	w := newWorld(t, "")
	id := uuid.New()
	_, err := w.Spawn(AgentSpec{ID: id})
	require.NoError(t, err)
	_, err = w.Spawn(AgentSpec{ID: id})
	assert.ErrorIs(t, err, ErrDuplicateAgent)

	_, err = w.Spawn(AgentSpec{Behaviors: []steering.Entry{{Weight: 1, Active: true}}})
	assert.ErrorIs(t, err, ErrNilBehavior)
}

func TestDespawn(t *testing.T) {
	w := newWorld(t, "")
	e, err := w.Spawn(AgentSpec{Position: r2.Vec{X: 50, Y: 50}})
	require.NoError(t, err)
	st, _ := w.State(e)

	require.NoError(t, w.Despawn(e))
	assert.Equal(t, 0, w.Len())
	assert.Equal(t, 0, w.Partition().Len())
	_, ok := w.Entity(st.ID)
	assert.False(t, ok)

	assert.ErrorIs(t, w.Despawn(e), ErrUnknownAgent)
	assert.ErrorIs(t, w.RegisterBehavior(e, w.Behaviors().Seek(steering.PointTarget(r2.Vec{}))), ErrUnknownAgent)
	_, err = w.State(e)
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestLifecycleDeferredDuringTick(t *testing.T) {
	w := newWorld(t, "steering:\n  policy: weighted_sum\n")

	victim, err := w.Spawn(AgentSpec{Position: r2.Vec{X: 20, Y: 20}})
	require.NoError(t, err)

	childID := uuid.New()
	var despawnErr, spawnErr error
	var spawned ecs.Entity
	fired := false
	h := &hook{fn: func() {
		if fired {
			return
		}
		fired = true
		despawnErr = w.Despawn(victim)
		spawned, spawnErr = w.Spawn(AgentSpec{ID: childID, Position: r2.Vec{X: 30, Y: 30}})
		// Still alive until the tick ends.
		assert.True(t, w.IsAgent(victim))
	}}
	_, err = w.Spawn(AgentSpec{Position: r2.Vec{X: 10, Y: 10}, Behaviors: []steering.Entry{steering.NewEntry(h, 1, 1)}})
	require.NoError(t, err)

	stats := w.Tick()
	assert.Equal(t, 2, stats.Agents, "iteration saw every agent present at tick start")
	require.NoError(t, despawnErr)
	require.NoError(t, spawnErr)
	assert.Equal(t, ecs.Entity{}, spawned)

	assert.False(t, w.IsAgent(victim))
	child, ok := w.Entity(childID)
	require.True(t, ok)
	assert.True(t, w.IsAgent(child))
	assert.Equal(t, 2, w.Len())
	assert.Equal(t, 2, w.Partition().Len())

	stats = w.Tick()
	assert.Equal(t, 2, stats.Agents)
}

func TestRegisterAndDeregister(t *testing.T) {
	w := newWorld(t, "steering:\n  policy: weighted_sum\n")
	sep := w.Behaviors().Separation()
	e, err := w.Spawn(AgentSpec{Position: r2.Vec{X: 50, Y: 50}, Behaviors: []steering.Entry{sep}})
	require.NoError(t, err)
	_, err = w.Spawn(AgentSpec{Position: r2.Vec{X: 51, Y: 50}})
	require.NoError(t, err)

	assert.Equal(t, 1, w.Tick().NeighborQueries)

	seek := w.Behaviors().Seek(steering.PointTarget(r2.Vec{X: 90, Y: 50}))
	require.NoError(t, w.RegisterBehavior(e, seek))
	require.NoError(t, w.DeregisterBehavior(e, sep.Behavior))
	assert.Equal(t, []steering.Kind{steering.KindSeek}, w.AgentBehaviors(e))
	assert.ErrorIs(t, w.DeregisterBehavior(e, sep.Behavior), ErrNotRegistered)

	stats := w.Tick()
	assert.Equal(t, 0, stats.NeighborQueries, "no neighbor-reading behaviors left")
	assert.Equal(t, 1, stats.Evaluated)

	assert.ErrorIs(t, w.RegisterBehavior(e, steering.Entry{}), ErrNilBehavior)
}

// waypoints is a behavior value that cannot be compared with ==.
type waypoints struct{ points []r2.Vec }

func (waypoints) Kind() steering.Kind             { return steering.KindSeek }
func (waypoints) Needs() steering.Needs           { return 0 }
func (waypoints) Velocity(*steering.Input) r2.Vec { return r2.Vec{} }

func TestDeregisterUncomparableBehavior(t *testing.T) {
	w := newWorld(t, "")
	path := waypoints{points: []r2.Vec{{X: 1}, {X: 2}}}
	e, err := w.Spawn(AgentSpec{
		Position:  r2.Vec{X: 50, Y: 50},
		Behaviors: []steering.Entry{steering.NewEntry(path, 1, 1)},
	})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		assert.ErrorIs(t, w.DeregisterBehavior(e, path), ErrNotRegistered)
	})
	assert.Equal(t, []steering.Kind{steering.KindSeek}, w.AgentBehaviors(e))
}

func TestStepIntegratesPositions(t *testing.T) {
	w := newWorld(t, "steering:\n  policy: weighted_sum\n")
	f := w.Behaviors()
	e, err := w.Spawn(AgentSpec{
		Position:  r2.Vec{X: 100, Y: 100},
		Behaviors: []steering.Entry{f.Seek(steering.PointTarget(r2.Vec{X: 150, Y: 100}))},
	})
	require.NoError(t, err)

	w.Step()
	st, err := w.State(e)
	require.NoError(t, err)
	assert.Greater(t, st.Velocity.X, 0.0)
	assert.InDelta(t, 100+w.Config().Physics.DT*st.Velocity.X, st.Position.X, 1e-12)
	assert.Equal(t, r2.Vec{X: 1}, st.Heading)

	w.Tick()
	after, _ := w.State(e)
	assert.Equal(t, st.Position, after.Position, "Tick leaves positions alone")
}

func TestSetStateResyncsIndex(t *testing.T) {
	w := newWorld(t, "")
	e, err := w.Spawn(AgentSpec{Position: r2.Vec{X: 10, Y: 10}})
	require.NoError(t, err)

	require.NoError(t, w.SetState(e, r2.Vec{X: 150, Y: 120}, r2.Vec{X: 1}))
	w.Tick()

	found := w.Partition().FindNeighbors(nil, ecs.Entity{}, r2.Vec{X: 150, Y: 120}, 0, 0.5)
	require.Len(t, found, 1)
	assert.Equal(t, e, found[0].Entity)
}

func TestSameSeedSameRun(t *testing.T) {
	run := func() []State {
		w := newWorld(t, "")
		w.AddObstacle(steering.Obstacle{Position: r2.Vec{X: 100, Y: 100}, Radius: 5})
		var agents []ecs.Entity
		for i := 0; i < 40; i++ {
			e, err := w.Spawn(AgentSpec{
				Position: r2.Vec{X: float64(80 + i%8*5), Y: float64(80 + i/8*5)},
				Defaults: true,
			})
			require.NoError(t, err)
			agents = append(agents, e)
		}
		require.NoError(t, w.Run(context.Background(), 25))
		out := make([]State, len(agents))
		for i, e := range agents {
			out[i], _ = w.State(e)
		}
		return out
	}
	assert.Equal(t, run(), run())
}

func TestRunStopsOnCancel(t *testing.T) {
	w := newWorld(t, "")
	require.NoError(t, w.Run(context.Background(), 3))
	assert.Equal(t, int64(3), w.CurrentTick())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.Run(ctx, 0), context.Canceled)
	assert.Equal(t, int64(3), w.CurrentTick())
}

func TestTelemetryWiring(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := telemetry.NewMetrics(reg)
	require.NoError(t, err)

	var windows []telemetry.WindowStats
	w := newWorld(t, "telemetry:\n  stats_window: 2\n",
		WithMetrics(m),
		WithStatsCallback(func(s telemetry.WindowStats) { windows = append(windows, s) }),
	)
	for i := 0; i < 3; i++ {
		_, err := w.Spawn(AgentSpec{Position: r2.Vec{X: float64(10 * i), Y: 5}, Defaults: true})
		require.NoError(t, err)
	}
	require.NoError(t, w.Run(context.Background(), 4))

	require.Len(t, windows, 2)
	assert.Equal(t, 3, windows[0].Agents)
	assert.Equal(t, 3, windows[0].Spawned)
	assert.Equal(t, 0, windows[1].Spawned)
	assert.Equal(t, int64(4), windows[1].WindowEndTick)

	assert.Equal(t, 4.0, testutil.ToFloat64(m.Ticks))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Agents))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Lifecycle.WithLabelValues("spawn")))

	perf := w.Perf().Stats()
	assert.Positive(t, perf.AvgTickDuration)
}

func TestSnapshot(t *testing.T) {
	w := newWorld(t, "")
	w.AddObstacle(steering.Obstacle{Position: r2.Vec{X: 5, Y: 6}, Radius: 2})
	w.AddWall(steering.Wall{From: r2.Vec{}, To: r2.Vec{X: 10}})
	_, err := w.Spawn(AgentSpec{Name: "scout", Position: r2.Vec{X: 1, Y: 2}, Defaults: true})
	require.NoError(t, err)

	snap := w.Snapshot()
	assert.Equal(t, telemetry.SnapshotVersion, snap.Version)
	assert.Equal(t, int64(42), snap.Seed)
	require.Len(t, snap.Agents, 1)
	a := snap.Agents[0]
	assert.Equal(t, "scout", a.Name)
	assert.Equal(t, 1.0, a.X)
	assert.Equal(t, []string{"separation", "alignment", "cohesion", "wander"}, a.Behaviors)
	require.Len(t, snap.Obstacles, 1)
	assert.Equal(t, 2.0, snap.Obstacles[0].Radius)
	assert.Len(t, w.Walls(), 1)
}

func TestBruteForcePartition(t *testing.T) {
	w := newWorld(t, "partition:\n  enabled: false\nsteering:\n  neighbor_policy: live\n")
	for i := 0; i < 10; i++ {
		_, err := w.Spawn(AgentSpec{Position: r2.Vec{X: float64(i), Y: 0}, Defaults: true})
		require.NoError(t, err)
	}
	stats := w.Step()
	assert.Equal(t, 10, stats.Agents)
	assert.Equal(t, 10, stats.NeighborQueries)
	assert.Equal(t, 10, w.Partition().Len())
}
