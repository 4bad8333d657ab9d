package systems

import (
	"math/rand"
	"testing"

	"github.com/mlange-42/ark/ecs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/steer/components"
	"github.com/pthm-cable/steer/steering"
)

type staticSet struct {
	obstacles []steering.Obstacle
	walls     []steering.Wall
}

func (s *staticSet) Obstacles() []steering.Obstacle { return s.obstacles }
func (s *staticSet) Walls() []steering.Wall         { return s.walls }

// testWorld builds agents directly on an ark world, the way the world
// package does.
type testWorld struct {
	w      *ecs.World
	mapper *ecs.Map6[
		components.Position,
		components.Velocity,
		components.Heading,
		components.Body,
		components.Limits,
		components.Steering,
	]
	index   NeighborQuery
	statics *staticSet
}

func newTestWorld(index NeighborQuery) *testWorld {
	w := ecs.NewWorld()
	return &testWorld{
		w: w,
		mapper: ecs.NewMap6[
			components.Position,
			components.Velocity,
			components.Heading,
			components.Body,
			components.Limits,
			components.Steering,
		](w),
		index:   index,
		statics: &staticSet{},
	}
}

func (tw *testWorld) spawn(pos, vel r2.Vec, rng *rand.Rand, entries ...steering.Entry) ecs.Entity {
	st := components.Steering{IndexedAt: pos, Rng: rng}
	for _, e := range entries {
		st.Register(e)
	}
	e := tw.mapper.NewEntity(
		&components.Position{Vec: pos},
		&components.Velocity{Vec: vel},
		&components.Heading{Dir: steering.Up},
		&components.Body{Radius: 1, Mass: 1},
		&components.Limits{MaxSpeed: 5, MaxForce: 3, NeighborRadius: 3},
		&st,
	)
	tw.index.AddEntity(e, pos, 1)
	return e
}

func (tw *testWorld) system(t *testing.T, opts Options) *SteeringSystem {
	t.Helper()
	if opts.Bounds == (Bounds{}) {
		opts.Bounds = Bounds{Width: 100, Height: 100}
	}
	s, err := NewSteeringSystem(tw.w, tw.index, tw.statics, opts)
	require.NoError(t, err)
	return s
}

func (tw *testWorld) velocity(e ecs.Entity) r2.Vec {
	return ecs.NewMap1[components.Velocity](tw.w).Get(e).Vec
}

// constForce always asks for the same force.
type constForce struct{ v r2.Vec }

func (c constForce) Kind() steering.Kind                  { return steering.KindSeek }
func (c constForce) Needs() steering.Needs                { return 0 }
func (c constForce) Velocity(*steering.Input) r2.Vec      { return c.v }

// probe records the velocity it sees for its target.
type probe struct {
	target ecs.Entity
	seen   []r2.Vec
}

func (p *probe) Kind() steering.Kind   { return steering.KindPursuit }
func (p *probe) Needs() steering.Needs { return steering.NeedsTarget }
func (p *probe) Velocity(in *steering.Input) r2.Vec {
	if k, ok := in.Env.Lookup(p.target); ok {
		p.seen = append(p.seen, k.Velocity)
	}
	return r2.Vec{}
}

func flockEntries(rng *rand.Rand) []steering.Entry {
	return []steering.Entry{
		steering.NewEntry(steering.Separation{}, 1, 0.5),
		steering.NewEntry(steering.Alignment{}, 1, 0.5),
		steering.NewEntry(steering.Cohesion{}, 2, 0.5),
		steering.NewEntry(steering.NewWander(rng, 1.2, 2, 0.8), 1, 0.8),
		steering.NewEntry(&steering.Seek{Target: steering.PointTarget(r2.Vec{X: 50, Y: 50})}, 0.5, 0.5),
	}
}

func TestNewSteeringSystemRequiresEnvironment(t *testing.T) {
	tw := newTestWorld(NewBruteForce())
	_, err := NewSteeringSystem(nil, tw.index, tw.statics, Options{})
	assert.ErrorIs(t, err, ErrNoEnvironment)
	_, err = NewSteeringSystem(tw.w, nil, tw.statics, Options{})
	assert.ErrorIs(t, err, ErrNoEnvironment)
	_, err = NewSteeringSystem(tw.w, tw.index, nil, Options{})
	assert.ErrorIs(t, err, ErrNoEnvironment)

	s, err := NewSteeringSystem(tw.w, tw.index, tw.statics, Options{NeighborPolicy: Live, Parallel: true})
	require.NoError(t, err)
	assert.False(t, s.Options().Parallel, "live policy runs sequentially")
}

func TestSpeedNeverExceedsMax(t *testing.T) {
	for _, policy := range []steering.Policy{steering.WeightedSum, steering.PrioritizedDithering, steering.TruncatedPriority} {
		for _, np := range []NeighborPolicy{Snapshot, Live} {
			t.Run(policy.String()+"/"+np.String(), func(t *testing.T) {
				rng := rand.New(rand.NewSource(3))
				tw := newTestWorld(NewSpatialGrid(100, 100, 5))
				for i := 0; i < 150; i++ {
					agentRng := rand.New(rand.NewSource(int64(i)))
					pos := r2.Vec{X: rng.Float64() * 100, Y: rng.Float64() * 100}
					vel := r2.Vec{X: rng.NormFloat64() * 3, Y: rng.NormFloat64() * 3}
					tw.spawn(pos, vel, agentRng, flockEntries(agentRng)...)
				}
				tw.statics.obstacles = []steering.Obstacle{{Position: r2.Vec{X: 50, Y: 50}, Radius: 4}}

				sys := tw.system(t, Options{Policy: policy, NeighborPolicy: np, Wrap: true})
				physics := NewPhysicsSystem(tw.w)
				velFilter := ecs.NewFilter2[components.Velocity, components.Heading](tw.w)

				for tick := 0; tick < 40; tick++ {
					stats := sys.Update()
					require.Equal(t, 150, stats.Agents)
					physics.Update(0.1)

					q := velFilter.Query()
					for q.Next() {
						vel, head := q.Get()
						require.LessOrEqual(t, r2.Norm(vel.Vec), 5+1e-9)
						require.True(t, steering.IsFinite(vel.Vec))
						n := r2.Norm(head.Dir)
						require.InDelta(t, 1, n, 1e-9, "heading stays unit length")
					}
				}
			})
		}
	}
}

func TestSnapshotIsOrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	type spec struct{ pos, vel r2.Vec }
	specs := make([]spec, 60)
	for i := range specs {
		specs[i] = spec{
			pos: r2.Vec{X: 40 + rng.Float64()*20, Y: 40 + rng.Float64()*20},
			vel: r2.Vec{X: rng.NormFloat64(), Y: rng.NormFloat64()},
		}
	}
	entries := func() []steering.Entry {
		return []steering.Entry{
			steering.NewEntry(steering.Separation{}, 1, 1),
			steering.NewEntry(steering.Alignment{}, 1, 1),
			steering.NewEntry(steering.Cohesion{}, 1, 1),
		}
	}

	run := func(order []int) map[r2.Vec]r2.Vec {
		tw := newTestWorld(NewBruteForce())
		ids := make(map[ecs.Entity]r2.Vec)
		for _, i := range order {
			e := tw.spawn(specs[i].pos, specs[i].vel, nil, entries()...)
			ids[e] = specs[i].pos
		}
		tw.system(t, Options{Policy: steering.WeightedSum}).Update()
		out := make(map[r2.Vec]r2.Vec)
		for e, pos := range ids {
			out[pos] = tw.velocity(e)
		}
		return out
	}

	forward := make([]int, len(specs))
	backward := make([]int, len(specs))
	for i := range specs {
		forward[i] = i
		backward[i] = len(specs) - 1 - i
	}

	a, b := run(forward), run(backward)
	require.Len(t, b, len(a))
	for pos, va := range a {
		vb := b[pos]
		assert.InDelta(t, va.X, vb.X, 1e-9)
		assert.InDelta(t, va.Y, vb.Y, 1e-9)
	}
}

func TestLivePolicyObservesEarlierCommits(t *testing.T) {
	for _, tc := range []struct {
		policy NeighborPolicy
		want   r2.Vec
	}{
		{Snapshot, r2.Vec{}},
		{Live, r2.Vec{X: 1}},
	} {
		t.Run(tc.policy.String(), func(t *testing.T) {
			tw := newTestWorld(NewBruteForce())
			leader := tw.spawn(r2.Vec{X: 10, Y: 10}, r2.Vec{}, nil, steering.NewEntry(constForce{v: r2.Vec{X: 1}}, 1, 1))
			p := &probe{target: leader}
			tw.spawn(r2.Vec{X: 20, Y: 10}, r2.Vec{}, nil, steering.NewEntry(p, 1, 1))

			tw.system(t, Options{Policy: steering.WeightedSum, NeighborPolicy: tc.policy}).Update()
			require.Len(t, p.seen, 1)
			assert.Equal(t, tc.want, p.seen[0])
			assert.Equal(t, r2.Vec{X: 1}, tw.velocity(leader))
		})
	}
}

func TestParallelMatchesSequential(t *testing.T) {
	run := func(parallel bool) []r2.Vec {
		rng := rand.New(rand.NewSource(5))
		tw := newTestWorld(NewSpatialGrid(100, 100, 6))
		var agents []ecs.Entity
		for i := 0; i < 200; i++ {
			agentRng := rand.New(rand.NewSource(int64(i) + 100))
			pos := r2.Vec{X: rng.Float64() * 100, Y: rng.Float64() * 100}
			agents = append(agents, tw.spawn(pos, r2.Vec{}, agentRng, flockEntries(agentRng)...))
		}
		sys := tw.system(t, Options{Policy: steering.PrioritizedDithering, Wrap: true, Parallel: parallel, Workers: 4})
		physics := NewPhysicsSystem(tw.w)
		for tick := 0; tick < 10; tick++ {
			sys.Update()
			physics.Update(0.1)
		}
		out := make([]r2.Vec, len(agents))
		for i, e := range agents {
			out[i] = tw.velocity(e)
		}
		return out
	}

	assert.Equal(t, run(false), run(true))
}

func TestNeighborQueriesOnlyWhenNeeded(t *testing.T) {
	tw := newTestWorld(NewBruteForce())
	tw.spawn(r2.Vec{X: 10, Y: 10}, r2.Vec{}, nil, steering.NewEntry(steering.Separation{}, 1, 1))
	tw.spawn(r2.Vec{X: 11, Y: 10}, r2.Vec{}, nil, steering.NewEntry(constForce{v: r2.Vec{X: 1}}, 1, 1))
	tw.spawn(r2.Vec{X: 12, Y: 10}, r2.Vec{}, nil)

	stats := tw.system(t, Options{Policy: steering.WeightedSum}).Update()
	assert.Equal(t, 3, stats.Agents)
	assert.Equal(t, 1, stats.NeighborQueries)
	assert.Equal(t, 2, stats.Neighbors)
	assert.Equal(t, 2, stats.Evaluated)
}

func TestWrapAndIndexSync(t *testing.T) {
	tw := newTestWorld(NewSpatialGrid(100, 50, 10))
	e := tw.spawn(r2.Vec{X: 105, Y: -3}, r2.Vec{}, nil)

	stats := tw.system(t, Options{Bounds: Bounds{Width: 100, Height: 50}, Wrap: true}).Update()
	assert.Equal(t, 1, stats.Wrapped)

	pos := ecs.NewMap1[components.Position](tw.w).Get(e).Vec
	assert.InDelta(t, 5, pos.X, 1e-9)
	assert.InDelta(t, 47, pos.Y, 1e-9)
	st := ecs.NewMap1[components.Steering](tw.w).Get(e)
	assert.Equal(t, pos, st.IndexedAt)

	found := tw.index.FindNeighbors(nil, ecs.Entity{}, r2.Vec{X: 5, Y: 47}, 0, 0.5)
	assert.Equal(t, []ecs.Entity{e}, entitiesOf(found))
}

func TestHeadingUpdate(t *testing.T) {
	tw := newTestWorld(NewBruteForce())
	still := tw.spawn(r2.Vec{X: 10, Y: 10}, r2.Vec{}, nil)
	moving := tw.spawn(r2.Vec{X: 30, Y: 30}, r2.Vec{Y: -2}, nil)

	tw.system(t, Options{}).Update()

	heads := ecs.NewMap1[components.Heading](tw.w)
	assert.Equal(t, steering.Up, heads.Get(still).Dir, "stationary agents keep their heading")
	assert.Equal(t, r2.Vec{Y: -1}, heads.Get(moving).Dir)
}

func TestNextHeadingSmoothing(t *testing.T) {
	sm := steering.NewSmoother(2)
	h := NextHeading(steering.Up, r2.Vec{X: 2}, sm)
	assert.Equal(t, r2.Vec{X: 1}, h)

	h = NextHeading(h, r2.Vec{Y: 3}, sm)
	assert.InDelta(t, 1, r2.Norm(h), 1e-12)
	assert.InDelta(t, h.X, h.Y, 1e-12, "average of east and north")

	// Opposite samples cancel; the raw direction is used.
	sm = steering.NewSmoother(2)
	NextHeading(steering.Up, r2.Vec{X: 1}, sm)
	assert.Equal(t, r2.Vec{X: -1}, NextHeading(steering.Up, r2.Vec{X: -1}, sm))

	assert.Equal(t, steering.Up, NextHeading(steering.Up, r2.Vec{X: 1e-4}, nil))
}

func TestDeadTargetContributesNothing(t *testing.T) {
	tw := newTestWorld(NewBruteForce())
	target := tw.spawn(r2.Vec{X: 50, Y: 50}, r2.Vec{}, nil)
	chaser := tw.spawn(r2.Vec{X: 10, Y: 10}, r2.Vec{}, nil,
		steering.NewEntry(&steering.Pursuit{Target: steering.AgentTarget(target)}, 1, 1))

	tw.index.RemoveEntity(target, r2.Vec{X: 50, Y: 50})
	tw.w.RemoveEntity(target)

	for _, np := range []NeighborPolicy{Snapshot, Live} {
		tw.system(t, Options{Policy: steering.WeightedSum, NeighborPolicy: np}).Update()
		assert.Equal(t, r2.Vec{}, tw.velocity(chaser))
	}
}

func TestImpulseDividedByMass(t *testing.T) {
	tw := newTestWorld(NewBruteForce())
	e := tw.spawn(r2.Vec{X: 10, Y: 10}, r2.Vec{}, nil, steering.NewEntry(constForce{v: r2.Vec{X: 2}}, 1, 1))
	ecs.NewMap1[components.Body](tw.w).Get(e).Mass = 4

	tw.system(t, Options{Policy: steering.WeightedSum}).Update()
	assert.Equal(t, r2.Vec{X: 0.5}, tw.velocity(e))
}

func TestParseNeighborPolicy(t *testing.T) {
	for _, p := range []NeighborPolicy{Snapshot, Live} {
		got, err := ParseNeighborPolicy(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	_, err := ParseNeighborPolicy("eventual")
	assert.Error(t, err)
}
