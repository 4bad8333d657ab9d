package systems

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/mlange-42/ark/ecs"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/steer/components"
	"github.com/pthm-cable/steer/config"
	"github.com/pthm-cable/steer/steering"
	"github.com/pthm-cable/steer/telemetry"
)

// ErrNoEnvironment is returned when a steering system is built without a
// world, a neighbor index or static geometry.
var ErrNoEnvironment = errors.New("systems: no environment")

// parallelThreshold is the minimum agent count to use parallel processing.
// Below this, single-threaded is faster due to goroutine overhead.
const parallelThreshold = 64

// headingSpeedSq is the squared speed below which the heading is kept.
const headingSpeedSq = 1e-6

// NeighborPolicy decides what state neighbor queries and target lookups see.
type NeighborPolicy uint8

const (
	// Snapshot computes every agent against the state at tick start and
	// applies all results afterwards. Iteration order does not matter.
	Snapshot NeighborPolicy = iota
	// Live steps agents one after another; later agents observe the new
	// velocities of earlier ones.
	Live
)

func (p NeighborPolicy) String() string {
	if p == Live {
		return "live"
	}
	return "snapshot"
}

// ParseNeighborPolicy returns the policy with the given config name.
func ParseNeighborPolicy(name string) (NeighborPolicy, error) {
	switch name {
	case "snapshot":
		return Snapshot, nil
	case "live":
		return Live, nil
	}
	return 0, fmt.Errorf("systems: unknown neighbor policy %q", name)
}

// Statics is the fixed geometry agents steer around.
type Statics interface {
	Obstacles() []steering.Obstacle
	Walls() []steering.Wall
}

// PhaseTimer receives phase boundaries. telemetry.PerfCollector satisfies it.
type PhaseTimer interface {
	StartPhase(phase string)
}

// Options configures a SteeringSystem.
type Options struct {
	Policy         steering.Policy
	NeighborPolicy NeighborPolicy
	Bounds         Bounds
	Wrap           bool
	Parallel       bool // Only honoured under the Snapshot policy
	Workers        int  // 0 = GOMAXPROCS
	Timer          PhaseTimer
}

// OptionsFromConfig builds options from a validated config.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	policy, err := steering.ParsePolicy(cfg.Steering.Policy)
	if err != nil {
		return Options{}, err
	}
	np, err := ParseNeighborPolicy(cfg.Steering.NeighborPolicy)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Policy:         policy,
		NeighborPolicy: np,
		Bounds:         Bounds{Width: cfg.World.Width, Height: cfg.World.Height},
		Wrap:           cfg.World.WrapAround,
		Parallel:       cfg.Derived.ParallelSafe,
		Workers:        cfg.Steering.Workers,
	}, nil
}

// TickStats summarizes one steering update.
type TickStats struct {
	Agents          int
	NeighborQueries int
	Neighbors       int // Total neighbors found over all queries
	Evaluated       int // Behavior evaluations
	Truncated       int // Agents whose force hit the budget
	Wrapped         int // Agents moved by wrap-around
}

// agentSnapshot captures read-only state for the compute phase. The
// component pointers stay valid because spawns and despawns are deferred
// until after the update.
type agentSnapshot struct {
	Entity         ecs.Entity
	Kin            steering.Kinematics
	Mass           float64
	NeighborRadius float64

	vel  *components.Velocity
	head *components.Heading
	st   *components.Steering
}

// intent captures computed outputs to apply after the compute phase.
type intent struct {
	Velocity r2.Vec
	Heading  r2.Vec
	Outcome  steering.Outcome
}

// workerScratch holds per-worker reusable buffers.
type workerScratch struct {
	members   []Member
	input     steering.Input
	queries   int
	neighbors int
}

// SteeringSystem runs the per-tick steering pipeline for every agent:
// wrap, neighbor gathering, force aggregation, velocity clamp and heading
// update.
type SteeringSystem struct {
	world  *ecs.World
	filter *ecs.Filter6[
		components.Position,
		components.Velocity,
		components.Heading,
		components.Body,
		components.Limits,
		components.Steering,
	]

	posMap  *ecs.Map1[components.Position]
	velMap  *ecs.Map1[components.Velocity]
	headMap *ecs.Map1[components.Heading]
	bodyMap *ecs.Map1[components.Body]
	limMap  *ecs.Map1[components.Limits]

	index   NeighborQuery
	statics Statics
	opts    Options

	snapshots []agentSnapshot
	intents   []intent
	scratches []workerScratch
	snapEnv   snapshotEnv
	liveEnv   liveEnv
}

// NewSteeringSystem creates a steering system over the agents of w.
func NewSteeringSystem(w *ecs.World, index NeighborQuery, statics Statics, opts Options) (*SteeringSystem, error) {
	if w == nil || index == nil || statics == nil {
		return nil, ErrNoEnvironment
	}
	if opts.NeighborPolicy == Live {
		opts.Parallel = false
	}

	workers := 1
	if opts.Parallel {
		workers = opts.Workers
		if workers < 1 {
			workers = runtime.GOMAXPROCS(0)
		}
	}
	scratches := make([]workerScratch, workers)
	for i := range scratches {
		scratches[i].members = make([]Member, 0, 64)
	}

	s := &SteeringSystem{
		world: w,
		filter: ecs.NewFilter6[
			components.Position,
			components.Velocity,
			components.Heading,
			components.Body,
			components.Limits,
			components.Steering,
		](w),
		posMap:    ecs.NewMap1[components.Position](w),
		velMap:    ecs.NewMap1[components.Velocity](w),
		headMap:   ecs.NewMap1[components.Heading](w),
		bodyMap:   ecs.NewMap1[components.Body](w),
		limMap:    ecs.NewMap1[components.Limits](w),
		index:     index,
		statics:   statics,
		opts:      opts,
		scratches: scratches,
		snapshots: make([]agentSnapshot, 0, 256),
		intents:   make([]intent, 0, 256),
	}
	s.snapEnv = snapshotEnv{statics: statics, lookup: make(map[ecs.Entity]int)}
	s.liveEnv = liveEnv{sys: s}
	return s, nil
}

// Options returns the options in effect.
func (s *SteeringSystem) Options() Options {
	return s.opts
}

// Update steers every agent once.
func (s *SteeringSystem) Update() TickStats {
	if s.opts.NeighborPolicy == Live {
		return s.updateLive()
	}
	return s.updateSnapshot()
}

func (s *SteeringSystem) startPhase(phase string) {
	if s.opts.Timer != nil {
		s.opts.Timer.StartPhase(phase)
	}
}

// prepare wraps the agent and syncs its index entry. It reports whether
// the position was wrapped.
func (s *SteeringSystem) prepare(e ecs.Entity, pos *components.Position, st *components.Steering) bool {
	wrapped := false
	if s.opts.Wrap {
		if p := s.opts.Bounds.Wrap(pos.Vec); p != pos.Vec {
			pos.Vec = p
			wrapped = true
		}
	}
	if pos.Vec != st.IndexedAt {
		s.index.UpdateEntity(e, st.IndexedAt, pos.Vec)
		st.IndexedAt = pos.Vec
	}
	return wrapped
}

func (s *SteeringSystem) updateSnapshot() TickStats {
	var stats TickStats

	// Phase A: wrap, sync the index and build snapshots
	s.startPhase(telemetry.PhasePrepare)
	s.snapshots = s.snapshots[:0]
	clear(s.snapEnv.lookup)

	query := s.filter.Query()
	for query.Next() {
		e := query.Entity()
		pos, vel, head, body, lim, st := query.Get()
		if s.prepare(e, pos, st) {
			stats.Wrapped++
		}
		s.snapEnv.lookup[e] = len(s.snapshots)
		s.snapshots = append(s.snapshots, agentSnapshot{
			Entity:         e,
			Kin:            kinematics(pos, vel, head, body, lim),
			Mass:           body.Mass,
			NeighborRadius: lim.NeighborRadius,
			vel:            vel,
			head:           head,
			st:             st,
		})
	}
	s.snapEnv.agents = s.snapshots

	n := len(s.snapshots)
	stats.Agents = n
	if n == 0 {
		return stats
	}
	if cap(s.intents) < n {
		s.intents = make([]intent, n)
	}
	s.intents = s.intents[:n]

	// Phase B: compute against the snapshot
	s.startPhase(telemetry.PhaseCompute)
	if len(s.scratches) > 1 && n >= parallelThreshold {
		s.computeParallel(n)
	} else {
		s.computeRange(0, n, &s.scratches[0])
	}

	// Phase C: apply intents in snapshot order
	s.startPhase(telemetry.PhaseApply)
	for i := range s.snapshots {
		a := &s.snapshots[i]
		it := &s.intents[i]
		a.vel.Vec = it.Velocity
		a.head.Dir = it.Heading
		record(a.st, it.Outcome, &stats)
	}
	s.collectScratch(&stats)
	return stats
}

// computeParallel splits the snapshot into one contiguous chunk per worker.
func (s *SteeringSystem) computeParallel(n int) {
	workers := len(s.scratches)
	chunk := (n + workers - 1) / workers

	var g errgroup.Group
	g.SetLimit(workers)
	for w := 0; w < workers; w++ {
		start := w * chunk
		if start >= n {
			break
		}
		end := min(start+chunk, n)
		scratch := &s.scratches[w]
		g.Go(func() error {
			s.computeRange(start, end, scratch)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *SteeringSystem) computeRange(start, end int, scratch *workerScratch) {
	for i := start; i < end; i++ {
		a := &s.snapshots[i]
		in := &scratch.input
		*in = steering.Input{Entity: a.Entity, Self: a.Kin, Env: &s.snapEnv}

		if a.st.NeedsNeighbors() {
			scratch.members = s.index.FindNeighbors(scratch.members, a.Entity, a.Kin.Position, a.Kin.Radius, a.NeighborRadius)
			a.st.Neighbors = s.snapEnv.resolve(a.st.Neighbors[:0], scratch.members)
			in.Neighbors = a.st.Neighbors
			scratch.queries++
			scratch.neighbors += len(in.Neighbors)
		}

		out := steering.Combine(s.opts.Policy, a.st.Entries, in, a.Kin.MaxForce, a.st.Rng)
		s.intents[i] = integrate(a.Kin, a.Mass, out, a.st.Smoother)
	}
}

func (s *SteeringSystem) updateLive() TickStats {
	var stats TickStats
	scratch := &s.scratches[0]

	s.startPhase(telemetry.PhaseCompute)
	query := s.filter.Query()
	for query.Next() {
		e := query.Entity()
		pos, vel, head, body, lim, st := query.Get()
		if s.prepare(e, pos, st) {
			stats.Wrapped++
		}
		stats.Agents++

		kin := kinematics(pos, vel, head, body, lim)
		in := &scratch.input
		*in = steering.Input{Entity: e, Self: kin, Env: &s.liveEnv}

		if st.NeedsNeighbors() {
			scratch.members = s.index.FindNeighbors(scratch.members, e, kin.Position, kin.Radius, lim.NeighborRadius)
			st.Neighbors = s.liveEnv.resolve(st.Neighbors[:0], scratch.members)
			in.Neighbors = st.Neighbors
			scratch.queries++
			scratch.neighbors += len(in.Neighbors)
		}

		out := steering.Combine(s.opts.Policy, st.Entries, in, kin.MaxForce, st.Rng)
		it := integrate(kin, body.Mass, out, st.Smoother)
		vel.Vec = it.Velocity
		head.Dir = it.Heading
		record(st, it.Outcome, &stats)
	}
	s.collectScratch(&stats)
	return stats
}

func (s *SteeringSystem) collectScratch(stats *TickStats) {
	for i := range s.scratches {
		sc := &s.scratches[i]
		stats.NeighborQueries += sc.queries
		stats.Neighbors += sc.neighbors
		sc.queries, sc.neighbors = 0, 0
		sc.input = steering.Input{}
	}
}

func record(st *components.Steering, out steering.Outcome, stats *TickStats) {
	st.Force = out.Force
	st.Truncated = out.Truncated
	st.Evaluated = out.Evaluated
	stats.Evaluated += out.Evaluated
	if out.Truncated {
		stats.Truncated++
	}
}

// integrate applies the combined force as an impulse, clamps the speed and
// updates the heading.
func integrate(k steering.Kinematics, mass float64, out steering.Outcome, smoother *steering.Smoother) intent {
	if mass <= 0 {
		mass = 1
	}
	v := r2.Add(k.Velocity, r2.Scale(1/mass, out.Force))
	if !steering.IsFinite(v) {
		v = r2.Vec{}
	}
	v = steering.Truncate(v, k.MaxSpeed)
	return intent{Velocity: v, Heading: NextHeading(k.Heading, v, smoother), Outcome: out}
}

// NextHeading returns the heading for an agent moving at v. Below a small
// speed the previous heading is kept. With a smoother the direction is
// averaged over recent ticks, falling back to the raw direction when the
// average cancels out.
func NextHeading(prev, v r2.Vec, smoother *steering.Smoother) r2.Vec {
	if r2.Norm2(v) < headingSpeedSq {
		return prev
	}
	h := steering.UnitOrZero(v)
	if smoother != nil {
		if avg := steering.UnitOrZero(smoother.Update(h)); avg != (r2.Vec{}) {
			return avg
		}
	}
	return h
}

func kinematics(pos *components.Position, vel *components.Velocity, head *components.Heading, body *components.Body, lim *components.Limits) steering.Kinematics {
	return steering.Kinematics{
		Position: pos.Vec,
		Velocity: vel.Vec,
		Heading:  head.Dir,
		Radius:   body.Radius,
		MaxSpeed: lim.MaxSpeed,
		MaxForce: lim.MaxForce,
	}
}

// snapshotEnv resolves agents from the tick-start snapshot. It is read-only
// during the compute phase.
type snapshotEnv struct {
	statics Statics
	agents  []agentSnapshot
	lookup  map[ecs.Entity]int
}

func (s *snapshotEnv) Lookup(e ecs.Entity) (steering.Kinematics, bool) {
	i, ok := s.lookup[e]
	if !ok {
		return steering.Kinematics{}, false
	}
	return s.agents[i].Kin, true
}

func (s *snapshotEnv) Obstacles() []steering.Obstacle { return s.statics.Obstacles() }
func (s *snapshotEnv) Walls() []steering.Wall         { return s.statics.Walls() }

func (s *snapshotEnv) resolve(dst []steering.Neighbor, members []Member) []steering.Neighbor {
	for i := range members {
		if k, ok := s.Lookup(members[i].Entity); ok {
			dst = append(dst, steering.Neighbor{Entity: members[i].Entity, Kinematics: k})
		}
	}
	return dst
}

// liveEnv reads agents straight from the ECS world.
type liveEnv struct {
	sys *SteeringSystem
}

func (l *liveEnv) Lookup(e ecs.Entity) (steering.Kinematics, bool) {
	s := l.sys
	if !s.world.Alive(e) || !s.posMap.HasAll(e) || !s.velMap.HasAll(e) || !s.headMap.HasAll(e) ||
		!s.bodyMap.HasAll(e) || !s.limMap.HasAll(e) {
		return steering.Kinematics{}, false
	}
	return kinematics(s.posMap.Get(e), s.velMap.Get(e), s.headMap.Get(e), s.bodyMap.Get(e), s.limMap.Get(e)), true
}

func (l *liveEnv) Obstacles() []steering.Obstacle { return l.sys.statics.Obstacles() }
func (l *liveEnv) Walls() []steering.Wall         { return l.sys.statics.Walls() }

func (l *liveEnv) resolve(dst []steering.Neighbor, members []Member) []steering.Neighbor {
	for i := range members {
		if k, ok := l.Lookup(members[i].Entity); ok {
			dst = append(dst, steering.Neighbor{Entity: members[i].Entity, Kinematics: k})
		}
	}
	return dst
}
