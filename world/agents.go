package world

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/mlange-42/ark/ecs"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/steer/components"
	"github.com/pthm-cable/steer/steering"
	"github.com/pthm-cable/steer/telemetry"
)

var (
	// ErrDuplicateAgent is returned when spawning an ID that is already live.
	ErrDuplicateAgent = errors.New("world: duplicate agent id")
	// ErrNotRegistered is returned when deregistering a behavior the agent
	// does not have.
	ErrNotRegistered = errors.New("world: behavior not registered")
	// ErrNilBehavior is returned when registering an entry without a behavior.
	ErrNilBehavior = errors.New("world: nil behavior")
)

var noEntity ecs.Entity

// AgentSpec describes an agent to spawn. Zero physical fields take the
// agent defaults from config.
type AgentSpec struct {
	ID   uuid.UUID // Generated from the world rng when zero
	Name string

	Position r2.Vec
	Velocity r2.Vec // Truncated to MaxSpeed
	Heading  r2.Vec // Normalized; zero faces (0, 1)

	Radius         float64
	Mass           float64
	MaxSpeed       float64
	MaxForce       float64
	NeighborRadius float64

	// Defaults registers the behaviors listed under behaviors.defaults.
	// Target-driven defaults track Target.
	Defaults bool
	Target   steering.Target

	// Behaviors are registered after the defaults, in order.
	Behaviors []steering.Entry
}

// State is the observable state of an agent.
type State struct {
	ID        uuid.UUID
	Position  r2.Vec
	Velocity  r2.Vec
	Heading   r2.Vec
	Force     r2.Vec // Last combined steering force
	Truncated bool
}

// Spawn creates an agent. While a tick runs the spawn is queued until the
// tick ends and the zero entity is returned; set spec.ID to find the agent
// afterwards with Entity.
func (w *World) Spawn(spec AgentSpec) (ecs.Entity, error) {
	w.mu.Lock()
	if spec.ID == uuid.Nil {
		id, err := uuid.NewRandomFromReader(w.rng)
		if err != nil {
			w.mu.Unlock()
			return noEntity, fmt.Errorf("world: agent id: %w", err)
		}
		spec.ID = id
	}
	if w.inTick {
		w.pending = append(w.pending, func() {
			if _, err := w.spawn(spec); err != nil {
				w.logger.Warn("deferred spawn failed", zap.Stringer("id", spec.ID), zap.Error(err))
			}
		})
		w.mu.Unlock()
		return noEntity, nil
	}
	w.mu.Unlock()
	return w.spawn(spec)
}

func (w *World) spawn(spec AgentSpec) (ecs.Entity, error) {
	if _, ok := w.entities[spec.ID]; ok {
		return noEntity, fmt.Errorf("%w: %s", ErrDuplicateAgent, spec.ID)
	}

	// The agent rng depends on its identity and the world seed only, so an
	// agent behaves the same regardless of spawn order.
	seed := int64(xxhash.Sum64(spec.ID[:]) ^ uint64(w.seed))
	rng := rand.New(rand.NewSource(seed))

	body := components.BodyFromConfig(&w.cfg.Agent, spec.Radius, spec.Mass)
	lim := components.LimitsFromConfig(&w.cfg.Agent, spec.MaxSpeed, spec.MaxForce, spec.NeighborRadius)

	heading := steering.UnitOrZero(spec.Heading)
	if heading == (r2.Vec{}) {
		heading = steering.Up
	}

	st := components.Steering{Rng: rng, IndexedAt: spec.Position}
	if w.cfg.Heading.Smoothing {
		st.Smoother = steering.NewSmoother(w.cfg.Heading.Samples)
	}
	if spec.Defaults {
		entries, err := w.factory.Defaults(spec.Target, rng, seed)
		if err != nil {
			return noEntity, err
		}
		for _, e := range entries {
			st.Register(e)
		}
	}
	for _, e := range spec.Behaviors {
		if e.Behavior == nil {
			return noEntity, ErrNilBehavior
		}
		st.Register(e)
	}

	e := w.agentMapper.NewEntity(
		&components.Position{Vec: spec.Position},
		&components.Velocity{Vec: steering.Truncate(spec.Velocity, lim.MaxSpeed)},
		&components.Heading{Dir: heading},
		&body,
		&lim,
		&st,
		&components.Identity{ID: spec.ID, Name: spec.Name, Seed: seed},
	)
	w.index.AddEntity(e, spec.Position, body.Radius)
	w.entities[spec.ID] = e
	w.record(telemetry.NewSpawnEvent(w.tick, spec.ID))

	w.logger.Debug("agent spawned",
		zap.Stringer("id", spec.ID),
		zap.String("name", spec.Name),
		zap.Int("behaviors", len(st.Entries)),
	)
	return e, nil
}

// Despawn removes an agent from the world and the neighbor index. While a
// tick runs the removal waits for the tick to end. Behaviors of other agents
// that target it contribute nothing from then on.
func (w *World) Despawn(e ecs.Entity) error {
	if !w.isAgent(e) {
		return ErrUnknownAgent
	}
	w.deferOrRun(func() { w.despawn(e) })
	return nil
}

func (w *World) despawn(e ecs.Entity) {
	// Queued twice, or despawned directly after being queued.
	if !w.isAgent(e) {
		return
	}
	st := w.stMap.Get(e)
	id := w.idMap.Get(e).ID
	w.index.RemoveEntity(e, st.IndexedAt)
	delete(w.entities, id)
	w.ecs.RemoveEntity(e)
	w.record(telemetry.NewDespawnEvent(w.tick, id))
	w.logger.Debug("agent despawned", zap.Stringer("id", id))
}

// RegisterBehavior appends an entry to the agent's behaviors. While a tick
// runs the registration waits for the tick to end.
func (w *World) RegisterBehavior(e ecs.Entity, entry steering.Entry) error {
	if !w.isAgent(e) {
		return ErrUnknownAgent
	}
	if entry.Behavior == nil {
		return ErrNilBehavior
	}
	w.deferOrRun(func() {
		if !w.isAgent(e) {
			return
		}
		w.stMap.Get(e).Register(entry)
		w.record(telemetry.NewRegisterEvent(w.tick, w.idMap.Get(e).ID, entry.Behavior.Kind().String()))
	})
	return nil
}

// DeregisterBehavior removes b from the agent. Deferred removals of a
// behavior that is gone by then are ignored.
func (w *World) DeregisterBehavior(e ecs.Entity, b steering.Behavior) error {
	if !w.isAgent(e) {
		return ErrUnknownAgent
	}
	removed := false
	queued := w.deferOrRun(func() {
		if !w.isAgent(e) || !w.stMap.Get(e).Deregister(b) {
			return
		}
		removed = true
		w.record(telemetry.NewDeregisterEvent(w.tick, w.idMap.Get(e).ID, b.Kind().String()))
	})
	if !queued && !removed {
		return ErrNotRegistered
	}
	return nil
}

// SetState overwrites an agent's position and velocity, for environments
// that run their own physics. The neighbor index follows on the next tick.
func (w *World) SetState(e ecs.Entity, pos, vel r2.Vec) error {
	if !w.isAgent(e) {
		return ErrUnknownAgent
	}
	w.deferOrRun(func() {
		if !w.isAgent(e) {
			return
		}
		w.posMap.Get(e).Vec = pos
		w.velMap.Get(e).Vec = vel
	})
	return nil
}

// State returns the agent's current state.
func (w *World) State(e ecs.Entity) (State, error) {
	if !w.isAgent(e) {
		return State{}, ErrUnknownAgent
	}
	st := w.stMap.Get(e)
	return State{
		ID:        w.idMap.Get(e).ID,
		Position:  w.posMap.Get(e).Vec,
		Velocity:  w.velMap.Get(e).Vec,
		Heading:   w.headMap.Get(e).Dir,
		Force:     st.Force,
		Truncated: st.Truncated,
	}, nil
}

// Entity returns the live agent with the given ID.
func (w *World) Entity(id uuid.UUID) (ecs.Entity, bool) {
	e, ok := w.entities[id]
	return e, ok
}

// Identity returns the agent's identity.
func (w *World) Identity(e ecs.Entity) (components.Identity, bool) {
	if !w.isAgent(e) {
		return components.Identity{}, false
	}
	return *w.idMap.Get(e), true
}

// AgentBehaviors lists the kinds registered on the agent, in evaluation order.
func (w *World) AgentBehaviors(e ecs.Entity) []steering.Kind {
	if !w.isAgent(e) {
		return nil
	}
	entries := w.stMap.Get(e).Entries
	kinds := make([]steering.Kind, len(entries))
	for i, en := range entries {
		kinds[i] = en.Behavior.Kind()
	}
	return kinds
}

// Len returns the number of live agents.
func (w *World) Len() int {
	return len(w.entities)
}

// IsAgent reports whether e is a live agent of this world.
func (w *World) IsAgent(e ecs.Entity) bool {
	return w.isAgent(e)
}

func (w *World) isAgent(e ecs.Entity) bool {
	return e != noEntity && w.ecs.Alive(e) && w.stMap.HasAll(e) && w.idMap.HasAll(e)
}

// Snapshot captures every agent and obstacle.
func (w *World) Snapshot() *telemetry.Snapshot {
	snap := &telemetry.Snapshot{
		Version:     telemetry.SnapshotVersion,
		Seed:        w.seed,
		WorldWidth:  w.cfg.World.Width,
		WorldHeight: w.cfg.World.Height,
		Tick:        w.tick,
		Agents:      make([]telemetry.AgentState, 0, len(w.entities)),
	}

	query := w.agentFilter.Query()
	for query.Next() {
		e := query.Entity()
		vel, lim, st, id := query.Get()
		pos := w.posMap.Get(e).Vec
		head := w.headMap.Get(e).Dir

		behaviors := make([]string, len(st.Entries))
		for i, en := range st.Entries {
			behaviors[i] = en.Behavior.Kind().String()
		}
		snap.Agents = append(snap.Agents, telemetry.AgentState{
			ID:        id.ID.String(),
			Name:      id.Name,
			X:         pos.X,
			Y:         pos.Y,
			VelX:      vel.X,
			VelY:      vel.Y,
			HeadingX:  head.X,
			HeadingY:  head.Y,
			Radius:    w.bodyMap.Get(e).Radius,
			MaxSpeed:  lim.MaxSpeed,
			MaxForce:  lim.MaxForce,
			Behaviors: behaviors,
			ForceX:    st.Force.X,
			ForceY:    st.Force.Y,
		})
	}
	for _, o := range w.statics.obstacles {
		snap.Obstacles = append(snap.Obstacles, telemetry.ObstacleState{X: o.Position.X, Y: o.Position.Y, Radius: o.Radius})
	}
	return snap
}
