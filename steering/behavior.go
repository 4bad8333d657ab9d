// Package steering provides steering behaviors and the policies that combine
// their outputs into one bounded force.
package steering

import (
	"fmt"

	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r2"
)

// Kind tags a behavior variant.
type Kind uint8

const (
	KindSeek Kind = iota
	KindFlee
	KindArrive
	KindPursuit
	KindEvade
	KindHide
	KindSeparation
	KindAlignment
	KindCohesion
	KindWander
	KindNoiseWander
	KindObstacleAvoidance
	KindWallAvoidance
	numKinds
)

var kindNames = [numKinds]string{
	KindSeek:              "seek",
	KindFlee:              "flee",
	KindArrive:            "arrive",
	KindPursuit:           "pursuit",
	KindEvade:             "evade",
	KindHide:              "hide",
	KindSeparation:        "separation",
	KindAlignment:         "alignment",
	KindCohesion:          "cohesion",
	KindWander:            "wander",
	KindNoiseWander:       "noise_wander",
	KindObstacleAvoidance: "obstacle_avoidance",
	KindWallAvoidance:     "wall_avoidance",
}

func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind returns the Kind with the given config name.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("steering: unknown behavior %q", name)
}

// Needs declares the data a behavior reads besides the agent's own state.
type Needs uint8

const (
	NeedsNeighbors Needs = 1 << iota // Neighbor list must be gathered before evaluation
	NeedsTarget                      // Resolves another agent through Env
	NeedsObstacles                   // Reads Env.Obstacles
	NeedsWalls                       // Reads Env.Walls
)

// Has checks if a needs set contains a need.
func (n Needs) Has(other Needs) bool {
	return n&other != 0
}

// Kinematics is the state of an agent that behaviors read.
type Kinematics struct {
	Position r2.Vec
	Velocity r2.Vec
	Heading  r2.Vec // Unit length or zero
	Radius   float64
	MaxSpeed float64
	MaxForce float64
}

// Speed returns the magnitude of the velocity.
func (k Kinematics) Speed() float64 {
	return r2.Norm(k.Velocity)
}

// Neighbor is another agent returned by a neighbor query.
type Neighbor struct {
	Entity ecs.Entity
	Kinematics
}

// Obstacle is a static circular obstacle.
type Obstacle struct {
	Position r2.Vec
	Radius   float64
}

// Wall is a static line segment.
type Wall struct {
	From, To r2.Vec
}

// NormalToward returns the unit normal of the wall on the side of p.
func (w Wall) NormalToward(p r2.Vec) r2.Vec {
	n := Perp(UnitOrZero(r2.Sub(w.To, w.From)))
	if r2.Dot(n, r2.Sub(p, w.From)) < 0 {
		return r2.Scale(-1, n)
	}
	return n
}

// Env is the read-only world view behaviors evaluate against.
type Env interface {
	// Lookup returns the state of a live agent. ok is false when the entity
	// has been removed, which callers treat as "no contribution".
	Lookup(e ecs.Entity) (k Kinematics, ok bool)
	Obstacles() []Obstacle
	Walls() []Wall
}

// Input is everything a behavior may read for one evaluation.
type Input struct {
	Entity    ecs.Entity
	Self      Kinematics
	Neighbors []Neighbor
	Env       Env
}

func (in *Input) obstacles() []Obstacle {
	if in.Env == nil {
		return nil
	}
	return in.Env.Obstacles()
}

func (in *Input) walls() []Wall {
	if in.Env == nil {
		return nil
	}
	return in.Env.Walls()
}

// Behavior produces one steering contribution.
type Behavior interface {
	Kind() Kind
	Needs() Needs
	// Velocity returns the behavior's steering vector for the input state.
	// It must return a finite vector; degenerate geometry yields zero.
	Velocity(in *Input) r2.Vec
}

// RequiresNeighbors reports whether b needs the neighbor list gathered.
func RequiresNeighbors(b Behavior) bool {
	return b.Needs().Has(NeedsNeighbors)
}

// Entry is a behavior registered on an agent with its combination settings.
type Entry struct {
	Behavior    Behavior
	Weight      float64 // >= 0
	Probability float64 // In [0, 1], used by prioritized dithering
	Active      bool
}

// NewEntry returns an active entry.
func NewEntry(b Behavior, weight, probability float64) Entry {
	return Entry{Behavior: b, Weight: weight, Probability: probability, Active: true}
}

// contributes reports whether the entry may be evaluated at all.
func (e *Entry) contributes() bool {
	return e.Active && e.Weight > 0 && e.Behavior != nil
}

var noEntity ecs.Entity

// Target is either a fixed point or a reference to another agent.
type Target struct {
	Entity ecs.Entity
	Point  r2.Vec
}

// PointTarget returns a target fixed at p.
func PointTarget(p r2.Vec) Target {
	return Target{Point: p}
}

// AgentTarget returns a target tracking e. The reference does not keep e alive.
func AgentTarget(e ecs.Entity) Target {
	return Target{Entity: e}
}

// IsAgent reports whether the target tracks another agent.
func (t Target) IsAgent() bool {
	return t.Entity != noEntity
}

func (t Target) resolve(in *Input) (Kinematics, bool) {
	if !t.IsAgent() {
		return Kinematics{Position: t.Point}, true
	}
	if in.Env == nil {
		return Kinematics{}, false
	}
	return in.Env.Lookup(t.Entity)
}

func (t Target) needs() Needs {
	if t.IsAgent() {
		return NeedsTarget
	}
	return 0
}
