package systems

import (
	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/steer/components"
)

// PhysicsSystem is the reference integrator for environments without their
// own physics: it moves agents along their velocity. It does not wrap;
// the steering system wraps at the start of the next tick.
type PhysicsSystem struct {
	filter *ecs.Filter2[components.Position, components.Velocity]
}

// NewPhysicsSystem creates a new physics system.
func NewPhysicsSystem(w *ecs.World) *PhysicsSystem {
	return &PhysicsSystem{
		filter: ecs.NewFilter2[components.Position, components.Velocity](w),
	}
}

// Update advances every agent by dt seconds.
func (s *PhysicsSystem) Update(dt float64) {
	query := s.filter.Query()
	for query.Next() {
		pos, vel := query.Get()
		pos.Vec = r2.Add(pos.Vec, r2.Scale(dt, vel.Vec))
	}
}
