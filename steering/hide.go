package steering

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// HidingPosition returns the point behind obstacle as seen from target,
// distanceFromCover beyond the obstacle's edge.
func HidingPosition(obstacle Obstacle, target r2.Vec, distanceFromCover float64) r2.Vec {
	away := obstacle.Radius + distanceFromCover
	toObstacle := UnitOrZero(r2.Sub(obstacle.Position, target))
	return r2.Add(obstacle.Position, r2.Scale(away, toObstacle))
}

// HideForce steers self to the nearest hiding spot from target. With no
// obstacles it evades the target instead. A positive panicDistance disables
// the behavior while the target is farther away than that.
func HideForce(self, target Kinematics, obstacles []Obstacle, hidingDistance, slowingDistance, panicDistance float64) r2.Vec {
	if panicDistance > 0 && r2.Norm(r2.Sub(self.Position, target.Position)) > panicDistance {
		return r2.Vec{}
	}

	best := r2.Vec{}
	bestDist := math.MaxFloat64
	for _, ob := range obstacles {
		spot := HidingPosition(ob, target.Position, hidingDistance)
		if d := r2.Norm2(r2.Sub(spot, self.Position)); d < bestDist {
			bestDist = d
			best = spot
		}
	}

	if bestDist == math.MaxFloat64 {
		return EvadeForce(self, target)
	}
	return ArriveForce(self, best, slowingDistance)
}

// Hide keeps an obstacle between the agent and a target.
type Hide struct {
	Target          Target
	HidingDistance  float64 // Clearance beyond the obstacle's radius
	SlowingDistance float64
	PanicDistance   float64 // <= 0 means always hide
}

func (h *Hide) Kind() Kind   { return KindHide }
func (h *Hide) Needs() Needs { return h.Target.needs() | NeedsObstacles }

func (h *Hide) Velocity(in *Input) r2.Vec {
	t, ok := h.Target.resolve(in)
	if !ok {
		return r2.Vec{}
	}
	return HideForce(in.Self, t, in.obstacles(), h.HidingDistance, h.SlowingDistance, h.PanicDistance)
}
