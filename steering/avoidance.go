package steering

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// ObstacleAvoidance steers around obstacles inside a detection box that
// extends ahead of the agent and grows with its speed.
type ObstacleAvoidance struct {
	MinDetectionLength float64
	BrakingWeight      float64
}

func (o *ObstacleAvoidance) Kind() Kind   { return KindObstacleAvoidance }
func (o *ObstacleAvoidance) Needs() Needs { return NeedsObstacles }

func (o *ObstacleAvoidance) Velocity(in *Input) r2.Vec {
	obstacles := in.obstacles()
	if len(obstacles) == 0 {
		return r2.Vec{}
	}

	self := &in.Self
	boxLength := o.MinDetectionLength
	if self.MaxSpeed > epsilon {
		boxLength += self.Speed() / self.MaxSpeed * o.MinDetectionLength
	}
	if boxLength < epsilon {
		return r2.Vec{}
	}
	heading := headingOrUp(self.Heading)

	closestIP := math.MaxFloat64
	var closest *Obstacle
	var closestLocal r2.Vec
	var closestExpanded float64

	for i := range obstacles {
		ob := &obstacles[i]
		reach := boxLength + ob.Radius
		if r2.Norm2(r2.Sub(ob.Position, self.Position)) > reach*reach {
			continue
		}
		local := ToLocal(ob.Position, self.Position, heading)
		if local.X < 0 {
			continue
		}
		expanded := ob.Radius + self.Radius
		if math.Abs(local.Y) >= expanded {
			continue
		}
		// Line x-axis / circle intersection nearest the agent.
		sqrtPart := math.Sqrt(expanded*expanded - local.Y*local.Y)
		ip := local.X - sqrtPart
		if ip <= 0 {
			ip = local.X + sqrtPart
		}
		if ip < closestIP {
			closestIP = ip
			closest = ob
			closestLocal = local
			closestExpanded = expanded
		}
	}

	if closest == nil {
		return r2.Vec{}
	}

	multiplier := 1 + (boxLength-closestLocal.X)/boxLength
	lateral := (closestExpanded - math.Abs(closestLocal.Y)) * multiplier
	if closestLocal.Y > 0 {
		lateral = -lateral
	}
	braking := (closest.Radius - closestLocal.X) * o.BrakingWeight
	return ToWorldVec(r2.Vec{X: braking, Y: lateral}, heading)
}

// WallAvoidance pushes the agent away from walls its feelers cross. Each
// crossing contributes the wall normal scaled by the penetration depth.
type WallAvoidance struct {
	FeelerLength float64
}

func (w *WallAvoidance) Kind() Kind   { return KindWallAvoidance }
func (w *WallAvoidance) Needs() Needs { return NeedsWalls }

func (w *WallAvoidance) Velocity(in *Input) r2.Vec {
	walls := in.walls()
	if len(walls) == 0 {
		return r2.Vec{}
	}

	pos := in.Self.Position
	heading := headingOrUp(in.Self.Heading)
	feelers := [3]r2.Vec{
		r2.Add(pos, r2.Scale(w.FeelerLength, heading)),
		r2.Add(pos, r2.Scale(w.FeelerLength/2, r2.Rotate(heading, math.Pi/4, r2.Vec{}))),
		r2.Add(pos, r2.Scale(w.FeelerLength/2, r2.Rotate(heading, -math.Pi/4, r2.Vec{}))),
	}

	var force r2.Vec
	for _, tip := range feelers {
		closestDist := math.MaxFloat64
		var hit r2.Vec
		var wall *Wall
		for i := range walls {
			dist, point, ok := SegmentIntersection(pos, tip, walls[i].From, walls[i].To)
			if ok && dist < closestDist {
				closestDist = dist
				hit = point
				wall = &walls[i]
			}
		}
		if wall == nil {
			continue
		}
		overshoot := r2.Norm(r2.Sub(tip, hit))
		force = r2.Add(force, r2.Scale(overshoot, wall.NormalToward(pos)))
	}
	return force
}

// SegmentIntersection intersects segments a0-a1 and b0-b1. dist is the
// distance from a0 to the intersection point.
func SegmentIntersection(a0, a1, b0, b1 r2.Vec) (dist float64, point r2.Vec, ok bool) {
	r := r2.Sub(a1, a0)
	s := r2.Sub(b1, b0)
	denom := r2.Cross(r, s)
	if math.Abs(denom) < epsilon {
		return 0, r2.Vec{}, false
	}
	qp := r2.Sub(b0, a0)
	t := r2.Cross(qp, s) / denom
	u := r2.Cross(qp, r) / denom
	if t < 0 || t > 1 || u < 0 || u > 1 {
		return 0, r2.Vec{}, false
	}
	point = r2.Add(a0, r2.Scale(t, r))
	return t * r2.Norm(r), point, true
}
