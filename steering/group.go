package steering

import (
	"gonum.org/v1/gonum/spatial/r2"
)

// Separation pushes away from each neighbor with a force inversely
// proportional to the distance between them. The sum is unbounded; the
// combination policy limits it.
type Separation struct{}

func (Separation) Kind() Kind   { return KindSeparation }
func (Separation) Needs() Needs { return NeedsNeighbors }

func (Separation) Velocity(in *Input) r2.Vec {
	var force r2.Vec
	for i := range in.Neighbors {
		n := &in.Neighbors[i]
		if n.Entity == in.Entity {
			continue
		}
		toAgent := r2.Sub(in.Self.Position, n.Position)
		d2 := r2.Norm2(toAgent)
		if d2 < epsilon*epsilon {
			continue
		}
		// unit(toAgent) / |toAgent|
		force = r2.Add(force, r2.Scale(1/d2, toAgent))
	}
	return force
}

// Alignment steers toward the average heading of the neighbors.
type Alignment struct{}

func (Alignment) Kind() Kind   { return KindAlignment }
func (Alignment) Needs() Needs { return NeedsNeighbors }

func (Alignment) Velocity(in *Input) r2.Vec {
	var sum r2.Vec
	count := 0
	for i := range in.Neighbors {
		n := &in.Neighbors[i]
		if n.Entity == in.Entity {
			continue
		}
		sum = r2.Add(sum, n.Heading)
		count++
	}
	if count == 0 {
		return r2.Vec{}
	}
	avg := r2.Scale(1/float64(count), sum)
	return r2.Sub(avg, in.Self.Heading)
}

// Cohesion seeks the center of mass of the neighbors.
type Cohesion struct{}

func (Cohesion) Kind() Kind   { return KindCohesion }
func (Cohesion) Needs() Needs { return NeedsNeighbors }

func (Cohesion) Velocity(in *Input) r2.Vec {
	var center r2.Vec
	count := 0
	for i := range in.Neighbors {
		n := &in.Neighbors[i]
		if n.Entity == in.Entity {
			continue
		}
		center = r2.Add(center, n.Position)
		count++
	}
	if count == 0 {
		return r2.Vec{}
	}
	return SeekForce(in.Self, r2.Scale(1/float64(count), center))
}
