package steering

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// epsilon guards divisions and normalizations against degenerate vectors.
const epsilon = 1e-9

// Up is the heading an agent starts with before it has ever moved.
var Up = r2.Vec{X: 0, Y: 1}

// UnitOrZero returns v scaled to unit length, or the zero vector when v has
// no usable direction. r2.Unit returns NaN components for a zero vector.
func UnitOrZero(v r2.Vec) r2.Vec {
	n := r2.Norm(v)
	if n < epsilon || math.IsInf(n, 0) || math.IsNaN(n) {
		return r2.Vec{}
	}
	return r2.Scale(1/n, v)
}

// Truncate limits the magnitude of v to max, preserving direction.
func Truncate(v r2.Vec, max float64) r2.Vec {
	if max <= 0 {
		return r2.Vec{}
	}
	n2 := r2.Norm2(v)
	if n2 <= max*max {
		return v
	}
	return r2.Scale(max/math.Sqrt(n2), v)
}

// Perp returns v rotated a quarter turn counter-clockwise.
func Perp(v r2.Vec) r2.Vec {
	return r2.Vec{X: -v.Y, Y: v.X}
}

// IsFinite reports whether both components are finite numbers.
func IsFinite(v r2.Vec) bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0)
}

// ToLocal expresses the world point p in the frame of an agent at origin
// facing heading. X runs along the heading, Y along its left side.
func ToLocal(p, origin, heading r2.Vec) r2.Vec {
	d := r2.Sub(p, origin)
	return r2.Vec{X: r2.Dot(d, heading), Y: r2.Dot(d, Perp(heading))}
}

// ToWorldVec converts a vector from an agent's local frame to world space.
func ToWorldVec(local, heading r2.Vec) r2.Vec {
	return r2.Add(r2.Scale(local.X, heading), r2.Scale(local.Y, Perp(heading)))
}

// ToWorld converts a point from an agent's local frame to world space.
func ToWorld(local, origin, heading r2.Vec) r2.Vec {
	return r2.Add(origin, ToWorldVec(local, heading))
}

// headingOrUp returns h, or Up when h is degenerate.
func headingOrUp(h r2.Vec) r2.Vec {
	u := UnitOrZero(h)
	if u == (r2.Vec{}) {
		return Up
	}
	return u
}
