package systems

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Bounds represents the world rectangle [0,Width]x[0,Height].
type Bounds struct {
	Width, Height float64
}

// Contains reports whether p lies inside the bounds, edges included.
func (b Bounds) Contains(p r2.Vec) bool {
	return p.X >= 0 && p.X <= b.Width && p.Y >= 0 && p.Y <= b.Height
}

// Wrap maps a position outside the bounds back inside on the opposite
// side. Positions already inside are returned unchanged.
func (b Bounds) Wrap(p r2.Vec) r2.Vec {
	if b.Contains(p) {
		return p
	}
	return r2.Vec{X: wrapCoord(p.X, b.Width), Y: wrapCoord(p.Y, b.Height)}
}

func wrapCoord(v, size float64) float64 {
	if v >= 0 && v <= size {
		return v
	}
	v = math.Mod(v, size)
	if v < 0 {
		v += size
	}
	return v
}
