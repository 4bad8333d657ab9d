package steering

import (
	"math"
	"math/rand"

	"github.com/ojrac/opensimplex-go"
	"gonum.org/v1/gonum/spatial/r2"
)

// Wander steers toward a target that drifts randomly along a circle
// projected in front of the agent. The drift comes from the rng passed at
// construction, so a fixed seed reproduces the same path.
type Wander struct {
	Radius   float64 // Wander circle radius
	Distance float64 // Circle center distance ahead of the agent
	Jitter   float64 // Max per-evaluation displacement of the target

	rng    *rand.Rand
	target r2.Vec // On the circle, agent-local
}

// NewWander returns a wander behavior drawing from rng. A nil rng is
// replaced by a generator with seed 1.
func NewWander(rng *rand.Rand, radius, distance, jitter float64) *Wander {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	theta := rng.Float64() * 2 * math.Pi
	return &Wander{
		Radius:   radius,
		Distance: distance,
		Jitter:   jitter,
		rng:      rng,
		target:   r2.Vec{X: radius * math.Cos(theta), Y: radius * math.Sin(theta)},
	}
}

func (w *Wander) Kind() Kind   { return KindWander }
func (w *Wander) Needs() Needs { return 0 }

func (w *Wander) Velocity(in *Input) r2.Vec {
	w.target = r2.Add(w.target, r2.Vec{
		X: (w.rng.Float64()*2 - 1) * w.Jitter,
		Y: (w.rng.Float64()*2 - 1) * w.Jitter,
	})
	dir := UnitOrZero(w.target)
	if dir == (r2.Vec{}) {
		dir = r2.Vec{X: 1}
	}
	w.target = r2.Scale(w.Radius, dir)

	local := r2.Add(w.target, r2.Vec{X: w.Distance})
	heading := headingOrUp(in.Self.Heading)
	world := ToWorld(local, in.Self.Position, heading)
	return r2.Sub(world, in.Self.Position)
}

// NoiseWander turns the agent's heading by an angle sampled from a smooth
// noise field, giving meandering paths without per-tick jitter.
type NoiseWander struct {
	Frequency float64 // Noise units advanced per evaluation
	MaxTurn   float64 // Radians at noise extremes

	noise opensimplex.Noise
	lane  float64 // Second noise coordinate, distinct per seed
	t     float64
}

// NewNoiseWander returns a noise wander behavior for seed.
func NewNoiseWander(seed int64, frequency, maxTurn float64) *NoiseWander {
	return &NoiseWander{
		Frequency: frequency,
		MaxTurn:   maxTurn,
		noise:     opensimplex.New(seed),
		lane:      float64(seed%1024) * 7.31,
	}
}

func (w *NoiseWander) Kind() Kind   { return KindNoiseWander }
func (w *NoiseWander) Needs() Needs { return 0 }

func (w *NoiseWander) Velocity(in *Input) r2.Vec {
	n := w.noise.Eval2(w.t, w.lane)
	w.t += w.Frequency

	heading := headingOrUp(in.Self.Heading)
	dir := r2.Rotate(heading, n*w.MaxTurn, r2.Vec{})
	desired := r2.Scale(in.Self.MaxSpeed, dir)
	return r2.Sub(desired, in.Self.Velocity)
}
