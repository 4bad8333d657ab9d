package steering

import (
	"math"
	"testing"

	"github.com/mlange-42/ark/ecs"
	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/spatial/r2"
)

const tol = 1e-9

type marker struct{ id int }

// newEntities returns n live entities from a fresh ark world.
func newEntities(t *testing.T, n int) (*ecs.World, []ecs.Entity) {
	t.Helper()
	w := ecs.NewWorld()
	mapper := ecs.NewMap1[marker](w)
	out := make([]ecs.Entity, n)
	for i := range out {
		out[i] = mapper.NewEntity(&marker{id: i})
	}
	return w, out
}

type fakeEnv struct {
	agents    map[ecs.Entity]Kinematics
	obstacles []Obstacle
	walls     []Wall
}

func newFakeEnv() *fakeEnv {
	return &fakeEnv{agents: make(map[ecs.Entity]Kinematics)}
}

func (f *fakeEnv) Lookup(e ecs.Entity) (Kinematics, bool) {
	k, ok := f.agents[e]
	return k, ok
}

func (f *fakeEnv) Obstacles() []Obstacle { return f.obstacles }
func (f *fakeEnv) Walls() []Wall         { return f.walls }

// constBehavior returns a fixed vector and counts evaluations.
type constBehavior struct {
	v     r2.Vec
	calls int
}

func (c *constBehavior) Kind() Kind   { return KindSeek }
func (c *constBehavior) Needs() Needs { return 0 }

func (c *constBehavior) Velocity(*Input) r2.Vec {
	c.calls++
	return c.v
}

func vec(x, y float64) r2.Vec { return r2.Vec{X: x, Y: y} }

func kin(pos, vel r2.Vec) Kinematics {
	return Kinematics{Position: pos, Velocity: vel, Heading: UnitOrZero(vel), Radius: 1, MaxSpeed: 5, MaxForce: 3}
}

func assertVecNear(t *testing.T, want, got r2.Vec, delta float64) {
	t.Helper()
	if math.Abs(want.X-got.X) > delta || math.Abs(want.Y-got.Y) > delta {
		assert.Failf(t, "vectors differ", "want %v, got %v", want, got)
	}
}
