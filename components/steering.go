package components

import (
	"math/rand"
	"reflect"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/steer/steering"
)

// Steering holds an agent's registered behaviors and per-tick scratch state.
type Steering struct {
	Entries   []steering.Entry
	Neighbors []steering.Neighbor // Reused across ticks
	Smoother  *steering.Smoother  // nil when heading smoothing is off
	Rng       *rand.Rand          // Private to the agent, drives dithering

	Force     r2.Vec // Last combined force
	Truncated bool   // Last combination hit the force budget
	Evaluated int    // Behaviors evaluated last tick

	// IndexedAt is the position the neighbor index last saw for this agent.
	IndexedAt r2.Vec

	neighborNeeds int
}

// Register appends an entry and keeps the neighbor-need count in sync.
func (s *Steering) Register(e steering.Entry) {
	s.Entries = append(s.Entries, e)
	if e.Behavior != nil && steering.RequiresNeighbors(e.Behavior) {
		s.neighborNeeds++
	}
}

// Deregister removes the first entry holding b. It reports whether an entry
// was removed. Behaviors are matched by ==, so a behavior whose type is not
// comparable (a struct holding a slice, say) must be registered by pointer
// to be removable; such values are never matched.
func (s *Steering) Deregister(b steering.Behavior) bool {
	if t := reflect.TypeOf(b); t == nil || !t.Comparable() {
		return false
	}
	for i := range s.Entries {
		if s.Entries[i].Behavior != b {
			continue
		}
		if steering.RequiresNeighbors(b) {
			s.neighborNeeds--
		}
		s.Entries = append(s.Entries[:i], s.Entries[i+1:]...)
		return true
	}
	return false
}

// NeedsNeighbors reports whether any registered behavior reads neighbors.
func (s *Steering) NeedsNeighbors() bool {
	return s.neighborNeeds > 0
}

// NeighborNeeds returns how many registered behaviors read neighbors.
func (s *Steering) NeighborNeeds() int {
	return s.neighborNeeds
}
