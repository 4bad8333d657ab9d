// Package components defines ECS components for steering agents.
package components

import "gonum.org/v1/gonum/spatial/r2"

// Position represents an agent's world position.
type Position struct {
	r2.Vec
}

// Velocity represents an agent's velocity in world units per second.
type Velocity struct {
	r2.Vec
}

// Heading is the agent's facing direction, unit length or zero.
type Heading struct {
	Dir r2.Vec
}
