package components

import (
	"github.com/google/uuid"

	"github.com/pthm-cable/steer/config"
)

// Body holds physical properties of an agent.
type Body struct {
	Radius float64
	Mass   float64 // Forces are divided by mass when applied
}

// Limits caps what steering may do to an agent.
type Limits struct {
	MaxSpeed       float64
	MaxForce       float64
	NeighborRadius float64 // Separation from other agents' edges that counts as neighboring
}

// Identity names an agent independently of its ECS handle.
type Identity struct {
	ID   uuid.UUID
	Name string
	Seed int64 // Seed of the agent's private rng
}

// BodyFromConfig returns a body using agent defaults for zero fields.
func BodyFromConfig(cfg *config.AgentConfig, radius, mass float64) Body {
	if radius == 0 {
		radius = cfg.Radius
	}
	if mass <= 0 {
		mass = cfg.Mass
	}
	if mass <= 0 {
		mass = 1
	}
	return Body{Radius: radius, Mass: mass}
}

// LimitsFromConfig returns limits using agent defaults for zero fields.
func LimitsFromConfig(cfg *config.AgentConfig, maxSpeed, maxForce, neighborRadius float64) Limits {
	if maxSpeed == 0 {
		maxSpeed = cfg.MaxSpeed
	}
	if maxForce == 0 {
		maxForce = cfg.MaxForce
	}
	if neighborRadius == 0 {
		neighborRadius = cfg.NeighborRadius
	}
	return Limits{MaxSpeed: maxSpeed, MaxForce: maxForce, NeighborRadius: neighborRadius}
}
