// Package telemetry provides steering statistics, performance timing, CSV
// output, state snapshots and Prometheus metrics.
package telemetry

import "github.com/google/uuid"

// EventType identifies agent lifecycle events.
type EventType uint8

const (
	EventSpawn EventType = iota
	EventDespawn
	EventRegister
	EventDeregister
)

func (t EventType) String() string {
	switch t {
	case EventSpawn:
		return "spawn"
	case EventDespawn:
		return "despawn"
	case EventRegister:
		return "register"
	case EventDeregister:
		return "deregister"
	}
	return "unknown"
}

// Event represents a single lifecycle event.
type Event struct {
	Type    EventType
	Tick    int64
	AgentID uuid.UUID
	Detail  string // Behavior kind for register events
}

// NewSpawnEvent creates a spawn event.
func NewSpawnEvent(tick int64, id uuid.UUID) Event {
	return Event{Type: EventSpawn, Tick: tick, AgentID: id}
}

// NewDespawnEvent creates a despawn event.
func NewDespawnEvent(tick int64, id uuid.UUID) Event {
	return Event{Type: EventDespawn, Tick: tick, AgentID: id}
}

// NewRegisterEvent creates a behavior registration event.
func NewRegisterEvent(tick int64, id uuid.UUID, kind string) Event {
	return Event{Type: EventRegister, Tick: tick, AgentID: id, Detail: kind}
}

// NewDeregisterEvent creates a behavior removal event.
func NewDeregisterEvent(tick int64, id uuid.UUID, kind string) Event {
	return Event{Type: EventDeregister, Tick: tick, AgentID: id, Detail: kind}
}
