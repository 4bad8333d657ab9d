package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SnapshotVersion is incremented when the format changes.
const SnapshotVersion = 1

// Snapshot holds the state of every agent at one tick.
type Snapshot struct {
	Version int   `json:"version"`
	Seed    int64 `json:"seed"`

	WorldWidth  float64 `json:"world_width"`
	WorldHeight float64 `json:"world_height"`

	Tick int64 `json:"tick"`

	Agents    []AgentState    `json:"agents"`
	Obstacles []ObstacleState `json:"obstacles,omitempty"`
}

// AgentState holds one agent's kinematic state and steering setup.
type AgentState struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`

	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	VelX     float64 `json:"vel_x"`
	VelY     float64 `json:"vel_y"`
	HeadingX float64 `json:"heading_x"`
	HeadingY float64 `json:"heading_y"`

	Radius   float64 `json:"radius"`
	MaxSpeed float64 `json:"max_speed"`
	MaxForce float64 `json:"max_force"`

	Behaviors []string `json:"behaviors"`
	ForceX    float64  `json:"force_x"`
	ForceY    float64  `json:"force_y"`
}

// ObstacleState is a circular obstacle.
type ObstacleState struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Radius float64 `json:"radius"`
}

// SaveSnapshot writes a snapshot to dir and returns the file path.
func SaveSnapshot(snapshot *Snapshot, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("snapshot_%d.json", snapshot.Tick))

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return path, nil
}

// LoadSnapshot reads a snapshot from disk.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snapshot.Version != SnapshotVersion {
		return nil, fmt.Errorf("snapshot version %d, want %d", snapshot.Version, SnapshotVersion)
	}
	return &snapshot, nil
}
