// Package config provides configuration loading and access for the steering engine.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config holds all steering engine configuration parameters.
type Config struct {
	World     WorldConfig     `yaml:"world"`
	Physics   PhysicsConfig   `yaml:"physics"`
	Partition PartitionConfig `yaml:"partition"`
	Steering  SteeringConfig  `yaml:"steering"`
	Agent     AgentConfig     `yaml:"agent"`
	Heading   HeadingConfig   `yaml:"heading"`
	Behaviors BehaviorsConfig `yaml:"behaviors"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// WorldConfig holds world bounds and wrap-around.
type WorldConfig struct {
	Width      float64 `yaml:"width"`
	Height     float64 `yaml:"height"`
	WrapAround bool    `yaml:"wrap_around"` // Positions leaving the bounds re-enter on the opposite edge
	Seed       int64   `yaml:"seed"`        // 0 = time-based
}

// PhysicsConfig holds the reference integrator step.
type PhysicsConfig struct {
	DT float64 `yaml:"dt"`
}

// PartitionConfig selects the neighbor index.
type PartitionConfig struct {
	Enabled  bool    `yaml:"enabled"`   // false = brute-force scan
	CellSize float64 `yaml:"cell_size"` // Grid cell edge length in world units
}

// SteeringConfig selects the combination and neighbor policies.
type SteeringConfig struct {
	Policy         string `yaml:"policy"`          // weighted_sum | prioritized_dithering | truncated_priority
	NeighborPolicy string `yaml:"neighbor_policy"` // snapshot | live
	Parallel       bool   `yaml:"parallel"`        // Parallel compute phase (snapshot only)
	Workers        int    `yaml:"workers"`         // 0 = GOMAXPROCS
}

// AgentConfig holds per-agent defaults used when a spawn spec leaves a field at zero.
type AgentConfig struct {
	Radius         float64 `yaml:"radius"`
	Mass           float64 `yaml:"mass"`
	MaxSpeed       float64 `yaml:"max_speed"`
	MaxForce       float64 `yaml:"max_force"`
	NeighborRadius float64 `yaml:"neighbor_radius"`
}

// HeadingConfig holds heading smoothing parameters.
type HeadingConfig struct {
	Smoothing bool `yaml:"smoothing"`
	Samples   int  `yaml:"samples"`
}

// WeightConfig holds the weight and dithering probability of one behavior.
type WeightConfig struct {
	Weight      float64 `yaml:"weight"`
	Probability float64 `yaml:"probability"`
}

// WanderConfig holds wander circle parameters.
type WanderConfig struct {
	WeightConfig `yaml:",inline"`
	Radius       float64 `yaml:"radius"`
	Distance     float64 `yaml:"distance"`
	Jitter       float64 `yaml:"jitter"` // Per-tick displacement of the wander target
}

// NoiseWanderConfig holds noise-driven wander parameters.
type NoiseWanderConfig struct {
	WeightConfig `yaml:",inline"`
	Frequency    float64 `yaml:"frequency"` // Noise samples per tick
	MaxTurn      float64 `yaml:"max_turn"`  // Radians
}

// ObstacleAvoidanceConfig holds detection box parameters.
type ObstacleAvoidanceConfig struct {
	WeightConfig       `yaml:",inline"`
	MinDetectionLength float64 `yaml:"min_detection_length"`
	BrakingWeight      float64 `yaml:"braking_weight"`
}

// WallAvoidanceConfig holds feeler parameters.
type WallAvoidanceConfig struct {
	WeightConfig `yaml:",inline"`
	FeelerLength float64 `yaml:"feeler_length"`
}

// BehaviorsConfig holds per-behavior defaults.
type BehaviorsConfig struct {
	Separation        WeightConfig            `yaml:"separation"`
	Alignment         WeightConfig            `yaml:"alignment"`
	Cohesion          WeightConfig            `yaml:"cohesion"`
	Seek              WeightConfig            `yaml:"seek"`
	Flee              WeightConfig            `yaml:"flee"`
	Arrive            WeightConfig            `yaml:"arrive"`
	Pursuit           WeightConfig            `yaml:"pursuit"`
	Evade             WeightConfig            `yaml:"evade"`
	Hide              WeightConfig            `yaml:"hide"`
	Wander            WanderConfig            `yaml:"wander"`
	NoiseWander       NoiseWanderConfig       `yaml:"noise_wander"`
	ObstacleAvoidance ObstacleAvoidanceConfig `yaml:"obstacle_avoidance"`
	WallAvoidance     WallAvoidanceConfig     `yaml:"wall_avoidance"`

	ArriveSlowingDistance      float64  `yaml:"arrive_slowing_distance"`
	HidingDistanceFromObstacle float64  `yaml:"hiding_distance_from_obstacle"`
	PanicDistance              float64  `yaml:"panic_distance"` // <= 0 disables
	Defaults                   []string `yaml:"defaults"`       // Behaviors registered on spawn when requested
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	StatsWindow         int `yaml:"stats_window"` // Ticks per stats window
	PerfCollectorWindow int `yaml:"perf_collector_window"`
}

// LogConfig holds logger parameters.
type LogConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"` // json | console
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	GridCols     int  // Partition columns
	GridRows     int  // Partition rows
	UseSnapshot  bool // NeighborPolicy == snapshot
	ParallelSafe bool // Parallel requested and allowed by the neighbor policy
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Default returns a fresh copy of the embedded defaults.
func Default() *Config {
	cfg, err := Parse(nil)
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults: %v", err))
	}
	return cfg
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	if path == "" {
		return Parse(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse overlays data on the embedded defaults, validates and derives.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}
	if len(data) > 0 {
		// Unmarshal into same struct - only overwrites fields present in data
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.computeDerived()
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.World.Width <= 0 || c.World.Height <= 0 {
		return fmt.Errorf("%w: world size %vx%v", ErrInvalid, c.World.Width, c.World.Height)
	}
	if c.Physics.DT <= 0 {
		return fmt.Errorf("%w: physics.dt %v", ErrInvalid, c.Physics.DT)
	}
	if c.Partition.Enabled && c.Partition.CellSize <= 0 {
		return fmt.Errorf("%w: partition.cell_size %v", ErrInvalid, c.Partition.CellSize)
	}
	switch c.Steering.Policy {
	case "weighted_sum", "prioritized_dithering", "truncated_priority":
	default:
		return fmt.Errorf("%w: steering.policy %q", ErrInvalid, c.Steering.Policy)
	}
	switch c.Steering.NeighborPolicy {
	case "snapshot", "live":
	default:
		return fmt.Errorf("%w: steering.neighbor_policy %q", ErrInvalid, c.Steering.NeighborPolicy)
	}
	if c.Agent.MaxSpeed < 0 || c.Agent.MaxForce < 0 || c.Agent.Radius < 0 || c.Agent.NeighborRadius < 0 {
		return fmt.Errorf("%w: agent limits must be non-negative", ErrInvalid)
	}
	if c.Heading.Smoothing && c.Heading.Samples < 1 {
		return fmt.Errorf("%w: heading.samples %d", ErrInvalid, c.Heading.Samples)
	}

	b := &c.Behaviors
	if b.ObstacleAvoidance.MinDetectionLength <= 0 {
		return fmt.Errorf("%w: behaviors.obstacle_avoidance.min_detection_length %v", ErrInvalid, b.ObstacleAvoidance.MinDetectionLength)
	}
	if b.WallAvoidance.FeelerLength <= 0 {
		return fmt.Errorf("%w: behaviors.wall_avoidance.feeler_length %v", ErrInvalid, b.WallAvoidance.FeelerLength)
	}
	weights := map[string]WeightConfig{
		"separation":         b.Separation,
		"alignment":          b.Alignment,
		"cohesion":           b.Cohesion,
		"seek":               b.Seek,
		"flee":               b.Flee,
		"arrive":             b.Arrive,
		"pursuit":            b.Pursuit,
		"evade":              b.Evade,
		"hide":               b.Hide,
		"wander":             b.Wander.WeightConfig,
		"noise_wander":       b.NoiseWander.WeightConfig,
		"obstacle_avoidance": b.ObstacleAvoidance.WeightConfig,
		"wall_avoidance":     b.WallAvoidance.WeightConfig,
	}
	for name, w := range weights {
		if w.Weight < 0 {
			return fmt.Errorf("%w: behaviors.%s.weight %v", ErrInvalid, name, w.Weight)
		}
		if w.Probability < 0 || w.Probability > 1 {
			return fmt.Errorf("%w: behaviors.%s.probability %v", ErrInvalid, name, w.Probability)
		}
	}
	for _, name := range b.Defaults {
		if _, ok := weights[name]; !ok {
			return fmt.Errorf("%w: behaviors.defaults: unknown behavior %q", ErrInvalid, name)
		}
	}
	return nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	if c.Partition.Enabled {
		c.Derived.GridCols = int(c.World.Width/c.Partition.CellSize) + 1
		c.Derived.GridRows = int(c.World.Height/c.Partition.CellSize) + 1
	}
	c.Derived.UseSnapshot = c.Steering.NeighborPolicy == "snapshot"
	c.Derived.ParallelSafe = c.Steering.Parallel && c.Derived.UseSnapshot

	if c.Telemetry.StatsWindow < 1 {
		c.Telemetry.StatsWindow = 60
	}
	if c.Telemetry.PerfCollectorWindow < 1 {
		c.Telemetry.PerfCollectorWindow = 120
	}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
