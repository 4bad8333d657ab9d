package main

import (
	"github.com/pthm-cable/steer/config"
)

// ParamSpec defines a single optimizable parameter.
type ParamSpec struct {
	Name    string  // Human-readable name
	Path    string  // Config path for logging
	Min     float64 // Lower bound
	Max     float64 // Upper bound
	Default float64 // Default value
}

// ParamVector holds the set of all optimizable parameters.
type ParamVector struct {
	Specs []ParamSpec
}

// NewParamVector creates the flocking parameters the tuner searches.
func NewParamVector() *ParamVector {
	return &ParamVector{
		Specs: []ParamSpec{
			{Name: "separation_weight", Path: "behaviors.separation.weight", Min: 0.1, Max: 5, Default: 1},
			{Name: "alignment_weight", Path: "behaviors.alignment.weight", Min: 0.1, Max: 5, Default: 1},
			{Name: "cohesion_weight", Path: "behaviors.cohesion.weight", Min: 0.1, Max: 5, Default: 2},
			{Name: "wander_weight", Path: "behaviors.wander.weight", Min: 0, Max: 3, Default: 1},
			{Name: "neighbor_radius", Path: "agent.neighbor_radius", Min: 1, Max: 10, Default: 3},
		},
	}
}

// Dim returns the number of parameters.
func (pv *ParamVector) Dim() int {
	return len(pv.Specs)
}

// DefaultVector returns the default parameter values as a slice.
func (pv *ParamVector) DefaultVector() []float64 {
	v := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		v[i] = spec.Default
	}
	return v
}

// Normalize converts raw parameter values to [0,1] range.
func (pv *ParamVector) Normalize(raw []float64) []float64 {
	normalized := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		normalized[i] = (raw[i] - spec.Min) / (spec.Max - spec.Min)
	}
	return normalized
}

// Denormalize converts [0,1] values back to raw parameter values.
func (pv *ParamVector) Denormalize(normalized []float64) []float64 {
	raw := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		raw[i] = spec.Min + normalized[i]*(spec.Max-spec.Min)
	}
	return raw
}

// Clamp ensures all values are within bounds.
func (pv *ParamVector) Clamp(v []float64) []float64 {
	clamped := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		clamped[i] = min(max(v[i], spec.Min), spec.Max)
	}
	return clamped
}

// ApplyToConfig applies parameter values to a Config struct.
// Order must match Specs order.
func (pv *ParamVector) ApplyToConfig(cfg *config.Config, values []float64) {
	clamped := pv.Clamp(values)
	cfg.Behaviors.Separation.Weight = clamped[0]
	cfg.Behaviors.Alignment.Weight = clamped[1]
	cfg.Behaviors.Cohesion.Weight = clamped[2]
	cfg.Behaviors.Wander.Weight = clamped[3]
	cfg.Agent.NeighborRadius = clamped[4]
}

// ExtractFromConfig extracts current parameter values from a Config struct.
func (pv *ParamVector) ExtractFromConfig(cfg *config.Config) []float64 {
	return []float64{
		cfg.Behaviors.Separation.Weight,
		cfg.Behaviors.Alignment.Weight,
		cfg.Behaviors.Cohesion.Weight,
		cfg.Behaviors.Wander.Weight,
		cfg.Agent.NeighborRadius,
	}
}
