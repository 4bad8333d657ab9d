package world

import (
	"fmt"
	"math/rand"

	"github.com/pthm-cable/steer/config"
	"github.com/pthm-cable/steer/steering"
)

// Factory builds behavior entries with the weights, probabilities and
// parameters of the behaviors config section.
type Factory struct {
	cfg *config.BehaviorsConfig
}

func newFactory(cfg *config.Config) *Factory {
	return &Factory{cfg: &cfg.Behaviors}
}

func (f *Factory) entry(b steering.Behavior, wc config.WeightConfig) steering.Entry {
	return steering.NewEntry(b, wc.Weight, wc.Probability)
}

// Seek steers toward t.
func (f *Factory) Seek(t steering.Target) steering.Entry {
	return f.entry(&steering.Seek{Target: t}, f.cfg.Seek)
}

// Flee steers away from t, within the configured panic distance.
func (f *Factory) Flee(t steering.Target) steering.Entry {
	return f.entry(&steering.Flee{Target: t, PanicDistance: f.cfg.PanicDistance}, f.cfg.Flee)
}

// Arrive steers toward t and slows down on approach.
func (f *Factory) Arrive(t steering.Target) steering.Entry {
	return f.entry(&steering.Arrive{Target: t, SlowingDistance: f.cfg.ArriveSlowingDistance}, f.cfg.Arrive)
}

func (f *Factory) Pursuit(t steering.Target) steering.Entry {
	return f.entry(&steering.Pursuit{Target: t}, f.cfg.Pursuit)
}

func (f *Factory) Evade(t steering.Target) steering.Entry {
	return f.entry(&steering.Evade{Target: t}, f.cfg.Evade)
}

// Hide steers behind the obstacle best placed between the agent and t.
func (f *Factory) Hide(t steering.Target) steering.Entry {
	return f.entry(&steering.Hide{
		Target:          t,
		HidingDistance:  f.cfg.HidingDistanceFromObstacle,
		SlowingDistance: f.cfg.ArriveSlowingDistance,
		PanicDistance:   f.cfg.PanicDistance,
	}, f.cfg.Hide)
}

func (f *Factory) Separation() steering.Entry {
	return f.entry(steering.Separation{}, f.cfg.Separation)
}

func (f *Factory) Alignment() steering.Entry {
	return f.entry(steering.Alignment{}, f.cfg.Alignment)
}

func (f *Factory) Cohesion() steering.Entry {
	return f.entry(steering.Cohesion{}, f.cfg.Cohesion)
}

// Wander draws its jitter from rng. Pass the agent's private rng so runs
// with the same seed repeat.
func (f *Factory) Wander(rng *rand.Rand) steering.Entry {
	c := f.cfg.Wander
	return f.entry(steering.NewWander(rng, c.Radius, c.Distance, c.Jitter), c.WeightConfig)
}

func (f *Factory) NoiseWander(seed int64) steering.Entry {
	c := f.cfg.NoiseWander
	return f.entry(steering.NewNoiseWander(seed, c.Frequency, c.MaxTurn), c.WeightConfig)
}

func (f *Factory) ObstacleAvoidance() steering.Entry {
	c := f.cfg.ObstacleAvoidance
	return f.entry(&steering.ObstacleAvoidance{
		MinDetectionLength: c.MinDetectionLength,
		BrakingWeight:      c.BrakingWeight,
	}, c.WeightConfig)
}

func (f *Factory) WallAvoidance() steering.Entry {
	c := f.cfg.WallAvoidance
	return f.entry(&steering.WallAvoidance{FeelerLength: c.FeelerLength}, c.WeightConfig)
}

// New builds the behavior of the given kind. Target-driven kinds use
// target; wander kinds draw from rng and seed.
func (f *Factory) New(kind steering.Kind, target steering.Target, rng *rand.Rand, seed int64) (steering.Entry, error) {
	switch kind {
	case steering.KindSeek:
		return f.Seek(target), nil
	case steering.KindFlee:
		return f.Flee(target), nil
	case steering.KindArrive:
		return f.Arrive(target), nil
	case steering.KindPursuit:
		return f.Pursuit(target), nil
	case steering.KindEvade:
		return f.Evade(target), nil
	case steering.KindHide:
		return f.Hide(target), nil
	case steering.KindSeparation:
		return f.Separation(), nil
	case steering.KindAlignment:
		return f.Alignment(), nil
	case steering.KindCohesion:
		return f.Cohesion(), nil
	case steering.KindWander:
		return f.Wander(rng), nil
	case steering.KindNoiseWander:
		return f.NoiseWander(seed), nil
	case steering.KindObstacleAvoidance:
		return f.ObstacleAvoidance(), nil
	case steering.KindWallAvoidance:
		return f.WallAvoidance(), nil
	}
	return steering.Entry{}, fmt.Errorf("world: no factory for behavior %v", kind)
}

// Defaults builds the behaviors listed under behaviors.defaults, in order.
// Target-driven defaults track target.
func (f *Factory) Defaults(target steering.Target, rng *rand.Rand, seed int64) ([]steering.Entry, error) {
	entries := make([]steering.Entry, 0, len(f.cfg.Defaults))
	for _, name := range f.cfg.Defaults {
		kind, err := steering.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("world: defaults: %w", err)
		}
		e, err := f.New(kind, target, rng, seed)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}
