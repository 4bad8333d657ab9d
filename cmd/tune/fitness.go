package main

import (
	"context"
	"math"
	"math/rand"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/steer/config"
	"github.com/pthm-cable/steer/steering"
	"github.com/pthm-cable/steer/telemetry"
	"github.com/pthm-cable/steer/world"
)

// Fitness component weights.
const (
	weightSpacing      = 1.0
	weightUniformity   = 0.5
	weightPolarization = 1.0
)

// FitnessEvaluator runs headless flocks and scores how well they hold a
// target spacing while moving together.
type FitnessEvaluator struct {
	params     *ParamVector
	ticks      int
	agents     int
	spacing    float64
	seeds      []int64
	baseConfig *config.Config

	mu               sync.Mutex
	lastSpacing      float64
	lastPolarization float64
}

// NewFitnessEvaluator creates a new evaluator.
func NewFitnessEvaluator(params *ParamVector, ticks, agents int, spacing float64, seeds []int64, baseCfg *config.Config) *FitnessEvaluator {
	return &FitnessEvaluator{
		params:     params,
		ticks:      ticks,
		agents:     agents,
		spacing:    spacing,
		seeds:      seeds,
		baseConfig: baseCfg,
	}
}

// LastMeasures returns the mean nearest-neighbor distance and polarization
// of the most recent evaluation.
func (fe *FitnessEvaluator) LastMeasures() (spacing, polarization float64) {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.lastSpacing, fe.lastPolarization
}

// flockMeasures describes the flock at the end of a run.
type flockMeasures struct {
	spacingMean  float64 // Mean nearest-neighbor center distance
	spacingStd   float64
	polarization float64 // |mean unit velocity|, 1 = all agents aligned
}

// Evaluate computes fitness for a parameter vector (lower = better).
// Runs that fail count as the worst score.
func (fe *FitnessEvaluator) Evaluate(x []float64) float64 {
	results := make([]flockMeasures, len(fe.seeds))

	var g errgroup.Group
	for i, seed := range fe.seeds {
		g.Go(func() error {
			m, err := fe.runSimulation(x, seed)
			if err != nil {
				return err
			}
			results[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return math.Inf(1)
	}

	var total, spacing, polarization float64
	for _, m := range results {
		total += fe.computeFitness(m)
		spacing += m.spacingMean
		polarization += m.polarization
	}
	n := float64(len(results))

	fe.mu.Lock()
	fe.lastSpacing = spacing / n
	fe.lastPolarization = polarization / n
	fe.mu.Unlock()

	return total / n
}

// runSimulation executes a single headless flock run.
func (fe *FitnessEvaluator) runSimulation(x []float64, seed int64) (flockMeasures, error) {
	cfg := fe.copyConfig()
	fe.params.ApplyToConfig(cfg, x)

	w, err := world.New(cfg, world.WithSeed(seed))
	if err != nil {
		return flockMeasures{}, err
	}

	// Start clustered in the middle quarter so cohesion has little to do
	// and spacing is decided by the weights.
	rng := rand.New(rand.NewSource(seed))
	width, height := cfg.World.Width, cfg.World.Height
	for i := 0; i < fe.agents; i++ {
		_, err := w.Spawn(world.AgentSpec{
			Position: r2.Vec{
				X: width*0.375 + rng.Float64()*width*0.25,
				Y: height*0.375 + rng.Float64()*height*0.25,
			},
			Velocity: r2.Vec{X: rng.NormFloat64(), Y: rng.NormFloat64()},
			Defaults: true,
		})
		if err != nil {
			return flockMeasures{}, err
		}
	}

	if err := w.Run(context.Background(), fe.ticks); err != nil {
		return flockMeasures{}, err
	}
	return measure(w.Snapshot(), cfg.World.WrapAround), nil
}

// copyConfig returns a copy of the base config that evaluations may modify.
func (fe *FitnessEvaluator) copyConfig() *config.Config {
	cfg := *fe.baseConfig
	cfg.Behaviors.Defaults = append([]string(nil), fe.baseConfig.Behaviors.Defaults...)
	return &cfg
}

// computeFitness combines spacing error, spacing spread and missing
// polarization into one score.
func (fe *FitnessEvaluator) computeFitness(m flockMeasures) float64 {
	if fe.spacing <= 0 || math.IsNaN(m.spacingMean) {
		return math.Inf(1)
	}
	spacingErr := math.Abs(m.spacingMean-fe.spacing) / fe.spacing
	uniformity := m.spacingStd / fe.spacing
	return weightSpacing*spacingErr + weightUniformity*uniformity + weightPolarization*(1-m.polarization)
}

// measure computes nearest-neighbor spacing and polarization of a snapshot.
func measure(snap *telemetry.Snapshot, wrap bool) flockMeasures {
	n := len(snap.Agents)
	if n < 2 {
		return flockMeasures{spacingMean: math.NaN()}
	}

	pos := make([]r2.Vec, n)
	var heading r2.Vec
	for i, a := range snap.Agents {
		pos[i] = r2.Vec{X: a.X, Y: a.Y}
		heading = r2.Add(heading, steering.UnitOrZero(r2.Vec{X: a.VelX, Y: a.VelY}))
	}

	nearest := make([]float64, n)
	for i := range pos {
		best := math.Inf(1)
		for j := range pos {
			if i == j {
				continue
			}
			d := r2.Sub(pos[j], pos[i])
			if wrap {
				d = toroidalDelta(d, snap.WorldWidth, snap.WorldHeight)
			}
			best = min(best, r2.Norm(d))
		}
		nearest[i] = best
	}

	mean, std := stat.MeanStdDev(nearest, nil)
	return flockMeasures{
		spacingMean:  mean,
		spacingStd:   std,
		polarization: r2.Norm(heading) / float64(n),
	}
}

// toroidalDelta returns the shortest displacement on a wrapped world.
func toroidalDelta(d r2.Vec, width, height float64) r2.Vec {
	if d.X > width/2 {
		d.X -= width
	} else if d.X < -width/2 {
		d.X += width
	}
	if d.Y > height/2 {
		d.Y -= height
	} else if d.Y < -height/2 {
		d.Y += height
	}
	return d
}
