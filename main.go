package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/steer/config"
	"github.com/pthm-cable/steer/logging"
	"github.com/pthm-cable/steer/steering"
	"github.com/pthm-cable/steer/telemetry"
	"github.com/pthm-cable/steer/world"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	seed := flag.Int64("seed", 0, "RNG seed (0 = config seed, then time-based)")
	maxTicks := flag.Int("max-ticks", 3000, "Stop after N ticks (0 = until interrupted)")
	agents := flag.Int("agents", 200, "Number of agents to spawn")
	obstacles := flag.Int("obstacles", 8, "Number of random circular obstacles")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs, config and final snapshot")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	logStats := flag.Bool("log-stats", false, "Log every stats window")
	flag.Parse()

	// Initialize config before anything else
	if err := config.Init(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Cfg()

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger, runOptions{
		seed:        *seed,
		maxTicks:    *maxTicks,
		agents:      *agents,
		obstacles:   *obstacles,
		outputDir:   *outputDir,
		metricsAddr: *metricsAddr,
		logStats:    *logStats,
	}); err != nil {
		logger.Error("run failed", zap.Error(err))
		os.Exit(1)
	}
}

type runOptions struct {
	seed        int64
	maxTicks    int
	agents      int
	obstacles   int
	outputDir   string
	metricsAddr string
	logStats    bool
}

func run(cfg *config.Config, logger *zap.Logger, opts runOptions) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	output, err := telemetry.NewOutputManager(opts.outputDir)
	if err != nil {
		return err
	}
	defer output.Close()
	if err := output.WriteConfig(cfg); err != nil {
		return err
	}

	worldOpts := []world.Option{
		world.WithLogger(logger),
		world.WithOutput(output),
		world.WithLogStats(opts.logStats),
	}
	if opts.seed != 0 {
		worldOpts = append(worldOpts, world.WithSeed(opts.seed))
	}

	if opts.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		metrics, err := telemetry.NewMetrics(reg)
		if err != nil {
			return err
		}
		worldOpts = append(worldOpts, world.WithMetrics(metrics))

		srv := &http.Server{Addr: opts.metricsAddr, Handler: metricsMux(metrics)}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("serving metrics", zap.String("addr", opts.metricsAddr))
	}

	w, err := world.New(cfg, worldOpts...)
	if err != nil {
		return err
	}
	if err := populate(w, opts.agents, opts.obstacles); err != nil {
		return err
	}

	logger.Info("starting headless simulation",
		zap.Int64("seed", w.Seed()),
		zap.Int("agents", w.Len()),
		zap.Int("obstacles", len(w.Obstacles())),
		zap.Int("max_ticks", opts.maxTicks),
	)

	start := time.Now()
	runErr := w.Run(ctx, opts.maxTicks)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	logger.Info("simulation finished",
		zap.Int64("tick", w.CurrentTick()),
		zap.Duration("elapsed", time.Since(start)),
	)
	w.Perf().Stats().LogStats(logger)

	path, err := output.WriteSnapshot(w.Snapshot())
	if err != nil {
		return err
	}
	if path != "" {
		logger.Info("snapshot saved", zap.String("path", path))
	}
	return nil
}

func metricsMux(m *telemetry.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}

// populate scatters obstacles and agents over the world. Without wrap the
// world is fenced by walls and agents also avoid them.
func populate(w *world.World, agents, obstacles int) error {
	cfg := w.Config()
	rng := rand.New(rand.NewSource(w.Seed()))
	width, height := cfg.World.Width, cfg.World.Height

	for i := 0; i < obstacles; i++ {
		w.AddObstacle(steering.Obstacle{
			Position: r2.Vec{X: rng.Float64() * width, Y: rng.Float64() * height},
			Radius:   2 + rng.Float64()*4,
		})
	}

	var fence bool
	if !cfg.World.WrapAround {
		fence = true
		corners := []r2.Vec{{}, {X: width}, {X: width, Y: height}, {Y: height}}
		for i := range corners {
			w.AddWall(steering.Wall{From: corners[i], To: corners[(i+1)%len(corners)]})
		}
	}

	f := w.Behaviors()
	for i := 0; i < agents; i++ {
		spec := world.AgentSpec{
			Name:     fmt.Sprintf("agent-%d", i),
			Position: r2.Vec{X: rng.Float64() * width, Y: rng.Float64() * height},
			Velocity: r2.Vec{X: rng.NormFloat64(), Y: rng.NormFloat64()},
			Defaults: true,
		}
		spec.Behaviors = append(spec.Behaviors, f.ObstacleAvoidance())
		if fence {
			spec.Behaviors = append(spec.Behaviors, f.WallAvoidance())
		}
		if _, err := w.Spawn(spec); err != nil {
			return fmt.Errorf("spawn agent %d: %w", i, err)
		}
	}
	return nil
}
