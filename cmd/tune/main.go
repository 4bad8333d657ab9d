// Package main provides CMA-ES tuning of flocking weights against a target
// spacing and alignment.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gocarina/gocsv"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/optimize"

	"github.com/pthm-cable/steer/config"
	"github.com/pthm-cable/steer/logging"
)

// evalRecord is one line of tune_log.csv.
type evalRecord struct {
	Eval         int     `csv:"eval"`
	Fitness      float64 `csv:"fitness"`
	Spacing      float64 `csv:"spacing"`
	Polarization float64 `csv:"polarization"`
	Params       string  `csv:"params"`
}

// formatDuration formats a duration as HH:MM:SS or MM:SS for shorter durations.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Base config YAML file (empty = use defaults)")
	ticks := flag.Int("ticks", 1500, "Ticks per run")
	agents := flag.Int("agents", 80, "Agents per run")
	spacing := flag.Float64("spacing", 4, "Target nearest-neighbor distance")
	seeds := flag.Int("seeds", 3, "Number of seeds per evaluation")
	maxEvals := flag.Int("max-evals", 200, "Maximum number of evaluations")
	population := flag.Int("population", 0, "CMA-ES population size (0 = auto)")
	outputDir := flag.String("output", "", "Output directory for results")
	flag.Parse()

	logger := logging.Must(config.LogConfig{Level: "info", Encoding: "console"})
	defer logger.Sync()

	if *outputDir == "" {
		logger.Fatal("--output is required")
	}
	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		logger.Fatal("failed to create output directory", zap.Error(err))
	}

	baseCfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	params := NewParamVector()

	evalSeeds := make([]int64, *seeds)
	for i := range evalSeeds {
		evalSeeds[i] = int64(i*1000 + 42)
	}
	evaluator := NewFitnessEvaluator(params, *ticks, *agents, *spacing, evalSeeds, baseCfg)

	dim := params.Dim()
	initX := params.Normalize(params.ExtractFromConfig(baseCfg))

	popSize := *population
	if popSize == 0 {
		popSize = 4 + int(3.0*float64(dim)/2.0)
	}
	method := &optimize.CmaEsChol{
		InitStepSize: 0.3,
		Population:   popSize,
	}
	settings := &optimize.Settings{
		FuncEvaluations: *maxEvals,
		Concurrent:      0,
	}

	logPath := filepath.Join(*outputDir, "tune_log.csv")
	logFile, err := os.Create(logPath)
	if err != nil {
		logger.Fatal("failed to create log file", zap.Error(err))
	}
	defer logFile.Close()
	headerWritten := false

	evalCount := 0
	bestFitness := 1e9
	var bestParams []float64
	startTime := time.Now()

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			raw := params.Clamp(params.Denormalize(x))
			fitness := evaluator.Evaluate(raw)
			evalCount++

			if fitness < bestFitness {
				bestFitness = fitness
				bestParams = append([]float64(nil), raw...)
			}

			sp, pol := evaluator.LastMeasures()
			rec := []evalRecord{{Eval: evalCount, Fitness: fitness, Spacing: sp, Polarization: pol, Params: formatParams(raw)}}
			var werr error
			if !headerWritten {
				werr = gocsv.Marshal(rec, logFile)
				headerWritten = true
			} else {
				werr = gocsv.MarshalWithoutHeaders(rec, logFile)
			}
			if werr != nil {
				logger.Warn("failed to write eval record", zap.Error(werr))
			}

			elapsed := time.Since(startTime)
			avgPerEval := elapsed / time.Duration(evalCount)
			remaining := time.Duration(*maxEvals-evalCount) * avgPerEval
			logger.Info("eval",
				zap.Int("eval", evalCount),
				zap.Int("max_evals", *maxEvals),
				zap.Float64("fitness", fitness),
				zap.Float64("spacing", sp),
				zap.Float64("polarization", pol),
				zap.Float64("best", bestFitness),
				zap.String("elapsed", formatDuration(elapsed)),
				zap.String("eta", formatDuration(remaining)),
			)
			return fitness
		},
	}

	logger.Info("starting CMA-ES tuning",
		zap.Int("params", dim),
		zap.Int("population", popSize),
		zap.Int("max_evals", *maxEvals),
		zap.Int("seeds", *seeds),
		zap.Int("ticks", *ticks),
	)

	result, err := optimize.Minimize(problem, initX, settings, method)
	if err != nil {
		logger.Info("optimization ended", zap.Error(err))
	}
	if bestParams == nil && result != nil {
		bestParams = params.Clamp(params.Denormalize(result.X))
	}
	if bestParams == nil {
		logger.Fatal("no evaluation completed")
	}

	logger.Info("tuning complete",
		zap.Int("evals", evalCount),
		zap.String("elapsed", formatDuration(time.Since(startTime))),
		zap.Float64("best_fitness", bestFitness),
	)
	for i, spec := range params.Specs {
		logger.Info("best parameter", zap.String("name", spec.Name), zap.String("path", spec.Path), zap.Float64("value", bestParams[i]))
	}

	bestCfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to reload config", zap.Error(err))
	}
	params.ApplyToConfig(bestCfg, bestParams)

	configOutPath := filepath.Join(*outputDir, "best_config.yaml")
	if err := bestCfg.WriteYAML(configOutPath); err != nil {
		logger.Error("failed to write best config", zap.Error(err))
		return
	}
	logger.Info("best config saved", zap.String("path", configOutPath))
}

func formatParams(v []float64) string {
	out := ""
	for i, x := range v {
		if i > 0 {
			out += ";"
		}
		out += strconv.FormatFloat(x, 'f', 4, 64)
	}
	return out
}
