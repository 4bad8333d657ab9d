package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pthm-cable/steer/config"
	"github.com/pthm-cable/steer/telemetry"
	"github.com/pthm-cable/steer/world"
)

func TestPopulateFencesBoundedWorlds(t *testing.T) {
	cfg, err := config.Parse([]byte("world:\n  wrap_around: false\n"))
	require.NoError(t, err)
	w, err := world.New(cfg, world.WithSeed(3))
	require.NoError(t, err)

	require.NoError(t, populate(w, 12, 4))
	assert.Equal(t, 12, w.Len())
	assert.Len(t, w.Obstacles(), 4)
	assert.Len(t, w.Walls(), 4)

	snap := w.Snapshot()
	require.Len(t, snap.Agents, 12)
	assert.Contains(t, snap.Agents[0].Behaviors, "wall_avoidance")
	assert.Contains(t, snap.Agents[0].Behaviors, "obstacle_avoidance")
}

func TestRunWritesOutputs(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()

	err := run(cfg, zap.NewNop(), runOptions{
		seed:      9,
		maxTicks:  5,
		agents:    10,
		obstacles: 2,
		outputDir: dir,
	})
	require.NoError(t, err)

	for _, name := range []string{"config.yaml", "telemetry.csv", "perf.csv"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	snap, err := telemetry.LoadSnapshot(filepath.Join(dir, "snapshots", "snapshot_5.json"))
	require.NoError(t, err)
	assert.Equal(t, int64(9), snap.Seed)
	assert.Len(t, snap.Agents, 10)
	assert.Len(t, snap.Obstacles, 2)
}
