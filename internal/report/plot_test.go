package report

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartridge/rollout/internal/storage"
)

func TestPlotRewards_WritesPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rewards.png")
	records := []storage.Record{
		{EpisodeReward: map[string]float64{"tls_0_0": -0.1, "tls_0_1": -0.2}, Timestamp: 0},
		{EpisodeReward: map[string]float64{"tls_0_0": -0.3, "tls_0_1": -0.2}, Timestamp: 5},
		{EpisodeReward: map[string]float64{"tls_0_0": -0.4, "tls_0_1": -0.5}, Timestamp: 10},
	}
	require.NoError(t, PlotRewards(path, "PPO on TrafficSignal-v0", records))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(data), 8)
	assert.Equal(t, []byte("\x89PNG"), data[:4])
}

func TestPlotRewards_NoRecords(t *testing.T) {
	err := PlotRewards(filepath.Join(t.TempDir(), "x.png"), "", nil)
	assert.ErrorIs(t, err, ErrNoRecords)
}

func TestPlotRewards_UnknownFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rewards.unknown")
	records := []storage.Record{{EpisodeReward: map[string]float64{"default": 1}, Timestamp: 0}}
	assert.Error(t, PlotRewards(path, "", records))
}
