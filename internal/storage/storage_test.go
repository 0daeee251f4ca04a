package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartridge/rollout/internal/space"
)

func TestTrajectory_SingleAgentRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rollouts.pb")
	header := Header{
		RunID:     uuid.New().String(),
		Algorithm: "DQN",
		Env:       "CartPole-v0",
		CreatedAt: time.Now(),
	}
	transitions := []Transition{
		{Step: 0, State: []float64{0, 1}, Action: space.Action{1}, NextState: []float64{1, 2}, Reward: 1.0},
		{Step: 1, State: []float64{1, 2}, Action: space.Action{0}, NextState: []float64{2, 3}, Reward: 0.0, Done: true},
	}
	require.NoError(t, WriteTrajectory(path, header, transitions))

	h, got, err := ReadTrajectory(path)
	require.NoError(t, err)
	assert.Equal(t, header.RunID, h["run_id"])
	assert.Equal(t, 2.0, h["transitions"])
	require.Len(t, got, 2)

	assert.Equal(t, []any{0.0, 1.0}, got[0]["state"])
	assert.Equal(t, []any{1.0}, got[0]["action"])
	assert.Equal(t, 1.0, got[0]["reward"])
	assert.Equal(t, false, got[0]["done"])
	assert.Equal(t, true, got[1]["done"])
	assert.Equal(t, 1.0, got[1]["step"])
}

func TestTrajectory_MultiAgentRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rollouts.pb")
	transitions := []Transition{{
		State:     map[string][]float64{"a": {1}, "b": {2}},
		Action:    map[string]space.Action{"a": {0}, "b": {1}},
		NextState: map[string][]float64{"a": {3}, "b": {4}},
		Reward:    map[string]float64{"a": -1, "b": -2},
		Done:      true,
	}}
	require.NoError(t, WriteTrajectory(path, Header{MultiAgent: true}, transitions))

	h, got, err := ReadTrajectory(path)
	require.NoError(t, err)
	assert.Equal(t, true, h["multiagent"])
	require.Len(t, got, 1)
	assert.Equal(t, map[string]any{"a": []any{0.0}, "b": []any{1.0}}, got[0]["action"])
	assert.Equal(t, map[string]any{"a": -1.0, "b": -2.0}, got[0]["reward"])
}

func TestReadTrajectory_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.pb")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	_, _, err := ReadTrajectory(path)
	assert.Error(t, err)
}

func TestStatistics_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simulation_statistics.json")
	records := []Record{
		{Statistics: map[string]any{"tls_0_0": map[string]any{"queue": 3.0}}, EpisodeReward: map[string]float64{"tls_0_0": -0.3}, Timestamp: 0},
		{Statistics: map[string]any{"tls_0_0": map[string]any{"queue": 1.0}}, EpisodeReward: map[string]float64{"tls_0_0": -0.4}, Timestamp: 5},
	}
	require.NoError(t, WriteStatistics(path, records))

	got, err := ReadStatistics(path)
	require.NoError(t, err)
	assert.Equal(t, records, got)
}

func TestStatistics_EmptyIsArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	require.NoError(t, WriteStatistics(path, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(data))
}
