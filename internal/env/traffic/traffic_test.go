package traffic

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartridge/rollout/internal/env"
	"github.com/cartridge/rollout/internal/space"
)

func holdAll(g *Grid, phase int) map[string]space.Action {
	actions := make(map[string]space.Action)
	for _, id := range g.AgentIDs() {
		actions[id] = space.Action{float64(phase)}
	}
	return actions
}

func TestGrid_EpisodeEndsAtHorizon(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Horizon = 4
	g, err := NewGrid(cfg)
	require.NoError(t, err)
	ctx := context.Background()

	obs, err := g.Reset(ctx)
	require.NoError(t, err)
	require.Len(t, obs, 2)
	assert.Len(t, obs["tls_0_0"], ObservationSize)

	for i := 0; i < 4; i++ {
		out, err := g.Step(ctx, holdAll(g, phaseNS))
		require.NoError(t, err)
		assert.Equal(t, i == 3, out.Dones[env.AllDone])
		assert.Len(t, out.Rewards, 2)
		for _, id := range g.AgentIDs() {
			assert.LessOrEqual(t, out.Rewards[id], 0.0)
			assert.Contains(t, out.Infos[id], "queue")
		}
	}
}

func TestGrid_ResetIsDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Horizon = 20
	g, err := NewGrid(cfg)
	require.NoError(t, err)
	ctx := context.Background()

	run := func() []float64 {
		_, err := g.Reset(ctx)
		require.NoError(t, err)
		var rewards []float64
		for i := 0; i < 20; i++ {
			out, err := g.Step(ctx, holdAll(g, phaseEW))
			require.NoError(t, err)
			rewards = append(rewards, out.Rewards["tls_0_1"])
		}
		return rewards
	}

	assert.Equal(t, run(), run())
}

func TestGrid_RedApproachesAccumulate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rows, cfg.Cols = 1, 1
	cfg.ArrivalRate = 1
	cfg.Horizon = 50
	g, err := NewGrid(cfg)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = g.Reset(ctx)
	require.NoError(t, err)
	for i := 0; i < 30; i++ {
		_, err := g.Step(ctx, holdAll(g, phaseNS))
		require.NoError(t, err)
	}

	in := g.nodes[0]
	// East/West never get green, so they only grow
	assert.Greater(t, in.queue[east]+in.queue[west], in.queue[north]+in.queue[south])
	stats := g.CollectStatistics()
	assert.Greater(t, stats["vehicles_arrived"], 0.0)
	assert.Equal(t, 150.0, stats["simulated_seconds"])
}

func TestGrid_MinGreenBlocksEarlySwitch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinGreen = 10
	g, err := NewGrid(cfg)
	require.NoError(t, err)
	ctx := context.Background()
	_, err = g.Reset(ctx)
	require.NoError(t, err)

	// First step: timeInPhase is 0 so the switch request is ignored
	out, err := g.Step(ctx, holdAll(g, phaseEW))
	require.NoError(t, err)
	assert.Equal(t, phaseNS, out.Infos["tls_0_0"]["phase"])

	_, err = g.Step(ctx, holdAll(g, phaseNS))
	require.NoError(t, err)
	out, err = g.Step(ctx, holdAll(g, phaseEW))
	require.NoError(t, err)
	assert.Equal(t, phaseEW, out.Infos["tls_0_0"]["phase"])
}

func TestGrid_VehiclesForwardDownstream(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ArrivalRate = 0
	cfg.LostTime = 0
	cfg.MinGreen = 0
	g, err := NewGrid(cfg)
	require.NoError(t, err)
	ctx := context.Background()
	_, err = g.Reset(ctx)
	require.NoError(t, err)

	g.byPos[[2]int{0, 0}].queue[west] = 2
	_, err = g.Step(ctx, holdAll(g, phaseEW))
	require.NoError(t, err)

	assert.Equal(t, 0, g.byPos[[2]int{0, 0}].queue[west])
	assert.Equal(t, 2, g.byPos[[2]int{0, 1}].queue[west])
}

func TestGrid_RejectsInvalidPhase(t *testing.T) {
	g, err := NewGrid(DefaultConfig())
	require.NoError(t, err)
	_, err = g.Reset(context.Background())
	require.NoError(t, err)

	_, err = g.Step(context.Background(), map[string]space.Action{"tls_0_0": {5}})
	assert.Error(t, err)
}

func TestGrid_Render(t *testing.T) {
	g, err := NewGrid(DefaultConfig())
	require.NoError(t, err)
	_, err = g.Reset(context.Background())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, g.Render(&buf))
	assert.Contains(t, buf.String(), "tls_0_0[NS]")
	assert.Contains(t, buf.String(), "tls_0_1[NS]")
}

func TestRegisteredEnvironments(t *testing.T) {
	e, err := env.Make(MultiAgentName, map[string]any{"rows": 2.0, "cols": 2.0})
	require.NoError(t, err)
	grid, ok := e.(env.MultiAgentEnv)
	require.True(t, ok)
	assert.Len(t, grid.ActionSpaces(), 4)

	e, err = env.Make(SingleAgentName, nil)
	require.NoError(t, err)
	single, ok := e.(env.Env)
	require.True(t, ok)
	assert.Equal(t, space.Discrete{N: 2}, single.ActionSpace())

	obs, err := single.Reset(context.Background())
	require.NoError(t, err)
	assert.Len(t, obs, ObservationSize)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rows = 0
	_, err := NewGrid(cfg)
	assert.Error(t, err)
}
