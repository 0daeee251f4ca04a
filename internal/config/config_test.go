package config

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValidOnceInputsAreSet(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate())

	cfg.Checkpoint = "/tmp/checkpoint"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--run")

	cfg.Run = "PPO"
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 10000, cfg.Steps)
	assert.Equal(t, "simulation_statistics.json", cfg.StatsOut)
}

func TestValidate_BadOverrides(t *testing.T) {
	cfg := Default()
	cfg.Checkpoint, cfg.Run = "c", "PPO"

	cfg.ConfigJSON = "[1, 2]"
	assert.Error(t, cfg.Validate())

	cfg.ConfigJSON = "{not json"
	assert.Error(t, cfg.Validate())

	cfg.Steps = -1
	cfg.ConfigJSON = "{}"
	assert.Error(t, cfg.Validate())
}

func TestOverrides(t *testing.T) {
	cfg := Default()
	cfg.ConfigJSON = `{"clip_actions": false, "env_config": {"rows": 2}}`

	o, err := cfg.Overrides()
	require.NoError(t, err)
	assert.False(t, o.Bool("clip_actions", true))
	assert.Equal(t, 2, o.Map("env_config").Int("rows", 0))

	cfg.ConfigJSON = ""
	o, err = cfg.Overrides()
	require.NoError(t, err)
	assert.Empty(t, o)
}

func TestFromViper_FlagsAndEnv(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("run", "", "")
	flags.Int("steps", 10000, "")
	flags.String("engine-addr", "", "")
	flags.Bool("no-render", false, "")
	require.NoError(t, flags.Parse([]string{"--run", "DQN", "--no-render"}))

	t.Setenv("ROLLOUT_STEPS", "42")

	v := viper.New()
	require.NoError(t, BindViper(v, flags))

	cfg, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "DQN", cfg.Run)
	assert.Equal(t, 42, cfg.Steps)
	assert.True(t, cfg.NoRender)
	// Unbound keys keep their defaults
	assert.Equal(t, "info", cfg.LogLevel)
}
