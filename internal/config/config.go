package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment variable overrides, e.g. ROLLOUT_STEPS.
const EnvPrefix = "ROLLOUT"

// Config holds all rollout configuration
type Config struct {
	// Inputs
	Checkpoint string `mapstructure:"checkpoint"`
	Run        string `mapstructure:"run"`
	Env        string `mapstructure:"env"`

	// Algorithm-specific overrides as a JSON object; merged over the params
	// found next to the checkpoint
	ConfigJSON string `mapstructure:"config"`

	// Remote environment engine; empty runs the environment in-process
	EngineAddr string `mapstructure:"engine-addr"`

	// Episode settings
	Steps    int   `mapstructure:"steps"`
	NoRender bool  `mapstructure:"no-render"`
	Seed     int64 `mapstructure:"seed"`

	// Outputs
	Out      string `mapstructure:"out"`
	StatsOut string `mapstructure:"stats-out"`
	PlotOut  string `mapstructure:"plot"`

	// Logging
	LogLevel  string `mapstructure:"log-level"`
	LogPretty bool   `mapstructure:"log-pretty"`
}

// Default returns a config with sensible defaults
func Default() *Config {
	return &Config{
		ConfigJSON: "{}",
		Steps:      10000,
		Seed:       1,
		StatsOut:   "simulation_statistics.json",
		LogLevel:   "info",
	}
}

// BindViper binds flags to v and enables ROLLOUT_* environment variables,
// with dashes in flag names mapped to underscores.
func BindViper(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	// The checkpoint is positional, so it has no flag to bind through.
	if err := v.BindEnv("checkpoint"); err != nil {
		return fmt.Errorf("failed to bind checkpoint: %w", err)
	}
	return nil
}

// FromViper reads every setting from v, which is expected to have the
// command's flags bound so that flags, ROLLOUT_* environment variables and
// flag defaults are applied in that order.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Checkpoint == "" {
		return fmt.Errorf("checkpoint is required")
	}
	if c.Run == "" {
		return fmt.Errorf("the following arguments are required: --run")
	}
	if c.Steps < 0 {
		return fmt.Errorf("steps must be >= 0")
	}
	if c.StatsOut == "" {
		return fmt.Errorf("stats-out is required")
	}
	if _, err := c.Overrides(); err != nil {
		return err
	}
	return nil
}

// Overrides decodes ConfigJSON. An empty string is treated as no overrides.
func (c *Config) Overrides() (Params, error) {
	if c.ConfigJSON == "" {
		return Params{}, nil
	}
	var overrides Params
	if err := json.Unmarshal([]byte(c.ConfigJSON), &overrides); err != nil {
		return nil, fmt.Errorf("--config must be a JSON object: %w", err)
	}
	if overrides == nil {
		overrides = Params{}
	}
	return overrides, nil
}
