package metrics

import (
	"time"

	"github.com/rs/zerolog"
)

// Metrics collector for rollout operations
type Collector struct {
	logger zerolog.Logger
}

func NewCollector(logger zerolog.Logger) *Collector {
	return &Collector{
		logger: logger,
	}
}

// Track policy restore metrics
func (c *Collector) PolicyRestored(algorithm, checkpoint string, policies int, duration time.Duration) {
	c.logger.Info().
		Str("metric", "policy_restored").
		Str("algorithm", algorithm).
		Str("checkpoint", checkpoint).
		Int("policies", policies).
		Dur("duration", duration).
		Msg("Policy restore metric")
}

// Track per-step metrics. Logged at debug level since there is one per step.
func (c *Collector) StepCompleted(runID string, step int, reward float64, latency time.Duration) {
	c.logger.Debug().
		Str("metric", "step_completed").
		Str("run_id", runID).
		Int("step", step).
		Float64("reward", reward).
		Dur("latency", latency).
		Msg("Step metric")
}

// Track episode completion
func (c *Collector) EpisodeCompleted(runID string, steps int, reward float64, done bool, duration time.Duration) {
	c.logger.Info().
		Str("metric", "episode_completed").
		Str("run_id", runID).
		Int("steps", steps).
		Float64("reward", reward).
		Bool("done", done).
		Dur("duration", duration).
		Msg("Episode metric")
}

// Track remote environment calls
func (c *Collector) EnvRequest(method string, ok bool, duration time.Duration) {
	c.logger.Info().
		Str("metric", "env_request").
		Str("method", method).
		Bool("ok", ok).
		Dur("duration", duration).
		Msg("Environment request metric")
}
