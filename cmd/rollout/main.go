package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cartridge/rollout/internal/agent"
	"github.com/cartridge/rollout/internal/config"
	"github.com/cartridge/rollout/internal/env"
	_ "github.com/cartridge/rollout/internal/env/cartpole"
	_ "github.com/cartridge/rollout/internal/env/traffic"
	"github.com/cartridge/rollout/internal/logging"
	"github.com/cartridge/rollout/internal/metrics"
	"github.com/cartridge/rollout/internal/remote"
	"github.com/cartridge/rollout/internal/report"
	"github.com/cartridge/rollout/internal/rollout"
	"github.com/cartridge/rollout/internal/storage"
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cfg := config.Default()

	cmd := &cobra.Command{
		Use:   "rollout <checkpoint>",
		Short: "Roll out a trained reinforcement learning policy",
		Long: `Restores a trained policy from a checkpoint and runs it in an environment.

Params are read from params.json or params.yaml next to the checkpoint or in
its parent directory and merged with --config. Per-step statistics are written
to --stats-out and the full trajectory to --out when given.

Example:
  rollout checkpoints/checkpoint_120 --run PPO --env TrafficSignal-v0 --steps 720`,
		Args:          cobra.MaximumNArgs(1),
		RunE:          runRollout,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Inputs
	cmd.Flags().StringVar(&cfg.Run, "run", cfg.Run, "Algorithm the checkpoint was trained with (e.g. PPO, DQN, Random)")
	cmd.Flags().StringVar(&cfg.Env, "env", cfg.Env, "Environment to roll out in; defaults to the env in params")
	cmd.Flags().StringVar(&cfg.ConfigJSON, "config", cfg.ConfigJSON, "Algorithm-specific configuration as a JSON object, merged over the checkpoint params")
	cmd.Flags().StringVar(&cfg.EngineAddr, "engine-addr", cfg.EngineAddr, "Address of a remote environment server; empty runs the environment in-process")

	// Episode settings
	cmd.Flags().IntVar(&cfg.Steps, "steps", cfg.Steps, "Number of steps to roll out (0 runs until the episode ends)")
	cmd.Flags().BoolVar(&cfg.NoRender, "no-render", cfg.NoRender, "Suppress rendering of the environment")
	cmd.Flags().Int64Var(&cfg.Seed, "seed", cfg.Seed, "Seed for stochastic policies and environments")

	// Outputs
	cmd.Flags().StringVar(&cfg.Out, "out", cfg.Out, "Output filename for the recorded trajectory")
	cmd.Flags().StringVar(&cfg.StatsOut, "stats-out", cfg.StatsOut, "Output filename for per-step statistics")
	cmd.Flags().StringVar(&cfg.PlotOut, "plot", cfg.PlotOut, "Output filename for a reward plot (png, svg, pdf)")

	// Logging
	cmd.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&cfg.LogPretty, "log-pretty", cfg.LogPretty, "Human readable log output")

	return cmd
}

func runRollout(cmd *cobra.Command, args []string) error {
	// Bind flags to viper for environment variable support
	v := viper.New()
	if err := config.BindViper(v, cmd.Flags()); err != nil {
		return err
	}
	if len(args) == 1 {
		v.Set("checkpoint", args[0])
	}

	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	if err != nil {
		return err
	}

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return run(ctx, cfg, cmd.OutOrStdout(), logger)
}

// run executes one rollout and writes its outputs. Outputs are written even
// when the rollout is interrupted.
func run(ctx context.Context, cfg *config.Config, stdout io.Writer, logger zerolog.Logger) error {
	runID := uuid.New().String()
	logger = logger.With().Str("run_id", runID).Logger()
	collector := metrics.NewCollector(logger)

	overrides, err := cfg.Overrides()
	if err != nil {
		return err
	}
	params, source, err := config.ResolveParams(cfg.Checkpoint, overrides)
	if err != nil {
		return err
	}
	envName, err := config.ResolveEnv(cfg.Env, params)
	if err != nil {
		return err
	}
	logger.Info().
		Str("checkpoint", cfg.Checkpoint).
		Str("params", source).
		Str("run", cfg.Run).
		Str("env", envName).
		Msg("starting rollout")

	restoreStart := time.Now()
	a, err := agent.New(cfg.Run, params, uint64(cfg.Seed), logger)
	if err != nil {
		return err
	}
	if err := a.Restore(cfg.Checkpoint); err != nil {
		return fmt.Errorf("failed to restore agent: %w", err)
	}
	collector.PolicyRestored(cfg.Run, cfg.Checkpoint, len(a.PolicyIDs()), time.Since(restoreStart))

	e, closeEnv, err := openEnv(ctx, cfg, envName, envConfig(params, cfg.Seed), logger)
	if err != nil {
		return err
	}
	defer closeEnv()

	driver, err := rollout.New(a, e, rollout.Options{
		Steps:  cfg.Steps,
		Render: !cfg.NoRender,
		Record: cfg.Out != "",
		Out:    stdout,
		RunID:  runID,
	}, collector, logger)
	if err != nil {
		return err
	}

	result, runErr := driver.Run(ctx)
	if result == nil {
		return runErr
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	if err := storage.WriteStatistics(cfg.StatsOut, result.Statistics); err != nil {
		return err
	}
	logger.Info().Str("path", cfg.StatsOut).Int("records", len(result.Statistics)).Msg("statistics written")

	if cfg.Out != "" {
		header := storage.Header{
			RunID:      runID,
			Algorithm:  cfg.Run,
			Env:        envName,
			Checkpoint: cfg.Checkpoint,
			MultiAgent: driver.MultiAgent(),
			CreatedAt:  time.Now(),
		}
		if err := storage.WriteTrajectory(cfg.Out, header, result.Trajectory); err != nil {
			return err
		}
		logger.Info().Str("path", cfg.Out).Int("transitions", len(result.Trajectory)).Msg("trajectory written")
	}

	if cfg.PlotOut != "" && len(result.Statistics) > 0 {
		title := fmt.Sprintf("%s on %s", cfg.Run, envName)
		if err := report.PlotRewards(cfg.PlotOut, title, result.Statistics); err != nil {
			return err
		}
		logger.Info().Str("path", cfg.PlotOut).Msg("reward plot written")
	}

	return runErr
}

// envConfig returns params.env_config with the run seed filled in when the
// params do not set one.
func envConfig(params config.Params, seed int64) map[string]any {
	out := make(map[string]any)
	for k, v := range params.Map("env_config") {
		out[k] = v
	}
	if _, ok := out["seed"]; !ok {
		out["seed"] = seed
	}
	return out
}

func openEnv(ctx context.Context, cfg *config.Config, name string, envCfg map[string]any, logger zerolog.Logger) (any, func(), error) {
	if cfg.EngineAddr == "" {
		e, err := env.Make(name, envCfg)
		if err != nil {
			return nil, nil, err
		}
		return e, func() { closeQuietly(e, logger) }, nil
	}

	client, err := remote.Dial(cfg.EngineAddr, logger)
	if err != nil {
		return nil, nil, err
	}
	e, err := client.Open(ctx, name, envCfg)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to open %s on %s: %w", name, cfg.EngineAddr, err)
	}
	logger.Info().Str("engine_addr", cfg.EngineAddr).Msg("using remote environment")
	return e, func() {
		closeQuietly(e, logger)
		client.Close()
	}, nil
}

func closeQuietly(e any, logger zerolog.Logger) {
	c, ok := e.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close environment")
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
