// Package rollout steps an environment with actions from a restored agent
// and collects rewards, statistics and, optionally, the trajectory.
package rollout

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/cartridge/rollout/internal/env"
	"github.com/cartridge/rollout/internal/metrics"
	"github.com/cartridge/rollout/internal/space"
	"github.com/cartridge/rollout/internal/storage"
)

// SingleAgentID keys rewards in single-agent rollouts.
const SingleAgentID = "default"

// TimestampStep is the simulated seconds between statistics records.
const TimestampStep = 5

// Agent computes actions for environment agents.
type Agent interface {
	MultiAgent() bool
	PolicyFor(agentID string) (string, error)
	DefaultPolicy() (string, error)
	InitialState(policyID string) []float64
	ComputeAction(obs, state []float64, policyID string) (space.Action, []float64, error)
	ClipActions() bool
}

// Options controls a rollout.
type Options struct {
	// Steps caps the number of environment steps; 0 runs until done
	Steps int
	// Render draws the environment to Out after every step
	Render bool
	// Record keeps every transition in Result.Trajectory
	Record bool
	// Out receives renders and the end of run summary
	Out   io.Writer
	RunID string
}

// Result is the outcome of a rollout.
type Result struct {
	RunID         string
	Steps         int
	Done          bool
	RewardTotal   float64
	AgentRewards  map[string]float64
	Statistics    []storage.Record
	Trajectory    []storage.Transition
	EndStatistics map[string]float64
	Duration      time.Duration
}

// Driver runs one episode.
type Driver struct {
	agent   Agent
	single  env.Env
	multi   env.MultiAgentEnv
	opts    Options
	metrics *metrics.Collector
	logger  zerolog.Logger
}

// New creates a driver for e, which must be an env.Env or an
// env.MultiAgentEnv.
func New(a Agent, e any, opts Options, collector *metrics.Collector, logger zerolog.Logger) (*Driver, error) {
	if opts.Steps < 0 {
		return nil, fmt.Errorf("steps must be >= 0, got %d", opts.Steps)
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if collector == nil {
		collector = metrics.NewCollector(zerolog.Nop())
	}

	d := &Driver{
		agent:   a,
		opts:    opts,
		metrics: collector,
		logger:  logger.With().Str("component", "rollout").Str("run_id", opts.RunID).Logger(),
	}
	switch v := e.(type) {
	case env.MultiAgentEnv:
		d.multi = v
	case env.Env:
		if a.MultiAgent() {
			return nil, fmt.Errorf("multi-agent policies cannot drive single-agent environment %T", e)
		}
		d.single = v
	default:
		return nil, fmt.Errorf("unsupported environment type %T", e)
	}
	return d, nil
}

// MultiAgent reports whether the driver steps a multi-agent environment.
func (d *Driver) MultiAgent() bool { return d.multi != nil }

// Run plays one episode. When ctx is cancelled or the environment fails
// the partial result is returned along with the error.
func (d *Driver) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	result := &Result{
		RunID:        d.opts.RunID,
		AgentRewards: make(map[string]float64),
	}

	var err error
	if d.multi != nil {
		err = d.runMulti(ctx, result)
	} else {
		err = d.runSingle(ctx, result)
	}
	result.Duration = time.Since(start)
	if err != nil {
		return result, err
	}

	if c, ok := d.envAny().(env.StatisticsCollector); ok {
		result.EndStatistics = c.CollectStatistics()
	}
	d.summarize(result)
	return result, nil
}

func (d *Driver) envAny() any {
	if d.multi != nil {
		return d.multi
	}
	return d.single
}

func (d *Driver) continues(done bool, steps int) bool {
	return !done && (d.opts.Steps == 0 || steps < d.opts.Steps)
}

func (d *Driver) runMulti(ctx context.Context, result *Result) error {
	obs, err := d.multi.Reset(ctx)
	if err != nil {
		return fmt.Errorf("failed to reset environment: %w", err)
	}
	spaces := d.multi.ActionSpaces()
	// Recurrent state is threaded per policy, so agents sharing a policy
	// continue from each other's state.
	states := make(map[string][]float64)
	clip := d.agent.ClipActions()

	done := false
	for d.continues(done, result.Steps) {
		if err := ctx.Err(); err != nil {
			return err
		}
		stepStart := time.Now()

		actions := make(map[string]space.Action, len(obs))
		for agentID, agentObs := range obs {
			if agentObs == nil {
				continue
			}
			policyID, err := d.agent.PolicyFor(agentID)
			if err != nil {
				return err
			}
			state, ok := states[policyID]
			if !ok {
				state = d.agent.InitialState(policyID)
			}
			action, next, err := d.agent.ComputeAction(agentObs, state, policyID)
			if err != nil {
				return fmt.Errorf("failed to compute action for %s: %w", agentID, err)
			}
			states[policyID] = next
			actions[agentID] = action
		}
		sent := actions
		if clip {
			sent = space.ClipMulti(actions, spaces)
		}

		out, err := d.multi.Step(ctx, sent)
		if err != nil {
			return fmt.Errorf("failed to step environment: %w", err)
		}

		stepReward := 0.0
		for agentID, r := range out.Rewards {
			result.AgentRewards[agentID] += r
			stepReward += r
		}
		result.RewardTotal += stepReward
		done = out.Dones[env.AllDone]

		infos := make(map[string]env.Info, len(out.Infos))
		for agentID, info := range out.Infos {
			infos[agentID] = info
		}
		d.record(result, infos, storage.Transition{
			Step:      result.Steps,
			State:     obs,
			Action:    actions,
			NextState: out.Obs,
			Reward:    out.Rewards,
			Done:      done,
		})

		d.metrics.StepCompleted(d.opts.RunID, result.Steps, stepReward, time.Since(stepStart))
		result.Steps++
		obs = out.Obs
		if err := d.render(); err != nil {
			return err
		}
	}
	result.Done = done
	return nil
}

func (d *Driver) runSingle(ctx context.Context, result *Result) error {
	obs, err := d.single.Reset(ctx)
	if err != nil {
		return fmt.Errorf("failed to reset environment: %w", err)
	}
	policyID, err := d.agent.DefaultPolicy()
	if err != nil {
		return err
	}
	actionSpace := d.single.ActionSpace()
	state := d.agent.InitialState(policyID)
	clip := d.agent.ClipActions()

	done := false
	for d.continues(done, result.Steps) {
		if err := ctx.Err(); err != nil {
			return err
		}
		stepStart := time.Now()

		action, next, err := d.agent.ComputeAction(obs, state, policyID)
		if err != nil {
			return fmt.Errorf("failed to compute action: %w", err)
		}
		state = next
		sent := action
		if clip {
			sent = space.Clip(action, actionSpace)
		}

		out, err := d.single.Step(ctx, sent)
		if err != nil {
			return fmt.Errorf("failed to step environment: %w", err)
		}
		result.RewardTotal += out.Reward
		result.AgentRewards[SingleAgentID] += out.Reward
		done = out.Done

		d.record(result, out.Info, storage.Transition{
			Step:      result.Steps,
			State:     obs,
			Action:    action,
			NextState: out.Obs,
			Reward:    out.Reward,
			Done:      done,
		})

		d.metrics.StepCompleted(d.opts.RunID, result.Steps, out.Reward, time.Since(stepStart))
		result.Steps++
		obs = out.Obs
		if err := d.render(); err != nil {
			return err
		}
	}
	result.Done = done
	return nil
}

// record appends the step's statistics record and, when recording, its
// transition with the action as the policy chose it. Timestamps start at 0 and advance TimestampStep per step.
func (d *Driver) record(result *Result, statistics any, t storage.Transition) {
	rewards := make(map[string]float64, len(result.AgentRewards))
	for k, v := range result.AgentRewards {
		rewards[k] = v
	}
	result.Statistics = append(result.Statistics, storage.Record{
		Statistics:    statistics,
		EpisodeReward: rewards,
		Timestamp:     result.Steps * TimestampStep,
	})
	if d.opts.Record {
		result.Trajectory = append(result.Trajectory, t)
	}
}

func (d *Driver) render() error {
	if !d.opts.Render {
		return nil
	}
	r, ok := d.envAny().(env.Renderer)
	if !ok {
		return nil
	}
	if err := r.Render(d.opts.Out); err != nil {
		return fmt.Errorf("failed to render environment: %w", err)
	}
	return nil
}

func (d *Driver) summarize(result *Result) {
	fmt.Fprintf(d.opts.Out, "Episode end statistics: %v\n", result.EndStatistics)
	fmt.Fprintf(d.opts.Out, "Episode reward: %v\n", result.RewardTotal)
	fmt.Fprintf(d.opts.Out, "Reward for each agent: %v\n", result.AgentRewards)

	d.metrics.EpisodeCompleted(d.opts.RunID, result.Steps, result.RewardTotal, result.Done, result.Duration)
	d.logger.Info().
		Int("steps", result.Steps).
		Bool("done", result.Done).
		Float64("reward", result.RewardTotal).
		Msg("rollout finished")
}
