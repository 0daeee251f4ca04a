// Package cartpole is the classic pole-balancing control task.
package cartpole

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"

	"github.com/cartridge/rollout/internal/env"
	"github.com/cartridge/rollout/internal/space"
)

// Name is the registered environment name.
const Name = "CartPole-v0"

const (
	gravity        = 9.81
	massCart       = 1.0
	massPole       = 0.1
	length         = 0.5
	totalMass      = massCart + massPole
	poleMassLength = massPole * length
	forceMax       = 10.0
	tau            = 0.02

	xThreshold     = 2.4
	thetaThreshold = 12.0 * math.Pi / 180.0
	defaultSteps   = 200
)

func init() {
	env.Register(Name, func(cfg map[string]any) (any, error) {
		maxSteps := env.Int(cfg, "max_steps", defaultSteps)
		if maxSteps < 0 {
			return nil, fmt.Errorf("max_steps must be >= 0, got %d", maxSteps)
		}
		return New(int64(env.Int(cfg, "seed", 1)), maxSteps), nil
	})
}

type state struct {
	x, xDot, theta, thetaDot float64
}

// Env is the cart-pole environment.
type Env struct {
	state    state
	steps    int
	maxSteps int
	seed     int64
	rng      *rand.Rand
	total    float64
}

var _ env.Env = (*Env)(nil)
var _ env.Renderer = (*Env)(nil)
var _ env.StatisticsCollector = (*Env)(nil)

// New creates a cart-pole environment truncated at maxSteps. A maxSteps of
// 0 or less truncates at the default 200 steps.
func New(seed int64, maxSteps int) *Env {
	if maxSteps <= 0 {
		maxSteps = defaultSteps
	}
	return &Env{maxSteps: maxSteps, seed: seed, rng: rand.New(rand.NewSource(seed))}
}

func (e *Env) Reset(ctx context.Context) ([]float64, error) {
	e.rng.Seed(e.seed)
	e.state = state{
		x:        e.rng.Float64()*0.1 - 0.05,
		xDot:     e.rng.Float64()*0.1 - 0.05,
		theta:    e.rng.Float64()*0.1 - 0.05,
		thetaDot: e.rng.Float64()*0.1 - 0.05,
	}
	e.steps = 0
	e.total = 0
	return e.obs(), nil
}

func (e *Env) Step(ctx context.Context, action space.Action) (env.Step, error) {
	if err := ctx.Err(); err != nil {
		return env.Step{}, err
	}
	a := action.Index()
	if a != 0 && a != 1 {
		return env.Step{}, fmt.Errorf("invalid cart-pole action %d", a)
	}
	force := forceMax
	if a == 0 {
		force = -forceMax
	}

	s := e.state
	cosTheta := math.Cos(s.theta)
	sinTheta := math.Sin(s.theta)

	temp := (force + poleMassLength*s.thetaDot*s.thetaDot*sinTheta) / totalMass
	thetaAcc := (gravity*sinTheta - cosTheta*temp) / (length * (4.0/3.0 - massPole*cosTheta*cosTheta/totalMass))
	xAcc := temp - poleMassLength*thetaAcc*cosTheta/totalMass

	e.state = state{
		x:        s.x + tau*s.xDot,
		xDot:     s.xDot + tau*xAcc,
		theta:    s.theta + tau*s.thetaDot,
		thetaDot: s.thetaDot + tau*thetaAcc,
	}
	e.steps++

	fell := e.state.x < -xThreshold || e.state.x > xThreshold ||
		e.state.theta < -thetaThreshold || e.state.theta > thetaThreshold
	done := fell || e.steps >= e.maxSteps
	reward := 1.0
	if fell {
		reward = 0
	}
	e.total += reward

	return env.Step{
		Obs:    e.obs(),
		Reward: reward,
		Done:   done,
		Info:   env.Info{"steps": e.steps, "fell": fell},
	}, nil
}

func (e *Env) ActionSpace() space.Space { return space.Discrete{N: 2} }

func (e *Env) Render(w io.Writer) error {
	_, err := fmt.Fprintf(w, "step=%d x=%+.3f theta=%+.3f\n", e.steps, e.state.x, e.state.theta)
	return err
}

func (e *Env) CollectStatistics() map[string]float64 {
	return map[string]float64{
		"steps":        float64(e.steps),
		"total_reward": e.total,
	}
}

func (e *Env) Close() error { return nil }

func (e *Env) obs() []float64 {
	return []float64{e.state.x, e.state.xDot, e.state.theta, e.state.thetaDot}
}
