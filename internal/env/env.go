// Package env defines the gym-style environment interfaces the rollout
// driver steps, plus a name registry for constructing them.
package env

import (
	"context"
	"io"

	"github.com/cartridge/rollout/internal/space"
)

// AllDone is the key in MultiStep.Dones signalling that every agent is done.
const AllDone = "__all__"

// Info is the free-form metrics map an environment reports with each step.
type Info map[string]any

// Step is the outcome of one single-agent environment step.
type Step struct {
	Obs    []float64
	Reward float64
	Done   bool
	Info   Info
}

// MultiStep is the outcome of one multi-agent environment step. Maps are
// keyed by agent id.
type MultiStep struct {
	Obs     map[string][]float64
	Rewards map[string]float64
	Dones   map[string]bool
	Infos   map[string]Info
}

// Env is a single-agent environment.
type Env interface {
	Reset(ctx context.Context) ([]float64, error)
	Step(ctx context.Context, action space.Action) (Step, error)
	ActionSpace() space.Space
	Close() error
}

// MultiAgentEnv is an environment driven by a dict of per-agent actions.
type MultiAgentEnv interface {
	Reset(ctx context.Context) (map[string][]float64, error)
	Step(ctx context.Context, actions map[string]space.Action) (MultiStep, error)
	ActionSpaces() map[string]space.Space
	Close() error
}

// Renderer is implemented by environments that can draw their state.
type Renderer interface {
	Render(w io.Writer) error
}

// StatisticsCollector is implemented by environments that summarise a
// finished simulation.
type StatisticsCollector interface {
	CollectStatistics() map[string]float64
}
