package traffic

import (
	"context"
	"io"

	"github.com/cartridge/rollout/internal/env"
	"github.com/cartridge/rollout/internal/space"
)

// Single exposes a one-intersection grid through the single-agent
// interface.
type Single struct {
	grid *Grid
}

var _ env.Env = (*Single)(nil)
var _ env.Renderer = (*Single)(nil)
var _ env.StatisticsCollector = (*Single)(nil)

// NewSingle creates a single-intersection environment.
func NewSingle(cfg Config) (*Single, error) {
	cfg.Rows, cfg.Cols = 1, 1
	g, err := NewGrid(cfg)
	if err != nil {
		return nil, err
	}
	return &Single{grid: g}, nil
}

func (s *Single) id() string { return s.grid.nodes[0].id }

func (s *Single) Reset(ctx context.Context) ([]float64, error) {
	obs, err := s.grid.Reset(ctx)
	if err != nil {
		return nil, err
	}
	return obs[s.id()], nil
}

func (s *Single) Step(ctx context.Context, action space.Action) (env.Step, error) {
	id := s.id()
	out, err := s.grid.Step(ctx, map[string]space.Action{id: action})
	if err != nil {
		return env.Step{}, err
	}
	return env.Step{
		Obs:    out.Obs[id],
		Reward: out.Rewards[id],
		Done:   out.Dones[env.AllDone],
		Info:   out.Infos[id],
	}, nil
}

func (s *Single) ActionSpace() space.Space { return s.grid.spaces[s.id()] }

func (s *Single) Render(w io.Writer) error { return s.grid.Render(w) }

func (s *Single) CollectStatistics() map[string]float64 { return s.grid.CollectStatistics() }

func (s *Single) Close() error { return s.grid.Close() }
