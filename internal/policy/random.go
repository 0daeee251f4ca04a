package policy

import (
	"fmt"
	"math/rand"

	"github.com/cartridge/rollout/internal/space"
)

// RandomPolicy selects uniformly random valid actions
type RandomPolicy struct {
	rng   *rand.Rand
	space space.Space
}

var _ Policy = (*RandomPolicy)(nil)

// NewRandom creates a new random policy for the given action space
func NewRandom(actionSpace space.Space, seed int64) (*RandomPolicy, error) {
	if actionSpace == nil {
		return nil, fmt.Errorf("random policy needs an action space")
	}
	if err := space.Validate(actionSpace); err != nil {
		return nil, err
	}
	return &RandomPolicy{
		rng:   rand.New(rand.NewSource(seed)),
		space: actionSpace,
	}, nil
}

func (p *RandomPolicy) InitialState() []float64 { return nil }

// ComputeAction implements Policy
func (p *RandomPolicy) ComputeAction(_, _ []float64) (space.Action, []float64, error) {
	return p.space.Sample(p.rng), nil, nil
}
