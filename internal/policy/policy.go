// Package policy provides action selection for restored agents
package policy

import "github.com/cartridge/rollout/internal/space"

// Policy maps observations to actions.
type Policy interface {
	// InitialState is the recurrent state to start an episode with. An empty
	// state means the policy is stateless.
	InitialState() []float64

	// ComputeAction chooses an action for the observation. Recurrent
	// policies consume state and return the state for the next call;
	// stateless policies ignore it and return nil.
	ComputeAction(obs, state []float64) (space.Action, []float64, error)
}

// IsRecurrent reports whether p threads hidden state between calls.
func IsRecurrent(p Policy) bool {
	return len(p.InitialState()) > 0
}
