// Package space describes the action spaces environments expose and the
// policies act in.
package space

import (
	"fmt"
	"math"
	"math/rand"
)

// Action is a flat action vector. Discrete actions carry a single index,
// multi-discrete actions one index per dimension.
type Action []float64

// Index returns the first component as an integer index.
func (a Action) Index() int {
	if len(a) == 0 {
		return 0
	}
	return int(math.Round(a[0]))
}

// Space is an action space.
type Space interface {
	// Contains reports whether the action is a valid member of the space
	Contains(Action) bool
	// Clip projects the action onto the space
	Clip(Action) Action
	// Sample draws a uniformly random action
	Sample(rng *rand.Rand) Action
	// Dim is the length of actions in this space
	Dim() int
}

// Discrete is the space {0, ..., N-1}.
type Discrete struct {
	N int
}

var _ Space = Discrete{}

func (d Discrete) Contains(a Action) bool {
	if len(a) != 1 {
		return false
	}
	return isIndex(a[0], d.N)
}

func (d Discrete) Clip(a Action) Action {
	if len(a) == 0 {
		return Action{0}
	}
	return Action{clampIndex(a[0], d.N)}
}

func (d Discrete) Sample(rng *rand.Rand) Action {
	return Action{float64(rng.Intn(d.N))}
}

func (d Discrete) Dim() int { return 1 }

// MultiDiscrete is a product of discrete spaces.
type MultiDiscrete struct {
	Nvec []int
}

var _ Space = MultiDiscrete{}

func (m MultiDiscrete) Contains(a Action) bool {
	if len(a) != len(m.Nvec) {
		return false
	}
	for i, n := range m.Nvec {
		if !isIndex(a[i], n) {
			return false
		}
	}
	return true
}

func (m MultiDiscrete) Clip(a Action) Action {
	out := make(Action, len(m.Nvec))
	for i, n := range m.Nvec {
		if i < len(a) {
			out[i] = clampIndex(a[i], n)
		}
	}
	return out
}

func (m MultiDiscrete) Sample(rng *rand.Rand) Action {
	out := make(Action, len(m.Nvec))
	for i, n := range m.Nvec {
		out[i] = float64(rng.Intn(n))
	}
	return out
}

func (m MultiDiscrete) Dim() int { return len(m.Nvec) }

// Box is a bounded continuous space.
type Box struct {
	Low  []float64
	High []float64
}

var _ Space = Box{}

func (b Box) Contains(a Action) bool {
	if len(a) != len(b.Low) {
		return false
	}
	for i, v := range a {
		if v < b.Low[i] || v > b.High[i] {
			return false
		}
	}
	return true
}

func (b Box) Clip(a Action) Action {
	out := make(Action, len(b.Low))
	for i := range b.Low {
		if i < len(a) {
			out[i] = math.Max(b.Low[i], math.Min(b.High[i], a[i]))
		} else {
			out[i] = b.Low[i]
		}
	}
	return out
}

func (b Box) Sample(rng *rand.Rand) Action {
	out := make(Action, len(b.Low))
	for i := range b.Low {
		out[i] = b.Low[i] + rng.Float64()*(b.High[i]-b.Low[i])
	}
	return out
}

func (b Box) Dim() int { return len(b.Low) }

// Clip projects action onto s.
func Clip(action Action, s Space) Action {
	if s == nil {
		return action
	}
	return s.Clip(action)
}

// ClipMulti clips every agent's action against that agent's space. Agents
// without a known space are passed through unchanged.
func ClipMulti(actions map[string]Action, spaces map[string]Space) map[string]Action {
	out := make(map[string]Action, len(actions))
	for id, a := range actions {
		out[id] = Clip(a, spaces[id])
	}
	return out
}

// Validate checks that the space is well formed.
func Validate(s Space) error {
	switch sp := s.(type) {
	case Discrete:
		if sp.N <= 0 {
			return fmt.Errorf("discrete space needs n > 0, got %d", sp.N)
		}
	case MultiDiscrete:
		if len(sp.Nvec) == 0 {
			return fmt.Errorf("multi-discrete space needs at least one dimension")
		}
		for i, n := range sp.Nvec {
			if n <= 0 {
				return fmt.Errorf("multi-discrete dimension %d needs n > 0, got %d", i, n)
			}
		}
	case Box:
		if len(sp.Low) == 0 || len(sp.Low) != len(sp.High) {
			return fmt.Errorf("box bounds mismatch: %d low vs %d high", len(sp.Low), len(sp.High))
		}
		for i := range sp.Low {
			if sp.Low[i] > sp.High[i] {
				return fmt.Errorf("box dimension %d has low %v > high %v", i, sp.Low[i], sp.High[i])
			}
		}
	default:
		return fmt.Errorf("unsupported action space type: %T", s)
	}
	return nil
}

func isIndex(v float64, n int) bool {
	return v == math.Trunc(v) && v >= 0 && int(v) < n
}

func clampIndex(v float64, n int) float64 {
	i := math.Round(v)
	if i < 0 {
		return 0
	}
	if i > float64(n-1) {
		return float64(n - 1)
	}
	return i
}
