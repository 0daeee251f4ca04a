package policy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	exprand "golang.org/x/exp/rand"

	"github.com/cartridge/rollout/internal/checkpoint"
	"github.com/cartridge/rollout/internal/space"
)

func identityPolicy(spec space.Spec, obs int) *checkpoint.Policy {
	w := make([][]float64, obs)
	for i := range w {
		w[i] = make([]float64, obs)
		w[i][i] = 1
	}
	return &checkpoint.Policy{
		ActionSpace:     spec,
		ObservationSize: obs,
		Layers:          []checkpoint.Layer{{W: w, B: make([]float64, obs)}},
	}
}

func TestNetwork_GreedyDiscrete(t *testing.T) {
	p, err := NewNetwork(identityPolicy(space.Spec{Type: space.TypeDiscrete, N: 3}, 3), Greedy, nil)
	require.NoError(t, err)
	assert.False(t, IsRecurrent(p))

	action, state, err := p.ComputeAction([]float64{0.1, 2, -1}, nil)
	require.NoError(t, err)
	assert.Nil(t, state)
	assert.Equal(t, space.Action{1}, action)
}

func TestNetwork_GreedyMultiDiscrete(t *testing.T) {
	spec := space.Spec{Type: space.TypeMultiDiscrete, Nvec: []int{2, 3}}
	p, err := NewNetwork(identityPolicy(spec, 5), Greedy, nil)
	require.NoError(t, err)

	action, _, err := p.ComputeAction([]float64{1, 0, 0, 0, 4}, nil)
	require.NoError(t, err)
	assert.Equal(t, space.Action{0, 2}, action)
}

func TestNetwork_StochasticFollowsLogits(t *testing.T) {
	p, err := NewNetwork(identityPolicy(space.Spec{Type: space.TypeDiscrete, N: 2}, 2), Stochastic, exprand.NewSource(5))
	require.NoError(t, err)

	counts := map[float64]int{}
	for i := 0; i < 1000; i++ {
		action, _, err := p.ComputeAction([]float64{0, 3}, nil)
		require.NoError(t, err)
		counts[action[0]]++
	}
	// softmax([0, 3]) puts ~95% of the mass on action 1
	assert.Greater(t, counts[1], 900)
	assert.Greater(t, counts[0], 0)
}

func TestNetwork_BoxMean(t *testing.T) {
	spec := space.Spec{Type: space.TypeBox, Low: []float64{-1, -1}, High: []float64{1, 1}}
	cp := identityPolicy(spec, 2)
	cp.Layers[0].Activation = "tanh"
	p, err := NewNetwork(cp, Greedy, nil)
	require.NoError(t, err)

	action, _, err := p.ComputeAction([]float64{0, 100}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0, action[0], 1e-9)
	assert.InDelta(t, 1, action[1], 1e-9)
}

func TestNetwork_RecurrentThreadsState(t *testing.T) {
	cp := &checkpoint.Policy{
		ActionSpace:     space.Spec{Type: space.TypeBox, Low: []float64{-1}, High: []float64{1}},
		ObservationSize: 1,
		LSTM: &checkpoint.LSTM{
			HiddenSize: 1,
			Wx:         [][]float64{{1}, {1}, {1}, {1}},
			Wh:         [][]float64{{0}, {0}, {0}, {0}},
			B:          []float64{0, 0, 0, 0},
		},
	}
	p, err := NewNetwork(cp, Greedy, nil)
	require.NoError(t, err)
	require.True(t, IsRecurrent(p))

	state := p.InitialState()
	require.Equal(t, []float64{0, 0}, state)

	a1, state, err := p.ComputeAction([]float64{1}, state)
	require.NoError(t, err)
	require.Len(t, state, 2)

	s := 1 / (1 + math.Exp(-1))
	cell := s * math.Tanh(1)
	assert.InDelta(t, cell, state[1], 1e-9)
	assert.InDelta(t, s*math.Tanh(cell), a1[0], 1e-9)

	// Same input with carried cell state produces a different output
	a2, _, err := p.ComputeAction([]float64{1}, state)
	require.NoError(t, err)
	assert.NotEqual(t, a1[0], a2[0])

	_, _, err = p.ComputeAction([]float64{1}, nil)
	assert.Error(t, err)
}

func TestNetwork_ObservationSizeMismatch(t *testing.T) {
	p, err := NewNetwork(identityPolicy(space.Spec{Type: space.TypeDiscrete, N: 2}, 2), Greedy, nil)
	require.NoError(t, err)

	_, _, err = p.ComputeAction([]float64{1}, nil)
	assert.Error(t, err)
}

func TestSoftmax(t *testing.T) {
	probs := Softmax([]float64{1, 1, 1, 1})
	for _, p := range probs {
		assert.InDelta(t, 0.25, p, 1e-12)
	}
	// Large logits must not overflow
	probs = Softmax([]float64{1000, 0})
	assert.InDelta(t, 1, probs[0], 1e-12)
}

func TestRandomPolicy_Discrete(t *testing.T) {
	p, err := NewRandom(space.Discrete{N: 9}, 1)
	require.NoError(t, err)

	seen := make(map[float64]bool)
	for i := 0; i < 100; i++ {
		action, state, err := p.ComputeAction(nil, nil)
		require.NoError(t, err)
		assert.Nil(t, state)
		require.Len(t, action, 1)
		assert.True(t, space.Discrete{N: 9}.Contains(action))
		seen[action[0]] = true
	}
	// Should have at least 2 different actions (highly probable)
	assert.GreaterOrEqual(t, len(seen), 2)
}

func TestRandomPolicy_Continuous(t *testing.T) {
	box := space.Box{Low: []float64{-1, -2}, High: []float64{1, 2}}
	p, err := NewRandom(box, 1)
	require.NoError(t, err)

	action, _, err := p.ComputeAction(nil, nil)
	require.NoError(t, err)
	assert.True(t, box.Contains(action))
}

func TestRandomPolicy_InvalidActionSpace(t *testing.T) {
	_, err := NewRandom(nil, 1)
	assert.Error(t, err)

	_, err = NewRandom(space.Discrete{N: 0}, 1)
	assert.Error(t, err)
}
