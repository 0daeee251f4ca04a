package space

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBox_Clip(t *testing.T) {
	box := Box{Low: []float64{-1, 0}, High: []float64{1, 2}}

	assert.Equal(t, Action{-1, 2}, box.Clip(Action{-3, 5}))
	assert.Equal(t, Action{0.5, 1}, box.Clip(Action{0.5, 1}))
	// Missing components fall back to the lower bound
	assert.Equal(t, Action{0.25, 0}, box.Clip(Action{0.25}))
}

func TestDiscrete_Clip(t *testing.T) {
	d := Discrete{N: 3}

	assert.Equal(t, Action{2}, d.Clip(Action{7}))
	assert.Equal(t, Action{0}, d.Clip(Action{-1}))
	assert.Equal(t, Action{1}, d.Clip(Action{1.2}))
	assert.True(t, d.Contains(d.Clip(Action{42})))
}

func TestMultiDiscrete_ContainsAndSample(t *testing.T) {
	m := MultiDiscrete{Nvec: []int{3, 4, 2}}
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 50; i++ {
		a := m.Sample(rng)
		require.Len(t, a, 3)
		assert.True(t, m.Contains(a))
	}
	assert.False(t, m.Contains(Action{0, 4, 0}))
	assert.False(t, m.Contains(Action{0, 1}))
}

func TestClipMulti(t *testing.T) {
	spaces := map[string]Space{
		"a": Box{Low: []float64{0}, High: []float64{1}},
	}
	out := ClipMulti(map[string]Action{
		"a": {3},
		"b": {3},
	}, spaces)

	assert.Equal(t, Action{1}, out["a"])
	assert.Equal(t, Action{3}, out["b"])
}

func TestSpec_RoundTripThroughMap(t *testing.T) {
	specs := []Spec{
		{Type: TypeDiscrete, N: 4},
		{Type: TypeMultiDiscrete, Nvec: []int{2, 3}},
		{Type: TypeBox, Low: []float64{-1}, High: []float64{1}},
	}
	for _, s := range specs {
		t.Run(s.Type, func(t *testing.T) {
			got, err := SpecFromMap(s.ToMap())
			require.NoError(t, err)
			assert.Equal(t, s, got)

			sp, err := got.Build()
			require.NoError(t, err)
			back, err := SpecOf(sp)
			require.NoError(t, err)
			assert.Equal(t, s, back)
		})
	}
}

func TestSpec_BuildRejectsInvalid(t *testing.T) {
	_, err := Spec{Type: TypeDiscrete}.Build()
	assert.Error(t, err)

	_, err = Spec{Type: TypeBox, Low: []float64{1}, High: []float64{0}}.Build()
	assert.Error(t, err)

	_, err = Spec{Type: "tuple"}.Build()
	assert.Error(t, err)
}
