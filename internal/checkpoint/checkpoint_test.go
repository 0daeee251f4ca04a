package checkpoint

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartridge/rollout/internal/space"
)

func linearPolicy() *Policy {
	return &Policy{
		ActionSpace:     space.Spec{Type: space.TypeDiscrete, N: 2},
		ObservationSize: 3,
		Layers: []Layer{
			{W: [][]float64{{1, 0, 0}, {0, 1, 0}}, B: []float64{0, 0}, Activation: "linear"},
		},
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint_10", FileName)

	cp := &Checkpoint{
		Algorithm: "PPO",
		Iteration: 10,
		Policies:  map[string]*Policy{"default": linearPolicy()},
	}
	require.NoError(t, Save(path, cp))

	// A directory argument resolves to the file inside it
	loaded, err := Load(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, "PPO", loaded.Algorithm)
	assert.Equal(t, FormatVersion, loaded.FormatVersion)
	assert.Equal(t, 10, loaded.Iteration)
	require.Contains(t, loaded.Policies, "default")
	assert.Equal(t, linearPolicy(), loaded.Policies["default"])
}

func TestDecode_SchemaViolation(t *testing.T) {
	_, err := Decode([]byte(`{"format_version": 1, "policies": {}}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
	assert.Contains(t, err.Error(), "algorithm")
}

func TestDecode_UnsupportedVersion(t *testing.T) {
	_, err := Decode([]byte(`{"format_version": 2, "algorithm": "PPO", "policies": {"p": {"action_space": {"type": "discrete", "n": 2}, "observation_size": 2}}}`))
	assert.True(t, errors.Is(err, ErrInvalid))
}

func TestDecode_ShapeMismatch(t *testing.T) {
	data := []byte(`{
		"format_version": 1,
		"algorithm": "DQN",
		"policies": {
			"default": {
				"action_space": {"type": "discrete", "n": 3},
				"observation_size": 2,
				"layers": [{"w": [[1, 0], [0, 1]], "b": [0, 0]}]
			}
		}
	}`)
	_, err := Decode(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "action space needs 3")
}

func TestPolicyValidate_LSTM(t *testing.T) {
	p := &Policy{
		ActionSpace:     space.Spec{Type: space.TypeBox, Low: []float64{-1}, High: []float64{1}},
		ObservationSize: 2,
		LSTM: &LSTM{
			HiddenSize: 1,
			Wx:         [][]float64{{1, 1}, {1, 1}, {1, 1}, {1, 1}},
			Wh:         [][]float64{{1}, {1}, {1}, {1}},
			B:          []float64{0, 0, 0, 0},
		},
		LogStd: []float64{0},
	}
	assert.NoError(t, p.Validate())

	p.LSTM.Wh = [][]float64{{1}}
	assert.Error(t, p.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
