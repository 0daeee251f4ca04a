package metrics

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		out = append(out, entry)
	}
	return out
}

func TestCollector_EpisodeCompleted(t *testing.T) {
	var buf bytes.Buffer
	c := NewCollector(zerolog.New(&buf))

	c.EpisodeCompleted("run-1", 12, -3.5, true, time.Second)

	entries := decode(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "episode_completed", entries[0]["metric"])
	assert.Equal(t, "run-1", entries[0]["run_id"])
	assert.Equal(t, 12.0, entries[0]["steps"])
	assert.Equal(t, -3.5, entries[0]["reward"])
	assert.Equal(t, true, entries[0]["done"])
}

func TestCollector_StepCompletedIsDebug(t *testing.T) {
	var buf bytes.Buffer
	c := NewCollector(zerolog.New(&buf).Level(zerolog.InfoLevel))

	c.StepCompleted("run-1", 0, 1, time.Millisecond)
	assert.Empty(t, buf.String())

	c = NewCollector(zerolog.New(&buf).Level(zerolog.DebugLevel))
	c.StepCompleted("run-1", 0, 1, time.Millisecond)
	entries := decode(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "step_completed", entries[0]["metric"])
}

func TestCollector_PolicyRestoredAndEnvRequest(t *testing.T) {
	var buf bytes.Buffer
	c := NewCollector(zerolog.New(&buf))

	c.PolicyRestored("PPO", "/tmp/ckpt", 2, time.Millisecond)
	c.EnvRequest("Step", false, time.Millisecond)

	entries := decode(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "policy_restored", entries[0]["metric"])
	assert.Equal(t, 2.0, entries[0]["policies"])
	assert.Equal(t, "env_request", entries[1]["metric"])
	assert.Equal(t, false, entries[1]["ok"])
}
