package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cartridge/rollout/internal/space"
)

// WriteTrajectory writes a header followed by every transition as a
// stream of length-delimited protobuf Structs.
func WriteTrajectory(path string, header Header, transitions []Transition) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create trajectory file %s: %w", path, err)
	}
	w := bufio.NewWriter(f)

	if err := writeTrajectory(w, header, transitions); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush trajectory: %w", err)
	}
	return f.Close()
}

func writeTrajectory(w io.Writer, header Header, transitions []Transition) error {
	h, err := structpb.NewStruct(map[string]any{
		"run_id":      header.RunID,
		"algorithm":   header.Algorithm,
		"env":         header.Env,
		"checkpoint":  header.Checkpoint,
		"multiagent":  header.MultiAgent,
		"created_at":  header.CreatedAt.UTC().Format(time.RFC3339Nano),
		"transitions": float64(len(transitions)),
	})
	if err != nil {
		return fmt.Errorf("failed to encode trajectory header: %w", err)
	}
	if _, err := protodelim.MarshalTo(w, h); err != nil {
		return fmt.Errorf("failed to write trajectory header: %w", err)
	}

	for _, t := range transitions {
		msg, err := transitionStruct(t)
		if err != nil {
			return fmt.Errorf("failed to encode transition %d: %w", t.Step, err)
		}
		if _, err := protodelim.MarshalTo(w, msg); err != nil {
			return fmt.Errorf("failed to write transition %d: %w", t.Step, err)
		}
	}
	return nil
}

// ReadTrajectory reads a file written by WriteTrajectory. Transitions are
// returned in their generic map form.
func ReadTrajectory(path string) (map[string]any, []map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open trajectory file %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var header map[string]any
	var transitions []map[string]any
	for {
		msg := &structpb.Struct{}
		err := protodelim.UnmarshalFrom(r, msg)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read trajectory record: %w", err)
		}
		if header == nil {
			header = msg.AsMap()
			continue
		}
		transitions = append(transitions, msg.AsMap())
	}
	if header == nil {
		return nil, nil, fmt.Errorf("trajectory file %s is empty", path)
	}
	return header, transitions, nil
}

func transitionStruct(t Transition) (*structpb.Struct, error) {
	fields := map[string]any{
		"step":       float64(t.Step),
		"state":      nil,
		"action":     nil,
		"next_state": nil,
		"reward":     nil,
		"done":       t.Done,
	}
	var err error
	if fields["state"], err = generic(t.State); err != nil {
		return nil, fmt.Errorf("state: %w", err)
	}
	if fields["action"], err = generic(t.Action); err != nil {
		return nil, fmt.Errorf("action: %w", err)
	}
	if fields["next_state"], err = generic(t.NextState); err != nil {
		return nil, fmt.Errorf("next_state: %w", err)
	}
	if fields["reward"], err = generic(t.Reward); err != nil {
		return nil, fmt.Errorf("reward: %w", err)
	}
	return structpb.NewStruct(fields)
}

// generic converts the value types rollouts produce into the
// map[string]any / []any / float64 shapes structpb accepts.
func generic(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, string, float64:
		return x, nil
	case int:
		return float64(x), nil
	case []float64:
		return floats(x), nil
	case space.Action:
		return floats(x), nil
	case map[string][]float64:
		out := make(map[string]any, len(x))
		for k, s := range x {
			out[k] = floats(s)
		}
		return out, nil
	case map[string]space.Action:
		out := make(map[string]any, len(x))
		for k, s := range x {
			out[k] = floats(s)
		}
		return out, nil
	case map[string]float64:
		out := make(map[string]any, len(x))
		for k, f := range x {
			out[k] = f
		}
		return out, nil
	case map[string]bool:
		out := make(map[string]any, len(x))
		for k, b := range x {
			out[k] = b
		}
		return out, nil
	default:
		// Anything else goes through its JSON form.
		data, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

func floats(v []float64) []any {
	out := make([]any, len(v))
	for i, f := range v {
		out[i] = f
	}
	return out
}
