// Package checkpoint reads and writes trained policy weights.
//
// A checkpoint is a JSON document holding the algorithm that produced it and
// one weight set per policy id. Documents are validated against an embedded
// JSON schema before they are decoded, so shape errors surface with the
// offending field rather than as a panic during inference.
package checkpoint

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/cartridge/rollout/internal/space"
)

// FormatVersion is the only checkpoint layout this package understands.
const FormatVersion = 1

// FileName is looked up inside a checkpoint directory.
const FileName = "checkpoint.json"

//go:embed schema.json
var schemaJSON string

var schema *gojsonschema.Schema

func init() {
	var err error
	schema, err = gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("checkpoint: invalid embedded schema: %v", err))
	}
}

// ErrInvalid wraps schema and shape violations.
var ErrInvalid = errors.New("invalid checkpoint")

// Checkpoint is a restored set of policy weights.
type Checkpoint struct {
	FormatVersion int                `json:"format_version"`
	Algorithm     string             `json:"algorithm"`
	Iteration     int                `json:"iteration,omitempty"`
	Policies      map[string]*Policy `json:"policies"`
	Metadata      map[string]any     `json:"metadata,omitempty"`
}

// Policy holds the weights of one policy network.
type Policy struct {
	ActionSpace     space.Spec `json:"action_space"`
	ObservationSize int        `json:"observation_size"`
	LSTM            *LSTM      `json:"lstm,omitempty"`
	Layers          []Layer    `json:"layers,omitempty"`
	LogStd          []float64  `json:"log_std,omitempty"`
}

// Layer is a dense layer computing activation(W·x + b).
type Layer struct {
	W          [][]float64 `json:"w"`
	B          []float64   `json:"b"`
	Activation string      `json:"activation,omitempty"`
}

// LSTM is a single LSTM cell. Gate rows are ordered input, forget, cell,
// output, each HiddenSize rows tall.
type LSTM struct {
	HiddenSize int         `json:"hidden_size"`
	Wx         [][]float64 `json:"wx"`
	Wh         [][]float64 `json:"wh"`
	B          []float64   `json:"b"`
}

// Resolve maps a checkpoint argument to the file holding the weights.
func Resolve(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat checkpoint %s: %w", path, err)
	}
	if info.IsDir() {
		return filepath.Join(path, FileName), nil
	}
	return path, nil
}

// Load reads, validates and decodes a checkpoint.
func Load(path string) (*Checkpoint, error) {
	file, err := Resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", file, err)
	}
	return Decode(data)
}

// Decode validates and decodes checkpoint bytes.
func Decode(data []byte) (*Checkpoint, error) {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	for id, p := range cp.Policies {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%w: policy %s: %v", ErrInvalid, id, err)
		}
	}
	return &cp, nil
}

// Save writes the checkpoint as indented JSON, creating parent directories.
func Save(path string, cp *Checkpoint) error {
	if cp.FormatVersion == 0 {
		cp.FormatVersion = FormatVersion
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint %s: %w", path, err)
	}
	return nil
}

// OutputSize is the number of outputs the head must produce for the
// action space.
func (p *Policy) OutputSize() (int, error) {
	switch p.ActionSpace.Type {
	case space.TypeDiscrete:
		return p.ActionSpace.N, nil
	case space.TypeMultiDiscrete:
		n := 0
		for _, v := range p.ActionSpace.Nvec {
			n += v
		}
		return n, nil
	case space.TypeBox:
		return len(p.ActionSpace.Low), nil
	default:
		return 0, fmt.Errorf("unknown action space type %q", p.ActionSpace.Type)
	}
}

// Validate checks that the layer shapes chain from the observation through
// the optional LSTM to the action head.
func (p *Policy) Validate() error {
	if _, err := p.ActionSpace.Build(); err != nil {
		return err
	}
	in := p.ObservationSize
	if p.LSTM != nil {
		h := p.LSTM.HiddenSize
		if err := checkMatrix("lstm.wx", p.LSTM.Wx, 4*h, in); err != nil {
			return err
		}
		if err := checkMatrix("lstm.wh", p.LSTM.Wh, 4*h, h); err != nil {
			return err
		}
		if len(p.LSTM.B) != 4*h {
			return fmt.Errorf("lstm.b has %d entries, want %d", len(p.LSTM.B), 4*h)
		}
		in = h
	}
	for i, l := range p.Layers {
		name := fmt.Sprintf("layers[%d]", i)
		if len(l.W) == 0 {
			return fmt.Errorf("%s.w is empty", name)
		}
		if err := checkMatrix(name+".w", l.W, len(l.W), in); err != nil {
			return err
		}
		if len(l.B) != len(l.W) {
			return fmt.Errorf("%s.b has %d entries, want %d", name, len(l.B), len(l.W))
		}
		in = len(l.W)
	}
	out, err := p.OutputSize()
	if err != nil {
		return err
	}
	if in != out {
		return fmt.Errorf("network produces %d outputs, action space needs %d", in, out)
	}
	if p.LogStd != nil && len(p.LogStd) != out {
		return fmt.Errorf("log_std has %d entries, want %d", len(p.LogStd), out)
	}
	return nil
}

func checkMatrix(name string, m [][]float64, rows, cols int) error {
	if len(m) != rows {
		return fmt.Errorf("%s has %d rows, want %d", name, len(m), rows)
	}
	for i, row := range m {
		if len(row) != cols {
			return fmt.Errorf("%s row %d has %d columns, want %d", name, i, len(row), cols)
		}
	}
	return nil
}
