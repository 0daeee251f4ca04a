package space

import "fmt"

const (
	TypeDiscrete      = "discrete"
	TypeMultiDiscrete = "multi_discrete"
	TypeBox           = "box"
)

// Spec is the serialisable description of a Space, as found in checkpoints
// and on the remote environment wire.
type Spec struct {
	Type string    `json:"type"`
	N    int       `json:"n,omitempty"`
	Nvec []int     `json:"nvec,omitempty"`
	Low  []float64 `json:"low,omitempty"`
	High []float64 `json:"high,omitempty"`
}

// Build turns the spec into a validated Space.
func (s Spec) Build() (Space, error) {
	var sp Space
	switch s.Type {
	case TypeDiscrete:
		sp = Discrete{N: s.N}
	case TypeMultiDiscrete:
		sp = MultiDiscrete{Nvec: append([]int(nil), s.Nvec...)}
	case TypeBox:
		sp = Box{Low: append([]float64(nil), s.Low...), High: append([]float64(nil), s.High...)}
	default:
		return nil, fmt.Errorf("unknown action space type %q", s.Type)
	}
	if err := Validate(sp); err != nil {
		return nil, err
	}
	return sp, nil
}

// SpecOf describes s.
func SpecOf(s Space) (Spec, error) {
	switch sp := s.(type) {
	case Discrete:
		return Spec{Type: TypeDiscrete, N: sp.N}, nil
	case MultiDiscrete:
		return Spec{Type: TypeMultiDiscrete, Nvec: sp.Nvec}, nil
	case Box:
		return Spec{Type: TypeBox, Low: sp.Low, High: sp.High}, nil
	default:
		return Spec{}, fmt.Errorf("unsupported action space type: %T", s)
	}
}

// ToMap renders the spec as a generic map with float64 numbers, the shape
// structpb and encoding/json both produce.
func (s Spec) ToMap() map[string]any {
	m := map[string]any{"type": s.Type}
	switch s.Type {
	case TypeDiscrete:
		m["n"] = float64(s.N)
	case TypeMultiDiscrete:
		nvec := make([]any, len(s.Nvec))
		for i, n := range s.Nvec {
			nvec[i] = float64(n)
		}
		m["nvec"] = nvec
	case TypeBox:
		m["low"] = floatsToAny(s.Low)
		m["high"] = floatsToAny(s.High)
	}
	return m
}

// SpecFromMap is the inverse of ToMap.
func SpecFromMap(m map[string]any) (Spec, error) {
	typ, _ := m["type"].(string)
	s := Spec{Type: typ}
	switch typ {
	case TypeDiscrete:
		n, ok := m["n"].(float64)
		if !ok {
			return Spec{}, fmt.Errorf("discrete space missing n")
		}
		s.N = int(n)
	case TypeMultiDiscrete:
		raw, err := anyToFloats(m["nvec"])
		if err != nil {
			return Spec{}, fmt.Errorf("nvec: %w", err)
		}
		s.Nvec = make([]int, len(raw))
		for i, v := range raw {
			s.Nvec[i] = int(v)
		}
	case TypeBox:
		low, err := anyToFloats(m["low"])
		if err != nil {
			return Spec{}, fmt.Errorf("low: %w", err)
		}
		high, err := anyToFloats(m["high"])
		if err != nil {
			return Spec{}, fmt.Errorf("high: %w", err)
		}
		s.Low, s.High = low, high
	default:
		return Spec{}, fmt.Errorf("unknown action space type %q", typ)
	}
	return s, nil
}

func floatsToAny(v []float64) []any {
	out := make([]any, len(v))
	for i, f := range v {
		out[i] = f
	}
	return out
}

func anyToFloats(v any) ([]float64, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
	out := make([]float64, len(list))
	for i, item := range list {
		f, ok := item.(float64)
		if !ok {
			return nil, fmt.Errorf("element %d: expected a number, got %T", i, item)
		}
		out[i] = f
	}
	return out, nil
}
