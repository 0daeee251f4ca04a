// Package config resolves the rollout tool's own settings and the
// algorithm hyperparameters ("params") stored alongside a checkpoint.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

var (
	// ErrParamsNotFound is returned when no params file sits next to the
	// checkpoint and no overrides were supplied.
	ErrParamsNotFound = errors.New("could not find params in either the checkpoint dir or its parent directory")

	// ErrEnvRequired is returned when neither --env nor params name an
	// environment.
	ErrEnvRequired = errors.New("the following arguments are required: --env")
)

// paramsFiles are tried in order inside each candidate directory.
var paramsFiles = []string{"params.json", "params.yaml", "params.yml"}

// distributedKeys only make sense for training and are dropped from
// checkpoint params.
var distributedKeys = []string{"num_workers", "num_gpus_per_worker"}

// Params is a hyperparameter mapping.
type Params map[string]any

// ResolveParams loads the params stored with a checkpoint and merges
// overrides over them. It returns the merged params and the file they were
// read from, which is empty when only overrides were used.
func ResolveParams(checkpoint string, overrides Params) (Params, string, error) {
	dir := checkpointDir(checkpoint)

	path, err := findParams(dir, filepath.Join(dir, ".."))
	if err != nil {
		return nil, "", err
	}

	var base Params
	if path == "" {
		if len(overrides) == 0 {
			return nil, "", ErrParamsNotFound
		}
		base = Params{}
	} else {
		base, err = LoadParams(path)
		if err != nil {
			return nil, "", err
		}
	}

	for _, key := range distributedKeys {
		delete(base, key)
	}
	return Merge(base, overrides), path, nil
}

// LoadParams reads a JSON or YAML params file.
func LoadParams(path string) (Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read params %s: %w", path, err)
	}

	var p Params
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &p)
	default:
		err = json.Unmarshal(data, &p)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse params %s: %w", path, err)
	}
	if p == nil {
		p = Params{}
	}
	return p, nil
}

// ResolveEnv picks the environment name: the flag wins, then params["env"].
func ResolveEnv(flagEnv string, p Params) (string, error) {
	if flagEnv != "" {
		return flagEnv, nil
	}
	if name := p.String("env"); name != "" {
		return name, nil
	}
	return "", ErrEnvRequired
}

// Merge deep-merges override into base and returns a new mapping. Nested
// mappings merge key by key; any other override value replaces the base
// value.
func Merge(base, override Params) Params {
	out := make(Params, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		if bv, ok := asMap(out[k]); ok {
			if ov, ok := asMap(v); ok {
				out[k] = map[string]any(Merge(bv, ov))
				continue
			}
		}
		out[k] = v
	}
	return out
}

// String returns a string value or "".
func (p Params) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Bool returns a boolean value, or def when absent or not a boolean.
func (p Params) Bool(key string, def bool) bool {
	if b, ok := p[key].(bool); ok {
		return b
	}
	return def
}

// Int returns an integer value, or def when absent or not numeric.
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return def
	}
}

// Map returns a nested mapping, or nil.
func (p Params) Map(key string) Params {
	m, _ := asMap(p[key])
	return m
}

func asMap(v any) (Params, bool) {
	switch m := v.(type) {
	case Params:
		return m, true
	case map[string]any:
		return Params(m), true
	default:
		return nil, false
	}
}

func checkpointDir(checkpoint string) string {
	if info, err := os.Stat(checkpoint); err == nil && info.IsDir() {
		return checkpoint
	}
	return filepath.Dir(checkpoint)
}

func findParams(dirs ...string) (string, error) {
	for _, dir := range dirs {
		for _, name := range paramsFiles {
			path := filepath.Join(dir, name)
			_, err := os.Stat(path)
			if err == nil {
				return path, nil
			}
			if !errors.Is(err, os.ErrNotExist) {
				return "", fmt.Errorf("failed to stat %s: %w", path, err)
			}
		}
	}
	return "", nil
}
