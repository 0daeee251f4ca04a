package env

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownEnv is returned by Make for names nothing registered.
var ErrUnknownEnv = errors.New("unknown environment")

// Factory builds an environment from the env_config section of the run
// params. It returns either an Env or a MultiAgentEnv.
type Factory func(cfg map[string]any) (any, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes an environment constructible by name. Registering the same
// name twice replaces the earlier factory.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Make constructs the named environment.
func Make(name string, cfg map[string]any) (any, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (registered: %v)", ErrUnknownEnv, name, Names())
	}

	e, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create environment %s: %w", name, err)
	}
	switch e.(type) {
	case Env, MultiAgentEnv:
		return e, nil
	default:
		return nil, fmt.Errorf("environment %s has unsupported type %T", name, e)
	}
}

// Names lists registered environments in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
