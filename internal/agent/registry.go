package agent

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	exprand "golang.org/x/exp/rand"

	"github.com/cartridge/rollout/internal/checkpoint"
	"github.com/cartridge/rollout/internal/policy"
)

// ErrUnknownAlgorithm is returned for --run values nothing registered.
var ErrUnknownAlgorithm = errors.New("unknown algorithm")

// PolicyBuilder turns checkpoint weights into a policy for one algorithm.
type PolicyBuilder func(weights *checkpoint.Policy, seed uint64) (policy.Policy, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]PolicyBuilder)
)

// Register makes an algorithm restorable under name.
func Register(name string, builder PolicyBuilder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToUpper(name)] = builder
}

// Lookup returns the builder registered for name, case-insensitively.
func Lookup(name string) (PolicyBuilder, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	b, ok := registry[strings.ToUpper(name)]
	if !ok {
		return nil, fmt.Errorf("%w %q (registered: %v)", ErrUnknownAlgorithm, name, algorithmsLocked())
	}
	return b, nil
}

// Algorithms lists registered algorithm names.
func Algorithms() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return algorithmsLocked()
}

func algorithmsLocked() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func networkBuilder(mode policy.Mode) PolicyBuilder {
	return func(weights *checkpoint.Policy, seed uint64) (policy.Policy, error) {
		return policy.NewNetwork(weights, mode, exprand.NewSource(seed))
	}
}

func init() {
	for _, name := range []string{"PPO", "APPO", "A2C", "A3C", "PG", "IMPALA"} {
		Register(name, networkBuilder(policy.Stochastic))
	}
	for _, name := range []string{"DQN", "APEX"} {
		Register(name, networkBuilder(policy.Greedy))
	}
	Register("Random", func(weights *checkpoint.Policy, seed uint64) (policy.Policy, error) {
		sp, err := weights.ActionSpace.Build()
		if err != nil {
			return nil, err
		}
		return policy.NewRandom(sp, int64(seed))
	})
}
