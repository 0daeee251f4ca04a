// Package agent restores trained policies from a checkpoint and answers
// action queries for them, resolving which policy controls which agent.
package agent

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cartridge/rollout/internal/checkpoint"
	"github.com/cartridge/rollout/internal/config"
	"github.com/cartridge/rollout/internal/policy"
	"github.com/cartridge/rollout/internal/space"
)

// DefaultPolicyID names the policy used in single-agent rollouts.
const DefaultPolicyID = "default"

// Mapping strategies accepted as multiagent.policy_mapping strings.
const (
	MappingShared  = "shared"
	MappingAgentID = "agent_id"
)

// Agent is a restored algorithm instance.
type Agent struct {
	algorithm string
	params    config.Params
	builder   PolicyBuilder
	seed      uint64
	logger    zerolog.Logger

	policies map[string]policy.Policy
	spaces   map[string]space.Space
	mapping  func(agentID string) (string, error)

	mu    sync.Mutex
	cache map[string]string
}

// New creates an agent for the named algorithm. Restore must be called
// before actions can be computed.
func New(algorithm string, params config.Params, seed uint64, logger zerolog.Logger) (*Agent, error) {
	builder, err := Lookup(algorithm)
	if err != nil {
		return nil, err
	}
	return &Agent{
		algorithm: algorithm,
		params:    params,
		builder:   builder,
		seed:      seed,
		logger:    logger.With().Str("component", "agent").Str("algorithm", algorithm).Logger(),
		cache:     make(map[string]string),
	}, nil
}

// Restore loads policy weights from the checkpoint.
func (a *Agent) Restore(path string) error {
	cp, err := checkpoint.Load(path)
	if err != nil {
		return err
	}
	if !strings.EqualFold(cp.Algorithm, a.algorithm) && !strings.EqualFold(a.algorithm, "Random") {
		return fmt.Errorf("checkpoint %s was produced by %s, not %s", path, cp.Algorithm, a.algorithm)
	}

	ids := make([]string, 0, len(cp.Policies))
	for id := range cp.Policies {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	policies := make(map[string]policy.Policy, len(ids))
	spaces := make(map[string]space.Space, len(ids))
	for i, id := range ids {
		weights := cp.Policies[id]
		p, err := a.builder(weights, a.seed+uint64(i))
		if err != nil {
			return fmt.Errorf("failed to build policy %s: %w", id, err)
		}
		sp, err := weights.ActionSpace.Build()
		if err != nil {
			return fmt.Errorf("policy %s: %w", id, err)
		}
		policies[id] = p
		spaces[id] = sp
		a.logger.Debug().
			Str("policy_id", id).
			Bool("recurrent", policy.IsRecurrent(p)).
			Str("action_space", weights.ActionSpace.Type).
			Msg("policy restored")
	}

	mapping, err := buildMapping(a.params.Map("multiagent"), ids)
	if err != nil {
		return err
	}

	a.policies = policies
	a.spaces = spaces
	a.mapping = mapping
	a.cache = make(map[string]string)
	return nil
}

// Algorithm is the algorithm name the agent was created with.
func (a *Agent) Algorithm() string { return a.algorithm }

// PolicyIDs lists restored policies in sorted order.
func (a *Agent) PolicyIDs() []string {
	ids := make([]string, 0, len(a.policies))
	for id := range a.policies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Policy returns a restored policy.
func (a *Agent) Policy(id string) (policy.Policy, bool) {
	p, ok := a.policies[id]
	return p, ok
}

// MultiAgent reports whether the agent was trained with several policies,
// either declared under multiagent.policies or restored from the checkpoint.
func (a *Agent) MultiAgent() bool {
	if len(a.policies) > 1 {
		return true
	}
	switch p := a.params.Map("multiagent")["policies"].(type) {
	case map[string]any:
		return len(p) > 0
	case config.Params:
		return len(p) > 0
	case []any:
		return len(p) > 0
	}
	return false
}

// DefaultPolicy resolves the policy that drives single-agent rollouts: the
// one named "default", or the only policy in the checkpoint.
func (a *Agent) DefaultPolicy() (string, error) {
	return defaultPolicy(a.PolicyIDs())
}

// PolicyFor resolves the policy controlling agentID. Results are cached
// per agent so the mapping is evaluated once.
func (a *Agent) PolicyFor(agentID string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id, ok := a.cache[agentID]; ok {
		return id, nil
	}
	if a.mapping == nil {
		return "", fmt.Errorf("agent has not been restored")
	}
	id, err := a.mapping(agentID)
	if err != nil {
		return "", err
	}
	if _, ok := a.policies[id]; !ok {
		return "", fmt.Errorf("agent %s maps to unknown policy %s", agentID, id)
	}
	a.cache[agentID] = id
	return id, nil
}

// InitialState returns the recurrent start state of a policy.
func (a *Agent) InitialState(policyID string) []float64 {
	if p, ok := a.policies[policyID]; ok {
		return p.InitialState()
	}
	return nil
}

// ComputeAction queries a policy. For recurrent policies state is the
// previous hidden state and the returned state feeds the next call.
func (a *Agent) ComputeAction(obs, state []float64, policyID string) (space.Action, []float64, error) {
	p, ok := a.policies[policyID]
	if !ok {
		return nil, nil, fmt.Errorf("unknown policy %s", policyID)
	}
	return p.ComputeAction(obs, state)
}

// ActionSpace is the action space a policy acts in.
func (a *Agent) ActionSpace(policyID string) space.Space {
	return a.spaces[policyID]
}

// ClipActions reports whether actions are clipped to the environment's
// action space before stepping. Enabled unless params say otherwise.
func (a *Agent) ClipActions() bool {
	return a.params.Bool("clip_actions", true)
}

func defaultPolicy(ids []string) (string, error) {
	for _, id := range ids {
		if id == DefaultPolicyID {
			return id, nil
		}
	}
	if len(ids) == 1 {
		return ids[0], nil
	}
	return "", fmt.Errorf("cannot pick a default policy among %v", ids)
}

// buildMapping turns multiagent.policy_mapping into a mapping function.
func buildMapping(multi config.Params, ids []string) (func(string) (string, error), error) {
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}

	raw := multi["policy_mapping"]
	if p, ok := raw.(config.Params); ok {
		raw = map[string]any(p)
	}

	switch m := raw.(type) {
	case nil:
		// Agents with a same-named policy use it, everyone else shares the
		// default policy if there is one.
		def, defErr := defaultPolicy(ids)
		return func(agentID string) (string, error) {
			if known[agentID] {
				return agentID, nil
			}
			if defErr != nil {
				return "", fmt.Errorf("no policy for agent %s: %w", agentID, defErr)
			}
			return def, nil
		}, nil

	case string:
		switch m {
		case MappingShared:
			def, err := defaultPolicy(ids)
			if err != nil {
				return nil, fmt.Errorf("shared policy mapping: %w", err)
			}
			return func(string) (string, error) { return def, nil }, nil
		case MappingAgentID:
			return func(agentID string) (string, error) { return agentID, nil }, nil
		default:
			return nil, fmt.Errorf("unknown policy mapping %q", m)
		}

	case map[string]any:
		table := make(map[string]string, len(m))
		for agentID, v := range m {
			pid, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("policy mapping for %s must be a string, got %T", agentID, v)
			}
			if !known[pid] {
				return nil, fmt.Errorf("policy mapping for %s names unknown policy %s", agentID, pid)
			}
			table[agentID] = pid
		}
		return func(agentID string) (string, error) {
			if pid, ok := table[agentID]; ok {
				return pid, nil
			}
			if pid, ok := table["*"]; ok {
				return pid, nil
			}
			return "", fmt.Errorf("no policy mapping for agent %s", agentID)
		}, nil

	default:
		return nil, fmt.Errorf("policy mapping has unsupported type %T", m)
	}
}
