// Package storage persists rollout results: the per-step statistics log and
// the optional recorded trajectory.
package storage

import "time"

// Transition is one recorded environment step. In single-agent rollouts the
// state, action and reward fields hold plain values; in multi-agent rollouts
// they hold per-agent maps.
type Transition struct {
	Step      int
	State     any
	Action    any
	NextState any
	Reward    any
	Done      bool
}

// Record is one entry of the statistics log.
type Record struct {
	// Environment-reported metrics for the step
	Statistics any `json:"statistics"`
	// Cumulative reward per agent up to and including the step
	EpisodeReward map[string]float64 `json:"episode_reward"`
	// Synthetic simulation clock in seconds
	Timestamp int `json:"timestamp"`
}

// Header describes the run a trajectory file belongs to.
type Header struct {
	RunID      string
	Algorithm  string
	Env        string
	Checkpoint string
	MultiAgent bool
	CreatedAt  time.Time
}
