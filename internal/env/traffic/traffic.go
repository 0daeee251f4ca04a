// Package traffic simulates a grid of signalised intersections. Each
// intersection is controlled by one agent choosing which approach pair gets
// green; vehicles queue on four approaches and travel straight through the
// grid.
package traffic

import (
	"context"
	"fmt"
	"io"
	"math"

	exprand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/cartridge/rollout/internal/env"
	"github.com/cartridge/rollout/internal/space"
)

const (
	// MultiAgentName is the registered name of the grid environment.
	MultiAgentName = "TrafficSignal-v0"
	// SingleAgentName is the registered name of the one-intersection variant.
	SingleAgentName = "TrafficSignalSingle-v0"
)

// Approaches, named by the side vehicles arrive from.
const (
	north = iota
	south
	east
	west
	numApproaches
)

// Signal phases.
const (
	phaseNS = iota
	phaseEW
	numPhases
)

// ObservationSize is the length of each agent's observation vector.
const ObservationSize = numApproaches + numPhases + 1

func init() {
	env.Register(MultiAgentName, func(cfg map[string]any) (any, error) {
		return NewGrid(ConfigFrom(cfg))
	})
	env.Register(SingleAgentName, func(cfg map[string]any) (any, error) {
		return NewSingle(ConfigFrom(cfg))
	})
}

// Config holds simulation parameters.
type Config struct {
	Rows           int
	Cols           int
	Horizon        int     // steps per episode
	StepSeconds    float64 // simulated seconds per step
	ArrivalRate    float64 // vehicles per second on each boundary approach
	SaturationFlow float64 // vehicles per second discharged on green
	LostTime       float64 // seconds lost when the phase switches
	MinGreen       float64 // seconds a phase must be held before switching
	RewardScale    float64
	Seed           uint64
}

// DefaultConfig is a 1x2 corridor simulated for one hour.
func DefaultConfig() Config {
	return Config{
		Rows:           1,
		Cols:           2,
		Horizon:        720,
		StepSeconds:    5,
		ArrivalRate:    0.12,
		SaturationFlow: 0.5,
		LostTime:       3,
		MinGreen:       10,
		RewardScale:    0.1,
		Seed:           1,
	}
}

// ConfigFrom overlays an env_config map onto DefaultConfig.
func ConfigFrom(cfg map[string]any) Config {
	c := DefaultConfig()
	c.Rows = env.Int(cfg, "rows", c.Rows)
	c.Cols = env.Int(cfg, "cols", c.Cols)
	c.Horizon = env.Int(cfg, "horizon", c.Horizon)
	c.StepSeconds = env.Float(cfg, "step_seconds", c.StepSeconds)
	c.ArrivalRate = env.Float(cfg, "arrival_rate", c.ArrivalRate)
	c.SaturationFlow = env.Float(cfg, "saturation_flow", c.SaturationFlow)
	c.LostTime = env.Float(cfg, "lost_time", c.LostTime)
	c.MinGreen = env.Float(cfg, "min_green", c.MinGreen)
	c.RewardScale = env.Float(cfg, "reward_scale", c.RewardScale)
	c.Seed = uint64(env.Int(cfg, "seed", int(c.Seed)))
	return c
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Rows <= 0 || c.Cols <= 0 {
		return fmt.Errorf("grid must be at least 1x1, got %dx%d", c.Rows, c.Cols)
	}
	if c.Horizon <= 0 {
		return fmt.Errorf("horizon must be positive")
	}
	if c.StepSeconds <= 0 {
		return fmt.Errorf("step_seconds must be positive")
	}
	if c.ArrivalRate < 0 || c.SaturationFlow <= 0 {
		return fmt.Errorf("arrival_rate must be >= 0 and saturation_flow > 0")
	}
	return nil
}

type intersection struct {
	id          string
	row, col    int
	queue       [numApproaches]int
	credit      [numApproaches]float64
	phase       int
	timeInPhase float64
	lostLeft    float64
	waiting     float64
	discharged  int
}

func (in *intersection) total() int {
	n := 0
	for _, q := range in.queue {
		n += q
	}
	return n
}

// Grid is the multi-agent traffic environment.
type Grid struct {
	cfg      Config
	nodes    []*intersection
	byPos    map[[2]int]*intersection
	spaces   map[string]space.Space
	arrivals distuv.Poisson
	src      exprand.Source

	steps    int
	arrived  int
	departed int
	waiting  float64
}

var _ env.MultiAgentEnv = (*Grid)(nil)
var _ env.Renderer = (*Grid)(nil)
var _ env.StatisticsCollector = (*Grid)(nil)

// NewGrid creates a grid environment. Call Reset before stepping.
func NewGrid(cfg Config) (*Grid, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid traffic config: %w", err)
	}
	g := &Grid{
		cfg:    cfg,
		byPos:  make(map[[2]int]*intersection),
		spaces: make(map[string]space.Space),
		src:    exprand.NewSource(cfg.Seed),
	}
	for r := 0; r < cfg.Rows; r++ {
		for c := 0; c < cfg.Cols; c++ {
			in := &intersection{id: AgentID(r, c), row: r, col: c}
			g.nodes = append(g.nodes, in)
			g.byPos[[2]int{r, c}] = in
			g.spaces[in.id] = space.Discrete{N: numPhases}
		}
	}
	g.arrivals = distuv.Poisson{Lambda: math.Max(cfg.ArrivalRate*cfg.StepSeconds, 1e-9), Src: g.src}
	return g, nil
}

// AgentID names the agent controlling the intersection at (row, col).
func AgentID(row, col int) string {
	return fmt.Sprintf("tls_%d_%d", row, col)
}

// AgentIDs lists agents in grid order.
func (g *Grid) AgentIDs() []string {
	ids := make([]string, len(g.nodes))
	for i, in := range g.nodes {
		ids[i] = in.id
	}
	return ids
}

func (g *Grid) ActionSpaces() map[string]space.Space {
	return g.spaces
}

func (g *Grid) Reset(ctx context.Context) (map[string][]float64, error) {
	g.src.Seed(g.cfg.Seed)
	g.steps, g.arrived, g.departed, g.waiting = 0, 0, 0, 0
	for _, in := range g.nodes {
		*in = intersection{id: in.id, row: in.row, col: in.col}
	}
	return g.observations(), nil
}

func (g *Grid) Step(ctx context.Context, actions map[string]space.Action) (env.MultiStep, error) {
	if err := ctx.Err(); err != nil {
		return env.MultiStep{}, err
	}
	dt := g.cfg.StepSeconds

	for _, in := range g.nodes {
		if a, ok := actions[in.id]; ok {
			want := a.Index()
			if want < 0 || want >= numPhases {
				return env.MultiStep{}, fmt.Errorf("agent %s: invalid phase %d", in.id, want)
			}
			if want != in.phase && in.timeInPhase >= g.cfg.MinGreen {
				in.phase = want
				in.timeInPhase = 0
				in.lostLeft = g.cfg.LostTime
			}
		}
	}

	// Discharge everything before moving vehicles so the update is synchronous.
	moved := make([][numApproaches]int, len(g.nodes))
	for i, in := range g.nodes {
		lost := math.Min(in.lostLeft, dt)
		in.lostLeft -= lost
		green := dt - lost
		in.discharged = 0
		for _, ap := range greenApproaches(in.phase) {
			in.credit[ap] += g.cfg.SaturationFlow * green
			n := int(math.Min(float64(in.queue[ap]), math.Floor(in.credit[ap])))
			in.credit[ap] -= float64(n)
			if in.queue[ap] == n {
				in.credit[ap] = 0
			}
			in.queue[ap] -= n
			moved[i][ap] = n
			in.discharged += n
		}
		in.timeInPhase += dt
	}

	for i, in := range g.nodes {
		for ap, n := range moved[i] {
			if n == 0 {
				continue
			}
			if next := g.downstream(in, ap); next != nil {
				next.queue[ap] += n
			} else {
				g.departed += n
			}
		}
	}

	for _, in := range g.nodes {
		for ap := 0; ap < numApproaches; ap++ {
			if g.upstream(in, ap) != nil {
				continue
			}
			n := int(g.arrivals.Rand())
			in.queue[ap] += n
			g.arrived += n
		}
	}

	g.steps++
	done := g.steps >= g.cfg.Horizon

	out := env.MultiStep{
		Obs:     g.observations(),
		Rewards: make(map[string]float64, len(g.nodes)),
		Dones:   make(map[string]bool, len(g.nodes)+1),
		Infos:   make(map[string]env.Info, len(g.nodes)),
	}
	for _, in := range g.nodes {
		q := in.total()
		wait := float64(q) * dt
		in.waiting += wait
		g.waiting += wait

		out.Rewards[in.id] = -g.cfg.RewardScale * float64(q)
		out.Dones[in.id] = done
		out.Infos[in.id] = env.Info{
			"queue":        q,
			"queue_ns":     in.queue[north] + in.queue[south],
			"queue_ew":     in.queue[east] + in.queue[west],
			"phase":        in.phase,
			"throughput":   in.discharged,
			"waiting_time": in.waiting,
		}
	}
	out.Dones[env.AllDone] = done
	return out, nil
}

func (g *Grid) Render(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "t=%6.0fs", float64(g.steps)*g.cfg.StepSeconds); err != nil {
		return err
	}
	for _, in := range g.nodes {
		label := "NS"
		if in.phase == phaseEW {
			label = "EW"
		}
		if _, err := fmt.Fprintf(w, " | %s[%s] N:%d S:%d E:%d W:%d", in.id, label,
			in.queue[north], in.queue[south], in.queue[east], in.queue[west]); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}

func (g *Grid) CollectStatistics() map[string]float64 {
	inNetwork := 0
	for _, in := range g.nodes {
		inNetwork += in.total()
	}
	mean := 0.0
	if g.arrived > 0 {
		mean = g.waiting / float64(g.arrived)
	}
	return map[string]float64{
		"vehicles_arrived":    float64(g.arrived),
		"vehicles_departed":   float64(g.departed),
		"vehicles_in_network": float64(inNetwork),
		"total_waiting_time":  g.waiting,
		"mean_waiting_time":   mean,
		"simulated_seconds":   float64(g.steps) * g.cfg.StepSeconds,
	}
}

func (g *Grid) Close() error { return nil }

func (g *Grid) observations() map[string][]float64 {
	obs := make(map[string][]float64, len(g.nodes))
	for _, in := range g.nodes {
		obs[in.id] = observe(in)
	}
	return obs
}

func observe(in *intersection) []float64 {
	o := make([]float64, ObservationSize)
	for ap, q := range in.queue {
		o[ap] = float64(q) / 10
	}
	o[numApproaches+in.phase] = 1
	o[numApproaches+numPhases] = math.Min(in.timeInPhase/60, 1)
	return o
}

func greenApproaches(phase int) []int {
	if phase == phaseNS {
		return []int{north, south}
	}
	return []int{east, west}
}

// downstream is the intersection a vehicle reaches after crossing in from
// approach ap, or nil when it leaves the grid.
func (g *Grid) downstream(in *intersection, ap int) *intersection {
	r, c := in.row, in.col
	switch ap {
	case north:
		r++
	case south:
		r--
	case east:
		c--
	case west:
		c++
	}
	return g.byPos[[2]int{r, c}]
}

// upstream is the intersection feeding approach ap of in, or nil for a
// boundary approach.
func (g *Grid) upstream(in *intersection, ap int) *intersection {
	r, c := in.row, in.col
	switch ap {
	case north:
		r--
	case south:
		r++
	case east:
		c++
	case west:
		c--
	}
	return g.byPos[[2]int{r, c}]
}
