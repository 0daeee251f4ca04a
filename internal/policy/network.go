package policy

import (
	"fmt"
	"math"

	exprand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
	"gonum.org/v1/gonum/stat/sampleuv"

	"github.com/cartridge/rollout/internal/checkpoint"
	"github.com/cartridge/rollout/internal/space"
)

// Mode selects how the network output becomes an action.
type Mode int

const (
	// Stochastic samples from the action distribution (policy-gradient
	// family).
	Stochastic Mode = iota
	// Greedy takes the arg-max / distribution mean (Q-learning family).
	Greedy
)

type dense struct {
	w   *mat.Dense
	b   *mat.VecDense
	act func(float64) float64
}

type lstmCell struct {
	hidden int
	wx     *mat.Dense
	wh     *mat.Dense
	b      *mat.VecDense
}

// Network is a feed-forward policy with an optional LSTM in front of the
// dense stack.
type Network struct {
	lstm   *lstmCell
	layers []dense
	obs    int
	spec   space.Spec
	logStd []float64
	mode   Mode
	src    exprand.Source
}

var _ Policy = (*Network)(nil)

// NewNetwork builds a policy from checkpoint weights. src drives sampling
// in Stochastic mode.
func NewNetwork(p *checkpoint.Policy, mode Mode, src exprand.Source) (*Network, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	n := &Network{
		obs:    p.ObservationSize,
		spec:   p.ActionSpace,
		logStd: p.LogStd,
		mode:   mode,
		src:    src,
	}
	if p.LSTM != nil {
		h := p.LSTM.HiddenSize
		n.lstm = &lstmCell{
			hidden: h,
			wx:     toDense(p.LSTM.Wx),
			wh:     toDense(p.LSTM.Wh),
			b:      mat.NewVecDense(len(p.LSTM.B), append([]float64(nil), p.LSTM.B...)),
		}
	}
	for i, l := range p.Layers {
		act, err := activation(l.Activation)
		if err != nil {
			return nil, fmt.Errorf("layers[%d]: %w", i, err)
		}
		n.layers = append(n.layers, dense{
			w:   toDense(l.W),
			b:   mat.NewVecDense(len(l.B), append([]float64(nil), l.B...)),
			act: act,
		})
	}
	return n, nil
}

func (n *Network) InitialState() []float64 {
	if n.lstm == nil {
		return nil
	}
	return make([]float64, 2*n.lstm.hidden)
}

func (n *Network) ComputeAction(obs, state []float64) (space.Action, []float64, error) {
	if len(obs) != n.obs {
		return nil, nil, fmt.Errorf("observation has %d values, policy expects %d", len(obs), n.obs)
	}
	x := mat.NewVecDense(len(obs), append([]float64(nil), obs...))

	var next []float64
	if n.lstm != nil {
		if len(state) != 2*n.lstm.hidden {
			return nil, nil, fmt.Errorf("recurrent state has %d values, want %d", len(state), 2*n.lstm.hidden)
		}
		x, next = n.lstm.step(x, state)
	}

	for _, l := range n.layers {
		var y mat.VecDense
		y.MulVec(l.w, x)
		y.AddVec(&y, l.b)
		for i := 0; i < y.Len(); i++ {
			y.SetVec(i, l.act(y.AtVec(i)))
		}
		x = &y
	}

	out := make([]float64, x.Len())
	for i := range out {
		out[i] = x.AtVec(i)
	}
	action, err := n.head(out)
	if err != nil {
		return nil, nil, err
	}
	return action, next, nil
}

func (n *Network) head(out []float64) (space.Action, error) {
	switch n.spec.Type {
	case space.TypeDiscrete:
		return space.Action{float64(n.choose(out))}, nil
	case space.TypeMultiDiscrete:
		action := make(space.Action, len(n.spec.Nvec))
		offset := 0
		for i, k := range n.spec.Nvec {
			action[i] = float64(n.choose(out[offset : offset+k]))
			offset += k
		}
		return action, nil
	case space.TypeBox:
		action := make(space.Action, len(out))
		copy(action, out)
		if n.mode == Stochastic && n.logStd != nil {
			for i := range action {
				noise := distuv.Normal{Mu: 0, Sigma: math.Exp(n.logStd[i]), Src: n.src}
				action[i] += noise.Rand()
			}
		}
		return action, nil
	default:
		return nil, fmt.Errorf("unsupported action space type %q", n.spec.Type)
	}
}

// choose picks an index from logits.
func (n *Network) choose(logits []float64) int {
	if n.mode == Greedy {
		return floats.MaxIdx(logits)
	}
	i, ok := sampleuv.NewWeighted(Softmax(logits), n.src).Take()
	if !ok {
		return floats.MaxIdx(logits)
	}
	return i
}

func (c *lstmCell) step(x *mat.VecDense, state []float64) (*mat.VecDense, []float64) {
	h := c.hidden
	hPrev := mat.NewVecDense(h, append([]float64(nil), state[:h]...))
	cPrev := state[h:]

	var gates, rec mat.VecDense
	gates.MulVec(c.wx, x)
	rec.MulVec(c.wh, hPrev)
	gates.AddVec(&gates, &rec)
	gates.AddVec(&gates, c.b)

	next := make([]float64, 2*h)
	for j := 0; j < h; j++ {
		in := sigmoid(gates.AtVec(j))
		forget := sigmoid(gates.AtVec(h + j))
		cand := math.Tanh(gates.AtVec(2*h + j))
		out := sigmoid(gates.AtVec(3*h + j))

		cell := forget*cPrev[j] + in*cand
		next[j] = out * math.Tanh(cell)
		next[h+j] = cell
	}
	return mat.NewVecDense(h, append([]float64(nil), next[:h]...)), next
}

// Softmax converts logits into probabilities.
func Softmax(logits []float64) []float64 {
	maxLogit := floats.Max(logits)
	values := make([]float64, len(logits))
	for i, v := range logits {
		values[i] = math.Exp(v - maxLogit)
	}
	floats.Scale(1/floats.Sum(values), values)
	return values
}

func toDense(rows [][]float64) *mat.Dense {
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for _, r := range rows {
		data = append(data, r...)
	}
	return mat.NewDense(len(rows), cols, data)
}

func activation(name string) (func(float64) float64, error) {
	switch name {
	case "", "linear":
		return func(v float64) float64 { return v }, nil
	case "tanh":
		return math.Tanh, nil
	case "relu":
		return func(v float64) float64 { return math.Max(0, v) }, nil
	default:
		return nil, fmt.Errorf("unknown activation %q", name)
	}
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}
