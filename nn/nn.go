// Package nn builds small multi-layer perceptrons out of autograd values.
//
// It only uses the public autograd API: parameters are leaves, the forward
// pass combines them with Add/Mul/Relu, and training code calls Backward on a
// scalar loss and then reads Grad and calls SetData on Parameters().
package nn

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/gomlx/exceptions"

	"scalargrad-explorer/autograd"
)

// Module is anything that owns trainable parameters.
//
// Parameters is a flat list so optimizer updates are easy; its order is
// stable for the lifetime of the module.
type Module interface {
	Parameters() []*autograd.Value
}

// ZeroGrad clears the gradient of every parameter of m.
func ZeroGrad(m Module) {
	autograd.ZeroGrad(m.Parameters()...)
}

// Neuron computes relu?(sum_i w_i*x_i + b).
type Neuron struct {
	W    []*autograd.Value
	B    *autograd.Value
	ReLU bool
}

// NewNeuron draws nin weights and a bias uniformly from [-1, 1) using rng.
func NewNeuron(rng *rand.Rand, nin int, relu bool) *Neuron {
	if nin < 0 {
		exceptions.Panicf("nn: neuron with %d inputs", nin)
	}
	w := make([]*autograd.Value, nin)
	for i := range w {
		w[i] = autograd.New(uniform(rng))
	}
	return &Neuron{W: w, B: autograd.New(uniform(rng)), ReLU: relu}
}

func uniform(rng *rand.Rand) float64 {
	return rng.Float64()*2 - 1
}

// Forward evaluates the neuron on x. len(x) must equal the number of weights.
func (n *Neuron) Forward(x []*autograd.Value) *autograd.Value {
	if len(x) != len(n.W) {
		exceptions.Panicf("nn: neuron expects %d inputs, got %d", len(n.W), len(x))
	}
	var act *autograd.Value
	for i, wi := range n.W {
		term := wi.Mul(x[i])
		if act == nil {
			act = term
			continue
		}
		act = act.Add(term)
	}
	if act == nil {
		act = n.B
	} else {
		act = act.Add(n.B)
	}
	if n.ReLU {
		return act.Relu()
	}
	return act
}

// Parameters returns the weights in order followed by the bias.
func (n *Neuron) Parameters() []*autograd.Value {
	return append(append([]*autograd.Value(nil), n.W...), n.B)
}

func (n *Neuron) String() string {
	kind := "Linear"
	if n.ReLU {
		kind = "ReLU"
	}
	return fmt.Sprintf("%sNeuron(%d)", kind, len(n.W))
}

// Layer is a list of neurons that all see the same input.
type Layer struct {
	Neurons []*Neuron
}

// NewLayer creates nout neurons with nin inputs each.
func NewLayer(rng *rand.Rand, nin, nout int, relu bool) *Layer {
	if nin < 0 || nout <= 0 {
		exceptions.Panicf("nn: invalid layer shape nin=%d nout=%d", nin, nout)
	}
	neurons := make([]*Neuron, nout)
	for i := range neurons {
		neurons[i] = NewNeuron(rng, nin, relu)
	}
	return &Layer{Neurons: neurons}
}

// Forward computes y = W*x (+ b), one output per neuron.
func (l *Layer) Forward(x []*autograd.Value) []*autograd.Value {
	out := make([]*autograd.Value, len(l.Neurons))
	for i, n := range l.Neurons {
		out[i] = n.Forward(x)
	}
	return out
}

// Parameters flattens the parameters neuron by neuron.
func (l *Layer) Parameters() []*autograd.Value {
	var params []*autograd.Value
	for _, n := range l.Neurons {
		params = append(params, n.Parameters()...)
	}
	return params
}

func (l *Layer) String() string {
	parts := make([]string, len(l.Neurons))
	for i, n := range l.Neurons {
		parts[i] = n.String()
	}
	return "Layer[" + strings.Join(parts, ", ") + "]"
}

// Option configures an MLP.
type Option func(*mlpOptions)

type mlpOptions struct {
	relu bool
}

// WithReLU applies ReLU on every hidden layer. The output layer stays linear.
func WithReLU() Option {
	return func(o *mlpOptions) { o.relu = true }
}

// MLP chains layers; layer i feeds layer i+1.
type MLP struct {
	Layers []*Layer
}

// NewMLP builds an MLP with nin inputs and one layer per entry of outs.
//
// All randomness comes from rng, so a fixed seed gives a fixed network.
func NewMLP(rng *rand.Rand, nin int, outs []int, opts ...Option) *MLP {
	if nin <= 0 || len(outs) == 0 {
		exceptions.Panicf("nn: invalid MLP shape nin=%d outs=%v", nin, outs)
	}
	var o mlpOptions
	for _, opt := range opts {
		opt(&o)
	}

	sizes := append([]int{nin}, outs...)
	layers := make([]*Layer, len(outs))
	for i := range outs {
		if outs[i] <= 0 {
			exceptions.Panicf("nn: layer %d has %d neurons", i, outs[i])
		}
		hidden := i < len(outs)-1
		layers[i] = NewLayer(rng, sizes[i], sizes[i+1], o.relu && hidden)
	}
	return &MLP{Layers: layers}
}

// Forward runs x through every layer.
func (m *MLP) Forward(x []*autograd.Value) []*autograd.Value {
	for _, l := range m.Layers {
		x = l.Forward(x)
	}
	return x
}

// Parameters flattens the parameters layer by layer.
func (m *MLP) Parameters() []*autograd.Value {
	var params []*autograd.Value
	for _, l := range m.Layers {
		params = append(params, l.Parameters()...)
	}
	return params
}

// NumInputs is the input width of the first layer.
func (m *MLP) NumInputs() int {
	return len(m.Layers[0].Neurons[0].W)
}

func (m *MLP) String() string {
	parts := make([]string, len(m.Layers))
	for i, l := range m.Layers {
		parts[i] = l.String()
	}
	return "MLP[\n  " + strings.Join(parts, ",\n  ") + "\n]"
}

// Inputs lifts raw numbers into leaf values.
func Inputs(xs []float64) []*autograd.Value {
	out := make([]*autograd.Value, len(xs))
	for i, x := range xs {
		out[i] = autograd.New(x)
	}
	return out
}
