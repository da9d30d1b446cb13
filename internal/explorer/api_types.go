package explorer

import (
	"github.com/google/uuid"

	"scalargrad-explorer/internal/expr"
)

// EvalRequest is the payload for /api/eval.
// Vars binds every variable the expression references. ZeroGrad clears every
// gradient in the graph before the backward pass.
type EvalRequest struct {
	Expr     expr.Expr          `json:"expr"`
	Vars     map[string]float64 `json:"vars"`
	ZeroGrad bool               `json:"zero_grad"`
}

// EvalResponse reports the forward value and d(value)/d(var) for each variable.
// VarNames lists the variables the expression used, sorted.
type EvalResponse struct {
	Value    Number            `json:"value"`
	Grads    map[string]Number `json:"grads"`
	VarNames []string          `json:"var_names"`
	Nodes    int               `json:"nodes"`
}

// InitRequest is the payload for /api/init.
//
// Layers lists the width of every layer after the input, the last one being
// the output width. Seed fixes the initial weights; zero means use the
// server's default seed.
type InitRequest struct {
	NIn    int   `json:"nin"`
	Layers []int `json:"layers"`
	Seed   int64 `json:"seed"`
	ReLU   bool  `json:"relu"`
}

// InitResponse identifies the new model.
type InitResponse struct {
	ID     uuid.UUID `json:"id"`
	Params int       `json:"params"`
	Shape  string    `json:"shape"`
}

// GradientsRequest asks for the gradient of the mean squared error of a batch.
//
// Inputs[i] is one sample and Targets[i] its expected first output. Unless
// Accumulate is set, parameter gradients are cleared first; with Accumulate
// the new gradients are added to whatever earlier calls left behind.
type GradientsRequest struct {
	ID         uuid.UUID   `json:"id"`
	Inputs     [][]float64 `json:"inputs"`
	Targets    []float64   `json:"targets"`
	Accumulate bool        `json:"accumulate"`
}

// GradientsResponse reports the mean loss over the batch and the summed
// per-parameter gradients, in Parameters() order.
type GradientsResponse struct {
	Loss    Number   `json:"loss"`
	Outputs []Number `json:"outputs"`
	Grads   []Number `json:"grads"`
}

// ParamsRequest reads parameters and, when Values is non-empty, overwrites
// them first. Values must then have one entry per parameter.
type ParamsRequest struct {
	ID     uuid.UUID `json:"id"`
	Values []float64 `json:"values,omitempty"`
}

// ParamsResponse lists parameter values and gradients in Parameters() order.
type ParamsResponse struct {
	Values []Number `json:"values"`
	Grads  []Number `json:"grads"`
}
