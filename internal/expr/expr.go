// Package expr turns JSON expression trees into autograd graphs.
//
// A tree node is either a variable reference, a constant, or an operation:
//
//	{"op": "add", "args": [{"var": "a"}, {"op": "pow", "args": [{"var": "b"}, {"const": 3}]}]}
//
// Every distinct variable name becomes exactly one leaf, so a variable that
// appears twice in the tree is a shared node and receives the sum of both
// gradient contributions.
package expr

import (
	"sort"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"scalargrad-explorer/autograd"
)

var (
	ErrEmptyExpr           = errors.New("expr: empty expression")
	ErrUnknownOp           = errors.New("expr: unknown op")
	ErrArity               = errors.New("expr: wrong number of arguments")
	ErrUnknownVar          = errors.New("expr: unknown variable")
	ErrNonConstantExponent = errors.New("expr: pow exponent must be a constant")
)

// Expr is one node of a JSON expression tree. Exactly one of Op, Var and
// Const is set.
type Expr struct {
	Op    string   `json:"op,omitempty"`
	Args  []Expr   `json:"args,omitempty"`
	Var   string   `json:"var,omitempty"`
	Const *float64 `json:"const,omitempty"`
}

// Graph is the result of Build: the output node plus the leaf behind every
// variable.
type Graph struct {
	Out  *autograd.Value
	Vars map[string]*autograd.Value
}

// buildError carries a sentinel through the builder's panics so TryCatch can
// hand it back as an ordinary error.
type buildError struct {
	err error
}

func fail(err error, format string, args ...any) {
	panic(buildError{errors.Wrapf(err, format, args...)})
}

// Build evaluates e with the given variable bindings.
//
// Unknown ops, wrong arities, unbound variables and pow with a non-constant
// exponent are rejected before any node for the offending op is created.
func Build(e Expr, vars map[string]float64) (g *Graph, err error) {
	b := &builder{vars: vars, leaves: make(map[string]*autograd.Value)}
	caught := exceptions.TryCatch[buildError](func() {
		g = &Graph{Out: b.build(e, "$"), Vars: b.leaves}
	})
	if caught.err != nil {
		return nil, caught.err
	}
	return g, nil
}

type builder struct {
	vars   map[string]float64
	leaves map[string]*autograd.Value
}

var arity = map[string]int{
	"add":  2,
	"mul":  2,
	"sub":  2,
	"div":  2,
	"pow":  2,
	"neg":  1,
	"relu": 1,
	"exp":  1,
	"log":  1,
}

func (b *builder) build(e Expr, path string) *autograd.Value {
	switch {
	case e.Var != "":
		if leaf, ok := b.leaves[e.Var]; ok {
			return leaf
		}
		x, ok := b.vars[e.Var]
		if !ok {
			fail(ErrUnknownVar, "%s: %q", path, e.Var)
		}
		leaf := autograd.New(x)
		b.leaves[e.Var] = leaf
		return leaf
	case e.Const != nil:
		return autograd.New(*e.Const)
	case e.Op == "":
		fail(ErrEmptyExpr, "%s", path)
	}

	n, ok := arity[e.Op]
	if !ok {
		fail(ErrUnknownOp, "%s: %q", path, e.Op)
	}
	if len(e.Args) != n {
		fail(ErrArity, "%s: %s takes %d, got %d", path, e.Op, n, len(e.Args))
	}
	if e.Op == "pow" {
		exp := e.Args[1]
		if exp.Const == nil {
			fail(ErrNonConstantExponent, "%s.args[1]", path)
		}
		return b.build(e.Args[0], path+".args[0]").Pow(*exp.Const)
	}

	x := b.build(e.Args[0], path+".args[0]")
	switch e.Op {
	case "neg":
		return x.Neg()
	case "relu":
		return x.Relu()
	case "exp":
		return x.Exp()
	case "log":
		return x.Log()
	}

	y := b.build(e.Args[1], path+".args[1]")
	switch e.Op {
	case "add":
		return x.Add(y)
	case "mul":
		return x.Mul(y)
	case "sub":
		return x.Sub(y)
	default: // div
		return x.Div(y)
	}
}

// Backward runs the backward pass from the output, optionally clearing every
// gradient in the graph first.
func (g *Graph) Backward(zeroGrad bool) {
	if zeroGrad {
		g.Out.ZeroGrad()
	}
	g.Out.Backward()
}

// Gradients returns d(out)/d(var) for every variable used by the tree.
func (g *Graph) Gradients() map[string]float64 {
	grads := make(map[string]float64, len(g.Vars))
	for name, leaf := range g.Vars {
		grads[name] = leaf.Grad()
	}
	return grads
}

// VarNames returns the variables used by the tree in sorted order.
func (g *Graph) VarNames() []string {
	names := make([]string, 0, len(g.Vars))
	for name := range g.Vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Size is the number of distinct nodes in the graph.
func (g *Graph) Size() int {
	return len(autograd.Topo(g.Out))
}
