package autograd

import "math"

// Topo returns every node reachable from out, ordered so that each node comes
// after all of its parents. out is always last.
//
// The walk is an iterative depth-first search: a node is emitted once all of
// its parents have been emitted, and the visited set guarantees a shared
// ancestor appears exactly once however many paths lead to it.
func Topo(out *Value) []*Value {
	type frame struct {
		node *Value
		next int
	}

	var topo []*Value
	visited := map[*Value]bool{out: true}
	stack := []frame{{node: out}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < len(top.node.parents) {
			p := top.node.parents[top.next]
			top.next++
			if !visited[p] {
				visited[p] = true
				stack = append(stack, frame{node: p})
			}
			continue
		}
		topo = append(topo, top.node)
		stack = stack[:len(stack)-1]
	}
	return topo
}

// Backward performs reverse-mode autodiff from this node to all ancestors.
//
// Process:
// 1) Build topological order so each node is handled only after every node
//    that consumes it.
// 2) Seed output gradient with 1 (dOutput/dOutput = 1).
// 3) Traverse graph in reverse topological order and accumulate gradients.
//
// Gradients are added to whatever is already stored. Calling Backward again
// without ZeroGrad sums the passes.
func (v *Value) Backward() {
	topo := Topo(v)
	v.grad = 1
	for i := len(topo) - 1; i >= 0; i-- {
		topo[i].propagate()
	}
}

// Backward is the function form of (*Value).Backward.
func Backward(out *Value) { out.Backward() }

// propagate adds this node's contribution to each parent's gradient using the
// chain rule for its op.
func (v *Value) propagate() {
	g := v.grad
	switch v.op {
	case OpAdd:
		v.parents[0].grad += g
		v.parents[1].grad += g
	case OpMul:
		a, b := v.parents[0], v.parents[1]
		a.grad += b.data * g
		b.grad += a.data * g
	case OpPow:
		a := v.parents[0]
		a.grad += v.exp * math.Pow(a.data, v.exp-1) * g
	case OpRelu:
		if a := v.parents[0]; a.data > 0 {
			a.grad += g
		}
	case OpExp:
		v.parents[0].grad += v.data * g
	case OpLog:
		a := v.parents[0]
		a.grad += g / a.data
	}
}

// ZeroGrad resets the gradient of every node reachable from v, v included.
func (v *Value) ZeroGrad() {
	for _, n := range Topo(v) {
		n.grad = 0
	}
}

// ZeroGrad resets the gradients of exactly the given nodes.
func ZeroGrad(vs ...*Value) {
	for _, v := range vs {
		v.grad = 0
	}
}
