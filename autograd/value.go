// Package autograd is a tiny reverse-mode automatic differentiation engine
// over scalar values.
//
// Every arithmetic operation returns a new *Value that remembers its operands.
// Evaluating an expression therefore builds a DAG as a side effect, and
// Backward walks that DAG once to fill in d(output)/d(node) for every node.
package autograd

import (
	"fmt"

	"github.com/gomlx/exceptions"
)

// Op identifies the operation that produced a Value.
type Op uint8

const (
	OpLeaf Op = iota
	OpAdd
	OpMul
	OpPow
	OpRelu
	OpExp
	OpLog
)

var opNames = [...]string{
	OpLeaf: "",
	OpAdd:  "+",
	OpMul:  "*",
	OpPow:  "**",
	OpRelu: "relu",
	OpExp:  "exp",
	OpLog:  "log",
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("Op(%d)", uint8(op))
}

// Value is one node of the computation graph.
//
// Think of it as a "number with memory":
//   - data is the number computed in the forward pass.
//   - grad is how much the final output changes if this number changes a little.
//   - parents are the operands this value was computed from.
//   - op selects the local derivative rule used during Backward.
//
// A Value is shared: any number of later values may use it as an operand.
type Value struct {
	data    float64
	grad    float64
	parents []*Value
	op      Op
	exp     float64 // exponent, OpPow only
}

// New creates a leaf node (a plain number with no parents).
func New(data float64) *Value {
	return &Value{data: data}
}

// Data returns the forward value.
func (v *Value) Data() float64 { return v.data }

// Grad returns the accumulated gradient.
func (v *Value) Grad() float64 { return v.grad }

// Op returns the operation that produced v, OpLeaf for leaves.
func (v *Value) Op() Op { return v.op }

// IsLeaf reports whether v was created from a number rather than an operation.
func (v *Value) IsLeaf() bool { return len(v.parents) == 0 }

// Parents returns a copy of v's operands in order.
func (v *Value) Parents() []*Value {
	return append([]*Value(nil), v.parents...)
}

// SetData overwrites the value of a leaf, typically a parameter being
// updated between training iterations. Derived values are immutable and
// SetData panics when called on one.
func (v *Value) SetData(data float64) {
	if !v.IsLeaf() {
		exceptions.Panicf("autograd: SetData on derived value %v (op %q)", v, v.op)
	}
	v.data = data
}

func (v *Value) String() string {
	return fmt.Sprintf("Value(data=%g)", v.data)
}
