package autograd

import (
	"math"

	"github.com/gomlx/exceptions"
)

// Operand is anything an operation accepts: an existing node or a bare
// number, which is lifted into a fresh constant leaf.
type Operand interface {
	*Value | float64 | int
}

// Lift returns x itself when it is already a node and a new leaf otherwise.
func Lift[T Operand](x T) *Value {
	switch x := any(x).(type) {
	case *Value:
		if x == nil {
			exceptions.Panicf("autograd: nil operand")
		}
		return x
	case float64:
		return New(x)
	case int:
		return New(float64(x))
	}
	panic("unreachable")
}

// newOp checks the operands and computes the forward value for op.
func newOp(op Op, exp float64, parents ...*Value) *Value {
	for _, p := range parents {
		if p == nil {
			exceptions.Panicf("autograd: nil operand to %q", op)
		}
	}
	out := &Value{op: op, exp: exp, parents: parents}
	a := parents[0].data
	switch op {
	case OpAdd:
		out.data = a + parents[1].data
	case OpMul:
		out.data = a * parents[1].data
	case OpPow:
		out.data = math.Pow(a, exp)
	case OpRelu:
		out.data = math.Max(0, a)
	case OpExp:
		out.data = math.Exp(a)
	case OpLog:
		out.data = math.Log(a)
	default:
		exceptions.Panicf("autograd: %q is not an operation", op)
	}
	return out
}

// Add creates node z = x + y.
// Local derivatives:
// dz/dx = 1
// dz/dy = 1
func (v *Value) Add(other *Value) *Value {
	return newOp(OpAdd, 0, v, other)
}

// Mul creates node z = x * y.
// Local derivatives:
// dz/dx = y
// dz/dy = x
func (v *Value) Mul(other *Value) *Value {
	return newOp(OpMul, 0, v, other)
}

// Neg creates z = -x as x * (-1).
func (v *Value) Neg() *Value {
	return v.Mul(New(-1))
}

// Sub creates z = x - y as x + (-y).
func (v *Value) Sub(other *Value) *Value {
	if other == nil {
		exceptions.Panicf("autograd: nil operand to \"-\"")
	}
	return v.Add(other.Neg())
}

// Pow creates node z = x^p for a constant p.
// Local derivative:
// dz/dx = p * x^(p-1)
//
// A negative x with a fractional p gives NaN, which is left to propagate.
func (v *Value) Pow(power float64) *Value {
	return newOp(OpPow, power, v)
}

// Div creates z = x / y as x * y^-1.
func (v *Value) Div(other *Value) *Value {
	if other == nil {
		exceptions.Panicf("autograd: nil operand to \"/\"")
	}
	return v.Mul(other.Pow(-1))
}

// Relu applies the ReLU activation:
// relu(x) = max(0, x)
//
// Local derivative:
// 1 when x > 0, otherwise 0 (including exactly at 0).
func (v *Value) Relu() *Value {
	return newOp(OpRelu, 0, v)
}

// Exp creates node z = e^x.
// Local derivative:
// dz/dx = e^x
func (v *Value) Exp() *Value {
	return newOp(OpExp, 0, v)
}

// Log creates node z = ln(x).
// Local derivative:
// dz/dx = 1/x
func (v *Value) Log() *Value {
	return newOp(OpLog, 0, v)
}

// Add returns a + b. Either operand may be a bare number.
func Add[A, B Operand](a A, b B) *Value { return Lift(a).Add(Lift(b)) }

// Mul returns a * b. Either operand may be a bare number.
func Mul[A, B Operand](a A, b B) *Value { return Lift(a).Mul(Lift(b)) }

// Sub returns a - b. Either operand may be a bare number.
func Sub[A, B Operand](a A, b B) *Value { return Lift(a).Sub(Lift(b)) }

// Div returns a / b. Either operand may be a bare number.
func Div[A, B Operand](a A, b B) *Value { return Lift(a).Div(Lift(b)) }

// Neg returns -a.
func Neg[T Operand](a T) *Value { return Lift(a).Neg() }

// Pow returns a^n. The exponent is always a constant.
func Pow[T Operand](a T, n float64) *Value { return Lift(a).Pow(n) }

// Relu returns max(0, a).
func Relu[T Operand](a T) *Value { return Lift(a).Relu() }

// Exp returns e^a.
func Exp[T Operand](a T) *Value { return Lift(a).Exp() }

// Log returns ln(a).
func Log[T Operand](a T) *Value { return Lift(a).Log() }
