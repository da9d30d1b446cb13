package nn

import (
	"github.com/gomlx/exceptions"

	"scalargrad-explorer/autograd"
)

// SquaredError returns (pred - target)^2.
func SquaredError(pred, target *autograd.Value) *autograd.Value {
	return pred.Sub(target).Pow(2)
}

// MeanSquaredError averages the squared error of each prediction against the
// matching target. Targets are constants, so no gradient flows into them.
func MeanSquaredError(preds []*autograd.Value, targets []float64) *autograd.Value {
	if len(preds) != len(targets) || len(preds) == 0 {
		exceptions.Panicf("nn: %d predictions for %d targets", len(preds), len(targets))
	}
	total := SquaredError(preds[0], autograd.New(targets[0]))
	for i := 1; i < len(preds); i++ {
		total = total.Add(SquaredError(preds[i], autograd.New(targets[i])))
	}
	return autograd.Mul(total, 1.0/float64(len(preds)))
}

// Softmax converts logits into probabilities that sum to 1.
func Softmax(logits []*autograd.Value) []*autograd.Value {
	exps := make([]*autograd.Value, len(logits))
	var total *autograd.Value
	for i, l := range logits {
		exps[i] = l.Exp()
		if total == nil {
			total = exps[i]
		} else {
			total = total.Add(exps[i])
		}
	}

	probs := make([]*autograd.Value, len(logits))
	for i, e := range exps {
		probs[i] = e.Div(total)
	}
	return probs
}

// CrossEntropy is -log(softmax(logits)[target]).
func CrossEntropy(logits []*autograd.Value, target int) *autograd.Value {
	if target < 0 || target >= len(logits) {
		exceptions.Panicf("nn: target class %d out of range for %d logits", target, len(logits))
	}
	return Softmax(logits)[target].Log().Neg()
}
