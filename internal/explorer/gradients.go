package explorer

import (
	"context"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"scalargrad-explorer/autograd"
	"scalargrad-explorer/internal/expr"
	"scalargrad-explorer/nn"
)

var (
	ErrEmptyBatch    = errors.New("explorer: batch is empty")
	ErrBatchTooLarge = errors.New("explorer: batch too large")
	ErrBatchShape    = errors.New("explorer: inputs and targets do not line up")
	ErrParamCount    = errors.New("explorer: wrong number of parameter values")
)

// Model is one registered network.
//
// mu is held for the whole forward/backward so concurrent requests never
// interleave writes to the same gradient accumulators.
type Model struct {
	ID  uuid.UUID
	Net *nn.MLP
	mu  sync.Mutex
}

// Evaluate builds the graph for req, runs one backward pass and reports the
// gradient of the output with respect to every variable.
func Evaluate(ctx context.Context, req EvalRequest) (EvalResponse, error) {
	_, span := tracer.Start(ctx, "explorer.Evaluate")
	defer span.End()

	g, err := expr.Build(req.Expr, req.Vars)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build failed")
		return EvalResponse{}, err
	}
	g.Backward(req.ZeroGrad)

	nodes := g.Size()
	backwardPasses.WithLabelValues("eval").Inc()
	graphNodes.WithLabelValues("eval").Observe(float64(nodes))
	span.SetAttributes(
		attribute.Int("nodes", nodes),
		attribute.Int("vars", len(g.Vars)),
	)
	grads := make(map[string]Number, len(g.Vars))
	for name, d := range g.Gradients() {
		grads[name] = Number(d)
	}
	return EvalResponse{
		Value:    Number(g.Out.Data()),
		Grads:    grads,
		VarNames: g.VarNames(),
		Nodes:    nodes,
	}, nil
}

// sampleLoss computes one squared-error loss and backpropagates it.
//
// It does not clear gradients by itself: each call adds its contribution.
func sampleLoss(net *nn.MLP, input []float64, target float64) (loss, output float64, nodes int) {
	out := net.Forward(nn.Inputs(input))
	l := nn.SquaredError(out[0], autograd.New(target))
	l.Backward()
	return l.Data(), out[0].Data(), len(autograd.Topo(l))
}

// BatchGradients runs one backward pass per sample so parameter gradients
// end up summed over the batch. The reported loss is the batch mean.
func BatchGradients(ctx context.Context, m *Model, req GradientsRequest, maxBatch int) (GradientsResponse, error) {
	_, span := tracer.Start(ctx, "explorer.BatchGradients", trace.WithAttributes(
		attribute.String("model", m.ID.String()),
		attribute.Int("batch", len(req.Inputs)),
		attribute.Bool("accumulate", req.Accumulate),
	))
	defer span.End()

	if err := validateBatch(m.Net, req, maxBatch); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid batch")
		return GradientsResponse{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Ensure gradients are clean before accumulating batch gradients.
	if !req.Accumulate {
		nn.ZeroGrad(m.Net)
	}

	resp := GradientsResponse{Outputs: make([]Number, len(req.Inputs))}
	err := exceptions.TryCatch[error](func() {
		total := 0.0
		for i, x := range req.Inputs {
			loss, out, nodes := sampleLoss(m.Net, x, req.Targets[i])
			total += loss
			resp.Outputs[i] = Number(out)
			backwardPasses.WithLabelValues("model").Inc()
			graphNodes.WithLabelValues("model").Observe(float64(nodes))
		}
		resp.Loss = Number(total / float64(len(req.Inputs)))
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "backward failed")
		return GradientsResponse{}, err
	}

	params := m.Net.Parameters()
	grads := make([]float64, len(params))
	for i, p := range params {
		grads[i] = p.Grad()
	}
	resp.Grads = numbers(grads)
	span.SetAttributes(attribute.Float64("loss", float64(resp.Loss)))
	return resp, nil
}

func validateBatch(net *nn.MLP, req GradientsRequest, maxBatch int) error {
	switch {
	case len(req.Inputs) == 0:
		return ErrEmptyBatch
	case len(req.Inputs) > maxBatch:
		return errors.Wrapf(ErrBatchTooLarge, "%d samples, limit %d", len(req.Inputs), maxBatch)
	case len(req.Inputs) != len(req.Targets):
		return errors.Wrapf(ErrBatchShape, "%d inputs, %d targets", len(req.Inputs), len(req.Targets))
	}
	nin := net.NumInputs()
	for i, x := range req.Inputs {
		if len(x) != nin {
			return errors.Wrapf(ErrBatchShape, "sample %d has %d features, model takes %d", i, len(x), nin)
		}
	}
	return nil
}

// Params reads the model's parameters, first overwriting their values when
// values is non-empty.
func Params(m *Model, values []float64) (ParamsResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	params := m.Net.Parameters()
	if len(values) > 0 {
		if len(values) != len(params) {
			return ParamsResponse{}, errors.Wrapf(ErrParamCount, "got %d, model has %d", len(values), len(params))
		}
		for i, p := range params {
			p.SetData(values[i])
		}
	}

	resp := ParamsResponse{
		Values: make([]Number, len(params)),
		Grads:  make([]Number, len(params)),
	}
	for i, p := range params {
		resp.Values[i] = Number(p.Data())
		resp.Grads[i] = Number(p.Grad())
	}
	return resp, nil
}
