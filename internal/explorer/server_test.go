package explorer

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func newTestHandler() http.Handler {
	mux := http.NewServeMux()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	NewServer(Config{MaxBatch: 4, MaxParams: 50}, logger).RegisterRoutes(mux)
	return mux
}

func post(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatalf("encode: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func TestEvalComposite(t *testing.T) {
	h := newTestHandler()
	rec := post(t, h, "/api/eval", `{
		"expr": {"op":"add","args":[
			{"op":"mul","args":[{"var":"a"},{"var":"b"}]},
			{"op":"pow","args":[{"var":"b"},{"const":3}]}]},
		"vars": {"a": -4, "b": 2}}`)
	resp := decode[EvalResponse](t, rec)
	if resp.Value != 0 || resp.Grads["a"] != 2 || resp.Grads["b"] != 8 {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Nodes != 5 {
		t.Errorf("nodes = %d, want 5", resp.Nodes)
	}
}

func TestEvalNonFiniteResultIsReported(t *testing.T) {
	h := newTestHandler()
	rec := post(t, h, "/api/eval", `{
		"expr": {"op":"pow","args":[{"var":"a"},{"const":0.5}]},
		"vars": {"a": -4}}`)
	body := rec.Body.String()
	if !strings.Contains(body, `"value":"NaN"`) || !strings.Contains(body, `"a":"NaN"`) {
		t.Errorf("body = %q, want NaN value and gradient", body)
	}
	resp := decode[EvalResponse](t, rec)
	if !math.IsNaN(float64(resp.Value)) || resp.Value.Finite() {
		t.Errorf("value = %v, want NaN", resp.Value)
	}

	rec = post(t, h, "/api/eval", `{"expr": {"op":"log","args":[{"const":0}]}}`)
	resp = decode[EvalResponse](t, rec)
	if !math.IsInf(float64(resp.Value), -1) {
		t.Errorf("log(0) = %v, want -Inf", resp.Value)
	}
}

func TestEvalZeroGradAndVarNames(t *testing.T) {
	h := newTestHandler()
	rec := post(t, h, "/api/eval", `{
		"expr": {"op":"mul","args":[{"var":"y"},{"op":"add","args":[{"var":"x"},{"var":"y"}]}]},
		"vars": {"x": 2, "y": 3},
		"zero_grad": true}`)
	resp := decode[EvalResponse](t, rec)
	// y*(x+y): d/dx = y, d/dy = x + 2y
	if resp.Value != 15 || resp.Grads["x"] != 3 || resp.Grads["y"] != 8 {
		t.Errorf("resp = %+v", resp)
	}
	if len(resp.VarNames) != 2 || resp.VarNames[0] != "x" || resp.VarNames[1] != "y" {
		t.Errorf("var_names = %v, want [x y]", resp.VarNames)
	}
}

func TestEvalRejectsNodeExponent(t *testing.T) {
	h := newTestHandler()
	rec := post(t, h, "/api/eval", `{
		"expr": {"op":"pow","args":[{"var":"a"},{"var":"a"}]},
		"vars": {"a": 2}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "exponent must be a constant") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestEvalMalformedJSON(t *testing.T) {
	rec := post(t, newTestHandler(), "/api/eval", `{"expr":`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func initModel(t *testing.T, h http.Handler, weights []float64) uuid.UUID {
	t.Helper()
	init := decode[InitResponse](t, post(t, h, "/api/init", InitRequest{NIn: 2, Layers: []int{1}, Seed: 5}))
	if init.Params != 3 {
		t.Fatalf("params = %d, want 3", init.Params)
	}
	decode[ParamsResponse](t, post(t, h, "/api/params", ParamsRequest{ID: init.ID, Values: weights}))
	return init.ID
}

func TestGradientsAndAccumulation(t *testing.T) {
	h := newTestHandler()
	id := initModel(t, h, []float64{1, 2, 0.5})

	// y = 1*1 + 2*1 + 0.5 = 3.5; loss = (3.5-2)^2; dloss/dy = 3
	req := GradientsRequest{ID: id, Inputs: [][]float64{{1, 1}}, Targets: []float64{2}}
	resp := decode[GradientsResponse](t, post(t, h, "/api/gradients", req))
	if resp.Loss != 2.25 || resp.Outputs[0] != 3.5 {
		t.Fatalf("resp = %+v", resp)
	}
	for i, g := range resp.Grads {
		if g != 3 {
			t.Errorf("grad[%d] = %v, want 3", i, g)
		}
	}

	req.Accumulate = true
	resp = decode[GradientsResponse](t, post(t, h, "/api/gradients", req))
	for i, g := range resp.Grads {
		if g != 6 {
			t.Errorf("accumulated grad[%d] = %v, want 6", i, g)
		}
	}

	req.Accumulate = false
	resp = decode[GradientsResponse](t, post(t, h, "/api/gradients", req))
	if resp.Grads[0] != 3 {
		t.Errorf("grad after reset = %v, want 3", resp.Grads[0])
	}

	params := decode[ParamsResponse](t, post(t, h, "/api/params", ParamsRequest{ID: id}))
	if params.Values[1] != 2 || params.Grads[2] != 3 {
		t.Errorf("params = %+v", params)
	}
}

func TestGradientsOverflowIsReported(t *testing.T) {
	h := newTestHandler()
	id := initModel(t, h, []float64{1e200, 1e200, 0})

	req := GradientsRequest{ID: id, Inputs: [][]float64{{1e200, 1e200}}, Targets: []float64{0}}
	rec := post(t, h, "/api/gradients", req)
	if !strings.Contains(rec.Body.String(), `"loss":"+Inf"`) {
		t.Errorf("body = %q, want +Inf loss", rec.Body.String())
	}
	resp := decode[GradientsResponse](t, rec)
	if !math.IsInf(float64(resp.Outputs[0]), 1) || !math.IsInf(float64(resp.Grads[0]), 1) {
		t.Errorf("resp = %+v, want +Inf output and gradient", resp)
	}
}

func TestGradientsBatchSumsSamples(t *testing.T) {
	h := newTestHandler()
	id := initModel(t, h, []float64{1, 0, 0})

	// y = x0; losses (1-0)^2 and (3-1)^2; dloss/dw0 = 2*1*1 + 2*2*3 = 14
	req := GradientsRequest{ID: id, Inputs: [][]float64{{1, 0}, {3, 0}}, Targets: []float64{0, 1}}
	resp := decode[GradientsResponse](t, post(t, h, "/api/gradients", req))
	if resp.Loss != 2.5 {
		t.Errorf("loss = %v, want 2.5", resp.Loss)
	}
	if resp.Grads[0] != 14 || resp.Grads[1] != 0 || resp.Grads[2] != 6 {
		t.Errorf("grads = %v, want [14 0 6]", resp.Grads)
	}
}

func TestGradientsErrors(t *testing.T) {
	h := newTestHandler()
	id := initModel(t, h, []float64{1, 1, 1})

	cases := []struct {
		name string
		req  GradientsRequest
		code int
	}{
		{"unknown model", GradientsRequest{ID: uuid.New(), Inputs: [][]float64{{1, 1}}, Targets: []float64{1}}, http.StatusNotFound},
		{"empty batch", GradientsRequest{ID: id}, http.StatusBadRequest},
		{"mismatched targets", GradientsRequest{ID: id, Inputs: [][]float64{{1, 1}}, Targets: []float64{1, 2}}, http.StatusBadRequest},
		{"wrong width", GradientsRequest{ID: id, Inputs: [][]float64{{1}}, Targets: []float64{1}}, http.StatusBadRequest},
		{"too large", GradientsRequest{ID: id, Inputs: make([][]float64, 5), Targets: make([]float64, 5)}, http.StatusBadRequest},
	}
	for _, c := range cases {
		rec := post(t, h, "/api/gradients", c.req)
		if rec.Code != c.code {
			t.Errorf("%s: status = %d, want %d (%s)", c.name, rec.Code, c.code, rec.Body.String())
		}
	}
}

func TestInitValidation(t *testing.T) {
	h := newTestHandler()
	cases := []InitRequest{
		{NIn: 0, Layers: []int{1}},
		{NIn: 2},
		{NIn: 2, Layers: []int{3, 0}},
		{NIn: 10, Layers: []int{10}}, // 110 params, limit 50
	}
	for _, c := range cases {
		if rec := post(t, h, "/api/init", c); rec.Code != http.StatusBadRequest {
			t.Errorf("%+v: status = %d, want 400", c, rec.Code)
		}
	}
}

func TestInitSameSeedSameWeights(t *testing.T) {
	h := newTestHandler()
	read := func() []Number {
		init := decode[InitResponse](t, post(t, h, "/api/init", InitRequest{NIn: 2, Layers: []int{2, 1}, Seed: 11, ReLU: true}))
		return decode[ParamsResponse](t, post(t, h, "/api/params", ParamsRequest{ID: init.ID})).Values
	}
	a, b := read(), read()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("param %d differs: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestParamsWrongCount(t *testing.T) {
	h := newTestHandler()
	id := initModel(t, h, []float64{1, 1, 1})
	rec := post(t, h, "/api/params", ParamsRequest{ID: id, Values: []float64{1}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestHandler()
	post(t, h, "/api/eval", `{"expr":{"op":"relu","args":[{"const":1}]}}`)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "explorer_backward_passes_total") {
		t.Errorf("metrics output missing backward counter")
	}
}
