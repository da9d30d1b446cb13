// Package explorer serves the autograd engine and the MLP model layer over a
// small JSON HTTP API.
package explorer

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"scalargrad-explorer/nn"
)

var tracer = otel.Tracer("explorer")

var (
	ErrModelNotFound = errors.New("explorer: model not found")
	ErrBadShape      = errors.New("explorer: invalid model shape")
)

// Server owns HTTP handlers and the registry of live models.
//
// Model math lives in the nn and autograd packages; Server only does request
// handling and lifecycle wiring.
type Server struct {
	cfg    Config
	log    *slog.Logger
	mu     sync.RWMutex
	models map[uuid.UUID]*Model
}

// NewServer creates an API server with no models.
func NewServer(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg.withDefaults(),
		log:    logger,
		models: make(map[uuid.UUID]*Model),
	}
}

// RegisterRoutes attaches all endpoints to the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/eval", s.handleEval)
	mux.HandleFunc("POST /api/init", s.handleInit)
	mux.HandleFunc("POST /api/gradients", s.handleGradients)
	mux.HandleFunc("POST /api/params", s.handleParams)
	mux.Handle("GET /metrics", promhttp.Handler())
}

func (s *Server) model(id uuid.UUID) (*Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.models[id]
	if !ok {
		return nil, errors.Wrap(ErrModelNotFound, id.String())
	}
	return m, nil
}

func (s *Server) addModel(m *Model) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[m.ID] = m
	modelsLive.Set(float64(len(s.models)))
}

// writeJSON is a helper to consistently send JSON responses.
//
// The payload is encoded before the header goes out, so an encoding failure
// becomes a 500 instead of an empty 200.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, endpoint string, status int, payload any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		s.fail(w, r, endpoint, http.StatusInternalServerError, errors.Wrap(err, "encode response"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// decodeOptionalJSON decodes JSON when body is present.
// Empty bodies are treated as "use defaults" rather than errors.
func decodeOptionalJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == io.EOF {
		return nil
	}
	return errors.Wrap(err, "decode request")
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, endpoint string, status int, err error) {
	requestErrors.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	s.log.WarnContext(r.Context(), "request rejected",
		slog.String("endpoint", endpoint),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)
	http.Error(w, err.Error(), status)
}

func (s *Server) handleEval(w http.ResponseWriter, r *http.Request) {
	var req EvalRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		s.fail(w, r, "eval", http.StatusBadRequest, err)
		return
	}
	resp, err := Evaluate(r.Context(), req)
	if err != nil {
		s.fail(w, r, "eval", http.StatusBadRequest, err)
		return
	}
	s.log.DebugContext(r.Context(), "evaluated expression",
		slog.Float64("value", float64(resp.Value)),
		slog.Int("nodes", resp.Nodes),
	)
	s.writeJSON(w, r, "eval", http.StatusOK, resp)
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	var req InitRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		s.fail(w, r, "init", http.StatusBadRequest, err)
		return
	}
	if err := s.checkShape(req); err != nil {
		s.fail(w, r, "init", http.StatusBadRequest, err)
		return
	}

	seed := req.Seed
	if seed == 0 {
		seed = s.cfg.DefaultSeed
	}
	var opts []nn.Option
	if req.ReLU {
		opts = append(opts, nn.WithReLU())
	}
	m := &Model{
		ID:  uuid.New(),
		Net: nn.NewMLP(rand.New(rand.NewSource(seed)), req.NIn, req.Layers, opts...),
	}
	s.addModel(m)

	params := len(m.Net.Parameters())
	s.log.InfoContext(r.Context(), "model initialized",
		slog.String("id", m.ID.String()),
		slog.Int("params", params),
		slog.Int64("seed", seed),
	)
	s.writeJSON(w, r, "init", http.StatusOK, InitResponse{ID: m.ID, Params: params, Shape: m.Net.String()})
}

// checkShape rejects shapes NewMLP would panic on and models above the
// configured size.
func (s *Server) checkShape(req InitRequest) error {
	if req.NIn <= 0 || len(req.Layers) == 0 {
		return errors.Wrapf(ErrBadShape, "nin=%d layers=%v", req.NIn, req.Layers)
	}
	params, width := 0, req.NIn
	for i, n := range req.Layers {
		if n <= 0 {
			return errors.Wrapf(ErrBadShape, "layer %d has %d neurons", i, n)
		}
		params += (width + 1) * n
		if params > s.cfg.MaxParams {
			return errors.Wrapf(ErrBadShape, "more than %d parameters", s.cfg.MaxParams)
		}
		width = n
	}
	return nil
}

func (s *Server) handleGradients(w http.ResponseWriter, r *http.Request) {
	var req GradientsRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		s.fail(w, r, "gradients", http.StatusBadRequest, err)
		return
	}
	m, err := s.model(req.ID)
	if err != nil {
		s.fail(w, r, "gradients", http.StatusNotFound, err)
		return
	}
	resp, err := BatchGradients(r.Context(), m, req, s.cfg.MaxBatch)
	if err != nil {
		s.fail(w, r, "gradients", http.StatusBadRequest, err)
		return
	}
	s.log.DebugContext(r.Context(), "gradients computed",
		slog.String("id", m.ID.String()),
		slog.Int("batch", len(req.Inputs)),
		slog.Float64("loss", float64(resp.Loss)),
	)
	s.writeJSON(w, r, "gradients", http.StatusOK, resp)
}

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	var req ParamsRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		s.fail(w, r, "params", http.StatusBadRequest, err)
		return
	}
	m, err := s.model(req.ID)
	if err != nil {
		s.fail(w, r, "params", http.StatusNotFound, err)
		return
	}
	resp, err := Params(m, req.Values)
	if err != nil {
		s.fail(w, r, "params", http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, r, "params", http.StatusOK, resp)
}
