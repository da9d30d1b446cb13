package explorer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	backwardPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "explorer_backward_passes_total",
		Help: "Backward passes run, by source (eval or model).",
	}, []string{"source"})

	graphNodes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "explorer_graph_nodes",
		Help:    "Distinct nodes in each graph a backward pass walked.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10), // 1 to ~260k
	}, []string{"source"})

	requestErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "explorer_request_errors_total",
		Help: "Requests rejected, by endpoint and HTTP status.",
	}, []string{"endpoint", "status"})

	modelsLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "explorer_models",
		Help: "Models currently registered.",
	})
)
