// Package api exposes the consensus engine over gRPC and an Arrow batch
// endpoint, and exports its Prometheus metrics.
package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/VanDung-dev/HieraChain-Consensus/consensus"
)

// Metrics holds all Prometheus metrics for the consensus service. It
// implements consensus.Recorder.
type Metrics struct {
	// Round metrics
	RoundsTotal       *prometheus.CounterVec
	RoundLatency      prometheus.Histogram
	RoundParticipants prometheus.Histogram
	RoundConfidence   prometheus.Histogram

	// Node metrics
	NodeCallsTotal  *prometheus.CounterVec
	NodeLatency     *prometheus.HistogramVec
	NodeReliability *prometheus.GaugeVec

	// Batch metrics
	BatchesTotal prometheus.Counter
	BatchSize    prometheus.Histogram
	BatchLatency prometheus.Histogram

	// gRPC metrics
	GRPCRequestsTotal   *prometheus.CounterVec
	GRPCRequestDuration *prometheus.HistogramVec
}

var _ consensus.Recorder = (*Metrics)(nil)

// NewMetrics creates a new Metrics instance with the given namespace,
// registered with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RoundsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Total consensus rounds by outcome",
		}, []string{"outcome"}),
		RoundLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_latency_seconds",
			Help:      "Consensus round latency in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		RoundParticipants: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_participants",
			Help:      "Number of nodes that responded per round",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10, 16},
		}),
		RoundConfidence: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_confidence",
			Help:      "Final confidence of completed rounds",
			Buckets:   []float64{.1, .2, .3, .4, .5, .6, .7, .8, .9, 1},
		}),

		NodeCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_calls_total",
			Help:      "Total node executor calls by node and outcome",
		}, []string{"node", "outcome"}),
		NodeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_latency_seconds",
			Help:      "Node executor call latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"node"}),
		NodeReliability: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "node_reliability",
			Help:      "Current reliability of each node",
		}, []string{"node"}),

		BatchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Total number of Arrow batches processed",
		}),
		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of requests per batch",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		BatchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_latency_seconds",
			Help:      "Batch processing latency in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),

		GRPCRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "Total gRPC requests by method and status",
		}, []string{"method", "status"}),
		GRPCRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grpc_request_duration_seconds",
			Help:      "gRPC request duration by method",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// RecordRound records a finished round. Participants and confidence are
// only observed for rounds that produced a result.
func (m *Metrics) RecordRound(outcome string, participants int, confidence float64, duration time.Duration) {
	m.RoundsTotal.WithLabelValues(outcome).Inc()
	m.RoundLatency.Observe(duration.Seconds())
	if outcome == consensus.OutcomeConsensus || outcome == consensus.OutcomeFallback {
		m.RoundParticipants.Observe(float64(participants))
		m.RoundConfidence.Observe(confidence)
	}
}

// RecordNodeCall records a single executor call.
func (m *Metrics) RecordNodeCall(nodeID, outcome string, duration time.Duration) {
	m.NodeCallsTotal.WithLabelValues(nodeID, outcome).Inc()
	m.NodeLatency.WithLabelValues(nodeID).Observe(duration.Seconds())
}

// SetReliability updates a node's reliability gauge.
func (m *Metrics) SetReliability(nodeID string, reliability float64) {
	m.NodeReliability.WithLabelValues(nodeID).Set(reliability)
}

// RecordBatch records a batch processing event.
func (m *Metrics) RecordBatch(size int, duration time.Duration) {
	m.BatchesTotal.Inc()
	m.BatchSize.Observe(float64(size))
	m.BatchLatency.Observe(duration.Seconds())
}

// RecordGRPCRequest records a gRPC request.
func (m *Metrics) RecordGRPCRequest(method, status string, duration time.Duration) {
	m.GRPCRequestsTotal.WithLabelValues(method, status).Inc()
	m.GRPCRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// MetricsServer runs an HTTP server exposing /metrics endpoint.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer creates a new metrics server on the given address,
// serving the metrics collected by gatherer.
func NewMetricsServer(addr string, gatherer prometheus.Gatherer) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &MetricsServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler returns the HTTP handler of the server.
func (s *MetricsServer) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the metrics server (blocking).
func (s *MetricsServer) Start() error {
	return s.server.ListenAndServe()
}

// StartAsync starts the metrics server in a goroutine.
func (s *MetricsServer) StartAsync() {
	go func() {
		_ = s.server.ListenAndServe()
	}()
}

// Stop gracefully stops the metrics server.
func (s *MetricsServer) Stop() error {
	return s.server.Close()
}
