package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the engine.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	// Stream metrics
	ConnectionState *prometheus.GaugeVec
	Reconnects      prometheus.Counter
	DecodeFailures  prometheus.Counter

	// Reconciler metrics
	Messages     *prometheus.CounterVec
	SequenceGaps *prometheus.CounterVec
	Resyncs      *prometheus.CounterVec
	GraphNodes   prometheus.Gauge
	GraphEdges   prometheus.Gauge

	// Layout metrics
	TickDuration     prometheus.Histogram
	Alpha            prometheus.Gauge
	SimulationErrors prometheus.Counter

	// Import metrics
	JobTransitions *prometheus.CounterVec
	PollFailures   prometheus.Counter
	ImportRequests *prometheus.CounterVec
	ImportDuration *prometheus.HistogramVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	mu     sync.Mutex
	states []string
}

// NewCollector creates a collector on its own registry
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		ConnectionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "connection_state",
				Help:      "1 for the current stream connection state, 0 otherwise",
			},
			[]string{"state"},
		),
		Reconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "reconnects_total",
				Help:      "Total number of reconnection attempts",
			},
		),
		DecodeFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "decode_failures_total",
				Help:      "Total number of frames that could not be decoded",
			},
		),
		Messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reconciler",
				Name:      "messages_total",
				Help:      "Messages handled by the reconciler by outcome",
			},
			[]string{"type", "outcome"},
		),
		SequenceGaps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reconciler",
				Name:      "sequence_gaps_total",
				Help:      "Sequence gaps that outlived the reorder window",
			},
			[]string{"topic"},
		),
		Resyncs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reconciler",
				Name:      "resyncs_total",
				Help:      "Resync requests sent",
			},
			[]string{"topic"},
		),
		GraphNodes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "graph",
				Name:      "nodes",
				Help:      "Nodes in the graph model",
			},
		),
		GraphEdges: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "graph",
				Name:      "edges",
				Help:      "Edges in the graph model",
			},
		),
		TickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "layout",
				Name:      "step_duration_seconds",
				Help:      "Time spent in one simulation step",
				Buckets:   []float64{.0005, .001, .002, .004, .008, .012, .016, .032, .064},
			},
		),
		Alpha: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "layout",
				Name:      "alpha",
				Help:      "Highest body heat in the simulation",
			},
		),
		SimulationErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "layout",
				Name:      "simulation_errors_total",
				Help:      "Bodies reset after non-finite state",
			},
		),
		JobTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "imports",
				Name:      "job_transitions_total",
				Help:      "Import job status transitions",
			},
			[]string{"status"},
		),
		PollFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "imports",
				Name:      "poll_failures_total",
				Help:      "Failed import progress polls",
			},
		),
		ImportRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "imports",
				Name:      "requests_total",
				Help:      "Import REST requests by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		ImportDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "imports",
				Name:      "request_duration_seconds",
				Help:      "Import REST request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	registry.MustRegister(
		c.ConnectionState,
		c.Reconnects,
		c.DecodeFailures,
		c.Messages,
		c.SequenceGaps,
		c.Resyncs,
		c.GraphNodes,
		c.GraphEdges,
		c.TickDuration,
		c.Alpha,
		c.SimulationErrors,
		c.JobTransitions,
		c.PollFailures,
		c.ImportRequests,
		c.ImportDuration,
		c.HTTPRequests,
		c.HTTPDuration,
	)
	return c
}

// Registry returns the collector's registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// SetConnectionState marks state as current and clears the states seen before
func (c *Collector) SetConnectionState(state string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	known := false
	for _, s := range c.states {
		c.ConnectionState.WithLabelValues(s).Set(0)
		known = known || s == state
	}
	if !known {
		c.states = append(c.states, state)
	}
	c.ConnectionState.WithLabelValues(state).Set(1)
}

func (c *Collector) IncReconnect() {
	if c != nil {
		c.Reconnects.Inc()
	}
}

func (c *Collector) IncDecodeFailure() {
	if c != nil {
		c.DecodeFailures.Inc()
	}
}

// RecordMessage counts one reconciler decision for a message type
func (c *Collector) RecordMessage(msgType, outcome string) {
	if c != nil {
		c.Messages.WithLabelValues(msgType, outcome).Inc()
	}
}

func (c *Collector) IncSequenceGap(topic string) {
	if c != nil {
		c.SequenceGaps.WithLabelValues(topic).Inc()
	}
}

func (c *Collector) IncResync(topic string) {
	if c != nil {
		c.Resyncs.WithLabelValues(topic).Inc()
	}
}

// SetGraphSize records the model cardinalities
func (c *Collector) SetGraphSize(nodes, edges int) {
	if c == nil {
		return
	}
	c.GraphNodes.Set(float64(nodes))
	c.GraphEdges.Set(float64(edges))
}

// ObserveStep records one simulation step
func (c *Collector) ObserveStep(d time.Duration, alpha float64, simErrors int) {
	if c == nil {
		return
	}
	c.TickDuration.Observe(d.Seconds())
	c.Alpha.Set(alpha)
	if simErrors > 0 {
		c.SimulationErrors.Add(float64(simErrors))
	}
}

func (c *Collector) IncJobTransition(status string) {
	if c != nil {
		c.JobTransitions.WithLabelValues(status).Inc()
	}
}

func (c *Collector) IncPollFailure() {
	if c != nil {
		c.PollFailures.Inc()
	}
}

// RecordImportRequest records one call to the import API
func (c *Collector) RecordImportRequest(operation string, err error, d time.Duration) {
	if c == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	c.ImportRequests.WithLabelValues(operation, outcome).Inc()
	c.ImportDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordHTTPRequest records one served HTTP request
func (c *Collector) RecordHTTPRequest(method, route, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, status).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
