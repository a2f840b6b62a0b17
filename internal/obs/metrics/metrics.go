// Package metrics provides Prometheus metrics collection for a reactor.
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for one reactor process.
type Metrics struct {
	DispatchTotal    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	PacketsInFlight  prometheus.Gauge

	ErrorsTotal *prometheus.CounterVec

	RouteDecisionsTotal *prometheus.CounterVec
	RouteScore          *prometheus.HistogramVec

	HealthTransitionsTotal *prometheus.CounterVec
	ReactorHealthy         *prometheus.GaugeVec

	PipelineRunsTotal    *prometheus.CounterVec
	PipelineStepDuration *prometheus.HistogramVec

	ReactorUptime prometheus.Gauge
	ReactorInfo   *prometheus.GaugeVec
}

// New creates a Metrics instance registered against the default Prometheus
// registerer.
func New(reactorID string) *Metrics {
	return NewWithRegistry(reactorID, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against registerer,
// or unregistered if registerer is nil (used by tests).
func NewWithRegistry(reactorID string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		DispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "packetflow_dispatch_total",
				Help: "Total number of packets dispatched to a handler",
			},
			[]string{"reactor", "group", "element", "status"},
		),
		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "packetflow_dispatch_duration_seconds",
				Help:    "Packet dispatch duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"reactor", "group", "element"},
		),
		PacketsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "packetflow_packets_in_flight",
				Help: "Current number of packets being processed by this reactor",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "packetflow_errors_total",
				Help: "Total number of dispatch errors by taxonomy code",
			},
			[]string{"reactor", "code"},
		),
		RouteDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "packetflow_route_decisions_total",
				Help: "Total number of routing decisions made",
			},
			[]string{"group", "element", "target", "status"},
		),
		RouteScore: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "packetflow_route_score",
				Help:    "Affinity score of the selected route",
				Buckets: []float64{0, .1, .2, .3, .4, .5, .6, .7, .8, .9, 1},
			},
			[]string{"group", "element"},
		),
		HealthTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "packetflow_health_transitions_total",
				Help: "Total number of reactor health state transitions",
			},
			[]string{"reactor", "to"},
		),
		ReactorHealthy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "packetflow_reactor_healthy",
				Help: "1 if the reactor is currently healthy, 0 otherwise",
			},
			[]string{"reactor"},
		),
		PipelineRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "packetflow_pipeline_runs_total",
				Help: "Total number of pipeline executions",
			},
			[]string{"pipeline", "status"},
		),
		PipelineStepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "packetflow_pipeline_step_duration_seconds",
				Help:    "Pipeline step duration in seconds",
				Buckets: []float64{.001, .01, .1, .5, 1, 5, 10, 30},
			},
			[]string{"pipeline", "step"},
		),
		ReactorUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "packetflow_reactor_uptime_seconds",
				Help: "Reactor process uptime in seconds",
			},
		),
		ReactorInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "packetflow_reactor_info",
				Help: "Static reactor build/identity information",
			},
			[]string{"reactor", "version"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.DispatchTotal,
			m.DispatchDuration,
			m.PacketsInFlight,
			m.ErrorsTotal,
			m.RouteDecisionsTotal,
			m.RouteScore,
			m.HealthTransitionsTotal,
			m.ReactorHealthy,
			m.PipelineRunsTotal,
			m.PipelineStepDuration,
			m.ReactorUptime,
			m.ReactorInfo,
		)
	}

	m.ReactorInfo.WithLabelValues(reactorID, "1.0.0").Set(1)
	return m
}

// RecordDispatch records the outcome of dispatching a packet.
func (m *Metrics) RecordDispatch(reactor, group, element, status string, duration time.Duration) {
	m.DispatchTotal.WithLabelValues(reactor, group, element, status).Inc()
	m.DispatchDuration.WithLabelValues(reactor, group, element).Observe(duration.Seconds())
}

// RecordError records a dispatch error by taxonomy code.
func (m *Metrics) RecordError(reactor, code string) {
	m.ErrorsTotal.WithLabelValues(reactor, code).Inc()
}

// RecordRoute records a routing decision and its winning score.
func (m *Metrics) RecordRoute(group, element, target, status string, score float64) {
	m.RouteDecisionsTotal.WithLabelValues(group, element, target, status).Inc()
	if status == "ok" {
		m.RouteScore.WithLabelValues(group, element).Observe(score)
	}
}

// RecordHealthTransition records a reactor flipping healthy state.
func (m *Metrics) RecordHealthTransition(reactor string, healthy bool) {
	to := "unhealthy"
	val := 0.0
	if healthy {
		to = "healthy"
		val = 1.0
	}
	m.HealthTransitionsTotal.WithLabelValues(reactor, to).Inc()
	m.ReactorHealthy.WithLabelValues(reactor).Set(val)
}

// RecordPipelineRun records a pipeline execution outcome.
func (m *Metrics) RecordPipelineRun(pipeline, status string) {
	m.PipelineRunsTotal.WithLabelValues(pipeline, status).Inc()
}

// RecordPipelineStep records a single pipeline step's duration.
func (m *Metrics) RecordPipelineStep(pipeline, step string, duration time.Duration) {
	m.PipelineStepDuration.WithLabelValues(pipeline, step).Observe(duration.Seconds())
}

// IncInFlight / DecInFlight track concurrently dispatching packets.
func (m *Metrics) IncInFlight() { m.PacketsInFlight.Inc() }
func (m *Metrics) DecInFlight() { m.PacketsInFlight.Dec() }

// UpdateUptime sets the uptime gauge relative to startTime.
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ReactorUptime.Set(time.Since(startTime).Seconds())
}

// Enabled reports whether Prometheus metrics should be exposed, controlled
// by the METRICS_ENABLED environment variable (default: enabled).
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return true
	}
	switch raw {
	case "0", "false", "no", "off":
		return false
	default:
		return true
	}
}

var (
	global   *Metrics
	globalMu sync.Mutex
)

// Init initializes the global Metrics instance once.
func Init(reactorID string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New(reactorID)
	}
	return global
}

// Global returns the global Metrics instance, lazily constructing one.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New("unknown")
	}
	return global
}
