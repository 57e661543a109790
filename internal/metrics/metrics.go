// Package metrics exposes Prometheus collectors for invocations, routing,
// extraction and oracle calls.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opentalon/tutorflow/internal/extractor"
	"github.com/opentalon/tutorflow/internal/workflow"
)

const namespace = "tutorflow"

// Invocation outcomes.
const (
	OutcomeOK           = "ok"
	OutcomeRoutingError = "routing_error"
)

// Metrics owns a private registry so tests and embedders never collide
// with the global one.
type Metrics struct {
	registry    *prometheus.Registry
	invocations *prometheus.CounterVec
	duration    prometheus.Histogram
	routed      prometheus.Histogram
	extractions *prometheus.CounterVec
	oracle      *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Workflow invocations by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_duration_seconds",
			Help:      "Wall time of one workflow invocation.",
			Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 20, 40, 80},
		}),
		routed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "routed_tools",
			Help:      "Number of tools selected per invocation.",
			Buckets:   []float64{0, 1, 2, 3, 4, 6, 8},
		}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Extracted payloads by tool and status.",
		}, []string{"tool", "status"}),
		oracle: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_request_duration_seconds",
			Help:      "Latency of completion oracle calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"shape", "outcome"}),
	}
	m.registry.MustRegister(
		m.invocations, m.duration, m.routed, m.extractions, m.oracle,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOracle implements oracle.Recorder.
func (m *Metrics) ObserveOracle(shape, outcome string, d time.Duration) {
	m.oracle.WithLabelValues(shape, outcome).Observe(d.Seconds())
}

func (m *Metrics) OnRouted(_ context.Context, tools []string) {
	m.routed.Observe(float64(len(tools)))
}

// OnPayload counts payloads. Unknown tool names are folded into one label
// value to keep cardinality bounded.
func (m *Metrics) OnPayload(_ context.Context, _ int, tool string, p extractor.Payload) {
	status := p.Status()
	if status == extractor.StatusNotImplemented {
		tool = "unknown"
	}
	m.extractions.WithLabelValues(tool, status).Inc()
}

func (m *Metrics) OnDone(_ context.Context, res *workflow.Result) {
	m.invocations.WithLabelValues(OutcomeOK).Inc()
	m.duration.Observe(res.Duration.Seconds())
}

func (m *Metrics) OnRoutingFailed(_ context.Context, _ error, elapsed time.Duration) {
	m.invocations.WithLabelValues(OutcomeRoutingError).Inc()
	m.duration.Observe(elapsed.Seconds())
}

var _ workflow.Observer = (*Metrics)(nil)
