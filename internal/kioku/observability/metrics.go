package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. Instruments
// register against a caller-supplied registry so tests can build isolated
// instances without tripping duplicate-registration panics.
type Metrics struct {
	registry *prometheus.Registry

	TurnsTotal        *prometheus.CounterVec
	TurnDuration      prometheus.Histogram
	StoreOps          *prometheus.CounterVec
	StoreLatency      prometheus.Histogram
	CompletionLatency prometheus.Histogram
	PrunedEntries     prometheus.Counter
}

// NewMetrics builds the instrument set on a fresh registry.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		TurnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversational turns by audit outcome.",
		}, []string{"outcome"}),
		TurnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "End-to-end turn latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		StoreOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "Memory store operations by op and status.",
		}, []string{"op", "status"}),
		StoreLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_latency_ms",
			Help:      "Memory store operation latency in milliseconds.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		CompletionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_latency_ms",
			Help:      "Completion collaborator latency in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}),
		PrunedEntries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pruned_entries_total",
			Help:      "Memory entries removed by retention sweeps.",
		}),
	}
}

// ObserveTurn records one finished turn.
func (m *Metrics) ObserveTurn(outcome string, d time.Duration) {
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(d.Seconds())
}

// ObserveStoreOp records one memory store call.
func (m *Metrics) ObserveStoreOp(op string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.StoreOps.WithLabelValues(op, status).Inc()
	m.StoreLatency.Observe(float64(d.Milliseconds()))
}

// ObserveCompletion records one completion collaborator call.
func (m *Metrics) ObserveCompletion(d time.Duration) {
	m.CompletionLatency.Observe(float64(d.Milliseconds()))
}

// Handler serves this instance's registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
