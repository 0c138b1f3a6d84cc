package workflow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the Prometheus collector for graph execution, namespaced
// "wrenchai".
//
// Exposed series:
//   - inflight_steps (gauge): steps currently executing.
//   - step_latency_ms (histogram): step duration by node and status.
//   - retries_total (counter): retry attempts by node.
//   - recoveries_total (counter): recovery actions taken, by action.
//   - checkpoints_total (counter): labelled by kind; it is registered, but
//     nothing in this package increments it.
type Metrics struct {
	inflight    prometheus.Gauge
	stepLatency *prometheus.HistogramVec
	retries     *prometheus.CounterVec
	recoveries  *prometheus.CounterVec
	checkpoints *prometheus.CounterVec
}

// NewMetrics creates and registers the collector with the registry (use
// prometheus.DefaultRegisterer for the global one).
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wrenchai",
			Name:      "inflight_steps",
			Help:      "Number of workflow steps currently executing.",
		}),
		stepLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wrenchai",
			Name:      "step_latency_ms",
			Help:      "Workflow step execution latency in milliseconds.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"node_id", "status"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wrenchai",
			Name:      "retries_total",
			Help:      "Total retry attempts per node.",
		}, []string{"node_id"}),
		recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wrenchai",
			Name:      "recoveries_total",
			Help:      "Total recovery actions taken, by action.",
		}, []string{"action"}),
		checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wrenchai",
			Name:      "checkpoints_total",
			Help:      "Total checkpoints created, by kind.",
		}, []string{"kind"}),
	}
	if registry != nil {
		registry.MustRegister(m.inflight, m.stepLatency, m.retries, m.recoveries, m.checkpoints)
	}
	return m
}

func (m *Metrics) stepStarted() {
	if m != nil {
		m.inflight.Inc()
	}
}

func (m *Metrics) stepFinished(nodeID, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.inflight.Dec()
	m.stepLatency.WithLabelValues(nodeID, status).Observe(float64(elapsed.Milliseconds()))
}

func (m *Metrics) retryObserved(nodeID string) {
	if m != nil {
		m.retries.WithLabelValues(nodeID).Inc()
	}
}

func (m *Metrics) recoveryObserved(action string) {
	if m != nil {
		m.recoveries.WithLabelValues(action).Inc()
	}
}
