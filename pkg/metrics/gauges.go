package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder exposes the process-wide quota/cycle/event gauges the global
// orchestrator and event bus update on every rebalance and every published
// event. Grounded on pkg/agentexec/middleware/metrics's PrometheusRecorder
// shape (promauto-registered vecs, one update method per observation site).
type Recorder struct {
	quotaCPUShare *prometheus.GaugeVec
	quotaMemory   *prometheus.GaugeVec
	activeCycles  *prometheus.GaugeVec
	eventsTotal   *prometheus.CounterVec
}

// NewRecorder registers the conductor_* gauges/counters against the default
// Prometheus registry and returns a Recorder to update them.
func NewRecorder() *Recorder {
	return &Recorder{
		quotaCPUShare: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "conductor_quota_allocated_cpu_share",
				Help: "CPU share currently allocated to a project by the resource scheduler",
			},
			[]string{"project"},
		),
		quotaMemory: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "conductor_quota_allocated_memory_bytes",
				Help: "Memory currently allocated to a project by the resource scheduler",
			},
			[]string{"project"},
		),
		activeCycles: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "conductor_active_cycles",
				Help: "Number of TDD cycles currently running for a project",
			},
			[]string{"project"},
		),
		eventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_events_total",
				Help: "Total events published on the event bus, by kind",
			},
			[]string{"kind"},
		),
	}
}

// RecordQuota sets the quota gauges for one project after a rebalance.
func (r *Recorder) RecordQuota(projectID string, cpuShare float64, memoryBytes int64) {
	r.quotaCPUShare.WithLabelValues(projectID).Set(cpuShare)
	r.quotaMemory.WithLabelValues(projectID).Set(float64(memoryBytes))
}

// SetActiveCycles records how many TDD cycles are currently live for a project.
func (r *Recorder) SetActiveCycles(projectID string, n int) {
	r.activeCycles.WithLabelValues(projectID).Set(float64(n))
}

// IncEvent increments the per-kind event counter.
func (r *Recorder) IncEvent(kind string) {
	r.eventsTotal.WithLabelValues(kind).Inc()
}

// Handler returns the HTTP handler a mux serves /metrics with.
func Handler() http.Handler {
	return promhttp.Handler()
}
