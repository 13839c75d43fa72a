package server

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/triage-ai/palisade/services/hook_guard/internal/hook"
)

// Metrics are the serve-mode dispatch metrics.
type Metrics struct {
	// Dispatches by overall verdict and transport.
	Dispatches *prometheus.CounterVec

	// Blocks by the check that blocked.
	Blocks *prometheus.CounterVec

	// CheckFaults by the check that errored, panicked or timed out.
	CheckFaults *prometheus.CounterVec

	// Latency of a full dispatch including auditing.
	Latency *prometheus.HistogramVec
}

// NewMetrics registers the metrics on reg. A nil reg uses a private
// registry that is never exported.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		Dispatches: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "hook_guard_dispatches_total",
			Help: "Dispatched events by verdict.",
		}, []string{"verdict", "source"}),

		Blocks: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "hook_guard_blocks_total",
			Help: "Blocked events by blocking check.",
		}, []string{"check"}),

		CheckFaults: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "hook_guard_check_faults_total",
			Help: "Checks that failed and were treated as allow.",
		}, []string{"check"}),

		Latency: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hook_guard_dispatch_duration_seconds",
			Help:    "Histogram of dispatch latencies.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"source"}),
	}
}

// Observe records one handled request.
func (m *Metrics) Observe(source string, res *hook.Result) {
	if m == nil || res == nil {
		return
	}
	d := res.Decision
	if d == nil {
		m.Dispatches.WithLabelValues("invalid", source).Inc()
		return
	}
	m.Dispatches.WithLabelValues(d.Verdict().String(), source).Inc()
	m.Latency.WithLabelValues(source).Observe(res.Latency.Seconds())
	if !d.Proceed {
		m.Blocks.WithLabelValues(d.BlockedBy).Inc()
	}
	for _, f := range d.Faults {
		name, _, _ := strings.Cut(f, ":")
		m.CheckFaults.WithLabelValues(name).Inc()
	}
}
