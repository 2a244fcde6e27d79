package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Refresh cycle results.
const (
	resultOK                = "ok"
	resultConnectionFailure = "connection_failure"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	fetchFailures *prometheus.CounterVec
	services      *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rx1bridge",
				Name:      "refresh_cycles_total",
				Help:      "Refresh cycles by result.",
			},
			[]string{"result"},
		),
		cycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "rx1bridge",
				Name:      "refresh_duration_seconds",
				Help:      "Duration of full refresh cycles.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		fetchFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rx1bridge",
				Name:      "fetch_failures_total",
				Help:      "Failed device fetches by stage.",
			},
			[]string{"stage"},
		),
		services: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "rx1bridge",
				Name:      "services",
				Help:      "Services on the device by state.",
			},
			[]string{"state"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.cycles, m.cycleDuration, m.fetchFailures, m.services)
	}
	return m
}

func (m *Metrics) observeCycle(result string, seconds float64) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(seconds)
}

func (m *Metrics) fetchFailed(stage string) {
	if m == nil {
		return
	}
	m.fetchFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) setServiceCounts(total, running, stopped, blocked int) {
	if m == nil {
		return
	}
	m.services.WithLabelValues("total").Set(float64(total))
	m.services.WithLabelValues("running").Set(float64(running))
	m.services.WithLabelValues("stopped").Set(float64(stopped))
	m.services.WithLabelValues("blocked").Set(float64(blocked))
}
