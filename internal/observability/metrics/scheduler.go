package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type SchedulerMetrics struct {
	*DomainCollectors

	registry *prometheus.Registry

	passTotal    *prometheus.CounterVec
	claimTotal   *prometheus.CounterVec
	passDuration *prometheus.HistogramVec
	queueDepth   *prometheus.GaugeVec
}

func NewSchedulerMetrics(service string) *SchedulerMetrics {
	registry := prometheus.NewRegistry()

	passTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragbridge",
			Subsystem: "scheduler",
			Name:      "pass_total",
			Help:      "Total scheduler passes by result.",
		},
		[]string{"service", "result"},
	)
	claimTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragbridge",
			Subsystem: "scheduler",
			Name:      "claim_total",
			Help:      "Total queue items claimed for reprocessing.",
		},
		[]string{"service"},
	)
	passDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragbridge",
			Subsystem: "scheduler",
			Name:      "pass_duration_seconds",
			Help:      "Scheduler pass duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service"},
	)
	queueDepth := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ragbridge",
			Subsystem: "scheduler",
			Name:      "queue_depth",
			Help:      "Reprocessing queue depth by status.",
		},
		[]string{"service", "status"},
	)

	registry.MustRegister(passTotal, claimTotal, passDuration, queueDepth)

	return &SchedulerMetrics{
		DomainCollectors: newDomainCollectors(service, registry),
		registry:         registry,
		passTotal:        passTotal,
		claimTotal:       claimTotal,
		passDuration:     passDuration,
		queueDepth:       queueDepth,
	}
}

func (m *SchedulerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// FinishPass records one scheduler iteration. result is "claimed",
// "idle" or "error".
func (m *SchedulerMetrics) FinishPass(service, result string, duration time.Duration) {
	m.passTotal.WithLabelValues(service, result).Inc()
	m.passDuration.WithLabelValues(service).Observe(duration.Seconds())
	if result == "claimed" {
		m.claimTotal.WithLabelValues(service).Inc()
	}
}

func (m *SchedulerMetrics) SetQueueDepth(service, status string, depth int) {
	m.queueDepth.WithLabelValues(service, status).Set(float64(depth))
}
