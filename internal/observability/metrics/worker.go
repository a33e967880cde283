package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkerMetrics instruments stage-task execution in the worker binary.
// Each binary owns its registry so scrapes stay isolated.
type WorkerMetrics struct {
	*DomainCollectors

	registry *prometheus.Registry

	stageTotal    *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	stageInFlight prometheus.Gauge
	taskLag       *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	stageTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragbridge",
			Subsystem: "worker",
			Name:      "stage_task_total",
			Help:      "Total executed stage tasks by stage and status.",
		},
		[]string{"service", "stage", "status"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragbridge",
			Subsystem: "worker",
			Name:      "stage_task_duration_seconds",
			Help:      "Stage task execution duration in seconds by stage and status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "stage", "status"},
	)
	stageInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ragbridge",
			Subsystem: "worker",
			Name:      "stage_task_in_flight",
			Help:      "Number of in-flight stage tasks.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	taskLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragbridge",
			Subsystem: "worker",
			Name:      "stage_task_lag_seconds",
			Help:      "Delay between task publication and execution start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)

	registry.MustRegister(stageTotal, stageDuration, stageInFlight, taskLag)

	return &WorkerMetrics{
		DomainCollectors: newDomainCollectors(service, registry),
		registry:         registry,
		stageTotal:       stageTotal,
		stageDuration:    stageDuration,
		stageInFlight:    stageInFlight,
		taskLag:          taskLag,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartStageTask() {
	m.stageInFlight.Inc()
}

func (m *WorkerMetrics) FinishStageTask(service, stage string, duration time.Duration, err error) {
	m.stageInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.stageTotal.WithLabelValues(service, stage, status).Inc()
	m.stageDuration.WithLabelValues(service, stage, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveTaskLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.taskLag.WithLabelValues(service).Observe(lag.Seconds())
}
