package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DomainCollectors carries the pipeline-level measurements shared by
// every binary: finished runs, validation violations, mapping decisions
// and retry escalations. It satisfies the use cases' metrics port and
// is embedded in each per-binary metrics type so the collectors land in
// that binary's registry.
type DomainCollectors struct {
	service string

	pipelineRunsTotal     *prometheus.CounterVec
	pipelineDuration      *prometheus.HistogramVec
	validationViolations  *prometheus.CounterVec
	mappingDecisionsTotal *prometheus.CounterVec
	escalationsTotal      *prometheus.CounterVec
}

func newDomainCollectors(service string, registry *prometheus.Registry) *DomainCollectors {
	pipelineRunsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragbridge",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total finished pipeline runs by terminal status.",
		},
		[]string{"service", "status"},
	)
	pipelineDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragbridge",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "End-to-end pipeline run duration in seconds.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"service", "status"},
	)
	validationViolations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragbridge",
			Subsystem: "validation",
			Name:      "violations_total",
			Help:      "Total recorded validation violations by kind.",
		},
		[]string{"service", "kind"},
	)
	mappingDecisionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragbridge",
			Subsystem: "mapping",
			Name:      "decisions_total",
			Help:      "Total mapping decisions by outcome.",
		},
		[]string{"service", "outcome"},
	)
	escalationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragbridge",
			Subsystem: "reprocess",
			Name:      "escalations_total",
			Help:      "Total operator escalations after retry exhaustion.",
		},
		[]string{"service"},
	)

	registry.MustRegister(
		pipelineRunsTotal,
		pipelineDuration,
		validationViolations,
		mappingDecisionsTotal,
		escalationsTotal,
	)

	return &DomainCollectors{
		service:               service,
		pipelineRunsTotal:     pipelineRunsTotal,
		pipelineDuration:      pipelineDuration,
		validationViolations:  validationViolations,
		mappingDecisionsTotal: mappingDecisionsTotal,
		escalationsTotal:      escalationsTotal,
	}
}

func (c *DomainCollectors) RecordRunFinished(status string, duration time.Duration) {
	if status == "" {
		status = "unknown"
	}
	c.pipelineRunsTotal.WithLabelValues(c.service, status).Inc()
	if duration > 0 {
		c.pipelineDuration.WithLabelValues(c.service, status).Observe(duration.Seconds())
	}
}

func (c *DomainCollectors) RecordViolations(kind string, count int) {
	if count <= 0 {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	c.validationViolations.WithLabelValues(c.service, kind).Add(float64(count))
}

func (c *DomainCollectors) RecordMappingDecision(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	c.mappingDecisionsTotal.WithLabelValues(c.service, outcome).Inc()
}

func (c *DomainCollectors) RecordEscalation() {
	c.escalationsTotal.WithLabelValues(c.service).Inc()
}
