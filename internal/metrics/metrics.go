package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful analyses.
	OutcomeSuccess = "success"
	// OutcomeDegraded labels analyses that fell back to the heuristic path.
	OutcomeDegraded = "degraded"
	// OutcomeError labels rejected or failed analyses.
	OutcomeError = "error"
)

var (
	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "redis_sre",
			Name:      "analyses_total",
			Help:      "Total number of incident analyses handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	analysisDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "redis_sre",
			Name:      "analysis_seconds",
			Help:      "Incident analysis latency in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 3, 4, 5, 6, 8, 10, 15, 30},
		},
	)

	retrievalDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "redis_sre",
			Name:      "retrieval_seconds",
			Help:      "Knowledge retrieval latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
		},
	)

	monitorTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "redis_sre",
			Name:      "monitor_ticks_total",
			Help:      "Monitoring loop ticks, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	activeAlerts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "redis_sre",
			Name:      "active_alerts",
			Help:      "Number of currently active threshold alerts.",
		},
	)

	knowledgeDocuments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "redis_sre",
			Name:      "knowledge_documents",
			Help:      "Number of documents in the knowledge store.",
		},
	)
)

// Register attaches the assistant's collectors to the supplied registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		analysesTotal,
		analysisDurationSeconds,
		retrievalDurationSeconds,
		monitorTicksTotal,
		activeAlerts,
		knowledgeDocuments,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveAnalysis records an analysis duration and outcome label.
func ObserveAnalysis(duration time.Duration, outcome string) {
	switch outcome {
	case OutcomeError, OutcomeDegraded:
	default:
		outcome = OutcomeSuccess
	}
	analysesTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	analysisDurationSeconds.Observe(duration.Seconds())
}

// ObserveRetrieval records a knowledge search duration.
func ObserveRetrieval(duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	retrievalDurationSeconds.Observe(duration.Seconds())
}

// ObserveMonitorTick records one monitoring loop tick.
func ObserveMonitorTick(ok bool) {
	outcome := OutcomeSuccess
	if !ok {
		outcome = OutcomeError
	}
	monitorTicksTotal.WithLabelValues(outcome).Inc()
}

// SetActiveAlerts updates the active alert gauge.
func SetActiveAlerts(n int) {
	activeAlerts.Set(float64(n))
}

// SetKnowledgeDocuments updates the knowledge store size gauge.
func SetKnowledgeDocuments(n int) {
	knowledgeDocuments.Set(float64(n))
}
