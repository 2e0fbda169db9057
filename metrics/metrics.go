// Package metrics provides Prometheus metrics for the card news pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cardnews"

var (
	// RunsTotal counts pipeline runs by final status.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of pipeline runs",
		},
		[]string{"status"},
	)

	// CardsRendered counts card images written to disk.
	CardsRendered = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cards_rendered_total",
			Help:      "Total number of rendered card images",
		},
	)

	// AnalysisFailures counts articles the LLM could not summarize.
	AnalysisFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_failures_total",
			Help:      "Total number of failed article analyses",
		},
	)

	// GraphRequests counts Graph API calls by step and outcome.
	GraphRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_requests_total",
			Help:      "Total number of Graph API requests",
		},
		[]string{"step", "status"},
	)

	// PublishDuration measures end-to-end publish duration by post kind.
	PublishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "Duration of Instagram publish operations in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"kind"},
	)
)

// RecordRun records a finished run.
func RecordRun(status string) {
	RunsTotal.WithLabelValues(status).Inc()
}

// RecordCardRendered records one rendered card.
func RecordCardRendered() {
	CardsRendered.Inc()
}

// RecordAnalysisFailure records one failed analysis.
func RecordAnalysisFailure() {
	AnalysisFailures.Inc()
}

// RecordGraphRequest records a Graph API call.
func RecordGraphRequest(step, status string) {
	GraphRequests.WithLabelValues(step, status).Inc()
}

// RecordPublish records a publish attempt of the given kind.
func RecordPublish(kind string, seconds float64) {
	PublishDuration.WithLabelValues(kind).Observe(seconds)
}
