// Package metrics provides Prometheus metrics collection for the decision service.
// It defines counters, gauges and histograms for predictions, policy rule hits,
// batch runs, artifact freshness and input drift, exposed via the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the decision service.
type Metrics struct {
	// Prediction metrics
	Predictions       *prometheus.CounterVec   // Decisions returned, by domain
	RuleDecisions     *prometheus.CounterVec   // Policy rule hits, by domain and rule
	Failures          *prometheus.CounterVec   // Failed decision calls, by domain
	PredictionLatency *prometheus.HistogramVec // End-to-end decision latency, by domain
	FraudAlerts       prometheus.Counter       // Transactions flagged as fraud
	CacheHits         prometheus.Counter       // Decisions served from the cache

	// Batch metrics
	BatchRuns   *prometheus.CounterVec // Batch runs started, by domain
	BatchRows   *prometheus.CounterVec // Rows processed in batch mode, by domain
	BatchAborts *prometheus.CounterVec // Batch runs aborted by a row failure, by domain

	// Artifact metrics
	ArtifactAge *prometheus.GaugeVec // Seconds since each artifact file was written

	// Drift metrics
	DriftScore  *prometheus.GaugeVec   // Latest drift score, by domain and feature
	DriftAlerts *prometheus.CounterVec // Drift alerts raised, by domain and feature

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec // API requests, by route and status code
}

// New creates and registers all Prometheus metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		Predictions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "predictions_total",
			Help: "Total number of decisions returned",
		}, []string{"domain"}),
		RuleDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rule_decisions_total",
			Help: "Total number of policy rule hits (rejections and clamps)",
		}, []string{"domain", "rule"}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "prediction_failures_total",
			Help: "Total number of failed decision calls",
		}, []string{"domain"}),
		PredictionLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prediction_latency_seconds",
			Help:    "Decision latency in seconds (end-to-end)",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"domain"}),
		FraudAlerts: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_alerts_total",
			Help: "Total number of transactions flagged as fraud",
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "decision_cache_hits_total",
			Help: "Total number of decisions served from the cache",
		}),
		BatchRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_runs_total",
			Help: "Total number of batch runs started",
		}, []string{"domain"}),
		BatchRows: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_rows_total",
			Help: "Total number of rows processed in batch mode",
		}, []string{"domain"}),
		BatchAborts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_aborts_total",
			Help: "Total number of batch runs aborted by a failing row",
		}, []string{"domain"}),
		ArtifactAge: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "artifact_age_seconds",
			Help: "Age of each loaded model artifact in seconds",
		}, []string{"artifact"}),
		DriftScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "feature_drift_score",
			Help: "Latest input drift score against the training distribution",
		}, []string{"domain", "feature"}),
		DriftAlerts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "drift_alerts_total",
			Help: "Total number of input drift alerts",
		}, []string{"domain", "feature"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of API requests",
		}, []string{"route", "code"}),
	}
}
