package metrics

import (
	"strconv"
	"time"
)

// MetricsWrapper adapts Metrics to the narrow interfaces the predictor, batch
// runner and server depend on, so those packages do not import prometheus.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) PredictionsInc(domain string) {
	w.m.Predictions.WithLabelValues(domain).Inc()
}

func (w *MetricsWrapper) RuleDecisionsInc(domain, rule string) {
	w.m.RuleDecisions.WithLabelValues(domain, rule).Inc()
}

func (w *MetricsWrapper) FailuresInc(domain string) {
	w.m.Failures.WithLabelValues(domain).Inc()
}

func (w *MetricsWrapper) LatencyObserve(domain string, seconds float64) {
	w.m.PredictionLatency.WithLabelValues(domain).Observe(seconds)
}

func (w *MetricsWrapper) FraudAlertsInc() {
	w.m.FraudAlerts.Inc()
}

func (w *MetricsWrapper) CacheHitsInc() {
	w.m.CacheHits.Inc()
}

func (w *MetricsWrapper) BatchRunsInc(domain string) {
	w.m.BatchRuns.WithLabelValues(domain).Inc()
}

func (w *MetricsWrapper) BatchRowsAdd(domain string, n int) {
	w.m.BatchRows.WithLabelValues(domain).Add(float64(n))
}

func (w *MetricsWrapper) BatchAbortsInc(domain string) {
	w.m.BatchAborts.WithLabelValues(domain).Inc()
}

func (w *MetricsWrapper) DriftScoreSet(domain, feature string, score float64) {
	w.m.DriftScore.WithLabelValues(domain, feature).Set(score)
}

func (w *MetricsWrapper) DriftAlertsInc(domain, feature string) {
	w.m.DriftAlerts.WithLabelValues(domain, feature).Inc()
}

func (w *MetricsWrapper) HTTPRequestsInc(route string, code int) {
	w.m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// SetArtifactAges publishes the age of every artifact.
func (w *MetricsWrapper) SetArtifactAges(ages map[string]time.Duration) {
	for name, age := range ages {
		w.m.ArtifactAge.WithLabelValues(name).Set(age.Seconds())
	}
}
