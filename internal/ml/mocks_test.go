package ml

import (
	"sync"
	"sync/atomic"
	"testing"

	"bank-intel/internal/model"

	"github.com/stretchr/testify/require"
)

// MockMetrics implements MetricsInterface for testing
type MockMetrics struct {
	mu            sync.Mutex
	predictions   map[string]int
	ruleDecisions map[string]int
	failures      map[string]int
	latencies     int
	fraudAlerts   int
	cacheHits     int
	driftScores   map[string]float64
	driftAlerts   map[string]int
}

func NewMockMetrics() *MockMetrics {
	return &MockMetrics{
		predictions:   make(map[string]int),
		ruleDecisions: make(map[string]int),
		failures:      make(map[string]int),
		driftScores:   make(map[string]float64),
		driftAlerts:   make(map[string]int),
	}
}

func (m *MockMetrics) DriftScoreSet(domain, feature string, score float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.driftScores[domain+"/"+feature] = score
}

func (m *MockMetrics) DriftAlertsInc(domain, feature string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.driftAlerts[domain+"/"+feature]++
}

func (m *MockMetrics) PredictionsInc(domain string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictions[domain]++
}

func (m *MockMetrics) RuleDecisionsInc(domain, rule string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ruleDecisions[domain+"/"+rule]++
}

func (m *MockMetrics) FailuresInc(domain string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[domain]++
}

func (m *MockMetrics) LatencyObserve(domain string, seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies++
}

func (m *MockMetrics) FraudAlertsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fraudAlerts++
}

func (m *MockMetrics) CacheHitsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheHits++
}

// MockRecorder captures recorded decisions.
type MockRecorder struct {
	mu        sync.Mutex
	decisions []Decision
	inputs    []map[string]float64
}

func (r *MockRecorder) RecordDecision(d Decision, input map[string]float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, d)
	r.inputs = append(r.inputs, input)
	return nil
}

type countingClassifier struct {
	model.Classifier
	calls int32
}

func (c *countingClassifier) Predict(x []float64) (int, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.Classifier.Predict(x)
}

func (c *countingClassifier) Calls() int { return int(atomic.LoadInt32(&c.calls)) }

type countingRegressor struct {
	model.Regressor
	calls int32
	last  []float64
}

func (c *countingRegressor) Predict(x []float64) (float64, error) {
	atomic.AddInt32(&c.calls, 1)
	c.last = append([]float64(nil), x...)
	return c.Regressor.Predict(x)
}

func (c *countingRegressor) Calls() int { return int(atomic.LoadInt32(&c.calls)) }

// fixture wires a store whose scalers are identities so expected outputs can be
// worked out by hand:
//   - classifier approves when Credit_Score > 600
//   - regressor predicts 0.5*Income - 1000*DTI_Ratio
//   - kmeans cluster 0 sits at large amounts with small balances
type fixture struct {
	store      *model.Store
	classifier *countingClassifier
	regressor  *countingRegressor
}

func identityScaler(t *testing.T, d Domain) model.Scaler {
	t.Helper()
	n := len(d.Columns())
	scale := make([]float64, n)
	for i := range scale {
		scale[i] = 1
	}
	s, err := model.NewStandardScaler(d.Columns(), make([]float64, n), scale)
	require.NoError(t, err)
	return s
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clf, err := model.NewLogisticRegression(DomainLoanApproval.Columns(),
		[][]float64{{0, 1, 0, 0, 0}}, []float64{-600}, []int{0, 1})
	require.NoError(t, err)

	reg, err := model.NewLinearRegression(DomainLoanAmount.Columns(), []float64{0.5, 0, -1000, 0}, 0)
	require.NoError(t, err)

	km, err := model.NewKMeans(DomainFraud.Columns(), [][]float64{
		{10000, 100, 30, 0, 0, 0},
		{100, 50000, 40, 1, 1, 1},
		{500, 5000, 60, 2, 2, 3},
	})
	require.NoError(t, err)

	f := &fixture{
		classifier: &countingClassifier{Classifier: clf},
		regressor:  &countingRegressor{Regressor: reg},
	}
	f.store, err = model.NewStore(model.Artifacts{
		LoanClassifier:  f.classifier,
		LoanScaler:      identityScaler(t, DomainLoanApproval),
		AmountRegressor: f.regressor,
		AmountScaler:    identityScaler(t, DomainLoanAmount),
		FraudClusterer:  km,
		FraudScaler:     identityScaler(t, DomainFraud),
	})
	require.NoError(t, err)
	return f
}
