package ml

import (
	"math"
	"math/rand"
	"strconv"
	"sync"
	"testing"

	"bank-intel/internal/model"
	"bank-intel/internal/policy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPredictor(t *testing.T, f *fixture, cfg Config) (*Predictor, *MockMetrics) {
	t.Helper()
	metrics := NewMockMetrics()
	p, err := New(f.store, cfg, metrics, nil)
	require.NoError(t, err)
	return p, metrics
}

func TestApproveLoan_LowCreditScoreNeverCallsModel(t *testing.T) {
	f := newFixture(t)
	p, metrics := newPredictor(t, f, DefaultConfig())

	r := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		app := LoanApplication{
			Income:           r.Float64() * 500000,
			CreditScore:      r.Float64() * 499.99,
			LoanAmount:       r.Float64() * 100000,
			DTIRatio:         r.Float64() * 100,
			EmploymentStatus: EmploymentStatus(r.Intn(3)),
		}
		d, err := p.ApproveLoan(app)
		require.NoError(t, err)
		assert.Equal(t, KindRejected, d.Kind)
		assert.Equal(t, policy.RuleLowCreditScore, d.Rule)
		assert.Equal(t, "REJECTED (Low Credit Score)", d.String())
	}

	assert.Zero(t, f.classifier.Calls())
	assert.Equal(t, 200, metrics.ruleDecisions["loan_approval/low_credit_score"])
}

func TestApproveLoan_EndToEndLowCredit(t *testing.T) {
	f := newFixture(t)
	p, _ := newPredictor(t, f, DefaultConfig())

	d, err := p.DecideRow(DomainLoanApproval, map[string]string{
		"Income": "50000", "Credit_Score": "450", "Loan_Amount": "10000",
		"DTI_Ratio": "20", "Employment_Status": "0",
	})
	require.NoError(t, err)
	assert.Equal(t, "REJECTED (Low Credit Score)", d.String())
	assert.True(t, d.RuleBased())
	assert.Zero(t, f.classifier.Calls())
}

func TestApproveLoan_PolicyRules(t *testing.T) {
	f := newFixture(t)
	p, _ := newPredictor(t, f, DefaultConfig())

	tests := []struct {
		name string
		app  LoanApplication
		want string
	}{
		{"high debt ratio", LoanApplication{Income: 80000, CreditScore: 720, LoanAmount: 5000, DTIRatio: 55, EmploymentStatus: Salaried}, "REJECTED (High Debt Ratio)"},
		{"high debt ratio self-employed", LoanApplication{Income: 80000, CreditScore: 500, LoanAmount: 5000, DTIRatio: 50.01, EmploymentStatus: SelfEmployed}, "REJECTED (High Debt Ratio)"},
		{"unemployed", LoanApplication{Income: 80000, CreditScore: 720, LoanAmount: 5000, DTIRatio: 10, EmploymentStatus: Unemployed}, "REJECTED (Unemployed)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := p.ApproveLoan(tt.app)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.String())
		})
	}
	assert.Zero(t, f.classifier.Calls())
}

func TestApproveLoan_ModelDecision(t *testing.T) {
	f := newFixture(t)
	p, metrics := newPredictor(t, f, DefaultConfig())

	approved, err := p.ApproveLoan(LoanApplication{Income: 90000, CreditScore: 720, LoanAmount: 15000, DTIRatio: 20, EmploymentStatus: Salaried})
	require.NoError(t, err)
	assert.Equal(t, KindApproved, approved.Kind)
	assert.Equal(t, "APPROVED", approved.String())

	rejected, err := p.ApproveLoan(LoanApplication{Income: 90000, CreditScore: 550, LoanAmount: 15000, DTIRatio: 20, EmploymentStatus: SelfEmployed})
	require.NoError(t, err)
	assert.Equal(t, KindRejected, rejected.Kind)
	assert.Empty(t, rejected.Reason)
	assert.False(t, rejected.RuleBased())
	assert.Equal(t, "REJECTED", rejected.String())

	assert.Equal(t, 2, f.classifier.Calls())
	assert.Equal(t, 2, metrics.predictions["loan_approval"])
	assert.Equal(t, 2, metrics.latencies)
}

func TestPredictAmount_NeverNegative(t *testing.T) {
	f := newFixture(t)
	p, _ := newPredictor(t, f, DefaultConfig())

	r := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		d, err := p.PredictAmount(AmountRequest{
			Income:           r.Float64() * 300000,
			CreditScore:      r.Float64() * 850,
			DTIRatio:         r.Float64() * 100,
			EmploymentStatus: EmploymentStatus(r.Intn(3)),
		})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, d.Amount, int64(0))
	}

	d, err := p.PredictAmount(AmountRequest{Income: 1000, CreditScore: 700, DTIRatio: 50})
	require.NoError(t, err)
	assert.Equal(t, int64(0), d.Amount)
	assert.Equal(t, "0", d.String())
}

func TestPredictAmount_SaturatesHugePredictions(t *testing.T) {
	f := newFixture(t)
	p, _ := newPredictor(t, f, DefaultConfig())

	d, err := p.PredictAmount(AmountRequest{Income: 1000, CreditScore: 700, DTIRatio: -1e16})
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), d.Amount)
	assert.Equal(t, strconv.FormatInt(math.MaxInt64, 10), d.String())

	d, err = p.PredictAmount(AmountRequest{Income: 1000, CreditScore: 700, DTIRatio: -1e300})
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), d.Amount)
}

func TestPredictAmount_TruncatesToWholeUnits(t *testing.T) {
	f := newFixture(t)
	p, _ := newPredictor(t, f, DefaultConfig())

	d, err := p.PredictAmount(AmountRequest{Income: 1001, CreditScore: 700, DTIRatio: 0})
	require.NoError(t, err)
	assert.Equal(t, int64(500), d.Amount)
	assert.Equal(t, KindPredictedAmount, d.Kind)
}

func TestPredictAmount_ClampsIncomeAndDTI(t *testing.T) {
	f := newFixture(t)
	p, metrics := newPredictor(t, f, DefaultConfig())

	high, err := p.PredictAmount(AmountRequest{Income: 250000, CreditScore: 700, DTIRatio: 70, EmploymentStatus: Salaried})
	require.NoError(t, err)
	assert.Equal(t, []float64{200000, 700, 60, 0}, f.regressor.last)
	assert.Equal(t, []policy.Rule{policy.RuleIncomeCeiling, policy.RuleDTICeiling}, high.Adjusted)

	atCeiling, err := p.PredictAmount(AmountRequest{Income: 200000, CreditScore: 700, DTIRatio: 60, EmploymentStatus: Salaried})
	require.NoError(t, err)
	assert.Empty(t, atCeiling.Adjusted)

	assert.Equal(t, atCeiling.Amount, high.Amount)
	assert.Equal(t, int64(40000), high.Amount)
	assert.Equal(t, 1, metrics.ruleDecisions["loan_amount/income_ceiling"])
	assert.Equal(t, 1, metrics.ruleDecisions["loan_amount/dti_ceiling"])
}

func TestDetectFraud(t *testing.T) {
	f := newFixture(t)
	p, metrics := newPredictor(t, f, DefaultConfig())

	alert, err := p.DetectFraud(Transaction{Amount: 9500, AccountBalance: 300, Age: 28, Type: Transfer, MerchantCategory: Groceries, Device: ATM})
	require.NoError(t, err)
	assert.Equal(t, 0, alert.ClusterID)
	assert.Equal(t, VerdictAlert, alert.Verdict)
	assert.Equal(t, "FRAUD ALERT", alert.String())

	normal, err := p.DetectFraud(Transaction{Amount: 120, AccountBalance: 48000, Age: 41, Type: Debit, MerchantCategory: Restaurant, Device: POS})
	require.NoError(t, err)
	assert.Equal(t, 1, normal.ClusterID)
	assert.Equal(t, VerdictNormal, normal.Verdict)
	assert.Equal(t, "NORMAL TRANSACTION", normal.String())

	other, err := p.DetectFraud(Transaction{Amount: 450, AccountBalance: 5200, Age: 62, Type: BillPayment, MerchantCategory: Entertainment, Device: VoiceAssistant})
	require.NoError(t, err)
	assert.Equal(t, 2, other.ClusterID)
	assert.Equal(t, VerdictNormal, other.Verdict)

	assert.Equal(t, 1, metrics.fraudAlerts)
}

func TestDetectFraud_ConfiguredSuspiciousCluster(t *testing.T) {
	f := newFixture(t)
	cfg := DefaultConfig()
	cfg.SuspiciousCluster = 2
	p, _ := newPredictor(t, f, cfg)

	d, err := p.DetectFraud(Transaction{Amount: 9500, AccountBalance: 300, Age: 28})
	require.NoError(t, err)
	assert.Equal(t, 0, d.ClusterID)
	assert.Equal(t, VerdictNormal, d.Verdict)
}

func TestPredictor_MalformedRecords(t *testing.T) {
	f := newFixture(t)
	p, metrics := newPredictor(t, f, DefaultConfig())

	_, err := p.ApproveLoan(LoanApplication{CreditScore: 700, EmploymentStatus: EmploymentStatus(5)})
	assert.ErrorIs(t, err, ErrMalformedRecord)

	_, err = p.PredictAmount(AmountRequest{Income: math.NaN(), CreditScore: 700})
	assert.ErrorIs(t, err, ErrMalformedRecord)

	_, err = p.DetectFraud(Transaction{Amount: 10, Device: Device(9)})
	assert.ErrorIs(t, err, ErrMalformedRecord)

	_, err = p.DecideRow(DomainFraud, map[string]string{"Transaction_Amount": "10"})
	assert.ErrorIs(t, err, ErrMalformedRecord)

	_, err = p.DecideRow(Domain("mortgage"), map[string]string{})
	assert.ErrorIs(t, err, ErrUnknownDomain)

	assert.Equal(t, 1, metrics.failures["loan_approval"])
	assert.Equal(t, 1, metrics.failures["loan_amount"])
	assert.Equal(t, 2, metrics.failures["fraud"])
	assert.Zero(t, f.classifier.Calls())
}

func TestPredictor_Idempotent(t *testing.T) {
	f := newFixture(t)
	p, _ := newPredictor(t, f, DefaultConfig())

	app := LoanApplication{Income: 90000, CreditScore: 720, LoanAmount: 15000, DTIRatio: 20}
	first, err := p.ApproveLoan(app)
	require.NoError(t, err)
	second, err := p.ApproveLoan(app)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	txn := Transaction{Amount: 120, AccountBalance: 48000, Age: 41, Type: Debit}
	a, err := p.DetectFraud(txn)
	require.NoError(t, err)
	b, err := p.DetectFraud(txn)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestPredictor_Cache(t *testing.T) {
	f := newFixture(t)
	cfg := DefaultConfig()
	cfg.CacheSize = 16
	p, metrics := newPredictor(t, f, cfg)

	app := LoanApplication{Income: 90000, CreditScore: 720, LoanAmount: 15000, DTIRatio: 20}
	for i := 0; i < 3; i++ {
		d, err := p.ApproveLoan(app)
		require.NoError(t, err)
		assert.Equal(t, KindApproved, d.Kind)
	}
	assert.Equal(t, 1, f.classifier.Calls())
	assert.Equal(t, 2, metrics.cacheHits)
	assert.Equal(t, 3, metrics.predictions["loan_approval"])

	// clamped requests share a cache entry but keep their own adjustments
	high, err := p.PredictAmount(AmountRequest{Income: 250000, CreditScore: 700, DTIRatio: 70})
	require.NoError(t, err)
	plain, err := p.PredictAmount(AmountRequest{Income: 200000, CreditScore: 700, DTIRatio: 60})
	require.NoError(t, err)
	assert.Equal(t, 1, f.regressor.Calls())
	assert.Equal(t, high.Amount, plain.Amount)
	assert.Len(t, high.Adjusted, 2)
	assert.Empty(t, plain.Adjusted)
}

func TestPredictor_Recorder(t *testing.T) {
	f := newFixture(t)
	rec := &MockRecorder{}
	p, err := New(f.store, DefaultConfig(), nil, rec)
	require.NoError(t, err)

	_, err = p.PredictAmount(AmountRequest{Income: 250000, CreditScore: 700, DTIRatio: 20})
	require.NoError(t, err)

	require.Len(t, rec.decisions, 1)
	assert.Equal(t, DomainLoanAmount, rec.decisions[0].Domain)
	assert.Equal(t, []policy.Rule{policy.RuleIncomeCeiling}, rec.decisions[0].Adjusted)
	assert.Equal(t, map[string]float64{
		"Income": 250000, "Credit_Score": 700, "DTI_Ratio": 20, "Employment_Status": 0,
	}, rec.inputs[0])
	assert.Equal(t, []float64{200000, 700, 20, 0}, f.regressor.last)
}

func TestPredictor_Concurrency(t *testing.T) {
	f := newFixture(t)
	cfg := DefaultConfig()
	cfg.CacheSize = 8
	p, metrics := newPredictor(t, f, cfg)

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				d, err := p.ApproveLoan(LoanApplication{Income: 90000, CreditScore: float64(601 + (g+i)%20), DTIRatio: 20})
				assert.NoError(t, err)
				assert.Equal(t, KindApproved, d.Kind)
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 500, metrics.predictions["loan_approval"])
}

func TestNew_RejectsMismatchedSchema(t *testing.T) {
	f := newFixture(t)

	wrongCols := []string{"A", "B", "C", "D", "E", "F"}
	scaler, err := model.NewStandardScaler(wrongCols, make([]float64, 6), []float64{1, 1, 1, 1, 1, 1})
	require.NoError(t, err)
	km, err := model.NewKMeans(wrongCols, [][]float64{{0, 0, 0, 0, 0, 0}})
	require.NoError(t, err)

	store, err := model.NewStore(model.Artifacts{
		LoanClassifier:  f.store.LoanClassifier(),
		LoanScaler:      f.store.LoanScaler(),
		AmountRegressor: f.store.AmountRegressor(),
		AmountScaler:    f.store.AmountScaler(),
		FraudClusterer:  km,
		FraudScaler:     scaler,
	})
	require.NoError(t, err)

	_, err = New(store, DefaultConfig(), nil, nil)
	assert.ErrorIs(t, err, model.ErrArtifact)

	_, err = New(nil, DefaultConfig(), nil, nil)
	assert.ErrorIs(t, err, model.ErrArtifact)

	bad := DefaultConfig()
	bad.Policy.MaxApprovalDTI = 0
	_, err = New(f.store, bad, nil, nil)
	assert.Error(t, err)
}
