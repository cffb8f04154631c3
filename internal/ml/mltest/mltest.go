// Package mltest builds small, hand-checkable model stores for tests of the
// packages that sit on top of ml.
//
// All scalers are identities, so expected outputs follow directly from the
// inputs:
//   - the classifier approves when Credit_Score > 600
//   - the regressor predicts 0.5*Income - 1000*DTI_Ratio
//   - cluster 0 of the fraud model sits at large amounts with small balances
package mltest

import (
	"testing"

	"bank-intel/internal/ml"
	"bank-intel/internal/model"

	"github.com/stretchr/testify/require"
)

// Fraud cluster centres, in ml.DomainFraud column order.
var Centers = [][]float64{
	{10000, 100, 30, 0, 0, 0},
	{100, 50000, 40, 1, 1, 1},
	{500, 5000, 60, 2, 2, 3},
}

// Artifacts returns the six fixture artifacts.
func Artifacts(t testing.TB) model.Artifacts {
	t.Helper()

	clf, err := model.NewLogisticRegression(ml.DomainLoanApproval.Columns(),
		[][]float64{{0, 1, 0, 0, 0}}, []float64{-600}, []int{0, 1})
	require.NoError(t, err)

	reg, err := model.NewLinearRegression(ml.DomainLoanAmount.Columns(), []float64{0.5, 0, -1000, 0}, 0)
	require.NoError(t, err)

	km, err := model.NewKMeans(ml.DomainFraud.Columns(), Centers)
	require.NoError(t, err)

	return model.Artifacts{
		LoanClassifier:  clf,
		LoanScaler:      identity(t, ml.DomainLoanApproval),
		AmountRegressor: reg,
		AmountScaler:    identity(t, ml.DomainLoanAmount),
		FraudClusterer:  km,
		FraudScaler:     identity(t, ml.DomainFraud),
	}
}

// Store returns an in-memory store over Artifacts.
func Store(t testing.TB) *model.Store {
	t.Helper()
	s, err := model.NewStore(Artifacts(t))
	require.NoError(t, err)
	return s
}

// WriteStore saves the fixture artifacts into dir for code that loads from disk.
func WriteStore(t testing.TB, dir string) {
	t.Helper()
	require.NoError(t, model.Save(dir, Artifacts(t), "test"))
}

// Predictor returns a predictor over Store with the default policy.
func Predictor(t testing.TB) *ml.Predictor {
	t.Helper()
	p, err := ml.New(Store(t), ml.DefaultConfig(), nil, nil)
	require.NoError(t, err)
	return p
}

func identity(t testing.TB, d ml.Domain) model.Scaler {
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
