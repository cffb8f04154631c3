// Package ml turns feature records into lending and fraud decisions.
//
// Each call first runs the policy gate, then scales the record with the scaler
// paired to the domain's model, runs inference and interprets the raw output.
// All artifacts come from a model.Store handed to New; nothing is loaded lazily.
package ml

// DecisionMaker is implemented by Predictor and consumed by the batch runner and
// the HTTP API.
type DecisionMaker interface {
	// ApproveLoan decides a loan application. Policy rejections are returned as
	// decisions, not errors.
	ApproveLoan(app LoanApplication) (Decision, error)

	// PredictAmount returns the eligible loan amount in whole currency units.
	PredictAmount(req AmountRequest) (Decision, error)

	// DetectFraud classifies a transaction by its cluster.
	DetectFraud(txn Transaction) (Decision, error)

	// DecideRow parses a tabular row for the domain and dispatches it.
	DecideRow(domain Domain, row map[string]string) (Decision, error)
}
