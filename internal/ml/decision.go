package ml

import (
	"encoding/json"
	"strconv"

	"bank-intel/internal/policy"
)

// Kind tags which variant a Decision holds.
type Kind string

const (
	KindApproved        Kind = "approved"
	KindRejected        Kind = "rejected"
	KindPredictedAmount Kind = "predicted_amount"
	KindFraudFlag       Kind = "fraud_flag"
)

// Verdict is the interpretation of a fraud cluster id.
type Verdict string

const (
	VerdictAlert  Verdict = "alert"
	VerdictNormal Verdict = "normal"
)

// Decision is the outcome of one prediction call. Only the fields belonging to
// its Kind are meaningful.
type Decision struct {
	Domain Domain
	Kind   Kind

	// Rejected: set when a policy rule, not the classifier, rejected.
	Rule   policy.Rule
	Reason string

	// PredictedAmount: whole currency units, never negative. Adjusted lists
	// the inputs that were clamped before inference.
	Amount   int64
	Adjusted []policy.Rule

	// FraudFlag
	ClusterID int
	Verdict   Verdict
}

func Approved() Decision {
	return Decision{Domain: DomainLoanApproval, Kind: KindApproved}
}

// Rejected builds a rejection; an empty rule is a plain model rejection.
func Rejected(rule policy.Rule) Decision {
	d := Decision{Domain: DomainLoanApproval, Kind: KindRejected, Rule: rule}
	if rule != "" {
		d.Reason = rule.Reason()
	}
	return d
}

func PredictedAmount(amount int64, adjusted []policy.Rule) Decision {
	return Decision{Domain: DomainLoanAmount, Kind: KindPredictedAmount, Amount: amount, Adjusted: adjusted}
}

func FraudFlag(clusterID int, verdict Verdict) Decision {
	return Decision{Domain: DomainFraud, Kind: KindFraudFlag, ClusterID: clusterID, Verdict: verdict}
}

// RuleBased reports whether a policy rule decided the outcome without a model.
func (d Decision) RuleBased() bool {
	return d.Kind == KindRejected && d.Rule != ""
}

// String renders the decision the way it appears in the output column.
func (d Decision) String() string {
	switch d.Kind {
	case KindApproved:
		return "APPROVED"
	case KindRejected:
		if d.Reason != "" {
			return "REJECTED (" + d.Reason + ")"
		}
		return "REJECTED"
	case KindPredictedAmount:
		return strconv.FormatInt(d.Amount, 10)
	case KindFraudFlag:
		if d.Verdict == VerdictAlert {
			return "FRAUD ALERT"
		}
		return "NORMAL TRANSACTION"
	}
	return ""
}

type decisionJSON struct {
	Domain    Domain        `json:"domain"`
	Kind      Kind          `json:"kind"`
	Label     string        `json:"label"`
	Rule      policy.Rule   `json:"rule,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Amount    *int64        `json:"amount,omitempty"`
	Adjusted  []policy.Rule `json:"adjusted,omitempty"`
	ClusterID *int          `json:"cluster_id,omitempty"`
	Verdict   Verdict       `json:"verdict,omitempty"`
}

func (d Decision) MarshalJSON() ([]byte, error) {
	out := decisionJSON{
		Domain:   d.Domain,
		Kind:     d.Kind,
		Label:    d.String(),
		Rule:     d.Rule,
		Reason:   d.Reason,
		Adjusted: d.Adjusted,
	}
	switch d.Kind {
	case KindPredictedAmount:
		amount := d.Amount
		out.Amount = &amount
	case KindFraudFlag:
		id := d.ClusterID
		out.ClusterID = &id
		out.Verdict = d.Verdict
	}
	return json.Marshal(out)
}

func (d *Decision) UnmarshalJSON(data []byte) error {
	var in decisionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*d = Decision{
		Domain:   in.Domain,
		Kind:     in.Kind,
		Rule:     in.Rule,
		Reason:   in.Reason,
		Adjusted: in.Adjusted,
		Verdict:  in.Verdict,
	}
	if in.Amount != nil {
		d.Amount = *in.Amount
	}
	if in.ClusterID != nil {
		d.ClusterID = *in.ClusterID
	}
	return nil
}
