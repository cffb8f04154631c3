// Package policy holds the fixed lending rules that run before any model.
//
// The rules encode hard business constraints: a model can never approve an
// applicant the gate rejects, and out-of-range amount inputs are corrected rather
// than passed to the regressor.
package policy

import (
	"fmt"

	"bank-intel/internal/common"
)

// Rule identifies which policy check produced an outcome.
type Rule string

const (
	RuleLowCreditScore Rule = "low_credit_score"
	RuleHighDebtRatio  Rule = "high_debt_ratio"
	RuleUnemployed     Rule = "unemployed"
	RuleIncomeCeiling  Rule = "income_ceiling"
	RuleDTICeiling     Rule = "dti_ceiling"
)

// Reason returns the human readable rejection reason for a rule.
func (r Rule) Reason() string {
	switch r {
	case RuleLowCreditScore:
		return "Low Credit Score"
	case RuleHighDebtRatio:
		return "High Debt Ratio"
	case RuleUnemployed:
		return "Unemployed"
	case RuleIncomeCeiling:
		return "Income Ceiling"
	case RuleDTICeiling:
		return "DTI Ceiling"
	}
	return string(r)
}

// Policy carries the gate thresholds.
type Policy struct {
	MinCreditScore   float64
	MaxApprovalDTI   float64
	IncomeCeiling    float64
	AmountDTICeiling float64
}

// Default returns the bank's standard thresholds.
func Default() Policy {
	return Policy{
		MinCreditScore:   common.DefaultMinCreditScore,
		MaxApprovalDTI:   common.DefaultMaxApprovalDTI,
		IncomeCeiling:    common.DefaultIncomeCeiling,
		AmountDTICeiling: common.DefaultAmountDTICeiling,
	}
}

// Validate checks the thresholds are usable.
func (p Policy) Validate() error {
	if p.MinCreditScore < 0 || p.MinCreditScore > common.MaxCreditScore {
		return fmt.Errorf("min credit score must be between 0 and %.0f, got %f", common.MaxCreditScore, p.MinCreditScore)
	}
	if p.MaxApprovalDTI <= 0 || p.MaxApprovalDTI > common.MaxDTIPercent {
		return fmt.Errorf("max approval DTI must be between 0 and %.0f, got %f", common.MaxDTIPercent, p.MaxApprovalDTI)
	}
	if p.IncomeCeiling <= 0 {
		return fmt.Errorf("income ceiling must be positive, got %f", p.IncomeCeiling)
	}
	if p.AmountDTICeiling <= 0 || p.AmountDTICeiling > common.MaxDTIPercent {
		return fmt.Errorf("amount DTI ceiling must be between 0 and %.0f, got %f", common.MaxDTIPercent, p.AmountDTICeiling)
	}
	return nil
}

// ScreenLoan applies the approval rules in order: credit score, then DTI, then
// employment. It returns the first rule that rejects, or false when the
// application may go to the classifier.
func (p Policy) ScreenLoan(creditScore, dtiRatio float64, unemployed bool) (Rule, bool) {
	switch {
	case creditScore < p.MinCreditScore:
		return RuleLowCreditScore, true
	case dtiRatio > p.MaxApprovalDTI:
		return RuleHighDebtRatio, true
	case unemployed:
		return RuleUnemployed, true
	}
	return "", false
}

// ClampAmount caps income and DTI at their ceilings. The returned rules list
// every input that was corrected.
func (p Policy) ClampAmount(income, dtiRatio float64) (float64, float64, []Rule) {
	var clamped []Rule
	if income > p.IncomeCeiling {
		income = p.IncomeCeiling
		clamped = append(clamped, RuleIncomeCeiling)
	}
	if dtiRatio > p.AmountDTICeiling {
		dtiRatio = p.AmountDTICeiling
		clamped = append(clamped, RuleDTICeiling)
	}
	return income, dtiRatio, clamped
}
