package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"bank-intel/internal/common"
)

var (
	// ErrMalformedRecord is returned when a feature record is missing a field,
	// carries a non-numeric or non-finite value, or uses an unknown category code.
	ErrMalformedRecord = errors.New("malformed feature record")
	// ErrUnknownDomain is returned for a domain selector that names no use-case.
	ErrUnknownDomain = errors.New("unknown decision domain")
)

// Domain selects one of the three decision use-cases.
type Domain string

const (
	DomainLoanApproval Domain = "loan_approval"
	DomainLoanAmount   Domain = "loan_amount"
	DomainFraud        Domain = "fraud"
)

// Domains lists every domain in a stable order.
func Domains() []Domain {
	return []Domain{DomainLoanApproval, DomainLoanAmount, DomainFraud}
}

// ParseDomain accepts the canonical names plus a few short aliases.
func ParseDomain(s string) (Domain, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "loan_approval", "approval", "loan":
		return DomainLoanApproval, nil
	case "loan_amount", "amount":
		return DomainLoanAmount, nil
	case "fraud", "fraud_detection":
		return DomainFraud, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDomain, s)
}

// Columns returns the feature schema, in the order the scaler was fit on.
func (d Domain) Columns() []string {
	switch d {
	case DomainLoanApproval:
		return []string{common.ColIncome, common.ColCreditScore, common.ColLoanAmount, common.ColDTIRatio, common.ColEmploymentStatus}
	case DomainLoanAmount:
		return []string{common.ColIncome, common.ColCreditScore, common.ColDTIRatio, common.ColEmploymentStatus}
	case DomainFraud:
		return []string{common.ColTxnAmount, common.ColAccountBalance, common.ColAge, common.ColTxnType, common.ColMerchantCategory, common.ColTxnDevice}
	}
	return nil
}

// OutputColumn is the name of the decision column appended in batch mode.
func (d Domain) OutputColumn() string {
	switch d {
	case DomainLoanApproval:
		return common.ColLoanStatus
	case DomainLoanAmount:
		return common.ColEligibleAmount
	case DomainFraud:
		return common.ColFraudStatus
	}
	return ""
}

// LoanApplication is the loan approval feature record.
type LoanApplication struct {
	Income           float64
	CreditScore      float64
	LoanAmount       float64
	DTIRatio         float64
	EmploymentStatus EmploymentStatus
}

func (a LoanApplication) Features() []float64 {
	return []float64{a.Income, a.CreditScore, a.LoanAmount, a.DTIRatio, float64(a.EmploymentStatus)}
}

func (a LoanApplication) Validate() error {
	if err := checkFinite(DomainLoanApproval, a.Features()); err != nil {
		return err
	}
	return checkCode(common.ColEmploymentStatus, int(a.EmploymentStatus), employmentLabels)
}

// AmountRequest is the loan amount feature record.
type AmountRequest struct {
	Income           float64
	CreditScore      float64
	DTIRatio         float64
	EmploymentStatus EmploymentStatus
}

func (r AmountRequest) Features() []float64 {
	return []float64{r.Income, r.CreditScore, r.DTIRatio, float64(r.EmploymentStatus)}
}

func (r AmountRequest) Validate() error {
	if err := checkFinite(DomainLoanAmount, r.Features()); err != nil {
		return err
	}
	return checkCode(common.ColEmploymentStatus, int(r.EmploymentStatus), employmentLabels)
}

// Transaction is the fraud detection feature record.
type Transaction struct {
	Amount           float64
	AccountBalance   float64
	Age              float64
	Type             TransactionType
	MerchantCategory MerchantCategory
	Device           Device
}

func (t Transaction) Features() []float64 {
	return []float64{t.Amount, t.AccountBalance, t.Age, float64(t.Type), float64(t.MerchantCategory), float64(t.Device)}
}

func (t Transaction) Validate() error {
	if err := checkFinite(DomainFraud, t.Features()); err != nil {
		return err
	}
	if err := checkCode(common.ColTxnType, int(t.Type), transactionTypeLabels); err != nil {
		return err
	}
	if err := checkCode(common.ColMerchantCategory, int(t.MerchantCategory), merchantLabels); err != nil {
		return err
	}
	return checkCode(common.ColTxnDevice, int(t.Device), deviceLabels)
}

func checkFinite(d Domain, features []float64) error {
	cols := d.Columns()
	for i, v := range features {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: field %s is not a finite number", ErrMalformedRecord, cols[i])
		}
	}
	return nil
}

// rowReader pulls typed fields out of a tabular row, keeping the first error.
type rowReader struct {
	row map[string]string
	err error
}

func (r *rowReader) raw(field string) (string, bool) {
	if r.err != nil {
		return "", false
	}
	v, ok := r.row[field]
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		r.err = fmt.Errorf("%w: missing field %s", ErrMalformedRecord, field)
		return "", false
	}
	return v, true
}

func (r *rowReader) number(field string) float64 {
	v, ok := r.raw(field)
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		r.err = fmt.Errorf("%w: field %s has non-numeric value %q", ErrMalformedRecord, field, v)
		return 0
	}
	return f
}

func (r *rowReader) code(field string, labels []string) int {
	v, ok := r.raw(field)
	if !ok {
		return 0
	}
	code, err := parseCode(field, v, labels)
	if err != nil {
		r.err = err
	}
	return code
}

// ParseLoanApplication reads a loan approval record from a tabular row.
func ParseLoanApplication(row map[string]string) (LoanApplication, error) {
	r := rowReader{row: row}
	a := LoanApplication{
		Income:           r.number(common.ColIncome),
		CreditScore:      r.number(common.ColCreditScore),
		LoanAmount:       r.number(common.ColLoanAmount),
		DTIRatio:         r.number(common.ColDTIRatio),
		EmploymentStatus: EmploymentStatus(r.code(common.ColEmploymentStatus, employmentLabels)),
	}
	return a, r.err
}

// ParseAmountRequest reads a loan amount record from a tabular row.
func ParseAmountRequest(row map[string]string) (AmountRequest, error) {
	r := rowReader{row: row}
	a := AmountRequest{
		Income:           r.number(common.ColIncome),
		CreditScore:      r.number(common.ColCreditScore),
		DTIRatio:         r.number(common.ColDTIRatio),
		EmploymentStatus: EmploymentStatus(r.code(common.ColEmploymentStatus, employmentLabels)),
	}
	return a, r.err
}

// ParseTransaction reads a fraud record from a tabular row.
func ParseTransaction(row map[string]string) (Transaction, error) {
	r := rowReader{row: row}
	t := Transaction{
		Amount:           r.number(common.ColTxnAmount),
		AccountBalance:   r.number(common.ColAccountBalance),
		Age:              r.number(common.ColAge),
		Type:             TransactionType(r.code(common.ColTxnType, transactionTypeLabels)),
		MerchantCategory: MerchantCategory(r.code(common.ColMerchantCategory, merchantLabels)),
		Device:           Device(r.code(common.ColTxnDevice, deviceLabels)),
	}
	return t, r.err
}

// RowFromJSON flattens a JSON object into a tabular row so single-record
// requests go through the same parsing as batch rows. Numbers keep their
// literal text and strings are unquoted.
func RowFromJSON(data []byte) (map[string]string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	row := make(map[string]string, len(fields))
	for k, raw := range fields {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			row[k] = s
			continue
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("%w: field %s must be a number or string", ErrMalformedRecord, k)
		}
		row[k] = n.String()
	}
	return row, nil
}
