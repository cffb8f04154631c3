package ml

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Category code tables. A label's index is the integer code the models were
// trained with; changing an order here silently changes every prediction.
var (
	employmentLabels      = []string{"Salaried", "Self-Employed", "Unemployed"}
	transactionTypeLabels = []string{"Transfer", "Debit", "Bill Payment"}
	merchantLabels        = []string{"Groceries", "Restaurant", "Entertainment"}
	deviceLabels          = []string{"ATM", "POS", "Mobile App", "Voice Assistant"}
)

type EmploymentStatus int

const (
	Salaried EmploymentStatus = iota
	SelfEmployed
	Unemployed
)

func (e EmploymentStatus) String() string { return label(int(e), employmentLabels) }

type TransactionType int

const (
	Transfer TransactionType = iota
	Debit
	BillPayment
)

func (t TransactionType) String() string { return label(int(t), transactionTypeLabels) }

type MerchantCategory int

const (
	Groceries MerchantCategory = iota
	Restaurant
	Entertainment
)

func (m MerchantCategory) String() string { return label(int(m), merchantLabels) }

type Device int

const (
	ATM Device = iota
	POS
	MobileApp
	VoiceAssistant
)

func (d Device) String() string { return label(int(d), deviceLabels) }

// Encoding is one row of a category table, exposed for documentation and UIs.
type Encoding struct {
	Field string `json:"field"`
	Label string `json:"label"`
	Code  int    `json:"code"`
}

// Encodings returns every categorical label and its model-facing code.
func Encodings() []Encoding {
	var out []Encoding
	for _, t := range []struct {
		field  string
		labels []string
	}{
		{"Employment_Status", employmentLabels},
		{"Transaction_Type", transactionTypeLabels},
		{"Merchant_Category", merchantLabels},
		{"Transaction_Device", deviceLabels},
	} {
		for code, l := range t.labels {
			out = append(out, Encoding{Field: t.field, Label: l, Code: code})
		}
	}
	return out
}

func label(code int, labels []string) string {
	if code < 0 || code >= len(labels) {
		return strconv.Itoa(code)
	}
	return labels[code]
}

// parseCode accepts either the integer code (also written as "2.0") or the
// label, case-insensitively.
func parseCode(field, v string, labels []string) (int, error) {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		if f != math.Trunc(f) {
			return 0, fmt.Errorf("%w: field %s has non-integer code %q", ErrMalformedRecord, field, v)
		}
		code := int(f)
		if err := checkCode(field, code, labels); err != nil {
			return 0, err
		}
		return code, nil
	}
	for code, l := range labels {
		if strings.EqualFold(l, v) {
			return code, nil
		}
	}
	return 0, fmt.Errorf("%w: field %s has unknown category %q", ErrMalformedRecord, field, v)
}

func checkCode(field string, code int, labels []string) error {
	if code < 0 || code >= len(labels) {
		return fmt.Errorf("%w: field %s code %d outside 0..%d", ErrMalformedRecord, field, code, len(labels)-1)
	}
	return nil
}
