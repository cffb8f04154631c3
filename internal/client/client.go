// Package client is a REST client for the decision server. It implements
// ml.DecisionMaker, so code written against a local predictor can run against
// a remote one.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"bank-intel/internal/batch"
	"bank-intel/internal/ml"
	"bank-intel/internal/server"
	"bank-intel/internal/storage"

	"github.com/go-resty/resty/v2"
)

type Client struct {
	base string
	rest *resty.Client
}

// APIError is returned for any non-2xx reply.
type APIError struct {
	Status    int
	RequestID string
	Message   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server: %d %s", e.Status, e.Message)
}

func New(base string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(30 * time.Second) // default fallback
	}
	return &Client{base: base, rest: r}
}

func (c *Client) ApproveLoan(app ml.LoanApplication) (ml.Decision, error) {
	return c.decide(ml.DomainLoanApproval, record(ml.DomainLoanApproval, app.Features()))
}

func (c *Client) PredictAmount(req ml.AmountRequest) (ml.Decision, error) {
	return c.decide(ml.DomainLoanAmount, record(ml.DomainLoanAmount, req.Features()))
}

func (c *Client) DetectFraud(txn ml.Transaction) (ml.Decision, error) {
	return c.decide(ml.DomainFraud, record(ml.DomainFraud, txn.Features()))
}

func (c *Client) DecideRow(domain ml.Domain, row map[string]string) (ml.Decision, error) {
	return c.decide(domain, row)
}

// Batch uploads a CSV dataset and returns the decided dataset.
func (c *Client) Batch(domain ml.Domain, csv io.Reader) (*batch.Dataset, error) {
	resp, err := c.rest.R().
		SetHeader("Content-Type", "text/csv").
		SetBody(csv).
		Post(c.base + "/v1/batch/" + string(domain))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return batch.ReadCSV(bytes.NewReader(resp.Body()))
}

// Decisions fetches audited decisions. A zero since or until leaves the
// server default in place; an empty domain means all domains.
func (c *Client) Decisions(domain ml.Domain, since, until time.Time, limit int) ([]storage.DecisionRecord, error) {
	params := map[string]string{}
	if domain != "" {
		params["domain"] = string(domain)
	}
	if !since.IsZero() {
		params["since"] = since.Format(time.RFC3339)
	}
	if !until.IsZero() {
		params["until"] = until.Format(time.RFC3339)
	}
	if limit > 0 {
		params["limit"] = strconv.Itoa(limit)
	}

	var records []storage.DecisionRecord
	resp, err := c.rest.R().
		SetQueryParams(params).
		SetResult(&records).
		Get(c.base + "/v1/decisions")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return records, nil
}

// Health calls /health.
func (c *Client) Health() (server.HealthResponse, error) {
	var health server.HealthResponse
	resp, err := c.rest.R().
		SetResult(&health).
		Get(c.base + "/health")
	if err != nil {
		return health, fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		return health, apiError(resp)
	}
	return health, nil
}

func (c *Client) decide(domain ml.Domain, body interface{}) (ml.Decision, error) {
	path, ok := decidePaths[domain]
	if !ok {
		return ml.Decision{}, fmt.Errorf("%w: %q", ml.ErrUnknownDomain, domain)
	}

	result := &server.DecisionResponse{}
	resp, err := c.rest.R().
		SetBody(body).
		SetResult(result).
		Post(c.base + path)
	if err != nil {
		return ml.Decision{}, fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		return ml.Decision{}, apiError(resp)
	}
	return result.Decision, nil
}

var decidePaths = map[ml.Domain]string{
	ml.DomainLoanApproval: "/v1/loan/approval",
	ml.DomainLoanAmount:   "/v1/loan/amount",
	ml.DomainFraud:        "/v1/fraud",
}

func record(domain ml.Domain, features []float64) map[string]float64 {
	cols := domain.Columns()
	out := make(map[string]float64, len(cols))
	for i, c := range cols {
		out[c] = features[i]
	}
	return out
}

func apiError(resp *resty.Response) error {
	e := &APIError{Status: resp.StatusCode(), RequestID: resp.Header().Get(server.HeaderRequestID)}
	var body server.ErrorResponse
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.Error != "" {
		e.Message = body.Error
	} else {
		e.Message = resp.String()
	}
	return e
}
