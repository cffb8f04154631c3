package server

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"bank-intel/internal/batch"
	"bank-intel/internal/ml"
	"bank-intel/internal/model"
	"bank-intel/internal/storage"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const defaultHistoryWindow = 24 * time.Hour

// DecisionResponse is returned by the single-record endpoints.
type DecisionResponse struct {
	RequestID string      `json:"request_id"`
	Decision  ml.Decision `json:"decision"`
	LatencyMS float64     `json:"latency_ms"`
	Timestamp time.Time   `json:"timestamp"`
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error"`
}

// HealthResponse reports liveness and what is loaded.
type HealthResponse struct {
	Status    string  `json:"status"`
	Artifacts int     `json:"artifacts"`
	Audit     bool    `json:"audit"`
	Uptime    float64 `json:"uptime_seconds"`
}

// ModelInfoResponse describes the loaded artifacts and category encodings.
type ModelInfoResponse struct {
	Artifacts []model.ArtifactInfo `json:"artifacts"`
	Encodings []ml.Encoding        `json:"encodings"`
	Domains   []DomainInfo         `json:"domains"`
}

// DriftResponse reports input drift per domain and recent alerts.
type DriftResponse struct {
	Enabled bool                         `json:"enabled"`
	Domains map[ml.Domain]ml.DriftStatus `json:"domains"`
	Alerts  []ml.DriftAlert              `json:"alerts"`
}

// DomainInfo lists the columns a domain reads and the column it writes.
type DomainInfo struct {
	Domain  ml.Domain `json:"domain"`
	Columns []string  `json:"columns"`
	Output  string    `json:"output"`
}

// Batch response headers.
const (
	HeaderRequestID   = "X-Request-ID"
	HeaderBatchID     = "X-Batch-ID"
	HeaderBatchRows   = "X-Batch-Rows"
	HeaderBatchFailed = "X-Batch-Failed"
)

func (s *Server) handleDecide(domain ml.Domain) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := requestID(r)

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes))
		if err != nil {
			writeError(w, requestID, statusFor(err), fmt.Errorf("read request: %w", err))
			return
		}

		row, err := ml.RowFromJSON(body)
		if err != nil {
			writeError(w, requestID, http.StatusBadRequest, err)
			return
		}

		d, err := s.dm.DecideRow(domain, row)
		if err != nil {
			writeError(w, requestID, statusFor(err), err)
			return
		}

		writeJSON(w, http.StatusOK, DecisionResponse{
			RequestID: requestID,
			Decision:  d,
			LatencyMS: float64(time.Since(start).Microseconds()) / 1000,
			Timestamp: time.Now(),
		})
	}
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	requestID := requestID(r)

	domain, err := ml.ParseDomain(r.PathValue("domain"))
	if err != nil {
		writeError(w, requestID, http.StatusNotFound, err)
		return
	}

	ds, err := batch.ReadCSV(http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes))
	if err != nil {
		writeError(w, requestID, statusFor(err), err)
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	res, err := s.runner.Run(ctx, ds, domain)
	if err != nil {
		writeError(w, requestID, statusFor(err), err)
		return
	}

	var buf bytes.Buffer
	if err := batch.WriteCSV(&buf, res.Dataset); err != nil {
		writeError(w, requestID, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set(HeaderRequestID, requestID)
	w.Header().Set(HeaderBatchID, res.Summary.ID)
	w.Header().Set(HeaderBatchRows, strconv.Itoa(res.Summary.Rows))
	w.Header().Set(HeaderBatchFailed, strconv.Itoa(res.Summary.Failed))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Warn().Err(err).Str("request_id", requestID).Msg("failed to write batch response")
	}
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	requestID := requestID(r)
	if s.audit == nil {
		writeError(w, requestID, http.StatusServiceUnavailable, errors.New("audit log is disabled"))
		return
	}

	q := r.URL.Query()
	until := time.Now()
	since := until.Add(-defaultHistoryWindow)
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"since", &since}, {"until", &until}} {
		if v := q.Get(p.name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, requestID, http.StatusBadRequest, fmt.Errorf("invalid %s: %w", p.name, err))
				return
			}
			*p.dst = t
		}
	}

	domains := ml.Domains()
	if v := q.Get("domain"); v != "" {
		d, err := ml.ParseDomain(v)
		if err != nil {
			writeError(w, requestID, http.StatusBadRequest, err)
			return
		}
		domains = []ml.Domain{d}
	}

	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, requestID, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}

	records := []storage.DecisionRecord{}
	for _, d := range domains {
		recs, err := s.audit.GetDecisions(d, since, until)
		if err != nil {
			writeError(w, requestID, http.StatusInternalServerError, err)
			return
		}
		records = append(records, recs...)
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].Time.Before(records[j].Time) })
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}

	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	resp := ModelInfoResponse{
		Artifacts: s.store.Info(),
		Encodings: ml.Encodings(),
	}
	for _, d := range ml.Domains() {
		resp.Domains = append(resp.Domains, DomainInfo{Domain: d, Columns: d.Columns(), Output: d.OutputColumn()})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDrift(w http.ResponseWriter, r *http.Request) {
	alerts := s.opts.Drift.Alerts()
	if alerts == nil {
		alerts = []ml.DriftAlert{}
	}
	writeJSON(w, http.StatusOK, DriftResponse{
		Enabled: s.opts.Drift != nil,
		Domains: s.opts.Drift.Status(),
		Alerts:  alerts,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Artifacts: len(s.store.Info()),
		Audit:     s.audit != nil,
		Uptime:    time.Since(s.started).Seconds(),
	})
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.opts.RequestTimeout > 0 {
		return context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	}
	return context.WithCancel(r.Context())
}

func requestID(r *http.Request) string {
	if id := r.Header.Get(HeaderRequestID); id != "" {
		return id
	}
	return uuid.NewString()
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		maxBytes *http.MaxBytesError
		parseErr *csv.ParseError
	)
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ml.ErrMalformedRecord),
		errors.Is(err, batch.ErrMissingColumn),
		errors.Is(err, batch.ErrEmptyInput),
		errors.As(err, &parseErr):
		return http.StatusBadRequest
	case errors.Is(err, ml.ErrUnknownDomain):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	var rowErr *batch.RowError
	if errors.As(err, &rowErr) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, err error) {
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("request_id", requestID).Msg("request failed")
	}
	w.Header().Set(HeaderRequestID, requestID)
	writeJSON(w, status, ErrorResponse{RequestID: requestID, Error: err.Error()})
}
