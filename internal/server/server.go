// Package server exposes the decision service over HTTP.
//
// Single records are posted as JSON objects keyed by column name, batches as
// CSV bodies. A WebSocket endpoint streams per-row batch decisions as they are
// made.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"bank-intel/internal/batch"
	"bank-intel/internal/common"
	"bank-intel/internal/ml"
	"bank-intel/internal/model"
	"bank-intel/internal/storage"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// MetricsInterface defines metrics methods needed by the server
type MetricsInterface interface {
	HTTPRequestsInc(route string, code int)
}

// AuditLog is the read side of the decision audit store.
type AuditLog interface {
	GetDecisions(domain ml.Domain, start, end time.Time) ([]storage.DecisionRecord, error)
}

// Options configures the HTTP server.
type Options struct {
	Port           int
	RequestTimeout time.Duration
	MaxUploadBytes int64
	// Gatherer backs /metrics; nil means the default registry.
	Gatherer prometheus.Gatherer
	// Drift backs /model/drift; nil reports detection as disabled.
	Drift *ml.DriftDetector
}

// Server serves decisions over HTTP.
type Server struct {
	dm       ml.DecisionMaker
	store    *model.Store
	runner   *batch.Runner
	audit    AuditLog
	metrics  MetricsInterface
	opts     Options
	upgrader websocket.Upgrader
	started  time.Time
	server   *http.Server
}

// New wires the routes. audit and metrics may be nil.
func New(dm ml.DecisionMaker, store *model.Store, runner *batch.Runner, audit AuditLog, metrics MetricsInterface, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = common.DefaultMaxUploadBytes
	}
	s := &Server{
		dm:       dm,
		store:    store,
		runner:   runner,
		audit:    audit,
		metrics:  metrics,
		opts:     opts,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		started:  time.Now(),
	}

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	s.handle(mux, "POST /v1/loan/approval", s.handleDecide(ml.DomainLoanApproval))
	s.handle(mux, "POST /v1/loan/amount", s.handleDecide(ml.DomainLoanAmount))
	s.handle(mux, "POST /v1/fraud", s.handleDecide(ml.DomainFraud))
	s.handle(mux, "POST /v1/batch/{domain}", s.handleBatch)
	s.handle(mux, "GET /v1/batch/{domain}/stream", s.handleStream)
	s.handle(mux, "GET /v1/decisions", s.handleDecisions)
	s.handle(mux, "GET /model/info", s.handleModelInfo)
	s.handle(mux, "GET /model/drift", s.handleDrift)
	s.handle(mux, "GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Start begins serving HTTP requests
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("starting decision server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("connection does not support hijacking")
	}
	r.code = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		h(rec, r)

		if s.metrics != nil {
			s.metrics.HTTPRequestsInc(pattern, rec.code)
		}
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.code).
			Dur("elapsed", time.Since(start)).
			Msg("request served")
	})
}
