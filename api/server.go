// Copyright 2025 The proofd Authors
// This file is part of the proofd library.
//
// The proofd library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The proofd library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the proofd library. If not, see <http://www.gnu.org/licenses/>.

// Package api serves the agent's three protocol frontends (REST, A2A
// JSON-RPC and MCP) plus discovery and metrics endpoints over a single
// HTTP listener.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/mux"
	"github.com/nullifier-labs/proofd/flow"
	"github.com/nullifier-labs/proofd/internal/metrics"
	"github.com/nullifier-labs/proofd/payments"
	"github.com/nullifier-labs/proofd/ratelimit"
	"github.com/nullifier-labs/proofd/skills"
	"github.com/nullifier-labs/proofd/task"
	"github.com/nullifier-labs/proofd/tee"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// Config carries the server's wiring-level settings.
type Config struct {
	Port        int
	BaseURL     string
	AgentName   string
	Version     string
	Price       string
	PaymentMode payments.Mode

	// SendTimeout bounds how long message/send waits for a terminal state.
	SendTimeout time.Duration
}

// Server is the HTTP frontend.
type Server struct {
	cfg         Config
	dispatcher  *skills.Dispatcher
	tasks       *task.Store
	bus         *task.Bus
	requests    *flow.RequestStore
	flows       *flow.Orchestrator
	gate        *payments.Gate
	facilitator *payments.Facilitator
	provider    tee.Provider
	limiter     *ratelimit.Limiter
	log         log.Logger

	http *http.Server
}

// NewServer wires the frontends over the shared core.
func NewServer(cfg Config, dispatcher *skills.Dispatcher, tasks *task.Store, bus *task.Bus,
	requests *flow.RequestStore, flows *flow.Orchestrator, gate *payments.Gate,
	facilitator *payments.Facilitator, provider tee.Provider, limiter *ratelimit.Limiter) *Server {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Minute
	}
	s := &Server{
		cfg:         cfg,
		dispatcher:  dispatcher,
		tasks:       tasks,
		bus:         bus,
		requests:    requests,
		flows:       flows,
		gate:        gate,
		facilitator: facilitator,
		provider:    provider,
		limiter:     limiter,
		log:         log.New("module", "api"),
	}
	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{payments.HeaderPaymentRequired},
	}).Handler(s.router())
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the full middleware stack, used by tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

func (s *Server) router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.measure)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/payment/status", s.handlePaymentStatus).Methods(http.MethodGet)
	r.HandleFunc("/tee/status", s.handleTEEStatus).Methods(http.MethodGet)
	r.HandleFunc("/tee/attestation", s.handleTEEAttestation).Methods(http.MethodGet)
	r.HandleFunc("/tee/attestation/verify", s.handleVerifyAttestation).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/.well-known/agent-card.json", s.handleAgentCard).Methods(http.MethodGet)
	r.HandleFunc("/.well-known/agent.json", s.handleAgentCard).Methods(http.MethodGet)
	r.HandleFunc("/.well-known/mcp.json", s.handleMCPDiscovery).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.throttle)
	v1.HandleFunc("/circuits", s.handleCircuits).Methods(http.MethodGet)
	v1.Handle("/proofs", s.gate.Middleware(http.HandlerFunc(s.handleCreateProof))).Methods(http.MethodPost)
	v1.HandleFunc("/proofs/verify", s.handleVerifyProof).Methods(http.MethodPost)
	v1.HandleFunc("/proofs/{taskId}", s.handleGetProof).Methods(http.MethodGet)
	v1.HandleFunc("/signing", s.handleCreateSigning).Methods(http.MethodPost)
	v1.HandleFunc("/signing/{requestId}/status", s.handleSigningStatus).Methods(http.MethodGet)
	v1.HandleFunc("/signing/{requestId}/complete", s.handleSigningComplete).Methods(http.MethodPost)
	v1.HandleFunc("/signing/{requestId}/payment", s.handleRequestPayment).Methods(http.MethodPost)
	v1.HandleFunc("/signing/{requestId}/payment/complete", s.handlePaymentComplete).Methods(http.MethodPost)
	v1.HandleFunc("/flow", s.handleCreateFlow).Methods(http.MethodPost)
	v1.HandleFunc("/flow/{flowId}", s.handleGetFlow).Methods(http.MethodGet)
	v1.HandleFunc("/flow/{flowId}/events", s.handleFlowEvents).Methods(http.MethodGet)
	v1.HandleFunc("/chat", s.handleChatGone)

	r.Handle("/a2a", s.throttle(http.HandlerFunc(s.handleA2A))).Methods(http.MethodPost)
	r.Handle("/mcp", s.throttle(http.HandlerFunc(s.handleMCP))).Methods(http.MethodPost)
	return r
}

// throttle applies the shared rate limiter per client address. The limiter
// failing open is deliberate: a broken store should not take the API down.
func (s *Server) throttle(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, err := s.limiter.Check(r.Context(), clientAddr(r))
		if err != nil {
			s.log.Warn("Rate limit check failed", "err", err)
			next.ServeHTTP(w, r)
			return
		}
		if !res.Allowed {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(res.RetryAfter.Seconds())+1))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded, retry in %s", res.RetryAfter.Round(time.Second))
			return
		}
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", res.Remaining))
		next.ServeHTTP(w, r)
	})
}

// recordClaim persists an x402 payment claim so the settlement worker
// sweeps it to the operator wallet. Claims are advisory, so recording
// failures only log.
func (s *Server) recordClaim(ctx context.Context, taskID string, claim *payments.Claim) {
	if claim == nil || s.facilitator == nil || !s.gate.Enabled() {
		return
	}
	amount := claim.Amount
	if amount == "" {
		amount = s.cfg.Price
	}
	network := claim.Network
	if network == "" {
		network = s.gate.Mode().Network()
	}
	if _, err := s.facilitator.Record(ctx, taskID, claim.PayerAddress, amount, network); err != nil {
		s.log.Warn("Payment record failed", "task", taskID, "err", err)
	}
}

// headerClaim decodes the request's x-payment header, nil when absent or
// malformed. Used by the frontends that gate in-handler rather than
// through the middleware.
func (s *Server) headerClaim(r *http.Request) *payments.Claim {
	header := r.Header.Get(payments.HeaderPayment)
	if header == "" {
		return nil
	}
	claim, err := payments.DecodeClaim(header)
	if err != nil {
		s.log.Warn("Malformed x-payment header ignored", "err", err)
		return nil
	}
	return claim
}

// clientAddr picks the client key for rate limiting, honoring the first
// hop of X-Forwarded-For when a proxy fronts the agent.
func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Start begins serving. It returns once the listener stops.
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", "addr", s.http.Addr, "base", s.cfg.BaseURL)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop drains connections and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("HTTP server shutting down")
	return s.http.Shutdown(ctx)
}

// measure feeds the per-route request counter.
func (s *Server) measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		metrics.HTTPRequests.WithLabelValues(route, fmt.Sprintf("%dxx", rec.status/100)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush forwards to the wrapped writer so SSE keeps working through the
// metrics middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}

// readJSON decodes a bounded request body.
func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
