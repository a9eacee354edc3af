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

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/nullifier-labs/proofd/flow"
	"github.com/nullifier-labs/proofd/payments"
	"github.com/nullifier-labs/proofd/prover"
	"github.com/nullifier-labs/proofd/skills"
	"github.com/nullifier-labs/proofd/task"
	"github.com/nullifier-labs/proofd/tee"
	"github.com/nullifier-labs/proofd/tee/attest"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"version":         s.cfg.Version,
		"paymentMode":     string(s.gate.Mode()),
		"paymentRequired": s.gate.Enabled(),
		"teeMode":         string(s.provider.Mode()),
	})
}

func (s *Server) handlePaymentStatus(w http.ResponseWriter, r *http.Request) {
	description := "Proof generation is free."
	if s.gate.Enabled() {
		description = "Proof generation costs " + s.cfg.Price + " in USDC, settled via the x402 protocol."
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":            string(s.gate.Mode()),
		"network":         s.gate.Mode().Network(),
		"requiresPayment": s.gate.Enabled(),
		"description":     description,
	})
}

func (s *Server) handleTEEStatus(w http.ResponseWriter, r *http.Request) {
	mode := s.provider.Mode()
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":               string(mode),
		"attestationEnabled": mode == tee.ModeNitro,
		"available":          s.provider.HealthCheck(r.Context()),
	})
}

// handleTEEAttestation serves the enclave's current attestation document.
func (s *Server) handleTEEAttestation(w http.ResponseWriter, r *http.Request) {
	doc, err := s.provider.Attestation(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "fetch attestation: %v", err)
		return
	}
	if doc == "" {
		writeError(w, http.StatusNotFound, "no attestation available in %s mode", s.provider.Mode())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"attestationDocument": doc,
		"mode":                string(s.provider.Mode()),
	})
}

// handleVerifyAttestation checks a Nitro attestation document's signature,
// certificate chain, freshness and optional expected PCR measurements.
func (s *Server) handleVerifyAttestation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AttestationDocument string            `json:"attestationDocument"`
		MaxAgeSeconds       int               `json:"maxAgeSeconds"`
		ExpectedPCRs        map[string]string `json:"expectedPcrs"` // index -> hex
	}
	if err := readJSON(r, &body); err != nil || body.AttestationDocument == "" {
		writeError(w, http.StatusBadRequest, "attestationDocument is required")
		return
	}

	env, err := attest.Parse(body.AttestationDocument)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	verifier := &attest.Verifier{MaxAge: time.Duration(body.MaxAgeSeconds) * time.Second}
	if len(body.ExpectedPCRs) > 0 {
		verifier.ExpectedPCRs = make(map[int][]byte, len(body.ExpectedPCRs))
		for idx, hex := range body.ExpectedPCRs {
			i, err := strconv.Atoi(idx)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid PCR index %q", idx)
				return
			}
			verifier.ExpectedPCRs[i] = common.FromHex(hex)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"verification": verifier.Verify(env),
		"moduleId":     env.ModuleID,
		"digest":       env.Digest,
		"timestamp":    env.Timestamp,
	})
}

func (s *Server) handleCircuits(w http.ResponseWriter, r *http.Request) {
	params := map[string]any{}
	if chainID := r.URL.Query().Get("chainId"); chainID != "" {
		params["chainId"] = chainID
	}
	out := s.dispatcher.Execute(r.Context(), skills.SkillGetSupportedCircuits, params, "")
	s.respondOutcome(w, out, http.StatusOK)
}

// handleCreateProof is the payment-gated entry point. With a resolvable
// signer it enqueues a generate_proof task; otherwise it answers with the
// signing handshake instead of queueing doomed work.
func (s *Server) handleCreateProof(w http.ResponseWriter, r *http.Request) {
	var params map[string]any
	if err := readJSON(r, &params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: %v", err)
		return
	}
	if params == nil {
		params = map[string]any{}
	}

	if !s.signerResolvable(r, params) {
		out := s.dispatcher.Execute(r.Context(), skills.SkillRequestSigning, params, "")
		if out.State != task.StateInputRequired {
			s.respondOutcome(w, out, http.StatusOK)
			return
		}
		data := outcomeData(out)
		data["state"] = string(task.StateInputRequired)
		writeJSON(w, http.StatusOK, data)
		return
	}

	t := task.New("", skills.SkillGenerateProof, params)
	if err := s.tasks.Create(r.Context(), t); err != nil {
		writeError(w, http.StatusInternalServerError, "could not enqueue task: %v", err)
		return
	}
	if claim, ok := payments.ClaimFromContext(r.Context()); ok {
		s.recordClaim(r.Context(), t.ID, claim)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"taskId": t.ID,
		"state":  string(t.Status.State),
	})
}

// signerResolvable reports whether generate_proof can start without more
// user input.
func (s *Server) signerResolvable(r *http.Request, params map[string]any) bool {
	address, _ := params["address"].(string)
	signature, _ := params["signature"].(string)
	if address != "" && signature != "" {
		return true
	}
	requestID, _ := params["requestId"].(string)
	if requestID == "" {
		return false
	}
	req, err := s.requests.Get(r.Context(), requestID)
	return err == nil && req.SigningComplete()
}

func (s *Server) handleGetProof(w http.ResponseWriter, r *http.Request) {
	t, err := s.tasks.Get(r.Context(), mux.Vars(r)["taskId"])
	if errors.Is(err, task.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load task: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleVerifyProof(w http.ResponseWriter, r *http.Request) {
	var params map[string]any
	if err := readJSON(r, &params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: %v", err)
		return
	}
	out := s.dispatcher.Execute(r.Context(), skills.SkillVerifyProof, params, "")
	s.respondOutcome(w, out, http.StatusOK)
}

func (s *Server) handleCreateSigning(w http.ResponseWriter, r *http.Request) {
	var params map[string]any
	if err := readJSON(r, &params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: %v", err)
		return
	}
	out := s.dispatcher.Execute(r.Context(), skills.SkillRequestSigning, params, "")
	s.respondOutcome(w, out, http.StatusCreated)
}

func (s *Server) handleSigningStatus(w http.ResponseWriter, r *http.Request) {
	out := s.dispatcher.Execute(r.Context(), skills.SkillCheckStatus,
		map[string]any{"requestId": mux.Vars(r)["requestId"]}, "")
	s.respondOutcome(w, out, http.StatusOK)
}

// handleSigningComplete is the signing-page callback: it records the
// wallet signature and advances the request into the payment phase.
func (s *Server) handleSigningComplete(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["requestId"]
	var body struct {
		Address   string `json:"address"`
		Signature string `json:"signature"`
	}
	if err := readJSON(r, &body); err != nil || body.Address == "" || body.Signature == "" {
		writeError(w, http.StatusBadRequest, "address and signature are required")
		return
	}

	req, err := s.requests.Get(r.Context(), requestID)
	if err != nil {
		writeError(w, http.StatusNotFound, "request not found or expired")
		return
	}
	signalHash := prover.SignalHash(req.Scope).Hex()
	req, err = s.requests.CompleteSigning(r.Context(), requestID, body.Address, body.Signature, signalHash)
	if errors.Is(err, flow.ErrInvalidPhase) {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requestId":  req.ID,
		"phase":      string(req.Phase),
		"signalHash": signalHash,
	})
}

func (s *Server) handleRequestPayment(w http.ResponseWriter, r *http.Request) {
	out := s.dispatcher.Execute(r.Context(), skills.SkillRequestPayment,
		map[string]any{"requestId": mux.Vars(r)["requestId"]}, "")
	s.respondOutcome(w, out, http.StatusOK)
}

// handlePaymentComplete is the payment-page callback: it marks the request
// paid and records the payment for the settlement sweep.
func (s *Server) handlePaymentComplete(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["requestId"]
	var body struct {
		TxHash string `json:"txHash"`
	}
	if err := readJSON(r, &body); err != nil || body.TxHash == "" {
		writeError(w, http.StatusBadRequest, "txHash is required")
		return
	}

	req, err := s.requests.CompletePayment(r.Context(), requestID, body.TxHash)
	if errors.Is(err, flow.ErrNotFound) {
		writeError(w, http.StatusNotFound, "request not found or expired")
		return
	}
	if errors.Is(err, flow.ErrInvalidPhase) {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}

	if s.facilitator != nil && s.gate.Enabled() {
		if _, err := s.facilitator.Record(r.Context(), requestID, req.Signing.Address, s.cfg.Price, s.gate.Mode().Network()); err != nil {
			s.log.Warn("Payment record failed", "request", requestID, "err", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requestId": req.ID,
		"phase":     string(req.Phase),
		"txHash":    body.TxHash,
	})
}

func (s *Server) handleCreateFlow(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CircuitID   string   `json:"circuitId"`
		Scope       string   `json:"scope"`
		CountryList []string `json:"countryList"`
		IsIncluded  *bool    `json:"isIncluded"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: %v", err)
		return
	}
	if body.CircuitID == "" || body.Scope == "" {
		writeError(w, http.StatusBadRequest, "circuitId and scope are required")
		return
	}

	f, req, err := s.flows.Create(r.Context(), body.CircuitID, body.Scope, body.CountryList, body.IsIncluded)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"flowId":     f.ID,
		"requestId":  f.RequestID,
		"phase":      string(f.Phase),
		"signingUrl": req.SigningURL,
	})
}

func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	f, req, err := s.flows.Get(r.Context(), mux.Vars(r)["flowId"])
	if errors.Is(err, flow.ErrNotFound) {
		writeError(w, http.StatusNotFound, "flow not found or expired")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, flowProjection(f, req))
}

func flowProjection(f *flow.Flow, req *flow.Request) map[string]any {
	return map[string]any{
		"flowId":    f.ID,
		"requestId": f.RequestID,
		"phase":     string(f.Phase),
		"taskId":    f.TaskID,
		"signing":   map[string]any{"status": req.Signing.Status},
		"payment":   map[string]any{"status": req.Payment.Status},
	}
}

// handleFlowEvents streams phase changes as SSE frames until the flow
// settles or the client disconnects.
func (s *Server) handleFlowEvents(w http.ResponseWriter, r *http.Request) {
	flowID := mux.Vars(r)["flowId"]
	f, req, err := s.flows.Get(r.Context(), flowID)
	if errors.Is(err, flow.ErrNotFound) {
		writeError(w, http.StatusNotFound, "flow not found or expired")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}

	stream, ok := newSSEStream(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	stream.send("phase", flowProjection(f, req))

	lastPhase := f.Phase
	poll := time.NewTicker(time.Second)
	defer poll.Stop()
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			stream.heartbeat()
		case <-poll.C:
			f, req, err = s.flows.Get(r.Context(), flowID)
			if err != nil {
				stream.send("error", map[string]string{"error": err.Error()})
				return
			}
			if f.Phase != lastPhase {
				lastPhase = f.Phase
				stream.send("phase", flowProjection(f, req))
			}
			if f.Phase == flow.PhaseCompleted || f.Phase == flow.PhaseFailed {
				return
			}
		}
	}
}

func (s *Server) handleChatGone(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusGone, "the chat endpoint has been removed; use the A2A or MCP frontends")
}

// respondOutcome maps a synchronous skill outcome onto an HTTP response:
// failures are client errors, everything else serves the artifact data.
func (s *Server) respondOutcome(w http.ResponseWriter, out skills.Outcome, okStatus int) {
	switch out.State {
	case task.StateFailed:
		writeError(w, http.StatusBadRequest, "%s", outcomeText(out))
	default:
		writeJSON(w, okStatus, outcomeData(out))
	}
}

func outcomeData(out skills.Outcome) map[string]any {
	for _, a := range out.Artifacts {
		for _, p := range a.Parts {
			if p.Kind == "data" {
				return p.Data
			}
		}
	}
	return map[string]any{}
}

func outcomeText(out skills.Outcome) string {
	for _, a := range out.Artifacts {
		for _, p := range a.Parts {
			if p.Kind == "text" {
				return p.Text
			}
		}
	}
	return "request failed"
}
