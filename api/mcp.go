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
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/nullifier-labs/proofd/circuits"
	"github.com/nullifier-labs/proofd/payments"
	"github.com/nullifier-labs/proofd/skills"
	"github.com/nullifier-labs/proofd/task"
)

// mcpProtocolVersion is the MCP revision this frontend speaks.
const mcpProtocolVersion = "2024-11-05"

// toolDescriptions maps skill names onto their MCP tool descriptions.
var toolDescriptions = map[string]string{
	skills.SkillGetSupportedCircuits: "List the ZK circuits this agent can prove, with per-chain verifier addresses.",
	skills.SkillVerifyProof:          "Verify a proof against the deployed on-chain verifier contract.",
	skills.SkillRequestSigning:       "Start a signing request; returns a URL where the wallet owner authorizes the proof.",
	skills.SkillCheckStatus:          "Check the signing and payment status of a proof request.",
	skills.SkillRequestPayment:       "Request the payment descriptor for a signed proof request.",
	skills.SkillGenerateProof:        "Generate a zero-knowledge proof over an attested credential. Requires payment.",
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	sse := strings.Contains(r.Header.Get("Accept"), "text/event-stream")

	var req rpcRequest
	if err := readJSON(r, &req); err != nil {
		s.mcpRespond(w, sse, rpcFailure(nil, codeParse, "parse error"))
		return
	}

	switch req.Method {
	case "initialize":
		s.mcpRespond(w, sse, rpcResult(req.ID, map[string]any{
			"protocolVersion": mcpProtocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo": map[string]any{
				"name":    s.cfg.AgentName,
				"version": s.cfg.Version,
			},
		}))
	case "tools/list":
		s.mcpRespond(w, sse, rpcResult(req.ID, map[string]any{"tools": s.mcpTools()}))
	case "tools/call":
		s.mcpCall(w, r, &req, sse)
	default:
		s.mcpRespond(w, sse, rpcFailure(req.ID, codeMethodNotFound, "method not found: "+req.Method))
	}
}

func (s *Server) mcpRespond(w http.ResponseWriter, sse bool, resp rpcResponse) {
	if !sse {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	stream, ok := newSSEStream(w)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	stream.send("message", resp)
}

// mcpTools exposes each skill as one tool with a permissive object schema
// carrying the circuit registry's known fields.
func (s *Server) mcpTools() []map[string]any {
	circuitIDs := make([]string, 0, 2)
	for _, desc := range circuits.All() {
		circuitIDs = append(circuitIDs, desc.ID)
	}

	tools := make([]map[string]any, 0, len(skills.All()))
	for _, skill := range skills.All() {
		schema := map[string]any{
			"type": "object",
			"properties": map[string]any{
				"circuitId": map[string]any{"type": "string", "enum": circuitIDs},
				"scope":     map[string]any{"type": "string"},
				"requestId": map[string]any{"type": "string"},
			},
			"additionalProperties": true,
		}
		tools = append(tools, map[string]any{
			"name":        skill,
			"description": toolDescriptions[skill],
			"inputSchema": schema,
		})
	}
	return tools
}

func (s *Server) mcpCall(w http.ResponseWriter, r *http.Request, req *rpcRequest, sse bool) {
	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		s.mcpRespond(w, sse, rpcFailure(req.ID, codeInvalidParams, "params.name is required"))
		return
	}
	if !skills.Known(params.Name) {
		s.mcpRespond(w, sse, rpcFailure(req.ID, codeInvalidParams, "unknown tool: "+params.Name))
		return
	}

	if payments.SkillProtected(params.Name) && s.gate.Enabled() &&
		r.Header.Get(payments.HeaderPayment) == "" {
		challenge, err := s.gate.EncodeChallenge()
		if err == nil {
			w.Header().Set(payments.HeaderPaymentRequired, challenge)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(rpcFailure(req.ID, codePaymentRequired,
			"payment required: "+s.gate.Amount()+" USDC via x402"))
		return
	}
	// Tool calls run without a task, so the payment record carries a
	// synthetic reference id.
	if payments.SkillProtected(params.Name) && s.gate.Enabled() {
		s.recordClaim(r.Context(), uuid.NewString(), s.headerClaim(r))
	}

	out := s.dispatcher.Execute(r.Context(), params.Name, params.Arguments, "")

	var text string
	if out.State == task.StateFailed {
		text = outcomeText(out)
	} else {
		raw, err := json.Marshal(outcomeData(out))
		if err != nil {
			s.mcpRespond(w, sse, rpcFailure(req.ID, codeInvalidRequest, "encode tool result: "+err.Error()))
			return
		}
		text = string(raw)
	}

	result := map[string]any{
		"content": []map[string]any{{"type": "text", "text": text}},
	}
	if out.State == task.StateFailed {
		result["isError"] = true
	}
	s.mcpRespond(w, sse, rpcResult(req.ID, result))
}
