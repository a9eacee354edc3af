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
	"net/http"

	"github.com/nullifier-labs/proofd/circuits"
	"github.com/nullifier-labs/proofd/skills"
)

// skillTags classifies each skill on the agent card.
var skillTags = map[string][]string{
	skills.SkillGetSupportedCircuits: {"discovery", "free"},
	skills.SkillVerifyProof:          {"verification", "onchain", "free"},
	skills.SkillRequestSigning:       {"signing", "free"},
	skills.SkillCheckStatus:          {"status", "free"},
	skills.SkillRequestPayment:       {"payment", "x402", "free"},
	skills.SkillGenerateProof:        {"zk", "proof", "paid"},
}

// AgentCard is the discovery document served at /.well-known/agent-card.json.
// It doubles as the metadata embedded in the on-chain identity registration.
func (s *Server) AgentCard() map[string]any {
	skillEntries := make([]map[string]any, 0, len(skills.All()))
	for _, skill := range skills.All() {
		skillEntries = append(skillEntries, map[string]any{
			"id":          skill,
			"name":        skill,
			"description": toolDescriptions[skill],
			"tags":        skillTags[skill],
		})
	}
	circuitEntries := make([]map[string]any, 0, 2)
	for _, desc := range circuits.All() {
		circuitEntries = append(circuitEntries, map[string]any{
			"id":          desc.ID,
			"displayName": desc.DisplayName,
		})
	}

	return map[string]any{
		"name":               s.cfg.AgentName,
		"description":        "Autonomous agent that generates and verifies zero-knowledge proofs over attested credentials.",
		"version":            s.cfg.Version,
		"url":                s.cfg.BaseURL + "/a2a",
		"preferredTransport": "JSONRPC",
		"capabilities": map[string]any{
			"streaming":         true,
			"pushNotifications": false,
		},
		"defaultInputModes":  []string{"application/json", "text/plain"},
		"defaultOutputModes": []string{"application/json"},
		"skills":             skillEntries,
		"circuits":           circuitEntries,
		"payment": map[string]any{
			"required": s.gate.Enabled(),
			"protocol": "x402",
			"amount":   s.cfg.Price,
			"network":  s.gate.Mode().Network(),
		},
	}
}

func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.AgentCard())
}

func (s *Server) handleMCPDiscovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"endpoint":        s.cfg.BaseURL + "/mcp",
		"protocolVersion": mcpProtocolVersion,
		"transport":       "http",
	})
}
