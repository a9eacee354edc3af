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

// Package skills implements the agent's skill handlers and the dispatcher
// that every protocol frontend and the worker pool funnel into.
package skills

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/nullifier-labs/proofd/attestation"
	"github.com/nullifier-labs/proofd/chain"
	"github.com/nullifier-labs/proofd/circuits"
	"github.com/nullifier-labs/proofd/flow"
	"github.com/nullifier-labs/proofd/payments"
	"github.com/nullifier-labs/proofd/prover"
	"github.com/nullifier-labs/proofd/task"
	"github.com/nullifier-labs/proofd/tee"
)

// Skill names.
const (
	SkillGetSupportedCircuits = "get_supported_circuits"
	SkillVerifyProof          = "verify_proof"
	SkillRequestSigning       = "request_signing"
	SkillCheckStatus          = "check_status"
	SkillRequestPayment       = "request_payment"
	SkillGenerateProof        = "generate_proof"
)

// All lists every dispatchable skill.
func All() []string {
	return []string{
		SkillGetSupportedCircuits,
		SkillVerifyProof,
		SkillRequestSigning,
		SkillCheckStatus,
		SkillRequestPayment,
		SkillGenerateProof,
	}
}

// Known reports whether the skill is dispatchable.
func Known(skill string) bool {
	for _, s := range All() {
		if s == skill {
			return true
		}
	}
	return false
}

// Verifier checks a proof on-chain.
type Verifier interface {
	Verify(ctx context.Context, circuitID string, chainID uint64, proof []byte, publicInputs []common.Hash) (bool, error)
}

// AttestationSource loads the credential bundle backing a circuit input.
type AttestationSource interface {
	Fetch(ctx context.Context, address common.Address, schemaID string) (*attestation.Bundle, error)
}

// ReputationHook records a successful proof, best effort.
type ReputationHook interface {
	RecordSuccess(id string)
}

// Router resolves a natural-language message into a skill invocation.
// It is optional; without one, text-only messages fail descriptively.
type Router interface {
	Route(ctx context.Context, text string) (skill string, params map[string]any, err error)
}

// Deps bundles everything the handlers touch.
type Deps struct {
	Tasks       *task.Store
	Requests    *flow.RequestStore
	TEE         tee.Provider
	Cache       *prover.Cache
	Verifier    Verifier
	Attestation AttestationSource
	Reputation  ReputationHook
	Facilitator *payments.Facilitator
	Router      Router

	PaymentMode    payments.Mode
	Price          string // e.g. "$0.10"
	BaseURL        string
	DefaultChainID uint64
}

// Outcome is what a handler produced: the terminal state the task should
// take and the artifacts to attach.
type Outcome struct {
	State     task.State
	Artifacts []task.Artifact
}

// Dispatcher routes skill invocations to handlers.
type Dispatcher struct {
	deps Deps
	log  log.Logger
}

// NewDispatcher creates the dispatcher over deps.
func NewDispatcher(deps Deps) *Dispatcher {
	return &Dispatcher{deps: deps, log: log.New("module", "skills")}
}

// Execute runs skill with params under contextID. Handlers never return a
// Go error for user-visible failures; those become a failed outcome with
// an explanatory text artifact.
func (d *Dispatcher) Execute(ctx context.Context, skill string, params map[string]any, contextID string) Outcome {
	switch skill {
	case SkillGetSupportedCircuits:
		return d.getSupportedCircuits(params)
	case SkillVerifyProof:
		return d.verifyProof(ctx, params)
	case SkillRequestSigning:
		return d.requestSigning(ctx, params, contextID)
	case SkillCheckStatus:
		return d.checkStatus(ctx, params, contextID)
	case SkillRequestPayment:
		return d.requestPayment(ctx, params, contextID)
	case SkillGenerateProof:
		return d.generateProof(ctx, params, contextID)
	}
	return failed(fmt.Sprintf("Unknown skill %q. Supported skills: %s.", skill, strings.Join(All(), ", ")))
}

// ExecuteText resolves a natural-language message through the LLM router
// and dispatches the result.
func (d *Dispatcher) ExecuteText(ctx context.Context, text, contextID string) Outcome {
	if d.deps.Router == nil {
		return failed("This agent requires a structured skill invocation; natural-language routing is not configured. " +
			"Send a data part with {\"skill\": ...} instead.")
	}
	skill, params, err := d.deps.Router.Route(ctx, text)
	if err != nil {
		return failed(fmt.Sprintf("Could not interpret the request: %v", err))
	}
	return d.Execute(ctx, skill, params, contextID)
}

func failed(text string) Outcome {
	return Outcome{
		State:     task.StateFailed,
		Artifacts: []task.Artifact{task.NewArtifact("error", task.TextPart(text))},
	}
}

func completed(name string, data map[string]any) Outcome {
	return Outcome{
		State:     task.StateCompleted,
		Artifacts: []task.Artifact{task.NewArtifact(name, task.DataPart(data))},
	}
}

func inputRequired(name string, data map[string]any) Outcome {
	return Outcome{
		State:     task.StateInputRequired,
		Artifacts: []task.Artifact{task.NewArtifact(name, task.DataPart(data))},
	}
}

// getSupportedCircuits lists the circuit registry with per-chain verifier
// addresses.
func (d *Dispatcher) getSupportedCircuits(params map[string]any) Outcome {
	chainID := paramUint(params, "chainId", d.deps.DefaultChainID)

	list := make([]map[string]any, 0, 2)
	for _, desc := range circuits.All() {
		entry := map[string]any{
			"id":             desc.ID,
			"displayName":    desc.DisplayName,
			"description":    desc.Description,
			"requiredInputs": desc.RequiredInputs,
		}
		if addr, err := chain.VerifierAddress(chainID, desc.ID); err == nil {
			entry["verifierAddress"] = addr.Hex()
		}
		list = append(list, entry)
	}
	return completed("circuits", map[string]any{"circuits": list, "chainId": chainID})
}

// checkStatus projects the multi-turn request state for a context.
func (d *Dispatcher) checkStatus(ctx context.Context, params map[string]any, contextID string) Outcome {
	requestID := d.resolveRequestID(ctx, params, contextID)
	if requestID == "" {
		return failed("No requestId given and no signing request is associated with this conversation. " +
			"Call request_signing first.")
	}
	req, err := d.deps.Requests.Get(ctx, requestID)
	if err != nil {
		return failed(fmt.Sprintf("Request %s not found or expired.", requestID))
	}
	return completed("status", map[string]any{
		"requestId": req.ID,
		"phase":     string(req.Phase),
		"signing":   map[string]any{"status": req.Signing.Status, "address": req.Signing.Address},
		"payment":   map[string]any{"status": req.Payment.Status, "txHash": req.Payment.TxHash},
	})
}

// resolveRequestID prefers an explicit param over the context mapping.
func (d *Dispatcher) resolveRequestID(ctx context.Context, params map[string]any, contextID string) string {
	if id := paramString(params, "requestId"); id != "" {
		return id
	}
	if contextID == "" {
		return ""
	}
	id, err := d.deps.Tasks.GetContextFlow(ctx, contextID)
	if err != nil {
		return ""
	}
	return id
}

// Loosely typed param accessors: frontends hand over decoded JSON, so
// numbers arrive as float64 and lists as []any.

func paramString(params map[string]any, key string) string {
	v, _ := params[key].(string)
	return v
}

func paramUint(params map[string]any, key string, fallback uint64) uint64 {
	switch v := params[key].(type) {
	case float64:
		return uint64(v)
	case int:
		return uint64(v)
	case uint64:
		return v
	case string:
		var parsed uint64
		if _, err := fmt.Sscanf(v, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}

func paramStringSlice(params map[string]any, key string) []string {
	switch v := params[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func paramBool(params map[string]any, key string) *bool {
	if v, ok := params[key].(bool); ok {
		return &v
	}
	return nil
}
