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

// Package tee abstracts where proof generation runs: in-process (local),
// inside a hardware-isolated Nitro enclave reached over vsock (nitro), or
// nowhere (disabled). All variants present the same prove/health/attest
// surface, and none of them raises on prover failure; errors travel in the
// response.
package tee

import (
	"context"
	"fmt"
	"time"

	"github.com/nullifier-labs/proofd/prover"
)

// Mode selects the TEE backend.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeLocal    Mode = "local"
	ModeNitro    Mode = "nitro"
	ModeAuto     Mode = "auto"
)

// ParseMode validates a configured TEE mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeDisabled, ModeLocal, ModeNitro, ModeAuto:
		return Mode(s), nil
	}
	return "", fmt.Errorf("invalid tee mode %q (want disabled, local, nitro or auto)", s)
}

// ProveResponse is the uniform prove result. Type is "proof" on success
// and "error" on failure; providers never raise for prover failures.
type ProveResponse struct {
	Type                string `json:"type"`
	Proof               string `json:"proof,omitempty"`
	PublicInputs        string `json:"publicInputs,omitempty"`
	ProofWithInputs     string `json:"proofWithInputs,omitempty"`
	AttestationDocument string `json:"attestationDocument,omitempty"`
	Error               string `json:"error,omitempty"`
}

func proofResponse(r *prover.Result) *ProveResponse {
	return &ProveResponse{
		Type:            "proof",
		Proof:           r.Proof,
		PublicInputs:    r.PublicInputs,
		ProofWithInputs: r.ProofWithInputs,
	}
}

func errorResponse(format string, args ...any) *ProveResponse {
	return &ProveResponse{Type: "error", Error: fmt.Sprintf(format, args...)}
}

// AttestationInfo binds an attestation document to a specific proof hash.
type AttestationInfo struct {
	Document  string    `json:"document"` // base64 COSE_Sign1
	Mode      Mode      `json:"mode"`
	ProofHash string    `json:"proofHash"`
	Timestamp time.Time `json:"timestamp"`
}

// Provider is the uniform prove/health/attest surface.
type Provider interface {
	// Mode identifies the active backend.
	Mode() Mode

	// Prove generates a proof for the circuit over in. requestId is
	// carried for log correlation only.
	Prove(ctx context.Context, circuitID string, in *prover.Inputs, requestID string) *ProveResponse

	// HealthCheck reports whether the backend can serve proofs now.
	HealthCheck(ctx context.Context) bool

	// Attestation returns the backend's current attestation document
	// (base64 COSE_Sign1), or "" when the backend has none.
	Attestation(ctx context.Context) (string, error)

	// GenerateAttestation produces an attestation bound to proofHash, or
	// nil when the backend cannot attest.
	GenerateAttestation(ctx context.Context, proofHash string) (*AttestationInfo, error)
}

// disabledProvider rejects every prove call.
type disabledProvider struct{}

// NewDisabled returns the disabled provider.
func NewDisabled() Provider { return disabledProvider{} }

func (disabledProvider) Mode() Mode { return ModeDisabled }

func (disabledProvider) Prove(context.Context, string, *prover.Inputs, string) *ProveResponse {
	return errorResponse("TEE proving is disabled")
}

func (disabledProvider) HealthCheck(context.Context) bool { return false }

func (disabledProvider) Attestation(context.Context) (string, error) { return "", nil }

func (disabledProvider) GenerateAttestation(context.Context, string) (*AttestationInfo, error) {
	return nil, nil
}

// Resolve maps the configured mode to a concrete provider. auto selects
// nitro when an enclave CID is configured and answers a health probe
// within the dial timeout, falling back to local otherwise.
func Resolve(ctx context.Context, mode Mode, drv *prover.Driver, cid, port uint32, timeout time.Duration) Provider {
	switch mode {
	case ModeDisabled:
		return NewDisabled()
	case ModeLocal:
		return NewLocal(drv)
	case ModeNitro:
		return NewNitro(cid, port, timeout)
	}
	// auto
	if cid != 0 {
		nitro := NewNitro(cid, port, timeout)
		if nitro.HealthCheck(ctx) {
			return nitro
		}
	}
	return NewLocal(drv)
}
