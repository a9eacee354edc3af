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

package tee

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/fxamacker/cbor/v2"
	"github.com/mdlayher/vsock"
	"github.com/nullifier-labs/proofd/prover"
)

// proveTimeout bounds a full in-enclave prove round trip. The enclave runs
// the same two-stage pipeline as the local driver, so this covers both
// stages plus framing overhead.
const proveTimeout = 260 * time.Second

// enclaveRequest is one CBOR-framed message to the enclave.
type enclaveRequest struct {
	Type      string `cbor:"type"` // "prove", "health" or "attestation"
	RequestID string `cbor:"requestId,omitempty"`
	CircuitID string `cbor:"circuitId,omitempty"`
	Inputs    string `cbor:"inputs,omitempty"` // Prover.toml
	ProofHash string `cbor:"proofHash,omitempty"`
}

// enclaveResponse is the enclave's CBOR reply.
type enclaveResponse struct {
	Type                string `cbor:"type"` // "proof", "ok" or "error"
	Proof               string `cbor:"proof,omitempty"`
	PublicInputs        string `cbor:"publicInputs,omitempty"`
	ProofWithInputs     string `cbor:"proofWithInputs,omitempty"`
	AttestationDocument string `cbor:"attestationDocument,omitempty"`
	Error               string `cbor:"error,omitempty"`
}

// nitroProvider proxies prove, health and attestation calls to a Nitro
// enclave over a vsock connection, one connection per call.
type nitroProvider struct {
	cid, port uint32
	timeout   time.Duration // dial + health/attest deadline
	dial      func() (net.Conn, error)
	log       log.Logger
}

// NewNitro creates a provider talking to the enclave at (cid, port).
func NewNitro(cid, port uint32, timeout time.Duration) Provider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	p := &nitroProvider{
		cid:     cid,
		port:    port,
		timeout: timeout,
		log:     log.New("module", "tee/nitro"),
	}
	p.dial = func() (net.Conn, error) { return vsock.Dial(cid, port, nil) }
	return p
}

func (p *nitroProvider) Mode() Mode { return ModeNitro }

// roundTrip sends one request and decodes one response over a fresh
// connection bounded by deadline.
func (p *nitroProvider) roundTrip(ctx context.Context, req *enclaveRequest, deadline time.Duration) (*enclaveResponse, error) {
	conn, err := p.dial()
	if err != nil {
		return nil, fmt.Errorf("dial enclave cid %d port %d: %w", p.cid, p.port, err)
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < deadline {
		conn.SetDeadline(dl)
	} else {
		conn.SetDeadline(time.Now().Add(deadline))
	}

	if err := cbor.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("send enclave request: %w", err)
	}
	var resp enclaveResponse
	if err := cbor.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("read enclave response: %w", err)
	}
	return &resp, nil
}

func (p *nitroProvider) Prove(ctx context.Context, circuitID string, in *prover.Inputs, requestID string) *ProveResponse {
	input, err := in.CircuitTOML()
	if err != nil {
		return errorResponse("marshal circuit inputs: %v", err)
	}
	resp, err := p.roundTrip(ctx, &enclaveRequest{
		Type:      "prove",
		RequestID: requestID,
		CircuitID: circuitID,
		Inputs:    input,
	}, proveTimeout)
	if err != nil {
		p.log.Warn("Enclave prove failed", "circuit", circuitID, "request", requestID, "err", err)
		return errorResponse("enclave unreachable: %v", err)
	}
	if resp.Type == "error" {
		return errorResponse("%s", resp.Error)
	}
	return &ProveResponse{
		Type:                "proof",
		Proof:               resp.Proof,
		PublicInputs:        resp.PublicInputs,
		ProofWithInputs:     resp.ProofWithInputs,
		AttestationDocument: resp.AttestationDocument,
	}
}

func (p *nitroProvider) HealthCheck(ctx context.Context) bool {
	resp, err := p.roundTrip(ctx, &enclaveRequest{Type: "health"}, p.timeout)
	if err != nil {
		p.log.Debug("Enclave health probe failed", "err", err)
		return false
	}
	return resp.Type == "ok"
}

func (p *nitroProvider) Attestation(ctx context.Context) (string, error) {
	resp, err := p.roundTrip(ctx, &enclaveRequest{Type: "attestation"}, p.timeout)
	if err != nil {
		return "", err
	}
	if resp.Type == "error" {
		return "", fmt.Errorf("enclave attestation: %s", resp.Error)
	}
	return resp.AttestationDocument, nil
}

func (p *nitroProvider) GenerateAttestation(ctx context.Context, proofHash string) (*AttestationInfo, error) {
	resp, err := p.roundTrip(ctx, &enclaveRequest{Type: "attestation", ProofHash: proofHash}, p.timeout)
	if err != nil {
		return nil, err
	}
	if resp.Type == "error" {
		return nil, fmt.Errorf("enclave attestation: %s", resp.Error)
	}
	return &AttestationInfo{
		Document:  resp.AttestationDocument,
		Mode:      ModeNitro,
		ProofHash: proofHash,
		Timestamp: time.Now().UTC(),
	}, nil
}
