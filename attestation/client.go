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

// Package attestation fetches credential attestation bundles from the EAS
// indexer's GraphQL endpoint. The bundle carries everything the circuit
// needs to prove inclusion: the raw attestation transaction, a merkle
// inclusion path and the anchoring block number.
package attestation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
)

// ErrNoAttestation means the indexer has no attestation for the queried
// (address, schema) pair.
var ErrNoAttestation = errors.New("attestation: no attestation found")

// Bundle is one attested credential, decoded for circuit consumption.
type Bundle struct {
	RawTransaction []byte
	MerkleProof    [][]byte
	BlockNumber    uint64
}

const bundleQuery = `query AttestationBundle($address: String!, $schemaId: String!) {
  attestation(recipient: $address, schemaId: $schemaId) {
    rawTransaction
    merkleProof
    blockNumber
  }
}`

// Client queries the attestation GraphQL backend.
type Client struct {
	endpoint string
	http     *http.Client
	log      log.Logger
}

// NewClient creates a client for the GraphQL endpoint with a 10 second
// request timeout.
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 10 * time.Second},
		log:      log.New("module", "attestation"),
	}
}

// Fetch loads the attestation bundle for address under schemaID.
func (c *Client) Fetch(ctx context.Context, address common.Address, schemaID string) (*Bundle, error) {
	body, err := json.Marshal(map[string]any{
		"query": bundleQuery,
		"variables": map[string]string{
			"address":  address.Hex(),
			"schemaId": schemaID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode attestation query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build attestation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("attestation backend unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("attestation backend returned %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	var payload struct {
		Data struct {
			Attestation *struct {
				RawTransaction string   `json:"rawTransaction"`
				MerkleProof    []string `json:"merkleProof"`
				BlockNumber    uint64   `json:"blockNumber"`
			} `json:"attestation"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode attestation response: %w", err)
	}
	if len(payload.Errors) > 0 {
		return nil, fmt.Errorf("attestation query failed: %s", payload.Errors[0].Message)
	}
	att := payload.Data.Attestation
	if att == nil {
		return nil, ErrNoAttestation
	}

	rawTx, err := hexutil.Decode(att.RawTransaction)
	if err != nil {
		return nil, fmt.Errorf("decode raw transaction: %w", err)
	}
	proof := make([][]byte, len(att.MerkleProof))
	for i, node := range att.MerkleProof {
		if proof[i], err = hexutil.Decode(node); err != nil {
			return nil, fmt.Errorf("decode merkle node %d: %w", i, err)
		}
	}

	c.log.Debug("Attestation bundle fetched", "address", address, "schema", schemaID, "block", att.BlockNumber)
	return &Bundle{
		RawTransaction: rawTx,
		MerkleProof:    proof,
		BlockNumber:    att.BlockNumber,
	}, nil
}
