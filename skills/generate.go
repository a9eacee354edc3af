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

package skills

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/nullifier-labs/proofd/attestation"
	"github.com/nullifier-labs/proofd/circuits"
	"github.com/nullifier-labs/proofd/internal/metrics"
	"github.com/nullifier-labs/proofd/prover"
)

// generateProof is the paid skill: it resolves the signer, consults the
// proof cache, fetches the attestation bundle, and drives the prover
// through the TEE provider. Without a resolvable signer it degrades into
// request_signing.
func (d *Dispatcher) generateProof(ctx context.Context, params map[string]any, contextID string) Outcome {
	circuitID := paramString(params, "circuitId")
	scope := paramString(params, "scope")

	var missing []string
	if circuitID == "" {
		missing = append(missing, "circuitId")
	}
	if scope == "" {
		missing = append(missing, "scope")
	}
	if len(missing) > 0 {
		return failed(fmt.Sprintf("generate_proof is missing required fields: %v.", missing))
	}
	desc, ok := circuits.Get(circuitID)
	if !ok {
		return failed(fmt.Sprintf("Unknown circuit %q.", circuitID))
	}

	address := paramString(params, "address")
	signature := paramString(params, "signature")
	countryList := paramStringSlice(params, "countryList")
	isIncluded := paramBool(params, "isIncluded")
	requestID := d.resolveRequestID(ctx, params, contextID)

	// A completed signing request substitutes for inline credentials.
	if (address == "" || signature == "") && requestID != "" {
		if req, err := d.deps.Requests.Get(ctx, requestID); err == nil && req.SigningComplete() {
			address = req.Signing.Address
			signature = req.Signing.Signature
			if len(countryList) == 0 {
				countryList = req.CountryList
			}
			if isIncluded == nil {
				isIncluded = req.IsIncluded
			}
		}
	}
	if address == "" || signature == "" {
		return d.requestSigning(ctx, params, contextID)
	}

	if circuitID == circuits.CoinbaseCountryAttestation {
		var missing []string
		if len(countryList) == 0 {
			missing = append(missing, "countryList")
		}
		if isIncluded == nil {
			missing = append(missing, "isIncluded")
		}
		if len(missing) > 0 {
			return failed(fmt.Sprintf("Circuit %s requires fields: %v.", circuitID, missing))
		}
	}

	cacheKey := d.deps.Cache.Key(prover.CacheKeyInputs{
		CircuitID:   circuitID,
		Address:     address,
		Scope:       scope,
		CountryList: countryList,
		IsIncluded:  isIncluded,
	})
	if cached, err := d.deps.Cache.Get(ctx, cacheKey); err == nil {
		metrics.ProofCacheHits.Inc()
		d.log.Info("Proof served from cache", "circuit", circuitID, "key", cacheKey)
		return completed("proof", d.proofData(cached, true))
	} else if !errors.Is(err, prover.ErrCacheMiss) {
		d.log.Warn("Proof cache read failed", "key", cacheKey, "err", err)
	}

	sigBytes, err := hexutil.Decode(signature)
	if err != nil {
		return failed(fmt.Sprintf("signature is not valid hex: %v.", err))
	}
	addr := common.HexToAddress(address)

	bundle, err := d.deps.Attestation.Fetch(ctx, addr, desc.EASSchemaID)
	if errors.Is(err, attestation.ErrNoAttestation) {
		return failed(fmt.Sprintf("No attestation found for %s under circuit %s. "+
			"The address must hold the credential before a proof can be generated.", address, circuitID))
	}
	if err != nil {
		return failed(fmt.Sprintf("Failed to fetch attestation: %v.", err))
	}

	inputs := &prover.Inputs{
		Address:        addr,
		Scope:          scope,
		Signature:      sigBytes,
		RawTransaction: bundle.RawTransaction,
		MerkleProof:    bundle.MerkleProof,
		BlockNumber:    bundle.BlockNumber,
	}
	if len(countryList) > 0 {
		inputs.CountryList = countryList
		inputs.HasCountry = true
		if isIncluded != nil {
			inputs.IsIncluded = *isIncluded
		}
	}

	resp := d.deps.TEE.Prove(ctx, circuitID, inputs, requestID)
	if resp.Type != "proof" {
		return failed(fmt.Sprintf("Proof generation failed: %s", resp.Error))
	}
	metrics.ProofsGenerated.WithLabelValues(circuitID).Inc()

	signalHash := prover.SignalHash(scope)
	nullifier := prover.Nullifier(addr, signalHash)

	result := &prover.CachedProof{
		Proof:           resp.Proof,
		PublicInputs:    resp.PublicInputs,
		ProofWithInputs: resp.ProofWithInputs,
		Nullifier:       nullifier.Hex(),
		SignalHash:      signalHash.Hex(),
		ProofID:         uuid.NewString(),
		CircuitID:       circuitID,
		AttestationDoc:  resp.AttestationDocument,
		CreatedAt:       time.Now().UTC(),
	}
	if err := d.deps.Cache.Set(ctx, cacheKey, result); err != nil {
		d.log.Warn("Proof cache write failed", "key", cacheKey, "err", err)
	}
	if d.deps.Reputation != nil {
		d.deps.Reputation.RecordSuccess(result.ProofID)
	}

	return completed("proof", d.proofData(result, false))
}

func (d *Dispatcher) proofData(p *prover.CachedProof, cached bool) map[string]any {
	data := map[string]any{
		"proof":           p.Proof,
		"publicInputs":    p.PublicInputs,
		"proofWithInputs": p.ProofWithInputs,
		"nullifier":       p.Nullifier,
		"signalHash":      p.SignalHash,
		"proofId":         p.ProofID,
		"circuitId":       p.CircuitID,
		"verifyUrl":       d.deps.BaseURL + "/api/v1/proofs/verify",
		"cached":          cached,
	}
	if p.AttestationDoc != "" {
		data["attestationDocument"] = p.AttestationDoc
	}
	return data
}
