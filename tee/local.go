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

	"github.com/ethereum/go-ethereum/log"
	"github.com/nullifier-labs/proofd/prover"
)

// localProvider proves in-process with the host prover toolchain. It offers
// no hardware isolation and therefore no attestation document.
type localProvider struct {
	drv *prover.Driver
	log log.Logger
}

// NewLocal wraps a prover driver as a TEE provider.
func NewLocal(drv *prover.Driver) Provider {
	return &localProvider{drv: drv, log: log.New("module", "tee/local")}
}

func (p *localProvider) Mode() Mode { return ModeLocal }

func (p *localProvider) Prove(ctx context.Context, circuitID string, in *prover.Inputs, requestID string) *ProveResponse {
	res, err := p.drv.Prove(ctx, circuitID, in)
	if err != nil {
		p.log.Warn("Local proving failed", "circuit", circuitID, "request", requestID, "err", err)
		return errorResponse("%v", err)
	}
	return proofResponse(res)
}

func (p *localProvider) HealthCheck(context.Context) bool { return p.drv != nil }

func (p *localProvider) Attestation(context.Context) (string, error) { return "", nil }

func (p *localProvider) GenerateAttestation(context.Context, string) (*AttestationInfo, error) {
	return nil, nil
}
