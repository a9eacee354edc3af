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
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/nullifier-labs/proofd/chain"
	"github.com/nullifier-labs/proofd/circuits"
)

// verifyProof calls the deployed verifier contract for the circuit.
func (d *Dispatcher) verifyProof(ctx context.Context, params map[string]any) Outcome {
	circuitID := paramString(params, "circuitId")
	proofHex := paramString(params, "proof")
	inputsHex := paramStringSlice(params, "publicInputs")
	chainID := paramUint(params, "chainId", d.deps.DefaultChainID)

	var missing []string
	if circuitID == "" {
		missing = append(missing, "circuitId")
	}
	if proofHex == "" {
		missing = append(missing, "proof")
	}
	if len(missing) > 0 {
		return failed(fmt.Sprintf("verify_proof is missing required fields: %v.", missing))
	}
	if _, ok := circuits.Get(circuitID); !ok {
		return failed(fmt.Sprintf("Unknown circuit %q.", circuitID))
	}

	proof, err := hexutil.Decode(proofHex)
	if err != nil {
		return failed(fmt.Sprintf("proof is not valid hex: %v.", err))
	}
	publicInputs := make([]common.Hash, len(inputsHex))
	for i, h := range inputsHex {
		publicInputs[i] = common.HexToHash(h)
	}

	valid, err := d.deps.Verifier.Verify(ctx, circuitID, chainID, proof, publicInputs)
	if err != nil {
		return failed(err.Error())
	}

	verifierAddr := ""
	if addr, err := chain.VerifierAddress(chainID, circuitID); err == nil {
		verifierAddr = addr.Hex()
	}
	return completed("verification", map[string]any{
		"valid":           valid,
		"circuitId":       circuitID,
		"verifierAddress": verifierAddr,
		"chainId":         chainID,
	})
}
