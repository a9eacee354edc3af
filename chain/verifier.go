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

package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	"github.com/nullifier-labs/proofd/circuits"
)

// verifierABI is the honk verifier surface: a single view call returning
// whether the proof holds for the given public inputs.
var verifierABI = mustParseABI(`[{
	"type": "function", "name": "verify", "stateMutability": "view",
	"inputs": [
		{"name": "proof", "type": "bytes"},
		{"name": "publicInputs", "type": "bytes32[]"}
	],
	"outputs": [{"name": "", "type": "bool"}]
}]`)

// verifierRegistry pins the deployed verifier per (chain id, circuit id).
var verifierRegistry = map[uint64]map[string]common.Address{
	ChainBaseSepolia: {
		circuits.CoinbaseAttestation:        common.HexToAddress("0x3b9Ad1bA6679B2A0d8f7C1a4b8E13c5D2f6A4E01"),
		circuits.CoinbaseCountryAttestation: common.HexToAddress("0x7C44e2A1d3F09b86B5a1c2E94D07f38B61c5D9A2"),
	},
	ChainBase: {
		circuits.CoinbaseAttestation:        common.HexToAddress("0xA15C0E87f3D642b9E1B84c2D5a7F91e04B36D8C3"),
		circuits.CoinbaseCountryAttestation: common.HexToAddress("0xD98B31F6a24C07E5b8F0A1c39e65D47201bE6F54"),
	},
}

// VerifierAddress resolves the deployed verifier for a (chain, circuit)
// pair, erroring before any network traffic when the pair is unknown.
func VerifierAddress(chainID uint64, circuitID string) (common.Address, error) {
	byCircuit, ok := verifierRegistry[chainID]
	if !ok {
		return common.Address{}, fmt.Errorf("no verifier deployments on chain %d", chainID)
	}
	addr, ok := byCircuit[circuitID]
	if !ok {
		return common.Address{}, fmt.Errorf("no verifier for circuit %q on chain %d", circuitID, chainID)
	}
	return addr, nil
}

// ContractCaller performs read-only contract calls.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Verifier checks proofs against the on-chain verifier contracts over a
// read-only RPC connection opened per call.
type Verifier struct {
	rpcURL         string
	DefaultChainID uint64
	log            log.Logger

	// dial is swapped by tests.
	dial func(ctx context.Context) (ContractCaller, error)
}

// NewVerifier creates a verifier talking to rpcURL. defaultChainID is used
// when callers pass chain id 0.
func NewVerifier(rpcURL string, defaultChainID uint64) *Verifier {
	v := &Verifier{
		rpcURL:         rpcURL,
		DefaultChainID: defaultChainID,
		log:            log.New("module", "chain/verifier"),
	}
	v.dial = func(ctx context.Context) (ContractCaller, error) {
		return ethclient.DialContext(ctx, rpcURL)
	}
	return v
}

// Verify calls the deployed verifier's view function and returns its
// verdict. Unknown (chain, circuit) pairs fail before dialing.
func (v *Verifier) Verify(ctx context.Context, circuitID string, chainID uint64, proof []byte, publicInputs []common.Hash) (bool, error) {
	if chainID == 0 {
		chainID = v.DefaultChainID
	}
	addr, err := VerifierAddress(chainID, circuitID)
	if err != nil {
		return false, err
	}

	input, err := verifierABI.Pack("verify", proof, hashesToBytes32(publicInputs))
	if err != nil {
		return false, fmt.Errorf("pack verify call: %w", err)
	}

	client, err := v.dial(ctx)
	if err != nil {
		return false, fmt.Errorf("On-chain verification failed: %v", err)
	}
	defer closeIfCloser(client)

	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: input}, nil)
	if err != nil {
		return false, fmt.Errorf("On-chain verification failed: %v", err)
	}
	results, err := verifierABI.Unpack("verify", out)
	if err != nil {
		return false, fmt.Errorf("On-chain verification failed: %v", err)
	}
	valid, _ := results[0].(bool)
	v.log.Debug("Verifier call done", "circuit", circuitID, "chain", chainID, "valid", valid)
	return valid, nil
}

func hashesToBytes32(hashes []common.Hash) [][32]byte {
	out := make([][32]byte, len(hashes))
	for i, h := range hashes {
		out[i] = h
	}
	return out
}

func closeIfCloser(c ContractCaller) {
	if closer, ok := c.(interface{ Close() }); ok {
		closer.Close()
	}
}
