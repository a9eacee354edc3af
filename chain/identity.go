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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

// identityABI is the agent identity registry: one token per agent address,
// carrying a metadata URI.
var identityABI = mustParseABI(`[{
	"type": "function", "name": "agentId", "stateMutability": "view",
	"inputs": [{"name": "owner", "type": "address"}],
	"outputs": [{"name": "", "type": "uint256"}]
}, {
	"type": "function", "name": "register", "stateMutability": "nonpayable",
	"inputs": [{"name": "metadataURI", "type": "string"}],
	"outputs": [{"name": "", "type": "uint256"}]
}]`)

// Registrar registers the agent on the identity registry.
type Registrar struct {
	wallet   *Wallet
	registry common.Address
	log      log.Logger
}

// NewRegistrar binds a wallet to the identity registry contract.
func NewRegistrar(wallet *Wallet, registry common.Address) *Registrar {
	return &Registrar{wallet: wallet, registry: registry, log: log.New("module", "chain/identity")}
}

// AgentID looks up the agent token for the operator address. Zero means
// not registered.
func (r *Registrar) AgentID(ctx context.Context) (*big.Int, error) {
	data, err := identityABI.Pack("agentId", r.wallet.Address())
	if err != nil {
		return nil, fmt.Errorf("pack agentId call: %w", err)
	}
	out, err := r.wallet.call(ctx, r.registry, data)
	if err != nil {
		return nil, fmt.Errorf("agentId call: %w", err)
	}
	results, err := identityABI.Unpack("agentId", out)
	if err != nil {
		return nil, fmt.Errorf("decode agentId result: %w", err)
	}
	return results[0].(*big.Int), nil
}

// Register idempotently registers the agent with card as its metadata. The
// card is embedded as a base64 JSON data URI, so no external host is
// needed for the registry to resolve it.
func (r *Registrar) Register(ctx context.Context, card any) (*big.Int, error) {
	id, err := r.AgentID(ctx)
	if err != nil {
		return nil, err
	}
	if id.Sign() > 0 {
		r.log.Debug("Agent already registered", "id", id)
		return id, nil
	}

	uri, err := MetadataURI(card)
	if err != nil {
		return nil, err
	}
	data, err := identityABI.Pack("register", uri)
	if err != nil {
		return nil, fmt.Errorf("pack register call: %w", err)
	}
	if _, err := r.wallet.Transact(ctx, r.registry, data); err != nil {
		return nil, fmt.Errorf("register agent: %w", err)
	}

	id, err = r.AgentID(ctx)
	if err != nil {
		return nil, err
	}
	r.log.Info("Agent registered", "id", id, "registry", r.registry)
	return id, nil
}

// AutoRegister is the non-fatal startup path: any failure is logged and
// swallowed, returning nil.
func (r *Registrar) AutoRegister(ctx context.Context, card any) *big.Int {
	id, err := r.Register(ctx, card)
	if err != nil {
		r.log.Warn("Identity auto-registration failed", "err", err)
		return nil
	}
	return id
}

// MetadataURI encodes card as a base64 JSON data URI.
func MetadataURI(card any) (string, error) {
	raw, err := json.Marshal(card)
	if err != nil {
		return "", fmt.Errorf("encode agent card: %w", err)
	}
	return "data:application/json;base64," + base64.StdEncoding.EncodeToString(raw), nil
}
