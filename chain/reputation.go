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
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

var reputationABI = mustParseABI(`[{
	"type": "function", "name": "increaseScore", "stateMutability": "nonpayable",
	"inputs": [{"name": "agent", "type": "address"}],
	"outputs": []
}]`)

// Reputation fires best-effort score increments at the reputation
// registry. Failures never reach the caller.
type Reputation struct {
	wallet   *Wallet
	registry common.Address
	timeout  time.Duration
	log      log.Logger

	wg sync.WaitGroup
}

// NewReputation binds a wallet to the reputation registry contract.
func NewReputation(wallet *Wallet, registry common.Address) *Reputation {
	return &Reputation{
		wallet:   wallet,
		registry: registry,
		timeout:  60 * time.Second,
		log:      log.New("module", "chain/reputation"),
	}
}

// RecordSuccess asynchronously increments the agent's score after a
// completed proof. It returns immediately; the transaction outcome is
// logged only.
func (r *Reputation) RecordSuccess(taskID string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.increment(ctx); err != nil {
			r.log.Warn("Reputation update failed", "task", taskID, "err", err)
			return
		}
		r.log.Info("Reputation score incremented", "task", taskID)
	}()
}

// Wait blocks until in-flight increments settle. Used on shutdown and in
// tests.
func (r *Reputation) Wait() { r.wg.Wait() }

func (r *Reputation) increment(ctx context.Context) error {
	data, err := reputationABI.Pack("increaseScore", r.wallet.Address())
	if err != nil {
		return fmt.Errorf("pack increaseScore call: %w", err)
	}
	_, err = r.wallet.Transact(ctx, r.registry, data)
	return err
}
