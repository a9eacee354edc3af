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

package payments

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/nullifier-labs/proofd/internal/metrics"
)

// usdcDecimals is the scaling factor of the USDC token (6 decimals).
var usdcDecimals = big.NewInt(1_000_000)

// ParseUSDCAmount converts a USD decimal string, optionally prefixed with
// '$', into an integer USDC amount. "$0.10" -> 100000. Empty or
// non-numeric input is an error.
func ParseUSDCAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	if s == "" {
		return nil, errors.New("empty payment amount")
	}
	rat, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("invalid payment amount %q", s)
	}
	rat.Mul(rat, new(big.Rat).SetInt(usdcDecimals))
	// Sub-microdollar precision is truncated.
	return new(big.Int).Quo(rat.Num(), rat.Denom()), nil
}

// Transferer submits a USDC transfer from the operator wallet and blocks
// until the transfer is confirmed on chain.
type Transferer interface {
	TransferUSDC(ctx context.Context, to common.Address, amount *big.Int) (txHash common.Hash, err error)
}

// maxSettleAttempts is the consecutive-failure cap per record; after that
// the record is skipped for the remainder of the worker's lifetime.
const maxSettleAttempts = 3

// SettlementWorker periodically sweeps pending payments to the operator
// pay-to address. Retry counts live in process memory only: a restart
// retries every still-pending record from scratch, which is safe because
// the transfer-then-settle sequence is idempotent per record.
type SettlementWorker struct {
	facilitator *Facilitator
	transferer  Transferer
	payTo       common.Address
	interval    time.Duration
	log         log.Logger

	mu       sync.Mutex
	failures map[string]int
	skipped  map[string]bool

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewSettlementWorker creates a settlement worker sweeping every interval.
func NewSettlementWorker(f *Facilitator, t Transferer, payTo common.Address, interval time.Duration) *SettlementWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &SettlementWorker{
		facilitator: f,
		transferer:  t,
		payTo:       payTo,
		interval:    interval,
		log:         log.New("module", "settlement"),
		failures:    make(map[string]int),
		skipped:     make(map[string]bool),
		quit:        make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (w *SettlementWorker) Start() {
	w.wg.Add(1)
	go w.loop()
	w.log.Info("Settlement worker started", "interval", w.interval, "payTo", w.payTo)
}

// Stop terminates the sweep loop and waits for the current cycle.
func (w *SettlementWorker) Stop() {
	close(w.quit)
	w.wg.Wait()
}

func (w *SettlementWorker) loop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), w.interval)
			w.Sweep(ctx)
			cancel()
		case <-w.quit:
			return
		}
	}
}

// Sweep settles every pending payment once. Exported so tests can drive
// cycles without the ticker.
func (w *SettlementWorker) Sweep(ctx context.Context) {
	pending, err := w.facilitator.List(ctx, StatusPending)
	if err != nil {
		w.log.Warn("Failed to list pending payments", "err", err)
		return
	}
	for _, rec := range pending {
		if w.isSkipped(rec.ID) {
			continue
		}
		if err := w.settleOne(ctx, rec); err != nil {
			n := w.recordFailure(rec.ID)
			if n >= maxSettleAttempts {
				w.log.Error("Payment settlement abandoned", "id", rec.ID, "attempts", n, "err", err)
			} else {
				w.log.Warn("Payment settlement failed, will retry", "id", rec.ID, "attempt", n, "err", err)
			}
			continue
		}
		w.clearFailures(rec.ID)
	}
}

func (w *SettlementWorker) settleOne(ctx context.Context, rec *Record) error {
	amount, err := ParseUSDCAmount(rec.Amount)
	if err != nil {
		return fmt.Errorf("payment %s: %w", rec.ID, err)
	}
	txHash, err := w.transferer.TransferUSDC(ctx, w.payTo, amount)
	if err != nil {
		return fmt.Errorf("transfer for payment %s: %w", rec.ID, err)
	}
	if _, err := w.facilitator.Settle(ctx, rec.ID); err != nil {
		return fmt.Errorf("mark payment %s settled: %w", rec.ID, err)
	}
	metrics.PaymentsSettled.Inc()
	w.log.Info("Payment settled", "id", rec.ID, "amount", rec.Amount, "tx", txHash)
	return nil
}

func (w *SettlementWorker) isSkipped(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.skipped[id]
}

func (w *SettlementWorker) recordFailure(id string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failures[id]++
	if w.failures[id] >= maxSettleAttempts {
		w.skipped[id] = true
	}
	return w.failures[id]
}

func (w *SettlementWorker) clearFailures(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.failures, id)
}
