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

// Package payments records x402 micropayments against tasks, gates
// protected routes behind a payment challenge, and sweeps pending payments
// to the operator wallet.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/nullifier-labs/proofd/kvstore"
)

// Status of a payment record. pending -> settled and pending -> refunded
// are the only legal transitions.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSettled  Status = "settled"
	StatusRefunded Status = "refunded"
)

var (
	// ErrNotFound is returned for an unknown payment id or task index.
	ErrNotFound = errors.New("payments: not found")

	// ErrInvalidTransition is returned when Settle or Refund is called on
	// a record that is not pending.
	ErrInvalidTransition = errors.New("payments: invalid transition")
)

// Record is one payment claim captured from the x-payment header.
type Record struct {
	ID           string    `json:"id"`
	TaskID       string    `json:"taskId"`
	PayerAddress string    `json:"payerAddress"`
	Amount       string    `json:"amount"` // USD-denominated decimal string
	Network      string    `json:"network"`
	Status       Status    `json:"status"`
	RefundReason string    `json:"refundReason,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Facilitator stores payment records with a by-task index and per-status
// membership sets. Transitions on one record are serialized per id.
type Facilitator struct {
	kv    kvstore.Store
	ttl   time.Duration
	log   log.Logger
	locks sync.Map // payment id -> *sync.Mutex
}

// NewFacilitator creates a facilitator persisting records for ttl.
func NewFacilitator(kv kvstore.Store, ttl time.Duration) *Facilitator {
	return &Facilitator{kv: kv, ttl: ttl, log: log.New("module", "payments")}
}

func paymentKey(id string) string        { return "payment:" + id }
func taskIndexKey(taskID string) string  { return "payment:task:" + taskID }
func statusKey(status Status) string     { return "payment:status:" + string(status) }

func (f *Facilitator) lock(id string) *sync.Mutex {
	mu, _ := f.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Record writes a fresh pending payment, the task index, and the pending
// membership entry, all with matching TTL.
func (f *Facilitator) Record(ctx context.Context, taskID, payer, amount, network string) (*Record, error) {
	now := time.Now().UTC()
	rec := &Record{
		ID:           uuid.NewString(),
		TaskID:       taskID,
		PayerAddress: payer,
		Amount:       amount,
		Network:      network,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := f.write(ctx, rec); err != nil {
		return nil, err
	}
	if err := f.kv.Set(ctx, taskIndexKey(taskID), rec.ID, f.ttl); err != nil {
		return nil, fmt.Errorf("index payment %s: %w", rec.ID, err)
	}
	if err := f.kv.SetAdd(ctx, statusKey(StatusPending), rec.ID); err != nil {
		return nil, fmt.Errorf("index payment %s: %w", rec.ID, err)
	}
	if err := f.kv.Expire(ctx, statusKey(StatusPending), f.ttl); err != nil {
		return nil, fmt.Errorf("index payment %s: %w", rec.ID, err)
	}
	f.log.Info("Payment recorded", "id", rec.ID, "task", taskID, "payer", payer, "amount", amount, "network", network)
	return rec, nil
}

// Get loads a payment record by id.
func (f *Facilitator) Get(ctx context.Context, id string) (*Record, error) {
	raw, err := f.kv.Get(ctx, paymentKey(id))
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load payment %s: %w", id, err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode payment %s: %w", id, err)
	}
	return &rec, nil
}

// GetByTask resolves the one-to-one task index.
func (f *Facilitator) GetByTask(ctx context.Context, taskID string) (*Record, error) {
	id, err := f.kv.Get(ctx, taskIndexKey(taskID))
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load payment index %s: %w", taskID, err)
	}
	return f.Get(ctx, id)
}

// Settle transitions a pending payment to settled.
func (f *Facilitator) Settle(ctx context.Context, id string) (*Record, error) {
	return f.transition(ctx, id, StatusSettled, "")
}

// Refund transitions a pending payment to refunded, keeping the reason.
func (f *Facilitator) Refund(ctx context.Context, id, reason string) (*Record, error) {
	return f.transition(ctx, id, StatusRefunded, reason)
}

func (f *Facilitator) transition(ctx context.Context, id string, to Status, reason string) (*Record, error) {
	mu := f.lock(id)
	mu.Lock()
	defer mu.Unlock()

	rec, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusPending {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, to)
	}

	rec.Status = to
	rec.RefundReason = reason
	rec.UpdatedAt = time.Now().UTC()
	if err := f.write(ctx, rec); err != nil {
		return nil, err
	}
	if err := f.kv.SetRemove(ctx, statusKey(StatusPending), id); err != nil {
		return nil, fmt.Errorf("reindex payment %s: %w", id, err)
	}
	if err := f.kv.SetAdd(ctx, statusKey(to), id); err != nil {
		return nil, fmt.Errorf("reindex payment %s: %w", id, err)
	}
	f.log.Info("Payment transitioned", "id", id, "status", to)
	return rec, nil
}

// List returns records in the given statuses; all three when none given.
// Index entries whose record has expired are skipped.
func (f *Facilitator) List(ctx context.Context, statuses ...Status) ([]*Record, error) {
	if len(statuses) == 0 {
		statuses = []Status{StatusPending, StatusSettled, StatusRefunded}
	}
	var out []*Record
	for _, st := range statuses {
		ids, err := f.kv.SetMembers(ctx, statusKey(st))
		if err != nil {
			return nil, fmt.Errorf("list %s payments: %w", st, err)
		}
		for _, id := range ids {
			rec, err := f.Get(ctx, id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *Facilitator) write(ctx context.Context, rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode payment %s: %w", rec.ID, err)
	}
	if err := f.kv.Set(ctx, paymentKey(rec.ID), string(raw), f.ttl); err != nil {
		return fmt.Errorf("store payment %s: %w", rec.ID, err)
	}
	return nil
}
