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

// Package flow tracks multi-turn proof requests across signing, payment
// and generation, and orchestrates the phase machine that advances them.
package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/nullifier-labs/proofd/kvstore"
)

// Phase is a request's position in the signing/payment/generation machine.
type Phase string

const (
	PhaseSigning    Phase = "signing"
	PhasePayment    Phase = "payment"
	PhaseReady      Phase = "ready"
	PhaseGenerating Phase = "generating"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

// Step statuses inside a phase.
const (
	StepPending   = "pending"
	StepCompleted = "completed"
)

var (
	// ErrNotFound means the request expired or never existed.
	ErrNotFound = errors.New("flow: request not found")
	// ErrInvalidPhase means the operation is not legal in the request's
	// current phase.
	ErrInvalidPhase = errors.New("flow: invalid phase for operation")
)

// SigningState tracks the wallet-signature prerequisite.
type SigningState struct {
	Status     string `json:"status"`
	Address    string `json:"address,omitempty"`
	Signature  string `json:"signature,omitempty"`
	SignalHash string `json:"signalHash,omitempty"`
}

// PaymentState tracks the micropayment prerequisite.
type PaymentState struct {
	Status     string `json:"status"`
	PaymentURL string `json:"paymentUrl,omitempty"`
	TxHash     string `json:"txHash,omitempty"`
	Amount     string `json:"amount,omitempty"`
	Currency   string `json:"currency,omitempty"`
	Network    string `json:"network,omitempty"`
}

// Request is one multi-turn proof request.
type Request struct {
	ID          string       `json:"requestId"`
	CircuitID   string       `json:"circuitId"`
	Scope       string       `json:"scope"`
	CountryList []string     `json:"countryList,omitempty"`
	IsIncluded  *bool        `json:"isIncluded,omitempty"`
	Phase       Phase        `json:"phase"`
	Signing     SigningState `json:"signing"`
	Payment     PaymentState `json:"payment"`
	SigningURL  string       `json:"signingUrl"`
	TaskID      string       `json:"taskId,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	ExpiresAt   time.Time    `json:"expiresAt"`
}

// SigningComplete reports whether the signature prerequisite is met.
func (r *Request) SigningComplete() bool { return r.Signing.Status == StepCompleted }

// PaymentComplete reports whether the payment prerequisite is met.
func (r *Request) PaymentComplete() bool { return r.Payment.Status == StepCompleted }

// RequestStore persists requests under request:<id> with the signing TTL,
// refreshed every time a phase advances.
type RequestStore struct {
	kv      kvstore.Store
	ttl     time.Duration
	baseURL string
	clock   func() time.Time
	log     log.Logger
}

// NewRequestStore creates a request store. baseURL is the public base URL
// used to mint signing and payment URLs.
func NewRequestStore(kv kvstore.Store, ttl time.Duration, baseURL string) *RequestStore {
	return &RequestStore{
		kv:      kv,
		ttl:     ttl,
		baseURL: strings.TrimRight(baseURL, "/"),
		clock:   time.Now,
		log:     log.New("module", "flow"),
	}
}

// NewRequestStoreAt is NewRequestStore with an injectable clock.
func NewRequestStoreAt(kv kvstore.Store, ttl time.Duration, baseURL string, clock func() time.Time) *RequestStore {
	s := NewRequestStore(kv, ttl, baseURL)
	s.clock = clock
	return s
}

func requestKey(id string) string { return "request:" + id }

// TTL is the signing TTL requests live under.
func (s *RequestStore) TTL() time.Duration { return s.ttl }

// Create mints a new request in the signing phase.
func (s *RequestStore) Create(ctx context.Context, circuitID, scope string, countryList []string, isIncluded *bool) (*Request, error) {
	now := s.clock().UTC()
	req := &Request{
		ID:          uuid.NewString(),
		CircuitID:   circuitID,
		Scope:       scope,
		CountryList: countryList,
		IsIncluded:  isIncluded,
		Phase:       PhaseSigning,
		Signing:     SigningState{Status: StepPending},
		Payment:     PaymentState{Status: StepPending},
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}
	req.SigningURL = s.baseURL + "/sign/" + req.ID
	if err := s.put(ctx, req); err != nil {
		return nil, err
	}
	s.log.Info("Signing request created", "request", req.ID, "circuit", circuitID, "scope", scope)
	return req, nil
}

// Get loads a request, or ErrNotFound.
func (s *RequestStore) Get(ctx context.Context, id string) (*Request, error) {
	raw, err := s.kv.Get(ctx, requestKey(id))
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load request %s: %w", id, err)
	}
	var req Request
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return nil, fmt.Errorf("decode request %s: %w", id, err)
	}
	return &req, nil
}

// CompleteSigning records the wallet signature and advances the request
// into the payment phase. Legal only while signing is pending.
func (s *RequestStore) CompleteSigning(ctx context.Context, id, address, signature, signalHash string) (*Request, error) {
	req, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Phase != PhaseSigning {
		return nil, fmt.Errorf("%w: signing already handled in phase %s", ErrInvalidPhase, req.Phase)
	}
	req.Signing = SigningState{
		Status:     StepCompleted,
		Address:    address,
		Signature:  signature,
		SignalHash: signalHash,
	}
	req.Phase = PhasePayment
	if err := s.advance(ctx, req); err != nil {
		return nil, err
	}
	s.log.Info("Signing completed", "request", id, "address", address)
	return req, nil
}

// AttachPayment records the minted payment descriptor without changing
// phase; re-requests are idempotent.
func (s *RequestStore) AttachPayment(ctx context.Context, id string, payment PaymentState) (*Request, error) {
	req, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.SigningComplete() {
		return nil, fmt.Errorf("%w: payment requested before signing completed", ErrInvalidPhase)
	}
	if req.PaymentComplete() {
		return nil, fmt.Errorf("%w: payment already completed", ErrInvalidPhase)
	}
	payment.Status = StepPending
	if payment.PaymentURL == "" {
		payment.PaymentURL = s.baseURL + "/pay/" + id
	}
	req.Payment = payment
	if err := s.put(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// CompletePayment records the settlement transaction and advances the
// request into the ready phase. Legal only while payment is pending.
func (s *RequestStore) CompletePayment(ctx context.Context, id, txHash string) (*Request, error) {
	req, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Phase != PhasePayment {
		return nil, fmt.Errorf("%w: payment not expected in phase %s", ErrInvalidPhase, req.Phase)
	}
	req.Payment.Status = StepCompleted
	req.Payment.TxHash = txHash
	req.Phase = PhaseReady
	if err := s.advance(ctx, req); err != nil {
		return nil, err
	}
	s.log.Info("Payment completed", "request", id, "tx", txHash)
	return req, nil
}

// SkipPayment advances a signed request straight to ready, used when the
// payment gate is disabled.
func (s *RequestStore) SkipPayment(ctx context.Context, id string) (*Request, error) {
	req, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Phase != PhasePayment {
		return nil, fmt.Errorf("%w: cannot skip payment in phase %s", ErrInvalidPhase, req.Phase)
	}
	req.Payment.Status = StepCompleted
	req.Phase = PhaseReady
	if err := s.advance(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// SetPhase moves the request to phase, refreshing the TTL. Used by the
// orchestrator for ready → generating → completed/failed.
func (s *RequestStore) SetPhase(ctx context.Context, id string, phase Phase, taskID string) (*Request, error) {
	req, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	req.Phase = phase
	if taskID != "" {
		req.TaskID = taskID
	}
	if err := s.advance(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// advance persists the request with a refreshed TTL.
func (s *RequestStore) advance(ctx context.Context, req *Request) error {
	req.ExpiresAt = s.clock().UTC().Add(s.ttl)
	return s.put(ctx, req)
}

func (s *RequestStore) put(ctx context.Context, req *Request) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request %s: %w", req.ID, err)
	}
	if err := s.kv.Set(ctx, requestKey(req.ID), string(raw), s.ttl); err != nil {
		return fmt.Errorf("store request %s: %w", req.ID, err)
	}
	return nil
}
