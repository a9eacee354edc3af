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

package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/nullifier-labs/proofd/kvstore"
	"github.com/nullifier-labs/proofd/task"
)

// Flow is a handle over a request that advances itself on read.
type Flow struct {
	ID        string    `json:"flowId"`
	RequestID string    `json:"requestId"`
	Phase     Phase     `json:"phase"`
	TaskID    string    `json:"taskId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Enqueue submits a generate_proof task for a ready request and returns
// the task id.
type Enqueue func(ctx context.Context, req *Request) (string, error)

// TaskState reports the current state of a task, or task.ErrNotFound.
type TaskState func(ctx context.Context, taskID string) (task.State, error)

// Orchestrator owns the flow records and the auto-advance rules.
type Orchestrator struct {
	kv              kvstore.Store
	requests        *RequestStore
	enqueue         Enqueue
	taskState       TaskState
	paymentDisabled bool
	log             log.Logger
}

// NewOrchestrator wires the flow store. enqueue is called exactly once per
// flow when it first reads as ready; taskState resolves the generating →
// completed/failed edge.
func NewOrchestrator(kv kvstore.Store, requests *RequestStore, enqueue Enqueue, taskState TaskState, paymentDisabled bool) *Orchestrator {
	return &Orchestrator{
		kv:              kv,
		requests:        requests,
		enqueue:         enqueue,
		taskState:       taskState,
		paymentDisabled: paymentDisabled,
		log:             log.New("module", "flow"),
	}
}

func flowKey(id string) string { return "flow:" + id }

// Create mints a request plus a flow handle over it.
func (o *Orchestrator) Create(ctx context.Context, circuitID, scope string, countryList []string, isIncluded *bool) (*Flow, *Request, error) {
	req, err := o.requests.Create(ctx, circuitID, scope, countryList, isIncluded)
	if err != nil {
		return nil, nil, err
	}
	f := &Flow{
		ID:        uuid.NewString(),
		RequestID: req.ID,
		Phase:     req.Phase,
		CreatedAt: o.requests.clock().UTC(),
	}
	if err := o.put(ctx, f); err != nil {
		return nil, nil, err
	}
	o.log.Info("Flow created", "flow", f.ID, "request", req.ID, "circuit", circuitID)
	return f, req, nil
}

// Get performs the advancing read: it returns the flow's current phase
// after performing every transition that needs no user input. The first
// read of a ready flow enqueues the proof task.
func (o *Orchestrator) Get(ctx context.Context, flowID string) (*Flow, *Request, error) {
	f, err := o.load(ctx, flowID)
	if err != nil {
		return nil, nil, err
	}
	req, err := o.requests.Get(ctx, f.RequestID)
	if err != nil {
		return nil, nil, err
	}

	// Payment gate disabled: a signed request owes nothing.
	if req.Phase == PhasePayment && req.SigningComplete() && o.paymentDisabled {
		if req, err = o.requests.SkipPayment(ctx, req.ID); err != nil {
			return nil, nil, err
		}
	}

	if req.Phase == PhaseReady {
		taskID, err := o.enqueue(ctx, req)
		if err != nil {
			return nil, nil, fmt.Errorf("enqueue proof task for flow %s: %w", flowID, err)
		}
		if req, err = o.requests.SetPhase(ctx, req.ID, PhaseGenerating, taskID); err != nil {
			return nil, nil, err
		}
		o.log.Info("Flow advanced to generating", "flow", flowID, "task", taskID)
	}

	if req.Phase == PhaseGenerating && req.TaskID != "" {
		switch state, err := o.taskState(ctx, req.TaskID); {
		case errors.Is(err, task.ErrNotFound):
			// Task expired under the flow; treat as failure.
			if req, err = o.requests.SetPhase(ctx, req.ID, PhaseFailed, ""); err != nil {
				return nil, nil, err
			}
		case err != nil:
			return nil, nil, fmt.Errorf("resolve task state for flow %s: %w", flowID, err)
		case state == task.StateCompleted:
			if req, err = o.requests.SetPhase(ctx, req.ID, PhaseCompleted, ""); err != nil {
				return nil, nil, err
			}
		case state == task.StateFailed || state == task.StateCanceled:
			if req, err = o.requests.SetPhase(ctx, req.ID, PhaseFailed, ""); err != nil {
				return nil, nil, err
			}
		}
	}

	if f.Phase != req.Phase || f.TaskID != req.TaskID {
		f.Phase = req.Phase
		f.TaskID = req.TaskID
		if err := o.put(ctx, f); err != nil {
			return nil, nil, err
		}
	}
	return f, req, nil
}

func (o *Orchestrator) load(ctx context.Context, id string) (*Flow, error) {
	raw, err := o.kv.Get(ctx, flowKey(id))
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load flow %s: %w", id, err)
	}
	var f Flow
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return nil, fmt.Errorf("decode flow %s: %w", id, err)
	}
	return &f, nil
}

func (o *Orchestrator) put(ctx context.Context, f *Flow) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode flow %s: %w", f.ID, err)
	}
	if err := o.kv.Set(ctx, flowKey(f.ID), string(raw), o.requests.ttl); err != nil {
		return fmt.Errorf("store flow %s: %w", f.ID, err)
	}
	return nil
}
