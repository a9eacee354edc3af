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

package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/nullifier-labs/proofd/kvstore"
)

// SubmittedQueue is the list key that backs the queue of tasks awaiting a
// worker.
const SubmittedQueue = "a2a:queue:submitted"

var (
	// ErrNotFound is returned for an unknown task id.
	ErrNotFound = errors.New("task: not found")

	// ErrTerminal is returned when a transition is attempted on a task
	// already in a terminal state.
	ErrTerminal = errors.New("task: already in terminal state")
)

// Store persists task JSON in the key-value store and owns the submitted
// queue. State changes for one task id are serialized with a per-id mutex
// on top of the store's atomic set.
type Store struct {
	kv         kvstore.Store
	ttl        time.Duration
	contextTTL time.Duration
	log        log.Logger

	locks sync.Map // task id -> *sync.Mutex
}

// NewStore creates a task store. ttl bounds how long finished tasks remain
// readable; contextTTL bounds the contextId -> requestId mapping.
func NewStore(kv kvstore.Store, ttl, contextTTL time.Duration) *Store {
	return &Store{
		kv:         kv,
		ttl:        ttl,
		contextTTL: contextTTL,
		log:        log.New("module", "taskstore"),
	}
}

func taskKey(id string) string       { return "task:" + id }
func contextKey(ctxID string) string { return "context:" + ctxID }

func (s *Store) lock(id string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Create persists a new queued task and pushes it onto the submitted queue.
func (s *Store) Create(ctx context.Context, t *Task) error {
	if err := s.write(ctx, t); err != nil {
		return err
	}
	if err := s.kv.ListPushLeft(ctx, SubmittedQueue, t.ID); err != nil {
		return fmt.Errorf("enqueue task %s: %w", t.ID, err)
	}
	s.log.Debug("Task queued", "id", t.ID, "skill", t.Skill, "context", t.ContextID)
	return nil
}

// Get loads a task, or returns ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Task, error) {
	raw, err := s.kv.Get(ctx, taskKey(id))
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", id, err)
	}
	var t Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	return &t, nil
}

// UpdateStatus transitions a task to state, appending the optional message
// to the history. Transitions out of a terminal state fail with ErrTerminal.
func (s *Store) UpdateStatus(ctx context.Context, id string, state State, msg *Message) (*Task, error) {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status.State.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrTerminal, id, t.Status.State)
	}

	now := time.Now().UTC()
	t.Status = Status{State: state, Message: msg, Timestamp: now}
	t.UpdatedAt = now
	if msg != nil {
		t.History = append(t.History, *msg)
	}
	if err := s.write(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// AddArtifact appends an artifact to the task.
func (s *Store) AddArtifact(ctx context.Context, id string, a Artifact) (*Task, error) {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Artifacts = append(t.Artifacts, a)
	t.UpdatedAt = time.Now().UTC()
	if err := s.write(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Enqueue pushes a task id onto the submitted queue without touching the
// task record. The worker-side state check tolerates duplicate deliveries.
func (s *Store) Enqueue(ctx context.Context, id string) error {
	if err := s.kv.ListPushLeft(ctx, SubmittedQueue, id); err != nil {
		return fmt.Errorf("enqueue task %s: %w", id, err)
	}
	return nil
}

// Dequeue pops the next task id off the submitted queue. ErrNotFound means
// the queue is empty.
func (s *Store) Dequeue(ctx context.Context) (string, error) {
	id, err := s.kv.ListPopRight(ctx, SubmittedQueue)
	if errors.Is(err, kvstore.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("dequeue: %w", err)
	}
	return id, nil
}

// SetContextFlow records the requestId associated with a conversation
// context, letting later skill calls auto-fill a missing requestId.
func (s *Store) SetContextFlow(ctx context.Context, contextID, requestID string) error {
	return s.kv.Set(ctx, contextKey(contextID), requestID, s.contextTTL)
}

// GetContextFlow returns the requestId for a context, or ErrNotFound.
func (s *Store) GetContextFlow(ctx context.Context, contextID string) (string, error) {
	id, err := s.kv.Get(ctx, contextKey(contextID))
	if errors.Is(err, kvstore.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load context %s: %w", contextID, err)
	}
	return id, nil
}

func (s *Store) write(ctx context.Context, t *Task) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", t.ID, err)
	}
	if err := s.kv.Set(ctx, taskKey(t.ID), string(raw), s.ttl); err != nil {
		return fmt.Errorf("store task %s: %w", t.ID, err)
	}
	return nil
}
