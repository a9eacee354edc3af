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

// Package task defines the durable task model shared by every protocol
// frontend, the persistent task store, and the in-process event bus.
package task

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a task.
type State string

const (
	StateQueued        State = "queued"
	StateRunning       State = "running"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
	StateInputRequired State = "input-required"
	StateCanceled      State = "canceled"
)

// IsTerminal reports whether the state is final. input-required is a
// quiescent terminal: the task waits for out-of-band user action and is
// never resumed, though a later skill call on the same context may pick
// the conversation up.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateInputRequired, StateCanceled:
		return true
	}
	return false
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateQueued, StateRunning, StateCompleted, StateFailed, StateInputRequired, StateCanceled:
		return true
	}
	return false
}

// Part is one element of a message or artifact. Kind discriminates the
// variant: "text" carries Text, "data" carries MimeType and Data.
type Part struct {
	Kind     string         `json:"kind"`
	Text     string         `json:"text,omitempty"`
	MimeType string         `json:"mimeType,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// TextPart builds a text part.
func TextPart(text string) Part {
	return Part{Kind: "text", Text: text}
}

// DataPart builds a structured data part.
func DataPart(data map[string]any) Part {
	return Part{Kind: "data", MimeType: "application/json", Data: data}
}

// Artifact is an immutable result attached to a task by its worker.
type Artifact struct {
	ID       string `json:"artifactId"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Parts    []Part `json:"parts"`
}

// NewArtifact builds an artifact with a fresh id.
func NewArtifact(name string, parts ...Part) Artifact {
	return Artifact{ID: uuid.NewString(), Name: name, Parts: parts}
}

// Message roles.
const (
	RoleAgent = "agent"
	RoleUser  = "user"
)

// Message is a status message appended to the task history and published
// on state transitions.
type Message struct {
	ID        string    `json:"messageId,omitempty"`
	Role      string    `json:"role"`
	Parts     []Part    `json:"parts"`
	Timestamp time.Time `json:"timestamp"`
}

// AgentMessage builds an agent-role text message stamped now.
func AgentMessage(text string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      RoleAgent,
		Parts:     []Part{TextPart(text)},
		Timestamp: time.Now().UTC(),
	}
}

// Status pairs a state with the message that accompanied the transition.
type Status struct {
	State     State     `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Task is a unit of durable work. It is created in StateQueued by a
// frontend, transitioned by the worker pool, and immutable once terminal.
type Task struct {
	ID        string         `json:"id"`
	ContextID string         `json:"contextId"`
	Skill     string         `json:"skill"`
	Params    map[string]any `json:"params,omitempty"`
	Status    Status         `json:"status"`
	History   []Message      `json:"history,omitempty"`
	Artifacts []Artifact     `json:"artifacts,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// New builds a queued task for the given skill invocation. A missing
// contextId is replaced with a fresh one so that multi-turn skills always
// have a grouping key.
func New(contextID, skill string, params map[string]any) *Task {
	if contextID == "" {
		contextID = uuid.NewString()
	}
	now := time.Now().UTC()
	return &Task{
		ID:        uuid.NewString(),
		ContextID: contextID,
		Skill:     skill,
		Params:    params,
		Status:    Status{State: StateQueued, Timestamp: now},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
