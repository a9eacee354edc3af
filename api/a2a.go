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

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/nullifier-labs/proofd/payments"
	"github.com/nullifier-labs/proofd/skills"
	"github.com/nullifier-labs/proofd/task"
)

// JSON-RPC error codes. The negative-32xxx range follows the JSON-RPC
// spec; the -3200x block carries agent-protocol errors.
const (
	codeParse             = -32700
	codeInvalidRequest    = -32600
	codeMethodNotFound    = -32601
	codeInvalidParams     = -32602
	codeTaskNotFound      = -32001
	codeTaskNotCancelable = -32002
	codePaymentRequired   = -32003
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

func rpcResult(id, result any) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: id, Result: result}
}

func rpcFailure(id any, code int, message string) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}}
}

// a2aMessage is the inbound message envelope.
type a2aMessage struct {
	MessageID string      `json:"messageId"`
	ContextID string      `json:"contextId"`
	Role      string      `json:"role"`
	Parts     []task.Part `json:"parts"`
}

type a2aSendParams struct {
	Message a2aMessage `json:"message"`
}

type a2aTaskParams struct {
	ID string `json:"id"`
}

// resolveInvocation maps message parts onto a skill invocation. A data
// part carrying a skill name wins over any text part.
func resolveInvocation(msg *a2aMessage) (skill string, params map[string]any, text string) {
	for _, p := range msg.Parts {
		if p.Kind == "data" && p.Data != nil {
			if name, ok := p.Data["skill"].(string); ok && name != "" {
				params = make(map[string]any, len(p.Data))
				for k, v := range p.Data {
					if k != "skill" {
						params[k] = v
					}
				}
				return name, params, ""
			}
		}
	}
	for _, p := range msg.Parts {
		if p.Kind == "text" && p.Text != "" {
			return "", nil, p.Text
		}
	}
	return "", nil, ""
}

func (s *Server) handleA2A(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusOK, rpcFailure(nil, codeParse, "parse error"))
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeJSON(w, http.StatusOK, rpcFailure(req.ID, codeInvalidRequest, "invalid request"))
		return
	}

	switch req.Method {
	case "message/send":
		s.a2aSend(w, r, &req, false)
	case "message/stream":
		s.a2aSend(w, r, &req, true)
	case "tasks/get":
		s.a2aGet(w, r, &req)
	case "tasks/cancel":
		s.a2aCancel(w, r, &req)
	case "tasks/resubscribe":
		s.a2aResubscribe(w, r, &req)
	default:
		writeJSON(w, http.StatusOK, rpcFailure(req.ID, codeMethodNotFound, "method not found: "+req.Method))
	}
}

// a2aSend normalizes a message into a task, enforces the payment gate for
// protected skills, and either waits for or streams the task's lifecycle.
func (s *Server) a2aSend(w http.ResponseWriter, r *http.Request, req *rpcRequest, stream bool) {
	var params a2aSendParams
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params.Message.Parts) == 0 {
		writeJSON(w, http.StatusOK, rpcFailure(req.ID, codeInvalidParams, "params.message with parts is required"))
		return
	}
	msg := params.Message

	skill, skillParams, text := resolveInvocation(&msg)
	if skill == "" && text == "" {
		writeJSON(w, http.StatusOK, rpcFailure(req.ID, codeInvalidParams, "message carries neither a data nor a text part"))
		return
	}
	if skill != "" && !skills.Known(skill) {
		writeJSON(w, http.StatusOK, rpcFailure(req.ID, codeInvalidParams, "unknown skill: "+skill))
		return
	}

	// Protected skills demand an x402 payment header before any work.
	if skill != "" && payments.SkillProtected(skill) && s.gate.Enabled() &&
		r.Header.Get(payments.HeaderPayment) == "" {
		challenge, err := s.gate.EncodeChallenge()
		if err != nil {
			writeJSON(w, http.StatusOK, rpcFailure(req.ID, codeInvalidRequest, "challenge encoding failed"))
			return
		}
		w.Header().Set(payments.HeaderPaymentRequired, challenge)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(rpcFailure(req.ID, codePaymentRequired,
			"payment required: "+s.gate.Amount()+" USDC via x402"))
		return
	}

	t := task.New(msg.ContextID, skill, skillParams)
	if text != "" {
		t.Skill = "chat"
		t.Params = map[string]any{"text": text}
	}
	t.History = append(t.History, task.Message{
		ID:        msg.MessageID,
		Role:      task.RoleUser,
		Parts:     msg.Parts,
		Timestamp: time.Now().UTC(),
	})

	// Text-only messages resolve synchronously through the router (or
	// fail descriptively without one); they never hit the queue.
	if text != "" {
		out := s.dispatcher.ExecuteText(r.Context(), text, t.ContextID)
		s.finishSyncTask(r, t, out)
		if stream {
			s.streamStoredTask(w, req.ID, t)
			return
		}
		writeJSON(w, http.StatusOK, rpcResult(req.ID, t))
		return
	}

	sub := s.bus.Subscribe(t.ID)
	if err := s.tasks.Create(r.Context(), t); err != nil {
		sub.Unsubscribe()
		writeJSON(w, http.StatusOK, rpcFailure(req.ID, codeInvalidRequest, "could not enqueue task: "+err.Error()))
		return
	}
	if payments.SkillProtected(t.Skill) && s.gate.Enabled() {
		s.recordClaim(r.Context(), t.ID, s.headerClaim(r))
	}

	if stream {
		s.streamTaskEvents(w, r, req.ID, t, sub)
		return
	}

	timeout := time.NewTimer(s.cfg.SendTimeout)
	defer timeout.Stop()
	defer sub.Unsubscribe()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-timeout.C:
			writeJSON(w, http.StatusOK, rpcFailure(req.ID, codeInvalidRequest, "task did not settle in time"))
			return
		case _, ok := <-sub.Events():
			if !ok {
				final, err := s.tasks.Get(r.Context(), t.ID)
				if err != nil {
					writeJSON(w, http.StatusOK, rpcFailure(req.ID, codeTaskNotFound, "task vanished"))
					return
				}
				writeJSON(w, http.StatusOK, rpcResult(req.ID, final))
				return
			}
		}
	}
}

// finishSyncTask persists a synchronously produced outcome as a regular
// task record, so polling and resubscription behave uniformly.
func (s *Server) finishSyncTask(r *http.Request, t *task.Task, out skills.Outcome) {
	ctx := r.Context()
	if err := s.tasks.Create(ctx, t); err != nil {
		s.log.Warn("Sync task persist failed", "task", t.ID, "err", err)
		return
	}
	if _, err := s.tasks.UpdateStatus(ctx, t.ID, task.StateRunning, nil); err != nil {
		return
	}
	for _, a := range out.Artifacts {
		if updated, err := s.tasks.AddArtifact(ctx, t.ID, a); err == nil {
			*t = *updated
		}
	}
	if updated, err := s.tasks.UpdateStatus(ctx, t.ID, out.State, nil); err == nil {
		*t = *updated
	}
}

// streamTaskEvents frames bus events as JSON-RPC results over SSE.
func (s *Server) streamTaskEvents(w http.ResponseWriter, r *http.Request, rpcID any, t *task.Task, sub *task.Subscription) {
	defer sub.Unsubscribe()
	stream, ok := newSSEStream(w)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, rpcFailure(rpcID, codeInvalidRequest, "streaming unsupported"))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			stream.send("message", rpcResult(rpcID, eventPayload(ev)))
		}
	}
}

// streamStoredTask replays a settled task as a minimal event stream.
func (s *Server) streamStoredTask(w http.ResponseWriter, rpcID any, t *task.Task) {
	stream, ok := newSSEStream(w)
	if !ok {
		return
	}
	for _, a := range t.Artifacts {
		stream.send("message", rpcResult(rpcID, map[string]any{
			"kind": "artifact-update", "taskId": t.ID, "artifact": a, "lastChunk": true,
		}))
	}
	stream.send("message", rpcResult(rpcID, map[string]any{
		"kind": "status-update", "taskId": t.ID, "status": t.Status, "final": true,
	}))
}

func eventPayload(ev task.Event) map[string]any {
	switch ev.Type {
	case task.EventStatus:
		return map[string]any{"kind": "status-update", "taskId": ev.TaskID, "status": ev.Status, "final": ev.Final}
	case task.EventArtifact:
		return map[string]any{"kind": "artifact-update", "taskId": ev.TaskID, "artifact": ev.Artifact, "lastChunk": ev.LastChunk}
	default:
		return map[string]any{"kind": "task", "task": ev.Task}
	}
}

func (s *Server) a2aGet(w http.ResponseWriter, r *http.Request, req *rpcRequest) {
	var params a2aTaskParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" {
		writeJSON(w, http.StatusOK, rpcFailure(req.ID, codeInvalidParams, "params.id is required"))
		return
	}
	t, err := s.tasks.Get(r.Context(), params.ID)
	if errors.Is(err, task.ErrNotFound) {
		writeJSON(w, http.StatusOK, rpcFailure(req.ID, codeTaskNotFound, "task not found: "+params.ID))
		return
	}
	if err != nil {
		writeJSON(w, http.StatusOK, rpcFailure(req.ID, codeInvalidRequest, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, rpcResult(req.ID, t))
}

func (s *Server) a2aCancel(w http.ResponseWriter, r *http.Request, req *rpcRequest) {
	var params a2aTaskParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" {
		writeJSON(w, http.StatusOK, rpcFailure(req.ID, codeInvalidParams, "params.id is required"))
		return
	}
	t, err := s.tasks.Get(r.Context(), params.ID)
	if errors.Is(err, task.ErrNotFound) {
		writeJSON(w, http.StatusOK, rpcFailure(req.ID, codeTaskNotFound, "task not found: "+params.ID))
		return
	}
	if err != nil {
		writeJSON(w, http.StatusOK, rpcFailure(req.ID, codeInvalidRequest, err.Error()))
		return
	}
	if t.Status.State.IsTerminal() {
		writeJSON(w, http.StatusOK, rpcFailure(req.ID, codeTaskNotCancelable,
			"task is already "+string(t.Status.State)))
		return
	}

	t, err = s.tasks.UpdateStatus(r.Context(), params.ID, task.StateCanceled, task.AgentMessage("Task canceled by request."))
	if err != nil {
		// A worker raced us into a terminal state.
		writeJSON(w, http.StatusOK, rpcFailure(req.ID, codeTaskNotCancelable, err.Error()))
		return
	}
	s.bus.PublishStatus(t.ID, t.Status, true)
	writeJSON(w, http.StatusOK, rpcResult(req.ID, t))
}

func (s *Server) a2aResubscribe(w http.ResponseWriter, r *http.Request, req *rpcRequest) {
	var params a2aTaskParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" {
		writeJSON(w, http.StatusOK, rpcFailure(req.ID, codeInvalidParams, "params.id is required"))
		return
	}
	t, err := s.tasks.Get(r.Context(), params.ID)
	if errors.Is(err, task.ErrNotFound) {
		writeJSON(w, http.StatusOK, rpcFailure(req.ID, codeTaskNotFound, "task not found: "+params.ID))
		return
	}
	if err != nil {
		writeJSON(w, http.StatusOK, rpcFailure(req.ID, codeInvalidRequest, err.Error()))
		return
	}

	// Settled tasks replay their stored artifacts; live ones attach to
	// the bus.
	if t.Status.State.IsTerminal() {
		s.streamStoredTask(w, req.ID, t)
		return
	}
	sub := s.bus.Subscribe(t.ID)
	s.streamTaskEvents(w, r, req.ID, t, sub)
}
