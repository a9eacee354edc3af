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
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha512"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/nullifier-labs/proofd/attestation"
	"github.com/nullifier-labs/proofd/circuits"
	"github.com/nullifier-labs/proofd/flow"
	"github.com/nullifier-labs/proofd/kvstore"
	"github.com/nullifier-labs/proofd/payments"
	"github.com/nullifier-labs/proofd/prover"
	"github.com/nullifier-labs/proofd/ratelimit"
	"github.com/nullifier-labs/proofd/skills"
	"github.com/nullifier-labs/proofd/task"
	"github.com/nullifier-labs/proofd/tee"
	"github.com/nullifier-labs/proofd/tee/attest"
	"github.com/nullifier-labs/proofd/worker"
	"github.com/stretchr/testify/require"
)

const testBase = "https://agent.example"

type stubVerifier struct{ valid bool }

func (v stubVerifier) Verify(context.Context, string, uint64, []byte, []common.Hash) (bool, error) {
	return v.valid, nil
}

type stubAttestation struct{}

func (stubAttestation) Fetch(context.Context, common.Address, string) (*attestation.Bundle, error) {
	return &attestation.Bundle{
		RawTransaction: []byte{0xde, 0xad},
		MerkleProof:    [][]byte{{0x01}},
		BlockNumber:    1,
	}, nil
}

type stubTEE struct{}

func (stubTEE) Mode() tee.Mode { return tee.ModeLocal }

func (stubTEE) Prove(context.Context, string, *prover.Inputs, string) *tee.ProveResponse {
	return &tee.ProveResponse{Type: "proof", Proof: "0x1234", PublicInputs: "0x5678", ProofWithInputs: "0x56781234"}
}

func (stubTEE) HealthCheck(context.Context) bool { return true }

func (stubTEE) Attestation(context.Context) (string, error) { return "", nil }

func (stubTEE) GenerateAttestation(context.Context, string) (*tee.AttestationInfo, error) {
	return nil, nil
}

type testStack struct {
	server      *httptest.Server
	store       *task.Store
	requests    *flow.RequestStore
	facilitator *payments.Facilitator
	pool        *worker.Pool
}

func newStack(t *testing.T, mode payments.Mode) *testStack {
	return newLimitedStack(t, mode, nil)
}

func newLimitedStack(t *testing.T, mode payments.Mode, limiter *ratelimit.Limiter) *testStack {
	t.Helper()
	kv := kvstore.NewMemory()
	tasks := task.NewStore(kv, time.Hour, time.Hour)
	bus := task.NewBus(task.DefaultBuffer)
	requests := flow.NewRequestStore(kv, 300*time.Second, testBase)
	facilitator := payments.NewFacilitator(kv, time.Hour)

	dispatcher := skills.NewDispatcher(skills.Deps{
		Tasks:          tasks,
		Requests:       requests,
		TEE:            stubTEE{},
		Cache:          prover.NewCache(kv, time.Hour),
		Verifier:       stubVerifier{valid: true},
		Attestation:    stubAttestation{},
		Facilitator:    facilitator,
		PaymentMode:    mode,
		Price:          "$0.10",
		BaseURL:        testBase,
		DefaultChainID: 84532,
	})

	flows := flow.NewOrchestrator(kv, requests,
		func(ctx context.Context, req *flow.Request) (string, error) {
			generated := task.New("", skills.SkillGenerateProof, map[string]any{
				"circuitId": req.CircuitID,
				"scope":     req.Scope,
				"requestId": req.ID,
			})
			return generated.ID, tasks.Create(ctx, generated)
		},
		func(ctx context.Context, taskID string) (task.State, error) {
			loaded, err := tasks.Get(ctx, taskID)
			if err != nil {
				return "", err
			}
			return loaded.Status.State, nil
		},
		mode == payments.ModeDisabled)

	gate := payments.NewGate(mode, "0x9999999999999999999999999999999999999999", "$0.10")
	srv := NewServer(Config{
		Port:        0,
		BaseURL:     testBase,
		AgentName:   "proofd",
		Version:     "test",
		Price:       "$0.10",
		PaymentMode: mode,
		SendTimeout: 5 * time.Second,
	}, dispatcher, tasks, bus, requests, flows, gate, facilitator, stubTEE{}, limiter)

	pool := worker.New(tasks, bus, dispatcher, 2, 10*time.Millisecond)
	pool.Start()
	t.Cleanup(pool.Stop)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testStack{server: ts, store: tasks, requests: requests, facilitator: facilitator, pool: pool}
}

func (s *testStack) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.server.URL+path, &buf)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestHealthAndStatusEndpoints(t *testing.T) {
	s := newStack(t, payments.ModeTestnet)

	resp, body := s.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "testnet", body["paymentMode"])
	require.Equal(t, true, body["paymentRequired"])

	resp, body = s.do(t, http.MethodGet, "/payment/status", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "eip155:84532", body["network"])

	resp, body = s.do(t, http.MethodGet, "/tee/status", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "local", body["mode"])
	require.Equal(t, true, body["available"])
}

func TestCircuitsEndpointIsFree(t *testing.T) {
	s := newStack(t, payments.ModeTestnet)
	resp, body := s.do(t, http.MethodGet, "/api/v1/circuits", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["circuits"], 2)
}

func TestCreateProofDemandsPayment(t *testing.T) {
	s := newStack(t, payments.ModeTestnet)

	resp, _ := s.do(t, http.MethodPost, "/api/v1/proofs", map[string]any{
		"circuitId": circuits.CoinbaseAttestation,
		"scope":     "test",
	}, nil)
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	header := resp.Header.Get(payments.HeaderPaymentRequired)
	require.NotEmpty(t, header)
	challenge, err := payments.DecodeChallenge(header)
	require.NoError(t, err)
	require.Equal(t, 2, challenge.X402Version)
	require.Len(t, challenge.Accepts, 1)
	require.Equal(t, "exact", challenge.Accepts[0].Scheme)
	require.Equal(t, "eip155:84532", challenge.Accepts[0].Network)
	require.Equal(t, "$0.10", challenge.Accepts[0].Amount)
}

func TestPaidRequestsRecordPaymentClaims(t *testing.T) {
	s := newStack(t, payments.ModeTestnet)
	ctx := context.Background()

	header, err := payments.EncodeClaim(payments.Claim{
		PayerAddress: "0x7777777777777777777777777777777777777777",
		Amount:       "$0.10",
		Network:      "eip155:84532",
	})
	require.NoError(t, err)

	sig := make([]byte, 65)
	for i := range sig {
		sig[i] = 0x66
	}
	signer := map[string]any{
		"circuitId": circuits.CoinbaseAttestation,
		"scope":     "test",
		"address":   "0x5555555555555555555555555555555555555555",
		"signature": "0x" + common.Bytes2Hex(sig),
	}

	resp, body := s.do(t, http.MethodPost, "/api/v1/proofs", signer,
		map[string]string{payments.HeaderPayment: header})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	taskID := body["taskId"].(string)

	// The claim lands as a pending record for the settlement sweep.
	rec, err := s.facilitator.GetByTask(ctx, taskID)
	require.NoError(t, err)
	require.Equal(t, payments.StatusPending, rec.Status)
	require.Equal(t, "0x7777777777777777777777777777777777777777", rec.PayerAddress)
	require.Equal(t, "$0.10", rec.Amount)
	require.Equal(t, "eip155:84532", rec.Network)

	// The A2A frontend records header claims for protected skills too.
	data := map[string]any{"skill": skills.SkillGenerateProof}
	for k, v := range signer {
		data[k] = v
	}
	resp, body = rpcCall(t, s, "/a2a", "message/send", map[string]any{
		"message": map[string]any{
			"messageId": "m1",
			"parts":     []map[string]any{{"kind": "data", "data": data}},
		},
	}, map[string]string{payments.HeaderPayment: header})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, body["error"])
	a2aTaskID := body["result"].(map[string]any)["id"].(string)

	rec, err = s.facilitator.GetByTask(ctx, a2aTaskID)
	require.NoError(t, err)
	require.Equal(t, payments.StatusPending, rec.Status)
	require.Equal(t, "0x7777777777777777777777777777777777777777", rec.PayerAddress)
}

func TestCreateProofWithoutSignerStartsSigning(t *testing.T) {
	s := newStack(t, payments.ModeDisabled)

	resp, body := s.do(t, http.MethodPost, "/api/v1/proofs", map[string]any{
		"circuitId": circuits.CoinbaseAttestation,
		"scope":     "test",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "input-required", body["state"])
	require.NotEmpty(t, body["requestId"])
	require.Contains(t, body["signingUrl"], "/sign/")
}

func TestCreateProofEnqueuesAndCompletes(t *testing.T) {
	s := newStack(t, payments.ModeDisabled)
	sig := make([]byte, 65)
	for i := range sig {
		sig[i] = 0x66
	}

	resp, body := s.do(t, http.MethodPost, "/api/v1/proofs", map[string]any{
		"circuitId": circuits.CoinbaseAttestation,
		"scope":     "test",
		"address":   "0x5555555555555555555555555555555555555555",
		"signature": "0x" + common.Bytes2Hex(sig),
	}, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	taskID := body["taskId"].(string)
	require.Equal(t, "queued", body["state"])

	// The worker pool drives it to completion.
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, body = s.do(t, http.MethodGet, "/api/v1/proofs/"+taskID, nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		status := body["status"].(map[string]any)
		if status["state"] == "completed" {
			break
		}
		require.True(t, time.Now().Before(deadline), "task never completed: %v", body)
		time.Sleep(20 * time.Millisecond)
	}
	artifacts := body["artifacts"].([]any)
	require.NotEmpty(t, artifacts)
}

func TestSigningAndPaymentWebhooks(t *testing.T) {
	s := newStack(t, payments.ModeTestnet)

	resp, body := s.do(t, http.MethodPost, "/api/v1/signing", map[string]any{
		"circuitId": circuits.CoinbaseAttestation,
		"scope":     "test",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	requestID := body["requestId"].(string)

	// Payment before signing is a client error.
	resp, _ = s.do(t, http.MethodPost, "/api/v1/signing/"+requestID+"/payment", nil, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = s.do(t, http.MethodPost, "/api/v1/signing/"+requestID+"/complete", map[string]any{
		"address":   "0x5555555555555555555555555555555555555555",
		"signature": "0xsigned",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "payment", body["phase"])
	require.NotEmpty(t, body["signalHash"])

	resp, body = s.do(t, http.MethodPost, "/api/v1/signing/"+requestID+"/payment", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "$0.10", body["amount"])
	require.Contains(t, body["paymentUrl"], "/pay/"+requestID)

	resp, body = s.do(t, http.MethodPost, "/api/v1/signing/"+requestID+"/payment/complete", map[string]any{
		"txHash": "0xdeadbeef",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ready", body["phase"])

	resp, body = s.do(t, http.MethodGet, "/api/v1/signing/"+requestID+"/status", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ready", body["phase"])
}

func TestFlowEndpointAdvances(t *testing.T) {
	s := newStack(t, payments.ModeDisabled)

	resp, body := s.do(t, http.MethodPost, "/api/v1/flow", map[string]any{
		"circuitId": circuits.CoinbaseAttestation,
		"scope":     "test",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	flowID := body["flowId"].(string)
	requestID := body["requestId"].(string)
	require.Equal(t, "signing", body["phase"])

	resp, _ = s.do(t, http.MethodPost, "/api/v1/signing/"+requestID+"/complete", map[string]any{
		"address":   "0x5555555555555555555555555555555555555555",
		"signature": "0xsigned",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Disabled payment mode: the flow read jumps straight to generating.
	resp, body = s.do(t, http.MethodGet, "/api/v1/flow/"+flowID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "generating", body["phase"])
	require.NotEmpty(t, body["taskId"])
}

func TestAttestationEndpoints(t *testing.T) {
	s := newStack(t, payments.ModeDisabled)

	// The local provider has no attestation to serve.
	resp, _ := s.do(t, http.MethodGet, "/tee/attestation", nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/tee/attestation/verify", map[string]any{}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/tee/attestation/verify", map[string]any{
		"attestationDocument": "!!not-base64!!",
	}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// A well-formed document without a CA bundle parses but fails
	// verification.
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	doc, err := attest.Encode(attest.Document{
		ModuleID:  "i-000-enc-000",
		Digest:    "SHA384",
		Timestamp: uint64(time.Now().UnixMilli()),
		PCRs:      map[int][]byte{0: make([]byte, 48)},
	}, attest.AlgES384, func(input []byte) ([]byte, error) {
		digest := sha512.Sum384(input)
		r, sv, err := ecdsa.Sign(rand.Reader, key, digest[:])
		if err != nil {
			return nil, err
		}
		return attest.RawSignature(r, sv), nil
	})
	require.NoError(t, err)

	resp, body := s.do(t, http.MethodPost, "/tee/attestation/verify", map[string]any{
		"attestationDocument": doc,
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "i-000-enc-000", body["moduleId"])
	verification := body["verification"].(map[string]any)
	require.Equal(t, false, verification["isValid"])
}

func TestRateLimitBlocksExcessRequests(t *testing.T) {
	limiter := ratelimit.New(kvstore.NewMemory(), "api", 3, time.Minute)
	s := newLimitedStack(t, payments.ModeDisabled, limiter)

	var last *http.Response
	for i := 0; i < 3; i++ {
		last, _ = s.do(t, http.MethodGet, "/api/v1/circuits", nil, nil)
		require.Equal(t, http.StatusOK, last.StatusCode)
	}
	last, _ = s.do(t, http.MethodGet, "/api/v1/circuits", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, last.StatusCode)
	require.NotEmpty(t, last.Header.Get("Retry-After"))

	// Unmetered endpoints stay reachable.
	last, _ = s.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, last.StatusCode)
}

func TestChatIsGone(t *testing.T) {
	s := newStack(t, payments.ModeDisabled)
	resp, _ := s.do(t, http.MethodPost, "/api/v1/chat", map[string]any{"message": "hi"}, nil)
	require.Equal(t, http.StatusGone, resp.StatusCode)
}

func rpcCall(t *testing.T, s *testStack, path string, method string, params any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	return s.do(t, http.MethodPost, path, map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	}, headers)
}

func TestA2AMessageSend(t *testing.T) {
	s := newStack(t, payments.ModeDisabled)

	resp, body := rpcCall(t, s, "/a2a", "message/send", map[string]any{
		"message": map[string]any{
			"messageId": "m1",
			"contextId": "ctx-1",
			"parts": []map[string]any{
				{"kind": "data", "data": map[string]any{"skill": skills.SkillGetSupportedCircuits}},
			},
		},
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, body["error"])

	result := body["result"].(map[string]any)
	status := result["status"].(map[string]any)
	require.Equal(t, "completed", status["state"])
	require.NotEmpty(t, result["artifacts"])
}

func TestA2AProtectedSkillDemandsPayment(t *testing.T) {
	s := newStack(t, payments.ModeTestnet)

	resp, body := rpcCall(t, s, "/a2a", "message/send", map[string]any{
		"message": map[string]any{
			"messageId": "m1",
			"parts": []map[string]any{
				{"kind": "data", "data": map[string]any{"skill": skills.SkillGenerateProof, "circuitId": circuits.CoinbaseAttestation, "scope": "test"}},
			},
		},
	}, nil)
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get(payments.HeaderPaymentRequired))

	rpcErr := body["error"].(map[string]any)
	require.Equal(t, float64(codePaymentRequired), rpcErr["code"])
}

func TestA2ATaskLifecycleMethods(t *testing.T) {
	s := newStack(t, payments.ModeDisabled)

	resp, body := rpcCall(t, s, "/a2a", "tasks/get", map[string]any{"id": "missing"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rpcErr := body["error"].(map[string]any)
	require.Equal(t, float64(codeTaskNotFound), rpcErr["code"])

	// A settled task is retrievable but no longer cancelable.
	resp, body = rpcCall(t, s, "/a2a", "message/send", map[string]any{
		"message": map[string]any{
			"messageId": "m1",
			"parts": []map[string]any{
				{"kind": "data", "data": map[string]any{"skill": skills.SkillGetSupportedCircuits}},
			},
		},
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	taskID := body["result"].(map[string]any)["id"].(string)

	resp, body = rpcCall(t, s, "/a2a", "tasks/get", map[string]any{"id": taskID}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := body["result"].(map[string]any)
	require.Equal(t, taskID, result["id"])

	resp, body = rpcCall(t, s, "/a2a", "tasks/cancel", map[string]any{"id": taskID}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rpcErr = body["error"].(map[string]any)
	require.Equal(t, float64(codeTaskNotCancelable), rpcErr["code"])

	resp, body = rpcCall(t, s, "/a2a", "bogus/method", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rpcErr = body["error"].(map[string]any)
	require.Equal(t, float64(codeMethodNotFound), rpcErr["code"])
}

func TestMCPHandshakeAndTools(t *testing.T) {
	s := newStack(t, payments.ModeTestnet)

	resp, body := rpcCall(t, s, "/mcp", "initialize", map[string]any{}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := body["result"].(map[string]any)
	require.Equal(t, mcpProtocolVersion, result["protocolVersion"])

	resp, body = rpcCall(t, s, "/mcp", "tools/list", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tools := body["result"].(map[string]any)["tools"].([]any)
	require.Len(t, tools, 6)

	// Free tool call runs synchronously.
	resp, body = rpcCall(t, s, "/mcp", "tools/call", map[string]any{
		"name":      skills.SkillGetSupportedCircuits,
		"arguments": map[string]any{},
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	content := body["result"].(map[string]any)["content"].([]any)
	first := content[0].(map[string]any)
	require.Equal(t, "text", first["type"])
	require.Contains(t, first["text"], circuits.CoinbaseAttestation)

	// Protected tool demands payment.
	resp, body = rpcCall(t, s, "/mcp", "tools/call", map[string]any{
		"name":      skills.SkillGenerateProof,
		"arguments": map[string]any{"circuitId": circuits.CoinbaseAttestation, "scope": "test"},
	}, nil)
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get(payments.HeaderPaymentRequired))
}

func TestDiscoveryDocuments(t *testing.T) {
	s := newStack(t, payments.ModeTestnet)

	for _, path := range []string{"/.well-known/agent-card.json", "/.well-known/agent.json"} {
		resp, body := s.do(t, http.MethodGet, path, nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
		require.Equal(t, "proofd", body["name"])
		require.Equal(t, testBase+"/a2a", body["url"])
		payment := body["payment"].(map[string]any)
		require.Equal(t, true, payment["required"])
	}

	resp, body := s.do(t, http.MethodGet, "/.well-known/mcp.json", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, testBase+"/mcp", body["endpoint"])
}

func TestContextAutoResolution(t *testing.T) {
	s := newStack(t, payments.ModeDisabled)

	// request_signing through A2A binds the request to the context.
	resp, body := rpcCall(t, s, "/a2a", "message/send", map[string]any{
		"message": map[string]any{
			"messageId": "m1",
			"contextId": "ctx-ar",
			"parts": []map[string]any{
				{"kind": "data", "data": map[string]any{
					"skill":     skills.SkillRequestSigning,
					"circuitId": circuits.CoinbaseAttestation,
					"scope":     "test",
				}},
			},
		},
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := body["result"].(map[string]any)
	require.Equal(t, "input-required", result["status"].(map[string]any)["state"])

	// check_status with no requestId resolves it from the same context.
	resp, body = rpcCall(t, s, "/a2a", "message/send", map[string]any{
		"message": map[string]any{
			"messageId": "m2",
			"contextId": "ctx-ar",
			"parts": []map[string]any{
				{"kind": "data", "data": map[string]any{"skill": skills.SkillCheckStatus}},
			},
		},
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result = body["result"].(map[string]any)
	require.Equal(t, "completed", result["status"].(map[string]any)["state"])

	var data map[string]any
	artifacts := result["artifacts"].([]any)
	parts := artifacts[0].(map[string]any)["parts"].([]any)
	for _, p := range parts {
		part := p.(map[string]any)
		if part["kind"] == "data" {
			data = part["data"].(map[string]any)
		}
	}
	require.NotEmpty(t, data["requestId"])
	require.Equal(t, "signing", data["phase"])
}
