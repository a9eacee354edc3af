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
	"testing"
	"time"

	"github.com/nullifier-labs/proofd/kvstore"
	"github.com/stretchr/testify/require"
)

func newTestStore() *Store {
	return NewStore(kvstore.NewMemory(), 24*time.Hour, 5*time.Minute)
}

func TestCreateAndDequeue(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	tk := New("ctx-1", "generate_proof", map[string]any{"circuitId": "coinbase_attestation"})
	require.NoError(t, s.Create(ctx, tk))

	got, err := s.Get(ctx, tk.ID)
	require.NoError(t, err)
	require.Equal(t, StateQueued, got.Status.State)
	require.Equal(t, "generate_proof", got.Skill)
	require.Equal(t, "ctx-1", got.ContextID)

	id, err := s.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, tk.ID, id)

	_, err = s.Dequeue(ctx)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetUnknown(t *testing.T) {
	s := newTestStore()
	_, err := s.Get(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateStatusHistory(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	tk := New("", "verify_proof", nil)
	require.NoError(t, s.Create(ctx, tk))

	updated, err := s.UpdateStatus(ctx, tk.ID, StateRunning, AgentMessage("verifying proof"))
	require.NoError(t, err)
	require.Equal(t, StateRunning, updated.Status.State)
	require.Len(t, updated.History, 1)

	updated, err = s.UpdateStatus(ctx, tk.ID, StateCompleted, AgentMessage("done"))
	require.NoError(t, err)
	require.Len(t, updated.History, 2)
	require.False(t, updated.History[0].Timestamp.After(updated.History[1].Timestamp))
}

func TestTerminalTasksNeverTransition(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	for _, terminal := range []State{StateCompleted, StateFailed, StateInputRequired, StateCanceled} {
		tk := New("", "generate_proof", nil)
		require.NoError(t, s.Create(ctx, tk))
		_, err := s.UpdateStatus(ctx, tk.ID, terminal, nil)
		require.NoError(t, err)

		_, err = s.UpdateStatus(ctx, tk.ID, StateRunning, nil)
		require.ErrorIs(t, err, ErrTerminal, "terminal state %s", terminal)
	}
}

func TestAddArtifactRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	tk := New("", "get_supported_circuits", nil)
	require.NoError(t, s.Create(ctx, tk))

	a := NewArtifact("circuits", DataPart(map[string]any{"chainId": "eip155:84532"}))
	_, err := s.AddArtifact(ctx, tk.ID, a)
	require.NoError(t, err)

	got, err := s.Get(ctx, tk.ID)
	require.NoError(t, err)
	require.Len(t, got.Artifacts, 1)
	require.Equal(t, a.ID, got.Artifacts[0].ID)
	require.Equal(t, "data", got.Artifacts[0].Parts[0].Kind)
	require.Equal(t, "eip155:84532", got.Artifacts[0].Parts[0].Data["chainId"])
}

func TestContextFlowMapping(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	_, err := s.GetContextFlow(ctx, "ctx-9")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetContextFlow(ctx, "ctx-9", "req-42"))
	id, err := s.GetContextFlow(ctx, "ctx-9")
	require.NoError(t, err)
	require.Equal(t, "req-42", id)
}
