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
	"sync"
	"testing"
	"time"

	"github.com/nullifier-labs/proofd/kvstore"
	"github.com/stretchr/testify/require"
)

func newTestFacilitator() *Facilitator {
	return NewFacilitator(kvstore.NewMemory(), time.Hour)
}

func TestRecordAndLookup(t *testing.T) {
	ctx := context.Background()
	f := newTestFacilitator()

	rec, err := f.Record(ctx, "task-1", "0xpayer", "$0.10", "eip155:84532")
	require.NoError(t, err)
	require.Equal(t, StatusPending, rec.Status)

	byID, err := f.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, rec.ID, byID.ID)

	byTask, err := f.GetByTask(ctx, "task-1")
	require.NoError(t, err)
	require.Equal(t, rec.ID, byTask.ID)

	_, err = f.GetByTask(ctx, "task-unknown")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTransitionsFromPendingOnly(t *testing.T) {
	ctx := context.Background()
	f := newTestFacilitator()

	rec, err := f.Record(ctx, "task-1", "0xpayer", "$0.10", "eip155:84532")
	require.NoError(t, err)

	settled, err := f.Settle(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSettled, settled.Status)

	// Repeat settle and refund both fail once the record left pending.
	_, err = f.Settle(ctx, rec.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.Refund(ctx, rec.ID, "too late")
	require.ErrorIs(t, err, ErrInvalidTransition)

	rec2, err := f.Record(ctx, "task-2", "0xpayer", "$0.10", "eip155:84532")
	require.NoError(t, err)
	refunded, err := f.Refund(ctx, rec2.ID, "prover failed")
	require.NoError(t, err)
	require.Equal(t, StatusRefunded, refunded.Status)
	require.Equal(t, "prover failed", refunded.RefundReason)
	_, err = f.Settle(ctx, rec2.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestConcurrentSettleRefundExactlyOne(t *testing.T) {
	ctx := context.Background()
	f := newTestFacilitator()

	rec, err := f.Record(ctx, "task-1", "0xpayer", "$1.00", "eip155:8453")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := f.Settle(ctx, rec.ID)
		results <- err
	}()
	go func() {
		defer wg.Done()
		_, err := f.Refund(ctx, rec.ID, "race")
		results <- err
	}()
	wg.Wait()
	close(results)

	var succeeded, failed int
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, ErrInvalidTransition)
			failed++
		}
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, failed)
}

func TestListByStatus(t *testing.T) {
	ctx := context.Background()
	f := newTestFacilitator()

	a, _ := f.Record(ctx, "t1", "0xa", "$0.10", "eip155:84532")
	b, _ := f.Record(ctx, "t2", "0xb", "$0.10", "eip155:84532")
	_, err := f.Settle(ctx, a.ID)
	require.NoError(t, err)

	pending, err := f.List(ctx, StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, b.ID, pending[0].ID)

	all, err := f.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
}
