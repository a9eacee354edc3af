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

package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryGetSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "k", "v", 0))
	val, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v", val)

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	s := NewMemoryAt(func() time.Time { return now })

	require.NoError(t, s.Set(ctx, "k", "v", 10*time.Second))
	ttl, err := s.TTL(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, ttl)

	now = now.Add(5 * time.Second)
	_, err = s.Get(ctx, "k")
	require.NoError(t, err)

	now = now.Add(5 * time.Second)
	_, err = s.Get(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryKeepTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	s := NewMemoryAt(func() time.Time { return now })

	require.NoError(t, s.Set(ctx, "k", "v1", 30*time.Second))
	require.NoError(t, s.Set(ctx, "k", "v2", KeepTTL))

	ttl, err := s.TTL(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, ttl)
}

func TestMemoryListFIFO(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	require.NoError(t, s.ListPushLeft(ctx, "q", "a"))
	require.NoError(t, s.ListPushLeft(ctx, "q", "b"))
	require.NoError(t, s.ListPushLeft(ctx, "q", "c"))

	// Push-left / pop-right yields FIFO ordering.
	for _, want := range []string{"a", "b", "c"} {
		got, err := s.ListPopRight(ctx, "q")
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := s.ListPopRight(ctx, "q")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemorySets(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	require.NoError(t, s.SetAdd(ctx, "set", "a"))
	require.NoError(t, s.SetAdd(ctx, "set", "b"))
	require.NoError(t, s.SetAdd(ctx, "set", "a"))

	members, err := s.SetMembers(ctx, "set")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, members)

	require.NoError(t, s.SetRemove(ctx, "set", "a"))
	members, err = s.SetMembers(ctx, "set")
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, members)
}

func TestMemoryIncr(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	for want := int64(1); want <= 3; want++ {
		n, err := s.Incr(ctx, "counter")
		require.NoError(t, err)
		require.Equal(t, want, n)
	}
}
