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

// Package ratelimit implements a fixed-window admission counter backed by
// the shared key-value store, so the limit holds across agent replicas.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/nullifier-labs/proofd/kvstore"
)

// Result reports the outcome of a single admission check.
type Result struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration // set only when blocked
}

// Limiter counts requests per key in fixed windows. The window TTL is set
// only by the first request of a window; later requests never reset it.
// Concurrent first-requests are harmless because the increment is atomic
// and setting the TTL is idempotent.
type Limiter struct {
	store  kvstore.Store
	prefix string
	max    int64
	window time.Duration
}

// New creates a limiter admitting max requests per window under the given
// key prefix.
func New(store kvstore.Store, prefix string, max int64, window time.Duration) *Limiter {
	return &Limiter{store: store, prefix: prefix, max: max, window: window}
}

// Check admits or blocks one request for key.
func (l *Limiter) Check(ctx context.Context, key string) (Result, error) {
	counter := fmt.Sprintf("rl:%s:%s", l.prefix, key)

	count, err := l.store.Incr(ctx, counter)
	if err != nil {
		return Result{}, fmt.Errorf("rate limit incr: %w", err)
	}
	if count == 1 {
		if err := l.store.Expire(ctx, counter, l.window); err != nil {
			return Result{}, fmt.Errorf("rate limit expire: %w", err)
		}
	}

	res := Result{Allowed: count <= l.max}
	if remaining := l.max - count; remaining > 0 {
		res.Remaining = remaining
	}
	if !res.Allowed {
		ttl, err := l.store.TTL(ctx, counter)
		if err == nil && ttl > 0 {
			res.RetryAfter = ttl
		} else {
			res.RetryAfter = l.window
		}
	}
	return res, nil
}
