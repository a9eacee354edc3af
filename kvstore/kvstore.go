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

// Package kvstore wraps the shared key-value backing store behind a narrow,
// typed gateway. Every component that persists state (tasks, requests, flows,
// payments, rate-limit counters, cached proofs) goes through this interface,
// which keeps the underlying store's error taxonomy from leaking upward.
package kvstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key, list or set member does not exist.
	ErrNotFound = errors.New("kvstore: not found")

	// ErrTransient marks failures that may succeed on retry, such as a
	// dropped connection or a timeout talking to the store.
	ErrTransient = errors.New("kvstore: transient failure")

	// ErrPermanent marks failures that will not succeed on retry, such as a
	// type mismatch on an existing key.
	ErrPermanent = errors.New("kvstore: permanent failure")
)

// KeepTTL can be passed as the ttl argument of Set to leave the key's
// current expiry untouched.
const KeepTTL time.Duration = -1

// Store is the gateway to the shared ordered/set/list backing store.
// All operations are atomic per key.
type Store interface {
	// Get returns the string value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value at key. A zero ttl means no expiry; KeepTTL
	// preserves the existing expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// ListPushLeft prepends value to the list at key, creating it if needed.
	ListPushLeft(ctx context.Context, key, value string) error

	// ListPopRight removes and returns the last element of the list at key,
	// or ErrNotFound when the list is empty or missing.
	ListPopRight(ctx context.Context, key string) (string, error)

	// SetAdd adds member to the set at key.
	SetAdd(ctx context.Context, key, member string) error

	// SetRemove removes member from the set at key.
	SetRemove(ctx context.Context, key, member string) error

	// SetMembers returns all members of the set at key. A missing set
	// yields an empty slice, not an error.
	SetMembers(ctx context.Context, key string) ([]string, error)

	// Incr atomically increments the integer at key and returns the new
	// value. A missing key counts as zero.
	Incr(ctx context.Context, key string) (int64, error)

	// Expire sets the time-to-live of key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns the remaining time-to-live of key. ErrNotFound is
	// returned for a missing key; a key with no expiry reports zero.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Close releases the underlying connection pool.
	Close() error
}
