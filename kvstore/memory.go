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
	"strconv"
	"sync"
	"time"
)

// memoryStore is an in-process Store used by tests and single-node
// development runs. Semantics match the redis gateway, including per-key
// expiry and the missing-key behavior of each operation.
type memoryStore struct {
	mu      sync.Mutex
	strings map[string]string
	lists   map[string][]string
	sets    map[string]map[string]struct{}
	expiry  map[string]time.Time
	now     func() time.Time
}

// NewMemory returns an empty in-memory Store.
func NewMemory() Store {
	return &memoryStore{
		strings: make(map[string]string),
		lists:   make(map[string][]string),
		sets:    make(map[string]map[string]struct{}),
		expiry:  make(map[string]time.Time),
		now:     time.Now,
	}
}

// NewMemoryAt returns an in-memory Store that reads time through clock,
// letting tests drive expiry deterministically.
func NewMemoryAt(clock func() time.Time) Store {
	s := NewMemory().(*memoryStore)
	s.now = clock
	return s
}

// expire reaps the key if its TTL has lapsed. Caller holds mu.
func (s *memoryStore) expire(key string) {
	if at, ok := s.expiry[key]; ok && !s.now().Before(at) {
		delete(s.strings, key)
		delete(s.lists, key)
		delete(s.sets, key)
		delete(s.expiry, key)
	}
}

func (s *memoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expire(key)
	val, ok := s.strings[key]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

func (s *memoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strings[key] = value
	switch {
	case ttl == KeepTTL:
		// leave existing expiry in place
	case ttl > 0:
		s.expiry[key] = s.now().Add(ttl)
	default:
		delete(s.expiry, key)
	}
	return nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.strings, key)
	delete(s.lists, key)
	delete(s.sets, key)
	delete(s.expiry, key)
	return nil
}

func (s *memoryStore) ListPushLeft(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expire(key)
	s.lists[key] = append([]string{value}, s.lists[key]...)
	return nil
}

func (s *memoryStore) ListPopRight(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expire(key)
	list := s.lists[key]
	if len(list) == 0 {
		return "", ErrNotFound
	}
	val := list[len(list)-1]
	s.lists[key] = list[:len(list)-1]
	return val, nil
}

func (s *memoryStore) SetAdd(_ context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expire(key)
	if s.sets[key] == nil {
		s.sets[key] = make(map[string]struct{})
	}
	s.sets[key][member] = struct{}{}
	return nil
}

func (s *memoryStore) SetRemove(_ context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expire(key)
	delete(s.sets[key], member)
	return nil
}

func (s *memoryStore) SetMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expire(key)
	members := make([]string, 0, len(s.sets[key]))
	for m := range s.sets[key] {
		members = append(members, m)
	}
	return members, nil
}

func (s *memoryStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expire(key)
	n, err := strconv.ParseInt(s.strings[key], 10, 64)
	if s.strings[key] != "" && err != nil {
		return 0, ErrPermanent
	}
	n++
	s.strings[key] = strconv.FormatInt(n, 10)
	return n, nil
}

func (s *memoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expire(key)
	if !s.exists(key) {
		return nil
	}
	s.expiry[key] = s.now().Add(ttl)
	return nil
}

func (s *memoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expire(key)
	if !s.exists(key) {
		return 0, ErrNotFound
	}
	at, ok := s.expiry[key]
	if !ok {
		return 0, nil
	}
	return at.Sub(s.now()), nil
}

func (s *memoryStore) Close() error { return nil }

// exists reports whether key holds any value. Caller holds mu.
func (s *memoryStore) exists(key string) bool {
	if _, ok := s.strings[key]; ok {
		return true
	}
	if l, ok := s.lists[key]; ok && len(l) > 0 {
		return true
	}
	if m, ok := s.sets[key]; ok && len(m) > 0 {
		return true
	}
	return false
}
