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
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/redis/go-redis/v9"
)

// redisStore implements Store on a redis connection pool.
type redisStore struct {
	client *redis.Client
	log    log.Logger
}

// NewRedis connects to the store at url (redis:// or rediss:// form) and
// verifies the connection with a ping before returning.
func NewRedis(ctx context.Context, url string) (Store, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid store url: %v", ErrPermanent, err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrTransient, err)
	}
	return &redisStore{client: client, log: log.New("module", "kvstore")}, nil
}

func (s *redisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		return "", normalize(err)
	}
	return val, nil
}

func (s *redisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl == KeepTTL {
		ttl = redis.KeepTTL
	}
	return normalize(s.client.Set(ctx, key, value, ttl).Err())
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	return normalize(s.client.Del(ctx, key).Err())
}

func (s *redisStore) ListPushLeft(ctx context.Context, key, value string) error {
	return normalize(s.client.LPush(ctx, key, value).Err())
}

func (s *redisStore) ListPopRight(ctx context.Context, key string) (string, error) {
	val, err := s.client.RPop(ctx, key).Result()
	if err != nil {
		return "", normalize(err)
	}
	return val, nil
}

func (s *redisStore) SetAdd(ctx context.Context, key, member string) error {
	return normalize(s.client.SAdd(ctx, key, member).Err())
}

func (s *redisStore) SetRemove(ctx context.Context, key, member string) error {
	return normalize(s.client.SRem(ctx, key, member).Err())
}

func (s *redisStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, normalize(err)
	}
	return members, nil
}

func (s *redisStore) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, normalize(err)
	}
	return n, nil
}

func (s *redisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return normalize(s.client.Expire(ctx, key, ttl).Err())
}

func (s *redisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, normalize(err)
	}
	switch {
	case d == -2*time.Nanosecond || d == -2*time.Second:
		// go-redis reports a missing key as -2.
		return 0, ErrNotFound
	case d < 0:
		// Key exists but carries no expiry.
		return 0, nil
	}
	return d, nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

// normalize maps go-redis errors onto the gateway's error taxonomy.
func normalize(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return ErrNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return fmt.Errorf("%w: %v", ErrPermanent, err)
}
