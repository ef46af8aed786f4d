// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

package oidc

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// Store is the backing storage of a JWKS cache. Values are raw JWKS
// documents so any byte store can hold them.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// LRUStore is a bounded in-process Store. Entries expire after the TTL given
// to NewLRUStore; the per-call TTL is ignored.
type LRUStore struct {
	lru *expirable.LRU[string, []byte]
}

// NewLRUStore creates an LRUStore holding at most size entries for ttl.
func NewLRUStore(size int, ttl time.Duration) *LRUStore {
	if size <= 0 {
		size = DefaultJWKSCacheSize
	}
	return &LRUStore{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (s *LRUStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := s.lru.Get(key)
	return v, ok, nil
}

func (s *LRUStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.lru.Add(key, value)
	return nil
}

func (s *LRUStore) Delete(_ context.Context, key string) error {
	s.lru.Remove(key)
	return nil
}

// RedisStore shares cached key sets between instances through Redis.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// DefaultRedisPrefix namespaces JWKS entries in Redis.
const DefaultRedisPrefix = "authcore:jwks:"

// NewRedisStore creates a RedisStore. An empty prefix uses DefaultRedisPrefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+key, value, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}
