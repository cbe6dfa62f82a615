// Copyright (c) 2026 TempBox Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dedup provides a Redis-backed fast path for spotting redelivered
// messages before touching Postgres. It is advisory only: the conditional
// database write remains the authoritative idempotency guarantee, so keys are
// marked seen only after a successful persist.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long we remember a stored message key. Providers
	// stop retrying well inside this window.
	DefaultTTL = 24 * time.Hour

	// keyPrefix namespaces dedup keys in Redis.
	keyPrefix = "tempbox:msg:"
)

// Filter tracks which message doc keys have already been persisted.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFilter creates a dedup filter backed by Redis.
func NewFilter(rdb *redis.Client, ttl time.Duration) *Filter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Filter{rdb: rdb, ttl: ttl}
}

// Seen reports whether the key was already marked. Does not mark.
func (f *Filter) Seen(ctx context.Context, docKey string) (bool, error) {
	n, err := f.rdb.Exists(ctx, keyPrefix+docKey).Result()
	if err != nil {
		return false, fmt.Errorf("dedup EXISTS: %w", err)
	}
	return n > 0, nil
}

// MarkSeen records the key after a successful persist. A failed store is
// never marked, so provider retries can still land the message.
func (f *Filter) MarkSeen(ctx context.Context, docKey string) error {
	if err := f.rdb.Set(ctx, keyPrefix+docKey, 1, f.ttl).Err(); err != nil {
		return fmt.Errorf("dedup SET: %w", err)
	}
	return nil
}
