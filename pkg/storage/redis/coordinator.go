// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package redis implements storage.Coordinator on top of redis so that several engine processes
// sharing one store can serialize instance execution and count join arrivals.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pbinitiative/zenflow/pkg/storage"
	redis "github.com/redis/go-redis/v9"
)

// KEYS[1] - lock key
// ARGV[1] - holder
// ARGV[2] - ttl in milliseconds
var acquireCmd = redis.NewScript(`
	local current = redis.call("GET", KEYS[1])
	if current == false then
		redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
		return 1
	end
	if current == ARGV[1] then
		redis.call("PEXPIRE", KEYS[1], ARGV[2])
		return 1
	end
	return 0
`)

// KEYS[1] - lock key
// ARGV[1] - holder
var releaseCmd = redis.NewScript(`
	local current = redis.call("GET", KEYS[1])
	if current == false then
		return 1
	end
	if current == ARGV[1] then
		redis.call("DEL", KEYS[1])
		return 1
	end
	return 0
`)

// KEYS[1] - join counter key
// ARGV[1] - expected arrivals
// ARGV[2] - counter expiration in milliseconds, 0 keeps the counter forever
var incrementJoinCmd = redis.NewScript(`
	local count = tonumber(redis.call("GET", KEYS[1]) or "0")
	local expected = tonumber(ARGV[1])
	if count >= expected then
		return {count, 0}
	end
	count = redis.call("INCR", KEYS[1])
	if ARGV[2] ~= "0" then
		redis.call("PEXPIRE", KEYS[1], ARGV[2])
	end
	if count == expected then
		return {count, 1}
	end
	return {count, 0}
`)

type Coordinator struct {
	rdb     redis.UniversalClient
	prefix  string
	joinTTL time.Duration
}

var _ storage.Coordinator = &Coordinator{}

type Option func(*Coordinator)

// WithKeyPrefix namespaces all keys written by the coordinator.
func WithKeyPrefix(prefix string) Option {
	return func(c *Coordinator) {
		c.prefix = prefix
	}
}

// WithJoinCounterTTL expires join counters of abandoned instances.
func WithJoinCounterTTL(ttl time.Duration) Option {
	return func(c *Coordinator) {
		c.joinTTL = ttl
	}
}

func NewCoordinator(rdb redis.UniversalClient, options ...Option) *Coordinator {
	c := &Coordinator{
		rdb:    rdb,
		prefix: "zenflow",
	}
	for _, option := range options {
		option(c)
	}
	return c
}

func (c *Coordinator) lockKey(instanceKey int64) string {
	return fmt.Sprintf("%s:lock:instance:%d", c.prefix, instanceKey)
}

func (c *Coordinator) joinKey(instanceKey int64, joinActivityId string) string {
	return fmt.Sprintf("%s:join:%d:%s", c.prefix, instanceKey, joinActivityId)
}

func (c *Coordinator) TryAcquireInstanceLock(ctx context.Context, instanceKey int64, holder string, ttl time.Duration) (bool, error) {
	res, err := acquireCmd.Run(ctx, c.rdb, []string{c.lockKey(instanceKey)}, holder, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock of instance %d: %w", instanceKey, err)
	}
	return res == 1, nil
}

func (c *Coordinator) ReleaseInstanceLock(ctx context.Context, instanceKey int64, holder string) error {
	res, err := releaseCmd.Run(ctx, c.rdb, []string{c.lockKey(instanceKey)}, holder).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock of instance %d: %w", instanceKey, err)
	}
	if res != 1 {
		return fmt.Errorf("instance %d: %w", instanceKey, storage.ErrLockNotHeld)
	}
	return nil
}

func (c *Coordinator) IncrementJoinCounter(ctx context.Context, instanceKey int64, joinActivityId string, expected int) (int, bool, error) {
	res, err := incrementJoinCmd.Run(ctx, c.rdb, []string{c.joinKey(instanceKey, joinActivityId)},
		expected, strconv.FormatInt(c.joinTTL.Milliseconds(), 10)).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("failed to increment join counter %s of instance %d: %w", joinActivityId, instanceKey, err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("unexpected join counter reply %v", res)
	}
	return int(res[0]), res[1] == 1, nil
}

func (c *Coordinator) ResetJoinCounter(ctx context.Context, instanceKey int64, joinActivityId string) error {
	if err := c.rdb.Del(ctx, c.joinKey(instanceKey, joinActivityId)).Err(); err != nil {
		return fmt.Errorf("failed to reset join counter %s of instance %d: %w", joinActivityId, instanceKey, err)
	}
	return nil
}
