package cacher

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	lockTTL     = 10 * time.Second
	waitTimeout = 10 * time.Second
	minBackoff  = 10 * time.Millisecond
	maxBackoff  = 250 * time.Millisecond
	scanBatch   = 256
)

var (
	// ErrFetchAbandoned is returned to a waiter when the lock holder released
	// the lock without populating the cache, typically because its fetch failed.
	ErrFetchAbandoned = errors.New("cacher: fetch abandoned by lock holder")

	// ErrWaitTimeout is returned when a waiter gives up on the lock holder.
	ErrWaitTimeout = errors.New("cacher: timeout waiting for cache")
)

var (
	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

	extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisCacher stores JSON-encoded entries in Redis under "<namespace>:<key>".
// A short-lived lock key "<namespace>:lock:<key>" lets one process fetch a
// missing value while the others poll for it.
type RedisCacher[T any] struct {
	client    redis.UniversalClient
	namespace string
	ttl       time.Duration
}

// NewRedisCacher creates a Redis-backed cache. Clear and Len only touch keys
// under namespace, so the database can be shared with other data.
//
// Parameters:
//   - client: Connected Redis client
//   - namespace: Key prefix owned by this cache, e.g. "gemcarry:cache:login"
//   - ttl: Lifetime of an entry; DefaultTTL when not positive
//
// Returns:
//   - A new RedisCacher
func NewRedisCacher[T any](client redis.UniversalClient, namespace string, ttl time.Duration) *RedisCacher[T] {
	return &RedisCacher[T]{
		client:    client,
		namespace: namespace,
		ttl:       ttlOrDefault(ttl),
	}
}

// GetOrFetch implements Cacher.
func (c *RedisCacher[T]) GetOrFetch(ctx context.Context, key string, fetchFn FetchFunc[T]) (T, error) {
	var zero T

	v, found, err := c.get(ctx, key)
	if err != nil || found {
		return v, err
	}

	token, err := newToken()
	if err != nil {
		return zero, err
	}

	lockKey := c.lockKey(key)
	acquired, err := c.client.SetNX(ctx, lockKey, token, lockTTL).Result()
	if err != nil {
		return zero, fmt.Errorf("failed to acquire lock: %w", err)
	}

	if !acquired {
		return c.wait(ctx, key)
	}

	defer releaseScript.Run(context.WithoutCancel(ctx), c.client, []string{lockKey}, token)

	extendCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	defer stop()
	go c.extendLock(extendCtx, lockKey, token)

	result, err := fetchFn(ctx)
	if err != nil {
		return zero, err
	}

	data, err := json.Marshal(result)
	if err != nil {
		return zero, fmt.Errorf("failed to marshal value: %w", err)
	}

	if err := c.client.Set(ctx, c.dataKey(key), data, c.ttl).Err(); err != nil {
		return zero, fmt.Errorf("failed to cache value: %w", err)
	}

	return result, nil
}

// Invalidate implements Cacher.
func (c *RedisCacher[T]) Invalidate(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.dataKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}

	return nil
}

// Clear implements Cacher. Keys are found with SCAN and removed in batches.
func (c *RedisCacher[T]) Clear(ctx context.Context) error {
	batch := make([]string, 0, scanBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}

		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("failed to delete keys: %w", err)
		}

		batch = batch[:0]
		return nil
	}

	iter := c.client.Scan(ctx, 0, c.namespace+":*", scanBatch).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan keys: %w", err)
	}

	return flush()
}

// Len implements Cacher. Lock keys are not counted.
func (c *RedisCacher[T]) Len(ctx context.Context) (int, error) {
	n := 0
	lockPrefix := c.namespace + ":lock:"
	iter := c.client.Scan(ctx, 0, c.namespace+":*", scanBatch).Iterator()
	for iter.Next(ctx) {
		if !strings.HasPrefix(iter.Val(), lockPrefix) {
			n++
		}
	}

	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan keys: %w", err)
	}

	return n, nil
}

func (c *RedisCacher[T]) get(ctx context.Context, key string) (T, bool, error) {
	var zero T

	raw, err := c.client.Get(ctx, c.dataKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}

	if err != nil {
		return zero, false, fmt.Errorf("redis get error: %w", err)
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}

	return v, true, nil
}

// wait polls with exponential backoff until the lock holder stores the value,
// drops the lock, or waitTimeout passes.
func (c *RedisCacher[T]) wait(ctx context.Context, key string) (T, error) {
	var zero T

	backoff := minBackoff
	deadline := time.Now().Add(waitTimeout)
	timer := time.NewTimer(backoff)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-timer.C:
		}

		v, found, err := c.get(ctx, key)
		if err != nil || found {
			return v, err
		}

		held, err := c.client.Exists(ctx, c.lockKey(key)).Result()
		if err != nil {
			return zero, fmt.Errorf("failed to check lock: %w", err)
		}

		if held == 0 {
			if v, found, err := c.get(ctx, key); err != nil || found {
				return v, err
			}

			return zero, ErrFetchAbandoned
		}

		if time.Now().After(deadline) {
			return zero, ErrWaitTimeout
		}

		backoff = min(backoff*2, maxBackoff)
		timer.Reset(backoff)
	}
}

func (c *RedisCacher[T]) extendLock(ctx context.Context, lockKey, token string) {
	ticker := time.NewTicker(lockTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			extendScript.Run(ctx, c.client, []string{lockKey}, token, lockTTL.Milliseconds())
		}
	}
}

func (c *RedisCacher[T]) dataKey(key string) string {
	return c.namespace + ":" + key
}

func (c *RedisCacher[T]) lockKey(key string) string {
	return c.namespace + ":lock:" + key
}

func newToken() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("failed to generate lock token: %w", err)
	}

	return hex.EncodeToString(b[:]), nil
}
