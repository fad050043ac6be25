package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces account keys: "<prefix>:<email>".
const DefaultRedisPrefix = "gemcarry:login"

// RedisStore keeps each account as a JSON document in Redis.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a Store on client.
//
// Parameters:
//   - client: Connected Redis client
//   - prefix: Key prefix; DefaultRedisPrefix when empty
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}

	return &RedisStore{client: client, prefix: prefix}
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, email string) (Record, error) {
	raw, err := s.client.Get(ctx, s.key(email)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}

	if err != nil {
		return Record{}, fmt.Errorf("redis get error: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to unmarshal account: %w", err)
	}

	return rec, nil
}

// Create implements Store with SET NX.
func (s *RedisStore) Create(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.key(rec.Email), data, 0).Result()
	if err != nil {
		return fmt.Errorf("redis setnx error: %w", err)
	}

	if !ok {
		return ErrExists
	}

	return nil
}

// Update implements Store with SET XX.
func (s *RedisStore) Update(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}

	ok, err := s.client.SetXX(ctx, s.key(rec.Email), data, redis.KeepTTL).Result()
	if err != nil {
		return fmt.Errorf("redis setxx error: %w", err)
	}

	if !ok {
		return ErrNotFound
	}

	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, email string) error {
	n, err := s.client.Del(ctx, s.key(email)).Result()
	if err != nil {
		return fmt.Errorf("redis del error: %w", err)
	}

	if n == 0 {
		return ErrNotFound
	}

	return nil
}

// Ping checks that Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) key(email string) string {
	return s.prefix + ":" + email
}
