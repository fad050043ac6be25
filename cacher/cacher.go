// Package cacher provides read-through caches for values that are expensive
// to load, such as account records kept in the credential store. Concurrent
// misses for the same key collapse into a single fetch.
package cacher

import (
	"context"
	"time"
)

// DefaultTTL is used by the constructors when a non-positive TTL is given.
const DefaultTTL = time.Minute

// FetchFunc loads the value for a key on a cache miss. Errors are returned to
// every caller waiting on that key and are never cached.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Cacher is a read-through cache keyed by string. Entries expire after the
// TTL the cache was built with.
type Cacher[T any] interface {
	// GetOrFetch returns the cached value for key, or calls fetchFn, stores
	// its result and returns it.
	//
	// Parameters:
	//   - ctx: Context for cancellation; a waiting caller gives up when it is done
	//   - key: The cache key
	//   - fetchFn: Loader invoked on a miss
	//
	// Returns:
	//   - The cached or fetched value
	//   - The fetch error, a context error, or a backend error
	GetOrFetch(ctx context.Context, key string, fetchFn FetchFunc[T]) (T, error)

	// Invalidate drops key so the next GetOrFetch reloads it. Invalidating a
	// missing key is not an error.
	Invalidate(ctx context.Context, key string) error

	// Clear drops every entry owned by this cache.
	Clear(ctx context.Context) error

	// Len returns the number of live entries.
	Len(ctx context.Context) (int, error)
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}

	return ttl
}
