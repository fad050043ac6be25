package cacher

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// MemoryCacher keeps entries in process memory using go-cache. A singleflight
// group makes concurrent misses for one key share a single fetch.
type MemoryCacher[T any] struct {
	ttl   time.Duration
	cache *cache.Cache
	group singleflight.Group
}

// NewMemoryCacher creates an in-memory cache whose entries live for ttl.
// Expired entries are purged every 2*ttl.
//
// Parameters:
//   - ttl: Lifetime of an entry; DefaultTTL when not positive
//
// Returns:
//   - A new MemoryCacher
func NewMemoryCacher[T any](ttl time.Duration) *MemoryCacher[T] {
	ttl = ttlOrDefault(ttl)
	return &MemoryCacher[T]{
		ttl:   ttl,
		cache: cache.New(ttl, 2*ttl),
	}
}

// GetOrFetch implements Cacher. The fetch runs detached from any single
// caller, so a caller whose context ends returns early while the others still
// receive the result.
func (c *MemoryCacher[T]) GetOrFetch(ctx context.Context, key string, fetchFn FetchFunc[T]) (T, error) {
	var zero T

	if v, ok := c.lookup(key); ok {
		return v, nil
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		if v, ok := c.lookup(key); ok {
			return v, nil
		}

		v, err := fetchFn(context.WithoutCancel(ctx))
		if err != nil {
			return zero, err
		}

		c.cache.Set(key, v, c.ttl)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}

		v, ok := res.Val.(T)
		if !ok {
			return zero, fmt.Errorf("unexpected type in cache for key %s", key)
		}

		return v, nil
	}
}

// Invalidate implements Cacher. Any fetch already in flight for key is
// forgotten so later callers start a fresh one.
func (c *MemoryCacher[T]) Invalidate(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.group.Forget(key)
	c.cache.Delete(key)
	return nil
}

// Clear implements Cacher.
func (c *MemoryCacher[T]) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.cache.Flush()
	return nil
}

// Len implements Cacher. Expired entries not yet purged are counted.
func (c *MemoryCacher[T]) Len(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	return c.cache.ItemCount(), nil
}

func (c *MemoryCacher[T]) lookup(key string) (T, bool) {
	if v, found := c.cache.Get(key); found {
		if typed, ok := v.(T); ok {
			return typed, true
		}
	}

	var zero T
	return zero, false
}
