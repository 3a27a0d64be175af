// Package dedupe collapses duplicate work: concurrent same-key calls share
// one in-flight execution, rapid-fire calls are debounced, and read paths
// can compose a read-through cache and retry into a single default posture.
package dedupe

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/OwlAIhub/OwlAI-sub003/pkg/cache"
	"github.com/OwlAIhub/OwlAI-sub003/pkg/retry"
)

// Group deduplicates concurrent operations by key and optionally serves
// results from a TTL cache. The zero value is usable without a cache.
type Group[T any] struct {
	flight singleflight.Group
	cache  cache.Cache[T]
}

// NewGroup creates a Group backed by the given cache. A nil cache disables
// the read-through path (Deduplicate still works).
func NewGroup[T any](c cache.Cache[T]) *Group[T] {
	return &Group[T]{cache: c}
}

// Deduplicate executes fn unless an operation with the same key is already
// in flight, in which case the caller receives the in-flight result. The
// key is forgotten once the operation settles, success or failure.
func (g *Group[T]) Deduplicate(ctx context.Context, key string, fn func(context.Context) (T, error)) (T, error) {
	v, err, _ := g.flight.Do(key, func() (any, error) {
		return fn(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// WithCache is a read-through: a cached value is returned immediately; on a
// miss, fn executes (deduplicated by key) and its result is stored with ttl.
func (g *Group[T]) WithCache(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if g.cache != nil {
		if v, ok := g.cache.Get(key); ok {
			return v, nil
		}
	}

	v, err := g.Deduplicate(ctx, key, fn)
	if err != nil {
		var zero T
		return zero, err
	}

	if g.cache != nil {
		// Cache write failures are not the caller's problem
		_, _ = g.cache.SetWithTTL(key, v, ttl)
	}
	return v, nil
}

// Options configures Optimize.
type Options struct {
	// Cache enables the read-through cache in front of dedup+retry.
	Cache bool
	// TTL for the cached result; the cache default applies when zero.
	TTL time.Duration
	// Retry is the policy applied inside the deduplicated execution.
	// Nil means a single attempt.
	Retry *retry.Policy
}

// Optimize composes cache (optional), then dedup, then retry, as
// the default posture for read operations: one remote call serves every
// concurrent caller, and that one call retries per the given policy.
func (g *Group[T]) Optimize(ctx context.Context, key string, opts Options, fn func(context.Context) (T, error)) (T, error) {
	run := fn
	if opts.Retry != nil {
		policy := *opts.Retry
		run = func(ctx context.Context) (T, error) {
			return retry.DoWithResult(ctx, policy, func() (T, error) {
				return fn(ctx)
			})
		}
	}

	if opts.Cache && g.cache != nil {
		return g.WithCache(ctx, key, opts.TTL, run)
	}
	return g.Deduplicate(ctx, key, run)
}
