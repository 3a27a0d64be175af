// Package cache implements the read-side cache of the data-access layer.
//
// A single implementation covers the required semantics: per-entry TTL with
// lazy expiry plus a periodic background sweep, a bounded capacity with
// oldest-store-time eviction, and substring invalidation for dropping every
// cached read that touches a given entity.
//
//	c, err := cache.New[Page](ctx, cache.Config{
//	    Capacity:   1000,
//	    DefaultTTL: 5 * time.Minute,
//	})
//	defer c.Close()
//
// An entry is valid iff now < storedAt+ttl; expired entries are never
// returned and count as misses. Eviction order tracks storedAt, which
// re-storing a key refreshes, matching what a caller observes from a
// linear oldest-wins scan, at O(1) per eviction.
package cache
