// Package cache provides a tiered read-through/write-through cache: a
// bounded in-process tier backed by Redis, with request coalescing,
// optional stale-while-revalidate, and tag-based bulk invalidation.
//
// The orchestrator composes the following pieces:
//
//   - Key codec (pkg/keys): validation, normalization, deterministic
//     context enrichment (tenant, locale, ...)
//   - Local tier (pkg/local): bounded TTL map with pluggable eviction
//   - Remote tier (pkg/remote): namespaced Redis adapter
//   - Stampede coordinator (pkg/stampede): single-flight loads
//   - SWR manager (pkg/swr): freshness classification and debounced
//     background revalidation
//   - Tag index (pkg/tags): Redis-set tag-to-keys mapping
//
// # Basic Usage
//
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	c, err := cache.New(rdb, cache.DefaultConfig(), logger)
//	if err != nil {
//		return err
//	}
//
//	user, err := cache.GetOrSet(ctx, c, "user:42",
//		func(ctx context.Context) (User, error) {
//			return repo.FetchUser(ctx, 42)
//		},
//		cache.WithTTL(5*time.Minute), cache.WithTags("users"),
//	)
//
// # Stampede Protection
//
// Concurrent GetOrSet calls for the same key coalesce into a single
// loader execution; all callers receive the one result. A loader
// failure reaches every attached caller unmodified, and the in-flight
// registration clears so a later call can retry.
//
// # Stale-While-Revalidate
//
//	report, err := cache.GetOrSet(ctx, c, "report:daily", buildReport,
//		cache.WithSWR(), cache.WithStaleTime(30*time.Second),
//		cache.WithTTL(time.Hour),
//	)
//
// A stale read returns the cached value immediately and refreshes it in
// a detached background task, at most once per key per debounce window.
//
// # Tag Invalidation
//
//	c.Set(ctx, "user:1", u1, cache.WithTags("users"))
//	c.Set(ctx, "user:2", u2, cache.WithTags("users"))
//	removed, err := c.InvalidateTag(ctx, "users") // removed == 2
//
// # Failure Semantics
//
// Read paths (Get, GetMany, Has, TTL) fail open: a key validation or
// tier failure is logged and surfaces as a miss, never an error. Write
// paths (Set, Delete, SetMany, tag invalidation) fail closed and return
// the underlying error.
//
// # Metrics
//
// The engine exports Prometheus metrics under the tiercache_ prefix:
// hits by tier, misses, operation errors, fail-open degradations,
// evictions, coalesced loads, and background revalidations. See
// pkg/metrics for the full reference.
package cache
