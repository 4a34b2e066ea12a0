package cache

import "context"

// Wrap turns a loader function into a cache-aware one: the returned
// function first consults the cache under the key produced by keyFn and
// only calls load on a miss, writing the result through. This is the
// explicit replacement for annotation-based call interception: call
// sites receive the wrapped function by plain dependency injection.
//
//	getUser := cache.Wrap(c,
//		func(id int64) string { return fmt.Sprintf("user:%d", id) },
//		repo.FetchUser,
//		cache.WithTTL(time.Minute), cache.WithTags("users"),
//	)
//	user, err := getUser(ctx, 42)
func Wrap[A any, T any](c *Cache, keyFn func(arg A) string, load func(ctx context.Context, arg A) (T, error), opts ...Option) func(ctx context.Context, arg A) (T, error) {
	return func(ctx context.Context, arg A) (T, error) {
		return GetOrSet(ctx, c, keyFn(arg), func(ctx context.Context) (T, error) {
			return load(ctx, arg)
		}, opts...)
	}
}
