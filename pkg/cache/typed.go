package cache

import (
	"context"
	"encoding/json"
)

// Get retrieves the value for key as a T. Returns the zero value and
// false on a miss.
func Get[T any](ctx context.Context, c *Cache, key string, opts ...Option) (T, bool, error) {
	var value T
	found, err := c.Get(ctx, key, &value, opts...)
	return value, found, err
}

// GetOrSet returns the cached value for key as a T, running loader and
// writing through on a miss.
func GetOrSet[T any](ctx context.Context, c *Cache, key string, loader func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	var value T
	err := c.GetOrSet(ctx, key, &value, func(ctx context.Context) (any, error) {
		return loader(ctx)
	}, opts...)
	return value, err
}

// GetMany retrieves the values for the given keys as *T, one slot per
// key, nil for misses and invalid keys.
func GetMany[T any](ctx context.Context, c *Cache, keys []string, opts ...Option) ([]*T, error) {
	raw, err := c.GetMany(ctx, keys, opts...)
	if err != nil {
		return nil, err
	}

	values := make([]*T, len(raw))
	for i, data := range raw {
		if data == nil {
			continue
		}
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			// Batch reads are fail-open per element.
			cacheFailOpenTotal.WithLabelValues("decode").Inc()
			continue
		}
		values[i] = &v
	}
	return values, nil
}
