// Package tags maintains a tag-to-keys index in Redis for bulk cache
// invalidation. The index lives only in the remote tier: the local tier
// has no tag awareness and is swept by key by the orchestrator.
package tags

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for tag invalidation.
var (
	tagInvalidationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tiercache_tag_invalidations_total",
		Help: "Total number of tag invalidation operations",
	})

	tagInvalidatedKeysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tiercache_tag_invalidated_keys_total",
		Help: "Total number of cache keys removed via tag invalidation",
	})
)

// Deleter removes cache keys from the remote tier.
// Satisfied by the remote store; keys are logical (unqualified) keys.
type Deleter interface {
	Delete(ctx context.Context, keys ...string) (int, error)
}

// Index maps tags to sets of member cache keys, backed by Redis sets.
// All operations are idempotent: repeated adds and deletes converge to
// the same state, which is the only consistency mechanism across
// processes (no distributed locks).
type Index struct {
	rdb    *redis.Client
	remote Deleter
	prefix string
	logger zerolog.Logger
}

// NewIndex creates a tag index. The prefix namespaces the tag sets and
// should match the remote tier's key prefix.
func NewIndex(rdb *redis.Client, remote Deleter, prefix string, logger zerolog.Logger) *Index {
	if rdb == nil {
		panic("redis client cannot be nil")
	}
	return &Index{
		rdb:    rdb,
		remote: remote,
		prefix: prefix,
		logger: logger.With().Str("component", "tags").Logger(),
	}
}

func (i *Index) tagKey(tag string) string {
	return i.prefix + "tag:" + tag
}

// AddKeyToTags idempotently adds key to each tag's member set.
func (i *Index) AddKeyToTags(ctx context.Context, key string, tags []string) error {
	if len(tags) == 0 {
		return nil
	}

	pipe := i.rdb.Pipeline()
	for _, tag := range tags {
		pipe.SAdd(ctx, i.tagKey(tag), key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		// Cluster backends may reject cross-slot pipelines.
		var lastErr error
		for _, tag := range tags {
			if err := i.rdb.SAdd(ctx, i.tagKey(tag), key).Err(); err != nil {
				lastErr = err
			}
		}
		if lastErr != nil {
			return fmt.Errorf("tag index add: %w", lastErr)
		}
	}
	return nil
}

// KeysByTag returns the member keys of tag. An unknown tag yields an
// empty slice.
func (i *Index) KeysByTag(ctx context.Context, tag string) ([]string, error) {
	keys, err := i.rdb.SMembers(ctx, i.tagKey(tag)).Result()
	if err != nil {
		return nil, fmt.Errorf("tag index members: %w", err)
	}
	return keys, nil
}

// InvalidateTag deletes every member key of tag from the remote tier and
// removes the tag's own index entry, returning the number of member keys.
// Member deletion is best-effort: individual failures are logged and the
// remaining members and the tag entry are still processed.
func (i *Index) InvalidateTag(ctx context.Context, tag string) (int, error) {
	members, err := i.KeysByTag(ctx, tag)
	if err != nil {
		return 0, err
	}

	tagInvalidationsTotal.Inc()
	if len(members) > 0 {
		if _, err := i.remote.Delete(ctx, members...); err != nil {
			i.logger.Warn().Err(err).Str("tag", tag).Msg("some member keys could not be deleted")
		}
	}

	if err := i.rdb.Del(ctx, i.tagKey(tag)).Err(); err != nil {
		return len(members), fmt.Errorf("tag index delete: %w", err)
	}

	tagInvalidatedKeysTotal.Add(float64(len(members)))
	i.logger.Debug().Str("tag", tag).Int("keys", len(members)).Msg("tag invalidated")
	return len(members), nil
}

// ClearAll wipes the entire index without touching member keys. Only
// meaningful alongside a full cache clear.
func (i *Index) ClearAll(ctx context.Context) error {
	var cursor uint64
	for {
		batch, next, err := i.rdb.Scan(ctx, cursor, i.prefix+"tag:*", 100).Result()
		if err != nil {
			return fmt.Errorf("tag index scan: %w", err)
		}
		for _, k := range batch {
			if err := i.rdb.Del(ctx, k).Err(); err != nil {
				return fmt.Errorf("tag index delete: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
