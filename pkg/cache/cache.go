package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fehlmann/tiercache/pkg/entry"
	"github.com/fehlmann/tiercache/pkg/keys"
	"github.com/fehlmann/tiercache/pkg/local"
	"github.com/fehlmann/tiercache/pkg/remote"
	"github.com/fehlmann/tiercache/pkg/stampede"
	"github.com/fehlmann/tiercache/pkg/swr"
	"github.com/fehlmann/tiercache/pkg/tags"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Loader produces the value for a key on a cache miss.
type Loader func(ctx context.Context) (any, error)

// Item is one entry in a SetMany batch.
type Item struct {
	Key   string
	Value any
	TTL   time.Duration
	Tags  []string
}

// Stats aggregates counters from both tiers and the stampede coordinator.
type Stats struct {
	L1                local.Stats  `json:"l1"`
	L2                remote.Stats `json:"l2"`
	StampedePrevented uint64       `json:"stampede_prevented"`
}

// Cache is the tiered cache orchestrator: a fast in-process tier backed
// by Redis, with request coalescing, optional stale-while-revalidate,
// and tag-based bulk invalidation.
//
// Read paths fail open: key validation or tier errors are logged and
// surface as a miss, never as an error. Write paths fail closed.
type Cache struct {
	codec       *keys.Codec
	local       *local.Store
	remote      *remote.Store
	tagIndex    *tags.Index
	coordinator *stampede.Coordinator
	swrMgr      *swr.Manager
	config      Config
	logger      zerolog.Logger
}

// New creates a cache from the given configuration. rdb may be nil only
// when the remote tier is disabled.
func New(rdb *redis.Client, cfg Config, logger zerolog.Logger) (*Cache, error) {
	if !cfg.L1.Enabled && !cfg.L2.Enabled {
		return nil, errors.New("at least one cache tier must be enabled")
	}
	if cfg.L2.Enabled && rdb == nil {
		return nil, errors.New("redis client required when the remote tier is enabled")
	}

	c := &Cache{
		codec:  keys.NewCodec(cfg.Keys),
		config: cfg,
		logger: logger.With().Str("component", "cache").Logger(),
	}

	if cfg.L1.Enabled {
		store, err := local.NewStore(local.Config{
			MaxEntries: cfg.L1.MaxEntries,
			Strategy:   cfg.L1.Strategy,
		})
		if err != nil {
			return nil, err
		}
		c.local = store
	}

	if cfg.L2.Enabled {
		c.remote = remote.NewStore(rdb, remote.Config{KeyPrefix: cfg.L2.KeyPrefix})
		if cfg.Tags.Enabled {
			c.tagIndex = tags.NewIndex(rdb, c.remote, cfg.L2.KeyPrefix, logger)
		}
		if cfg.SWR.Enabled {
			c.swrMgr = swr.NewManager(c.remote, swr.Config{
				DefaultStaleTime: cfg.SWR.DefaultStaleTime,
				DebounceWindow:   cfg.SWR.DebounceWindow,
			}, logger)
		}
	}

	if cfg.Stampede.Enabled {
		c.coordinator = stampede.NewCoordinator()
	}

	return c, nil
}

// resolveKey normalizes raw and enriches it with provider context and
// per-call overrides (override wins on name conflicts).
func (c *Cache) resolveKey(ctx context.Context, raw string, overrides map[string]string) (string, error) {
	normalized, err := c.codec.Normalize(raw)
	if err != nil {
		return "", err
	}

	var enrichment map[string]string
	if c.config.ContextProvider != nil && len(c.config.ContextKeys) > 0 {
		provided := c.config.ContextProvider(ctx)
		enrichment = make(map[string]string, len(c.config.ContextKeys))
		for _, name := range c.config.ContextKeys {
			if v, ok := provided[name]; ok {
				enrichment[name] = v
			}
		}
	}
	if len(overrides) > 0 {
		if enrichment == nil {
			enrichment = make(map[string]string, len(overrides))
		}
		for name, v := range overrides {
			enrichment[name] = v
		}
	}

	return c.codec.Enrich(normalized, enrichment), nil
}

// Get retrieves the value for key into dest. Returns false on a miss.
// Fail-open: key validation and tier errors are logged and reported as a
// miss, never returned.
func (c *Cache) Get(ctx context.Context, key string, dest any, opts ...Option) (bool, error) {
	o := c.resolveOptions(opts)
	k, err := c.resolveKey(ctx, key, o.context)
	if err != nil {
		c.logger.Warn().Err(err).Msg("invalid key on read, treating as miss")
		cacheFailOpenTotal.WithLabelValues("key").Inc()
		cacheMissesTotal.Inc()
		return false, nil
	}
	return c.lookup(ctx, k, dest)
}

// lookup checks the local tier, then the remote tier, repopulating the
// local tier on a remote hit.
func (c *Cache) lookup(ctx context.Context, k string, dest any) (bool, error) {
	if c.local != nil {
		if e := c.local.Get(k); e != nil {
			if err := json.Unmarshal(e.Value, dest); err != nil {
				c.logger.Warn().Err(err).Str("key", k).Msg("undecodable local entry, treating as miss")
				cacheFailOpenTotal.WithLabelValues("decode").Inc()
				c.local.Delete(k)
			} else {
				cacheHitsTotal.WithLabelValues("local").Inc()
				return true, nil
			}
		}
	}

	if c.remote != nil {
		e, err := c.remote.Get(ctx, k)
		switch {
		case err == remote.ErrCacheMiss:
			// fall through to miss
		case err != nil:
			c.logger.Warn().Err(err).Str("key", k).Msg("remote tier read failed, treating as miss")
			cacheFailOpenTotal.WithLabelValues("tier").Inc()
		default:
			c.repopulateLocal(k, e)
			if err := json.Unmarshal(e.Value, dest); err != nil {
				c.logger.Warn().Err(err).Str("key", k).Msg("undecodable remote entry, treating as miss")
				cacheFailOpenTotal.WithLabelValues("decode").Inc()
				break
			}
			cacheHitsTotal.WithLabelValues("remote").Inc()
			return true, nil
		}
	}

	cacheMissesTotal.Inc()
	return false, nil
}

// repopulateLocal mirrors a remote hit into the local tier, with the
// local lifetime capped at L1.MaxTTL.
func (c *Cache) repopulateLocal(k string, e *entry.Entry) {
	if c.local == nil {
		return
	}
	ttl := c.localTTL(e.TTL())
	if ttl <= 0 {
		return
	}
	c.local.Set(k, entry.New(e.Value, ttl, e.Tags))
}

func (c *Cache) localTTL(ttl time.Duration) time.Duration {
	if c.config.L1.MaxTTL > 0 && ttl > c.config.L1.MaxTTL {
		return c.config.L1.MaxTTL
	}
	return ttl
}

// Set stores value under key. Fail-closed: key validation, serialization
// and tier errors are returned.
func (c *Cache) Set(ctx context.Context, key string, value any, opts ...Option) error {
	o := c.resolveOptions(opts)
	k, err := c.resolveKey(ctx, key, o.context)
	if err != nil {
		cacheErrorsTotal.WithLabelValues("set").Inc()
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		cacheErrorsTotal.WithLabelValues("set").Inc()
		return &SerializationError{Err: err}
	}

	return c.writeThrough(ctx, k, data, o)
}

// writeThrough writes a resolved key to the tiers selected by the
// strategy and registers tags against the remote-qualified key.
func (c *Cache) writeThrough(ctx context.Context, k string, data json.RawMessage, o callOptions) error {
	if c.remote != nil && o.strategy != StrategyLocalOnly {
		if err := c.remote.Set(ctx, k, entry.New(data, o.ttl, o.tags)); err != nil {
			cacheErrorsTotal.WithLabelValues("set").Inc()
			return &OpError{Op: "set", Tier: "remote", Err: err}
		}
		if c.tagIndex != nil && len(o.tags) > 0 {
			if err := c.tagIndex.AddKeyToTags(ctx, k, o.tags); err != nil {
				cacheErrorsTotal.WithLabelValues("tag").Inc()
				return &OpError{Op: "tag", Tier: "remote", Err: err}
			}
		}
	}

	if c.local != nil && o.strategy != StrategyRemoteOnly {
		c.local.Set(k, entry.New(data, c.localTTL(o.ttl), o.tags))
	}

	return nil
}

// GetOrSet returns the cached value for key, or runs loader on a miss
// and writes the result through both tiers. Concurrent misses for the
// same key are coalesced into a single loader execution. The loader's
// error, if any, is returned unmodified.
func (c *Cache) GetOrSet(ctx context.Context, key string, dest any, loader Loader, opts ...Option) error {
	o := c.resolveOptions(opts)
	k, err := c.resolveKey(ctx, key, o.context)
	if err != nil {
		// The cache cannot serve or store this key, but the caller still
		// needs a value: bypass the cache entirely.
		c.logger.Warn().Err(err).Msg("invalid key, loading without cache")
		cacheFailOpenTotal.WithLabelValues("key").Inc()
		value, err := loader(ctx)
		if err != nil {
			return err
		}
		return assign(value, dest)
	}

	if o.swr && c.swrMgr != nil {
		return c.getOrSetSwr(ctx, k, dest, loader, o)
	}

	if found, err := c.lookup(ctx, k, dest); err == nil && found {
		return nil
	}

	var value any
	if c.coordinator != nil {
		var cached bool
		value, cached, err = c.coordinator.Protect(ctx, k, stampede.Loader(loader))
		if err != nil {
			return err
		}
		if cached {
			// Attached to another caller's load; that caller owns the
			// write-through.
			return assign(value, dest)
		}
	} else {
		value, err = loader(ctx)
		if err != nil {
			return err
		}
	}

	if o.unless != nil && o.unless(value) {
		return assign(value, dest)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return &SerializationError{Err: err}
	}
	if err := c.writeThrough(ctx, k, data, o); err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// getOrSetSwr implements the stale-while-revalidate branch of GetOrSet.
func (c *Cache) getOrSetSwr(ctx context.Context, k string, dest any, loader Loader, o callOptions) error {
	if c.local != nil {
		if e := c.local.Get(k); e != nil {
			if json.Unmarshal(e.Value, dest) == nil {
				cacheHitsTotal.WithLabelValues("local").Inc()
				return nil
			}
			c.local.Delete(k)
		}
	}

	se, err := c.remote.GetSwr(ctx, k)
	if err != nil && err != remote.ErrCacheMiss {
		c.logger.Warn().Err(err).Str("key", k).Msg("remote tier swr read failed, treating as miss")
		cacheFailOpenTotal.WithLabelValues("tier").Inc()
		se = nil
	}

	switch c.swrMgr.Classify(se) {
	case swr.Fresh:
		cacheHitsTotal.WithLabelValues("remote").Inc()
		c.mirrorSwrLocal(k, se)
		return json.Unmarshal(se.Value, dest)

	case swr.Stale:
		// Serve the stale value immediately; refresh in the background.
		if c.swrMgr.ShouldRevalidate(ctx, k) {
			c.swrMgr.ScheduleRevalidation(k, o.staleTime, o.ttl, swrLoader(loader),
				func(fresh *entry.SwrEntry) { c.mirrorSwrLocal(k, fresh) },
				nil,
			)
		}
		cacheHitsTotal.WithLabelValues("remote").Inc()
		return json.Unmarshal(se.Value, dest)

	default: // expired or absent
		cacheMissesTotal.Inc()
		load := func(ctx context.Context) (any, error) {
			value, err := loader(ctx)
			if err != nil {
				return nil, err
			}
			data, err := json.Marshal(value)
			if err != nil {
				return nil, &SerializationError{Err: err}
			}
			if o.unless == nil || !o.unless(value) {
				fresh := entry.NewSwr(data, o.staleTime, o.ttl)
				if err := c.remote.SetSwr(ctx, k, fresh); err != nil {
					return nil, &OpError{Op: "set_swr", Tier: "remote", Err: err}
				}
				c.mirrorSwrLocal(k, fresh)
			}
			return json.RawMessage(data), nil
		}

		var raw any
		if c.coordinator != nil {
			raw, _, err = c.coordinator.Protect(ctx, k, load)
		} else {
			raw, err = load(ctx)
		}
		if err != nil {
			return err
		}
		return json.Unmarshal(raw.(json.RawMessage), dest)
	}
}

// mirrorSwrLocal mirrors an SWR entry's value into the local tier for as
// long as the entry stays fresh.
func (c *Cache) mirrorSwrLocal(k string, se *entry.SwrEntry) {
	if c.local == nil {
		return
	}
	ttl := c.localTTL(time.Until(se.StaleAt))
	if ttl <= 0 {
		return
	}
	c.local.Set(k, entry.New(se.Value, ttl, nil))
}

// swrLoader adapts a Loader to the SWR manager's raw-JSON loader.
func swrLoader(loader Loader) swr.Loader {
	return func(ctx context.Context) (json.RawMessage, error) {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(value)
		if err != nil {
			return nil, &SerializationError{Err: err}
		}
		return data, nil
	}
}

// Delete removes key from both tiers. Fail-closed. Returns true if the
// key existed in either tier.
func (c *Cache) Delete(ctx context.Context, key string, opts ...Option) (bool, error) {
	o := c.resolveOptions(opts)
	k, err := c.resolveKey(ctx, key, o.context)
	if err != nil {
		cacheErrorsTotal.WithLabelValues("delete").Inc()
		return false, err
	}

	removedLocal := c.local != nil && c.local.Delete(k)

	removedRemote := 0
	if c.remote != nil {
		removedRemote, err = c.remote.Delete(ctx, k)
		if err != nil {
			cacheErrorsTotal.WithLabelValues("delete").Inc()
			return false, &OpError{Op: "delete", Tier: "remote", Err: err}
		}
	}

	return removedLocal || removedRemote > 0, nil
}

// DeleteMany removes the given keys from both tiers and returns the
// number removed. Fail-closed on the first invalid key.
func (c *Cache) DeleteMany(ctx context.Context, rawKeys []string, opts ...Option) (int, error) {
	o := c.resolveOptions(opts)

	resolved := make([]string, 0, len(rawKeys))
	for _, raw := range rawKeys {
		k, err := c.resolveKey(ctx, raw, o.context)
		if err != nil {
			cacheErrorsTotal.WithLabelValues("delete_many").Inc()
			return 0, err
		}
		resolved = append(resolved, k)
	}

	localRemoved := 0
	if c.local != nil {
		for _, k := range resolved {
			if c.local.Delete(k) {
				localRemoved++
			}
		}
	}

	if c.remote != nil {
		removed, err := c.remote.Delete(ctx, resolved...)
		if err != nil {
			cacheErrorsTotal.WithLabelValues("delete_many").Inc()
			return removed, &OpError{Op: "delete_many", Tier: "remote", Err: err}
		}
		return removed, nil
	}
	return localRemoved, nil
}

// InvalidateTag removes every key carrying tag from both tiers and
// deletes the tag's index entry, returning the number of member keys.
func (c *Cache) InvalidateTag(ctx context.Context, tag string) (int, error) {
	if c.tagIndex == nil {
		return 0, nil
	}

	// Sweep the local tier by key first; the index then performs the
	// authoritative remote deletion.
	members, err := c.tagIndex.KeysByTag(ctx, tag)
	if err != nil {
		cacheErrorsTotal.WithLabelValues("invalidate_tag").Inc()
		return 0, &OpError{Op: "invalidate_tag", Tier: "remote", Err: err}
	}
	if c.local != nil {
		for _, m := range members {
			c.local.Delete(m)
		}
	}

	count, err := c.tagIndex.InvalidateTag(ctx, tag)
	if err != nil {
		cacheErrorsTotal.WithLabelValues("invalidate_tag").Inc()
		return count, &OpError{Op: "invalidate_tag", Tier: "remote", Err: err}
	}
	return count, nil
}

// InvalidateTags invalidates several tags and returns the total number
// of member keys removed.
func (c *Cache) InvalidateTags(ctx context.Context, tagList []string) (int, error) {
	total := 0
	for _, tag := range tagList {
		count, err := c.InvalidateTag(ctx, tag)
		total += count
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// KeysByTag returns the cache keys currently carrying tag.
func (c *Cache) KeysByTag(ctx context.Context, tag string) ([]string, error) {
	if c.tagIndex == nil {
		return nil, nil
	}
	keys, err := c.tagIndex.KeysByTag(ctx, tag)
	if err != nil {
		return nil, &OpError{Op: "keys_by_tag", Tier: "remote", Err: err}
	}
	return keys, nil
}

// GetMany retrieves raw values for the given keys, one slot per key.
// Fail-open per element: an invalid key or miss yields a nil slot
// without aborting the batch.
func (c *Cache) GetMany(ctx context.Context, rawKeys []string, opts ...Option) ([]json.RawMessage, error) {
	o := c.resolveOptions(opts)

	results := make([]json.RawMessage, len(rawKeys))
	pending := make([]int, 0, len(rawKeys))
	pendingKeys := make([]string, 0, len(rawKeys))

	for i, raw := range rawKeys {
		k, err := c.resolveKey(ctx, raw, o.context)
		if err != nil {
			c.logger.Warn().Err(err).Msg("invalid key in batch read, yielding null slot")
			cacheFailOpenTotal.WithLabelValues("key").Inc()
			continue
		}
		if c.local != nil {
			if e := c.local.Get(k); e != nil {
				cacheHitsTotal.WithLabelValues("local").Inc()
				results[i] = e.Value
				continue
			}
		}
		pending = append(pending, i)
		pendingKeys = append(pendingKeys, k)
	}

	if c.remote != nil && len(pending) > 0 {
		entries, err := c.remote.GetMany(ctx, pendingKeys)
		if err != nil {
			c.logger.Warn().Err(err).Msg("remote tier batch read failed, yielding null slots")
			cacheFailOpenTotal.WithLabelValues("tier").Inc()
			return results, nil
		}
		for j, e := range entries {
			if e == nil {
				cacheMissesTotal.Inc()
				continue
			}
			cacheHitsTotal.WithLabelValues("remote").Inc()
			results[pending[j]] = e.Value
			c.repopulateLocal(pendingKeys[j], e)
		}
	}

	return results, nil
}

// SetMany stores a batch of entries. Fail-closed on the first invalid
// key or unserializable value.
func (c *Cache) SetMany(ctx context.Context, items []Item, opts ...Option) error {
	o := c.resolveOptions(opts)

	remoteEntries := make(map[string]*entry.Entry, len(items))
	for _, item := range items {
		k, err := c.resolveKey(ctx, item.Key, o.context)
		if err != nil {
			cacheErrorsTotal.WithLabelValues("set_many").Inc()
			return err
		}

		data, err := json.Marshal(item.Value)
		if err != nil {
			cacheErrorsTotal.WithLabelValues("set_many").Inc()
			return &SerializationError{Err: err}
		}

		ttl := item.TTL
		if ttl <= 0 {
			ttl = o.ttl
		}
		if c.config.L2.MaxTTL > 0 && ttl > c.config.L2.MaxTTL {
			ttl = c.config.L2.MaxTTL
		}

		if c.remote != nil && o.strategy != StrategyLocalOnly {
			remoteEntries[k] = entry.New(data, ttl, item.Tags)
			if c.tagIndex != nil && len(item.Tags) > 0 {
				if err := c.tagIndex.AddKeyToTags(ctx, k, item.Tags); err != nil {
					cacheErrorsTotal.WithLabelValues("set_many").Inc()
					return &OpError{Op: "tag", Tier: "remote", Err: err}
				}
			}
		}
		if c.local != nil && o.strategy != StrategyRemoteOnly {
			c.local.Set(k, entry.New(data, c.localTTL(ttl), item.Tags))
		}
	}

	if len(remoteEntries) > 0 {
		if err := c.remote.SetMany(ctx, remoteEntries); err != nil {
			cacheErrorsTotal.WithLabelValues("set_many").Inc()
			return &OpError{Op: "set_many", Tier: "remote", Err: err}
		}
	}
	return nil
}

// TTL returns the remaining lifetime of key in seconds: -1 for a key
// with no TTL, -2 for an absent key. Fail-open: errors are logged and
// reported as absent.
func (c *Cache) TTL(ctx context.Context, key string, opts ...Option) int64 {
	o := c.resolveOptions(opts)
	k, err := c.resolveKey(ctx, key, o.context)
	if err != nil {
		c.logger.Warn().Err(err).Msg("invalid key on ttl, treating as absent")
		cacheFailOpenTotal.WithLabelValues("key").Inc()
		return -2
	}

	if c.remote != nil {
		ttl, err := c.remote.TTL(ctx, k)
		if err != nil {
			c.logger.Warn().Err(err).Str("key", k).Msg("remote ttl failed, treating as absent")
			cacheFailOpenTotal.WithLabelValues("tier").Inc()
			return -2
		}
		if ttl != -2 {
			return ttl
		}
	}

	if c.local != nil {
		if e := c.local.Get(k); e != nil {
			return int64(e.TTL() / time.Second)
		}
	}
	return -2
}

// Has reports whether key is present in either tier. Fail-open.
func (c *Cache) Has(ctx context.Context, key string, opts ...Option) bool {
	o := c.resolveOptions(opts)
	k, err := c.resolveKey(ctx, key, o.context)
	if err != nil {
		cacheFailOpenTotal.WithLabelValues("key").Inc()
		return false
	}

	if c.local != nil && c.local.Has(k) {
		return true
	}
	if c.remote != nil {
		ok, err := c.remote.Has(ctx, k)
		if err != nil {
			c.logger.Warn().Err(err).Str("key", k).Msg("remote has failed, treating as absent")
			cacheFailOpenTotal.WithLabelValues("tier").Inc()
			return false
		}
		return ok
	}
	return false
}

// InvalidateByPattern scans the remote tier for keys matching pattern
// and removes them from both tiers, returning the number of matches.
// O(matched keys) remote round trips: a maintenance operation, not a hot
// path.
func (c *Cache) InvalidateByPattern(ctx context.Context, pattern string) (int, error) {
	if c.remote == nil {
		return 0, nil
	}

	matches, err := c.remote.Scan(ctx, pattern)
	if err != nil {
		cacheErrorsTotal.WithLabelValues("invalidate_pattern").Inc()
		return 0, &OpError{Op: "scan", Tier: "remote", Err: err}
	}
	if len(matches) == 0 {
		return 0, nil
	}

	if c.local != nil {
		for _, k := range matches {
			c.local.Delete(k)
		}
	}
	if _, err := c.remote.Delete(ctx, matches...); err != nil {
		cacheErrorsTotal.WithLabelValues("invalidate_pattern").Inc()
		return 0, &OpError{Op: "delete", Tier: "remote", Err: err}
	}
	return len(matches), nil
}

// Clear wipes both tiers and the tag index.
func (c *Cache) Clear(ctx context.Context) error {
	if c.local != nil {
		c.local.Clear()
	}
	if c.remote != nil {
		keys, err := c.remote.Scan(ctx, "*")
		if err != nil {
			return &OpError{Op: "scan", Tier: "remote", Err: err}
		}
		if len(keys) > 0 {
			if _, err := c.remote.Delete(ctx, keys...); err != nil {
				return &OpError{Op: "clear", Tier: "remote", Err: err}
			}
		}
	}
	if c.tagIndex != nil {
		if err := c.tagIndex.ClearAll(ctx); err != nil {
			return &OpError{Op: "clear", Tier: "remote", Err: err}
		}
	}
	return nil
}

// Stats returns counters from both tiers and the stampede coordinator.
func (c *Cache) Stats() Stats {
	s := Stats{}
	if c.local != nil {
		s.L1 = c.local.Stats()
	}
	if c.remote != nil {
		s.L2 = c.remote.Stats()
	}
	if c.coordinator != nil {
		s.StampedePrevented = c.coordinator.PreventedCount()
	}
	return s
}

// assign copies value into dest via a JSON round trip, so GetOrSet
// callers observe the same shape on a coalesced result as on a cached
// read.
func assign(value any, dest any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return &SerializationError{Err: err}
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return &SerializationError{Err: err}
	}
	return nil
}
