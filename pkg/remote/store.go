// Package remote provides the networked cache tier backed by Redis.
//
// All keys are namespaced with a configurable prefix so several caches can
// share one Redis instance. Batch operations never assume atomic multi-key
// primitives are available: a clustered backend may reject multi-key
// commands that span shards, so every batch path falls back to per-key
// operations on failure.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fehlmann/tiercache/pkg/entry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested key was not found in the remote tier.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the stored entry could not be decoded.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Prometheus metrics for the remote tier.
var (
	remoteErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tiercache_remote_errors_total",
		Help: "Total number of remote tier operation errors",
	}, []string{"operation"})

	remoteBatchFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tiercache_remote_batch_fallbacks_total",
		Help: "Total number of batch operations that fell back to per-key commands",
	}, []string{"operation"})
)

// swrNamespace separates SWR-shaped entries from plain entries so the two
// wire formats never collide under one key.
const swrNamespace = "swr:"

// markerNamespace holds short-lived revalidation debounce markers.
const markerNamespace = "marker:"

// tagNamespace holds the tag index sets (written by pkg/tags, excluded
// from key scans like the other sub-namespaces).
const tagNamespace = "tag:"

// Config holds remote tier configuration.
type Config struct {
	// KeyPrefix namespaces every key written by this store.
	KeyPrefix string

	// ScanCount is the COUNT hint passed to Redis SCAN.
	ScanCount int64
}

// DefaultConfig returns the default remote tier configuration.
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "tiercache:",
		ScanCount: 100,
	}
}

// Stats holds remote tier counters.
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Errors uint64 `json:"errors"`
}

// Store adapts a Redis client into the remote cache tier.
type Store struct {
	rdb    *redis.Client
	config Config

	hits   atomic.Uint64
	misses atomic.Uint64
	errs   atomic.Uint64
}

// NewStore creates a remote store over the given Redis client.
func NewStore(rdb *redis.Client, cfg Config) *Store {
	if rdb == nil {
		panic("redis client cannot be nil")
	}
	if cfg.ScanCount <= 0 {
		cfg.ScanCount = DefaultConfig().ScanCount
	}
	return &Store{rdb: rdb, config: cfg}
}

// Qualify returns the fully namespaced form of key as stored in Redis.
func (s *Store) Qualify(key string) string {
	return s.config.KeyPrefix + key
}

// Strip removes the namespace prefix from a Redis key.
func (s *Store) Strip(key string) string {
	return strings.TrimPrefix(key, s.config.KeyPrefix)
}

// Get retrieves the entry stored under key.
// Returns ErrCacheMiss if the key is absent or the entry has expired.
func (s *Store) Get(ctx context.Context, key string) (*entry.Entry, error) {
	data, err := s.rdb.Get(ctx, s.Qualify(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			s.misses.Add(1)
			return nil, ErrCacheMiss
		}
		s.countError("get")
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var e entry.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		s.countError("get")
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	// Logical expiry can precede the physical Redis TTL when the entry
	// was written with a longer physical lifetime.
	if e.IsExpired() {
		_, _ = s.Delete(ctx, key)
		s.misses.Add(1)
		return nil, ErrCacheMiss
	}

	s.hits.Add(1)
	return &e, nil
}

// Set stores an entry under key with a physical TTL matching the entry's
// remaining lifetime. Already-expired entries are silently skipped.
func (s *Store) Set(ctx context.Context, key string, e *entry.Entry) error {
	if e == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := e.TTL()
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(e)
	if err != nil {
		s.countError("set")
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := s.rdb.Set(ctx, s.Qualify(key), data, ttl).Err(); err != nil {
		s.countError("set")
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes the given keys and their SWR variants from the remote
// tier. Returns the number of plain keys that existed; SWR variants are
// swept alongside but never counted, so a key holding both forms still
// counts once. Falls back to per-key deletes when the multi-key DEL is
// rejected.
func (s *Store) Delete(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	plain := make([]string, len(keys))
	swrVariants := make([]string, len(keys))
	for i, key := range keys {
		plain[i] = s.Qualify(key)
		swrVariants[i] = s.Qualify(swrNamespace + key)
	}

	count, err := s.deleteQualified(ctx, plain)
	if err != nil {
		return count, err
	}
	if _, err := s.deleteQualified(ctx, swrVariants); err != nil {
		return count, err
	}
	return count, nil
}

// deleteQualified deletes already-qualified keys and returns how many
// existed. Cluster backends may reject DELs spanning slots, so a failed
// multi-key DEL falls back to per-key commands.
func (s *Store) deleteQualified(ctx context.Context, qualified []string) (int, error) {
	removed, err := s.rdb.Del(ctx, qualified...).Result()
	if err == nil {
		return int(removed), nil
	}

	remoteBatchFallbacksTotal.WithLabelValues("delete").Inc()
	count := 0
	var lastErr error
	for _, q := range qualified {
		n, err := s.rdb.Del(ctx, q).Result()
		if err != nil {
			s.countError("delete")
			lastErr = err
			continue
		}
		count += int(n)
	}
	if lastErr != nil {
		return count, fmt.Errorf("redis del: %w", lastErr)
	}
	return count, nil
}

// Has reports whether key exists in the remote tier.
func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.Qualify(key)).Result()
	if err != nil {
		s.countError("has")
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// TTL returns the remaining lifetime of key in seconds.
// Returns -1 for a key with no TTL and -2 for an absent key, matching
// Redis TTL semantics.
func (s *Store) TTL(ctx context.Context, key string) (int64, error) {
	d, err := s.rdb.TTL(ctx, s.Qualify(key)).Result()
	if err != nil {
		s.countError("ttl")
		return 0, fmt.Errorf("redis ttl: %w", err)
	}
	// go-redis encodes the Redis -1/-2 replies as raw negative durations.
	if d < 0 {
		return int64(d), nil
	}
	return int64(d / time.Second), nil
}

// Scan returns all keys in this store's namespace matching pattern, with
// the namespace prefix stripped. The native cursor is drained to
// completion before returning; callers never see a partial result.
// Intended for maintenance paths, not hot paths.
func (s *Store) Scan(ctx context.Context, pattern string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	match := s.Qualify(pattern)

	for {
		batch, next, err := s.rdb.Scan(ctx, cursor, match, s.config.ScanCount).Result()
		if err != nil {
			s.countError("scan")
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		for _, k := range batch {
			stripped := s.Strip(k)
			// SWR variants, debounce markers, and tag index sets carry
			// their own namespaces; only logical keys are reported.
			if strings.HasPrefix(stripped, swrNamespace) ||
				strings.HasPrefix(stripped, markerNamespace) ||
				strings.HasPrefix(stripped, tagNamespace) {
				continue
			}
			keys = append(keys, stripped)
		}
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// GetMany retrieves entries for the given keys. The result has one slot
// per key; absent, expired, or undecodable entries yield a nil slot
// without failing the batch.
func (s *Store) GetMany(ctx context.Context, keys []string) ([]*entry.Entry, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	qualified := make([]string, len(keys))
	for i, key := range keys {
		qualified[i] = s.Qualify(key)
	}

	values, err := s.rdb.MGet(ctx, qualified...).Result()
	if err != nil {
		// Fall back to per-key gets (cluster may reject cross-slot MGET).
		remoteBatchFallbacksTotal.WithLabelValues("get_many").Inc()
		return s.getManyFallback(ctx, keys), nil
	}

	entries := make([]*entry.Entry, len(keys))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			s.misses.Add(1)
			continue
		}
		var e entry.Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil || e.IsExpired() {
			s.misses.Add(1)
			continue
		}
		s.hits.Add(1)
		entries[i] = &e
	}
	return entries, nil
}

func (s *Store) getManyFallback(ctx context.Context, keys []string) []*entry.Entry {
	entries := make([]*entry.Entry, len(keys))
	for i, key := range keys {
		e, err := s.Get(ctx, key)
		if err != nil {
			continue
		}
		entries[i] = e
	}
	return entries
}

// SetMany stores the given entries in one pipelined round trip, falling
// back to per-key sets if the pipeline fails.
func (s *Store) SetMany(ctx context.Context, entries map[string]*entry.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	pipe := s.rdb.Pipeline()
	skipped := 0
	for key, e := range entries {
		ttl := e.TTL()
		if ttl <= 0 {
			skipped++
			continue
		}
		data, err := json.Marshal(e)
		if err != nil {
			s.countError("set_many")
			return fmt.Errorf("marshal cache entry %q: %w", key, err)
		}
		pipe.Set(ctx, s.Qualify(key), data, ttl)
	}
	if skipped == len(entries) {
		return nil
	}

	if _, err := pipe.Exec(ctx); err != nil {
		remoteBatchFallbacksTotal.WithLabelValues("set_many").Inc()
		var lastErr error
		for key, e := range entries {
			if err := s.Set(ctx, key, e); err != nil {
				lastErr = err
			}
		}
		if lastErr != nil {
			return fmt.Errorf("redis set many: %w", lastErr)
		}
	}
	return nil
}

// GetSwr retrieves the SWR entry stored under key.
// Returns ErrCacheMiss if absent or past its expires point.
func (s *Store) GetSwr(ctx context.Context, key string) (*entry.SwrEntry, error) {
	data, err := s.rdb.Get(ctx, s.Qualify(swrNamespace+key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			s.misses.Add(1)
			return nil, ErrCacheMiss
		}
		s.countError("get_swr")
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var e entry.SwrEntry
	if err := json.Unmarshal(data, &e); err != nil {
		s.countError("get_swr")
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if e.IsExpired() {
		s.misses.Add(1)
		return nil, ErrCacheMiss
	}

	s.hits.Add(1)
	return &e, nil
}

// SetSwr stores an SWR entry with a physical TTL of ExpiresAt minus now.
// Already-expired entries are silently skipped so Redis never receives a
// zero or negative TTL.
func (s *Store) SetSwr(ctx context.Context, key string, e *entry.SwrEntry) error {
	if e == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := time.Until(e.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(e)
	if err != nil {
		s.countError("set_swr")
		return fmt.Errorf("marshal swr entry: %w", err)
	}

	if err := s.rdb.Set(ctx, s.Qualify(swrNamespace+key), data, ttl).Err(); err != nil {
		s.countError("set_swr")
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// TryAcquireMarker atomically sets a short-lived marker for key if none
// exists, returning true when this caller acquired it. Used to debounce
// background revalidation across processes.
func (s *Store) TryAcquireMarker(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.Qualify(markerNamespace+key), "1", ttl).Result()
	if err != nil {
		s.countError("marker")
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Stats returns a snapshot of the store's counters.
func (s *Store) Stats() Stats {
	return Stats{
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
		Errors: s.errs.Load(),
	}
}

func (s *Store) countError(op string) {
	s.errs.Add(1)
	remoteErrorsTotal.WithLabelValues(op).Inc()
}
