package cache

import (
	"context"
	"time"

	"github.com/fehlmann/tiercache/pkg/keys"
)

// Strategy selects which tiers a write lands in.
type Strategy string

const (
	// StrategyWriteThrough writes both tiers (default).
	StrategyWriteThrough Strategy = "write-through"

	// StrategyLocalOnly writes only the in-process tier.
	StrategyLocalOnly Strategy = "local-only"

	// StrategyRemoteOnly writes only the Redis tier.
	StrategyRemoteOnly Strategy = "remote-only"
)

// ContextProvider returns named string values (tenant id, locale, ...)
// for key enrichment at call time.
type ContextProvider func(ctx context.Context) map[string]string

// L1Config configures the in-process tier.
type L1Config struct {
	// Enabled turns the local tier on.
	Enabled bool

	// MaxEntries bounds the local tier size. Zero means unbounded.
	MaxEntries int

	// Strategy selects the eviction strategy ("lfu", "fifo").
	Strategy string

	// MaxTTL caps the local lifetime of any entry so a process's local
	// tier cannot stay stale longer than this after a remote change.
	MaxTTL time.Duration
}

// L2Config configures the Redis tier.
type L2Config struct {
	// Enabled turns the remote tier on.
	Enabled bool

	// KeyPrefix namespaces all keys in Redis.
	KeyPrefix string

	// DefaultTTL applies when a write specifies no TTL.
	DefaultTTL time.Duration

	// MaxTTL caps every requested TTL.
	MaxTTL time.Duration
}

// StampedeConfig configures request coalescing.
type StampedeConfig struct {
	Enabled bool
}

// SWRConfig configures stale-while-revalidate.
type SWRConfig struct {
	Enabled bool

	// DefaultStaleTime is how long SWR entries stay fresh.
	DefaultStaleTime time.Duration

	// DebounceWindow bounds background revalidation to one per key per window.
	DebounceWindow time.Duration
}

// TagsConfig configures tag-based invalidation.
type TagsConfig struct {
	Enabled bool
}

// Config holds the full cache configuration.
type Config struct {
	L1       L1Config
	L2       L2Config
	Stampede StampedeConfig
	SWR      SWRConfig
	Tags     TagsConfig
	Keys     keys.Config

	// ContextKeys names the provider values used for key enrichment.
	ContextKeys []string

	// ContextProvider supplies enrichment values at call time. Optional.
	ContextProvider ContextProvider
}

// DefaultConfig returns a configuration with both tiers, stampede
// protection, and tags enabled, and SWR available but opt-in per call.
func DefaultConfig() Config {
	return Config{
		L1: L1Config{
			Enabled:    true,
			MaxEntries: 10000,
			Strategy:   "lfu",
			MaxTTL:     time.Minute,
		},
		L2: L2Config{
			Enabled:    true,
			KeyPrefix:  "tiercache:",
			DefaultTTL: 5 * time.Minute,
			MaxTTL:     time.Hour,
		},
		Stampede: StampedeConfig{Enabled: true},
		SWR: SWRConfig{
			Enabled:          true,
			DefaultStaleTime: 30 * time.Second,
			DebounceWindow:   5 * time.Second,
		},
		Tags: TagsConfig{Enabled: true},
		Keys: keys.DefaultConfig(),
	}
}

// callOptions is the per-call option layer, resolved once per operation.
// Precedence: per-call option > cache config default.
type callOptions struct {
	ttl       time.Duration
	tags      []string
	strategy  Strategy
	swr       bool
	staleTime time.Duration
	unless    func(value any) bool
	context   map[string]string
}

// Option customizes a single cache call.
type Option func(*callOptions)

// WithTTL overrides the default TTL for this call. Clamped to L2.MaxTTL.
func WithTTL(ttl time.Duration) Option {
	return func(o *callOptions) { o.ttl = ttl }
}

// WithTags attaches invalidation tags to the written entry.
func WithTags(tags ...string) Option {
	return func(o *callOptions) { o.tags = tags }
}

// WithStrategy selects the write strategy for this call.
func WithStrategy(s Strategy) Option {
	return func(o *callOptions) { o.strategy = s }
}

// WithSWR enables stale-while-revalidate semantics for this GetOrSet call.
func WithSWR() Option {
	return func(o *callOptions) { o.swr = true }
}

// WithStaleTime overrides the SWR stale time for this call.
func WithStaleTime(d time.Duration) Option {
	return func(o *callOptions) {
		o.swr = true
		o.staleTime = d
	}
}

// WithUnless skips caching the loaded value when the predicate returns
// true. The value is still returned to the caller.
func WithUnless(pred func(value any) bool) Option {
	return func(o *callOptions) { o.unless = pred }
}

// WithCallContext adds per-call key enrichment values. They override
// provider values of the same name.
func WithCallContext(values map[string]string) Option {
	return func(o *callOptions) { o.context = values }
}

func (c *Cache) resolveOptions(opts []Option) callOptions {
	resolved := callOptions{
		ttl:      c.config.L2.DefaultTTL,
		strategy: StrategyWriteThrough,
	}
	for _, opt := range opts {
		opt(&resolved)
	}
	if resolved.ttl <= 0 {
		resolved.ttl = c.config.L2.DefaultTTL
	}
	if c.config.L2.MaxTTL > 0 && resolved.ttl > c.config.L2.MaxTTL {
		resolved.ttl = c.config.L2.MaxTTL
	}
	if resolved.staleTime <= 0 {
		resolved.staleTime = c.config.SWR.DefaultStaleTime
	}
	return resolved
}
