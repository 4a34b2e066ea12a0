// Package swr implements stale-while-revalidate: classifying entries as
// fresh, stale, or expired, and scheduling debounced background
// revalidation for stale reads.
package swr

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fehlmann/tiercache/pkg/entry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for SWR revalidation.
var (
	swrRevalidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tiercache_swr_revalidations_total",
		Help: "Total number of background revalidations by result",
	}, []string{"result"}) // "success", "failure"

	swrDebouncedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tiercache_swr_debounced_total",
		Help: "Total number of stale reads that skipped revalidation due to the debounce window",
	})
)

// State classifies an SWR entry's freshness.
type State int

const (
	// Fresh entries are before their stale point and served directly.
	Fresh State = iota

	// Stale entries are past their stale point but still servable; they
	// trigger background revalidation.
	Stale

	// Expired entries are past their expires point and treated as misses.
	Expired
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// RemoteStore is the subset of the remote tier the SWR manager needs.
type RemoteStore interface {
	SetSwr(ctx context.Context, key string, e *entry.SwrEntry) error
	TryAcquireMarker(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Loader produces the raw value for a key during revalidation.
type Loader func(ctx context.Context) (json.RawMessage, error)

// Config holds SWR configuration.
type Config struct {
	// DefaultStaleTime is how long entries stay fresh before turning stale.
	DefaultStaleTime time.Duration

	// DebounceWindow bounds revalidation to at most one per key per window.
	DebounceWindow time.Duration
}

// DefaultConfig returns the default SWR configuration.
func DefaultConfig() Config {
	return Config{
		DefaultStaleTime: 30 * time.Second,
		DebounceWindow:   5 * time.Second,
	}
}

// Manager classifies entry freshness and schedules background revalidation.
type Manager struct {
	remote RemoteStore
	config Config
	logger zerolog.Logger
}

// NewManager creates an SWR manager over the given remote store.
func NewManager(remote RemoteStore, cfg Config, logger zerolog.Logger) *Manager {
	def := DefaultConfig()
	if cfg.DefaultStaleTime <= 0 {
		cfg.DefaultStaleTime = def.DefaultStaleTime
	}
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = def.DebounceWindow
	}
	return &Manager{
		remote: remote,
		config: cfg,
		logger: logger.With().Str("component", "swr").Logger(),
	}
}

// Classify returns the freshness state of e. A nil entry is Expired.
func (m *Manager) Classify(e *entry.SwrEntry) State {
	switch {
	case e == nil || e.IsExpired():
		return Expired
	case e.IsStale():
		return Stale
	default:
		return Fresh
	}
}

// ShouldRevalidate applies the debounce gate for key: it returns true for
// at most one caller per key per debounce window, across all processes
// sharing the remote tier. Errors acquiring the marker are treated as
// "don't revalidate" so a flaky backend cannot amplify load.
func (m *Manager) ShouldRevalidate(ctx context.Context, key string) bool {
	acquired, err := m.remote.TryAcquireMarker(ctx, key, m.config.DebounceWindow)
	if err != nil {
		m.logger.Warn().Err(err).Str("key", key).Msg("revalidation marker unavailable")
		return false
	}
	if !acquired {
		swrDebouncedTotal.Inc()
	}
	return acquired
}

// ScheduleRevalidation fires loader in a detached goroutine and, on
// success, writes a fresh SWR entry with the given stale time and TTL
// before invoking onSuccess with it. The triggering read has already
// returned its stale value, so a failure is reported only through
// onFailure and logging, never to the original caller. The background
// task deliberately runs on a fresh context: it must outlive the request
// that observed staleness.
func (m *Manager) ScheduleRevalidation(key string, staleTime, ttl time.Duration, loader Loader, onSuccess func(*entry.SwrEntry), onFailure func(error)) {
	if staleTime <= 0 {
		staleTime = m.config.DefaultStaleTime
	}

	go func() {
		ctx := context.Background()

		value, err := loader(ctx)
		if err != nil {
			swrRevalidationsTotal.WithLabelValues("failure").Inc()
			m.logger.Warn().Err(err).Str("key", key).Msg("background revalidation failed")
			if onFailure != nil {
				onFailure(err)
			}
			return
		}

		fresh := entry.NewSwr(value, staleTime, ttl)
		if err := m.remote.SetSwr(ctx, key, fresh); err != nil {
			swrRevalidationsTotal.WithLabelValues("failure").Inc()
			m.logger.Warn().Err(err).Str("key", key).Msg("storing revalidated entry failed")
			if onFailure != nil {
				onFailure(err)
			}
			return
		}

		swrRevalidationsTotal.WithLabelValues("success").Inc()
		m.logger.Debug().Str("key", key).Dur("ttl", ttl).Msg("background revalidation complete")
		if onSuccess != nil {
			onSuccess(fresh)
		}
	}()
}

// StaleTime returns the configured default stale time.
func (m *Manager) StaleTime() time.Duration {
	return m.config.DefaultStaleTime
}
