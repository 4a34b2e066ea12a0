// Package local provides the bounded, TTL-aware in-process cache tier.
package local

import (
	"sync"

	"github.com/fehlmann/tiercache/pkg/entry"
	"github.com/fehlmann/tiercache/pkg/eviction"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the local tier.
var (
	localEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tiercache_local_evictions_total",
		Help: "Total number of local tier evictions by strategy",
	}, []string{"strategy"})

	localExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tiercache_local_expired_total",
		Help: "Total number of local tier entries removed lazily at read time",
	})
)

// Config holds local tier configuration.
type Config struct {
	// MaxEntries bounds the number of stored entries. Zero means unbounded.
	MaxEntries int

	// Strategy selects the eviction strategy ("lfu", "fifo").
	Strategy string
}

// DefaultConfig returns the default local tier configuration.
func DefaultConfig() Config {
	return Config{
		MaxEntries: 10000,
		Strategy:   "lfu",
	}
}

// Stats holds local tier counters.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Size      int    `json:"size"`
}

// Store is a bounded in-process key/value store with lazy TTL expiry.
// All operations are synchronous and safe for concurrent use. The entry
// map and the eviction strategy's bookkeeping are mutated only under the
// store's lock.
type Store struct {
	mu       sync.RWMutex
	entries  map[string]*entry.Entry
	strategy eviction.Strategy
	config   Config

	hits      uint64
	misses    uint64
	evictions uint64
}

// NewStore creates a local store with the given configuration.
func NewStore(cfg Config) (*Store, error) {
	strategy, err := eviction.New(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	return &Store{
		entries:  make(map[string]*entry.Entry),
		strategy: strategy,
		config:   cfg,
	}, nil
}

// Get returns the entry for key, or nil if absent or expired.
// Expired entries are removed at read time (lazy expiry).
func (s *Store) Get(key string) *entry.Entry {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		s.mu.Lock()
		s.misses++
		s.mu.Unlock()
		return nil
	}

	if e.IsExpired() {
		s.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have
		// replaced the entry in the meantime.
		if cur, ok := s.entries[key]; ok && cur.IsExpired() {
			delete(s.entries, key)
			s.strategy.RecordDelete(key)
			localExpiredTotal.Inc()
		}
		s.misses++
		s.mu.Unlock()
		return nil
	}

	s.mu.Lock()
	s.hits++
	s.strategy.RecordAccess(key)
	s.mu.Unlock()

	return e
}

// Set stores an entry under key, evicting victims first if the insert
// would exceed capacity (evict-then-insert keeps memory bounded).
func (s *Store) Set(key string, e *entry.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.entries[key]
	if !exists && s.config.MaxEntries > 0 && len(s.entries) >= s.config.MaxEntries {
		over := len(s.entries) - s.config.MaxEntries + 1
		for _, victim := range s.strategy.Victims(over) {
			delete(s.entries, victim)
			s.strategy.RecordDelete(victim)
			s.evictions++
			localEvictionsTotal.WithLabelValues(s.strategy.Name()).Inc()
		}
	}

	s.entries[key] = e
	s.strategy.RecordInsert(key)
}

// Delete removes key. Returns true if the key was present.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return false
	}
	delete(s.entries, key)
	s.strategy.RecordDelete(key)
	return true
}

// Has reports whether key is present and unexpired.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	return ok && !e.IsExpired()
}

// Size returns the number of stored entries, including not-yet-swept
// expired ones.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear removes all entries and resets eviction bookkeeping.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*entry.Entry)
	s.strategy.Reset()
}

// Stats returns a snapshot of the store's counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Hits:      s.hits,
		Misses:    s.misses,
		Evictions: s.evictions,
		Size:      len(s.entries),
	}
}
