// Package entry defines the immutable value wrappers stored by the cache
// tiers: a plain TTL entry and a stale-while-revalidate entry.
package entry

import (
	"encoding/json"
	"time"
)

// Entry represents a cached value with its freshness metadata.
// Entries are immutable after construction; each tier serializes and
// deserializes its own copy, so no entry is ever shared between tiers.
type Entry struct {
	// Value is the JSON-encoded cached value.
	Value json.RawMessage `json:"value"`

	// CachedAt is when the value was stored.
	CachedAt time.Time `json:"cached_at"`

	// TTLSeconds is the logical lifetime of the entry in seconds.
	TTLSeconds int64 `json:"ttl_seconds"`

	// Tags are the invalidation tags attached to the entry, if any.
	Tags []string `json:"tags,omitempty"`
}

// New creates an entry for value with the given TTL and tags.
func New(value json.RawMessage, ttl time.Duration, tags []string) *Entry {
	return &Entry{
		Value:      value,
		CachedAt:   time.Now(),
		TTLSeconds: int64(ttl / time.Second),
		Tags:       tags,
	}
}

// ExpiresAt returns the point in time at which the entry expires.
func (e *Entry) ExpiresAt() time.Time {
	return e.CachedAt.Add(time.Duration(e.TTLSeconds) * time.Second)
}

// IsExpired returns true if the entry's TTL has elapsed.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.ExpiresAt())
}

// TTL returns the remaining time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.ExpiresAt())
	if ttl < 0 {
		return 0
	}
	return ttl
}

// SwrEntry represents a cached value with stale-while-revalidate semantics.
// The three timestamps satisfy CachedAt < StaleAt < ExpiresAt and divide an
// entry's lifetime into fresh, stale-but-servable, and expired.
type SwrEntry struct {
	// Value is the JSON-encoded cached value.
	Value json.RawMessage `json:"value"`

	// CachedAt is when the value was stored.
	CachedAt time.Time `json:"cached_at"`

	// StaleAt is when the value stops being fresh and starts triggering
	// background revalidation.
	StaleAt time.Time `json:"stale_at"`

	// ExpiresAt is when the value stops being servable at all.
	ExpiresAt time.Time `json:"expires_at"`
}

// NewSwr creates an SWR entry that is fresh for staleTime and servable
// for ttl, both measured from now.
func NewSwr(value json.RawMessage, staleTime, ttl time.Duration) *SwrEntry {
	now := time.Now()
	return &SwrEntry{
		Value:     value,
		CachedAt:  now,
		StaleAt:   now.Add(staleTime),
		ExpiresAt: now.Add(ttl),
	}
}

// IsFresh returns true while the entry is before its stale point.
func (e *SwrEntry) IsFresh() bool {
	return time.Now().Before(e.StaleAt)
}

// IsStale returns true while the entry is past its stale point but still
// servable.
func (e *SwrEntry) IsStale() bool {
	now := time.Now()
	return !now.Before(e.StaleAt) && now.Before(e.ExpiresAt)
}

// IsExpired returns true once the entry is no longer servable.
func (e *SwrEntry) IsExpired() bool {
	return !time.Now().Before(e.ExpiresAt)
}

// TTL returns the remaining time until the entry expires.
// Returns 0 if already expired.
func (e *SwrEntry) TTL() time.Duration {
	ttl := time.Until(e.ExpiresAt)
	if ttl < 0 {
		return 0
	}
	return ttl
}
