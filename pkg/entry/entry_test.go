package entry

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEntry_IsExpired(t *testing.T) {
	tests := []struct {
		name     string
		cachedAt time.Time
		ttl      int64
		want     bool
	}{
		{
			name:     "fresh entry",
			cachedAt: time.Now(),
			ttl:      300,
			want:     false,
		},
		{
			name:     "expired entry",
			cachedAt: time.Now().Add(-10 * time.Minute),
			ttl:      300,
			want:     true,
		},
		{
			name:     "zero ttl is immediately expired",
			cachedAt: time.Now().Add(-time.Millisecond),
			ttl:      0,
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Entry{
				Value:      json.RawMessage(`"x"`),
				CachedAt:   tt.cachedAt,
				TTLSeconds: tt.ttl,
			}
			if got := e.IsExpired(); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntry_TTL(t *testing.T) {
	e := New(json.RawMessage(`1`), 5*time.Minute, nil)

	ttl := e.TTL()
	if ttl <= 0 || ttl > 5*time.Minute {
		t.Errorf("TTL() = %v, want in (0, 5m]", ttl)
	}

	expired := &Entry{CachedAt: time.Now().Add(-time.Hour), TTLSeconds: 60}
	if got := expired.TTL(); got != 0 {
		t.Errorf("TTL() on expired entry = %v, want 0", got)
	}
}

func TestSwrEntry_States(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name        string
		staleAt     time.Time
		expiresAt   time.Time
		wantFresh   bool
		wantStale   bool
		wantExpired bool
	}{
		{
			name:      "fresh",
			staleAt:   now.Add(time.Minute),
			expiresAt: now.Add(time.Hour),
			wantFresh: true,
		},
		{
			name:      "stale but servable",
			staleAt:   now.Add(-time.Millisecond),
			expiresAt: now.Add(time.Minute),
			wantStale: true,
		},
		{
			name:        "expired",
			staleAt:     now.Add(-time.Hour),
			expiresAt:   now.Add(-time.Minute),
			wantExpired: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &SwrEntry{
				Value:     json.RawMessage(`"x"`),
				CachedAt:  now.Add(-2 * time.Hour),
				StaleAt:   tt.staleAt,
				ExpiresAt: tt.expiresAt,
			}
			if got := e.IsFresh(); got != tt.wantFresh {
				t.Errorf("IsFresh() = %v, want %v", got, tt.wantFresh)
			}
			if got := e.IsStale(); got != tt.wantStale {
				t.Errorf("IsStale() = %v, want %v", got, tt.wantStale)
			}
			if got := e.IsExpired(); got != tt.wantExpired {
				t.Errorf("IsExpired() = %v, want %v", got, tt.wantExpired)
			}
		})
	}
}

// TestSwrEntry_ExactlyOneState ensures the three predicates partition time.
func TestSwrEntry_ExactlyOneState(t *testing.T) {
	now := time.Now()
	entries := []*SwrEntry{
		{StaleAt: now.Add(time.Minute), ExpiresAt: now.Add(time.Hour)},
		{StaleAt: now.Add(-time.Minute), ExpiresAt: now.Add(time.Hour)},
		{StaleAt: now.Add(-time.Hour), ExpiresAt: now.Add(-time.Minute)},
	}

	for i, e := range entries {
		states := 0
		if e.IsFresh() {
			states++
		}
		if e.IsStale() {
			states++
		}
		if e.IsExpired() {
			states++
		}
		if states != 1 {
			t.Errorf("entry %d is in %d states, want exactly 1", i, states)
		}
	}
}

func TestNewSwr_Ordering(t *testing.T) {
	e := NewSwr(json.RawMessage(`"x"`), time.Minute, time.Hour)

	if !e.CachedAt.Before(e.StaleAt) || !e.StaleAt.Before(e.ExpiresAt) {
		t.Errorf("timestamps not ordered: cached=%v stale=%v expires=%v",
			e.CachedAt, e.StaleAt, e.ExpiresAt)
	}
	if !e.IsFresh() {
		t.Error("newly created SWR entry should be fresh")
	}
}
