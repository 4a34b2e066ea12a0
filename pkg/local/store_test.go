package local

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/fehlmann/tiercache/pkg/entry"
)

func newTestEntry(v string, ttl time.Duration) *entry.Entry {
	data, _ := json.Marshal(v)
	return entry.New(data, ttl, nil)
}

func TestStore_SetAndGet(t *testing.T) {
	store, err := NewStore(DefaultConfig())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	store.Set("user:1", newTestEntry("alice", time.Minute))

	got := store.Get("user:1")
	if got == nil {
		t.Fatal("Get returned nil for stored key")
	}
	if string(got.Value) != `"alice"` {
		t.Errorf("Get value = %s, want %q", got.Value, `"alice"`)
	}
}

func TestStore_Get_Miss(t *testing.T) {
	store, _ := NewStore(DefaultConfig())

	if got := store.Get("absent"); got != nil {
		t.Errorf("Get on absent key = %v, want nil", got)
	}

	stats := store.Stats()
	if stats.Misses != 1 {
		t.Errorf("Misses = %d, want 1", stats.Misses)
	}
}

func TestStore_Get_LazyExpiry(t *testing.T) {
	store, _ := NewStore(DefaultConfig())

	expired := &entry.Entry{
		Value:      json.RawMessage(`"old"`),
		CachedAt:   time.Now().Add(-time.Hour),
		TTLSeconds: 60,
	}
	store.Set("stale", expired)

	if got := store.Get("stale"); got != nil {
		t.Errorf("Get on expired key = %v, want nil", got)
	}
	// Physically removed at read time.
	if store.Size() != 0 {
		t.Errorf("Size after expired read = %d, want 0", store.Size())
	}
}

// TestStore_LFUEviction covers the capacity-2 LFU scenario: a is accessed
// twice, so inserting c evicts b.
func TestStore_LFUEviction(t *testing.T) {
	store, _ := NewStore(Config{MaxEntries: 2, Strategy: "lfu"})

	store.Set("a", newTestEntry("1", time.Minute))
	store.Set("b", newTestEntry("2", time.Minute))
	store.Get("a")
	store.Get("a")

	store.Set("c", newTestEntry("3", time.Minute))

	if store.Get("b") != nil {
		t.Error("b should have been evicted")
	}
	if store.Get("a") == nil {
		t.Error("a should have survived eviction")
	}
	if store.Get("c") == nil {
		t.Error("c should be present")
	}
	if stats := store.Stats(); stats.Evictions != 1 {
		t.Errorf("Evictions = %d, want 1", stats.Evictions)
	}
}

func TestStore_FIFOEviction(t *testing.T) {
	store, _ := NewStore(Config{MaxEntries: 2, Strategy: "fifo"})

	store.Set("a", newTestEntry("1", time.Minute))
	store.Set("b", newTestEntry("2", time.Minute))
	// Accessing a must not protect it under FIFO.
	store.Get("a")
	store.Get("a")

	store.Set("c", newTestEntry("3", time.Minute))

	if store.Get("a") != nil {
		t.Error("a should have been evicted (oldest insert)")
	}
	if store.Get("b") == nil {
		t.Error("b should still be present")
	}
}

func TestStore_CapacityNeverExceeded(t *testing.T) {
	store, _ := NewStore(Config{MaxEntries: 5, Strategy: "lfu"})

	for i := 0; i < 50; i++ {
		store.Set(fmt.Sprintf("key:%d", i), newTestEntry("v", time.Minute))
		if store.Size() > 5 {
			t.Fatalf("Size = %d after insert %d, capacity is 5", store.Size(), i)
		}
	}
}

func TestStore_OverwriteDoesNotEvict(t *testing.T) {
	store, _ := NewStore(Config{MaxEntries: 2, Strategy: "lfu"})

	store.Set("a", newTestEntry("1", time.Minute))
	store.Set("b", newTestEntry("2", time.Minute))
	store.Set("a", newTestEntry("1b", time.Minute))

	if store.Get("a") == nil || store.Get("b") == nil {
		t.Error("overwrite of existing key must not evict")
	}
	if stats := store.Stats(); stats.Evictions != 0 {
		t.Errorf("Evictions = %d, want 0", stats.Evictions)
	}
}

func TestStore_Delete(t *testing.T) {
	store, _ := NewStore(DefaultConfig())

	store.Set("k", newTestEntry("v", time.Minute))
	if !store.Delete("k") {
		t.Error("Delete of present key returned false")
	}
	if store.Delete("k") {
		t.Error("Delete of absent key returned true")
	}
	if store.Get("k") != nil {
		t.Error("key still readable after Delete")
	}
}

func TestStore_HasAndClear(t *testing.T) {
	store, _ := NewStore(DefaultConfig())

	store.Set("k", newTestEntry("v", time.Minute))
	if !store.Has("k") {
		t.Error("Has = false for present key")
	}
	if store.Has("absent") {
		t.Error("Has = true for absent key")
	}

	store.Clear()
	if store.Size() != 0 {
		t.Errorf("Size after Clear = %d, want 0", store.Size())
	}
	if store.Has("k") {
		t.Error("Has = true after Clear")
	}
}

func TestNewStore_UnknownStrategy(t *testing.T) {
	if _, err := NewStore(Config{Strategy: "bogus"}); err == nil {
		t.Error("NewStore with unknown strategy should fail")
	}
}
