package swr

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fehlmann/tiercache/pkg/entry"
	"github.com/rs/zerolog"
)

// fakeRemote is an in-memory RemoteStore for unit tests.
type fakeRemote struct {
	mu      sync.Mutex
	entries map[string]*entry.SwrEntry
	markers map[string]time.Time

	setErr    error
	markerErr error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		entries: make(map[string]*entry.SwrEntry),
		markers: make(map[string]time.Time),
	}
}

func (f *fakeRemote) SetSwr(_ context.Context, key string, e *entry.SwrEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.entries[key] = e
	return nil
}

func (f *fakeRemote) TryAcquireMarker(_ context.Context, key string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markerErr != nil {
		return false, f.markerErr
	}
	if until, ok := f.markers[key]; ok && time.Now().Before(until) {
		return false, nil
	}
	f.markers[key] = time.Now().Add(ttl)
	return true, nil
}

func newTestManager(remote RemoteStore) *Manager {
	return NewManager(remote, DefaultConfig(), zerolog.Nop())
}

func TestManager_Classify(t *testing.T) {
	m := newTestManager(newFakeRemote())
	now := time.Now()

	tests := []struct {
		name  string
		entry *entry.SwrEntry
		want  State
	}{
		{
			name: "fresh",
			entry: &entry.SwrEntry{
				StaleAt:   now.Add(time.Minute),
				ExpiresAt: now.Add(time.Hour),
			},
			want: Fresh,
		},
		{
			name: "just turned stale, still servable",
			entry: &entry.SwrEntry{
				StaleAt:   now.Add(-time.Millisecond),
				ExpiresAt: now.Add(60 * time.Second),
			},
			want: Stale,
		},
		{
			name: "expired",
			entry: &entry.SwrEntry{
				StaleAt:   now.Add(-time.Hour),
				ExpiresAt: now.Add(-time.Minute),
			},
			want: Expired,
		},
		{
			name:  "nil entry",
			entry: nil,
			want:  Expired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.Classify(tt.entry); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestManager_ShouldRevalidate_Debounce verifies that many concurrent stale
// reads trigger at most one revalidation per key per window.
func TestManager_ShouldRevalidate_Debounce(t *testing.T) {
	m := newTestManager(newFakeRemote())
	ctx := context.Background()

	granted := 0
	for i := 0; i < 20; i++ {
		if m.ShouldRevalidate(ctx, "user:1") {
			granted++
		}
	}
	if granted != 1 {
		t.Errorf("revalidation granted %d times within the window, want 1", granted)
	}

	// A different key has its own window.
	if !m.ShouldRevalidate(ctx, "user:2") {
		t.Error("first stale read for another key should revalidate")
	}
}

func TestManager_ShouldRevalidate_MarkerError(t *testing.T) {
	remote := newFakeRemote()
	remote.markerErr = errors.New("redis down")
	m := newTestManager(remote)

	if m.ShouldRevalidate(context.Background(), "k") {
		t.Error("marker errors must suppress revalidation, not amplify load")
	}
}

func TestManager_ScheduleRevalidation_Success(t *testing.T) {
	remote := newFakeRemote()
	m := newTestManager(remote)

	done := make(chan *entry.SwrEntry, 1)
	m.ScheduleRevalidation("user:1", time.Minute, time.Hour,
		func(ctx context.Context) (json.RawMessage, error) {
			return json.RawMessage(`"refreshed"`), nil
		},
		func(e *entry.SwrEntry) { done <- e },
		func(err error) { t.Errorf("unexpected failure: %v", err) },
	)

	select {
	case fresh := <-done:
		if string(fresh.Value) != `"refreshed"` {
			t.Errorf("revalidated value = %s, want %q", fresh.Value, `"refreshed"`)
		}
		if !fresh.IsFresh() {
			t.Error("revalidated entry should be fresh")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("revalidation did not complete")
	}

	remote.mu.Lock()
	stored := remote.entries["user:1"]
	remote.mu.Unlock()
	if stored == nil {
		t.Fatal("revalidated entry not written to remote tier")
	}
	if !stored.CachedAt.Before(stored.StaleAt) || !stored.StaleAt.Before(stored.ExpiresAt) {
		t.Error("revalidated entry lost its three-timestamp shape")
	}
}

// TestManager_ScheduleRevalidation_FailureIsolated verifies a failing
// loader reports only through onFailure and writes nothing.
func TestManager_ScheduleRevalidation_FailureIsolated(t *testing.T) {
	remote := newFakeRemote()
	m := newTestManager(remote)

	loadErr := errors.New("origin down")
	failed := make(chan error, 1)
	m.ScheduleRevalidation("user:1", time.Minute, time.Hour,
		func(ctx context.Context) (json.RawMessage, error) {
			return nil, loadErr
		},
		func(e *entry.SwrEntry) { t.Error("onSuccess called for failed load") },
		func(err error) { failed <- err },
	)

	select {
	case err := <-failed:
		if !errors.Is(err, loadErr) {
			t.Errorf("onFailure got %v, want %v", err, loadErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onFailure never called")
	}

	remote.mu.Lock()
	defer remote.mu.Unlock()
	if len(remote.entries) != 0 {
		t.Error("failed revalidation must not write an entry")
	}
}

func TestManager_ScheduleRevalidation_StoreFailure(t *testing.T) {
	remote := newFakeRemote()
	remote.setErr = errors.New("write rejected")
	m := newTestManager(remote)

	failed := make(chan error, 1)
	m.ScheduleRevalidation("k", time.Minute, time.Hour,
		func(ctx context.Context) (json.RawMessage, error) {
			return json.RawMessage(`1`), nil
		},
		func(e *entry.SwrEntry) { t.Error("onSuccess called despite store failure") },
		func(err error) { failed <- err },
	)

	select {
	case err := <-failed:
		if !errors.Is(err, remote.setErr) {
			t.Errorf("onFailure got %v, want %v", err, remote.setErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onFailure never called")
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Fresh, "fresh"},
		{Stale, "stale"},
		{Expired, "expired"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
