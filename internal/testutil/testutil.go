// Package testutil provides testing utilities for the tiered cache.
package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// NewRedis starts an in-memory Redis and returns a connected client.
// Both are torn down with the test.
func NewRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

// CountingLoader is a loader double that tracks executions. It lets
// tests assert how often the origin was actually consulted, which is the
// observable effect of hits, coalescing, and revalidation debounce.
type CountingLoader struct {
	mu    sync.Mutex
	calls atomic.Int64

	// Value is returned by Load. Guarded by mu so tests can swap it
	// between calls.
	Value any

	// Err, when set, is returned instead of Value.
	Err error

	// Delay simulates a slow origin.
	Delay time.Duration
}

// Load implements the cache loader contract.
func (l *CountingLoader) Load(ctx context.Context) (any, error) {
	l.calls.Add(1)

	if l.Delay > 0 {
		select {
		case <-time.After(l.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}
	return l.Value, nil
}

// Calls returns how many times Load has executed.
func (l *CountingLoader) Calls() int64 {
	return l.calls.Load()
}

// SetValue replaces the value returned by subsequent loads.
func (l *CountingLoader) SetValue(v any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Value = v
}

// SetErr makes subsequent loads fail with err (nil restores success).
func (l *CountingLoader) SetErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Err = err
}
