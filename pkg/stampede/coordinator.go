// Package stampede bounds concurrent identical cache-miss loads to a
// single execution per key (single-flight).
package stampede

import (
	"context"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

// Prometheus metrics for stampede protection.
var (
	stampedePreventedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tiercache_stampede_prevented_total",
		Help: "Total number of loader executions avoided by request coalescing",
	})

	stampedeLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tiercache_stampede_loads_total",
		Help: "Total number of loader executions by result",
	}, []string{"result"}) // "success", "failure"
)

// Loader produces the value for a key on a cache miss.
type Loader func(ctx context.Context) (any, error)

// Coordinator coalesces concurrent loads of the same key. At most one
// loader runs per key at any time within the process; callers arriving
// while a load is in flight attach to it and receive its result.
type Coordinator struct {
	group     singleflight.Group
	prevented atomic.Uint64
}

// NewCoordinator creates a stampede coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

// Protect runs loader for key, coalescing with any in-flight load of the
// same key. The cached return is true for every caller that attached to
// an existing load instead of triggering one. A loader failure is fanned
// out unmodified to all attached callers; the in-flight registry entry is
// cleared once the load settles, so a later call starts a fresh load.
func (c *Coordinator) Protect(ctx context.Context, key string, loader Loader) (value any, cached bool, err error) {
	// The closure runs synchronously in exactly one caller's goroutine;
	// for every attached caller it never runs, so executed stays false.
	executed := false
	value, err, _ = c.group.Do(key, func() (any, error) {
		executed = true
		v, err := loader(ctx)
		if err != nil {
			stampedeLoadsTotal.WithLabelValues("failure").Inc()
			return nil, err
		}
		stampedeLoadsTotal.WithLabelValues("success").Inc()
		return v, nil
	})

	if !executed {
		c.prevented.Add(1)
		stampedePreventedTotal.Inc()
	}
	return value, !executed, err
}

// Forget removes any in-flight registration for key so the next Protect
// call starts a new load instead of attaching.
func (c *Coordinator) Forget(key string) {
	c.group.Forget(key)
}

// PreventedCount returns the number of loader executions avoided by
// coalescing since the coordinator was created.
func (c *Coordinator) PreventedCount() uint64 {
	return c.prevented.Load()
}
