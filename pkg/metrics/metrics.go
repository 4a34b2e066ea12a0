// Package metrics provides the centralized Prometheus metrics reference
// for the tiered cache. All metrics are defined in their respective
// packages (cache, local, remote, stampede, swr, tags) to maintain
// modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the cache.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Orchestrator Metrics (pkg/cache):
//   - tiercache_hits_total{tier} (Counter): Cache hits by tier (local, remote)
//   - tiercache_misses_total (Counter): Cache misses across both tiers
//   - tiercache_errors_total{operation} (Counter): Write-path operation errors
//   - tiercache_fail_open_total{reason} (Counter): Read-path degradations served
//     as misses, by reason (key, tier, decode)
//
// Local Tier Metrics (pkg/local):
//   - tiercache_local_evictions_total{strategy} (Counter): Capacity evictions by strategy
//   - tiercache_local_expired_total (Counter): Entries swept by lazy TTL expiry
//
// Remote Tier Metrics (pkg/remote):
//   - tiercache_remote_errors_total{operation} (Counter): Redis operation errors
//   - tiercache_remote_batch_fallbacks_total{operation} (Counter): Batch commands
//     that fell back to per-key execution
//
// Stampede Metrics (pkg/stampede):
//   - tiercache_stampede_prevented_total (Counter): Loads avoided by coalescing
//   - tiercache_stampede_loads_total{result} (Counter): Executed loads by result
//     (success, error)
//
// SWR Metrics (pkg/swr):
//   - tiercache_swr_revalidations_total{result} (Counter): Background revalidations
//     by result
//   - tiercache_swr_debounced_total (Counter): Revalidations skipped by the
//     debounce marker
//
// Tag Metrics (pkg/tags):
//   - tiercache_tag_invalidations_total (Counter): Tag invalidation operations
//   - tiercache_tag_invalidated_keys_total (Counter): Keys removed by tag invalidation
//
// Example Prometheus Queries:
//
//   # Overall Hit Rate
//   sum(rate(tiercache_hits_total[5m])) /
//   (sum(rate(tiercache_hits_total[5m])) + sum(rate(tiercache_misses_total[5m])))
//
//   # Local Tier Share of Hits
//   rate(tiercache_hits_total{tier="local"}[5m]) / sum(rate(tiercache_hits_total[5m]))
//
//   # Fail-Open Degradation Rate
//   rate(tiercache_fail_open_total[5m])
//
//   # Stampede Effectiveness
//   rate(tiercache_stampede_prevented_total[5m]) /
//   rate(tiercache_stampede_loads_total[5m])
//
//   # Eviction Pressure
//   rate(tiercache_local_evictions_total[5m])
