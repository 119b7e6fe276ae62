// Package metrics provides Prometheus instrumentation for the capture library.
//
// All metrics are prefixed with "capture_library_" and registered with the
// default registry through promauto.
//
// # Metric Categories
//
//   - HTTP: request counts, durations and in-flight requests of the local API
//   - Database: per-operation counters and latency, transaction outcomes,
//     applied migrations
//   - Assets: derived image writes, bytes written, render time, deletes
//   - Worker: admission results per queue, in-flight jobs, job execution time,
//     library changed notifications
//   - Search: reranked pages, embedding cache hits/misses, write-backs
//   - Cleanup: passes, deletions per policy, stripped previews
//   - Reindex: passes by final state, processed items by action, running flag
//   - Library: item, pinned and byte totals, refreshed by [Collector]
//
// Label combinations are pre-populated by [InitializeMetrics] so every series
// exists from the first scrape. Mount promhttp.Handler() to expose them:
//
//	router.Handle("/metrics", promhttp.Handler())
package metrics
