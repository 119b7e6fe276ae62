package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_library_http_requests_total",
			Help: "Total number of HTTP API requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "capture_library_http_request_duration_seconds",
			Help:    "HTTP API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "capture_library_http_requests_in_flight",
			Help: "Number of HTTP API requests currently being processed",
		},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_library_db_queries_total",
			Help: "Total number of metadata store operations",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "capture_library_db_query_duration_seconds",
			Help:    "Metadata store operation duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"operation"},
	)

	DBTransactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "capture_library_db_transaction_duration_seconds",
			Help:    "Metadata store transaction duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"outcome"}, // "commit", "rollback"
	)

	DBMigrationsApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "capture_library_db_migrations_applied_total",
			Help: "Number of schema migrations applied since process start",
		},
	)
)

// Asset metrics
var (
	AssetWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_library_asset_writes_total",
			Help: "Total number of derived image writes",
		},
		[]string{"tier", "status"}, // tier: "thumb", "preview", "original", "placeholder"
	)

	AssetWriteBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_library_asset_write_bytes_total",
			Help: "Total bytes written per asset tier",
		},
		[]string{"tier"},
	)

	AssetRenderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "capture_library_asset_render_duration_seconds",
			Help:    "Time spent scaling and encoding a derived image",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"tier"},
	)

	AssetDeletesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_library_asset_deletes_total",
			Help: "Total number of asset delete attempts",
		},
		[]string{"status"}, // "deleted", "missing", "error"
	)
)

// Worker and admission metrics
var (
	JobAdmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_library_job_admissions_total",
			Help: "Job submissions by queue and admission result",
		},
		[]string{"queue", "result"}, // result: "accepted", "rejected"
	)

	JobsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "capture_library_jobs_in_flight",
			Help: "Admitted jobs that have not yet completed, by queue",
		},
		[]string{"queue"},
	)

	WorkerJobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "capture_library_worker_job_duration_seconds",
			Help:    "Time a job spent executing on the serialized worker",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	LibraryChangedEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "capture_library_changed_events_total",
			Help: "Number of library changed notifications broadcast",
		},
	)
)

// Search metrics
var (
	SearchRerankTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "capture_library_search_rerank_total",
			Help: "Number of result pages reranked with the semantic signal",
		},
	)

	SearchEmbeddingCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_library_search_embedding_cache_total",
			Help: "Item embedding cache lookups during reranking",
		},
		[]string{"result"}, // "hit", "miss"
	)

	SearchEmbeddingWriteBacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_library_search_embedding_writebacks_total",
			Help: "Asynchronous embedding write-backs by outcome",
		},
		[]string{"status"}, // "success", "error", "skipped"
	)
)

// Cleanup metrics
var (
	CleanupRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "capture_library_cleanup_runs_total",
			Help: "Total number of cleanup passes",
		},
	)

	CleanupItemsDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_library_cleanup_items_deleted_total",
			Help: "Items deleted by cleanup, by policy",
		},
		[]string{"policy"}, // "retention", "count", "bytes"
	)

	CleanupPreviewsStripped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "capture_library_cleanup_previews_stripped_total",
			Help: "Preview assets removed to satisfy the byte budget",
		},
	)

	CleanupLastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "capture_library_cleanup_last_run_timestamp",
			Help: "Unix timestamp of the last cleanup pass",
		},
	)
)

// Reindex metrics
var (
	ReindexPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_library_reindex_passes_total",
			Help: "Reindex passes by final state",
		},
		[]string{"state"}, // "completed", "superseded", "canceled", "failed"
	)

	ReindexItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_library_reindex_items_processed_total",
			Help: "Items handled by the reindex pipeline, by action",
		},
		[]string{"action"}, // "relabel", "recognized", "error"
	)

	ReindexRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "capture_library_reindex_running",
			Help: "Whether a reindex pass is currently running (1 = running, 0 = idle)",
		},
	)
)

// Library contents
var (
	LibraryItemsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "capture_library_items_total",
			Help: "Number of captured items in the library",
		},
	)

	LibraryPinnedTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "capture_library_pinned_items_total",
			Help: "Number of pinned items",
		},
	)

	LibraryBytesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "capture_library_bytes_total",
			Help: "Total bytes held by library assets",
		},
	)
)

// Filesystem retries
var (
	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_library_filesystem_stale_errors_total",
			Help: "Stale file handle errors seen by file reads",
		},
		[]string{"operation"},
	)

	FilesystemRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_library_filesystem_retries_total",
			Help: "File reads that needed retries, by final result",
		},
		[]string{"operation", "result"},
	)
)
