// Package main provides the entry point for the capture library service.
//
// The service owns an on-disk library of screen captures: JPEG thumbnails and
// previews, optional originals, and a SQLite metadata store with full-text
// search. It serves a loopback-only JSON API over that library and runs the
// background maintenance the library needs.
//
// # Application Lifecycle
//
//  1. Configuration Loading: defaults, then the TOML file named by -config or
//     CAPTURE_CONFIG, then CAPTURE_* environment overrides
//  2. Library Directory: created if needed and checked for write access
//  3. OCR Backend: tesseract when it is on PATH, otherwise relabel-only
//  4. Component Initialization:
//     - Library: metadata store, asset store and admission queues
//     - Reindex Coordinator: resumes an interrupted OCR pass
//     - Cleanup Scheduler: cron-driven retention and size limits
//     - Metrics Collector: library gauges every minute
//  5. HTTP Server: API routes, request logging and metrics middleware
//  6. Graceful Shutdown: SIGINT/SIGTERM stops components in reverse order
//
// SIGHUP reloads the config file. Cleanup limits apply to the next pass and a
// changed OCR language set schedules a debounced reindex. The library
// directory and listen address need a restart.
//
// # Environment Variables
//
//   - CAPTURE_CONFIG: TOML config file path
//   - CAPTURE_LIBRARY_DIR: library root (default: user config dir)
//   - CAPTURE_RETENTION_DAYS, CAPTURE_MAX_ITEMS, CAPTURE_MAX_BYTES: cleanup limits (0 disables)
//   - CAPTURE_OCR_LANGUAGES: comma-separated OCR language codes (default: en)
//   - CAPTURE_REINDEX_ENABLED: run OCR reindex passes (default: true)
//   - CAPTURE_CLEANUP_SCHEDULE: six-field cron schedule (default: hourly)
//   - CAPTURE_LISTEN_ADDR: API address, loopback only (default: 127.0.0.1:7420, empty disables)
//   - CAPTURE_METRICS_ENABLED: expose /metrics (default: true)
//   - LOG_LEVEL: debug, info, warn or error
//
// # Related Packages
//
//   - [capture-library/internal/library]: worker, admission queues and facade
//   - [capture-library/internal/database]: SQLite metadata store with FTS5 search
//   - [capture-library/internal/assets]: thumbnail, preview and original tiers
//   - [capture-library/internal/handlers]: HTTP request handlers
//   - [capture-library/internal/reindex]: OCR language reindexing
//   - [capture-library/internal/cleanup]: retention and size limits
//   - [capture-library/internal/startup]: configuration and startup logging
package main
