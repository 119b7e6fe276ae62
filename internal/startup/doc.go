// Package startup handles configuration loading and startup/shutdown logging.
//
// # Configuration
//
// [LoadConfig] starts from [DefaultConfig], merges an optional TOML file and
// then applies environment overrides:
//
//   - CAPTURE_LIBRARY_DIR: Library directory holding library.db and the asset tiers
//   - CAPTURE_RETENTION_DAYS: Delete unpinned items older than this many days (0 = off)
//   - CAPTURE_MAX_ITEMS: Maximum number of items kept (0 = unlimited)
//   - CAPTURE_MAX_BYTES: Maximum total asset bytes kept (0 = unlimited)
//   - CAPTURE_OCR_LANGUAGES: Comma or space separated OCR language codes (default: en)
//   - CAPTURE_REINDEX_ENABLED: Run reindex passes when languages change (default: true)
//   - CAPTURE_CLEANUP_SCHEDULE: Six-field cron schedule for cleanup (default: hourly)
//   - CAPTURE_LISTEN_ADDR: Loopback address of the HTTP API (default: 127.0.0.1:7420)
//   - CAPTURE_METRICS_ENABLED: Serve /metrics on the API listener (default: true)
//   - LOG_LEVEL: Logging level - debug, info, warn, error (default: info)
//
// A config file looks like:
//
//	library_dir = "/Users/me/Library/Application Support/capture-library"
//	retention_days = 30
//	max_bytes = 2147483648
//	ocr_languages = ["en", "ja"]
//	reindex_debounce = "2s"
//
//	[assets]
//	thumbnail_max_dimension = 320
//	preview_quality = 86
//
// The API listener must be a loopback address; [Config.Validate] rejects
// anything else.
//
// # Build Information
//
// Build-time variables are injected via ldflags and exposed via [GetBuildInfo].
//
// # Lifecycle Logging
//
//   - [LogBanner]: Banner, build and system information
//   - [LogConfig]: Effective configuration
//   - [PrepareLibraryDir]: Library directory creation and write check
//   - [LogRecognizerInit], [LogReindexInit], [LogCleanupInit]: Component setup
//   - [LogHTTPRoutes]: Registered HTTP routes (debug level)
//   - [LogServerStarted]: Endpoints and startup duration
//   - [LogShutdownInitiated], [LogShutdownComplete]: Graceful shutdown
package startup
