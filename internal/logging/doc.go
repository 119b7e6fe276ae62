// Package logging provides a simple leveled logging interface for the
// capture library.
//
// It supports the following log levels:
//   - DEBUG: Verbose debugging information (per-item reindex progress, queries)
//   - INFO: General operational messages
//   - WARN: Warning conditions such as rejected job submissions
//   - ERROR: Failed statements and asset writes
//   - FATAL: Fatal errors that terminate the process
//
// The log level is read from the LOG_LEVEL (or DEBUG) environment variable
// and may be overridden from the configuration file via SetLevel.
package logging
